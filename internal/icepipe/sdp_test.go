package icepipe

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleOfferSDP = "v=0\r\n" +
	"o=- 46117317 2 IN IP4 127.0.0.1\r\n" +
	"s=-\r\n" +
	"t=0 0\r\n" +
	"a=ice-ufrag:F7gI\r\n" +
	"a=ice-pwd:x9cml/YzichV2+XlhiMu8g\r\n" +
	"a=fingerprint:sha-256 4A:AD:B9:B1:3F:82:18:3B:54:02:12:DF:3E:5D:49:6B:19:E5:7C:AB:3B:13:CC:AA:AF:24:64:12:BB:98:59:CF\r\n" +
	"m=audio 9 UDP/TLS/RTP/SAVPF 111\r\n" +
	"c=IN IP4 0.0.0.0\r\n" +
	"a=setup:actpass\r\n" +
	"a=mid:audio\r\n" +
	"a=sendrecv\r\n" +
	"a=rtpmap:111 opus/48000/2\r\n" +
	"a=rtcp-fb:111 transport-cc\r\n" +
	"a=extmap:1 urn:ietf:params:rtp-hdrext:ssrc-audio-level\r\n" +
	"a=candidate:1 1 udp 2130706431 192.168.1.5 54400 typ host\r\n" +
	"m=video 9 UDP/TLS/RTP/SAVPF 96 97\r\n" +
	"c=IN IP4 0.0.0.0\r\n" +
	"a=setup:actpass\r\n" +
	"a=mid:video\r\n" +
	"a=sendrecv\r\n" +
	"a=rtpmap:96 VP8/90000\r\n" +
	"a=rtpmap:97 rtx/90000\r\n" +
	"a=fmtp:97 apt=96\r\n" +
	"a=rtcp-fb:96 nack\r\n" +
	"a=rtcp-fb:96 nack pli\r\n" +
	"a=rtcp-fb:96 goog-remb\r\n" +
	"a=extmap:2 urn:3gpp:video-orientation\r\n" +
	"a=rid:hi send\r\n" +
	"a=rid:lo send\r\n"

func TestParseRemoteSDPExtractsICECredentials(t *testing.T) {
	rd, err := ParseRemoteSDP(sampleOfferSDP)
	require.NoError(t, err)
	assert.Equal(t, "F7gI", rd.ICEUfrag)
	assert.Equal(t, "x9cml/YzichV2+XlhiMu8g", rd.ICEPwd)
}

func TestParseRemoteSDPExtractsFingerprint(t *testing.T) {
	rd, err := ParseRemoteSDP(sampleOfferSDP)
	require.NoError(t, err)
	assert.Equal(t, "sha-256", rd.FingerprintAlgo)
	assert.Contains(t, rd.FingerprintHash, "4A:AD:B9")
}

func TestParseRemoteSDPSplitsAudioAndVideo(t *testing.T) {
	rd, err := ParseRemoteSDP(sampleOfferSDP)
	require.NoError(t, err)
	require.Len(t, rd.Media, 2)
	assert.Equal(t, "audio", rd.Media[0].Kind)
	assert.EqualValues(t, 111, rd.Media[0].PayloadType)
	assert.EqualValues(t, 48000, rd.Media[0].ClockRate)
	assert.True(t, rd.Media[0].TransportCC)

	video := rd.Media[1]
	assert.Equal(t, "video", video.Kind)
	assert.EqualValues(t, 96, video.PayloadType)
	assert.EqualValues(t, 97, video.RTXPayload)
	assert.True(t, video.NACK)
	assert.True(t, video.REMB)
	assert.ElementsMatch(t, []string{"hi", "lo"}, video.RIDs)
}

func TestParseRemoteSDPExtractsExtmap(t *testing.T) {
	rd, err := ParseRemoteSDP(sampleOfferSDP)
	require.NoError(t, err)
	assert.EqualValues(t, 1, rd.Media[0].ExtMap["urn:ietf:params:rtp-hdrext:ssrc-audio-level"])
	assert.EqualValues(t, 2, rd.Media[1].ExtMap["urn:3gpp:video-orientation"])
}

func TestParseRemoteSDPCollectsCandidates(t *testing.T) {
	rd, err := ParseRemoteSDP(sampleOfferSDP)
	require.NoError(t, err)
	require.Len(t, rd.Candidates, 1)
	assert.Contains(t, rd.Candidates[0], "192.168.1.5")
}

func TestParseRemoteSDPMissingFingerprint(t *testing.T) {
	noFP := "v=0\r\no=- 1 1 IN IP4 127.0.0.1\r\ns=-\r\nt=0 0\r\n" +
		"a=ice-ufrag:a\r\na=ice-pwd:b\r\n" +
		"m=audio 9 UDP/TLS/RTP/SAVPF 111\r\nc=IN IP4 0.0.0.0\r\na=mid:audio\r\n"
	_, err := ParseRemoteSDP(noFP)
	assert.ErrorIs(t, err, ErrNoFingerprint)
}

func TestParseRemoteSDPMissingICECredentials(t *testing.T) {
	noCreds := "v=0\r\no=- 1 1 IN IP4 127.0.0.1\r\ns=-\r\nt=0 0\r\n" +
		"a=fingerprint:sha-256 AA:BB\r\n" +
		"m=audio 9 UDP/TLS/RTP/SAVPF 111\r\nc=IN IP4 0.0.0.0\r\na=mid:audio\r\n"
	_, err := ParseRemoteSDP(noCreds)
	assert.ErrorIs(t, err, ErrMissingICECredentials)
}

func TestBuildLocalSDPRoundTrips(t *testing.T) {
	body, err := BuildLocalSDP(LocalSDPParams{
		ICEUfrag:         "abcd",
		ICEPwd:           "0123456789012345678901",
		FingerprintAlgo:  "sha-256",
		FingerprintValue: "aa:bb:cc",
		SetupRole:        "active",
		Candidates:       []string{"1 1 udp 2130706431 192.168.1.5 54400 typ host"},
		HasAudio:         true,
		HasVideo:         true,
		HasData:          true,
		AudioPT:          111,
		VideoPT:          96,
		RTXPT:            97,
	})
	require.NoError(t, err)

	rd, err := ParseRemoteSDP(body)
	require.NoError(t, err)
	assert.Equal(t, "abcd", rd.ICEUfrag)
	require.Len(t, rd.Media, 2)
	assert.EqualValues(t, 97, rd.Media[1].RTXPayload)
}
