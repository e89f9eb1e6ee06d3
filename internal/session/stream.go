package session

import (
	"sync"
	"time"

	"github.com/ethan/webrtc-core/internal/icepipe"
	"github.com/ethan/webrtc-core/internal/retransmit"
	"github.com/ethan/webrtc-core/internal/rewrite"
	"github.com/ethan/webrtc-core/internal/rtcpengine"
	"github.com/ethan/webrtc-core/internal/skew"
)

// maxSimulcastLayers is the highest number of independent video layers a
// Stream tracks (spec §3: "peer SSRCs... plus up to three simulcast
// layers").
const maxSimulcastLayers = 3

// mediaLane is one independently rewritten/retransmitted video layer, or
// the single audio lane (spec §3's per-layer RTCP/NACK/rewrite state).
type mediaLane struct {
	peerSSRC    uint32
	peerRTXSSRC uint32
	havePeer    bool

	payloadType uint8
	rtxPayload  uint8
	clockRate   uint32

	rewrite *rewrite.Context
	skew    *skew.Compensator
	rtcp    *rtcpengine.Context
	sendBuf *retransmit.Buffer
	recvWin *retransmit.Window
	nackSent map[uint16]time.Time

	sendEnabled bool
	recvEnabled bool
}

func newMediaLane(clockRate uint32) *mediaLane {
	return &mediaLane{
		clockRate: clockRate,
		rewrite:   rewrite.NewContext(),
		skew:      skew.NewCompensator(clockRate),
		rtcp:      rtcpengine.NewContext(clockRate),
		sendBuf:   retransmit.NewBuffer(retransmit.DefaultCapacity),
		recvWin:   retransmit.NewWindow(100 * time.Millisecond),
		nackSent:  make(map[uint16]time.Time),
	}
}

// KeyframeDetector reports whether buf (an RTP payload for the
// negotiated video codec) begins a keyframe (spec §3: "keyframe detector
// function appropriate to the negotiated video codec").
type KeyframeDetector func(payload []byte) bool

// Stream is the bundled audio+video+data media lane under one Handle
// (spec §3 "Stream"). Exactly one Stream exists per Handle.
type Stream struct {
	mu sync.Mutex

	ourAudioSSRC uint32
	ourVideoSSRC uint32
	ourRTXSSRC   uint32

	audio  *mediaLane
	video  [maxSimulcastLayers]*mediaLane
	videoLayers int

	keyframeDetector KeyframeDetector

	twcc        *rtcpengine.TWCC
	dtlsRole    icepipe.DTLSRole
	remoteFingerprintAlgo string
	remoteFingerprintHash string
	remoteICEUfrag        string
	remoteICEPwd          string

	component *icepipe.Component

	slowLinkStats Stats
}

// NewStream allocates a Stream with one audio lane and videoLayers video
// lanes (1 unless simulcast was negotiated, up to maxSimulcastLayers).
func NewStream(ourAudioSSRC, ourVideoSSRC, ourRTXSSRC uint32, audioClockRate, videoClockRate uint32, videoLayers int) *Stream {
	if videoLayers < 1 {
		videoLayers = 1
	}
	if videoLayers > maxSimulcastLayers {
		videoLayers = maxSimulcastLayers
	}
	s := &Stream{
		ourAudioSSRC: ourAudioSSRC,
		ourVideoSSRC: ourVideoSSRC,
		ourRTXSSRC:   ourRTXSSRC,
		audio:        newMediaLane(audioClockRate),
		videoLayers:  videoLayers,
	}
	for i := 0; i < videoLayers; i++ {
		s.video[i] = newMediaLane(videoClockRate)
	}
	s.twcc = rtcpengine.NewTWCC(ourVideoSSRC)
	return s
}

// Lane returns the lane for audio (layer ignored) or the given simulcast
// video layer (0-indexed), or nil if layer is out of range.
func (s *Stream) Lane(video bool, layer int) *mediaLane {
	if !video {
		return s.audio
	}
	if layer < 0 || layer >= s.videoLayers {
		return nil
	}
	return s.video[layer]
}

// SetPeerSSRC records a negotiated peer SSRC for audio (layer ignored)
// or a simulcast video layer, plus its paired rtx SSRC if RFC 4588 was
// negotiated for that layer (spec §3 "peer SSRCs... plus matching rtx
// SSRCs for each layer").
func (s *Stream) SetPeerSSRC(video bool, layer int, ssrc, rtxSSRC uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	lane := s.laneLocked(video, layer)
	if lane == nil {
		return
	}
	lane.peerSSRC = ssrc
	lane.peerRTXSSRC = rtxSSRC
	lane.havePeer = true
}

func (s *Stream) laneLocked(video bool, layer int) *mediaLane {
	if !video {
		return s.audio
	}
	if layer < 0 || layer >= s.videoLayers {
		return nil
	}
	return s.video[layer]
}

// ClassifyIncomingSSRC maps an inbound decrypted packet's SSRC to the
// lane it belongs to, unwrapping an RFC 4588 rtx SSRC to its base layer
// (spec §4.8 "SSRC classification; if rtx, the OSN is stripped").
func (s *Stream) ClassifyIncomingSSRC(ssrc uint32) (video bool, layer int, isRTX bool, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.audio.havePeer {
		if s.audio.peerSSRC == ssrc {
			return false, 0, false, true
		}
		if s.audio.peerRTXSSRC != 0 && s.audio.peerRTXSSRC == ssrc {
			return false, 0, true, true
		}
	}
	for i := 0; i < s.videoLayers; i++ {
		lane := s.video[i]
		if !lane.havePeer {
			continue
		}
		if lane.peerSSRC == ssrc {
			return true, i, false, true
		}
		if lane.peerRTXSSRC != 0 && lane.peerRTXSSRC == ssrc {
			return true, i, true, true
		}
	}
	return false, 0, false, false
}

// SetComponent attaches the transport Component backing this Stream.
func (s *Stream) SetComponent(c *icepipe.Component) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.component = c
}

// Component returns the transport Component backing this Stream.
func (s *Stream) Component() *icepipe.Component {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.component
}

// SetRemoteDTLS records the remote DTLS role/fingerprint/credentials
// parsed from the remote SDP (spec §4.6).
func (s *Stream) SetRemoteDTLS(role icepipe.DTLSRole, algo, hash, ufrag, pwd string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dtlsRole = role
	s.remoteFingerprintAlgo = algo
	s.remoteFingerprintHash = hash
	s.remoteICEUfrag = ufrag
	s.remoteICEPwd = pwd
}

// RemoteDTLS returns the values SetRemoteDTLS last recorded.
func (s *Stream) RemoteDTLS() (role icepipe.DTLSRole, algo, hash, ufrag, pwd string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dtlsRole, s.remoteFingerprintAlgo, s.remoteFingerprintHash, s.remoteICEUfrag, s.remoteICEPwd
}

// Lock and Unlock expose the stream mutex directly so callers (Handle's
// send worker, receive path) can hold it across a sequence of lane
// operations, per spec §4.2's "callers must serialize updates per
// stream" and §5's handle->stream->component lock order.
func (s *Stream) Lock()   { s.mu.Lock() }
func (s *Stream) Unlock() { s.mu.Unlock() }
