package icepipe

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/pion/sdp/v3"
)

var (
	ErrNoFingerprint        = errors.New("icepipe: remote sdp carries no a=fingerprint")
	ErrConflictingFingerprint = errors.New("icepipe: conflicting fingerprints across sdp sections")
	ErrMissingICECredentials  = errors.New("icepipe: remote sdp missing ice-ufrag/ice-pwd")
)

// MediaDescription is the subset of one m= section's negotiated state the
// Stream data model (spec §3) needs: payload types, rtx pairing, RTCP
// feedback capabilities, extension map, and simulcast RIDs.
type MediaDescription struct {
	Kind        string // "audio" or "video"
	Mid         string
	Direction   string // sendrecv/sendonly/recvonly/inactive
	PayloadType uint8
	ClockRate   uint32
	RTXPayload  uint8 // 0 if RFC 4588 rtx not offered for this PT
	NACK        bool
	REMB        bool
	TransportCC bool
	ExtMap      map[string]uint8 // extension URI -> negotiated ID
	RIDs        []string
}

// RemoteDescription is everything ParseRemoteSDP extracts from a remote
// offer or answer (spec §4.6's answerer-mode parse: "audio/video
// direction, payload types, fingerprint, hashing, extmap URIs -> IDs, RID
// attributes, RTCP-fb nacks/rembs, rtx pairings").
type RemoteDescription struct {
	ICEUfrag        string
	ICEPwd          string
	Candidates      []string // raw a=candidate values, order preserved
	EndOfCandidates bool
	FingerprintAlgo string
	FingerprintHash string
	SetupRole       string // active/passive/actpass
	Media           []MediaDescription
}

// ParseRemoteSDP decodes a remote offer/answer body into a
// RemoteDescription (spec §4.6).
func ParseRemoteSDP(body string) (*RemoteDescription, error) {
	var parsed sdp.SessionDescription
	if err := parsed.Unmarshal([]byte(body)); err != nil {
		return nil, fmt.Errorf("icepipe: parse remote sdp: %w", err)
	}

	rd := &RemoteDescription{}

	ufrag, pwd, err := extractICECredentials(&parsed)
	if err != nil {
		return nil, err
	}
	rd.ICEUfrag, rd.ICEPwd = ufrag, pwd

	algo, hash, err := extractFingerprint(&parsed)
	if err != nil {
		return nil, err
	}
	rd.FingerprintAlgo, rd.FingerprintHash = algo, hash

	if setup, ok := sessionOrMediaAttribute(&parsed, "setup"); ok {
		rd.SetupRole = setup
	}

	for _, m := range parsed.MediaDescriptions {
		if m.MediaName.Media != "audio" && m.MediaName.Media != "video" {
			continue
		}
		md := MediaDescription{Kind: m.MediaName.Media, ExtMap: make(map[string]uint8)}

		for _, fmtID := range m.MediaName.Formats {
			pt, err := strconv.ParseUint(fmtID, 10, 8)
			if err != nil {
				continue
			}
			if md.PayloadType == 0 {
				md.PayloadType = uint8(pt)
			}
		}

		for _, a := range m.Attributes {
			switch a.Key {
			case "mid":
				md.Mid = a.Value
			case "sendrecv", "sendonly", "recvonly", "inactive":
				md.Direction = a.Key
			case "rtpmap":
				parseRtpmap(a.Value, &md)
			case "fmtp":
				parseRtxFmtp(a.Value, &md)
			case "rtcp-fb":
				if strings.Contains(a.Value, "nack") && !strings.Contains(a.Value, "pli") {
					md.NACK = true
				}
				if strings.Contains(a.Value, "goog-remb") {
					md.REMB = true
				}
				if strings.Contains(a.Value, "transport-cc") {
					md.TransportCC = true
				}
			case "extmap":
				id, uri, ok := parseExtmap(a.Value)
				if ok {
					md.ExtMap[uri] = id
				}
			case "rid":
				fields := strings.Fields(a.Value)
				if len(fields) > 0 {
					md.RIDs = append(md.RIDs, fields[0])
				}
			case "candidate":
				rd.Candidates = append(rd.Candidates, a.Value)
			case "end-of-candidates":
				rd.EndOfCandidates = true
			}
		}

		rd.Media = append(rd.Media, md)
	}

	return rd, nil
}

func parseRtpmap(value string, md *MediaDescription) {
	// "<pt> <codec>/<clockrate>[/<channels>]"
	parts := strings.SplitN(value, " ", 2)
	if len(parts) != 2 {
		return
	}
	pt, err := strconv.ParseUint(parts[0], 10, 8)
	if err != nil || uint8(pt) != md.PayloadType {
		return
	}
	clockParts := strings.Split(parts[1], "/")
	if len(clockParts) >= 2 {
		if rate, err := strconv.ParseUint(clockParts[1], 10, 32); err == nil {
			md.ClockRate = uint32(rate)
		}
	}
}

// parseRtxFmtp recognizes "a=fmtp:<rtxPT> apt=<basePT>" to record the
// RFC 4588 rtx payload-type pairing.
func parseRtxFmtp(value string, md *MediaDescription) {
	parts := strings.SplitN(value, " ", 2)
	if len(parts) != 2 || !strings.HasPrefix(parts[1], "apt=") {
		return
	}
	rtxPT, err := strconv.ParseUint(parts[0], 10, 8)
	if err != nil {
		return
	}
	basePT, err := strconv.ParseUint(strings.TrimPrefix(parts[1], "apt="), 10, 8)
	if err != nil || uint8(basePT) != md.PayloadType {
		return
	}
	md.RTXPayload = uint8(rtxPT)
}

func parseExtmap(value string) (id uint8, uri string, ok bool) {
	fields := strings.Fields(value)
	if len(fields) < 2 {
		return 0, "", false
	}
	idStr := strings.SplitN(fields[0], "/", 2)[0]
	n, err := strconv.ParseUint(idStr, 10, 8)
	if err != nil {
		return 0, "", false
	}
	return uint8(n), fields[1], true
}

func extractICECredentials(desc *sdp.SessionDescription) (ufrag, pwd string, err error) {
	ufrag, hasUfrag := desc.Attribute("ice-ufrag")
	pwd, hasPwd := desc.Attribute("ice-pwd")
	if hasUfrag && hasPwd {
		return ufrag, pwd, nil
	}
	for _, m := range desc.MediaDescriptions {
		if v, ok := m.Attribute("ice-ufrag"); ok {
			ufrag = v
			hasUfrag = true
		}
		if v, ok := m.Attribute("ice-pwd"); ok {
			pwd = v
			hasPwd = true
		}
	}
	if !hasUfrag || !hasPwd {
		return "", "", ErrMissingICECredentials
	}
	return ufrag, pwd, nil
}

func extractFingerprint(desc *sdp.SessionDescription) (algo, hash string, err error) {
	var all []string
	if v, ok := desc.Attribute("fingerprint"); ok {
		all = append(all, v)
	}
	for _, m := range desc.MediaDescriptions {
		if v, ok := m.Attribute("fingerprint"); ok {
			all = append(all, v)
		}
	}
	if len(all) == 0 {
		return "", "", ErrNoFingerprint
	}
	for _, v := range all {
		if v != all[0] {
			return "", "", ErrConflictingFingerprint
		}
	}
	parts := strings.SplitN(all[0], " ", 2)
	if len(parts) != 2 {
		return "", "", fmt.Errorf("icepipe: malformed fingerprint attribute %q", all[0])
	}
	return parts[0], parts[1], nil
}

func sessionOrMediaAttribute(desc *sdp.SessionDescription, key string) (string, bool) {
	if v, ok := desc.Attribute(key); ok {
		return v, true
	}
	for _, m := range desc.MediaDescriptions {
		if v, ok := m.Attribute(key); ok {
			return v, true
		}
	}
	return "", false
}

// LocalSDPParams carries what BuildLocalSDP needs to render our side of
// the offer/answer (spec §4.6: "invokes the plugin first to obtain the
// offer SDP" still leaves SDP line construction to the core).
type LocalSDPParams struct {
	Offerer          bool
	ICEUfrag         string
	ICEPwd           string
	FingerprintAlgo  string
	FingerprintValue string
	SetupRole        string // active/passive (never actpass once we answer)
	Candidates       []string
	HasAudio         bool
	HasVideo         bool
	HasData          bool
	AudioPT          uint8
	VideoPT          uint8
	RTXPT            uint8
}

// BuildLocalSDP renders our local offer/answer body (spec §4.6).
func BuildLocalSDP(p LocalSDPParams) (string, error) {
	if p.Offerer {
		// We propose the DTLS role, not pick one: the answerer commits
		// to active/passive, and we take the opposite (spec §4.6).
		p.SetupRole = "actpass"
	}

	origin := sdp.Origin{
		Username:       "-",
		SessionID:      1,
		SessionVersion: 1,
		NetworkType:    "IN",
		AddressType:    "IP4",
		UnicastAddress: "0.0.0.0",
	}

	desc := &sdp.SessionDescription{
		Version: 0,
		Origin:  origin,
		SessionName: "-",
		TimeDescriptions: []sdp.TimeDescription{{Timing: sdp.Timing{StartTime: 0, StopTime: 0}}},
	}
	desc = desc.WithValueAttribute("ice-ufrag", p.ICEUfrag).
		WithValueAttribute("ice-pwd", p.ICEPwd).
		WithFingerprint(p.FingerprintAlgo, strings.ToUpper(p.FingerprintValue))

	addMedia := func(kind string, pt uint8, rtxPT uint8) {
		media := (&sdp.MediaDescription{
			MediaName: sdp.MediaName{
				Media:   kind,
				Port:    sdp.RangedPort{Value: 9},
				Protos:  []string{"UDP", "TLS", "RTP", "SAVPF"},
				Formats: []string{strconv.Itoa(int(pt))},
			},
			ConnectionInformation: &sdp.ConnectionInformation{
				NetworkType: "IN",
				AddressType: "IP4",
				Address:     &sdp.Address{Address: "0.0.0.0"},
			},
		}).WithValueAttribute("setup", p.SetupRole).
			WithValueAttribute("mid", kind).
			WithPropertyAttribute("sendrecv").
			WithPropertyAttribute("rtcp-mux")

		if rtxPT != 0 {
			media.MediaName.Formats = append(media.MediaName.Formats, strconv.Itoa(int(rtxPT)))
			media = media.WithValueAttribute("fmtp", fmt.Sprintf("%d apt=%d", rtxPT, pt))
		}

		for _, c := range p.Candidates {
			media = media.WithValueAttribute("candidate", c)
		}
		desc.MediaDescriptions = append(desc.MediaDescriptions, media)
	}

	if p.HasAudio {
		addMedia("audio", p.AudioPT, 0)
	}
	if p.HasVideo {
		addMedia("video", p.VideoPT, p.RTXPT)
	}
	if p.HasData {
		media := (&sdp.MediaDescription{
			MediaName: sdp.MediaName{
				Media:   "application",
				Port:    sdp.RangedPort{Value: 9},
				Protos:  []string{"UDP", "DTLS", "SCTP"},
				Formats: []string{"webrtc-datachannel"},
			},
		}).WithValueAttribute("mid", "data").WithValueAttribute("setup", p.SetupRole)
		desc.MediaDescriptions = append(desc.MediaDescriptions, media)
	}

	out, err := desc.Marshal()
	if err != nil {
		return "", fmt.Errorf("icepipe: marshal local sdp: %w", err)
	}
	return string(out), nil
}
