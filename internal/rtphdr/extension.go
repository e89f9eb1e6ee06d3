package rtphdr

import "encoding/binary"

// Well-known extension URIs, mapped to negotiated local IDs via SDP
// extmap lines by the ICE/DTLS pipeline (internal/icepipe).
const (
	URISSRCAudioLevel = "urn:ietf:params:rtp-hdrext:ssrc-audio-level"
	URIToffset        = "urn:ietf:params:rtp-hdrext:toffset"
	URIAbsSendTime    = "http://www.webrtc.org/experiments/rtp-hdrext/abs-send-time"
	URIVideoOrient    = "urn:3gpp:video-orientation"
	URITransportCC    = "http://www.ietf.org/id/draft-holmer-rmcat-transport-wide-cc-extensions-01"
	URIPlayoutDelay   = "http://www.webrtc.org/experiments/rtp-hdrext/playout-delay"
	URIRID            = "urn:ietf:params:rtp-hdrext:sdes:rtp-stream-id"
)

// ExtensionMap translates negotiated local extension IDs to URIs, built
// from the SDP a=extmap lines for one media section.
type ExtensionMap map[uint8]string

// Find returns the first Extension in h matching uri according to m, and
// whether it was found.
func (h *Header) Find(m ExtensionMap, uri string) (Extension, bool) {
	for _, e := range h.Extensions {
		if m[e.ID] == uri {
			return e, true
		}
	}
	return Extension{}, false
}

// AudioLevel decodes the ssrc-audio-level extension: high bit is voice
// activity, low 7 bits are the level in -dBov (0 = loudest).
func AudioLevel(e Extension) (voiceActivity bool, level uint8, ok bool) {
	if len(e.Payload) < 1 {
		return false, 0, false
	}
	b := e.Payload[0]
	return b&0x80 != 0, b & 0x7F, true
}

// AbsSendTime decodes the 24-bit fixed-point abs-send-time extension into
// a Q6.18 fraction-of-seconds value, as transmitted on the wire.
func AbsSendTime(e Extension) (uint32, bool) {
	if len(e.Payload) < 3 {
		return 0, false
	}
	return uint32(e.Payload[0])<<16 | uint32(e.Payload[1])<<8 | uint32(e.Payload[2]), true
}

// VideoOrientation decodes the 1-byte video-orientation extension's
// camera (C), flip (F), and two rotation bits (R1 R0).
type VideoOrientation struct {
	CameraBack bool
	Flip       bool
	Rotation   uint16 // 0, 90, 180, 270
}

func DecodeVideoOrientation(e Extension) (VideoOrientation, bool) {
	if len(e.Payload) < 1 {
		return VideoOrientation{}, false
	}
	b := e.Payload[0]
	r1 := (b >> 1) & 0x1
	r0 := b & 0x1
	var rot uint16
	switch {
	case r1 == 0 && r0 == 0:
		rot = 0
	case r1 == 0 && r0 == 1:
		rot = 90
	case r1 == 1 && r0 == 0:
		rot = 180
	default:
		rot = 270
	}
	return VideoOrientation{
		CameraBack: b&0x8 != 0,
		Flip:       b&0x4 != 0,
		Rotation:   rot,
	}, true
}

// TransportWideSeq decodes the 16-bit transport-wide-cc sequence number.
func TransportWideSeq(e Extension) (uint16, bool) {
	if len(e.Payload) < 2 {
		return 0, false
	}
	return binary.BigEndian.Uint16(e.Payload[:2]), true
}

// PlayoutDelay decodes the two 12-bit min/max fields (in units of 10ms).
func PlayoutDelay(e Extension) (min, max uint16, ok bool) {
	if len(e.Payload) < 3 {
		return 0, 0, false
	}
	v := uint32(e.Payload[0])<<16 | uint32(e.Payload[1])<<8 | uint32(e.Payload[2])
	return uint16(v >> 12), uint16(v & 0xFFF), true
}

// RID decodes the variable-length ASCII RTP stream id extension.
func RID(e Extension) (string, bool) {
	if len(e.Payload) == 0 {
		return "", false
	}
	return string(e.Payload), true
}
