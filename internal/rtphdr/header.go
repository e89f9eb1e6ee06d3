// Package rtphdr implements bit-exact parsing and serialization of the
// fixed RTP header (RFC 3550) and the RFC 5285 one-byte/two-byte header
// extension maps.
package rtphdr

import (
	"encoding/binary"
	"errors"
)

const (
	version       = 2
	fixedHdrLen   = 12
	extProfileOne = 0xBEDE // RFC 5285 one-byte header
	extProfileTwo = 0x1000 // RFC 5285 two-byte header, upper 12 bits
)

// Errors returned by Parse. A parse failure for a known extension never
// reaches the caller as an error — the packet still relays (spec §4.1);
// these are reserved for the fixed header itself.
var (
	ErrTooShort        = errors.New("rtphdr: buffer shorter than fixed header")
	ErrBadVersion      = errors.New("rtphdr: version field is not 2")
	ErrTruncatedCSRC   = errors.New("rtphdr: buffer too short for CSRC list")
	ErrTruncatedExt    = errors.New("rtphdr: buffer too short for extension block")
	ErrTruncatedPad    = errors.New("rtphdr: padding length exceeds payload")
)

// Extension is one parsed RFC 5285 header extension element, keyed by its
// local ID (1-14 for one-byte, 1-255 for two-byte).
type Extension struct {
	ID      uint8
	Payload []byte
}

// Header is the fully decoded RTP fixed header plus raw extension data.
// PayloadOffset is 12 + 4*CC + (extension ? 4 + 4*extLength : 0), as
// required by spec §4.1.
type Header struct {
	Version        uint8
	Padding        bool
	Extension      bool
	Marker         bool
	PayloadType    uint8
	SequenceNumber uint16
	Timestamp      uint32
	SSRC           uint32
	CSRC           []uint32

	ExtensionProfile uint16
	Extensions       []Extension

	PayloadOffset int
	PadLen        uint8
}

// Parse decodes the RTP header at the front of buf. The returned Header's
// PayloadOffset points past the header (and extension, if present); the
// payload itself runs from PayloadOffset to len(buf)-PadLen.
func Parse(buf []byte) (*Header, error) {
	if len(buf) < fixedHdrLen {
		return nil, ErrTooShort
	}

	h := &Header{}
	h.Version = buf[0] >> 6
	if h.Version != version {
		return nil, ErrBadVersion
	}
	h.Padding = (buf[0]>>5)&0x1 == 1
	h.Extension = (buf[0]>>4)&0x1 == 1
	cc := int(buf[0] & 0x0F)

	h.Marker = (buf[1]>>7)&0x1 == 1
	h.PayloadType = buf[1] & 0x7F

	h.SequenceNumber = binary.BigEndian.Uint16(buf[2:4])
	h.Timestamp = binary.BigEndian.Uint32(buf[4:8])
	h.SSRC = binary.BigEndian.Uint32(buf[8:12])

	offset := fixedHdrLen
	if cc > 0 {
		end := offset + cc*4
		if end > len(buf) {
			return nil, ErrTruncatedCSRC
		}
		h.CSRC = make([]uint32, cc)
		for i := 0; i < cc; i++ {
			h.CSRC[i] = binary.BigEndian.Uint32(buf[offset+i*4 : offset+i*4+4])
		}
		offset = end
	}

	if h.Extension {
		if offset+4 > len(buf) {
			return nil, ErrTruncatedExt
		}
		h.ExtensionProfile = binary.BigEndian.Uint16(buf[offset : offset+2])
		extWords := int(binary.BigEndian.Uint16(buf[offset+2 : offset+4]))
		extLen := extWords * 4
		if offset+4+extLen > len(buf) {
			return nil, ErrTruncatedExt
		}
		extBody := buf[offset+4 : offset+4+extLen]
		h.Extensions = parseExtensionElements(h.ExtensionProfile, extBody)
		offset = offset + 4 + extLen
	}

	h.PayloadOffset = offset

	if h.Padding {
		if len(buf) == 0 {
			return nil, ErrTruncatedPad
		}
		h.PadLen = buf[len(buf)-1]
		if int(h.PadLen) > len(buf)-offset {
			return nil, ErrTruncatedPad
		}
	}

	return h, nil
}

// parseExtensionElements decodes either the one-byte (0xBEDE) or two-byte
// (0x1000-0x100F) RFC 5285 profile. Malformed trailing bytes are dropped
// silently rather than erroring, per spec: a parse failure for a known
// extension is non-fatal.
func parseExtensionElements(profile uint16, body []byte) []Extension {
	var out []Extension
	switch {
	case profile == extProfileOne:
		i := 0
		for i < len(body) {
			b := body[i]
			if b == 0x00 { // padding byte
				i++
				continue
			}
			id := b >> 4
			length := int(b&0x0F) + 1
			i++
			if id == 15 { // reserved "stop parsing" id
				break
			}
			if i+length > len(body) {
				break
			}
			out = append(out, Extension{ID: id, Payload: body[i : i+length]})
			i += length
		}
	case profile&0xFFF0 == extProfileTwo:
		i := 0
		for i < len(body) {
			if body[i] == 0x00 {
				i++
				continue
			}
			if i+2 > len(body) {
				break
			}
			id := body[i]
			length := int(body[i+1])
			i += 2
			if i+length > len(body) {
				break
			}
			out = append(out, Extension{ID: id, Payload: body[i : i+length]})
			i += length
		}
	}
	return out
}

// Payload returns the slice of buf holding the RTP payload, honoring any
// trailing padding recorded in h.
func (h *Header) Payload(buf []byte) []byte {
	end := len(buf) - int(h.PadLen)
	if end < h.PayloadOffset {
		return nil
	}
	return buf[h.PayloadOffset:end]
}

// Marshal writes the fixed header, CSRC list, and extension block (if any)
// into buf, which must be at least h.PayloadOffset bytes. It returns the
// number of bytes written, which equals h.PayloadOffset when h was
// produced by Parse and not mutated beyond CSRC/extension count. Marshal
// followed by Parse is byte-exact for all headers produced by Parse (I3).
func (h *Header) Marshal(buf []byte) (int, error) {
	cc := len(h.CSRC)
	need := fixedHdrLen + cc*4
	if h.Extension {
		need += 4 + extensionWordsFor(h) * 4
	}
	if len(buf) < need {
		return 0, ErrTooShort
	}

	buf[0] = version << 6
	if h.Padding {
		buf[0] |= 1 << 5
	}
	if h.Extension {
		buf[0] |= 1 << 4
	}
	buf[0] |= byte(cc) & 0x0F

	buf[1] = h.PayloadType & 0x7F
	if h.Marker {
		buf[1] |= 1 << 7
	}

	binary.BigEndian.PutUint16(buf[2:4], h.SequenceNumber)
	binary.BigEndian.PutUint32(buf[4:8], h.Timestamp)
	binary.BigEndian.PutUint32(buf[8:12], h.SSRC)

	offset := fixedHdrLen
	for _, c := range h.CSRC {
		binary.BigEndian.PutUint32(buf[offset:offset+4], c)
		offset += 4
	}

	if h.Extension {
		words := extensionWordsFor(h)
		binary.BigEndian.PutUint16(buf[offset:offset+2], h.ExtensionProfile)
		binary.BigEndian.PutUint16(buf[offset+2:offset+4], uint16(words))
		offset += 4
		body := marshalExtensionElements(h.ExtensionProfile, h.Extensions, words*4)
		copy(buf[offset:offset+len(body)], body)
		offset += words * 4
	}

	return offset, nil
}

func extensionWordsFor(h *Header) int {
	raw := len(marshalExtensionElements(h.ExtensionProfile, h.Extensions, -1))
	return (raw + 3) / 4
}

func marshalExtensionElements(profile uint16, exts []Extension, padTo int) []byte {
	var body []byte
	switch {
	case profile == extProfileOne:
		for _, e := range exts {
			l := len(e.Payload)
			if l == 0 || l > 16 {
				continue
			}
			body = append(body, (e.ID<<4)|byte(l-1))
			body = append(body, e.Payload...)
		}
	case profile&0xFFF0 == extProfileTwo:
		for _, e := range exts {
			body = append(body, e.ID, byte(len(e.Payload)))
			body = append(body, e.Payload...)
		}
	}
	if padTo >= 0 {
		for len(body) < padTo {
			body = append(body, 0x00)
		}
	}
	return body
}
