package session

// Flags is the bitset of WebRTC state flags tracked per Handle (spec
// §3 "State flags (bitset on Handle)"). Flags are monotonic except
// ICE_RESTART, which clears a subset on use, and CLEANING, which once
// set makes most operations short-circuit.
type Flags uint32

const (
	FlagProcessingOffer Flags = 1 << iota
	FlagStart
	FlagReady
	FlagStop
	FlagAlert // fatal path
	FlagTrickle
	FlagAllTrickles // end-of-candidates seen
	FlagTrickleSynced
	FlagDataChannels
	FlagCleaning
	FlagHasAudio
	FlagHasVideo
	FlagGotOffer
	FlagGotAnswer
	FlagHasAgent
	FlagICERestart
	FlagResendTrickles
	FlagRFC4588RTX
)

func (f Flags) Has(bit Flags) bool { return f&bit != 0 }
func (f Flags) Set(bit Flags) Flags { return f | bit }
func (f Flags) Clear(bit Flags) Flags { return f &^ bit }

// iceRestartClears is the set of flags an ICE restart resets so
// gathering and trickle state start over (spec §4.6: "generates a new
// local ufrag/pwd, retriggers gathering, and flags RESEND_TRICKLES").
const iceRestartClears = FlagAllTrickles | FlagTrickleSynced | FlagReady
