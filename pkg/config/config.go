// Package config loads the INI-style configuration file (spec §6) and
// publishes it as an immutable Snapshot that the rest of the process
// reads through an atomic pointer (spec §5's "shared config is read via
// an atomic snapshot-replace pointer, never mutated in place").
package config

import (
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"

	"gopkg.in/ini.v1"
)

// TurnTransport is the transport a TURN relay advertises (general.turn_type).
type TurnTransport string

const (
	TurnUDP TurnTransport = "udp"
	TurnTCP TurnTransport = "tcp"
	TurnTLS TurnTransport = "tls"
)

// General holds the [general] section: STUN/TURN servers and the
// process-wide API secret.
type General struct {
	STUNServer   string
	STUNPort     int
	TURNServer   string
	TURNPort     int
	TURNType     TurnTransport
	TURNUser     string
	TURNPwd      string
	TURNRestAPI  string
	APISecret    string
}

// Media holds the [media] section: port ranges, ICE mode, NACK/rfc4588
// knobs, and the no-media timer. With no_media_hangup set, NoMediaTimer
// becomes each new session's idle timeout (see session.Session.Idle);
// nothing sends a no-media notification, and no hangup follows from it.
type Media struct {
	RTPPortMin       uint16
	RTPPortMax       uint16
	IPv6             bool
	ICELite          bool
	ICETCP           bool
	FullTrickle      bool
	NackQueueSize    int
	NoMediaTimer     int
	NoMediaHangup    bool
	RFC4588          bool
	EventStatsPeriod int
}

// NAT holds the [nat] section: interface filters and 1:1 NAT mapping.
type NAT struct {
	EnforceInterface []string
	IgnoreInterface  []string
	NAT1To1Mapping   string
}

// Auth holds the [auth] section: the shared-secret token scheme.
type Auth struct {
	TokenAuth   bool
	TokenSecret string
}

// Plugins holds the [plugins] section: the disable list.
type Plugins struct {
	Disable []string
}

// Transports holds the [transports] section: the disable list.
type Transports struct {
	Disable []string
}

// Snapshot is one immutable, fully-parsed configuration. A new Snapshot
// replaces the old one wholesale on reload; nothing ever mutates a
// Snapshot's fields after Load returns it.
type Snapshot struct {
	General    General
	Media      Media
	NAT        NAT
	Auth       Auth
	Plugins    Plugins
	Transports Transports
}

// Store publishes Snapshots for concurrent, lock-free reads (spec §5).
type Store struct {
	ptr atomic.Pointer[Snapshot]
}

// NewStore wraps an initial Snapshot in a Store.
func NewStore(initial *Snapshot) *Store {
	s := &Store{}
	s.ptr.Store(initial)
	return s
}

// Load returns the currently published Snapshot.
func (s *Store) Load() *Snapshot { return s.ptr.Load() }

// Replace atomically publishes a new Snapshot, e.g. after a SIGHUP reload.
func (s *Store) Replace(snap *Snapshot) { s.ptr.Store(snap) }

// Load reads and parses the INI file at path into a Snapshot. Unknown
// keys and sections are ignored, so older or forward-looking config
// files keep loading cleanly.
func Load(path string) (*Snapshot, error) {
	f, err := ini.LoadSources(ini.LoadOptions{AllowShadows: true}, path)
	if err != nil {
		return nil, fmt.Errorf("config: load %s: %w", path, err)
	}

	snap := &Snapshot{}

	g := f.Section("general")
	snap.General = General{
		STUNServer:  g.Key("stun_server").String(),
		STUNPort:    g.Key("stun_port").MustInt(3478),
		TURNServer:  g.Key("turn_server").String(),
		TURNPort:    g.Key("turn_port").MustInt(3478),
		TURNType:    parseTurnType(g.Key("turn_type").MustString("udp")),
		TURNUser:    g.Key("turn_user").String(),
		TURNPwd:     g.Key("turn_pwd").String(),
		TURNRestAPI: g.Key("turn_rest_api").String(),
		APISecret:   g.Key("api_secret").String(),
	}

	m := f.Section("media")
	rtpMin, rtpMax, err := parsePortRange(m.Key("rtp_port_range").MustString("0-0"))
	if err != nil {
		return nil, fmt.Errorf("config: media.rtp_port_range: %w", err)
	}
	snap.Media = Media{
		RTPPortMin:       rtpMin,
		RTPPortMax:       rtpMax,
		IPv6:             m.Key("ipv6").MustBool(false),
		ICELite:          m.Key("ice_lite").MustBool(false),
		ICETCP:           m.Key("ice_tcp").MustBool(false),
		FullTrickle:      m.Key("full_trickle").MustBool(false),
		NackQueueSize:    m.Key("nack_queue").MustInt(300),
		NoMediaTimer:     m.Key("no_media_timer").MustInt(60),
		NoMediaHangup:    m.Key("no_media_hangup").MustBool(false),
		RFC4588:          m.Key("rfc4588").MustBool(false),
		EventStatsPeriod: m.Key("event_stats_period").MustInt(0),
	}

	n := f.Section("nat")
	snap.NAT = NAT{
		EnforceInterface: splitList(n.Key("enforce_interface").String()),
		IgnoreInterface:  splitList(n.Key("ignore_interface").String()),
		NAT1To1Mapping:   n.Key("nat_1_1_mapping").String(),
	}

	a := f.Section("auth")
	snap.Auth = Auth{
		TokenAuth:   a.Key("token_auth").MustBool(false),
		TokenSecret: a.Key("token_secret").String(),
	}

	p := f.Section("plugins")
	snap.Plugins = Plugins{Disable: splitList(p.Key("disable").String())}

	t := f.Section("transports")
	snap.Transports = Transports{Disable: splitList(t.Key("disable").String())}

	if err := snap.Validate(); err != nil {
		return nil, err
	}
	return snap, nil
}

// Validate checks cross-field invariants Load alone can't express.
func (s *Snapshot) Validate() error {
	if s.Auth.TokenAuth && s.Auth.TokenSecret == "" {
		return fmt.Errorf("config: auth.token_auth=true requires auth.token_secret")
	}
	if s.Media.RTPPortMin != 0 && s.Media.RTPPortMax != 0 && s.Media.RTPPortMin > s.Media.RTPPortMax {
		return fmt.Errorf("config: media.rtp_port_range has min > max")
	}
	return nil
}

func parseTurnType(v string) TurnTransport {
	switch strings.ToLower(v) {
	case "tcp":
		return TurnTCP
	case "tls":
		return TurnTLS
	default:
		return TurnUDP
	}
}

func parsePortRange(v string) (min, max uint16, err error) {
	parts := strings.SplitN(v, "-", 2)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("expected \"min-max\", got %q", v)
	}
	lo, err := strconv.ParseUint(strings.TrimSpace(parts[0]), 10, 16)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid min port %q: %w", parts[0], err)
	}
	hi, err := strconv.ParseUint(strings.TrimSpace(parts[1]), 10, 16)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid max port %q: %w", parts[1], err)
	}
	return uint16(lo), uint16(hi), nil
}

func splitList(v string) []string {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
