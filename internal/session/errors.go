package session

import (
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Code is the error taxonomy for the media engine (spec §7): each
// category dictates a distinct recovery action at the call site rather
// than carrying one.
type Code int

const (
	// TransientIO is retried up to a small bound by the caller.
	TransientIO Code = iota
	// MalformedPacket is dropped; counted; logged at most once per interval.
	MalformedPacket
	// AuthFailed rejects signaling with a structured error code.
	AuthFailed
	// ProtocolViolation sets ALERT and initiates hangup.
	ProtocolViolation
	// ResourceExhausted rejects creation and propagates to the caller.
	ResourceExhausted
	// PluginError is returned from a plugin's handle_message, surfaced
	// to the client unchanged.
	PluginError
	// FatalInternal is logged and sets ALERT.
	FatalInternal
)

func (c Code) String() string {
	switch c {
	case TransientIO:
		return "transient_io"
	case MalformedPacket:
		return "malformed_packet"
	case AuthFailed:
		return "auth_failed"
	case ProtocolViolation:
		return "protocol_violation"
	case ResourceExhausted:
		return "resource_exhausted"
	case PluginError:
		return "plugin_error"
	case FatalInternal:
		return "fatal_internal"
	default:
		return "unknown"
	}
}

// Error wraps an underlying cause with a Code so callers can branch on
// category without string-matching messages.
type Error struct {
	Code  Code
	Cause error
}

func (e *Error) Error() string {
	if e.Cause == nil {
		return e.Code.String()
	}
	return fmt.Sprintf("%s: %v", e.Code, e.Cause)
}

func (e *Error) Unwrap() error { return e.Cause }

// Wrap builds an *Error from a code and a cause, formatting cause with
// fmt.Errorf-style wrapping when args are provided.
func Wrap(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Cause: fmt.Errorf(format, args...)}
}

// LogOnce rate-limits repeated logging of the same error category to at
// most once per interval, preventing log floods from e.g. a steady
// stream of malformed packets (spec §7, §4.4's "per-log counter").
type LogOnce struct {
	mu       sync.Mutex
	limiters map[Code]*rate.Limiter
	every    time.Duration
}

// NewLogOnce returns a LogOnce limiter admitting at most one log line per
// category every `every` duration.
func NewLogOnce(every time.Duration) *LogOnce {
	return &LogOnce{limiters: make(map[Code]*rate.Limiter), every: every}
}

// Allow reports whether a log line for code should be emitted right now.
func (l *LogOnce) Allow(code Code) bool {
	l.mu.Lock()
	lim, ok := l.limiters[code]
	if !ok {
		lim = rate.NewLimiter(rate.Every(l.every), 1)
		l.limiters[code] = lim
	}
	l.mu.Unlock()
	return lim.Allow()
}
