// Package logging adapts the process's zerolog-backed logger to the
// github.com/pion/logging.LeveledLogger/LoggerFactory interfaces so that
// pion/ice, pion/dtls, and pion/srtp emit through the same structured
// sink as the rest of the process (spec §2 domain-stack: "adapter to
// zerolog for the pion libraries' LeveledLogger").
package logging

import (
	"fmt"

	"github.com/ethan/webrtc-core/pkg/logger"
	pionlog "github.com/pion/logging"
)

// Factory implements pion/logging.LoggerFactory, handing out a scoped
// adapter per pion subsystem (e.g. "ice", "dtls", "srtp").
type Factory struct {
	base *logger.Logger
}

// NewFactory returns a pion LoggerFactory backed by base.
func NewFactory(base *logger.Logger) *Factory {
	return &Factory{base: base}
}

// NewLogger returns a LeveledLogger scoped to the given pion subsystem
// name, tagged with a "scope" field so log lines can be filtered.
func (f *Factory) NewLogger(scope string) pionlog.LeveledLogger {
	return &adapter{l: f.base.With("scope", scope)}
}

type adapter struct {
	l *logger.Logger
}

func (a *adapter) Trace(msg string)                  { a.l.Debug().Msg(msg) }
func (a *adapter) Tracef(format string, args ...any)  { a.l.Debug().Msg(fmt.Sprintf(format, args...)) }
func (a *adapter) Debug(msg string)                   { a.l.Debug().Msg(msg) }
func (a *adapter) Debugf(format string, args ...any)  { a.l.Debug().Msg(fmt.Sprintf(format, args...)) }
func (a *adapter) Info(msg string)                    { a.l.Info().Msg(msg) }
func (a *adapter) Infof(format string, args ...any)   { a.l.Info().Msg(fmt.Sprintf(format, args...)) }
func (a *adapter) Warn(msg string)                    { a.l.Warn().Msg(msg) }
func (a *adapter) Warnf(format string, args ...any)   { a.l.Warn().Msg(fmt.Sprintf(format, args...)) }
func (a *adapter) Error(msg string)                   { a.l.Error().Msg(msg) }
func (a *adapter) Errorf(format string, args ...any)  { a.l.Error().Msg(fmt.Sprintf(format, args...)) }
