package logger

import (
	"flag"
	"fmt"
	"strings"
)

// Flags holds all logging-related command-line flags
type Flags struct {
	LogLevel  string
	LogFormat string
	LogFile   string
	DebugRTP  bool
	DebugICE  bool
	DebugDTLS bool
	DebugSCTP bool
	DebugAll  bool
}

// RegisterFlags registers logging flags with the given FlagSet
func RegisterFlags(fs *flag.FlagSet) *Flags {
	f := &Flags{}

	fs.StringVar(&f.LogLevel, "log-level", "info",
		"Log level: debug, info, warn, error")
	fs.StringVar(&f.LogLevel, "l", "info",
		"Log level (shorthand)")

	fs.StringVar(&f.LogFormat, "log-format", "text",
		"Log output format: text, json")

	fs.StringVar(&f.LogFile, "log-file", "",
		"Log output file path (default: stdout)")
	fs.StringVar(&f.LogFile, "o", "",
		"Log output file path (shorthand)")

	fs.BoolVar(&f.DebugRTP, "debug-rtp", false,
		"Enable RTP header/rewrite debugging")
	fs.BoolVar(&f.DebugICE, "debug-ice", false,
		"Enable ICE candidate/state debugging")
	fs.BoolVar(&f.DebugDTLS, "debug-dtls", false,
		"Enable DTLS handshake debugging")
	fs.BoolVar(&f.DebugSCTP, "debug-sctp", false,
		"Enable SCTP/DataChannel debugging")
	fs.BoolVar(&f.DebugAll, "debug-all", false,
		"Enable all debug categories")

	return f
}

// ToConfig converts Flags to a logger Config
func (f *Flags) ToConfig() (*Config, error) {
	cfg := NewConfig()

	level, err := ParseLevel(f.LogLevel)
	if err != nil {
		return nil, err
	}
	cfg.Level = level

	format, err := ParseFormat(f.LogFormat)
	if err != nil {
		return nil, err
	}
	cfg.Format = format

	cfg.OutputFile = f.LogFile

	if f.DebugAll {
		cfg.EnableCategory(DebugAll)
		cfg.Level = LevelDebug
	} else {
		if f.DebugRTP {
			cfg.EnableCategory(DebugRTP)
			cfg.Level = LevelDebug
		}
		if f.DebugICE {
			cfg.EnableCategory(DebugICE)
			cfg.Level = LevelDebug
		}
		if f.DebugDTLS {
			cfg.EnableCategory(DebugDTLS)
			cfg.Level = LevelDebug
		}
		if f.DebugSCTP {
			cfg.EnableCategory(DebugSCTP)
			cfg.Level = LevelDebug
		}
	}

	return cfg, nil
}

// PrintUsageExamples prints usage examples for logging flags
func PrintUsageExamples() {
	examples := `
Logging Examples:

  Basic usage (INFO level, text format to stdout):
    ./webrtc-core

  Enable DEBUG level:
    ./webrtc-core --log-level debug
    ./webrtc-core -l debug

  Log to file:
    ./webrtc-core --log-file server.log
    ./webrtc-core -o server.log

  JSON format for structured logging:
    ./webrtc-core --log-format json -o server.json

  Debug the ICE/DTLS pipeline only:
    ./webrtc-core --debug-ice --debug-dtls

  Debug everything:
    ./webrtc-core --debug-all -o debug.log

  Production logging (WARN level, JSON to file):
    ./webrtc-core -l warn --log-format json -o production.log
`
	fmt.Println(examples)
}

// String returns a string representation of enabled flags
func (f *Flags) String() string {
	var parts []string

	parts = append(parts, fmt.Sprintf("level=%s", f.LogLevel))
	parts = append(parts, fmt.Sprintf("format=%s", f.LogFormat))

	if f.LogFile != "" {
		parts = append(parts, fmt.Sprintf("output=%s", f.LogFile))
	} else {
		parts = append(parts, "output=stdout")
	}

	var debugCategories []string
	if f.DebugAll {
		debugCategories = append(debugCategories, "all")
	} else {
		if f.DebugRTP {
			debugCategories = append(debugCategories, "rtp")
		}
		if f.DebugICE {
			debugCategories = append(debugCategories, "ice")
		}
		if f.DebugDTLS {
			debugCategories = append(debugCategories, "dtls")
		}
		if f.DebugSCTP {
			debugCategories = append(debugCategories, "sctp")
		}
	}

	if len(debugCategories) > 0 {
		parts = append(parts, fmt.Sprintf("debug=[%s]", strings.Join(debugCategories, ",")))
	}

	return strings.Join(parts, " ")
}
