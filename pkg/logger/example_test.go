package logger_test

import (
	"fmt"
	"os"

	"github.com/ethan/webrtc-core/pkg/logger"
)

// Example showing basic logger usage
func ExampleLogger_basic() {
	cfg := logger.NewConfig()
	cfg.Level = logger.LevelInfo
	cfg.Format = logger.FormatText

	log, err := logger.New(cfg)
	if err != nil {
		panic(err)
	}
	defer log.Close()

	log.Info().Str("version", "1.0.0").Msg("application started")
	log.Warn().Str("endpoint", "/janus").Msg("deprecated request shape used")
	log.Error().Str("error", "connection timeout").Msg("failed to connect")
}

// Example showing debug category usage
func ExampleLogger_categories() {
	cfg := logger.NewConfig()
	cfg.Level = logger.LevelDebug
	cfg.EnableCategory(logger.DebugRTP)
	cfg.EnableCategory(logger.DebugICE)

	log, err := logger.New(cfg)
	if err != nil {
		panic(err)
	}
	defer log.Close()

	log.DebugRTPPacket(12345, 90000, 96, 1200)
	log.DebugICE("candidate pair selected", "pair", "udp/host")
	log.DebugRTP("packet received", "seq", 12345)
}

// Example showing command-line flags integration
func ExampleFlags() {
	// In main.go:
	// fs := flag.NewFlagSet("webrtc-core", flag.ExitOnError)
	// logFlags := logger.RegisterFlags(fs)
	// fs.Parse(os.Args[1:])
	//
	// logConfig, _ := logFlags.ToConfig()
	// log, _ := logger.New(logConfig)
	// defer log.Close()

	fmt.Println("See cmd/server/main.go for complete example")
}

// Example showing JSON format output
func ExampleLogger_json() {
	cfg := logger.NewConfig()
	cfg.Level = logger.LevelInfo
	cfg.Format = logger.FormatJSON
	cfg.OutputFile = "app.json"

	log, err := logger.New(cfg)
	if err != nil {
		panic(err)
	}
	defer log.Close()
	defer os.Remove("app.json")

	log.Info().
		Str("user_id", "12345").
		Str("ip", "192.168.1.1").
		Int("duration_ms", 250).
		Msg("user logged in")
}

// Example showing conditional debug logging
func ExampleLogger_conditional() {
	cfg := logger.NewConfig()
	cfg.EnableCategory(logger.DebugSCTP)

	log, err := logger.New(cfg)
	if err != nil {
		panic(err)
	}
	defer log.Close()

	// Category methods check IsCategoryEnabled internally; zero-cost when
	// the category is off.
	log.DebugSCTP("data channel opened", "label", "chat")
	log.DebugRTP("packet received", "seq", 12345)
}
