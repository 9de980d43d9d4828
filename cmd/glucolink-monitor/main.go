// Command glucolink-monitor runs a complete glucose monitoring session
// against a simulated sensor.
//
// The monitor scans, connects, authenticates and then prints every new
// reading as the sensor delivers it. Sensor metadata and readings are
// persisted to the state file, so a restart resumes with the known
// sensor instead of treating it as new.
//
// Usage:
//
//	glucolink-monitor [flags]
//
// Flags:
//
//	-config string        Configuration file path (YAML)
//	-generation string    Sensor generation: gen2, gen3 (default from config)
//	-state string         State file path (default from config)
//	-log-level string     Log level: debug, info, warn, error
//	-protocol-log string  Protocol event capture file (.glog)
//	-interval duration    Simulated sensor emit interval (default 5s)
//
// Examples:
//
//	# Monitor a generation-3 sensor with protocol capture
//	glucolink-monitor -generation gen3 -protocol-log session.glog
//
//	# Fast generation-2 polling for development
//	glucolink-monitor -generation gen2 -interval 2s -log-level debug
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/glucolink/glucolink-go/pkg/config"
	"github.com/glucolink/glucolink-go/pkg/log"
	"github.com/glucolink/glucolink-go/pkg/model"
	"github.com/glucolink/glucolink-go/pkg/persistence"
	"github.com/glucolink/glucolink-go/pkg/protocol"
	"github.com/glucolink/glucolink-go/pkg/session"
)

func main() {
	var (
		configPath  = flag.String("config", "", "Configuration file path (YAML)")
		generation  = flag.String("generation", "", "Sensor generation: gen2, gen3")
		statePath   = flag.String("state", "", "State file path")
		logLevel    = flag.String("log-level", "", "Log level: debug, info, warn, error")
		protocolLog = flag.String("protocol-log", "", "Protocol event capture file (.glog)")
		interval    = flag.Duration("interval", 5*time.Second, "Simulated sensor emit interval")
	)
	flag.Parse()

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		cfg = loaded
	}
	if *generation != "" {
		cfg.Generation = *generation
	}
	if *statePath != "" {
		cfg.StatePath = *statePath
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}
	if *protocolLog != "" {
		cfg.ProtocolLogPath = *protocolLog
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	if err := run(cfg, *interval); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(cfg config.Config, interval time.Duration) error {
	level, err := cfg.SlogLevel()
	if err != nil {
		return err
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	gen, err := cfg.SensorGeneration()
	if err != nil {
		return err
	}

	protocolLogger, closeLog, err := buildProtocolLogger(cfg, logger)
	if err != nil {
		return err
	}
	defer closeLog()

	engine, err := buildEngine(gen)
	if err != nil {
		return err
	}

	sensor := newSimulatedSensor(gen, interval)
	store := persistence.NewSensorStateStore(cfg.StatePath)

	orch, err := session.New(cfg.SessionConfig(), sensor, engine, store)
	if err != nil {
		return err
	}
	defer orch.Close()

	orch.SetLogger(logger)
	orch.SetProtocolLogger(protocolLogger)

	// Resume the previously adopted sensor, if any. A generation-2
	// sensor additionally needs its patch info to authenticate; the
	// simulated sensor hands it over the way an NFC read would.
	known, err := store.Sensor()
	if err != nil {
		logger.Warn("state file unreadable, starting fresh", "error", err)
	}
	if known != nil && known.Generation == gen {
		orch.Initialize(known)
	} else if gen == model.Gen2 {
		now := time.Now()
		orch.Initialize(&model.SensorInfo{
			SerialNumber: simulatedSerial,
			StartTime:    now.Add(-2 * time.Hour),
			ExpiryTime:   now.Add(-2 * time.Hour).Add(model.Gen2Lifespan),
			Generation:   model.Gen2,
			PatchInfo:    sensor.PatchInfo(),
		})
	}

	orch.OnStateChange(func(oldState, newState session.State) {
		logger.Info("session state", "from", oldState, "to", newState)
	})
	orch.OnCurrentReading(func(r model.GlucoseReading) {
		fmt.Printf("%s  %6.1f mg/dL  %-12s %s\n",
			r.Timestamp.Format(time.TimeOnly), r.GlucoseMgDl, r.Trend, r.Quality)
	})
	orch.OnSensorChanged(func(info model.SensorInfo) {
		logger.Info("sensor adopted",
			"serial", info.SerialNumber,
			"generation", info.Generation,
			"expiry", info.ExpiryTime)
	})
	orch.OnReconnecting(func(attempt int, delay time.Duration) {
		logger.Warn("reconnecting", "attempt", attempt, "delay", delay)
	})
	orch.OnError(func(err error) {
		logger.Error("session error", "error", err)
	})

	if err := orch.Start(); err != nil {
		return err
	}
	logger.Info("monitor started", "generation", gen, "state_path", cfg.StatePath)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("shutting down", "signal", sig.String())

	orch.Disconnect()
	return nil
}

func buildEngine(gen model.Generation) (protocol.Engine, error) {
	switch gen {
	case model.Gen2:
		return protocol.NewGen2Engine(), nil
	case model.Gen3:
		return protocol.NewGen3Engine()
	default:
		return nil, fmt.Errorf("unknown generation %s", gen)
	}
}

// buildProtocolLogger assembles the protocol event sink: file capture if
// configured, plus console output at debug level.
func buildProtocolLogger(cfg config.Config, logger *slog.Logger) (log.Logger, func(), error) {
	sinks := []log.Logger{}
	closeLog := func() {}

	if cfg.ProtocolLogPath != "" {
		fileLogger, err := log.NewFileLogger(cfg.ProtocolLogPath)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open protocol log: %w", err)
		}
		sinks = append(sinks, fileLogger)
		closeLog = func() {
			if err := fileLogger.Close(); err != nil {
				logger.Warn("failed to close protocol log", "error", err)
			}
		}
	}
	if level, _ := cfg.SlogLevel(); level <= slog.LevelDebug {
		sinks = append(sinks, log.NewSlogAdapter(logger))
	}
	if len(sinks) == 0 {
		return log.NoopLogger{}, closeLog, nil
	}
	return log.NewMultiLogger(sinks...), closeLog, nil
}
