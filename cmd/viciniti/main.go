package main

import (
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/chaz8081/viciniti/internal/ble"
	"github.com/chaz8081/viciniti/internal/ble/protocol"
	"github.com/chaz8081/viciniti/internal/config"
	"github.com/chaz8081/viciniti/internal/hotkey"
	"github.com/chaz8081/viciniti/internal/session"
)

func main() {
	// CLI flags
	configPath := flag.String("config", "", "path to config file (default: ~/.config/viciniti/config.yaml)")
	eventID := flag.String("event", "", "event id to confirm presence for (overrides config)")
	role := flag.String("role", "", "participant or organizer (overrides config)")
	radioMode := flag.String("radio", "", "auto, hardware, or simulator (overrides config)")
	hold := flag.Bool("hold", false, "press immediately and hold until matched, without a hotkey")
	initConfig := flag.Bool("init", false, "write a default config file and exit")
	flag.Parse()

	if *initConfig {
		path, err := config.WriteDefault()
		if err != nil {
			log.Fatalf("config: %v", err)
		}
		if path == "" {
			fmt.Printf("Config already exists at %s\n", config.DefaultConfigPath())
			return
		}
		fmt.Printf("Wrote default config to %s\n", path)
		return
	}

	// Load configuration
	cfg, err := loadConfig(*configPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if err := cfg.ApplyEnv(); err != nil {
		log.Fatalf("config: %v", err)
	}
	applyFlags(cfg, *eventID, *role, *radioMode)

	if err := cfg.Validate(); err != nil {
		log.Fatalf("config validation: %v", err)
	}
	setupLogging(cfg.LogLevel)

	if cfg.EventID == "" {
		cfg.EventID = protocol.NewEventID()
		log.Printf("No event id configured, generated %s", cfg.EventID)
	}
	localRole, _ := cfg.ParsedRole()

	printBanner(cfg)

	radio, err := ble.NewRadio(cfg.Radio.Mode, ble.RadioOptions{
		CompanyID:      cfg.Radio.CompanyID,
		SimulatorDelay: cfg.Radio.SimulatorDelay,
	})
	if err != nil {
		log.Fatalf("radio: %v", err)
	}
	if _, ok := radio.(*ble.SimulatedRadio); ok {
		log.Println("Simulator active: the connection experience is simulated")
	}

	matched := make(chan ble.Peer, 1)
	ctrl := session.New(ble.NewMachine(radio), session.Options{
		EventID:       cfg.EventID,
		Role:          localRole,
		HoldThreshold: cfg.HoldThreshold,
		OnConnected: func(p ble.Peer) {
			select {
			case matched <- p:
			default:
			}
		},
		OnFailure: func(f session.Failure) {
			log.Printf("%s: %s", f.Title, f.Message)
		},
		OnStatusChange: func(s ble.Status) {
			log.Println(session.StatusText(s))
		},
	})

	// Signal handling for graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	if *hold {
		log.Println("Holding until a match is found. Ctrl+C to quit.")
		ctrl.Press()
	} else {
		listener := hotkey.NewListener(cfg.Hotkey.Keys)
		go listener.Start()
		go hotkey.Drive(listener.Events(), ctrl)
		log.Println("Ready! Hold", strings.Join(cfg.Hotkey.Keys, "+"), "to connect. Ctrl+C to quit.")
	}

	select {
	case p := <-matched:
		fmt.Println("=== presence confirmed ===")
		fmt.Printf("  Event:  %s\n", cfg.EventID)
		fmt.Printf("  Peer:   %s (%s, %s)\n", p.ID, p.Role, peerName(p))
		if text := session.DeviceCountText(len(ctrl.Peers())); text != "" {
			fmt.Printf("  Nearby: %s\n", text)
		}
		ctrl.Close()
		// Exit directly to avoid gohook's C cleanup crash.
		os.Exit(0)

	case sig := <-sigCh:
		log.Printf("Received %s, shutting down...", sig)
		ctrl.Close()
		log.Println("Goodbye!")
		os.Exit(0)
	}
}

// loadConfig loads the config from the specified path, or falls back to
// the default config path, or uses built-in defaults.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.Load(path)
	}

	// Try default config path
	defaultPath := config.DefaultConfigPath()
	if _, err := os.Stat(defaultPath); err == nil {
		cfg, err := config.Load(defaultPath)
		if err != nil {
			return nil, fmt.Errorf("loading %s: %w", defaultPath, err)
		}
		log.Printf("Config loaded from %s", defaultPath)
		return cfg, nil
	}

	// No config file, use defaults
	log.Println("No config file found, using defaults")
	return config.Default(), nil
}

// applyFlags lets non-empty command line values win over file and env.
func applyFlags(cfg *config.Config, eventID, role, radioMode string) {
	if eventID != "" {
		cfg.EventID = eventID
	}
	if role != "" {
		cfg.Role = role
	}
	if radioMode != "" {
		cfg.Radio.Mode = radioMode
	}
}

func setupLogging(level string) {
	var l slog.Level
	switch level {
	case "debug":
		l = slog.LevelDebug
	case "warn":
		l = slog.LevelWarn
	case "error":
		l = slog.LevelError
	default:
		l = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: l})))
}

func peerName(p ble.Peer) string {
	if p.Name == "" {
		return "unknown device"
	}
	return p.Name
}

// printBanner displays the startup configuration summary.
func printBanner(cfg *config.Config) {
	fmt.Println("=== viciniti ===")
	fmt.Printf("  Event:  %s\n", cfg.EventID)
	fmt.Printf("  Role:   %s\n", cfg.Role)
	fmt.Printf("  Radio:  %s\n", cfg.Radio.Mode)
	fmt.Printf("  Hold:   %s (%s)\n", strings.Join(cfg.Hotkey.Keys, "+"), cfg.HoldThreshold)
	fmt.Printf("  Log:    %s\n", cfg.LogLevel)
	fmt.Println("================")
}
