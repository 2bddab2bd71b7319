package main

import (
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/jessevdk/go-flags"
	"github.com/prometheus/client_golang/prometheus"

	"valetudo-home/config"
	"valetudo-home/internal/application"
	"valetudo-home/internal/domain"
	"valetudo-home/internal/infra/valetudo"
)

type Options struct {
	Config   string        `short:"c" long:"config" env:"VALETUDO_CONFIG" description:"Path to config file"`
	Address  string        `short:"a" long:"address" env:"VALETUDO_ADDRESS" description:"Robot address, host or host:port"`
	Timeout  time.Duration `long:"timeout" description:"Robot request timeout (default 2s)"`
	LogLevel string        `long:"log-level" choice:"debug" choice:"info" choice:"warn" choice:"error" description:"Log level"`
	Pretty   bool          `short:"p" long:"pretty" description:"Render results as a table instead of JSON"`

	Token       TokenCommand       `command:"token" description:"Print the robot's token"`
	Status      StatusCommand      `command:"status" description:"Print the current status"`
	Consumables ConsumablesCommand `command:"consumables" description:"Print consumable wear"`
	Volume      VolumeCommand      `command:"volume" subcommands-optional:"true" description:"Get, set or test the sound volume"`
	Find        ActionCommand      `command:"find" alias:"locate" description:"Make the robot announce itself"`
	Start       ActionCommand      `command:"start" description:"Start cleaning"`
	Pause       ActionCommand      `command:"pause" description:"Pause cleaning"`
	Stop        ActionCommand      `command:"stop" description:"Stop cleaning"`
	Home        ActionCommand      `command:"home" alias:"dock" description:"Stop and drive back to the dock"`
	Spot        ActionCommand      `command:"spot" description:"Start spot cleaning"`
	GoTo        GoToCommand        `command:"goto" description:"Drive to map coordinates"`
	FanSpeed    FanSpeedCommand    `command:"fanspeed" description:"Set fan power (0-100)"`
	Serve       ServeCommand       `command:"serve" description:"Run the HTTP API, scheduler and MQTT bridge"`
}

var opts Options
var parser = flags.NewParser(&opts, flags.HelpFlag|flags.PassDoubleDash)

func main() {
	parser.LongDescription = "valetudo - local control for Valetudo vacuum robots"

	opts.Find.action = domain.ActionFind
	opts.Start.action = domain.ActionStart
	opts.Pause.action = domain.ActionPause
	opts.Stop.action = domain.ActionStop
	opts.Home.action = domain.ActionHome
	opts.Spot.action = domain.ActionSpot

	if _, err := parser.Parse(); err != nil {
		if flagsErr, ok := err.(*flags.Error); ok && flagsErr.Type == flags.ErrHelp {
			fmt.Fprintln(os.Stdout, flagsErr.Message)
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig reads the config file when given, then applies flag overrides.
func loadConfig() (*config.Config, error) {
	cfg := config.Default()
	if opts.Config != "" {
		loaded, err := config.Load(opts.Config)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	if opts.Address != "" {
		cfg.Robot.Address = opts.Address
	}
	if opts.Timeout > 0 {
		cfg.Robot.Timeout = opts.Timeout
	}
	if opts.LogLevel != "" {
		cfg.Log.Level = opts.LogLevel
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// newDispatcher builds the robot client. With a registerer the transport is
// instrumented and a status collector is registered.
func newDispatcher(cfg *config.Config, reg prometheus.Registerer, logger *slog.Logger) (*application.Dispatcher, error) {
	httpClient := &http.Client{Timeout: cfg.Robot.Timeout}
	if reg != nil {
		instrumented, err := valetudo.NewInstrumentedHTTPClient(cfg.Robot.Timeout, reg)
		if err != nil {
			return nil, fmt.Errorf("instrumenting http client: %w", err)
		}
		httpClient = instrumented
	}

	client := valetudo.NewClientWithHTTPClient(cfg.Robot.Address, httpClient)
	if reg != nil {
		if err := reg.Register(valetudo.NewMetricsCollector(client)); err != nil {
			return nil, fmt.Errorf("registering metrics collector: %w", err)
		}
	}
	return application.NewDispatcher(client, logger), nil
}

func setupLogger(cfg config.LogConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}

	// stdout carries command output.
	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}

	return slog.New(handler)
}
