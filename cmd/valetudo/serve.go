package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"valetudo-home/config"
	"valetudo-home/internal/application"
	"valetudo-home/internal/infra/httpapi"
	"valetudo-home/internal/infra/mqtt"
	"valetudo-home/internal/infra/pushover"
)

type ServeCommand struct{}

func (c *ServeCommand) Execute(_ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := setupLogger(cfg.Log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		logger.Info("shutting down")
		cancel()
	}()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	dispatcher, err := newDispatcher(cfg, reg, logger)
	if err != nil {
		return err
	}

	var notifier application.Notifier
	if cfg.Pushover.Enabled {
		notifier = pushover.NewClient(cfg.Pushover.Token, cfg.Pushover.UserKey, "")
	} else {
		notifier = &application.LogNotifier{Logger: logger}
	}

	scheduler := application.NewScheduler(dispatcher, notifier, logger)
	for _, entry := range cfg.Schedule {
		if _, err := scheduler.Add(entry.Cron, entry.Command()); err != nil {
			return err
		}
	}
	scheduler.Start()
	defer scheduler.Stop()

	if cfg.MQTT.Enabled {
		bridge, bus, err := startBridge(ctx, cfg, dispatcher, logger)
		if err != nil {
			return err
		}
		defer bus.Close()
		defer bridge.Stop()
	}

	server := httpapi.NewServer(httpapi.Config{
		Addr:           cfg.HTTP.Addr,
		AuthToken:      cfg.HTTP.AuthToken,
		RateLimit:      cfg.HTTP.RateLimit,
		StreamInterval: cfg.HTTP.StreamInterval,
	}, dispatcher, scheduler, reg, logger)
	if err := server.Start(); err != nil {
		return fmt.Errorf("starting http api: %w", err)
	}

	logger.Info("valetudo-home running",
		"robot", cfg.Robot.Address,
		"http_addr", cfg.HTTP.Addr,
		"mqtt", cfg.MQTT.Enabled,
		"jobs", len(cfg.Schedule),
	)

	<-ctx.Done()

	if err := server.Stop(); err != nil {
		logger.Error("stopping http api", "error", err)
	}
	return nil
}

func startBridge(ctx context.Context, cfg *config.Config, dispatcher *application.Dispatcher,
	logger *slog.Logger) (*application.Bridge, *mqtt.Client, error) {
	bridgeCfg := application.BridgeConfig{
		NodeID:          cfg.MQTT.ClientID,
		Name:            "Valetudo " + cfg.Robot.Address,
		TopicPrefix:     cfg.MQTT.TopicPrefix,
		DiscoveryPrefix: cfg.MQTT.DiscoveryPrefix,
		PollInterval:    cfg.MQTT.PollInterval,
	}

	bus, err := mqtt.NewClient(mqtt.Config{
		Broker:      cfg.MQTT.Broker,
		Username:    cfg.MQTT.Username,
		Password:    cfg.MQTT.Password,
		ClientID:    cfg.MQTT.ClientID,
		WillTopic:   bridgeCfg.AvailabilityTopic(),
		WillPayload: application.AvailabilityOffline,
	}, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("connecting to mqtt: %w", err)
	}

	bridge := application.NewBridge(bridgeCfg, dispatcher, bus, logger)
	if err := bridge.Start(ctx); err != nil {
		bus.Close()
		return nil, nil, fmt.Errorf("starting mqtt bridge: %w", err)
	}
	return bridge, bus, nil
}
