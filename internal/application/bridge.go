package application

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"valetudo-home/internal/domain"
	"valetudo-home/internal/infra/valetudo"
)

const (
	AvailabilityOnline  = "online"
	AvailabilityOffline = "offline"

	commandTimeout = 10 * time.Second
)

// Fan power presets exposed to Home Assistant.
var fanSpeedPresets = []struct {
	Name  string
	Power int
}{
	{"quiet", 38},
	{"balanced", 60},
	{"turbo", 75},
	{"max", 100},
}

type BridgeConfig struct {
	NodeID          string
	Name            string
	TopicPrefix     string
	DiscoveryPrefix string
	PollInterval    time.Duration
}

func (c BridgeConfig) stateTopic() string        { return c.TopicPrefix + "/state" }
func (c BridgeConfig) commandTopic() string      { return c.TopicPrefix + "/command" }
func (c BridgeConfig) fanSpeedTopic() string     { return c.TopicPrefix + "/fanspeed/set" }
func (c BridgeConfig) resultTopic() string       { return c.TopicPrefix + "/result" }
func (c BridgeConfig) AvailabilityTopic() string { return c.TopicPrefix + "/availability" }

func (c BridgeConfig) discoveryTopic() string {
	return fmt.Sprintf("%s/vacuum/%s/config", c.DiscoveryPrefix, c.NodeID)
}

// Bridge mirrors the robot onto a message bus: it publishes polled status
// and executes commands received on the command topics. All robot calls
// happen on a single goroutine.
type Bridge struct {
	cfg        BridgeConfig
	dispatcher *Dispatcher
	bus        MessageBus
	logger     *slog.Logger

	commands chan domain.Command

	mu           sync.Mutex
	running      bool
	cancel       context.CancelFunc
	wg           sync.WaitGroup
	availability string
}

func NewBridge(cfg BridgeConfig, dispatcher *Dispatcher, bus MessageBus, logger *slog.Logger) *Bridge {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 30 * time.Second
	}
	return &Bridge{
		cfg:        cfg,
		dispatcher: dispatcher,
		bus:        bus,
		logger:     logger,
		commands:   make(chan domain.Command, 16),
	}
}

func (b *Bridge) Start(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.running {
		return nil
	}

	if err := b.publishDiscovery(); err != nil {
		return fmt.Errorf("publishing discovery: %w", err)
	}
	if err := b.bus.Subscribe(b.cfg.commandTopic(), b.onCommand); err != nil {
		return fmt.Errorf("subscribing %s: %w", b.cfg.commandTopic(), err)
	}
	if err := b.bus.Subscribe(b.cfg.fanSpeedTopic(), b.onFanSpeed); err != nil {
		return fmt.Errorf("subscribing %s: %w", b.cfg.fanSpeedTopic(), err)
	}

	loopCtx, cancel := context.WithCancel(ctx)
	b.cancel = cancel
	b.running = true

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		b.loop(loopCtx)
	}()

	b.logger.Info("bridge started",
		"prefix", b.cfg.TopicPrefix,
		"poll_interval", b.cfg.PollInterval,
	)
	return nil
}

// Stop ends polling, waits for the in-flight robot call and marks the robot
// offline on the bus.
func (b *Bridge) Stop() {
	b.mu.Lock()
	if !b.running {
		b.mu.Unlock()
		return
	}
	b.running = false
	cancel := b.cancel
	b.mu.Unlock()

	cancel()
	b.wg.Wait()

	b.setAvailability(AvailabilityOffline)
	b.logger.Info("bridge stopped")
}

func (b *Bridge) loop(ctx context.Context) {
	ticker := time.NewTicker(b.cfg.PollInterval)
	defer ticker.Stop()

	b.publishState(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			b.publishState(ctx)
		case cmd := <-b.commands:
			if b.execute(ctx, cmd) && !cmd.Action.ReadOnly() {
				b.publishState(ctx)
			}
		}
	}
}

func (b *Bridge) onCommand(payload []byte) {
	cmd, err := parseCommandPayload(payload)
	if err != nil {
		b.logger.Warn("invalid command payload", "payload", string(payload), "error", err)
		b.publishResult(resultPayload{Action: strings.TrimSpace(string(payload)), Error: err.Error()})
		return
	}
	b.enqueue(cmd)
}

func (b *Bridge) onFanSpeed(payload []byte) {
	speed, err := parseFanSpeed(string(payload))
	if err != nil {
		b.logger.Warn("invalid fan speed", "payload", string(payload), "error", err)
		b.publishResult(resultPayload{Action: string(domain.ActionSetFanSpeed), Error: err.Error()})
		return
	}
	b.enqueue(domain.Command{Action: domain.ActionSetFanSpeed, Speed: speed})
}

func (b *Bridge) enqueue(cmd domain.Command) {
	select {
	case b.commands <- cmd:
	default:
		b.logger.Warn("command queue full, dropping", "command", cmd.String())
		b.publishResult(resultPayload{Action: string(cmd.Action), Error: "command queue full"})
	}
}

func (b *Bridge) execute(ctx context.Context, cmd domain.Command) bool {
	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()

	res, err := b.dispatcher.Execute(ctx, cmd)
	out := resultPayload{Action: string(cmd.Action), Result: res}
	if err != nil {
		out.Error = err.Error()
		out.StatusCode, _ = valetudo.StatusCode(err)
		out.Retryable = valetudo.IsRetryable(err)
	}
	b.publishResult(out)
	return err == nil
}

func (b *Bridge) publishState(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()

	res, err := b.dispatcher.Execute(ctx, domain.Command{Action: domain.ActionStatus})
	if err != nil {
		if ctx.Err() == nil {
			b.setAvailability(AvailabilityOffline)
		}
		return
	}
	b.setAvailability(AvailabilityOnline)

	state, err := buildState(res)
	if err != nil {
		b.logger.Warn("decoding robot status", "error", err)
		return
	}

	data, err := json.Marshal(state)
	if err != nil {
		b.logger.Error("marshaling state", "error", err)
		return
	}
	if err := b.bus.Publish(b.cfg.stateTopic(), data, true); err != nil {
		b.logger.Error("publishing state", "error", err)
	}
}

func (b *Bridge) setAvailability(value string) {
	b.mu.Lock()
	changed := b.availability != value
	b.availability = value
	b.mu.Unlock()

	if !changed {
		return
	}
	if err := b.bus.Publish(b.cfg.AvailabilityTopic(), []byte(value), true); err != nil {
		b.logger.Error("publishing availability", "error", err)
	}
}

type resultPayload struct {
	Action     string          `json:"action"`
	Result     valetudo.Result `json:"result,omitempty"`
	Error      string          `json:"error,omitempty"`
	StatusCode int             `json:"status_code,omitempty"`
	Retryable  bool            `json:"retryable,omitempty"`
}

func (b *Bridge) publishResult(out resultPayload) {
	data, err := json.Marshal(out)
	if err != nil {
		b.logger.Error("marshaling result", "error", err)
		return
	}
	if err := b.bus.Publish(b.cfg.resultTopic(), data, false); err != nil {
		b.logger.Error("publishing result", "error", err)
	}
}

type statePayload struct {
	State        domain.RobotState `json:"state"`
	BatteryLevel *float64          `json:"battery_level,omitempty"`
	FanSpeed     string            `json:"fan_speed,omitempty"`
	CleanArea    *float64          `json:"clean_area,omitempty"`
	CleanTime    *float64          `json:"clean_time,omitempty"`
	ErrorCode    *int              `json:"error_code,omitempty"`
	Status       valetudo.Result   `json:"status"`
}

func buildState(res valetudo.Result) (statePayload, error) {
	st, err := valetudo.DecodeStatus(res)
	if err != nil {
		return statePayload{}, err
	}

	out := statePayload{
		State:        domain.StateUnknown,
		BatteryLevel: st.Battery,
		CleanTime:    st.CleanTime,
		ErrorCode:    st.ErrorCode,
		Status:       res,
	}
	if st.State != nil {
		out.State = domain.StateFromCode(*st.State)
	}
	if area, ok := st.CleanAreaSquareMeters(); ok {
		out.CleanArea = &area
	}
	if st.FanPower != nil {
		out.FanSpeed = fanSpeedName(int(*st.FanPower))
	}
	return out, nil
}

type discoveryPayload struct {
	Name                string   `json:"name"`
	UniqueID            string   `json:"unique_id"`
	Schema              string   `json:"schema"`
	StateTopic          string   `json:"state_topic"`
	CommandTopic        string   `json:"command_topic"`
	SendCommandTopic    string   `json:"send_command_topic"`
	SetFanSpeedTopic    string   `json:"set_fan_speed_topic"`
	FanSpeedList        []string `json:"fan_speed_list"`
	AvailabilityTopic   string   `json:"availability_topic"`
	SupportedFeatures   []string `json:"supported_features"`
	JSONAttributesTopic string   `json:"json_attributes_topic"`
}

func (b *Bridge) publishDiscovery() error {
	speeds := make([]string, 0, len(fanSpeedPresets))
	for _, p := range fanSpeedPresets {
		speeds = append(speeds, p.Name)
	}

	doc := discoveryPayload{
		Name:              b.cfg.Name,
		UniqueID:          b.cfg.NodeID,
		Schema:            "state",
		StateTopic:        b.cfg.stateTopic(),
		CommandTopic:      b.cfg.commandTopic(),
		SendCommandTopic:  b.cfg.commandTopic(),
		SetFanSpeedTopic:  b.cfg.fanSpeedTopic(),
		FanSpeedList:      speeds,
		AvailabilityTopic: b.cfg.AvailabilityTopic(),
		SupportedFeatures: []string{
			"start", "pause", "stop", "return_home", "battery", "status",
			"locate", "clean_spot", "fan_speed", "send_command",
		},
		JSONAttributesTopic: b.cfg.resultTopic(),
	}

	data, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	return b.bus.Publish(b.cfg.discoveryTopic(), data, true)
}

// parseCommandPayload accepts a bare action word ("start", "return_to_base")
// or a JSON command object.
func parseCommandPayload(payload []byte) (domain.Command, error) {
	text := strings.TrimSpace(string(payload))
	if text == "" {
		return domain.Command{}, fmt.Errorf("empty command")
	}

	if strings.HasPrefix(text, "{") {
		var cmd domain.Command
		if err := json.Unmarshal([]byte(text), &cmd); err != nil {
			return domain.Command{}, fmt.Errorf("decoding command: %w", err)
		}
		action, err := domain.ParseAction(string(cmd.Action))
		if err != nil {
			return domain.Command{}, err
		}
		cmd.Action = action
		return cmd, nil
	}

	action, err := domain.ParseAction(text)
	if err != nil {
		return domain.Command{}, err
	}
	return domain.Command{Action: action}, nil
}

func parseFanSpeed(s string) (int, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for _, p := range fanSpeedPresets {
		if p.Name == s {
			return p.Power, nil
		}
	}
	speed, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("unknown fan speed %q", s)
	}
	return speed, nil
}

func fanSpeedName(power int) string {
	for _, p := range fanSpeedPresets {
		if p.Power == power {
			return p.Name
		}
	}
	return strconv.Itoa(power)
}
