package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/go-playground/validator.v9"
	"gopkg.in/yaml.v3"

	"valetudo-home/internal/domain"
)

type Config struct {
	Robot    RobotConfig     `yaml:"robot"`
	MQTT     MQTTConfig      `yaml:"mqtt"`
	HTTP     HTTPConfig      `yaml:"http"`
	Schedule []ScheduleEntry `yaml:"schedule" validate:"dive"`
	Pushover PushoverConfig  `yaml:"pushover"`
	Log      LogConfig       `yaml:"log"`
}

type RobotConfig struct {
	Address string        `yaml:"address" validate:"required,address"`
	Timeout time.Duration `yaml:"timeout" validate:"gte=0"`
}

type MQTTConfig struct {
	Enabled         bool          `yaml:"enabled"`
	Broker          string        `yaml:"broker"`
	Username        string        `yaml:"username"`
	Password        string        `yaml:"password"`
	ClientID        string        `yaml:"client_id"`
	TopicPrefix     string        `yaml:"topic_prefix"`
	DiscoveryPrefix string        `yaml:"discovery_prefix"`
	PollInterval    time.Duration `yaml:"poll_interval" validate:"gte=0"`
}

type HTTPConfig struct {
	Addr      string `yaml:"addr"`
	AuthToken string `yaml:"auth_token"`
	RateLimit int    `yaml:"rate_limit" validate:"gte=0"`
	// StreamInterval paces status snapshots on the websocket endpoint.
	StreamInterval time.Duration `yaml:"stream_interval" validate:"gte=0"`
}

// ScheduleEntry is one cron-driven command. Cron specs use the six-field
// format with seconds, or descriptors like "@daily".
type ScheduleEntry struct {
	Cron   string `yaml:"cron" validate:"required"`
	Action string `yaml:"action" validate:"required,action"`
	Volume int    `yaml:"volume" validate:"percent"`
	Speed  int    `yaml:"speed" validate:"percent"`
	X      int    `yaml:"x"`
	Y      int    `yaml:"y"`
}

func (e ScheduleEntry) Command() domain.Command {
	action, _ := domain.ParseAction(e.Action)
	return domain.Command{
		Action: action,
		Volume: e.Volume,
		Speed:  e.Speed,
		X:      e.X,
		Y:      e.Y,
	}
}

type PushoverConfig struct {
	Token   string `yaml:"token"`
	UserKey string `yaml:"user_key"`
	Enabled bool   `yaml:"enabled"`
}

type LogConfig struct {
	Level  string `yaml:"level" validate:"omitempty,oneof=debug info warn error"`
	Format string `yaml:"format" validate:"omitempty,oneof=text json"`
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	return Parse(data)
}

// Parse expands environment variables in data and decodes it. Defaults are
// applied before validation.
func Parse(data []byte) (*Config, error) {
	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	cfg.setDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns a config with every default applied and no robot address.
func Default() *Config {
	var cfg Config
	cfg.setDefaults()
	return &cfg
}

func (c *Config) setDefaults() {
	if c.Robot.Timeout == 0 {
		c.Robot.Timeout = 2 * time.Second
	}
	if c.MQTT.ClientID == "" {
		c.MQTT.ClientID = "valetudo-home"
	}
	if c.MQTT.TopicPrefix == "" {
		c.MQTT.TopicPrefix = "valetudo/robot"
	}
	if c.MQTT.DiscoveryPrefix == "" {
		c.MQTT.DiscoveryPrefix = "homeassistant"
	}
	if c.MQTT.PollInterval == 0 {
		c.MQTT.PollInterval = 30 * time.Second
	}
	if c.HTTP.Addr == "" {
		c.HTTP.Addr = ":8080"
	}
	if c.HTTP.RateLimit == 0 {
		c.HTTP.RateLimit = 30
	}
	if c.HTTP.StreamInterval == 0 {
		c.HTTP.StreamInterval = 5 * time.Second
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
}

// Validate reports every invalid field, joined into a single error.
func (c *Config) Validate() error {
	err := newValidator().Struct(c)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("validating config: %w", err)
	}

	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s: failed %q", strings.TrimPrefix(fe.Namespace(), "Config."), fe.Tag()))
	}
	return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
}

func newValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("percent", func(fl validator.FieldLevel) bool {
		n := fl.Field().Int()
		return n >= 0 && n <= 100
	})
	_ = v.RegisterValidation("address", address)
	_ = v.RegisterValidation("action", func(fl validator.FieldLevel) bool {
		_, err := domain.ParseAction(fl.Field().String())
		return err == nil
	})
	v.RegisterStructValidation(func(sl validator.StructLevel) {
		m := sl.Current().Interface().(MQTTConfig)
		if m.Enabled && m.Broker == "" {
			sl.ReportError(m.Broker, "Broker", "broker", "required", "")
		}
	}, MQTTConfig{})
	v.RegisterStructValidation(func(sl validator.StructLevel) {
		p := sl.Current().Interface().(PushoverConfig)
		if !p.Enabled {
			return
		}
		if p.Token == "" {
			sl.ReportError(p.Token, "Token", "token", "required", "")
		}
		if p.UserKey == "" {
			sl.ReportError(p.UserKey, "UserKey", "user_key", "required", "")
		}
	}, PushoverConfig{})
	return v
}

// address accepts host or host:port, without scheme or path.
func address(fl validator.FieldLevel) bool {
	addr := fl.Field().String()
	if strings.ContainsAny(addr, "/ ") {
		return false
	}
	if !strings.Contains(addr, ":") {
		return addr != ""
	}
	host, port, err := net.SplitHostPort(addr)
	if err != nil || host == "" {
		return false
	}
	n, err := strconv.Atoi(port)
	return err == nil && n > 0 && n <= 65535
}
