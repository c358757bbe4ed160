package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	log "github.com/sirupsen/logrus"
)

const (
	RelayLocal = "local"
	RelayRedis = "redis"
	RelayNATS  = "nats"

	DriverPgx = "pgx"
	DriverPQ  = "pq"
)

type Config struct {
	HTTP     HTTP     `yaml:"http"`
	Log      Log      `yaml:"log"`
	Database Database `yaml:"database"`
	Notifier Notifier `yaml:"notifier"`
	Hub      Hub      `yaml:"hub"`
	Relay    Relay    `yaml:"relay"`
	Redis    Redis    `yaml:"redis"`
	NATS     NATS     `yaml:"nats"`
	Auth     Auth     `yaml:"auth"`
	Updates  Updates  `yaml:"updates"`
}

type HTTP struct {
	Port             string        `yaml:"port" env:"LIVE_SERVER_PORT" env-default:"9100"`
	AllowOrigins     []string      `yaml:"allow_origins" env:"CORS_ALLOW_ORIGINS" env-default:"*"`
	ShutdownTimeout  time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT" env-default:"10s"`
	HandshakeTimeout time.Duration `yaml:"handshake_timeout" env:"WS_HANDSHAKE_TIMEOUT" env-default:"60s"`
	PingInterval     time.Duration `yaml:"ping_interval" env:"WS_PING_INTERVAL" env-default:"30s"`
	SendQueue        int           `yaml:"send_queue" env:"WS_SEND_QUEUE" env-default:"64"`
}

type Log struct {
	Level  string `yaml:"level" env:"LOG_LEVEL" env-default:"info"`
	Format string `yaml:"format" env:"LOG_FORMAT" env-default:"text"`
	Debug  bool   `yaml:"debug" env:"DEBUG"`
}

type Database struct {
	URL string `yaml:"url" env:"DATABASE_URL"`
}

type Notifier struct {
	Driver            string        `yaml:"driver" env:"NOTIFY_DRIVER" env-default:"pgx"`
	Channel           string        `yaml:"channel" env:"NOTIFY_CHANNEL" env-default:"player_changes"`
	RetryDelay        time.Duration `yaml:"retry_delay" env:"NOTIFY_RETRY_DELAY" env-default:"5s"`
	ConnectTimeout    time.Duration `yaml:"connect_timeout" env:"NOTIFY_CONNECT_TIMEOUT" env-default:"10s"`
	KeepaliveInterval time.Duration `yaml:"keepalive_interval" env:"NOTIFY_KEEPALIVE_INTERVAL" env-default:"30s"`
	KeepaliveTimeout  time.Duration `yaml:"keepalive_timeout" env:"NOTIFY_KEEPALIVE_TIMEOUT" env-default:"30s"`
}

type Hub struct {
	DebugBroadcast bool `yaml:"debug_broadcast" env:"HUB_DEBUG_BROADCAST"`
}

type Relay struct {
	Mode    string `yaml:"mode" env:"RELAY_MODE" env-default:"local"`
	Channel string `yaml:"channel" env:"RELAY_CHANNEL" env-default:"live-updates"`
}

type Redis struct {
	ConnectionString string `yaml:"connection_string" env:"REDIS_CONNECTION_STRING"`
}

type NATS struct {
	URL           string        `yaml:"url" env:"NATS_URL" env-default:"nats://localhost:4222"`
	MaxReconnects int           `yaml:"max_reconnects" env:"NATS_MAX_RECONNECTS" env-default:"-1"`
	ReconnectWait time.Duration `yaml:"reconnect_wait" env:"NATS_RECONNECT_WAIT" env-default:"2s"`
}

type Auth struct {
	Domain     string `yaml:"domain" env:"AUTH0_DOMAIN"`
	Audience   string `yaml:"audience" env:"AUTH0_AUDIENCE"`
	TestMode   bool   `yaml:"test_mode" env:"AUTH0_TEST_MODE"`
	TestSecret string `yaml:"test_secret" env:"TEST_JWT_SECRET"`
}

// Enabled reports whether connections must present a token.
func (a Auth) Enabled() bool { return a.TestMode || a.Domain != "" }

func (a Auth) Issuer() string {
	if a.Domain == "" {
		return ""
	}
	return "https://" + a.Domain + "/"
}

func (a Auth) JWKSURL() string {
	return fmt.Sprintf("https://%s/.well-known/jwks.json", a.Domain)
}

type Updates struct {
	Token string `yaml:"token" env:"UPDATES_TOKEN"`
}

// New reads path when it exists and lets environment variables override it.
// Without a file the configuration comes from the environment alone; a file
// that exists but cannot be read or parsed is an error.
func New(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		if err := cleanenv.ReadEnv(cfg); err != nil {
			return nil, fmt.Errorf("config error: %w", err)
		}
	} else if err := cleanenv.ReadConfig(path, cfg); err != nil {
		return nil, fmt.Errorf("config error: %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	var errs []error
	switch c.Relay.Mode {
	case RelayLocal, RelayNATS:
	case RelayRedis:
		if c.Redis.ConnectionString == "" {
			errs = append(errs, errors.New("REDIS_CONNECTION_STRING is required when RELAY_MODE=redis"))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported RELAY_MODE %q", c.Relay.Mode))
	}
	switch c.Notifier.Driver {
	case DriverPgx, DriverPQ:
	default:
		errs = append(errs, fmt.Errorf("unsupported NOTIFY_DRIVER %q", c.Notifier.Driver))
	}
	if c.Notifier.Channel == "" {
		errs = append(errs, errors.New("NOTIFY_CHANNEL must not be empty"))
	}
	if c.Auth.TestMode && c.Auth.TestSecret == "" {
		errs = append(errs, errors.New("TEST_JWT_SECRET must be set when AUTH0_TEST_MODE=1"))
	}
	if !c.Auth.TestMode && c.Auth.Domain != "" && c.Auth.Audience == "" {
		errs = append(errs, errors.New("AUTH0_AUDIENCE is required with AUTH0_DOMAIN"))
	}
	if c.Log.Format != "text" && c.Log.Format != "json" {
		errs = append(errs, fmt.Errorf("unsupported LOG_FORMAT %q", c.Log.Format))
	}
	if _, err := log.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, fmt.Errorf("LOG_LEVEL: %w", err))
	}
	return errors.Join(errs...)
}

// Logger builds the process logger from the log section.
func (c *Config) Logger() *log.Logger {
	logger := log.New()
	if c.Log.Format == "json" {
		logger.SetFormatter(&log.JSONFormatter{})
	} else {
		logger.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	}
	level, err := log.ParseLevel(c.Log.Level)
	if err != nil {
		level = log.InfoLevel
	}
	if c.Log.Debug {
		level = log.DebugLevel
	}
	logger.SetLevel(level)
	return logger
}
