package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	log "github.com/sirupsen/logrus"
)

func TestNewFromEnvDefaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://live@localhost/campaign")
	cfg, err := New(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Database.URL != "postgres://live@localhost/campaign" {
		t.Fatalf("unexpected database url %q", cfg.Database.URL)
	}
	if cfg.HTTP.Port != "9100" || cfg.HTTP.SendQueue != 64 || cfg.HTTP.PingInterval != 30*time.Second {
		t.Fatalf("unexpected http defaults %+v", cfg.HTTP)
	}
	if cfg.Notifier.Channel != "player_changes" || cfg.Notifier.RetryDelay != 5*time.Second {
		t.Fatalf("unexpected notifier defaults %+v", cfg.Notifier)
	}
	if cfg.Relay.Mode != RelayLocal || cfg.Hub.DebugBroadcast {
		t.Fatalf("unexpected relay/hub defaults %+v %+v", cfg.Relay, cfg.Hub)
	}
	if cfg.Auth.Enabled() {
		t.Fatal("auth should be disabled without Auth0 settings")
	}
}

func TestNewReadsFileAndEnvOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	body := strings.Join([]string{
		"http:",
		"  port: \"7000\"",
		"hub:",
		"  debug_broadcast: true",
		"notifier:",
		"  driver: pq",
		"relay:",
		"  mode: nats",
	}, "\n")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("LIVE_SERVER_PORT", "7100")

	cfg, err := New(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.HTTP.Port != "7100" {
		t.Fatalf("env should override file port, got %q", cfg.HTTP.Port)
	}
	if !cfg.Hub.DebugBroadcast || cfg.Notifier.Driver != DriverPQ || cfg.Relay.Mode != RelayNATS {
		t.Fatalf("file values not applied: %+v %+v %+v", cfg.Hub, cfg.Notifier, cfg.Relay)
	}
	if cfg.NATS.MaxReconnects != -1 {
		t.Fatalf("expected default NATS reconnects, got %d", cfg.NATS.MaxReconnects)
	}
}

func TestNewRejectsMalformedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("http: [port\n  :: not yaml"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := New(path); err == nil {
		t.Fatal("expected error for malformed config file")
	}
}

func TestValidate(t *testing.T) {
	base := func() Config {
		return Config{
			Log:      Log{Level: "info", Format: "text"},
			Notifier: Notifier{Driver: DriverPgx, Channel: "player_changes"},
			Relay:    Relay{Mode: RelayLocal},
		}
	}
	if err := (func() *Config { c := base(); return &c })().Validate(); err != nil {
		t.Fatalf("base config invalid: %v", err)
	}

	cases := map[string]func(*Config){
		"redis without connection": func(c *Config) { c.Relay.Mode = RelayRedis },
		"unknown relay":            func(c *Config) { c.Relay.Mode = "kafka" },
		"unknown driver":           func(c *Config) { c.Notifier.Driver = "mysql" },
		"empty channel":            func(c *Config) { c.Notifier.Channel = "" },
		"test mode without secret": func(c *Config) { c.Auth.TestMode = true },
		"domain without audience":  func(c *Config) { c.Auth.Domain = "tenant.auth0.com" },
		"bad log format":           func(c *Config) { c.Log.Format = "xml" },
		"bad log level":            func(c *Config) { c.Log.Level = "loud" },
	}
	for name, mutate := range cases {
		c := base()
		mutate(&c)
		if err := c.Validate(); err == nil {
			t.Fatalf("%s: expected validation error", name)
		}
	}
}

func TestAuthHelpers(t *testing.T) {
	a := Auth{Domain: "tenant.auth0.com", Audience: "api://live"}
	if !a.Enabled() {
		t.Fatal("expected auth enabled")
	}
	if a.Issuer() != "https://tenant.auth0.com/" {
		t.Fatalf("unexpected issuer %q", a.Issuer())
	}
	if a.JWKSURL() != "https://tenant.auth0.com/.well-known/jwks.json" {
		t.Fatalf("unexpected jwks url %q", a.JWKSURL())
	}
	if (Auth{TestMode: true}).Issuer() != "" {
		t.Fatal("test mode has no issuer")
	}
}

func TestLogger(t *testing.T) {
	cfg := Config{Log: Log{Level: "warn", Format: "json"}}
	logger := cfg.Logger()
	if logger.GetLevel() != log.WarnLevel {
		t.Fatalf("unexpected level %v", logger.GetLevel())
	}
	if _, ok := logger.Formatter.(*log.JSONFormatter); !ok {
		t.Fatalf("expected json formatter, got %T", logger.Formatter)
	}
	cfg.Log.Debug = true
	if cfg.Logger().GetLevel() != log.DebugLevel {
		t.Fatal("DEBUG should force debug level")
	}
}

func TestParseRedisOptions(t *testing.T) {
	opts, err := ParseRedisOptions("redis://:secret@cache:6380/2")
	if err != nil {
		t.Fatalf("parse url: %v", err)
	}
	if opts.Addr != "cache:6380" || opts.Password != "secret" || opts.DB != 2 {
		t.Fatalf("unexpected url options %+v", opts)
	}

	opts, err = ParseRedisOptions("live.redis.cache.windows.net:6380,password=abc=,ssl=True,abortConnect=False")
	if err != nil {
		t.Fatalf("parse pairs: %v", err)
	}
	if opts.Addr != "live.redis.cache.windows.net:6380" || opts.Password != "abc=" || opts.TLSConfig == nil {
		t.Fatalf("unexpected pair options %+v", opts)
	}

	if _, err := ParseRedisOptions("  "); err == nil {
		t.Fatal("expected error for empty string")
	}
}
