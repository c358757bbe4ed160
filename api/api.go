package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"github.com/davidarico/dungeon-crawler-chris-sub000/domain"
	"github.com/davidarico/dungeon-crawler-chris-sub000/hub"
	"github.com/davidarico/dungeon-crawler-chris-sub000/notifier"
)

// Authenticator resolves the caller of a request. A nil Authenticator lets
// every caller in anonymously.
type Authenticator interface {
	UserIDFromAuthHeader(string) (string, error)
}

// Publisher receives events posted to /updates.
type Publisher interface {
	Publish(ctx context.Context, ev domain.ChangeEvent) error
}

type NotifierStatus interface {
	Status() notifier.Status
}

type Dependencies struct {
	Hubs      *hub.Holder
	Publisher Publisher
	Auth      Authenticator
	Notifier  NotifierStatus
	Logger    *log.Logger
}

type Config struct {
	SendQueue        int
	HandshakeTimeout time.Duration
	PingInterval     time.Duration
	// PongWait is how long a connection may stay silent before it is
	// considered dead. It must exceed PingInterval.
	PongWait       time.Duration
	WriteWait      time.Duration
	MaxMessageSize int64
	SSEKeepAlive   time.Duration
	UpdatesToken   string
}

func DefaultConfig() Config {
	return Config{
		SendQueue:        64,
		HandshakeTimeout: 60 * time.Second,
		PingInterval:     30 * time.Second,
		PongWait:         60 * time.Second,
		WriteWait:        10 * time.Second,
		MaxMessageSize:   4096,
		SSEKeepAlive:     15 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.SendQueue <= 0 {
		c.SendQueue = d.SendQueue
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = d.HandshakeTimeout
	}
	if c.PingInterval <= 0 {
		c.PingInterval = d.PingInterval
	}
	if c.PongWait <= c.PingInterval {
		c.PongWait = c.PingInterval + 30*time.Second
	}
	if c.WriteWait <= 0 {
		c.WriteWait = d.WriteWait
	}
	if c.MaxMessageSize <= 0 {
		c.MaxMessageSize = d.MaxMessageSize
	}
	if c.SSEKeepAlive <= 0 {
		c.SSEKeepAlive = d.SSEKeepAlive
	}
	return c
}

type server struct {
	deps     Dependencies
	cfg      Config
	logger   *log.Logger
	upgrader websocket.Upgrader
}

// Register wires the live endpoints on the given Echo instance. /updates is
// only served when an updates token is configured.
func Register(e *echo.Echo, deps Dependencies, cfg Config) {
	cfg = cfg.withDefaults()
	logger := deps.Logger
	if logger == nil {
		logger = log.StandardLogger()
	}
	if deps.Publisher == nil {
		deps.Publisher = deps.Hubs
	}
	s := &server{
		deps:   deps,
		cfg:    cfg,
		logger: logger,
		upgrader: websocket.Upgrader{
			HandshakeTimeout: cfg.HandshakeTimeout,
			ReadBufferSize:   1024,
			WriteBufferSize:  1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}

	e.GET("/ws", s.handleWS)
	e.GET("/stream", s.handleStream)
	e.GET("/healthz", s.handleHealth)
	if cfg.UpdatesToken != "" {
		e.POST("/updates", s.handleUpdate, decompressBody())
	}
}

// authenticate returns the caller's user id, or "" when auth is disabled.
// Browsers cannot set headers on websocket or EventSource requests, so the
// token query parameter is accepted too.
func (s *server) authenticate(c echo.Context) (string, error) {
	if s.deps.Auth == nil {
		return "", nil
	}
	authHeader := c.Request().Header.Get(echo.HeaderAuthorization)
	if token := c.QueryParam("token"); authHeader == "" && token != "" {
		authHeader = "Bearer " + token
	}
	return s.deps.Auth.UserIDFromAuthHeader(authHeader)
}

func (s *server) handleHealth(c echo.Context) error {
	resp := struct {
		Status   string           `json:"status"`
		Hub      hub.Stats        `json:"hub"`
		Notifier *notifier.Status `json:"notifier,omitempty"`
	}{Status: "ok", Hub: s.deps.Hubs.Get().Stats()}
	if s.deps.Notifier != nil {
		st := s.deps.Notifier.Status()
		resp.Notifier = &st
	}
	return c.JSON(http.StatusOK, resp)
}
