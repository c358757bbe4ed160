package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/MicahParks/keyfunc"
	"github.com/labstack/echo-contrib/echoprometheus"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"github.com/davidarico/dungeon-crawler-chris-sub000/api"
	"github.com/davidarico/dungeon-crawler-chris-sub000/hub"
	"github.com/davidarico/dungeon-crawler-chris-sub000/internal/config"
	"github.com/davidarico/dungeon-crawler-chris-sub000/notifier"
	"github.com/davidarico/dungeon-crawler-chris-sub000/storage"
	"github.com/davidarico/dungeon-crawler-chris-sub000/subscription"
)

func main() {
	path := "config.yaml"
	if v, ok := os.LookupEnv("LIVE_CONFIG"); ok {
		path = v
	}
	cfg, err := config.New(path)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger := cfg.Logger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	hubs := hub.NewHolder(logger, hub.Config{DebugBroadcast: cfg.Hub.DebugBroadcast})

	routes, err := startRelay(ctx, cfg, logger, hubs)
	if err != nil {
		log.Fatalf("relay: %v", err)
	}
	defer routes.close()

	deps := api.Dependencies{Hubs: hubs, Publisher: routes.updates, Logger: logger}

	if cfg.Database.URL == "" {
		logger.Warn("DATABASE_URL not set; change notifier disabled")
	} else {
		n := notifier.New(listenerFactory(cfg, logger), routes.changes, logger, notifierConfig(cfg))
		deps.Notifier = n
		go n.Run(ctx)
	}

	if cfg.Auth.Enabled() {
		auth, err := newAuth(cfg.Auth)
		if err != nil {
			log.Fatalf("auth: %v", err)
		}
		deps.Auth = auth
	} else {
		logger.Warn("Auth0 not configured; live endpoints accept anonymous connections")
	}

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: cfg.HTTP.AllowOrigins,
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization, echo.HeaderContentEncoding},
	}))
	e.Use(echoprometheus.NewMiddleware("live"))
	e.GET("/metrics", echoprometheus.NewHandler())

	api.Register(e, deps, api.Config{
		SendQueue:        cfg.HTTP.SendQueue,
		HandshakeTimeout: cfg.HTTP.HandshakeTimeout,
		PingInterval:     cfg.HTTP.PingInterval,
		UpdatesToken:     cfg.Updates.Token,
	})

	go func() {
		if err := e.Start(":" + cfg.HTTP.Port); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("http: %v", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("http shutdown")
	}
}

// relayRoutes says where each source of change events is published.
type relayRoutes struct {
	// changes receives the notifier's events. Every instance listens to the
	// store itself, so these always stay on the local hub.
	changes notifier.Publisher
	// updates receives events posted to /updates, which reach one instance
	// only and are relayed to the rest.
	updates api.Publisher
	close   func()
}

// startRelay builds the routes for the configured relay mode. In redis and
// nats mode every instance also feeds its own hub from the relay.
func startRelay(ctx context.Context, cfg *config.Config, logger *log.Logger, hubs *hub.Holder) (relayRoutes, error) {
	local := relayRoutes{changes: hubs, updates: hubs, close: func() {}}
	switch cfg.Relay.Mode {
	case config.RelayRedis:
		opts, err := config.ParseRedisOptions(cfg.Redis.ConnectionString)
		if err != nil {
			return relayRoutes{}, err
		}
		rc := redis.NewClient(opts)
		if err := rc.Ping(ctx).Err(); err != nil {
			logger.WithError(err).Warn("redis not reachable yet")
		}
		go subscription.SubscribeUpdates(ctx, logger, rc, cfg.Relay.Channel, hubs)
		return relayRoutes{
			changes: hubs,
			updates: subscription.NewRedisRelay(rc, cfg.Relay.Channel),
			close:   func() { _ = rc.Close() },
		}, nil
	case config.RelayNATS:
		nc, err := subscription.ConnectNATS(subscription.NATSOptions{
			URL:                  cfg.NATS.URL,
			Name:                 "live-updates",
			MaxReconnects:        cfg.NATS.MaxReconnects,
			ReconnectWait:        cfg.NATS.ReconnectWait,
			RetryOnFailedConnect: true,
		}, logger)
		if err != nil {
			logger.WithError(err).Error("NATS relay unavailable; posted updates stay on this instance")
			return local, nil
		}
		if err := subscription.SubscribeNATS(ctx, logger, nc, cfg.Relay.Channel, hubs); err != nil {
			nc.Close()
			logger.WithError(err).Error("NATS relay unavailable; posted updates stay on this instance")
			return local, nil
		}
		return relayRoutes{
			changes: hubs,
			updates: subscription.NewNATSRelay(nc, cfg.Relay.Channel, logger),
			close:   nc.Close,
		}, nil
	default:
		return local, nil
	}
}

func notifierConfig(cfg *config.Config) notifier.Config {
	return notifier.Config{
		RetryDelay:        cfg.Notifier.RetryDelay,
		ConnectTimeout:    cfg.Notifier.ConnectTimeout,
		KeepaliveInterval: cfg.Notifier.KeepaliveInterval,
		KeepaliveTimeout:  cfg.Notifier.KeepaliveTimeout,
	}
}

func listenerFactory(cfg *config.Config, logger *log.Logger) func() notifier.Listener {
	dsn, channel := cfg.Database.URL, cfg.Notifier.Channel
	if cfg.Notifier.Driver == config.DriverPQ {
		return func() notifier.Listener { return storage.NewPQListener(dsn, channel, logger) }
	}
	return func() notifier.Listener { return storage.NewPgxListener(dsn, channel) }
}

func newAuth(a config.Auth) (*api.Auth, error) {
	if a.TestMode {
		return api.NewTestAuth([]byte(a.TestSecret), a.Audience, a.Issuer()), nil
	}
	jwks, err := keyfunc.Get(a.JWKSURL(), keyfunc.Options{})
	if err != nil {
		return nil, err
	}
	return api.NewAuth(jwks, a.Audience, a.Issuer()), nil
}
