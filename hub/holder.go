package hub

import (
	"context"
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/davidarico/dungeon-crawler-chris-sub000/domain"
)

// Holder owns the process-wide Hub. The hub is built on first use and the
// same instance is returned for the lifetime of the holder.
type Holder struct {
	logger *log.Logger
	cfg    Config

	once sync.Once
	hub  *Hub
}

func NewHolder(logger *log.Logger, cfg Config) *Holder {
	return &Holder{logger: logger, cfg: cfg}
}

func (h *Holder) Get() *Hub {
	h.once.Do(func() {
		h.hub = New(h.logger, h.cfg)
		h.hub.logger.WithField("debug_broadcast", h.cfg.DebugBroadcast).Info("broadcast hub initialized")
	})
	return h.hub
}

// Publish forwards ev to the hub. It never fails; the error return lets the
// holder stand in for any event sink.
func (h *Holder) Publish(ctx context.Context, ev domain.ChangeEvent) error {
	h.Get().Publish(ctx, ev)
	return nil
}
