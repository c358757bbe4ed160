package hub

import (
	"context"
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/davidarico/dungeon-crawler-chris-sub000/domain"
	"github.com/davidarico/dungeon-crawler-chris-sub000/internal/consts"
)

// Conn is a live client connection as seen by the hub.
type Conn interface {
	ID() string
	// Send queues an encoded frame for delivery. It must not block; an error
	// means the connection is dead.
	Send(frame []byte) error
}

type Config struct {
	// DebugBroadcast sends every event to every connection as debug_update.
	DebugBroadcast bool
}

type Stats struct {
	Connections   int `json:"connections"`
	Topics        int `json:"topics"`
	Subscriptions int `json:"subscriptions"`
}

// Hub tracks topic membership of live connections and fans change events out
// to them.
type Hub struct {
	logger *log.Logger
	debug  bool

	mu     sync.Mutex
	topics map[string]map[Conn]struct{}
	conns  map[Conn]map[string]struct{}
	subs   int
}

func New(logger *log.Logger, cfg Config) *Hub {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Hub{
		logger: logger,
		debug:  cfg.DebugBroadcast,
		topics: make(map[string]map[Conn]struct{}),
		conns:  make(map[Conn]map[string]struct{}),
	}
}

// Register tracks a connection that has no subscriptions yet.
func (h *Hub) Register(c Conn) {
	h.mu.Lock()
	h.registerLocked(c)
	h.updateGaugesLocked()
	h.mu.Unlock()
}

func (h *Hub) registerLocked(c Conn) map[string]struct{} {
	set, ok := h.conns[c]
	if !ok {
		set = make(map[string]struct{})
		h.conns[c] = set
	}
	return set
}

// Subscribe adds c to topic. Subscribing twice is the same as once.
func (h *Hub) Subscribe(c Conn, topic string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set := h.registerLocked(c)
	if _, ok := set[topic]; ok {
		return
	}
	set[topic] = struct{}{}
	members, ok := h.topics[topic]
	if !ok {
		members = make(map[Conn]struct{})
		h.topics[topic] = members
	}
	members[c] = struct{}{}
	h.subs++
	h.updateGaugesLocked()
	h.logger.WithFields(log.Fields{"conn": c.ID(), "topic": topic}).Debug("subscribed")
}

// Unsubscribe removes c from topic; it is a no-op when c is not a member.
func (h *Hub) Unsubscribe(c Conn, topic string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.conns[c]
	if !ok {
		return
	}
	if _, ok := set[topic]; !ok {
		return
	}
	delete(set, topic)
	h.leaveLocked(c, topic)
	h.updateGaugesLocked()
	h.logger.WithFields(log.Fields{"conn": c.ID(), "topic": topic}).Debug("unsubscribed")
}

// Remove forgets c and every topic membership it holds.
func (h *Hub) Remove(c Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.removeLocked(c) {
		h.updateGaugesLocked()
	}
}

func (h *Hub) removeLocked(c Conn) bool {
	set, ok := h.conns[c]
	if !ok {
		return false
	}
	for topic := range set {
		h.leaveLocked(c, topic)
	}
	delete(h.conns, c)
	h.logger.WithFields(log.Fields{"conn": c.ID(), "topics": len(set)}).Debug("connection removed")
	return true
}

func (h *Hub) leaveLocked(c Conn, topic string) {
	members := h.topics[topic]
	if _, ok := members[c]; !ok {
		return
	}
	delete(members, c)
	h.subs--
	if len(members) == 0 {
		delete(h.topics, topic)
	}
}

// Publish delivers ev to every connection subscribed to one of its target
// topics and returns the number of connections it reached. A connection in
// several target topics receives the event once. Connections whose Send fails
// are removed.
func (h *Hub) Publish(ctx context.Context, ev domain.ChangeEvent) int {
	topics := domain.TargetTopics(ev)
	tel := newPublishTelemetry(ctx, h.logger, ev, topics)

	frame, err := domain.EncodeFrame(consts.EventPlayerUpdated, ev)
	if err != nil {
		tel.Finish(0, 0, err)
		return 0
	}
	var debugFrame []byte
	if h.debug {
		if debugFrame, err = domain.EncodeFrame(consts.EventDebugUpdate, ev); err != nil {
			h.logger.WithError(err).Warn("encode debug frame")
		}
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	delivered := make(map[Conn]struct{})
	failed := make(map[Conn]error)
	for _, topic := range topics {
		for c := range h.topics[topic] {
			if _, done := delivered[c]; done {
				continue
			}
			if _, dead := failed[c]; dead {
				continue
			}
			if err := c.Send(frame); err != nil {
				failed[c] = err
				continue
			}
			delivered[c] = struct{}{}
		}
	}
	if debugFrame != nil {
		for c := range h.conns {
			if _, dead := failed[c]; dead {
				continue
			}
			if err := c.Send(debugFrame); err != nil {
				delete(delivered, c)
				failed[c] = err
			}
		}
	}
	for c, sendErr := range failed {
		h.logger.WithError(sendErr).WithField("conn", c.ID()).Warn("send failed; dropping connection")
		h.removeLocked(c)
	}
	if len(failed) > 0 {
		h.updateGaugesLocked()
	}

	publishedTotal.Inc()
	deliveriesTotal.Add(float64(len(delivered)))
	sendFailuresTotal.Add(float64(len(failed)))
	tel.Finish(len(delivered), len(failed), nil)
	return len(delivered)
}

// Members reports how many connections are subscribed to topic.
func (h *Hub) Members(topic string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.topics[topic])
}

func (h *Hub) Stats() Stats {
	h.mu.Lock()
	defer h.mu.Unlock()
	return Stats{Connections: len(h.conns), Topics: len(h.topics), Subscriptions: h.subs}
}

func (h *Hub) updateGaugesLocked() {
	connectionsGauge.Set(float64(len(h.conns)))
	subscriptionsGauge.Set(float64(h.subs))
}
