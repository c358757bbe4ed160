// Package client keeps a live websocket feed of change events for one player
// or one game, resubscribing after every reconnect.
package client

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"

	"github.com/davidarico/dungeon-crawler-chris-sub000/domain"
	"github.com/davidarico/dungeon-crawler-chris-sub000/internal/consts"
)

type Kind int

const (
	KindPlayer Kind = iota
	KindGame
)

const writeWait = 10 * time.Second

type Options struct {
	Dialer *websocket.Dialer
	Header http.Header
	Logger *log.Logger

	// MaxAttempts bounds one automatic reconnect cycle. The delay between
	// attempts doubles from MinDelay up to MaxDelay.
	MaxAttempts int
	MinDelay    time.Duration
	MaxDelay    time.Duration
	// ManualReconnectDelay is how long an exhausted channel waits for
	// Reconnect before starting a new cycle on its own.
	ManualReconnectDelay time.Duration
	// ReadTimeout is how long a connection may stay silent, pings included,
	// before it is treated as lost. The server pings every 30s.
	ReadTimeout time.Duration

	// Debounce collapses bursts of events into one OnEvent call carrying the
	// latest event. A negative value calls OnEvent synchronously.
	Debounce time.Duration
	OnEvent  func(domain.ChangeEvent)
	OnStatus func(connected bool)
}

func (o Options) withDefaults() Options {
	if o.Dialer == nil {
		o.Dialer = websocket.DefaultDialer
	}
	if o.Logger == nil {
		o.Logger = log.StandardLogger()
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 10
	}
	if o.MinDelay <= 0 {
		o.MinDelay = time.Second
	}
	if o.MaxDelay < o.MinDelay {
		o.MaxDelay = max(5*time.Second, o.MinDelay)
	}
	if o.ManualReconnectDelay <= 0 {
		o.ManualReconnectDelay = 30 * time.Second
	}
	if o.ReadTimeout <= 0 {
		o.ReadTimeout = 60 * time.Second
	}
	if o.Debounce == 0 {
		o.Debounce = 100 * time.Millisecond
	}
	return o
}

// Channel is one session's view of the broadcast hub.
type Channel struct {
	url    string
	kind   Kind
	opts   Options
	logger *log.Entry

	// lastTimestamp is the dedup marker. It is written only by the reader
	// and never triggers OnEvent or OnStatus itself.
	lastTimestamp atomic.Value
	connected     atomic.Bool

	mu       sync.Mutex
	id       string
	conn     *websocket.Conn
	last     *domain.ChangeEvent
	byEntity map[string]domain.ChangeEvent

	reconnect chan struct{}
	closed    chan struct{}
	closeOnce sync.Once
	debounce  *debouncer
}

// NewPlayerChannel follows the topic of a single player. id may be empty
// until the player is known; see SetID.
func NewPlayerChannel(url, id string, opts Options) *Channel {
	return newChannel(url, KindPlayer, id, opts)
}

// NewGameChannel follows every player of a game and keeps the latest event
// per player.
func NewGameChannel(url, id string, opts Options) *Channel {
	return newChannel(url, KindGame, id, opts)
}

func newChannel(url string, kind Kind, id string, opts Options) *Channel {
	opts = opts.withDefaults()
	c := &Channel{
		url:       url,
		kind:      kind,
		opts:      opts,
		id:        id,
		reconnect: make(chan struct{}, 1),
		closed:    make(chan struct{}),
		debounce:  newDebouncer(opts.Debounce, opts.OnEvent),
	}
	if kind == KindGame {
		c.byEntity = make(map[string]domain.ChangeEvent)
	}
	c.logger = opts.Logger.WithFields(log.Fields{"url": url, "kind": kind.String()})
	c.lastTimestamp.Store("")
	return c
}

func (k Kind) String() string {
	if k == KindGame {
		return "game"
	}
	return "player"
}

func (k Kind) events() (subscribe, unsubscribe string) {
	if k == KindGame {
		return consts.EventSubscribeGame, consts.EventUnsubscribeGame
	}
	return consts.EventSubscribePlayer, consts.EventUnsubscribePlayer
}

// Topic is the hub topic the channel currently follows, or "" when idle.
func (c *Channel) Topic() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.id == "" {
		return ""
	}
	if c.kind == KindGame {
		return domain.GameTopic(c.id)
	}
	return domain.PlayerTopic(c.id)
}

func (c *Channel) Connected() bool { return c.connected.Load() }

// LastEvent returns the most recent event forwarded by the channel.
func (c *Channel) LastEvent() (domain.ChangeEvent, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.last == nil {
		return domain.ChangeEvent{}, false
	}
	return *c.last, true
}

// EventsByEntity maps each player to the latest event seen for them. It is
// only populated by game channels.
func (c *Channel) EventsByEntity() map[string]domain.ChangeEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]domain.ChangeEvent, len(c.byEntity))
	for k, v := range c.byEntity {
		out[k] = v
	}
	return out
}

// SetID switches the followed identifier. The old topic is left before the
// new one is joined; an empty id leaves the channel idle.
func (c *Channel) SetID(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if id == c.id {
		return
	}
	old := c.id
	c.id = id
	if c.conn == nil {
		return
	}
	subscribe, unsubscribe := c.kind.events()
	if old != "" {
		c.sendLocked(unsubscribe, old)
	}
	if id != "" {
		c.sendLocked(subscribe, id)
	}
}

// Reconnect drops the current connection, if any, and wakes a channel that
// is waiting between attempts.
func (c *Channel) Reconnect() {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn != nil {
		conn.Close()
	}
	select {
	case c.reconnect <- struct{}{}:
	default:
	}
}

// Close leaves the current topic and stops Run.
func (c *Channel) Close() {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		if c.conn != nil && c.id != "" {
			_, unsubscribe := c.kind.events()
			c.sendLocked(unsubscribe, c.id)
		}
		c.mu.Unlock()
		close(c.closed)
		c.debounce.stop()
	})
}

// Run keeps the channel connected until ctx is done or Close is called.
// Connection failures are logged and reflected in Connected only.
func (c *Channel) Run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-c.closed:
			cancel()
		case <-ctx.Done():
		}
	}()

	var attempts int
	delay := c.opts.MinDelay
	for ctx.Err() == nil {
		conn, err := c.dial(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			attempts++
			c.logger.WithError(err).WithField("attempt", attempts).Warn("live connection failed")
			if attempts >= c.opts.MaxAttempts {
				c.logger.WithField("wait", c.opts.ManualReconnectDelay).Error("reconnect attempts exhausted; waiting for manual reconnect")
				if !c.wait(ctx, c.opts.ManualReconnectDelay) {
					return
				}
				attempts = 0
				delay = c.opts.MinDelay
				continue
			}
			if !c.wait(ctx, delay) {
				return
			}
			delay = min(delay*2, c.opts.MaxDelay)
			continue
		}
		attempts = 0
		delay = c.opts.MinDelay
		c.serve(ctx, conn)
		if !c.wait(ctx, c.opts.MinDelay) {
			return
		}
	}
}

// wait sleeps for d, returning early on Reconnect. It reports false once the
// channel should stop.
func (c *Channel) wait(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-c.reconnect:
	case <-t.C:
	}
	return ctx.Err() == nil
}

func (c *Channel) dial(ctx context.Context) (*websocket.Conn, error) {
	conn, resp, err := c.opts.Dialer.DialContext(ctx, c.url, c.opts.Header)
	if err != nil {
		if resp != nil && resp.Body != nil {
			resp.Body.Close()
		}
		return nil, err
	}
	return conn, nil
}

func (c *Channel) serve(ctx context.Context, conn *websocket.Conn) {
	c.mu.Lock()
	c.conn = conn
	if c.id != "" {
		subscribe, _ := c.kind.events()
		c.sendLocked(subscribe, c.id)
	}
	c.mu.Unlock()
	c.setConnected(true)
	c.logger.Info("live connection established")

	stop := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
			_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
			conn.Close()
		case <-stop:
		}
	}()

	conn.SetReadDeadline(time.Now().Add(c.opts.ReadTimeout))
	conn.SetPingHandler(func(appData string) error {
		conn.SetReadDeadline(time.Now().Add(c.opts.ReadTimeout))
		err := conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(writeWait))
		if err != nil && !errors.Is(err, websocket.ErrCloseSent) {
			return err
		}
		return nil
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				c.logger.WithError(err).Warn("live connection lost")
			}
			break
		}
		conn.SetReadDeadline(time.Now().Add(c.opts.ReadTimeout))
		frame, err := domain.DecodeFrame(data)
		if err != nil {
			c.logger.WithError(err).Debug("ignoring malformed frame")
			continue
		}
		if frame.Event != consts.EventPlayerUpdated {
			continue
		}
		ev, err := frame.ChangeEvent()
		if err != nil {
			c.logger.WithError(err).Debug("ignoring malformed change event")
			continue
		}
		c.deliver(ev)
	}
	close(stop)

	c.mu.Lock()
	if c.conn == conn {
		c.conn = nil
	}
	c.mu.Unlock()
	conn.Close()
	c.setConnected(false)
}

func (c *Channel) sendLocked(event, id string) {
	frame, err := domain.EncodeFrame(event, id)
	if err != nil {
		c.logger.WithError(err).Error("encode frame")
		return
	}
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		c.logger.WithError(err).WithField("event", event).Warn("send frame")
	}
}

func (c *Channel) setConnected(v bool) {
	if c.connected.Swap(v) == v {
		return
	}
	if c.opts.OnStatus != nil {
		c.opts.OnStatus(v)
	}
}

// deliver forwards ev unless it belongs to another topic or repeats the
// timestamp of the previously forwarded event.
func (c *Channel) deliver(ev domain.ChangeEvent) bool {
	c.mu.Lock()
	id := c.id
	c.mu.Unlock()
	if id == "" {
		return false
	}
	if c.kind == KindGame && ev.GameID != id {
		return false
	}
	if c.kind == KindPlayer && ev.EntityID != id {
		return false
	}
	if ev.Timestamp != "" {
		if c.lastTimestamp.Load().(string) == ev.Timestamp {
			c.logger.WithField("timestamp", ev.Timestamp).Debug("duplicate event dropped")
			return false
		}
		c.lastTimestamp.Store(ev.Timestamp)
	}

	c.mu.Lock()
	c.last = &ev
	if c.byEntity != nil && ev.EntityID != "" {
		c.byEntity[ev.EntityID] = ev
	}
	c.mu.Unlock()
	c.debounce.trigger(ev)
	return true
}
