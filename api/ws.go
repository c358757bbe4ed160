package api

import (
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"github.com/davidarico/dungeon-crawler-chris-sub000/domain"
	"github.com/davidarico/dungeon-crawler-chris-sub000/hub"
	"github.com/davidarico/dungeon-crawler-chris-sub000/internal/consts"
)

var (
	errConnClosed    = errors.New("connection closed")
	errSendQueueFull = errors.New("send queue full")
)

// liveConn is a websocket or event-stream client as seen by the hub. Frames
// are queued and drained by a single writer goroutine so per-connection order
// is kept.
type liveConn struct {
	id   string
	user string
	send chan []byte
	done chan struct{}
	once sync.Once
}

func newLiveConn(id, user string, queue int) *liveConn {
	return &liveConn{id: id, user: user, send: make(chan []byte, queue), done: make(chan struct{})}
}

func (c *liveConn) ID() string { return c.id }

// Send queues frame without blocking. A full queue closes the connection.
func (c *liveConn) Send(frame []byte) error {
	select {
	case <-c.done:
		return errConnClosed
	default:
	}
	select {
	case c.send <- frame:
		return nil
	default:
		c.close()
		return errSendQueueFull
	}
}

func (c *liveConn) close() {
	c.once.Do(func() { close(c.done) })
}

func (s *server) handleWS(c echo.Context) error {
	user, err := s.authenticate(c)
	if err != nil {
		rejectedTotal.WithLabelValues("ws").Inc()
		return c.String(http.StatusUnauthorized, err.Error())
	}
	ws, err := s.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		s.logger.WithError(err).Warn("websocket upgrade failed")
		return nil
	}

	conn := newLiveConn(uuid.NewString(), user, s.cfg.SendQueue)
	h := s.deps.Hubs.Get()
	h.Register(conn)
	logger := s.logger.WithFields(log.Fields{"conn": conn.id, "user": user})
	logger.Debug("websocket connected")

	go s.writePump(ws, conn, logger)
	s.readPump(ws, conn, h, logger)

	h.Remove(conn)
	conn.close()
	logger.Debug("websocket disconnected")
	return nil
}

func (s *server) readPump(ws *websocket.Conn, conn *liveConn, h *hub.Hub, logger *log.Entry) {
	ws.SetReadLimit(s.cfg.MaxMessageSize)
	ws.SetReadDeadline(time.Now().Add(s.cfg.PongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(s.cfg.PongWait))
	})
	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.WithError(err).Debug("websocket read failed")
			}
			return
		}
		ws.SetReadDeadline(time.Now().Add(s.cfg.PongWait))
		s.dispatch(h, conn, data, logger)
	}
}

func (s *server) dispatch(h *hub.Hub, conn *liveConn, data []byte, logger *log.Entry) {
	frame, err := domain.DecodeFrame(data)
	if err != nil {
		framesTotal.WithLabelValues("malformed").Inc()
		logger.WithError(err).Debug("discarding malformed frame")
		return
	}
	id, err := frame.StringData()
	if err != nil || id == "" {
		framesTotal.WithLabelValues("malformed").Inc()
		logger.WithField("event", frame.Event).Debug("discarding frame without id")
		return
	}

	switch frame.Event {
	case consts.EventSubscribePlayer:
		h.Subscribe(conn, domain.PlayerTopic(id))
	case consts.EventSubscribeGame:
		h.Subscribe(conn, domain.GameTopic(id))
	case consts.EventUnsubscribePlayer:
		h.Unsubscribe(conn, domain.PlayerTopic(id))
	case consts.EventUnsubscribeGame:
		h.Unsubscribe(conn, domain.GameTopic(id))
	default:
		framesTotal.WithLabelValues("unknown").Inc()
		logger.WithField("event", frame.Event).Debug("discarding unknown event")
		return
	}
	framesTotal.WithLabelValues(frame.Event).Inc()
}

func (s *server) writePump(ws *websocket.Conn, conn *liveConn, logger *log.Entry) {
	ticker := time.NewTicker(s.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		ws.Close()
	}()
	for {
		select {
		case frame := <-conn.send:
			ws.SetWriteDeadline(time.Now().Add(s.cfg.WriteWait))
			if err := ws.WriteMessage(websocket.TextMessage, frame); err != nil {
				logger.WithError(err).Debug("websocket write failed")
				conn.close()
				return
			}
		case <-ticker.C:
			ws.SetWriteDeadline(time.Now().Add(s.cfg.WriteWait))
			if err := ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				logger.WithError(err).Debug("websocket ping failed")
				conn.close()
				return
			}
		case <-conn.done:
			msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
			_ = ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(s.cfg.WriteWait))
			return
		}
	}
}
