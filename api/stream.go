package api

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"github.com/davidarico/dungeon-crawler-chris-sub000/domain"
	"github.com/davidarico/dungeon-crawler-chris-sub000/internal/consts"
)

// handleStream serves the topics named by the player and game query
// parameters as server-sent events. It is a read-only alternative to /ws.
func (s *server) handleStream(c echo.Context) error {
	user, err := s.authenticate(c)
	if err != nil {
		rejectedTotal.WithLabelValues("stream").Inc()
		return c.String(http.StatusUnauthorized, err.Error())
	}
	var topics []string
	if id := c.QueryParam("player"); id != "" {
		topics = append(topics, domain.PlayerTopic(id))
	}
	if id := c.QueryParam("game"); id != "" {
		topics = append(topics, domain.GameTopic(id))
	}
	if len(topics) == 0 {
		return c.String(http.StatusBadRequest, "player or game is required")
	}

	res := c.Response()
	res.Header().Set(echo.HeaderContentType, "text/event-stream")
	res.Header().Set(echo.HeaderCacheControl, "no-cache")
	res.Header().Set(echo.HeaderConnection, "keep-alive")
	res.Header().Set("X-Accel-Buffering", "no")
	flusher, ok := res.Writer.(http.Flusher)
	if !ok {
		return c.String(http.StatusInternalServerError, "stream unsupported")
	}
	res.WriteHeader(http.StatusOK)
	flusher.Flush()

	conn := newLiveConn(uuid.NewString(), user, s.cfg.SendQueue)
	h := s.deps.Hubs.Get()
	for _, topic := range topics {
		h.Subscribe(conn, topic)
	}
	defer func() {
		h.Remove(conn)
		conn.close()
	}()
	logger := s.logger.WithFields(log.Fields{"conn": conn.id, "user": user, "topics": topics})
	logger.Debug("stream opened")

	ctx := c.Request().Context()
	keepAlive := time.NewTicker(s.cfg.SSEKeepAlive)
	defer keepAlive.Stop()
	for {
		select {
		case <-ctx.Done():
			logger.Debug("stream closed")
			return nil
		case <-conn.done:
			logger.Warn("stream dropped by hub")
			return nil
		case <-keepAlive.C:
			if _, err := res.Write([]byte(consts.SSEKeepAlive)); err != nil {
				return nil
			}
			flusher.Flush()
		case raw := <-conn.send:
			frame, err := domain.DecodeFrame(raw)
			if err != nil {
				logger.WithError(err).Error("decode outgoing frame")
				continue
			}
			if err := writeEvent(res, frame); err != nil {
				logger.WithError(err).Debug("stream write failed")
				return nil
			}
			flusher.Flush()
		}
	}
}

func writeEvent(res *echo.Response, frame domain.Frame) error {
	buf := make([]byte, 0, len(consts.SSEEventPrefix)+len(frame.Event)+len(consts.SSEDataPrefix)+len(frame.Data)+3)
	buf = append(buf, consts.SSEEventPrefix...)
	buf = append(buf, frame.Event...)
	buf = append(buf, '\n')
	buf = append(buf, consts.SSEDataPrefix...)
	buf = append(buf, frame.Data...)
	buf = append(buf, '\n', '\n')
	_, err := res.Write(buf)
	return err
}
