package api

import (
	"crypto/subtle"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/davidarico/dungeon-crawler-chris-sub000/domain"
)

const maxUpdateBody = 64 << 10

// handleUpdate accepts a raw change notification from a trusted service and
// publishes it exactly as if it had arrived from the store.
func (s *server) handleUpdate(c echo.Context) error {
	authHeader := c.Request().Header.Get(echo.HeaderAuthorization)
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || parts[0] != "Bearer" ||
		subtle.ConstantTimeCompare([]byte(parts[1]), []byte(s.cfg.UpdatesToken)) != 1 {
		rejectedTotal.WithLabelValues("updates").Inc()
		return c.NoContent(http.StatusUnauthorized)
	}

	body, err := io.ReadAll(io.LimitReader(c.Request().Body, maxUpdateBody+1))
	if err != nil {
		return c.NoContent(http.StatusBadRequest)
	}
	if len(body) > maxUpdateBody {
		return c.NoContent(http.StatusRequestEntityTooLarge)
	}
	ev, err := domain.ParseNotification(body)
	if err != nil {
		return c.String(http.StatusBadRequest, err.Error())
	}
	if err := s.deps.Publisher.Publish(c.Request().Context(), ev); err != nil {
		s.logger.WithError(err).WithField("entity_id", ev.EntityID).Error("publish posted update")
		return c.NoContent(http.StatusServiceUnavailable)
	}
	return c.NoContent(http.StatusAccepted)
}

// decompressBody inflates gzip request bodies with echo's Decompress and
// answers 400 when the body is not valid gzip.
func decompressBody() echo.MiddlewareFunc {
	decompress := middleware.Decompress()
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			var reached bool
			err := decompress(func(c echo.Context) error {
				reached = true
				return next(c)
			})(c)
			var httpErr *echo.HTTPError
			if err != nil && !reached && !errors.As(err, &httpErr) {
				rejectedTotal.WithLabelValues("updates").Inc()
				return c.String(http.StatusBadRequest, "invalid gzip body")
			}
			return err
		}
	}
}
