package api

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"cookbook-connect/broker"
	"cookbook-connect/internal/consts"
)

// stream serves one live topic subscription as a server-sent event stream.
// Each published event becomes one data frame; the subscription is
// cancelled as soon as the client disconnects.
func stream(subscribe func(echo.Context) *broker.Subscription) echo.HandlerFunc {
	return func(c echo.Context) error {
		c.Response().Header().Set(echo.HeaderContentType, "text/event-stream")
		c.Response().Header().Set(echo.HeaderCacheControl, "no-cache")
		c.Response().Header().Set(echo.HeaderConnection, "keep-alive")
		c.Response().Header().Set("X-Accel-Buffering", "no")
		flusher, ok := c.Response().Writer.(http.Flusher)
		if !ok {
			return c.String(http.StatusInternalServerError, "stream unsupported")
		}
		c.Response().WriteHeader(http.StatusOK)
		flusher.Flush()

		sub := subscribe(c)
		defer sub.Cancel()
		ctx := c.Request().Context()
		for {
			select {
			case <-ctx.Done():
				return nil
			case data, open := <-sub.C:
				if !open {
					return nil
				}
				if _, err := c.Response().Write([]byte(consts.SSEDataPrefix)); err != nil {
					return nil
				}
				if _, err := c.Response().Write(data); err != nil {
					return nil
				}
				if _, err := c.Response().Write([]byte("\n\n")); err != nil {
					return nil
				}
				flusher.Flush()
			}
		}
	}
}
