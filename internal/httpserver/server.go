package httpserver

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog/log"

	"github.com/yoloerTH/MCP-VOICE-AGENT/internal/action"
	"github.com/yoloerTH/MCP-VOICE-AGENT/internal/ws"
)

// New builds the configured Echo instance with all routes registered.
func New(wsHandler *ws.Handler, bridge *action.Bridge) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	e.GET("/healthz", func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})

	e.GET("/ws", func(c echo.Context) error {
		wsHandler.ServeWS(c.Response(), c.Request())
		return nil
	})

	e.POST("/webhook/response", webhookResponse(bridge))

	return e
}

// webhookResponse receives the external executor's result. The callback is
// acknowledged immediately; correlation and the spoken reply happen after
// the response is written.
func webhookResponse(bridge *action.Bridge) echo.HandlerFunc {
	return func(c echo.Context) error {
		var res action.CallbackResult
		if err := c.Bind(&res); err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid payload"})
		}
		sess, err := bridge.Resolve(res.SessionID)
		if err != nil {
			return c.JSON(http.StatusNotFound, map[string]string{"error": "no matching session"})
		}
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			bridge.HandleCallback(ctx, sess, res)
		}()
		log.Debug().Str("session", sess.ID).Str("status", res.Status).Msg("webhook: result accepted")
		return c.JSON(http.StatusOK, map[string]string{"status": "received"})
	}
}
