package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/pos-device-bridge/internal/http/middleware"
)

// ServeWS godoc
// @ID          serveWS
// @Summary     Live event stream
// @Description Upgrades to a websocket. Devices are subscribed to their own channel; further channels are joined with {"action":"subscribe","channel":"..."}.
// @Tags        Events
// @Param       token  query  string  true  "Bearer token"
// @Success     101  {string}  string  "Switching Protocols"
// @Failure     401  {object}  handlers.ErrorResponse
// @Router      /ws [get]
func (h *Handlers) ServeWS(c *gin.Context) {
	claims, found := middleware.ClaimsFrom(c)
	if !found {
		fail(c, http.StatusUnauthorized, ErrCodeUnauthorized, "missing bearer token")
		return
	}
	conn, err := h.up.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		middleware.LoggerFrom(c).Warn().Err(err).Msg("websocket upgrade failed")
		c.Abort()
		return
	}
	h.hub.Serve(conn, claims)
}
