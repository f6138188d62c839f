package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/pos-device-bridge/internal/http/middleware"
)

// ReplayResponse carries the events a client missed on one channel.
type ReplayResponse struct {
	Success bool             `json:"success" example:"true"`
	Channel string           `json:"channel" example:"device.12"`
	Since   time.Time        `json:"since"   example:"2024-05-01T10:00:00Z"`
	Count   int              `json:"count"   example:"2"`
	Events  []replayEventDoc `json:"events"`
}

// replayEventDoc mirrors services.ReplayEvent for the API docs.
type replayEventDoc struct {
	ID        uint           `json:"id"        example:"991"`
	Event     string         `json:"event"     example:"OrderCompleted"`
	Payload   map[string]any `json:"payload"   swaggertype:"object"`
	Timestamp time.Time      `json:"timestamp" example:"2024-05-01T10:00:03Z"`
}

// parseSince accepts RFC 3339 with or without fractional seconds.
func parseSince(raw string) (time.Time, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, false
	}
	return t.UTC(), true
}

// ReplayMissing godoc
// @ID          replayMissing
// @Summary     Replay missed events
// @Description Returns every event persisted on channel at or after since, oldest first. Safe to call repeatedly.
// @Tags        Events
// @Produce     json
// @Security    BearerAuth
//
// @Param       channel  query  string  true  "Channel name"             example(device.12)
// @Param       since    query  string  true  "RFC 3339 lower bound"      example(2024-05-01T10:00:00Z)
//
// @Success     200  {object}  handlers.ReplayResponse
// @Failure     400  {object}  handlers.ErrorResponse  "Missing or invalid parameters"
// @Failure     403  {object}  handlers.ErrorResponse  "Channel not visible to caller"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /events/missing [get]
func (h *Handlers) ReplayMissing(c *gin.Context) {
	channel := strings.TrimSpace(c.Query("channel"))
	if channel == "" {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "channel is required")
		return
	}
	since, valid := parseSince(c.Query("since"))
	if !valid {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "since must be an RFC 3339 timestamp")
		return
	}
	if claims, found := middleware.ClaimsFrom(c); found && !claims.CanSubscribe(channel) {
		fail(c, http.StatusForbidden, ErrCodeForbidden, "channel not visible to this device")
		return
	}

	events, err := h.events.Replay(c.Request.Context(), channel, since)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, gin.H{
		"success": true,
		"channel": channel,
		"since":   since,
		"count":   len(events),
		"events":  events,
	})
}
