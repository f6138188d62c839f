package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/pos-device-bridge/internal/domain"
)

// RegisterDeviceRequest is the body of a device registration.
type RegisterDeviceRequest struct {
	Name string `json:"name" example:"tablet-7"`
	Kind string `json:"kind" example:"ORDERING" enums:"ORDERING,KITCHEN,RELAY"`
}

// RegisterDeviceResponse returns the new device and its bearer token.
type RegisterDeviceResponse struct {
	Success bool           `json:"success" example:"true"`
	Device  *domain.Device `json:"device"`
	Token   string         `json:"token"`
}

// ControlRequest is an operator command for one device.
type ControlRequest struct {
	Action  string `json:"action"  example:"reload"`
	Message string `json:"message" example:"menu updated"`
}

// SessionResetResponse reports the version stamped on a session reset.
type SessionResetResponse struct {
	Success   bool  `json:"success"    example:"true"`
	SessionID uint  `json:"session_id" example:"7"`
	Version   int64 `json:"version"    example:"1714557600000"`
}

// RegisterDevice godoc
// @ID          registerDevice
// @Summary     Register a device
// @Description Creates an active device and returns a signed bearer token for it.
// @Tags        Admin
// @Accept      json
// @Produce     json
// @Security    BearerAuth
//
// @Param       body  body  handlers.RegisterDeviceRequest  true  "Device"
//
// @Success     201  {object}  handlers.RegisterDeviceResponse
// @Failure     400  {object}  handlers.ErrorResponse
// @Failure     403  {object}  handlers.ErrorResponse
// @Router      /admin/devices [post]
func (h *Handlers) RegisterDevice(c *gin.Context) {
	var req RegisterDeviceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}
	kind := domain.DeviceKind(strings.ToUpper(strings.TrimSpace(req.Kind)))
	d, tok, err := h.devices.Register(c.Request.Context(), req.Name, kind)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusCreated, RegisterDeviceResponse{Success: true, Device: d, Token: tok})
}

// SendControl godoc
// @ID          sendDeviceControl
// @Summary     Send a control command to a device
// @Description Publishes device.control on the device's channel; the command is replayable if the device is offline.
// @Tags        Admin
// @Accept      json
// @Produce     json
// @Security    BearerAuth
//
// @Param       id    path  int                      true  "Device ID"  example(12)
// @Param       body  body  handlers.ControlRequest  true  "Command"
//
// @Success     202  {object}  handlers.SuccessResponse
// @Failure     400  {object}  handlers.ErrorResponse
// @Failure     404  {object}  handlers.ErrorResponse
// @Router      /admin/devices/{id}/control [post]
func (h *Handlers) SendControl(c *gin.Context) {
	id, valid := pathID(c, "id")
	if !valid {
		return
	}
	var req ControlRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Action) == "" {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "action is required")
		return
	}
	if err := h.devices.SendControl(c.Request.Context(), id, strings.TrimSpace(req.Action), req.Message); err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusAccepted, SuccessResponse{Success: true, Message: "control queued"})
}

// ResetSession godoc
// @ID          resetSession
// @Summary     Reset a session
// @Description Drops the cached operating context and tells devices on the session channel to reload.
// @Tags        Admin
// @Produce     json
// @Security    BearerAuth
//
// @Param       id  path  int  true  "Session ID"  example(7)
//
// @Success     202  {object}  handlers.SessionResetResponse
// @Failure     400  {object}  handlers.ErrorResponse
// @Router      /admin/sessions/{id}/reset [post]
func (h *Handlers) ResetSession(c *gin.Context) {
	id, valid := pathID(c, "id")
	if !valid {
		return
	}
	version, err := h.devices.ResetSession(c.Request.Context(), id)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusAccepted, SessionResetResponse{Success: true, SessionID: id, Version: version})
}
