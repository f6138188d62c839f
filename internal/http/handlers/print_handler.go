package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/pos-device-bridge/internal/domain"
	"github.com/tbourn/pos-device-bridge/internal/http/middleware"
	"github.com/tbourn/pos-device-bridge/internal/services"
	"github.com/tbourn/pos-device-bridge/internal/utils"
)

// PendingPrintResponse lists unacknowledged print jobs.
type PendingPrintResponse struct {
	Success bool                  `json:"success" example:"true"`
	Count   int                   `json:"count"   example:"1"`
	Jobs    []services.PendingJob `json:"jobs"`
}

// PrintEventResponse wraps one print job after a state change.
type PrintEventResponse struct {
	Success bool               `json:"success" example:"true"`
	Job     *domain.PrintEvent `json:"job"`
}

// FailPrintRequest is the body of a failure report.
type FailPrintRequest struct {
	Reason string `json:"reason" example:"paper out"`
}

// BulkPrintedRequest names orders a device printed locally.
type BulkPrintedRequest struct {
	IDs []uint `json:"ids" example:"1,2,3"`
}

// BulkPrintedResponse reports per-order outcomes.
type BulkPrintedResponse struct {
	Success bool                     `json:"success" example:"true"`
	Result  services.BulkPrintResult `json:"result"`
}

// ListPrintEvents godoc
// @ID          listPrintEvents
// @Summary     Fetch unacknowledged print jobs
// @Description Lists undelivered jobs whose retry time has come, each with its printable payload.
// @Tags        Print
// @Produce     json
// @Security    BearerAuth
//
// @Param       limit  query  int  false  "Max jobs"  minimum(1) maximum(500) default(100)
//
// @Success     200  {object}  handlers.PendingPrintResponse
// @Failure     401  {object}  handlers.ErrorResponse
// @Failure     403  {object}  handlers.ErrorResponse
// @Failure     500  {object}  handlers.ErrorResponse
// @Router      /print/events [get]
func (h *Handlers) ListPrintEvents(c *gin.Context) {
	limit := utils.ClampInt(utils.AtoiDefault(c.Query("limit"), 100), 1, 500)
	jobs, err := h.print.Pending(c.Request.Context(), limit)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, PendingPrintResponse{Success: true, Count: len(jobs), Jobs: jobs})
}

// AckPrintEvent godoc
// @ID          ackPrintEvent
// @Summary     Acknowledge a print job
// @Description Marks the job delivered and its order printed. Repeated acks succeed without changes.
// @Tags        Print
// @Produce     json
// @Security    BearerAuth
//
// @Param       id  path  int  true  "Print event ID"  example(17)
//
// @Success     200  {object}  handlers.PrintEventResponse
// @Failure     400  {object}  handlers.ErrorResponse
// @Failure     404  {object}  handlers.ErrorResponse
// @Router      /print/events/{id}/ack [post]
func (h *Handlers) AckPrintEvent(c *gin.Context) {
	id, valid := pathID(c, "id")
	if !valid {
		return
	}
	pe, err := h.print.Ack(c.Request.Context(), id)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, PrintEventResponse{Success: true, Job: pe})
}

// FailPrintEvent godoc
// @ID          failPrintEvent
// @Summary     Report a failed print attempt
// @Description Counts one failed attempt and schedules a retry with backoff. The job is escalated at the attempt cap; later reports return 409.
// @Tags        Print
// @Accept      json
// @Produce     json
// @Security    BearerAuth
//
// @Param       id    path  int                        true   "Print event ID"  example(17)
// @Param       body  body  handlers.FailPrintRequest  false  "Failure reason"
//
// @Success     200  {object}  handlers.PrintEventResponse
// @Failure     400  {object}  handlers.ErrorResponse
// @Failure     404  {object}  handlers.ErrorResponse
// @Failure     409  {object}  handlers.ErrorResponse  "Attempts exhausted"
// @Router      /print/events/{id}/fail [post]
func (h *Handlers) FailPrintEvent(c *gin.Context) {
	id, valid := pathID(c, "id")
	if !valid {
		return
	}
	var req FailPrintRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
			return
		}
	}
	pe, err := h.print.Fail(c.Request.Context(), id, strings.TrimSpace(req.Reason))
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, PrintEventResponse{Success: true, Job: pe})
}

// Heartbeat godoc
// @ID          printHeartbeat
// @Summary     Report device liveness
// @Description Records that the calling device is alive. Has no effect on print jobs.
// @Tags        Print
// @Security    BearerAuth
//
// @Success     204  {string}  string  "No Content"
// @Failure     400  {object}  handlers.ErrorResponse  "Token carries no device"
// @Failure     404  {object}  handlers.ErrorResponse
// @Router      /print/heartbeat [post]
func (h *Handlers) Heartbeat(c *gin.Context) {
	deviceID := middleware.DeviceIDFrom(c)
	if deviceID == 0 {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "heartbeat requires a device token")
		return
	}
	if err := h.print.Heartbeat(c.Request.Context(), deviceID); err != nil {
		failErr(c, err)
		return
	}
	noContent(c)
}

// MarkOrderPrinted godoc
// @ID          markOrderPrinted
// @Summary     Mark one order printed (legacy)
// @Description For devices that print locally without the relay.
// @Tags        Print
// @Produce     json
// @Security    BearerAuth
//
// @Param       id  path  int  true  "Device order ID"  example(42)
//
// @Success     200  {object}  handlers.SuccessResponse
// @Failure     403  {object}  handlers.ErrorResponse
// @Failure     404  {object}  handlers.ErrorResponse
// @Router      /orders/{id}/printed [post]
func (h *Handlers) MarkOrderPrinted(c *gin.Context) {
	id, valid := pathID(c, "id")
	if !valid {
		return
	}
	changed, err := h.print.MarkOrderPrinted(c.Request.Context(), middleware.DeviceIDFrom(c), id)
	if err != nil {
		failErr(c, err)
		return
	}
	msg := "order marked printed"
	if !changed {
		msg = "order already printed"
	}
	ok(c, http.StatusOK, SuccessResponse{Success: true, Message: msg})
}

// MarkOrdersPrinted godoc
// @ID          markOrdersPrinted
// @Summary     Mark several orders printed (legacy)
// @Description Each id is handled independently; failures are reported per id.
// @Tags        Print
// @Accept      json
// @Produce     json
// @Security    BearerAuth
//
// @Param       body  body  handlers.BulkPrintedRequest  true  "Order ids"
//
// @Success     200  {object}  handlers.BulkPrintedResponse
// @Failure     400  {object}  handlers.ErrorResponse
// @Router      /orders/printed [post]
func (h *Handlers) MarkOrdersPrinted(c *gin.Context) {
	var req BulkPrintedRequest
	if err := c.ShouldBindJSON(&req); err != nil || len(req.IDs) == 0 {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "ids must be a non-empty array")
		return
	}
	if len(req.IDs) > 500 {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "at most 500 ids per call")
		return
	}
	res := h.print.MarkOrdersPrinted(c.Request.Context(), middleware.DeviceIDFrom(c), req.IDs)
	ok(c, http.StatusOK, BulkPrintedResponse{Success: true, Result: res})
}
