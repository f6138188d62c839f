package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/pos-device-bridge/internal/domain"
	"github.com/tbourn/pos-device-bridge/internal/http/middleware"
	"github.com/tbourn/pos-device-bridge/internal/services"
)

// OrderResponse wraps a device order.
type OrderResponse struct {
	Success  bool                `json:"success"            example:"true"`
	Replayed bool                `json:"replayed,omitempty" example:"false"`
	Order    *domain.DeviceOrder `json:"order"`
}

// ItemResponse wraps an order item after a status change.
type ItemResponse struct {
	Success bool                    `json:"success" example:"true"`
	Item    *domain.DeviceOrderItem `json:"item"`
}

// RefillRequest is the body of a refill round.
type RefillRequest struct {
	Items []services.OrderItemInput `json:"items"`
}

// StatusRequest carries a target status for an order or an item.
type StatusRequest struct {
	Status string `json:"status" example:"IN_PROGRESS"`
}

// CreateOrder godoc
// @ID          createOrder
// @Summary     Create an order
// @Description Opens an order in the POS engine and mirrors it for the calling device. A repeated Idempotency-Key returns the original order with 200.
// @Tags        Orders
// @Accept      json
// @Produce     json
// @Security    BearerAuth
//
// @Param       Idempotency-Key  header  string                     false  "Retry-safe creation key"  example(tablet-7:0001)
// @Param       body             body    services.CreateOrderInput  true   "Order"
//
// @Success     201  {object}  handlers.OrderResponse
// @Success     200  {object}  handlers.OrderResponse  "Idempotent replay"
// @Failure     400  {object}  handlers.ErrorResponse
// @Failure     429  {object}  handlers.ErrorResponse
// @Failure     502  {object}  handlers.ErrorResponse  "POS engine failure"
// @Failure     503  {object}  handlers.ErrorResponse  "No active session"
// @Router      /orders [post]
func (h *Handlers) CreateOrder(c *gin.Context) {
	var in services.CreateOrderInput
	if err := c.ShouldBindJSON(&in); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}
	key, _ := middleware.GetIdempotencyKey(c)

	o, replayed, err := h.orders.Create(c.Request.Context(), middleware.DeviceIDFrom(c), key, in)
	if err != nil {
		failErr(c, err)
		return
	}
	status := http.StatusCreated
	if replayed {
		status = http.StatusOK
		c.Header("Idempotent-Replay", "true")
	}
	ok(c, status, OrderResponse{Success: true, Replayed: replayed, Order: o})
}

// GetOrder godoc
// @ID          getOrder
// @Summary     Read an order
// @Tags        Orders
// @Produce     json
// @Security    BearerAuth
//
// @Param       id  path  int  true  "Device order ID"  example(42)
//
// @Success     200  {object}  handlers.OrderResponse
// @Failure     404  {object}  handlers.ErrorResponse
// @Router      /orders/{id} [get]
func (h *Handlers) GetOrder(c *gin.Context) {
	id, valid := pathID(c, "id")
	if !valid {
		return
	}
	o, err := h.orders.Get(c.Request.Context(), id)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, OrderResponse{Success: true, Order: o})
}

// RefillOrder godoc
// @ID          refillOrder
// @Summary     Add a refill round
// @Description Appends items to an open order owned by the caller and queues a REFILL ticket for just those items.
// @Tags        Orders
// @Accept      json
// @Produce     json
// @Security    BearerAuth
//
// @Param       id    path  int                     true  "Device order ID"  example(42)
// @Param       body  body  handlers.RefillRequest  true  "New items"
//
// @Success     200  {object}  handlers.OrderResponse
// @Failure     400  {object}  handlers.ErrorResponse
// @Failure     403  {object}  handlers.ErrorResponse
// @Failure     404  {object}  handlers.ErrorResponse
// @Failure     409  {object}  handlers.ErrorResponse  "Order closed"
// @Router      /orders/{id}/refill [post]
func (h *Handlers) RefillOrder(c *gin.Context) {
	id, valid := pathID(c, "id")
	if !valid {
		return
	}
	var req RefillRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}
	o, err := h.orders.Refill(c.Request.Context(), middleware.DeviceIDFrom(c), id, req.Items)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, OrderResponse{Success: true, Order: o})
}

// UpdateOrderStatus godoc
// @ID          updateOrderStatus
// @Summary     Change an order's status
// @Description Applies one edge of the order transition table.
// @Tags        Orders
// @Accept      json
// @Produce     json
// @Security    BearerAuth
//
// @Param       id    path  int                     true  "Device order ID"  example(42)
// @Param       body  body  handlers.StatusRequest  true  "Target status"
//
// @Success     200  {object}  handlers.OrderResponse
// @Failure     400  {object}  handlers.ErrorResponse
// @Failure     404  {object}  handlers.ErrorResponse
// @Failure     409  {object}  handlers.ErrorResponse  "Transition not allowed"
// @Router      /orders/{id}/status [patch]
func (h *Handlers) UpdateOrderStatus(c *gin.Context) {
	id, valid := pathID(c, "id")
	if !valid {
		return
	}
	var req StatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}
	next, known := domain.ParseOrderStatus(req.Status)
	if !known {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "unknown order status")
		return
	}
	o, err := h.orders.UpdateStatus(c.Request.Context(), id, next)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, OrderResponse{Success: true, Order: o})
}

// UpdateItemStatus godoc
// @ID          updateItemStatus
// @Summary     Change an order item's status
// @Tags        Orders
// @Accept      json
// @Produce     json
// @Security    BearerAuth
//
// @Param       id      path  int                     true  "Device order ID"  example(42)
// @Param       itemId  path  int                     true  "Item ID"          example(7)
// @Param       body    body  handlers.StatusRequest  true  "Target status"
//
// @Success     200  {object}  handlers.ItemResponse
// @Failure     400  {object}  handlers.ErrorResponse
// @Failure     404  {object}  handlers.ErrorResponse
// @Failure     409  {object}  handlers.ErrorResponse  "Transition not allowed"
// @Router      /orders/{id}/items/{itemId}/status [patch]
func (h *Handlers) UpdateItemStatus(c *gin.Context) {
	id, valid := pathID(c, "id")
	if !valid {
		return
	}
	itemID, valid := pathID(c, "itemId")
	if !valid {
		return
	}
	var req StatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}
	next, known := domain.ParseItemStatus(req.Status)
	if !known {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "unknown item status")
		return
	}
	it, err := h.orders.UpdateItemStatus(c.Request.Context(), id, itemID, next)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, ItemResponse{Success: true, Item: it})
}
