package orderserver

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/Apurer/order-autoadvance/internal/domains/orders/adapters/http/mapper"
	ordertypes "github.com/Apurer/order-autoadvance/internal/domains/orders/application/types"
	"github.com/Apurer/order-autoadvance/internal/domains/orders/domain"
	"github.com/Apurer/order-autoadvance/internal/domains/orders/ports"
	apierrors "github.com/Apurer/order-autoadvance/internal/shared/errors"
)

// IdempotencyKeyHeader carries the caller's transition id across retries.
const IdempotencyKeyHeader = "Idempotency-Key"

// OrderAPI wires HTTP transport with the orders bounded context service and workflows.
type OrderAPI struct {
	service     ports.Service
	workflows   ports.WorkflowOrchestrator
	stream      http.Handler
	streamToken string
}

// NewOrderAPI creates an OrderAPI. stream serves the realtime websocket and may be nil.
func NewOrderAPI(service ports.Service, workflows ports.WorkflowOrchestrator, stream http.Handler) OrderAPI {
	return OrderAPI{service: service, workflows: workflows, stream: stream}
}

// WithStreamToken requires realtime subscribers to present token as a bearer credential.
func (api OrderAPI) WithStreamToken(token string) OrderAPI {
	api.streamToken = strings.TrimSpace(token)
	return api
}

// Get /v1/orders/active
// Lists every order that has not reached a terminal status
func (api *OrderAPI) ListActiveOrders(c *gin.Context) {
	orders, err := api.service.ListActive(c.Request.Context())
	if err != nil {
		respondOrderServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, mapper.FromDomainOrders(orders))
}

// Get /v1/orders/:orderId
func (api *OrderAPI) GetOrder(c *gin.Context) {
	id, ok := parseIDParam(c, "orderId")
	if !ok {
		return
	}
	order, err := api.service.GetOrder(c.Request.Context(), id)
	if err != nil {
		respondOrderServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, mapper.FromDomainOrder(order))
}

// Post /v1/orders
// Places a new order in the received status
func (api *OrderAPI) PlaceOrder(c *gin.Context) {
	var payload mapper.PlaceOrderRequest
	if err := c.ShouldBindJSON(&payload); err != nil {
		respondError(c, http.StatusBadRequest, err)
		return
	}
	order, err := api.service.PlaceOrder(c.Request.Context(), ordertypes.PlaceOrderInput{
		Number:   payload.Number,
		Stations: payload.Stations,
	})
	if err != nil {
		respondOrderServiceError(c, err)
		return
	}
	c.JSON(http.StatusCreated, mapper.FromDomainOrder(order))
}

// Patch /v1/orders/:orderId/status
// Applies a status change only if the order is still at expectedVersion
func (api *OrderAPI) UpdateOrderStatus(c *gin.Context) {
	id, ok := parseIDParam(c, "orderId")
	if !ok {
		return
	}
	var payload mapper.StatusUpdateRequest
	if err := c.ShouldBindJSON(&payload); err != nil {
		respondError(c, http.StatusBadRequest, err)
		return
	}
	source, err := mapper.ToDomainSource(payload.Source)
	if err != nil {
		respondError(c, http.StatusBadRequest, err)
		return
	}
	input := ordertypes.UpdateStatusInput{
		ID:              id,
		Status:          payload.Status,
		ExpectedVersion: payload.ExpectedVersion,
		Source:          source,
		IdempotencyKey:  strings.TrimSpace(c.GetHeader(IdempotencyKeyHeader)),
	}
	order, err := api.transition(c.Request.Context(), input)
	if err != nil {
		respondOrderServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, mapper.FromDomainOrder(order))
}

func (api *OrderAPI) transition(ctx context.Context, input ordertypes.UpdateStatusInput) (*domain.Order, error) {
	if api.workflows != nil {
		return api.workflows.TransitionStatus(ctx, input)
	}
	return api.service.UpdateStatus(ctx, input)
}

// Delete /v1/orders/:orderId
func (api *OrderAPI) RemoveOrder(c *gin.Context) {
	id, ok := parseIDParam(c, "orderId")
	if !ok {
		return
	}
	if err := api.service.RemoveOrder(c.Request.Context(), id); err != nil {
		respondOrderServiceError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// Get /v1/orders/stream
// Upgrades to a websocket that pushes order.updated and order.removed frames
func (api *OrderAPI) StreamOrders(c *gin.Context) {
	if api.stream == nil {
		respondError(c, http.StatusNotFound, errStreamDisabled)
		return
	}
	if api.streamToken != "" && bearerToken(c.GetHeader("Authorization")) != api.streamToken {
		apierrors.Respond(c, apierrors.ErrUnauthorized.WithDetail("stream token missing or invalid"))
		return
	}
	api.stream.ServeHTTP(c.Writer, c.Request)
}

func bearerToken(header string) string {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

func parseIDParam(c *gin.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		respondError(c, http.StatusBadRequest, errInvalidOrderID)
		return 0, false
	}
	return id, true
}
