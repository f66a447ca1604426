package orderserver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Apurer/order-autoadvance/internal/domains/orders/adapters/http/mapper"
	ordermemory "github.com/Apurer/order-autoadvance/internal/domains/orders/adapters/memory"
	orderworkflows "github.com/Apurer/order-autoadvance/internal/domains/orders/adapters/workflows"
	ordersapp "github.com/Apurer/order-autoadvance/internal/domains/orders/application"
	ordertypes "github.com/Apurer/order-autoadvance/internal/domains/orders/application/types"
	"github.com/Apurer/order-autoadvance/internal/domains/orders/domain"
	apierrors "github.com/Apurer/order-autoadvance/internal/shared/errors"
)

type testServer struct {
	router  *gin.Engine
	service *ordersapp.Service
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)
	service := ordersapp.NewService(ordermemory.NewRepository())
	api := NewOrderAPI(service, orderworkflows.NewInlineOrderWorkflows(service), nil)
	router := NewRouterWithGinEngine(gin.New(), ApiHandleFunctions{OrderAPI: api})
	return &testServer{router: router, service: service}
}

func (s *testServer) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func (s *testServer) place(t *testing.T, number string) *domain.Order {
	t.Helper()
	order, err := s.service.PlaceOrder(context.Background(), ordertypes.PlaceOrderInput{Number: number})
	require.NoError(t, err)
	return order
}

func TestPlaceOrderAndListActive(t *testing.T) {
	srv := newTestServer(t)

	rec := srv.do(t, http.MethodPost, "/v1/orders", mapper.PlaceOrderRequest{Number: "A-1", Stations: []string{"grill"}})
	require.Equal(t, http.StatusCreated, rec.Code)
	var created mapper.Order
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.Equal(t, "received", created.Status)
	assert.Equal(t, int64(1), created.Version)
	assert.True(t, created.AutoAdvanceEligible)

	rec = srv.do(t, http.MethodGet, "/v1/orders/active", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list mapper.OrderList
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list.Orders, 1)
	assert.Equal(t, created.ID, list.Orders[0].ID)
}

func TestPlaceOrder_RequiresNumber(t *testing.T) {
	srv := newTestServer(t)
	rec := srv.do(t, http.MethodPost, "/v1/orders", map[string]any{"stations": []string{"grill"}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, apierrors.ContentTypeProblemJSON, rec.Header().Get("Content-Type"))
}

func TestUpdateOrderStatus_AdvancesOneStep(t *testing.T) {
	srv := newTestServer(t)
	order := srv.place(t, "A-1")

	rec := srv.do(t, http.MethodPatch, fmt.Sprintf("/v1/orders/%d/status", order.ID), mapper.StatusUpdateRequest{
		Status:          "preparing",
		ExpectedVersion: order.Version,
	})
	require.Equal(t, http.StatusOK, rec.Code)
	var updated mapper.Order
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &updated))
	assert.Equal(t, "preparing", updated.Status)
	assert.Equal(t, order.Version+1, updated.Version)
}

func TestUpdateOrderStatus_ConflictReturnsCurrent(t *testing.T) {
	srv := newTestServer(t)
	order := srv.place(t, "A-1")

	rec := srv.do(t, http.MethodPatch, fmt.Sprintf("/v1/orders/%d/status", order.ID), mapper.StatusUpdateRequest{
		Status:          "preparing",
		ExpectedVersion: order.Version + 1,
	})
	require.Equal(t, http.StatusConflict, rec.Code)

	var problem struct {
		Status     int `json:"status"`
		Extensions struct {
			Current mapper.Order `json:"current"`
		} `json:"extensions"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &problem))
	assert.Equal(t, http.StatusConflict, problem.Status)
	assert.Equal(t, order.Version, problem.Extensions.Current.Version)
	assert.Equal(t, "received", problem.Extensions.Current.Status)
}

func TestUpdateOrderStatus_RejectsSkipAndUnknownStatus(t *testing.T) {
	srv := newTestServer(t)
	order := srv.place(t, "A-1")
	path := fmt.Sprintf("/v1/orders/%d/status", order.ID)

	rec := srv.do(t, http.MethodPatch, path, mapper.StatusUpdateRequest{Status: "completed", ExpectedVersion: order.Version})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = srv.do(t, http.MethodPatch, path, mapper.StatusUpdateRequest{Status: "shipped", ExpectedVersion: order.Version})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = srv.do(t, http.MethodPatch, path, mapper.StatusUpdateRequest{Status: "preparing", ExpectedVersion: order.Version, Source: "robot"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUpdateOrderStatus_ManualOverrideDisablesAutoAdvance(t *testing.T) {
	srv := newTestServer(t)
	order := srv.place(t, "A-1")

	rec := srv.do(t, http.MethodPatch, fmt.Sprintf("/v1/orders/%d/status", order.ID), mapper.StatusUpdateRequest{
		Status:          "ready",
		ExpectedVersion: order.Version,
		Source:          "manual",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	var updated mapper.Order
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &updated))
	assert.Equal(t, "ready", updated.Status)
	assert.False(t, updated.AutoAdvanceEligible)
	assert.Equal(t, domain.PauseReasonManualOverride, updated.PauseReason)
}

func TestGetAndRemoveOrder(t *testing.T) {
	srv := newTestServer(t)
	order := srv.place(t, "A-1")
	path := fmt.Sprintf("/v1/orders/%d", order.ID)

	assert.Equal(t, http.StatusOK, srv.do(t, http.MethodGet, path, nil).Code)
	assert.Equal(t, http.StatusNoContent, srv.do(t, http.MethodDelete, path, nil).Code)
	assert.Equal(t, http.StatusNotFound, srv.do(t, http.MethodGet, path, nil).Code)
	assert.Equal(t, http.StatusBadRequest, srv.do(t, http.MethodGet, "/v1/orders/abc", nil).Code)
}

func TestStreamOrders_DisabledWithoutHub(t *testing.T) {
	srv := newTestServer(t)
	assert.Equal(t, http.StatusNotFound, srv.do(t, http.MethodGet, "/v1/orders/stream", nil).Code)
}
