package orderserver

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
)

var (
	errInvalidOrderID = errors.New("order id must be a positive integer")
	errStreamDisabled = errors.New("realtime stream is not enabled")
)

// Route is the information for every URI.
type Route struct {
	// Name is the name of this Route.
	Name string
	// Method is the string for the HTTP method. ex) GET, POST etc..
	Method string
	// Pattern is the pattern of the URI.
	Pattern string
	// HandlerFunc is the handler function of this route.
	HandlerFunc gin.HandlerFunc
}

// ApiHandleFunctions groups the API implementations served by the router.
type ApiHandleFunctions struct {
	OrderAPI OrderAPI
}

// NewRouter returns a new router.
func NewRouter(handleFunctions ApiHandleFunctions) *gin.Engine {
	return NewRouterWithGinEngine(gin.Default(), handleFunctions)
}

// NewRouterWithGinEngine adds the order routes to an existing gin engine.
func NewRouterWithGinEngine(router *gin.Engine, handleFunctions ApiHandleFunctions) *gin.Engine {
	for _, route := range getRoutes(handleFunctions) {
		if route.HandlerFunc == nil {
			route.HandlerFunc = DefaultHandleFunc
		}
		router.Handle(route.Method, route.Pattern, route.HandlerFunc)
	}
	router.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusNoContent) })
	return router
}

// NewBoardRouterWithGinEngine adds the engine board routes to an existing gin engine.
func NewBoardRouterWithGinEngine(router *gin.Engine, board BoardAPI) *gin.Engine {
	routes := []Route{
		{"GetBoard", http.MethodGet, "/v1/board", board.GetBoard},
		{"ListConditions", http.MethodGet, "/v1/board/conditions", board.ListConditions},
		{"OverrideStatus", http.MethodPost, "/v1/board/:orderId/override", board.OverrideStatus},
	}
	for _, route := range routes {
		router.Handle(route.Method, route.Pattern, route.HandlerFunc)
	}
	router.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusNoContent) })
	return router
}

// DefaultHandleFunc is the default handler for routes without an implementation.
func DefaultHandleFunc(c *gin.Context) {
	c.String(http.StatusNotImplemented, "501 not implemented")
}

func getRoutes(handleFunctions ApiHandleFunctions) []Route {
	api := handleFunctions.OrderAPI
	return []Route{
		{"ListActiveOrders", http.MethodGet, "/v1/orders/active", api.ListActiveOrders},
		{"StreamOrders", http.MethodGet, "/v1/orders/stream", api.StreamOrders},
		{"GetOrder", http.MethodGet, "/v1/orders/:orderId", api.GetOrder},
		{"PlaceOrder", http.MethodPost, "/v1/orders", api.PlaceOrder},
		{"UpdateOrderStatus", http.MethodPatch, "/v1/orders/:orderId/status", api.UpdateOrderStatus},
		{"RemoveOrder", http.MethodDelete, "/v1/orders/:orderId", api.RemoveOrder},
	}
}
