package orderserver

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Apurer/order-autoadvance/internal/autoadvance"
	"github.com/Apurer/order-autoadvance/internal/domains/orders/adapters/http/mapper"
	"github.com/Apurer/order-autoadvance/internal/domains/orders/domain"
	apierrors "github.com/Apurer/order-autoadvance/internal/shared/errors"
)

// BoardEngine is the slice of the auto-advance engine the board exposes.
type BoardEngine interface {
	Snapshot(ctx context.Context) ([]domain.Order, error)
	Conditions(ctx context.Context) ([]autoadvance.Condition, error)
	Online(ctx context.Context) (bool, error)
	OverrideStatus(ctx context.Context, id int64, status domain.Status) error
}

// Board is the GET /v1/board response.
type Board struct {
	Online bool           `json:"online"`
	Orders []mapper.Order `json:"orders"`
}

// BoardCondition is one operator-visible problem.
type BoardCondition struct {
	Kind     string    `json:"kind"`
	OrderID  int64     `json:"orderId,omitempty"`
	Target   string    `json:"target,omitempty"`
	Message  string    `json:"message"`
	RaisedAt time.Time `json:"raisedAt"`
}

// OverrideRequest is the body of POST /v1/board/:orderId/override.
type OverrideRequest struct {
	Status string `json:"status" binding:"required"`
}

// BoardAPI serves the engine's local view of the order board.
type BoardAPI struct {
	engine BoardEngine
}

func NewBoardAPI(engine BoardEngine) BoardAPI {
	return BoardAPI{engine: engine}
}

var boardResponder = apierrors.NewChainedResponder("", mapBoardError, mapOrderError)

func mapBoardError(err error) (apierrors.ProblemDetail, bool) {
	switch {
	case errors.Is(err, autoadvance.ErrUnknownOrder):
		return apierrors.ErrNotFound.WithDetail(err.Error()), true
	case errors.Is(err, autoadvance.ErrNotRunning):
		return apierrors.ErrUnavailable.WithDetail(err.Error()), true
	case errors.Is(err, domain.ErrInvalidStatus):
		return apierrors.ErrBadRequest.WithDetail(err.Error()), true
	default:
		return apierrors.ProblemDetail{}, false
	}
}

// GetBoard Get /v1/board
func (api BoardAPI) GetBoard(c *gin.Context) {
	ctx := c.Request.Context()
	orders, err := api.engine.Snapshot(ctx)
	if err != nil {
		boardResponder.RespondError(c, err)
		return
	}
	online, err := api.engine.Online(ctx)
	if err != nil {
		boardResponder.RespondError(c, err)
		return
	}
	board := Board{Online: online, Orders: make([]mapper.Order, 0, len(orders))}
	for i := range orders {
		board.Orders = append(board.Orders, mapper.FromDomainOrder(&orders[i]))
	}
	c.JSON(http.StatusOK, board)
}

// ListConditions Get /v1/board/conditions
func (api BoardAPI) ListConditions(c *gin.Context) {
	conditions, err := api.engine.Conditions(c.Request.Context())
	if err != nil {
		boardResponder.RespondError(c, err)
		return
	}
	out := make([]BoardCondition, 0, len(conditions))
	for _, cond := range conditions {
		out = append(out, BoardCondition{
			Kind:     string(cond.Kind),
			OrderID:  cond.OrderID,
			Target:   cond.Target,
			Message:  cond.Message,
			RaisedAt: cond.RaisedAt,
		})
	}
	c.JSON(http.StatusOK, gin.H{"conditions": out})
}

// OverrideStatus Post /v1/board/:orderId/override
func (api BoardAPI) OverrideStatus(c *gin.Context) {
	id, ok := parseIDParam(c, "orderId")
	if !ok {
		return
	}
	var body OverrideRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		respondError(c, http.StatusBadRequest, err)
		return
	}
	status, err := domain.ParseStatus(body.Status)
	if err != nil {
		boardResponder.RespondError(c, err)
		return
	}
	if err := api.engine.OverrideStatus(c.Request.Context(), id, status); err != nil {
		boardResponder.RespondError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"orderId": id, "status": string(status)})
}
