package orderserver

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/Apurer/order-autoadvance/internal/domains/orders/adapters/http/mapper"
	ordersapp "github.com/Apurer/order-autoadvance/internal/domains/orders/application"
	"github.com/Apurer/order-autoadvance/internal/domains/orders/domain"
	apierrors "github.com/Apurer/order-autoadvance/internal/shared/errors"
)

var orderResponder = apierrors.NewChainedResponder("", mapOrderError)

// mapOrderError translates orders domain errors into problem details. Version
// conflicts carry the current order under extensions.current.
func mapOrderError(err error) (apierrors.ProblemDetail, bool) {
	var conflict *domain.ConflictError
	switch {
	case errors.As(err, &conflict):
		var current any
		if conflict.Current != nil {
			current = mapper.FromDomainOrder(conflict.Current)
		}
		return apierrors.NewConflictProblem(err.Error(), current), true
	case errors.Is(err, domain.ErrNotFound):
		return apierrors.ErrNotFound.WithDetail(err.Error()), true
	case errors.Is(err, domain.ErrInvalidTransition), errors.Is(err, domain.ErrNotEligible):
		return apierrors.NewUnprocessableProblem(err.Error()), true
	case errors.Is(err, ordersapp.ErrInvalidInput):
		return apierrors.ErrValidation.WithDetail(err.Error()), true
	default:
		return apierrors.ProblemDetail{}, false
	}
}

func respondOrderServiceError(c *gin.Context, err error) {
	orderResponder.RespondError(c, err)
}

// respondError preserves the status-first call sites while returning RFC 7807 responses.
func respondError(c *gin.Context, status int, err error) {
	if err == nil {
		return
	}
	var problem apierrors.ProblemDetail
	switch status {
	case http.StatusBadRequest:
		problem = apierrors.ErrBadRequest.WithDetail(err.Error())
	case http.StatusNotFound:
		problem = apierrors.ErrNotFound.WithDetail(err.Error())
	default:
		problem = apierrors.ErrInternal.WithDetail(err.Error())
	}
	apierrors.Respond(c, problem)
}
