package workflows

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	oteltrace "go.opentelemetry.io/otel/trace"
	enumspb "go.temporal.io/api/enums/v1"
	"go.temporal.io/api/serviceerror"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/temporal"

	"github.com/Apurer/order-autoadvance/internal/domains/orders/adapters/http/mapper"
	ordersapp "github.com/Apurer/order-autoadvance/internal/domains/orders/application"
	ordertypes "github.com/Apurer/order-autoadvance/internal/domains/orders/application/types"
	"github.com/Apurer/order-autoadvance/internal/domains/orders/domain"
	"github.com/Apurer/order-autoadvance/internal/domains/orders/ports"
	orderactivities "github.com/Apurer/order-autoadvance/internal/platform/temporal/activities/orders"
	orderworkflows "github.com/Apurer/order-autoadvance/internal/platform/temporal/workflows/orders"
)

var (
	_ ports.WorkflowOrchestrator = (*TemporalOrderWorkflows)(nil)
	_ ports.WorkflowOrchestrator = (*InlineOrderWorkflows)(nil)
)

// TemporalOrderWorkflows runs status transitions on a Temporal cluster.
type TemporalOrderWorkflows struct {
	client    client.Client
	taskQueue string
}

func NewTemporalOrderWorkflows(c client.Client) *TemporalOrderWorkflows {
	return &TemporalOrderWorkflows{client: c, taskQueue: orderworkflows.StatusTransitionTaskQueue}
}

// TransitionStatus starts the transition workflow and waits for its result. A
// repeated idempotency key returns the outcome of the first execution.
func (o *TemporalOrderWorkflows) TransitionStatus(ctx context.Context, input ordertypes.UpdateStatusInput) (*domain.Order, error) {
	if o == nil || o.client == nil {
		return nil, errors.New("temporal order workflows not configured")
	}
	traceComponent := workflowTraceComponent(ctx)
	workflowID := buildTransitionWorkflowID(input, traceComponent)
	options := client.StartWorkflowOptions{
		ID:                    workflowID,
		TaskQueue:             o.taskQueue,
		WorkflowIDReusePolicy: enumspb.WORKFLOW_ID_REUSE_POLICY_REJECT_DUPLICATE,
	}
	run, err := o.client.ExecuteWorkflow(
		ctx,
		options,
		orderworkflows.StatusTransitionWorkflow,
		orderworkflows.StatusTransitionWorkflowInput{Command: input, TraceID: traceComponent},
	)
	if err != nil {
		var alreadyStarted *serviceerror.WorkflowExecutionAlreadyStarted
		if !errors.As(err, &alreadyStarted) || strings.TrimSpace(input.IdempotencyKey) == "" {
			return nil, err
		}
		run = o.client.GetWorkflow(ctx, workflowID, alreadyStarted.RunId)
	}
	var order domain.Order
	if err := run.Get(ctx, &order); err != nil {
		return nil, fromWorkflowError(err, input)
	}
	return &order, nil
}

// InlineOrderWorkflows executes the service directly without Temporal, useful for tests or dev fallbacks.
type InlineOrderWorkflows struct {
	service ports.Service
}

func NewInlineOrderWorkflows(service ports.Service) *InlineOrderWorkflows {
	return &InlineOrderWorkflows{service: service}
}

func (o *InlineOrderWorkflows) TransitionStatus(ctx context.Context, input ordertypes.UpdateStatusInput) (*domain.Order, error) {
	if o == nil || o.service == nil {
		return nil, errors.New("inline order workflows not configured")
	}
	return o.service.UpdateStatus(ctx, input)
}

// fromWorkflowError restores domain errors from the activity's application error types.
func fromWorkflowError(err error, input ordertypes.UpdateStatusInput) error {
	var appErr *temporal.ApplicationError
	if !errors.As(err, &appErr) {
		return err
	}
	switch appErr.Type() {
	case orderactivities.ErrTypeVersionConflict:
		conflict := &domain.ConflictError{ExpectedVersion: input.ExpectedVersion}
		if appErr.HasDetails() {
			var current mapper.Order
			if detailErr := appErr.Details(&current); detailErr == nil {
				if order, convErr := mapper.ToDomainOrder(current); convErr == nil {
					conflict.Current = &order
				}
			}
		}
		return conflict
	case orderactivities.ErrTypeNotFound:
		return domain.ErrNotFound
	case orderactivities.ErrTypeInvalidTransition:
		return fmt.Errorf("%w: %s", domain.ErrInvalidTransition, appErr.Message())
	case orderactivities.ErrTypeNotEligible:
		return domain.ErrNotEligible
	case orderactivities.ErrTypeInvalidInput:
		return fmt.Errorf("%w: %s", ordersapp.ErrInvalidInput, appErr.Message())
	default:
		return err
	}
}

func buildTransitionWorkflowID(input ordertypes.UpdateStatusInput, traceComponent string) string {
	if key := strings.TrimSpace(input.IdempotencyKey); key != "" {
		return fmt.Sprintf("order-status-idem-%s", hashIdempotencyKey(key))
	}
	return fmt.Sprintf("order-status-%d-v%d-%s", input.ID, input.ExpectedVersion, traceComponent)
}

func hashIdempotencyKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:8])
}

func workflowTraceComponent(ctx context.Context) string {
	if traceID := workflowTraceID(ctx); traceID != "" {
		return traceID
	}
	return fmt.Sprintf("fallback-%d", time.Now().UnixNano())
}

func workflowTraceID(ctx context.Context) string {
	spanCtx := oteltrace.SpanFromContext(ctx).SpanContext()
	if !spanCtx.IsValid() {
		return ""
	}
	return spanCtx.TraceID().String()
}
