package application

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	ordertypes "github.com/Apurer/order-autoadvance/internal/domains/orders/application/types"
	"github.com/Apurer/order-autoadvance/internal/domains/orders/domain"
	"github.com/Apurer/order-autoadvance/internal/domains/orders/ports"
)

// Service orchestrates order use cases.
type Service struct {
	repo        ports.Repository
	publisher   ports.EventPublisher
	idempotency ports.IdempotencyStore
	now         func() time.Time
	logger      *slog.Logger
}

// Option configures the Service.
type Option func(*Service)

// WithPublisher broadcasts committed changes to realtime subscribers.
func WithPublisher(publisher ports.EventPublisher) Option {
	return func(s *Service) {
		s.publisher = publisher
	}
}

// WithIdempotencyStore replays status updates whose idempotency key was already
// committed.
func WithIdempotencyStore(store ports.IdempotencyStore) Option {
	return func(s *Service) {
		s.idempotency = store
	}
}

// WithClock overrides the time source used for status timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithLogger reports publish failures, which never fail the write itself.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func NewService(repo ports.Repository, opts ...Option) *Service {
	s := &Service{
		repo:   repo,
		now:    func() time.Time { return time.Now().UTC() },
		logger: slog.Default(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

func (s *Service) PlaceOrder(ctx context.Context, input ordertypes.PlaceOrderInput) (*domain.Order, error) {
	order, err := domain.NewOrder(0, input.Number, input.Stations, s.now())
	if err != nil {
		return nil, mapError(err)
	}
	saved, err := s.repo.Create(ctx, order)
	if err != nil {
		return nil, err
	}
	s.publish(ctx, domain.UpdatedEvent(*saved))
	return saved, nil
}

func (s *Service) GetOrder(ctx context.Context, id int64) (*domain.Order, error) {
	return s.repo.GetByID(ctx, id)
}

// ListActive returns every order that has not reached a terminal status.
func (s *Service) ListActive(ctx context.Context) ([]*domain.Order, error) {
	return s.repo.ListActive(ctx)
}

// UpdateStatus applies a conditional transition. Auto requests must be a single
// forward step on an eligible order; manual requests override and disable auto-advance.
func (s *Service) UpdateStatus(ctx context.Context, input ordertypes.UpdateStatusInput) (*domain.Order, error) {
	target, err := domain.ParseStatus(input.Status)
	if err != nil {
		return nil, mapError(err)
	}
	source := input.Source
	if source == "" {
		source = domain.SourceAuto
	}
	key := strings.TrimSpace(input.IdempotencyKey)
	requestHash := transitionHash(input.ID, target, input.ExpectedVersion, source)
	if key != "" && s.idempotency != nil {
		replayed, err := s.replay(ctx, key, input.ID, requestHash)
		if err != nil || replayed != nil {
			return replayed, err
		}
	}
	current, err := s.repo.GetByID(ctx, input.ID)
	if err != nil {
		return nil, err
	}
	if current.Version != input.ExpectedVersion {
		return nil, &domain.ConflictError{ExpectedVersion: input.ExpectedVersion, Current: current}
	}
	next := current.Clone()
	if err := next.Transition(target, source, s.now()); err != nil {
		return nil, err
	}
	saved, err := s.repo.UpdateIfVersion(ctx, &next, input.ExpectedVersion)
	if err != nil {
		return nil, err
	}
	if key != "" && s.idempotency != nil {
		record := ports.IdempotencyRecord{Key: key, RequestHash: requestHash, OrderID: saved.ID, ResultVersion: saved.Version}
		if _, err := s.idempotency.Save(ctx, record); err != nil {
			s.logger.Warn("failed to record idempotency key",
				slog.Int64("order.id", saved.ID),
				slog.String("error", err.Error()))
		}
	}
	s.publish(ctx, domain.UpdatedEvent(*saved))
	return saved, nil
}

// replay returns the order for a key that already committed, nil when the key is new.
func (s *Service) replay(ctx context.Context, key string, id int64, requestHash string) (*domain.Order, error) {
	record, err := s.idempotency.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	if record == nil {
		return nil, nil
	}
	if record.OrderID != id || record.RequestHash != requestHash {
		return nil, fmt.Errorf("%w: %w", ErrInvalidInput, ports.ErrIdempotencyConflict)
	}
	s.logger.Info("replaying committed status update",
		slog.Int64("order.id", id),
		slog.Int64("order.version", record.ResultVersion))
	return s.repo.GetByID(ctx, id)
}

func transitionHash(id int64, target domain.Status, expectedVersion int64, source domain.Source) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%d|%s|%d|%s", id, target, expectedVersion, source)))
	return hex.EncodeToString(sum[:])
}

// RemoveOrder drops an order from the active set and notifies subscribers.
func (s *Service) RemoveOrder(ctx context.Context, id int64) error {
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}
	s.publish(ctx, domain.RemovedEvent(id))
	return nil
}

// PurgeTerminal deletes terminal orders untouched for longer than olderThan.
func (s *Service) PurgeTerminal(ctx context.Context, olderThan time.Duration) (int64, error) {
	if olderThan <= 0 {
		return 0, fmt.Errorf("%w: retention must be positive", ErrInvalidInput)
	}
	cutoff := s.now().Add(-olderThan)
	if s.idempotency != nil {
		if _, err := s.idempotency.PurgeBefore(ctx, cutoff); err != nil {
			s.logger.Warn("failed to purge idempotency keys", slog.String("error", err.Error()))
		}
	}
	return s.repo.PurgeTerminal(ctx, cutoff)
}

func (s *Service) publish(ctx context.Context, event domain.Event) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(ctx, event); err != nil && !errors.Is(err, context.Canceled) {
		s.logger.Warn("failed to publish order event",
			slog.String("event.type", string(event.Type)),
			slog.Int64("order.id", event.OrderID),
			slog.String("error", err.Error()))
	}
}

var _ ports.Service = (*Service)(nil)
