package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/lib/pq"
	"gorm.io/gorm"

	"github.com/Apurer/order-autoadvance/internal/domains/orders/domain"
	"github.com/Apurer/order-autoadvance/internal/domains/orders/ports"
)

var _ ports.Repository = (*Repository)(nil)

var terminalStatuses = []string{string(domain.StatusCompleted), string(domain.StatusCancelled)}

// Repository persists orders in PostgreSQL using GORM.
type Repository struct {
	db *gorm.DB
}

// NewRepository wires a PostgreSQL-backed repository. Caller manages DB lifecycle and
// runs migrations.
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// orderRecord maps the order aggregate to a relational table.
type orderRecord struct {
	ID                  int64          `gorm:"primaryKey;column:id"`
	Number              string         `gorm:"column:number;size:64"`
	Status              string         `gorm:"column:status;type:varchar(32);index"`
	StatusEnteredAt     time.Time      `gorm:"column:status_entered_at"`
	AutoAdvanceEligible bool           `gorm:"column:auto_advance_eligible"`
	PauseReason         string         `gorm:"column:auto_advance_pause_reason;size:255"`
	Version             int64          `gorm:"column:version"`
	Stations            pq.StringArray `gorm:"column:stations;type:text[]"`
	CreatedAt           time.Time      `gorm:"column:created_at;index"`
	UpdatedAt           time.Time      `gorm:"column:updated_at;index"`
}

func (orderRecord) TableName() string { return "orders" }

// Create inserts a new order and returns it with the assigned identifier.
func (r *Repository) Create(ctx context.Context, order *domain.Order) (*domain.Order, error) {
	if err := r.ensureDB(); err != nil {
		return nil, err
	}
	if order == nil {
		return nil, errors.New("order is nil")
	}
	record := toRecord(order)
	if record.Version == 0 {
		record.Version = 1
	}
	if err := r.db.WithContext(ctx).Create(&record).Error; err != nil {
		return nil, err
	}
	return record.toDomain(), nil
}

// GetByID fetches an order by identifier.
func (r *Repository) GetByID(ctx context.Context, id int64) (*domain.Order, error) {
	if err := r.ensureDB(); err != nil {
		return nil, err
	}
	var record orderRecord
	if err := r.db.WithContext(ctx).First(&record, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return record.toDomain(), nil
}

// ListActive returns non-terminal orders ordered by id.
func (r *Repository) ListActive(ctx context.Context) ([]*domain.Order, error) {
	if err := r.ensureDB(); err != nil {
		return nil, err
	}
	var records []orderRecord
	if err := r.db.WithContext(ctx).
		Where("status NOT IN ?", terminalStatuses).
		Order("id").
		Find(&records).Error; err != nil {
		return nil, err
	}
	orders := make([]*domain.Order, 0, len(records))
	for i := range records {
		orders = append(orders, records[i].toDomain())
	}
	return orders, nil
}

// UpdateIfVersion performs a compare-and-swap on the version column.
func (r *Repository) UpdateIfVersion(ctx context.Context, order *domain.Order, expectedVersion int64) (*domain.Order, error) {
	if err := r.ensureDB(); err != nil {
		return nil, err
	}
	if order == nil {
		return nil, errors.New("order is nil")
	}
	record := toRecord(order)
	result := r.db.WithContext(ctx).
		Model(&orderRecord{}).
		Where("id = ? AND version = ?", record.ID, expectedVersion).
		Updates(map[string]any{
			"status":                    record.Status,
			"status_entered_at":         record.StatusEnteredAt,
			"auto_advance_eligible":     record.AutoAdvanceEligible,
			"auto_advance_pause_reason": record.PauseReason,
			"version":                   record.Version,
			"stations":                  record.Stations,
			"updated_at":                gorm.Expr("NOW()"),
		})
	if result.Error != nil {
		return nil, result.Error
	}
	if result.RowsAffected == 0 {
		current, err := r.GetByID(ctx, record.ID)
		if err != nil {
			return nil, err
		}
		return nil, &domain.ConflictError{ExpectedVersion: expectedVersion, Current: current}
	}
	return r.GetByID(ctx, record.ID)
}

// Delete removes an order by identifier.
func (r *Repository) Delete(ctx context.Context, id int64) error {
	if err := r.ensureDB(); err != nil {
		return err
	}
	result := r.db.WithContext(ctx).Delete(&orderRecord{}, id)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// PurgeTerminal deletes terminal orders last updated before cutoff.
func (r *Repository) PurgeTerminal(ctx context.Context, cutoff time.Time) (int64, error) {
	if err := r.ensureDB(); err != nil {
		return 0, err
	}
	result := r.db.WithContext(ctx).
		Where("status IN ? AND updated_at < ?", terminalStatuses, cutoff).
		Delete(&orderRecord{})
	return result.RowsAffected, result.Error
}

func (r *Repository) ensureDB() error {
	if r == nil || r.db == nil {
		return errors.New("postgres order repository not configured")
	}
	return nil
}

func toRecord(order *domain.Order) orderRecord {
	return orderRecord{
		ID:                  order.ID,
		Number:              order.Number,
		Status:              string(order.Status),
		StatusEnteredAt:     order.StatusEnteredAt,
		AutoAdvanceEligible: order.AutoAdvanceEligible,
		PauseReason:         order.PauseReason,
		Version:             order.Version,
		Stations:            pq.StringArray(order.Stations),
		CreatedAt:           order.CreatedAt,
		UpdatedAt:           order.UpdatedAt,
	}
}

func (r orderRecord) toDomain() *domain.Order {
	return &domain.Order{
		ID:                  r.ID,
		Number:              r.Number,
		Status:              domain.Status(r.Status),
		StatusEnteredAt:     r.StatusEnteredAt,
		AutoAdvanceEligible: r.AutoAdvanceEligible,
		PauseReason:         r.PauseReason,
		Version:             r.Version,
		Stations:            []string(r.Stations),
		CreatedAt:           r.CreatedAt,
		UpdatedAt:           r.UpdatedAt,
	}
}
