package repository

import (
	"context"
	"time"

	"deliveryerp/internal/model"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// OrderFilter narrows order listings. History selects archived orders.
type OrderFilter struct {
	Status   string
	DriverID *uuid.UUID
	ClientID *uuid.UUID
	Search   string
	History  bool
	Page     int
	Limit    int
}

type OrderRepository interface {
	Create(ctx context.Context, order *model.Order) error
	Update(ctx context.Context, order *model.Order) error
	FindByID(ctx context.Context, id uuid.UUID) (*model.Order, error)
	FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*model.Order, error)
	ExistsByRef(ctx context.Context, ref string) (bool, error)
	MarkAppliedOnCreate(ctx context.Context, id uuid.UUID) error
	MarkAppliedOnDelivery(ctx context.Context, id uuid.UUID) error
	MoveToHistory(ctx context.Context, id uuid.UUID, at time.Time) error
	FindHistoryCandidates(ctx context.Context, limit int) ([]model.Order, error)
	List(ctx context.Context, filter OrderFilter) ([]model.Order, int64, error)
}

type orderRepository struct {
	db *gorm.DB
}

func NewOrderRepository(db *gorm.DB) OrderRepository {
	return &orderRepository{db: db}
}

func (r *orderRepository) Create(ctx context.Context, order *model.Order) error {
	return GetDB(ctx, r.db).Omit(clause.Associations).Create(order).Error
}

func (r *orderRepository) Update(ctx context.Context, order *model.Order) error {
	return GetDB(ctx, r.db).Omit(clause.Associations).Save(order).Error
}

func (r *orderRepository) FindByID(ctx context.Context, id uuid.UUID) (*model.Order, error) {
	var order model.Order
	if err := GetDB(ctx, r.db).
		Preload("Driver").
		Preload("Client").
		First(&order, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &order, nil
}

// FindByIDForUpdate reads the order with SELECT ... FOR UPDATE. Only meaningful inside RunInTx.
func (r *orderRepository) FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*model.Order, error) {
	var order model.Order
	if err := GetDB(ctx, r.db).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&order, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &order, nil
}

func (r *orderRepository) ExistsByRef(ctx context.Context, ref string) (bool, error) {
	var count int64
	if err := GetDB(ctx, r.db).Model(&model.Order{}).Where("order_ref = ?", ref).Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

func (r *orderRepository) MarkAppliedOnCreate(ctx context.Context, id uuid.UUID) error {
	return GetDB(ctx, r.db).Model(&model.Order{}).Where("id = ?", id).
		Update("cashbox_applied_on_create", true).Error
}

func (r *orderRepository) MarkAppliedOnDelivery(ctx context.Context, id uuid.UUID) error {
	return GetDB(ctx, r.db).Model(&model.Order{}).Where("id = ?", id).
		Update("cashbox_applied_on_delivery", true).Error
}

func (r *orderRepository) MoveToHistory(ctx context.Context, id uuid.UUID, at time.Time) error {
	return GetDB(ctx, r.db).Model(&model.Order{}).Where("id = ?", id).
		Updates(map[string]interface{}{"moved_to_history": true, "moved_at": at}).Error
}

// FindHistoryCandidates returns orders that satisfy the archival rule but are still active.
func (r *orderRepository) FindHistoryCandidates(ctx context.Context, limit int) ([]model.Order, error) {
	var orders []model.Order
	if err := GetDB(ctx, r.db).
		Where("moved_to_history = ? AND status = ? AND payment_status = ? AND accounting_cashed = ?",
			false, "completed", "paid", true).
		Order("completed_at ASC").
		Limit(limit).
		Find(&orders).Error; err != nil {
		return nil, err
	}
	return orders, nil
}

func (r *orderRepository) List(ctx context.Context, filter OrderFilter) ([]model.Order, int64, error) {
	var orders []model.Order
	var total int64

	db := GetDB(ctx, r.db)
	scope := func(q *gorm.DB) *gorm.DB {
		q = q.Where("moved_to_history = ?", filter.History)
		if filter.Status != "" {
			q = q.Where("status = ?", filter.Status)
		}
		if filter.DriverID != nil {
			q = q.Where("driver_id = ?", *filter.DriverID)
		}
		if filter.ClientID != nil {
			q = q.Where("client_id = ?", *filter.ClientID)
		}
		if filter.Search != "" {
			like := "%" + filter.Search + "%"
			q = q.Where("order_ref ILIKE ? OR customer_name ILIKE ? OR customer_phone ILIKE ? OR third_party_name ILIKE ?",
				like, like, like, like)
		}
		return q
	}

	if err := db.Model(&model.Order{}).Scopes(scope).Count(&total).Error; err != nil {
		return nil, 0, err
	}

	offset := (filter.Page - 1) * filter.Limit
	order := "created_at DESC"
	if filter.History {
		order = "moved_at DESC"
	}
	if err := db.Model(&model.Order{}).
		Scopes(scope).
		Preload("Driver").
		Preload("Client").
		Order(order).
		Offset(offset).Limit(filter.Limit).
		Find(&orders).Error; err != nil {
		return nil, 0, err
	}

	return orders, total, nil
}
