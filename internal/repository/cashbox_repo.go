package repository

import (
	"context"
	"fmt"
	"time"

	"deliveryerp/internal/model"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// EntryFilter narrows the entry listing.
type EntryFilter struct {
	Type        string
	AccountType string
	OrderID     *uuid.UUID
	From        *time.Time
	To          *time.Time
	Page        int
	Limit       int
}

// AccountSum is Σ entries for one account.
type AccountSum struct {
	AccountType string          `gorm:"column:account_type"`
	SumUSD      decimal.Decimal `gorm:"column:sum_usd"`
	SumLBP      decimal.Decimal `gorm:"column:sum_lbp"`
}

// CashflowRow is one period of the cashflow report.
type CashflowRow struct {
	Period     string          `gorm:"column:period"`
	InflowUSD  decimal.Decimal `gorm:"column:inflow_usd"`
	OutflowUSD decimal.Decimal `gorm:"column:outflow_usd"`
	InflowLBP  decimal.Decimal `gorm:"column:inflow_lbp"`
	OutflowLBP decimal.Decimal `gorm:"column:outflow_lbp"`
	Entries    int             `gorm:"column:entries"`
}

type CashboxRepository interface {
	Ensure(ctx context.Context) error
	Get(ctx context.Context) (*model.Cashbox, error)
	GetForUpdate(ctx context.Context) (*model.Cashbox, error)
	GetForShare(ctx context.Context) (*model.Cashbox, error)
	Save(ctx context.Context, box *model.Cashbox) error
	CreateEntry(ctx context.Context, entry *model.CashboxEntry) error
	ListEntries(ctx context.Context, filter EntryFilter) ([]model.CashboxEntry, int64, error)
	SumByAccount(ctx context.Context) ([]AccountSum, error)
	Cashflow(ctx context.Context, groupBy string, start, end time.Time) ([]CashflowRow, error)
}

type cashboxRepository struct {
	db *gorm.DB
}

func NewCashboxRepository(db *gorm.DB) CashboxRepository {
	return &cashboxRepository{db: db}
}

// Ensure creates the singleton row when it does not exist yet.
func (r *cashboxRepository) Ensure(ctx context.Context) error {
	box := model.Cashbox{ID: model.CashboxSingletonID}
	return GetDB(ctx, r.db).Clauses(clause.OnConflict{DoNothing: true}).Create(&box).Error
}

func (r *cashboxRepository) Get(ctx context.Context) (*model.Cashbox, error) {
	var box model.Cashbox
	if err := GetDB(ctx, r.db).First(&box, "id = ?", model.CashboxSingletonID).Error; err != nil {
		return nil, err
	}
	return &box, nil
}

// GetForUpdate locks the singleton row for the rest of the transaction.
func (r *cashboxRepository) GetForUpdate(ctx context.Context) (*model.Cashbox, error) {
	var box model.Cashbox
	if err := GetDB(ctx, r.db).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&box, "id = ?", model.CashboxSingletonID).Error; err != nil {
		return nil, err
	}
	return &box, nil
}

// GetForShare blocks ledger writers until the caller's transaction ends
// without blocking other readers.
func (r *cashboxRepository) GetForShare(ctx context.Context) (*model.Cashbox, error) {
	var box model.Cashbox
	if err := GetDB(ctx, r.db).
		Clauses(clause.Locking{Strength: "SHARE"}).
		First(&box, "id = ?", model.CashboxSingletonID).Error; err != nil {
		return nil, err
	}
	return &box, nil
}

func (r *cashboxRepository) Save(ctx context.Context, box *model.Cashbox) error {
	return GetDB(ctx, r.db).Save(box).Error
}

func (r *cashboxRepository) CreateEntry(ctx context.Context, entry *model.CashboxEntry) error {
	return GetDB(ctx, r.db).Create(entry).Error
}

func (r *cashboxRepository) ListEntries(ctx context.Context, filter EntryFilter) ([]model.CashboxEntry, int64, error) {
	var entries []model.CashboxEntry
	var total int64

	db := GetDB(ctx, r.db)
	scope := func(q *gorm.DB) *gorm.DB {
		if filter.Type != "" {
			q = q.Where("type = ?", filter.Type)
		}
		if filter.AccountType != "" {
			q = q.Where("account_type = ?", filter.AccountType)
		}
		if filter.OrderID != nil {
			q = q.Where("order_id = ?", *filter.OrderID)
		}
		if filter.From != nil {
			q = q.Where("created_at >= ?", *filter.From)
		}
		if filter.To != nil {
			q = q.Where("created_at <= ?", *filter.To)
		}
		return q
	}

	if err := db.Model(&model.CashboxEntry{}).Scopes(scope).Count(&total).Error; err != nil {
		return nil, 0, err
	}

	offset := (filter.Page - 1) * filter.Limit
	if err := db.Scopes(scope).Order("created_at DESC").Offset(offset).Limit(filter.Limit).Find(&entries).Error; err != nil {
		return nil, 0, err
	}
	return entries, total, nil
}

func (r *cashboxRepository) SumByAccount(ctx context.Context) ([]AccountSum, error) {
	var sums []AccountSum
	if err := GetDB(ctx, r.db).Model(&model.CashboxEntry{}).
		Select("account_type, COALESCE(SUM(amount_usd), 0) AS sum_usd, COALESCE(SUM(amount_lbp), 0) AS sum_lbp").
		Group("account_type").
		Scan(&sums).Error; err != nil {
		return nil, fmt.Errorf("failed to sum cashbox entries: %w", err)
	}
	return sums, nil
}

// Cashflow groups entries per DATE_TRUNC period. Transfers are excluded since they net to zero.
func (r *cashboxRepository) Cashflow(ctx context.Context, groupBy string, start, end time.Time) ([]CashflowRow, error) {
	query := `
		SELECT
			TO_CHAR(DATE_TRUNC($1, e.created_at), 'YYYY-MM-DD') AS period,
			COALESCE(SUM(CASE WHEN e.amount_usd > 0 THEN e.amount_usd ELSE 0 END), 0) AS inflow_usd,
			COALESCE(SUM(CASE WHEN e.amount_usd < 0 THEN -e.amount_usd ELSE 0 END), 0) AS outflow_usd,
			COALESCE(SUM(CASE WHEN e.amount_lbp > 0 THEN e.amount_lbp ELSE 0 END), 0) AS inflow_lbp,
			COALESCE(SUM(CASE WHEN e.amount_lbp < 0 THEN -e.amount_lbp ELSE 0 END), 0) AS outflow_lbp,
			COUNT(*) AS entries
		FROM cashbox_entries e
		WHERE e.type NOT IN ($4, $5)
		  AND e.created_at >= $2
		  AND e.created_at <= $3
		GROUP BY DATE_TRUNC($1, e.created_at)
		ORDER BY period
	`

	var rows []CashflowRow
	if err := GetDB(ctx, r.db).Raw(query,
		groupBy,
		start,
		end,
		model.EntryTransferIn,
		model.EntryTransferOut,
	).Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to query cashflow: %w", err)
	}
	return rows, nil
}
