package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// CashboxSingletonID is the primary key of the only cashbox row.
const CashboxSingletonID = 1

// Account types a cashbox balance is split into
const (
	AccountCash = "cash"
	AccountWish = "wish"
)

// Entry types
const (
	EntryCashIn      = "cash_in"
	EntryCashOut     = "cash_out"
	EntryIncome      = "income"
	EntryExpense     = "expense"
	EntryCapitalAdd  = "capital_add"
	EntryCapitalEdit = "capital_edit"
	EntryTransferOut = "transfer_out"
	EntryTransferIn  = "transfer_in"
)

// Cashbox holds the aggregate and per-account balances in both currencies.
// Balance always equals cash + wish for each currency.
type Cashbox struct {
	ID                uint            `gorm:"primaryKey;autoIncrement:false" json:"id"`
	BalanceUSD        decimal.Decimal `gorm:"type:decimal(14,2);not null;default:0" json:"balance_usd"`
	BalanceLBP        decimal.Decimal `gorm:"type:decimal(18,0);not null;default:0" json:"balance_lbp"`
	CashBalanceUSD    decimal.Decimal `gorm:"type:decimal(14,2);not null;default:0" json:"cash_balance_usd"`
	CashBalanceLBP    decimal.Decimal `gorm:"type:decimal(18,0);not null;default:0" json:"cash_balance_lbp"`
	WishBalanceUSD    decimal.Decimal `gorm:"type:decimal(14,2);not null;default:0" json:"wish_balance_usd"`
	WishBalanceLBP    decimal.Decimal `gorm:"type:decimal(18,0);not null;default:0" json:"wish_balance_lbp"`
	InitialCapitalUSD decimal.Decimal `gorm:"type:decimal(14,2);not null;default:0" json:"initial_capital_usd"`
	InitialCapitalLBP decimal.Decimal `gorm:"type:decimal(18,0);not null;default:0" json:"initial_capital_lbp"`
	CapitalSet        bool            `gorm:"default:false;not null" json:"capital_set"`
	CapitalAccount    string          `gorm:"type:varchar(10);not null;default:'cash'" json:"capital_account"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

// CashboxEntry is one row of the append-only reconciliation trail.
// Amounts are signed: negative values left the account.
type CashboxEntry struct {
	ID          uuid.UUID       `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	Type        string          `gorm:"type:varchar(20);not null;index" json:"type"`
	AccountType string          `gorm:"type:varchar(10);not null;index" json:"account_type"`
	AmountUSD   decimal.Decimal `gorm:"type:decimal(14,2);not null;default:0" json:"amount_usd"`
	AmountLBP   decimal.Decimal `gorm:"type:decimal(18,0);not null;default:0" json:"amount_lbp"`
	OrderID     *uuid.UUID      `gorm:"type:uuid;index" json:"order_id"`
	OrderRef    string          `gorm:"type:varchar(40)" json:"order_ref"`
	Description string          `gorm:"type:text" json:"description"`
	CreatedBy   *uuid.UUID      `gorm:"type:uuid" json:"created_by"`
	CreatedAt   time.Time       `gorm:"index" json:"created_at"`
}
