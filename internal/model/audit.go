package model

import (
	"time"

	"github.com/google/uuid"
)

const (
	ActionCreateOrder       = "CREATE_ORDER"
	ActionUpdateOrder       = "UPDATE_ORDER"
	ActionCompleteOrder     = "COMPLETE_ORDER"
	ActionAccountingCashed  = "ACCOUNTING_CASHED"
	ActionMoveToHistory     = "MOVE_TO_HISTORY"
	ActionCashOutOnCreate   = "CASHBOX_CASH_OUT_ON_CREATE"
	ActionCreditOnDelivery  = "CASHBOX_CREDIT_ON_DELIVERY"
	ActionCashboxIncome     = "CASHBOX_INCOME"
	ActionCashboxExpense    = "CASHBOX_EXPENSE"
	ActionCashboxTransfer   = "CASHBOX_TRANSFER"
	ActionCashboxSetCapital = "CASHBOX_SET_CAPITAL"
	ActionCreateDriver      = "CREATE_DRIVER"
	ActionUpdateDriver      = "UPDATE_DRIVER"
	ActionDeleteDriver      = "DELETE_DRIVER"
	ActionCreateClient      = "CREATE_CLIENT"
	ActionUpdateClient      = "UPDATE_CLIENT"
	ActionDeleteClient      = "DELETE_CLIENT"
)

// AuditLog tracks Who, What, and When for order and cashbox changes
type AuditLog struct {
	ID         uuid.UUID  `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	UserID     *uuid.UUID `gorm:"type:uuid;index" json:"user_id"` // nil for scheduled jobs
	Action     string     `gorm:"type:varchar(50);not null;index" json:"action"`
	EntityID   string     `gorm:"type:varchar(50);index" json:"entity_id"`
	EntityName string     `gorm:"type:varchar(255)" json:"entity_name,omitempty"`
	Details    string     `gorm:"type:jsonb" json:"details"`
	CreatedAt  time.Time  `gorm:"index" json:"created_at"`
}
