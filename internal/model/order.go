package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// OrderType values
const (
	OrderTypeEcommerce   = "ecommerce"
	OrderTypeInstant     = "instant"
	OrderTypeGoToMarket  = "go_to_market"
	DeliveryInHouse      = "in_house"
	DeliveryThirdParty   = "third_party"
	PaymentAccountCash   = "cash"
	PaymentAccountWish   = "wish"
	DefaultOrderStatus   = "new"
	DefaultPaymentStatus = "unpaid"
)

// Order is a delivery job together with the money it moves through the cashbox.
// USD columns keep 2 decimals, LBP columns are whole units.
type Order struct {
	ID             uuid.UUID `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	OrderRef       string    `gorm:"type:varchar(40);uniqueIndex;not null" json:"order_ref"`
	Type           string    `gorm:"type:varchar(20);not null;default:'ecommerce'" json:"type"`
	DeliverMethod  string    `gorm:"type:varchar(20);not null;default:'in_house'" json:"deliver_method"`
	IsPurchase     bool      `gorm:"default:false" json:"is_purchase"`
	PaymentAccount string    `gorm:"type:varchar(10);not null;default:'cash'" json:"payment_account"`
	Status         string    `gorm:"type:varchar(20);not null;default:'new';index" json:"status"`
	PaymentStatus  string    `gorm:"type:varchar(20);not null;default:'unpaid';index" json:"payment_status"`

	TotalUSD         decimal.Decimal `gorm:"type:decimal(14,2);not null;default:0" json:"total_usd"`
	TotalLBP         decimal.Decimal `gorm:"type:decimal(18,0);not null;default:0" json:"total_lbp"`
	DeliveryFeeUSD   decimal.Decimal `gorm:"type:decimal(14,2);not null;default:0" json:"delivery_fee_usd"`
	DeliveryFeeLBP   decimal.Decimal `gorm:"type:decimal(18,0);not null;default:0" json:"delivery_fee_lbp"`
	ThirdPartyFeeUSD decimal.Decimal `gorm:"type:decimal(14,2);not null;default:0" json:"third_party_fee_usd"`
	ThirdPartyFeeLBP decimal.Decimal `gorm:"type:decimal(18,0);not null;default:0" json:"third_party_fee_lbp"`
	DriverFeeUSD     decimal.Decimal `gorm:"type:decimal(14,2);not null;default:0" json:"driver_fee_usd"`
	DriverFeeLBP     decimal.Decimal `gorm:"type:decimal(18,0);not null;default:0" json:"driver_fee_lbp"`
	ComputedTotalUSD decimal.Decimal `gorm:"type:decimal(14,2);not null;default:0" json:"computed_total_usd"`
	ComputedTotalLBP decimal.Decimal `gorm:"type:decimal(18,0);not null;default:0" json:"computed_total_lbp"`

	CashboxAppliedOnCreate   bool       `gorm:"default:false;not null" json:"cashbox_applied_on_create"`
	CashboxAppliedOnDelivery bool       `gorm:"default:false;not null" json:"cashbox_applied_on_delivery"`
	AccountingCashed         bool       `gorm:"default:false;not null" json:"accounting_cashed"`
	MovedToHistory           bool       `gorm:"default:false;not null;index" json:"moved_to_history"`
	MovedAt                  *time.Time `json:"moved_at"`
	DeliveredAt              *time.Time `json:"delivered_at"`
	CompletedAt              *time.Time `json:"completed_at"`

	DriverID       *uuid.UUID `gorm:"type:uuid;index" json:"driver_id"`
	Driver         *Driver    `gorm:"foreignKey:DriverID" json:"driver,omitempty"`
	ClientID       *uuid.UUID `gorm:"type:uuid;index" json:"client_id"`
	Client         *Client    `gorm:"foreignKey:ClientID" json:"client,omitempty"`
	ThirdPartyID   *uuid.UUID `gorm:"type:uuid" json:"third_party_id"`
	ThirdPartyName string     `gorm:"type:varchar(255)" json:"third_party_name"`

	CustomerName  string     `gorm:"type:varchar(255)" json:"customer_name"`
	CustomerPhone string     `gorm:"type:varchar(50)" json:"customer_phone"`
	Address       string     `gorm:"type:text" json:"address"`
	Notes         string     `gorm:"type:text" json:"notes"`
	CreatedBy     *uuid.UUID `gorm:"type:uuid" json:"created_by"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}
