package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Client represents a CRM account placing delivery orders
type Client struct {
	ID                    uuid.UUID      `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	Name                  string         `gorm:"type:varchar(255);not null" json:"name"`
	BusinessName          string         `gorm:"type:varchar(255)" json:"business_name"`
	Phone                 string         `gorm:"type:varchar(50);index" json:"phone"`
	Email                 string         `gorm:"type:varchar(255)" json:"email"`
	Address               string         `gorm:"type:text" json:"address"`
	DefaultDeliveryMethod string         `gorm:"type:varchar(20);default:'in_house'" json:"default_delivery_method"`
	Notes                 string         `gorm:"type:text" json:"notes"`
	IsActive              bool           `gorm:"default:true" json:"is_active"`
	CreatedAt             time.Time      `json:"created_at"`
	UpdatedAt             time.Time      `json:"updated_at"`
	DeletedAt             gorm.DeletedAt `gorm:"index" json:"-"`
}
