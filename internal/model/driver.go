package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Driver is an in-house courier that orders can be assigned to
type Driver struct {
	ID        uuid.UUID      `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	Name      string         `gorm:"type:varchar(255);not null" json:"name"`
	Phone     string         `gorm:"type:varchar(50)" json:"phone"`
	Vehicle   string         `gorm:"type:varchar(100)" json:"vehicle"`
	IsActive  bool           `gorm:"default:true" json:"is_active"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
}
