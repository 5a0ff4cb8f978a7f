package database

import (
	"context"
	"fmt"
	"time"

	"deliveryerp/internal/model"
	"deliveryerp/internal/repository"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// NewConnection opens the pool, migrates the schema and makes sure the cashbox row exists.
func NewConnection(dsn string, log *zap.Logger) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(25)
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetConnMaxLifetime(30 * time.Minute)

	if err := db.AutoMigrate(
		&model.Driver{},
		&model.Client{},
		&model.Order{},
		&model.Cashbox{},
		&model.CashboxEntry{},
		&model.AuditLog{},
	); err != nil {
		return nil, fmt.Errorf("failed to auto-migrate models: %w", err)
	}

	if err := EnsureCashbox(context.Background(), db); err != nil {
		return nil, err
	}

	log.Info("database ready")
	return db, nil
}

// EnsureCashbox creates the singleton cashbox row on first start.
func EnsureCashbox(ctx context.Context, db *gorm.DB) error {
	if err := repository.NewCashboxRepository(db).Ensure(ctx); err != nil {
		return fmt.Errorf("failed to create cashbox: %w", err)
	}
	return nil
}
