package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"deliveryerp/internal/model"
	"deliveryerp/internal/repository"

	"github.com/google/uuid"
	"github.com/jinzhu/copier"
)

// --- DTOs ---

type CreateDriverRequest struct {
	Name    string `json:"name" binding:"required,max=255"`
	Phone   string `json:"phone" binding:"max=50"`
	Vehicle string `json:"vehicle" binding:"max=100"`
}

type UpdateDriverRequest struct {
	Name     *string `json:"name" binding:"omitempty,max=255"`
	Phone    *string `json:"phone" binding:"omitempty,max=50"`
	Vehicle  *string `json:"vehicle" binding:"omitempty,max=100"`
	IsActive *bool   `json:"is_active"`
}

type DriverResponse struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	Phone     string    `json:"phone"`
	Vehicle   string    `json:"vehicle"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// --- Interface ---

type DriverService interface {
	CreateDriver(ctx context.Context, userID string, req CreateDriverRequest) (DriverResponse, error)
	UpdateDriver(ctx context.Context, userID, id string, req UpdateDriverRequest) (DriverResponse, error)
	DeleteDriver(ctx context.Context, userID, id string) error
	GetDrivers(ctx context.Context, search string, activeOnly bool, page, limit int) ([]DriverResponse, int64, error)
}

// --- Implementation ---

type driverService struct {
	driverRepo repository.DriverRepository
	audit      AuditService
	txManager  repository.TransactionManager
}

func NewDriverService(driverRepo repository.DriverRepository, audit AuditService, txManager repository.TransactionManager) DriverService {
	return &driverService{driverRepo: driverRepo, audit: audit, txManager: txManager}
}

func (s *driverService) CreateDriver(ctx context.Context, userID string, req CreateDriverRequest) (DriverResponse, error) {
	if strings.TrimSpace(req.Name) == "" {
		return DriverResponse{}, invalid("name", "is required")
	}

	driver := &model.Driver{IsActive: true}
	if err := copier.Copy(driver, &req); err != nil {
		return DriverResponse{}, fmt.Errorf("failed to map driver: %w", err)
	}

	err := s.txManager.RunInTx(ctx, func(txCtx context.Context) error {
		if err := s.driverRepo.Create(txCtx, driver); err != nil {
			return fmt.Errorf("failed to create driver: %w", err)
		}
		return s.audit.Record(txCtx, actorID(userID), model.ActionCreateDriver, driver.ID.String(), driver.Name, req)
	})
	if err != nil {
		return DriverResponse{}, err
	}

	return toDriverResponse(*driver), nil
}

func (s *driverService) UpdateDriver(ctx context.Context, userID, id string, req UpdateDriverRequest) (DriverResponse, error) {
	uid, err := parseID("id", id)
	if err != nil {
		return DriverResponse{}, err
	}
	if req.Name != nil && strings.TrimSpace(*req.Name) == "" {
		return DriverResponse{}, invalid("name", "cannot be empty")
	}

	var driver *model.Driver
	err = s.txManager.RunInTx(ctx, func(txCtx context.Context) error {
		var err error
		driver, err = s.driverRepo.FindByID(txCtx, uid)
		if err != nil {
			return notFound("driver", err)
		}
		// nil pointers are skipped, so only the fields that were sent change
		if err := copier.CopyWithOption(driver, &req, copier.Option{IgnoreEmpty: true}); err != nil {
			return fmt.Errorf("failed to map driver: %w", err)
		}
		if err := s.driverRepo.Update(txCtx, driver); err != nil {
			return fmt.Errorf("failed to update driver: %w", err)
		}
		return s.audit.Record(txCtx, actorID(userID), model.ActionUpdateDriver, driver.ID.String(), driver.Name, req)
	})
	if err != nil {
		return DriverResponse{}, err
	}

	return toDriverResponse(*driver), nil
}

func (s *driverService) DeleteDriver(ctx context.Context, userID, id string) error {
	uid, err := parseID("id", id)
	if err != nil {
		return err
	}
	return s.txManager.RunInTx(ctx, func(txCtx context.Context) error {
		driver, err := s.driverRepo.FindByID(txCtx, uid)
		if err != nil {
			return notFound("driver", err)
		}
		if err := s.driverRepo.Delete(txCtx, uid); err != nil {
			return fmt.Errorf("failed to delete driver: %w", err)
		}
		return s.audit.Record(txCtx, actorID(userID), model.ActionDeleteDriver, uid.String(), driver.Name, map[string]bool{"deleted": true})
	})
}

func (s *driverService) GetDrivers(ctx context.Context, search string, activeOnly bool, page, limit int) ([]DriverResponse, int64, error) {
	drivers, total, err := s.driverRepo.List(ctx, strings.TrimSpace(search), activeOnly, page, limit)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to fetch drivers: %w", err)
	}

	res := make([]DriverResponse, 0, len(drivers))
	for _, d := range drivers {
		res = append(res, toDriverResponse(d))
	}
	return res, total, nil
}

func toDriverResponse(d model.Driver) DriverResponse {
	return DriverResponse{
		ID:        d.ID,
		Name:      d.Name,
		Phone:     d.Phone,
		Vehicle:   d.Vehicle,
		IsActive:  d.IsActive,
		CreatedAt: d.CreatedAt,
		UpdatedAt: d.UpdatedAt,
	}
}
