package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"deliveryerp/internal/model"
	"deliveryerp/internal/money"
	"deliveryerp/internal/repository"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/jinzhu/copier"
)

// --- DTOs ---

type CreateClientRequest struct {
	Name                  string `json:"name" binding:"required,max=255"`
	BusinessName          string `json:"business_name" binding:"max=255"`
	Phone                 string `json:"phone" binding:"max=50"`
	Email                 string `json:"email" binding:"omitempty,email"`
	Address               string `json:"address"`
	DefaultDeliveryMethod string `json:"default_delivery_method"`
	Notes                 string `json:"notes"`
}

type UpdateClientRequest struct {
	Name                  *string `json:"name" binding:"omitempty,max=255"`
	BusinessName          *string `json:"business_name" binding:"omitempty,max=255"`
	Phone                 *string `json:"phone" binding:"omitempty,max=50"`
	Email                 *string `json:"email" binding:"omitempty,email"`
	Address               *string `json:"address"`
	DefaultDeliveryMethod *string `json:"default_delivery_method"`
	Notes                 *string `json:"notes"`
	IsActive              *bool   `json:"is_active"`
}

type ClientResponse struct {
	ID                    uuid.UUID `json:"id"`
	Name                  string    `json:"name"`
	BusinessName          string    `json:"business_name"`
	Phone                 string    `json:"phone"`
	Email                 string    `json:"email"`
	Address               string    `json:"address"`
	DefaultDeliveryMethod string    `json:"default_delivery_method"`
	Notes                 string    `json:"notes"`
	IsActive              bool      `json:"is_active"`
	CreatedAt             time.Time `json:"created_at"`
	UpdatedAt             time.Time `json:"updated_at"`
}

// --- Interface ---

type ClientService interface {
	CreateClient(ctx context.Context, userID string, req CreateClientRequest) (ClientResponse, error)
	UpdateClient(ctx context.Context, userID, id string, req UpdateClientRequest) (ClientResponse, error)
	DeleteClient(ctx context.Context, userID, id string) error
	GetClient(ctx context.Context, id string) (ClientResponse, error)
	GetClients(ctx context.Context, search string, page, limit int) ([]ClientResponse, int64, error)
}

// --- Implementation ---

type clientService struct {
	clientRepo repository.ClientRepository
	audit      AuditService
	txManager  repository.TransactionManager
}

func NewClientService(clientRepo repository.ClientRepository, audit AuditService, txManager repository.TransactionManager) ClientService {
	return &clientService{clientRepo: clientRepo, audit: audit, txManager: txManager}
}

// fieldValidator checks values that also reach the service outside gin binding.
var fieldValidator = validator.New()

func validateEmail(email string) error {
	if err := fieldValidator.Var(email, "omitempty,email"); err != nil {
		return invalid("email", "invalid email format")
	}
	return nil
}

func (s *clientService) CreateClient(ctx context.Context, userID string, req CreateClientRequest) (ClientResponse, error) {
	if strings.TrimSpace(req.Name) == "" {
		return ClientResponse{}, invalid("name", "is required")
	}
	if err := validateEmail(req.Email); err != nil {
		return ClientResponse{}, err
	}

	client := &model.Client{IsActive: true}
	if err := copier.Copy(client, &req); err != nil {
		return ClientResponse{}, fmt.Errorf("failed to map client: %w", err)
	}
	client.DefaultDeliveryMethod = money.NormalizeDeliveryMethod(req.DefaultDeliveryMethod)

	err := s.txManager.RunInTx(ctx, func(txCtx context.Context) error {
		if err := s.clientRepo.Create(txCtx, client); err != nil {
			return fmt.Errorf("failed to create client: %w", err)
		}
		return s.audit.Record(txCtx, actorID(userID), model.ActionCreateClient, client.ID.String(), client.Name, req)
	})
	if err != nil {
		return ClientResponse{}, err
	}

	return toClientResponse(*client), nil
}

func (s *clientService) UpdateClient(ctx context.Context, userID, id string, req UpdateClientRequest) (ClientResponse, error) {
	uid, err := parseID("id", id)
	if err != nil {
		return ClientResponse{}, err
	}
	if req.Name != nil && strings.TrimSpace(*req.Name) == "" {
		return ClientResponse{}, invalid("name", "cannot be empty")
	}
	if req.Email != nil {
		if err := validateEmail(*req.Email); err != nil {
			return ClientResponse{}, err
		}
	}

	var client *model.Client
	err = s.txManager.RunInTx(ctx, func(txCtx context.Context) error {
		var err error
		client, err = s.clientRepo.FindByID(txCtx, uid)
		if err != nil {
			return notFound("client", err)
		}
		if err := copier.CopyWithOption(client, &req, copier.Option{IgnoreEmpty: true}); err != nil {
			return fmt.Errorf("failed to map client: %w", err)
		}
		if req.DefaultDeliveryMethod != nil {
			client.DefaultDeliveryMethod = money.NormalizeDeliveryMethod(*req.DefaultDeliveryMethod)
		}
		if err := s.clientRepo.Update(txCtx, client); err != nil {
			return fmt.Errorf("failed to update client: %w", err)
		}
		return s.audit.Record(txCtx, actorID(userID), model.ActionUpdateClient, client.ID.String(), client.Name, req)
	})
	if err != nil {
		return ClientResponse{}, err
	}

	return toClientResponse(*client), nil
}

func (s *clientService) DeleteClient(ctx context.Context, userID, id string) error {
	uid, err := parseID("id", id)
	if err != nil {
		return err
	}
	return s.txManager.RunInTx(ctx, func(txCtx context.Context) error {
		client, err := s.clientRepo.FindByID(txCtx, uid)
		if err != nil {
			return notFound("client", err)
		}
		if err := s.clientRepo.Delete(txCtx, uid); err != nil {
			return fmt.Errorf("failed to delete client: %w", err)
		}
		return s.audit.Record(txCtx, actorID(userID), model.ActionDeleteClient, uid.String(), client.Name, map[string]bool{"deleted": true})
	})
}

func (s *clientService) GetClient(ctx context.Context, id string) (ClientResponse, error) {
	uid, err := parseID("id", id)
	if err != nil {
		return ClientResponse{}, err
	}
	client, err := s.clientRepo.FindByID(ctx, uid)
	if err != nil {
		return ClientResponse{}, notFound("client", err)
	}
	return toClientResponse(*client), nil
}

func (s *clientService) GetClients(ctx context.Context, search string, page, limit int) ([]ClientResponse, int64, error) {
	clients, total, err := s.clientRepo.List(ctx, strings.TrimSpace(search), page, limit)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to fetch clients: %w", err)
	}

	res := make([]ClientResponse, 0, len(clients))
	for _, c := range clients {
		res = append(res, toClientResponse(c))
	}
	return res, total, nil
}

func toClientResponse(c model.Client) ClientResponse {
	return ClientResponse{
		ID:                    c.ID,
		Name:                  c.Name,
		BusinessName:          c.BusinessName,
		Phone:                 c.Phone,
		Email:                 c.Email,
		Address:               c.Address,
		DefaultDeliveryMethod: c.DefaultDeliveryMethod,
		Notes:                 c.Notes,
		IsActive:              c.IsActive,
		CreatedAt:             c.CreatedAt,
		UpdatedAt:             c.UpdatedAt,
	}
}
