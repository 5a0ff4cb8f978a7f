package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"deliveryerp/internal/model"
	"deliveryerp/internal/money"
	"deliveryerp/internal/repository"
	"deliveryerp/internal/workflow"
	"deliveryerp/pkg/pagination"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// --- DTOs ---

// OrderMoney carries the raw money fields as decimal strings.
type OrderMoney struct {
	TotalUSD         string `json:"total_usd" binding:"omitempty,decimal"`
	TotalLBP         string `json:"total_lbp" binding:"omitempty,decimal"`
	DeliveryFeeUSD   string `json:"delivery_fee_usd" binding:"omitempty,decimal"`
	DeliveryFeeLBP   string `json:"delivery_fee_lbp" binding:"omitempty,decimal"`
	ThirdPartyFeeUSD string `json:"third_party_fee_usd" binding:"omitempty,decimal"`
	ThirdPartyFeeLBP string `json:"third_party_fee_lbp" binding:"omitempty,decimal"`
	DriverFeeUSD     string `json:"driver_fee_usd" binding:"omitempty,decimal"`
	DriverFeeLBP     string `json:"driver_fee_lbp" binding:"omitempty,decimal"`
}

type CreateOrderRequest struct {
	OrderMoney
	OrderRef       string  `json:"order_ref" binding:"max=40"`
	Type           string  `json:"type"`
	DeliverMethod  string  `json:"deliver_method"`
	DeliveryMode   string  `json:"delivery_mode"` // alias of deliver_method
	IsPurchase     bool    `json:"is_purchase"`
	PaymentAccount string  `json:"payment_account"`
	Status         string  `json:"status"`
	PaymentStatus  string  `json:"payment_status"`
	DriverID       *string `json:"driver_id"`
	ClientID       *string `json:"client_id"`
	ThirdPartyID   *string `json:"third_party_id"`
	ThirdPartyName string  `json:"third_party_name"`
	CustomerName   string  `json:"customer_name" binding:"max=255"`
	CustomerPhone  string  `json:"customer_phone" binding:"max=50"`
	Address        string  `json:"address"`
	Notes          string  `json:"notes"`
}

// UpdateOrderRequest has PATCH semantics: nil leaves a field unchanged,
// an empty string clears driver_id, client_id and third_party_id.
type UpdateOrderRequest struct {
	Type             *string `json:"type"`
	DeliverMethod    *string `json:"deliver_method"`
	DeliveryMode     *string `json:"delivery_mode"`
	IsPurchase       *bool   `json:"is_purchase"`
	PaymentAccount   *string `json:"payment_account"`
	Status           *string `json:"status"`
	PaymentStatus    *string `json:"payment_status"`
	TotalUSD         *string `json:"total_usd" binding:"omitempty,decimal"`
	TotalLBP         *string `json:"total_lbp" binding:"omitempty,decimal"`
	DeliveryFeeUSD   *string `json:"delivery_fee_usd" binding:"omitempty,decimal"`
	DeliveryFeeLBP   *string `json:"delivery_fee_lbp" binding:"omitempty,decimal"`
	ThirdPartyFeeUSD *string `json:"third_party_fee_usd" binding:"omitempty,decimal"`
	ThirdPartyFeeLBP *string `json:"third_party_fee_lbp" binding:"omitempty,decimal"`
	DriverFeeUSD     *string `json:"driver_fee_usd" binding:"omitempty,decimal"`
	DriverFeeLBP     *string `json:"driver_fee_lbp" binding:"omitempty,decimal"`
	DriverID         *string `json:"driver_id"`
	ClientID         *string `json:"client_id"`
	ThirdPartyID     *string `json:"third_party_id"`
	ThirdPartyName   *string `json:"third_party_name"`
	CustomerName     *string `json:"customer_name"`
	CustomerPhone    *string `json:"customer_phone"`
	Address          *string `json:"address"`
	Notes            *string `json:"notes"`
	AccountingCashed *bool   `json:"accounting_cashed"`
}

type EstimateRequest struct {
	OrderMoney
	Type          string `json:"type"`
	DeliverMethod string `json:"deliver_method"`
	DeliveryMode  string `json:"delivery_mode"`
}

type OrderListQuery struct {
	Status   string
	DriverID string
	ClientID string
	Search   string
	Page     int
	Limit    int
}

// OrderResponse is the stored order plus the display fields derived from it.
type OrderResponse struct {
	model.Order
	DeliveryFeesUSDShown decimal.Decimal `json:"delivery_fees_usd_shown"`
	DeliveryFeesLBPShown decimal.Decimal `json:"delivery_fees_lbp_shown"`
	ShowDeliveryFees     bool            `json:"show_delivery_fees"`
}

// LedgerWarning reports a cash effect that did not go through although the order was saved.
type LedgerWarning struct {
	Effect  string `json:"effect"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Warning codes that are not SQLSTATEs
const (
	WarnLedgerError            = "ledger_error"
	WarnAmountChangedAfterCash = "amount_changed_after_cash_effect"
	WarnPaymentAccountLocked   = "payment_account_locked"
)

type OrderResult struct {
	Order    OrderResponse   `json:"order"`
	Warnings []LedgerWarning `json:"warnings,omitempty"`
}

// --- Interface ---

type OrderService interface {
	CreateOrder(ctx context.Context, userID string, req CreateOrderRequest) (OrderResult, error)
	UpdateOrder(ctx context.Context, userID, id string, req UpdateOrderRequest) (OrderResult, error)
	CompleteOrder(ctx context.Context, userID, id string) (OrderResult, error)
	MarkAccountingCashed(ctx context.Context, userID, id string) (OrderResult, error)
	GetOrder(ctx context.Context, id string) (OrderResponse, error)
	ListOrders(ctx context.Context, q OrderListQuery) ([]OrderResponse, int64, error)
	ListHistory(ctx context.Context, page, limit int) ([]OrderResponse, int64, error)
	EstimateOrder(req EstimateRequest) (money.Displayed, error)
	ArchiveEligible(ctx context.Context, limit int) (int, error)
}

// --- Implementation ---

const maxRefAttempts = 5

type orderService struct {
	orderRepo  repository.OrderRepository
	driverRepo repository.DriverRepository
	clientRepo repository.ClientRepository
	effects    CashEffects
	audit      AuditService
	txManager  repository.TransactionManager
	events     Publisher
	log        *zap.Logger
	now        func() time.Time
	newRef     func(time.Time) string
}

func NewOrderService(
	orderRepo repository.OrderRepository,
	driverRepo repository.DriverRepository,
	clientRepo repository.ClientRepository,
	effects CashEffects,
	audit AuditService,
	txManager repository.TransactionManager,
	events Publisher,
	log *zap.Logger,
) OrderService {
	if events == nil {
		events = NopPublisher{}
	}
	return &orderService{
		orderRepo:  orderRepo,
		driverRepo: driverRepo,
		clientRepo: clientRepo,
		effects:    effects,
		audit:      audit,
		txManager:  txManager,
		events:     events,
		log:        log,
		now:        time.Now,
		newRef:     newOrderRef,
	}
}

// newOrderRef builds ORD-YYMMDD-XXXXXXXX from the random tail of a ULID.
func newOrderRef(t time.Time) string {
	id := ulid.Make().String()
	return "ORD-" + t.Format("060102") + "-" + id[len(id)-8:]
}

var validOrderTypes = map[string]bool{
	model.OrderTypeEcommerce:  true,
	model.OrderTypeInstant:    true,
	model.OrderTypeGoToMarket: true,
}

func normalizeOrderType(raw string) (string, error) {
	t := strings.ToLower(strings.TrimSpace(raw))
	if t == "" {
		return model.OrderTypeEcommerce, nil
	}
	if !validOrderTypes[t] {
		return "", invalid("type", "must be one of: ecommerce, instant, go_to_market")
	}
	return t, nil
}

func normalizePaymentAccount(raw string) (string, error) {
	a := normalizeAccount(raw)
	if !validAccounts[a] {
		return "", invalid("payment_account", "must be one of: cash, wish")
	}
	return a, nil
}

// parseAmount reads one non-negative money field rounded to its currency.
func parseAmount(field, raw string, round func(decimal.Decimal) decimal.Decimal) (decimal.Decimal, error) {
	d, err := money.ParseField(field, raw)
	if err != nil {
		return decimal.Zero, err
	}
	if d.IsNegative() {
		return decimal.Zero, invalid(field, "must not be negative")
	}
	return round(d), nil
}

type amountField struct {
	name  string
	raw   *string
	dst   *decimal.Decimal
	round func(decimal.Decimal) decimal.Decimal
}

func moneyFields(o *model.Order, m *OrderMoney) []amountField {
	return []amountField{
		{"total_usd", &m.TotalUSD, &o.TotalUSD, money.USD},
		{"total_lbp", &m.TotalLBP, &o.TotalLBP, money.LBP},
		{"delivery_fee_usd", &m.DeliveryFeeUSD, &o.DeliveryFeeUSD, money.USD},
		{"delivery_fee_lbp", &m.DeliveryFeeLBP, &o.DeliveryFeeLBP, money.LBP},
		{"third_party_fee_usd", &m.ThirdPartyFeeUSD, &o.ThirdPartyFeeUSD, money.USD},
		{"third_party_fee_lbp", &m.ThirdPartyFeeLBP, &o.ThirdPartyFeeLBP, money.LBP},
		{"driver_fee_usd", &m.DriverFeeUSD, &o.DriverFeeUSD, money.USD},
		{"driver_fee_lbp", &m.DriverFeeLBP, &o.DriverFeeLBP, money.LBP},
	}
}

func patchMoneyFields(o *model.Order, req *UpdateOrderRequest) []amountField {
	return []amountField{
		{"total_usd", req.TotalUSD, &o.TotalUSD, money.USD},
		{"total_lbp", req.TotalLBP, &o.TotalLBP, money.LBP},
		{"delivery_fee_usd", req.DeliveryFeeUSD, &o.DeliveryFeeUSD, money.USD},
		{"delivery_fee_lbp", req.DeliveryFeeLBP, &o.DeliveryFeeLBP, money.LBP},
		{"third_party_fee_usd", req.ThirdPartyFeeUSD, &o.ThirdPartyFeeUSD, money.USD},
		{"third_party_fee_lbp", req.ThirdPartyFeeLBP, &o.ThirdPartyFeeLBP, money.LBP},
		{"driver_fee_usd", req.DriverFeeUSD, &o.DriverFeeUSD, money.USD},
		{"driver_fee_lbp", req.DriverFeeLBP, &o.DriverFeeLBP, money.LBP},
	}
}

func setAmounts(fields []amountField) error {
	for _, f := range fields {
		if f.raw == nil {
			continue
		}
		d, err := parseAmount(f.name, *f.raw, f.round)
		if err != nil {
			return err
		}
		*f.dst = d
	}
	return nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func snapshotOf(o *model.Order) workflow.Snapshot {
	return workflow.Snapshot{
		Status:            workflow.Status(o.Status),
		Payment:           workflow.PaymentStatus(o.PaymentStatus),
		OrderType:         o.Type,
		IsPurchase:        o.IsPurchase,
		HasDriver:         o.DriverID != nil,
		AccountingCashed:  o.AccountingCashed,
		AppliedOnCreate:   o.CashboxAppliedOnCreate,
		AppliedOnDelivery: o.CashboxAppliedOnDelivery,
		MovedToHistory:    o.MovedToHistory,
	}
}

// setComputedTotal stores the server-canonical total.
func setComputedTotal(o *model.Order) {
	d := orderAmounts(o)
	o.ComputedTotalUSD = d.ComputedTotalUSD
	o.ComputedTotalLBP = d.ComputedTotalLBP
}

func applyStamps(o *model.Order, plan workflow.Plan, now time.Time) {
	if plan.Has(workflow.EffectStampDelivered) {
		delivered := now
		o.DeliveredAt = &delivered
		o.CompletedAt = &delivered
	}
	if plan.Has(workflow.EffectStampCompleted) && o.CompletedAt == nil {
		completed := now
		o.CompletedAt = &completed
	}
}

func (s *orderService) checkDriver(ctx context.Context, id *uuid.UUID) error {
	if id == nil {
		return nil
	}
	driver, err := s.driverRepo.FindByID(ctx, *id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return invalid("driver_id", "driver %s does not exist", id)
		}
		return fmt.Errorf("failed to load driver: %w", err)
	}
	if !driver.IsActive {
		return invalid("driver_id", "driver %s is inactive", driver.Name)
	}
	return nil
}

func (s *orderService) loadClient(ctx context.Context, id *uuid.UUID) (*model.Client, error) {
	if id == nil {
		return nil, nil
	}
	client, err := s.clientRepo.FindByID(ctx, *id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, invalid("client_id", "client %s does not exist", id)
		}
		return nil, fmt.Errorf("failed to load client: %w", err)
	}
	return client, nil
}

func (s *orderService) newOrder(ctx context.Context, req CreateOrderRequest) (*model.Order, error) {
	order := &model.Order{
		OrderRef:       strings.TrimSpace(req.OrderRef),
		IsPurchase:     req.IsPurchase,
		ThirdPartyName: req.ThirdPartyName,
		CustomerName:   req.CustomerName,
		CustomerPhone:  req.CustomerPhone,
		Address:        req.Address,
		Notes:          req.Notes,
	}

	var err error
	if order.Type, err = normalizeOrderType(req.Type); err != nil {
		return nil, err
	}
	if order.PaymentAccount, err = normalizePaymentAccount(req.PaymentAccount); err != nil {
		return nil, err
	}

	status := workflow.StatusNew
	if req.Status != "" {
		if status, err = workflow.ParseStatus(req.Status); err != nil {
			return nil, err
		}
	}
	payment := workflow.PaymentUnpaid
	if req.PaymentStatus != "" {
		if payment, err = workflow.ParsePaymentStatus(req.PaymentStatus); err != nil {
			return nil, err
		}
	}
	order.Status, order.PaymentStatus = string(status), string(payment)

	m := req.OrderMoney
	if err := setAmounts(moneyFields(order, &m)); err != nil {
		return nil, err
	}

	if order.DriverID, err = parseOptionalID("driver_id", req.DriverID); err != nil {
		return nil, err
	}
	if order.ClientID, err = parseOptionalID("client_id", req.ClientID); err != nil {
		return nil, err
	}
	if order.ThirdPartyID, err = parseOptionalID("third_party_id", req.ThirdPartyID); err != nil {
		return nil, err
	}

	if err := s.checkDriver(ctx, order.DriverID); err != nil {
		return nil, err
	}
	client, err := s.loadClient(ctx, order.ClientID)
	if err != nil {
		return nil, err
	}

	method := firstNonEmpty(req.DeliverMethod, req.DeliveryMode)
	if method == "" && client != nil {
		method = client.DefaultDeliveryMethod
	}
	order.DeliverMethod = money.NormalizeDeliveryMethod(method)

	return order, nil
}

func (s *orderService) CreateOrder(ctx context.Context, userID string, req CreateOrderRequest) (OrderResult, error) {
	order, err := s.newOrder(ctx, req)
	if err != nil {
		return OrderResult{}, err
	}

	plan, err := workflow.Evaluate(nil, snapshotOf(order))
	if err != nil {
		return OrderResult{}, err
	}

	now := s.now()
	actor := actorID(userID)
	order.CreatedBy = actor
	setComputedTotal(order)
	applyStamps(order, plan, now)

	var warnings []LedgerWarning
	err = s.txManager.RunInTx(ctx, func(txCtx context.Context) error {
		if err := s.assignRef(txCtx, order); err != nil {
			return err
		}
		if err := s.orderRepo.Create(txCtx, order); err != nil {
			if pgErrorCode(err) == pgUniqueViolation {
				return fmt.Errorf("order_ref %s: %w", order.OrderRef, ErrConflict)
			}
			return fmt.Errorf("failed to create order: %w", err)
		}
		if err := s.audit.Record(txCtx, actor, model.ActionCreateOrder, order.ID.String(), order.OrderRef, req); err != nil {
			return err
		}

		warnings, err = s.runEffects(txCtx, order, plan, actor, now)
		return err
	})
	if err != nil {
		return OrderResult{}, err
	}

	s.log.Info("order created",
		zap.String("order_id", order.ID.String()),
		zap.String("order_ref", order.OrderRef),
		zap.Int("warnings", len(warnings)),
	)
	return s.result(ctx, order.ID, warnings, EventOrderCreated)
}

// assignRef keeps a client-supplied ref when it is free, otherwise generates one.
func (s *orderService) assignRef(ctx context.Context, order *model.Order) error {
	if order.OrderRef != "" {
		exists, err := s.orderRepo.ExistsByRef(ctx, order.OrderRef)
		if err != nil {
			return fmt.Errorf("failed to check order_ref: %w", err)
		}
		if exists {
			return fmt.Errorf("order_ref %s already exists: %w", order.OrderRef, ErrConflict)
		}
		return nil
	}

	for i := 0; i < maxRefAttempts; i++ {
		ref := s.newRef(s.now())
		exists, err := s.orderRepo.ExistsByRef(ctx, ref)
		if err != nil {
			return fmt.Errorf("failed to check order_ref: %w", err)
		}
		if !exists {
			order.OrderRef = ref
			return nil
		}
	}
	return fmt.Errorf("no free order_ref after %d attempts: %w", maxRefAttempts, ErrConflict)
}

// runEffects executes the cash and archival effects of a plan inside the order's
// transaction. Cash effects are best effort: a failure becomes a warning.
func (s *orderService) runEffects(ctx context.Context, order *model.Order, plan workflow.Plan, actor *uuid.UUID, now time.Time) ([]LedgerWarning, error) {
	var warnings []LedgerWarning
	for _, effect := range plan.Effects {
		switch effect {
		case workflow.EffectCashOutOnCreate:
			if w := s.bestEffort(ctx, effect, order, func(c context.Context) (bool, error) {
				return s.effects.DeductOnCreate(c, order.ID, actor)
			}); w != nil {
				warnings = append(warnings, *w)
			}
		case workflow.EffectCreditOnDelivery:
			if w := s.bestEffort(ctx, effect, order, func(c context.Context) (bool, error) {
				return s.effects.CreditOnDelivery(c, order.ID, actor)
			}); w != nil {
				warnings = append(warnings, *w)
			}
		case workflow.EffectMoveToHistory:
			if err := s.orderRepo.MoveToHistory(ctx, order.ID, now); err != nil {
				return nil, fmt.Errorf("failed to move order to history: %w", err)
			}
			if err := s.audit.Record(ctx, actor, model.ActionMoveToHistory, order.ID.String(), order.OrderRef, map[string]interface{}{
				"moved_at": now,
			}); err != nil {
				return nil, err
			}
		}
	}
	return warnings, nil
}

func (s *orderService) bestEffort(ctx context.Context, effect workflow.Effect, order *model.Order, apply func(context.Context) (bool, error)) *LedgerWarning {
	if _, err := apply(ctx); err != nil {
		code := pgErrorCode(err)
		if code == "" {
			code = WarnLedgerError
		}
		s.log.Warn("cash effect failed, order saved without it",
			zap.String("effect", string(effect)),
			zap.String("order_id", order.ID.String()),
			zap.String("order_ref", order.OrderRef),
			zap.String("code", code),
			zap.Error(err),
		)
		return &LedgerWarning{Effect: string(effect), Code: code, Message: err.Error()}
	}
	return nil
}

func (s *orderService) UpdateOrder(ctx context.Context, userID, id string, req UpdateOrderRequest) (OrderResult, error) {
	return s.mutate(ctx, userID, id, req, model.ActionUpdateOrder)
}

// CompleteOrder goes through the same path as a PATCH of status and payment.
func (s *orderService) CompleteOrder(ctx context.Context, userID, id string) (OrderResult, error) {
	status := string(workflow.StatusCompleted)
	payment := string(workflow.PaymentPaid)
	return s.mutate(ctx, userID, id, UpdateOrderRequest{Status: &status, PaymentStatus: &payment}, model.ActionCompleteOrder)
}

func (s *orderService) MarkAccountingCashed(ctx context.Context, userID, id string) (OrderResult, error) {
	cashed := true
	return s.mutate(ctx, userID, id, UpdateOrderRequest{AccountingCashed: &cashed}, model.ActionAccountingCashed)
}

func (s *orderService) mutate(ctx context.Context, userID, id string, req UpdateOrderRequest, action string) (OrderResult, error) {
	uid, err := parseID("id", id)
	if err != nil {
		return OrderResult{}, err
	}
	actor := actorID(userID)

	var warnings []LedgerWarning
	err = s.txManager.RunInTx(ctx, func(txCtx context.Context) error {
		order, err := s.orderRepo.FindByIDForUpdate(txCtx, uid)
		if err != nil {
			return notFound("order", err)
		}

		prev := snapshotOf(order)
		prevTotal := money.NewPair(order.ComputedTotalUSD, order.ComputedTotalLBP)
		prevAccount := order.PaymentAccount

		if err := s.applyPatch(txCtx, order, &req); err != nil {
			return err
		}

		// Once the cashbox moved for this order, the restore must hit the same sub-account.
		if (prev.AppliedOnCreate || prev.AppliedOnDelivery) && order.PaymentAccount != prevAccount {
			msg := fmt.Sprintf("payment account stays %q: the cashbox was already updated for this order", prevAccount)
			warnings = append(warnings, LedgerWarning{Effect: "payment_account", Code: WarnPaymentAccountLocked, Message: msg})
			order.PaymentAccount = prevAccount
		}

		plan, err := workflow.Evaluate(&prev, snapshotOf(order))
		if err != nil {
			return err
		}

		now := s.now()
		setComputedTotal(order)
		applyStamps(order, plan, now)

		if err := s.orderRepo.Update(txCtx, order); err != nil {
			return fmt.Errorf("failed to update order: %w", err)
		}
		if err := s.audit.Record(txCtx, actor, action, order.ID.String(), order.OrderRef, req); err != nil {
			return err
		}

		total := money.NewPair(order.ComputedTotalUSD, order.ComputedTotalLBP)
		if (prev.AppliedOnCreate || prev.AppliedOnDelivery) && !total.Add(prevTotal.Neg()).IsZero() {
			msg := fmt.Sprintf("computed total changed from %s USD / %s LBP to %s USD / %s LBP after the cashbox was updated; no adjustment was posted",
				prevTotal.USD.StringFixed(2), prevTotal.LBP.StringFixed(0), total.USD.StringFixed(2), total.LBP.StringFixed(0))
			warnings = append(warnings, LedgerWarning{Effect: "recompute_total", Code: WarnAmountChangedAfterCash, Message: msg})
		}

		effectWarnings, err := s.runEffects(txCtx, order, plan, actor, now)
		if err != nil {
			return err
		}
		warnings = append(warnings, effectWarnings...)
		return nil
	})
	if err != nil {
		return OrderResult{}, err
	}

	return s.result(ctx, uid, warnings, EventOrderUpdated)
}

// applyPatch copies the non-nil request fields onto the locked order.
func (s *orderService) applyPatch(ctx context.Context, order *model.Order, req *UpdateOrderRequest) error {
	var err error
	if req.Type != nil {
		if order.Type, err = normalizeOrderType(*req.Type); err != nil {
			return err
		}
	}
	if method := firstNonEmpty(deref(req.DeliverMethod), deref(req.DeliveryMode)); method != "" {
		order.DeliverMethod = money.NormalizeDeliveryMethod(method)
	}
	if req.IsPurchase != nil {
		order.IsPurchase = *req.IsPurchase
	}
	if req.PaymentAccount != nil {
		if order.PaymentAccount, err = normalizePaymentAccount(*req.PaymentAccount); err != nil {
			return err
		}
	}
	if req.Status != nil {
		st, err := workflow.ParseStatus(*req.Status)
		if err != nil {
			return err
		}
		order.Status = string(st)
	}
	if req.PaymentStatus != nil {
		ps, err := workflow.ParsePaymentStatus(*req.PaymentStatus)
		if err != nil {
			return err
		}
		order.PaymentStatus = string(ps)
	}

	if err := setAmounts(patchMoneyFields(order, req)); err != nil {
		return err
	}

	if req.DriverID != nil {
		driverID, err := parseOptionalID("driver_id", req.DriverID)
		if err != nil {
			return err
		}
		if driverID != nil && (order.DriverID == nil || *order.DriverID != *driverID) {
			if err := s.checkDriver(ctx, driverID); err != nil {
				return err
			}
		}
		order.DriverID = driverID
		order.Driver = nil
	}
	if req.ClientID != nil {
		clientID, err := parseOptionalID("client_id", req.ClientID)
		if err != nil {
			return err
		}
		if _, err := s.loadClient(ctx, clientID); err != nil {
			return err
		}
		order.ClientID = clientID
		order.Client = nil
	}
	if req.ThirdPartyID != nil {
		if order.ThirdPartyID, err = parseOptionalID("third_party_id", req.ThirdPartyID); err != nil {
			return err
		}
	}

	if req.ThirdPartyName != nil {
		order.ThirdPartyName = *req.ThirdPartyName
	}
	if req.CustomerName != nil {
		order.CustomerName = *req.CustomerName
	}
	if req.CustomerPhone != nil {
		order.CustomerPhone = *req.CustomerPhone
	}
	if req.Address != nil {
		order.Address = *req.Address
	}
	if req.Notes != nil {
		order.Notes = *req.Notes
	}
	if req.AccountingCashed != nil {
		order.AccountingCashed = *req.AccountingCashed
	}
	return nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func (s *orderService) result(ctx context.Context, id uuid.UUID, warnings []LedgerWarning, event string) (OrderResult, error) {
	order, err := s.orderRepo.FindByID(ctx, id)
	if err != nil {
		return OrderResult{}, notFound("order", err)
	}
	res := OrderResult{Order: toOrderResponse(*order), Warnings: warnings}
	s.events.Publish(event, res.Order)
	return res, nil
}

func (s *orderService) GetOrder(ctx context.Context, id string) (OrderResponse, error) {
	uid, err := parseID("id", id)
	if err != nil {
		return OrderResponse{}, err
	}
	order, err := s.orderRepo.FindByID(ctx, uid)
	if err != nil {
		return OrderResponse{}, notFound("order", err)
	}
	return toOrderResponse(*order), nil
}

func (s *orderService) ListOrders(ctx context.Context, q OrderListQuery) ([]OrderResponse, int64, error) {
	filter := repository.OrderFilter{Search: strings.TrimSpace(q.Search), Page: q.Page, Limit: q.Limit}
	if q.Status != "" {
		st, err := workflow.ParseStatus(q.Status)
		if err != nil {
			return nil, 0, err
		}
		filter.Status = string(st)
	}
	var err error
	if filter.DriverID, err = parseOptionalID("driver_id", &q.DriverID); err != nil {
		return nil, 0, err
	}
	if filter.ClientID, err = parseOptionalID("client_id", &q.ClientID); err != nil {
		return nil, 0, err
	}
	return s.list(ctx, filter)
}

func (s *orderService) ListHistory(ctx context.Context, page, limit int) ([]OrderResponse, int64, error) {
	return s.list(ctx, repository.OrderFilter{History: true, Page: page, Limit: limit})
}

func (s *orderService) list(ctx context.Context, filter repository.OrderFilter) ([]OrderResponse, int64, error) {
	page := pagination.New(filter.Page, filter.Limit)
	filter.Page, filter.Limit = page.Page, page.Limit

	orders, total, err := s.orderRepo.List(ctx, filter)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to fetch orders: %w", err)
	}

	res := make([]OrderResponse, 0, len(orders))
	for _, o := range orders {
		res = append(res, toOrderResponse(o))
	}
	return res, total, nil
}

// EstimateOrder runs the same computation as create/update without touching the database.
func (s *orderService) EstimateOrder(req EstimateRequest) (money.Displayed, error) {
	orderType, err := normalizeOrderType(req.Type)
	if err != nil {
		return money.Displayed{}, err
	}
	order := &model.Order{
		Type:          orderType,
		DeliverMethod: money.NormalizeDeliveryMethod(firstNonEmpty(req.DeliverMethod, req.DeliveryMode)),
	}
	m := req.OrderMoney
	if err := setAmounts(moneyFields(order, &m)); err != nil {
		return money.Displayed{}, err
	}
	return orderAmounts(order), nil
}

// ArchiveEligible moves orders that satisfy the history rule but are still active,
// one transaction per order. It returns how many were archived.
func (s *orderService) ArchiveEligible(ctx context.Context, limit int) (int, error) {
	candidates, err := s.orderRepo.FindHistoryCandidates(ctx, limit)
	if err != nil {
		return 0, fmt.Errorf("failed to find history candidates: %w", err)
	}

	archived := 0
	for _, c := range candidates {
		moved := false
		err := s.txManager.RunInTx(ctx, func(txCtx context.Context) error {
			order, err := s.orderRepo.FindByIDForUpdate(txCtx, c.ID)
			if err != nil {
				return notFound("order", err)
			}
			if !workflow.ShouldMoveToHistory(snapshotOf(order)) {
				return nil
			}
			now := s.now()
			if err := s.orderRepo.MoveToHistory(txCtx, order.ID, now); err != nil {
				return err
			}
			moved = true
			return s.audit.Record(txCtx, nil, model.ActionMoveToHistory, order.ID.String(), order.OrderRef, map[string]interface{}{
				"moved_at": now,
				"source":   "history_sweep",
			})
		})
		if err != nil {
			s.log.Warn("history sweep skipped order", zap.String("order_ref", c.OrderRef), zap.Error(err))
			continue
		}
		if moved {
			archived++
			s.events.Publish(EventOrderArchived, map[string]string{"id": c.ID.String(), "order_ref": c.OrderRef})
		}
	}
	return archived, nil
}

func toOrderResponse(o model.Order) OrderResponse {
	d := orderAmounts(&o)
	return OrderResponse{
		Order:                o,
		DeliveryFeesUSDShown: d.DeliveryFeesUSDShown,
		DeliveryFeesLBPShown: d.DeliveryFeesLBPShown,
		ShowDeliveryFees:     d.ShowDeliveryFees,
	}
}
