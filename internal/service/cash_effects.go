package service

import (
	"context"
	"fmt"

	"deliveryerp/internal/model"
	"deliveryerp/internal/money"
	"deliveryerp/internal/repository"
	"deliveryerp/internal/workflow"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// CashEffects applies the two order-driven cashbox movements. Each one runs in its
// own (possibly nested) transaction, re-reads the order FOR UPDATE and is a no-op
// once its flag is set. The bool result reports whether anything was applied.
type CashEffects interface {
	DeductOnCreate(ctx context.Context, orderID uuid.UUID, actor *uuid.UUID) (bool, error)
	CreditOnDelivery(ctx context.Context, orderID uuid.UUID, actor *uuid.UUID) (bool, error)
}

type cashEffects struct {
	orderRepo repository.OrderRepository
	ledger    LedgerService
	audit     AuditService
	txManager repository.TransactionManager
	log       *zap.Logger
}

func NewCashEffects(
	orderRepo repository.OrderRepository,
	ledger LedgerService,
	audit AuditService,
	txManager repository.TransactionManager,
	log *zap.Logger,
) CashEffects {
	return &cashEffects{
		orderRepo: orderRepo,
		ledger:    ledger,
		audit:     audit,
		txManager: txManager,
		log:       log,
	}
}

// orderAmounts recomputes the effective total from the stored raw fields.
func orderAmounts(o *model.Order) money.Displayed {
	return money.ComputeDisplayedAmounts(money.OrderAmounts{
		DeliveryMethod: o.DeliverMethod,
		OrderType:      o.Type,
		Total:          money.NewPair(o.TotalUSD, o.TotalLBP),
		DeliveryFee:    money.NewPair(o.DeliveryFeeUSD, o.DeliveryFeeLBP),
		ThirdPartyFee:  money.NewPair(o.ThirdPartyFeeUSD, o.ThirdPartyFeeLBP),
		DriverFee:      money.NewPair(o.DriverFeeUSD, o.DriverFeeLBP),
	})
}

func (c *cashEffects) DeductOnCreate(ctx context.Context, orderID uuid.UUID, actor *uuid.UUID) (bool, error) {
	applied := false
	err := c.txManager.RunInTx(ctx, func(txCtx context.Context) error {
		order, err := c.orderRepo.FindByIDForUpdate(txCtx, orderID)
		if err != nil {
			return notFound("order", err)
		}
		if order.CashboxAppliedOnCreate {
			return nil
		}
		if !workflow.ShouldCashOutOnCreate(order.Type, workflow.PaymentStatus(order.PaymentStatus), order.IsPurchase) {
			return nil
		}

		total := orderAmounts(order).ComputedTotal()
		if err := c.apply(txCtx, order, model.EntryCashOut, total.Neg(), actor); err != nil {
			return err
		}
		if err := c.orderRepo.MarkAppliedOnCreate(txCtx, order.ID); err != nil {
			return fmt.Errorf("failed to flag order: %w", err)
		}
		if err := c.audit.Record(txCtx, actor, model.ActionCashOutOnCreate, order.ID.String(), order.OrderRef, map[string]interface{}{
			"account":    order.PaymentAccount,
			"amount_usd": total.USD.Neg().String(),
			"amount_lbp": total.LBP.Neg().String(),
		}); err != nil {
			return err
		}
		applied = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return applied, nil
}

func (c *cashEffects) CreditOnDelivery(ctx context.Context, orderID uuid.UUID, actor *uuid.UUID) (bool, error) {
	applied := false
	err := c.txManager.RunInTx(ctx, func(txCtx context.Context) error {
		order, err := c.orderRepo.FindByIDForUpdate(txCtx, orderID)
		if err != nil {
			return notFound("order", err)
		}
		if order.CashboxAppliedOnDelivery {
			return nil
		}
		if !workflow.Status(order.Status).Fulfilled() || workflow.PaymentStatus(order.PaymentStatus) != workflow.PaymentPaid {
			return nil
		}

		total := orderAmounts(order).ComputedTotal()
		if err := c.apply(txCtx, order, model.EntryCashIn, total, actor); err != nil {
			return err
		}
		if err := c.orderRepo.MarkAppliedOnDelivery(txCtx, order.ID); err != nil {
			return fmt.Errorf("failed to flag order: %w", err)
		}
		if err := c.audit.Record(txCtx, actor, model.ActionCreditOnDelivery, order.ID.String(), order.OrderRef, map[string]interface{}{
			"account":    order.PaymentAccount,
			"amount_usd": total.USD.String(),
			"amount_lbp": total.LBP.String(),
		}); err != nil {
			return err
		}
		applied = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return applied, nil
}

// apply writes the ledger entry. A zero total still sets the flag but leaves no entry.
func (c *cashEffects) apply(ctx context.Context, order *model.Order, entryType string, amount money.Pair, actor *uuid.UUID) error {
	if amount.IsZero() {
		c.log.Info("order total is zero, no cashbox entry written",
			zap.String("order_ref", order.OrderRef),
			zap.String("entry_type", entryType),
		)
		return nil
	}
	id := order.ID
	_, err := c.ledger.ApplyEntry(ctx, EntryInput{
		Type:        entryType,
		AccountType: order.PaymentAccount,
		Amount:      amount,
		OrderID:     &id,
		OrderRef:    order.OrderRef,
		Description: fmt.Sprintf("%s for order %s", entryType, order.OrderRef),
		CreatedBy:   actor,
	})
	return err
}
