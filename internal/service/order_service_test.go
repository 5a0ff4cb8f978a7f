package service

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"deliveryerp/internal/model"
	"deliveryerp/internal/money"
	"deliveryerp/internal/workflow"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testUser = "7b0c5f0e-5a43-4d3c-9d0b-1f2b3c4d5e6f"

func createReq(orderType string, usd, lbp string) CreateOrderRequest {
	return CreateOrderRequest{
		Type:         orderType,
		CustomerName: "Nour",
		OrderMoney:   OrderMoney{TotalUSD: usd, TotalLBP: lbp},
	}
}

func TestCreateOrder_ComputesTotalAndAssignsRef(t *testing.T) {
	h := newHarness(t)
	req := createReq("ecommerce", "20", "100000")
	req.DeliveryMode = "Third Party"
	req.DeliveryFeeUSD = "3.005"
	req.ThirdPartyFeeUSD = "2"

	res, err := h.orders.CreateOrder(context.Background(), testUser, req)
	require.NoError(t, err)
	assert.Empty(t, res.Warnings)

	o := res.Order
	assert.Equal(t, model.DeliveryThirdParty, o.DeliverMethod)
	assert.True(t, strings.HasPrefix(o.OrderRef, "ORD-260314-"), o.OrderRef)
	requireDecimal(t, "25.01", o.ComputedTotalUSD)
	requireDecimal(t, "100000", o.ComputedTotalLBP)
	requireDecimal(t, "5.01", o.DeliveryFeesUSDShown)
	assert.True(t, o.ShowDeliveryFees)
	assert.Equal(t, "new", o.Status)
	assert.Equal(t, "unpaid", o.PaymentStatus)
	require.NotNil(t, o.CreatedBy)
	assert.Equal(t, testUser, o.CreatedBy.String())

	assert.Empty(t, h.store.entries)
	assert.Equal(t, []string{model.ActionCreateOrder}, h.store.auditActions())
	assert.Equal(t, []string{EventOrderCreated}, h.events.events)
}

func TestCreateOrder_RejectsBadInput(t *testing.T) {
	h := newHarness(t)

	_, err := h.orders.CreateOrder(context.Background(), testUser, createReq("ecommerce", "12abc", ""))
	var pe *money.ParseError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, "total_usd", pe.Field)

	_, err = h.orders.CreateOrder(context.Background(), testUser, createReq("pickup", "1", ""))
	var ve *ValidationError
	require.True(t, errors.As(err, &ve))
	assert.Equal(t, "type", ve.Field)

	_, err = h.orders.CreateOrder(context.Background(), testUser, createReq("ecommerce", "-1", ""))
	require.True(t, errors.As(err, &ve))

	inactive := h.addDriver(t, false)
	req := createReq("ecommerce", "1", "")
	req.DriverID = &inactive
	_, err = h.orders.CreateOrder(context.Background(), testUser, req)
	require.True(t, errors.As(err, &ve))
	assert.Equal(t, "driver_id", ve.Field)

	assert.Empty(t, h.store.orders)
}

func TestCreateOrder_DuplicateRef(t *testing.T) {
	h := newHarness(t)
	req := createReq("ecommerce", "1", "")
	req.OrderRef = "ORD-MANUAL-1"

	_, err := h.orders.CreateOrder(context.Background(), testUser, req)
	require.NoError(t, err)

	_, err = h.orders.CreateOrder(context.Background(), testUser, req)
	assert.True(t, errors.Is(err, ErrConflict))
	assert.Len(t, h.store.orders, 1)
}

func TestCreateOrder_RetriesGeneratedRefOnCollision(t *testing.T) {
	h := newHarness(t)
	taken := uuid.New()
	h.store.orders[taken] = model.Order{ID: taken, OrderRef: "ORD-260314-AAAAAAAA"}

	refs := []string{"ORD-260314-AAAAAAAA", "ORD-260314-BBBBBBBB"}
	h.orders.(*orderService).newRef = func(_ time.Time) string {
		ref := refs[0]
		refs = refs[1:]
		return ref
	}

	res, err := h.orders.CreateOrder(context.Background(), testUser, createReq("ecommerce", "1", ""))
	require.NoError(t, err)
	assert.Equal(t, "ORD-260314-BBBBBBBB", res.Order.OrderRef)
}

func TestCreateOrder_GoToMarketDeductsOnce(t *testing.T) {
	h := newHarness(t)

	res, err := h.orders.CreateOrder(context.Background(), testUser, createReq("go_to_market", "10", "15000"))
	require.NoError(t, err)
	require.Empty(t, res.Warnings)
	assert.True(t, res.Order.CashboxAppliedOnCreate)

	box := h.box()
	requireDecimal(t, "-10", box.CashBalanceUSD)
	requireDecimal(t, "-15000", box.CashBalanceLBP)
	requireDecimal(t, "-10", box.BalanceUSD)

	// a second call finds the flag and does nothing
	applied, err := h.effects.DeductOnCreate(context.Background(), res.Order.ID, nil)
	require.NoError(t, err)
	assert.False(t, applied)

	box = h.box()
	requireDecimal(t, "-10", box.CashBalanceUSD)
	require.Len(t, h.store.entries, 1)
	e := h.store.entries[0]
	assert.Equal(t, model.EntryCashOut, e.Type)
	assert.Equal(t, model.AccountCash, e.AccountType)
	assert.Equal(t, res.Order.OrderRef, e.OrderRef)
	requireDecimal(t, "-10", e.AmountUSD)
}

func TestCreateOrder_PrepaidRoutesToWishAccount(t *testing.T) {
	h := newHarness(t)
	req := createReq("instant", "8", "")
	req.DriverFeeUSD = "2"
	req.PaymentStatus = "prepaid"
	req.PaymentAccount = "WISH"

	res, err := h.orders.CreateOrder(context.Background(), testUser, req)
	require.NoError(t, err)

	box := h.box()
	requireDecimal(t, "-10", box.WishBalanceUSD)
	requireDecimal(t, "0", box.CashBalanceUSD)
	requireDecimal(t, "-10", box.BalanceUSD)
	assert.False(t, res.Order.ShowDeliveryFees)
}

func TestPrepaidOrder_DeliveryRestoresDeduction(t *testing.T) {
	h := newHarness(t)
	driver := h.addDriver(t, true)
	req := createReq("ecommerce", "30", "45000")
	req.PaymentStatus = "prepaid"
	req.DriverID = &driver

	created, err := h.orders.CreateOrder(context.Background(), testUser, req)
	require.NoError(t, err)
	requireDecimal(t, "-30", h.box().BalanceUSD)

	res, err := h.orders.UpdateOrder(context.Background(), testUser, created.Order.ID.String(), UpdateOrderRequest{
		Status:        strPtr("delivered"),
		PaymentStatus: strPtr("paid"),
	})
	require.NoError(t, err)
	require.Empty(t, res.Warnings)

	box := h.box()
	requireDecimal(t, "0", box.BalanceUSD)
	requireDecimal(t, "0", box.BalanceLBP)
	require.Len(t, h.store.entries, 2)
	assert.Equal(t, model.EntryCashIn, h.store.entries[1].Type)
	require.NotNil(t, res.Order.DeliveredAt)
	assert.True(t, res.Order.DeliveredAt.Equal(fixedNow))
	require.NotNil(t, res.Order.CompletedAt)
}

func TestPrepaidOrder_PaymentAccountKeptAfterDeduction(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	driver := h.addDriver(t, true)
	req := createReq("ecommerce", "30", "")
	req.PaymentStatus = "prepaid"
	req.PaymentAccount = "wish"
	req.DriverID = &driver

	created, err := h.orders.CreateOrder(ctx, testUser, req)
	require.NoError(t, err)
	id := created.Order.ID.String()

	res, err := h.orders.UpdateOrder(ctx, testUser, id, UpdateOrderRequest{PaymentAccount: strPtr("cash")})
	require.NoError(t, err)
	require.Len(t, res.Warnings, 1)
	assert.Equal(t, WarnPaymentAccountLocked, res.Warnings[0].Code)
	assert.Equal(t, "wish", res.Order.PaymentAccount)

	res, err = h.orders.UpdateOrder(ctx, testUser, id, UpdateOrderRequest{
		Status:        strPtr("delivered"),
		PaymentStatus: strPtr("paid"),
	})
	require.NoError(t, err)
	assert.Empty(t, res.Warnings)

	box := h.box()
	requireDecimal(t, "0", box.WishBalanceUSD)
	requireDecimal(t, "0", box.CashBalanceUSD)
	requireDecimal(t, "0", box.BalanceUSD)
}

func TestUpdateOrder_PaymentAccountChangeBeforeCashEffect(t *testing.T) {
	h := newHarness(t)
	created, err := h.orders.CreateOrder(context.Background(), testUser, createReq("ecommerce", "5", ""))
	require.NoError(t, err)

	res, err := h.orders.UpdateOrder(context.Background(), testUser, created.Order.ID.String(), UpdateOrderRequest{PaymentAccount: strPtr("wish")})
	require.NoError(t, err)
	assert.Empty(t, res.Warnings)
	assert.Equal(t, "wish", res.Order.PaymentAccount)
}

func TestUpdateOrder_UnrelatedSaveDoesNotCreditTwice(t *testing.T) {
	h := newHarness(t)
	driver := h.addDriver(t, true)
	req := createReq("ecommerce", "12.50", "")
	req.DriverID = &driver

	created, err := h.orders.CreateOrder(context.Background(), testUser, req)
	require.NoError(t, err)
	id := created.Order.ID.String()

	_, err = h.orders.UpdateOrder(context.Background(), testUser, id, UpdateOrderRequest{
		Status:        strPtr("delivered"),
		PaymentStatus: strPtr("paid"),
	})
	require.NoError(t, err)
	requireDecimal(t, "12.5", h.box().CashBalanceUSD)

	res, err := h.orders.UpdateOrder(context.Background(), testUser, id, UpdateOrderRequest{Notes: strPtr("left at the door")})
	require.NoError(t, err)
	assert.Empty(t, res.Warnings)
	assert.Equal(t, "left at the door", res.Order.Notes)

	requireDecimal(t, "12.5", h.box().CashBalanceUSD)
	assert.Len(t, h.store.entries, 1)
}

func TestUpdateOrder_DeliveredWithoutDriverRejected(t *testing.T) {
	h := newHarness(t)
	created, err := h.orders.CreateOrder(context.Background(), testUser, createReq("ecommerce", "5", ""))
	require.NoError(t, err)
	auditsBefore := len(h.store.audits)

	_, err = h.orders.UpdateOrder(context.Background(), testUser, created.Order.ID.String(), UpdateOrderRequest{
		Status: strPtr("delivered"),
	})
	assert.True(t, errors.Is(err, workflow.ErrDriverRequired))

	o := h.order(t, created.Order.ID)
	assert.Equal(t, "new", o.Status)
	assert.Nil(t, o.DeliveredAt)
	assert.Empty(t, h.store.entries)
	assert.Len(t, h.store.audits, auditsBefore)
}

func TestUpdateOrder_RemovingDriverFromActiveOrderRejected(t *testing.T) {
	h := newHarness(t)
	driver := h.addDriver(t, true)
	req := createReq("ecommerce", "5", "")
	req.DriverID = &driver
	req.Status = "in_transit"

	created, err := h.orders.CreateOrder(context.Background(), testUser, req)
	require.NoError(t, err)

	_, err = h.orders.UpdateOrder(context.Background(), testUser, created.Order.ID.String(), UpdateOrderRequest{
		DriverID: strPtr(""),
	})
	assert.True(t, errors.Is(err, workflow.ErrDriverRequired))
	assert.NotNil(t, h.order(t, created.Order.ID).DriverID)
}

func TestUpdateOrder_BackwardStatusRejected(t *testing.T) {
	h := newHarness(t)
	driver := h.addDriver(t, true)
	req := createReq("ecommerce", "5", "")
	req.DriverID = &driver
	req.Status = "delivered"

	created, err := h.orders.CreateOrder(context.Background(), testUser, req)
	require.NoError(t, err)

	_, err = h.orders.UpdateOrder(context.Background(), testUser, created.Order.ID.String(), UpdateOrderRequest{
		Status: strPtr("assigned"),
	})
	assert.True(t, errors.Is(err, workflow.ErrInvalidTransition))
}

func TestCreateOrder_LedgerFailureKeepsOrderWithWarning(t *testing.T) {
	h := newHarness(t)
	h.store.failEntry = &pgconn.PgError{Code: "23514", Message: "check constraint violated"}

	res, err := h.orders.CreateOrder(context.Background(), testUser, createReq("go_to_market", "40", "60000"))
	require.NoError(t, err)

	require.Len(t, res.Warnings, 1)
	w := res.Warnings[0]
	assert.Equal(t, string(workflow.EffectCashOutOnCreate), w.Effect)
	assert.Equal(t, "23514", w.Code)

	o := h.order(t, res.Order.ID)
	assert.False(t, o.CashboxAppliedOnCreate)
	box := h.box()
	requireDecimal(t, "0", box.BalanceUSD)
	requireDecimal(t, "0", box.CashBalanceLBP)
	assert.Empty(t, h.store.entries)
	assert.Equal(t, []string{model.ActionCreateOrder}, h.store.auditActions())

	// the flag stayed unset, so the deduction goes through once the ledger recovers
	h.store.failEntry = nil
	applied, err := h.effects.DeductOnCreate(context.Background(), res.Order.ID, nil)
	require.NoError(t, err)
	assert.True(t, applied)
	requireDecimal(t, "-40", h.box().BalanceUSD)
}

func TestCreateOrder_LedgerFailureWithoutSQLState(t *testing.T) {
	h := newHarness(t)
	h.store.failEntry = errors.New("connection reset")

	res, err := h.orders.CreateOrder(context.Background(), testUser, createReq("go_to_market", "1", ""))
	require.NoError(t, err)
	require.Len(t, res.Warnings, 1)
	assert.Equal(t, WarnLedgerError, res.Warnings[0].Code)
	assert.Contains(t, res.Warnings[0].Message, "connection reset")
}

func TestUpdateOrder_AmountChangeAfterCashEffectWarns(t *testing.T) {
	h := newHarness(t)
	created, err := h.orders.CreateOrder(context.Background(), testUser, createReq("go_to_market", "10", ""))
	require.NoError(t, err)

	res, err := h.orders.UpdateOrder(context.Background(), testUser, created.Order.ID.String(), UpdateOrderRequest{
		TotalUSD: strPtr("12"),
	})
	require.NoError(t, err)

	require.Len(t, res.Warnings, 1)
	assert.Equal(t, WarnAmountChangedAfterCash, res.Warnings[0].Code)
	requireDecimal(t, "12", res.Order.ComputedTotalUSD)
	// no automatic adjustment
	requireDecimal(t, "-10", h.box().BalanceUSD)
	assert.Len(t, h.store.entries, 1)
}

func TestCompleteThenAccountingCashedMovesToHistory(t *testing.T) {
	h := newHarness(t)
	driver := h.addDriver(t, true)
	req := createReq("ecommerce", "7", "")
	req.DriverID = &driver
	req.Status = "delivered"

	created, err := h.orders.CreateOrder(context.Background(), testUser, req)
	require.NoError(t, err)
	id := created.Order.ID.String()

	completed, err := h.orders.CompleteOrder(context.Background(), testUser, id)
	require.NoError(t, err)
	assert.Equal(t, "completed", completed.Order.Status)
	assert.Equal(t, "paid", completed.Order.PaymentStatus)
	assert.True(t, completed.Order.CashboxAppliedOnDelivery)
	assert.False(t, completed.Order.MovedToHistory)
	requireDecimal(t, "7", h.box().BalanceUSD)

	cashed, err := h.orders.MarkAccountingCashed(context.Background(), testUser, id)
	require.NoError(t, err)
	assert.True(t, cashed.Order.AccountingCashed)
	assert.True(t, cashed.Order.MovedToHistory)
	require.NotNil(t, cashed.Order.MovedAt)

	active, _, err := h.orders.ListOrders(context.Background(), OrderListQuery{Page: 1, Limit: 20})
	require.NoError(t, err)
	assert.Empty(t, active)
	history, total, err := h.orders.ListHistory(context.Background(), 1, 20)
	require.NoError(t, err)
	assert.EqualValues(t, 1, total)
	assert.Equal(t, created.Order.OrderRef, history[0].OrderRef)

	assert.Contains(t, h.store.auditActions(), model.ActionMoveToHistory)
	requireDecimal(t, "7", h.box().BalanceUSD)
}

func TestCancelledGoToMarketDoesNotDeduct(t *testing.T) {
	h := newHarness(t)
	req := createReq("go_to_market", "9", "")
	req.Status = "cancelled"

	res, err := h.orders.CreateOrder(context.Background(), testUser, req)
	require.NoError(t, err)
	assert.False(t, res.Order.CashboxAppliedOnCreate)
	assert.Empty(t, h.store.entries)
}

func TestArchiveEligible(t *testing.T) {
	h := newHarness(t)
	eligible := uuid.New()
	h.store.orders[eligible] = model.Order{
		ID: eligible, OrderRef: "ORD-A", Status: "completed", PaymentStatus: "paid", AccountingCashed: true,
	}
	notCashed := uuid.New()
	h.store.orders[notCashed] = model.Order{
		ID: notCashed, OrderRef: "ORD-B", Status: "completed", PaymentStatus: "paid",
	}

	n, err := h.orders.ArchiveEligible(context.Background(), 50)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.True(t, h.order(t, eligible).MovedToHistory)
	assert.False(t, h.order(t, notCashed).MovedToHistory)

	require.Len(t, h.store.audits, 1)
	assert.Nil(t, h.store.audits[0].UserID)
	assert.Equal(t, "history_sweep", auditDetails(t, h.store.audits[0])["source"])
	assert.Contains(t, h.events.events, EventOrderArchived)
}

func TestEstimateOrderMatchesCreate(t *testing.T) {
	h := newHarness(t)
	est, err := h.orders.EstimateOrder(EstimateRequest{
		Type:          "instant",
		DeliverMethod: "third-party",
		OrderMoney:    OrderMoney{TotalUSD: "10", DriverFeeUSD: "2.5", ThirdPartyFeeUSD: "1", DeliveryFeeUSD: "4"},
	})
	require.NoError(t, err)
	requireDecimal(t, "13.5", est.ComputedTotalUSD)
	assert.False(t, est.ShowDeliveryFees)
	requireDecimal(t, "0", est.DeliveryFeesUSDShown)
	assert.Empty(t, h.store.orders)
}

func TestGetOrder_NotFound(t *testing.T) {
	h := newHarness(t)
	_, err := h.orders.GetOrder(context.Background(), uuid.NewString())
	assert.True(t, errors.Is(err, ErrNotFound))

	_, err = h.orders.GetOrder(context.Background(), "nope")
	var ve *ValidationError
	assert.True(t, errors.As(err, &ve))
}
