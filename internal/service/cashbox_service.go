package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"deliveryerp/internal/model"
	"deliveryerp/internal/money"
	"deliveryerp/internal/repository"
	"deliveryerp/pkg/pagination"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// --- DTOs ---

// EntryInput is one signed movement on one account. Negative amounts leave the account.
type EntryInput struct {
	Type        string
	AccountType string
	Amount      money.Pair
	OrderID     *uuid.UUID
	OrderRef    string
	Description string
	CreatedBy   *uuid.UUID
	// NoOverdraft rejects the entry with ErrInsufficientFunds when the account would go negative.
	NoOverdraft bool
}

type LedgerResult struct {
	Entry   model.CashboxEntry `json:"entry"`
	Cashbox model.Cashbox      `json:"cashbox"`
}

type ManualEntryRequest struct {
	AccountType string `json:"account_type" binding:"omitempty,oneof=cash wish"`
	AmountUSD   string `json:"amount_usd" binding:"omitempty,decimal"`
	AmountLBP   string `json:"amount_lbp" binding:"omitempty,decimal"`
	Description string `json:"description" binding:"required,max=500"`
}

type TransferRequest struct {
	From        string `json:"from" binding:"required,oneof=cash wish"`
	To          string `json:"to" binding:"required,oneof=cash wish"`
	AmountUSD   string `json:"amount_usd" binding:"omitempty,decimal"`
	AmountLBP   string `json:"amount_lbp" binding:"omitempty,decimal"`
	Description string `json:"description" binding:"max=500"`
}

type TransferResult struct {
	Out     model.CashboxEntry `json:"out"`
	In      model.CashboxEntry `json:"in"`
	Cashbox model.Cashbox      `json:"cashbox"`
}

type SetCapitalRequest struct {
	AccountType string `json:"account_type" binding:"omitempty,oneof=cash wish"`
	CapitalUSD  string `json:"capital_usd" binding:"omitempty,decimal"`
	CapitalLBP  string `json:"capital_lbp" binding:"omitempty,decimal"`
	Description string `json:"description" binding:"max=500"`
}

// AccountDrift compares one account's balance with the sum of its entries.
type AccountDrift struct {
	AccountType string          `json:"account_type"`
	BalanceUSD  decimal.Decimal `json:"balance_usd"`
	BalanceLBP  decimal.Decimal `json:"balance_lbp"`
	EntriesUSD  decimal.Decimal `json:"entries_usd"`
	EntriesLBP  decimal.Decimal `json:"entries_lbp"`
	DriftUSD    decimal.Decimal `json:"drift_usd"`
	DriftLBP    decimal.Decimal `json:"drift_lbp"`
}

type ReconciliationReport struct {
	Balanced  bool           `json:"balanced"`
	Aggregate bool           `json:"aggregate_consistent"`
	Accounts  []AccountDrift `json:"accounts"`
	CheckedAt time.Time      `json:"checked_at"`
}

// --- Interface ---

type LedgerService interface {
	ApplyEntry(ctx context.Context, in EntryInput) (LedgerResult, error)
	RecordIncome(ctx context.Context, userID string, req ManualEntryRequest) (LedgerResult, error)
	RecordExpense(ctx context.Context, userID string, req ManualEntryRequest) (LedgerResult, error)
	Transfer(ctx context.Context, userID string, req TransferRequest) (TransferResult, error)
	SetCapital(ctx context.Context, userID string, req SetCapitalRequest) (LedgerResult, error)
	GetCashbox(ctx context.Context) (model.Cashbox, error)
	ListEntries(ctx context.Context, filter repository.EntryFilter) ([]model.CashboxEntry, int64, error)
	Reconcile(ctx context.Context) (ReconciliationReport, error)
	Cashflow(ctx context.Context, groupBy string, start, end time.Time) ([]repository.CashflowRow, error)
}

// --- Implementation ---

type ledgerService struct {
	cashboxRepo repository.CashboxRepository
	audit       AuditService
	txManager   repository.TransactionManager
	events      Publisher
	log         *zap.Logger
	now         func() time.Time
}

func NewLedgerService(
	cashboxRepo repository.CashboxRepository,
	audit AuditService,
	txManager repository.TransactionManager,
	events Publisher,
	log *zap.Logger,
) LedgerService {
	if events == nil {
		events = NopPublisher{}
	}
	return &ledgerService{
		cashboxRepo: cashboxRepo,
		audit:       audit,
		txManager:   txManager,
		events:      events,
		log:         log,
		now:         time.Now,
	}
}

var validAccounts = map[string]bool{
	model.AccountCash: true,
	model.AccountWish: true,
}

func normalizeAccount(account string) string {
	a := strings.ToLower(strings.TrimSpace(account))
	if a == "" {
		return model.AccountCash
	}
	return a
}

// ApplyEntry locks the cashbox row, moves the aggregate and the sub-account by the
// signed amount and appends the entry. It joins the caller's transaction as a savepoint.
func (s *ledgerService) ApplyEntry(ctx context.Context, in EntryInput) (LedgerResult, error) {
	account := normalizeAccount(in.AccountType)
	if !validAccounts[account] {
		return LedgerResult{}, invalid("account_type", "must be one of: cash, wish")
	}
	amount := money.NewPair(in.Amount.USD, in.Amount.LBP)

	var res LedgerResult
	err := s.txManager.RunInTx(ctx, func(txCtx context.Context) error {
		box, err := s.cashboxRepo.GetForUpdate(txCtx)
		if err != nil {
			return notFound("cashbox", err)
		}

		usd, lbp := accountBalance(box, account)
		nextUSD := money.USD(usd.Add(amount.USD))
		nextLBP := money.LBP(lbp.Add(amount.LBP))
		if in.NoOverdraft && (nextUSD.IsNegative() || nextLBP.IsNegative()) {
			return fmt.Errorf("%w: %s account holds %s USD / %s LBP", ErrInsufficientFunds, account, usd.StringFixed(2), lbp.StringFixed(0))
		}

		setAccountBalance(box, account, nextUSD, nextLBP)
		box.BalanceUSD = money.USD(box.BalanceUSD.Add(amount.USD))
		box.BalanceLBP = money.LBP(box.BalanceLBP.Add(amount.LBP))
		if err := s.cashboxRepo.Save(txCtx, box); err != nil {
			return fmt.Errorf("failed to update cashbox: %w", err)
		}

		entry := &model.CashboxEntry{
			Type:        in.Type,
			AccountType: account,
			AmountUSD:   amount.USD,
			AmountLBP:   amount.LBP,
			OrderID:     in.OrderID,
			OrderRef:    in.OrderRef,
			Description: in.Description,
			CreatedBy:   in.CreatedBy,
		}
		if err := s.cashboxRepo.CreateEntry(txCtx, entry); err != nil {
			return fmt.Errorf("failed to append cashbox entry: %w", err)
		}

		res = LedgerResult{Entry: *entry, Cashbox: *box}
		return nil
	})
	if err != nil {
		return LedgerResult{}, err
	}

	s.log.Debug("cashbox entry applied",
		zap.String("type", in.Type),
		zap.String("account", account),
		zap.String("amount_usd", amount.USD.String()),
		zap.String("amount_lbp", amount.LBP.String()),
		zap.String("order_ref", in.OrderRef),
	)
	return res, nil
}

func accountBalance(box *model.Cashbox, account string) (decimal.Decimal, decimal.Decimal) {
	if account == model.AccountWish {
		return box.WishBalanceUSD, box.WishBalanceLBP
	}
	return box.CashBalanceUSD, box.CashBalanceLBP
}

func setAccountBalance(box *model.Cashbox, account string, usd, lbp decimal.Decimal) {
	if account == model.AccountWish {
		box.WishBalanceUSD, box.WishBalanceLBP = usd, lbp
		return
	}
	box.CashBalanceUSD, box.CashBalanceLBP = usd, lbp
}

// parsePositivePair reads a USD/LBP pair that must be non-negative and not entirely zero.
func parsePositivePair(usdField, usdRaw, lbpField, lbpRaw string) (money.Pair, error) {
	usd, err := money.ParseField(usdField, usdRaw)
	if err != nil {
		return money.Pair{}, err
	}
	lbp, err := money.ParseField(lbpField, lbpRaw)
	if err != nil {
		return money.Pair{}, err
	}
	amount := money.NewPair(usd, lbp)
	if amount.IsNegative() {
		return money.Pair{}, invalid("amount", "amounts must not be negative")
	}
	if amount.IsZero() {
		return money.Pair{}, invalid("amount", "at least one of %s, %s is required", usdField, lbpField)
	}
	return amount, nil
}

func (s *ledgerService) RecordIncome(ctx context.Context, userID string, req ManualEntryRequest) (LedgerResult, error) {
	return s.recordManual(ctx, userID, req, model.EntryIncome, model.ActionCashboxIncome, false)
}

func (s *ledgerService) RecordExpense(ctx context.Context, userID string, req ManualEntryRequest) (LedgerResult, error) {
	return s.recordManual(ctx, userID, req, model.EntryExpense, model.ActionCashboxExpense, true)
}

func (s *ledgerService) recordManual(ctx context.Context, userID string, req ManualEntryRequest, entryType, action string, outflow bool) (LedgerResult, error) {
	amount, err := parsePositivePair("amount_usd", req.AmountUSD, "amount_lbp", req.AmountLBP)
	if err != nil {
		return LedgerResult{}, err
	}
	if strings.TrimSpace(req.Description) == "" {
		return LedgerResult{}, invalid("description", "is required")
	}
	if outflow {
		amount = amount.Neg()
	}
	actor := actorID(userID)

	var res LedgerResult
	err = s.txManager.RunInTx(ctx, func(txCtx context.Context) error {
		var err error
		res, err = s.ApplyEntry(txCtx, EntryInput{
			Type:        entryType,
			AccountType: req.AccountType,
			Amount:      amount,
			Description: req.Description,
			CreatedBy:   actor,
			NoOverdraft: outflow,
		})
		if err != nil {
			return err
		}
		return s.audit.Record(txCtx, actor, action, res.Entry.ID.String(), res.Entry.AccountType, map[string]interface{}{
			"amount_usd":  amount.USD.String(),
			"amount_lbp":  amount.LBP.String(),
			"description": req.Description,
		})
	})
	if err != nil {
		return LedgerResult{}, err
	}

	s.events.Publish(EventCashboxUpdated, res.Cashbox)
	return res, nil
}

// Transfer moves money between the two accounts. The aggregate balance does not change.
func (s *ledgerService) Transfer(ctx context.Context, userID string, req TransferRequest) (TransferResult, error) {
	from, to := normalizeAccount(req.From), normalizeAccount(req.To)
	if !validAccounts[from] || !validAccounts[to] {
		return TransferResult{}, invalid("account_type", "must be one of: cash, wish")
	}
	if from == to {
		return TransferResult{}, invalid("to", "must differ from the source account")
	}
	amount, err := parsePositivePair("amount_usd", req.AmountUSD, "amount_lbp", req.AmountLBP)
	if err != nil {
		return TransferResult{}, err
	}
	actor := actorID(userID)
	desc := req.Description
	if desc == "" {
		desc = fmt.Sprintf("transfer %s -> %s", from, to)
	}

	var res TransferResult
	err = s.txManager.RunInTx(ctx, func(txCtx context.Context) error {
		out, err := s.ApplyEntry(txCtx, EntryInput{
			Type:        model.EntryTransferOut,
			AccountType: from,
			Amount:      amount.Neg(),
			Description: desc,
			CreatedBy:   actor,
			NoOverdraft: true,
		})
		if err != nil {
			return err
		}
		in, err := s.ApplyEntry(txCtx, EntryInput{
			Type:        model.EntryTransferIn,
			AccountType: to,
			Amount:      amount,
			Description: desc,
			CreatedBy:   actor,
		})
		if err != nil {
			return err
		}
		res = TransferResult{Out: out.Entry, In: in.Entry, Cashbox: in.Cashbox}
		return s.audit.Record(txCtx, actor, model.ActionCashboxTransfer, out.Entry.ID.String(), from+"->"+to, map[string]interface{}{
			"amount_usd": amount.USD.String(),
			"amount_lbp": amount.LBP.String(),
		})
	})
	if err != nil {
		return TransferResult{}, err
	}

	s.events.Publish(EventCashboxUpdated, res.Cashbox)
	return res, nil
}

// SetCapital records the opening capital the first time and the difference on later edits.
func (s *ledgerService) SetCapital(ctx context.Context, userID string, req SetCapitalRequest) (LedgerResult, error) {
	usd, err := money.ParseField("capital_usd", req.CapitalUSD)
	if err != nil {
		return LedgerResult{}, err
	}
	lbp, err := money.ParseField("capital_lbp", req.CapitalLBP)
	if err != nil {
		return LedgerResult{}, err
	}
	capital := money.NewPair(usd, lbp)
	if capital.IsNegative() {
		return LedgerResult{}, invalid("capital", "must not be negative")
	}
	requested := strings.TrimSpace(req.AccountType) != ""
	account := normalizeAccount(req.AccountType)
	if !validAccounts[account] {
		return LedgerResult{}, invalid("account_type", "must be one of: cash, wish")
	}
	actor := actorID(userID)

	var res LedgerResult
	err = s.txManager.RunInTx(ctx, func(txCtx context.Context) error {
		box, err := s.cashboxRepo.GetForUpdate(txCtx)
		if err != nil {
			return notFound("cashbox", err)
		}

		entryType := model.EntryCapitalAdd
		delta := capital
		if box.CapitalSet {
			entryType = model.EntryCapitalEdit
			delta = capital.Add(money.NewPair(box.InitialCapitalUSD, box.InitialCapitalLBP).Neg())

			// edits move the account the capital was first booked to
			held := normalizeAccount(box.CapitalAccount)
			if requested && account != held {
				return invalid("account_type", "capital is held in the %s account", held)
			}
			account = held
		}

		desc := req.Description
		if desc == "" {
			desc = "initial capital"
		}
		if !delta.IsZero() || !box.CapitalSet {
			res, err = s.ApplyEntry(txCtx, EntryInput{
				Type:        entryType,
				AccountType: account,
				Amount:      delta,
				Description: desc,
				CreatedBy:   actor,
			})
			if err != nil {
				return err
			}
		}

		// ApplyEntry saved the balances; reload so the capital fields are written on top of them.
		box, err = s.cashboxRepo.GetForUpdate(txCtx)
		if err != nil {
			return notFound("cashbox", err)
		}
		box.InitialCapitalUSD = capital.USD
		box.InitialCapitalLBP = capital.LBP
		box.CapitalSet = true
		box.CapitalAccount = account
		if err := s.cashboxRepo.Save(txCtx, box); err != nil {
			return fmt.Errorf("failed to update capital: %w", err)
		}
		res.Cashbox = *box

		return s.audit.Record(txCtx, actor, model.ActionCashboxSetCapital, fmt.Sprint(model.CashboxSingletonID), entryType, map[string]interface{}{
			"capital_usd": capital.USD.String(),
			"capital_lbp": capital.LBP.String(),
			"delta_usd":   delta.USD.String(),
			"delta_lbp":   delta.LBP.String(),
		})
	})
	if err != nil {
		return LedgerResult{}, err
	}

	s.events.Publish(EventCashboxUpdated, res.Cashbox)
	return res, nil
}

func (s *ledgerService) GetCashbox(ctx context.Context) (model.Cashbox, error) {
	box, err := s.cashboxRepo.Get(ctx)
	if err != nil {
		return model.Cashbox{}, notFound("cashbox", err)
	}
	return *box, nil
}

func (s *ledgerService) ListEntries(ctx context.Context, filter repository.EntryFilter) ([]model.CashboxEntry, int64, error) {
	if filter.AccountType != "" && !validAccounts[filter.AccountType] {
		return nil, 0, invalid("account_type", "must be one of: cash, wish")
	}
	page := pagination.New(filter.Page, filter.Limit)
	filter.Page, filter.Limit = page.Page, page.Limit

	entries, total, err := s.cashboxRepo.ListEntries(ctx, filter)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to fetch cashbox entries: %w", err)
	}
	return entries, total, nil
}

// Reconcile checks that every account balance equals the sum of its entries
// and that the aggregate equals cash + wish.
func (s *ledgerService) Reconcile(ctx context.Context) (ReconciliationReport, error) {
	var report ReconciliationReport
	err := s.txManager.RunInTx(ctx, func(txCtx context.Context) error {
		// Writers hold the row lock while they post, so balances and sums are read as one state.
		box, err := s.cashboxRepo.GetForShare(txCtx)
		if err != nil {
			return notFound("cashbox", err)
		}
		sums, err := s.cashboxRepo.SumByAccount(txCtx)
		if err != nil {
			return err
		}

		byAccount := make(map[string]repository.AccountSum, len(sums))
		for _, sum := range sums {
			byAccount[sum.AccountType] = sum
		}

		report = ReconciliationReport{Balanced: true, CheckedAt: s.now()}
		for _, account := range []string{model.AccountCash, model.AccountWish} {
			usd, lbp := accountBalance(box, account)
			sum := byAccount[account]
			drift := AccountDrift{
				AccountType: account,
				BalanceUSD:  usd,
				BalanceLBP:  lbp,
				EntriesUSD:  money.USD(sum.SumUSD),
				EntriesLBP:  money.LBP(sum.SumLBP),
				DriftUSD:    money.USD(usd.Sub(sum.SumUSD)),
				DriftLBP:    money.LBP(lbp.Sub(sum.SumLBP)),
			}
			if !drift.DriftUSD.IsZero() || !drift.DriftLBP.IsZero() {
				report.Balanced = false
			}
			report.Accounts = append(report.Accounts, drift)
		}

		report.Aggregate = box.BalanceUSD.Equal(box.CashBalanceUSD.Add(box.WishBalanceUSD)) &&
			box.BalanceLBP.Equal(box.CashBalanceLBP.Add(box.WishBalanceLBP))
		if !report.Aggregate {
			report.Balanced = false
		}
		return nil
	})
	if err != nil {
		return ReconciliationReport{}, err
	}
	return report, nil
}

var validGroupBy = map[string]bool{"day": true, "week": true, "month": true}

func (s *ledgerService) Cashflow(ctx context.Context, groupBy string, start, end time.Time) ([]repository.CashflowRow, error) {
	if groupBy == "" {
		groupBy = "day"
	}
	if !validGroupBy[groupBy] {
		return nil, invalid("group_by", "must be one of: day, week, month")
	}
	if end.IsZero() {
		end = s.now()
	}
	if start.IsZero() {
		start = end.AddDate(0, 0, -30)
	}
	if start.After(end) {
		return nil, invalid("start_date", "must not be after end_date")
	}

	rows, err := s.cashboxRepo.Cashflow(ctx, groupBy, start, end)
	if err != nil {
		return nil, err
	}
	if rows == nil {
		rows = []repository.CashflowRow{}
	}
	return rows, nil
}

