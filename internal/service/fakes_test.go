package service

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"testing"
	"time"

	"deliveryerp/internal/model"
	"deliveryerp/internal/repository"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// memStore backs every fake repository. fakeTx snapshots it on entry and
// restores it when fn fails, which gives nested calls savepoint behaviour.
type memStore struct {
	orders  map[uuid.UUID]model.Order
	drivers map[uuid.UUID]model.Driver
	clients map[uuid.UUID]model.Client
	cashbox *model.Cashbox
	entries []model.CashboxEntry
	audits  []model.AuditLog

	// failEntry makes CreateEntry fail after the balance was saved.
	failEntry error
	// unlockedRead runs after an unlocked cashbox read, where a concurrent writer could commit.
	unlockedRead func()
	cashboxLocks []string
}

func newMemStore() *memStore {
	return &memStore{
		orders:  map[uuid.UUID]model.Order{},
		drivers: map[uuid.UUID]model.Driver{},
		clients: map[uuid.UUID]model.Client{},
		cashbox: &model.Cashbox{ID: model.CashboxSingletonID},
	}
}

type memSnapshot struct {
	orders  map[uuid.UUID]model.Order
	drivers map[uuid.UUID]model.Driver
	clients map[uuid.UUID]model.Client
	cashbox *model.Cashbox
	entries []model.CashboxEntry
	audits  []model.AuditLog
}

func (s *memStore) snapshot() memSnapshot {
	snap := memSnapshot{
		orders:  make(map[uuid.UUID]model.Order, len(s.orders)),
		drivers: make(map[uuid.UUID]model.Driver, len(s.drivers)),
		clients: make(map[uuid.UUID]model.Client, len(s.clients)),
		entries: append([]model.CashboxEntry(nil), s.entries...),
		audits:  append([]model.AuditLog(nil), s.audits...),
	}
	for k, v := range s.orders {
		snap.orders[k] = v
	}
	for k, v := range s.drivers {
		snap.drivers[k] = v
	}
	for k, v := range s.clients {
		snap.clients[k] = v
	}
	if s.cashbox != nil {
		box := *s.cashbox
		snap.cashbox = &box
	}
	return snap
}

func (s *memStore) restore(snap memSnapshot) {
	s.orders, s.drivers, s.clients = snap.orders, snap.drivers, snap.clients
	s.cashbox, s.entries, s.audits = snap.cashbox, snap.entries, snap.audits
}

func (s *memStore) auditActions() []string {
	actions := make([]string, 0, len(s.audits))
	for _, a := range s.audits {
		actions = append(actions, a.Action)
	}
	return actions
}

type fakeTx struct{ s *memStore }

func (t fakeTx) RunInTx(ctx context.Context, fn func(txCtx context.Context) error) error {
	saved := t.s.snapshot()
	if err := fn(ctx); err != nil {
		t.s.restore(saved)
		return err
	}
	return nil
}

// --- orders ---

type fakeOrderRepo struct{ s *memStore }

func (r fakeOrderRepo) Create(_ context.Context, o *model.Order) error {
	for _, existing := range r.s.orders {
		if existing.OrderRef == o.OrderRef {
			return &pgconn.PgError{Code: pgUniqueViolation, Message: "duplicate key value violates unique constraint"}
		}
	}
	if o.ID == uuid.Nil {
		o.ID = uuid.New()
	}
	o.CreatedAt = time.Now()
	o.UpdatedAt = o.CreatedAt
	stored := *o
	stored.Driver, stored.Client = nil, nil
	r.s.orders[o.ID] = stored
	return nil
}

func (r fakeOrderRepo) Update(_ context.Context, o *model.Order) error {
	if _, ok := r.s.orders[o.ID]; !ok {
		return gorm.ErrRecordNotFound
	}
	o.UpdatedAt = time.Now()
	stored := *o
	stored.Driver, stored.Client = nil, nil
	r.s.orders[o.ID] = stored
	return nil
}

func (r fakeOrderRepo) FindByID(_ context.Context, id uuid.UUID) (*model.Order, error) {
	o, ok := r.s.orders[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	if o.DriverID != nil {
		if d, ok := r.s.drivers[*o.DriverID]; ok {
			o.Driver = &d
		}
	}
	if o.ClientID != nil {
		if c, ok := r.s.clients[*o.ClientID]; ok {
			o.Client = &c
		}
	}
	return &o, nil
}

func (r fakeOrderRepo) FindByIDForUpdate(_ context.Context, id uuid.UUID) (*model.Order, error) {
	o, ok := r.s.orders[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return &o, nil
}

func (r fakeOrderRepo) ExistsByRef(_ context.Context, ref string) (bool, error) {
	for _, o := range r.s.orders {
		if o.OrderRef == ref {
			return true, nil
		}
	}
	return false, nil
}

func (r fakeOrderRepo) setFlag(id uuid.UUID, set func(*model.Order)) error {
	o, ok := r.s.orders[id]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	set(&o)
	r.s.orders[id] = o
	return nil
}

func (r fakeOrderRepo) MarkAppliedOnCreate(_ context.Context, id uuid.UUID) error {
	return r.setFlag(id, func(o *model.Order) { o.CashboxAppliedOnCreate = true })
}

func (r fakeOrderRepo) MarkAppliedOnDelivery(_ context.Context, id uuid.UUID) error {
	return r.setFlag(id, func(o *model.Order) { o.CashboxAppliedOnDelivery = true })
}

func (r fakeOrderRepo) MoveToHistory(_ context.Context, id uuid.UUID, at time.Time) error {
	return r.setFlag(id, func(o *model.Order) {
		o.MovedToHistory = true
		o.MovedAt = &at
	})
}

func (r fakeOrderRepo) FindHistoryCandidates(_ context.Context, limit int) ([]model.Order, error) {
	var out []model.Order
	for _, o := range r.s.orders {
		if !o.MovedToHistory && o.Status == "completed" && o.PaymentStatus == "paid" && o.AccountingCashed {
			out = append(out, o)
		}
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r fakeOrderRepo) List(_ context.Context, f repository.OrderFilter) ([]model.Order, int64, error) {
	var out []model.Order
	for _, o := range r.s.orders {
		if o.MovedToHistory != f.History {
			continue
		}
		if f.Status != "" && o.Status != f.Status {
			continue
		}
		if f.DriverID != nil && (o.DriverID == nil || *o.DriverID != *f.DriverID) {
			continue
		}
		if f.Search != "" && !strings.Contains(o.OrderRef+" "+o.CustomerName, f.Search) {
			continue
		}
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OrderRef < out[j].OrderRef })
	return out, int64(len(out)), nil
}

// --- cashbox ---

type fakeCashboxRepo struct{ s *memStore }

func (r fakeCashboxRepo) Ensure(context.Context) error {
	if r.s.cashbox == nil {
		r.s.cashbox = &model.Cashbox{ID: model.CashboxSingletonID}
	}
	return nil
}

func (r fakeCashboxRepo) Get(context.Context) (*model.Cashbox, error) {
	box, err := r.read()
	if err == nil && r.s.unlockedRead != nil {
		r.s.unlockedRead()
	}
	return box, err
}

func (r fakeCashboxRepo) GetForUpdate(context.Context) (*model.Cashbox, error) {
	r.s.cashboxLocks = append(r.s.cashboxLocks, "update")
	return r.read()
}

func (r fakeCashboxRepo) GetForShare(context.Context) (*model.Cashbox, error) {
	r.s.cashboxLocks = append(r.s.cashboxLocks, "share")
	return r.read()
}

func (r fakeCashboxRepo) read() (*model.Cashbox, error) {
	if r.s.cashbox == nil {
		return nil, gorm.ErrRecordNotFound
	}
	box := *r.s.cashbox
	return &box, nil
}

func (r fakeCashboxRepo) Save(_ context.Context, box *model.Cashbox) error {
	stored := *box
	r.s.cashbox = &stored
	return nil
}

func (r fakeCashboxRepo) CreateEntry(_ context.Context, e *model.CashboxEntry) error {
	if r.s.failEntry != nil {
		return r.s.failEntry
	}
	e.ID = uuid.New()
	e.CreatedAt = time.Now()
	r.s.entries = append(r.s.entries, *e)
	return nil
}

func (r fakeCashboxRepo) ListEntries(_ context.Context, f repository.EntryFilter) ([]model.CashboxEntry, int64, error) {
	var out []model.CashboxEntry
	for _, e := range r.s.entries {
		if f.Type != "" && e.Type != f.Type {
			continue
		}
		if f.AccountType != "" && e.AccountType != f.AccountType {
			continue
		}
		out = append(out, e)
	}
	return out, int64(len(out)), nil
}

func (r fakeCashboxRepo) SumByAccount(context.Context) ([]repository.AccountSum, error) {
	sums := map[string]*repository.AccountSum{}
	for _, e := range r.s.entries {
		sum, ok := sums[e.AccountType]
		if !ok {
			sum = &repository.AccountSum{AccountType: e.AccountType}
			sums[e.AccountType] = sum
		}
		sum.SumUSD = sum.SumUSD.Add(e.AmountUSD)
		sum.SumLBP = sum.SumLBP.Add(e.AmountLBP)
	}
	out := make([]repository.AccountSum, 0, len(sums))
	for _, sum := range sums {
		out = append(out, *sum)
	}
	return out, nil
}

func (r fakeCashboxRepo) Cashflow(context.Context, string, time.Time, time.Time) ([]repository.CashflowRow, error) {
	return nil, nil
}

// --- drivers, clients, audit ---

type fakeDriverRepo struct{ s *memStore }

func (r fakeDriverRepo) Create(_ context.Context, d *model.Driver) error {
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	r.s.drivers[d.ID] = *d
	return nil
}

func (r fakeDriverRepo) Update(_ context.Context, d *model.Driver) error {
	r.s.drivers[d.ID] = *d
	return nil
}

func (r fakeDriverRepo) Delete(_ context.Context, id uuid.UUID) error {
	delete(r.s.drivers, id)
	return nil
}

func (r fakeDriverRepo) FindByID(_ context.Context, id uuid.UUID) (*model.Driver, error) {
	d, ok := r.s.drivers[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return &d, nil
}

func (r fakeDriverRepo) List(_ context.Context, _ string, activeOnly bool, _, _ int) ([]model.Driver, int64, error) {
	var out []model.Driver
	for _, d := range r.s.drivers {
		if activeOnly && !d.IsActive {
			continue
		}
		out = append(out, d)
	}
	return out, int64(len(out)), nil
}

type fakeClientRepo struct{ s *memStore }

func (r fakeClientRepo) Create(_ context.Context, c *model.Client) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	r.s.clients[c.ID] = *c
	return nil
}

func (r fakeClientRepo) Update(_ context.Context, c *model.Client) error {
	r.s.clients[c.ID] = *c
	return nil
}

func (r fakeClientRepo) Delete(_ context.Context, id uuid.UUID) error {
	delete(r.s.clients, id)
	return nil
}

func (r fakeClientRepo) FindByID(_ context.Context, id uuid.UUID) (*model.Client, error) {
	c, ok := r.s.clients[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return &c, nil
}

func (r fakeClientRepo) List(context.Context, string, int, int) ([]model.Client, int64, error) {
	out := make([]model.Client, 0, len(r.s.clients))
	for _, c := range r.s.clients {
		out = append(out, c)
	}
	return out, int64(len(out)), nil
}

type fakeAuditRepo struct{ s *memStore }

func (r fakeAuditRepo) Log(_ context.Context, e *model.AuditLog) error {
	e.ID = uuid.New()
	e.CreatedAt = time.Now()
	r.s.audits = append(r.s.audits, *e)
	return nil
}

func (r fakeAuditRepo) List(context.Context, repository.AuditFilter) ([]model.AuditLog, int64, error) {
	return r.s.audits, int64(len(r.s.audits)), nil
}

// recordingPublisher keeps published event names.
type recordingPublisher struct{ events []string }

func (p *recordingPublisher) Publish(event string, _ interface{}) {
	p.events = append(p.events, event)
}

// --- harness ---

var fixedNow = time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)

type harness struct {
	store   *memStore
	events  *recordingPublisher
	ledger  LedgerService
	effects CashEffects
	orders  OrderService
	drivers DriverService
	clients ClientService
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	store := newMemStore()
	tx := fakeTx{s: store}
	log := zap.NewNop()
	events := &recordingPublisher{}
	audit := NewAuditService(fakeAuditRepo{s: store})

	ledger := NewLedgerService(fakeCashboxRepo{s: store}, audit, tx, events, log)
	ledger.(*ledgerService).now = func() time.Time { return fixedNow }

	effects := NewCashEffects(fakeOrderRepo{s: store}, ledger, audit, tx, log)
	orders := NewOrderService(fakeOrderRepo{s: store}, fakeDriverRepo{s: store}, fakeClientRepo{s: store}, effects, audit, tx, events, log)
	orders.(*orderService).now = func() time.Time { return fixedNow }

	return &harness{
		store:   store,
		events:  events,
		ledger:  ledger,
		effects: effects,
		orders:  orders,
		drivers: NewDriverService(fakeDriverRepo{s: store}, audit, tx),
		clients: NewClientService(fakeClientRepo{s: store}, audit, tx),
	}
}

func (h *harness) addDriver(t *testing.T, active bool) string {
	t.Helper()
	id := uuid.New()
	h.store.drivers[id] = model.Driver{ID: id, Name: "Rami", IsActive: active}
	return id.String()
}

func (h *harness) order(t *testing.T, id uuid.UUID) model.Order {
	t.Helper()
	o, ok := h.store.orders[id]
	require.True(t, ok, "order %s not stored", id)
	return o
}

func (h *harness) box() model.Cashbox {
	return *h.store.cashbox
}

func requireDecimal(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	require.Truef(t, decimal.RequireFromString(want).Equal(got), "want %s, got %s", want, got.String())
}

func strPtr(s string) *string { return &s }

func boolPtr(b bool) *bool { return &b }

func auditDetails(t *testing.T, a model.AuditLog) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(a.Details), &out))
	return out
}
