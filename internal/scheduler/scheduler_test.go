package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"deliveryerp/internal/service"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

type fakeArchiver struct {
	calls int32
	limit int
	err   error
}

func (f *fakeArchiver) ArchiveEligible(_ context.Context, limit int) (int, error) {
	atomic.AddInt32(&f.calls, 1)
	f.limit = limit
	return 3, f.err
}

type fakeReconciler struct {
	report service.ReconciliationReport
	err    error
}

func (f *fakeReconciler) Reconcile(context.Context) (service.ReconciliationReport, error) {
	return f.report, f.err
}

func newObserved(t *testing.T, orders Archiver, ledger Reconciler, cfg Config) (*Scheduler, *observer.ObservedLogs) {
	t.Helper()
	core, logs := observer.New(zap.InfoLevel)
	sch, err := New(orders, ledger, cfg, zap.New(core))
	require.NoError(t, err)
	t.Cleanup(func() { _ = sch.Stop() })
	return sch, logs
}

func TestSweepHistory(t *testing.T) {
	orders := &fakeArchiver{}
	sch, logs := newObserved(t, orders, &fakeReconciler{}, Config{HistoryBatchSize: 50})

	sch.SweepHistory()
	assert.Equal(t, 50, orders.limit)
	assert.Equal(t, 1, logs.FilterMessage("history sweep archived orders").Len())

	orders.err = errors.New("db down")
	sch.SweepHistory()
	assert.Equal(t, 1, logs.FilterMessage("history sweep failed").Len())
}

func TestReconcile_WarnsOnDrift(t *testing.T) {
	ledger := &fakeReconciler{report: service.ReconciliationReport{
		Balanced:  false,
		Aggregate: true,
		Accounts: []service.AccountDrift{
			{AccountType: "cash", DriftUSD: decimal.NewFromInt(5)},
			{AccountType: "wish"},
		},
	}}
	sch, logs := newObserved(t, &fakeArchiver{}, ledger, Config{})

	sch.Reconcile()
	drift := logs.FilterMessage("cashbox drift")
	require.Equal(t, 1, drift.Len())
	assert.Equal(t, "cash", drift.All()[0].ContextMap()["account"])

	ledger.report = service.ReconciliationReport{Balanced: true, Aggregate: true}
	sch.Reconcile()
	assert.Equal(t, 1, logs.FilterMessage("ledger reconciled").Len())
}

func TestStart_RunsHistorySweepOnInterval(t *testing.T) {
	orders := &fakeArchiver{}
	sch, _ := newObserved(t, orders, &fakeReconciler{}, Config{HistoryInterval: 20 * time.Millisecond})

	sch.Start()
	assert.Eventually(t, func() bool { return atomic.LoadInt32(&orders.calls) >= 2 }, 2*time.Second, 10*time.Millisecond)
}
