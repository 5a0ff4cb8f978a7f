package scheduler

import (
	"context"
	"fmt"
	"time"

	"deliveryerp/internal/service"

	"github.com/go-co-op/gocron/v2"
	"go.uber.org/zap"
)

// Archiver moves eligible orders to history.
type Archiver interface {
	ArchiveEligible(ctx context.Context, limit int) (int, error)
}

// Reconciler checks the cashbox against its entries.
type Reconciler interface {
	Reconcile(ctx context.Context) (service.ReconciliationReport, error)
}

type Config struct {
	HistoryInterval  time.Duration
	HistoryBatchSize int
	ReconcileHour    uint
	ReconcileMinute  uint
	Location         *time.Location
}

// Scheduler runs the background jobs: the history sweep and the daily ledger reconciliation.
type Scheduler struct {
	s          gocron.Scheduler
	orders     Archiver
	ledger     Reconciler
	cfg        Config
	log        *zap.Logger
	ctx        context.Context
	cancel     context.CancelFunc
	jobTimeout time.Duration
}

func New(orders Archiver, ledger Reconciler, cfg Config, log *zap.Logger) (*Scheduler, error) {
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if cfg.HistoryInterval <= 0 {
		cfg.HistoryInterval = 10 * time.Minute
	}
	if cfg.HistoryBatchSize <= 0 {
		cfg.HistoryBatchSize = 200
	}

	s, err := gocron.NewScheduler(gocron.WithLocation(cfg.Location))
	if err != nil {
		return nil, fmt.Errorf("failed to create scheduler: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	sch := &Scheduler{
		s:          s,
		orders:     orders,
		ledger:     ledger,
		cfg:        cfg,
		log:        log,
		ctx:        ctx,
		cancel:     cancel,
		jobTimeout: 5 * time.Minute,
	}

	if _, err := s.NewJob(
		gocron.DurationJob(cfg.HistoryInterval),
		gocron.NewTask(sch.SweepHistory),
		gocron.WithName("history-sweep"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to schedule history sweep: %w", err)
	}

	if _, err := s.NewJob(
		gocron.DailyJob(1, gocron.NewAtTimes(gocron.NewAtTime(cfg.ReconcileHour, cfg.ReconcileMinute, 0))),
		gocron.NewTask(sch.Reconcile),
		gocron.WithName("ledger-reconcile"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to schedule reconciliation: %w", err)
	}

	return sch, nil
}

func (sch *Scheduler) Start() {
	sch.s.Start()
	sch.log.Info("scheduler started",
		zap.Duration("history_interval", sch.cfg.HistoryInterval),
		zap.String("reconcile_at", fmt.Sprintf("%02d:%02d", sch.cfg.ReconcileHour, sch.cfg.ReconcileMinute)),
	)
}

// Stop cancels running jobs and waits for them to return.
func (sch *Scheduler) Stop() error {
	sch.cancel()
	return sch.s.Shutdown()
}

// SweepHistory archives orders that satisfy the history rule but were not moved when their flags were set.
func (sch *Scheduler) SweepHistory() {
	ctx, cancel := context.WithTimeout(sch.ctx, sch.jobTimeout)
	defer cancel()

	moved, err := sch.orders.ArchiveEligible(ctx, sch.cfg.HistoryBatchSize)
	if err != nil {
		sch.log.Error("history sweep failed", zap.Int("moved", moved), zap.Error(err))
		return
	}
	if moved > 0 {
		sch.log.Info("history sweep archived orders", zap.Int("moved", moved))
	}
}

// Reconcile logs a warning per account whose balance drifted from its entries.
func (sch *Scheduler) Reconcile() {
	ctx, cancel := context.WithTimeout(sch.ctx, sch.jobTimeout)
	defer cancel()

	report, err := sch.ledger.Reconcile(ctx)
	if err != nil {
		sch.log.Error("ledger reconciliation failed", zap.Error(err))
		return
	}
	if report.Balanced {
		sch.log.Info("ledger reconciled")
		return
	}

	if !report.Aggregate {
		sch.log.Warn("cashbox aggregate does not equal cash + wish")
	}
	for _, a := range report.Accounts {
		if a.DriftUSD.IsZero() && a.DriftLBP.IsZero() {
			continue
		}
		sch.log.Warn("cashbox drift",
			zap.String("account", a.AccountType),
			zap.String("drift_usd", a.DriftUSD.String()),
			zap.String("drift_lbp", a.DriftLBP.String()),
		)
	}
}
