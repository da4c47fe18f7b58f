package worker

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/ignite/campaign-engine/internal/domain"
	"github.com/ignite/campaign-engine/internal/metrics"
	"github.com/ignite/campaign-engine/internal/pkg/distlock"
	"github.com/ignite/campaign-engine/internal/pkg/logger"
	"github.com/ignite/campaign-engine/internal/service/campaign"
)

// =============================================================================
// CAMPAIGN SCHEDULER WORKER
// =============================================================================
// Every tick the scheduler:
// - starts one-shot and scheduled campaigns whose scheduled_at has arrived
// - evaluates recurring campaigns company by company, with a bounded number
//   of companies in flight and a per-company cap on campaigns per tick
// - completes running campaigns whose queue has drained
//
// Claims are conditional status updates, so several scheduler processes can
// share one database. A lost claim is skipped, not reported.

const (
	// DefaultSchedulerPollInterval is how often the scheduler ticks.
	DefaultSchedulerPollInterval = 30 * time.Second

	DefaultMaxConcurrentCompanies = 5
	DefaultRecurringBatchSize     = 50
	DefaultMaxCampaignsPerCompany = 200
	DefaultOneShotBatch           = 100
	DefaultDrainedBatch           = 100
)

// SchedulerConfig tunes the scheduler loop.
type SchedulerConfig struct {
	PollInterval           time.Duration
	MaxConcurrentCompanies int
	BatchSize              int
	MaxCampaignsPerCompany int
	OneShotBatch           int
	DrainedBatch           int
}

// DefaultSchedulerConfig returns the production defaults.
func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		PollInterval:           DefaultSchedulerPollInterval,
		MaxConcurrentCompanies: DefaultMaxConcurrentCompanies,
		BatchSize:              DefaultRecurringBatchSize,
		MaxCampaignsPerCompany: DefaultMaxCampaignsPerCompany,
		OneShotBatch:           DefaultOneShotBatch,
		DrainedBatch:           DefaultDrainedBatch,
	}
}

func (c SchedulerConfig) withDefaults() SchedulerConfig {
	d := DefaultSchedulerConfig()
	if c.PollInterval <= 0 {
		c.PollInterval = d.PollInterval
	}
	if c.MaxConcurrentCompanies <= 0 {
		c.MaxConcurrentCompanies = d.MaxConcurrentCompanies
	}
	if c.BatchSize <= 0 {
		c.BatchSize = d.BatchSize
	}
	if c.MaxCampaignsPerCompany <= 0 {
		c.MaxCampaignsPerCompany = d.MaxCampaignsPerCompany
	}
	if c.OneShotBatch <= 0 {
		c.OneShotBatch = d.OneShotBatch
	}
	if c.DrainedBatch <= 0 {
		c.DrainedBatch = d.DrainedBatch
	}
	return c
}

// SchedulerStats is a snapshot of the scheduler counters.
type SchedulerStats struct {
	Ticks            int64 `json:"ticks"`
	CampaignsStarted int64 `json:"campaigns_started"`
	OccurrencesRun   int64 `json:"occurrences_run"`
	Completed        int64 `json:"completed"`
	Rescheduled      int64 `json:"rescheduled"`
	LostRaces        int64 `json:"lost_races"`
	CompaniesSkipped int64 `json:"companies_skipped"`
	Errors           int64 `json:"errors"`
}

// CampaignScheduler drives scheduled and recurring campaigns.
type CampaignScheduler struct {
	repo     campaign.SchedulerRepository
	svc      *campaign.Service
	cfg      SchedulerConfig
	now      func() time.Time
	leases   distlock.Factory // optional cross-process lease per company
	metrics  *metrics.Metrics
	tracer   trace.Tracer
	workerID string

	// companies currently being processed by this process
	busyMu sync.Mutex
	busy   map[int64]struct{}

	// Stats
	ticks            int64
	campaignsStarted int64
	occurrencesRun   int64
	completed        int64
	rescheduled      int64
	lostRaces        int64
	companiesSkipped int64
	errors           int64

	// Control
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
	mu      sync.RWMutex
}

// SchedulerOption configures a CampaignScheduler.
type SchedulerOption func(*CampaignScheduler)

// WithSchedulerClock injects the current-instant source.
func WithSchedulerClock(now func() time.Time) SchedulerOption {
	return func(cs *CampaignScheduler) { cs.now = now }
}

// WithCompanyLeases takes a cross-process lease per company around the
// recurring pass. Without it only the in-process guard applies.
func WithCompanyLeases(f distlock.Factory) SchedulerOption {
	return func(cs *CampaignScheduler) { cs.leases = f }
}

func WithSchedulerMetrics(m *metrics.Metrics) SchedulerOption {
	return func(cs *CampaignScheduler) { cs.metrics = m }
}

func WithTracer(t trace.Tracer) SchedulerOption {
	return func(cs *CampaignScheduler) { cs.tracer = t }
}

// NewCampaignScheduler creates a scheduler over repo that acts through svc.
func NewCampaignScheduler(repo campaign.SchedulerRepository, svc *campaign.Service, cfg SchedulerConfig, opts ...SchedulerOption) *CampaignScheduler {
	cs := &CampaignScheduler{
		repo:     repo,
		svc:      svc,
		cfg:      cfg.withDefaults(),
		now:      time.Now,
		tracer:   otel.GetTracerProvider().Tracer("campaign-scheduler"),
		workerID: fmt.Sprintf("scheduler-%s-%d", getHostname(), time.Now().UnixNano()%10000),
		busy:     make(map[int64]struct{}),
	}
	for _, opt := range opts {
		opt(cs)
	}
	return cs
}

// Start begins the polling loop.
func (cs *CampaignScheduler) Start() error {
	cs.mu.Lock()
	if cs.running {
		cs.mu.Unlock()
		return fmt.Errorf("scheduler already running")
	}
	cs.running = true
	cs.ctx, cs.cancel = context.WithCancel(context.Background())
	cs.mu.Unlock()

	logger.Info("[CampaignScheduler] starting", "worker_id", cs.workerID, "poll_interval", cs.cfg.PollInterval)

	cs.wg.Add(1)
	go cs.schedulerLoop()
	return nil
}

// Stop halts the loop. A tick already in progress runs to completion.
func (cs *CampaignScheduler) Stop() {
	cs.mu.Lock()
	if !cs.running {
		cs.mu.Unlock()
		return
	}
	cs.running = false
	cs.mu.Unlock()

	logger.Info("[CampaignScheduler] stopping", "worker_id", cs.workerID)
	cs.cancel()
	cs.wg.Wait()
	st := cs.Stats()
	logger.Info("[CampaignScheduler] stopped", "started", st.CampaignsStarted, "occurrences", st.OccurrencesRun,
		"completed", st.Completed, "errors", st.Errors)
}

// Running reports whether the loop is active.
func (cs *CampaignScheduler) Running() bool {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	return cs.running
}

func (cs *CampaignScheduler) schedulerLoop() {
	defer cs.wg.Done()

	ticker := time.NewTicker(cs.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-cs.ctx.Done():
			return
		case <-ticker.C:
			cs.Tick(context.WithoutCancel(cs.ctx))
		}
	}
}

// Tick runs one full pass. It never returns an error: every per-campaign
// failure is logged and counted.
func (cs *CampaignScheduler) Tick(ctx context.Context) {
	ctx, span := cs.tracer.Start(ctx, "scheduler.tick")
	defer span.End()

	begin := time.Now()
	atomic.AddInt64(&cs.ticks, 1)

	cs.dispatchOneShot(ctx)
	cs.dispatchRecurring(ctx)
	cs.completeDrained(ctx)

	cs.metrics.ObserveTick(time.Since(begin).Seconds())
}

// =============================================================================
// ONE-SHOT DISPATCH
// =============================================================================

func (cs *CampaignScheduler) dispatchOneShot(ctx context.Context) {
	cs.metrics.Tick("one_shot")
	due, err := cs.repo.ListDueOneShot(ctx, cs.now(), cs.cfg.OneShotBatch)
	if err != nil {
		cs.fail("list_due", 0, 0, err)
		return
	}
	for i := range due {
		c := &due[i]
		_, err := cs.svc.Start(ctx, c.CompanyID, c.ID)
		switch {
		case err == nil:
			atomic.AddInt64(&cs.campaignsStarted, 1)
			logger.Info("[CampaignScheduler] campaign started", "company_id", c.CompanyID, "campaign_id", c.ID)
		case errors.Is(err, campaign.ErrClaimLost):
			atomic.AddInt64(&cs.lostRaces, 1)
		default:
			cs.fail("start", c.CompanyID, c.ID, err)
		}
	}
}

// =============================================================================
// RECURRING DISPATCH
// =============================================================================

func (cs *CampaignScheduler) dispatchRecurring(ctx context.Context) {
	cs.metrics.Tick("recurring")
	companies, err := cs.repo.ListRecurringCompanies(ctx)
	if err != nil {
		cs.fail("list_companies", 0, 0, err)
		return
	}

	var g errgroup.Group
	g.SetLimit(cs.cfg.MaxConcurrentCompanies)
	for _, id := range companies {
		g.Go(func() error {
			cs.processCompany(ctx, id)
			return nil
		})
	}
	_ = g.Wait()
}

// processCompany evaluates one company's scheduled recurring campaigns. A
// company already held by another pass is skipped for this tick.
func (cs *CampaignScheduler) processCompany(ctx context.Context, companyID int64) {
	if !cs.enter(companyID) {
		cs.skipCompany(companyID, "in progress")
		return
	}
	defer cs.leave(companyID)

	if cs.leases != nil {
		lease := cs.leases.NewLock(fmt.Sprintf("scheduler:company:%d", companyID))
		ok, err := lease.Acquire(ctx)
		if err != nil {
			cs.fail("lease", companyID, 0, err)
			return
		}
		if !ok {
			cs.skipCompany(companyID, "leased elsewhere")
			return
		}
		defer lease.Release(context.WithoutCancel(ctx))
	}

	ctx, span := cs.tracer.Start(ctx, "scheduler.company",
		trace.WithAttributes(attribute.Int64("company_id", companyID)))
	defer span.End()

	var (
		cursor campaign.ScheduleCursor
		seen   int
	)
	for seen < cs.cfg.MaxCampaignsPerCompany {
		limit := cs.cfg.BatchSize
		if rest := cs.cfg.MaxCampaignsPerCompany - seen; rest < limit {
			limit = rest
		}
		batch, err := cs.repo.ListScheduledRecurring(ctx, companyID, cursor, limit)
		if err != nil {
			span.SetStatus(codes.Error, err.Error())
			cs.fail("list_recurring", companyID, 0, err)
			return
		}
		if len(batch) == 0 {
			return
		}
		// Taken before evaluation: rescheduling moves scheduled_at.
		cursor = campaign.CursorOf(&batch[len(batch)-1])
		for i := range batch {
			cs.evaluate(ctx, &batch[i])
		}
		seen += len(batch)
		if len(batch) < limit {
			return
		}
	}
	logger.Debug("[CampaignScheduler] company cap reached", "company_id", companyID, "cap", cs.cfg.MaxCampaignsPerCompany)
}

// evaluate heals a stale schedule, then fires the campaign if it is due.
func (cs *CampaignScheduler) evaluate(ctx context.Context, c *domain.Campaign) {
	if c.Recurrence == nil {
		cs.fail("evaluate", c.CompanyID, c.ID, campaign.ErrInvalidRecurrence)
		return
	}
	now := cs.now()
	calc := cs.svc.Calculator()

	if calc.IsStale(c.ScheduledAt, now) {
		was := *c.ScheduledAt
		next, ok, err := cs.svc.Reschedule(ctx, c)
		if errors.Is(err, campaign.ErrClaimLost) {
			atomic.AddInt64(&cs.lostRaces, 1)
			return
		}
		if err != nil {
			cs.fail("reschedule", c.CompanyID, c.ID, err)
			return
		}
		if !ok {
			atomic.AddInt64(&cs.completed, 1)
			logger.Info("[CampaignScheduler] recurrence exhausted", "company_id", c.CompanyID, "campaign_id", c.ID)
			return
		}
		atomic.AddInt64(&cs.rescheduled, 1)
		logger.Warn("[CampaignScheduler] stale schedule recalculated", "company_id", c.CompanyID, "campaign_id", c.ID,
			"was", was, "next_fire_at", next)
	}

	due, err := calc.ShouldProcess(*c.Recurrence, "", c.ScheduledAt, now)
	if err != nil {
		cs.fail("evaluate", c.CompanyID, c.ID, err)
		return
	}
	if !due {
		return
	}

	claimed, err := cs.svc.RunOccurrence(ctx, c)
	if err != nil {
		cs.fail("occurrence", c.CompanyID, c.ID, err)
		return
	}
	if !claimed {
		atomic.AddInt64(&cs.lostRaces, 1)
		logger.Debug("[CampaignScheduler] occurrence claimed elsewhere", "company_id", c.CompanyID, "campaign_id", c.ID)
		return
	}
	atomic.AddInt64(&cs.occurrencesRun, 1)
}

// =============================================================================
// COMPLETION SWEEP
// =============================================================================

// completeDrained closes running campaigns whose queue has no pending or
// processing items left.
func (cs *CampaignScheduler) completeDrained(ctx context.Context) {
	cs.metrics.Tick("completion")
	drained, err := cs.repo.ListDrained(ctx, cs.cfg.DrainedBatch)
	if err != nil {
		cs.fail("list_drained", 0, 0, err)
		return
	}
	for i := range drained {
		c := &drained[i]
		got, err := cs.svc.CompleteOccurrence(ctx, c.CompanyID, c.ID)
		switch {
		case err == nil:
			atomic.AddInt64(&cs.completed, 1)
			logger.Info("[CampaignScheduler] occurrence closed", "company_id", c.CompanyID, "campaign_id", c.ID,
				"status", string(got.Status))
		case errors.Is(err, campaign.ErrClaimLost):
			atomic.AddInt64(&cs.lostRaces, 1)
		default:
			cs.fail("complete", c.CompanyID, c.ID, err)
		}
	}
}

// =============================================================================
// HELPERS
// =============================================================================

func (cs *CampaignScheduler) enter(companyID int64) bool {
	cs.busyMu.Lock()
	defer cs.busyMu.Unlock()
	if _, ok := cs.busy[companyID]; ok {
		return false
	}
	cs.busy[companyID] = struct{}{}
	return true
}

func (cs *CampaignScheduler) leave(companyID int64) {
	cs.busyMu.Lock()
	delete(cs.busy, companyID)
	cs.busyMu.Unlock()
}

func (cs *CampaignScheduler) skipCompany(companyID int64, reason string) {
	atomic.AddInt64(&cs.companiesSkipped, 1)
	cs.metrics.CompanySkipped()
	logger.Debug("[CampaignScheduler] company skipped", "company_id", companyID, "reason", reason)
}

func (cs *CampaignScheduler) fail(stage string, companyID, campaignID int64, err error) {
	atomic.AddInt64(&cs.errors, 1)
	cs.metrics.Error(stage)
	logger.Error("[CampaignScheduler] "+stage+" failed", "company_id", companyID, "campaign_id", campaignID, "error", err)
}

// Stats returns a snapshot of the scheduler counters.
func (cs *CampaignScheduler) Stats() SchedulerStats {
	return SchedulerStats{
		Ticks:            atomic.LoadInt64(&cs.ticks),
		CampaignsStarted: atomic.LoadInt64(&cs.campaignsStarted),
		OccurrencesRun:   atomic.LoadInt64(&cs.occurrencesRun),
		Completed:        atomic.LoadInt64(&cs.completed),
		Rescheduled:      atomic.LoadInt64(&cs.rescheduled),
		LostRaces:        atomic.LoadInt64(&cs.lostRaces),
		CompaniesSkipped: atomic.LoadInt64(&cs.companiesSkipped),
		Errors:           atomic.LoadInt64(&cs.errors),
	}
}

func getHostname() string {
	h, err := os.Hostname()
	if err != nil {
		return "unknown"
	}
	return h
}
