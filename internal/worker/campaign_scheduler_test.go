package worker

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/ignite/campaign-engine/internal/domain"
	"github.com/ignite/campaign-engine/internal/metrics"
	"github.com/ignite/campaign-engine/internal/pkg/distlock"
	"github.com/ignite/campaign-engine/internal/repository/memory"
	"github.com/ignite/campaign-engine/internal/segmentation"
	"github.com/ignite/campaign-engine/internal/service/campaign"
)

// =============================================================================
// CAMPAIGN SCHEDULER TESTS
// =============================================================================

const company = int64(1)

// monday is 2026-01-05 08:00 UTC.
var monday = time.Date(2026, 1, 5, 8, 0, 0, 0, time.UTC)

func at(day, hour, minute int) time.Time {
	return time.Date(2026, 1, day, hour, minute, 0, 0, time.UTC)
}

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = t
}

type schedulerFixture struct {
	store *memory.Store
	svc   *campaign.Service
	clock *testClock
	seg   int64
}

func newSchedulerFixture(t *testing.T) *schedulerFixture {
	t.Helper()
	store := memory.New(domain.PlanLimits{MaxCampaigns: 20, MaxCampaignRecipients: 1000})
	store.PutChannel(domain.ChannelConnection{ID: 100, CompanyID: company, Type: "whatsapp", Status: domain.ChannelActive})
	store.PutChannel(domain.ChannelConnection{ID: 300, CompanyID: company, Type: "whatsapp", Status: domain.ChannelDisconnected})
	for i := 0; i < 3; i++ {
		store.PutContact(domain.Contact{
			CompanyID: company,
			Name:      fmt.Sprintf("Contact %d", i),
			Phone:     fmt.Sprintf("+1555000%04d", i),
			Tags:      []string{"vip"},
			IsActive:  true,
			CreatedAt: monday.Add(-time.Hour),
		})
	}
	seg := store.PutSegment(domain.ContactSegment{
		CompanyID: company, Name: "vip", Criteria: domain.SegmentCriteria{Tags: []string{"vip"}},
	})

	f := &schedulerFixture{store: store, clock: &testClock{t: monday}, seg: seg}
	f.svc = campaign.NewService(campaign.Deps{
		Campaigns:  store,
		Recipients: store,
		Queue:      store,
		Segments:   store,
		Channels:   store,
		Plans:      store,
		Audience:   segmentation.NewEngine(store),
	}, campaign.WithClock(f.clock.Now), campaign.WithRand(func() float64 { return 0 }))
	return f
}

func (f *schedulerFixture) scheduler(cfg SchedulerConfig, opts ...SchedulerOption) *CampaignScheduler {
	return NewCampaignScheduler(f.store, f.svc, cfg, append([]SchedulerOption{WithSchedulerClock(f.clock.Now)}, opts...)...)
}

// recurring creates and arms a daily 09:00 UTC campaign.
func (f *schedulerFixture) recurring(t *testing.T, r domain.Recurrence) *domain.Campaign {
	t.Helper()
	ctx := context.Background()
	seg := f.seg
	c, err := f.svc.Create(ctx, company, campaign.CreateInput{
		Name:            "Daily",
		Type:            domain.CampaignRecurringDaily,
		ChannelIDs:      []int64{100},
		SegmentID:       &seg,
		Recurrence:      &r,
		MessageTemplate: "Hi {{ first_name }}",
	})
	if err != nil {
		t.Fatalf("Create() error: %v", err)
	}
	if c, err = f.svc.Start(ctx, company, c.ID); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	return c
}

// scheduledOnce creates a scheduled-type campaign deferred to when.
func (f *schedulerFixture) scheduledOnce(t *testing.T, channel int64, when time.Time) *domain.Campaign {
	t.Helper()
	ctx := context.Background()
	seg := f.seg
	c, err := f.svc.Create(ctx, company, campaign.CreateInput{
		Name:            "Promo",
		Type:            domain.CampaignScheduledOnce,
		ChannelIDs:      []int64{channel},
		SegmentID:       &seg,
		ScheduledAt:     &when,
		MessageTemplate: "Promo for {{ name }}",
	})
	if err != nil {
		t.Fatalf("Create() error: %v", err)
	}
	if c, err = f.svc.Start(ctx, company, c.ID); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	if c.Status != domain.CampaignScheduled {
		t.Fatalf("status = %s, want scheduled", c.Status)
	}
	return c
}

func (f *schedulerFixture) status(t *testing.T, id int64) *domain.Campaign {
	t.Helper()
	c, err := f.svc.Get(context.Background(), company, id)
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	return c
}

var daily = domain.Recurrence{SendTimes: []string{"09:00"}, Timezone: "UTC"}

func TestCampaignScheduler_Defaults(t *testing.T) {
	f := newSchedulerFixture(t)
	cs := NewCampaignScheduler(f.store, f.svc, SchedulerConfig{BatchSize: 7})

	if cs.cfg.PollInterval != DefaultSchedulerPollInterval {
		t.Errorf("PollInterval = %v, want %v", cs.cfg.PollInterval, DefaultSchedulerPollInterval)
	}
	if cs.cfg.BatchSize != 7 {
		t.Errorf("BatchSize = %d, want 7", cs.cfg.BatchSize)
	}
	if cs.cfg.MaxConcurrentCompanies != DefaultMaxConcurrentCompanies {
		t.Errorf("MaxConcurrentCompanies = %d, want %d", cs.cfg.MaxConcurrentCompanies, DefaultMaxConcurrentCompanies)
	}
}

func TestCampaignScheduler_StartStop(t *testing.T) {
	f := newSchedulerFixture(t)
	cs := f.scheduler(SchedulerConfig{PollInterval: 5 * time.Millisecond})

	if err := cs.Start(); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	if !cs.Running() {
		t.Error("scheduler should be running after Start()")
	}
	if err := cs.Start(); err == nil {
		t.Error("double Start() should return error")
	}

	deadline := time.Now().Add(2 * time.Second)
	for cs.Stats().Ticks == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	cs.Stop()

	if cs.Running() {
		t.Error("scheduler should not be running after Stop()")
	}
	if cs.Stats().Ticks == 0 {
		t.Error("expected at least one tick")
	}
	cs.Stop() // no-op
}

// =============================================================================
// ONE-SHOT
// =============================================================================

func TestCampaignScheduler_StartsDueCampaigns(t *testing.T) {
	f := newSchedulerFixture(t)
	ctx := context.Background()
	c := f.scheduledOnce(t, 100, at(5, 9, 0))
	cs := f.scheduler(DefaultSchedulerConfig())

	cs.Tick(ctx)
	if got := f.status(t, c.ID).Status; got != domain.CampaignScheduled {
		t.Fatalf("before its time: status = %s, want scheduled", got)
	}

	f.clock.Set(at(5, 9, 0))
	cs.Tick(ctx)

	if got := f.status(t, c.ID).Status; got != domain.CampaignRunning {
		t.Errorf("status = %s, want running", got)
	}
	if n := len(f.store.QueueItems(c.ID)); n != 3 {
		t.Errorf("queue items = %d, want 3", n)
	}
	if st := cs.Stats(); st.CampaignsStarted != 1 || st.Errors != 0 {
		t.Errorf("stats = %+v", st)
	}
}

func TestCampaignScheduler_OneFailureDoesNotBlockOthers(t *testing.T) {
	f := newSchedulerFixture(t)
	ctx := context.Background()
	broken := f.scheduledOnce(t, 300, at(5, 8, 30))
	ok := f.scheduledOnce(t, 100, at(5, 8, 45))
	cs := f.scheduler(DefaultSchedulerConfig())

	f.clock.Set(at(5, 9, 0))
	cs.Tick(ctx)

	if got := f.status(t, broken.ID).Status; got != domain.CampaignScheduled {
		t.Errorf("broken campaign status = %s, want scheduled for retry", got)
	}
	if got := f.status(t, ok.ID).Status; got != domain.CampaignRunning {
		t.Errorf("healthy campaign status = %s, want running", got)
	}
	if st := cs.Stats(); st.Errors != 1 || st.CampaignsStarted != 1 {
		t.Errorf("stats = %+v, want 1 error and 1 start", st)
	}
}

// =============================================================================
// RECURRING
// =============================================================================

func TestCampaignScheduler_RecurringCycle(t *testing.T) {
	f := newSchedulerFixture(t)
	ctx := context.Background()
	c := f.recurring(t, daily)
	cs := f.scheduler(DefaultSchedulerConfig())

	f.clock.Set(at(5, 8, 30))
	cs.Tick(ctx)
	if got := f.status(t, c.ID).Status; got != domain.CampaignScheduled {
		t.Fatalf("08:30: status = %s, want scheduled", got)
	}

	f.clock.Set(at(5, 9, 0))
	cs.Tick(ctx)
	if got := f.status(t, c.ID).Status; got != domain.CampaignRunning {
		t.Fatalf("09:00: status = %s, want running", got)
	}
	if n := len(f.store.QueueItems(c.ID)); n != 3 {
		t.Errorf("queue items = %d, want 3", n)
	}

	// Delivery drains the queue; the next tick closes the occurrence.
	f.store.SetQueueStatus(c.ID, domain.QueueSent)
	f.clock.Set(at(5, 9, 30))
	cs.Tick(ctx)

	got := f.status(t, c.ID)
	if got.Status != domain.CampaignScheduled {
		t.Fatalf("after drain: status = %s, want scheduled", got.Status)
	}
	if want := at(6, 9, 0); !got.ScheduledAt.Equal(want) {
		t.Errorf("next fire = %v, want %v", got.ScheduledAt, want)
	}
	if st := cs.Stats(); st.OccurrencesRun != 1 || st.Completed != 1 {
		t.Errorf("stats = %+v", st)
	}
}

func TestCampaignScheduler_ToleranceWindow(t *testing.T) {
	f := newSchedulerFixture(t)
	c := f.recurring(t, daily)
	cs := f.scheduler(DefaultSchedulerConfig())

	// A late tick still fires inside the tolerance window.
	f.clock.Set(at(5, 9, 1).Add(30 * time.Second))
	cs.Tick(context.Background())

	if got := f.status(t, c.ID).Status; got != domain.CampaignRunning {
		t.Errorf("status = %s, want running", got)
	}
}

func TestCampaignScheduler_OffDaySkipped(t *testing.T) {
	f := newSchedulerFixture(t)
	// Tuesday 2026-01-06 is an off day.
	c := f.recurring(t, domain.Recurrence{SendTimes: []string{"09:00"}, Timezone: "UTC", OffDays: []int{int(time.Tuesday)}})
	cs := f.scheduler(DefaultSchedulerConfig())

	f.clock.Set(at(6, 9, 0))
	_, _, err := f.svc.Reschedule(context.Background(), c)
	if err != nil {
		t.Fatalf("Reschedule() error: %v", err)
	}
	cs.Tick(context.Background())

	got := f.status(t, c.ID)
	if got.Status != domain.CampaignScheduled {
		t.Errorf("status = %s, want scheduled", got.Status)
	}
	if want := at(7, 9, 0); !got.ScheduledAt.Equal(want) {
		t.Errorf("scheduled_at = %v, want %v", got.ScheduledAt, want)
	}
}

func TestCampaignScheduler_StaleScheduleSelfHeals(t *testing.T) {
	f := newSchedulerFixture(t)
	c := f.recurring(t, daily)
	cs := f.scheduler(DefaultSchedulerConfig())

	// The process was down over Monday's occurrence.
	f.clock.Set(at(6, 12, 0))
	cs.Tick(context.Background())

	got := f.status(t, c.ID)
	if got.Status != domain.CampaignScheduled {
		t.Errorf("status = %s, want scheduled", got.Status)
	}
	if want := at(7, 9, 0); !got.ScheduledAt.Equal(want) {
		t.Errorf("scheduled_at = %v, want %v", got.ScheduledAt, want)
	}
	if n := len(f.store.QueueItems(c.ID)); n != 0 {
		t.Errorf("queue items = %d, want 0", n)
	}
	if st := cs.Stats(); st.Rescheduled != 1 || st.OccurrencesRun != 0 {
		t.Errorf("stats = %+v", st)
	}
}

func TestCampaignScheduler_StaleHealKeepsDueSlot(t *testing.T) {
	f := newSchedulerFixture(t)
	c := f.recurring(t, domain.Recurrence{SendTimes: []string{"09:00", "17:00"}, Timezone: "UTC"})
	cs := f.scheduler(DefaultSchedulerConfig())

	// Down since Monday 09:00; the restart lands on Tuesday's 09:00 minute.
	f.clock.Set(at(6, 9, 0))
	cs.Tick(context.Background())

	got := f.status(t, c.ID)
	if got.Status != domain.CampaignRunning {
		t.Fatalf("status = %s, want running", got.Status)
	}
	if want := at(6, 9, 0); !got.ScheduledAt.Equal(want) {
		t.Errorf("scheduled_at = %v, want %v", got.ScheduledAt, want)
	}
	if st := cs.Stats(); st.Rescheduled != 1 || st.OccurrencesRun != 1 {
		t.Errorf("stats = %+v, want 1 reschedule and 1 occurrence", st)
	}
}

func TestCampaignScheduler_EarlyFireRunsOnce(t *testing.T) {
	f := newSchedulerFixture(t)
	ctx := context.Background()
	c := f.recurring(t, daily)
	cs := f.scheduler(DefaultSchedulerConfig())

	// Inside the tolerance window, ahead of the 09:00 slot.
	f.clock.Set(at(5, 8, 58))
	cs.Tick(ctx)
	if got := f.status(t, c.ID).Status; got != domain.CampaignRunning {
		t.Fatalf("08:58: status = %s, want running", got)
	}

	f.store.SetQueueStatus(c.ID, domain.QueueSent)
	f.clock.Set(at(5, 8, 58).Add(30 * time.Second))
	cs.Tick(ctx)

	got := f.status(t, c.ID)
	if got.Status != domain.CampaignScheduled {
		t.Fatalf("after drain: status = %s, want scheduled", got.Status)
	}
	if want := at(6, 9, 0); !got.ScheduledAt.Equal(want) {
		t.Errorf("next fire = %v, want %v", got.ScheduledAt, want)
	}

	for _, m := range []int{59, 60, 61} {
		f.clock.Set(at(5, 8, 0).Add(time.Duration(m) * time.Minute))
		cs.Tick(ctx)
	}
	if n := len(f.store.QueueItems(c.ID)); n != 3 {
		t.Errorf("queue items = %d, want 3", n)
	}
	if st := cs.Stats(); st.OccurrencesRun != 1 {
		t.Errorf("OccurrencesRun = %d, want 1", st.OccurrencesRun)
	}
}

func TestCampaignScheduler_EmptyOccurrenceRearms(t *testing.T) {
	f := newSchedulerFixture(t)
	ctx := context.Background()
	seg := f.store.PutSegment(domain.ContactSegment{
		CompanyID: company, Name: "late", Criteria: domain.SegmentCriteria{Tags: []string{"late"}},
	})
	r := daily
	c, err := f.svc.Create(ctx, company, campaign.CreateInput{
		Name:            "Late",
		Type:            domain.CampaignRecurringDaily,
		ChannelIDs:      []int64{100},
		SegmentID:       &seg,
		Recurrence:      &r,
		MessageTemplate: "Hi {{ first_name }}",
	})
	if err != nil {
		t.Fatalf("Create() error: %v", err)
	}
	if _, err := f.svc.Start(ctx, company, c.ID); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	cs := f.scheduler(DefaultSchedulerConfig())

	f.clock.Set(at(5, 9, 0))
	cs.Tick(ctx)
	got := f.status(t, c.ID)
	if got.Status != domain.CampaignScheduled {
		t.Fatalf("after empty run: status = %s, want scheduled", got.Status)
	}
	if want := at(6, 9, 0); !got.ScheduledAt.Equal(want) {
		t.Errorf("next fire = %v, want %v", got.ScheduledAt, want)
	}

	f.store.PutContact(domain.Contact{
		CompanyID: company, Name: "Late Joiner", Phone: "+15550009999",
		Tags: []string{"late"}, IsActive: true, CreatedAt: at(5, 12, 0),
	})
	f.clock.Set(at(6, 9, 0))
	cs.Tick(ctx)

	if got := f.status(t, c.ID).Status; got != domain.CampaignRunning {
		t.Errorf("tuesday: status = %s, want running", got)
	}
	if n := len(f.store.QueueItems(c.ID)); n != 1 {
		t.Errorf("queue items = %d, want 1", n)
	}
	if st := cs.Stats(); st.OccurrencesRun != 2 || st.Errors != 0 {
		t.Errorf("stats = %+v", st)
	}
}

func TestCampaignScheduler_StaleExhaustedCompletes(t *testing.T) {
	f := newSchedulerFixture(t)
	c := f.recurring(t, domain.Recurrence{SendTimes: []string{"09:00"}, Timezone: "UTC", EndDate: "2026-01-05"})
	cs := f.scheduler(DefaultSchedulerConfig())

	f.clock.Set(at(6, 12, 0))
	cs.Tick(context.Background())

	got := f.status(t, c.ID)
	if got.Status != domain.CampaignCompleted {
		t.Errorf("status = %s, want completed", got.Status)
	}
	if got.ScheduledAt != nil {
		t.Errorf("scheduled_at = %v, want nil", got.ScheduledAt)
	}
}

func TestCampaignScheduler_PerCompanyCap(t *testing.T) {
	f := newSchedulerFixture(t)
	ids := make([]int64, 5)
	for i := range ids {
		ids[i] = f.recurring(t, daily).ID
	}
	cs := f.scheduler(SchedulerConfig{BatchSize: 2, MaxCampaignsPerCompany: 3})

	f.clock.Set(at(5, 9, 0))
	cs.Tick(context.Background())
	if st := cs.Stats(); st.OccurrencesRun != 3 {
		t.Fatalf("first tick ran %d occurrences, want 3", st.OccurrencesRun)
	}

	f.clock.Set(at(5, 9, 1))
	cs.Tick(context.Background())
	if st := cs.Stats(); st.OccurrencesRun != 5 {
		t.Fatalf("second tick: total %d occurrences, want 5", st.OccurrencesRun)
	}
	for _, id := range ids {
		if got := f.status(t, id).Status; got != domain.CampaignRunning {
			t.Errorf("campaign %d status = %s, want running", id, got)
		}
	}
}

func TestCampaignScheduler_BusyCompanySkipped(t *testing.T) {
	f := newSchedulerFixture(t)
	c := f.recurring(t, daily)
	m := metrics.New(prometheus.NewRegistry())
	cs := f.scheduler(DefaultSchedulerConfig(), WithSchedulerMetrics(m))

	f.clock.Set(at(5, 9, 0))
	if !cs.enter(company) {
		t.Fatal("enter() should succeed on an idle company")
	}
	cs.Tick(context.Background())

	if got := f.status(t, c.ID).Status; got != domain.CampaignScheduled {
		t.Errorf("held company: status = %s, want scheduled", got)
	}
	if st := cs.Stats(); st.CompaniesSkipped != 1 {
		t.Errorf("CompaniesSkipped = %d, want 1", st.CompaniesSkipped)
	}
	if v := testutil.ToFloat64(m.SkippedBusy); v != 1 {
		t.Errorf("companies_skipped_total = %v, want 1", v)
	}

	cs.leave(company)
	cs.Tick(context.Background())
	if got := f.status(t, c.ID).Status; got != domain.CampaignRunning {
		t.Errorf("released company: status = %s, want running", got)
	}
	if v := testutil.ToFloat64(m.Ticks.WithLabelValues("recurring")); v != 2 {
		t.Errorf("recurring ticks = %v, want 2", v)
	}
}

func TestCampaignScheduler_CompanyLeaseHeldElsewhere(t *testing.T) {
	f := newSchedulerFixture(t)
	c := f.recurring(t, daily)
	leases := distlock.NewLocalFactory()
	cs := f.scheduler(DefaultSchedulerConfig(), WithCompanyLeases(leases))
	ctx := context.Background()

	other := leases.NewLock(fmt.Sprintf("scheduler:company:%d", company))
	if ok, _ := other.Acquire(ctx); !ok {
		t.Fatal("could not take the lease")
	}

	f.clock.Set(at(5, 9, 0))
	cs.Tick(ctx)
	if got := f.status(t, c.ID).Status; got != domain.CampaignScheduled {
		t.Errorf("leased company: status = %s, want scheduled", got)
	}

	_ = other.Release(ctx)
	cs.Tick(ctx)
	if got := f.status(t, c.ID).Status; got != domain.CampaignRunning {
		t.Errorf("status = %s, want running", got)
	}
}

func TestCampaignScheduler_ConcurrentSchedulersFireOnce(t *testing.T) {
	f := newSchedulerFixture(t)
	c := f.recurring(t, daily)
	a := f.scheduler(DefaultSchedulerConfig())
	b := f.scheduler(DefaultSchedulerConfig())

	f.clock.Set(at(5, 9, 0))
	var wg sync.WaitGroup
	for _, cs := range []*CampaignScheduler{a, b} {
		wg.Add(1)
		go func(cs *CampaignScheduler) {
			defer wg.Done()
			cs.Tick(context.Background())
		}(cs)
	}
	wg.Wait()

	if n := a.Stats().OccurrencesRun + b.Stats().OccurrencesRun; n != 1 {
		t.Errorf("occurrences run = %d, want 1", n)
	}
	if n := len(f.store.QueueItems(c.ID)); n != 3 {
		t.Errorf("queue items = %d, want 3", n)
	}
}

// =============================================================================
// COMPLETION SWEEP
// =============================================================================

func TestCampaignScheduler_CompletionStatus(t *testing.T) {
	tests := []struct {
		name   string
		status domain.QueueItemStatus
		want   domain.CampaignStatus
	}{
		{"all sent", domain.QueueSent, domain.CampaignCompleted},
		{"all failed", domain.QueueFailed, domain.CampaignFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newSchedulerFixture(t)
			c := f.scheduledOnce(t, 100, at(5, 9, 0))
			cs := f.scheduler(DefaultSchedulerConfig())

			f.clock.Set(at(5, 9, 0))
			cs.Tick(context.Background())
			f.store.SetQueueStatus(c.ID, tt.status)
			cs.Tick(context.Background())

			got := f.status(t, c.ID)
			if got.Status != tt.want {
				t.Errorf("status = %s, want %s", got.Status, tt.want)
			}
			if got.CompletedAt == nil {
				t.Error("completed_at not set")
			}
		})
	}
}
