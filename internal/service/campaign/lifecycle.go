package campaign

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ignite/campaign-engine/internal/domain"
	"github.com/ignite/campaign-engine/internal/pkg/logger"
)

var (
	startable  = []domain.CampaignStatus{domain.CampaignDraft, domain.CampaignScheduled}
	pausable   = []domain.CampaignStatus{domain.CampaignRunning, domain.CampaignProcessing, domain.CampaignScheduled}
	inFlight   = []domain.CampaignStatus{domain.CampaignRunning, domain.CampaignProcessing}
	cancelable = []domain.CampaignStatus{
		domain.CampaignDraft, domain.CampaignScheduled, domain.CampaignRunning,
		domain.CampaignProcessing, domain.CampaignPaused,
	}
)

func statusIn(s domain.CampaignStatus, set []domain.CampaignStatus) bool {
	for _, v := range set {
		if s == v {
			return true
		}
	}
	return false
}

// Start begins sending a draft or scheduled campaign.
//
// Recurring campaigns are armed: their next fire time is computed and the
// status becomes scheduled. A scheduled-type campaign whose time is still in
// the future is deferred the same way. Everything else verifies its
// channels, refreshes the audience, claims the running status and expands
// the queue. A failed expansion puts the campaign back where it was.
func (s *Service) Start(ctx context.Context, companyID, id int64) (*domain.Campaign, error) {
	c, err := s.campaigns.Get(ctx, companyID, id)
	if err != nil {
		return nil, opErr("start", companyID, id, err)
	}
	if !statusIn(c.Status, startable) {
		return nil, opErr("start", companyID, id, fmt.Errorf("%w: cannot start a %s campaign", ErrInvalidTransition, c.Status))
	}
	now := s.now()

	if c.IsRecurring() {
		if c.Recurrence == nil {
			return nil, opErr("start", companyID, id, ErrInvalidRecurrence)
		}
		next, ok, err := s.calc.Next(*c.Recurrence, now, "")
		if err != nil {
			return nil, opErr("start", companyID, id, fmt.Errorf("%w: %v", ErrInvalidRecurrence, err))
		}
		if !ok {
			return nil, opErr("start", companyID, id, ErrRecurrenceExhausted)
		}
		if err := s.transition(ctx, c, startable, domain.CampaignScheduled, StatusPatch{ScheduledAt: &next}); err != nil {
			return nil, opErr("start", companyID, id, err)
		}
		logger.Info("[campaign.Service] recurring campaign armed", "company_id", companyID, "campaign_id", id, "next_fire_at", next)
		return s.campaigns.Get(ctx, companyID, id)
	}

	if c.Type == domain.CampaignScheduledOnce && c.Status == domain.CampaignDraft &&
		c.ScheduledAt != nil && c.ScheduledAt.After(now) {
		at := *c.ScheduledAt
		if err := s.transition(ctx, c, []domain.CampaignStatus{domain.CampaignDraft}, domain.CampaignScheduled, StatusPatch{ScheduledAt: &at}); err != nil {
			return nil, opErr("start", companyID, id, err)
		}
		logger.Info("[campaign.Service] campaign deferred", "company_id", companyID, "campaign_id", id, "scheduled_at", at)
		return s.campaigns.Get(ctx, companyID, id)
	}

	channels, err := s.activeChannels(ctx, c)
	if err != nil {
		return nil, opErr("start", companyID, id, err)
	}
	if c.HasAudience() {
		if _, err := s.PopulateRecipients(ctx, companyID, id); err != nil {
			return nil, opErr("start", companyID, id, err)
		}
	}

	prior := c.Status
	if err := s.transition(ctx, c, []domain.CampaignStatus{prior}, domain.CampaignRunning, StatusPatch{StartedAt: &now}); err != nil {
		return nil, opErr("start", companyID, id, err)
	}
	n, err := s.enqueue(ctx, c, channels)
	if err != nil {
		s.revert(ctx, c, domain.CampaignRunning, prior)
		return nil, opErr("start", companyID, id, err)
	}
	s.metrics.Fired(string(c.Type))
	if n == 0 {
		if err := s.settleIfIdle(ctx, c); err != nil {
			return nil, opErr("start", companyID, id, err)
		}
	}
	return s.campaigns.Get(ctx, companyID, id)
}

// Pause stops a running or scheduled campaign and cancels its pending
// queue items. The affected recipients return to pending.
func (s *Service) Pause(ctx context.Context, companyID, id int64) (*domain.Campaign, error) {
	c, err := s.campaigns.Get(ctx, companyID, id)
	if err != nil {
		return nil, opErr("pause", companyID, id, err)
	}
	if !statusIn(c.Status, pausable) {
		return nil, opErr("pause", companyID, id, fmt.Errorf("%w: cannot pause a %s campaign", ErrInvalidTransition, c.Status))
	}
	now := s.now()
	if err := s.transition(ctx, c, pausable, domain.CampaignPaused, StatusPatch{PausedAt: &now}); err != nil {
		return nil, opErr("pause", companyID, id, err)
	}
	n, err := s.queue.CancelPendingItems(ctx, id)
	if err != nil {
		return nil, opErr("pause", companyID, id, fmt.Errorf("cancel queue items: %w", err))
	}
	logger.Info("[campaign.Service] paused", "company_id", companyID, "campaign_id", id, "cancelled_items", n)
	return s.campaigns.Get(ctx, companyID, id)
}

// Resume continues a paused campaign. A one-off campaign goes back to
// running and re-queues its pending recipients; a recurring campaign is
// re-armed for its next occurrence.
func (s *Service) Resume(ctx context.Context, companyID, id int64) (*domain.Campaign, error) {
	c, err := s.campaigns.Get(ctx, companyID, id)
	if err != nil {
		return nil, opErr("resume", companyID, id, err)
	}
	if c.Status != domain.CampaignPaused {
		return nil, opErr("resume", companyID, id, fmt.Errorf("%w: cannot resume a %s campaign", ErrInvalidTransition, c.Status))
	}
	paused := []domain.CampaignStatus{domain.CampaignPaused}

	if c.IsRecurring() {
		if c.Recurrence == nil {
			return nil, opErr("resume", companyID, id, ErrInvalidRecurrence)
		}
		from := s.now()
		if s.firedSlot(c) && c.ScheduledAt.After(from) {
			from = *c.ScheduledAt
		}
		next, ok, err := s.calc.Next(*c.Recurrence, from, "")
		if err != nil {
			return nil, opErr("resume", companyID, id, fmt.Errorf("%w: %v", ErrInvalidRecurrence, err))
		}
		if !ok {
			return nil, opErr("resume", companyID, id, ErrRecurrenceExhausted)
		}
		if err := s.transition(ctx, c, paused, domain.CampaignScheduled, StatusPatch{ScheduledAt: &next, ClearPausedAt: true}); err != nil {
			return nil, opErr("resume", companyID, id, err)
		}
		return s.campaigns.Get(ctx, companyID, id)
	}

	channels, err := s.activeChannels(ctx, c)
	if err != nil {
		return nil, opErr("resume", companyID, id, err)
	}
	if err := s.transition(ctx, c, paused, domain.CampaignRunning, StatusPatch{ClearPausedAt: true}); err != nil {
		return nil, opErr("resume", companyID, id, err)
	}
	n, err := s.enqueue(ctx, c, channels)
	if err != nil {
		s.revert(ctx, c, domain.CampaignRunning, domain.CampaignPaused)
		return nil, opErr("resume", companyID, id, err)
	}
	if n == 0 {
		if err := s.settleIfIdle(ctx, c); err != nil {
			return nil, opErr("resume", companyID, id, err)
		}
	}
	return s.campaigns.Get(ctx, companyID, id)
}

// Cancel ends a campaign that has not finished and cancels its pending
// queue items.
func (s *Service) Cancel(ctx context.Context, companyID, id int64) (*domain.Campaign, error) {
	c, err := s.campaigns.Get(ctx, companyID, id)
	if err != nil {
		return nil, opErr("cancel", companyID, id, err)
	}
	if !statusIn(c.Status, cancelable) {
		return nil, opErr("cancel", companyID, id, fmt.Errorf("%w: cannot cancel a %s campaign", ErrInvalidTransition, c.Status))
	}
	now := s.now()
	if err := s.transition(ctx, c, cancelable, domain.CampaignCancelled, StatusPatch{CompletedAt: &now, ClearSchedule: true}); err != nil {
		return nil, opErr("cancel", companyID, id, err)
	}
	if _, err := s.queue.CancelPendingItems(ctx, id); err != nil {
		return nil, opErr("cancel", companyID, id, fmt.Errorf("cancel queue items: %w", err))
	}
	logger.Info("[campaign.Service] cancelled", "company_id", companyID, "campaign_id", id)
	return s.campaigns.Get(ctx, companyID, id)
}

// =============================================================================
// Scheduler entry points
// =============================================================================

// RunOccurrence fires one occurrence of a scheduled recurring campaign. It
// claims the campaign with a scheduled→running transition; losing that race
// returns (false, nil). After the claim the channels are re-checked, the
// recipients reset and refreshed, and the queue expanded. Any failure after
// the claim puts the campaign back to scheduled.
func (s *Service) RunOccurrence(ctx context.Context, c *domain.Campaign) (bool, error) {
	now := s.now()
	ok, err := s.campaigns.Transition(ctx, c.CompanyID, c.ID,
		[]domain.CampaignStatus{domain.CampaignScheduled}, domain.CampaignRunning, StatusPatch{StartedAt: &now})
	if err != nil {
		return false, opErr("claim", c.CompanyID, c.ID, err)
	}
	if !ok {
		s.metrics.LostRace()
		return false, nil
	}

	fail := func(stage string, err error) (bool, error) {
		s.revert(ctx, c, domain.CampaignRunning, domain.CampaignScheduled)
		return true, opErr(stage, c.CompanyID, c.ID, err)
	}

	channels, err := s.activeChannels(ctx, c)
	if err != nil {
		return fail("channels", err)
	}
	if _, err := s.recipients.ResetRecipients(ctx, c.ID); err != nil {
		return fail("reset", fmt.Errorf("reset recipients: %w", err))
	}
	if c.HasAudience() {
		if _, err := s.PopulateRecipients(ctx, c.CompanyID, c.ID); err != nil {
			if !errors.Is(err, ErrRecipientLimit) {
				return fail("populate", err)
			}
			logger.Warn("[campaign.Service] occurrence runs without new recipients", "company_id", c.CompanyID, "campaign_id", c.ID, "error", err)
		}
	}
	n, err := s.enqueue(ctx, c, channels)
	if err != nil {
		return fail("enqueue", err)
	}
	s.metrics.Fired(string(c.Type))
	logger.Info("[campaign.Service] occurrence started", "company_id", c.CompanyID, "campaign_id", c.ID, "items", n)
	if n == 0 {
		if err := s.settleIfIdle(ctx, c); err != nil {
			return true, opErr("settle", c.CompanyID, c.ID, err)
		}
	}
	return true, nil
}

// CompleteOccurrence closes the current run of a running campaign. A
// recurring campaign is re-armed for the first slot after the one that
// fired, or completed when its recurrence is exhausted. A one-off campaign
// completes, or fails when every one of its queue items failed.
func (s *Service) CompleteOccurrence(ctx context.Context, companyID, id int64) (*domain.Campaign, error) {
	c, err := s.campaigns.Get(ctx, companyID, id)
	if err != nil {
		return nil, opErr("complete", companyID, id, err)
	}
	if !statusIn(c.Status, inFlight) {
		return nil, opErr("complete", companyID, id, fmt.Errorf("%w: cannot complete a %s campaign", ErrInvalidTransition, c.Status))
	}
	now := s.now()

	if c.IsRecurring() && c.Recurrence != nil {
		// The slot may have fired early, inside the tolerance window.
		from := now
		if c.ScheduledAt != nil && c.ScheduledAt.After(from) {
			from = *c.ScheduledAt
		}
		next, ok, err := s.calc.Next(*c.Recurrence, from, "")
		if err != nil {
			return nil, opErr("complete", companyID, id, fmt.Errorf("%w: %v", ErrInvalidRecurrence, err))
		}
		if ok {
			if err := s.transition(ctx, c, inFlight, domain.CampaignScheduled, StatusPatch{ScheduledAt: &next}); err != nil {
				return nil, opErr("complete", companyID, id, err)
			}
			logger.Info("[campaign.Service] occurrence complete", "company_id", companyID, "campaign_id", id, "next_fire_at", next)
			return s.campaigns.Get(ctx, companyID, id)
		}
		if err := s.transition(ctx, c, inFlight, domain.CampaignCompleted, StatusPatch{CompletedAt: &now, ClearSchedule: true}); err != nil {
			return nil, opErr("complete", companyID, id, err)
		}
		s.metrics.RecurrenceExhausted()
		logger.Info("[campaign.Service] recurrence exhausted", "company_id", companyID, "campaign_id", id)
		return s.campaigns.Get(ctx, companyID, id)
	}

	counts, err := s.queue.QueueCounts(ctx, id)
	if err != nil {
		return nil, opErr("complete", companyID, id, fmt.Errorf("count queue items: %w", err))
	}
	to := domain.CampaignCompleted
	if counts.Total() > 0 && counts.Failed == counts.Total() {
		to = domain.CampaignFailed
	}
	if err := s.transition(ctx, c, inFlight, to, StatusPatch{CompletedAt: &now}); err != nil {
		return nil, opErr("complete", companyID, id, err)
	}
	logger.Info("[campaign.Service] campaign finished", "company_id", companyID, "campaign_id", id, "status", string(to),
		"sent", counts.Sent, "failed", counts.Failed)
	return s.campaigns.Get(ctx, companyID, id)
}

// Reschedule recomputes the next fire time of a recurring campaign whose
// schedule drifted, e.g. after the process was down. A send time in the
// current minute is kept. When the recurrence has no future occurrence the
// campaign is completed and ok is false. If another process claimed the
// campaign first the error wraps ErrClaimLost.
func (s *Service) Reschedule(ctx context.Context, c *domain.Campaign) (next time.Time, ok bool, err error) {
	if c.Recurrence == nil {
		return time.Time{}, false, opErr("reschedule", c.CompanyID, c.ID, ErrInvalidRecurrence)
	}
	now := s.now()
	next, ok, err = s.calc.NextOrCurrent(*c.Recurrence, now, "")
	if err != nil {
		return time.Time{}, false, opErr("reschedule", c.CompanyID, c.ID, fmt.Errorf("%w: %v", ErrInvalidRecurrence, err))
	}
	if !ok {
		_, err := s.campaigns.Transition(ctx, c.CompanyID, c.ID,
			[]domain.CampaignStatus{domain.CampaignScheduled}, domain.CampaignCompleted,
			StatusPatch{CompletedAt: &now, ClearSchedule: true})
		if err != nil {
			return time.Time{}, false, opErr("reschedule", c.CompanyID, c.ID, err)
		}
		s.metrics.RecurrenceExhausted()
		return time.Time{}, false, nil
	}
	set, err := s.campaigns.SetScheduledAt(ctx, c.CompanyID, c.ID, &next)
	if err != nil {
		return time.Time{}, false, opErr("reschedule", c.CompanyID, c.ID, err)
	}
	if !set {
		s.metrics.LostRace()
		return time.Time{}, false, opErr("reschedule", c.CompanyID, c.ID, ErrClaimLost)
	}
	c.ScheduledAt = &next
	return next, true, nil
}

// firedSlot reports whether the run at ScheduledAt already started. A run
// may start up to the tolerance before its slot.
func (s *Service) firedSlot(c *domain.Campaign) bool {
	if c.ScheduledAt == nil || c.StartedAt == nil {
		return false
	}
	return !c.StartedAt.Before(c.ScheduledAt.Add(-s.calc.Tolerance()))
}

// settleIfIdle closes a run that queued nothing while no earlier item is
// still in flight. No delivery callback or drained sweep would close it.
func (s *Service) settleIfIdle(ctx context.Context, c *domain.Campaign) error {
	counts, err := s.queue.QueueCounts(ctx, c.ID)
	if err != nil {
		return fmt.Errorf("count queue items: %w", err)
	}
	if counts.Pending > 0 || counts.Processing > 0 {
		return nil
	}
	logger.Info("[campaign.Service] nothing queued, closing run", "company_id", c.CompanyID, "campaign_id", c.ID)
	_, err = s.CompleteOccurrence(ctx, c.CompanyID, c.ID)
	return err
}

// transition applies a conditional status change. A miss is reported as
// ErrClaimLost: the status changed between the read and the write.
func (s *Service) transition(ctx context.Context, c *domain.Campaign, from []domain.CampaignStatus, to domain.CampaignStatus, patch StatusPatch) error {
	ok, err := s.campaigns.Transition(ctx, c.CompanyID, c.ID, from, to, patch)
	if err != nil {
		return fmt.Errorf("transition to %s: %w", to, err)
	}
	if !ok {
		s.metrics.LostRace()
		return fmt.Errorf("%w: %s campaign moved before %s", ErrClaimLost, c.Status, to)
	}
	return nil
}

// revert undoes a claim after a failure further down. It only logs: the
// caller is already returning the original error.
func (s *Service) revert(ctx context.Context, c *domain.Campaign, from, to domain.CampaignStatus) {
	ctx = context.WithoutCancel(ctx)
	ok, err := s.campaigns.Transition(ctx, c.CompanyID, c.ID, []domain.CampaignStatus{from}, to, StatusPatch{})
	if err != nil || !ok {
		logger.Error("[campaign.Service] revert status", "company_id", c.CompanyID, "campaign_id", c.ID,
			"from", string(from), "to", string(to), "ok", ok, "error", err)
		return
	}
	logger.Warn("[campaign.Service] reverted status", "company_id", c.CompanyID, "campaign_id", c.ID, "to", string(to))
}
