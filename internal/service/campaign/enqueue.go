package campaign

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ignite/campaign-engine/internal/domain"
	"github.com/ignite/campaign-engine/internal/notify"
	"github.com/ignite/campaign-engine/internal/pkg/logger"
)

// Enqueue expands the campaign's pending recipients into paced queue items.
// It returns the number of items written.
func (s *Service) Enqueue(ctx context.Context, companyID, campaignID int64) (int, error) {
	c, err := s.campaigns.Get(ctx, companyID, campaignID)
	if err != nil {
		return 0, opErr("enqueue", companyID, campaignID, err)
	}
	channels, err := s.activeChannels(ctx, c)
	if err != nil {
		return 0, opErr("enqueue", companyID, campaignID, err)
	}
	return s.enqueue(ctx, c, channels)
}

// activeChannels loads the campaign's channels and requires every one of
// them to be active.
func (s *Service) activeChannels(ctx context.Context, c *domain.Campaign) ([]int64, error) {
	if len(c.ChannelIDs) == 0 {
		return nil, ErrNoChannels
	}
	conns, err := s.channels.Channels(ctx, c.CompanyID, c.ChannelIDs)
	if err != nil {
		return nil, fmt.Errorf("load channels: %w", err)
	}
	status := make(map[int64]domain.ChannelStatus, len(conns))
	for _, ch := range conns {
		status[ch.ID] = ch.Status
	}
	for _, id := range c.ChannelIDs {
		st, ok := status[id]
		if !ok {
			return nil, fmt.Errorf("%w: channel %d not found", ErrChannelInactive, id)
		}
		if st != domain.ChannelActive {
			return nil, fmt.Errorf("%w: channel %d is %s", ErrChannelInactive, id, st)
		}
	}
	return c.ChannelIDs, nil
}

func (s *Service) enqueue(ctx context.Context, c *domain.Campaign, channels []int64) (int, error) {
	if len(channels) == 0 {
		return 0, opErr("enqueue", c.CompanyID, c.ID, ErrNoChannels)
	}
	pending, err := s.recipients.ListPendingRecipients(ctx, c.ID)
	if err != nil {
		return 0, opErr("enqueue", c.CompanyID, c.ID, fmt.Errorf("list pending recipients: %w", err))
	}
	if len(pending) == 0 {
		logger.Debug("[campaign.Service] enqueue: no pending recipients", "company_id", c.CompanyID, "campaign_id", c.ID)
		return 0, nil
	}

	now := s.now()
	fireAt := s.schedule(c, len(pending), now)
	items := make([]domain.QueueItem, len(pending))
	for i, r := range pending {
		content, err := s.renderer.Render(c.MessageTemplate, r.Variables)
		if err != nil {
			return 0, opErr("enqueue", c.CompanyID, c.ID, fmt.Errorf("%w: recipient %d: %v", ErrInvalidTemplate, r.ID, err))
		}
		items[i] = domain.QueueItem{
			ID:           uuid.NewString(),
			CampaignID:   c.ID,
			CompanyID:    c.CompanyID,
			RecipientID:  r.ID,
			ChannelID:    channels[i%len(channels)],
			ScheduledFor: fireAt[i],
			Status:       domain.QueuePending,
			Content:      content,
			CreatedAt:    now,
		}
	}

	if err := s.queue.EnqueueItems(ctx, c.ID, items); err != nil {
		return 0, opErr("enqueue", c.CompanyID, c.ID, fmt.Errorf("write queue items: %w", err))
	}
	s.metrics.Queued(len(items))
	logger.Info("[campaign.Service] queued",
		"company_id", c.CompanyID, "campaign_id", c.ID, "items", len(items),
		"first_fire_at", fireAt[0], "last_fire_at", fireAt[len(fireAt)-1])

	ev := notify.Event{
		Type:        notify.EventCampaignQueued,
		CampaignID:  c.ID,
		CompanyID:   c.CompanyID,
		Items:       len(items),
		FirstFireAt: fireAt[0],
		LastFireAt:  fireAt[len(fireAt)-1],
		OccurredAt:  now,
	}
	if err := s.publisher.Publish(ctx, ev); err != nil {
		logger.Warn("[campaign.Service] publish queued event", "campaign_id", c.ID, "error", err)
	}
	return len(items), nil
}

// =============================================================================
// Pacing
// =============================================================================

// schedule returns n fire times starting at base. Item i fires at
// base + i*delay*multiplier + jitter, clamped so the sequence never goes
// backwards.
func (s *Service) schedule(c *domain.Campaign, n int, base time.Time) []time.Time {
	step := time.Duration(float64(s.delay(c)) * s.multiplier(c))
	minJ, maxJ := s.jitterRange(c)

	out := make([]time.Time, n)
	for i := range out {
		j := minJ
		if maxJ > minJ {
			j += time.Duration(s.rand() * float64(maxJ-minJ))
		}
		t := base.Add(time.Duration(i)*step + j)
		if i > 0 && t.Before(out[i-1]) {
			t = out[i-1]
		}
		out[i] = t
	}
	return out
}

// delay is the per-message delay before the anti-ban multiplier.
func (s *Service) delay(c *domain.Campaign) time.Duration {
	switch {
	case c.RateLimit.DelayBetweenMessagesMs > 0:
		return time.Duration(c.RateLimit.DelayBetweenMessagesMs) * time.Millisecond
	case c.RateLimit.MessagesPerMinute > 0:
		return time.Minute / time.Duration(c.RateLimit.MessagesPerMinute)
	default:
		return s.pacing.DefaultDelay
	}
}

func (s *Service) multiplier(c *domain.Campaign) float64 {
	if !c.AntiBan.Enabled {
		return 1
	}
	return c.AntiBan.Mode.Multiplier()
}

func (s *Service) jitterRange(c *domain.Campaign) (time.Duration, time.Duration) {
	ab := c.AntiBan
	if ab.Enabled && ab.RandomizeDelay && ab.MaxDelayMs > ab.MinDelayMs && ab.MinDelayMs >= 0 {
		return time.Duration(ab.MinDelayMs) * time.Millisecond, time.Duration(ab.MaxDelayMs) * time.Millisecond
	}
	return s.pacing.JitterMin, s.pacing.JitterMax
}
