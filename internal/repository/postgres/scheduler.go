package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/ignite/campaign-engine/internal/domain"
	"github.com/ignite/campaign-engine/internal/service/campaign"
)

// ==========================================
// SCHEDULER QUERIES
// ==========================================

func (r *CampaignRepo) ListDueOneShot(ctx context.Context, now time.Time, limit int) ([]domain.Campaign, error) {
	var rows []campaignRow
	err := r.db.SelectContext(ctx, &rows, `
		SELECT `+campaignColumns+`
		FROM campaigns
		WHERE status = 'scheduled'
		  AND campaign_type IN ('one_shot', 'scheduled')
		  AND scheduled_at <= $1
		ORDER BY scheduled_at, id
		LIMIT $2`, now, limit)
	if err != nil {
		return nil, fmt.Errorf("list due campaigns: %w", err)
	}
	return toCampaigns(rows)
}

func (r *CampaignRepo) ListRecurringCompanies(ctx context.Context) ([]int64, error) {
	var ids []int64
	err := r.db.SelectContext(ctx, &ids, `
		SELECT DISTINCT company_id
		FROM campaigns
		WHERE status = 'scheduled' AND campaign_type = 'recurring_daily'
		ORDER BY company_id`)
	if err != nil {
		return nil, fmt.Errorf("list recurring companies: %w", err)
	}
	return ids, nil
}

// ListScheduledRecurring pages with a row-value keyset so concurrent
// reschedules never make the scan skip or repeat a campaign within a pass.
func (r *CampaignRepo) ListScheduledRecurring(ctx context.Context, companyID int64, after campaign.ScheduleCursor, limit int) ([]domain.Campaign, error) {
	var rows []campaignRow
	err := r.db.SelectContext(ctx, &rows, `
		SELECT `+campaignColumns+`
		FROM campaigns
		WHERE company_id = $1
		  AND status = 'scheduled'
		  AND campaign_type = 'recurring_daily'
		  AND (COALESCE(scheduled_at, 'epoch'::timestamptz), id) > ($2, $3)
		ORDER BY COALESCE(scheduled_at, 'epoch'::timestamptz), id
		LIMIT $4`, companyID, after.ScheduledAt, after.ID, limit)
	if err != nil {
		return nil, fmt.Errorf("list recurring campaigns: %w", err)
	}
	return toCampaigns(rows)
}

func (r *CampaignRepo) ListDrained(ctx context.Context, limit int) ([]domain.Campaign, error) {
	var rows []campaignRow
	err := r.db.SelectContext(ctx, &rows, `
		SELECT `+campaignColumns+`
		FROM campaigns c
		WHERE c.status = 'running'
		  AND EXISTS (SELECT 1 FROM campaign_queue q WHERE q.campaign_id = c.id)
		  AND NOT EXISTS (
		      SELECT 1 FROM campaign_queue q
		      WHERE q.campaign_id = c.id AND q.status IN ('pending', 'processing'))
		ORDER BY c.id
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list drained campaigns: %w", err)
	}
	return toCampaigns(rows)
}
