package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/ignite/campaign-engine/internal/domain"
	"github.com/ignite/campaign-engine/internal/service/campaign"
)

const campaignColumns = `id, company_id, name, status, campaign_type, channel_ids, segment_id,
		       pipeline_stage_ids, recurrence, message_template, rate_limit, anti_ban,
		       scheduled_at, started_at, paused_at, completed_at,
		       total_recipients, processed_recipients, successful_sends, failed_sends,
		       created_at, updated_at`

// CampaignRepo implements campaign.Repository and campaign.SchedulerRepository
// against PostgreSQL.
type CampaignRepo struct{ db *sqlx.DB }

// NewCampaignRepo creates a Postgres-backed campaign repository.
func NewCampaignRepo(db *sqlx.DB) *CampaignRepo { return &CampaignRepo{db: db} }

type campaignRow struct {
	ID                  int64          `db:"id"`
	CompanyID           int64          `db:"company_id"`
	Name                string         `db:"name"`
	Status              string         `db:"status"`
	Type                string         `db:"campaign_type"`
	ChannelIDs          pq.Int64Array  `db:"channel_ids"`
	SegmentID           sql.NullInt64  `db:"segment_id"`
	PipelineStageIDs    pq.Int64Array  `db:"pipeline_stage_ids"`
	Recurrence          []byte         `db:"recurrence"`
	MessageTemplate     string         `db:"message_template"`
	RateLimit           []byte         `db:"rate_limit"`
	AntiBan             []byte         `db:"anti_ban"`
	ScheduledAt         sql.NullTime   `db:"scheduled_at"`
	StartedAt           sql.NullTime   `db:"started_at"`
	PausedAt            sql.NullTime   `db:"paused_at"`
	CompletedAt         sql.NullTime   `db:"completed_at"`
	TotalRecipients     int            `db:"total_recipients"`
	ProcessedRecipients int            `db:"processed_recipients"`
	SuccessfulSends     int            `db:"successful_sends"`
	FailedSends         int            `db:"failed_sends"`
	CreatedAt           time.Time      `db:"created_at"`
	UpdatedAt           time.Time      `db:"updated_at"`
}

func (r *campaignRow) campaign() (*domain.Campaign, error) {
	c := &domain.Campaign{
		ID:                  r.ID,
		CompanyID:           r.CompanyID,
		Name:                r.Name,
		Status:              domain.CampaignStatus(r.Status),
		Type:                domain.CampaignType(r.Type),
		ChannelIDs:          []int64(r.ChannelIDs),
		PipelineStageIDs:    []int64(r.PipelineStageIDs),
		MessageTemplate:     r.MessageTemplate,
		ScheduledAt:         nullTime(r.ScheduledAt),
		StartedAt:           nullTime(r.StartedAt),
		PausedAt:            nullTime(r.PausedAt),
		CompletedAt:         nullTime(r.CompletedAt),
		TotalRecipients:     r.TotalRecipients,
		ProcessedRecipients: r.ProcessedRecipients,
		SuccessfulSends:     r.SuccessfulSends,
		FailedSends:         r.FailedSends,
		CreatedAt:           r.CreatedAt,
		UpdatedAt:           r.UpdatedAt,
	}
	if r.SegmentID.Valid {
		id := r.SegmentID.Int64
		c.SegmentID = &id
	}
	if len(r.Recurrence) > 0 && string(r.Recurrence) != "null" {
		c.Recurrence = &domain.Recurrence{}
		if err := json.Unmarshal(r.Recurrence, c.Recurrence); err != nil {
			return nil, fmt.Errorf("decode recurrence of campaign %d: %w", r.ID, err)
		}
	}
	if len(r.RateLimit) > 0 {
		if err := json.Unmarshal(r.RateLimit, &c.RateLimit); err != nil {
			return nil, fmt.Errorf("decode rate limit of campaign %d: %w", r.ID, err)
		}
	}
	if len(r.AntiBan) > 0 {
		if err := json.Unmarshal(r.AntiBan, &c.AntiBan); err != nil {
			return nil, fmt.Errorf("decode anti-ban of campaign %d: %w", r.ID, err)
		}
	}
	return c, nil
}

func toCampaigns(rows []campaignRow) ([]domain.Campaign, error) {
	out := make([]domain.Campaign, 0, len(rows))
	for i := range rows {
		c, err := rows[i].campaign()
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	return out, nil
}

func (r *CampaignRepo) Get(ctx context.Context, companyID, id int64) (*domain.Campaign, error) {
	var row campaignRow
	err := r.db.GetContext(ctx, &row, `
		SELECT `+campaignColumns+`
		FROM campaigns
		WHERE id = $1 AND company_id = $2`, id, companyID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, campaign.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get campaign: %w", err)
	}
	return row.campaign()
}

func (r *CampaignRepo) List(ctx context.Context, companyID int64, f campaign.ListFilter) ([]domain.Campaign, int, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}

	where := " WHERE company_id = $1"
	args := []interface{}{companyID}
	idx := 2
	if f.Status != "" {
		where += fmt.Sprintf(" AND status = $%d", idx)
		args = append(args, f.Status)
		idx++
	}
	if f.Type != "" {
		where += fmt.Sprintf(" AND campaign_type = $%d", idx)
		args = append(args, f.Type)
		idx++
	}

	var total int
	if err := r.db.GetContext(ctx, &total, "SELECT COUNT(*) FROM campaigns"+where, args...); err != nil {
		return nil, 0, fmt.Errorf("count campaigns: %w", err)
	}

	q := "SELECT " + campaignColumns + " FROM campaigns" + where +
		fmt.Sprintf(" ORDER BY created_at DESC, id DESC LIMIT $%d OFFSET $%d", idx, idx+1)
	args = append(args, limit, f.Offset)

	var rows []campaignRow
	if err := r.db.SelectContext(ctx, &rows, q, args...); err != nil {
		return nil, 0, fmt.Errorf("list campaigns: %w", err)
	}
	out, err := toCampaigns(rows)
	if err != nil {
		return nil, 0, err
	}
	return out, total, nil
}

func (r *CampaignRepo) Create(ctx context.Context, c *domain.Campaign) (int64, error) {
	// lib/pq sends []byte as bytea, so JSONB values go over as strings.
	var recurrence interface{}
	if c.Recurrence != nil {
		b, err := json.Marshal(c.Recurrence)
		if err != nil {
			return 0, fmt.Errorf("encode recurrence: %w", err)
		}
		recurrence = string(b)
	}
	rateLimit, err := json.Marshal(c.RateLimit)
	if err != nil {
		return 0, fmt.Errorf("encode rate limit: %w", err)
	}
	antiBan, err := json.Marshal(c.AntiBan)
	if err != nil {
		return 0, fmt.Errorf("encode anti-ban: %w", err)
	}

	var id int64
	err = r.db.GetContext(ctx, &id, `
		INSERT INTO campaigns
			(company_id, name, status, campaign_type, channel_ids, segment_id,
			 pipeline_stage_ids, recurrence, message_template, rate_limit, anti_ban,
			 scheduled_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, NOW(), NOW())
		RETURNING id`,
		c.CompanyID, c.Name, string(c.Status), string(c.Type), int64Array(c.ChannelIDs), c.SegmentID,
		int64Array(c.PipelineStageIDs), recurrence, c.MessageTemplate, string(rateLimit), string(antiBan),
		c.ScheduledAt)
	if err != nil {
		return 0, fmt.Errorf("create campaign: %w", err)
	}
	return id, nil
}

func (r *CampaignRepo) Delete(ctx context.Context, companyID, id int64) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM campaigns WHERE id = $1 AND company_id = $2`, id, companyID)
	if err != nil {
		return fmt.Errorf("delete campaign: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return campaign.ErrNotFound
	}
	return nil
}

// occupying lists the statuses that use a plan slot.
var occupying = []string{
	string(domain.CampaignDraft), string(domain.CampaignScheduled), string(domain.CampaignRunning),
	string(domain.CampaignProcessing), string(domain.CampaignPaused),
}

func (r *CampaignRepo) CountActive(ctx context.Context, companyID int64) (int, error) {
	var n int
	err := r.db.GetContext(ctx, &n,
		`SELECT COUNT(*) FROM campaigns WHERE company_id = $1 AND status = ANY($2)`,
		companyID, pq.Array(occupying))
	if err != nil {
		return 0, fmt.Errorf("count active campaigns: %w", err)
	}
	return n, nil
}

// Transition is a single conditional UPDATE; the status predicate in the
// WHERE clause is the claim.
func (r *CampaignRepo) Transition(ctx context.Context, companyID, id int64, from []domain.CampaignStatus, to domain.CampaignStatus, p campaign.StatusPatch) (bool, error) {
	sets := []string{"status = $1", "updated_at = NOW()"}
	args := []interface{}{string(to)}
	idx := 2
	add := func(col string, val interface{}) {
		sets = append(sets, fmt.Sprintf("%s = $%d", col, idx))
		args = append(args, val)
		idx++
	}

	switch {
	case p.ScheduledAt != nil:
		add("scheduled_at", *p.ScheduledAt)
	case p.ClearSchedule:
		sets = append(sets, "scheduled_at = NULL")
	}
	if p.StartedAt != nil {
		add("started_at", *p.StartedAt)
	}
	switch {
	case p.PausedAt != nil:
		add("paused_at", *p.PausedAt)
	case p.ClearPausedAt:
		sets = append(sets, "paused_at = NULL")
	}
	if p.CompletedAt != nil {
		add("completed_at", *p.CompletedAt)
	}

	statuses := make([]string, len(from))
	for i, s := range from {
		statuses[i] = string(s)
	}
	q := fmt.Sprintf(`UPDATE campaigns SET %s WHERE id = $%d AND company_id = $%d AND status = ANY($%d)`,
		strings.Join(sets, ", "), idx, idx+1, idx+2)
	args = append(args, id, companyID, pq.Array(statuses))

	res, err := r.db.ExecContext(ctx, q, args...)
	if err != nil {
		return false, fmt.Errorf("transition campaign %d to %s: %w", id, to, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("transition campaign %d: %w", id, err)
	}
	return n == 1, nil
}

func (r *CampaignRepo) SetScheduledAt(ctx context.Context, companyID, id int64, at *time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE campaigns SET scheduled_at = $1, updated_at = NOW()
		WHERE id = $2 AND company_id = $3 AND status = 'scheduled'`,
		at, id, companyID)
	if err != nil {
		return false, fmt.Errorf("set scheduled_at: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("set scheduled_at: %w", err)
	}
	return n == 1, nil
}

// int64Array keeps NOT NULL array columns from receiving NULL for a nil slice.
func int64Array(ids []int64) pq.Int64Array {
	if ids == nil {
		return pq.Int64Array{}
	}
	return pq.Int64Array(ids)
}

func nullTime(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}
