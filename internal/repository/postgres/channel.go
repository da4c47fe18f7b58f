package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/ignite/campaign-engine/internal/domain"
)

// ChannelRepo implements campaign.ChannelProvider against PostgreSQL.
type ChannelRepo struct{ db *sqlx.DB }

// NewChannelRepo creates a Postgres-backed channel provider.
func NewChannelRepo(db *sqlx.DB) *ChannelRepo { return &ChannelRepo{db: db} }

func (r *ChannelRepo) Channels(ctx context.Context, companyID int64, ids []int64) ([]domain.ChannelConnection, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var out []domain.ChannelConnection
	err := r.db.SelectContext(ctx, &out, `
		SELECT id, company_id, channel_type, status
		FROM channel_connections
		WHERE company_id = $1 AND id = ANY($2)`, companyID, pq.Array(ids))
	if err != nil {
		return nil, fmt.Errorf("load channels: %w", err)
	}
	return out, nil
}

// PlanRepo implements campaign.PlanProvider. Tenants without a plan row,
// or with NULL limits, get the configured defaults.
type PlanRepo struct {
	db       *sqlx.DB
	defaults domain.PlanLimits
}

// NewPlanRepo creates a Postgres-backed plan provider.
func NewPlanRepo(db *sqlx.DB, defaults domain.PlanLimits) *PlanRepo {
	return &PlanRepo{db: db, defaults: defaults}
}

func (r *PlanRepo) Limits(ctx context.Context, companyID int64) (domain.PlanLimits, error) {
	var row struct {
		MaxCampaigns          sql.NullInt64 `db:"max_campaigns"`
		MaxCampaignRecipients sql.NullInt64 `db:"max_campaign_recipients"`
	}
	err := r.db.GetContext(ctx, &row,
		`SELECT max_campaigns, max_campaign_recipients FROM companies WHERE id = $1`, companyID)
	if errors.Is(err, sql.ErrNoRows) {
		return r.defaults, nil
	}
	if err != nil {
		return domain.PlanLimits{}, fmt.Errorf("load plan limits: %w", err)
	}
	limits := r.defaults
	if row.MaxCampaigns.Valid {
		limits.MaxCampaigns = int(row.MaxCampaigns.Int64)
	}
	if row.MaxCampaignRecipients.Valid {
		limits.MaxCampaignRecipients = int(row.MaxCampaignRecipients.Int64)
	}
	return limits, nil
}
