package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/ignite/campaign-engine/internal/domain"
	"github.com/ignite/campaign-engine/internal/service/campaign"
)

// RecipientRepo implements campaign.RecipientRepository against PostgreSQL.
type RecipientRepo struct{ db *sqlx.DB }

// NewRecipientRepo creates a Postgres-backed recipient repository.
func NewRecipientRepo(db *sqlx.DB) *RecipientRepo { return &RecipientRepo{db: db} }

type recipientRow struct {
	ID         int64     `db:"id"`
	CampaignID int64     `db:"campaign_id"`
	ContactID  int64     `db:"contact_id"`
	Phone      string    `db:"phone"`
	Status     string    `db:"status"`
	Variables  []byte    `db:"variables"`
	CreatedAt  time.Time `db:"created_at"`
}

func (r *RecipientRepo) ListRecipientKeys(ctx context.Context, campaignID int64) ([]campaign.RecipientKey, error) {
	var rows []struct {
		ContactID int64  `db:"contact_id"`
		Phone     string `db:"phone"`
	}
	// The contact's current phone wins over the snapshot taken at insert.
	err := r.db.SelectContext(ctx, &rows, `
		SELECT cr.contact_id, COALESCE(NULLIF(ct.phone, ''), cr.phone) AS phone
		FROM campaign_recipients cr
		LEFT JOIN contacts ct ON ct.id = cr.contact_id
		WHERE cr.campaign_id = $1`, campaignID)
	if err != nil {
		return nil, fmt.Errorf("list recipient keys: %w", err)
	}
	out := make([]campaign.RecipientKey, len(rows))
	for i, row := range rows {
		out[i] = campaign.RecipientKey{ContactID: row.ContactID, Phone: row.Phone}
	}
	return out, nil
}

func (r *RecipientRepo) CountCompanyRecipients(ctx context.Context, companyID int64) (int, error) {
	var n int
	err := r.db.GetContext(ctx, &n, `
		SELECT COUNT(*)
		FROM campaign_recipients cr
		INNER JOIN campaigns c ON c.id = cr.campaign_id
		WHERE c.company_id = $1`, companyID)
	if err != nil {
		return 0, fmt.Errorf("count company recipients: %w", err)
	}
	return n, nil
}

// AddRecipients bulk-loads rs with COPY and bumps total_recipients in the
// same transaction.
func (r *RecipientRepo) AddRecipients(ctx context.Context, companyID, campaignID int64, rs []domain.CampaignRecipient) (err error) {
	if len(rs) == 0 {
		return nil
	}
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	stmt, err := tx.PrepareContext(ctx, pq.CopyIn("campaign_recipients",
		"campaign_id", "contact_id", "phone", "status", "variables", "created_at"))
	if err != nil {
		return fmt.Errorf("prepare copy: %w", err)
	}
	for _, rec := range rs {
		vars, merr := json.Marshal(rec.Variables)
		if merr != nil {
			stmt.Close()
			return fmt.Errorf("encode variables of contact %d: %w", rec.ContactID, merr)
		}
		if _, err = stmt.ExecContext(ctx, campaignID, rec.ContactID, rec.Phone, string(rec.Status), string(vars), rec.CreatedAt); err != nil {
			stmt.Close()
			return fmt.Errorf("copy recipient %d: %w", rec.ContactID, err)
		}
	}
	if _, err = stmt.ExecContext(ctx); err != nil {
		stmt.Close()
		return fmt.Errorf("flush copy: %w", err)
	}
	if err = stmt.Close(); err != nil {
		return fmt.Errorf("close copy: %w", err)
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE campaigns SET total_recipients = total_recipients + $1, updated_at = NOW()
		WHERE id = $2 AND company_id = $3`, len(rs), campaignID, companyID)
	if err != nil {
		return fmt.Errorf("bump total_recipients: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		err = campaign.ErrNotFound
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (r *RecipientRepo) ListPendingRecipients(ctx context.Context, campaignID int64) ([]domain.CampaignRecipient, error) {
	var rows []recipientRow
	err := r.db.SelectContext(ctx, &rows, `
		SELECT id, campaign_id, contact_id, phone, status, variables, created_at
		FROM campaign_recipients
		WHERE campaign_id = $1 AND status = 'pending'
		ORDER BY id`, campaignID)
	if err != nil {
		return nil, fmt.Errorf("list pending recipients: %w", err)
	}
	out := make([]domain.CampaignRecipient, len(rows))
	for i, row := range rows {
		out[i] = domain.CampaignRecipient{
			ID:         row.ID,
			CampaignID: row.CampaignID,
			ContactID:  row.ContactID,
			Phone:      row.Phone,
			Status:     domain.RecipientStatus(row.Status),
			CreatedAt:  row.CreatedAt,
		}
		if len(row.Variables) > 0 {
			if err := json.Unmarshal(row.Variables, &out[i].Variables); err != nil {
				return nil, fmt.Errorf("decode variables of recipient %d: %w", row.ID, err)
			}
		}
	}
	return out, nil
}

func (r *RecipientRepo) ResetRecipients(ctx context.Context, campaignID int64) (int, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE campaign_recipients SET status = 'pending' WHERE campaign_id = $1 AND status <> 'pending'`,
		campaignID)
	if err != nil {
		return 0, fmt.Errorf("reset recipients: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}
