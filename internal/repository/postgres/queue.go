package postgres

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/ignite/campaign-engine/internal/domain"
	"github.com/ignite/campaign-engine/internal/service/campaign"
)

// QueueRepo implements campaign.QueueRepository against PostgreSQL.
type QueueRepo struct{ db *sqlx.DB }

// NewQueueRepo creates a Postgres-backed queue repository.
func NewQueueRepo(db *sqlx.DB) *QueueRepo { return &QueueRepo{db: db} }

// EnqueueItems COPYs items into campaign_queue and marks their recipients
// processing in one transaction.
func (r *QueueRepo) EnqueueItems(ctx context.Context, campaignID int64, items []domain.QueueItem) (err error) {
	if len(items) == 0 {
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

	stmt, err := tx.PrepareContext(ctx, pq.CopyIn("campaign_queue",
		"id", "campaign_id", "company_id", "recipient_id", "channel_id",
		"scheduled_for", "priority", "status", "content", "created_at"))
	if err != nil {
		return fmt.Errorf("prepare copy: %w", err)
	}
	recipientIDs := make([]int64, len(items))
	for i, it := range items {
		recipientIDs[i] = it.RecipientID
		if _, err = stmt.ExecContext(ctx, it.ID, campaignID, it.CompanyID, it.RecipientID, it.ChannelID,
			it.ScheduledFor, it.Priority, string(it.Status), it.Content, it.CreatedAt); err != nil {
			stmt.Close()
			return fmt.Errorf("copy queue item %s: %w", it.ID, err)
		}
	}
	if _, err = stmt.ExecContext(ctx); err != nil {
		stmt.Close()
		return fmt.Errorf("flush copy: %w", err)
	}
	if err = stmt.Close(); err != nil {
		return fmt.Errorf("close copy: %w", err)
	}

	if _, err = tx.ExecContext(ctx, `
		UPDATE campaign_recipients SET status = 'processing'
		WHERE campaign_id = $1 AND status = 'pending' AND id = ANY($2)`,
		campaignID, pq.Array(recipientIDs)); err != nil {
		return fmt.Errorf("mark recipients processing: %w", err)
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// CancelPendingItems cancels pending items and returns their recipients to
// pending in one transaction.
func (r *QueueRepo) CancelPendingItems(ctx context.Context, campaignID int64) (n int, err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var recipientIDs []int64
	if err = tx.SelectContext(ctx, &recipientIDs, `
		UPDATE campaign_queue SET status = 'cancelled'
		WHERE campaign_id = $1 AND status = 'pending'
		RETURNING recipient_id`, campaignID); err != nil {
		return 0, fmt.Errorf("cancel queue items: %w", err)
	}
	if len(recipientIDs) > 0 {
		if _, err = tx.ExecContext(ctx, `
			UPDATE campaign_recipients SET status = 'pending'
			WHERE campaign_id = $1 AND status = 'processing' AND id = ANY($2)`,
			campaignID, pq.Array(recipientIDs)); err != nil {
			return 0, fmt.Errorf("release recipients: %w", err)
		}
	}
	if err = tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return len(recipientIDs), nil
}

func (r *QueueRepo) QueueCounts(ctx context.Context, campaignID int64) (campaign.QueueCounts, error) {
	var rows []struct {
		Status string `db:"status"`
		N      int    `db:"n"`
	}
	var qc campaign.QueueCounts
	err := r.db.SelectContext(ctx, &rows, `
		SELECT status, COUNT(*) AS n
		FROM campaign_queue
		WHERE campaign_id = $1
		GROUP BY status`, campaignID)
	if err != nil {
		return qc, fmt.Errorf("count queue items: %w", err)
	}
	for _, row := range rows {
		switch domain.QueueItemStatus(row.Status) {
		case domain.QueuePending:
			qc.Pending = row.N
		case domain.QueueProcessing:
			qc.Processing = row.N
		case domain.QueueSent:
			qc.Sent = row.N
		case domain.QueueFailed:
			qc.Failed = row.N
		case domain.QueueCancelled:
			qc.Cancelled = row.N
		}
	}
	return qc, nil
}
