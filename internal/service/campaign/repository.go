package campaign

import (
	"context"
	"time"

	"github.com/ignite/campaign-engine/internal/domain"
	"github.com/ignite/campaign-engine/internal/segmentation"
)

// Repository defines the data access contract for campaigns.
// Implementations must be safe for concurrent use.
type Repository interface {
	// Get returns a single campaign. Returns ErrNotFound if it doesn't exist.
	Get(ctx context.Context, companyID, id int64) (*domain.Campaign, error)

	// List returns campaigns matching the given filter, ordered by created_at DESC.
	List(ctx context.Context, companyID int64, filter ListFilter) ([]domain.Campaign, int, error)

	// Create inserts a new campaign and returns its ID.
	Create(ctx context.Context, c *domain.Campaign) (int64, error)

	// Delete removes a campaign with its recipients and queue items.
	Delete(ctx context.Context, companyID, id int64) error

	// CountActive counts campaigns whose status occupies a plan slot.
	CountActive(ctx context.Context, companyID int64) (int, error)

	// Transition moves the campaign to `to` only while its status is one of
	// `from`, applying patch in the same statement. It reports false when
	// no row matched: another process changed the status first.
	Transition(ctx context.Context, companyID, id int64, from []domain.CampaignStatus, to domain.CampaignStatus, patch StatusPatch) (bool, error)

	// SetScheduledAt overwrites the next fire time of a scheduled campaign
	// without a status change. It reports false when the campaign is no
	// longer scheduled.
	SetScheduledAt(ctx context.Context, companyID, id int64, at *time.Time) (bool, error)
}

// RecipientRepository stores campaign recipients.
type RecipientRepository interface {
	// ListRecipientKeys returns the contact id and current phone of every
	// recipient of the campaign.
	ListRecipientKeys(ctx context.Context, campaignID int64) ([]RecipientKey, error)

	// CountCompanyRecipients counts recipients across all of a tenant's campaigns.
	CountCompanyRecipients(ctx context.Context, companyID int64) (int, error)

	// AddRecipients inserts recipients and increments the campaign's
	// total_recipients by len(rs) atomically.
	AddRecipients(ctx context.Context, companyID, campaignID int64, rs []domain.CampaignRecipient) error

	// ListPendingRecipients returns pending recipients in insertion order.
	ListPendingRecipients(ctx context.Context, campaignID int64) ([]domain.CampaignRecipient, error)

	// ResetRecipients moves every non-pending recipient back to pending.
	ResetRecipients(ctx context.Context, campaignID int64) (int, error)
}

// QueueRepository stores send queue items.
type QueueRepository interface {
	// EnqueueItems inserts items and moves their recipients from pending
	// to processing in one transaction.
	EnqueueItems(ctx context.Context, campaignID int64, items []domain.QueueItem) error

	// CancelPendingItems cancels still-pending items and returns their
	// recipients to pending so a later enqueue picks them up again.
	CancelPendingItems(ctx context.Context, campaignID int64) (int, error)

	// QueueCounts tallies the campaign's queue items by status.
	QueueCounts(ctx context.Context, campaignID int64) (QueueCounts, error)
}

// SegmentRepository loads stored segments.
type SegmentRepository interface {
	GetSegment(ctx context.Context, companyID, id int64) (*domain.ContactSegment, error)
}

// ChannelProvider reports the live status of channel connections.
type ChannelProvider interface {
	Channels(ctx context.Context, companyID int64, ids []int64) ([]domain.ChannelConnection, error)
}

// PlanProvider returns a tenant's plan limits, or the defaults when the
// tenant has no paid plan.
type PlanProvider interface {
	Limits(ctx context.Context, companyID int64) (domain.PlanLimits, error)
}

// AudienceResolver turns criteria into a deduplicated contact list.
// *segmentation.Engine implements it.
type AudienceResolver interface {
	Resolve(ctx context.Context, companyID int64, criteria domain.SegmentCriteria) ([]domain.Contact, error)
	ResolveDetailed(ctx context.Context, companyID int64, criteria domain.SegmentCriteria, limit int) ([]segmentation.ContactDetail, error)
}

// SchedulerRepository holds the queries behind the scheduler loop.
type SchedulerRepository interface {
	// ListDueOneShot returns scheduled one_shot and scheduled-type campaigns
	// whose scheduled_at is at or before now, oldest first.
	ListDueOneShot(ctx context.Context, now time.Time, limit int) ([]domain.Campaign, error)

	// ListRecurringCompanies returns the tenants owning at least one
	// scheduled recurring campaign.
	ListRecurringCompanies(ctx context.Context) ([]int64, error)

	// ListScheduledRecurring pages a tenant's scheduled recurring campaigns
	// ordered by (scheduled_at, id), strictly after the cursor. A nil
	// scheduled_at sorts first.
	ListScheduledRecurring(ctx context.Context, companyID int64, after ScheduleCursor, limit int) ([]domain.Campaign, error)

	// ListDrained returns running campaigns that have queue items and none
	// of them pending or processing.
	ListDrained(ctx context.Context, limit int) ([]domain.Campaign, error)
}

// ScheduleCursor is the keyset position of a scheduler page. The zero value
// starts from the beginning.
type ScheduleCursor struct {
	ScheduledAt time.Time
	ID          int64
}

// CursorOf returns the cursor positioned at c.
func CursorOf(c *domain.Campaign) ScheduleCursor {
	cur := ScheduleCursor{ScheduledAt: time.Unix(0, 0).UTC(), ID: c.ID}
	if c.ScheduledAt != nil {
		cur.ScheduledAt = *c.ScheduledAt
	}
	return cur
}

// ListFilter controls pagination and filtering for campaign lists.
type ListFilter struct {
	Status string
	Type   string
	Limit  int
	Offset int
}

// StatusPatch holds the timestamp changes applied with a transition.
// Nil pointers leave the column unchanged.
type StatusPatch struct {
	ScheduledAt   *time.Time
	ClearSchedule bool
	StartedAt     *time.Time
	PausedAt      *time.Time
	ClearPausedAt bool
	CompletedAt   *time.Time
}

// RecipientKey identifies an existing recipient for population diffs.
type RecipientKey struct {
	ContactID int64
	Phone     string
}

// QueueCounts tallies queue items by status.
type QueueCounts struct {
	Pending    int
	Processing int
	Sent       int
	Failed     int
	Cancelled  int
}

// Total is the number of items in any status.
func (q QueueCounts) Total() int {
	return q.Pending + q.Processing + q.Sent + q.Failed + q.Cancelled
}

// Drained reports whether the campaign had items and none are in flight.
func (q QueueCounts) Drained() bool {
	return q.Total() > 0 && q.Pending == 0 && q.Processing == 0
}
