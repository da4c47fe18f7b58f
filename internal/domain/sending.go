package domain

import "time"

// RecipientStatus tracks one contact's progress within a campaign.
type RecipientStatus string

const (
	RecipientPending    RecipientStatus = "pending"
	RecipientProcessing RecipientStatus = "processing"
	RecipientSent       RecipientStatus = "sent"
	RecipientDelivered  RecipientStatus = "delivered"
	RecipientRead       RecipientStatus = "read"
	RecipientFailed     RecipientStatus = "failed"
)

// CampaignRecipient pairs a campaign with a contact. Variables are captured
// when the recipient is added and are not re-read at send time.
type CampaignRecipient struct {
	ID         int64             `json:"id" db:"id"`
	CampaignID int64             `json:"campaign_id" db:"campaign_id"`
	ContactID  int64             `json:"contact_id" db:"contact_id"`
	Phone      string            `json:"phone" db:"phone"`
	Status     RecipientStatus   `json:"status" db:"status"`
	Variables  map[string]string `json:"variables" db:"-"`
	CreatedAt  time.Time         `json:"created_at" db:"created_at"`
}

// QueueItemStatus enumerates the lifecycle of a single scheduled send.
type QueueItemStatus string

const (
	QueuePending    QueueItemStatus = "pending"
	QueueProcessing QueueItemStatus = "processing"
	QueueSent       QueueItemStatus = "sent"
	QueueFailed     QueueItemStatus = "failed"
	QueueCancelled  QueueItemStatus = "cancelled"
)

// QueueItem is one scheduled, channel-assigned send attempt.
type QueueItem struct {
	ID           string          `json:"id" db:"id"`
	CampaignID   int64           `json:"campaign_id" db:"campaign_id"`
	CompanyID    int64           `json:"company_id" db:"company_id"`
	RecipientID  int64           `json:"recipient_id" db:"recipient_id"`
	ChannelID    int64           `json:"channel_id" db:"channel_id"`
	ScheduledFor time.Time       `json:"scheduled_for" db:"scheduled_for"`
	Priority     int             `json:"priority" db:"priority"`
	Status       QueueItemStatus `json:"status" db:"status"`
	Content      string          `json:"content" db:"content"`
	CreatedAt    time.Time       `json:"created_at" db:"created_at"`
}

// ChannelStatus is the live state of a channel connection.
type ChannelStatus string

const (
	ChannelActive       ChannelStatus = "active"
	ChannelDisconnected ChannelStatus = "disconnected"
	ChannelError        ChannelStatus = "error"
)

// ChannelConnection is a connected messaging account (WhatsApp, SMS, ...).
type ChannelConnection struct {
	ID        int64         `json:"id" db:"id"`
	CompanyID int64         `json:"company_id" db:"company_id"`
	Type      string        `json:"channel_type" db:"channel_type"`
	Status    ChannelStatus `json:"status" db:"status"`
}

// PlanLimits are the plan-imposed ceilings for a tenant.
type PlanLimits struct {
	MaxCampaigns          int `json:"max_campaigns" db:"max_campaigns"`
	MaxCampaignRecipients int `json:"max_campaign_recipients" db:"max_campaign_recipients"`
}

// Default plan limits for tenants without a paid plan.
const (
	DefaultMaxCampaigns          = 5
	DefaultMaxCampaignRecipients = 1000
)

// DefaultPlanLimits returns the limits applied when no plan is attached.
func DefaultPlanLimits() PlanLimits {
	return PlanLimits{
		MaxCampaigns:          DefaultMaxCampaigns,
		MaxCampaignRecipients: DefaultMaxCampaignRecipients,
	}
}
