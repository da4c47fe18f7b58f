package domain

import (
	"time"
)

// CampaignStatus enumerates the lifecycle states of a campaign.
type CampaignStatus string

const (
	CampaignDraft      CampaignStatus = "draft"
	CampaignScheduled  CampaignStatus = "scheduled"
	CampaignRunning    CampaignStatus = "running"
	CampaignProcessing CampaignStatus = "processing"
	CampaignPaused     CampaignStatus = "paused"
	CampaignCompleted  CampaignStatus = "completed"
	CampaignFailed     CampaignStatus = "failed"
	CampaignCancelled  CampaignStatus = "cancelled"
)

// CampaignType selects how a campaign is triggered.
type CampaignType string

const (
	CampaignOneShot        CampaignType = "one_shot"
	CampaignScheduledOnce  CampaignType = "scheduled"
	CampaignRecurringDaily CampaignType = "recurring_daily"
)

// Valid reports whether t is a known campaign type.
func (t CampaignType) Valid() bool {
	switch t {
	case CampaignOneShot, CampaignScheduledOnce, CampaignRecurringDaily:
		return true
	}
	return false
}

// Recurrence describes when a recurring_daily campaign fires.
// SendTimes are "HH:mm" wall-clock times in Timezone. OffDays use
// time.Weekday numbering (0 = Sunday). StartDate and EndDate are inclusive
// "2006-01-02" dates in Timezone; empty means unbounded.
type Recurrence struct {
	SendTimes []string `json:"send_times" yaml:"send_times"`
	Timezone  string   `json:"timezone" yaml:"timezone"`
	OffDays   []int    `json:"off_days,omitempty" yaml:"off_days"`
	StartDate string   `json:"start_date,omitempty" yaml:"start_date"`
	EndDate   string   `json:"end_date,omitempty" yaml:"end_date"`
}

// AntiBanMode selects how aggressively messages are spread out.
type AntiBanMode string

const (
	AntiBanConservative AntiBanMode = "conservative"
	AntiBanModerate     AntiBanMode = "moderate"
	AntiBanAggressive   AntiBanMode = "aggressive"
)

// Multiplier returns the delay multiplier applied to the per-message delay.
func (m AntiBanMode) Multiplier() float64 {
	switch m {
	case AntiBanConservative:
		return 3
	case AntiBanModerate:
		return 1.5
	case AntiBanAggressive:
		return 0.8
	default:
		return 1
	}
}

// RateLimit caps how fast a campaign's queue is scheduled.
// DelayBetweenMessagesMs wins over MessagesPerMinute when both are set.
type RateLimit struct {
	MessagesPerMinute      int `json:"messages_per_minute,omitempty"`
	DelayBetweenMessagesMs int `json:"delay_between_messages_ms,omitempty"`
}

// AntiBan configures human-like pacing on top of the rate limit.
type AntiBan struct {
	Enabled        bool        `json:"enabled"`
	Mode           AntiBanMode `json:"mode,omitempty"`
	RandomizeDelay bool        `json:"randomize_delay"`
	MinDelayMs     int         `json:"min_delay_ms,omitempty"`
	MaxDelayMs     int         `json:"max_delay_ms,omitempty"`
}

// Campaign is a tenant-owned send configuration.
type Campaign struct {
	ID               int64          `json:"id" db:"id"`
	CompanyID        int64          `json:"company_id" db:"company_id"`
	Name             string         `json:"name" db:"name"`
	Status           CampaignStatus `json:"status" db:"status"`
	Type             CampaignType   `json:"campaign_type" db:"campaign_type"`
	ChannelIDs       []int64        `json:"channel_ids" db:"-"`
	SegmentID        *int64         `json:"segment_id,omitempty" db:"segment_id"`
	PipelineStageIDs []int64        `json:"pipeline_stage_ids,omitempty" db:"-"`
	Recurrence       *Recurrence    `json:"recurrence,omitempty" db:"-"`
	MessageTemplate  string         `json:"message_template" db:"message_template"`
	RateLimit        RateLimit      `json:"rate_limit" db:"-"`
	AntiBan          AntiBan        `json:"anti_ban" db:"-"`

	ScheduledAt *time.Time `json:"scheduled_at,omitempty" db:"scheduled_at"`
	StartedAt   *time.Time `json:"started_at,omitempty" db:"started_at"`
	PausedAt    *time.Time `json:"paused_at,omitempty" db:"paused_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty" db:"completed_at"`

	TotalRecipients     int `json:"total_recipients" db:"total_recipients"`
	ProcessedRecipients int `json:"processed_recipients" db:"processed_recipients"`
	SuccessfulSends     int `json:"successful_sends" db:"successful_sends"`
	FailedSends         int `json:"failed_sends" db:"failed_sends"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// IsRecurring reports whether the campaign fires on a daily recurrence.
func (c *Campaign) IsRecurring() bool {
	return c.Type == CampaignRecurringDaily
}

// IsTerminal returns true if the campaign is in a final state.
func (c *Campaign) IsTerminal() bool {
	return c.Status == CampaignCompleted || c.Status == CampaignFailed || c.Status == CampaignCancelled
}

// Deletable returns false while the campaign is actively sending.
func (c *Campaign) Deletable() bool {
	return c.Status != CampaignRunning && c.Status != CampaignProcessing
}

// HasAudience reports whether the campaign resolves recipients dynamically.
func (c *Campaign) HasAudience() bool {
	return c.SegmentID != nil || len(c.PipelineStageIDs) > 0
}

// CountsTowardLimit reports whether the campaign occupies a plan slot.
func (s CampaignStatus) CountsTowardLimit() bool {
	switch s {
	case CampaignDraft, CampaignScheduled, CampaignRunning, CampaignProcessing, CampaignPaused:
		return true
	}
	return false
}
