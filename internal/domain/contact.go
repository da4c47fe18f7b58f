package domain

import "time"

// Contact is a CRM contact that may receive campaign messages.
type Contact struct {
	ID             int64      `json:"id" db:"id"`
	CompanyID      int64      `json:"company_id" db:"company_id"`
	Name           string     `json:"name" db:"name"`
	Email          string     `json:"email" db:"email"`
	Phone          string     `json:"phone" db:"phone"`
	Company        string     `json:"company" db:"company"`
	Tags           []string   `json:"tags" db:"-"`
	IsActive       bool       `json:"is_active" db:"is_active"`
	CreatedAt      time.Time  `json:"created_at" db:"created_at"`
	LastActivityAt *time.Time `json:"last_activity_at,omitempty" db:"last_activity_at"`
}

// Deal places a contact in a pipeline stage.
type Deal struct {
	ID        int64 `json:"id" db:"id"`
	CompanyID int64 `json:"company_id" db:"company_id"`
	ContactID int64 `json:"contact_id" db:"contact_id"`
	StageID   int64 `json:"stage_id" db:"stage_id"`
}

// SegmentCriteria is the dynamic filter of a segment. Every supplied
// criterion narrows the result (AND). Tags match if any tag matches.
type SegmentCriteria struct {
	Tags               []string   `json:"tags,omitempty"`
	CreatedAfter       *time.Time `json:"created_after,omitempty"`
	CreatedBefore      *time.Time `json:"created_before,omitempty"`
	ContactIDs         []int64    `json:"contact_ids,omitempty"`
	ExcludedContactIDs []int64    `json:"excluded_contact_ids,omitempty"`
	PipelineStageIDs   []int64    `json:"pipeline_stage_ids,omitempty"`
}

// ContactSegment is a named, tenant-owned SegmentCriteria. It is never a
// snapshot: the criteria are evaluated against live contacts on every use.
type ContactSegment struct {
	ID        int64           `json:"id" db:"id"`
	CompanyID int64           `json:"company_id" db:"company_id"`
	Name      string          `json:"name" db:"name"`
	Criteria  SegmentCriteria `json:"criteria" db:"-"`
	CreatedAt time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt time.Time       `json:"updated_at" db:"updated_at"`
}
