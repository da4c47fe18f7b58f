// Package segmentation resolves dynamic contact segments into deduplicated
// audiences. Segments are never snapshots: every call re-evaluates the
// criteria against live contact data.
package segmentation

import (
	"strings"
	"time"

	"github.com/ignite/campaign-engine/internal/domain"
)

// ==========================================
// QUERY MODES
// ==========================================

// Mode selects the query shape used to resolve a criteria set.
type Mode string

const (
	// ModeByIDs is a direct id-membership lookup. Used when the criteria
	// hold nothing but an explicit contact id list.
	ModeByIDs Mode = "by_ids"
	// ModeFiltered applies tag/date/id filters to the contacts table.
	ModeFiltered Mode = "filtered"
	// ModePipeline inner-joins deals restricted to the requested stages.
	ModePipeline Mode = "pipeline"
)

const (
	// MaxTagLength is the longest tag considered for matching.
	MaxTagLength = 100

	MinPhoneDigits = 7
	MaxPhoneDigits = 15

	// DefaultPreviewLimit caps ResolveDetailed when no limit is supplied.
	DefaultPreviewLimit = 50
)

// ContactQuery is a normalized criteria set bound to one tenant.
type ContactQuery struct {
	Mode          Mode
	CompanyID     int64
	ContactIDs    []int64
	Tags          []string
	CreatedAfter  *time.Time
	CreatedBefore *time.Time
	StageIDs      []int64
	ExcludedIDs   []int64
}

// ContactDetail is a contact joined with its latest conversation activity.
type ContactDetail struct {
	domain.Contact
	LastConversationAt *time.Time `json:"last_conversation_at,omitempty" db:"last_conversation_at"`
}

// Plan normalizes criteria and picks the query variant. All criteria AND
// together; an id list only short-circuits when nothing else is set.
func Plan(companyID int64, c domain.SegmentCriteria) ContactQuery {
	q := ContactQuery{
		CompanyID:     companyID,
		ContactIDs:    uniqueIDs(c.ContactIDs),
		Tags:          NormalizeTags(c.Tags),
		CreatedAfter:  c.CreatedAfter,
		CreatedBefore: c.CreatedBefore,
		StageIDs:      uniqueIDs(c.PipelineStageIDs),
		ExcludedIDs:   uniqueIDs(c.ExcludedContactIDs),
	}
	switch {
	case len(q.StageIDs) > 0:
		q.Mode = ModePipeline
	case len(q.ContactIDs) > 0 && len(q.Tags) == 0 && q.CreatedAfter == nil && q.CreatedBefore == nil:
		q.Mode = ModeByIDs
	default:
		q.Mode = ModeFiltered
	}
	return q
}

// ==========================================
// NORMALIZATION
// ==========================================

// NormalizeTags lowercases and trims tags, dropping empty, over-long and
// duplicate entries.
func NormalizeTags(tags []string) []string {
	if len(tags) == 0 {
		return nil
	}
	out := make([]string, 0, len(tags))
	seen := make(map[string]bool, len(tags))
	for _, t := range tags {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" || len(t) > MaxTagLength || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// NormalizePhone strips everything but digits.
func NormalizePhone(phone string) string {
	var b strings.Builder
	b.Grow(len(phone))
	for _, r := range phone {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// ValidPhone reports whether phone has between 7 and 15 digits.
func ValidPhone(phone string) bool {
	n := len(NormalizePhone(phone))
	return n >= MinPhoneDigits && n <= MaxPhoneDigits
}

func uniqueIDs(ids []int64) []int64 {
	if len(ids) == 0 {
		return nil
	}
	out := make([]int64, 0, len(ids))
	seen := make(map[int64]bool, len(ids))
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}

// ==========================================
// IN-PROCESS MATCHING
// ==========================================

// Eligible reports whether a contact can receive a campaign message at all:
// active, owned by the tenant and carrying a usable phone number.
func Eligible(c *domain.Contact, companyID int64) bool {
	return c.IsActive && c.CompanyID == companyID && ValidPhone(c.Phone)
}

// Matches evaluates q against one contact without touching storage.
// stageIDs are the pipeline stages of the contact's deals. The exclusion
// list is not consulted here; the Engine subtracts it last.
func Matches(c *domain.Contact, q ContactQuery, stageIDs []int64) bool {
	if !Eligible(c, q.CompanyID) {
		return false
	}
	if len(q.ContactIDs) > 0 && !containsID(q.ContactIDs, c.ID) {
		return false
	}
	if q.Mode == ModeByIDs {
		return true
	}
	if len(q.Tags) > 0 && !anyTag(c.Tags, q.Tags) {
		return false
	}
	if q.CreatedAfter != nil && c.CreatedAt.Before(*q.CreatedAfter) {
		return false
	}
	if q.CreatedBefore != nil && c.CreatedAt.After(*q.CreatedBefore) {
		return false
	}
	if len(q.StageIDs) > 0 {
		hit := false
		for _, s := range stageIDs {
			if containsID(q.StageIDs, s) {
				hit = true
				break
			}
		}
		if !hit {
			return false
		}
	}
	return true
}

func anyTag(have, want []string) bool {
	for _, h := range NormalizeTags(have) {
		for _, w := range want {
			if h == w {
				return true
			}
		}
	}
	return false
}

func containsID(ids []int64, id int64) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
