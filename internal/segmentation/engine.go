package segmentation

import (
	"context"
	"fmt"

	"github.com/ignite/campaign-engine/internal/domain"
	"github.com/ignite/campaign-engine/internal/pkg/logger"
)

// ContactSource runs a ContactQuery against contact storage. Implementations
// may push any part of the query down; the Engine re-applies eligibility,
// the exclusion list and phone deduplication on whatever comes back.
type ContactSource interface {
	FindContacts(ctx context.Context, q ContactQuery) ([]domain.Contact, error)
	FindContactDetails(ctx context.Context, q ContactQuery, limit int) ([]ContactDetail, error)
}

// Engine resolves segment criteria into audiences.
type Engine struct {
	contacts ContactSource
}

// NewEngine creates a new segmentation engine
func NewEngine(contacts ContactSource) *Engine {
	return &Engine{contacts: contacts}
}

// ResolveSegment resolves a stored segment for its own tenant.
func (e *Engine) ResolveSegment(ctx context.Context, seg *domain.ContactSegment) ([]domain.Contact, error) {
	return e.Resolve(ctx, seg.CompanyID, seg.Criteria)
}

// Resolve returns the deduplicated audience for criteria. The result may be
// smaller than the raw match count because contacts sharing a phone number
// collapse to the most recently created one.
func (e *Engine) Resolve(ctx context.Context, companyID int64, criteria domain.SegmentCriteria) ([]domain.Contact, error) {
	q := Plan(companyID, criteria)
	rows, err := e.contacts.FindContacts(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("find contacts (%s): %w", q.Mode, err)
	}

	kept := make([]domain.Contact, 0, len(rows))
	for i := range rows {
		if keep(&rows[i], q) {
			kept = append(kept, rows[i])
		}
	}
	out := Dedupe(kept)

	logger.Debug("[segmentation.Engine] resolved",
		"company_id", companyID, "mode", string(q.Mode), "matched", len(rows), "resolved", len(out))
	return out, nil
}

// ResolveDetailed is Resolve with the latest conversation activity attached,
// capped at limit contacts.
func (e *Engine) ResolveDetailed(ctx context.Context, companyID int64, criteria domain.SegmentCriteria, limit int) ([]ContactDetail, error) {
	if limit <= 0 {
		limit = DefaultPreviewLimit
	}
	q := Plan(companyID, criteria)

	// Over-fetch so phone collapses do not starve the page.
	rows, err := e.contacts.FindContactDetails(ctx, q, limit*2)
	if err != nil {
		return nil, fmt.Errorf("find contact details (%s): %w", q.Mode, err)
	}

	kept := make([]ContactDetail, 0, len(rows))
	for i := range rows {
		if keep(&rows[i].Contact, q) {
			kept = append(kept, rows[i])
		}
	}
	out := dedupeBy(kept, func(d *ContactDetail) *domain.Contact { return &d.Contact })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func keep(c *domain.Contact, q ContactQuery) bool {
	return Eligible(c, q.CompanyID) && !containsID(q.ExcludedIDs, c.ID)
}

// Dedupe keeps one contact per normalized phone number: the most recently
// created, with the higher id winning ties. Survivors keep input order.
func Dedupe(contacts []domain.Contact) []domain.Contact {
	return dedupeBy(contacts, func(c *domain.Contact) *domain.Contact { return c })
}

func dedupeBy[T any](items []T, contact func(*T) *domain.Contact) []T {
	winner := make(map[string]int, len(items))
	for i := range items {
		c := contact(&items[i])
		phone := NormalizePhone(c.Phone)
		j, seen := winner[phone]
		if !seen || newer(c, contact(&items[j])) {
			winner[phone] = i
		}
	}

	out := make([]T, 0, len(winner))
	for i := range items {
		if winner[NormalizePhone(contact(&items[i]).Phone)] == i {
			out = append(out, items[i])
		}
	}
	return out
}

func newer(a, b *domain.Contact) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.After(b.CreatedAt)
	}
	return a.ID > b.ID
}
