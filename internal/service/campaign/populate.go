package campaign

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ignite/campaign-engine/internal/domain"
	"github.com/ignite/campaign-engine/internal/pkg/distlock"
	"github.com/ignite/campaign-engine/internal/pkg/logger"
	"github.com/ignite/campaign-engine/internal/segmentation"
)

// PopulateRecipients resolves the campaign's segment and pipeline filter
// and adds every contact not already a recipient. It returns the number
// of recipients added. Calling it twice with unchanged contacts adds
// nothing the second time.
func (s *Service) PopulateRecipients(ctx context.Context, companyID, campaignID int64) (int, error) {
	c, err := s.campaigns.Get(ctx, companyID, campaignID)
	if err != nil {
		return 0, opErr("populate", companyID, campaignID, err)
	}
	criteria, err := s.audienceCriteria(ctx, c)
	if err != nil {
		return 0, opErr("populate", companyID, campaignID, err)
	}
	return s.PopulateFromCriteria(ctx, companyID, campaignID, criteria)
}

// audienceCriteria merges the stored segment with the campaign's own
// pipeline filter. The campaign's stage list wins over the segment's.
func (s *Service) audienceCriteria(ctx context.Context, c *domain.Campaign) (domain.SegmentCriteria, error) {
	if !c.HasAudience() {
		return domain.SegmentCriteria{}, ErrNoAudience
	}
	var criteria domain.SegmentCriteria
	if c.SegmentID != nil {
		seg, err := s.segments.GetSegment(ctx, c.CompanyID, *c.SegmentID)
		if err != nil {
			return criteria, fmt.Errorf("load segment %d: %w", *c.SegmentID, err)
		}
		criteria = seg.Criteria
	}
	if len(c.PipelineStageIDs) > 0 {
		criteria.PipelineStageIDs = c.PipelineStageIDs
	}
	return criteria, nil
}

// PopulateFromCriteria resolves criteria and adds the contacts that are
// neither already recipients nor share a phone number with one. Population
// is serialized per tenant so concurrent calls cannot overshoot the plan's
// recipient limit. When the new recipients would exceed that limit nothing
// is inserted and ErrRecipientLimit is returned.
func (s *Service) PopulateFromCriteria(ctx context.Context, companyID, campaignID int64, criteria domain.SegmentCriteria) (int, error) {
	unlock, err := s.lockCompany(ctx, companyID)
	if err != nil {
		return 0, opErr("populate", companyID, campaignID, err)
	}
	defer unlock()

	contacts, err := s.audience.Resolve(ctx, companyID, criteria)
	if err != nil {
		return 0, opErr("populate", companyID, campaignID, fmt.Errorf("resolve audience: %w", err))
	}

	existing, err := s.recipients.ListRecipientKeys(ctx, campaignID)
	if err != nil {
		return 0, opErr("populate", companyID, campaignID, fmt.Errorf("list recipients: %w", err))
	}
	fresh := newRecipients(contacts, existing, campaignID, s.now())
	if len(fresh) == 0 {
		logger.Debug("[campaign.Service] populate: nothing new", "company_id", companyID, "campaign_id", campaignID, "resolved", len(contacts))
		return 0, nil
	}

	limits, err := s.plans.Limits(ctx, companyID)
	if err != nil {
		return 0, opErr("populate", companyID, campaignID, fmt.Errorf("load plan limits: %w", err))
	}
	total, err := s.recipients.CountCompanyRecipients(ctx, companyID)
	if err != nil {
		return 0, opErr("populate", companyID, campaignID, fmt.Errorf("count recipients: %w", err))
	}
	if total+len(fresh) > limits.MaxCampaignRecipients {
		return 0, opErr("populate", companyID, campaignID,
			fmt.Errorf("%w: %d existing + %d new > %d", ErrRecipientLimit, total, len(fresh), limits.MaxCampaignRecipients))
	}

	if err := s.recipients.AddRecipients(ctx, companyID, campaignID, fresh); err != nil {
		return 0, opErr("populate", companyID, campaignID, fmt.Errorf("add recipients: %w", err))
	}
	s.metrics.Populated(len(fresh))
	logger.Info("[campaign.Service] populated recipients",
		"company_id", companyID, "campaign_id", campaignID, "added", len(fresh), "resolved", len(contacts))
	return len(fresh), nil
}

// newRecipients filters contacts against the campaign's existing recipients
// by contact id and normalized phone.
func newRecipients(contacts []domain.Contact, existing []RecipientKey, campaignID int64, now time.Time) []domain.CampaignRecipient {
	seenContact := make(map[int64]struct{}, len(existing))
	seenPhone := make(map[string]struct{}, len(existing))
	for _, k := range existing {
		seenContact[k.ContactID] = struct{}{}
		if p := segmentation.NormalizePhone(k.Phone); p != "" {
			seenPhone[p] = struct{}{}
		}
	}

	out := make([]domain.CampaignRecipient, 0, len(contacts))
	for _, c := range contacts {
		phone := segmentation.NormalizePhone(c.Phone)
		if _, ok := seenContact[c.ID]; ok {
			continue
		}
		if _, ok := seenPhone[phone]; ok {
			continue
		}
		seenContact[c.ID] = struct{}{}
		seenPhone[phone] = struct{}{}
		out = append(out, domain.CampaignRecipient{
			CampaignID: campaignID,
			ContactID:  c.ID,
			Phone:      c.Phone,
			Status:     domain.RecipientPending,
			Variables:  snapshot(c),
			CreatedAt:  now,
		})
	}
	return out
}

// snapshot captures the template variables of a contact.
func snapshot(c domain.Contact) map[string]string {
	return map[string]string{
		"name":       c.Name,
		"first_name": firstName(c.Name),
		"email":      c.Email,
		"phone":      c.Phone,
		"company":    c.Company,
	}
}

func firstName(name string) string {
	first, _, _ := strings.Cut(strings.TrimSpace(name), " ")
	return first
}

func (s *Service) lockCompany(ctx context.Context, companyID int64) (func(), error) {
	l := s.locks.NewLock(fmt.Sprintf("populate:company:%d", companyID))
	wctx, cancel := context.WithTimeout(ctx, s.lockWait)
	defer cancel()
	if err := distlock.AcquireWait(wctx, l, 0); err != nil {
		return nil, fmt.Errorf("lock company %d: %w", companyID, err)
	}
	return func() {
		if err := l.Release(context.WithoutCancel(ctx)); err != nil {
			logger.Warn("[campaign.Service] release populate lock", "company_id", companyID, "error", err)
		}
	}, nil
}
