// Package memory is a mutex-guarded, in-process implementation of every
// campaign repository and of the segmentation contact source. It backs the
// service and scheduler tests and the server's --store=memory mode.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/ignite/campaign-engine/internal/domain"
	"github.com/ignite/campaign-engine/internal/segmentation"
	"github.com/ignite/campaign-engine/internal/service/campaign"
)

// Store holds all entities in maps keyed by id. Reads return copies.
type Store struct {
	mu sync.Mutex

	campaigns  map[int64]*domain.Campaign
	recipients map[int64][]*domain.CampaignRecipient // by campaign
	queue      map[int64][]*domain.QueueItem         // by campaign
	segments   map[int64]*domain.ContactSegment
	contacts   map[int64]*domain.Contact
	deals      []domain.Deal
	lastConvo  map[int64]time.Time // by contact
	channels   map[int64]domain.ChannelConnection
	plans      map[int64]domain.PlanLimits

	defaultLimits domain.PlanLimits
	nextID        int64
}

// New returns an empty store applying limits to tenants without a plan.
func New(limits domain.PlanLimits) *Store {
	return &Store{
		campaigns:     make(map[int64]*domain.Campaign),
		recipients:    make(map[int64][]*domain.CampaignRecipient),
		queue:         make(map[int64][]*domain.QueueItem),
		segments:      make(map[int64]*domain.ContactSegment),
		contacts:      make(map[int64]*domain.Contact),
		lastConvo:     make(map[int64]time.Time),
		channels:      make(map[int64]domain.ChannelConnection),
		plans:         make(map[int64]domain.PlanLimits),
		defaultLimits: limits,
	}
}

func (s *Store) id() int64 {
	s.nextID++
	return s.nextID
}

// =============================================================================
// Seeding
// =============================================================================

// PutContact inserts or replaces a contact. A zero ID is assigned.
func (s *Store) PutContact(c domain.Contact) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c.ID == 0 {
		c.ID = s.id()
	} else if c.ID > s.nextID {
		s.nextID = c.ID
	}
	s.contacts[c.ID] = &c
	return c.ID
}

// PutDeal places a contact in a pipeline stage.
func (s *Store) PutDeal(d domain.Deal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if d.ID == 0 {
		d.ID = s.id()
	}
	s.deals = append(s.deals, d)
}

// PutConversation records a conversation with a contact at t.
func (s *Store) PutConversation(contactID int64, t time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t.After(s.lastConvo[contactID]) {
		s.lastConvo[contactID] = t
	}
}

// PutSegment stores a segment. A zero ID is assigned.
func (s *Store) PutSegment(seg domain.ContactSegment) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if seg.ID == 0 {
		seg.ID = s.id()
	} else if seg.ID > s.nextID {
		s.nextID = seg.ID
	}
	s.segments[seg.ID] = &seg
	return seg.ID
}

// PutChannel inserts or replaces a channel connection.
func (s *Store) PutChannel(ch domain.ChannelConnection) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.channels[ch.ID] = ch
}

// SetChannelStatus changes the live status of a channel.
func (s *Store) SetChannelStatus(id int64, st domain.ChannelStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch := s.channels[id]
	ch.Status = st
	s.channels[id] = ch
}

// PutPlan overrides the limits of one tenant.
func (s *Store) PutPlan(companyID int64, l domain.PlanLimits) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.plans[companyID] = l
}

// QueueItems returns copies of a campaign's queue items in insertion order.
func (s *Store) QueueItems(campaignID int64) []domain.QueueItem {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.QueueItem, 0, len(s.queue[campaignID]))
	for _, q := range s.queue[campaignID] {
		out = append(out, *q)
	}
	return out
}

// Recipients returns copies of a campaign's recipients in insertion order.
func (s *Store) Recipients(campaignID int64) []domain.CampaignRecipient {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.CampaignRecipient, 0, len(s.recipients[campaignID]))
	for _, r := range s.recipients[campaignID] {
		out = append(out, copyRecipient(r))
	}
	return out
}

// SetQueueStatus moves every item of a campaign to st, standing in for the
// delivery layer.
func (s *Store) SetQueueStatus(campaignID int64, st domain.QueueItemStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, q := range s.queue[campaignID] {
		q.Status = st
	}
}

// =============================================================================
// campaign.Repository
// =============================================================================

func (s *Store) Get(_ context.Context, companyID, id int64) (*domain.Campaign, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.campaigns[id]
	if !ok || c.CompanyID != companyID {
		return nil, campaign.ErrNotFound
	}
	return copyCampaign(c), nil
}

func (s *Store) List(_ context.Context, companyID int64, f campaign.ListFilter) ([]domain.Campaign, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var all []domain.Campaign
	for _, c := range s.campaigns {
		if c.CompanyID != companyID {
			continue
		}
		if f.Status != "" && string(c.Status) != f.Status {
			continue
		}
		if f.Type != "" && string(c.Type) != f.Type {
			continue
		}
		all = append(all, *copyCampaign(c))
	}
	sort.Slice(all, func(i, j int) bool {
		if !all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].CreatedAt.After(all[j].CreatedAt)
		}
		return all[i].ID > all[j].ID
	})
	total := len(all)
	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	if f.Offset >= len(all) {
		return []domain.Campaign{}, total, nil
	}
	all = all[f.Offset:]
	if len(all) > limit {
		all = all[:limit]
	}
	return all, total, nil
}

func (s *Store) Create(_ context.Context, c *domain.Campaign) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := copyCampaign(c)
	cp.ID = s.id()
	s.campaigns[cp.ID] = cp
	return cp.ID, nil
}

func (s *Store) Delete(_ context.Context, companyID, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.campaigns[id]
	if !ok || c.CompanyID != companyID {
		return campaign.ErrNotFound
	}
	delete(s.campaigns, id)
	delete(s.recipients, id)
	delete(s.queue, id)
	return nil
}

func (s *Store) CountActive(_ context.Context, companyID int64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.campaigns {
		if c.CompanyID == companyID && c.Status.CountsTowardLimit() {
			n++
		}
	}
	return n, nil
}

func (s *Store) Transition(_ context.Context, companyID, id int64, from []domain.CampaignStatus, to domain.CampaignStatus, p campaign.StatusPatch) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.campaigns[id]
	if !ok || c.CompanyID != companyID {
		return false, nil
	}
	matched := false
	for _, f := range from {
		if c.Status == f {
			matched = true
			break
		}
	}
	if !matched {
		return false, nil
	}
	c.Status = to
	switch {
	case p.ScheduledAt != nil:
		c.ScheduledAt = timePtr(*p.ScheduledAt)
	case p.ClearSchedule:
		c.ScheduledAt = nil
	}
	if p.StartedAt != nil {
		c.StartedAt = timePtr(*p.StartedAt)
	}
	switch {
	case p.PausedAt != nil:
		c.PausedAt = timePtr(*p.PausedAt)
	case p.ClearPausedAt:
		c.PausedAt = nil
	}
	if p.CompletedAt != nil {
		c.CompletedAt = timePtr(*p.CompletedAt)
	}
	c.UpdatedAt = time.Now()
	return true, nil
}

func (s *Store) SetScheduledAt(_ context.Context, companyID, id int64, at *time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.campaigns[id]
	if !ok || c.CompanyID != companyID || c.Status != domain.CampaignScheduled {
		return false, nil
	}
	if at == nil {
		c.ScheduledAt = nil
	} else {
		c.ScheduledAt = timePtr(*at)
	}
	c.UpdatedAt = time.Now()
	return true, nil
}

// =============================================================================
// campaign.RecipientRepository
// =============================================================================

func (s *Store) ListRecipientKeys(_ context.Context, campaignID int64) ([]campaign.RecipientKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]campaign.RecipientKey, 0, len(s.recipients[campaignID]))
	for _, r := range s.recipients[campaignID] {
		phone := r.Phone
		if ct, ok := s.contacts[r.ContactID]; ok && ct.Phone != "" {
			phone = ct.Phone
		}
		out = append(out, campaign.RecipientKey{ContactID: r.ContactID, Phone: phone})
	}
	return out, nil
}

func (s *Store) CountCompanyRecipients(_ context.Context, companyID int64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, rs := range s.recipients {
		if c, ok := s.campaigns[id]; ok && c.CompanyID == companyID {
			n += len(rs)
		}
	}
	return n, nil
}

func (s *Store) AddRecipients(_ context.Context, companyID, campaignID int64, rs []domain.CampaignRecipient) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.campaigns[campaignID]
	if !ok || c.CompanyID != companyID {
		return campaign.ErrNotFound
	}
	for i := range rs {
		r := copyRecipient(&rs[i])
		r.ID = s.id()
		r.CampaignID = campaignID
		s.recipients[campaignID] = append(s.recipients[campaignID], &r)
	}
	c.TotalRecipients += len(rs)
	return nil
}

func (s *Store) ListPendingRecipients(_ context.Context, campaignID int64) ([]domain.CampaignRecipient, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.CampaignRecipient
	for _, r := range s.recipients[campaignID] {
		if r.Status == domain.RecipientPending {
			out = append(out, copyRecipient(r))
		}
	}
	return out, nil
}

func (s *Store) ResetRecipients(_ context.Context, campaignID int64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, r := range s.recipients[campaignID] {
		if r.Status != domain.RecipientPending {
			r.Status = domain.RecipientPending
			n++
		}
	}
	return n, nil
}

// =============================================================================
// campaign.QueueRepository
// =============================================================================

func (s *Store) EnqueueItems(_ context.Context, campaignID int64, items []domain.QueueItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	queued := make(map[int64]bool, len(items))
	for i := range items {
		it := items[i]
		s.queue[campaignID] = append(s.queue[campaignID], &it)
		queued[it.RecipientID] = true
	}
	for _, r := range s.recipients[campaignID] {
		if queued[r.ID] && r.Status == domain.RecipientPending {
			r.Status = domain.RecipientProcessing
		}
	}
	return nil
}

func (s *Store) CancelPendingItems(_ context.Context, campaignID int64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cancelled := make(map[int64]bool)
	for _, q := range s.queue[campaignID] {
		if q.Status == domain.QueuePending {
			q.Status = domain.QueueCancelled
			cancelled[q.RecipientID] = true
		}
	}
	for _, r := range s.recipients[campaignID] {
		if cancelled[r.ID] && r.Status == domain.RecipientProcessing {
			r.Status = domain.RecipientPending
		}
	}
	return len(cancelled), nil
}

func (s *Store) QueueCounts(_ context.Context, campaignID int64) (campaign.QueueCounts, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.countsLocked(campaignID), nil
}

func (s *Store) countsLocked(campaignID int64) campaign.QueueCounts {
	var qc campaign.QueueCounts
	for _, q := range s.queue[campaignID] {
		switch q.Status {
		case domain.QueuePending:
			qc.Pending++
		case domain.QueueProcessing:
			qc.Processing++
		case domain.QueueSent:
			qc.Sent++
		case domain.QueueFailed:
			qc.Failed++
		case domain.QueueCancelled:
			qc.Cancelled++
		}
	}
	return qc
}

// =============================================================================
// Segments, channels, plans
// =============================================================================

func (s *Store) GetSegment(_ context.Context, companyID, id int64) (*domain.ContactSegment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	seg, ok := s.segments[id]
	if !ok || seg.CompanyID != companyID {
		return nil, segmentation.ErrSegmentNotFound
	}
	cp := *seg
	return &cp, nil
}

func (s *Store) Channels(_ context.Context, companyID int64, ids []int64) ([]domain.ChannelConnection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.ChannelConnection
	for _, id := range ids {
		if ch, ok := s.channels[id]; ok && ch.CompanyID == companyID {
			out = append(out, ch)
		}
	}
	return out, nil
}

func (s *Store) Limits(_ context.Context, companyID int64) (domain.PlanLimits, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if l, ok := s.plans[companyID]; ok {
		return l, nil
	}
	return s.defaultLimits, nil
}

// =============================================================================
// segmentation.ContactSource
// =============================================================================

// FindContacts evaluates q in process, newest contact first.
func (s *Store) FindContacts(_ context.Context, q segmentation.ContactQuery) ([]domain.Contact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.matchLocked(q), nil
}

func (s *Store) FindContactDetails(_ context.Context, q segmentation.ContactQuery, limit int) ([]segmentation.ContactDetail, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows := s.matchLocked(q)
	if limit > 0 && len(rows) > limit {
		rows = rows[:limit]
	}
	out := make([]segmentation.ContactDetail, len(rows))
	for i, c := range rows {
		out[i].Contact = c
		if t, ok := s.lastConvo[c.ID]; ok {
			out[i].LastConversationAt = timePtr(t)
		}
	}
	return out, nil
}

func (s *Store) matchLocked(q segmentation.ContactQuery) []domain.Contact {
	stages := make(map[int64][]int64)
	for _, d := range s.deals {
		if d.CompanyID == q.CompanyID {
			stages[d.ContactID] = append(stages[d.ContactID], d.StageID)
		}
	}
	excluded := make(map[int64]bool, len(q.ExcludedIDs))
	for _, id := range q.ExcludedIDs {
		excluded[id] = true
	}

	var out []domain.Contact
	for _, c := range s.contacts {
		if excluded[c.ID] {
			continue
		}
		if segmentation.Matches(c, q, stages[c.ID]) {
			cp := *c
			cp.Tags = append([]string(nil), c.Tags...)
			out = append(out, cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	return out
}

// =============================================================================
// campaign.SchedulerRepository
// =============================================================================

func (s *Store) ListDueOneShot(_ context.Context, now time.Time, limit int) ([]domain.Campaign, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Campaign
	for _, c := range s.campaigns {
		if c.Status != domain.CampaignScheduled || c.IsRecurring() {
			continue
		}
		if c.ScheduledAt == nil || c.ScheduledAt.After(now) {
			continue
		}
		out = append(out, *copyCampaign(c))
	}
	sortByCursor(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) ListRecurringCompanies(_ context.Context) ([]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	seen := make(map[int64]bool)
	var out []int64
	for _, c := range s.campaigns {
		if c.Status == domain.CampaignScheduled && c.IsRecurring() && !seen[c.CompanyID] {
			seen[c.CompanyID] = true
			out = append(out, c.CompanyID)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

func (s *Store) ListScheduledRecurring(_ context.Context, companyID int64, after campaign.ScheduleCursor, limit int) ([]domain.Campaign, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Campaign
	for _, c := range s.campaigns {
		if c.CompanyID != companyID || c.Status != domain.CampaignScheduled || !c.IsRecurring() {
			continue
		}
		if !cursorAfter(campaign.CursorOf(c), after) {
			continue
		}
		out = append(out, *copyCampaign(c))
	}
	sortByCursor(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) ListDrained(_ context.Context, limit int) ([]domain.Campaign, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Campaign
	for _, c := range s.campaigns {
		if c.Status != domain.CampaignRunning {
			continue
		}
		if s.countsLocked(c.ID).Drained() {
			out = append(out, *copyCampaign(c))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// =============================================================================
// Helpers
// =============================================================================

func cursorAfter(a, b campaign.ScheduleCursor) bool {
	if !a.ScheduledAt.Equal(b.ScheduledAt) {
		return a.ScheduledAt.After(b.ScheduledAt)
	}
	return a.ID > b.ID
}

func sortByCursor(cs []domain.Campaign) {
	sort.Slice(cs, func(i, j int) bool {
		return cursorAfter(campaign.CursorOf(&cs[j]), campaign.CursorOf(&cs[i]))
	})
}

func copyCampaign(c *domain.Campaign) *domain.Campaign {
	cp := *c
	cp.ChannelIDs = append([]int64(nil), c.ChannelIDs...)
	cp.PipelineStageIDs = append([]int64(nil), c.PipelineStageIDs...)
	if c.SegmentID != nil {
		id := *c.SegmentID
		cp.SegmentID = &id
	}
	if c.Recurrence != nil {
		r := *c.Recurrence
		r.SendTimes = append([]string(nil), c.Recurrence.SendTimes...)
		r.OffDays = append([]int(nil), c.Recurrence.OffDays...)
		cp.Recurrence = &r
	}
	for _, p := range []**time.Time{&cp.ScheduledAt, &cp.StartedAt, &cp.PausedAt, &cp.CompletedAt} {
		if *p != nil {
			*p = timePtr(**p)
		}
	}
	return &cp
}

func copyRecipient(r *domain.CampaignRecipient) domain.CampaignRecipient {
	cp := *r
	if r.Variables != nil {
		cp.Variables = make(map[string]string, len(r.Variables))
		for k, v := range r.Variables {
			cp.Variables[k] = v
		}
	}
	return cp
}

func timePtr(t time.Time) *time.Time { return &t }
