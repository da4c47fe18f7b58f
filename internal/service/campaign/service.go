package campaign

import (
	"context"
	"fmt"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/ignite/campaign-engine/internal/domain"
	"github.com/ignite/campaign-engine/internal/metrics"
	"github.com/ignite/campaign-engine/internal/notify"
	"github.com/ignite/campaign-engine/internal/pkg/distlock"
	"github.com/ignite/campaign-engine/internal/pkg/logger"
	"github.com/ignite/campaign-engine/internal/recurrence"
	"github.com/ignite/campaign-engine/internal/segmentation"
	"github.com/ignite/campaign-engine/internal/template"
)

// Deps are the collaborators a Service needs.
type Deps struct {
	Campaigns  Repository
	Recipients RecipientRepository
	Queue      QueueRepository
	Segments   SegmentRepository
	Channels   ChannelProvider
	Plans      PlanProvider
	Audience   AudienceResolver
}

// Pacing holds the queue spacing used when a campaign sets no rate limit.
type Pacing struct {
	DefaultDelay time.Duration
	JitterMin    time.Duration
	JitterMax    time.Duration
}

// DefaultPacing spaces messages two seconds apart with up to one second
// of jitter.
func DefaultPacing() Pacing {
	return Pacing{DefaultDelay: 2 * time.Second, JitterMin: 0, JitterMax: time.Second}
}

// Service implements campaign business logic. All public methods are safe
// for concurrent use if the underlying repositories are.
type Service struct {
	campaigns  Repository
	recipients RecipientRepository
	queue      QueueRepository
	segments   SegmentRepository
	channels   ChannelProvider
	plans      PlanProvider
	audience   AudienceResolver

	calc      *recurrence.Calculator
	renderer  *template.Renderer
	publisher notify.Publisher
	locks     distlock.Factory
	lockWait  time.Duration
	metrics   *metrics.Metrics
	pacing    Pacing
	now       func() time.Time
	rand      func() float64
}

// Option configures a Service.
type Option func(*Service)

// WithClock injects the time source.
func WithClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }

// WithRand injects the uniform [0,1) source used for jitter.
func WithRand(r func() float64) Option { return func(s *Service) { s.rand = r } }

// WithCalculator shares a recurrence calculator with the scheduler.
func WithCalculator(c *recurrence.Calculator) Option { return func(s *Service) { s.calc = c } }

// WithPublisher sets where campaign.queued events go.
func WithPublisher(p notify.Publisher) Option { return func(s *Service) { s.publisher = p } }

// WithLocks serializes population per tenant through f. wait bounds how
// long a populate call waits for the tenant lock.
func WithLocks(f distlock.Factory, wait time.Duration) Option {
	return func(s *Service) {
		s.locks = f
		if wait > 0 {
			s.lockWait = wait
		}
	}
}

// WithMetrics records recipient and queue counters.
func WithMetrics(m *metrics.Metrics) Option { return func(s *Service) { s.metrics = m } }

// WithPacing overrides DefaultPacing.
func WithPacing(p Pacing) Option { return func(s *Service) { s.pacing = p } }

// NewService creates a campaign service over the given collaborators.
func NewService(d Deps, opts ...Option) *Service {
	s := &Service{
		campaigns:  d.Campaigns,
		recipients: d.Recipients,
		queue:      d.Queue,
		segments:   d.Segments,
		channels:   d.Channels,
		plans:      d.Plans,
		audience:   d.Audience,
		renderer:   template.NewRenderer(),
		publisher:  notify.Nop{},
		locks:      distlock.NewLocalFactory(),
		lockWait:   30 * time.Second,
		pacing:     DefaultPacing(),
		now:        time.Now,
		rand:       rand.Float64,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.calc == nil {
		s.calc = recurrence.NewCalculator()
	}
	return s
}

// Calculator returns the recurrence calculator shared with the scheduler.
func (s *Service) Calculator() *recurrence.Calculator { return s.calc }

// CreateInput holds the fields for creating a new campaign.
type CreateInput struct {
	Name             string               `json:"name"`
	Type             domain.CampaignType  `json:"campaign_type"`
	ChannelIDs       []int64              `json:"channel_ids"`
	SegmentID        *int64               `json:"segment_id"`
	PipelineStageIDs []int64              `json:"pipeline_stage_ids"`
	Recurrence       *domain.Recurrence   `json:"recurrence"`
	MessageTemplate  string               `json:"message_template"`
	ScheduledAt      *time.Time           `json:"scheduled_at"`
	RateLimit        domain.RateLimit     `json:"rate_limit"`
	AntiBan          domain.AntiBan       `json:"anti_ban"`
}

// Get returns a single campaign.
func (s *Service) Get(ctx context.Context, companyID, id int64) (*domain.Campaign, error) {
	c, err := s.campaigns.Get(ctx, companyID, id)
	return c, opErr("get", companyID, id, err)
}

// List returns campaigns matching the filter.
func (s *Service) List(ctx context.Context, companyID int64, f ListFilter) ([]domain.Campaign, int, error) {
	return s.campaigns.List(ctx, companyID, f)
}

// Create validates and persists a new campaign in draft status. Recurring
// campaigns get their first fire time computed up front. When a segment or
// pipeline filter is attached, recipients are populated immediately; a
// population failure is returned together with the created campaign.
func (s *Service) Create(ctx context.Context, companyID int64, in CreateInput) (*domain.Campaign, error) {
	if err := s.validate(in); err != nil {
		return nil, opErr("create", companyID, 0, err)
	}

	limits, err := s.plans.Limits(ctx, companyID)
	if err != nil {
		return nil, opErr("create", companyID, 0, fmt.Errorf("load plan limits: %w", err))
	}
	active, err := s.campaigns.CountActive(ctx, companyID)
	if err != nil {
		return nil, opErr("create", companyID, 0, fmt.Errorf("count campaigns: %w", err))
	}
	if active >= limits.MaxCampaigns {
		return nil, opErr("create", companyID, 0, fmt.Errorf("%w: %d of %d", ErrCampaignLimit, active, limits.MaxCampaigns))
	}

	now := s.now()
	c := &domain.Campaign{
		CompanyID:        companyID,
		Name:             strings.TrimSpace(in.Name),
		Status:           domain.CampaignDraft,
		Type:             in.Type,
		ChannelIDs:       in.ChannelIDs,
		SegmentID:        in.SegmentID,
		PipelineStageIDs: in.PipelineStageIDs,
		Recurrence:       in.Recurrence,
		MessageTemplate:  in.MessageTemplate,
		ScheduledAt:      in.ScheduledAt,
		RateLimit:        in.RateLimit,
		AntiBan:          in.AntiBan,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	if c.IsRecurring() {
		next, ok, err := s.calc.Next(*c.Recurrence, now, "")
		if err != nil {
			return nil, opErr("create", companyID, 0, fmt.Errorf("%w: %v", ErrInvalidRecurrence, err))
		}
		if !ok {
			return nil, opErr("create", companyID, 0, ErrRecurrenceExhausted)
		}
		c.ScheduledAt = &next
	}

	id, err := s.campaigns.Create(ctx, c)
	if err != nil {
		return nil, opErr("create", companyID, 0, err)
	}
	c.ID = id
	logger.Info("[campaign.Service] created", "company_id", companyID, "campaign_id", id, "type", string(c.Type))

	if c.HasAudience() {
		n, err := s.PopulateRecipients(ctx, companyID, id)
		if err != nil {
			return c, err
		}
		c.TotalRecipients += n
	}
	return c, nil
}

func (s *Service) validate(in CreateInput) error {
	if strings.TrimSpace(in.Name) == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidInput)
	}
	if !in.Type.Valid() {
		return fmt.Errorf("%w: unknown campaign type %q", ErrInvalidInput, in.Type)
	}
	if in.Type == domain.CampaignRecurringDaily {
		if in.Recurrence == nil {
			return fmt.Errorf("%w: recurring campaigns need recurrence settings", ErrInvalidRecurrence)
		}
		if err := recurrence.Validate(*in.Recurrence); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidRecurrence, err)
		}
	}
	if in.Type == domain.CampaignScheduledOnce && in.ScheduledAt == nil {
		return fmt.Errorf("%w: scheduled campaigns need scheduled_at", ErrInvalidInput)
	}
	if err := s.renderer.Validate(in.MessageTemplate); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidTemplate, err)
	}
	return nil
}

// Delete removes a campaign unless it is actively sending.
func (s *Service) Delete(ctx context.Context, companyID, id int64) error {
	c, err := s.campaigns.Get(ctx, companyID, id)
	if err != nil {
		return opErr("delete", companyID, id, err)
	}
	if !c.Deletable() {
		return opErr("delete", companyID, id, ErrDeleteRunning)
	}
	return opErr("delete", companyID, id, s.campaigns.Delete(ctx, companyID, id))
}

// PreviewAudience resolves criteria without persisting anything, with the
// latest conversation activity attached.
func (s *Service) PreviewAudience(ctx context.Context, companyID int64, criteria domain.SegmentCriteria, limit int) ([]segmentation.ContactDetail, error) {
	return s.audience.ResolveDetailed(ctx, companyID, criteria, limit)
}

// NextSendTime computes the next fire instant of r after from.
func (s *Service) NextSendTime(r domain.Recurrence, from time.Time) (time.Time, error) {
	if err := recurrence.Validate(r); err != nil {
		return time.Time{}, fmt.Errorf("%w: %v", ErrInvalidRecurrence, err)
	}
	next, ok, err := s.calc.Next(r, from, "")
	if err != nil {
		return time.Time{}, err
	}
	if !ok {
		return time.Time{}, ErrRecurrenceExhausted
	}
	return next, nil
}
