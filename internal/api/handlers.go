package api

import (
	"time"

	"github.com/ignite/campaign-engine/internal/service/campaign"
	"github.com/ignite/campaign-engine/internal/worker"
)

// SchedulerStatus is the read-only view of the scheduler loop exposed over
// HTTP. *worker.CampaignScheduler satisfies it.
type SchedulerStatus interface {
	Stats() worker.SchedulerStats
	Running() bool
}

// Handlers contains all HTTP handlers
type Handlers struct {
	campaigns *campaign.Service
	scheduler SchedulerStatus
	now       func() time.Time
}

// NewHandlers creates a new Handlers instance. scheduler may be nil when
// the process runs the API alone.
func NewHandlers(svc *campaign.Service, scheduler SchedulerStatus) *Handlers {
	return &Handlers{
		campaigns: svc,
		scheduler: scheduler,
		now:       time.Now,
	}
}

// SetClock overrides the time source used for default request times.
func (h *Handlers) SetClock(now func() time.Time) {
	h.now = now
}
