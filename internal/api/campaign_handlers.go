package api

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/ignite/campaign-engine/internal/domain"
	"github.com/ignite/campaign-engine/internal/pkg/httputil"
	"github.com/ignite/campaign-engine/internal/pkg/logger"
	"github.com/ignite/campaign-engine/internal/service/campaign"
)

const (
	defaultPageSize    = 20
	maxPageSize        = 100
	defaultPreviewSize = 50
	maxPreviewSize     = 500
)

// =============================================================================
// CRUD
// =============================================================================

// HandleListCampaigns returns a page of the tenant's campaigns.
//
//	GET /api/campaigns?status=&type=&page=&limit=
func (h *Handlers) HandleListCampaigns(w http.ResponseWriter, r *http.Request) {
	p := ParsePagination(r, defaultPageSize, maxPageSize)
	q := r.URL.Query()
	f := campaign.ListFilter{
		Status: strings.TrimSpace(q.Get("status")),
		Type:   strings.TrimSpace(q.Get("type")),
		Limit:  p.Limit,
		Offset: p.Offset,
	}

	list, total, err := h.campaigns.List(r.Context(), companyID(r), f)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	httputil.OK(w, NewPage(list, p, total))
}

// createResponse carries the new campaign and, when the immediate audience
// population failed, the reason. The campaign exists either way.
type createResponse struct {
	Campaign      *domain.Campaign        `json:"campaign"`
	PopulateError *httputil.ErrorResponse `json:"populate_error,omitempty"`
}

// HandleCreateCampaign creates a draft campaign.
//
//	POST /api/campaigns
func (h *Handlers) HandleCreateCampaign(w http.ResponseWriter, r *http.Request) {
	var in campaign.CreateInput
	if !httputil.Decode(w, r, &in) {
		return
	}

	c, err := h.campaigns.Create(r.Context(), companyID(r), in)
	if err != nil && c == nil {
		respondServiceError(w, err)
		return
	}

	resp := createResponse{Campaign: c}
	if err != nil {
		_, code := classify(err)
		logger.Warn("[api] campaign created but population failed", "company_id", c.CompanyID, "campaign_id", c.ID, "error", err)
		resp.PopulateError = &httputil.ErrorResponse{Error: err.Error(), Code: code}
	}
	httputil.Created(w, resp)
}

// HandleGetCampaign returns one campaign.
//
//	GET /api/campaigns/{id}
func (h *Handlers) HandleGetCampaign(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.PathInt64(w, r, "id")
	if !ok {
		return
	}
	c, err := h.campaigns.Get(r.Context(), companyID(r), id)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	httputil.OK(w, c)
}

// HandleDeleteCampaign removes a campaign that is not sending.
//
//	DELETE /api/campaigns/{id}
func (h *Handlers) HandleDeleteCampaign(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.PathInt64(w, r, "id")
	if !ok {
		return
	}
	if err := h.campaigns.Delete(r.Context(), companyID(r), id); err != nil {
		respondServiceError(w, err)
		return
	}
	httputil.NoContent(w)
}

// =============================================================================
// LIFECYCLE
// =============================================================================

type transitionFunc func(ctx context.Context, companyID, id int64) (*domain.Campaign, error)

// lifecycle adapts a service transition into a handler that answers with
// the updated campaign.
func lifecycle(op transitionFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := httputil.PathInt64(w, r, "id")
		if !ok {
			return
		}
		c, err := op(r.Context(), companyID(r), id)
		if err != nil {
			respondServiceError(w, err)
			return
		}
		httputil.OK(w, c)
	}
}

// HandlePopulate refreshes the campaign's recipients from its audience.
//
//	POST /api/campaigns/{id}/populate
func (h *Handlers) HandlePopulate(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.PathInt64(w, r, "id")
	if !ok {
		return
	}
	n, err := h.campaigns.PopulateRecipients(r.Context(), companyID(r), id)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	httputil.OK(w, map[string]int{"added": n})
}

// HandleEnqueue expands pending recipients into paced queue items.
//
//	POST /api/campaigns/{id}/enqueue
func (h *Handlers) HandleEnqueue(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.PathInt64(w, r, "id")
	if !ok {
		return
	}
	n, err := h.campaigns.Enqueue(r.Context(), companyID(r), id)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	httputil.OK(w, map[string]int{"queued": n})
}

// =============================================================================
// AUDIENCE AND RECURRENCE
// =============================================================================

type previewRequest struct {
	Criteria domain.SegmentCriteria `json:"criteria"`
	Limit    int                    `json:"limit"`
}

// HandlePreviewAudience resolves criteria without creating anything.
//
//	POST /api/audience/preview
func (h *Handlers) HandlePreviewAudience(w http.ResponseWriter, r *http.Request) {
	var req previewRequest
	if !httputil.Decode(w, r, &req) {
		return
	}
	limit := req.Limit
	if limit <= 0 {
		limit = defaultPreviewSize
	}
	if limit > maxPreviewSize {
		limit = maxPreviewSize
	}

	contacts, err := h.campaigns.PreviewAudience(r.Context(), companyID(r), req.Criteria, limit)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	httputil.OK(w, map[string]interface{}{
		"contacts": contacts,
		"count":    len(contacts),
	})
}

type nextSendRequest struct {
	Recurrence domain.Recurrence `json:"recurrence"`
	From       *time.Time        `json:"from"`
}

// HandleNextSendTime computes the next fire time of a recurrence.
//
//	POST /api/recurrence/next
func (h *Handlers) HandleNextSendTime(w http.ResponseWriter, r *http.Request) {
	var req nextSendRequest
	if !httputil.Decode(w, r, &req) {
		return
	}
	from := h.now()
	if req.From != nil {
		from = *req.From
	}

	next, err := h.campaigns.NextSendTime(req.Recurrence, from)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	httputil.OK(w, map[string]time.Time{"next_send_at": next})
}

// HandleSchedulerStats reports the scheduler loop counters.
//
//	GET /api/scheduler/stats
func (h *Handlers) HandleSchedulerStats(w http.ResponseWriter, r *http.Request) {
	if h.scheduler == nil {
		httputil.OK(w, map[string]interface{}{"running": false})
		return
	}
	httputil.OK(w, map[string]interface{}{
		"running": h.scheduler.Running(),
		"stats":   h.scheduler.Stats(),
	})
}
