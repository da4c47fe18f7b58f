package api

import (
	"errors"
	"net/http"

	"github.com/ignite/campaign-engine/internal/pkg/httputil"
	"github.com/ignite/campaign-engine/internal/service/campaign"
)

// =============================================================================
// ERROR MAPPING
// Service sentinels become status codes with a stable code string. Anything
// unrecognized is a 500 whose details stay in the server log.
// =============================================================================

type errorMapping struct {
	err    error
	status int
	code   string
}

var errorMappings = []errorMapping{
	{campaign.ErrNotFound, http.StatusNotFound, "not_found"},
	{campaign.ErrInvalidInput, http.StatusBadRequest, "invalid_input"},
	{campaign.ErrInvalidRecurrence, http.StatusBadRequest, "invalid_recurrence"},
	{campaign.ErrInvalidTemplate, http.StatusBadRequest, "invalid_template"},
	{campaign.ErrNoChannels, http.StatusBadRequest, "no_channels"},
	{campaign.ErrNoAudience, http.StatusBadRequest, "no_audience"},
	{campaign.ErrInvalidTransition, http.StatusConflict, "invalid_transition"},
	{campaign.ErrClaimLost, http.StatusConflict, "claim_lost"},
	{campaign.ErrDeleteRunning, http.StatusConflict, "campaign_running"},
	{campaign.ErrChannelInactive, http.StatusConflict, "channel_inactive"},
	{campaign.ErrCampaignLimit, http.StatusForbidden, "campaign_limit"},
	{campaign.ErrRecipientLimit, http.StatusForbidden, "recipient_limit"},
	{campaign.ErrRecurrenceExhausted, http.StatusUnprocessableEntity, "recurrence_exhausted"},
}

// classify returns the status and code for err.
func classify(err error) (int, string) {
	for _, m := range errorMappings {
		if errors.Is(err, m.err) {
			return m.status, m.code
		}
	}
	return http.StatusInternalServerError, "internal"
}

// respondServiceError writes err with its mapped status. 5xx responses
// never include the internal message.
func respondServiceError(w http.ResponseWriter, err error) {
	status, code := classify(err)
	if status >= http.StatusInternalServerError {
		httputil.InternalError(w, err)
		return
	}
	httputil.ErrorCode(w, status, code, err.Error())
}
