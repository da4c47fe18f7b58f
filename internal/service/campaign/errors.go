package campaign

import (
	"errors"
	"fmt"
)

// Sentinel errors for the campaign service layer.
var (
	ErrNotFound            = errors.New("campaign not found")
	ErrInvalidTransition   = errors.New("invalid status transition")
	ErrClaimLost           = errors.New("campaign was claimed by another process")
	ErrChannelInactive     = errors.New("channel connection is not active")
	ErrNoChannels          = errors.New("campaign has no channels")
	ErrCampaignLimit       = errors.New("plan campaign limit reached")
	ErrRecipientLimit      = errors.New("plan recipient limit exceeded")
	ErrInvalidRecurrence   = errors.New("invalid recurrence")
	ErrRecurrenceExhausted = errors.New("recurrence has no future occurrence")
	ErrDeleteRunning       = errors.New("cannot delete a running campaign")
	ErrNoAudience          = errors.New("campaign has no segment or pipeline filter")
	ErrInvalidTemplate     = errors.New("invalid message template")
	ErrInvalidInput        = errors.New("invalid campaign input")
)

// OpError carries the operation and identifiers of a failed call so the
// scheduler can log it and move on.
type OpError struct {
	Op         string
	CompanyID  int64
	CampaignID int64
	Err        error
}

func (e *OpError) Error() string {
	return fmt.Sprintf("campaign %s (company %d, campaign %d): %v", e.Op, e.CompanyID, e.CampaignID, e.Err)
}

func (e *OpError) Unwrap() error { return e.Err }

func opErr(op string, companyID, campaignID int64, err error) error {
	if err == nil {
		return nil
	}
	var oe *OpError
	if errors.As(err, &oe) {
		return err
	}
	return &OpError{Op: op, CompanyID: companyID, CampaignID: campaignID, Err: err}
}
