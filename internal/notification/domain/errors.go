package domain

import "errors"

var (
	ErrStepConflict    = errors.New("escalation_step_conflict")
	ErrMissingBaseURL  = errors.New("missing_base_url")
	ErrUnknownCampaign = errors.New("unknown_campaign")
	ErrTenantNotFound  = errors.New("tenant_not_found")

	// Wrapped by the store, renderer and transport so callers can classify failures.
	ErrStore     = errors.New("record_store_failed")
	ErrRender    = errors.New("render_failed")
	ErrTransport = errors.New("transport_failed")
)
