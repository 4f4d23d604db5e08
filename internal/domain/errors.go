package domain

import "errors"

var (
	ErrMissingInput         = errors.New("missing input")
	ErrProviderUnavailable  = errors.New("model provider unavailable")
	ErrMalformedModelOutput = errors.New("malformed model output")
	ErrPricingUnavailable   = errors.New("pricing unavailable")
	ErrStorageFailure       = errors.New("storage failure")
	ErrMissingVariable      = errors.New("missing template variable")
	ErrNotFound             = errors.New("not found")
)
