package tracking

import "errors"

// Sentinel errors for the tracking service layer.
var (
	ErrMissingKey = errors.New("campaign, sender and recipient are all required")
)
