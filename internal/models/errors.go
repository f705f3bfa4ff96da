package models

import "errors"

// ErrDefinition is matched (via errors.Is) by every load-time definition error,
// whichever package reports it.
var ErrDefinition = errors.New("invalid definition")
