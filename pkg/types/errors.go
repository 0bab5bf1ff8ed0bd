package types

import "errors"

// Domain errors for type validation
var (
	ErrUnknownSourceKind = errors.New("unknown source kind")
	ErrInvalidSource     = errors.New("invalid knowledge source")
	ErrInvalidSegmentID  = errors.New("invalid segment id")
	ErrEmptyContent      = errors.New("content cannot be empty")
)
