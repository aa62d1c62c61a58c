package spotlight

import "errors"

var (
	ErrDuplicateEntry   = errors.New("participant already in spotlight")
	ErrCapacityExceeded = errors.New("spotlight is full and queue is disabled")
	ErrNotFound         = errors.New("participant not in spotlight")
	ErrInvalidKind      = errors.New("invalid spotlight kind")
	ErrInvalidPriority  = errors.New("invalid spotlight priority")
	ErrInvalidDuration  = errors.New("duration must be positive")
)
