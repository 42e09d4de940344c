package attom

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when ATTOM answers SuccessWithoutResult or an
	// empty property list.
	ErrNotFound = errors.New("attom: no matching property")

	ErrRateLimited        = errors.New("attom: rate limited")
	ErrDailyLimitExceeded = errors.New("attom: daily quota exceeded")
	ErrPayloadTooLarge    = errors.New("attom: payload too large")
)

// StatusError carries a non-2xx response that is not otherwise classified.
type StatusError struct {
	Path string
	Code int
	Msg  string
}

func (e *StatusError) Error() string {
	if e.Msg != "" {
		return fmt.Sprintf("attom error %d on %s: %s", e.Code, e.Path, e.Msg)
	}
	return fmt.Sprintf("attom error %d on %s", e.Code, e.Path)
}

// Temporary reports whether a later retry might succeed.
func (e *StatusError) Temporary() bool { return e.Code >= 500 }
