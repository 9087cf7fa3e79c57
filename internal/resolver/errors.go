package resolver

import (
	"errors"
	"fmt"

	"sharesheet/internal/types"
)

var (
	ErrSortFailed = errors.New("resolver: sort failed")
	ErrDestroyed  = errors.New("resolver: adapter destroyed")
)

// RebuildError reports a rebuild pass that failed after it went async.
type RebuildError struct {
	Generation uint64
	User       types.UserHandle
	Err        error
}

func (e *RebuildError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("rebuild %d for user %s: %v", e.Generation, e.User, e.Err)
}

func (e *RebuildError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}
