package gateway

import (
	"errors"
	"fmt"

	"github.com/pario-ai/querygate/pkg/ledger"
	"github.com/pario-ai/querygate/pkg/models"
)

var (
	// ErrBudgetExceeded matches both suspension and restriction rejections.
	ErrBudgetExceeded   = errors.New("budget exceeded")
	ErrServiceSuspended = errors.New("service suspended: monthly limit reached")
	ErrQueryRestricted  = errors.New("queries restricted: weekly limit reached")
	ErrCacheOnlyMiss    = errors.New("cache-only mode: result not cached")
	ErrEmptyQuery       = errors.New("empty query")
	// ErrLedgerSave marks a failure to persist recorded spend.
	ErrLedgerSave = ledger.ErrSave
)

// PolicyError is a rejection by the budget policy.
type PolicyError struct {
	// Kind is ErrServiceSuspended, ErrQueryRestricted or ErrCacheOnlyMiss.
	Kind  error
	Mode  models.OperatingMode
	Scope models.LimitScope
	Limit float64
	Spent float64
}

func (e *PolicyError) Error() string {
	if e.Scope == models.ScopeNone {
		return fmt.Sprintf("%v (mode %s)", e.Kind, e.Mode)
	}
	return fmt.Sprintf("%v (mode %s, %s spend %.2f of %.2f)", e.Kind, e.Mode, e.Scope, e.Spent, e.Limit)
}

// Unwrap lets errors.Is match Kind, and ErrBudgetExceeded for hard rejections.
func (e *PolicyError) Unwrap() []error {
	if e.Kind == ErrCacheOnlyMiss {
		return []error{e.Kind}
	}
	return []error{e.Kind, ErrBudgetExceeded}
}

// RemoteError is a failure of the remote query service.
type RemoteError struct {
	Err error
}

func (e *RemoteError) Error() string {
	return "remote execution failed: " + e.Err.Error()
}

func (e *RemoteError) Unwrap() error { return e.Err }
