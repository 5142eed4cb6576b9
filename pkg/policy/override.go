package policy

import (
	"context"
	"sync"
	"time"

	"github.com/pario-ai/querygate/pkg/models"
)

// OverrideScope holds the manual override for one owner, such as a server
// process or a CLI session. It is carried through context.Context.
type OverrideScope struct {
	mu       sync.Mutex
	override *models.ManualOverride
}

// NewOverrideScope creates an empty scope.
func NewOverrideScope() *OverrideScope {
	return &OverrideScope{}
}

// Set activates o.
func (s *OverrideScope) Set(o models.ManualOverride) {
	o.Active = true
	s.mu.Lock()
	s.override = &o
	s.mu.Unlock()
}

// Current returns the active override, if any.
func (s *OverrideScope) Current() (models.ManualOverride, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.override == nil {
		return models.ManualOverride{}, false
	}
	return *s.override, true
}

// Clear removes the override and returns it.
func (s *OverrideScope) Clear() (models.ManualOverride, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.override == nil {
		return models.ManualOverride{}, false
	}
	o := *s.override
	s.override = nil
	return o, true
}

// expireAt clears the override if now falls in a different Monday-start
// week or calendar month than SetAt. It returns the override still in
// force, and the cleared one if it just expired.
func (s *OverrideScope) expireAt(now time.Time, loc *time.Location) (active, expired *models.ManualOverride) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.override == nil {
		return nil, nil
	}
	o := *s.override
	if sameWindow(o.SetAt, now, loc) {
		return &o, nil
	}
	s.override = nil
	return nil, &o
}

func sameWindow(a, b time.Time, loc *time.Location) bool {
	a, b = a.In(loc), b.In(loc)
	if a.Year() != b.Year() || a.Month() != b.Month() {
		return false
	}
	return weekStart(a).Equal(weekStart(b))
}

func weekStart(t time.Time) time.Time {
	day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
	return day.AddDate(0, 0, -((int(day.Weekday()) + 6) % 7))
}

type scopeKey struct{}

// WithOverride returns a context carrying scope.
func WithOverride(ctx context.Context, scope *OverrideScope) context.Context {
	return context.WithValue(ctx, scopeKey{}, scope)
}

// OverrideFromContext returns the scope carried by ctx, or nil.
func OverrideFromContext(ctx context.Context) *OverrideScope {
	scope, _ := ctx.Value(scopeKey{}).(*OverrideScope)
	return scope
}
