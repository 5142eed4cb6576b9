// Package alert records operating-mode escalations and notifies operators.
package alert

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/pario-ai/querygate/pkg/logging"
	"github.com/pario-ai/querygate/pkg/metrics"
	"github.com/pario-ai/querygate/pkg/models"
)

// Options configures a Sink.
type Options struct {
	// Notifier is optional.
	Notifier Notifier
	// NotifyPerMinute throttles notifications. Zero means unthrottled.
	NotifyPerMinute int
	NotifyTimeout   time.Duration
	Clock           func() time.Time
	// Location is the time zone budget windows are computed in. UTC if nil.
	Location *time.Location
	Logger   *zap.Logger
	Metrics  *metrics.Metrics
}

// Sink appends alerts to a Store and forwards them to a Notifier.
type Sink struct {
	store    Store
	notifier Notifier
	limiter  *rate.Limiter
	timeout  time.Duration
	clock    func() time.Time
	loc      *time.Location
	logger   *zap.Logger
	metrics  *metrics.Metrics

	mu     sync.Mutex
	last   models.OperatingMode
	window string
	wg     sync.WaitGroup
}

// NewSink creates a Sink.
func NewSink(store Store, opts Options) *Sink {
	s := &Sink{
		store:    store,
		notifier: opts.Notifier,
		timeout:  opts.NotifyTimeout,
		clock:    opts.Clock,
		loc:      opts.Location,
		logger:   logging.OrNop(opts.Logger).Named("alert"),
		metrics:  opts.Metrics,
	}
	if s.timeout <= 0 {
		s.timeout = 10 * time.Second
	}
	if s.clock == nil {
		s.clock = time.Now
	}
	if s.loc == nil {
		s.loc = time.UTC
	}
	if opts.NotifyPerMinute > 0 {
		s.limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(opts.NotifyPerMinute)), opts.NotifyPerMinute)
	}
	return s
}

// Severity maps the mode an escalation reached to an alert severity.
func Severity(to models.OperatingMode) models.AlertSeverity {
	switch {
	case to >= models.ModeRestricted:
		return models.SeverityCritical
	case to == models.ModeCacheOnly:
		return models.SeverityWarning
	default:
		return models.SeverityInfo
	}
}

// MaybeEmit records an alert when newMode escalates past oldMode. An
// escalation already alerted is not repeated until a later call observes
// the mode dropping back or a new week or month begins. It returns nil when
// no alert was emitted.
func (s *Sink) MaybeEmit(ctx context.Context, oldMode, newMode models.OperatingMode, amount float64) (*models.Alert, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if w := s.windowKey(s.clock()); w != s.window {
		s.window = w
		s.last = models.ModeNormal
	}

	if newMode <= oldMode {
		s.last = newMode
		return nil, nil
	}
	if newMode <= s.last {
		return nil, nil
	}

	msg := fmt.Sprintf("operating mode escalated from %s to %s at spend %.2f", oldMode, newMode, amount)
	a, err := s.emit(ctx, Severity(newMode), oldMode, newMode, msg, amount)
	if err != nil {
		return nil, err
	}
	s.last = newMode
	return a, nil
}

// windowKey identifies the calendar month and Monday-start week containing t.
func (s *Sink) windowKey(t time.Time) string {
	t = t.In(s.loc)
	day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, s.loc)
	week := day.AddDate(0, 0, -((int(day.Weekday()) + 6) % 7))
	return day.Format("2006-01") + "/" + week.Format(models.DateLayout)
}

// Emit records an alert unconditionally.
func (s *Sink) Emit(ctx context.Context, severity models.AlertSeverity, from, to models.OperatingMode, message string, amount float64) (*models.Alert, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.emit(ctx, severity, from, to, message, amount)
}

// List returns recent alerts, newest first.
func (s *Sink) List(ctx context.Context, limit int) ([]models.Alert, error) {
	return s.store.List(ctx, limit)
}

// Wait blocks until in-flight notifications finish.
func (s *Sink) Wait() {
	s.wg.Wait()
}

// emit must be called with s.mu held.
func (s *Sink) emit(ctx context.Context, severity models.AlertSeverity, from, to models.OperatingMode, message string, amount float64) (*models.Alert, error) {
	a := models.Alert{
		ID:               uuid.New().String(),
		Timestamp:        s.clock(),
		Severity:         severity,
		FromMode:         from,
		ToMode:           to,
		Message:          message,
		TriggeringAmount: amount,
	}
	if err := s.store.Append(ctx, a); err != nil {
		s.logger.Error("alert not recorded", zap.String("message", message), zap.Error(err))
		return nil, err
	}
	s.metrics.AlertEmitted(severity)
	s.logger.Warn("alert",
		zap.String("id", a.ID),
		zap.String("severity", string(severity)),
		zap.Stringer("from_mode", from),
		zap.Stringer("to_mode", to),
		zap.Float64("amount", amount),
		zap.String("message", message),
	)
	s.notify(a)
	return &a, nil
}

func (s *Sink) notify(a models.Alert) {
	if s.notifier == nil {
		return
	}
	if s.limiter != nil && !s.limiter.Allow() {
		s.logger.Warn("alert notification throttled", zap.String("id", a.ID))
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
		defer cancel()
		if err := s.notifier.Notify(ctx, a); err != nil {
			s.logger.Warn("alert notification failed", zap.String("id", a.ID), zap.Error(err))
		}
	}()
}
