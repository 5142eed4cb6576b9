package alert

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pario-ai/querygate/pkg/models"
)

func TestMaybeEmitEscalationOnly(t *testing.T) {
	s := NewSink(NewMemoryStore(), Options{})
	ctx := context.Background()

	a, err := s.MaybeEmit(ctx, models.ModeNormal, models.ModeCacheOnly, 91)
	if err != nil || a == nil {
		t.Fatalf("expected alert, got %v %v", a, err)
	}
	if a.Severity != models.SeverityWarning || a.FromMode != models.ModeNormal || a.ToMode != models.ModeCacheOnly {
		t.Errorf("unexpected alert %+v", a)
	}
	if a.ID == "" || a.TriggeringAmount != 91 {
		t.Errorf("unexpected alert %+v", a)
	}

	// Same escalation observed again is not repeated.
	if a, _ := s.MaybeEmit(ctx, models.ModeNormal, models.ModeCacheOnly, 92); a != nil {
		t.Error("duplicate escalation should not alert")
	}
	// Further escalation alerts.
	if a, _ := s.MaybeEmit(ctx, models.ModeCacheOnly, models.ModeSuspended, 100); a == nil || a.Severity != models.SeverityCritical {
		t.Errorf("expected critical alert, got %v", a)
	}
	// De-escalation never alerts.
	if a, _ := s.MaybeEmit(ctx, models.ModeSuspended, models.ModeNormal, 0); a != nil {
		t.Error("de-escalation should not alert")
	}
	// After dropping back, a new escalation alerts again.
	if a, _ := s.MaybeEmit(ctx, models.ModeNormal, models.ModeCacheOnly, 90); a == nil {
		t.Error("escalation after recovery should alert")
	}

	alerts, _ := s.List(ctx, 0)
	if len(alerts) != 3 {
		t.Errorf("recorded %d alerts, want 3", len(alerts))
	}
}

func TestMaybeEmitSteadyStateResetsAfterRollover(t *testing.T) {
	s := NewSink(NewMemoryStore(), Options{})
	ctx := context.Background()

	_, _ = s.MaybeEmit(ctx, models.ModeNormal, models.ModeSuspended, 100)
	// New month: evaluations before and after a query are both Normal.
	_, _ = s.MaybeEmit(ctx, models.ModeNormal, models.ModeNormal, 1)
	if a, _ := s.MaybeEmit(ctx, models.ModeNormal, models.ModeCacheOnly, 91); a == nil {
		t.Error("escalation in the new month should alert")
	}
}

func TestMaybeEmitWindowRollover(t *testing.T) {
	now := time.Date(2026, 3, 30, 12, 0, 0, 0, time.UTC)
	s := NewSink(NewMemoryStore(), Options{Clock: func() time.Time { return now }})
	ctx := context.Background()

	if a, _ := s.MaybeEmit(ctx, models.ModeNormal, models.ModeCacheOnly, 91); a == nil {
		t.Fatal("first escalation should alert")
	}
	if a, _ := s.MaybeEmit(ctx, models.ModeNormal, models.ModeCacheOnly, 92); a != nil {
		t.Error("repeat escalation in the same window should not alert")
	}

	// Thursday of the same week, new month.
	now = time.Date(2026, 4, 2, 9, 0, 0, 0, time.UTC)
	if a, _ := s.MaybeEmit(ctx, models.ModeNormal, models.ModeCacheOnly, 1); a == nil {
		t.Error("escalation in a new month should alert")
	}

	// Next Monday, same month.
	now = time.Date(2026, 4, 6, 9, 0, 0, 0, time.UTC)
	if a, _ := s.MaybeEmit(ctx, models.ModeNormal, models.ModeCacheOnly, 1); a == nil {
		t.Error("escalation in a new week should alert")
	}
}

func TestMaybeEmitConcurrentDedup(t *testing.T) {
	s := NewSink(NewMemoryStore(), Options{})
	ctx := context.Background()

	var emitted atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if a, _ := s.MaybeEmit(ctx, models.ModeNormal, models.ModeRestricted, 26); a != nil {
				emitted.Add(1)
			}
		}()
	}
	wg.Wait()
	if emitted.Load() != 1 {
		t.Errorf("emitted %d alerts, want exactly 1", emitted.Load())
	}
}

type failingStore struct{ MemoryStore }

func (*failingStore) Append(context.Context, models.Alert) error { return errors.New("read-only") }

func TestMaybeEmitStoreFailureRetries(t *testing.T) {
	s := NewSink(&failingStore{}, Options{})
	if _, err := s.MaybeEmit(context.Background(), models.ModeNormal, models.ModeCacheOnly, 91); err == nil {
		t.Fatal("expected store error")
	}
	s.store = NewMemoryStore()
	if a, _ := s.MaybeEmit(context.Background(), models.ModeNormal, models.ModeCacheOnly, 91); a == nil {
		t.Error("a failed alert should be retried on the next escalation")
	}
}

func TestNotifierThrottled(t *testing.T) {
	var delivered atomic.Int32
	s := NewSink(NewMemoryStore(), Options{
		Notifier: NotifierFunc(func(context.Context, models.Alert) error {
			delivered.Add(1)
			return nil
		}),
		NotifyPerMinute: 2,
	})
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		if _, err := s.Emit(ctx, models.SeverityCritical, models.ModeNormal, models.ModeNormal, "ledger save failed", 0); err != nil {
			t.Fatal(err)
		}
	}
	s.Wait()
	if delivered.Load() != 2 {
		t.Errorf("delivered %d notifications, want 2", delivered.Load())
	}
	alerts, _ := s.List(ctx, 10)
	if len(alerts) != 5 {
		t.Errorf("recorded %d alerts, want 5 regardless of throttling", len(alerts))
	}
}

func TestWebhookNotifier(t *testing.T) {
	var got models.Alert
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("content type = %q", r.Header.Get("Content-Type"))
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Error(err)
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	t.Cleanup(srv.Close)

	s := NewSink(NewMemoryStore(), Options{Notifier: &WebhookNotifier{URL: srv.URL}})
	a, err := s.MaybeEmit(context.Background(), models.ModeNormal, models.ModeRestricted, 30)
	if err != nil {
		t.Fatal(err)
	}
	s.Wait()
	if got.ID != a.ID || got.ToMode != models.ModeRestricted {
		t.Errorf("webhook received %+v", got)
	}
}

func TestWebhookNotifierError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	t.Cleanup(srv.Close)

	n := &WebhookNotifier{URL: srv.URL}
	if err := n.Notify(context.Background(), models.Alert{ID: "x"}); err == nil {
		t.Error("expected error for 500 response")
	}
}

func TestSQLiteStore(t *testing.T) {
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "alerts.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	ctx := context.Background()

	base := time.Date(2026, 3, 18, 12, 0, 0, 0, time.UTC)
	for i, to := range []models.OperatingMode{models.ModeCacheOnly, models.ModeRestricted, models.ModeSuspended} {
		err := s.Append(ctx, models.Alert{
			ID:               string(rune('a' + i)),
			Timestamp:        base.Add(time.Duration(i) * time.Minute),
			Severity:         Severity(to),
			FromMode:         to - 1,
			ToMode:           to,
			Message:          "escalated",
			TriggeringAmount: float64(90 + i),
		})
		if err != nil {
			t.Fatal(err)
		}
	}

	alerts, err := s.List(ctx, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(alerts) != 2 {
		t.Fatalf("got %d alerts, want 2", len(alerts))
	}
	if alerts[0].ID != "c" || alerts[0].ToMode != models.ModeSuspended || alerts[0].FromMode != models.ModeRestricted {
		t.Errorf("newest alert = %+v", alerts[0])
	}
	if !alerts[1].Timestamp.Equal(base.Add(time.Minute)) || alerts[1].Severity != models.SeverityCritical {
		t.Errorf("second alert = %+v", alerts[1])
	}

	if err := s.Append(ctx, models.Alert{ID: "c"}); err == nil {
		t.Error("duplicate alert IDs should be rejected")
	}
}

func TestMemoryStoreListOrder(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	for _, id := range []string{"1", "2", "3"} {
		_ = s.Append(ctx, models.Alert{ID: id})
	}
	alerts, _ := s.List(ctx, 2)
	if len(alerts) != 2 || alerts[0].ID != "3" || alerts[1].ID != "2" {
		t.Errorf("List = %+v", alerts)
	}
}
