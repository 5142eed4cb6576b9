// Package gateway executes queries under budget policy.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/pario-ai/querygate/pkg/alert"
	"github.com/pario-ai/querygate/pkg/cache"
	"github.com/pario-ai/querygate/pkg/estimator"
	"github.com/pario-ai/querygate/pkg/ledger"
	"github.com/pario-ai/querygate/pkg/logging"
	"github.com/pario-ai/querygate/pkg/metrics"
	"github.com/pario-ai/querygate/pkg/models"
	"github.com/pario-ai/querygate/pkg/policy"
	"github.com/pario-ai/querygate/pkg/remote"
)

var tracer = otel.Tracer("querygate/gateway")

// Deps are the collaborators of a Gateway. Metrics and Logger may be nil.
type Deps struct {
	Remote    remote.Service
	Estimator *estimator.Estimator
	Ledger    *ledger.Ledger
	Engine    *policy.Engine
	Cache     cache.Store
	Alerts    *alert.Sink
	Metrics   *metrics.Metrics
	Logger    *zap.Logger
}

// Gateway is the query executor.
type Gateway struct {
	remote    remote.Service
	estimator *estimator.Estimator
	ledger    *ledger.Ledger
	engine    *policy.Engine
	cache     cache.Store
	alerts    *alert.Sink
	metrics   *metrics.Metrics
	logger    *zap.Logger
	group     singleflight.Group
}

// New creates a Gateway.
func New(d Deps) (*Gateway, error) {
	switch {
	case d.Remote == nil:
		return nil, errors.New("gateway: remote service is required")
	case d.Estimator == nil:
		return nil, errors.New("gateway: estimator is required")
	case d.Ledger == nil:
		return nil, errors.New("gateway: ledger is required")
	case d.Engine == nil:
		return nil, errors.New("gateway: policy engine is required")
	case d.Cache == nil:
		return nil, errors.New("gateway: cache is required")
	case d.Alerts == nil:
		return nil, errors.New("gateway: alert sink is required")
	}
	return &Gateway{
		remote:    d.Remote,
		estimator: d.Estimator,
		ledger:    d.Ledger,
		engine:    d.Engine,
		cache:     d.Cache,
		alerts:    d.Alerts,
		metrics:   d.Metrics,
		logger:    logging.OrNop(d.Logger).Named("gateway"),
	}, nil
}

// Execute runs query if the current operating mode allows it.
//
// Suspended and Restricted modes reject with a *PolicyError. CacheOnly
// serves cached results and rejects misses. Normal mode estimates the cost,
// runs the query remotely, records the estimate in the ledger and caches the
// result. Concurrent identical queries in Normal mode share one execution,
// which runs to completion even if the callers waiting on it give up.
func (g *Gateway) Execute(ctx context.Context, query string) (*models.QueryResult, error) {
	if strings.TrimSpace(query) == "" {
		return nil, ErrEmptyQuery
	}

	ctx, span := tracer.Start(ctx, "gateway.Execute")
	defer span.End()

	key := cache.Key(query)
	eval := g.engine.Evaluate(ctx, g.engine.Now())
	g.metrics.ObserveSpend(eval.Daily, eval.Weekly, eval.Monthly, eval.Mode)
	span.SetAttributes(
		attribute.String("querygate.query_hash", key),
		attribute.String("querygate.mode", eval.Mode.String()),
		attribute.Bool("querygate.overridden", eval.Overridden),
	)

	switch eval.Mode {
	case models.ModeSuspended:
		return nil, g.reject(span, eval, ErrServiceSuspended)
	case models.ModeRestricted:
		return nil, g.reject(span, eval, ErrQueryRestricted)
	case models.ModeCacheOnly:
		if res, ok := g.fromCache(ctx, key); ok {
			g.metrics.QueryHandled(eval.Mode, "cache_hit")
			return res, nil
		}
		return nil, g.reject(span, eval, ErrCacheOnlyMiss)
	}

	// The shared execution outlives the caller that started it.
	flight := context.WithoutCancel(ctx)
	ch := g.group.DoChan(key, func() (any, error) {
		return g.executeRemote(flight, query, key, eval)
	})

	var r singleflight.Result
	select {
	case r = <-ch:
	case <-ctx.Done():
		r.Err = ctx.Err()
	}
	if r.Err != nil {
		span.RecordError(r.Err)
		span.SetStatus(codes.Error, r.Err.Error())
		g.metrics.QueryHandled(eval.Mode, "error")
		return nil, r.Err
	}
	res := *r.Val.(*models.QueryResult)
	span.SetAttributes(
		attribute.Float64("querygate.estimated_cost", res.EstimatedCost),
		attribute.Bool("querygate.shared", r.Shared),
	)
	g.metrics.QueryHandled(eval.Mode, "ok")
	return &res, nil
}

func (g *Gateway) reject(span trace.Span, eval policy.Evaluation, kind error) error {
	err := &PolicyError{
		Kind:  kind,
		Mode:  eval.Mode,
		Scope: eval.Scope,
		Limit: eval.Limit,
		Spent: eval.Spent,
	}
	span.SetStatus(codes.Error, err.Error())
	g.metrics.QueryHandled(eval.Mode, "rejected")
	g.logger.Info("query rejected",
		zap.Stringer("mode", eval.Mode),
		zap.String("scope", string(eval.Scope)),
		zap.Float64("limit", eval.Limit),
		zap.Float64("spent", eval.Spent),
	)
	return err
}

func (g *Gateway) fromCache(ctx context.Context, key string) (*models.QueryResult, bool) {
	entry, ok := g.cache.Get(ctx, key)
	g.metrics.CacheLookup(ok)
	if !ok {
		return nil, false
	}
	var res models.QueryResult
	if err := json.Unmarshal(entry.Payload, &res); err != nil {
		g.logger.Warn("cached result unreadable", zap.String("query_hash", key), zap.Error(err))
		return nil, false
	}
	res.Source = models.SourceCache
	cachedAt := entry.CreatedAt
	res.CachedAt = &cachedAt
	return &res, true
}

func (g *Gateway) executeRemote(ctx context.Context, query, key string, before policy.Evaluation) (*models.QueryResult, error) {
	cost, err := g.estimator.Estimate(ctx, query)
	if err != nil {
		return nil, err
	}
	g.logger.Info("executing query",
		zap.String("query_hash", key),
		zap.Float64("estimated_cost", cost),
		zap.Stringer("mode", before.Mode),
	)

	start := g.engine.Now()
	began := time.Now()
	res, err := g.remote.Execute(ctx, query)
	elapsed := time.Since(began)
	g.metrics.RemoteExecuted(elapsed.Seconds())
	if err != nil {
		g.logger.Warn("remote execution failed", zap.String("query_hash", key), zap.Error(err))
		return nil, &RemoteError{Err: err}
	}
	res.Source = models.SourceRemote
	res.QueryHash = key
	res.EstimatedCost = cost
	res.ExecutionTime = elapsed

	// The query ran and was billed; finish bookkeeping even if the caller leaves.
	bg := context.WithoutCancel(ctx)

	if err := g.ledger.Record(bg, start, cost, elapsed, key); err != nil {
		g.ledgerSaveFailed(bg, key, cost, err)
	} else {
		g.metrics.CostRecorded(cost)
	}

	if payload, err := json.Marshal(res); err != nil {
		g.logger.Warn("result not cacheable", zap.String("query_hash", key), zap.Error(err))
	} else if err := g.cache.Put(bg, key, payload); err != nil {
		g.logger.Warn("cache put failed", zap.String("query_hash", key), zap.Error(err))
	}

	after := g.engine.Evaluate(bg, g.engine.Now())
	g.metrics.ObserveSpend(after.Daily, after.Weekly, after.Monthly, after.Mode)
	amount := after.Spent
	if after.Scope == models.ScopeNone {
		amount = after.Monthly
	}
	if _, err := g.alerts.MaybeEmit(bg, before.Natural, after.Natural, amount); err != nil {
		g.logger.Error("escalation alert not recorded", zap.Error(err))
	}
	return res, nil
}

func (g *Gateway) ledgerSaveFailed(ctx context.Context, key string, cost float64, err error) {
	g.metrics.LedgerSaveFailed()
	g.logger.Error("usage not recorded",
		zap.String("query_hash", key),
		zap.Float64("cost", cost),
		zap.Error(err),
	)
	mode := g.engine.Evaluate(ctx, g.engine.Now()).Natural
	msg := fmt.Sprintf("usage ledger save failed; %.4f of spend unrecorded: %v", cost, err)
	if _, aerr := g.alerts.Emit(ctx, models.SeverityCritical, mode, mode, msg, cost); aerr != nil {
		g.logger.Error("ledger failure alert not recorded", zap.Error(aerr))
	}
}
