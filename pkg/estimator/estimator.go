// Package estimator prices queries before they run.
package estimator

import (
	"context"

	"github.com/pario-ai/querygate/pkg/config"
	"github.com/pario-ai/querygate/pkg/logging"
	"github.com/pario-ai/querygate/pkg/metrics"
	"github.com/pario-ai/querygate/pkg/remote"
	"go.uber.org/zap"
)

// DryRunner is the subset of remote.Service the estimator needs.
type DryRunner interface {
	DryRun(ctx context.Context, query string) (int64, error)
}

var _ DryRunner = remote.Service(nil)

// Estimator converts dry-run byte counts into money.
type Estimator struct {
	remote  DryRunner
	pricing config.PricingConfig
	logger  *zap.Logger
	metrics *metrics.Metrics
}

// New creates an Estimator. logger and m may be nil.
func New(r DryRunner, pricing config.PricingConfig, logger *zap.Logger, m *metrics.Metrics) *Estimator {
	return &Estimator{
		remote:  r,
		pricing: pricing,
		logger:  logging.OrNop(logger).Named("estimator"),
		metrics: m,
	}
}

// Cost prices a scan of n bytes, honoring the minimum billed size.
func (e *Estimator) Cost(n int64) float64 {
	if n < e.pricing.MinBytesBilled {
		n = e.pricing.MinBytesBilled
	}
	return float64(n) / e.pricing.BytesPerUnit * e.pricing.PricePerUnit
}

// Estimate returns the expected cost of query. If the dry run fails the
// configured fallback cost is returned instead; only cancellation of ctx
// is reported as an error.
func (e *Estimator) Estimate(ctx context.Context, query string) (float64, error) {
	n, err := e.EstimateBytes(ctx, query)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return 0, ctxErr
		}
		e.logger.Warn("dry run failed, using fallback cost",
			zap.Error(err),
			zap.Float64("fallback_cost", e.pricing.FallbackCost),
		)
		e.metrics.EstimatorFallback()
		return e.pricing.FallbackCost, nil
	}
	cost := e.Cost(n)
	e.logger.Debug("estimated query cost", zap.Int64("bytes", n), zap.Float64("cost", cost))
	return cost, nil
}

// EstimateBytes returns the raw dry-run byte count.
func (e *Estimator) EstimateBytes(ctx context.Context, query string) (int64, error) {
	return e.remote.DryRun(ctx, query)
}
