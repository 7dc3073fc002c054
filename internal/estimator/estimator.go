// Package estimator predicts conversion wall time from the rates of recent
// conversions, measured in seconds of processing per minute of audio.
package estimator

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"bindery/internal/logging"
)

const historyTimeout = 2 * time.Second

// History stores the most recent conversion rates.
type History interface {
	Append(ctx context.Context, rate float64, limit int) error
	Rates(ctx context.Context) ([]float64, error)
}

// Estimator averages the recorded rates.
type Estimator struct {
	history     History
	limit       int
	defaultRate float64
	logger      *slog.Logger
	mu          sync.Mutex
}

// New wraps history. limit caps the number of kept rates and defaultRate is
// used until the first sample is recorded.
func New(history History, limit int, defaultRate float64, logger *slog.Logger) *Estimator {
	if logger == nil {
		logger = logging.NewNop()
	}
	if limit <= 0 {
		limit = 30
	}
	if defaultRate <= 0 {
		defaultRate = 10
	}
	return &Estimator{
		history:     history,
		limit:       limit,
		defaultRate: defaultRate,
		logger:      logging.NewComponentLogger(logger, "estimator"),
	}
}

// RecordSample stores the rate of one finished conversion. Zero or negative
// inputs are ignored.
func (e *Estimator) RecordSample(runtimeMinutes int, wallSeconds float64) {
	if e == nil || runtimeMinutes <= 0 || wallSeconds <= 0 {
		return
	}
	rate := wallSeconds / float64(runtimeMinutes)
	ctx, cancel := context.WithTimeout(context.Background(), historyTimeout)
	defer cancel()

	e.mu.Lock()
	err := e.history.Append(ctx, rate, e.limit)
	e.mu.Unlock()
	if err != nil {
		logging.WarnWithContext(e.logger, "conversion rate not recorded", "estimator_record_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check the estimator backend"),
			logging.String(logging.FieldImpact, "future estimates ignore this conversion"),
		)
		return
	}
	e.logger.Info("recorded conversion rate",
		logging.Float64("rate_sec_per_min", rate),
		logging.Int("runtime_min", runtimeMinutes),
	)
}

// Estimate returns the predicted conversion time in seconds, or 0 for a book
// without a runtime.
func (e *Estimator) Estimate(runtimeMinutes int) int {
	if e == nil || runtimeMinutes <= 0 {
		return 0
	}
	rate, samples := e.AverageRate()
	estimate := int(float64(runtimeMinutes) * rate)
	e.logger.Debug("estimated conversion time",
		logging.Int("runtime_min", runtimeMinutes),
		logging.Int("estimate_sec", estimate),
		logging.Float64("avg_rate", rate),
		logging.Int("samples", samples),
	)
	return estimate
}

// AverageRate returns the mean recorded rate and the number of samples it
// covers. Without history it returns the default rate and zero.
func (e *Estimator) AverageRate() (float64, int) {
	ctx, cancel := context.WithTimeout(context.Background(), historyTimeout)
	defer cancel()

	e.mu.Lock()
	rates, err := e.history.Rates(ctx)
	e.mu.Unlock()
	if err != nil {
		logging.WarnWithContext(e.logger, "conversion history unavailable", "estimator_read_failed",
			logging.Error(err),
			logging.String(logging.FieldImpact, "estimate uses the default rate"),
		)
		return e.defaultRate, 0
	}
	if len(rates) == 0 {
		return e.defaultRate, 0
	}
	var sum float64
	for _, rate := range rates {
		sum += rate
	}
	return sum / float64(len(rates)), len(rates)
}
