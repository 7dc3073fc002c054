package estimator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"

	"bindery/internal/fileutil"
	"bindery/internal/logging"
)

type rateCache struct {
	ConversionRates []float64 `json:"conversion_rates"`
}

// FileHistory keeps rates in a small JSON document.
type FileHistory struct {
	path   string
	logger *slog.Logger
}

// NewFileHistory stores rates at path.
func NewFileHistory(path string, logger *slog.Logger) *FileHistory {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &FileHistory{path: path, logger: logger}
}

// Path returns the cache file location.
func (h *FileHistory) Path() string { return h.path }

// Append adds rate and trims the history to the newest limit entries.
func (h *FileHistory) Append(_ context.Context, rate float64, limit int) error {
	cache := h.load()
	cache.ConversionRates = append(cache.ConversionRates, rate)
	if limit > 0 && len(cache.ConversionRates) > limit {
		cache.ConversionRates = cache.ConversionRates[len(cache.ConversionRates)-limit:]
	}
	return h.save(cache)
}

// Rates returns the stored rates, oldest first. An unreadable cache counts as
// empty.
func (h *FileHistory) Rates(context.Context) ([]float64, error) {
	return h.load().ConversionRates, nil
}

func (h *FileHistory) load() rateCache {
	var cache rateCache
	data, err := os.ReadFile(h.path)
	if errors.Is(err, fs.ErrNotExist) {
		return cache
	}
	if err == nil {
		err = json.Unmarshal(data, &cache)
	}
	if err != nil {
		logging.WarnWithContext(h.logger, "rate cache unreadable, starting fresh", "estimator_cache_invalid",
			logging.String("path", h.path),
			logging.Error(err),
			logging.String(logging.FieldImpact, "previous conversion history is ignored"),
		)
		return rateCache{}
	}
	return cache
}

func (h *FileHistory) save(cache rateCache) error {
	if cache.ConversionRates == nil {
		cache.ConversionRates = []float64{}
	}
	data, err := json.Marshal(cache)
	if err != nil {
		return fmt.Errorf("encode rate cache: %w", err)
	}
	if err := fileutil.WriteFileAtomic(h.path, data, 0o644); err != nil {
		return fmt.Errorf("write rate cache: %w", err)
	}
	return nil
}
