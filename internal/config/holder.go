package config

import (
	"sync"
	"sync/atomic"
)

// Holder publishes the current configuration to long-lived services. Readers
// call Current for every decision so a reload applies to the next job.
type Holder struct {
	current atomic.Pointer[Config]

	mu        sync.Mutex
	listeners []func(*Config)
}

// NewHolder wraps cfg. A nil cfg is replaced by Default.
func NewHolder(cfg *Config) *Holder {
	if cfg == nil {
		def := Default()
		cfg = &def
	}
	h := &Holder{}
	h.current.Store(cfg)
	return h
}

// Current returns the most recently published configuration.
func (h *Holder) Current() *Config {
	return h.current.Load()
}

// Replace publishes cfg and notifies listeners registered with OnChange.
func (h *Holder) Replace(cfg *Config) {
	if cfg == nil {
		return
	}
	h.current.Store(cfg)
	h.mu.Lock()
	listeners := append([]func(*Config){}, h.listeners...)
	h.mu.Unlock()
	for _, fn := range listeners {
		fn(cfg)
	}
}

// OnChange registers fn to be called after each Replace.
func (h *Holder) OnChange(fn func(*Config)) {
	if fn == nil {
		return
	}
	h.mu.Lock()
	h.listeners = append(h.listeners, fn)
	h.mu.Unlock()
}
