package service

import (
	"sort"
	"sync"
	"time"

	"github.com/hugo-lorenzo-mato/assert-lsp/internal/core"
)

// HealthState is the coarse health of an adapter.
type HealthState string

const (
	HealthUnknown HealthState = "unknown"
	HealthOK      HealthState = "ok"
	HealthFailing HealthState = "failing"
)

// Health describes the latest known state of one adapter.
type Health struct {
	Adapter     string           `json:"adapter"`
	State       HealthState      `json:"state"`
	Failure     core.FailureKind `json:"failure,omitempty"`
	Message     string           `json:"message,omitempty"`
	Since       time.Time        `json:"since"`
	LastSuccess time.Time        `json:"last_success,omitempty"`
}

// AdapterStatus tracks adapter health across invocations.
type AdapterStatus struct {
	mu      sync.RWMutex
	entries map[string]*Health
	now     func() time.Time
}

// NewAdapterStatus creates an empty tracker.
func NewAdapterStatus() *AdapterStatus {
	return &AdapterStatus{
		entries: make(map[string]*Health),
		now:     time.Now,
	}
}

// RecordSuccess marks adapter healthy. When it was failing, recovered is
// true and failingFor is how long the failure lasted.
func (s *AdapterStatus) RecordSuccess(adapter string) (recovered bool, failingFor time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	h := s.entry(adapter)
	if h.State == HealthFailing {
		recovered = true
		failingFor = now.Sub(h.Since)
	}
	if h.State != HealthOK {
		h.Since = now
	}
	h.State = HealthOK
	h.Failure = core.FailureNone
	h.Message = ""
	h.LastSuccess = now
	return recovered, failingFor
}

// RecordFailure marks adapter failing. It reports whether this changed the
// adapter's state or failure classification.
func (s *AdapterStatus) RecordFailure(adapter string, kind core.FailureKind, message string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	h := s.entry(adapter)
	changed := h.State != HealthFailing || h.Failure != kind
	if h.State != HealthFailing {
		h.Since = s.now()
	}
	h.State = HealthFailing
	h.Failure = kind
	h.Message = message
	return changed
}

// Get returns a copy of adapter's health.
func (s *AdapterStatus) Get(adapter string) Health {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if h, ok := s.entries[adapter]; ok {
		return *h
	}
	return Health{Adapter: adapter, State: HealthUnknown}
}

// All returns every tracked adapter, sorted by name.
func (s *AdapterStatus) All() []Health {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Health, 0, len(s.entries))
	for _, h := range s.entries {
		out = append(out, *h)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Adapter < out[j].Adapter })
	return out
}

// Failing returns the adapters currently failing, sorted by name.
func (s *AdapterStatus) Failing() []Health {
	var out []Health
	for _, h := range s.All() {
		if h.State == HealthFailing {
			out = append(out, h)
		}
	}
	return out
}

// Forget drops adapter, used when a reload removes it.
func (s *AdapterStatus) Forget(adapter string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, adapter)
}

func (s *AdapterStatus) entry(adapter string) *Health {
	h, ok := s.entries[adapter]
	if !ok {
		h = &Health{Adapter: adapter, State: HealthUnknown}
		s.entries[adapter] = h
	}
	return h
}
