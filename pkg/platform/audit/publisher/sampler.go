package publisher

import (
	"math/rand/v2"
	"sync"

	audit "concytec/pkg/platform/audit"
)

// Sampler keeps a fraction of high-volume operations events, such as
// shadow copy refreshes from a bulk harvest.
type Sampler struct {
	mu          sync.RWMutex
	defaultRate float64
	rates       map[string]float64
}

// NewSampler keeps events with probability defaultRate, clamped to [0, 1].
func NewSampler(defaultRate float64) *Sampler {
	return &Sampler{
		defaultRate: clampRate(defaultRate),
		rates:       make(map[string]float64),
	}
}

// ShouldSample reports whether an event with this action is kept.
func (s *Sampler) ShouldSample(action string) bool {
	s.mu.RLock()
	rate, ok := s.rates[action]
	if !ok {
		rate = s.defaultRate
	}
	s.mu.RUnlock()

	switch rate {
	case 0:
		return false
	case 1:
		return true
	}
	return rand.Float64() < rate //nolint:gosec // sampling doesn't need crypto rand
}

// SetRate overrides the rate for one event.
func (s *Sampler) SetRate(event audit.AuditEvent, rate float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rates[string(event)] = clampRate(rate)
}

func clampRate(rate float64) float64 {
	return min(max(rate, 0), 1)
}
