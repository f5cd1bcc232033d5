package council

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
)

const (
	weightDefault = 1.0
	weightMin     = 0.1
	weightMax     = 2.5

	fillRewardDelta  = 0.05
	fillPenaltyDelta = -0.05
)

// Tracker keeps per-strategy adaptive weights. Weights scale a strategy's
// influence on blended proposals and are clamped to [0.1, 2.5] so no single
// strategy can be silenced or dominate outright.
type Tracker struct {
	mu      sync.RWMutex
	weights map[string]float64
}

// NewTracker creates a tracker with every listed strategy at weight 1.
func NewTracker(strategies ...string) *Tracker {
	weights := make(map[string]float64, len(strategies))
	for _, name := range strategies {
		weights[name] = weightDefault
	}
	return &Tracker{weights: weights}
}

// Weight returns the strategy's current weight, defaulting to 1.
func (t *Tracker) Weight(strategy string) float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if w, ok := t.weights[strategy]; ok {
		return w
	}
	return weightDefault
}

// Adjust shifts the strategy's weight by delta and returns the new value.
func (t *Tracker) Adjust(strategy, reason string, delta float64) float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	w, ok := t.weights[strategy]
	if !ok {
		w = weightDefault
	}
	w += delta
	if w < weightMin {
		w = weightMin
	}
	if w > weightMax {
		w = weightMax
	}
	t.weights[strategy] = w
	return w
}

// Weights returns a copy of all tracked weights.
func (t *Tracker) Weights() map[string]float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make(map[string]float64, len(t.weights))
	for name, w := range t.weights {
		out[name] = w
	}
	return out
}

// Save writes the weights to disk as JSON.
func (t *Tracker) Save(path string) error {
	data, err := json.MarshalIndent(t.Weights(), "", "  ")
	if err != nil {
		return err
	}
	dir := filepath.Dir(path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return os.WriteFile(path, data, 0o644)
}

// Load replaces the weights from disk. A missing file is not an error.
func (t *Tracker) Load(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	loaded := make(map[string]float64)
	if err := json.Unmarshal(data, &loaded); err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	for name, w := range loaded {
		if w < weightMin {
			w = weightMin
		}
		if w > weightMax {
			w = weightMax
		}
		t.weights[name] = w
	}
	return nil
}
