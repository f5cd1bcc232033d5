package ledger

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"time"
)

// Snapshot captures the full book at a point in time for restart recovery.
type Snapshot struct {
	Timestamp   time.Time  `json:"timestamp"`
	Cycle       uint64     `json:"cycle"`
	Cash        float64    `json:"cash"`
	RealizedPnL float64    `json:"realizedPnl"`
	Positions   []Position `json:"positions"`
	AppliedIDs  []string   `json:"appliedIds"`
	History     []NAVPoint `json:"history"`
}

// Snapshot builds a snapshot from the current book.
func (l *Ledger) Snapshot(cycle uint64) Snapshot {
	l.mu.RLock()
	defer l.mu.RUnlock()

	positions := make([]Position, 0, len(l.positions))
	for _, pos := range l.positions {
		positions = append(positions, *pos)
	}
	sort.Slice(positions, func(i, j int) bool {
		return positions[i].Symbol < positions[j].Symbol
	})
	applied := make([]string, 0, len(l.applied))
	for id := range l.applied {
		applied = append(applied, id)
	}
	sort.Strings(applied)
	history := make([]NAVPoint, len(l.history))
	copy(history, l.history)

	return Snapshot{
		Timestamp:   time.Now().UTC(),
		Cycle:       cycle,
		Cash:        l.cash,
		RealizedPnL: l.realized,
		Positions:   positions,
		AppliedIDs:  applied,
		History:     history,
	}
}

// Restore replaces the book with the snapshot contents.
func (l *Ledger) Restore(snap Snapshot) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.cash = snap.Cash
	l.realized = snap.RealizedPnL
	l.positions = make(map[string]*Position, len(snap.Positions))
	for _, pos := range snap.Positions {
		p := pos
		l.positions[p.Symbol] = &p
	}
	l.applied = make(map[string]struct{}, len(snap.AppliedIDs))
	for _, id := range snap.AppliedIDs {
		l.applied[id] = struct{}{}
	}
	l.history = make([]NAVPoint, len(snap.History))
	copy(l.history, snap.History)
}

// WriteSnapshot writes a snapshot to disk as JSON.
func WriteSnapshot(path string, snap Snapshot) error {
	data, err := json.MarshalIndent(snap, "", "  ")
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

// ReadSnapshot loads a snapshot from disk.
func ReadSnapshot(path string) (Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Snapshot{}, err
	}
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return Snapshot{}, err
	}
	return snap, nil
}
