package memory

import (
	"context"
	"sync"

	"qrsafe/internal/domain"
)

// History implements ports.HistoryRepository. Entries are kept most recent
// first.
type History struct {
	mu      sync.RWMutex
	entries []domain.ScanHistoryEntry
}

func NewHistory() *History { return &History{} }

func (h *History) List(context.Context) ([]domain.ScanHistoryEntry, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]domain.ScanHistoryEntry, len(h.entries))
	copy(out, h.entries)
	return out, nil
}

func (h *History) Insert(_ context.Context, e domain.ScanHistoryEntry) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.entries = append([]domain.ScanHistoryEntry{e}, h.entries...)
	return nil
}

func (h *History) Update(_ context.Context, e domain.ScanHistoryEntry) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	for i := range h.entries {
		if h.entries[i].ID == e.ID {
			h.entries[i] = e
			return nil
		}
	}
	return domain.ErrNotFound
}

func (h *History) Delete(_ context.Context, ids ...string) error {
	drop := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		drop[id] = struct{}{}
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	kept := h.entries[:0]
	for _, e := range h.entries {
		if _, ok := drop[e.ID]; !ok {
			kept = append(kept, e)
		}
	}
	h.entries = kept
	return nil
}

func (h *History) Clear(context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.entries = nil
	return nil
}
