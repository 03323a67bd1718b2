// Package feed is the in-process publish/subscribe channel for rating
// updates. Transports (websocket, history refresh) subscribe to a Hub.
package feed

import (
	"sync"

	"qrsafe/internal/domain"
	"qrsafe/internal/observability"
)

const TypeRatingUpdate = "rating_update"

// Update is the message pushed whenever an aggregate changes.
type Update struct {
	Type           string                 `json:"type"`
	IdentifierHash string                 `json:"identifierHash"`
	Rating         domain.CommunityRating `json:"rating"`
}

// NewUpdate builds a rating_update message for r.
func NewUpdate(r domain.CommunityRating) Update {
	return Update{Type: TypeRatingUpdate, IdentifierHash: r.IdentifierHash, Rating: r}
}

// Hub fans updates out to subscribers. Publishing never blocks: a
// subscriber whose buffer is full misses the update and catches up on the
// next one for that hash.
type Hub struct {
	mu      sync.RWMutex
	subs    map[int]chan Update
	next    int
	buffer  int
	metrics *observability.Metrics
}

func NewHub(buffer int, m *observability.Metrics) *Hub {
	if buffer < 1 {
		buffer = 16
	}
	return &Hub{subs: make(map[int]chan Update), buffer: buffer, metrics: m}
}

// Subscribe returns a channel of updates and a cancel func that closes it.
func (h *Hub) Subscribe() (<-chan Update, func()) {
	ch := make(chan Update, h.buffer)
	h.mu.Lock()
	id := h.next
	h.next++
	h.subs[id] = ch
	h.mu.Unlock()
	h.metrics.AddLiveSubscribers(1)

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, id)
			h.mu.Unlock()
			close(ch)
			h.metrics.AddLiveSubscribers(-1)
		})
	}
}

// Publish delivers r to every subscriber.
func (h *Hub) Publish(r domain.CommunityRating) {
	u := NewUpdate(r)
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, ch := range h.subs {
		select {
		case ch <- u:
		default:
		}
	}
}

// Len returns the number of active subscribers.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Merger is the client-side view of live ratings, merged by hash.
type Merger struct {
	mu      sync.Mutex
	ratings map[string]domain.CommunityRating
}

func NewMerger() *Merger { return &Merger{ratings: make(map[string]domain.CommunityRating)} }

// Apply merges u and reports whether it was kept. Updates older than the
// held lastUpdated are discarded.
func (m *Merger) Apply(u Update) bool {
	if u.Type != TypeRatingUpdate || u.IdentifierHash == "" {
		return false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if cur, ok := m.ratings[u.IdentifierHash]; ok && u.Rating.LastUpdated.Before(cur.LastUpdated) {
		return false
	}
	m.ratings[u.IdentifierHash] = u.Rating
	return true
}

func (m *Merger) Get(hash string) (domain.CommunityRating, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.ratings[hash]
	return r, ok
}
