package community

import (
	"sync"
	"time"

	"qrsafe/internal/domain"
)

// Limits bounds how fast a single voter may vote.
type Limits struct {
	MaxVotes      int           // accepted votes per VoteWindow
	VoteWindow    time.Duration
	AbuseAttempts int           // attempts per AbuseWindow above which the voter is flagged
	AbuseWindow   time.Duration
}

var DefaultLimits = Limits{
	MaxVotes:      3,
	VoteWindow:    5 * time.Minute,
	AbuseAttempts: 10,
	AbuseWindow:   time.Minute,
}

// voterWindow tracks per-voter attempt and acceptance timestamps over
// sliding windows.
type voterWindow struct {
	mu       sync.Mutex
	limits   Limits
	attempts map[string][]time.Time
	accepted map[string][]time.Time
}

func newVoterWindow(l Limits) *voterWindow {
	return &voterWindow{
		limits:   l,
		attempts: make(map[string][]time.Time),
		accepted: make(map[string][]time.Time),
	}
}

// admit records an attempt and, when the voter is within both limits,
// reserves an accepted slot at now. The abuse check runs first so a flagged
// voter never consumes rate-limit slots.
func (w *voterWindow) admit(voterID string, now time.Time) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	att := append(trim(w.attempts[voterID], now.Add(-w.limits.AbuseWindow)), now)
	w.attempts[voterID] = att
	if len(att) > w.limits.AbuseAttempts {
		return domain.ErrAbuseDetected
	}

	acc := trim(w.accepted[voterID], now.Add(-w.limits.VoteWindow))
	if len(acc) >= w.limits.MaxVotes {
		w.accepted[voterID] = acc
		return domain.ErrRateLimited
	}
	w.accepted[voterID] = append(acc, now)
	return nil
}

// release gives back a slot reserved at t when the vote was not applied.
func (w *voterWindow) release(voterID string, t time.Time) {
	w.mu.Lock()
	defer w.mu.Unlock()
	acc := w.accepted[voterID]
	for i := len(acc) - 1; i >= 0; i-- {
		if acc[i].Equal(t) {
			w.accepted[voterID] = append(acc[:i], acc[i+1:]...)
			return
		}
	}
}

func (w *voterWindow) flagged(voterID string, now time.Time) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	att := trim(w.attempts[voterID], now.Add(-w.limits.AbuseWindow))
	w.attempts[voterID] = att
	return len(att) > w.limits.AbuseAttempts
}

// trim drops timestamps at or before cutoff. ts is sorted ascending.
func trim(ts []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(ts) && !ts[i].After(cutoff) {
		i++
	}
	if i == len(ts) {
		return ts[:0]
	}
	return ts[i:]
}
