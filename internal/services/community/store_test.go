package community

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"qrsafe/internal/adapters/memory"
	"qrsafe/internal/domain"
)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type recorder struct {
	mu      sync.Mutex
	updates []domain.CommunityRating
}

func (r *recorder) Publish(c domain.CommunityRating) {
	r.mu.Lock()
	r.updates = append(r.updates, c)
	r.mu.Unlock()
}

func newStore(t *testing.T, opts ...Option) (*Store, *clock, *recorder) {
	t.Helper()
	c := &clock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	rec := &recorder{}
	opts = append([]Option{WithClock(c.Now), WithPublisher(rec)}, opts...)
	return NewStore(memory.NewRatings(), opts...), c, rec
}

func TestSubmitAndEditVote(t *testing.T) {
	ctx := context.Background()
	s, _, rec := newStore(t)

	r, err := s.SubmitVote(ctx, "alice", "h", domain.VerdictSafe)
	require.NoError(t, err)
	assert.Equal(t, 1, r.SafeCount)
	assert.Equal(t, 1, r.TotalCount)
	assert.EqualValues(t, 1, r.Version)

	r, err = s.SubmitVote(ctx, "alice", "h", domain.VerdictSafe)
	require.NoError(t, err)
	assert.Equal(t, 1, r.TotalCount, "re-submitting the same verdict must not double count")
	assert.EqualValues(t, 1, r.Version)

	r, err = s.SubmitVote(ctx, "alice", "h", domain.VerdictUnsafe)
	require.NoError(t, err)
	assert.Equal(t, 0, r.SafeCount)
	assert.Equal(t, 1, r.UnsafeCount)
	assert.Equal(t, 1, r.TotalCount)
	assert.Zero(t, r.Confidence)
	assert.EqualValues(t, 2, r.Version)

	assert.Len(t, rec.updates, 2)
}

func TestRetractVote(t *testing.T) {
	ctx := context.Background()
	s, c, _ := newStore(t)

	_, err := s.SubmitVote(ctx, "alice", "h", domain.VerdictSafe)
	require.NoError(t, err)
	_, err = s.SubmitVote(ctx, "bob", "h", domain.VerdictUnsafe)
	require.NoError(t, err)

	c.Advance(time.Second)
	r, err := s.RetractVote(ctx, "alice", "h")
	require.NoError(t, err)
	assert.Equal(t, 0, r.SafeCount)
	assert.Equal(t, 1, r.TotalCount)
	assert.EqualValues(t, 3, r.Version)

	again, err := s.RetractVote(ctx, "alice", "h")
	require.NoError(t, err)
	assert.Equal(t, r, again, "retracting a missing vote is a no-op")

	none, err := s.RetractVote(ctx, "carol", "other")
	require.NoError(t, err)
	assert.Equal(t, "other", none.IdentifierHash)
	assert.Zero(t, none.TotalCount)
}

func TestCountsStayConsistent(t *testing.T) {
	ctx := context.Background()
	s, c, _ := newStore(t)
	steps := []struct {
		voter   string
		verdict domain.Verdict
	}{
		{"a", domain.VerdictSafe}, {"b", domain.VerdictSafe}, {"c", domain.VerdictUnsafe},
		{"a", domain.VerdictUnsafe}, {"d", domain.VerdictSafe}, {"b", domain.VerdictSafe},
	}
	for _, st := range steps {
		c.Advance(time.Second)
		r, err := s.SubmitVote(ctx, st.voter, "h", st.verdict)
		require.NoError(t, err)
		assert.Equal(t, r.SafeCount+r.UnsafeCount, r.TotalCount)
		assert.InDelta(t, float64(r.SafeCount)/float64(r.TotalCount), r.Confidence, 1e-12)
	}
	r, found, err := s.GetRating(ctx, "h")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, 2, r.SafeCount)
	assert.Equal(t, 2, r.UnsafeCount)
	assert.True(t, r.Meaningful())
}

func TestRateLimitSlidingWindow(t *testing.T) {
	ctx := context.Background()
	s, c, _ := newStore(t)

	for i := 0; i < 3; i++ {
		_, err := s.SubmitVote(ctx, "alice", fmt.Sprintf("h%d", i), domain.VerdictSafe)
		require.NoError(t, err)
		c.Advance(time.Second)
	}
	_, err := s.SubmitVote(ctx, "alice", "h3", domain.VerdictSafe)
	assert.ErrorIs(t, err, domain.ErrRateLimited)
	_, found, _ := s.GetRating(ctx, "h3")
	assert.False(t, found, "a rate limited vote leaves state unchanged")

	_, err = s.SubmitVote(ctx, "bob", "h3", domain.VerdictSafe)
	assert.NoError(t, err, "limits are per voter")

	c.Advance(5 * time.Minute)
	_, err = s.SubmitVote(ctx, "alice", "h3", domain.VerdictSafe)
	assert.NoError(t, err)
}

func TestAbuseDetection(t *testing.T) {
	ctx := context.Background()
	s, c, _ := newStore(t)

	var last error
	for i := 0; i < 11; i++ {
		_, last = s.SubmitVote(ctx, "spammer", fmt.Sprintf("h%d", i), domain.VerdictUnsafe)
		c.Advance(time.Second)
	}
	assert.ErrorIs(t, last, domain.ErrAbuseDetected)
	assert.True(t, s.Flagged("spammer"))
	assert.False(t, s.Flagged("alice"))

	c.Advance(time.Minute)
	assert.False(t, s.Flagged("spammer"))
	c.Advance(5 * time.Minute)
	_, err := s.SubmitVote(ctx, "spammer", "later", domain.VerdictSafe)
	assert.NoError(t, err)
}

func TestInvalidInput(t *testing.T) {
	ctx := context.Background()
	s, _, _ := newStore(t)
	_, err := s.SubmitVote(ctx, "alice", "h", domain.VerdictUnknown)
	assert.ErrorIs(t, err, domain.ErrInvalidVerdict)
	_, err = s.SubmitVote(ctx, "", "h", domain.VerdictSafe)
	assert.ErrorIs(t, err, domain.ErrEmptyInput)
}

func TestSubmitVoteAtKeepsNewerVote(t *testing.T) {
	ctx := context.Background()
	s, c, rec := newStore(t)
	t0 := c.Now()

	_, err := s.SubmitVoteAt(ctx, domain.Vote{VoterID: "a", IdentifierHash: "h", Verdict: domain.VerdictSafe, Timestamp: t0})
	require.NoError(t, err)
	r, err := s.SubmitVoteAt(ctx, domain.Vote{VoterID: "a", IdentifierHash: "h", Verdict: domain.VerdictUnsafe, Timestamp: t0.Add(-time.Minute)})
	require.NoError(t, err)
	assert.Equal(t, 1, r.SafeCount, "an older replayed vote loses")
	assert.Len(t, rec.updates, 1)

	r, err = s.RetractVoteAt(ctx, "a", "h", t0.Add(-time.Second))
	require.NoError(t, err)
	assert.Equal(t, 1, r.TotalCount, "a retraction older than the vote is ignored")
}

func TestConcurrentVotesSameHash(t *testing.T) {
	ctx := context.Background()
	s, _, _ := newStore(t)

	var wg sync.WaitGroup
	for i := 0; i < 40; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v := domain.VerdictSafe
			if i%2 == 1 {
				v = domain.VerdictUnsafe
			}
			_, err := s.SubmitVote(ctx, fmt.Sprintf("voter-%d", i), "h", v)
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	r, _, err := s.GetRating(ctx, "h")
	require.NoError(t, err)
	assert.Equal(t, 20, r.SafeCount)
	assert.Equal(t, 20, r.UnsafeCount)
	assert.EqualValues(t, 40, r.Version)
}

func TestWeightedConfidence(t *testing.T) {
	now := time.Date(2026, 3, 8, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, 1.0, VoteWeight(0))
	assert.InDelta(t, 0.5, VoteWeight(RecencyHorizon/2), 1e-9)
	assert.Equal(t, MinVoteWeight, VoteWeight(30*24*time.Hour))

	votes := []domain.Vote{
		{Verdict: domain.VerdictSafe, Timestamp: now},
		{Verdict: domain.VerdictUnsafe, Timestamp: now.Add(-RecencyHorizon)},
	}
	assert.InDelta(t, 1/1.1, WeightedConfidence(votes, now), 1e-9)
	assert.Zero(t, WeightedConfidence(nil, now))
}

func TestGetRatingFillsWeightedConfidence(t *testing.T) {
	ctx := context.Background()
	s, c, _ := newStore(t)
	_, err := s.SubmitVote(ctx, "a", "h", domain.VerdictUnsafe)
	require.NoError(t, err)
	c.Advance(RecencyHorizon)
	_, err = s.SubmitVote(ctx, "b", "h", domain.VerdictSafe)
	require.NoError(t, err)

	r, found, err := s.GetRating(ctx, "h")
	require.NoError(t, err)
	require.True(t, found)
	assert.InDelta(t, 0.5, r.Confidence, 1e-12)
	assert.InDelta(t, 1/1.1, r.WeightedConfidence, 1e-9)
}

func TestChangedRatingsCarryWeightedConfidence(t *testing.T) {
	ctx := context.Background()
	s, c, rec := newStore(t)
	for _, voter := range []string{"a", "b", "c", "d"} {
		r, err := s.SubmitVote(ctx, voter, "h", domain.VerdictSafe)
		require.NoError(t, err)
		assert.InDelta(t, 1.0, r.WeightedConfidence, 1e-9)
		c.Advance(time.Second)
	}
	for _, u := range rec.updates {
		assert.InDelta(t, 1.0, u.WeightedConfidence, 1e-9)
	}

	_, err := s.SubmitVote(ctx, "e", "h", domain.VerdictUnsafe)
	require.NoError(t, err)
	r, err := s.RetractVote(ctx, "e", "h")
	require.NoError(t, err)
	assert.InDelta(t, 1.0, r.WeightedConfidence, 1e-9)
	last := rec.updates[len(rec.updates)-1]
	assert.Equal(t, r, last)
}

func TestFutureTimestampsAreClamped(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewRatings()
	c := &clock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	s := NewStore(repo, WithClock(c.Now))
	start := c.Now()

	_, err := s.SubmitVoteAt(ctx, domain.Vote{VoterID: "alice", IdentifierHash: "h", Verdict: domain.VerdictSafe, Timestamp: start.AddDate(10, 0, 0)})
	require.NoError(t, err)
	_, err = s.SubmitVote(ctx, "bob", "h", domain.VerdictUnsafe)
	require.NoError(t, err)
	stored, found, err := repo.LoadVote(ctx, "alice", "h")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, start, stored.Timestamp)

	c.Advance(30 * 24 * time.Hour)
	r, found, err := s.GetRating(ctx, "h")
	require.NoError(t, err)
	require.True(t, found)
	assert.InDelta(t, 0.5, r.WeightedConfidence, 1e-9, "both votes decayed alike")

	r, err = s.SubmitVote(ctx, "alice", "h", domain.VerdictUnsafe)
	require.NoError(t, err)
	assert.Equal(t, 0, r.SafeCount)
	assert.Equal(t, 2, r.UnsafeCount)

	r, err = s.RetractVoteAt(ctx, "bob", "h", c.Now().AddDate(5, 0, 0))
	require.NoError(t, err)
	assert.Equal(t, 1, r.TotalCount)
}

type failingRepo struct{ *memory.Ratings }

func (failingRepo) SaveVote(context.Context, domain.Vote, domain.CommunityRating) error {
	return errors.New("disk full")
}

func TestStorageFailureReleasesRateSlot(t *testing.T) {
	ctx := context.Background()
	c := &clock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	s := NewStore(failingRepo{memory.NewRatings()}, WithClock(c.Now))

	for i := 0; i < 4; i++ {
		_, err := s.SubmitVote(ctx, "alice", "h", domain.VerdictSafe)
		assert.ErrorIs(t, err, domain.ErrBackendUnavailable)
		c.Advance(time.Second)
	}
}
