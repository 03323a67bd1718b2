package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"qrsafe/internal/domain"
	"qrsafe/internal/ports"
)

func TestRatingsSaveAndDelete(t *testing.T) {
	ctx := context.Background()
	r := NewRatings()
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, r.SaveVote(ctx, domain.Vote{VoterID: "a", IdentifierHash: "h", Verdict: domain.VerdictSafe, Timestamp: t0.Add(time.Second)},
		domain.CommunityRating{IdentifierHash: "h", SafeCount: 1, TotalCount: 1, Version: 1}))
	require.NoError(t, r.SaveVote(ctx, domain.Vote{VoterID: "b", IdentifierHash: "h", Verdict: domain.VerdictUnsafe, Timestamp: t0},
		domain.CommunityRating{IdentifierHash: "h", SafeCount: 1, UnsafeCount: 1, TotalCount: 2, Version: 2}))

	votes, err := r.ListVotes(ctx, "h")
	require.NoError(t, err)
	require.Len(t, votes, 2)
	assert.Equal(t, "b", votes[0].VoterID)

	require.NoError(t, r.DeleteVote(ctx, "b", "h", domain.CommunityRating{IdentifierHash: "h", SafeCount: 1, TotalCount: 1, Version: 3}))
	_, found, _ := r.LoadVote(ctx, "b", "h")
	assert.False(t, found)
	c, found, _ := r.LoadRating(ctx, "h")
	assert.True(t, found)
	assert.EqualValues(t, 3, c.Version)
}

func TestHistoryOrderAndDelete(t *testing.T) {
	ctx := context.Background()
	h := NewHistory()
	for _, id := range []string{"1", "2", "3"} {
		require.NoError(t, h.Insert(ctx, domain.ScanHistoryEntry{ID: id}))
	}
	require.NoError(t, h.Delete(ctx, "2"))
	list, _ := h.List(ctx)
	require.Len(t, list, 2)
	assert.Equal(t, "3", list[0].ID)
	assert.Equal(t, "1", list[1].ID)

	assert.ErrorIs(t, h.Update(ctx, domain.ScanHistoryEntry{ID: "nope"}), domain.ErrNotFound)
	require.NoError(t, h.Clear(ctx))
	list, _ = h.List(ctx)
	assert.Empty(t, list)
}

func TestOutboxArrivalOrder(t *testing.T) {
	ctx := context.Background()
	o := NewOutbox()
	a, _ := o.Enqueue(ctx, ports.SyncOp{Kind: ports.SyncOpVote})
	b, _ := o.Enqueue(ctx, ports.SyncOp{Kind: ports.SyncOpRetract})
	assert.Less(t, a.Seq, b.Seq)
	assert.NotEmpty(t, a.ID)

	ops, _ := o.Pending(ctx, 1)
	require.Len(t, ops, 1)
	assert.Equal(t, a.ID, ops[0].ID)

	require.NoError(t, o.Ack(ctx, a.ID))
	n, _ := o.Len(ctx)
	assert.Equal(t, 1, n)
}
