package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

var t0 = time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)

func TestResolveVoteLastWriteWins(t *testing.T) {
	older := Vote{VoterID: "a", Verdict: VerdictSafe, Timestamp: t0}
	newer := Vote{VoterID: "a", Verdict: VerdictUnsafe, Timestamp: t0.Add(time.Minute)}
	assert.Equal(t, newer, ResolveVote(older, newer))
	assert.Equal(t, newer, ResolveVote(newer, older))

	tied := Vote{VoterID: "a", Verdict: VerdictUnsafe, Timestamp: t0}
	assert.Equal(t, tied, ResolveVote(older, tied), "ties go to the remote copy")
}

func TestResolveRatingVersionWins(t *testing.T) {
	local := CommunityRating{IdentifierHash: "h", SafeCount: 5, TotalCount: 5, Version: 7}
	remote := CommunityRating{IdentifierHash: "h", SafeCount: 1, TotalCount: 1, Version: 9}
	assert.Equal(t, remote, ResolveRating(local, remote))

	stale := CommunityRating{IdentifierHash: "h", Version: 3}
	assert.Equal(t, local, ResolveRating(local, stale))

	same := CommunityRating{IdentifierHash: "h", UnsafeCount: 1, TotalCount: 1, Version: 7}
	assert.Equal(t, same, ResolveRating(local, same))
}
