package assessment

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"qrsafe/internal/domain"
)

func complete(malicious, total int) *domain.ReputationVerdict {
	v := &domain.ReputationVerdict{State: domain.ReputationComplete, MaliciousCount: malicious, TotalEngines: total}
	v.IsSecure = v.DetectionRatio() < 0.02
	return v
}

func rating(safe, unsafe int) *domain.CommunityRating {
	r := &domain.CommunityRating{IdentifierHash: "h", SafeCount: safe, UnsafeCount: unsafe}
	r.Recount()
	return r
}

func TestSecureReputationOnly(t *testing.T) {
	a := Combine(complete(0, 70), nil, false)
	assert.InDelta(t, 0.95, a.Confidence, 1e-9)
	assert.Equal(t, domain.VerdictSafe, a.Verdict)
	assert.Empty(t, a.Warning)
}

func TestInsecureReputationWithCommunity(t *testing.T) {
	a := Combine(complete(15, 70), rating(1, 9), false)
	assert.InDelta(t, 0.186, a.Confidence, 1e-9)
	assert.Equal(t, domain.VerdictUnsafe, a.Verdict)
	assert.Equal(t, WarnHighRisk, a.Warning)
	assert.NotContains(t, a.Warning, WarnDisagree)
}

func TestCommunityOnly(t *testing.T) {
	a := Combine(nil, rating(8, 2), false)
	assert.InDelta(t, 0.48, a.Confidence, 1e-9)
	assert.Equal(t, domain.VerdictUnknown, a.Verdict)
	assert.Equal(t, WarnModerateRisk, a.Warning)
}

func TestDecisionTable(t *testing.T) {
	pending := &domain.ReputationVerdict{State: domain.ReputationPending}
	unavailable := &domain.ReputationVerdict{State: domain.ReputationUnavailable, Failure: domain.FailureNetwork}

	cases := []struct {
		name    string
		rep     *domain.ReputationVerdict
		com     *domain.CommunityRating
		nonWeb  bool
		conf    float64
		verdict domain.Verdict
		warning string
	}{
		{"no data", nil, nil, false, 0, domain.VerdictUnknown, WarnNoData},
		{"unavailable, no community", unavailable, nil, false, 0, domain.VerdictUnknown, WarnUnavailable},
		{"pending, no community", pending, nil, false, 0, domain.VerdictUnknown, WarnPending},
		{"pending, community 8/10", pending, rating(8, 2), false, 0.64, domain.VerdictUnknown, WarnLowConfidence},
		{"pending, community 10/10", pending, rating(10, 0), false, 0.8, domain.VerdictSafe, ""},
		{"pending, community 1/10", pending, rating(1, 9), false, 0.08, domain.VerdictUnsafe, WarnHighRisk},
		{"unavailable, community 2/10", unavailable, rating(2, 8), false, 0.12, domain.VerdictUnsafe, WarnHighRisk},
		{"secure 1/100", complete(1, 100), nil, false, 0.93, domain.VerdictSafe, ""},
		{"secure 3/200", complete(3, 200), nil, false, 0.92, domain.VerdictSafe, ""},
		{"insecure 50%", complete(35, 70), nil, false, 0.3, domain.VerdictUnsafe, WarnModerateRisk},
		{"insecure 2/70", complete(2, 70), nil, false, 0.029, domain.VerdictUnsafe, WarnHighRisk},
		{"secure, too few votes", complete(0, 70), rating(0, 2), false, 0.95, domain.VerdictSafe, ""},
		{"secure, community agrees", complete(0, 70), rating(3, 0), false, 0.9625, domain.VerdictSafe, ""},
		{"community only, too few votes", nil, rating(2, 0), false, 0, domain.VerdictUnknown, WarnTooFewVotes},
		{"community only, all unsafe", nil, rating(0, 5), false, 0, domain.VerdictUnknown, WarnHighRisk},
		{"non-web ignores reputation", complete(0, 70), nil, true, 0, domain.VerdictUnknown, WarnNonWeb},
		{"non-web with community", nil, rating(10, 0), true, 0.6, domain.VerdictUnknown, WarnLowConfidence},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			a := Combine(tc.rep, tc.com, tc.nonWeb)
			assert.InDelta(t, tc.conf, a.Confidence, 0.001)
			assert.Equal(t, tc.verdict, a.Verdict)
			assert.Equal(t, tc.warning, a.Warning)
			assert.GreaterOrEqual(t, a.Confidence, 0.0)
			assert.LessOrEqual(t, a.Confidence, 1.0)
		})
	}
}

func TestSourcesDisagree(t *testing.T) {
	// reputation says secure, every voter says unsafe
	a := Combine(complete(0, 70), rating(0, 4), false)
	assert.InDelta(t, 0.7125, a.Confidence, 0.001)
	assert.Equal(t, domain.VerdictUnsafe, a.Verdict)
	assert.Contains(t, a.Warning, WarnLowConfidence)
	assert.Contains(t, a.Warning, WarnDisagree)
}

func TestCombinedNeedsMoreThanThreshold(t *testing.T) {
	// 0.75*0.95 + 0.25*0.5 = 0.8375, below the combined safe threshold
	a := Combine(complete(0, 70), rating(2, 2), false)
	assert.Equal(t, domain.VerdictUnsafe, a.Verdict)
}

func TestCombineIsDeterministicAndPure(t *testing.T) {
	rep := complete(15, 70)
	com := rating(1, 9)
	repCopy, comCopy := *rep, *com

	first := Combine(rep, com, false)
	second := Combine(rep, com, false)
	assert.Equal(t, first, second)
	assert.Equal(t, repCopy, *rep)
	assert.Equal(t, comCopy, *com)

	// the assessment owns its snapshots
	require.NotNil(t, first.Community)
	first.Community.SafeCount = 99
	assert.Equal(t, 1, com.SafeCount)
}

func TestPreferWeighted(t *testing.T) {
	com := rating(8, 2)
	com.WeightedConfidence = 0.5

	plain := Combine(nil, com, false)
	weighted := Combiner{PreferWeighted: true}.Combine(nil, com, false)
	assert.InDelta(t, 0.48, plain.Confidence, 1e-9)
	assert.InDelta(t, 0.3, weighted.Confidence, 1e-9)
}

func TestPreferWeightedWithoutWeightedValue(t *testing.T) {
	w := Combiner{PreferWeighted: true}

	unset := rating(8, 2)
	a := w.Combine(nil, unset, false)
	assert.InDelta(t, 0.48, a.Confidence, 1e-9, "falls back to the raw share")
	assert.NotContains(t, a.Warning, WarnHighRisk)

	allUnsafe := rating(0, 3)
	assert.Zero(t, w.Combine(nil, allUnsafe, false).Confidence)
}

func TestEffectiveVerdictPrefersUserVote(t *testing.T) {
	e := domain.ScanHistoryEntry{Assessment: Combine(complete(15, 70), nil, false)}
	assert.Equal(t, domain.VerdictUnsafe, EffectiveVerdict(e))

	safe := domain.VerdictSafe
	e.UserVote = &safe
	assert.Equal(t, domain.VerdictSafe, EffectiveVerdict(e))
	assert.Equal(t, domain.VerdictUnsafe, e.Assessment.Verdict)
}
