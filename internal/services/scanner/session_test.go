package scanner

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"qrsafe/internal/domain"
)

func TestSessionHappyPath(t *testing.T) {
	f := newFixture(t, domain.ReputationVerdict{TotalEngines: 70, IsSecure: true, State: domain.ReputationComplete})
	s := NewSession(f.svc, "alice")
	ctx := context.Background()

	assert.Equal(t, StateIdle, s.State())
	require.NoError(t, s.Start())
	assert.Equal(t, StateScanning, s.State())

	res, err := s.Submit(ctx, "https://example.com")
	require.NoError(t, err)
	assert.Equal(t, StateResultShown, s.State())
	assert.Equal(t, res, s.Result())

	safe := domain.VerdictSafe
	e, err := s.Rate(ctx, &safe)
	require.NoError(t, err)
	assert.Equal(t, StateRated, s.State())
	assert.True(t, e.UserOverride)

	unsafe := domain.VerdictUnsafe
	_, err = s.Rate(ctx, &unsafe)
	require.NoError(t, err, "a rated result may be re-rated")

	require.NoError(t, s.Start())
	assert.Equal(t, StateScanning, s.State())
}

func TestSessionRejectsInvalidTransitions(t *testing.T) {
	f := newFixture(t, domain.ReputationVerdict{State: domain.ReputationPending})
	s := NewSession(f.svc, "alice")
	ctx := context.Background()

	_, err := s.Submit(ctx, "https://example.com")
	var te *TransitionError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, StateIdle, te.From)
	assert.Equal(t, StateValidating, te.To)

	safe := domain.VerdictSafe
	_, err = s.Rate(ctx, &safe)
	assert.ErrorAs(t, err, &te)

	require.NoError(t, s.Start())
	assert.Error(t, s.Start())
}

func TestSessionFailsBackToIdle(t *testing.T) {
	f := newFixture(t, domain.ReputationVerdict{State: domain.ReputationPending})
	s := NewSession(f.svc, "alice")
	require.NoError(t, s.Start())

	_, err := s.Submit(context.Background(), "   ")
	assert.ErrorIs(t, err, domain.ErrEmptyInput)
	assert.Equal(t, StateIdle, s.State())
	assert.ErrorIs(t, s.Err(), domain.ErrEmptyInput)

	require.NoError(t, s.Start())
	assert.NoError(t, s.Err())
}

func TestSessionReset(t *testing.T) {
	f := newFixture(t, domain.ReputationVerdict{State: domain.ReputationPending})
	s := NewSession(f.svc, "alice")
	require.NoError(t, s.Start())
	_, err := s.Submit(context.Background(), "https://example.com")
	require.NoError(t, err)

	s.Reset()
	assert.Equal(t, StateIdle, s.State())
	assert.Empty(t, s.Result().Entry.ID)
	assert.Equal(t, "result_shown", StateResultShown.String())
}

func TestSessionOpenRecordedEntry(t *testing.T) {
	f := newFixture(t, domain.ReputationVerdict{State: domain.ReputationPending})
	ctx := context.Background()
	res, err := f.svc.Scan(ctx, "https://example.com")
	require.NoError(t, err)

	s := NewSession(f.svc, "bob")
	_, err = s.Open(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.Equal(t, StateIdle, s.State())

	shown, err := s.Open(ctx, res.Entry.ID)
	require.NoError(t, err)
	assert.Equal(t, StateResultShown, s.State())
	assert.Equal(t, res.Entry.ID, shown.Entry.ID)
	assert.True(t, shown.Duplicate)

	unsafe := domain.VerdictUnsafe
	e, err := s.Rate(ctx, &unsafe)
	require.NoError(t, err)
	assert.Equal(t, StateRated, s.State())
	assert.Equal(t, domain.VerdictUnsafe, e.SafetyStatus)

	require.NoError(t, s.Start())
	_, err = s.Open(ctx, res.Entry.ID)
	var te *TransitionError
	assert.ErrorAs(t, err, &te, "cannot open an entry mid-scan")
}
