package main

import (
	"bytes"
	"context"
	"io"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"qrsafe/internal/adapters/sqlite"
	"qrsafe/internal/domain"
)

const wifi = "WIFI:S:home;T:WPA;P:secret;;"

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func testDB(t *testing.T) string {
	t.Helper()
	for _, k := range []string{"CONFIG_FILE", "REPUTATION_API_KEY", "REMOTE_URL", "HISTORY_DB", "HISTORY_CAPACITY"} {
		t.Setenv(k, "")
	}
	return filepath.Join(t.TempDir(), "history.db")
}

func storedEntries(t *testing.T, path string) []domain.ScanHistoryEntry {
	t.Helper()
	db, err := sqlite.Open(path)
	require.NoError(t, err)
	defer db.Close()
	entries, err := sqlite.NewHistory(db).List(context.Background())
	require.NoError(t, err)
	return entries
}

func TestScanRecordsOnce(t *testing.T) {
	db := testDB(t)

	out, err := execute(t, "--db", db, "scan", wifi)
	require.NoError(t, err)
	assert.Contains(t, out, "WIFI:")
	assert.Contains(t, out, "verdict:")
	assert.NotContains(t, out, "already in history")

	out, err = execute(t, "--db", db, "scan", wifi)
	require.NoError(t, err)
	assert.Contains(t, out, "already in history")
	assert.Len(t, storedEntries(t, db), 1)

	out, err = execute(t, "--db", db, "history")
	require.NoError(t, err)
	assert.Contains(t, out, "IDENTIFIER")
	assert.Contains(t, out, "WIFI:")
}

func TestVoteOverridesStatus(t *testing.T) {
	db := testDB(t)
	_, err := execute(t, "--db", db, "scan", wifi)
	require.NoError(t, err)
	id := storedEntries(t, db)[0].ID

	out, err := execute(t, "--db", db, "vote", id, "unsafe", "--voter", "tester")
	require.NoError(t, err)
	assert.Contains(t, out, "your vote:  unsafe")

	e := storedEntries(t, db)[0]
	assert.True(t, e.UserOverride)
	assert.Equal(t, domain.VerdictUnsafe, e.SafetyStatus)

	_, err = execute(t, "--db", db, "vote", id, "clear", "--voter", "tester")
	require.NoError(t, err)
	e = storedEntries(t, db)[0]
	assert.False(t, e.UserOverride)
	assert.Nil(t, e.UserVote)

	_, err = execute(t, "--db", db, "vote", id, "maybe")
	assert.ErrorIs(t, err, domain.ErrInvalidVerdict)

	_, err = execute(t, "--db", db, "vote", "missing", "safe")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestScanAndRate(t *testing.T) {
	db := testDB(t)

	out, err := execute(t, "--db", db, "--voter", "tester", "scan", "--rate", "safe", wifi)
	require.NoError(t, err)
	assert.Contains(t, out, "your vote:  safe")

	e := storedEntries(t, db)[0]
	assert.True(t, e.UserOverride)
	assert.Equal(t, domain.VerdictSafe, e.SafetyStatus)
	require.NotNil(t, e.Assessment.Community)
	assert.Equal(t, 1, e.Assessment.Community.SafeCount)

	_, err = execute(t, "--db", db, "scan", "--rate", "maybe", "other payload")
	assert.ErrorIs(t, err, domain.ErrInvalidVerdict)
	assert.Len(t, storedEntries(t, db), 1, "an invalid rating is rejected before scanning")
}

func TestSeedAndClear(t *testing.T) {
	db := testDB(t)

	out, err := execute(t, "--db", db, "seed-demo")
	require.NoError(t, err)
	assert.Contains(t, out, "seeded 4 entries")

	out, err = execute(t, "--db", db, "history", "-n", "2")
	require.NoError(t, err)
	assert.Equal(t, 3, bytes.Count([]byte(out), []byte("\n")), out)

	out, err = execute(t, "--db", db, "clear")
	require.NoError(t, err)
	assert.Contains(t, out, "history cleared")

	out, err = execute(t, "--db", db, "history")
	require.NoError(t, err)
	assert.Contains(t, out, "no scans recorded")
}

func TestSyncNeedsRemote(t *testing.T) {
	db := testDB(t)
	_, err := execute(t, "--db", db, "sync")
	assert.ErrorContains(t, err, "no remote configured")
}

func TestParseVote(t *testing.T) {
	v, err := parseVote("SAFE")
	require.NoError(t, err)
	assert.Equal(t, domain.VerdictSafe, *v)

	v, err = parseVote("clear")
	require.NoError(t, err)
	assert.Nil(t, v)

	_, err = parseVote("unknown")
	assert.ErrorIs(t, err, domain.ErrInvalidVerdict)
}
