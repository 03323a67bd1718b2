package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"qrsafe/internal/domain"
)

// History implements ports.HistoryRepository.
type History struct {
	db *sql.DB
}

func NewHistory(db *sql.DB) *History { return &History{db: db} }

const historyColumns = `id, identifier, canonical, identifier_hash, web, domain, timestamp, duration_ms,
    reputation, community, computed_verdict, confidence, warning, non_web,
    safety_status, user_vote, user_override, demo`

func (h *History) List(ctx context.Context) ([]domain.ScanHistoryEntry, error) {
	rows, err := h.db.QueryContext(ctx, `SELECT `+historyColumns+` FROM scan_history ORDER BY seq DESC`)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list history: %w", err)
	}
	defer rows.Close()

	var out []domain.ScanHistoryEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (h *History) Insert(ctx context.Context, e domain.ScanHistoryEntry) error {
	args, err := entryArgs(e)
	if err != nil {
		return err
	}
	_, err = h.db.ExecContext(ctx, `INSERT INTO scan_history (`+historyColumns+`)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, args...)
	if err != nil {
		return fmt.Errorf("sqlite: insert history: %w", err)
	}
	return nil
}

func (h *History) Update(ctx context.Context, e domain.ScanHistoryEntry) error {
	args, err := entryArgs(e)
	if err != nil {
		return err
	}
	res, err := h.db.ExecContext(ctx, `UPDATE scan_history SET
        identifier = ?, canonical = ?, identifier_hash = ?, web = ?, domain = ?, timestamp = ?, duration_ms = ?,
        reputation = ?, community = ?, computed_verdict = ?, confidence = ?, warning = ?, non_web = ?,
        safety_status = ?, user_vote = ?, user_override = ?, demo = ?
        WHERE id = ?`, append(args[1:], e.ID)...)
	if err != nil {
		return fmt.Errorf("sqlite: update history: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (h *History) Delete(ctx context.Context, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	q := `DELETE FROM scan_history WHERE id IN (?` + strings.Repeat(", ?", len(ids)-1) + `)`
	if _, err := h.db.ExecContext(ctx, q, args...); err != nil {
		return fmt.Errorf("sqlite: delete history: %w", err)
	}
	return nil
}

func (h *History) Clear(ctx context.Context) error {
	if _, err := h.db.ExecContext(ctx, `DELETE FROM scan_history`); err != nil {
		return fmt.Errorf("sqlite: clear history: %w", err)
	}
	return nil
}

func entryArgs(e domain.ScanHistoryEntry) ([]any, error) {
	rep, err := nullJSON(e.Assessment.Reputation)
	if err != nil {
		return nil, err
	}
	com, err := nullJSON(e.Assessment.Community)
	if err != nil {
		return nil, err
	}
	var vote sql.NullString
	if e.UserVote != nil {
		vote = sql.NullString{String: string(*e.UserVote), Valid: true}
	}
	return []any{
		e.ID, e.Identifier.Raw, e.Identifier.Canonical, e.Identifier.Hash, e.Identifier.Web, e.Identifier.Domain,
		e.Timestamp.UnixMilli(), e.DurationMs,
		rep, com, string(e.Assessment.Verdict), e.Assessment.Confidence, e.Assessment.Warning, e.Assessment.NonWeb,
		string(e.SafetyStatus), vote, e.UserOverride, e.Demo,
	}, nil
}

func scanEntry(rows *sql.Rows) (domain.ScanHistoryEntry, error) {
	var (
		e                domain.ScanHistoryEntry
		ts               int64
		rep, com, vote   sql.NullString
		computed, status string
	)
	err := rows.Scan(&e.ID, &e.Identifier.Raw, &e.Identifier.Canonical, &e.Identifier.Hash, &e.Identifier.Web, &e.Identifier.Domain,
		&ts, &e.DurationMs, &rep, &com, &computed, &e.Assessment.Confidence, &e.Assessment.Warning, &e.Assessment.NonWeb,
		&status, &vote, &e.UserOverride, &e.Demo)
	if err != nil {
		return e, fmt.Errorf("sqlite: scan history row: %w", err)
	}
	e.Timestamp = time.UnixMilli(ts).UTC()
	e.Assessment.Verdict = domain.Verdict(computed)
	e.SafetyStatus = domain.Verdict(status)
	if vote.Valid {
		v := domain.Verdict(vote.String)
		e.UserVote = &v
	}
	if rep.Valid {
		e.Assessment.Reputation = new(domain.ReputationVerdict)
		if err := json.Unmarshal([]byte(rep.String), e.Assessment.Reputation); err != nil {
			return e, fmt.Errorf("sqlite: decode reputation for %s: %w", e.ID, err)
		}
	}
	if com.Valid {
		e.Assessment.Community = new(domain.CommunityRating)
		if err := json.Unmarshal([]byte(com.String), e.Assessment.Community); err != nil {
			return e, fmt.Errorf("sqlite: decode community for %s: %w", e.ID, err)
		}
	}
	return e, nil
}

func nullJSON[T any](v *T) (sql.NullString, error) {
	if v == nil {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}
