package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go-subband-ingest/internal/model"
)

// Upsert writes the full group record, inserting or replacing by key.
// A successful Upsert is visible after restart; a failed one leaves the
// prior row intact (single-statement transaction).
func (s *Store) Upsert(g *model.Group) error {
	membersJSON, err := json.Marshal(g.Members)
	if err != nil {
		return fmt.Errorf("encoding members for %s: %w", g.Key, err)
	}

	return s.withRetry(func() error {
		_, err := s.db.Exec(`
INSERT INTO groups (group_key, state, members_json, partial, expected_count,
                    attempt_count, created_at, last_update_at, next_attempt_at,
                    last_error, output_path, lock_token)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(group_key) DO UPDATE SET
    state = excluded.state,
    members_json = excluded.members_json,
    partial = excluded.partial,
    expected_count = excluded.expected_count,
    attempt_count = excluded.attempt_count,
    last_update_at = excluded.last_update_at,
    next_attempt_at = excluded.next_attempt_at,
    last_error = excluded.last_error,
    output_path = excluded.output_path,
    lock_token = excluded.lock_token`,
			g.Key, g.State, string(membersJSON), boolToInt(g.Partial), g.ExpectedCount,
			g.AttemptCount, g.CreatedAt.Unix(), g.LastUpdateAt.Unix(), unixOrZero(g.NextAttemptAt),
			g.LastError, g.OutputPath, g.LockToken)
		return err
	})
}

// Get fetches one group record. The second return value is false when the
// key is unknown.
func (s *Store) Get(key string) (*model.Group, bool, error) {
	row := s.db.QueryRow(selectCols+` FROM groups WHERE group_key = ?`, key)
	g, err := scanGroup(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, classify(err)
	}
	return g, true, nil
}

// ListByState returns all groups in the given state, oldest first.
func (s *Store) ListByState(state model.GroupState) ([]*model.Group, error) {
	rows, err := s.db.Query(selectCols+` FROM groups WHERE state = ? ORDER BY created_at ASC`, state)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	var out []*model.Group
	for rows.Next() {
		g, err := scanGroup(rows)
		if err != nil {
			return nil, classify(err)
		}
		out = append(out, g)
	}
	return out, classify(rows.Err())
}

// Delete evicts a group record.
func (s *Store) Delete(key string) error {
	return s.withRetry(func() error {
		_, err := s.db.Exec(`DELETE FROM groups WHERE group_key = ?`, key)
		return err
	})
}

// Claim atomically takes ownership of the oldest runnable pending group.
// The conditional UPDATE is the mutual-exclusion point: it only commits when
// the row is still pending, so two workers (or two processes sharing the
// store) can never both win the same group. Returns (nil, nil) when there is
// nothing to claim or the race was lost. The whole transaction runs under
// the transient-retry wrapper: under WAL a read-then-write upgrade loses to
// a concurrent committer with SQLITE_BUSY, which just means try again.
func (s *Store) Claim(token string, now time.Time) (*model.Group, error) {
	var claimed *model.Group
	err := s.withRetry(func() error {
		claimed = nil

		tx, err := s.db.Begin()
		if err != nil {
			return err
		}
		defer func() { _ = tx.Rollback() }()

		row := tx.QueryRow(selectCols+`
FROM groups
WHERE state = ? AND next_attempt_at <= ?
ORDER BY created_at ASC
LIMIT 1`, model.StatePending, now.Unix())

		g, err := scanGroup(row)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return err
		}

		res, err := tx.Exec(`
UPDATE groups
SET state = ?, lock_token = ?, last_update_at = ?
WHERE group_key = ? AND state = ?`,
			model.StateInProgress, token, now.Unix(), g.Key, model.StatePending)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n != 1 {
			// lost the race to another worker
			return nil
		}
		if err := tx.Commit(); err != nil {
			return err
		}

		g.State = model.StateInProgress
		g.LockToken = token
		g.LastUpdateAt = now
		claimed = g
		return nil
	})
	return claimed, err
}

// MarkCompleted finishes an in-progress group, recording where the output
// landed. The WHERE clause re-checks the previous state so a stale worker
// cannot complete a group it no longer owns.
func (s *Store) MarkCompleted(key, outputPath string, now time.Time) error {
	return s.transition(key, model.StateInProgress, func() (string, []interface{}) {
		return `state = ?, output_path = ?, last_error = '', lock_token = '', last_update_at = ?`,
			[]interface{}{model.StateCompleted, outputPath, now.Unix()}
	})
}

// ReleaseForRetry returns an in-progress group to pending after a retryable
// failure, releasing the lock and gating the next claim on nextAttempt.
func (s *Store) ReleaseForRetry(key string, attempts int, lastErr string, nextAttempt, now time.Time) error {
	return s.transition(key, model.StateInProgress, func() (string, []interface{}) {
		return `state = ?, attempt_count = ?, last_error = ?, lock_token = '', next_attempt_at = ?, last_update_at = ?`,
			[]interface{}{model.StatePending, attempts, lastErr, nextAttempt.Unix(), now.Unix()}
	})
}

// MarkFailed moves an in-progress group to the terminal failed state.
func (s *Store) MarkFailed(key, lastErr string, now time.Time) error {
	return s.transition(key, model.StateInProgress, func() (string, []interface{}) {
		return `state = ?, last_error = ?, lock_token = '', last_update_at = ?`,
			[]interface{}{model.StateFailed, lastErr, now.Unix()}
	})
}

// Requeue is the operator override: a failed group goes back to pending
// with a fresh attempt budget, bypassing max retries.
func (s *Store) Requeue(key string, now time.Time) error {
	return s.transition(key, model.StateFailed, func() (string, []interface{}) {
		return `state = ?, attempt_count = 0, last_error = '', next_attempt_at = 0, last_update_at = ?`,
			[]interface{}{model.StatePending, now.Unix()}
	})
}

// transition applies a conditional update guarded by the expected previous
// state and fails loudly when the row was not in that state.
func (s *Store) transition(key string, from model.GroupState, set func() (string, []interface{})) error {
	clause, args := set()
	args = append(args, key, from)

	return s.withRetry(func() error {
		res, err := s.db.Exec(`UPDATE groups SET `+clause+` WHERE group_key = ? AND state = ?`, args...)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n != 1 {
			return fmt.Errorf("group %s is not in state %s", key, from)
		}
		return nil
	})
}

// CountByState returns the number of groups per state, with zero entries
// for states that have no rows.
func (s *Store) CountByState() (map[model.GroupState]int, error) {
	rows, err := s.db.Query(`SELECT state, COUNT(*) FROM groups GROUP BY state`)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	out := make(map[model.GroupState]int, len(model.AllStates()))
	for _, st := range model.AllStates() {
		out[st] = 0
	}
	for rows.Next() {
		var st string
		var n int
		if err := rows.Scan(&st, &n); err != nil {
			return nil, classify(err)
		}
		out[model.GroupState(st)] = n
	}
	return out, classify(rows.Err())
}

// PurgeTerminalBefore evicts completed and failed groups whose last update
// is older than the cutoff. Terminal groups survive the retention window so
// operators can inspect them post-mortem.
func (s *Store) PurgeTerminalBefore(cutoff time.Time) (int64, error) {
	var purged int64
	err := s.withRetry(func() error {
		res, err := s.db.Exec(`
DELETE FROM groups
WHERE state IN (?, ?) AND last_update_at < ?`,
			model.StateCompleted, model.StateFailed, cutoff.Unix())
		if err != nil {
			return err
		}
		purged, _ = res.RowsAffected()
		return nil
	})
	return purged, err
}

const selectCols = `
SELECT group_key, state, members_json, partial, expected_count, attempt_count,
       created_at, last_update_at, next_attempt_at, last_error, output_path, lock_token`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanGroup(row rowScanner) (*model.Group, error) {
	var (
		g                              model.Group
		membersJSON                    string
		partial                        int
		created, updated, nextAttempt  int64
		lastErr, outputPath, lockToken sql.NullString
	)
	if err := row.Scan(&g.Key, &g.State, &membersJSON, &partial, &g.ExpectedCount,
		&g.AttemptCount, &created, &updated, &nextAttempt,
		&lastErr, &outputPath, &lockToken); err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(membersJSON), &g.Members); err != nil {
		return nil, fmt.Errorf("decoding members for %s: %w", g.Key, err)
	}
	if g.Members == nil {
		g.Members = make(map[int]model.Member)
	}
	g.Partial = partial != 0
	g.CreatedAt = time.Unix(created, 0).UTC()
	g.LastUpdateAt = time.Unix(updated, 0).UTC()
	if nextAttempt > 0 {
		g.NextAttemptAt = time.Unix(nextAttempt, 0).UTC()
	}
	g.LastError = lastErr.String
	g.OutputPath = outputPath.String
	g.LockToken = lockToken.String
	return &g, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func unixOrZero(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.Unix()
}
