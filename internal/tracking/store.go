package tracking

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const maxStderrBytes = 64 * 1024

const defaultListLimit = 20

// Store records run groups and their step runs in SQLite.
type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// StartGroup records the beginning of a pipeline execution and returns its ID.
func (s *Store) StartGroup(ctx context.Context, project, experiment, selection string) (string, error) {
	if project == "" {
		return "", fmt.Errorf("project is empty")
	}
	if experiment == "" {
		return "", fmt.Errorf("experiment is empty")
	}

	id := uuid.NewString()
	now := time.Now().UTC().Format(time.RFC3339Nano)

	_, err := s.db.ExecContext(ctx, `
INSERT INTO run_groups(id, project, experiment, selection, status, started_at)
VALUES(?, ?, ?, ?, ?, ?);
`, id, project, experiment, selection, GroupRunning, now)
	if err != nil {
		return "", fmt.Errorf("insert run group: %w", err)
	}
	return id, nil
}

// StartStep records a step beginning within a group and returns the step run ID.
// Position is the step's index in the executed sequence, starting at 0.
func (s *Store) StartStep(ctx context.Context, groupID, step string, position int) (string, error) {
	if groupID == "" {
		return "", fmt.Errorf("groupID is empty")
	}
	if step == "" {
		return "", fmt.Errorf("step is empty")
	}

	id := uuid.NewString()
	now := time.Now().UTC().Format(time.RFC3339Nano)

	_, err := s.db.ExecContext(ctx, `
INSERT INTO step_runs(id, group_id, step, position, status, started_at)
VALUES(?, ?, ?, ?, ?, ?);
`, id, groupID, step, position, StepRunning, now)
	if err != nil {
		return "", fmt.Errorf("insert step run: %w", err)
	}
	return id, nil
}

// FinishStep marks a step run terminal. Stderr is capped at 64KiB.
func (s *Store) FinishStep(ctx context.Context, stepRunID string, status StepStatus, exitCode *int, lastError, stderr *string) error {
	if stepRunID == "" {
		return fmt.Errorf("stepRunID is empty")
	}
	if status != StepSucceeded && status != StepFailed {
		return fmt.Errorf("invalid terminal status: %q", status)
	}

	completedAt := time.Now().UTC().Format(time.RFC3339Nano)

	var stderrVal any
	if stderr != nil {
		v := *stderr
		if len(v) > maxStderrBytes {
			v = v[:maxStderrBytes]
		}
		stderrVal = v
	}

	res, err := s.db.ExecContext(ctx, `
UPDATE step_runs
SET status = ?, completed_at = ?, exit_code = ?, last_error = ?, stderr = ?
WHERE id = ? AND status = ?;
`, status, completedAt, exitCode, lastError, stderrVal, stepRunID, StepRunning)
	if err != nil {
		return fmt.Errorf("update step run: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return ErrStepRunNotFound
	}
	return nil
}

// FinishGroup marks a group terminal. Any step runs of the group still
// marked running are closed as failed in the same transaction, so a crash
// between FinishStep and FinishGroup cannot leave dangling rows.
func (s *Store) FinishGroup(ctx context.Context, groupID string, status GroupStatus, failedStep, lastError *string) error {
	if groupID == "" {
		return fmt.Errorf("groupID is empty")
	}
	if status != GroupSucceeded && status != GroupFailed {
		return fmt.Errorf("invalid terminal status: %q", status)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var current string
	if err := tx.QueryRowContext(ctx, `
SELECT status FROM run_groups WHERE id = ?;
`, groupID).Scan(&current); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrGroupNotFound
		}
		return fmt.Errorf("load run group: %w", err)
	}

	completedAt := time.Now().UTC().Format(time.RFC3339Nano)

	_, err = tx.ExecContext(ctx, `
UPDATE run_groups
SET status = ?, completed_at = ?, failed_step = ?, last_error = ?
WHERE id = ?;
`, status, completedAt, failedStep, lastError, groupID)
	if err != nil {
		return fmt.Errorf("update run group: %w", err)
	}

	interrupted := "interrupted"
	_, err = tx.ExecContext(ctx, `
UPDATE step_runs
SET status = ?, completed_at = ?, last_error = ?
WHERE group_id = ? AND status = ?;
`, StepFailed, completedAt, interrupted, groupID, StepRunning)
	if err != nil {
		return fmt.Errorf("close dangling step runs: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// GetGroup returns one run group by ID.
func (s *Store) GetGroup(ctx context.Context, groupID string) (*RunGroup, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT id, project, experiment, selection, status, started_at, completed_at, failed_step, last_error
FROM run_groups
WHERE id = ?;
`, groupID)

	g, err := scanGroup(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrGroupNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get run group: %w", err)
	}
	return g, nil
}

// LatestGroup returns the most recently started group, or (nil, nil) if
// nothing has run yet.
func (s *Store) LatestGroup(ctx context.Context) (*RunGroup, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT id, project, experiment, selection, status, started_at, completed_at, failed_step, last_error
FROM run_groups
ORDER BY started_at DESC, rowid DESC
LIMIT 1;
`)

	g, err := scanGroup(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("latest run group: %w", err)
	}
	return g, nil
}

// ListGroups returns recent groups, newest first. A non-positive limit
// falls back to a default page size.
func (s *Store) ListGroups(ctx context.Context, limit int) ([]RunGroup, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}

	rows, err := s.db.QueryContext(ctx, `
SELECT id, project, experiment, selection, status, started_at, completed_at, failed_step, last_error
FROM run_groups
ORDER BY started_at DESC, rowid DESC
LIMIT ?;
`, limit)
	if err != nil {
		return nil, fmt.Errorf("list run groups: %w", err)
	}
	defer rows.Close()

	var groups []RunGroup
	for rows.Next() {
		g, err := scanGroup(rows)
		if err != nil {
			return nil, fmt.Errorf("list run groups: %w", err)
		}
		groups = append(groups, *g)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list run groups: %w", err)
	}
	return groups, nil
}

// StepsForGroup returns the group's step runs in execution order.
func (s *Store) StepsForGroup(ctx context.Context, groupID string) ([]StepRun, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT id, group_id, step, position, status, started_at, completed_at, exit_code, last_error, stderr
FROM step_runs
WHERE group_id = ?
ORDER BY position ASC;
`, groupID)
	if err != nil {
		return nil, fmt.Errorf("list step runs: %w", err)
	}
	defer rows.Close()

	var steps []StepRun
	for rows.Next() {
		var (
			sr           StepRun
			statusS      string
			startedAtS   string
			completedAtS sql.NullString
			exitCode     sql.NullInt64
			lastError    sql.NullString
			stderrS      sql.NullString
		)
		if err := rows.Scan(
			&sr.ID, &sr.GroupID, &sr.Step, &sr.Position, &statusS,
			&startedAtS, &completedAtS, &exitCode, &lastError, &stderrS,
		); err != nil {
			return nil, fmt.Errorf("scan step run: %w", err)
		}
		sr.Status = StepStatus(statusS)
		if t, err := time.Parse(time.RFC3339Nano, startedAtS); err == nil {
			sr.StartedAt = t
		}
		if completedAtS.Valid {
			if t, err := time.Parse(time.RFC3339Nano, completedAtS.String); err == nil {
				sr.CompletedAt = &t
			}
		}
		if exitCode.Valid {
			ec := int(exitCode.Int64)
			sr.ExitCode = &ec
		}
		if lastError.Valid {
			sr.LastError = &lastError.String
		}
		if stderrS.Valid {
			sr.Stderr = &stderrS.String
		}
		steps = append(steps, sr)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list step runs: %w", err)
	}
	return steps, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanGroup(row rowScanner) (*RunGroup, error) {
	var (
		g            RunGroup
		statusS      string
		startedAtS   string
		completedAtS sql.NullString
		failedStep   sql.NullString
		lastError    sql.NullString
	)
	if err := row.Scan(
		&g.ID, &g.Project, &g.Experiment, &g.Selection, &statusS,
		&startedAtS, &completedAtS, &failedStep, &lastError,
	); err != nil {
		return nil, err
	}
	g.Status = GroupStatus(statusS)
	if t, err := time.Parse(time.RFC3339Nano, startedAtS); err == nil {
		g.StartedAt = t
	}
	if completedAtS.Valid {
		if t, err := time.Parse(time.RFC3339Nano, completedAtS.String); err == nil {
			g.CompletedAt = &t
		}
	}
	if failedStep.Valid {
		g.FailedStep = &failedStep.String
	}
	if lastError.Valid {
		g.LastError = &lastError.String
	}
	return &g, nil
}
