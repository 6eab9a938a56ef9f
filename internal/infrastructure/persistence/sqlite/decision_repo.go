package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/coachlab/extension-tracker/internal/domain/decision"
	"github.com/coachlab/extension-tracker/internal/domain/milestone"
	"github.com/coachlab/extension-tracker/internal/domain/shared"
	"github.com/coachlab/extension-tracker/pkg/timeutil"
)

// DecisionRepository implements decision.Repository on SQLite.
type DecisionRepository struct {
	db  *sql.DB
	now timeutil.Clock
}

var _ decision.Repository = (*DecisionRepository)(nil)

// NewDecisionRepository creates a repository. A nil clock uses the system clock.
func NewDecisionRepository(db *sql.DB, clock timeutil.Clock) *DecisionRepository {
	if clock == nil {
		clock = timeutil.SystemClock
	}
	return &DecisionRepository{db: db, now: clock}
}

const decisionColumns = `id, student_id, cycle, extension_certainty, hearing_done,
	examination_result, notes, created_at, updated_at`

// Get returns the decision for (studentID, cycle), or nil when none exists.
func (r *DecisionRepository) Get(ctx context.Context, studentID string, cycle milestone.Cycle) (*decision.Decision, error) {
	if err := decision.ValidateKey(studentID, cycle); err != nil {
		return nil, err
	}

	row := r.db.QueryRowContext(ctx,
		`SELECT `+decisionColumns+` FROM student_decisions WHERE student_id = ? AND cycle = ?`,
		studentID, int(cycle))

	d, err := scanDecision(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, shared.WrapError("decision", "Get", shared.ErrServiceUnavailable, "query decision", err)
	}
	return d, nil
}

// Upsert inserts the decision or replaces the writable fields of the existing
// row, returning the stored row from the same statement.
func (r *DecisionRepository) Upsert(ctx context.Context, studentID string, cycle milestone.Cycle, in decision.Input) (*decision.Decision, error) {
	if err := decision.ValidateKey(studentID, cycle); err != nil {
		return nil, err
	}

	now := formatTime(r.now())

	row := r.db.QueryRowContext(ctx, `
		INSERT INTO student_decisions (
			id, student_id, cycle, extension_certainty, hearing_done,
			examination_result, notes, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (student_id, cycle) DO UPDATE SET
			extension_certainty = excluded.extension_certainty,
			hearing_done = excluded.hearing_done,
			examination_result = excluded.examination_result,
			notes = excluded.notes,
			updated_at = excluded.updated_at
		RETURNING `+decisionColumns,
		uuid.NewString(),
		studentID,
		int(cycle),
		in.ExtensionCertainty,
		in.HearingDone,
		in.ExaminationResult,
		in.Notes,
		now,
		now,
	)

	d, err := scanDecision(row)
	if err != nil {
		return nil, shared.WrapError("decision", "Upsert", shared.ErrServiceUnavailable, "upsert decision", err)
	}
	return d, nil
}

// BulkGet returns the decisions that exist for studentIDs in cycle.
func (r *DecisionRepository) BulkGet(ctx context.Context, studentIDs []string, cycle milestone.Cycle) (map[string]*decision.Decision, error) {
	ids := decision.UniqueIDs(studentIDs)
	if len(ids) == 0 {
		return nil, shared.ErrEmptyStudentIDs
	}
	if !cycle.IsValid() {
		return nil, shared.ErrInvalidCycle
	}

	args := make([]any, 0, len(ids)+1)
	args = append(args, int(cycle))
	for _, id := range ids {
		args = append(args, id)
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")

	rows, err := r.db.QueryContext(ctx,
		`SELECT `+decisionColumns+` FROM student_decisions WHERE cycle = ? AND student_id IN (`+placeholders+`)`,
		args...)
	if err != nil {
		return nil, shared.WrapError("decision", "BulkGet", shared.ErrServiceUnavailable, "query decisions", err)
	}
	defer rows.Close()

	out := make(map[string]*decision.Decision, len(ids))
	for rows.Next() {
		d, err := scanDecision(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan decision: %w", err)
		}
		out[d.StudentID] = d
	}
	if err := rows.Err(); err != nil {
		return nil, shared.WrapError("decision", "BulkGet", shared.ErrServiceUnavailable, "iterate decisions", err)
	}
	return out, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanDecision(row scanner) (*decision.Decision, error) {
	var (
		d                    decision.Decision
		cycle                int
		createdAt, updatedAt string
	)
	err := row.Scan(
		&d.ID,
		&d.StudentID,
		&cycle,
		&d.ExtensionCertainty,
		&d.HearingDone,
		&d.ExaminationResult,
		&d.Notes,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	d.Cycle = milestone.Cycle(cycle)
	if d.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if d.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	return &d, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp %q: %w", s, err)
	}
	return t, nil
}
