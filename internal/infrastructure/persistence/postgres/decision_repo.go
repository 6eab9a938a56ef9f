package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/coachlab/extension-tracker/internal/domain/decision"
	"github.com/coachlab/extension-tracker/internal/domain/milestone"
	"github.com/coachlab/extension-tracker/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// DECISION REPOSITORY IMPLEMENTATION
// ══════════════════════════════════════════════════════════════════════════════

// DecisionRepository implements decision.Repository for PostgreSQL.
type DecisionRepository struct {
	conn *Connection
}

var _ decision.Repository = (*DecisionRepository)(nil)

// NewDecisionRepository creates a new DecisionRepository.
func NewDecisionRepository(conn *Connection) *DecisionRepository {
	return &DecisionRepository{conn: conn}
}

const decisionColumns = `id, student_id, cycle, extension_certainty, hearing_done,
	examination_result, notes, created_at, updated_at`

// Get returns the decision for (studentID, cycle), or nil when none exists.
func (r *DecisionRepository) Get(ctx context.Context, studentID string, cycle milestone.Cycle) (*decision.Decision, error) {
	if err := decision.ValidateKey(studentID, cycle); err != nil {
		return nil, err
	}

	query := `SELECT ` + decisionColumns + `
		FROM student_decisions
		WHERE student_id = $1 AND cycle = $2`

	d, err := scanDecision(r.conn.QueryRow(ctx, query, studentID, int16(cycle)))
	if err != nil {
		if IsNoRows(err) {
			return nil, nil
		}
		return nil, shared.WrapError("decision", "Get", shared.ErrServiceUnavailable, "query decision", err)
	}
	return d, nil
}

// Upsert inserts the decision or replaces the writable fields of the existing row.
func (r *DecisionRepository) Upsert(ctx context.Context, studentID string, cycle milestone.Cycle, in decision.Input) (*decision.Decision, error) {
	if err := decision.ValidateKey(studentID, cycle); err != nil {
		return nil, err
	}

	query := `
		INSERT INTO student_decisions (
			id, student_id, cycle, extension_certainty, hearing_done,
			examination_result, notes, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, NOW(), NOW())
		ON CONFLICT (student_id, cycle) DO UPDATE SET
			extension_certainty = EXCLUDED.extension_certainty,
			hearing_done = EXCLUDED.hearing_done,
			examination_result = EXCLUDED.examination_result,
			notes = EXCLUDED.notes,
			updated_at = NOW()
		RETURNING ` + decisionColumns

	row := r.conn.QueryRow(ctx, query,
		uuid.NewString(),
		studentID,
		int16(cycle),
		in.ExtensionCertainty,
		in.HearingDone,
		in.ExaminationResult,
		in.Notes,
	)

	d, err := scanDecision(row)
	if err != nil {
		if IsCheckViolation(err) {
			return nil, shared.WrapError("decision", "Upsert", shared.ErrValidation, "decision violates constraints", err)
		}
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

	query := `SELECT ` + decisionColumns + `
		FROM student_decisions
		WHERE cycle = $1 AND student_id = ANY($2)`

	rows, err := r.conn.Query(ctx, query, int16(cycle), ids)
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

func scanDecision(row pgx.Row) (*decision.Decision, error) {
	var (
		d     decision.Decision
		id    uuid.UUID
		cycle int16
	)
	err := row.Scan(
		&id,
		&d.StudentID,
		&cycle,
		&d.ExtensionCertainty,
		&d.HearingDone,
		&d.ExaminationResult,
		&d.Notes,
		&d.CreatedAt,
		&d.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	d.ID = id.String()
	d.Cycle = milestone.Cycle(cycle)
	return &d, nil
}
