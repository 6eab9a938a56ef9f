package postgres

import (
	"context"
	"fmt"
	"sort"

	"github.com/jackc/pgx/v5"
)

// migrationLockID serializes migrations across replicas starting together.
const migrationLockID int64 = 0x45585452 // "EXTR"

// Migration is one forward-only schema step.
type Migration struct {
	Version int
	Name    string
	SQL     string
}

// Migrator applies the embedded migrations in version order.
type Migrator struct {
	conn       *Connection
	migrations []Migration
}

func NewMigrator(conn *Connection) *Migrator {
	ms := Migrations()
	sort.Slice(ms, func(i, j int) bool { return ms[i].Version < ms[j].Version })
	return &Migrator{conn: conn, migrations: ms}
}

// Migrate applies pending migrations under an advisory lock and returns
// how many ran. Each migration commits together with its bookkeeping row.
func (m *Migrator) Migrate(ctx context.Context) (int, error) {
	if m.conn.closed.Load() {
		return 0, ErrConnectionClosed
	}

	conn, err := m.conn.pool.Acquire(ctx)
	if err != nil {
		return 0, fmt.Errorf("%w: acquire: %v", ErrMigrationFailed, err)
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, `SELECT pg_advisory_lock($1)`, migrationLockID); err != nil {
		return 0, fmt.Errorf("%w: lock: %v", ErrMigrationFailed, err)
	}
	defer func() {
		_, _ = conn.Exec(context.WithoutCancel(ctx), `SELECT pg_advisory_unlock($1)`, migrationLockID)
	}()

	if _, err := conn.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			name TEXT NOT NULL,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`); err != nil {
		return 0, fmt.Errorf("%w: bookkeeping table: %v", ErrMigrationFailed, err)
	}

	applied, err := appliedVersions(ctx, conn.Conn())
	if err != nil {
		return 0, err
	}

	ran := 0
	for _, mig := range m.migrations {
		if applied[mig.Version] {
			continue
		}
		err := pgx.BeginFunc(ctx, conn, func(tx pgx.Tx) error {
			if _, err := tx.Exec(ctx, mig.SQL); err != nil {
				return err
			}
			_, err := tx.Exec(ctx, `INSERT INTO schema_migrations (version, name) VALUES ($1, $2)`, mig.Version, mig.Name)
			return err
		})
		if err != nil {
			return ran, fmt.Errorf("%w: %03d_%s: %v", ErrMigrationFailed, mig.Version, mig.Name, err)
		}
		ran++
	}
	return ran, nil
}

func appliedVersions(ctx context.Context, conn *pgx.Conn) (map[int]bool, error) {
	rows, err := conn.Query(ctx, `SELECT version FROM schema_migrations`)
	if err != nil {
		return nil, fmt.Errorf("%w: read applied: %v", ErrMigrationFailed, err)
	}
	versions, err := pgx.CollectRows(rows, pgx.RowTo[int32])
	if err != nil {
		return nil, fmt.Errorf("%w: read applied: %v", ErrMigrationFailed, err)
	}

	out := make(map[int]bool, len(versions))
	for _, v := range versions {
		out[int(v)] = true
	}
	return out, nil
}

// Migrations returns the embedded schema steps.
func Migrations() []Migration {
	return []Migration{
		{Version: 1, Name: "create_student_decisions", SQL: createStudentDecisions},
		{Version: 2, Name: "add_decision_indexes", SQL: addDecisionIndexes},
	}
}

// One row per student and cycle. Cycle 1 covers months 4/5, cycle 2 months 10/11.
const createStudentDecisions = `
CREATE TABLE IF NOT EXISTS student_decisions (
    id UUID PRIMARY KEY,
    student_id VARCHAR(64) NOT NULL,
    cycle SMALLINT NOT NULL,
    extension_certainty VARCHAR(16) NOT NULL DEFAULT '',
    hearing_done BOOLEAN NOT NULL DEFAULT FALSE,
    examination_result VARCHAR(16) NOT NULL DEFAULT '',
    notes TEXT NOT NULL DEFAULT '',
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),

    CONSTRAINT uq_student_decisions_student_cycle UNIQUE (student_id, cycle),
    CONSTRAINT valid_cycle CHECK (cycle IN (1, 2)),
    CONSTRAINT valid_certainty CHECK (extension_certainty IN ('', '高', '中', '低', '対象外')),
    CONSTRAINT valid_result CHECK (examination_result IN ('', '延長', '退会', '在籍')),
    CONSTRAINT valid_notes CHECK (char_length(notes) <= 2000)
);
`

const addDecisionIndexes = `
CREATE INDEX IF NOT EXISTS idx_student_decisions_cycle ON student_decisions(cycle);
CREATE INDEX IF NOT EXISTS idx_student_decisions_updated_at ON student_decisions(updated_at DESC);
`
