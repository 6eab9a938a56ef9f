// Package decision holds the human extension decisions recorded per student and cycle.
package decision

import (
	"context"
	"strings"
	"time"

	"github.com/coachlab/extension-tracker/internal/domain/milestone"
	"github.com/coachlab/extension-tracker/internal/domain/shared"
)

// Certainty values recorded at the hearing.
const (
	CertaintyHigh          = "高"
	CertaintyMid           = "中"
	CertaintyLow           = "低"
	CertaintyNotApplicable = "対象外"
)

// Examination outcomes.
const (
	ResultExtended  = "延長"
	ResultWithdrawn = "退会"
	ResultEnrolled  = "在籍"
)

// MaxNotesLength bounds the free-form notes field.
const MaxNotesLength = 2000

// Decision is the persisted decision for one (student, cycle) pair.
type Decision struct {
	ID                 string          `json:"id"`
	StudentID          string          `json:"student_id"`
	Cycle              milestone.Cycle `json:"cycle"`
	ExtensionCertainty string          `json:"extension_certainty"`
	HearingDone        bool            `json:"hearing_status"`
	ExaminationResult  string          `json:"examination_result"`
	Notes              string          `json:"notes"`
	CreatedAt          time.Time       `json:"created_at"`
	UpdatedAt          time.Time       `json:"updated_at"`
}

// Input is the writable part of a Decision.
type Input struct {
	ExtensionCertainty string `json:"extension_certainty" validate:"omitempty,oneof=高 中 低 対象外"`
	HearingDone        bool   `json:"hearing_status"`
	ExaminationResult  string `json:"examination_result" validate:"omitempty,oneof=延長 退会 在籍"`
	Notes              string `json:"notes" validate:"max=2000"`
}

// HasCertainty reports whether a real certainty was recorded (not 対象外).
func (d *Decision) HasCertainty() bool {
	return d != nil && d.ExtensionCertainty != "" && d.ExtensionCertainty != CertaintyNotApplicable
}

// ValidateKey checks the (studentID, cycle) key every repository call uses.
func ValidateKey(studentID string, cycle milestone.Cycle) error {
	if strings.TrimSpace(studentID) == "" {
		return shared.ErrEmptyStudentID
	}
	if !cycle.IsValid() {
		return shared.ErrInvalidCycle
	}
	return nil
}

// UniqueIDs trims, drops empty entries and removes duplicates, keeping order.
func UniqueIDs(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

// Repository persists decisions keyed by (studentID, cycle).
type Repository interface {
	// Get returns nil, nil when no decision exists.
	Get(ctx context.Context, studentID string, cycle milestone.Cycle) (*Decision, error)

	// Upsert creates or replaces the decision. Idempotent per (studentID, cycle).
	Upsert(ctx context.Context, studentID string, cycle milestone.Cycle, in Input) (*Decision, error)

	// BulkGet returns the decisions that exist, keyed by student ID.
	BulkGet(ctx context.Context, studentIDs []string, cycle milestone.Cycle) (map[string]*Decision, error)
}
