package command

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coachlab/extension-tracker/internal/domain/decision"
	"github.com/coachlab/extension-tracker/internal/domain/milestone"
	"github.com/coachlab/extension-tracker/internal/domain/shared"
)

type memRepo struct {
	saved map[string]*decision.Decision
	err   error
}

func key(id string, c milestone.Cycle) string { return id + "/" + c.String() }

func (r *memRepo) Get(ctx context.Context, id string, c milestone.Cycle) (*decision.Decision, error) {
	return r.saved[key(id, c)], nil
}

func (r *memRepo) Upsert(ctx context.Context, id string, c milestone.Cycle, in decision.Input) (*decision.Decision, error) {
	if r.err != nil {
		return nil, r.err
	}
	if r.saved == nil {
		r.saved = make(map[string]*decision.Decision)
	}
	d := &decision.Decision{
		StudentID:          id,
		Cycle:              c,
		ExtensionCertainty: in.ExtensionCertainty,
		HearingDone:        in.HearingDone,
		ExaminationResult:  in.ExaminationResult,
		Notes:              in.Notes,
	}
	r.saved[key(id, c)] = d
	return d, nil
}

func (r *memRepo) BulkGet(ctx context.Context, ids []string, c milestone.Cycle) (map[string]*decision.Decision, error) {
	return nil, nil
}

func TestUpsertDecision_Valid(t *testing.T) {
	repo := &memRepo{}
	h := NewUpsertDecisionHandler(repo, nil, nil)

	d, err := h.Handle(context.Background(), UpsertDecisionCommand{
		StudentID: "  S1 ",
		Cycle:     milestone.CycleSecond,
		Decision: decision.Input{
			ExtensionCertainty: decision.CertaintyHigh,
			HearingDone:        true,
			ExaminationResult:  decision.ResultExtended,
			Notes:              "継続希望",
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "S1", d.StudentID)
	assert.Equal(t, milestone.CycleSecond, d.Cycle)
	assert.Contains(t, repo.saved, "S1/2")
}

func TestUpsertDecision_EmptyFieldsAllowed(t *testing.T) {
	h := NewUpsertDecisionHandler(&memRepo{}, nil, nil)

	_, err := h.Handle(context.Background(), UpsertDecisionCommand{StudentID: "S1", Cycle: 1})
	assert.NoError(t, err)
}

func TestUpsertDecision_Invalid(t *testing.T) {
	tests := []struct {
		name  string
		cmd   UpsertDecisionCommand
		field string
	}{
		{"blank student", UpsertDecisionCommand{StudentID: "  ", Cycle: 1}, "studentId"},
		{"bad cycle", UpsertDecisionCommand{StudentID: "S1", Cycle: 3}, "cycle"},
		{"zero cycle", UpsertDecisionCommand{StudentID: "S1"}, "cycle"},
		{"bad certainty", UpsertDecisionCommand{StudentID: "S1", Cycle: 1, Decision: decision.Input{ExtensionCertainty: "最高"}}, "extension_certainty"},
		{"bad result", UpsertDecisionCommand{StudentID: "S1", Cycle: 1, Decision: decision.Input{ExaminationResult: "保留"}}, "examination_result"},
		{"notes too long", UpsertDecisionCommand{StudentID: "S1", Cycle: 1, Decision: decision.Input{Notes: strings.Repeat("あ", decision.MaxNotesLength+1)}}, "notes"},
	}

	h := NewUpsertDecisionHandler(&memRepo{}, NewValidator(), nil)

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.Handle(context.Background(), tt.cmd)
			require.Error(t, err)
			assert.True(t, shared.IsValidation(err))

			var verr *ValidationError
			require.True(t, errors.As(err, &verr))
			assert.Contains(t, verr.Fields, tt.field)
		})
	}
}

func TestUpsertDecision_NotesAtLimit(t *testing.T) {
	h := NewUpsertDecisionHandler(&memRepo{}, nil, nil)

	_, err := h.Handle(context.Background(), UpsertDecisionCommand{
		StudentID: "S1",
		Cycle:     1,
		Decision:  decision.Input{Notes: strings.Repeat("あ", decision.MaxNotesLength)},
	})
	assert.NoError(t, err, "limit counts characters, not bytes")
}

func TestUpsertDecision_StoreFailure(t *testing.T) {
	h := NewUpsertDecisionHandler(&memRepo{err: errors.New("connection refused")}, nil, nil)

	_, err := h.Handle(context.Background(), UpsertDecisionCommand{StudentID: "S1", Cycle: 1})
	require.Error(t, err)
	assert.ErrorIs(t, err, shared.ErrServiceUnavailable)
	assert.False(t, shared.IsValidation(err))
}

func TestValidationError_Message(t *testing.T) {
	err := &ValidationError{Fields: map[string]string{"b": "b is bad", "a": "a is bad"}}
	assert.Equal(t, "validation failed: a is bad; b is bad", err.Error())
	assert.ErrorIs(t, err, shared.ErrValidation)
}
