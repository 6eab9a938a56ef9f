package query

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coachlab/extension-tracker/internal/domain/decision"
	"github.com/coachlab/extension-tracker/internal/domain/milestone"
	"github.com/coachlab/extension-tracker/internal/domain/shared"
)

func TestDecisionsHandler_Get(t *testing.T) {
	repo := &fakeDecisions{byKey: map[milestone.Cycle]map[string]*decision.Decision{
		milestone.CycleFirst: {"S1": {StudentID: "S1", Notes: "x"}},
	}}
	h := NewDecisionsHandler(repo)
	ctx := context.Background()

	d, err := h.Get(ctx, " S1 ", milestone.CycleFirst)
	require.NoError(t, err)
	assert.Equal(t, "x", d.Notes)

	d, err = h.Get(ctx, "S1", milestone.CycleSecond)
	require.NoError(t, err)
	assert.Nil(t, d)

	_, err = h.Get(ctx, "", milestone.CycleFirst)
	assert.True(t, shared.IsValidation(err))

	_, err = h.Get(ctx, "S1", milestone.Cycle(3))
	assert.ErrorIs(t, err, shared.ErrInvalidCycle)
}

func TestDecisionsHandler_BulkGet(t *testing.T) {
	repo := &fakeDecisions{byKey: map[milestone.Cycle]map[string]*decision.Decision{
		milestone.CycleFirst: {"S1": {StudentID: "S1"}},
	}}
	h := NewDecisionsHandler(repo)
	ctx := context.Background()

	found, err := h.BulkGet(ctx, []string{"S1", "S2", "S1", ""}, milestone.CycleFirst)
	require.NoError(t, err)
	assert.Len(t, found, 1)
	assert.Contains(t, found, "S1")

	_, err = h.BulkGet(ctx, nil, milestone.CycleFirst)
	assert.ErrorIs(t, err, shared.ErrEmptyStudentIDs)

	_, err = h.BulkGet(ctx, []string{" ", ""}, milestone.CycleFirst)
	assert.ErrorIs(t, err, shared.ErrEmptyStudentIDs)

	_, err = h.BulkGet(ctx, []string{"S1"}, milestone.CycleNone)
	assert.ErrorIs(t, err, shared.ErrInvalidCycle)
}
