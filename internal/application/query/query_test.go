package query

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coachlab/extension-tracker/internal/domain/decision"
	"github.com/coachlab/extension-tracker/internal/domain/milestone"
	"github.com/coachlab/extension-tracker/internal/domain/shared"
	"github.com/coachlab/extension-tracker/internal/domain/student"
	"github.com/coachlab/extension-tracker/pkg/timeutil"
)

type fakeSheets struct {
	forms       student.FormUpdates
	suspensions student.Suspensions
}

func (f fakeSheets) FormUpdates(ctx context.Context) student.FormUpdates { return f.forms }
func (f fakeSheets) Suspensions(ctx context.Context) student.Suspensions { return f.suspensions }

type fakeDecisions struct {
	byKey map[milestone.Cycle]map[string]*decision.Decision
	calls []milestone.Cycle
}

func (f *fakeDecisions) Get(ctx context.Context, id string, c milestone.Cycle) (*decision.Decision, error) {
	return f.byKey[c][id], nil
}

func (f *fakeDecisions) Upsert(ctx context.Context, id string, c milestone.Cycle, in decision.Input) (*decision.Decision, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeDecisions) BulkGet(ctx context.Context, ids []string, c milestone.Cycle) (map[string]*decision.Decision, error) {
	f.calls = append(f.calls, c)
	out := make(map[string]*decision.Decision)
	for _, id := range ids {
		if d, ok := f.byKey[c][id]; ok {
			out[id] = d
		}
	}
	return out, nil
}

// 2024-09-15 12:00 JST
var referenceTime = time.Date(2024, 9, 15, 12, 0, 0, 0, timeutil.TokyoTZ)

func fixtureRecords() []student.Record {
	return []student.Record{
		{StudentID: "S1", Name: "A", LessonStartDate: "2024/05/01", Status: student.StatusActive},
		{StudentID: "S2", Name: "B", LessonStartDate: "2024/04/01", Status: student.StatusActive},
		{StudentID: "S3", Name: "C", LessonStartDate: "2023/11/01", Status: student.StatusActive},
		{StudentID: "S4", Name: "D", LessonStartDate: "2024/05/10", Status: student.StatusWithdrawn},
		{StudentID: "S5", Name: "E", LessonStartDate: "2023/10/01", Status: student.StatusActive},
		{StudentID: "S6", Name: "F", LessonStartDate: "not a date", Status: student.StatusActive},
	}
}

func newTestAggregator(records []student.Record, sheets fakeSheets, opts ...AggregatorOption) *Aggregator {
	src := student.RecordSourceFunc(func(ctx context.Context) ([]student.Record, error) {
		return records, nil
	})
	cal := milestone.NewCalendar(milestone.WithClock(timeutil.FixedClock(referenceTime)))
	return NewAggregator(src, sheets, cal, opts...)
}

func defaultSheets() fakeSheets {
	return fakeSheets{
		forms:       student.FormUpdates{"S1": "2024/09/01"},
		suspensions: student.Suspensions{"S3": {Months: 2, HasHistory: true}, "S2": {HasHistory: true}},
	}
}

func byID(views []student.EnrichedView) map[string]student.EnrichedView {
	out := make(map[string]student.EnrichedView, len(views))
	for _, v := range views {
		out[v.StudentID] = v
	}
	return out
}

func ids(views []student.EnrichedView) []string {
	out := make([]string, 0, len(views))
	for _, v := range views {
		out = append(out, v.StudentID)
	}
	return out
}

func TestAggregator_EnrichedStudents(t *testing.T) {
	agg := newTestAggregator(fixtureRecords(), defaultSheets())

	views, err := agg.EnrichedStudents(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, views, 6)

	got := byID(views)
	assert.Equal(t, 4, got["S1"].MonthsElapsed)
	assert.Equal(t, 5, got["S2"].MonthsElapsed)
	assert.Equal(t, 10, got["S3"].MonthsElapsed)
	assert.Equal(t, 0, got["S6"].MonthsElapsed, "malformed date yields 0")

	assert.Equal(t, 8, got["S3"].AdjustedMonths)
	assert.Equal(t, 2, got["S3"].SuspensionMonths)
	assert.True(t, got["S3"].HasSuspensionHistory)

	require.NotNil(t, got["S1"].FormLastUpdate)
	assert.Equal(t, "2024/09/01", *got["S1"].FormLastUpdate)
	assert.Nil(t, got["S2"].FormLastUpdate)

	for _, v := range views {
		assert.GreaterOrEqual(t, v.AdjustedMonths, 0)
		assert.LessOrEqual(t, v.AdjustedMonths, v.MonthsElapsed)
	}
}

func TestAggregator_MonthOffset(t *testing.T) {
	agg := newTestAggregator(fixtureRecords(), defaultSheets())

	views, err := agg.EnrichedStudents(context.Background(), 1)
	require.NoError(t, err)

	got := byID(views)
	assert.Equal(t, 5, got["S1"].MonthsElapsed)
	assert.Equal(t, 11, got["S3"].MonthsElapsed)
}

func TestAggregator_SuspensionAdjustmentDisabled(t *testing.T) {
	agg := newTestAggregator(fixtureRecords(), defaultSheets(),
		WithSuspensionAdjustment(func() bool { return false }))

	views, err := agg.EnrichedStudents(context.Background(), 0)
	require.NoError(t, err)

	s3 := byID(views)["S3"]
	assert.Equal(t, 10, s3.AdjustedMonths)
	assert.Equal(t, 2, s3.SuspensionMonths)
}

func TestAggregator_StudentFetchFails(t *testing.T) {
	src := student.RecordSourceFunc(func(ctx context.Context) ([]student.Record, error) {
		return nil, errors.New("notion down")
	})
	agg := NewAggregator(src, defaultSheets(), nil)

	_, err := agg.ListHearingMilestones(context.Background(), 0)
	require.Error(t, err)
	assert.True(t, shared.IsExternalService(err))
	assert.ErrorIs(t, err, shared.ErrExternalService)
}

func TestAggregator_Lists(t *testing.T) {
	agg := newTestAggregator(fixtureRecords(), defaultSheets())
	ctx := context.Background()

	hearing, err := agg.ListHearingMilestones(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"S1", "S3"}, ids(hearing), "withdrawn S4 is excluded")

	// S3 started 2023-11: ten months elapsed, two of them suspended
	s3 := byID(hearing)["S3"]
	assert.Equal(t, 10, s3.MonthsElapsed)
	assert.Equal(t, 2, s3.SuspensionMonths)
	assert.True(t, s3.HasSuspensionHistory)
	assert.Equal(t, 8, s3.AdjustedMonths)
	assert.Nil(t, s3.FormLastUpdate)

	s1 := byID(hearing)["S1"]
	assert.Equal(t, 4, s1.AdjustedMonths)
	require.NotNil(t, s1.FormLastUpdate)
	assert.Equal(t, "2024/09/01", *s1.FormLastUpdate)

	exam, err := agg.ListExaminationMilestones(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"S2", "S5"}, ids(exam))

	susp, err := agg.ListSuspensionHistory(ctx, 0)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"S2", "S3"}, ids(susp))

	all, err := agg.ListAllEnriched(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, all, 6)
}

func TestMilestoneSubset(t *testing.T) {
	views := []student.EnrichedView{
		{Record: student.Record{StudentID: "a", Status: student.StatusActive}, MonthsElapsed: 4},
		{Record: student.Record{StudentID: "b", Status: student.StatusSuspended}, MonthsElapsed: 4},
		{Record: student.Record{StudentID: "c", Status: student.StatusActive}, MonthsElapsed: 5},
	}

	assert.Equal(t, []string{"a", "b"}, ids(MilestoneSubset(views, 4, false)))
	assert.Equal(t, []string{"a"}, ids(MilestoneSubset(views, 4, true)))
	assert.Empty(t, MilestoneSubset(views, 10, true))
	assert.NotNil(t, MilestoneSubset(nil, 4, true))
}

func TestDashboard(t *testing.T) {
	agg := newTestAggregator(fixtureRecords(), defaultSheets())
	decisions := &fakeDecisions{byKey: map[milestone.Cycle]map[string]*decision.Decision{
		milestone.CycleFirst: {
			"S1": {StudentID: "S1", ExtensionCertainty: decision.CertaintyHigh},
			"S2": {StudentID: "S2", ExaminationResult: decision.ResultExtended},
		},
		milestone.CycleSecond: {
			"S3": {StudentID: "S3", ExtensionCertainty: decision.CertaintyNotApplicable},
			"S5": {StudentID: "S5", ExaminationResult: decision.ResultWithdrawn},
		},
	}}

	res, err := NewDashboardHandler(agg, decisions).Handle(context.Background(), DashboardQuery{})
	require.NoError(t, err)

	assert.Equal(t, 6, res.TotalStudents)
	assert.Equal(t, 2, res.HearingCount)
	assert.Equal(t, 2, res.ExaminationCount)
	assert.Equal(t, 1, res.CertaintyFilledCount, "対象外 is not a filled certainty")
	assert.Equal(t, 1, res.CertaintyHigh)
	assert.Equal(t, 1, res.ExtensionCount)
	assert.Equal(t, 1, res.WithdrawalCount)
	assert.InDelta(t, 50.0, res.ExtensionRate, 0.001)
	assert.InDelta(t, 50.0, res.ExtensionRateVsResult, 0.001)
	assert.Equal(t, 0, res.RemainingCount)
	assert.Equal(t, DefaultExtensionRateTarget, res.ExtensionRateTarget)
	assert.Equal(t, 2, res.ExtensionCountTarget)

	assert.Equal(t, RoundStats{Month: 5, TargetCount: 1, ExtensionCount: 1, ExtensionRate: 100}, res.FirstRound)
	assert.Equal(t, RoundStats{Month: 11, TargetCount: 1}, res.SecondRound)
}

func TestDashboard_ExplicitCycle(t *testing.T) {
	agg := newTestAggregator(fixtureRecords(), defaultSheets())
	decisions := &fakeDecisions{byKey: map[milestone.Cycle]map[string]*decision.Decision{
		milestone.CycleSecond: {
			"S2": {StudentID: "S2", ExaminationResult: decision.ResultExtended},
		},
	}}

	res, err := NewDashboardHandler(agg, decisions).Handle(context.Background(),
		DashboardQuery{Cycle: milestone.CycleSecond, ExtensionRateTarget: 50})
	require.NoError(t, err)

	assert.Equal(t, 1, res.ExtensionCount)
	assert.Equal(t, 1, res.ExtensionCountTarget)
	for _, c := range decisions.calls {
		assert.Equal(t, milestone.CycleSecond, c)
	}
}

func TestDashboard_InvalidCycle(t *testing.T) {
	agg := newTestAggregator(fixtureRecords(), defaultSheets())

	_, err := NewDashboardHandler(agg, &fakeDecisions{}).Handle(context.Background(), DashboardQuery{Cycle: 3})
	assert.ErrorIs(t, err, shared.ErrInvalidCycle)
}

func TestDashboard_Empty(t *testing.T) {
	agg := newTestAggregator(nil, fakeSheets{})

	res, err := NewDashboardHandler(agg, &fakeDecisions{}).Handle(context.Background(), DashboardQuery{})
	require.NoError(t, err)
	assert.Zero(t, res.ExtensionRate)
	assert.Zero(t, res.ExtensionRateVsResult)
	assert.Zero(t, res.ExtensionCountTarget)
}
