package query

import (
	"context"
	"math"

	"github.com/coachlab/extension-tracker/internal/domain/decision"
	"github.com/coachlab/extension-tracker/internal/domain/milestone"
	"github.com/coachlab/extension-tracker/internal/domain/shared"
	"github.com/coachlab/extension-tracker/internal/domain/student"
)

// ══════════════════════════════════════════════════════════════════════════════
// DASHBOARD QUERY
// Сводка по слушаниям и рассмотрениям продления с учётом решений.
// ══════════════════════════════════════════════════════════════════════════════

// DefaultExtensionRateTarget - целевая доля продлений в процентах.
const DefaultExtensionRateTarget = 80.0

// DashboardQuery содержит параметры запроса.
type DashboardQuery struct {
	// MonthOffset - сдвиг опорной даты в месяцах.
	MonthOffset int

	// Cycle - если задан, решения берутся только из этого цикла.
	// Иначе цикл определяется по месяцу каждого студента.
	Cycle milestone.Cycle

	// ExtensionRateTarget - целевая доля продлений (0-100).
	ExtensionRateTarget float64
}

// Validate проверяет параметры и подставляет значения по умолчанию.
func (q *DashboardQuery) Validate() error {
	if q.Cycle != milestone.CycleNone && !q.Cycle.IsValid() {
		return shared.ErrInvalidCycle
	}
	if q.ExtensionRateTarget <= 0 || q.ExtensionRateTarget > 100 {
		q.ExtensionRateTarget = DefaultExtensionRateTarget
	}
	return nil
}

// RoundStats - показатели одного раунда рассмотрения.
type RoundStats struct {
	Month          int     `json:"month"`
	TargetCount    int     `json:"targetCount"`
	ExtensionCount int     `json:"extensionCount"`
	ExtensionRate  float64 `json:"extensionRate"`
}

// DashboardResult - сводка для панели.
type DashboardResult struct {
	TotalStudents    int `json:"totalStudents"`
	HearingCount     int `json:"hearingCount"`
	ExaminationCount int `json:"examinationCount"`

	CertaintyFilledCount int `json:"certaintyFilledCount"`
	CertaintyHigh        int `json:"certaintyHigh"`
	CertaintyMid         int `json:"certaintyMid"`
	CertaintyLow         int `json:"certaintyLow"`

	ExtensionCount        int     `json:"extensionCount"`
	WithdrawalCount       int     `json:"withdrawalCount"`
	ExtensionRate         float64 `json:"extensionRate"`
	ExtensionRateVsResult float64 `json:"extensionRateVsResult"`
	RemainingCount        int     `json:"remainingCount"`

	ExtensionRateTarget  float64 `json:"extensionRateKPI"`
	ExtensionCountTarget int     `json:"extensionCountKPI"`

	FirstRound  RoundStats `json:"exam1st"`
	SecondRound RoundStats `json:"exam2nd"`
}

// DashboardHandler считает показатели панели.
type DashboardHandler struct {
	aggregator *Aggregator
	decisions  decision.Repository
}

// NewDashboardHandler создаёт обработчик.
func NewDashboardHandler(aggregator *Aggregator, decisions decision.Repository) *DashboardHandler {
	return &DashboardHandler{
		aggregator: aggregator,
		decisions:  decisions,
	}
}

// Handle выполняет запрос.
func (h *DashboardHandler) Handle(ctx context.Context, q DashboardQuery) (*DashboardResult, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}

	views, err := h.aggregator.EnrichedStudents(ctx, q.MonthOffset)
	if err != nil {
		return nil, err
	}

	var hearing, examination []student.EnrichedView
	for _, m := range milestone.HearingMonths {
		hearing = append(hearing, MilestoneSubset(views, m, true)...)
	}
	for _, m := range milestone.ExaminationMonths {
		examination = append(examination, MilestoneSubset(views, m, true)...)
	}

	hearingDecisions, err := h.lookup(ctx, hearing, q.Cycle)
	if err != nil {
		return nil, err
	}
	examDecisions, err := h.lookup(ctx, examination, q.Cycle)
	if err != nil {
		return nil, err
	}

	res := &DashboardResult{
		TotalStudents:       len(views),
		HearingCount:        len(hearing),
		ExaminationCount:    len(examination),
		ExtensionRateTarget: q.ExtensionRateTarget,
		FirstRound:          RoundStats{Month: milestone.ExaminationFirst},
		SecondRound:         RoundStats{Month: milestone.ExaminationSecond},
	}

	for _, v := range hearing {
		d := hearingDecisions[v.StudentID]
		if d.HasCertainty() {
			res.CertaintyFilledCount++
		}
		if d == nil {
			continue
		}
		switch d.ExtensionCertainty {
		case decision.CertaintyHigh:
			res.CertaintyHigh++
		case decision.CertaintyMid:
			res.CertaintyMid++
		case decision.CertaintyLow:
			res.CertaintyLow++
		}
	}

	for _, v := range examination {
		round := &res.FirstRound
		if v.MonthsElapsed == milestone.ExaminationSecond {
			round = &res.SecondRound
		}
		round.TargetCount++

		d := examDecisions[v.StudentID]
		if d == nil {
			continue
		}
		switch d.ExaminationResult {
		case decision.ResultExtended:
			res.ExtensionCount++
			round.ExtensionCount++
		case decision.ResultWithdrawn:
			res.WithdrawalCount++
		}
	}

	res.ExtensionRate = percent(res.ExtensionCount, res.ExaminationCount)
	res.ExtensionRateVsResult = percent(res.ExtensionCount, res.ExtensionCount+res.WithdrawalCount)
	res.RemainingCount = res.ExaminationCount - res.ExtensionCount - res.WithdrawalCount
	res.ExtensionCountTarget = int(math.Ceil(float64(res.ExaminationCount) * q.ExtensionRateTarget / 100))
	res.FirstRound.ExtensionRate = percent(res.FirstRound.ExtensionCount, res.FirstRound.TargetCount)
	res.SecondRound.ExtensionRate = percent(res.SecondRound.ExtensionCount, res.SecondRound.TargetCount)

	return res, nil
}

// lookup загружает решения пачками по циклам.
func (h *DashboardHandler) lookup(ctx context.Context, views []student.EnrichedView, cycle milestone.Cycle) (map[string]*decision.Decision, error) {
	byCycle := make(map[milestone.Cycle][]string)
	for _, v := range views {
		c := cycle
		if c == milestone.CycleNone {
			c = milestone.CycleFor(v.MonthsElapsed)
		}
		byCycle[c] = append(byCycle[c], v.StudentID)
	}

	out := make(map[string]*decision.Decision)
	for c, ids := range byCycle {
		found, err := h.decisions.BulkGet(ctx, ids, c)
		if err != nil {
			return nil, err
		}
		for id, d := range found {
			out[id] = d
		}
	}
	return out, nil
}

// percent возвращает part/total*100 или 0 при пустом знаменателе.
func percent(part, total int) float64 {
	if total == 0 {
		return 0
	}
	return float64(part) / float64(total) * 100
}
