// Package query содержит операции чтения: обогащённые списки студентов
// и сводку показателей для панели.
package query

import (
	"context"
	"log/slog"

	"github.com/coachlab/extension-tracker/internal/domain/milestone"
	"github.com/coachlab/extension-tracker/internal/domain/shared"
	"github.com/coachlab/extension-tracker/internal/domain/student"
)

// ══════════════════════════════════════════════════════════════════════════════
// AGGREGATOR
// Объединяет записи студентов с данными из таблиц и рассчитывает месяцы.
// ══════════════════════════════════════════════════════════════════════════════

// SheetData отдаёт табличные данные из кэша или, при промахе, из источника.
// Реализуется refresh.Orchestrator.
type SheetData interface {
	FormUpdates(ctx context.Context) student.FormUpdates
	Suspensions(ctx context.Context) student.Suspensions
}

// Aggregator строит EnrichedView для всех студентов.
type Aggregator struct {
	students student.RecordSource
	sheets   SheetData
	calendar *milestone.Calendar
	logger   *slog.Logger

	// adjustSuspensions выключает вычитание приостановок (флаг suspension_adjustment).
	adjustSuspensions func() bool
}

// AggregatorOption настраивает Aggregator.
type AggregatorOption func(*Aggregator)

// WithSuspensionAdjustment задаёт проверку флага вычитания приостановок.
func WithSuspensionAdjustment(enabled func() bool) AggregatorOption {
	return func(a *Aggregator) {
		a.adjustSuspensions = enabled
	}
}

// WithAggregatorLogger задаёт логгер.
func WithAggregatorLogger(logger *slog.Logger) AggregatorOption {
	return func(a *Aggregator) {
		if logger != nil {
			a.logger = logger
		}
	}
}

// NewAggregator создаёт Aggregator.
func NewAggregator(
	students student.RecordSource,
	sheets SheetData,
	calendar *milestone.Calendar,
	opts ...AggregatorOption,
) *Aggregator {
	if calendar == nil {
		calendar = milestone.NewCalendar()
	}
	a := &Aggregator{
		students: students,
		sheets:   sheets,
		calendar: calendar,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// EnrichedStudents загружает студентов напрямую из хранилища записей,
// табличные данные берёт из кэша и рассчитывает месяцы со сдвигом monthOffset.
// Ошибка возвращается только при отказе хранилища записей.
func (a *Aggregator) EnrichedStudents(ctx context.Context, monthOffset int) ([]student.EnrichedView, error) {
	records, err := a.students.FetchStudents(ctx)
	if err != nil {
		return nil, shared.WrapError("query", "EnrichedStudents", shared.ErrExternalService, "failed to fetch students", err)
	}

	forms := a.sheets.FormUpdates(ctx)
	suspensions := a.sheets.Suspensions(ctx)
	adjust := a.adjustSuspensions == nil || a.adjustSuspensions()

	views := make([]student.EnrichedView, 0, len(records))
	for _, r := range records {
		months := a.calendar.ElapsedMonths(r.LessonStartDate, monthOffset)
		view := student.Enrich(r, months, suspensions, forms)
		if !adjust {
			view.AdjustedMonths = months
		}
		views = append(views, view)
	}

	a.logger.Debug("students enriched",
		"count", len(views),
		"month_offset", monthOffset,
	)

	return views, nil
}

// MilestoneSubset оставляет студентов, у которых MonthsElapsed ровно month.
// При activeOnly отбрасываются неактивные.
func MilestoneSubset(views []student.EnrichedView, month int, activeOnly bool) []student.EnrichedView {
	out := make([]student.EnrichedView, 0)
	for _, v := range views {
		if v.MonthsElapsed != month {
			continue
		}
		if activeOnly && !v.Status.IsActive() {
			continue
		}
		out = append(out, v)
	}
	return out
}

// ─────────────────────────────────────────────────────────────────────────────
// Списки
// ─────────────────────────────────────────────────────────────────────────────

// ListAllEnriched возвращает всех студентов.
func (a *Aggregator) ListAllEnriched(ctx context.Context, monthOffset int) ([]student.EnrichedView, error) {
	return a.EnrichedStudents(ctx, monthOffset)
}

// ListHearingMilestones возвращает активных студентов на 4-м и 10-м месяце.
func (a *Aggregator) ListHearingMilestones(ctx context.Context, monthOffset int) ([]student.EnrichedView, error) {
	return a.listMilestones(ctx, monthOffset, milestone.HearingMonths)
}

// ListExaminationMilestones возвращает активных студентов на 5-м и 11-м месяце.
func (a *Aggregator) ListExaminationMilestones(ctx context.Context, monthOffset int) ([]student.EnrichedView, error) {
	return a.listMilestones(ctx, monthOffset, milestone.ExaminationMonths)
}

// ListSuspensionHistory возвращает студентов, у которых были приостановки.
func (a *Aggregator) ListSuspensionHistory(ctx context.Context, monthOffset int) ([]student.EnrichedView, error) {
	views, err := a.EnrichedStudents(ctx, monthOffset)
	if err != nil {
		return nil, err
	}

	out := make([]student.EnrichedView, 0)
	for _, v := range views {
		if v.SuspensionMonths > 0 || v.HasSuspensionHistory {
			out = append(out, v)
		}
	}
	return out, nil
}

// listMilestones склеивает подмножества в порядке months.
func (a *Aggregator) listMilestones(ctx context.Context, monthOffset int, months []int) ([]student.EnrichedView, error) {
	views, err := a.EnrichedStudents(ctx, monthOffset)
	if err != nil {
		return nil, err
	}

	out := make([]student.EnrichedView, 0)
	for _, m := range months {
		out = append(out, MilestoneSubset(views, m, true)...)
	}
	return out, nil
}
