package student

import (
	"context"
)

// ══════════════════════════════════════════════════════════════════════════════
// SOURCE INTERFACES
// Эти интерфейсы определяют контракт внешних источников данных.
// Реализации находятся в infrastructure/external.
// Каждый источник может отказать независимо от остальных.
// ══════════════════════════════════════════════════════════════════════════════

// RecordSource возвращает записи о студентах из внешнего хранилища.
type RecordSource interface {
	// FetchStudents возвращает все пригодные записи.
	// Записи без StudentID или LessonStartDate уже отброшены.
	FetchStudents(ctx context.Context) ([]Record, error)
}

// FormUpdateSource возвращает даты последнего обновления формы продления.
type FormUpdateSource interface {
	// FetchFormUpdates возвращает studentId → метка обновления.
	// Отсутствие ключа означает "обновлений не было".
	FetchFormUpdates(ctx context.Context) (FormUpdates, error)
}

// SuspensionSource возвращает сведения о приостановках.
type SuspensionSource interface {
	// FetchSuspensions возвращает только студентов с хотя бы одной приостановкой.
	FetchSuspensions(ctx context.Context) (Suspensions, error)
}

// ─────────────────────────────────────────────────────────────────────────────
// Function adapters
// ─────────────────────────────────────────────────────────────────────────────

// RecordSourceFunc позволяет использовать функцию как RecordSource.
type RecordSourceFunc func(ctx context.Context) ([]Record, error)

// FetchStudents вызывает f(ctx).
func (f RecordSourceFunc) FetchStudents(ctx context.Context) ([]Record, error) {
	return f(ctx)
}

// FormUpdateSourceFunc позволяет использовать функцию как FormUpdateSource.
type FormUpdateSourceFunc func(ctx context.Context) (FormUpdates, error)

// FetchFormUpdates вызывает f(ctx).
func (f FormUpdateSourceFunc) FetchFormUpdates(ctx context.Context) (FormUpdates, error) {
	return f(ctx)
}

// SuspensionSourceFunc позволяет использовать функцию как SuspensionSource.
type SuspensionSourceFunc func(ctx context.Context) (Suspensions, error)

// FetchSuspensions вызывает f(ctx).
func (f SuspensionSourceFunc) FetchSuspensions(ctx context.Context) (Suspensions, error) {
	return f(ctx)
}
