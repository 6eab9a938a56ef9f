package student

import (
	"strings"
)

// ══════════════════════════════════════════════════════════════════════════════
// ENUMS
// ══════════════════════════════════════════════════════════════════════════════

// Status определяет нормализованный статус студента.
type Status string

const (
	// StatusActive - студент учится (在籍).
	StatusActive Status = "active"
	// StatusSuspended - обучение приостановлено (休会).
	StatusSuspended Status = "suspended"
	// StatusWithdrawn - студент ушёл (退会).
	StatusWithdrawn Status = "withdrawn"
	// StatusPending - ожидает начала занятий.
	StatusPending Status = "pending"
	// StatusNoShow - не приходит на занятия.
	StatusNoShow Status = "no_show"
	// StatusOther - любой нераспознанный статус.
	StatusOther Status = "other"
)

// IsValid проверяет, что статус корректен.
func (s Status) IsValid() bool {
	switch s {
	case StatusActive, StatusSuspended, StatusWithdrawn, StatusPending, StatusNoShow, StatusOther:
		return true
	default:
		return false
	}
}

// IsActive возвращает true для студентов, которые сейчас учатся.
func (s Status) IsActive() bool {
	return s == StatusActive
}

// StatusLabels сопоставляет метки из внешнего хранилища со статусами.
type StatusLabels map[string]Status

// DefaultStatusLabels возвращает метки, используемые в базе Notion.
func DefaultStatusLabels() StatusLabels {
	return StatusLabels{
		"在籍":        StatusActive,
		"アクティブ":     StatusActive,
		"active":    StatusActive,
		"休会":        StatusSuspended,
		"suspended": StatusSuspended,
		"退会":        StatusWithdrawn,
		"withdrawn": StatusWithdrawn,
		"保留":        StatusPending,
		"入会待ち":      StatusPending,
		"pending":   StatusPending,
		"無断欠席":      StatusNoShow,
		"no-show":   StatusNoShow,
		"no_show":   StatusNoShow,
	}
}

// Resolve возвращает статус для метки. Неизвестные метки дают StatusOther.
func (l StatusLabels) Resolve(label string) Status {
	label = strings.TrimSpace(label)
	if s, ok := l[label]; ok {
		return s
	}
	if s, ok := l[strings.ToLower(label)]; ok {
		return s
	}
	return StatusOther
}

// Merge возвращает новый набор меток, дополненный extra.
func (l StatusLabels) Merge(extra map[string]Status) StatusLabels {
	merged := make(StatusLabels, len(l)+len(extra))
	for k, v := range l {
		merged[k] = v
	}
	for k, v := range extra {
		merged[k] = v
	}
	return merged
}

// ══════════════════════════════════════════════════════════════════════════════
// MAIN ENTITY: RECORD
// ══════════════════════════════════════════════════════════════════════════════

// Record - запись о студенте из внешнего хранилища.
// С точки зрения сервиса неизменяема.
type Record struct {
	// ID - идентификатор страницы во внешнем хранилище.
	ID string `json:"id"`

	// StudentID - бизнес-ключ (学籍番号), стабильный и уникальный.
	StudentID string `json:"studentId"`

	Name  string `json:"name"`
	Tutor string `json:"tutor"`
	Plan  string `json:"plan"`

	// LessonStartDate - месяц начала занятий, например "2024/04/01".
	LessonStartDate string `json:"lessonStartDate"`

	Status Status `json:"status"`

	// StatusLabel - исходная метка статуса.
	StatusLabel string `json:"statusLabel"`

	// SourceURL - ссылка на страницу во внешнем хранилище.
	SourceURL string `json:"sourceUrl"`
}

// IsUsable проверяет наличие обязательных полей.
// Записи без StudentID или LessonStartDate отбрасываются при загрузке.
func (r Record) IsUsable() bool {
	return strings.TrimSpace(r.StudentID) != "" && strings.TrimSpace(r.LessonStartDate) != ""
}

// FilterUsable оставляет только пригодные записи.
func FilterUsable(records []Record) []Record {
	out := make([]Record, 0, len(records))
	for _, r := range records {
		if r.IsUsable() {
			out = append(out, r)
		}
	}
	return out
}

// Suspension - сведения о приостановках обучения.
// Отсутствие записи равносильно нулевой приостановке.
type Suspension struct {
	Months     int  `json:"suspensionMonths"`
	HasHistory bool `json:"hasSuspensionHistory"`
}

// IsRecorded возвращает true, если приостановка действительно была.
func (s Suspension) IsRecorded() bool {
	return s.Months > 0 || s.HasHistory
}

// FormUpdates - studentId → метка последнего обновления формы.
type FormUpdates map[string]string

// Suspensions - studentId → сведения о приостановках.
type Suspensions map[string]Suspension

// ══════════════════════════════════════════════════════════════════════════════
// DERIVED VIEW
// ══════════════════════════════════════════════════════════════════════════════

// EnrichedView - запись, дополненная рассчитанными месяцами и сигналами из таблиц.
// Никогда не сохраняется.
type EnrichedView struct {
	Record

	MonthsElapsed        int     `json:"monthsElapsed"`
	AdjustedMonths       int     `json:"adjustedMonths"`
	SuspensionMonths     int     `json:"suspensionMonths"`
	HasSuspensionHistory bool    `json:"hasSuspensionHistory"`
	FormLastUpdate       *string `json:"formLastUpdate"`
}

// AdjustedMonths вычисляет max(0, elapsed - suspended).
func AdjustedMonths(elapsed, suspended int) int {
	if suspended < 0 {
		suspended = 0
	}
	if adjusted := elapsed - suspended; adjusted > 0 {
		return adjusted
	}
	return 0
}

// Enrich строит EnrichedView для записи.
func Enrich(r Record, monthsElapsed int, suspensions Suspensions, formUpdates FormUpdates) EnrichedView {
	susp := suspensions[r.StudentID]

	view := EnrichedView{
		Record:               r,
		MonthsElapsed:        monthsElapsed,
		AdjustedMonths:       AdjustedMonths(monthsElapsed, susp.Months),
		SuspensionMonths:     susp.Months,
		HasSuspensionHistory: susp.HasHistory,
	}
	if label, ok := formUpdates[r.StudentID]; ok && label != "" {
		view.FormLastUpdate = &label
	}
	return view
}
