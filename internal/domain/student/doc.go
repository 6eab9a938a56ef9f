// Package student содержит доменную модель студента, чьи продления договора
// отслеживает сервис.
//
// Пакет определяет:
//
//   - Record: запись о студенте из внешнего хранилища (Notion)
//   - Status: нормализованный статус обучения
//   - Suspension: сведения о приостановках (из Google Sheets)
//   - EnrichedView: производное представление с рассчитанными месяцами
//   - Интерфейсы источников данных: RecordSource, FormUpdateSource, SuspensionSource
//
// # Архитектурные принципы
//
//  1. Нулевые внешние зависимости - только стандартная библиотека Go
//  2. Dependency Inversion - интерфейсы реализуются в infrastructure/external
//  3. EnrichedView никогда не сохраняется и пересчитывается на каждый запрос
//
// # Пример использования
//
//	view := student.Enrich(record, monthsElapsed, suspensions[record.StudentID], formUpdates)
//	if view.AdjustedMonths == 0 {
//	    // приостановка покрывает всё время обучения
//	}
package student
