package sheets

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/coachlab/extension-tracker/internal/domain/student"
)

// ValueRangeDTO is the response of GET /spreadsheets/{id}/values/{range}.
type ValueRangeDTO struct {
	Range          string  `json:"range"`
	MajorDimension string  `json:"majorDimension"`
	Values         [][]any `json:"values"`
}

// FormUpdatesFromRows maps form response rows. Rows missing the student ID or
// the update label are skipped; a later row for the same student wins.
func FormUpdatesFromRows(rows [][]any, layout FormUpdatesLayout) student.FormUpdates {
	updates := make(student.FormUpdates)
	for _, row := range dataRows(rows, layout.HeaderRows) {
		lastUpdate := cell(row, layout.LastUpdateCol)
		studentID := cell(row, layout.StudentIDCol)
		if studentID == "" || lastUpdate == "" {
			continue
		}
		updates[studentID] = lastUpdate
	}
	return updates
}

// SuspensionsFromRows maps suspension rows. Only students with suspended
// months or a history flag are kept; non-numeric months count as zero.
func SuspensionsFromRows(rows [][]any, layout SuspensionsLayout) student.Suspensions {
	suspensions := make(student.Suspensions)
	for _, row := range dataRows(rows, layout.HeaderRows) {
		studentID := cell(row, layout.StudentIDCol)
		if studentID == "" {
			continue
		}

		s := student.Suspension{
			Months:     parseMonths(cell(row, layout.MonthsCol)),
			HasHistory: IsTruthy(cell(row, layout.HistoryCol)),
		}
		if !s.IsRecorded() {
			continue
		}
		suspensions[studentID] = s
	}
	return suspensions
}

// IsTruthy reports whether a history flag cell is set.
func IsTruthy(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "true", "1", "yes", "有", "あり":
		return true
	default:
		return false
	}
}

func dataRows(rows [][]any, headerRows int) [][]any {
	if headerRows >= len(rows) {
		return nil
	}
	if headerRows < 0 {
		headerRows = 0
	}
	return rows[headerRows:]
}

// cell returns the trimmed text of row[col], or "" when the row is short.
// The API drops trailing empty cells, so short rows are normal.
func cell(row []any, col int) string {
	if col < 0 || col >= len(row) || row[col] == nil {
		return ""
	}
	switch v := row[col].(type) {
	case string:
		return strings.TrimSpace(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(v)
	default:
		return strings.TrimSpace(fmt.Sprint(v))
	}
}

// maxMonths bounds a plausible suspension length. Larger values are treated
// like any other unreadable cell.
const maxMonths = math.MaxInt32

// parseMonths reads a non-negative month count. Fractions are truncated;
// anything non-numeric or out of range counts as 0.
func parseMonths(v string) int {
	if v == "" {
		return 0
	}
	if n, err := strconv.Atoi(v); err == nil {
		if n > maxMonths {
			return 0
		}
		return max(n, 0)
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || math.IsNaN(f) || f <= 0 || f > maxMonths {
		return 0
	}
	return int(f)
}
