package notion

import (
	"strconv"
	"strings"

	"github.com/coachlab/extension-tracker/internal/domain/student"
)

// PropertyNames names the database columns read into a student.Record.
type PropertyNames struct {
	StudentID   string `yaml:"student_id"`
	Name        string `yaml:"name"`
	Tutor       string `yaml:"tutor"`
	Plan        string `yaml:"plan"`
	LessonStart string `yaml:"lesson_start"`
	Status      string `yaml:"status"`
}

// DefaultPropertyNames returns the column names of the coaching database.
func DefaultPropertyNames() PropertyNames {
	return PropertyNames{
		StudentID:   "学籍番号",
		Name:        "名前",
		Tutor:       "担任Tutor",
		Plan:        "契約プラン",
		LessonStart: "レッスン開始月",
		Status:      "ステータス",
	}
}

// withDefaults fills empty names from DefaultPropertyNames.
func (p PropertyNames) withDefaults() PropertyNames {
	d := DefaultPropertyNames()
	if p.StudentID == "" {
		p.StudentID = d.StudentID
	}
	if p.Name == "" {
		p.Name = d.Name
	}
	if p.Tutor == "" {
		p.Tutor = d.Tutor
	}
	if p.Plan == "" {
		p.Plan = d.Plan
	}
	if p.LessonStart == "" {
		p.LessonStart = d.LessonStart
	}
	if p.Status == "" {
		p.Status = d.Status
	}
	return p
}

// Mapper converts Notion pages into domain records.
type Mapper struct {
	props  PropertyNames
	labels student.StatusLabels
}

// NewMapper creates a Mapper. Empty property names fall back to the defaults.
func NewMapper(props PropertyNames, labels student.StatusLabels) *Mapper {
	if labels == nil {
		labels = student.DefaultStatusLabels()
	}
	return &Mapper{props: props.withDefaults(), labels: labels}
}

// RecordFromPage converts a page into a student.Record. The record may be
// unusable; callers filter with student.FilterUsable.
func (m *Mapper) RecordFromPage(page PageDTO) student.Record {
	p := page.Properties
	statusLabel := PropertyText(p[m.props.Status])

	return student.Record{
		ID:              page.ID,
		StudentID:       strings.TrimSpace(PropertyText(p[m.props.StudentID])),
		Name:            PropertyText(p[m.props.Name]),
		Tutor:           PropertyText(p[m.props.Tutor]),
		Plan:            PropertyText(p[m.props.Plan]),
		LessonStartDate: strings.TrimSpace(PropertyText(p[m.props.LessonStart])),
		Status:          m.labels.Resolve(statusLabel),
		StatusLabel:     statusLabel,
		SourceURL:       page.URL,
	}
}

// RecordsFromPages converts pages, skipping archived ones and rows that lack
// a student ID or a lesson start date.
func (m *Mapper) RecordsFromPages(pages []PageDTO) []student.Record {
	records := make([]student.Record, 0, len(pages))
	for _, page := range pages {
		if page.Archived || page.InTrash {
			continue
		}
		records = append(records, m.RecordFromPage(page))
	}
	return student.FilterUsable(records)
}

// PropertyText extracts a property value as text according to its type.
// Unsupported or empty properties yield "".
func PropertyText(p PropertyDTO) string {
	switch p.Type {
	case "title":
		return joinRichText(p.Title)
	case "rich_text":
		return joinRichText(p.RichText)
	case "number":
		if p.Number == nil {
			return ""
		}
		return formatNumber(*p.Number)
	case "select":
		if p.Select == nil {
			return ""
		}
		return p.Select.Name
	case "status":
		if p.Status == nil {
			return ""
		}
		return p.Status.Name
	case "multi_select":
		names := make([]string, 0, len(p.MultiSelect))
		for _, o := range p.MultiSelect {
			names = append(names, o.Name)
		}
		return strings.Join(names, ", ")
	case "date":
		if p.Date == nil {
			return ""
		}
		return p.Date.Start
	case "people":
		names := make([]string, 0, len(p.People))
		for _, person := range p.People {
			if person.Name != "" {
				names = append(names, person.Name)
			}
		}
		return strings.Join(names, ", ")
	case "email":
		return deref(p.Email)
	case "phone_number":
		return deref(p.PhoneNumber)
	case "url":
		return deref(p.URL)
	case "checkbox":
		if p.Checkbox == nil {
			return ""
		}
		return strconv.FormatBool(*p.Checkbox)
	case "formula":
		return formulaText(p.Formula)
	default:
		return ""
	}
}

func formulaText(f *FormulaDTO) string {
	if f == nil {
		return ""
	}
	switch f.Type {
	case "string":
		return deref(f.String)
	case "number":
		if f.Number == nil {
			return ""
		}
		return formatNumber(*f.Number)
	case "boolean":
		if f.Boolean == nil {
			return ""
		}
		return strconv.FormatBool(*f.Boolean)
	case "date":
		if f.Date == nil {
			return ""
		}
		return f.Date.Start
	}
	return ""
}

func joinRichText(parts []RichTextDTO) string {
	var b strings.Builder
	for _, part := range parts {
		b.WriteString(part.PlainText)
	}
	return b.String()
}

func formatNumber(n float64) string {
	return strconv.FormatFloat(n, 'f', -1, 64)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
