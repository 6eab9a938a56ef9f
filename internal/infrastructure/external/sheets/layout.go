package sheets

// Layout describes where each signal lives in the spreadsheet.
// Columns are zero-based (A = 0).
type Layout struct {
	FormUpdates FormUpdatesLayout `yaml:"form_updates"`
	Suspensions SuspensionsLayout `yaml:"suspensions"`
}

// FormUpdatesLayout locates the extension form responses.
type FormUpdatesLayout struct {
	Range         string `yaml:"range"`
	HeaderRows    int    `yaml:"header_rows"`
	LastUpdateCol int    `yaml:"last_update_col"`
	StudentIDCol  int    `yaml:"student_id_col"`
}

// SuspensionsLayout locates the suspension history.
type SuspensionsLayout struct {
	Range        string `yaml:"range"`
	HeaderRows   int    `yaml:"header_rows"`
	StudentIDCol int    `yaml:"student_id_col"`
	MonthsCol    int    `yaml:"months_col"`
	HistoryCol   int    `yaml:"history_col"`
}

// DefaultLayout returns the layout of the coaching spreadsheet:
// Form_Responses!A:E with the update label in A and the student ID in E,
// and Suspensions!A:C with ID, months and history flag.
func DefaultLayout() Layout {
	return Layout{
		FormUpdates: FormUpdatesLayout{
			Range:         "Form_Responses!A:E",
			HeaderRows:    1,
			LastUpdateCol: 0,
			StudentIDCol:  4,
		},
		Suspensions: SuspensionsLayout{
			Range:        "Suspensions!A:C",
			HeaderRows:   1,
			StudentIDCol: 0,
			MonthsCol:    1,
			HistoryCol:   2,
		},
	}
}

// WithDefaults fills an empty range from DefaultLayout. Column indices are
// taken as given, since 0 is a valid column.
func (l Layout) WithDefaults() Layout {
	d := DefaultLayout()
	if l.FormUpdates.Range == "" {
		l.FormUpdates = d.FormUpdates
	}
	if l.Suspensions.Range == "" {
		l.Suspensions = d.Suspensions
	}
	if l.FormUpdates.HeaderRows < 0 {
		l.FormUpdates.HeaderRows = 0
	}
	if l.Suspensions.HeaderRows < 0 {
		l.Suspensions.HeaderRows = 0
	}
	return l
}
