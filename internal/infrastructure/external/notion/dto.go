package notion

import "encoding/json"

// ══════════════════════════════════════════════════════════════════════════════
// QUERY DTOs
// ══════════════════════════════════════════════════════════════════════════════

// QueryRequestDTO is the body of POST /databases/{id}/query.
type QueryRequestDTO struct {
	PageSize    int             `json:"page_size,omitempty"`
	StartCursor string          `json:"start_cursor,omitempty"`
	Filter      json.RawMessage `json:"filter,omitempty"`
}

// QueryResponseDTO is one page of query results.
type QueryResponseDTO struct {
	Object     string    `json:"object"`
	Results    []PageDTO `json:"results"`
	NextCursor *string   `json:"next_cursor"`
	HasMore    bool      `json:"has_more"`
}

// PageDTO is a database row.
type PageDTO struct {
	Object     string                 `json:"object"`
	ID         string                 `json:"id"`
	URL        string                 `json:"url"`
	Archived   bool                   `json:"archived"`
	InTrash    bool                   `json:"in_trash"`
	Properties map[string]PropertyDTO `json:"properties"`
}

// ══════════════════════════════════════════════════════════════════════════════
// PROPERTY DTOs
// ══════════════════════════════════════════════════════════════════════════════

// PropertyDTO is a page property value. Only the field named by Type is set.
type PropertyDTO struct {
	ID          string        `json:"id"`
	Type        string        `json:"type"`
	Title       []RichTextDTO `json:"title,omitempty"`
	RichText    []RichTextDTO `json:"rich_text,omitempty"`
	Number      *float64      `json:"number,omitempty"`
	Select      *OptionDTO    `json:"select,omitempty"`
	Status      *OptionDTO    `json:"status,omitempty"`
	MultiSelect []OptionDTO   `json:"multi_select,omitempty"`
	Date        *DateDTO      `json:"date,omitempty"`
	People      []PersonDTO   `json:"people,omitempty"`
	Email       *string       `json:"email,omitempty"`
	PhoneNumber *string       `json:"phone_number,omitempty"`
	URL         *string       `json:"url,omitempty"`
	Checkbox    *bool         `json:"checkbox,omitempty"`
	Formula     *FormulaDTO   `json:"formula,omitempty"`
}

// RichTextDTO is a rich text fragment.
type RichTextDTO struct {
	Type      string `json:"type"`
	PlainText string `json:"plain_text"`
}

// OptionDTO is a select, multi_select or status option.
type OptionDTO struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Color string `json:"color"`
}

// DateDTO is a date property value.
type DateDTO struct {
	Start    string  `json:"start"`
	End      *string `json:"end"`
	TimeZone *string `json:"time_zone"`
}

// PersonDTO is a user mentioned in a people property.
type PersonDTO struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// FormulaDTO is a computed property value.
type FormulaDTO struct {
	Type    string   `json:"type"`
	String  *string  `json:"string,omitempty"`
	Number  *float64 `json:"number,omitempty"`
	Boolean *bool    `json:"boolean,omitempty"`
	Date    *DateDTO `json:"date,omitempty"`
}
