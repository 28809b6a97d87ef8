package notion

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type Page struct {
	ID             string              `json:"id"`
	CreatedTime    time.Time           `json:"created_time"`
	LastEditedTime time.Time           `json:"last_edited_time"`
	Archived       bool                `json:"archived"`
	InTrash        bool                `json:"in_trash"`
	Parent         Parent              `json:"parent"`
	Properties     map[string]Property `json:"properties"`
	URL            string              `json:"url"`
}

type Parent struct {
	Type       string `json:"type"`
	DatabaseID string `json:"database_id"`
}

// Property carries one property value in the API envelope form: Type names
// the variant, exactly one of the typed fields is populated.
type Property struct {
	ID       string           `json:"id,omitempty"`
	Type     string           `json:"type"`
	Title    []RichText       `json:"title,omitempty"`
	RichText []RichText       `json:"rich_text,omitempty"`
	Number   *decimal.Decimal `json:"number,omitempty"`
	Select   *SelectOption    `json:"select,omitempty"`
	Status   *SelectOption    `json:"status,omitempty"`
	Date     *DateRange       `json:"date,omitempty"`
	Checkbox *bool            `json:"checkbox,omitempty"`
	Email    *string          `json:"email,omitempty"`
	People   []ObjectRef      `json:"people,omitempty"`
	Relation []ObjectRef      `json:"relation,omitempty"`
}

type RichText struct {
	PlainText string `json:"plain_text"`
}

type SelectOption struct {
	ID   string `json:"id,omitempty"`
	Name string `json:"name"`
}

type DateRange struct {
	Start string `json:"start"`
	End   string `json:"end,omitempty"`
}

type ObjectRef struct {
	ID string `json:"id"`
}

type QueryResult struct {
	Results    []Page `json:"results"`
	NextCursor string `json:"next_cursor"`
	HasMore    bool   `json:"has_more"`
}

type Database struct {
	ID             string                    `json:"id"`
	Title          []RichText                `json:"title"`
	LastEditedTime time.Time                 `json:"last_edited_time"`
	Properties     map[string]PropertySchema `json:"properties"`
}

type PropertySchema struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Type string `json:"type"`
}

// PlainText flattens a title or rich_text value to a single string.
func (p Property) PlainText() string {
	spans := p.Title
	if p.Type == "rich_text" {
		spans = p.RichText
	}
	if len(spans) == 0 {
		return ""
	}
	var b strings.Builder
	for _, span := range spans {
		b.WriteString(span.PlainText)
	}
	return b.String()
}

func (p Property) SelectName() string {
	switch {
	case p.Select != nil:
		return p.Select.Name
	case p.Status != nil:
		return p.Status.Name
	}
	return ""
}

func (p Property) RefIDs() []string {
	refs := p.Relation
	if p.Type == "people" {
		refs = p.People
	}
	if len(refs) == 0 {
		return nil
	}
	ids := make([]string, 0, len(refs))
	for _, ref := range refs {
		if ref.ID != "" {
			ids = append(ids, ref.ID)
		}
	}
	return ids
}

// ParseTime accepts both the date-only and full timestamp forms the API
// returns for date properties.
func ParseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("empty time")
	}
	if ts, err := time.Parse(time.RFC3339, s); err == nil {
		return ts.UTC(), nil
	}
	if ts, err := time.Parse("2006-01-02", s); err == nil {
		return ts.UTC(), nil
	}
	return time.Time{}, fmt.Errorf("invalid time: %s", s)
}
