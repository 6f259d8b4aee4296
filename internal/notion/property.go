package notion

import (
	"encoding/json"
	"time"
)

type PropertyType string

const (
	TypeTitle       PropertyType = "title"
	TypeRichText    PropertyType = "rich_text"
	TypeNumber      PropertyType = "number"
	TypeCheckbox    PropertyType = "checkbox"
	TypeSelect      PropertyType = "select"
	TypeMultiSelect PropertyType = "multi_select"
	TypeDate        PropertyType = "date"
	TypeRelation    PropertyType = "relation"
)

var knownTypes = []PropertyType{
	TypeTitle, TypeRichText, TypeNumber, TypeCheckbox,
	TypeSelect, TypeMultiSelect, TypeDate, TypeRelation,
}

type TextContent struct {
	Content string `json:"content"`
}

type RichText struct {
	Type      string       `json:"type,omitempty"`
	Text      *TextContent `json:"text,omitempty"`
	PlainText string       `json:"plain_text,omitempty"`
}

type SelectOption struct {
	Name string `json:"name"`
}

type DateValue struct {
	Start string  `json:"start"`
	End   *string `json:"end,omitempty"`
}

type PageRef struct {
	ID string `json:"id"`
}

// Property is one value in a page's property bag. Only the member matching
// Type is meaningful; on the wire a property is encoded as {"<type>": value}.
type Property struct {
	Type        PropertyType
	Title       []RichText
	RichText    []RichText
	Number      *float64
	Checkbox    bool
	Select      *SelectOption
	MultiSelect []SelectOption
	Date        *DateValue
	Relation    []PageRef
}

// Properties is keyed by the human-readable property label.
type Properties map[string]Property

func (p Property) MarshalJSON() ([]byte, error) {
	var value any
	switch p.Type {
	case TypeTitle:
		value = nonNilText(p.Title)
	case TypeRichText:
		value = nonNilText(p.RichText)
	case TypeNumber:
		value = p.Number
	case TypeCheckbox:
		value = p.Checkbox
	case TypeSelect:
		value = p.Select
	case TypeMultiSelect:
		if p.MultiSelect == nil {
			value = []SelectOption{}
		} else {
			value = p.MultiSelect
		}
	case TypeDate:
		value = p.Date
	case TypeRelation:
		if p.Relation == nil {
			value = []PageRef{}
		} else {
			value = p.Relation
		}
	default:
		return []byte("{}"), nil
	}
	return json.Marshal(map[string]any{string(p.Type): value})
}

func (p *Property) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*p = Property{}
	if t, ok := raw["type"]; ok {
		if err := json.Unmarshal(t, &p.Type); err != nil {
			return err
		}
	}
	if p.Type == "" {
		for _, candidate := range knownTypes {
			if _, ok := raw[string(candidate)]; ok {
				p.Type = candidate
				break
			}
		}
	}
	body, ok := raw[string(p.Type)]
	if !ok {
		// formulas, rollups and other read-only kinds are kept as a bare type
		return nil
	}
	switch p.Type {
	case TypeTitle:
		return json.Unmarshal(body, &p.Title)
	case TypeRichText:
		return json.Unmarshal(body, &p.RichText)
	case TypeNumber:
		return json.Unmarshal(body, &p.Number)
	case TypeCheckbox:
		return json.Unmarshal(body, &p.Checkbox)
	case TypeSelect:
		return json.Unmarshal(body, &p.Select)
	case TypeMultiSelect:
		return json.Unmarshal(body, &p.MultiSelect)
	case TypeDate:
		return json.Unmarshal(body, &p.Date)
	case TypeRelation:
		return json.Unmarshal(body, &p.Relation)
	}
	return nil
}

// PlainText concatenates the content of a title or rich text property.
func (p Property) PlainText() string {
	var parts []RichText
	switch p.Type {
	case TypeTitle:
		parts = p.Title
	case TypeRichText:
		parts = p.RichText
	default:
		return ""
	}
	var out []byte
	for _, part := range parts {
		if part.Text != nil {
			out = append(out, part.Text.Content...)
			continue
		}
		out = append(out, part.PlainText...)
	}
	return string(out)
}

func nonNilText(in []RichText) []RichText {
	if in == nil {
		return []RichText{}
	}
	return in
}

// Page is a CRM object: one row of a database.
type Page struct {
	ID             string     `json:"id"`
	Archived       bool       `json:"archived,omitempty"`
	CreatedTime    time.Time  `json:"created_time,omitempty"`
	LastEditedTime time.Time  `json:"last_edited_time,omitempty"`
	Properties     Properties `json:"properties"`
}

type QueryResult struct {
	Results    []Page  `json:"results"`
	HasMore    bool    `json:"has_more"`
	NextCursor *string `json:"next_cursor"`
}
