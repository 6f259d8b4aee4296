// Package schema translates between canonical field names and the CRM's
// label-keyed property bags. It is a closed, versioned table per catalog;
// nothing outside this package should address CRM properties by label.
package schema

import (
	"fmt"
	"math"
	"reflect"
	"strings"
	"time"

	"github.com/sirdesai22/leadsync/internal/notion"
)

// MaxTextRunes is the CRM's per-text-object limit. Longer values are sent
// as several text objects and joined again on decode.
const MaxTextRunes = 2000

// MaxTextObjects caps how many text objects one value is split into. Text
// beyond MaxTextLength is truncated on encode and on decode so both
// directions agree.
const (
	MaxTextObjects = 5
	MaxTextLength  = MaxTextRunes * MaxTextObjects
)

const dateLayout = "2006-01-02T15:04:05.000Z07:00"

type Kind string

const (
	KindTitle       Kind = Kind(notion.TypeTitle)
	KindRichText    Kind = Kind(notion.TypeRichText)
	KindNumber      Kind = Kind(notion.TypeNumber)
	KindCheckbox    Kind = Kind(notion.TypeCheckbox)
	KindSelect      Kind = Kind(notion.TypeSelect)
	KindMultiSelect Kind = Kind(notion.TypeMultiSelect)
	KindDate        Kind = Kind(notion.TypeDate)
	KindRelation    Kind = Kind(notion.TypeRelation)
)

// Values holds canonical field values keyed by canonical field name.
type Values map[string]any

// Field is one row of a mapping table. Aliases are labels the property
// carried in earlier schema versions; they are accepted on decode only.
type Field struct {
	Canonical string
	Label     string
	Aliases   []string
	Kind      Kind
	Integer   bool
}

type Table struct {
	Name    string
	Version int
	fields  []Field
	byName  map[string]int
	byLabel map[string]int
}

func NewTable(name string, version int, fields ...Field) *Table {
	t := &Table{
		Name:    name,
		Version: version,
		fields:  fields,
		byName:  make(map[string]int, len(fields)),
		byLabel: make(map[string]int, len(fields)),
	}
	for i, f := range fields {
		if _, dup := t.byName[f.Canonical]; dup {
			panic(fmt.Sprintf("schema %s: duplicate canonical field %q", name, f.Canonical))
		}
		t.byName[f.Canonical] = i
		t.byLabel[f.Label] = i
		for _, alias := range f.Aliases {
			t.byLabel[alias] = i
		}
	}
	return t
}

func (t *Table) Fields() []Field {
	out := make([]Field, len(t.fields))
	copy(out, t.fields)
	return out
}

func (t *Table) Field(canonical string) (Field, bool) {
	i, ok := t.byName[canonical]
	if !ok {
		return Field{}, false
	}
	return t.fields[i], true
}

// ToExternal maps one canonical value to its property. ok is false for
// fields the table does not know about; callers drop those.
func (t *Table) ToExternal(canonical string, value any) (label string, prop notion.Property, ok bool, err error) {
	f, known := t.Field(canonical)
	if !known {
		return "", notion.Property{}, false, nil
	}
	prop, err = encode(f, value)
	if err != nil {
		return "", notion.Property{}, true, fmt.Errorf("schema %s v%d: field %s: %w", t.Name, t.Version, canonical, err)
	}
	return f.Label, prop, true, nil
}

// FromExternal maps a property, addressed by its current label or any alias,
// back to a canonical value.
func (t *Table) FromExternal(label string, prop notion.Property) (canonical string, value any, ok bool) {
	i, known := t.byLabel[label]
	if !known {
		return "", nil, false
	}
	f := t.fields[i]
	return f.Canonical, decode(f, prop), true
}

// Encode maps every known field in values. Unknown fields are skipped.
func (t *Table) Encode(values Values) (notion.Properties, error) {
	props := make(notion.Properties, len(values))
	for name, value := range values {
		label, prop, ok, err := t.ToExternal(name, value)
		if err != nil {
			return nil, err
		}
		if ok {
			props[label] = prop
		}
	}
	return props, nil
}

// Decode returns a value for every field of the table. Missing properties
// decode to the kind's default. When both a current label and an alias are
// present, the current label wins.
func (t *Table) Decode(props notion.Properties) Values {
	values := make(Values, len(t.fields))
	for _, f := range t.fields {
		prop, ok := props[f.Label]
		if !ok {
			for _, alias := range f.Aliases {
				if prop, ok = props[alias]; ok {
					break
				}
			}
		}
		if !ok {
			values[f.Canonical] = zero(f)
			continue
		}
		values[f.Canonical] = decode(f, prop)
	}
	return values
}

// Equal reports whether two canonical values would be stored identically
// in the CRM. Values that fail to encode are never equal.
func (t *Table) Equal(canonical string, a, b any) bool {
	f, ok := t.Field(canonical)
	if !ok {
		return reflect.DeepEqual(a, b)
	}
	pa, errA := encode(f, a)
	pb, errB := encode(f, b)
	if errA != nil || errB != nil {
		return false
	}
	return reflect.DeepEqual(decode(f, pa), decode(f, pb))
}

func encode(f Field, value any) (notion.Property, error) {
	prop := notion.Property{Type: notion.PropertyType(f.Kind)}
	switch f.Kind {
	case KindTitle, KindRichText:
		s, err := asString(value)
		if err != nil {
			return prop, err
		}
		text := []notion.RichText{}
		for _, chunk := range splitText(truncate(s)) {
			text = append(text, notion.RichText{Type: "text", Text: &notion.TextContent{Content: chunk}})
		}
		if f.Kind == KindTitle {
			prop.Title = text
		} else {
			prop.RichText = text
		}
	case KindNumber:
		n, set, err := asNumber(value)
		if err != nil {
			return prop, err
		}
		if set {
			prop.Number = &n
		}
	case KindCheckbox:
		switch v := value.(type) {
		case bool:
			prop.Checkbox = v
		case *bool:
			prop.Checkbox = v != nil && *v
		case nil:
		default:
			return prop, fmt.Errorf("want bool, got %T", value)
		}
	case KindSelect:
		s, err := asString(value)
		if err != nil {
			return prop, err
		}
		if s = strings.TrimSpace(optionName(s)); s != "" {
			prop.Select = &notion.SelectOption{Name: s}
		}
	case KindMultiSelect:
		list, err := asStrings(value)
		if err != nil {
			return prop, err
		}
		prop.MultiSelect = []notion.SelectOption{}
		for _, item := range list {
			if name := strings.TrimSpace(optionName(item)); name != "" {
				prop.MultiSelect = append(prop.MultiSelect, notion.SelectOption{Name: name})
			}
		}
	case KindDate:
		ts, err := asTime(value)
		if err != nil {
			return prop, err
		}
		if ts != nil {
			prop.Date = &notion.DateValue{Start: ts.UTC().Format(dateLayout)}
		}
	case KindRelation:
		ids, err := asStrings(value)
		if err != nil {
			return prop, err
		}
		prop.Relation = []notion.PageRef{}
		for _, id := range ids {
			if id != "" {
				prop.Relation = append(prop.Relation, notion.PageRef{ID: id})
			}
		}
	default:
		return prop, fmt.Errorf("unsupported kind %q", f.Kind)
	}
	return prop, nil
}

func decode(f Field, prop notion.Property) any {
	switch f.Kind {
	case KindTitle, KindRichText:
		// labels drift between title and rich text when operators restructure a database
		if prop.Type != notion.TypeTitle && prop.Type != notion.TypeRichText {
			return zero(f)
		}
		return truncate(prop.PlainText())
	}
	if prop.Type != notion.PropertyType(f.Kind) {
		return zero(f)
	}
	switch f.Kind {
	case KindNumber:
		if prop.Number == nil {
			return zero(f)
		}
		if f.Integer {
			return int(math.Round(*prop.Number))
		}
		return *prop.Number
	case KindCheckbox:
		return prop.Checkbox
	case KindSelect:
		if prop.Select == nil {
			return ""
		}
		return prop.Select.Name
	case KindMultiSelect:
		out := make([]string, 0, len(prop.MultiSelect))
		for _, opt := range prop.MultiSelect {
			out = append(out, opt.Name)
		}
		return out
	case KindDate:
		if prop.Date == nil {
			return (*time.Time)(nil)
		}
		ts, ok := parseDate(prop.Date.Start)
		if !ok {
			return (*time.Time)(nil)
		}
		return &ts
	case KindRelation:
		out := make([]string, 0, len(prop.Relation))
		for _, ref := range prop.Relation {
			out = append(out, ref.ID)
		}
		return out
	}
	return nil
}

func zero(f Field) any {
	switch f.Kind {
	case KindTitle, KindRichText, KindSelect:
		return ""
	case KindNumber:
		if f.Integer {
			return 0
		}
		return float64(0)
	case KindCheckbox:
		return false
	case KindMultiSelect, KindRelation:
		return []string{}
	case KindDate:
		return (*time.Time)(nil)
	}
	return nil
}

func truncate(s string) string {
	if len(s) <= MaxTextLength {
		return s
	}
	runes := []rune(s)
	if len(runes) <= MaxTextLength {
		return s
	}
	return string(runes[:MaxTextLength])
}

// splitText cuts s into pieces of at most MaxTextRunes runes.
func splitText(s string) []string {
	if s == "" {
		return nil
	}
	if len(s) <= MaxTextRunes {
		return []string{s}
	}
	runes := []rune(s)
	var out []string
	for len(runes) > MaxTextRunes {
		out = append(out, string(runes[:MaxTextRunes]))
		runes = runes[MaxTextRunes:]
	}
	return append(out, string(runes))
}

// optionName strips commas, which the CRM rejects in option names.
func optionName(s string) string {
	return strings.ReplaceAll(s, ",", " ")
}

func parseDate(s string) (time.Time, bool) {
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02"} {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts.UTC(), true
		}
	}
	return time.Time{}, false
}

func asString(value any) (string, error) {
	switch v := value.(type) {
	case string:
		return v, nil
	case *string:
		if v == nil {
			return "", nil
		}
		return *v, nil
	case nil:
		return "", nil
	}
	return "", fmt.Errorf("want string, got %T", value)
}

func asStrings(value any) ([]string, error) {
	switch v := value.(type) {
	case []string:
		return v, nil
	case string:
		if v == "" {
			return nil, nil
		}
		return []string{v}, nil
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("want []string, got element %T", item)
			}
			out = append(out, s)
		}
		return out, nil
	case nil:
		return nil, nil
	}
	return nil, fmt.Errorf("want []string, got %T", value)
}

func asNumber(value any) (float64, bool, error) {
	switch v := value.(type) {
	case int:
		return float64(v), true, nil
	case int32:
		return float64(v), true, nil
	case int64:
		return float64(v), true, nil
	case float32:
		return float64(v), true, nil
	case float64:
		return v, true, nil
	case *int:
		if v == nil {
			return 0, false, nil
		}
		return float64(*v), true, nil
	case nil:
		return 0, false, nil
	}
	return 0, false, fmt.Errorf("want number, got %T", value)
}

func asTime(value any) (*time.Time, error) {
	switch v := value.(type) {
	case time.Time:
		if v.IsZero() {
			return nil, nil
		}
		return &v, nil
	case *time.Time:
		if v == nil || v.IsZero() {
			return nil, nil
		}
		return v, nil
	case string:
		if v == "" {
			return nil, nil
		}
		ts, ok := parseDate(v)
		if !ok {
			return nil, fmt.Errorf("unparseable date %q", v)
		}
		return &ts, nil
	case nil:
		return nil, nil
	}
	return nil, fmt.Errorf("want time, got %T", value)
}
