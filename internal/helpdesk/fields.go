package helpdesk

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// FieldTag names which ticket attribute a bound field sets.
type FieldTag string

const (
	FieldSubject  FieldTag = "subject"
	FieldPriority FieldTag = "priority"
	FieldType     FieldTag = "type"
	FieldTags     FieldTag = "tags"
	FieldCustom   FieldTag = "custom_field"
)

type ValueKind int

const (
	KindString ValueKind = iota
	KindInt
	KindBool
	KindList
)

// FieldValue holds exactly one of its members, selected by Kind.
type FieldValue struct {
	Kind   ValueKind
	String string
	Int    int64
	Bool   bool
	List   []string
}

func (v FieldValue) any() any {
	switch v.Kind {
	case KindInt:
		return v.Int
	case KindBool:
		return v.Bool
	case KindList:
		return v.List
	default:
		return v.String
	}
}

// TicketField is one bound entry of a ticket creation form.
type TicketField struct {
	Tag                FieldTag
	Value              FieldValue
	CommaSeparatedTags bool  // value arrived as "a, b, c"
	CustomFieldID      int64 // set when Tag is FieldCustom
}

const customFieldPrefix = "custom_field:"

var (
	validPriorities = map[string]bool{"low": true, "normal": true, "high": true, "urgent": true}
	validTypes      = map[string]bool{"problem": true, "incident": true, "question": true, "task": true}
)

// BindFields turns the loosely keyed form values submitted with a
// create-ticket request into typed fields. Keys are "subject", "priority",
// "type", "tags" or "custom_field:<id>". Output order is stable.
func BindFields(raw map[string]string) ([]TicketField, error) {
	keys := make([]string, 0, len(raw))
	for k := range raw {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]TicketField, 0, len(keys))
	for _, key := range keys {
		value := strings.TrimSpace(raw[key])
		if value == "" {
			continue
		}
		field, err := bindField(strings.TrimSpace(key), value)
		if err != nil {
			return nil, err
		}
		out = append(out, field)
	}
	return out, nil
}

func bindField(key, value string) (TicketField, error) {
	switch FieldTag(key) {
	case FieldSubject:
		return TicketField{Tag: FieldSubject, Value: FieldValue{Kind: KindString, String: value}}, nil
	case FieldPriority:
		v := strings.ToLower(value)
		if !validPriorities[v] {
			return TicketField{}, fmt.Errorf("invalid priority %q", value)
		}
		return TicketField{Tag: FieldPriority, Value: FieldValue{Kind: KindString, String: v}}, nil
	case FieldType:
		v := strings.ToLower(value)
		if !validTypes[v] {
			return TicketField{}, fmt.Errorf("invalid ticket type %q", value)
		}
		return TicketField{Tag: FieldType, Value: FieldValue{Kind: KindString, String: v}}, nil
	case FieldTags:
		return TicketField{Tag: FieldTags, Value: FieldValue{Kind: KindList, List: splitTags(value)}, CommaSeparatedTags: true}, nil
	}

	if idStr, ok := strings.CutPrefix(key, customFieldPrefix); ok {
		id, err := strconv.ParseInt(idStr, 10, 64)
		if err != nil || id <= 0 {
			return TicketField{}, fmt.Errorf("invalid custom field id in %q", key)
		}
		field := TicketField{Tag: FieldCustom, CustomFieldID: id, Value: customValue(value)}
		field.CommaSeparatedTags = field.Value.Kind == KindList
		return field, nil
	}
	return TicketField{}, fmt.Errorf("unknown ticket field %q", key)
}

func customValue(value string) FieldValue {
	if b, err := strconv.ParseBool(value); err == nil && (value == "true" || value == "false") {
		return FieldValue{Kind: KindBool, Bool: b}
	}
	if n, err := strconv.ParseInt(value, 10, 64); err == nil {
		return FieldValue{Kind: KindInt, Int: n}
	}
	if strings.Contains(value, ",") {
		return FieldValue{Kind: KindList, List: splitTags(value)}
	}
	return FieldValue{Kind: KindString, String: value}
}

func splitTags(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, strings.ReplaceAll(p, " ", "_"))
		}
	}
	return out
}

// ApplyFields writes bound fields onto a ticket creation payload.
func ApplyFields(t *TicketCreate, fields []TicketField) {
	for _, f := range fields {
		switch f.Tag {
		case FieldSubject:
			t.Subject = f.Value.String
		case FieldPriority:
			t.Priority = f.Value.String
		case FieldType:
			t.Type = f.Value.String
		case FieldTags:
			t.Tags = append(t.Tags, f.Value.List...)
		case FieldCustom:
			t.CustomFields = append(t.CustomFields, CustomField{ID: f.CustomFieldID, Value: f.Value.any()})
		}
	}
}
