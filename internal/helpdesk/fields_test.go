package helpdesk

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBindFields(t *testing.T) {
	fields, err := BindFields(map[string]string{
		"subject":          "Printer on fire",
		"priority":         "High",
		"type":             "incident",
		"tags":             "hardware, floor 3,urgent",
		"custom_field:123": "true",
		"custom_field:456": "42",
		"custom_field:789": "a, b",
		"custom_field:999": "plain text",
		"ignored_blank":    "  ",
	})
	require.NoError(t, err)

	want := []TicketField{
		{Tag: FieldCustom, CustomFieldID: 123, Value: FieldValue{Kind: KindBool, Bool: true}},
		{Tag: FieldCustom, CustomFieldID: 456, Value: FieldValue{Kind: KindInt, Int: 42}},
		{Tag: FieldCustom, CustomFieldID: 789, Value: FieldValue{Kind: KindList, List: []string{"a", "b"}}, CommaSeparatedTags: true},
		{Tag: FieldCustom, CustomFieldID: 999, Value: FieldValue{Kind: KindString, String: "plain text"}},
		{Tag: FieldPriority, Value: FieldValue{Kind: KindString, String: "high"}},
		{Tag: FieldSubject, Value: FieldValue{Kind: KindString, String: "Printer on fire"}},
		{Tag: FieldTags, Value: FieldValue{Kind: KindList, List: []string{"hardware", "floor_3", "urgent"}}, CommaSeparatedTags: true},
		{Tag: FieldType, Value: FieldValue{Kind: KindString, String: "incident"}},
	}
	if diff := cmp.Diff(want, fields); diff != "" {
		t.Fatalf("bound fields mismatch (-want +got):\n%s", diff)
	}
}

func TestBindFieldsRejectsInvalid(t *testing.T) {
	cases := map[string]map[string]string{
		"unknown key":     {"color": "red"},
		"bad priority":    {"priority": "whenever"},
		"bad type":        {"type": "complaint"},
		"bad custom id":   {"custom_field:abc": "1"},
		"zero custom id":  {"custom_field:0": "1"},
		"negative custom": {"custom_field:-4": "1"},
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := BindFields(raw)
			assert.Error(t, err)
		})
	}
}

func TestApplyFields(t *testing.T) {
	fields, err := BindFields(map[string]string{
		"subject":          "Help",
		"tags":             "a,b",
		"custom_field:123": "true",
	})
	require.NoError(t, err)

	create := TicketCreate{Tags: []string{"from_chat"}}
	ApplyFields(&create, fields)

	assert.Equal(t, "Help", create.Subject)
	assert.Equal(t, []string{"from_chat", "a", "b"}, create.Tags)
	require.Len(t, create.CustomFields, 1)
	assert.Equal(t, CustomField{ID: 123, Value: true}, create.CustomFields[0])
}
