package jsonutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtractJSON(t *testing.T) {
	cases := map[string]struct {
		in   string
		want string
		ok   bool
	}{
		"plain object":    {in: `{"a":1}`, want: `{"a":1}`, ok: true},
		"prose around":    {in: "Sure! Here you go: {\"decisions\":[{\"action\":\"hold\"}]} Good luck.", want: `{"decisions":[{"action":"hold"}]}`, ok: true},
		"object first":    {in: `note [1,2] then {"x":[3]}`, want: `{"x":[3]}`, ok: true},
		"array only":      {in: `result: [1, 2]`, want: `[1, 2]`, ok: true},
		"fenced with tag": {in: "```json\n{\"a\": \"}\"}\n```", want: `{"a": "}"}`, ok: true},
		"braces in text":  {in: `{"r":"use { and } freely","n":2}`, want: `{"r":"use { and } freely","n":2}`, ok: true},
		"escaped quote":   {in: `{"r":"say \"}\" ok"}`, want: `{"r":"say \"}\" ok"}`, ok: true},
		"unbalanced":      {in: `{"a":1`, ok: false},
		"empty":           {in: "  ", ok: false},
		"no json":         {in: "I cannot help with that.", ok: false},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			got, ok := ExtractJSON(tc.in)
			assert.Equal(t, tc.ok, ok)
			if tc.ok {
				assert.Equal(t, tc.want, got)
			}
		})
	}
}

func TestExtractJSONWithOffset(t *testing.T) {
	got, off, ok := ExtractJSONWithOffset(`ab {"k":true}`)
	assert.True(t, ok)
	assert.Equal(t, 3, off)
	assert.Equal(t, `{"k":true}`, got)
}

func TestPrettyAndCompact(t *testing.T) {
	assert.Equal(t, "not json", Pretty("not json"))
	assert.Contains(t, Pretty(`{"a":1,"b":[1,2]}`), "\n")
	assert.Equal(t, `{"a":1,"b":[1,2]}`, Compact("{\n  \"a\": 1,\n  \"b\": [1, 2]\n}"))
}
