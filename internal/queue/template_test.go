package queue

import (
	"encoding/json"
	"testing"
)

func TestRender(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		tmpl    string
		payload map[string]any
		want    string
	}{
		{"simple", "Week {{week}} recap", map[string]any{"week": 3}, "Week 3 recap"},
		{"spaces", "Hi {{ team }}!", map[string]any{"team": "Tacos"}, "Hi Tacos!"},
		{"repeated", "{{a}}-{{a}}", map[string]any{"a": "x"}, "x-x"},
		{"missing key kept", "{{a}} {{b}}", map[string]any{"a": "1"}, "1 {{b}}"},
		{"nil payload", "{{a}}", nil, "{{a}}"},
		{"nil value", "[{{a}}]", map[string]any{"a": nil}, "[]"},
		{"json number", "{{n}}", map[string]any{"n": json.Number("12")}, "12"},
		{"nested", "{{m}}", map[string]any{"m": map[string]any{"k": "v"}}, `{"k":"v"}`},
		{"dotted key", "{{team.name}}", map[string]any{"team.name": "Bears"}, "Bears"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := Render(tt.tmpl, tt.payload); got != tt.want {
				t.Fatalf("Render(%q) = %q, want %q", tt.tmpl, got, tt.want)
			}
		})
	}
}

func TestDecodePayloadKeepsNumbers(t *testing.T) {
	t.Parallel()
	m, err := decodePayload(json.RawMessage(`{"week": 12, "big": 12345678901234567}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got := Render("{{week}}/{{big}}", m); got != "12/12345678901234567" {
		t.Fatalf("got %q", got)
	}
	if m, err := decodePayload(nil); err != nil || m != nil {
		t.Fatalf("empty payload: %v %v", m, err)
	}
	if _, err := decodePayload(json.RawMessage(`[1,2]`)); err == nil {
		t.Fatalf("expected error for non-object payload")
	}
}
