package engine

import (
	"encoding/json"
	"errors"
	"strconv"
	"testing"
)

// codeError — ошибка с полями для MatchFields.
type codeError struct {
	code   string
	status int
}

func (e *codeError) Error() string { return "code " + e.code }

func (e *codeError) Fields() map[string]any {
	return map[string]any{"code": e.code, "status": e.status}
}

func TestPolicy_Propagates(t *testing.T) {
	plain := errors.New("boom")
	coded := &codeError{code: "E1", status: 503}
	_, numErr := strconv.Atoi("x")

	tests := []struct {
		name     string
		policy   Policy
		err      error
		expected bool
	}{
		{name: "nil error", policy: Propagate(), err: nil, expected: false},
		{name: "suppress", policy: Suppress(), err: plain, expected: false},
		{name: "zero value suppresses", policy: Policy{}, err: plain, expected: false},
		{name: "propagate", policy: Propagate(), err: plain, expected: true},
		{name: "fields match", policy: MatchFields(map[string]any{"code": "E1"}, false), err: coded, expected: true},
		{name: "fields numeric match", policy: MatchFields(map[string]any{"status": float64(503)}, false), err: coded, expected: true},
		{name: "fields mismatch", policy: MatchFields(map[string]any{"code": "E2"}, false), err: coded, expected: false},
		{name: "fields match inverted", policy: MatchFields(map[string]any{"code": "E1"}, true), err: coded, expected: false},
		{name: "fields mismatch inverted", policy: MatchFields(map[string]any{"code": "E2"}, true), err: coded, expected: true},
		{name: "message field", policy: MatchFields(map[string]any{"message": "boom"}, false), err: plain, expected: true},
		{name: "system match", policy: MatchSystem(false), err: numErr, expected: true},
		{name: "system mismatch", policy: MatchSystem(false), err: plain, expected: false},
		{name: "system inverted", policy: MatchSystem(true), err: plain, expected: true},
		{name: "system inverted match", policy: MatchSystem(true), err: numErr, expected: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.policy.Propagates(tt.err, nil); got != tt.expected {
				t.Errorf("expected %v, got %v", tt.expected, got)
			}
		})
	}
}

func TestPolicy_CustomSystemCheck(t *testing.T) {
	sentinel := errors.New("db down")
	check := func(err error) bool { return errors.Is(err, sentinel) }

	if !MatchSystem(false).Propagates(sentinel, check) {
		t.Error("expected custom system check to match")
	}
	if MatchSystem(false).Propagates(errors.New("other"), check) {
		t.Error("expected custom system check not to match")
	}
}

func TestParsePolicy(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		kind     PolicyKind
		invert   bool
		category string
	}{
		{name: "empty", input: "", kind: PolicySuppress},
		{name: "null", input: "null", kind: PolicySuppress},
		{name: "false", input: "false", kind: PolicySuppress},
		{name: "true", input: "true", kind: PolicyPropagate},
		{name: "system string", input: `"system"`, kind: PolicyMatchCategory, category: CategorySystem},
		{name: "system inverted", input: `{"invert": true, "matches": "system"}`, kind: PolicyMatchCategory, invert: true, category: CategorySystem},
		{name: "fields", input: `{"matches": {"code": "E1"}}`, kind: PolicyMatchFields},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := ParsePolicy([]byte(tt.input))
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if p.Kind != tt.kind {
				t.Errorf("expected kind %v, got %v", tt.kind, p.Kind)
			}
			if p.Invert != tt.invert {
				t.Errorf("expected invert %v, got %v", tt.invert, p.Invert)
			}
			if p.Category != tt.category {
				t.Errorf("expected category %q, got %q", tt.category, p.Category)
			}
		})
	}
}

func TestParsePolicy_Invalid(t *testing.T) {
	inputs := []string{
		`"network"`,
		`{"matches": {}}`,
		`{"matches": 5}`,
		`[1, 2]`,
	}

	for _, in := range inputs {
		t.Run(in, func(t *testing.T) {
			if _, err := ParsePolicy([]byte(in)); err == nil {
				t.Errorf("expected error for %s", in)
			}
		})
	}
}

func TestPolicy_JSONRoundTrip(t *testing.T) {
	var holder struct {
		Policy Policy `json:"policy"`
	}
	if err := json.Unmarshal([]byte(`{"policy": {"invert": true, "matches": {"code": "E1"}}}`), &holder); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if holder.Policy.Kind != PolicyMatchFields || !holder.Policy.Invert {
		t.Fatalf("unexpected policy: %s", holder.Policy)
	}

	data, err := json.Marshal(holder.Policy)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	again, err := ParsePolicy(data)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if again.Kind != PolicyMatchFields || !again.Invert || again.Fields["code"] != "E1" {
		t.Errorf("unexpected policy after round trip: %s", again)
	}
}

func TestErrorFields(t *testing.T) {
	err := &TaskError{Name: "t", Err: &codeError{code: "E9", status: 400}}

	fields := ErrorFields(err)
	if fields["message"] != "code E9" {
		t.Errorf("unexpected message: %v", fields["message"])
	}
	if fields["type"] != "*engine.codeError" {
		t.Errorf("unexpected type: %v", fields["type"])
	}
	if fields["code"] != "E9" {
		t.Errorf("unexpected code: %v", fields["code"])
	}
}

func TestIsSystemError(t *testing.T) {
	var syntaxErr *json.SyntaxError
	err := json.Unmarshal([]byte("{"), &struct{}{})
	if !errors.As(err, &syntaxErr) {
		t.Skip("unexpected json error type")
	}

	if !IsSystemError(err) {
		t.Error("json syntax error should be a system error")
	}
	if !IsSystemError(newPanicError("boom")) {
		t.Error("recovered panic should be a system error")
	}
	if IsSystemError(errors.New("business")) {
		t.Error("plain error should not be a system error")
	}
}
