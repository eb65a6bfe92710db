package flow

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/shaiso/relay/internal/adapters"
	"github.com/shaiso/relay/internal/domain"
	"github.com/shaiso/relay/internal/engine"
	"github.com/shaiso/relay/internal/telemetry"
)

func mustParse(t *testing.T, data string) *domain.FlowSpec {
	t.Helper()
	spec, err := Parse([]byte(data), nil)
	if err != nil {
		t.Fatalf("parse spec: %v", err)
	}
	return spec
}

// sameMessages сравнивает сообщения, считая nil и пустой срез равными.
func sameMessages(got, want []string) bool {
	if len(got) == 0 && len(want) == 0 {
		return true
	}
	return reflect.DeepEqual(got, want)
}

func execute(t *testing.T, data string, inputs map[string]any) *Report {
	t.Helper()
	report, err := Execute(context.Background(), NewBuilder(BuilderConfig{}), mustParse(t, data), inputs)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	return report
}

func TestExecute_Series(t *testing.T) {
	report := execute(t, `{
		"inputs": {"name": {"type": "string", "required": true}},
		"queues": [{"id": "main", "tasks": [
			{"name": "one", "type": "transform", "config": {"output": {"id": "42", "message": "fetched"}}},
			{"name": "two", "type": "transform", "config": {"output": {
				"copied": {"$ref": "one.id"},
				"hello": "hi {{ .inputs.name }}"
			}}}
		]}]
	}`, map[string]any{"name": "bob"})

	if report.Status != domain.RunStatusSucceeded {
		t.Fatalf("expected SUCCEEDED, got %s (%s)", report.Status, report.Error)
	}
	if report.Terminal != "main" {
		t.Errorf("expected terminal main, got %s", report.Terminal)
	}

	two, _ := report.Result["two"].(map[string]any)
	if two["copied"] != "42" || two["hello"] != "hi bob" {
		t.Errorf("unexpected result: %v", two)
	}
	if _, ok := report.Result[InputsTask]; ok {
		t.Error("inputs must not be part of the result")
	}
	if !reflect.DeepEqual(report.Messages, []string{"fetched"}) {
		t.Errorf("unexpected messages: %v", report.Messages)
	}
	if report.Queues["main"] != domain.QueueStatusSucceeded {
		t.Errorf("unexpected queue status: %v", report.Queues)
	}
}

func TestExecute_Parallel(t *testing.T) {
	report := execute(t, `{"queues": [{"id": "main", "tasks": [
		{"name": "a", "mode": "parallel", "type": "delay", "config": {"duration_ms": 20, "value": "A"}},
		{"name": "b", "mode": "parallel", "type": "delay", "config": {"duration_ms": 5, "value": "B"}},
		{"name": "c", "type": "transform", "config": {"output": {"b": {"$ref": "b.value"}}}}
	]}]}`, nil)

	if report.Status != domain.RunStatusSucceeded {
		t.Fatalf("expected SUCCEEDED, got %s (%s)", report.Status, report.Error)
	}
	for _, name := range []string{"a", "b", "c"} {
		if _, ok := report.Result[name]; !ok {
			t.Errorf("expected result for %s", name)
		}
	}

	// c запускается до сбора parallel задач и не видит их результатов
	c, _ := report.Result["c"].(map[string]any)
	if c["b"] != nil {
		t.Errorf("parallel result must not be visible before collection, got %v", c["b"])
	}
}

func TestExecute_Errors(t *testing.T) {
	const failing = `{"name": "bad", "type": "delay", "config": {"duration_ms": 1, "value": "boom", "reject": true}}`

	tests := []struct {
		name      string
		spec      string
		status    domain.RunStatus
		messages  []string
		errors    int
		propagate bool
	}{
		{
			name: "suppressed by default",
			spec: `{"queues": [{"id": "main", "tasks": [` + failing + `,
				{"name": "next", "type": "transform", "config": {"output": "after"}}]}]}`,
			status:   domain.RunStatusFailed,
			messages: []string{"Internal ERROR for bad on operation: delay"},
			errors:   1,
		},
		{
			name: "error text included",
			spec: `{"include_error_messages": true,
				"queues": [{"id": "main", "tasks": [` + failing + `]}]}`,
			status:   domain.RunStatusFailed,
			messages: []string{"boom"},
			errors:   1,
		},
		{
			name:      "propagated by flow policy",
			spec:      `{"policy": true, "queues": [{"id": "main", "tasks": [` + failing + `]}]}`,
			status:    domain.RunStatusFailed,
			propagate: true,
		},
		{
			name: "queue policy overrides flow policy",
			spec: `{"policy": true, "queues": [{"id": "main", "policy": false, "tasks": [` + failing + `]}]}`,
			status:   domain.RunStatusFailed,
			messages: []string{"Internal ERROR for bad on operation: delay"},
			errors:   1,
		},
		{
			name: "inverted field policy propagates unmatched error",
			spec: `{"policy": {"invert": true, "matches": {"code": "VERIFY_FAILED"}},
				"queues": [{"id": "main", "tasks": [` + failing + `]}]}`,
			status:    domain.RunStatusFailed,
			propagate: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			report := execute(t, tt.spec, nil)

			if report.Status != tt.status {
				t.Fatalf("expected %s, got %s", tt.status, report.Status)
			}
			if tt.propagate {
				var te *engine.TaskError
				if !errors.As(report.Err, &te) {
					t.Fatalf("expected TaskError, got %v", report.Err)
				}
				var de *adapters.DelayError
				if !errors.As(report.Err, &de) {
					t.Errorf("expected DelayError in chain, got %v", report.Err)
				}
				if report.Error != "boom" {
					t.Errorf("expected error text boom, got %q", report.Error)
				}
				return
			}
			if report.Err != nil {
				t.Fatalf("unexpected error: %v", report.Err)
			}
			if len(report.Errors) != tt.errors {
				t.Errorf("expected %d errors, got %v", tt.errors, report.Errors)
			}
			if !sameMessages(report.Messages, tt.messages) {
				t.Errorf("expected messages %v, got %v", tt.messages, report.Messages)
			}
		})
	}
}

func TestExecute_VerifyActions(t *testing.T) {
	tests := []struct {
		name     string
		spec     string
		status   domain.RunStatus
		terminal string
		results  []string
		missing  []string
		messages []string
	}{
		{
			name: "stop",
			spec: `{"queues": [{"id": "main", "tasks": [
				{"name": "one", "type": "transform", "config": {"output": {"ok": true}}},
				{"name": "two", "type": "transform"}
			], "verify": [{"task": "one", "on": "success", "action": "stop", "message": "enough"}]}]}`,
			status:   domain.RunStatusStopped,
			terminal: "main",
			results:  []string{"one"},
			missing:  []string{"two"},
			messages: []string{"enough"},
		},
		{
			name: "suppress",
			spec: `{"queues": [{"id": "main", "tasks": [
				{"name": "bad", "type": "delay", "config": {"duration_ms": 1, "value": "boom", "reject": true}},
				{"name": "two", "type": "transform", "config": {"output": "done"}}
			], "verify": [{"task": "bad", "on": "error", "action": "suppress"}]}]}`,
			status:   domain.RunStatusSucceeded,
			terminal: "main",
			results:  []string{"two"},
			missing:  []string{"bad"},
		},
		{
			name: "result override",
			spec: `{"queues": [{"id": "main", "tasks": [
				{"name": "one", "type": "transform", "config": {"output": {"x": 1}}}
			], "verify": [{"task": "one", "result": {"x": 2}}]}]}`,
			status:   domain.RunStatusSucceeded,
			terminal: "main",
			results:  []string{"one"},
		},
		{
			name: "fail",
			spec: `{"include_error_messages": true, "queues": [{"id": "main", "tasks": [
				{"name": "one", "type": "transform", "config": {"output": {"x": 1}}}
			], "verify": [{"task": "one", "action": "fail", "error": "x must be 2"}]}]}`,
			status:   domain.RunStatusFailed,
			terminal: "main",
			missing:  []string{"one"},
			messages: []string{"x must be 2"},
		},
		{
			name: "transfer on error",
			spec: `{"queues": [
				{"id": "main", "tasks": [
					{"name": "bad", "type": "delay", "config": {"duration_ms": 1, "value": "boom", "reject": true}},
					{"name": "after", "type": "transform"}
				], "verify": [{"task": "bad", "on": "error", "action": "transfer", "target": "fallback", "message": "fallback"}]},
				{"id": "fallback", "tasks": [
					{"name": "recovered", "type": "transform", "config": {"output": {"from": "fallback"}}}
				]}
			]}`,
			status:   domain.RunStatusFailed,
			terminal: "fallback",
			results:  []string{"recovered"},
			missing:  []string{"after", "bad"},
			messages: []string{"fallback"},
		},
		{
			name: "transfer on success without error",
			spec: `{"queues": [
				{"id": "main", "tasks": [
					{"name": "one", "type": "transform", "config": {"output": {"n": 1}}},
					{"name": "skipped", "type": "transform"}
				], "verify": [
					{"task": "one", "on": "error", "action": "stop"},
					{"task": "one", "on": "success", "action": "transfer", "target": "next"}
				]},
				{"id": "next", "tasks": [
					{"name": "copy", "type": "transform", "config": {"output": {"n": {"$ref": "one.n"}}}}
				]}
			]}`,
			status:   domain.RunStatusSucceeded,
			terminal: "next",
			results:  []string{"one", "copy"},
			missing:  []string{"skipped"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			report := execute(t, tt.spec, nil)

			if report.Err != nil {
				t.Fatalf("unexpected error: %v", report.Err)
			}
			if report.Status != tt.status {
				t.Errorf("expected %s, got %s", tt.status, report.Status)
			}
			if report.Terminal != tt.terminal {
				t.Errorf("expected terminal %s, got %s", tt.terminal, report.Terminal)
			}
			for _, name := range tt.results {
				if _, ok := report.Result[name]; !ok {
					t.Errorf("expected result for %s, got %v", name, report.Result)
				}
			}
			for _, name := range tt.missing {
				if _, ok := report.Result[name]; ok {
					t.Errorf("unexpected result for %s", name)
				}
			}
			if !sameMessages(report.Messages, tt.messages) {
				t.Errorf("expected messages %v, got %v", tt.messages, report.Messages)
			}
		})
	}
}

func TestExecute_ResultOverride(t *testing.T) {
	report := execute(t, `{"queues": [{"id": "main", "tasks": [
		{"name": "one", "type": "transform", "config": {"output": {"x": 1}}}
	], "verify": [{"task": "one", "on": "success", "result": {"x": 2}}]}]}`, nil)

	one, _ := report.Result["one"].(map[string]any)
	if one["x"] != int64(2) {
		t.Errorf("expected overridden x=2, got %v", report.Result["one"])
	}
}

func TestExecute_TransferStatuses(t *testing.T) {
	report := execute(t, `{"queues": [
		{"id": "main", "tasks": [{"name": "a", "type": "transform"}],
		 "verify": [{"task": "a", "action": "transfer", "target": "second"}]},
		{"id": "second", "tasks": [{"name": "b", "type": "transform"}]},
		{"id": "unused", "tasks": [{"name": "c", "type": "transform"}]}
	]}`, nil)

	want := map[string]domain.QueueStatus{
		"main":   domain.QueueStatusTransferred,
		"second": domain.QueueStatusSucceeded,
		"unused": domain.QueueStatusQueueing,
	}
	if !reflect.DeepEqual(report.Queues, want) {
		t.Errorf("expected %v, got %v", want, report.Queues)
	}
}

func TestExecute_InvertedPolicySuppressesMatch(t *testing.T) {
	report := execute(t, `{
		"policy": {"invert": true, "matches": {"code": "VERIFY_FAILED"}},
		"queues": [{"id": "main", "tasks": [
			{"name": "one", "type": "transform", "config": {"output": {"x": 1}}},
			{"name": "two", "type": "transform", "config": {"output": {"y": 1}}}
		], "verify": [{"task": "one", "action": "fail"}]}]
	}`, nil)

	if report.Err != nil {
		t.Fatalf("matched error must be suppressed: %v", report.Err)
	}
	if report.Status != domain.RunStatusFailed {
		t.Errorf("expected FAILED, got %s", report.Status)
	}
	if _, ok := report.Result["two"]; !ok {
		t.Error("run must continue after suppressed error")
	}
	if len(report.Errors) != 1 || !strings.Contains(report.Errors[0], "verification failed for one") {
		t.Errorf("unexpected errors: %v", report.Errors)
	}
}

func TestExecute_FieldPolicyPropagatesVerifyError(t *testing.T) {
	report := execute(t, `{
		"policy": {"matches": {"code": "VERIFY_FAILED"}},
		"queues": [{"id": "main", "tasks": [
			{"name": "one", "type": "transform", "config": {"output": {"x": 1}}},
			{"name": "two", "type": "transform"}
		], "verify": [{"task": "one", "action": "fail", "error": "bad x"}]}]
	}`, nil)

	var ve *VerifyError
	if !errors.As(report.Err, &ve) {
		t.Fatalf("expected VerifyError, got %v", report.Err)
	}
	if ve.Task != "one" || ve.Error() != "bad x" {
		t.Errorf("unexpected verify error: %+v", ve)
	}
	if _, ok := report.Result["two"]; ok {
		t.Error("run must stop on propagated error")
	}
}

func TestExecute_Background(t *testing.T) {
	report := execute(t, `{"queues": [{"id": "main", "tasks": [
		{"name": "bg", "mode": "background", "type": "delay", "config": {"duration_ms": 20, "value": "late"}},
		{"name": "fg", "type": "transform", "config": {"output": "now"}}
	]}]}`, nil)

	if report.Status != domain.RunStatusSucceeded {
		t.Fatalf("expected SUCCEEDED, got %s (%s)", report.Status, report.Error)
	}
	bg, ok := report.Result["bg"].(map[string]any)
	if !ok || bg["value"] != "late" {
		t.Errorf("expected background result, got %v", report.Result["bg"])
	}
}

func TestExecute_BackgroundPropagated(t *testing.T) {
	report := execute(t, `{"queues": [{"id": "main", "tasks": [
		{"name": "bg", "mode": "background", "type": "delay", "policy": true,
		 "config": {"duration_ms": 5, "value": "lost", "reject": true}},
		{"name": "fg", "type": "transform", "config": {"output": "now"}}
	]}]}`, nil)

	if report.Status != domain.RunStatusFailed {
		t.Errorf("expected FAILED, got %s", report.Status)
	}
	if report.Queues["main"] != domain.QueueStatusSucceeded {
		t.Errorf("background errors must not fail the queue, got %s", report.Queues["main"])
	}
	if report.Error != "lost" {
		t.Errorf("expected error lost, got %q", report.Error)
	}
}

func TestExecute_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	spec := mustParse(t, `{"queues": [{"id": "main", "tasks": [{"name": "a", "type": "transform"}]}]}`)
	report, err := Execute(ctx, NewBuilder(BuilderConfig{}), spec, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if report.Status != domain.RunStatusCancelled {
		t.Errorf("expected CANCELLED, got %s", report.Status)
	}
	if !errors.Is(report.Err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", report.Err)
	}
}

func TestExecute_BuildErrors(t *testing.T) {
	b := NewBuilder(BuilderConfig{})

	spec := mustParse(t, `{"inputs": {"id": {"type": "string", "required": true}},
		"queues": [{"id": "main", "tasks": [{"type": "transform"}]}]}`)
	if _, err := Execute(context.Background(), b, spec, nil); !errors.Is(err, ErrMissingInput) {
		t.Errorf("expected ErrMissingInput, got %v", err)
	}

	spec = mustParse(t, `{"queues": [{"id": "main", "tasks": [{"type": "ftp"}]}]}`)
	if _, err := Execute(context.Background(), b, spec, nil); !errors.Is(err, ErrUnknownStepType) {
		t.Errorf("expected ErrUnknownStepType, got %v", err)
	}
}

func TestBuild_FreshQueues(t *testing.T) {
	b := NewBuilder(BuilderConfig{})
	spec := mustParse(t, `{"queues": [{"id": "main", "tasks": [{"name": "a", "type": "transform"}]}]}`)

	first, err := b.Build(spec, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := b.Build(spec, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if first.Entry == second.Entry {
		t.Error("each build must create new queues")
	}
	if first.QueueID(first.Entry) != "main" {
		t.Errorf("expected entry main, got %s", first.QueueID(first.Entry))
	}
	if first.Entry.Count() != 1 {
		t.Errorf("expected 1 task, got %d", first.Entry.Count())
	}
}

func TestExecute_Metrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := telemetry.NewMetrics(reg)
	b := NewBuilder(BuilderConfig{Metrics: metrics})

	spec := mustParse(t, `{"queues": [
		{"id": "main", "tasks": [{"name": "a", "type": "transform"}],
		 "verify": [{"task": "a", "action": "transfer", "target": "second"}]},
		{"id": "second", "tasks": [{"name": "b", "type": "transform"}]}
	]}`)
	if _, err := Execute(context.Background(), b, spec, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	const want = `
# HELP relay_transfers_total Queue runs handed over to another queue
# TYPE relay_transfers_total counter
relay_transfers_total 1
`
	if err := testutil.GatherAndCompare(reg, strings.NewReader(want), "relay_transfers_total"); err != nil {
		t.Error(err)
	}
}
