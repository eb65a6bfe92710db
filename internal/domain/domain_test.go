package domain

import (
	"testing"
	"time"
)

func TestRunStatus_IsTerminal(t *testing.T) {
	tests := []struct {
		status RunStatus
		want   bool
	}{
		{RunStatusPending, false},
		{RunStatusRunning, false},
		{RunStatusSucceeded, true},
		{RunStatusFailed, true},
		{RunStatusStopped, true},
		{RunStatusCancelled, true},
	}

	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			if got := tt.status.IsTerminal(); got != tt.want {
				t.Errorf("IsTerminal() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRunStatusFromQueue(t *testing.T) {
	tests := []struct {
		queue QueueStatus
		want  RunStatus
	}{
		{QueueStatusSucceeded, RunStatusSucceeded},
		{QueueStatusFailed, RunStatusFailed},
		{QueueStatusStopped, RunStatusStopped},
		{QueueStatusTransferred, RunStatusStopped},
		{QueueStatusRunning, RunStatusRunning},
		{QueueStatusQueueing, RunStatusRunning},
	}

	for _, tt := range tests {
		t.Run(tt.queue.String(), func(t *testing.T) {
			if got := RunStatusFromQueue(tt.queue); got != tt.want {
				t.Errorf("RunStatusFromQueue(%s) = %s, want %s", tt.queue, got, tt.want)
			}
		})
	}
}

func TestRun_Lifecycle(t *testing.T) {
	run := &Run{Status: RunStatusPending}
	if run.IsFinished() || run.Duration() != 0 {
		t.Fatalf("pending run must not be finished: %+v", run)
	}

	run.MarkRunning()
	if run.Status != RunStatusRunning || run.StartedAt == nil {
		t.Fatalf("unexpected running run: %+v", run)
	}
	if run.Duration() != 0 {
		t.Error("running run must have zero duration")
	}

	time.Sleep(time.Millisecond)
	run.MarkFailed("boom")
	if !run.IsFinished() || run.Status != RunStatusFailed || run.Error != "boom" {
		t.Fatalf("unexpected failed run: %+v", run)
	}
	if run.Duration() <= 0 {
		t.Errorf("expected positive duration, got %s", run.Duration())
	}

	run.MarkCancelled()
	if run.Status != RunStatusCancelled || run.Error != "" {
		t.Errorf("cancel must reset error: %+v", run)
	}
}

func TestTaskMode(t *testing.T) {
	var task TaskDef
	if task.EffectiveMode() != TaskModeSeries {
		t.Errorf("default mode must be series, got %s", task.EffectiveMode())
	}

	task.Mode = TaskModeBackground
	if task.EffectiveMode() != TaskModeBackground {
		t.Errorf("expected background, got %s", task.EffectiveMode())
	}

	if TaskMode("eventually").IsValid() {
		t.Error("unknown mode must be invalid")
	}
}

func TestFlowSpec_EntryQueue(t *testing.T) {
	spec := FlowSpec{Queues: []QueueDef{{ID: "main"}, {ID: "fallback"}}}
	if spec.EntryQueue() != "main" {
		t.Errorf("expected first queue, got %q", spec.EntryQueue())
	}

	spec.Entry = "fallback"
	if spec.EntryQueue() != "fallback" {
		t.Errorf("expected explicit entry, got %q", spec.EntryQueue())
	}

	if q, ok := spec.Queue("fallback"); !ok || q.ID != "fallback" {
		t.Errorf("Queue(fallback) = %v, %v", q, ok)
	}
	if _, ok := spec.Queue("missing"); ok {
		t.Error("missing queue must not be found")
	}

	if (&FlowSpec{}).EntryQueue() != "" {
		t.Error("empty spec has no entry")
	}
}
