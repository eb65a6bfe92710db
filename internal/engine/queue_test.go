package engine

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/shaiso/relay/internal/domain"
	"github.com/shaiso/relay/internal/telemetry"
)

// value возвращает операцию с фиксированным результатом.
func value(v any) Operation {
	return func(ctx context.Context, args ...any) (any, error) {
		return v, nil
	}
}

// fail возвращает операцию, завершающуюся ошибкой.
func fail(err error) Operation {
	return func(ctx context.Context, args ...any) (any, error) {
		return nil, err
	}
}

// recorder записывает порядок запуска и завершения операций.
type recorder struct {
	mu     sync.Mutex
	events []string
}

func (r *recorder) add(e string) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

func (r *recorder) list() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

func (r *recorder) op(name string, delay time.Duration) Operation {
	return func(ctx context.Context, args ...any) (any, error) {
		r.add("start " + name)
		time.Sleep(delay)
		r.add("end " + name)
		return name, nil
	}
}

// mustAdd проверяет результат постановки: mustAdd(t)(q.Series(...)).
func mustAdd(t *testing.T) func(string, error) string {
	return func(name string, err error) string {
		t.Helper()
		if err != nil {
			t.Fatalf("enqueue failed: %v", err)
		}
		return name
	}
}

func TestQueue_SeriesStoresResults(t *testing.T) {
	store := Store{}
	q := New(Config{Store: store})

	mustAdd(t)(q.Series("one", value(map[string]any{"a": []any{map[string]any{"b": 2}}})))
	arg, err := q.Arg("one.a[0].b")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	mustAdd(t)(q.Series("two", func(ctx context.Context, args ...any) (any, error) {
		return args[0].(int) * 10, nil
	}, arg))

	if q.Count() != 2 || q.Waiting() != 2 {
		t.Fatalf("expected 2 tasks waiting, got count=%d waiting=%d", q.Count(), q.Waiting())
	}

	result, err := q.Run(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if result["two"] != 20 {
		t.Errorf("expected two=20, got %v", result["two"])
	}
	if q.Status() != domain.QueueStatusSucceeded {
		t.Errorf("expected SUCCEEDED, got %s", q.Status())
	}
	if q.Count() != 0 || q.Waiting() != 0 {
		t.Errorf("expected empty queue after run, got count=%d waiting=%d", q.Count(), q.Waiting())
	}
}

func TestQueue_ParallelRunsConcurrently(t *testing.T) {
	rec := &recorder{}
	q := New(Config{Store: Store{}})

	mustAdd(t)(q.Parallel("p1", rec.op("p1", 30*time.Millisecond)))
	mustAdd(t)(q.Parallel("p2", rec.op("p2", 10*time.Millisecond)))

	result, err := q.Run(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	events := rec.list()
	// Вторая операция стартует до завершения первой
	startP2, endP1 := -1, -1
	for i, e := range events {
		switch e {
		case "start p2":
			startP2 = i
		case "end p1":
			endP1 = i
		}
	}
	if startP2 < 0 || endP1 < 0 || startP2 > endP1 {
		t.Errorf("expected p2 to start before p1 ends, events: %v", events)
	}

	if result["p1"] != "p1" || result["p2"] != "p2" {
		t.Errorf("unexpected results: %v", result)
	}
	if got := q.Messages(""); got != "p1,p2" {
		t.Errorf("expected messages in insertion order, got %q", got)
	}
}

func TestQueue_SeriesWaitsForPrevious(t *testing.T) {
	rec := &recorder{}
	q := New(Config{})

	mustAdd(t)(q.Series("s1", rec.op("s1", 20*time.Millisecond)))
	mustAdd(t)(q.Series("s2", rec.op("s2", 0)))

	if _, err := q.Run(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	expected := []string{"start s1", "end s1", "start s2", "end s2"}
	events := rec.list()
	if strings.Join(events, ",") != strings.Join(expected, ",") {
		t.Errorf("expected %v, got %v", expected, events)
	}
}

func TestQueue_UnnamedTaskNotStored(t *testing.T) {
	store := Store{}
	q := New(Config{Store: store})

	name := mustAdd(t)(q.Series("", value("hello")))
	if name == "" {
		t.Fatal("expected generated name")
	}

	if _, err := q.Run(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(store) != 0 {
		t.Errorf("expected nothing stored, got %v", store)
	}
	if q.Messages("") != "hello" {
		t.Errorf("expected message from string result, got %q", q.Messages(""))
	}
}

func TestQueue_SuppressedError(t *testing.T) {
	q := New(Config{Store: Store{}})

	mustAdd(t)(q.Series("bad", fail(errors.New("boom"))))
	mustAdd(t)(q.Series("good", value(map[string]any{"message": "ok"})))

	result, err := q.Run(context.Background())
	if err != nil {
		t.Fatalf("suppressed error must not be returned: %v", err)
	}
	if q.Status() != domain.QueueStatusFailed {
		t.Errorf("expected FAILED, got %s", q.Status())
	}

	errs := q.Errors()
	if len(errs) != 1 {
		t.Fatalf("expected 1 error, got %d", len(errs))
	}
	var te *TaskError
	if !errors.As(errs[0], &te) || te.Name != "bad" {
		t.Errorf("expected TaskError for bad, got %v", errs[0])
	}
	if _, ok := result["bad"]; ok {
		t.Error("failed task must not store result")
	}

	msgs := q.MessageList()
	if len(msgs) != 2 {
		t.Fatalf("expected 2 messages, got %v", msgs)
	}
	if !strings.HasPrefix(msgs[0], "Internal ERROR for bad") {
		t.Errorf("expected generic error message, got %q", msgs[0])
	}
	if msgs[1] != "ok" {
		t.Errorf("expected ok, got %q", msgs[1])
	}
}

func TestQueue_IncludeErrorMessage(t *testing.T) {
	q := New(Config{
		IncludeErrorMessage: func(name, operation string, err error) bool { return name == "bad" },
	})
	mustAdd(t)(q.Series("bad", fail(errors.New("boom"))))

	if _, err := q.Run(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if q.Messages("") != "boom" {
		t.Errorf("expected error text in messages, got %q", q.Messages(""))
	}
}

func TestQueue_PropagatedError(t *testing.T) {
	boom := errors.New("boom")
	ended := false

	q := New(Config{Policy: Propagate()})
	mustAdd(t)(q.Series("bad", fail(boom)))
	mustAdd(t)(q.Series("never", func(ctx context.Context, args ...any) (any, error) {
		t.Error("task after propagated error must not run")
		return nil, nil
	}))
	if err := q.OnEnd(func(q, next *Queue) error { ended = true; return nil }); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	_, err := q.Run(context.Background())
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	var te *TaskError
	if !errors.As(err, &te) || te.Name != "bad" {
		t.Errorf("expected TaskError for bad, got %v", err)
	}
	if q.Status() != domain.QueueStatusFailed {
		t.Errorf("expected FAILED, got %s", q.Status())
	}
	if ended {
		t.Error("OnEnd must not be called on propagated error")
	}
}

func TestQueue_PropagatedErrorSkipsHook(t *testing.T) {
	boom := errors.New("boom")
	hookSaw := false

	q := New(Config{Store: Store{}, Policy: Propagate()})
	mustAdd(t)(q.Series("one", fail(boom)))
	mustAdd(t)(q.Series("two", value("ran")))
	if err := q.Verify("one", func(ctx context.Context, q *Queue, v *Verification) (Decision, error) {
		hookSaw = v.Error != nil
		v.Error = nil
		return Continue(), nil
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	result, err := q.Run(context.Background())
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	if hookSaw {
		t.Error("hook must not see an error the policy propagates")
	}
	if _, ok := result["two"]; ok {
		t.Error("task after propagated error must not run")
	}
	if q.Status() != domain.QueueStatusFailed {
		t.Errorf("expected FAILED, got %s", q.Status())
	}
}

func TestQueue_HookReplacementChecksPolicy(t *testing.T) {
	original := errors.New("soft")
	replaced := &codeError{code: "HARD"}

	q := New(Config{Policy: MatchFields(map[string]any{"code": "HARD"}, false)})
	mustAdd(t)(q.Series("t", fail(original)))
	if err := q.Verify("t", func(ctx context.Context, q *Queue, v *Verification) (Decision, error) {
		v.Error = replaced
		return Continue(), nil
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	_, err := q.Run(context.Background())
	var te *TaskError
	if !errors.As(err, &te) {
		t.Fatalf("expected TaskError, got %v", err)
	}
	if te.Err != replaced || te.Cause != original {
		t.Errorf("expected replaced error caused by original, got err=%v cause=%v", te.Err, te.Cause)
	}
}

func TestQueue_Messages(t *testing.T) {
	q := New(Config{})
	mustAdd(t)(q.Series("one", value(`say "hi"`)))
	mustAdd(t)(q.Series("two", value(map[string]any{"message": "done"})))

	if _, err := q.Run(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	tests := []struct {
		delimiter string
		want      string
	}{
		{"", "say 'hi',done"},
		{" | ", "say 'hi' | done"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := q.Messages(tt.delimiter); got != tt.want {
				t.Errorf("expected %q, got %q", tt.want, got)
			}
		})
	}
}

func TestQueue_PerTaskPolicy(t *testing.T) {
	q := New(Config{Policy: Propagate()})
	mustAdd(t)(q.SeriesWithPolicy("soft", Suppress(), fail(errors.New("soft"))))
	mustAdd(t)(q.Series("after", value("ran")))

	if _, err := q.Run(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(q.Errors()) != 1 {
		t.Errorf("expected suppressed error, got %v", q.Errors())
	}
}

func TestQueue_PanicRecovered(t *testing.T) {
	q := New(Config{Policy: MatchSystem(false)})
	mustAdd(t)(q.Series("explode", func(ctx context.Context, args ...any) (any, error) {
		var m map[string]int
		m["x"] = 1
		return nil, nil
	}))

	_, err := q.Run(context.Background())
	var pe *PanicError
	if !errors.As(err, &pe) {
		t.Fatalf("expected PanicError, got %v", err)
	}
	if !IsSystemError(err) {
		t.Error("panic must be a system error")
	}
}

func TestQueue_VerifyStop(t *testing.T) {
	q := New(Config{Store: Store{}})
	mustAdd(t)(q.Series("first", value(1)))
	mustAdd(t)(q.Series("second", value(2)))

	err := q.Verify("first", func(ctx context.Context, q *Queue, v *Verification) (Decision, error) {
		return Stop(), nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	result, err := q.Run(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if q.Status() != domain.QueueStatusStopped {
		t.Errorf("expected STOPPED, got %s", q.Status())
	}
	if result["first"] != 1 {
		t.Errorf("expected first result stored, got %v", result["first"])
	}
	if _, ok := result["second"]; ok {
		t.Error("second task must not run after stop")
	}
}

func TestQueue_StopDrainsPendingParallel(t *testing.T) {
	store := Store{}
	q := New(Config{Store: store})
	mustAdd(t)(q.Parallel("p", func(ctx context.Context, args ...any) (any, error) {
		time.Sleep(20 * time.Millisecond)
		return "late", nil
	}))
	mustAdd(t)(q.Series("s", value("now")))
	mustAdd(t)(q.Series("never", value("x")))

	if err := q.Verify("s", func(ctx context.Context, q *Queue, v *Verification) (Decision, error) {
		return Stop(), nil
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, err := q.Run(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if store["p"] != "late" {
		t.Errorf("dispatched parallel task must be drained, got %v", store["p"])
	}
	if _, ok := store["never"]; ok {
		t.Error("task after stop must not run")
	}
}

func TestQueue_VerifyParallelCalledTwice(t *testing.T) {
	q := New(Config{})
	mustAdd(t)(q.Parallel("p", value("done")))

	var calls []bool
	if err := q.Verify("p", func(ctx context.Context, q *Queue, v *Verification) (Decision, error) {
		calls = append(calls, v.IsPending())
		if !v.IsParallel() {
			t.Error("expected parallel task")
		}
		return Continue(), nil
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, err := q.Run(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(calls) != 2 || !calls[0] || calls[1] {
		t.Errorf("expected pending then settled calls, got %v", calls)
	}
}

func TestQueue_VerifyReplacesError(t *testing.T) {
	original := errors.New("original")
	replaced := errors.New("replaced")

	q := New(Config{})
	mustAdd(t)(q.Series("t", fail(original)))
	if err := q.Verify("t", func(ctx context.Context, q *Queue, v *Verification) (Decision, error) {
		v.Error = replaced
		return Continue(), nil
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, err := q.Run(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	errs := q.Errors()
	if len(errs) != 1 {
		t.Fatalf("expected 1 error, got %d", len(errs))
	}
	var te *TaskError
	if !errors.As(errs[0], &te) {
		t.Fatalf("expected TaskError, got %T", errs[0])
	}
	if te.Err != replaced || te.Cause != original {
		t.Errorf("expected replaced with cause original, got err=%v cause=%v", te.Err, te.Cause)
	}
}

func TestQueue_VerifyClearsError(t *testing.T) {
	q := New(Config{Store: Store{}})
	mustAdd(t)(q.Series("t", fail(errors.New("boom"))))
	if err := q.Verify("t", func(ctx context.Context, q *Queue, v *Verification) (Decision, error) {
		v.Error = nil
		v.Result = "recovered"
		v.SetMessage("fixed")
		return Continue(), nil
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	result, err := q.Run(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if q.Status() != domain.QueueStatusSucceeded {
		t.Errorf("expected SUCCEEDED, got %s", q.Status())
	}
	if result["t"] != "recovered" {
		t.Errorf("expected recovered result, got %v", result["t"])
	}
	if q.Messages("") != "fixed" {
		t.Errorf("expected overridden message, got %q", q.Messages(""))
	}
}

func TestQueue_HookErrorPropagates(t *testing.T) {
	hookErr := errors.New("verification failed")

	q := New(Config{Policy: Propagate()})
	mustAdd(t)(q.Series("t", value("ok")))
	if err := q.Verify("t", func(ctx context.Context, q *Queue, v *Verification) (Decision, error) {
		return Continue(), hookErr
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	_, err := q.Run(context.Background())
	if !errors.Is(err, hookErr) {
		t.Errorf("expected hook error, got %v", err)
	}
}

func TestQueue_Transfer(t *testing.T) {
	store := Store{"shared": "source"}
	q1 := New(Config{Store: store})
	q2 := New(Config{Store: Store{"shared": "target", "own": 1}})

	mustAdd(t)(q1.Series("a", fail(errors.New("a failed"))))
	mustAdd(t)(q1.Series("b", value("b")))
	mustAdd(t)(q1.Series("c", value("c")))
	mustAdd(t)(q2.Series("d", value("d")))

	if err := q1.Verify("b", func(ctx context.Context, q *Queue, v *Verification) (Decision, error) {
		return Transfer(q2), nil
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var endedWith *Queue
	if err := q1.OnEnd(func(q, next *Queue) error { endedWith = next; return nil }); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	result, err := q1.Run(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if q1.Status() != domain.QueueStatusTransferred {
		t.Errorf("expected source TRANSFERRED, got %s", q1.Status())
	}
	if endedWith != q2 {
		t.Error("expected OnEnd with target queue")
	}
	if _, ok := result["c"]; ok {
		t.Error("task after transfer must not run")
	}
	if result["d"] != "d" || result["b"] != "b" {
		t.Errorf("expected merged results, got %v", result)
	}
	if result["shared"] != "target" || result["own"] != 1 {
		t.Errorf("expected target values to win, got %v", result)
	}

	// Ошибки и сообщения источника идут первыми
	if len(q2.Errors()) != 1 {
		t.Errorf("expected source error in target, got %v", q2.Errors())
	}
	msgs := q2.MessageList()
	if len(msgs) != 3 || msgs[1] != "b" || msgs[2] != "d" {
		t.Errorf("unexpected messages: %v", msgs)
	}
	// Ошибка источника делает цепочку FAILED
	if q2.Status() != domain.QueueStatusFailed {
		t.Errorf("expected target FAILED, got %s", q2.Status())
	}
}

func TestQueue_TransferToSelfContinues(t *testing.T) {
	store := Store{}
	q := New(Config{Store: store})
	mustAdd(t)(q.Series("a", value(1)))
	mustAdd(t)(q.Series("b", value(2)))
	if err := q.Verify("a", func(ctx context.Context, q *Queue, v *Verification) (Decision, error) {
		return Transfer(q), nil
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, err := q.Run(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if store["b"] != 2 {
		t.Error("transfer to self must continue")
	}
	if q.Status() != domain.QueueStatusSucceeded {
		t.Errorf("expected SUCCEEDED, got %s", q.Status())
	}
}

func TestQueue_TransferSharedStore(t *testing.T) {
	store := Store{}
	q1 := New(Config{Store: store})
	q2 := New(Config{Store: store})
	mustAdd(t)(q1.Series("a", value(1)))
	mustAdd(t)(q2.Series("b", value(2)))
	if err := q1.Verify("a", func(ctx context.Context, q *Queue, v *Verification) (Decision, error) {
		return Transfer(q2), nil
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	result, err := q1.Run(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result["a"] != 1 || result["b"] != 2 {
		t.Errorf("unexpected result: %v", result)
	}
}

func TestQueue_TransferKeepsTargetZeroValues(t *testing.T) {
	q1 := New(Config{Store: Store{"count": 9, "flag": true, "from": "source"}})
	q2 := New(Config{Store: Store{"count": 0, "flag": false}})
	mustAdd(t)(q1.Series("a", value(1)))
	mustAdd(t)(q2.Series("b", value(2)))
	if err := q1.Verify("a", func(ctx context.Context, q *Queue, v *Verification) (Decision, error) {
		return Transfer(q2), nil
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	result, err := q1.Run(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result["count"] != 0 || result["flag"] != false {
		t.Errorf("target zero values must win, got %v", result)
	}
	if result["from"] != "source" || result["a"] != 1 || result["b"] != 2 {
		t.Errorf("expected missing keys filled from source, got %v", result)
	}
}

func TestQueue_RunTwice(t *testing.T) {
	q := New(Config{})
	mustAdd(t)(q.Series("a", value(1)))

	if _, err := q.Run(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := q.Run(context.Background()); !errors.Is(err, ErrNotQueueing) {
		t.Errorf("expected ErrNotQueueing, got %v", err)
	}
	if _, err := q.Series("late", value(1)); !errors.Is(err, ErrNotQueueing) {
		t.Errorf("expected ErrNotQueueing on enqueue after run, got %v", err)
	}
}

func TestQueue_UsageErrors(t *testing.T) {
	q := New(Config{})

	if _, err := q.Run(context.Background()); !errors.Is(err, ErrNothingToRun) {
		t.Errorf("expected ErrNothingToRun, got %v", err)
	}
	if _, err := q.Series("a", nil); !errors.Is(err, ErrNilOperation) {
		t.Errorf("expected ErrNilOperation, got %v", err)
	}
	if _, err := q.Add(TaskSpec{Mode: "sometimes", Operation: value(1)}); !errors.Is(err, ErrInvalidMode) {
		t.Errorf("expected ErrInvalidMode, got %v", err)
	}
	if err := q.Verify("  ", func(ctx context.Context, q *Queue, v *Verification) (Decision, error) {
		return Continue(), nil
	}); !errors.Is(err, ErrEmptyVerifyName) {
		t.Errorf("expected ErrEmptyVerifyName, got %v", err)
	}
	if err := q.Verify("a", nil); !errors.Is(err, ErrNilHook) {
		t.Errorf("expected ErrNilHook, got %v", err)
	}
	if _, err := q.Arg("a["); !errors.Is(err, ErrInvalidPath) {
		t.Errorf("expected ErrInvalidPath, got %v", err)
	}
}

func TestQueue_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	q := New(Config{})
	mustAdd(t)(q.Series("slow", func(ctx context.Context, args ...any) (any, error) {
		cancel()
		<-ctx.Done()
		return nil, ctx.Err()
	}))
	mustAdd(t)(q.Series("never", value(1)))

	_, err := q.Run(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
	if q.Status() != domain.QueueStatusFailed {
		t.Errorf("expected FAILED, got %s", q.Status())
	}
}

func TestQueue_OnEndError(t *testing.T) {
	endErr := errors.New("end failed")
	q := New(Config{})
	mustAdd(t)(q.Series("a", value(1)))
	if err := q.OnEnd(func(q, next *Queue) error { return endErr }); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, err := q.Run(context.Background()); !errors.Is(err, endErr) {
		t.Errorf("expected end handler error, got %v", err)
	}
}

func TestQueue_Metrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := telemetry.NewMetrics(reg)

	q := New(Config{Metrics: metrics})
	mustAdd(t)(q.Series("a", value(1)))
	mustAdd(t)(q.Series("b", fail(errors.New("boom"))))

	if _, err := q.Run(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather failed: %v", err)
	}
	found := map[string]bool{}
	for _, f := range families {
		found[f.GetName()] = true
	}
	for _, name := range []string{"relay_tasks_total", "relay_queue_runs_total"} {
		if !found[name] {
			t.Errorf("expected metric %s", name)
		}
	}
}

func TestOperationName(t *testing.T) {
	name := OperationName(value(1))
	if !strings.HasPrefix(name, "engine.") {
		t.Errorf("expected package-qualified name, got %q", name)
	}
	if OperationName(nil) != "" {
		t.Error("expected empty name for nil operation")
	}
}
