package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shaiso/relay/internal/domain"
)

func TestBackgroundWaiter_CollectsResults(t *testing.T) {
	store := Store{}
	q := New(Config{Store: store})

	release := make(chan struct{})
	mustAdd(t)(q.Background("bg", func(ctx context.Context, args ...any) (any, error) {
		<-release
		return "background done", nil
	}))
	mustAdd(t)(q.Series("fg", value("foreground")))

	if q.WaitingBackground() != 1 {
		t.Fatalf("expected 1 waiting background, got %d", q.WaitingBackground())
	}

	// Run не ждёт фоновую задачу
	if _, err := q.Run(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if q.Status() != domain.QueueStatusSucceeded {
		t.Errorf("expected SUCCEEDED, got %s", q.Status())
	}
	if _, ok := store["bg"]; ok {
		t.Error("background result must not be stored by Run")
	}

	close(release)

	into := Store{}
	term, _, err := q.BackgroundWaiter(context.Background(), into)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if term != q {
		t.Error("expected terminal queue to be q")
	}
	if into["bg"] != "background done" {
		t.Errorf("expected background result, got %v", into["bg"])
	}
	if q.WaitingBackground() != 0 {
		t.Errorf("expected 0 waiting background, got %d", q.WaitingBackground())
	}
}

func TestBackgroundWaiter_UnnamedNotStored(t *testing.T) {
	store := Store{}
	q := New(Config{Store: store})
	mustAdd(t)(q.Background("", value("x")))

	if _, err := q.Run(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, _, err := q.BackgroundWaiter(context.Background(), nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(store) != 0 {
		t.Errorf("expected nothing stored, got %v", store)
	}
}

func TestBackgroundWaiter_ErrorsDoNotFailQueue(t *testing.T) {
	boom := errors.New("bg boom")
	q := New(Config{})
	mustAdd(t)(q.Background("bg", fail(boom)))
	mustAdd(t)(q.Series("fg", value(1)))

	if _, err := q.Run(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	_, failed, err := q.BackgroundWaiter(context.Background(), nil)
	if err != nil {
		t.Fatalf("suppressed background error must not abort: %v", err)
	}
	if len(failed) != 1 || !errors.Is(failed[0], boom) {
		t.Errorf("expected failed background error listed, got %v", failed)
	}

	if q.Status() != domain.QueueStatusSucceeded {
		t.Errorf("background error must not fail queue, got %s", q.Status())
	}
	errs := q.Errors()
	if len(errs) != 1 || !errors.Is(errs[0], boom) {
		t.Errorf("expected background error recorded, got %v", errs)
	}
}

func TestBackgroundWaiter_PropagatedError(t *testing.T) {
	boom := errors.New("bg boom")
	q := New(Config{})
	mustAdd(t)(q.BackgroundWithPolicy("bg", Propagate(), fail(boom)))

	if _, err := q.Run(context.Background()); err != nil {
		t.Fatalf("background error must not abort Run: %v", err)
	}

	_, failed, err := q.BackgroundWaiter(context.Background(), nil)
	if !errors.Is(err, boom) {
		t.Fatalf("expected bg boom, got %v", err)
	}
	var te *TaskError
	if !errors.As(err, &te) || te.Mode != domain.TaskModeBackground {
		t.Errorf("expected background TaskError, got %v", err)
	}
	if len(failed) != 1 || failed[0] != te {
		t.Errorf("expected propagated error in failed list, got %v", failed)
	}
}

func TestBackgroundWaiter_FollowsTransfer(t *testing.T) {
	release := make(chan struct{})
	lateErr := errors.New("late")

	q1 := New(Config{Store: Store{}})
	q2 := New(Config{Store: Store{}})

	mustAdd(t)(q1.Background("bg", func(ctx context.Context, args ...any) (any, error) {
		<-release
		return nil, lateErr
	}))
	mustAdd(t)(q1.Series("go", value(1)))
	mustAdd(t)(q2.Series("done", value(2)))

	if err := q1.Verify("go", func(ctx context.Context, q *Queue, v *Verification) (Decision, error) {
		return Transfer(q2), nil
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, err := q1.Run(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	close(release)

	term, failed, err := q1.BackgroundWaiter(context.Background(), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(failed) != 1 || !errors.Is(failed[0], lateErr) {
		t.Errorf("expected late error in failed list, got %v", failed)
	}
	if term != q2 {
		t.Error("expected terminal queue to be transfer target")
	}

	// Поздняя ошибка попадает в очередь, которая держит цепочку
	errs := q2.Errors()
	if len(errs) != 1 || !errors.Is(errs[0], lateErr) {
		t.Errorf("expected late error in target queue, got %v", errs)
	}
	if len(q1.Errors()) != 0 {
		t.Errorf("expected no errors left in source, got %v", q1.Errors())
	}
}

func TestBackgroundWaiter_ContextDone(t *testing.T) {
	release := make(chan struct{})
	defer close(release)

	store := Store{}
	q := New(Config{Store: store})
	mustAdd(t)(q.Background("bg", func(ctx context.Context, args ...any) (any, error) {
		<-release
		return "x", nil
	}))

	if _, err := q.Run(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	if _, _, err := q.BackgroundWaiter(ctx, nil); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if q.WaitingBackground() != 1 {
		t.Errorf("expected task still waiting, got %d", q.WaitingBackground())
	}
}

func TestBackgroundWaiter_BeforeRun(t *testing.T) {
	q := New(Config{})
	mustAdd(t)(q.Background("bg", value(1)))

	term, failed, err := q.BackgroundWaiter(context.Background(), nil)
	if err != nil || failed != nil {
		t.Fatalf("unexpected errors: %v %v", failed, err)
	}
	if term != q {
		t.Error("expected q before run")
	}
}

func TestBackground_SurvivesRunCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	q := New(Config{})
	mustAdd(t)(q.Background("bg", func(ctx context.Context, args ...any) (any, error) {
		time.Sleep(10 * time.Millisecond)
		return "alive", ctx.Err()
	}))
	mustAdd(t)(q.Series("fg", value(1)))

	if _, err := q.Run(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	cancel()

	into := Store{}
	if _, _, err := q.BackgroundWaiter(context.Background(), into); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if into["bg"] != "alive" {
		t.Errorf("background task must not see run cancellation, got %v", into["bg"])
	}
}

func TestBackgroundWaiter_FailedAcrossChain(t *testing.T) {
	store := Store{}
	q1 := New(Config{Store: store})
	q2 := New(Config{Store: store})

	first := errors.New("first background")
	second := errors.New("second background")
	runErr := errors.New("series failed")

	mustAdd(t)(q1.Background("b1", fail(first)))
	mustAdd(t)(q1.Series("s1", fail(runErr)))
	mustAdd(t)(q1.Series("go", value(1)))
	mustAdd(t)(q2.Background("b2", fail(second)))
	mustAdd(t)(q2.Background("b3", value("ok")))
	mustAdd(t)(q2.Series("done", value(2)))

	if err := q1.Verify("go", func(ctx context.Context, q *Queue, v *Verification) (Decision, error) {
		return Transfer(q2), nil
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, err := q1.Run(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	into := Store{}
	term, failed, err := q1.BackgroundWaiter(context.Background(), into)
	if err != nil {
		t.Fatalf("suppressed background errors must not abort: %v", err)
	}
	if term != q2 {
		t.Error("expected terminal queue to be transfer target")
	}

	// Только упавшие фоновые задачи, в порядке запуска
	if len(failed) != 2 || !errors.Is(failed[0], first) || !errors.Is(failed[1], second) {
		t.Fatalf("expected [first second], got %v", failed)
	}
	for _, err := range failed {
		if errors.Is(err, runErr) {
			t.Errorf("run error must not be listed as background failure: %v", err)
		}
	}
	if into["b3"] != "ok" || len(into) != 1 {
		t.Errorf("expected only successful background result, got %v", into)
	}

	// Повторный вызов ничего не ждёт
	if _, again, err := q1.BackgroundWaiter(context.Background(), into); err != nil || again != nil {
		t.Errorf("expected no-op on second call, got %v %v", again, err)
	}
}

func TestBackgroundWaiter_NilTargetStoresNothing(t *testing.T) {
	store := Store{}
	q := New(Config{Store: store})
	mustAdd(t)(q.Background("bg", value("done")))
	mustAdd(t)(q.Series("fg", value("fg")))

	if _, err := q.Run(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, _, err := q.BackgroundWaiter(context.Background(), nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, ok := store["bg"]; ok {
		t.Errorf("background result must not reach the queue store, got %v", store)
	}
	if store["fg"] != "fg" {
		t.Errorf("expected series result, got %v", store["fg"])
	}
}
