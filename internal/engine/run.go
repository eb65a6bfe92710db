package engine

import (
	"context"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/shaiso/relay/internal/domain"
	"github.com/shaiso/relay/internal/telemetry"
)

// Outcome — итог одного прохода очереди: Completed, Stopped или TransferTo.
type Outcome struct {
	stopped bool
	next    *Queue
}

// Completed сообщает, что очередь прошла все задачи.
func (o Outcome) Completed() bool { return !o.stopped && o.next == nil }

// Stopped сообщает, что хук остановил выполнение.
func (o Outcome) Stopped() bool { return o.stopped && o.next == nil }

// TransferTo возвращает очередь, которой передаётся выполнение, или nil.
func (o Outcome) TransferTo() *Queue { return o.next }

// Run выполняет очередь. Допускается один вызов.
//
// Если verify-хук передаёт выполнение другой очереди, её ошибки, сообщения,
// фоновые задачи и Store объединяются, и Run продолжает с ней.
// Возвращается Store последней очереди цепочки.
//
// Ошибка возвращается, если политика решила прервать выполнение
// (*TaskError), при отмене ctx, при ошибке использования и при ошибке
// обработчика OnEnd.
func (q *Queue) Run(ctx context.Context) (Store, error) {
	cur := q
	for {
		outcome, err := cur.runOnce(ctx)
		if err != nil {
			return cur.store, err
		}

		next := outcome.TransferTo()
		if next == nil {
			if err := cur.end(nil); err != nil {
				return cur.store, err
			}
			return cur.store, nil
		}

		if err := cur.handOff(next); err != nil {
			return next.store, err
		}
		cur = next
	}
}

// runOnce выполняет один проход очереди без передачи выполнения.
func (q *Queue) runOnce(ctx context.Context) (Outcome, error) {
	q.mu.Lock()
	if q.status != domain.QueueStatusQueueing {
		status := q.status
		q.mu.Unlock()
		return Outcome{}, fmt.Errorf("%w: status is %s", ErrNotQueueing, status)
	}
	if len(q.tasks) == 0 {
		q.mu.Unlock()
		return Outcome{}, ErrNothingToRun
	}
	q.status = domain.QueueStatusRunning
	tasks := q.tasks
	q.mu.Unlock()

	q.logger.Debug("queue run started", "tasks", len(tasks))

	decision, err := q.execute(ctx, tasks)
	if err != nil {
		q.finish(domain.QueueStatusFailed)
		return Outcome{}, err
	}

	halted := decision.halts(q)
	q.mu.Lock()
	failed := q.runErrors > 0
	q.mu.Unlock()

	var status domain.QueueStatus
	switch {
	case failed:
		status = domain.QueueStatusFailed
	case halted:
		status = domain.QueueStatusStopped
	default:
		status = domain.QueueStatusSucceeded
	}
	q.finish(status)

	if decision.kind == decisionTransfer && halted {
		return Outcome{next: decision.target}, nil
	}
	return Outcome{stopped: halted}, nil
}

// execute — основной проход и сбор parallel задач.
func (q *Queue) execute(ctx context.Context, tasks []*task) (Decision, error) {
	decision := Continue()
	var pending []*task

	for _, t := range tasks {
		if err := ctx.Err(); err != nil {
			return decision, fmt.Errorf("queue run aborted: %w", err)
		}

		q.dispatch(ctx, t)

		var (
			d   Decision
			err error
		)
		switch t.mode {
		case domain.TaskModeSeries:
			if err := q.await(ctx, t); err != nil {
				return decision, err
			}
			d, err = q.handle(ctx, t, false)
		case domain.TaskModeParallel:
			pending = append(pending, t)
			d, err = q.handle(ctx, t, true)
		case domain.TaskModeBackground:
			q.track(t)
			d, err = q.handle(ctx, t, true)
		}
		if err != nil {
			return decision, err
		}
		if d.halts(q) {
			decision = d
			break
		}
	}

	// Все уже запущенные parallel задачи собираются в порядке постановки,
	// даже если проход был остановлен. Первое решение об остановке побеждает.
	for _, t := range pending {
		if err := q.await(ctx, t); err != nil {
			return decision, err
		}
		d, err := q.handle(ctx, t, false)
		if err != nil {
			return decision, err
		}
		if !decision.halts(q) && d.halts(q) {
			decision = d
		}
	}

	return decision, nil
}

// dispatch запускает операцию задачи в отдельной горутине.
// Аргументы-ссылки вычисляются против Store в момент запуска.
func (q *Queue) dispatch(ctx context.Context, t *task) {
	t.done = make(chan struct{})

	args, err := resolveArgs(t.args, q.store)
	if err != nil {
		t.err = err
		if t.mode == domain.TaskModeBackground {
			q.settleBackground(t)
		}
		close(t.done)
		return
	}

	runCtx := ctx
	if t.mode == domain.TaskModeBackground {
		// Фоновая задача переживает Run и не должна отменяться вместе с ним
		runCtx = context.WithoutCancel(ctx)
	}

	go func() {
		defer close(t.done)
		start := time.Now()
		t.result, t.err = call(runCtx, t.op, args)
		t.elapsed = time.Since(start)
		if t.mode == domain.TaskModeBackground {
			q.settleBackground(t)
		}
	}()
}

// call вызывает операцию, превращая панику в ошибку.
func call(ctx context.Context, op Operation, args []any) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			result, err = nil, newPanicError(r)
		}
	}()
	return op(ctx, args...)
}

// callHook вызывает хук, превращая панику в ошибку.
func callHook(ctx context.Context, h Hook, q *Queue, v *Verification) (d Decision, err error) {
	defer func() {
		if r := recover(); r != nil {
			d, err = Continue(), newPanicError(r)
		}
	}()
	return h(ctx, q, v)
}

// await ожидает завершения задачи или отмены ctx.
func (q *Queue) await(ctx context.Context, t *task) error {
	if t.done == nil {
		return fmt.Errorf("%w: %s", ErrMissingSettlement, t.name)
	}
	select {
	case <-t.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("queue run aborted: %w", ctx.Err())
	}
}

// handle применяет политику ошибок, verify-хук, сохранение результата
// и сообщение к задаче. pending — вызов в момент запуска (parallel/background).
//
// Ошибка самой операции проходит политику до хука: хук не видит ошибку,
// которая прерывает выполнение. Ошибка, созданная хуком, проходит
// политику после него со ссылкой на исходную.
func (q *Queue) handle(ctx context.Context, t *task, pending bool) (Decision, error) {
	v := &Verification{
		name:      t.name,
		operation: t.operation,
		mode:      t.mode,
		pending:   pending,
	}
	if !pending {
		v.Error = t.err
		v.Result = t.result

		q.mu.Lock()
		q.waiting--
		q.mu.Unlock()
	}

	original := v.Error
	if original != nil {
		if te := newTaskError(t, original, nil); t.policy.Propagates(te, q.systemCheck) {
			return Continue(), q.propagate(t, te)
		}
	}

	decision := Continue()
	var cause error
	if hook, ok := q.hooks[t.name]; ok {
		d, hookErr := callHook(ctx, hook, q, v)
		decision = d
		if hookErr != nil {
			v.Error = hookErr
		}
		if v.Error != nil && original != nil && !sameError(v.Error, original) {
			cause = original
		}
	}

	if v.Error != nil {
		te := newTaskError(t, v.Error, cause)
		produced := original == nil || !sameError(v.Error, original)
		if produced && t.policy.Propagates(te, q.systemCheck) {
			return decision, q.propagate(t, te)
		}

		if cause == nil {
			q.logger.Warn("task error",
				"name", t.name,
				"operation", t.operation,
				"mode", t.mode,
				"error", te.Err,
			)
		} else {
			q.logger.Warn("task error",
				"name", t.name,
				"operation", t.operation,
				"mode", t.mode,
				"error", te.Err,
				"cause", cause,
			)
		}

		q.mu.Lock()
		q.errors = append(q.errors, te)
		if t.mode != domain.TaskModeBackground {
			q.runErrors++
		}
		q.mu.Unlock()
		if !pending {
			q.metrics.TaskSettled(string(t.mode), telemetry.OutcomeSuppressed, t.elapsed)
		}
	} else if !pending {
		if !t.noResult && v.Result != nil && q.store != nil {
			q.store[t.name] = v.Result
			q.logger.Debug("task result",
				"name", t.name,
				"operation", t.operation,
				"result", v.Result,
			)
		}
		q.metrics.TaskSettled(string(t.mode), telemetry.OutcomeSucceeded, t.elapsed)
	}

	if !pending || v.hasMsg {
		if msg := strings.ReplaceAll(q.message(t, v), `"`, "'"); msg != "" {
			q.mu.Lock()
			q.messages = append(q.messages, msg)
			q.mu.Unlock()
		}
	}

	return decision, nil
}

// propagate фиксирует ошибку, прерывающую выполнение.
func (q *Queue) propagate(t *task, te *TaskError) error {
	q.metrics.TaskSettled(string(t.mode), telemetry.OutcomePropagated, t.elapsed)
	q.logger.Error("task error propagated",
		"name", t.name,
		"operation", t.operation,
		"error", te.Err,
		"cause", te.Cause,
	)
	return te
}

func newTaskError(t *task, err, cause error) *TaskError {
	return &TaskError{
		Name:      t.name,
		Operation: t.operation,
		Mode:      t.mode,
		Err:       unwrapTaskError(err),
		Cause:     cause,
	}
}

// message формирует сообщение задачи: замена из хука, затем ошибка,
// затем строковый результат или поле "message" результата.
// Двойные кавычки в сообщениях заменяются одинарными при добавлении.
func (q *Queue) message(t *task, v *Verification) string {
	if v.hasMsg {
		return v.message
	}

	if v.Error != nil {
		if q.includeErr != nil && q.includeErr(t.name, t.operation, v.Error) {
			return v.Error.Error()
		}
		msg := "Internal ERROR for " + t.name
		if t.operation != "" && t.operation != t.name {
			msg += " on operation: " + t.operation
		}
		return msg
	}

	switch r := v.Result.(type) {
	case string:
		return r
	case map[string]any:
		if s, ok := r["message"].(string); ok {
			return s
		}
	case Store:
		if s, ok := r["message"].(string); ok {
			return s
		}
	}
	return ""
}

// finish переводит очередь в терминальный статус и сбрасывает счётчики.
// Таблица хуков очищается: очередь не может быть запущена повторно.
func (q *Queue) finish(status domain.QueueStatus) {
	q.mu.Lock()
	q.status = status
	q.tasks = nil
	q.waiting = 0
	q.mu.Unlock()

	q.hooks = make(map[string]Hook)
	q.metrics.QueueFinished(string(status))
	q.logger.Debug("queue run finished", "status", status)
}

// end вызывает обработчик OnEnd.
func (q *Queue) end(next *Queue) error {
	if q.onEnd == nil {
		return nil
	}
	if err := q.onEnd(q, next); err != nil {
		return fmt.Errorf("end handler: %w", err)
	}
	return nil
}

// handOff передаёт состояние очереди next: ошибки, сообщения и фоновые
// задачи добавляются перед собственными, Store объединяется.
func (q *Queue) handOff(next *Queue) error {
	q.mu.Lock()
	errs := append([]error(nil), q.errors...)
	msgs := append([]string(nil), q.messages...)
	bgs := q.backgrounds
	runErrors := q.runErrors
	q.backgrounds = nil
	q.forward = next
	q.status = domain.QueueStatusTransferred
	q.mu.Unlock()

	next.mu.Lock()
	next.errors = append(errs, next.errors...)
	next.messages = append(msgs, next.messages...)
	next.backgrounds = append(bgs, next.backgrounds...)
	next.runErrors += runErrors
	next.mu.Unlock()

	switch {
	case next.store == nil:
		next.store = q.store
	case !sameStore(next.store, q.store):
		if err := next.store.Merge(q.store); err != nil {
			return err
		}
	}

	q.metrics.Transferred()
	q.logger.Info("queue transferred", "target", next.id)

	return q.end(next)
}

// unwrapTaskError не даёт вкладывать TaskError друг в друга,
// когда хук возвращает ошибку из Errors().
func unwrapTaskError(err error) error {
	if te, ok := err.(*TaskError); ok {
		return te.Err
	}
	return err
}

// sameError сравнивает ошибки, не паникуя на несравнимых значениях.
func sameError(a, b error) bool {
	va, vb := reflect.ValueOf(a), reflect.ValueOf(b)
	if va.Type() != vb.Type() || !va.Comparable() || !vb.Comparable() {
		return false
	}
	return va.Equal(vb)
}

// sameStore проверяет, что два Store — один и тот же объект.
func sameStore(a, b Store) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return reflect.ValueOf(a).UnsafePointer() == reflect.ValueOf(b).UnsafePointer()
}
