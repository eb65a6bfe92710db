package engine

import (
	"context"
	"errors"

	"github.com/shaiso/relay/internal/domain"
	"github.com/shaiso/relay/internal/telemetry"
)

// track добавляет запущенную фоновую задачу в список ожидания.
func (q *Queue) track(t *task) {
	q.mu.Lock()
	q.backgrounds = append(q.backgrounds, t)
	q.mu.Unlock()
	q.metrics.BackgroundDispatched()
}

// terminal возвращает последнюю очередь цепочки передач.
func (q *Queue) terminal() *Queue {
	cur := q
	for {
		cur.mu.Lock()
		next := cur.forward
		cur.mu.Unlock()
		if next == nil {
			return cur
		}
		cur = next
	}
}

// appendError добавляет ошибку в очередь, которая держит цепочку.
// Проверка forward и запись выполняются под одной блокировкой,
// поэтому ошибка не теряется при одновременной передаче выполнения.
func (q *Queue) appendError(err error) {
	cur := q
	for {
		cur.mu.Lock()
		if cur.forward == nil {
			cur.errors = append(cur.errors, err)
			cur.mu.Unlock()
			return
		}
		next := cur.forward
		cur.mu.Unlock()
		cur = next
	}
}

// settleBackground обрабатывает ошибку фоновой задачи после завершения
// операции. Ошибка попадает в Errors очереди, которая держит цепочку
// в данный момент, и никогда не делает очередь FAILED.
// Если политика требует прервать выполнение, ошибка возвращается
// из BackgroundWaiter.
func (q *Queue) settleBackground(t *task) {
	if t.err == nil {
		return
	}

	te := newTaskError(t, t.err, nil)
	t.err = te
	t.propagated = t.policy.Propagates(te, q.systemCheck)

	q.appendError(te)

	q.logger.Warn("background task error",
		"name", t.name,
		"operation", t.operation,
		"propagated", t.propagated,
		"error", te.Err,
	)
}

// BackgroundWaiter ожидает все фоновые задачи цепочки очередей.
//
// Успешные результаты явно именованных задач записываются в into;
// при nil результаты не сохраняются. Возвращает последнюю очередь
// цепочки, ошибки всех упавших фоновых задач этого ожидания
// (*TaskError в порядке запуска) и ошибку, прерывающую выполнение:
// errors.Join ошибок, для которых политика требует прервать выполнение,
// или ctx.Err(). При отмене ctx ещё не собранные задачи остаются
// в ожидании, и их можно собрать повторным вызовом.
//
// До вызова Run ничего не ожидает и возвращает q.
func (q *Queue) BackgroundWaiter(ctx context.Context, into Store) (*Queue, []error, error) {
	if q.Status() == domain.QueueStatusQueueing {
		return q, nil, nil
	}

	term := q.terminal()
	term.mu.Lock()
	pending := term.backgrounds
	term.backgrounds = nil
	term.mu.Unlock()

	var failed, propagated []error
	for i, t := range pending {
		select {
		case <-t.done:
		case <-ctx.Done():
			term.mu.Lock()
			term.backgrounds = append(append([]*task(nil), pending[i:]...), term.backgrounds...)
			term.mu.Unlock()
			return term, failed, ctx.Err()
		}

		t.owner.mu.Lock()
		t.owner.waitingBackground--
		t.owner.mu.Unlock()

		switch {
		case t.err != nil && t.propagated:
			q.metrics.TaskSettled(string(domain.TaskModeBackground), telemetry.OutcomePropagated, t.elapsed)
			failed = append(failed, t.err)
			propagated = append(propagated, t.err)
		case t.err != nil:
			q.metrics.TaskSettled(string(domain.TaskModeBackground), telemetry.OutcomeSuppressed, t.elapsed)
			failed = append(failed, t.err)
		default:
			q.metrics.TaskSettled(string(domain.TaskModeBackground), telemetry.OutcomeSucceeded, t.elapsed)
			if t.named && t.result != nil && into != nil {
				into[t.name] = t.result
			}
		}
		q.metrics.BackgroundCollected()
	}

	return term, failed, errors.Join(propagated...)
}
