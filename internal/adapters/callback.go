package adapters

import (
	"context"
	"sync"

	"github.com/shaiso/relay/internal/engine"
)

// CallbackFunc — функция, сообщающая о завершении через done.
// done может быть вызван синхронно или из другой горутины;
// учитывается только первый вызов.
type CallbackFunc func(args []any, done func(err error, values ...any))

// Extractor превращает позиционные значения колбэка в результат операции.
type Extractor func(values []any) any

// Names возвращает Extractor, который складывает значения в map по именам.
// Лишние значения отбрасываются, недостающие не попадают в map.
func Names(names ...string) Extractor {
	return func(values []any) any {
		out := make(map[string]any, len(names))
		for i, name := range names {
			if i >= len(values) {
				break
			}
			out[name] = values[i]
		}
		return out
	}
}

// First — Extractor по умолчанию: первое значение или nil.
func First(values []any) any {
	if len(values) == 0 {
		return nil
	}
	return values[0]
}

// callbackResult — итог вызова done.
type callbackResult struct {
	values []any
	err    error
}

// FromCallback превращает CallbackFunc в engine.Operation.
//
// Ненулевая ошибка в done завершает операцию этой ошибкой.
// extract == nil — результатом становится первое значение.
// Отмена ctx до вызова done завершает операцию ctx.Err().
func FromCallback(fn CallbackFunc, extract Extractor) engine.Operation {
	if extract == nil {
		extract = First
	}

	return func(ctx context.Context, args ...any) (any, error) {
		results := make(chan callbackResult, 1)
		var once sync.Once
		done := func(err error, values ...any) {
			once.Do(func() {
				results <- callbackResult{values: values, err: err}
			})
		}

		fn(args, done)

		select {
		case r := <-results:
			if r.err != nil {
				return nil, r.err
			}
			return extract(r.values), nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}
