// Package steps содержит реализации типов шагов, из которых собираются
// задачи очередей.
//
// # Обзор
//
// Steps — это исполнители конкретных типов шагов. Каждый шаг:
//   - Получает конфигурацию (ссылки $ref и шаблоны уже вычислены движком)
//   - Выполняет действие (HTTP запрос, SQL, публикация события, ожидание)
//   - Возвращает outputs, которые сохраняются под именем задачи
//
// # Интерфейс Step
//
//	type Step interface {
//	    Type() string
//	    Execute(ctx context.Context, req *Request) (*Response, error)
//	}
//
// Operation превращает шаг в engine.Operation: первый аргумент операции —
// конфигурация, результат — Response.Outputs.
//
//	op := steps.Operation(step, "fetch", 30*time.Second)
//	q.Series("fetch", op, config)
//
// # Registry
//
//	registry := steps.DefaultRegistry()  // http, delay, transform
//	registry.Register(steps.NewSQLStep(pool))
//	registry.Register(steps.NewPublishStep(publisher))
//	registry.Register(steps.NewAwaitStep(mq.NewSources(conn)))
//
// # Типы шагов
//
//   - http.go      — HTTP запрос; ответ вне 2xx — *HTTPStatusError
//   - delay.go     — пауза, результат value или ошибка при reject
//   - transform.go — сборка значения из output и mappings
//   - sql.go       — запрос к PostgreSQL (query / exec)
//   - publish.go   — публикация события в брокер
//   - await.go     — ожидание событий из брокера
//
// # Обработка ошибок
//
//	var (
//	    ErrStepNotFound    // тип не зарегистрирован
//	    ErrStepCancelled   // context cancelled
//	    ErrInvalidConfig   // неверная конфигурация
//	)
//
// HTTPStatusError реализует engine.FieldError, поэтому политика
// {"matches": {"status": 503}} прерывает run только на этом статусе.
// Повторы шаги не выполняют.
package steps
