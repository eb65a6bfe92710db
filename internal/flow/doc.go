// Package flow собирает очереди движка из декларативного описания flow.
//
// # Обзор
//
// FlowSpec (JSON) описывает очереди, их задачи и verify-правила.
// Пакет валидирует описание, строит граф передач выполнения между
// очередями и создаёт для каждого запуска свежий набор engine.Queue
// с общим хранилищем результатов.
//
// # Использование
//
//	spec, err := flow.Parse(data, registry)
//	if err != nil {
//	    // *ValidationError с очередью, задачей и полем
//	}
//
//	b := flow.NewBuilder(flow.BuilderConfig{Registry: registry, Logger: logger})
//	report, err := flow.Execute(ctx, b, spec, map[string]any{"order_id": "42"})
//
// # Конфигурация задач
//
// Значения конфигурации вычисляются в момент запуска задачи:
//   - {"$ref": "one.body.id"} — значение из хранилища результатов
//   - "hello {{ .inputs.name }}" — шаблон над хранилищем
//
// Входные параметры лежат в хранилище под именем "inputs".
//
// # Verify-правила
//
// Правило срабатывает по условию on (settled, error, success, pending,
// always) и применяет action:
//   - continue — продолжить
//   - stop — остановить очередь
//   - transfer — передать выполнение очереди target
//   - suppress — снять ошибку задачи
//   - fail — завершить задачу ошибкой *VerifyError
//
// Для одной задачи применяется первое сработавшее правило.
//
// # Граф передач
//
// Каждая очередь выполняется не более одного раза за запуск, поэтому
// передачи образуют ациклический граф. BuildGraph находит циклы
// (алгоритм Кана) и отвечает, какие очереди достижимы из стартовой.
//
// # Файлы пакета
//
//   - parser.go   — Parse, Validate
//   - graph.go    — граф передач
//   - config.go   — компиляция $ref и шаблонов
//   - inputs.go   — входные параметры
//   - schedule.go — расписание
//   - builder.go  — Builder, Plan, verify-хуки
//   - execute.go  — Execute, Report
//   - errors.go   — ошибки
package flow
