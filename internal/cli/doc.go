// Package cli реализует инструмент командной строки Relay.
//
// # Обзор
//
// CLI работает в двух режимах:
//   - локально: выполняет, проверяет и показывает граф flow из файла,
//     используя движок напрямую;
//   - удалённо: управляет flows и runs через Relay API по HTTP.
//
// # Ключевые компоненты
//
// ## Локальные команды
//
//	relay run flow.json --input order_id=42
//	relay validate flows/*.json
//	relay graph flow.json
//
// run печатает отчёт запуска: статус, очередь завершения, статусы очередей,
// результаты задач и сообщения. Шаги sql, publish и await доступны,
// если заданы --db-url и --amqp-url. validate проверяет файлы параллельно.
//
// ## Client
//
// HTTP-клиент для Relay API. Типы ответов дублируются из internal/api,
// ошибки API возвращаются как *APIError.
//
//	client := cli.NewClient("http://localhost:8080")
//	flows, err := client.ListFlows(ctx)
//
// ## Output
//
// Форматирование вывода:
//   - таблицы go-pretty, если stdout — терминал;
//   - JSON с флагом --json или при перенаправлении вывода.
//
// Данные выводятся в stdout, сообщения (Success/Error) — в stderr,
// поэтому работает relay flow list | jq .
//
// ## Удалённые команды
//
//   - flow: list, create, get, push, update, delete, versions
//   - runs: list, start, get, cancel
//
// Каждая группа создаётся фабричной функцией (NewFlowCmd, NewRunsCmd),
// принимающей clientFn и outputFn — замыкания для ленивого создания
// Client и Output после разбора PersistentFlags.
package cli
