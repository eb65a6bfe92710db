// Package orchestrator управляет выполнением runs.
//
// Orchestrator отвечает за:
//   - Получение новых runs из очереди RabbitMQ и polling БД
//   - Захват run (PENDING → RUNNING), чтобы run выполнялся один раз
//   - Выполнение flow версии run через flow.Execute
//   - Сохранение отчёта (статус, результаты, сообщения, ошибки)
//   - Публикацию run.finished
//
// Одновременно выполняется не больше MaxConcurrent runs.
package orchestrator
