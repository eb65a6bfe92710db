// Package api — HTTP API Relay.
//
// Роутер chi монтируется в mux сервиса под /api/v1 и даёт:
//   - CRUD flows и их версий, проверку FlowSpec без сохранения
//   - создание runs (асинхронно через оркестратор или с ?wait=true), просмотр и отмену
//   - разовое выполнение FlowSpec через POST /api/v1/execute
//
// Обработчики возвращают error. *Error уходит клиенту как есть,
// остальные ошибки пишутся в лог и отдаются как 500.
package api
