// Package adapters превращает внешние формы асинхронной работы в engine.Operation.
//
// Включает:
//   - callback.go — функции с колбэком done(err, values...)
//   - events.go   — ожидание событий из EventSource (например, очереди RabbitMQ)
//   - delay.go    — операция-задержка с заданным результатом или ошибкой
//
// Движок ничего не знает об этих формах: для него каждая из них —
// обычная Operation.
package adapters
