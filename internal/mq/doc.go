// Package mq — транспорт Relay поверх RabbitMQ.
//
// Connection держит соединение и переподключается после разрыва.
// Publisher публикует run.pending, run.finished и события шага publish.
// Consumer потребляет runs.pending для оркестратора, Sources отдаёт
// шагу await подписки на relay.events.
//
// Тело каждого сообщения — JSON Message. Для событий flow
// Message.Type — имя события, Payload — его значение.
package mq
