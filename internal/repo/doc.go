// Package repo реализует хранение flows, версий и runs в PostgreSQL (pgx).
//
// Схема создаётся Migrate из schema.sql. Отчёт run (результаты,
// сообщения, ошибки, терминальная очередь) хранится в колонках runs.
package repo
