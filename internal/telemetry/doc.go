// Package telemetry собирает логирование и метрики сервисов relay.
//
// Логи пишутся через log/slog в JSON или text формате. Логгер run
// передаётся шагам через контекст (WithLogger, FromContext).
//
// Метрики движка очередей (Metrics) регистрируются в реестре процесса
// из NewRegistry и отдаются вместе с /healthz через ServiceMux и Serve.
package telemetry
