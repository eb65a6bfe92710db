// Package scheduler запускает flows по расписанию.
//
// Расписание задаётся в FlowSpec.Schedule (cron + timezone + inputs)
// последней версии активного flow.
//
// Структура:
//   - scheduler.go — Scheduler (Sync, Tick, Run)
//   - cron.go      — вычисление следующего времени и ключ идемпотентности
//   - leader.go    — выбор лидера через pg_try_advisory_lock
//
// Использование:
//
//	sched := scheduler.New(scheduler.Config{
//	    FlowRepo:  flowRepo,
//	    RunRepo:   runRepo,
//	    Publisher: publisher,  // опционально
//	    Locker:    scheduler.NewPGLock(pool, scheduler.LockKey),
//	    Logger:    logger,
//	})
//
//	// Блокируется до отмены ctx
//	err := sched.Run(ctx)
//
// Каждый run по расписанию получает ключ идемпотентности "{flow_id}_{due_unix}",
// поэтому смена лидера не создаёт дубликатов.
package scheduler
