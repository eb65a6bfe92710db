// Package engine содержит движок очередей задач.
//
// Включает:
//   - queue.go      — очередь, постановка задач и аксессоры
//   - run.go        — выполнение: series, parallel, verify-хуки, Transfer
//   - background.go — фоновые задачи и BackgroundWaiter
//   - policy.go     — политика ошибок (подавлять / прерывать / по полям)
//   - path.go       — пути к результатам ("fetch.items[0].id")
//   - store.go      — хранилище результатов и слияние при передаче
//   - args.go       — отложенные аргументы (ResultArg, TemplateArg)
//   - template.go   — рендеринг Go templates ({{ .inputs.x }})
//
// Engine ничего не знает о flow и шагах: единица работы для него —
// Operation, функция от контекста и аргументов.
package engine
