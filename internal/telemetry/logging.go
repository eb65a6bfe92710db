package telemetry

import (
	"context"
	"io"
	"log/slog"
	"os"
)

// ParseLevel разбирает уровень логирования: debug, info, warn, error
// в любом регистре. Неизвестное значение даёт INFO.
func ParseLevel(s string) slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo
	}
	return level
}

// NewLogger создаёт логгер в w. format "text" даёт key=value вывод,
// любое другое значение даёт JSON. На уровне DEBUG в запись
// добавляется место вызова.
func NewLogger(w io.Writer, level slog.Level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level, AddSource: level <= slog.LevelDebug}

	if format == "text" {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}

// SetupLogger настраивает логгер процесса по config.LogConfig
// и ставит его как slog.Default.
func SetupLogger(level, format string) *slog.Logger {
	logger := NewLogger(os.Stdout, ParseLevel(level), format)
	slog.SetDefault(logger)
	return logger
}

// Discard возвращает логгер без вывода. Используется в тестах и CLI.
func Discard() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

type loggerKey struct{}

// WithLogger кладёт логгер в контекст. Шаги достают его через FromContext.
func WithLogger(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey{}, logger)
}

// FromContext возвращает логгер из контекста или slog.Default.
func FromContext(ctx context.Context) *slog.Logger {
	if logger, ok := ctx.Value(loggerKey{}).(*slog.Logger); ok {
		return logger
	}
	return slog.Default()
}

func WithRunID(logger *slog.Logger, runID string) *slog.Logger {
	return logger.With("run_id", runID)
}

func WithQueueID(logger *slog.Logger, queueID string) *slog.Logger {
	return logger.With("queue_id", queueID)
}
