package adapters

import (
	"context"
	"fmt"
	"time"

	"github.com/shaiso/relay/internal/engine"
)

// DelayError — ошибка операции Delay с reject=true.
type DelayError struct {
	Value any
}

// Error реализует интерфейс error.
func (e *DelayError) Error() string {
	return fmt.Sprint(e.Value)
}

// Delay возвращает операцию, которая через d завершается значением value,
// а при reject — ошибкой с текстом value.
func Delay(d time.Duration, value any, reject bool) engine.Operation {
	return func(ctx context.Context, args ...any) (any, error) {
		timer := time.NewTimer(d)
		defer timer.Stop()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
		}

		if reject {
			if err, ok := value.(error); ok {
				return nil, err
			}
			return nil, &DelayError{Value: value}
		}
		return value, nil
	}
}
