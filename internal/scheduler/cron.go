package scheduler

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/relay/internal/domain"
	"github.com/shaiso/relay/internal/flow"
)

// CalculateNextDue вычисляет следующее время запуска по расписанию flow.
// Время считается в timezone расписания и возвращается в UTC.
func CalculateNextDue(def *domain.ScheduleDef, from time.Time) (time.Time, error) {
	sched, loc, err := flow.ParseSchedule(def)
	if err != nil {
		return time.Time{}, err
	}

	next := sched.Next(from.In(loc))
	if next.IsZero() {
		return time.Time{}, fmt.Errorf("%w: cron %q never fires", flow.ErrInvalidSchedule, def.Cron)
	}
	return next.UTC(), nil
}

// IdempotencyKey — ключ run, созданного по расписанию: "{flow_id}_{due_unix}".
// Для одного flow и одного времени создаётся не больше одного run.
func IdempotencyKey(flowID uuid.UUID, due time.Time) string {
	return fmt.Sprintf("%s_%d", flowID, due.Unix())
}
