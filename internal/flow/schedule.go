package flow

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/shaiso/relay/internal/domain"
)

// cronParser — парсер cron-выражений (5 полей, без секунд).
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// ParseSchedule разбирает расписание flow.
// Пустой Timezone означает UTC.
func ParseSchedule(def *domain.ScheduleDef) (cron.Schedule, *time.Location, error) {
	if def == nil || def.Cron == "" {
		return nil, nil, fmt.Errorf("%w: cron expression is required", ErrInvalidSchedule)
	}

	sched, err := cronParser.Parse(def.Cron)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: cron %q: %v", ErrInvalidSchedule, def.Cron, err)
	}

	loc := time.UTC
	if def.Timezone != "" {
		loc, err = time.LoadLocation(def.Timezone)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: timezone %q: %v", ErrInvalidSchedule, def.Timezone, err)
		}
	}

	return sched, loc, nil
}
