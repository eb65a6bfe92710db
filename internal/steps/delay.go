package steps

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shaiso/relay/internal/adapters"
)

// StepTypeDelay — тип шага задержки.
const StepTypeDelay = "delay"

const (
	configDuration    = "duration"
	configDurationSec = "duration_sec"
	configDurationMs  = "duration_ms"
	configValue       = "value"
	configReject      = "reject"
)

// DelayStep ждёт заданное время и завершается значением value.
//
//	{"duration_ms": 500, "value": {"$ref": "load.body"}}
//	{"duration": "1m30s"}
//	{"duration_sec": 5, "value": "upstream is down", "reject": true}
//
// Длительность задаётся одним из ключей duration (строка
// time.ParseDuration), duration_sec или duration_ms. С reject шаг
// завершается *adapters.DelayError с текстом value.
//
// Outputs: {"duration_ms": 500, "value": ...}
type DelayStep struct{}

// NewDelayStep создаёт новый DelayStep.
func NewDelayStep() *DelayStep {
	return &DelayStep{}
}

func (s *DelayStep) Type() string {
	return StepTypeDelay
}

func (s *DelayStep) Execute(ctx context.Context, req *Request) (*Response, error) {
	d, err := delayDuration(req.Config)
	if err != nil {
		return nil, err
	}

	value := req.Config[configValue]
	result, err := adapters.Delay(d, value, req.Config.Bool(configReject, false))(ctx)
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return nil, fmt.Errorf("%w: %v", ErrStepCancelled, err)
	case err != nil:
		return nil, err
	}

	resp := NewResponse(map[string]any{"duration_ms": d.Milliseconds()})
	if result != nil {
		resp.Outputs["value"] = result
	}
	return resp, nil
}

func delayDuration(config Config) (time.Duration, error) {
	if s := config.String(configDuration); s != "" {
		d, err := time.ParseDuration(s)
		if err != nil || d <= 0 {
			return 0, fmt.Errorf("%w: %s: invalid duration %q", ErrInvalidConfig, StepTypeDelay, s)
		}
		return d, nil
	}
	if sec := config.Int(configDurationSec); sec > 0 {
		return time.Duration(sec) * time.Second, nil
	}
	if ms := config.Int(configDurationMs); ms > 0 {
		return time.Duration(ms) * time.Millisecond, nil
	}
	return 0, fmt.Errorf("%w: %s: one of duration, duration_sec or duration_ms is required",
		ErrInvalidConfig, StepTypeDelay)
}
