package flow

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shaiso/relay/internal/domain"
	"github.com/shaiso/relay/internal/engine"
	"github.com/shaiso/relay/internal/steps"
	"github.com/shaiso/relay/internal/telemetry"
)

// DefaultStepTimeout — таймаут одного шага по умолчанию.
const DefaultStepTimeout = 5 * time.Minute

// BuilderConfig — конфигурация Builder.
type BuilderConfig struct {
	// Registry — реестр типов шагов. nil — steps.DefaultRegistry().
	Registry *steps.Registry

	// Logger — логгер. nil — логирование отключено.
	Logger *slog.Logger

	// Metrics — метрики очередей (опционально).
	Metrics *telemetry.Metrics

	// StepTimeout — таймаут одного шага. 0 — DefaultStepTimeout.
	StepTimeout time.Duration
}

// Builder собирает из FlowSpec набор очередей движка.
type Builder struct {
	registry    *steps.Registry
	logger      *slog.Logger
	metrics     *telemetry.Metrics
	stepTimeout time.Duration
}

// NewBuilder создаёт Builder.
func NewBuilder(cfg BuilderConfig) *Builder {
	if cfg.Registry == nil {
		cfg.Registry = steps.DefaultRegistry()
	}
	if cfg.Logger == nil {
		cfg.Logger = telemetry.Discard()
	}
	if cfg.StepTimeout <= 0 {
		cfg.StepTimeout = DefaultStepTimeout
	}

	return &Builder{
		registry:    cfg.Registry,
		logger:      cfg.Logger,
		metrics:     cfg.Metrics,
		stepTimeout: cfg.StepTimeout,
	}
}

// Registry возвращает реестр шагов.
func (b *Builder) Registry() *steps.Registry {
	return b.registry
}

// Plan — очереди одного запуска flow.
//
// Все очереди разделяют один Store, поэтому результаты задач видны
// после передачи выполнения без слияния.
type Plan struct {
	// Entry — стартовая очередь.
	Entry *engine.Queue

	// Queues — очереди по ID из FlowSpec.
	Queues map[string]*engine.Queue

	// Store — общее хранилище результатов; входные параметры лежат под "inputs".
	Store engine.Store

	order []string
	ids   map[*engine.Queue]string
}

// QueueID возвращает ID очереди из FlowSpec.
func (p *Plan) QueueID(q *engine.Queue) string {
	return p.ids[q]
}

// Statuses возвращает статусы всех очередей.
func (p *Plan) Statuses() map[string]domain.QueueStatus {
	out := make(map[string]domain.QueueStatus, len(p.Queues))
	for _, id := range p.order {
		out[id] = p.Queues[id].Status()
	}
	return out
}

// Build валидирует spec и создаёт свежие очереди для одного запуска.
func (b *Builder) Build(spec *domain.FlowSpec, inputs map[string]any) (*Plan, error) {
	if err := Validate(spec, b.registry); err != nil {
		return nil, err
	}

	resolved, err := ResolveInputs(spec, inputs)
	if err != nil {
		return nil, err
	}

	flowPolicy, err := engine.ParsePolicy(spec.Policy)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPolicy, err)
	}

	var includeErr func(name, operation string, err error) bool
	if spec.IncludeErrorMessages {
		includeErr = func(string, string, error) bool { return true }
	}

	plan := &Plan{
		Queues: make(map[string]*engine.Queue, len(spec.Queues)),
		Store:  engine.Store{InputsTask: resolved},
		order:  make([]string, 0, len(spec.Queues)),
		ids:    make(map[*engine.Queue]string, len(spec.Queues)),
	}

	// Сначала создаём все очереди: verify-правила ссылаются на цели transfer
	for i := range spec.Queues {
		def := &spec.Queues[i]

		policy := flowPolicy
		if len(def.Policy) > 0 {
			if policy, err = engine.ParsePolicy(def.Policy); err != nil {
				return nil, fmt.Errorf("%w: queue %s: %v", ErrInvalidPolicy, def.ID, err)
			}
		}

		q := engine.New(engine.Config{
			Store:               plan.Store,
			Policy:              policy,
			Logger:              b.logger.With("queue", def.ID),
			IncludeErrorMessage: includeErr,
			Metrics:             b.metrics,
		})
		plan.Queues[def.ID] = q
		plan.order = append(plan.order, def.ID)
		plan.ids[q] = def.ID
	}

	for i := range spec.Queues {
		def := &spec.Queues[i]
		if err := b.fill(plan.Queues[def.ID], def, plan.Queues); err != nil {
			return nil, err
		}
	}

	plan.Entry = plan.Queues[spec.EntryQueue()]
	return plan, nil
}

// fill ставит задачи очереди и регистрирует verify-хуки.
func (b *Builder) fill(q *engine.Queue, def *domain.QueueDef, queues map[string]*engine.Queue) error {
	for i := range def.Tasks {
		task := &def.Tasks[i]

		step, err := b.registry.Get(task.Type)
		if err != nil {
			return NewValidationError(def.ID, task.Name, "type", err.Error(), ErrUnknownStepType)
		}

		config, err := CompileConfig(task.Config)
		if err != nil {
			return NewValidationError(def.ID, task.Name, "config", err.Error(), ErrInvalidRef)
		}

		spec := engine.TaskSpec{
			Mode:          task.EffectiveMode(),
			Name:          task.Name,
			Operation:     steps.Operation(step, task.Name, b.stepTimeout),
			OperationName: task.Type,
			Args:          []any{config},
		}
		if len(task.Policy) > 0 {
			policy, err := engine.ParsePolicy(task.Policy)
			if err != nil {
				return NewValidationError(def.ID, task.Name, "policy", err.Error(), ErrInvalidPolicy)
			}
			spec.Policy = &policy
		}

		if _, err := q.Add(spec); err != nil {
			return fmt.Errorf("queue %s: add task %q: %w", def.ID, task.Name, err)
		}
	}

	// Правила одной задачи объединяются в один хук в порядке объявления
	rules := make(map[string][]domain.VerifyDef)
	var names []string
	for _, rule := range def.Verify {
		if _, ok := rules[rule.Task]; !ok {
			names = append(names, rule.Task)
		}
		rules[rule.Task] = append(rules[rule.Task], rule)
	}
	for _, name := range names {
		if err := q.Verify(name, verifyHook(rules[name], queues)); err != nil {
			return fmt.Errorf("queue %s: verify %q: %w", def.ID, name, err)
		}
	}

	return nil
}

// verifyHook применяет первое правило, условие которого выполнено.
func verifyHook(rules []domain.VerifyDef, queues map[string]*engine.Queue) engine.Hook {
	return func(_ context.Context, _ *engine.Queue, v *engine.Verification) (engine.Decision, error) {
		for i := range rules {
			rule := &rules[i]
			if !ruleMatches(rule.EffectiveOn(), v) {
				continue
			}
			return applyRule(rule, v, queues)
		}
		return engine.Continue(), nil
	}
}

func ruleMatches(on string, v *engine.Verification) bool {
	switch on {
	case domain.VerifyOnAlways:
		return true
	case domain.VerifyOnPending:
		return v.IsPending()
	case domain.VerifyOnError:
		return !v.IsPending() && v.Error != nil
	case domain.VerifyOnSuccess:
		return !v.IsPending() && v.Error == nil
	default:
		return !v.IsPending()
	}
}

func applyRule(rule *domain.VerifyDef, v *engine.Verification, queues map[string]*engine.Queue) (engine.Decision, error) {
	if rule.Result != nil && v.Error == nil {
		v.Result = rule.Result
	}
	if rule.Message != "" {
		v.SetMessage(rule.Message)
	}

	switch rule.EffectiveAction() {
	case domain.VerifyActionStop:
		return engine.Stop(), nil
	case domain.VerifyActionTransfer:
		return engine.Transfer(queues[rule.Target]), nil
	case domain.VerifyActionSuppress:
		v.Error = nil
		return engine.Continue(), nil
	case domain.VerifyActionFail:
		return engine.Continue(), &VerifyError{Task: rule.Task, Text: rule.Error}
	default:
		return engine.Continue(), nil
	}
}
