package steps

import (
	"fmt"
	"slices"
	"sync"
)

// Registry — реестр шагов по типу.
type Registry struct {
	mu    sync.RWMutex
	steps map[string]Step
}

// NewRegistry создаёт реестр с переданными шагами.
func NewRegistry(steps ...Step) *Registry {
	r := &Registry{steps: make(map[string]Step, len(steps))}
	for _, s := range steps {
		r.Register(s)
	}
	return r
}

// DefaultRegistry — шаги без внешних зависимостей: delay, http, transform.
func DefaultRegistry() *Registry {
	return NewRegistry(NewDelayStep(), NewHTTPStep(), NewTransformStep())
}

// Deps — внешние зависимости шагов sql, publish и await.
type Deps struct {
	DB        Querier
	Publisher EventPublisher
	Sources   EventSources
}

// ServiceRegistry дополняет DefaultRegistry шагами, чьи зависимости
// заданы в deps.
func ServiceRegistry(deps Deps) *Registry {
	r := DefaultRegistry()
	if deps.DB != nil {
		r.Register(NewSQLStep(deps.DB))
	}
	if deps.Publisher != nil {
		r.Register(NewPublishStep(deps.Publisher))
	}
	if deps.Sources != nil {
		r.Register(NewAwaitStep(deps.Sources))
	}
	return r
}

// Register добавляет шаг, заменяя шаг того же типа.
func (r *Registry) Register(step Step) {
	r.mu.Lock()
	r.steps[step.Type()] = step
	r.mu.Unlock()
}

// Get возвращает шаг по типу или ErrStepNotFound.
func (r *Registry) Get(stepType string) (Step, error) {
	r.mu.RLock()
	step, ok := r.steps[stepType]
	r.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrStepNotFound, stepType)
	}
	return step, nil
}

func (r *Registry) Has(stepType string) bool {
	_, err := r.Get(stepType)
	return err == nil
}

// Types возвращает зарегистрированные типы по алфавиту.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]string, 0, len(r.steps))
	for t := range r.steps {
		types = append(types, t)
	}
	slices.Sort(types)
	return types
}

// KnownTypes — все типы шагов, включая требующие БД или брокер.
// Позволяет проверить FlowSpec без подключения к инфраструктуре.
type KnownTypes struct{}

func (KnownTypes) Has(stepType string) bool {
	switch stepType {
	case StepTypeDelay, StepTypeHTTP, StepTypeTransform,
		StepTypeSQL, StepTypePublish, StepTypeAwait:
		return true
	}
	return false
}
