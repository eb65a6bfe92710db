package flow

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/shaiso/relay/internal/domain"
	"github.com/shaiso/relay/internal/engine"
)

// InputsTask — имя, под которым входные параметры лежат в хранилище
// результатов. Задача с таким именем недопустима.
const InputsTask = "inputs"

// StepTypes — источник известных типов шагов (steps.Registry).
type StepTypes interface {
	Has(stepType string) bool
}

// Допустимые условия и действия verify-правил.
var (
	validVerifyOn = map[string]bool{
		domain.VerifyOnSettled: true,
		domain.VerifyOnError:   true,
		domain.VerifyOnSuccess: true,
		domain.VerifyOnPending: true,
		domain.VerifyOnAlways:  true,
	}

	validVerifyActions = map[string]bool{
		domain.VerifyActionContinue: true,
		domain.VerifyActionStop:     true,
		domain.VerifyActionTransfer: true,
		domain.VerifyActionSuppress: true,
		domain.VerifyActionFail:     true,
	}
)

// Parse декодирует FlowSpec из JSON и валидирует её.
// types может быть nil: тогда типы шагов не проверяются.
func Parse(data []byte, types StepTypes) (*domain.FlowSpec, error) {
	var spec domain.FlowSpec
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&spec); err != nil {
		return nil, fmt.Errorf("decode flow spec: %w", err)
	}
	normalizeNumbers(&spec)

	if err := Validate(&spec, types); err != nil {
		return nil, err
	}
	return &spec, nil
}

// Validate выполняет полную валидацию FlowSpec.
//
// Проверяет:
// - Наличие очередей и уникальность их ID
// - Существование стартовой очереди
// - Задачи: уникальные имена, режимы, типы шагов, политики, $ref
// - Verify-правила: задачу, условие, действие и цель transfer
// - Входные параметры и расписание
// - Отсутствие циклов передачи (делегируется Graph)
func Validate(spec *domain.FlowSpec, types StepTypes) error {
	if spec == nil || len(spec.Queues) == 0 {
		return ErrNoQueues
	}

	if _, err := engine.ParsePolicy(spec.Policy); err != nil {
		return NewValidationError("", "", "policy", err.Error(), ErrInvalidPolicy)
	}

	queueIDs := make(map[string]bool, len(spec.Queues))
	for i := range spec.Queues {
		q := &spec.Queues[i]
		if q.ID == "" {
			return NewValidationError("", "", "id",
				fmt.Sprintf("queue %d has empty ID", i), ErrEmptyQueueID)
		}
		if queueIDs[q.ID] {
			return NewValidationError(q.ID, "", "id",
				fmt.Sprintf("duplicate queue ID: %s", q.ID), ErrDuplicateQueueID)
		}
		queueIDs[q.ID] = true
	}

	entry := spec.EntryQueue()
	if !queueIDs[entry] {
		return NewValidationError("", "", "entry",
			fmt.Sprintf("entry queue not found: %s", entry), ErrUnknownEntry)
	}

	for i := range spec.Queues {
		if err := ValidateQueue(&spec.Queues[i], queueIDs, types); err != nil {
			return err
		}
	}

	if err := validateInputs(spec.Inputs); err != nil {
		return err
	}

	if spec.Schedule != nil {
		if _, _, err := ParseSchedule(spec.Schedule); err != nil {
			return NewValidationError("", "", "schedule", err.Error(), ErrInvalidSchedule)
		}
	}

	if _, err := BuildGraph(spec); err != nil {
		return err
	}

	return nil
}

// ValidateQueue валидирует одну очередь.
// queueIDs — ID всех очередей flow (для проверки целей transfer).
func ValidateQueue(q *domain.QueueDef, queueIDs map[string]bool, types StepTypes) error {
	if len(q.Tasks) == 0 {
		return NewValidationError(q.ID, "", "tasks", "queue has no tasks", ErrEmptyTasks)
	}

	if _, err := engine.ParsePolicy(q.Policy); err != nil {
		return NewValidationError(q.ID, "", "policy", err.Error(), ErrInvalidPolicy)
	}

	names := make(map[string]bool, len(q.Tasks))
	for i := range q.Tasks {
		task := &q.Tasks[i]

		if err := validateTask(q.ID, task, types); err != nil {
			return err
		}

		if task.Name == "" {
			continue
		}
		if names[task.Name] {
			return NewValidationError(q.ID, task.Name, "name",
				fmt.Sprintf("duplicate task name: %s", task.Name), ErrDuplicateTaskName)
		}
		names[task.Name] = true
	}

	for i := range q.Verify {
		if err := validateVerify(q.ID, &q.Verify[i], names, queueIDs); err != nil {
			return err
		}
	}

	return nil
}

// validateTask валидирует одну задачу.
func validateTask(queueID string, task *domain.TaskDef, types StepTypes) error {
	if task.Name == InputsTask {
		return NewValidationError(queueID, task.Name, "name",
			fmt.Sprintf("task name %q is reserved", InputsTask), ErrReservedTaskName)
	}

	if !task.EffectiveMode().IsValid() {
		return NewValidationError(queueID, task.Name, "mode",
			fmt.Sprintf("invalid task mode: %s", task.Mode), ErrInvalidTaskMode)
	}

	if task.Type == "" {
		return NewValidationError(queueID, task.Name, "type",
			"task has empty type", ErrUnknownStepType)
	}
	if types != nil && !types.Has(task.Type) {
		return NewValidationError(queueID, task.Name, "type",
			fmt.Sprintf("unknown step type: %s", task.Type), ErrUnknownStepType)
	}

	if _, err := engine.ParsePolicy(task.Policy); err != nil {
		return NewValidationError(queueID, task.Name, "policy", err.Error(), ErrInvalidPolicy)
	}

	if _, err := CompileConfig(task.Config); err != nil {
		return NewValidationError(queueID, task.Name, "config", err.Error(), ErrInvalidRef)
	}

	return nil
}

// validateVerify валидирует verify-правило.
func validateVerify(queueID string, rule *domain.VerifyDef, names, queueIDs map[string]bool) error {
	if !names[rule.Task] {
		return NewValidationError(queueID, rule.Task, "verify",
			fmt.Sprintf("verify rule references unknown task: %q", rule.Task), ErrUnknownVerifyTask)
	}

	if !validVerifyOn[rule.EffectiveOn()] {
		return NewValidationError(queueID, rule.Task, "verify.on",
			fmt.Sprintf("invalid verify trigger: %s", rule.On), ErrInvalidVerifyOn)
	}

	action := rule.EffectiveAction()
	if !validVerifyActions[action] {
		return NewValidationError(queueID, rule.Task, "verify.action",
			fmt.Sprintf("invalid verify action: %s", rule.Action), ErrInvalidVerifyAction)
	}

	if action != domain.VerifyActionTransfer {
		return nil
	}

	switch {
	case rule.Target == "":
		return NewValidationError(queueID, rule.Task, "verify.target",
			"transfer has no target", ErrMissingTarget)
	case rule.Target == queueID:
		return NewValidationError(queueID, rule.Task, "verify.target",
			"queue transfers to itself", ErrSelfTransfer)
	case !queueIDs[rule.Target]:
		return NewValidationError(queueID, rule.Task, "verify.target",
			fmt.Sprintf("transfer target not found: %s", rule.Target), ErrUnknownTarget)
	}

	return nil
}

// validateInputs проверяет определения входных параметров.
func validateInputs(inputs map[string]domain.InputDef) error {
	for name, def := range inputs {
		if name == "" {
			return NewValidationError("", "", "inputs", "input has empty name", ErrInvalidInput)
		}
		if !validInputTypes[def.Type] {
			return NewValidationError("", "", "inputs",
				fmt.Sprintf("input %s has unknown type: %s", name, def.Type), ErrInvalidInput)
		}
		if def.Default != nil && !inputTypeMatches(def.Type, def.Default) {
			return NewValidationError("", "", "inputs",
				fmt.Sprintf("input %s default does not match type %s", name, def.Type), ErrInvalidInput)
		}
	}
	return nil
}

// normalizeNumbers заменяет json.Number в конфигурациях на int64 или float64.
func normalizeNumbers(spec *domain.FlowSpec) {
	for name, def := range spec.Inputs {
		def.Default = normalizeValue(def.Default)
		spec.Inputs[name] = def
	}
	if spec.Schedule != nil {
		for k, v := range spec.Schedule.Inputs {
			spec.Schedule.Inputs[k] = normalizeValue(v)
		}
	}
	for i := range spec.Queues {
		q := &spec.Queues[i]
		for j := range q.Tasks {
			for k, v := range q.Tasks[j].Config {
				q.Tasks[j].Config[k] = normalizeValue(v)
			}
		}
		for j := range q.Verify {
			q.Verify[j].Result = normalizeValue(q.Verify[j].Result)
		}
	}
}

func normalizeValue(v any) any {
	switch node := v.(type) {
	case json.Number:
		if i, err := node.Int64(); err == nil {
			return i
		}
		f, _ := node.Float64()
		return f
	case map[string]any:
		for k, val := range node {
			node[k] = normalizeValue(val)
		}
		return node
	case []any:
		for i, val := range node {
			node[i] = normalizeValue(val)
		}
		return node
	default:
		return v
	}
}
