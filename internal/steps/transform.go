package steps

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// StepTypeTransform — тип шага трансформации.
const StepTypeTransform = "transform"

const (
	configOutput   = "output"
	configMappings = "mappings"
)

// TransformStep собирает значение из входных параметров и результатов
// других задач. $ref и шаблоны уже вычислены движком.
//
//	{
//	    "output": {
//	        "id": {"$ref": "fetch.body.id"},
//	        "greeting": "hello {{ .inputs.name }}"
//	    },
//	    "mappings": {
//	        "total": "{{ len .fetch.body.items }}"
//	    }
//	}
//
// Outputs: объект output с добавленными mappings. Скалярный output
// попадает в ключ value. Строки mappings, похожие на JSON, разбираются:
// "10" становится 10, "[1,2]" массивом. Без output и mappings
// результатом становится вся конфигурация.
type TransformStep struct{}

// NewTransformStep создаёт новый TransformStep.
func NewTransformStep() *TransformStep {
	return &TransformStep{}
}

func (s *TransformStep) Type() string {
	return StepTypeTransform
}

func (s *TransformStep) Execute(ctx context.Context, req *Request) (*Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStepCancelled, err)
	}

	output, hasOutput := req.Config[configOutput]
	mappings := req.Config.Map(configMappings)
	if !hasOutput && len(mappings) == 0 {
		return NewResponse(req.Config), nil
	}

	resp := NewResponse(nil)
	switch o := output.(type) {
	case nil:
	case map[string]any:
		for k, v := range o {
			resp.Outputs[k] = v
		}
	default:
		resp.Outputs["value"] = o
	}

	for k, v := range mappings {
		if str, ok := v.(string); ok {
			resp.Outputs[k] = literal(str)
		} else {
			resp.Outputs[k] = v
		}
	}
	return resp, nil
}

// literal разбирает строку как JSON значение. Целые числа становятся
// int64, прочие числа float64. Строка, не являющаяся JSON объектом,
// массивом, числом или bool, возвращается как есть.
func literal(s string) any {
	dec := json.NewDecoder(strings.NewReader(s))

	var v any
	if err := dec.Decode(&v); err != nil {
		return s
	}
	if _, err := dec.Token(); err != io.EOF {
		return s
	}

	switch x := v.(type) {
	case map[string]any, []any, bool:
		return x
	case float64:
		if i, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64); err == nil {
			return i
		}
		return x
	}
	return s
}
