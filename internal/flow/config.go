package flow

import (
	"fmt"

	"github.com/shaiso/relay/internal/engine"
)

// refKey — ключ ссылки на результат в конфигурации задачи.
const refKey = "$ref"

// CompileConfig превращает конфигурацию задачи в аргумент операции.
//
// Объект {"$ref": "path"} заменяется на engine.ResultArg, строка с {{ }}
// на engine.TemplateArg. Оба вычисляются движком в момент запуска задачи,
// поэтому видят результаты задач, завершённых к этому моменту.
func CompileConfig(config map[string]any) (map[string]any, error) {
	if config == nil {
		return map[string]any{}, nil
	}
	out, err := compileValue(config)
	if err != nil {
		return nil, err
	}
	return out.(map[string]any), nil
}

func compileValue(v any) (any, error) {
	switch node := v.(type) {
	case string:
		if !engine.IsTemplate(node) {
			return node, nil
		}
		arg, err := engine.NewTemplateArg(node)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidRef, err)
		}
		return arg, nil

	case map[string]any:
		if ref, ok := refPath(node); ok {
			arg, err := engine.NewResultArg(ref)
			if err != nil {
				return nil, fmt.Errorf("%w: %v", ErrInvalidRef, err)
			}
			return arg, nil
		}

		out := make(map[string]any, len(node))
		for k, val := range node {
			compiled, err := compileValue(val)
			if err != nil {
				return nil, err
			}
			out[k] = compiled
		}
		return out, nil

	case []any:
		out := make([]any, len(node))
		for i, val := range node {
			compiled, err := compileValue(val)
			if err != nil {
				return nil, err
			}
			out[i] = compiled
		}
		return out, nil

	default:
		return v, nil
	}
}

// refPath распознаёт объект вида {"$ref": "path"}.
func refPath(m map[string]any) (string, bool) {
	if len(m) != 1 {
		return "", false
	}
	ref, ok := m[refKey].(string)
	return ref, ok
}
