package flow

import (
	"fmt"
	"sort"

	"github.com/shaiso/relay/internal/domain"
)

// Допустимые типы входных параметров.
var validInputTypes = map[string]bool{
	"":        true,
	"string":  true,
	"number":  true,
	"boolean": true,
	"object":  true,
	"array":   true,
}

// ResolveInputs проверяет входные параметры запуска и подставляет значения
// по умолчанию. Параметры, не описанные в spec.Inputs, передаются как есть.
func ResolveInputs(spec *domain.FlowSpec, inputs map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(inputs)+len(spec.Inputs))
	for k, v := range inputs {
		out[k] = v
	}

	names := make([]string, 0, len(spec.Inputs))
	for name := range spec.Inputs {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		def := spec.Inputs[name]

		v, ok := out[name]
		if !ok || v == nil {
			if def.Default != nil {
				out[name] = def.Default
				continue
			}
			if def.Required {
				return nil, fmt.Errorf("%w: %s", ErrMissingInput, name)
			}
			continue
		}

		if !inputTypeMatches(def.Type, v) {
			return nil, fmt.Errorf("%w: %s must be %s, got %T", ErrInputType, name, def.Type, v)
		}
	}

	return out, nil
}

// inputTypeMatches сверяет значение с типом из JSON-схемы входа.
func inputTypeMatches(typ string, v any) bool {
	switch typ {
	case "string":
		_, ok := v.(string)
		return ok
	case "number":
		switch v.(type) {
		case float64, float32, int, int32, int64:
			return true
		}
		return false
	case "boolean":
		_, ok := v.(bool)
		return ok
	case "object":
		_, ok := v.(map[string]any)
		return ok
	case "array":
		_, ok := v.([]any)
		return ok
	default:
		return true
	}
}
