package engine

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"reflect"
	"runtime"
	"strconv"
)

// CategorySystem — категория встроенных "системных" ошибок.
const CategorySystem = "system"

// PolicyKind — вид политики ошибок.
type PolicyKind int

const (
	// PolicySuppress — ошибка всегда подавляется (записывается в Errors).
	PolicySuppress PolicyKind = iota

	// PolicyPropagate — ошибка всегда прерывает run.
	PolicyPropagate

	// PolicyMatchFields — решение по совпадению полей ошибки.
	PolicyMatchFields

	// PolicyMatchCategory — решение по принадлежности ошибки категории.
	PolicyMatchCategory
)

// Policy — политика ошибок: подавить ошибку или прервать run.
//
// Для Match-политик совпадение при Invert=false означает "прервать",
// несовпадение — "подавить". При Invert=true наоборот: совпавшие
// ошибки подавляются, остальные прерывают run.
//
// Нулевое значение — PolicySuppress.
type Policy struct {
	Kind     PolicyKind
	Invert   bool
	Fields   map[string]any
	Category string
}

// Suppress возвращает политику, подавляющую все ошибки.
func Suppress() Policy {
	return Policy{Kind: PolicySuppress}
}

// Propagate возвращает политику, прерывающую run на любой ошибке.
func Propagate() Policy {
	return Policy{Kind: PolicyPropagate}
}

// MatchFields возвращает политику по совпадению полей ошибки.
func MatchFields(fields map[string]any, invert bool) Policy {
	return Policy{Kind: PolicyMatchFields, Fields: fields, Invert: invert}
}

// MatchSystem возвращает политику по категории системных ошибок.
func MatchSystem(invert bool) Policy {
	return Policy{Kind: PolicyMatchCategory, Category: CategorySystem, Invert: invert}
}

// Propagates решает, прерывает ли err выполнение.
// systemCheck определяет категорию "system"; nil — IsSystemError.
func (p Policy) Propagates(err error, systemCheck func(error) bool) bool {
	if err == nil {
		return false
	}

	switch p.Kind {
	case PolicyPropagate:
		return true
	case PolicyMatchFields:
		return matchFields(ErrorFields(err), p.Fields) != p.Invert
	case PolicyMatchCategory:
		if systemCheck == nil {
			systemCheck = IsSystemError
		}
		return systemCheck(err) != p.Invert
	default:
		return false
	}
}

// String возвращает читаемое описание политики.
func (p Policy) String() string {
	switch p.Kind {
	case PolicyPropagate:
		return "propagate"
	case PolicyMatchFields:
		return fmt.Sprintf("match fields %v (invert=%t)", p.Fields, p.Invert)
	case PolicyMatchCategory:
		return fmt.Sprintf("match %s (invert=%t)", p.Category, p.Invert)
	default:
		return "suppress"
	}
}

// policyJSON — объектная форма политики в JSON.
type policyJSON struct {
	Invert  bool            `json:"invert,omitempty"`
	Matches json.RawMessage `json:"matches"`
}

// ParsePolicy разбирает политику из JSON.
//
// Допустимые формы:
//
//	true                                   — Propagate
//	false / null / пусто                   — Suppress
//	"system"                               — MatchSystem(false)
//	{"invert": true, "matches": "system"}  — MatchSystem(true)
//	{"invert": false, "matches": {"code": "E1"}} — MatchFields
func ParsePolicy(data []byte) (Policy, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return Suppress(), nil
	}

	var b bool
	if err := json.Unmarshal(data, &b); err == nil {
		if b {
			return Propagate(), nil
		}
		return Suppress(), nil
	}

	var category string
	if err := json.Unmarshal(data, &category); err == nil {
		return categoryPolicy(category, false)
	}

	var obj policyJSON
	if err := json.Unmarshal(data, &obj); err != nil {
		return Policy{}, fmt.Errorf("parse policy: %w", err)
	}

	if err := json.Unmarshal(obj.Matches, &category); err == nil {
		return categoryPolicy(category, obj.Invert)
	}

	var fields map[string]any
	if err := json.Unmarshal(obj.Matches, &fields); err != nil || len(fields) == 0 {
		return Policy{}, fmt.Errorf("parse policy: matches must be %q or a non-empty object", CategorySystem)
	}
	return MatchFields(fields, obj.Invert), nil
}

func categoryPolicy(category string, invert bool) (Policy, error) {
	if category != CategorySystem {
		return Policy{}, fmt.Errorf("parse policy: unknown category %q", category)
	}
	return MatchSystem(invert), nil
}

// UnmarshalJSON реализует json.Unmarshaler.
func (p *Policy) UnmarshalJSON(data []byte) error {
	parsed, err := ParsePolicy(data)
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// MarshalJSON реализует json.Marshaler.
func (p Policy) MarshalJSON() ([]byte, error) {
	switch p.Kind {
	case PolicyPropagate:
		return []byte("true"), nil
	case PolicyMatchFields:
		return json.Marshal(map[string]any{"invert": p.Invert, "matches": p.Fields})
	case PolicyMatchCategory:
		return json.Marshal(map[string]any{"invert": p.Invert, "matches": p.Category})
	default:
		return []byte("false"), nil
	}
}

// FieldError — ошибка, публикующая поля для сопоставления с политикой.
type FieldError interface {
	error
	Fields() map[string]any
}

// ErrorFields собирает поля ошибки для MatchFields.
//
// Всегда присутствуют "message" и "type" исходной ошибки задачи
// (TaskError разворачивается). Поля FieldError из цепочки добавляются поверх.
func ErrorFields(err error) map[string]any {
	inner := err
	var te *TaskError
	if errors.As(err, &te) {
		inner = te.Err
	}

	fields := map[string]any{
		"message": inner.Error(),
		"type":    fmt.Sprintf("%T", inner),
	}

	var fe FieldError
	if errors.As(inner, &fe) {
		for k, v := range fe.Fields() {
			fields[k] = v
		}
	}
	return fields
}

// matchFields проверяет, что каждое поле want совпадает с полем ошибки.
func matchFields(have, want map[string]any) bool {
	for k, w := range want {
		h, ok := have[k]
		if !ok || !valuesEqual(h, w) {
			return false
		}
	}
	return true
}

// valuesEqual сравнивает значения; числа сравниваются по величине,
// так как значения из JSON приходят как float64.
func valuesEqual(a, b any) bool {
	if af, ok := toFloat(a); ok {
		if bf, ok := toFloat(b); ok {
			return af == bf
		}
		return false
	}
	return reflect.DeepEqual(a, b)
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

// IsSystemError проверяет принадлежность ошибки категории "system":
// ошибки рантайма (восстановленные паники) и ошибки разбора/преобразования
// из стандартной библиотеки.
func IsSystemError(err error) bool {
	var (
		runtimeErr runtime.Error
		panicErr   *PanicError
		syntaxErr  *json.SyntaxError
		typeErr    *json.UnmarshalTypeError
		numErr     *strconv.NumError
		escapeErr  url.EscapeError
		hostErr    url.InvalidHostError
		valueErr   *reflect.ValueError
	)
	return errors.As(err, &runtimeErr) ||
		errors.As(err, &panicErr) ||
		errors.As(err, &syntaxErr) ||
		errors.As(err, &typeErr) ||
		errors.As(err, &numErr) ||
		errors.As(err, &escapeErr) ||
		errors.As(err, &hostErr) ||
		errors.As(err, &valueErr)
}
