package steps

import (
	"encoding/json"
	"strconv"
)

// Config — конфигурация шага после подстановки $ref и шаблонов.
//
// Значения приходят из JSON, поэтому числа обычно float64, но
// конфигурация, собранная в коде, может содержать int и строки.
type Config map[string]any

// String возвращает строку по ключу или "".
func (c Config) String(key string) string {
	s, _ := c[key].(string)
	return s
}

// Int возвращает целое по ключу. Строки разбираются, всё
// остальное даёт 0.
func (c Config) Int(key string) int {
	switch n := c[key].(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	case json.Number:
		i, _ := n.Int64()
		return int(i)
	case string:
		i, _ := strconv.Atoi(n)
		return i
	}
	return 0
}

// Bool возвращает булево значение по ключу или def.
func (c Config) Bool(key string, def bool) bool {
	if b, ok := c[key].(bool); ok {
		return b
	}
	return def
}

// Map возвращает вложенный объект по ключу.
func (c Config) Map(key string) Config {
	m, _ := c[key].(map[string]any)
	return m
}

// StringMap возвращает объект со строковыми значениями, например
// заголовки. Нестроковые значения пропускаются.
func (c Config) StringMap(key string) map[string]string {
	switch m := c[key].(type) {
	case map[string]string:
		return m
	case map[string]any:
		out := make(map[string]string, len(m))
		for k, v := range m {
			if s, ok := v.(string); ok {
				out[k] = s
			}
		}
		return out
	}
	return nil
}
