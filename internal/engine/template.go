package engine

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"text/template"
)

// templateFuncs — дополнительные функции для шаблонов.
var templateFuncs = template.FuncMap{
	// json — сериализует значение в JSON строку
	"json": func(v any) string {
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("error: %v", err)
		}
		return string(b)
	},

	// default — возвращает значение по умолчанию, если второй аргумент пустой
	"default": func(def, val any) any {
		if val == nil {
			return def
		}
		if s, ok := val.(string); ok && s == "" {
			return def
		}
		return val
	},

	// coalesce — возвращает первое непустое значение
	"coalesce": func(values ...any) any {
		for _, v := range values {
			if v != nil {
				if s, ok := v.(string); ok && s == "" {
					continue
				}
				return v
			}
		}
		return nil
	},

	// path — достаёт значение по пути результата: {{ path . "one.items[0]" }}
	"path": func(root any, raw string) any {
		p, err := ParsePath(raw)
		if err != nil {
			return nil
		}
		return p.Resolve(root)
	},

	"join":      func(sep string, items []string) string { return strings.Join(items, sep) },
	"split":     func(sep, s string) []string { return strings.Split(s, sep) },
	"contains":  strings.Contains,
	"hasPrefix": strings.HasPrefix,
	"hasSuffix": strings.HasSuffix,
	"lower":     strings.ToLower,
	"upper":     strings.ToUpper,
	"trim":      strings.TrimSpace,
	"replace":   strings.ReplaceAll,
}

// IsTemplate проверяет, содержит ли строка шаблонные выражения.
func IsTemplate(s string) bool {
	return strings.Contains(s, "{{")
}

// ParseTemplate разбирает шаблон с функциями движка.
func ParseTemplate(tmpl string) (*template.Template, error) {
	t, err := template.New("").Funcs(templateFuncs).Parse(tmpl)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTemplateParse, err)
	}
	return t, nil
}

// Render рендерит строковый шаблон с данными.
//
// Для Store в шаблоне доступны результаты задач по имени:
//
//	{{ .inputs.order_id }}
//	{{ .fetch.body.id }}
//	{{ if .validate.ok }}...{{ end }}
func Render(tmpl string, data any) (string, error) {
	if !IsTemplate(tmpl) {
		return tmpl, nil
	}

	t, err := ParseTemplate(tmpl)
	if err != nil {
		return "", err
	}
	return execute(t, data)
}

func execute(t *template.Template, data any) (string, error) {
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("%w: %v", ErrTemplateRender, err)
	}
	return buf.String(), nil
}
