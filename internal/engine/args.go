package engine

import "text/template"

// ResultArg — отложенная ссылка на результат другой задачи.
//
// Передаётся операции как аргумент; в момент запуска задачи движок
// подставляет вместо неё значение по пути из текущего Store.
type ResultArg struct {
	path Path
}

// NewResultArg создаёт ResultArg для пути вида "one.a[0]".
func NewResultArg(path string) (*ResultArg, error) {
	p, err := ParsePath(path)
	if err != nil {
		return nil, err
	}
	return &ResultArg{path: p}, nil
}

// Path возвращает разобранный путь.
func (a *ResultArg) Path() Path {
	return a.path
}

// Resolve возвращает значение по пути; отсутствующее значение — nil.
func (a *ResultArg) Resolve(s Store) any {
	return a.path.Resolve(s)
}

// String возвращает исходную строку пути.
func (a *ResultArg) String() string {
	return "$ref:" + a.path.String()
}

// TemplateArg — отложенный строковый шаблон.
// Рендерится в момент запуска задачи с текущим Store в качестве данных.
type TemplateArg struct {
	raw  string
	tmpl *template.Template
}

// NewTemplateArg разбирает шаблон сразу, чтобы ошибки синтаксиса
// обнаруживались при постановке задачи, а не при её запуске.
func NewTemplateArg(raw string) (*TemplateArg, error) {
	t, err := ParseTemplate(raw)
	if err != nil {
		return nil, err
	}
	return &TemplateArg{raw: raw, tmpl: t}, nil
}

// Render рендерит шаблон.
func (a *TemplateArg) Render(s Store) (string, error) {
	return execute(a.tmpl, s)
}

// String возвращает исходный шаблон.
func (a *TemplateArg) String() string {
	return a.raw
}

// resolveArgs подставляет значения вместо ResultArg/TemplateArg.
// Вложенные map[string]any и []any обходятся с копированием:
// аргументы вызывающего не изменяются.
func resolveArgs(args []any, s Store) ([]any, error) {
	if len(args) == 0 {
		return args, nil
	}

	out := make([]any, len(args))
	for i, arg := range args {
		v, err := resolveValue(arg, s)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func resolveValue(v any, s Store) (any, error) {
	switch node := v.(type) {
	case *ResultArg:
		return node.Resolve(s), nil
	case *TemplateArg:
		return node.Render(s)
	case map[string]any:
		out := make(map[string]any, len(node))
		for k, val := range node {
			resolved, err := resolveValue(val, s)
			if err != nil {
				return nil, err
			}
			out[k] = resolved
		}
		return out, nil
	case []any:
		out := make([]any, len(node))
		for i, val := range node {
			resolved, err := resolveValue(val, s)
			if err != nil {
				return nil, err
			}
			out[i] = resolved
		}
		return out, nil
	default:
		return v, nil
	}
}
