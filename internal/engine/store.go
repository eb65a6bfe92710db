package engine

import (
	"fmt"

	"dario.cat/mergo"
)

// Store — хранилище результатов задач (имя задачи → результат).
//
// Store передаётся по ссылке: очереди, между которыми передаётся
// выполнение, могут разделять один и тот же Store.
// nil Store означает, что результаты не сохраняются.
type Store map[string]any

// Get возвращает значение по пути; ошибка — только при неверном синтаксисе пути.
func (s Store) Get(path string) (any, error) {
	p, err := ParsePath(path)
	if err != nil {
		return nil, err
	}
	return p.Resolve(s), nil
}

// Merge вливает src в s. Из src берутся только ключи, которых в s нет
// или которые равны nil; вложенные map объединяются по тому же правилу.
// Нулевые значения s (0, false, "") остаются. Вложенные map и срезы
// из src копируются, а не разделяются.
func (s Store) Merge(src Store) error {
	if s == nil || len(src) == 0 {
		return nil
	}

	dst := map[string]any(s)
	missing := absent(dst, cloneTree(map[string]any(src)).(map[string]any))
	if len(missing) == 0 {
		return nil
	}
	if err := mergo.Merge(&dst, missing); err != nil {
		return fmt.Errorf("merge result store: %w", err)
	}
	return nil
}

// absent оставляет из src то, чего нет в dst.
func absent(dst, src map[string]any) map[string]any {
	out := make(map[string]any, len(src))
	for k, v := range src {
		cur, ok := dst[k]
		if !ok || cur == nil {
			out[k] = v
			continue
		}

		curMap, curOK := cur.(map[string]any)
		srcMap, srcOK := v.(map[string]any)
		if curOK && srcOK {
			if sub := absent(curMap, srcMap); len(sub) > 0 {
				out[k] = sub
			}
		}
	}
	return out
}

// cloneTree копирует вложенные map[string]any и []any.
// Остальные значения передаются как есть.
func cloneTree(v any) any {
	switch node := v.(type) {
	case Store:
		return cloneTree(map[string]any(node))
	case map[string]any:
		out := make(map[string]any, len(node))
		for k, val := range node {
			out[k] = cloneTree(val)
		}
		return out
	case []any:
		out := make([]any, len(node))
		for i, val := range node {
			out[i] = cloneTree(val)
		}
		return out
	default:
		return v
	}
}
