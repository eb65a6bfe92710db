package engine

import (
	"fmt"
	"strconv"
	"strings"
)

// SegmentKind — вид сегмента пути.
type SegmentKind int

const (
	// SegmentField — обращение к полю по имени.
	SegmentField SegmentKind = iota

	// SegmentIndex — обращение к элементу по индексу.
	SegmentIndex
)

// Segment — один сегмент пути: Field(name) или Index(i).
type Segment struct {
	Kind  SegmentKind
	Field string
	Index int
}

// Key возвращает сегмент как ключ отображения.
func (s Segment) Key() string {
	if s.Kind == SegmentIndex {
		return strconv.Itoa(s.Index)
	}
	return s.Field
}

// Path — разобранный путь к значению в хранилище результатов.
type Path struct {
	raw      string
	segments []Segment
}

// PathResolver — значение, умеющее само разрешать сегмент пути.
type PathResolver interface {
	ResolvePath(seg Segment) (any, bool)
}

// ParsePath разбирает путь вида a.b[0].c или one["key"]['a'][`b`].c[0].
//
// Сегменты в квадратных скобках — либо индекс, либо строка в кавычках
// ("...", '...' или `...`). Пустые сегменты между точками пропускаются.
func ParsePath(raw string) (Path, error) {
	p := Path{raw: raw}
	var field strings.Builder

	flush := func() {
		if field.Len() > 0 {
			p.segments = append(p.segments, Segment{Kind: SegmentField, Field: field.String()})
			field.Reset()
		}
	}

	for i := 0; i < len(raw); i++ {
		c := raw[i]
		switch c {
		case '.':
			flush()
		case '[':
			flush()
			j := i + 1
			for j < len(raw) && raw[j] == ' ' {
				j++
			}

			// Ключ в кавычках может содержать '.' и ']'
			if j < len(raw) && isQuote(raw[j]) {
				q := raw[j]
				closeQ := strings.IndexByte(raw[j+1:], q)
				if closeQ < 0 {
					return Path{}, fmt.Errorf("%w: unclosed quote in %q", ErrInvalidPath, raw)
				}
				key := raw[j+1 : j+1+closeQ]
				k := j + 1 + closeQ + 1
				for k < len(raw) && raw[k] == ' ' {
					k++
				}
				if k >= len(raw) || raw[k] != ']' {
					return Path{}, fmt.Errorf("%w: malformed bracket in %q", ErrInvalidPath, raw)
				}
				p.segments = append(p.segments, Segment{Kind: SegmentField, Field: key})
				i = k
				continue
			}

			end := strings.IndexByte(raw[i+1:], ']')
			if end < 0 {
				return Path{}, fmt.Errorf("%w: unclosed bracket in %q", ErrInvalidPath, raw)
			}
			inner := strings.TrimSpace(raw[i+1 : i+1+end])

			idx, err := strconv.Atoi(inner)
			if err != nil {
				if inner == "" {
					return Path{}, fmt.Errorf("%w: empty bracket in %q", ErrInvalidPath, raw)
				}
				// Голое имя в скобках трактуем как поле: a[b] == a.b
				p.segments = append(p.segments, Segment{Kind: SegmentField, Field: inner})
			} else {
				p.segments = append(p.segments, Segment{Kind: SegmentIndex, Index: idx})
			}
			i += end + 1
		case ']':
			return Path{}, fmt.Errorf("%w: unexpected ']' in %q", ErrInvalidPath, raw)
		default:
			field.WriteByte(c)
		}
	}
	flush()

	if len(p.segments) == 0 {
		return Path{}, fmt.Errorf("%w: empty path", ErrInvalidPath)
	}
	return p, nil
}

func isQuote(c byte) bool {
	return c == '"' || c == '\'' || c == '`'
}

// String возвращает исходную строку пути.
func (p Path) String() string {
	return p.raw
}

// Segments возвращает копию сегментов пути.
func (p Path) Segments() []Segment {
	out := make([]Segment, len(p.segments))
	copy(out, p.segments)
	return out
}

// Resolve проходит по root и возвращает значение по пути.
// Отсутствующий промежуточный сегмент даёт nil, а не ошибку.
func (p Path) Resolve(root any) any {
	cur := root
	for _, seg := range p.segments {
		next, ok := step(cur, seg)
		if !ok {
			return nil
		}
		cur = next
	}
	return cur
}

// step разрешает один сегмент для дерева из map/slice значений.
func step(v any, seg Segment) (any, bool) {
	switch node := v.(type) {
	case nil:
		return nil, false
	case Store:
		val, ok := node[seg.Key()]
		return val, ok
	case map[string]any:
		val, ok := node[seg.Key()]
		return val, ok
	case map[string]string:
		val, ok := node[seg.Key()]
		return val, ok
	case []any:
		i, ok := sliceIndex(seg, len(node))
		if !ok {
			return nil, false
		}
		return node[i], true
	case []string:
		i, ok := sliceIndex(seg, len(node))
		if !ok {
			return nil, false
		}
		return node[i], true
	case []map[string]any:
		i, ok := sliceIndex(seg, len(node))
		if !ok {
			return nil, false
		}
		return node[i], true
	case PathResolver:
		return node.ResolvePath(seg)
	default:
		return nil, false
	}
}

// sliceIndex приводит сегмент к индексу среза; "0" в точечной записи тоже индекс.
func sliceIndex(seg Segment, n int) (int, bool) {
	i := seg.Index
	if seg.Kind == SegmentField {
		parsed, err := strconv.Atoi(seg.Field)
		if err != nil {
			return 0, false
		}
		i = parsed
	}
	if i < 0 || i >= n {
		return 0, false
	}
	return i, true
}
