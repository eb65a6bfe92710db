package flow

import (
	"fmt"

	"github.com/shaiso/relay/internal/domain"
)

// Node — очередь в графе передач.
type Node struct {
	// ID — идентификатор очереди.
	ID string

	// Queue — определение очереди из FlowSpec.
	Queue *domain.QueueDef

	// InDegree — количество очередей, передающих выполнение этой.
	InDegree int

	// Sources — очереди, которые могут передать выполнение этой.
	Sources []*Node

	// Targets — очереди, которым эта может передать выполнение.
	Targets []*Node
}

// Graph — направленный граф передач выполнения между очередями.
//
// Каждая очередь выполняется не более одного раза за запуск,
// поэтому граф обязан быть ациклическим.
type Graph struct {
	// Nodes — все узлы графа (queueID → Node).
	Nodes map[string]*Node

	// Order — топологически отсортированный список узлов.
	Order []*Node

	// queues — ID очередей в порядке объявления.
	queues []string
}

// Edge — ребро графа передач.
type Edge struct {
	From string `json:"from"`
	To   string `json:"to"`
	Task string `json:"task"`
	On   string `json:"on"`
}

// BuildGraph строит граф передач из FlowSpec.
func BuildGraph(spec *domain.FlowSpec) (*Graph, error) {
	g := &Graph{
		Nodes: make(map[string]*Node, len(spec.Queues)),
	}

	// Первый проход: создаём все узлы
	for i := range spec.Queues {
		q := &spec.Queues[i]
		g.Nodes[q.ID] = &Node{ID: q.ID, Queue: q}
		g.queues = append(g.queues, q.ID)
	}

	// Второй проход: связываем узлы по transfer-правилам
	for i := range spec.Queues {
		q := &spec.Queues[i]
		for _, rule := range q.Verify {
			if rule.EffectiveAction() != domain.VerifyActionTransfer {
				continue
			}
			target, ok := g.Nodes[rule.Target]
			if !ok {
				return nil, NewValidationError(q.ID, rule.Task, "verify.target",
					fmt.Sprintf("transfer target not found: %s", rule.Target), ErrUnknownTarget)
			}
			g.addEdge(g.Nodes[q.ID], target)
		}
	}

	order, err := g.topologicalSort()
	if err != nil {
		return nil, err
	}
	g.Order = order

	return g, nil
}

// addEdge добавляет ребро, пропуская дубликаты.
func (g *Graph) addEdge(from, to *Node) {
	for _, t := range from.Targets {
		if t.ID == to.ID {
			return
		}
	}
	from.Targets = append(from.Targets, to)
	to.Sources = append(to.Sources, from)
	to.InDegree++
}

// topologicalSort выполняет топологическую сортировку (алгоритм Кана).
// Возвращает ErrCyclicTransfer, если обнаружен цикл.
func (g *Graph) topologicalSort() ([]*Node, error) {
	inDegree := make(map[string]int, len(g.Nodes))
	for id, node := range g.Nodes {
		inDegree[id] = node.InDegree
	}

	// Корни берутся в порядке объявления, чтобы порядок был стабильным
	queue := make([]*Node, 0, len(g.Nodes))
	for _, id := range g.queues {
		if inDegree[id] == 0 {
			queue = append(queue, g.Nodes[id])
		}
	}

	order := make([]*Node, 0, len(g.Nodes))
	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]
		order = append(order, node)

		for _, target := range node.Targets {
			inDegree[target.ID]--
			if inDegree[target.ID] == 0 {
				queue = append(queue, target)
			}
		}
	}

	if len(order) != len(g.Nodes) {
		var cyclic []string
		for _, id := range g.queues {
			if inDegree[id] > 0 {
				cyclic = append(cyclic, id)
			}
		}
		return nil, NewValidationError("", "", "verify.target",
			fmt.Sprintf("cyclic transfer between queues %v", cyclic), ErrCyclicTransfer)
	}

	return order, nil
}

// Node возвращает узел по ID.
func (g *Graph) Node(id string) *Node {
	return g.Nodes[id]
}

// Size возвращает количество узлов.
func (g *Graph) Size() int {
	return len(g.Nodes)
}

// Reachable возвращает очереди, которые может посетить запуск,
// начавшийся с entry (включая entry), в порядке обхода в ширину.
func (g *Graph) Reachable(entry string) []string {
	start, ok := g.Nodes[entry]
	if !ok {
		return nil
	}

	seen := map[string]bool{entry: true}
	out := []string{entry}
	queue := []*Node{start}
	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]
		for _, target := range node.Targets {
			if seen[target.ID] {
				continue
			}
			seen[target.ID] = true
			out = append(out, target.ID)
			queue = append(queue, target)
		}
	}
	return out
}

// Unreachable возвращает очереди, которые не может посетить запуск из entry.
func (g *Graph) Unreachable(entry string) []string {
	reachable := make(map[string]bool)
	for _, id := range g.Reachable(entry) {
		reachable[id] = true
	}

	var out []string
	for _, id := range g.queues {
		if !reachable[id] {
			out = append(out, id)
		}
	}
	return out
}

// Edges возвращает все transfer-правила как рёбра, в порядке объявления.
func (g *Graph) Edges() []Edge {
	var edges []Edge
	for _, id := range g.queues {
		node := g.Nodes[id]
		for _, rule := range node.Queue.Verify {
			if rule.EffectiveAction() != domain.VerifyActionTransfer {
				continue
			}
			edges = append(edges, Edge{
				From: id,
				To:   rule.Target,
				Task: rule.Task,
				On:   rule.EffectiveOn(),
			})
		}
	}
	return edges
}
