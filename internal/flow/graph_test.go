package flow

import (
	"errors"
	"reflect"
	"testing"

	"github.com/shaiso/relay/internal/domain"
)

func transferSpec() *domain.FlowSpec {
	task := func(name string) []domain.TaskDef {
		return []domain.TaskDef{{Name: name, Type: "transform"}}
	}
	return &domain.FlowSpec{
		Queues: []domain.QueueDef{
			{ID: "main", Tasks: task("a"), Verify: []domain.VerifyDef{
				{Task: "a", On: "error", Action: "transfer", Target: "retry"},
				{Task: "a", On: "success", Action: "transfer", Target: "notify"},
			}},
			{ID: "retry", Tasks: task("b"), Verify: []domain.VerifyDef{
				{Task: "b", Action: "transfer", Target: "notify"},
			}},
			{ID: "notify", Tasks: task("c")},
			{ID: "orphan", Tasks: task("d")},
		},
	}
}

func TestBuildGraph(t *testing.T) {
	g, err := BuildGraph(transferSpec())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if g.Size() != 4 {
		t.Errorf("expected 4 nodes, got %d", g.Size())
	}

	notify := g.Node("notify")
	if notify.InDegree != 2 {
		t.Errorf("expected notify in-degree 2, got %d", notify.InDegree)
	}

	// Топологический порядок: источники раньше целей
	pos := make(map[string]int)
	for i, n := range g.Order {
		pos[n.ID] = i
	}
	if pos["main"] > pos["retry"] || pos["retry"] > pos["notify"] {
		t.Errorf("unexpected order: %v", pos)
	}
}

func TestGraph_Reachable(t *testing.T) {
	g, err := BuildGraph(transferSpec())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	tests := []struct {
		entry string
		want  []string
	}{
		{"main", []string{"main", "retry", "notify"}},
		{"retry", []string{"retry", "notify"}},
		{"notify", []string{"notify"}},
		{"missing", nil},
	}

	for _, tt := range tests {
		t.Run(tt.entry, func(t *testing.T) {
			if got := g.Reachable(tt.entry); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, got)
			}
		})
	}

	if got := g.Unreachable("main"); !reflect.DeepEqual(got, []string{"orphan"}) {
		t.Errorf("expected [orphan], got %v", got)
	}
}

func TestGraph_Edges(t *testing.T) {
	g, err := BuildGraph(transferSpec())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := []Edge{
		{From: "main", To: "retry", Task: "a", On: "error"},
		{From: "main", To: "notify", Task: "a", On: "success"},
		{From: "retry", To: "notify", Task: "b", On: "settled"},
	}
	if got := g.Edges(); !reflect.DeepEqual(got, want) {
		t.Errorf("expected %v, got %v", want, got)
	}
}

func TestBuildGraph_Cycle(t *testing.T) {
	spec := transferSpec()
	spec.Queues[2].Verify = []domain.VerifyDef{{Task: "c", Action: "transfer", Target: "main"}}

	_, err := BuildGraph(spec)
	if !errors.Is(err, ErrCyclicTransfer) {
		t.Fatalf("expected ErrCyclicTransfer, got %v", err)
	}

	var ve *ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected ValidationError, got %T", err)
	}
}
