package engine

import (
	"errors"
	"testing"
)

func TestStore_Get(t *testing.T) {
	s := Store{"fetch": map[string]any{"status": 200}}

	v, err := s.Get("fetch.status")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v != 200 {
		t.Errorf("expected 200, got %v", v)
	}

	v, err = s.Get("fetch.body")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v != nil {
		t.Errorf("expected nil for missing path, got %v", v)
	}

	if _, err := s.Get("fetch["); !errors.Is(err, ErrInvalidPath) {
		t.Errorf("expected ErrInvalidPath, got %v", err)
	}
}

func TestStore_Merge(t *testing.T) {
	dst := Store{
		"a": "target",
		"nested": map[string]any{
			"x": 1,
		},
	}
	src := Store{
		"a": "source",
		"b": "only source",
		"nested": map[string]any{
			"x": 100,
			"y": 2,
		},
		"list": []any{"s"},
	}

	if err := dst.Merge(src); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Значения получателя побеждают
	if dst["a"] != "target" {
		t.Errorf("expected target value to win, got %v", dst["a"])
	}
	if dst["b"] != "only source" {
		t.Errorf("expected missing key to be filled, got %v", dst["b"])
	}

	nested := dst["nested"].(map[string]any)
	if nested["x"] != 1 {
		t.Errorf("expected nested target value to win, got %v", nested["x"])
	}
	if nested["y"] != 2 {
		t.Errorf("expected nested key to be merged, got %v", nested["y"])
	}

	// Срезы копируются, а не разделяются
	src["list"].([]any)[0] = "changed"
	if dst["list"].([]any)[0] != "s" {
		t.Error("merged slice must not alias source")
	}
}

func TestStore_MergeKeepsZeroValues(t *testing.T) {
	dst := Store{
		"n":      0,
		"b":      false,
		"s":      "",
		"nested": map[string]any{"count": 0},
		"empty":  nil,
	}
	src := Store{
		"n":      5,
		"b":      true,
		"s":      "src",
		"nested": map[string]any{"count": 9, "extra": "x"},
		"empty":  "filled",
	}

	if err := dst.Merge(src); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	tests := []struct {
		key  string
		want any
	}{
		{"n", 0},
		{"b", false},
		{"s", ""},
		{"empty", "filled"},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			if dst[tt.key] != tt.want {
				t.Errorf("expected %v, got %v", tt.want, dst[tt.key])
			}
		})
	}

	nested := dst["nested"].(map[string]any)
	if nested["count"] != 0 || nested["extra"] != "x" {
		t.Errorf("expected count=0 extra=x, got %v", nested)
	}
}

func TestStore_MergeNil(t *testing.T) {
	var s Store
	if err := s.Merge(Store{"a": 1}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	dst := Store{"a": 1}
	if err := dst.Merge(nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(dst) != 1 {
		t.Errorf("expected store unchanged, got %v", dst)
	}
}
