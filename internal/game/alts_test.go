package game

import (
	"reflect"
	"testing"

	kit "spookbot/internal/transport"
)

func TestAltRegistry(t *testing.T) {
	r := NewAltRegistry(map[kit.UserID][]kit.UserID{
		10: {11, 12},
		20: {12, 21}, // 12 already belongs to 10
		30: {30},     // only itself: no group
	})

	if g, ok := r.GroupOf(12); !ok || !reflect.DeepEqual(g, []kit.UserID{10, 11, 12}) {
		t.Fatalf("GroupOf(12) = %v, %v", g, ok)
	}
	if g, _ := r.GroupOf(20); !reflect.DeepEqual(g, []kit.UserID{20, 21}) {
		t.Fatalf("GroupOf(20) = %v", g)
	}
	if _, ok := r.GroupOf(30); ok {
		t.Fatal("singleton group registered")
	}
	if r.Len() != 2 {
		t.Fatalf("Len = %d, want 2", r.Len())
	}

	tests := []struct {
		id    kit.UserID
		alt   bool
		group kit.UserID
	}{
		{10, false, 10},
		{11, true, 10},
		{12, true, 10},
		{21, true, 20},
		{99, false, 99},
	}
	for _, tt := range tests {
		if got := r.IsAlt(tt.id); got != tt.alt {
			t.Errorf("IsAlt(%d) = %v, want %v", tt.id, got, tt.alt)
		}
		if got := r.Key(tt.id); got != tt.group {
			t.Errorf("Key(%d) = %d, want %d", tt.id, got, tt.group)
		}
	}
}

func TestNilAltRegistry(t *testing.T) {
	var r *AltRegistry
	if r.IsAlt(1) || r.Key(1) != 1 || r.Len() != 0 {
		t.Fatal("nil registry should treat every id as unlinked")
	}
	if _, ok := r.GroupOf(1); ok {
		t.Fatal("nil registry returned a group")
	}
}
