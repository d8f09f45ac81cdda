package syncutil_test

import (
	"maps"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/ghettovoice/sipua/internal/syncutil"
)

func TestMap(t *testing.T) {
	t.Parallel()

	var m syncutil.Map[string, int]
	if _, ok := m.Get("a"); ok {
		t.Fatal("m.Get(\"a\") on empty map = _, true, want false")
	}

	m.Set("a", 1)
	if v, loaded := m.SetIfAbsent("a", 2); !loaded || v != 1 {
		t.Errorf("m.SetIfAbsent(\"a\", 2) = %d, %v, want 1, true", v, loaded)
	}
	if v, loaded := m.SetIfAbsent("b", 2); loaded || v != 2 {
		t.Errorf("m.SetIfAbsent(\"b\", 2) = %d, %v, want 2, false", v, loaded)
	}
	if got := m.Len(); got != 2 {
		t.Errorf("m.Len() = %d, want 2", got)
	}

	if m.DelIf("a", func(v int) bool { return v == 5 }) {
		t.Error("m.DelIf(\"a\", v == 5) = true, want false")
	}
	if !m.DelIf("a", func(v int) bool { return v == 1 }) {
		t.Error("m.DelIf(\"a\", v == 1) = false, want true")
	}

	m.Set("c", 3)
	if diff := cmp.Diff(map[string]int{"b": 2, "c": 3}, maps.Collect(m.All())); diff != "" {
		t.Errorf("m.All() mismatch (-want +got):\n%s", diff)
	}

	m.Del("b")
	if diff := cmp.Diff(map[string]int{"c": 3}, m.Clear()); diff != "" {
		t.Errorf("m.Clear() mismatch (-want +got):\n%s", diff)
	}
	if got := m.Len(); got != 0 {
		t.Errorf("m.Len() after Clear = %d, want 0", got)
	}
}
