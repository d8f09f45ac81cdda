package types_test

import (
	"slices"
	"testing"

	"github.com/google/go-cmp/cmp"
	"go.uber.org/goleak"

	"github.com/ghettovoice/sipua/internal/types"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestCallbackManager(t *testing.T) {
	t.Parallel()

	var m types.CallbackManager[func() int]
	rm1 := m.Add(func() int { return 1 })
	m.Add(func() int { return 2 })
	rm3 := m.Add(func() int { return 3 })

	collect := func() []int {
		var out []int
		for fn := range m.All() {
			out = append(out, fn())
		}
		return out
	}

	if diff := cmp.Diff([]int{1, 2, 3}, collect()); diff != "" {
		t.Fatalf("callbacks mismatch (-want +got):\n%s", diff)
	}

	rm1()
	rm1()
	rm3()
	if diff := cmp.Diff([]int{2}, collect()); diff != "" {
		t.Fatalf("callbacks after remove mismatch (-want +got):\n%s", diff)
	}
	if got := m.Len(); got != 1 {
		t.Fatalf("m.Len() = %d, want 1", got)
	}

	m.Clear()
	if got := m.Len(); got != 0 {
		t.Fatalf("m.Len() after Clear = %d, want 0", got)
	}
}

func TestDeque(t *testing.T) {
	t.Parallel()

	var d types.Deque[string]
	if got := d.Drain(); got != nil {
		t.Fatalf("d.Drain() = %v, want nil", got)
	}

	d.Append("a")
	d.Append("b")
	if got := d.Len(); got != 2 {
		t.Fatalf("d.Len() = %d, want 2", got)
	}
	if got := d.Drain(); !slices.Equal(got, []string{"a", "b"}) {
		t.Fatalf("d.Drain() = %v, want [a b]", got)
	}
	if got := d.Len(); got != 0 {
		t.Fatalf("d.Len() after drain = %d, want 0", got)
	}
}
