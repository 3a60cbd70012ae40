package event

import "testing"

type alpha struct{ n int }
type beta struct{ s string }

func TestFlushPreservesEmissionOrder(t *testing.T) {
	b := NewBus()
	var got []string
	Subscribe(b, func(a alpha) { got = append(got, "a") })
	Subscribe(b, func(x beta) { got = append(got, "b:"+x.s) })

	Emit(b, alpha{1})
	Emit(b, beta{"x"})
	Emit(b, alpha{2})

	if b.Pending() != 3 {
		t.Fatalf("expected 3 pending, got %d", b.Pending())
	}
	if n := b.Flush(); n != 3 {
		t.Fatalf("expected 3 delivered, got %d", n)
	}
	want := []string{"a", "b:x", "a"}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, got)
		}
	}
}

func TestEmitDuringFlushDefers(t *testing.T) {
	b := NewBus()
	count := 0
	Subscribe(b, func(a alpha) {
		count++
		if a.n == 0 {
			Emit(b, alpha{1})
		}
	})
	Emit(b, alpha{0})
	b.Flush()
	if count != 1 || b.Pending() != 1 {
		t.Fatalf("expected 1 delivered and 1 pending, got %d and %d", count, b.Pending())
	}
	b.Flush()
	if count != 2 {
		t.Fatalf("expected 2 deliveries, got %d", count)
	}
}

func TestNilBusDropsEvents(t *testing.T) {
	var b *Bus
	Emit(b, alpha{1})
}
