package timing

import "testing"

func TestClockAdvance(t *testing.T) {
	c := NewClock(5)
	if c.CurTick() != 5 {
		t.Fatalf("expected 5, got %d", c.CurTick())
	}
	if got := c.Advance(); got != 6 {
		t.Fatalf("expected 6, got %d", got)
	}
	c.Set(100)
	if c.CurTick() != 100 {
		t.Fatalf("expected 100, got %d", c.CurTick())
	}
}
