// Package timing provides the simulation tick counter. Every mutation in the
// grid subsystem is stamped with the tick it happened on.
package timing

import "sync/atomic"

// Tick is a monotonically increasing simulation step. Tick 0 precedes the
// first step, so a delta requested "since 0" covers everything.
type Tick uint32

// Clock is the authoritative tick source. The simulation goroutine advances it;
// any goroutine may read it.
type Clock struct {
	cur atomic.Uint32
}

// NewClock starts at the given tick. Replicas start at whatever tick the
// server reports.
func NewClock(start Tick) *Clock {
	c := &Clock{}
	c.cur.Store(uint32(start))
	return c
}

func (c *Clock) CurTick() Tick {
	return Tick(c.cur.Load())
}

// Advance moves to the next tick and returns it.
func (c *Clock) Advance() Tick {
	return Tick(c.cur.Add(1))
}

// Set jumps the clock, used when a replica resynchronises.
func (c *Clock) Set(t Tick) {
	c.cur.Store(uint32(t))
}

// Source is the read side of a clock.
type Source interface {
	CurTick() Tick
}
