package system

import (
	"time"

	"github.com/l1jgo/tilegrid/internal/core/event"
	coresys "github.com/l1jgo/tilegrid/internal/core/system"
	"github.com/l1jgo/tilegrid/internal/core/timing"
)

// TimingSystem advances the grid clock once per tick. Phase 0 (Input); it
// must be registered before any other input system.
type TimingSystem struct {
	clock *timing.Clock
}

func NewTimingSystem(clock *timing.Clock) *TimingSystem {
	return &TimingSystem{clock: clock}
}

func (s *TimingSystem) Phase() coresys.Phase { return coresys.PhaseInput }

func (s *TimingSystem) Update(_ time.Duration) {
	s.clock.Advance()
}

// EventDispatchSystem delivers the grid events queued during the tick.
// Phase 3 (PostUpdate).
type EventDispatchSystem struct {
	bus *event.Bus
}

func NewEventDispatchSystem(bus *event.Bus) *EventDispatchSystem {
	return &EventDispatchSystem{bus: bus}
}

func (s *EventDispatchSystem) Phase() coresys.Phase { return coresys.PhasePostUpdate }

func (s *EventDispatchSystem) Update(_ time.Duration) {
	s.bus.Flush()
}
