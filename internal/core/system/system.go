package system

import "time"

// Phase defines execution ordering within a single tick.
type Phase int

const (
	PhaseInput      Phase = iota // 0: advance tick, drain packet queues
	PhasePreUpdate               // 1: scheduled grid edits
	PhaseUpdate                  // 2: simulation
	PhasePostUpdate              // 3: deliver queued grid events
	PhaseOutput                  // 4: build + send deltas
	PhasePersist                 // 5: journal flush + batch save
	PhaseCleanup                 // 6: cull deletion history
)

// System is the interface every tick system implements.
type System interface {
	Phase() Phase
	Update(dt time.Duration)
}
