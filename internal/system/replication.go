package system

import (
	"time"

	coresys "github.com/l1jgo/tilegrid/internal/core/system"
	"github.com/l1jgo/tilegrid/internal/net"
	"github.com/l1jgo/tilegrid/internal/replication"
)

// ReplicationSystem builds this tick's grid updates and hands them to the
// session writers. Phase 4 (Output).
type ReplicationSystem struct {
	hub   *replication.Hub
	store *net.SessionStore
}

func NewReplicationSystem(hub *replication.Hub, store *net.SessionStore) *ReplicationSystem {
	return &ReplicationSystem{hub: hub, store: store}
}

func (s *ReplicationSystem) Phase() coresys.Phase { return coresys.PhaseOutput }

func (s *ReplicationSystem) Update(_ time.Duration) {
	s.hub.Broadcast()
	for _, sess := range s.store.Raw() {
		sess.FlushOutput()
	}
}
