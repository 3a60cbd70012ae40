package system

import (
	"time"

	"go.uber.org/zap"

	coresys "github.com/l1jgo/tilegrid/internal/core/system"
	"github.com/l1jgo/tilegrid/internal/net"
	"github.com/l1jgo/tilegrid/internal/replication"
)

// InputSystem admits new sessions, drops dead ones and feeds queued client
// packets to the replication hub. Phase 0 (Input).
type InputSystem struct {
	netServer  *net.Server
	store      *net.SessionStore
	hub        *replication.Hub
	maxPerTick int
	log        *zap.Logger
}

func NewInputSystem(netServer *net.Server, store *net.SessionStore, hub *replication.Hub, maxPerTick int, log *zap.Logger) *InputSystem {
	return &InputSystem{
		netServer:  netServer,
		store:      store,
		hub:        hub,
		maxPerTick: maxPerTick,
		log:        log,
	}
}

func (s *InputSystem) Phase() coresys.Phase { return coresys.PhaseInput }

func (s *InputSystem) Update(_ time.Duration) {
	for done := false; !done; {
		select {
		case sess := <-s.netServer.NewSessions():
			s.store.Add(sess)
			s.hub.Connect(sess.ID, sess)
			s.log.Info("client connected",
				zap.Uint64("session", sess.ID),
				zap.String("ip", sess.IP),
				zap.Int("peers", s.hub.PeerCount()))
		default:
			done = true
		}
	}

	for done := false; !done; {
		select {
		case id := <-s.netServer.DeadSessions():
			s.drop(id)
		default:
			done = true
		}
	}

	for id, sess := range s.store.Raw() {
		if sess.IsClosed() {
			s.drop(id)
			continue
		}
	drain:
		for i := 0; i < s.maxPerTick; i++ {
			select {
			case data := <-sess.InQueue:
				if err := s.hub.Handle(id, data); err != nil {
					s.log.Debug("packet rejected", zap.Uint64("session", id), zap.Error(err))
				}
			default:
				break drain
			}
		}
		if st, ok := s.hub.State(id); ok {
			sess.SetState(st)
		}
	}
}

func (s *InputSystem) drop(id uint64) {
	if s.store.Get(id) == nil {
		return
	}
	s.hub.Disconnect(id)
	s.store.Remove(id)
	s.log.Info("client disconnected", zap.Uint64("session", id), zap.Int("peers", s.hub.PeerCount()))
}
