package node

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ryandielhenn/phiaccrual/internal/telemetry"
	"github.com/ryandielhenn/phiaccrual/pkg/gossip"
	"github.com/ryandielhenn/phiaccrual/pkg/phi"
	"github.com/ryandielhenn/phiaccrual/pkg/ring"
)

// Heartbeat sources, used as metric labels.
const (
	SourcePush  = "push"
	SourceProbe = "probe"
)

// Node is one monitor process: it ingests heartbeats for its peers, keeps
// their φ history and exposes the resulting membership view over HTTP.
//
// Each peer feeds its detector from a single source. Once a peer pushes a
// heartbeat it is no longer probed, so one history never mixes pushed and
// probed arrival times.
type Node struct {
	self     gossip.NodeID
	fd       *gossip.PhiFailureDetector
	members  *gossip.Members
	ring     *ring.HashRing
	replicas int
	log      *zap.Logger
	clock    func() time.Time

	mu         sync.Mutex
	registered map[gossip.NodeID]struct{} // peers listed by the registry
	pushing    map[gossip.NodeID]struct{} // peers that push their own heartbeats
}

func NewNode(members *gossip.Members, fd *gossip.PhiFailureDetector, r *ring.HashRing, replicas int, log *zap.Logger) *Node {
	if log == nil {
		log = zap.NewNop()
	}
	if replicas <= 0 {
		replicas = 1
	}
	self := members.Self().ID
	r.Add(string(self))
	return &Node{
		self:     self,
		fd:       fd,
		members:  members,
		ring:     r,
		replicas: replicas,
		log:      log,
		clock:    time.Now,

		registered: make(map[gossip.NodeID]struct{}),
		pushing:    make(map[gossip.NodeID]struct{}),
	}
}

func (n *Node) ID() gossip.NodeID { return n.self }

func (n *Node) Addr() string { return n.members.Self().Addr }

func (n *Node) Members() *gossip.Members { return n.members }

// SetPeers replaces the registry's view of the peer set with an id -> addr
// map. Every registered node is also a monitor on the ring. Peers that left
// the registry are forgotten; peers known only from pushed heartbeats are
// kept.
func (n *Node) SetPeers(peers map[string]string) {
	ids := make([]string, 0, len(peers)+1)
	ids = append(ids, string(n.self))
	next := make(map[gossip.NodeID]struct{}, len(peers))
	for id, addr := range peers {
		nid := gossip.NodeID(id)
		if nid == n.self {
			continue
		}
		ids = append(ids, id)
		next[nid] = struct{}{}
		if _, ok := n.members.Get(nid); ok {
			if n.members.SetAddr(nid, addr) {
				n.log.Info("peer address changed", zap.String("peer", id), zap.String("addr", addr))
			}
			continue
		}
		n.members.ApplyDelta(gossip.Delta{Member: gossip.Member{ID: nid, Addr: addr}})
	}
	n.ring.Set(ids)

	n.mu.Lock()
	var gone []gossip.NodeID
	for id := range n.registered {
		if _, ok := next[id]; !ok {
			gone = append(gone, id)
		}
	}
	n.registered = next
	n.mu.Unlock()

	for _, id := range gone {
		n.forget(id)
	}
}

// AddPeer registers a single peer, keeping the current address if addr is empty.
func (n *Node) AddPeer(id gossip.NodeID, addr string) {
	if id == n.self {
		return
	}
	if _, ok := n.members.Get(id); !ok {
		n.members.ApplyDelta(gossip.Delta{Member: gossip.Member{ID: id, Addr: addr}})
	}
}

func (n *Node) forget(id gossip.NodeID) {
	n.mu.Lock()
	delete(n.pushing, id)
	n.mu.Unlock()
	if n.members.Remove(id) {
		telemetry.ForgetPeer(string(id))
		n.log.Info("peer removed", zap.String("peer", string(id)))
	}
}

// Owns reports whether this monitor is responsible for probing id.
func (n *Node) Owns(id gossip.NodeID) bool {
	return n.ring.Owns(string(n.self), []byte(id), n.replicas)
}

// Pushing reports whether id has pushed at least one heartbeat.
func (n *Node) Pushing(id gossip.NodeID) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	_, ok := n.pushing[id]
	return ok
}

// RecordHeartbeat feeds a heartbeat for id into the failure detector.
// A pushed heartbeat switches the peer to push mode for good.
func (n *Node) RecordHeartbeat(id gossip.NodeID, source string, at time.Time) error {
	if source == SourcePush {
		n.mu.Lock()
		n.pushing[id] = struct{}{}
		n.mu.Unlock()
	}
	err := n.fd.Observe(id, at)
	switch {
	case err == nil:
		telemetry.HeartbeatsTotal.WithLabelValues(source, telemetry.ResultOK).Inc()
	case errors.Is(err, phi.ErrClockRewind):
		telemetry.HeartbeatsTotal.WithLabelValues(source, telemetry.ResultRewind).Inc()
		n.log.Debug("heartbeat dropped", zap.String("peer", string(id)), zap.String("source", source), zap.Error(err))
	default:
		telemetry.HeartbeatsTotal.WithLabelValues(source, telemetry.ResultError).Inc()
	}
	return err
}

// Evaluate recomputes member states at now and publishes them as metrics.
func (n *Node) Evaluate(now time.Time) []gossip.Delta {
	deltas := n.members.Evaluate(now)
	for _, d := range deltas {
		telemetry.StateTransitionsTotal.WithLabelValues(d.Member.State.String()).Inc()
	}
	for _, m := range n.members.All() {
		telemetry.ObservePeer(string(m.ID), m.State.String(), n.fd.Phi(m.ID, now))
	}
	return deltas
}

// Run evaluates membership every interval until ctx is cancelled.
func (n *Node) Run(ctx context.Context, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			n.Evaluate(n.clock())
		}
	}
}
