// Package gossip tracks cluster membership and peer liveness for the
// phiaccrual monitor. A FailureDetector turns heartbeat observations into a
// per-peer suspicion level φ, and Members maps those levels onto the
// Alive -> Suspect -> Dead member states other nodes agree on through
// incarnation-ordered deltas.
//
// Typical usage:
//
//	fd, _ := gossip.NewPhiFailureDetector(phi.DefaultConfig())
//	ml, _ := gossip.NewMembers(gossip.Member{ID: "node1"}, fd, gossip.DefaultThresholds(), logger)
//	_ = fd.Observe("node2", time.Now())
//	for _, d := range ml.Evaluate(time.Now()) {
//		// d.Member.State changed
//	}
//
// Heartbeats can come from anywhere (HTTP push, active probes); this
// package performs no network I/O itself.
package gossip
