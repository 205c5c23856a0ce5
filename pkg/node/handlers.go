package node

import (
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ryandielhenn/phiaccrual/pkg/gossip"
	"github.com/ryandielhenn/phiaccrual/pkg/phi"
)

// PeerStatus is the JSON view of one monitored peer.
type PeerStatus struct {
	ID            gossip.NodeID `json:"id"`
	Addr          string        `json:"addr"`
	State         gossip.State  `json:"state"`
	Incarnation   uint64        `json:"incarnation"`
	Phi           float64       `json:"phi"`
	Owned         bool          `json:"owned"`
	Source        string        `json:"source"`
	LastHeartbeat *time.Time    `json:"last_heartbeat,omitempty"`
	Samples       int           `json:"samples"`
	MeanMS        float64       `json:"mean_ms"`
	StdDevMS      float64       `json:"std_dev_ms"`
}

// Healthz returns 200 OK to indicate the Node is alive. Peers probe this.
func (n *Node) Healthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

// Info writes a JSON payload with the process ID, current time and membership summary.
func (n *Node) Info(w http.ResponseWriter, _ *http.Request) {
	type resp struct {
		PID         int               `json:"pid"`
		Now         time.Time         `json:"now"`
		ID          gossip.NodeID     `json:"id"`
		Incarnation uint64            `json:"incarnation"`
		Peers       int               `json:"peers"`
		Monitors    int               `json:"monitors"`
		Thresholds  gossip.Thresholds `json:"thresholds"`
	}
	self := n.members.Self()
	writeJSON(w, http.StatusOK, resp{
		PID:         os.Getpid(),
		Now:         n.clock(),
		ID:          self.ID,
		Incarnation: self.Incarnation,
		Peers:       len(n.members.All()),
		Monitors:    n.ring.Len(),
		Thresholds:  n.members.Thresholds(),
	})
}

// Heartbeat handles POST /heartbeat/{id}: the peer pushes its own liveness signal.
func (n *Node) Heartbeat(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost && req.Method != http.MethodPut {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	id := gossip.NodeID(strings.TrimPrefix(req.URL.Path, "/heartbeat/"))
	if id == "" || strings.Contains(string(id), "/") {
		http.Error(w, "missing peer id", http.StatusBadRequest)
		return
	}
	if id == n.self {
		http.Error(w, "refusing heartbeat for self", http.StatusBadRequest)
		return
	}

	n.AddPeer(id, req.URL.Query().Get("addr"))
	err := n.RecordHeartbeat(id, SourcePush, n.clock())
	switch {
	case err == nil:
		w.WriteHeader(http.StatusNoContent)
	case errors.Is(err, phi.ErrClockRewind):
		http.Error(w, err.Error(), http.StatusConflict)
	default:
		n.log.Error("heartbeat failed", zap.String("peer", string(id)), zap.Error(err))
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// Peers handles GET /peers and GET /peers/{id}.
func (n *Node) Peers(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	now := n.clock()
	id := strings.Trim(strings.TrimPrefix(req.URL.Path, "/peers"), "/")
	if id == "" {
		members := n.members.All()
		out := make([]PeerStatus, 0, len(members))
		for _, m := range members {
			out = append(out, n.status(m, now))
		}
		writeJSON(w, http.StatusOK, out)
		return
	}

	m, ok := n.members.Get(gossip.NodeID(id))
	if !ok || m.ID == n.self {
		http.NotFound(w, req)
		return
	}
	writeJSON(w, http.StatusOK, n.status(m, now))
}

func (n *Node) status(m gossip.Member, now time.Time) PeerStatus {
	ps := PeerStatus{
		ID:          m.ID,
		Addr:        m.Addr,
		State:       m.State,
		Incarnation: m.Incarnation,
		Phi:         n.fd.Phi(m.ID, now),
		Owned:       n.Owns(m.ID),
		Source:      SourceProbe,
	}
	if n.Pushing(m.ID) {
		ps.Source = SourcePush
	}
	if d, ok := n.fd.Detector(m.ID); ok {
		if last, ok := d.LastHeartbeat(); ok {
			ps.LastHeartbeat = &last
		}
		s := d.Stats()
		ps.Samples = s.Samples
		ps.MeanMS = float64(s.Mean) / float64(time.Millisecond)
		ps.StdDevMS = float64(s.StdDeviation) / float64(time.Millisecond)
	}
	return ps
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(data)
}
