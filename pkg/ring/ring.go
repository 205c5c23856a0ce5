package ring

import (
	"encoding/binary"
	"hash/fnv"
	"slices"
	"sort"
	"sync"
)

// Hasher maps a key onto the ring.
type Hasher func([]byte) uint32

// HashRing spreads monitored peers across monitor nodes with consistent
// hashing, so each peer is watched by a stable subset of monitors and a
// monitor joining or leaving only moves a small share of peers.
type HashRing struct {
	mu       sync.RWMutex
	replicas int
	hash     Hasher
	points   []uint32            // sorted
	owners   map[uint32]string   // point -> monitor ID
	monitors map[string]struct{} // monitor IDs on the ring
}

func New(replicas int, h Hasher) *HashRing {
	if replicas <= 0 {
		replicas = 128
	}
	if h == nil {
		h = FNV32a
	}
	return &HashRing{
		replicas: replicas,
		hash:     h,
		owners:   make(map[uint32]string),
		monitors: make(map[string]struct{}),
	}
}

func (r *HashRing) Add(monitorID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.monitors[monitorID]; ok {
		return
	}
	r.monitors[monitorID] = struct{}{}
	for i := 0; i < r.replicas; i++ {
		pt := r.hash(pointKey(monitorID, i))
		r.owners[pt] = monitorID
		r.points = append(r.points, pt)
	}
	slices.Sort(r.points)
}

func (r *HashRing) Remove(monitorID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.monitors[monitorID]; !ok {
		return
	}
	delete(r.monitors, monitorID)
	r.rebuild()
}

// Set replaces the ring contents with ids.
func (r *HashRing) Set(ids []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	clear(r.monitors)
	for _, id := range ids {
		r.monitors[id] = struct{}{}
	}
	r.rebuild()
}

func (r *HashRing) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.monitors)
}

// Owners returns up to n distinct monitors responsible for key, walking
// clockwise from the key's hash.
func (r *HashRing) Owners(key []byte, n int) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if len(r.points) == 0 || n <= 0 {
		return nil
	}
	h := r.hash(key)
	idx := sort.Search(len(r.points), func(i int) bool { return r.points[i] >= h })
	if idx == len(r.points) {
		idx = 0
	}

	seen := make(map[string]struct{}, n)
	out := make([]string, 0, n)
	for i := 0; i < len(r.points) && len(out) < n; i++ {
		id := r.owners[r.points[(idx+i)%len(r.points)]]
		if _, ok := seen[id]; !ok {
			seen[id] = struct{}{}
			out = append(out, id)
		}
	}
	return out
}

// Owns reports whether monitorID is among the n owners of key. An empty
// ring owns nothing.
func (r *HashRing) Owns(monitorID string, key []byte, n int) bool {
	return slices.Contains(r.Owners(key, n), monitorID)
}

func (r *HashRing) rebuild() {
	r.points = r.points[:0]
	clear(r.owners)
	for id := range r.monitors {
		for i := 0; i < r.replicas; i++ {
			pt := r.hash(pointKey(id, i))
			r.owners[pt] = id
			r.points = append(r.points, pt)
		}
	}
	slices.Sort(r.points)
}

// FNV32a is the default Hasher.
func FNV32a(b []byte) uint32 {
	h := fnv.New32a()
	_, _ = h.Write(b)
	return h.Sum32()
}

func pointKey(id string, i int) []byte {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], uint32(i))
	return append([]byte(id), buf[:]...)
}
