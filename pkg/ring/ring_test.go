package ring

import (
	"fmt"
	"math"
	"slices"
	"testing"
)

func TestOwnersStableAndDistinct(t *testing.T) {
	r := New(128, FNV32a)
	r.Add("m1")
	r.Add("m2")
	r.Add("m3")

	for _, peer := range []string{"node-a:8080", "node-b:8080", "node-c:8080"} {
		o1 := r.Owners([]byte(peer), 2)
		o2 := r.Owners([]byte(peer), 2)
		if len(o1) != 2 {
			t.Fatalf("Owners(%q, 2) = %v, want 2 monitors", peer, o1)
		}
		if o1[0] == o1[1] {
			t.Fatalf("Owners(%q, 2) returned duplicate monitor %q", peer, o1[0])
		}
		if !slices.Equal(o1, o2) {
			t.Fatalf("Owners(%q) not stable: %v != %v", peer, o1, o2)
		}
	}
}

func TestOwnersCappedByRingSize(t *testing.T) {
	r := New(16, nil)
	r.Add("m1")
	r.Add("m2")
	if got := r.Owners([]byte("peer"), 5); len(got) != 2 {
		t.Fatalf("Owners(n=5) on 2 monitors = %v, want 2 entries", got)
	}
}

func TestEmptyRingOwnsNothing(t *testing.T) {
	r := New(128, FNV32a)
	if got := r.Owners([]byte("peer"), 1); got != nil {
		t.Fatalf("Owners on empty ring = %v, want nil", got)
	}
	if r.Owns("m1", []byte("peer"), 1) {
		t.Fatal("Owns on empty ring = true, want false")
	}
}

func TestEveryPeerHasExactlyNOwners(t *testing.T) {
	monitors := []string{"m1", "m2", "m3", "m4"}
	r := New(64, FNV32a)
	r.Set(monitors)

	for i := 0; i < 200; i++ {
		peer := []byte(fmt.Sprintf("peer-%d", i))
		owned := 0
		for _, m := range monitors {
			if r.Owns(m, peer, 2) {
				owned++
			}
		}
		if owned != 2 {
			t.Fatalf("peer-%d owned by %d monitors, want 2", i, owned)
		}
	}
}

func TestRemoveMovesOnlyAffectedPeers(t *testing.T) {
	r := New(128, FNV32a)
	r.Add("m1")
	r.Add("m2")
	r.Add("m3")

	before := make(map[string]string)
	for i := 0; i < 100; i++ {
		k := fmt.Sprintf("peer-%d", i)
		before[k] = r.Owners([]byte(k), 1)[0]
	}

	r.Remove("m2")
	r.Remove("m2") // idempotent
	if r.Len() != 2 {
		t.Fatalf("Len after remove = %d, want 2", r.Len())
	}

	for k, was := range before {
		now := r.Owners([]byte(k), 1)[0]
		if now == "m2" {
			t.Fatalf("%s still owned by removed monitor", k)
		}
		if was != "m2" && now != was {
			t.Fatalf("%s moved from %s to %s, should stay", k, was, now)
		}
	}
}

func TestSetReplacesMonitors(t *testing.T) {
	r := New(32, FNV32a)
	r.Set([]string{"a", "b"})
	r.Set([]string{"c"})
	if r.Len() != 1 {
		t.Fatalf("Len = %d, want 1", r.Len())
	}
	if got := r.Owners([]byte("x"), 3); !slices.Equal(got, []string{"c"}) {
		t.Fatalf("Owners = %v, want [c]", got)
	}
}

func TestDistributionRoughlyBalanced(t *testing.T) {
	// sanity only: virtual points keep the split from being wildly skewed
	r := New(128, FNV32a)
	r.Set([]string{"m1", "m2", "m3"})

	const N = 6000
	counts := map[string]int{}
	for i := 0; i < N; i++ {
		id := r.Owners([]byte{byte(i >> 24), byte(i >> 16), byte(i >> 8), byte(i)}, 1)[0]
		counts[id]++
	}
	ideal := float64(N) / 3.0
	for id, c := range counts {
		if diff := math.Abs(float64(c)-ideal) / ideal; diff > 1.0 {
			t.Fatalf("distribution too skewed: monitor %s has %d (ideal %.1f)", id, c, ideal)
		}
	}
}
