package node

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ryandielhenn/phiaccrual/internal/telemetry"
	"github.com/ryandielhenn/phiaccrual/pkg/gossip"
)

// Prober actively checks the peers this node owns on the monitor ring and
// turns every successful response into a heartbeat. Peers that push their
// own heartbeats are skipped.
type Prober struct {
	node     *Node
	client   *http.Client
	interval time.Duration
	timeout  time.Duration
	path     string
}

func NewProber(n *Node, interval, timeout time.Duration, path string) *Prober {
	return &Prober{
		node:     n,
		client:   &http.Client{},
		interval: interval,
		timeout:  timeout,
		path:     path,
	}
}

// Run probes owned peers every interval until ctx is cancelled.
func (p *Prober) Run(ctx context.Context) {
	t := time.NewTicker(p.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			p.ProbeOnce(ctx)
		}
	}
}

// ProbeOnce probes every owned peer concurrently and waits for all of them.
// It returns the number of peers that answered.
func (p *Prober) ProbeOnce(ctx context.Context) int {
	var (
		wg sync.WaitGroup
		mu sync.Mutex
		ok int
	)
	for _, m := range p.node.members.All() {
		if m.Addr == "" || !p.node.Owns(m.ID) || p.node.Pushing(m.ID) {
			continue
		}
		wg.Add(1)
		go func(m gossip.Member) {
			defer wg.Done()
			if err := p.probe(ctx, m); err != nil {
				p.node.log.Debug("probe failed", zap.String("peer", string(m.ID)), zap.Error(err))
				return
			}
			mu.Lock()
			ok++
			mu.Unlock()
		}(m)
	}
	wg.Wait()
	return ok
}

func (p *Prober) probe(ctx context.Context, m gossip.Member) error {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	start := time.Now()
	result := "error"
	defer func() {
		telemetry.ProbeDuration.WithLabelValues(result).Observe(time.Since(start).Seconds())
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, probeURL(m.Addr, p.path), nil)
	if err != nil {
		return err
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("probe %s: status %d", m.ID, resp.StatusCode)
	}
	result = "ok"
	// the arrival time is when the answer came back, not when we asked
	return p.node.RecordHeartbeat(m.ID, SourceProbe, p.node.clock())
}
