package phi

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// Defaults used by DefaultConfig.
const (
	DefaultMaxSampleSize            = 1000
	DefaultMinStdDeviation          = 50 * time.Millisecond
	DefaultAcceptableHeartbeatPause = time.Duration(0)
	DefaultFirstHeartbeatEstimate   = 500 * time.Millisecond
)

// ErrClockRewind is returned by Heartbeat when the supplied timestamp is
// earlier than the last accepted one.
var ErrClockRewind = errors.New("phi: heartbeat timestamp precedes last heartbeat")

// Config is fixed for the lifetime of a Detector.
//
// MaxSampleSize            - number of intervals kept for mean and standard deviation.
// MinStdDeviation          - floor for the standard deviation used in φ. Perfectly regular
//                            heartbeats would otherwise make φ explode on the slightest delay.
// AcceptableHeartbeatPause - added to every observed interval before it is recorded, modeling
//                            jitter that should not raise suspicion.
// FirstHeartbeatEstimate   - mean assumed while the window is still empty.
type Config struct {
	MaxSampleSize            int
	MinStdDeviation          time.Duration
	AcceptableHeartbeatPause time.Duration
	FirstHeartbeatEstimate   time.Duration
}

// DefaultConfig returns the Default* values.
func DefaultConfig() Config {
	return Config{
		MaxSampleSize:            DefaultMaxSampleSize,
		MinStdDeviation:          DefaultMinStdDeviation,
		AcceptableHeartbeatPause: DefaultAcceptableHeartbeatPause,
		FirstHeartbeatEstimate:   DefaultFirstHeartbeatEstimate,
	}
}

// Validate rejects non-positive sizes and durations and a negative pause.
func (c Config) Validate() error {
	if c.MaxSampleSize <= 0 {
		return errors.New("phi: max sample size must be > 0")
	}
	if c.MinStdDeviation <= 0 {
		return errors.New("phi: min std deviation must be > 0")
	}
	if c.AcceptableHeartbeatPause < 0 {
		return errors.New("phi: acceptable heartbeat pause must be >= 0")
	}
	if c.FirstHeartbeatEstimate <= 0 {
		return errors.New("phi: first heartbeat estimate must be > 0")
	}
	return nil
}

// Detector tracks heartbeats of a single monitored peer.
// It is safe for concurrent use: Heartbeat is serialized against every
// other call while Phi and IsAvailable may run in parallel.
type Detector struct {
	cfg Config

	mu      sync.RWMutex
	history *History
	last    time.Time
	seen    bool
}

// Stats is a point-in-time view of the statistics φ is computed from.
type Stats struct {
	Samples      int
	Mean         time.Duration
	StdDeviation time.Duration
}

// New returns a Detector that has not seen any heartbeat yet.
func New(cfg Config) (*Detector, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Detector{
		cfg:     cfg,
		history: NewHistory(cfg.MaxSampleSize),
	}, nil
}

// Config returns the configuration the detector was built with.
func (d *Detector) Config() Config { return d.cfg }

// Heartbeat records a heartbeat that arrived at now. The first heartbeat
// only starts the clock; later ones add now-last+AcceptableHeartbeatPause
// to the history. A timestamp earlier than the last one fails with
// ErrClockRewind and leaves the detector untouched.
func (d *Detector) Heartbeat(now time.Time) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.seen {
		d.last = now
		d.seen = true
		return nil
	}
	if now.Before(d.last) {
		return fmt.Errorf("%w: %s < %s", ErrClockRewind,
			now.Format(time.RFC3339Nano), d.last.Format(time.RFC3339Nano))
	}

	d.history.Add(now.Sub(d.last) + d.cfg.AcceptableHeartbeatPause)
	d.last = now
	return nil
}

// Phi returns the suspicion level at now. It is 0 until the first
// heartbeat has been recorded.
func (d *Detector) Phi(now time.Time) float64 {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if !d.seen {
		return 0.0 // nothing to be suspicious about yet
	}
	s := d.statsLocked()
	elapsed := now.Sub(d.last)
	return PhiOf(float64(elapsed), float64(s.Mean), float64(s.StdDeviation))
}

// IsAvailable reports whether Phi at now is below threshold.
func (d *Detector) IsAvailable(now time.Time, threshold float64) bool {
	return d.Phi(now) < threshold
}

// IsMonitoring reports whether at least one heartbeat was recorded.
func (d *Detector) IsMonitoring() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.seen
}

// LastHeartbeat returns the last accepted heartbeat time, and false if
// none was recorded.
func (d *Detector) LastHeartbeat() (time.Time, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.last, d.seen
}

// Stats returns the mean and floored standard deviation Phi would use.
func (d *Detector) Stats() Stats {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.statsLocked()
}

func (d *Detector) statsLocked() Stats {
	s := Stats{
		Samples:      d.history.Len(),
		Mean:         d.cfg.FirstHeartbeatEstimate,
		StdDeviation: d.history.StdDeviation(),
	}
	if s.Samples > 0 {
		s.Mean = d.history.Mean()
	}
	// floor applies to the bootstrap estimate too
	s.StdDeviation = max(s.StdDeviation, d.cfg.MinStdDeviation)
	return s
}
