// Package phi implements the phi accrual failure detector described by
// Hayashibara et al. in "The φ Accrual Failure Detector".
//
// Instead of a boolean alive/dead verdict at a fixed timeout, a Detector
// reports a suspicion level φ that grows as the time since the last
// heartbeat exceeds what the observed inter-arrival distribution predicts:
//
//	φ = -log10(1 - F(timeSinceLastHeartbeat))
//
// where F is the cumulative distribution function of a normal distribution
// whose mean and standard deviation are estimated from a bounded window of
// recent heartbeat intervals. Callers choose the threshold at which to act.
//
// All timestamps are supplied by the caller, so a Detector has no timers
// and is fully deterministic for a given input sequence:
//
//	d, _ := phi.New(phi.DefaultConfig())
//	_ = d.Heartbeat(time.Now())
//	if !d.IsAvailable(time.Now(), 8.0) {
//		// peer is suspected
//	}
package phi
