// Command simulate replays a synthetic heartbeat stream against a phi
// detector on a virtual clock and writes the suspicion level over time as
// CSV (elapsed_ms,phi,available), handy for plotting threshold choices.
//
// The peer sends heartbeats every -interval ± -jitter, stops for -outage
// after -crash-after heartbeats, then resumes.
package main

import (
	"encoding/csv"
	"flag"
	"fmt"
	"io"
	"math/rand"
	"os"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/ryandielhenn/phiaccrual/internal/logging"
	"github.com/ryandielhenn/phiaccrual/pkg/phi"
)

type options struct {
	Detector   phi.Config
	Interval   time.Duration
	Jitter     time.Duration
	Beats      int
	CrashAfter int
	Outage     time.Duration
	Poll       time.Duration
	Threshold  float64
	Seed       int64
}

type sample struct {
	Elapsed   time.Duration
	Phi       float64
	Available bool
}

func main() {
	var o options
	o.Detector = phi.DefaultConfig()
	flag.IntVar(&o.Detector.MaxSampleSize, "samples", o.Detector.MaxSampleSize, "detector window size")
	flag.DurationVar(&o.Detector.MinStdDeviation, "min-std", o.Detector.MinStdDeviation, "std deviation floor")
	flag.DurationVar(&o.Detector.AcceptableHeartbeatPause, "pause", o.Detector.AcceptableHeartbeatPause, "acceptable heartbeat pause")
	flag.DurationVar(&o.Detector.FirstHeartbeatEstimate, "first", o.Detector.FirstHeartbeatEstimate, "first heartbeat estimate")
	flag.DurationVar(&o.Interval, "interval", 500*time.Millisecond, "heartbeat interval")
	flag.DurationVar(&o.Jitter, "jitter", 100*time.Millisecond, "max heartbeat jitter")
	flag.IntVar(&o.Beats, "beats", 60, "heartbeats to send")
	flag.IntVar(&o.CrashAfter, "crash-after", 30, "heartbeats before the simulated outage (0 disables)")
	flag.DurationVar(&o.Outage, "outage", 5*time.Second, "length of the simulated outage")
	flag.DurationVar(&o.Poll, "poll", 200*time.Millisecond, "phi sampling period")
	flag.Float64Var(&o.Threshold, "threshold", 8.0, "phi threshold for availability")
	flag.Int64Var(&o.Seed, "seed", 1, "random seed")
	out := flag.String("out", "-", "CSV output path (- for stdout)")
	flag.Parse()

	log, err := logging.New("info", true)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer log.Sync()

	samples, err := simulate(o)
	if err != nil {
		log.Fatal("simulation failed", zap.Error(err))
	}

	w := io.Writer(os.Stdout)
	if *out != "-" {
		f, err := os.Create(*out)
		if err != nil {
			log.Fatal("open output", zap.Error(err))
		}
		defer f.Close()
		w = f
	}
	if err := writeCSV(w, samples); err != nil {
		log.Fatal("write csv", zap.Error(err))
	}

	unavailable := 0
	maxPhi := 0.0
	for _, s := range samples {
		if !s.Available {
			unavailable++
		}
		maxPhi = max(maxPhi, s.Phi)
	}
	log.Info("simulation done",
		zap.Int("samples", len(samples)),
		zap.Int("unavailable", unavailable),
		zap.Float64("max_phi", maxPhi))
}

// simulate runs the scenario on a virtual clock starting at the zero time.
func simulate(o options) ([]sample, error) {
	d, err := phi.New(o.Detector)
	if err != nil {
		return nil, err
	}
	if o.Poll <= 0 {
		return nil, fmt.Errorf("poll period must be > 0")
	}
	rng := rand.New(rand.NewSource(o.Seed))

	// heartbeat arrival times
	var beats []time.Duration
	at := time.Duration(0)
	for i := 0; i < o.Beats; i++ {
		beats = append(beats, at)
		step := o.Interval
		if o.Jitter > 0 {
			step += time.Duration(rng.Int63n(int64(2*o.Jitter))) - o.Jitter
		}
		if o.CrashAfter > 0 && i+1 == o.CrashAfter {
			step += o.Outage
		}
		at += max(step, 0)
	}
	end := at

	var (
		start = time.Time{}
		out   []sample
		next  int
	)
	for t := time.Duration(0); t <= end; t += o.Poll {
		for next < len(beats) && beats[next] <= t {
			if err := d.Heartbeat(start.Add(beats[next])); err != nil {
				return nil, err
			}
			next++
		}
		now := start.Add(t)
		out = append(out, sample{Elapsed: t, Phi: d.Phi(now), Available: d.IsAvailable(now, o.Threshold)})
	}
	return out, nil
}

func writeCSV(w io.Writer, samples []sample) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"elapsed_ms", "phi", "available"}); err != nil {
		return err
	}
	for _, s := range samples {
		rec := []string{
			strconv.FormatInt(s.Elapsed.Milliseconds(), 10),
			strconv.FormatFloat(s.Phi, 'f', 6, 64),
			strconv.FormatBool(s.Available),
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
