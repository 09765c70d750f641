package metrics

import "time"

// Window accumulates batch timings between two snapshots.
type Window struct {
	samples  int
	wait     time.Duration
	compute  time.Duration
	batches  int
	lastLoss float64
}

// Record adds a batch to the window. wait is the time spent between
// batches (data loading and callbacks), compute the time spent inside
// the core.
func (w *Window) Record(batchSize int, wait, compute time.Duration, loss float64) {
	w.samples += batchSize
	w.wait += wait
	w.compute += compute
	w.batches++
	w.lastLoss = loss
}

// Batches returns the number of batches recorded since the last snapshot.
func (w *Window) Batches() int {
	return w.batches
}

// Snapshot returns aggregated metrics and resets the window.
func (w *Window) Snapshot() Snapshot {
	snap := Snapshot{}
	total := w.wait + w.compute
	if total > 0 {
		snap.SamplesPerSec = float64(w.samples) / total.Seconds()
	}
	if w.batches > 0 {
		snap.AvgWaitMS = (w.wait.Seconds() * 1000) / float64(w.batches)
		snap.AvgComputeMS = (w.compute.Seconds() * 1000) / float64(w.batches)
	}
	snap.LastLoss = w.lastLoss

	*w = Window{}
	return snap
}

// Snapshot represents loggable throughput figures.
type Snapshot struct {
	SamplesPerSec float64
	AvgWaitMS     float64
	AvgComputeMS  float64
	LastLoss      float64
}
