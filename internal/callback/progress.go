// Package callback holds the stock learner callbacks: progress logging,
// learning-rate schedules and periodic checkpointing.
package callback

import (
	"log"
	"time"

	"trainforge/internal/learner"
	"trainforge/internal/metrics"
)

// Progress logs batch position, throughput and batch logs every Every
// batches, and a summary line at each epoch end.
type Progress struct {
	learner.BaseCallback

	Every int

	window    metrics.Window
	total     int
	seen      int
	lastLogs  learner.Logs
	lastEnd   time.Time
	batchFrom time.Time
	now       func() time.Time
}

// NewProgress logs every n batches (n < 1 means every batch).
func NewProgress(n int) *Progress {
	if n < 1 {
		n = 1
	}
	return &Progress{Every: n, now: time.Now}
}

func (p *Progress) clock() time.Time {
	if p.now == nil {
		return time.Now()
	}
	return p.now()
}

func (p *Progress) OnEpochBegin(ctx *learner.Context) error {
	p.window = metrics.Window{}
	p.total = 0
	p.seen = 0
	p.lastLogs = nil
	src := ctx.TrainLoader
	if ctx.Step == learner.Validation {
		src = ctx.ValLoader
	}
	if src != nil {
		p.total = src.Len()
	}
	p.lastEnd = p.clock()
	return nil
}

func (p *Progress) OnBatchBegin(*learner.Context) error {
	p.batchFrom = p.clock()
	return nil
}

func (p *Progress) OnBatchEnd(ctx *learner.Context) error {
	end := p.clock()
	p.window.Record(1, p.batchFrom.Sub(p.lastEnd), end.Sub(p.batchFrom), batchLoss(ctx.BatchLogs))
	p.lastEnd = end
	every := p.Every
	if every < 1 {
		every = 1
	}
	p.seen = ctx.Batch + 1
	p.lastLogs = ctx.BatchLogs
	if p.seen%every != 0 && p.seen != p.total {
		return nil
	}
	p.report(ctx)
	return nil
}

func (p *Progress) report(ctx *learner.Context) {
	snap := p.window.Snapshot()
	log.Printf("epoch=%d/%d step=%s batch=%d/%d batches_per_sec=%.1f data_ms=%.2f compute_ms=%.2f %s",
		ctx.Epoch, ctx.TotalEpochs, ctx.Step, p.seen, p.total,
		snap.SamplesPerSec, snap.AvgWaitMS, snap.AvgComputeMS, p.lastLogs)
}

// OnEpochEnd flushes batches not yet reported, which happens when a pass
// yields fewer batches than its source announced.
func (p *Progress) OnEpochEnd(ctx *learner.Context) error {
	if p.window.Batches() > 0 {
		p.report(ctx)
	}
	log.Printf("epoch=%d/%d step=%s summary %s %s",
		ctx.Epoch, ctx.TotalEpochs, ctx.Step, ctx.EpochLogs, ctx.MetricsLogs)
	return nil
}

func batchLoss(logs learner.Logs) float64 {
	if v, ok := logs[learner.LossKey]; ok {
		return v
	}
	keys := logs.Keys()
	if len(keys) == 0 {
		return 0
	}
	return logs[keys[0]]
}
