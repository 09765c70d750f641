// Package learner drives a Core through epochs and batches while
// notifying an ordered list of callbacks.
package learner

import (
	"context"
	"log"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"trainforge/internal/device"
)

// Session is the state of one Train call.
type Session struct {
	ID          uuid.UUID
	TotalEpochs int
	Epoch       int
	Train       DataSource
	Val         DataSource
	Core        Core
	Callbacks   *CallbackList
}

// Learner trains a Core.
type Learner struct {
	core    Core
	metrics []Metric
	device  device.Device
}

// Option configures a Learner.
type Option func(*Learner)

// WithMetrics adds metrics computed from the core's outputs.
func WithMetrics(m ...Metric) Option {
	return func(l *Learner) {
		l.metrics = append(l.metrics, m...)
	}
}

// WithDevice selects the device the core is moved to before training.
func WithDevice(d device.Device) Option {
	return func(l *Learner) {
		l.device = d
	}
}

// New returns a learner for core. The core is placed on the host CPU
// unless WithDevice says otherwise.
func New(core Core, opts ...Option) *Learner {
	l := &Learner{core: core, device: device.Detect()}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Core returns the core being trained.
func (l *Learner) Core() Core {
	return l.core
}

// Train runs epochs passes over train, each followed by a pass over val
// when val is non-nil. The first error from the core, a data source or a
// callback stops training and is returned.
func (l *Learner) Train(ctx context.Context, epochs int, train, val DataSource, callbacks ...Callback) error {
	if epochs < 1 {
		return errors.Errorf("learner: epochs must be >= 1 (got %d)", epochs)
	}
	if train == nil {
		return errors.New("learner: training source is required")
	}
	if l.core == nil {
		return errors.New("learner: core is nil")
	}
	if err := l.core.ToDevice(l.device); err != nil {
		return errors.Wrapf(err, "learner: move core to %s", l.device)
	}

	s := &Session{
		ID:          uuid.New(),
		TotalEpochs: epochs,
		Train:       train,
		Val:         val,
		Core:        l.core,
		Callbacks:   NewCallbackList(callbacks...),
	}
	log.Printf("session=%s epochs=%d train_batches=%d val=%t callbacks=%d device=%s",
		s.ID, epochs, train.Len(), val != nil, s.Callbacks.Len(), l.device)

	if err := s.Callbacks.OnTrainBegin(l.context(s, Training)); err != nil {
		return err
	}
	for epoch := 1; epoch <= epochs; epoch++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		s.Epoch = epoch
		if err := l.runEpoch(ctx, s, Training, train); err != nil {
			return err
		}
		if val != nil {
			if err := l.runEpoch(ctx, s, Validation, val); err != nil {
				return err
			}
		}
	}
	if err := s.Callbacks.OnTrainEnd(l.context(s, Training)); err != nil {
		return err
	}
	log.Printf("session=%s done epochs=%d", s.ID, epochs)
	return nil
}

// Predict runs the core over every batch of src in evaluation mode and
// returns the concatenated outputs.
func (l *Learner) Predict(ctx context.Context, src DataSource) ([][]float64, error) {
	if src == nil {
		return nil, errors.New("learner: prediction source is required")
	}
	if err := l.core.ToDevice(l.device); err != nil {
		return nil, errors.Wrapf(err, "learner: move core to %s", l.device)
	}
	l.core.ResetEpoch()
	l.core.EvalMode()

	var outputs [][]float64
	err := consume(ctx, src, func(_ int, b Batch) error {
		out, err := l.core.ForwardBatch(Prediction, Batch{Inputs: b.Inputs})
		if err != nil {
			return err
		}
		outputs = append(outputs, out...)
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "learner: predict")
	}
	return outputs, nil
}

func (l *Learner) runEpoch(ctx context.Context, s *Session, step Step, src DataSource) error {
	l.core.ResetEpoch()
	if step == Training {
		l.core.TrainMode()
	} else {
		l.core.EvalMode()
	}
	for _, m := range l.metrics {
		m.Reset()
	}

	if err := s.Callbacks.OnEpochBegin(l.context(s, step)); err != nil {
		return err
	}

	err := consume(ctx, src, func(i int, b Batch) error {
		bctx := l.context(s, step)
		bctx.Batch = i
		if err := s.Callbacks.OnBatchBegin(bctx); err != nil {
			return err
		}
		out, err := l.core.ForwardBatch(step, b)
		if err != nil {
			return errors.Wrapf(err, "learner: %s batch %d", step, i)
		}
		if b.Targets != nil {
			for _, m := range l.metrics {
				m.Update(out, b.Targets)
			}
		}
		bctx.BatchLogs = l.core.Logs().Batch.Clone()
		return s.Callbacks.OnBatchEnd(bctx)
	})
	if err != nil {
		return err
	}

	ectx := l.context(s, step)
	ectx.EpochLogs = l.core.Logs().Epoch.Clone()
	if ectx.EpochLogs == nil {
		ectx.EpochLogs = Logs{}
	}
	ectx.MetricsLogs = Logs{}
	for _, m := range l.metrics {
		ectx.MetricsLogs[m.Name()] = m.Value()
	}
	log.Printf("session=%s epoch=%d/%d step=%s %s %s",
		s.ID, s.Epoch, s.TotalEpochs, step, ectx.EpochLogs, ectx.MetricsLogs)
	return s.Callbacks.OnEpochEnd(ectx)
}

func (l *Learner) context(s *Session, step Step) *Context {
	return &Context{
		Session:     s.ID,
		Step:        step,
		Epoch:       s.Epoch,
		TotalEpochs: s.TotalEpochs,
		Models:      l.core.Models(),
		TrainLoader: s.Train,
		ValLoader:   s.Val,
	}
}

// consume feeds every batch of one pass over src to fn, in order.
func consume(parent context.Context, src DataSource, fn func(i int, b Batch) error) error {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	batches, errs := src.Batches(ctx)
	index := 0
	for batches != nil {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			if err != nil {
				return errors.Wrap(err, "learner: data source")
			}
		case b, ok := <-batches:
			if !ok {
				batches = nil
				continue
			}
			if err := fn(index, b); err != nil {
				return err
			}
			index++
		}
	}
	if errs != nil {
		for err := range errs {
			if err != nil {
				return errors.Wrap(err, "learner: data source")
			}
		}
	}
	return nil
}
