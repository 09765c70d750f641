package learner

import (
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"trainforge/internal/checkpoint"
)

// Context is handed to every callback hook. Fields that do not apply to
// a hook are left at their zero value: Batch and BatchLogs are only set
// for batch hooks, EpochLogs and MetricsLogs only for OnEpochEnd.
type Context struct {
	Session     uuid.UUID
	Step        Step
	Epoch       int
	TotalEpochs int
	Batch       int

	BatchLogs   Logs
	EpochLogs   Logs
	MetricsLogs Logs

	Models      []checkpoint.Model
	TrainLoader DataSource
	ValLoader   DataSource
}

// A Callback observes the training loop. Returning an error aborts
// training; a callback cannot otherwise alter the loop.
type Callback interface {
	OnTrainBegin(ctx *Context) error
	OnTrainEnd(ctx *Context) error
	OnEpochBegin(ctx *Context) error
	OnEpochEnd(ctx *Context) error
	OnBatchBegin(ctx *Context) error
	OnBatchEnd(ctx *Context) error
}

// BaseCallback implements every hook as a no-op. Embed it to override
// only the hooks you need.
type BaseCallback struct{}

func (BaseCallback) OnTrainBegin(*Context) error { return nil }
func (BaseCallback) OnTrainEnd(*Context) error   { return nil }
func (BaseCallback) OnEpochBegin(*Context) error { return nil }
func (BaseCallback) OnEpochEnd(*Context) error   { return nil }
func (BaseCallback) OnBatchBegin(*Context) error { return nil }
func (BaseCallback) OnBatchEnd(*Context) error   { return nil }

// CallbackList fans notifications out in registration order. The first
// failing callback stops the fan-out.
type CallbackList struct {
	callbacks []Callback
}

// NewCallbackList returns a list holding cbs in order. Nil entries are
// dropped.
func NewCallbackList(cbs ...Callback) *CallbackList {
	l := &CallbackList{}
	for _, cb := range cbs {
		l.Append(cb)
	}
	return l
}

// Append registers cb after the existing callbacks.
func (l *CallbackList) Append(cb Callback) {
	if cb == nil {
		return
	}
	l.callbacks = append(l.callbacks, cb)
}

// Len returns the number of registered callbacks.
func (l *CallbackList) Len() int {
	return len(l.callbacks)
}

// Callbacks returns the registered callbacks in invocation order.
func (l *CallbackList) Callbacks() []Callback {
	return append([]Callback(nil), l.callbacks...)
}

func (l *CallbackList) OnTrainBegin(ctx *Context) error {
	return l.each("OnTrainBegin", func(cb Callback) error { return cb.OnTrainBegin(ctx) })
}

func (l *CallbackList) OnTrainEnd(ctx *Context) error {
	return l.each("OnTrainEnd", func(cb Callback) error { return cb.OnTrainEnd(ctx) })
}

func (l *CallbackList) OnEpochBegin(ctx *Context) error {
	return l.each("OnEpochBegin", func(cb Callback) error { return cb.OnEpochBegin(ctx) })
}

func (l *CallbackList) OnEpochEnd(ctx *Context) error {
	return l.each("OnEpochEnd", func(cb Callback) error { return cb.OnEpochEnd(ctx) })
}

func (l *CallbackList) OnBatchBegin(ctx *Context) error {
	return l.each("OnBatchBegin", func(cb Callback) error { return cb.OnBatchBegin(ctx) })
}

func (l *CallbackList) OnBatchEnd(ctx *Context) error {
	return l.each("OnBatchEnd", func(cb Callback) error { return cb.OnBatchEnd(ctx) })
}

func (l *CallbackList) each(hook string, fn func(Callback) error) error {
	for _, cb := range l.callbacks {
		if err := fn(cb); err != nil {
			return errors.Wrapf(err, "callback %T %s", cb, hook)
		}
	}
	return nil
}
