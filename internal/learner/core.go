package learner

import (
	"trainforge/internal/checkpoint"
	"trainforge/internal/device"
)

// CoreLogs holds what a core reports after each batch: values for the
// batch just processed and running values for the epoch so far.
type CoreLogs struct {
	Batch Logs
	Epoch Logs
}

// A Core owns one model family: its models, optimizers and losses.
// The learner drives it one batch at a time.
type Core interface {
	TrainMode()
	EvalMode()

	// ResetEpoch clears per-epoch bookkeeping before every phase.
	ResetEpoch()
	ToDevice(d device.Device) error

	// Models returns the named models, in a stable order, used for
	// checkpoint file names.
	Models() []checkpoint.Model
	Logs() CoreLogs

	// ForwardBatch processes one batch and returns the model outputs.
	// Parameters are only updated when step is Training.
	ForwardBatch(step Step, batch Batch) ([][]float64, error)
}

// Metric accumulates a score over the batches of a phase.
type Metric interface {
	Name() string
	Reset()
	Update(outputs, targets [][]float64)
	Value() float64
}
