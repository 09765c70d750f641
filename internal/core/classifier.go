package core

import (
	"github.com/pkg/errors"
	"github.com/unixpickle/anynet"
	"github.com/unixpickle/anyvec"
	"github.com/unixpickle/anyvec/anyvec64"

	"trainforge/internal/checkpoint"
	"trainforge/internal/device"
	"trainforge/internal/learner"
	"trainforge/internal/metrics"
	"trainforge/internal/optim"
)

// Classifier trains a single model against a single cost. With
// anynet.DotCost and a LogSoftmax output it is a classifier; with
// anynet.MSE it is a regressor.
type Classifier struct {
	Model     *Model
	Optimizer optim.Optimizer
	Cost      anynet.Cost
	Creator   anyvec.Creator

	logs  learner.CoreLogs
	meter metrics.AverageMeter
}

// NewClassifier returns a float64 classifier core.
func NewClassifier(model *Model, opt optim.Optimizer, cost anynet.Cost) *Classifier {
	c := &Classifier{
		Model:     model,
		Optimizer: opt,
		Cost:      cost,
		Creator:   anyvec64.DefaultCreator{},
	}
	c.ResetEpoch()
	return c
}

func (c *Classifier) TrainMode() { c.Model.SetTraining(true) }

func (c *Classifier) EvalMode() { c.Model.SetTraining(false) }

func (c *Classifier) ResetEpoch() {
	c.logs = learner.CoreLogs{Batch: learner.Logs{}, Epoch: learner.Logs{}}
	c.meter.Reset()
}

func (c *Classifier) ToDevice(d device.Device) error {
	if !d.IsCPU() {
		return errors.Wrapf(ErrUnsupportedDevice, "%s", d)
	}
	return nil
}

func (c *Classifier) Models() []checkpoint.Model {
	return []checkpoint.Model{c.Model}
}

func (c *Classifier) Logs() learner.CoreLogs {
	return c.logs
}

func (c *Classifier) ForwardBatch(step learner.Step, batch learner.Batch) (outputs [][]float64, err error) {
	defer guard(&err)

	n := batch.Size()
	in, err := pack(c.Creator, batch.Inputs)
	if err != nil {
		return nil, err
	}
	out := c.Model.Apply(in, n)
	outputs = unpack(out.Output(), n)
	if step == learner.Prediction {
		return outputs, nil
	}
	if len(batch.Targets) != n {
		return nil, errors.Errorf("core: %s batch has %d targets for %d inputs", step, len(batch.Targets), n)
	}
	target, err := pack(c.Creator, batch.Targets)
	if err != nil {
		return nil, err
	}

	cost := mean(c.Cost.Cost(target, out, n))
	loss := scalar(cost)
	c.meter.Update(loss)
	c.logs.Batch = learner.Logs{learner.LossKey: loss}

	if step == learner.Training {
		c.Optimizer.Step(optim.Backward(cost, c.Model.Parameters()))
		c.logs.Epoch[learner.TrainLossKey] = c.meter.Avg()
	} else {
		c.logs.Epoch[learner.ValidLossKey] = c.meter.Avg()
	}
	return outputs, nil
}
