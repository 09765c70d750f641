package callback

import (
	"math"

	"github.com/pkg/errors"

	"trainforge/internal/learner"
	"trainforge/internal/optim"
)

// CosineAnnealing anneals the learning rate from its initial value down
// to EtaMin over TMax training epochs.
type CosineAnnealing struct {
	learner.BaseCallback

	Optimizer optim.Optimizer
	TMax      int
	EtaMin    float64

	base float64
}

func (c *CosineAnnealing) OnTrainBegin(*learner.Context) error {
	if c.Optimizer == nil {
		return errors.New("callback: cosine schedule has no optimizer")
	}
	if c.TMax < 1 {
		return errors.Errorf("callback: TMax must be >= 1, got %d", c.TMax)
	}
	c.base = c.Optimizer.LearningRate()
	return nil
}

func (c *CosineAnnealing) OnEpochEnd(ctx *learner.Context) error {
	if ctx.Step != learner.Training {
		return nil
	}
	cos := math.Cos(math.Pi * float64(ctx.Epoch) / float64(c.TMax))
	c.Optimizer.SetLearningRate(c.EtaMin + (c.base-c.EtaMin)*(1+cos)/2)
	return nil
}
