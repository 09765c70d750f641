package core

import (
	"github.com/pkg/errors"
	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anyvec"
	"github.com/unixpickle/anyvec/anyvec64"

	"trainforge/internal/checkpoint"
	"trainforge/internal/device"
	"trainforge/internal/learner"
	"trainforge/internal/metrics"
	"trainforge/internal/optim"
)

// Log keys reported by the GAN core.
const (
	DLossKey = "d_loss"
	GLossKey = "g_loss"
	DRealKey = "d_real"
	DFakeKey = "d_fake"
)

// GAN trains a generator against a discriminator that outputs one
// probability per row. Every training batch updates the discriminator
// first and the generator second.
type GAN struct {
	Generator     *Model
	Discriminator *Model
	GOptim        optim.Optimizer
	DOptim        optim.Optimizer
	Loss          GeneratorLoss
	Creator       anyvec.Creator

	logs   learner.CoreLogs
	gMeter metrics.AverageMeter
	dMeter metrics.AverageMeter
}

// NewGAN returns a float64 adversarial core.
func NewGAN(gen, disc *Model, gOpt, dOpt optim.Optimizer, loss GeneratorLoss) *GAN {
	g := &GAN{
		Generator:     gen,
		Discriminator: disc,
		GOptim:        gOpt,
		DOptim:        dOpt,
		Loss:          loss,
		Creator:       anyvec64.DefaultCreator{},
	}
	g.ResetEpoch()
	return g
}

func (g *GAN) TrainMode() {
	g.Generator.SetTraining(true)
	g.Discriminator.SetTraining(true)
}

func (g *GAN) EvalMode() {
	g.Generator.SetTraining(false)
	g.Discriminator.SetTraining(false)
}

func (g *GAN) ResetEpoch() {
	g.logs = learner.CoreLogs{Batch: learner.Logs{}, Epoch: learner.Logs{}}
	g.gMeter.Reset()
	g.dMeter.Reset()
}

func (g *GAN) ToDevice(d device.Device) error {
	if !d.IsCPU() {
		return errors.Wrapf(ErrUnsupportedDevice, "%s", d)
	}
	return nil
}

func (g *GAN) Models() []checkpoint.Model {
	return []checkpoint.Model{g.Generator, g.Discriminator}
}

func (g *GAN) Logs() learner.CoreLogs {
	return g.logs
}

// ForwardBatch returns the generated rows. Inputs are the low-quality
// samples, targets the matching real samples.
func (g *GAN) ForwardBatch(step learner.Step, batch learner.Batch) (outputs [][]float64, err error) {
	defer guard(&err)

	n := batch.Size()
	in, err := pack(g.Creator, batch.Inputs)
	if err != nil {
		return nil, err
	}
	generated := g.Generator.Apply(in, n)
	outputs = unpack(generated.Output(), n)
	if step == learner.Prediction {
		return outputs, nil
	}
	if len(batch.Targets) != n {
		return nil, errors.Errorf("core: %s batch has %d targets for %d inputs", step, len(batch.Targets), n)
	}
	target, err := pack(g.Creator, batch.Targets)
	if err != nil {
		return nil, err
	}

	dReal := mean(g.Discriminator.Apply(target, n))
	dFake := mean(g.Discriminator.Apply(generated, n))

	// 1 - D(real) + D(fake)
	dLoss := oneMinus(dReal)
	dLoss = anydiff.Add(dLoss, dFake)
	if step == learner.Training {
		g.DOptim.Step(optim.Backward(dLoss, g.Discriminator.Parameters()))
	}

	gLoss := g.Loss.Cost(dFake, generated, target, n)
	if step == learner.Training {
		g.GOptim.Step(optim.Backward(gLoss, g.Generator.Parameters()))
	}

	dl, gl := scalar(dLoss), scalar(gLoss)
	g.dMeter.Update(dl)
	g.gMeter.Update(gl)
	g.logs.Batch = learner.Logs{
		DLossKey: dl,
		GLossKey: gl,
		DRealKey: scalar(dReal),
		DFakeKey: scalar(dFake),
	}
	g.logs.Epoch[DLossKey] = g.dMeter.Avg()
	g.logs.Epoch[GLossKey] = g.gMeter.Avg()
	if step == learner.Training {
		g.logs.Epoch[learner.TrainLossKey] = g.gMeter.Avg()
	} else {
		g.logs.Epoch[learner.ValidLossKey] = g.gMeter.Avg()
	}
	return outputs, nil
}
