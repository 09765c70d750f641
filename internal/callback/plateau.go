package callback

import (
	"log"
	"math"

	"github.com/pkg/errors"

	"trainforge/internal/learner"
	"trainforge/internal/optim"
)

var (
	// ErrMissingLoss is returned when the monitored loss is absent from
	// the epoch logs.
	ErrMissingLoss = errors.New("callback: monitored loss missing from epoch logs")

	// ErrNoValidation is returned when a validation-driven schedule is
	// used without a validation source.
	ErrNoValidation = errors.New("callback: validation source required")
)

// ReduceLROnPlateau multiplies the learning rate by Factor once the
// monitored loss has not improved for more than Patience epochs.
type ReduceLROnPlateau struct {
	learner.BaseCallback

	Optimizer optim.Optimizer

	// LossStep selects the monitored loss: "train" or "valid".
	LossStep string

	// Mode is "min" or "max"; ThresholdMode is "rel" or "abs".
	Mode          string
	ThresholdMode string

	Factor    float64
	Patience  int
	Threshold float64
	Cooldown  int
	MinLR     float64
	Eps       float64

	best            float64
	badEpochs       int
	cooldownCounter int
	started         bool
}

// NewReduceLROnPlateau returns a schedule with the usual defaults,
// monitoring the validation loss.
func NewReduceLROnPlateau(opt optim.Optimizer) *ReduceLROnPlateau {
	return &ReduceLROnPlateau{
		Optimizer:     opt,
		LossStep:      "valid",
		Mode:          "min",
		Factor:        0.1,
		Patience:      10,
		Threshold:     1e-4,
		ThresholdMode: "rel",
		Eps:           1e-8,
	}
}

func (r *ReduceLROnPlateau) validate() error {
	if r.Optimizer == nil {
		return errors.New("callback: plateau schedule has no optimizer")
	}
	if r.Factor >= 1 || r.Factor <= 0 {
		return errors.Errorf("callback: factor must be in (0, 1), got %g", r.Factor)
	}
	switch r.Mode {
	case "min", "max":
	default:
		return errors.Errorf("callback: unknown mode %q", r.Mode)
	}
	switch r.ThresholdMode {
	case "rel", "abs":
	default:
		return errors.Errorf("callback: unknown threshold mode %q", r.ThresholdMode)
	}
	switch r.LossStep {
	case "train", "valid":
	default:
		return errors.Errorf("callback: unknown loss step %q", r.LossStep)
	}
	return nil
}

func (r *ReduceLROnPlateau) OnTrainBegin(ctx *learner.Context) error {
	if err := r.validate(); err != nil {
		return err
	}
	if r.LossStep == "valid" && ctx.ValLoader == nil {
		return errors.Wrap(ErrNoValidation, "reduce on plateau monitors the validation loss")
	}
	r.best = math.Inf(1)
	if r.Mode == "max" {
		r.best = math.Inf(-1)
	}
	r.badEpochs = 0
	r.cooldownCounter = 0
	r.started = true
	return nil
}

func (r *ReduceLROnPlateau) OnEpochEnd(ctx *learner.Context) error {
	key := learner.TrainLossKey
	want := learner.Training
	if r.LossStep == "valid" {
		key = learner.ValidLossKey
		want = learner.Validation
	}
	if ctx.Step != want {
		return nil
	}
	if !r.started {
		if err := r.OnTrainBegin(ctx); err != nil {
			return err
		}
	}
	loss, ok := ctx.EpochLogs[key]
	if !ok {
		return errors.Wrapf(ErrMissingLoss, "%q at epoch %d", key, ctx.Epoch)
	}
	r.observe(loss, ctx.Epoch)
	return nil
}

func (r *ReduceLROnPlateau) observe(v float64, epoch int) {
	if r.better(v) {
		r.best = v
		r.badEpochs = 0
	} else {
		r.badEpochs++
	}
	if r.cooldownCounter > 0 {
		r.cooldownCounter--
		r.badEpochs = 0
	}
	if r.badEpochs > r.Patience {
		r.reduce(epoch)
		r.cooldownCounter = r.Cooldown
		r.badEpochs = 0
	}
}

func (r *ReduceLROnPlateau) better(v float64) bool {
	switch {
	case r.Mode == "min" && r.ThresholdMode == "rel":
		return v < r.best*(1-r.Threshold)
	case r.Mode == "min":
		return v < r.best-r.Threshold
	case r.ThresholdMode == "rel":
		return v > r.best*(1+r.Threshold)
	default:
		return v > r.best+r.Threshold
	}
}

func (r *ReduceLROnPlateau) reduce(epoch int) {
	old := r.Optimizer.LearningRate()
	lr := math.Max(old*r.Factor, r.MinLR)
	if old-lr > r.Eps {
		r.Optimizer.SetLearningRate(lr)
		log.Printf("epoch=%d reducing learning rate %.6g -> %.6g", epoch, old, lr)
	}
}
