package core

import (
	"math"
	"testing"

	"github.com/pkg/errors"
	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anynet"
	"github.com/unixpickle/anyvec/anyvec64"

	"trainforge/internal/device"
	"trainforge/internal/learner"
	"trainforge/internal/optim"
)

type recordingOptim struct {
	name  string
	steps *[]string
	inner optim.Optimizer
}

func (r *recordingOptim) Step(g anydiff.Grad) {
	*r.steps = append(*r.steps, r.name)
	r.inner.Step(g)
}

func (r *recordingOptim) LearningRate() float64      { return r.inner.LearningRate() }
func (r *recordingOptim) SetLearningRate(lr float64) { r.inner.SetLearningRate(lr) }

func regressionBatch() learner.Batch {
	return learner.Batch{
		Inputs:  [][]float64{{0, 1}, {1, 0}, {1, 1}, {0.5, 0.5}},
		Targets: [][]float64{{1}, {1}, {2}, {1}},
	}
}

func newRegressor(t *testing.T, opt optim.Optimizer) *Classifier {
	t.Helper()
	m, err := NewMLP(anyvec64.DefaultCreator{}, "Regressor", MLPConfig{Sizes: []int{2, 1}})
	if err != nil {
		t.Fatalf("NewMLP: %v", err)
	}
	return NewClassifier(m, opt, anynet.MSE{})
}

func snapshot(params []*anydiff.Var) [][]float64 {
	var out [][]float64
	for _, p := range params {
		out = append(out, append([]float64(nil), p.Vector.Data().([]float64)...))
	}
	return out
}

func sameValues(a, b [][]float64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if len(a[i]) != len(b[i]) {
			return false
		}
		for j := range a[i] {
			if a[i][j] != b[i][j] {
				return false
			}
		}
	}
	return true
}

func TestClassifierTrainingReducesLoss(t *testing.T) {
	c := newRegressor(t, optim.NewSGD(0.1))
	batch := regressionBatch()
	if _, err := c.ForwardBatch(learner.Training, batch); err != nil {
		t.Fatalf("ForwardBatch: %v", err)
	}
	first := c.Logs().Batch[learner.LossKey]
	for i := 0; i < 300; i++ {
		if _, err := c.ForwardBatch(learner.Training, batch); err != nil {
			t.Fatalf("ForwardBatch: %v", err)
		}
	}
	last := c.Logs().Batch[learner.LossKey]
	if !(last < first) {
		t.Fatalf("expected loss to drop, first=%f last=%f", first, last)
	}
	if _, ok := c.Logs().Epoch[learner.TrainLossKey]; !ok {
		t.Fatalf("missing %q in epoch logs", learner.TrainLossKey)
	}
}

func TestClassifierValidationDoesNotStep(t *testing.T) {
	var steps []string
	opt := &recordingOptim{name: "model", steps: &steps, inner: optim.NewSGD(0.1)}
	c := newRegressor(t, opt)
	before := snapshot(c.Model.Parameters())
	c.EvalMode()
	if _, err := c.ForwardBatch(learner.Validation, regressionBatch()); err != nil {
		t.Fatalf("ForwardBatch: %v", err)
	}
	if len(steps) != 0 {
		t.Fatalf("validation stepped the optimizer %d times", len(steps))
	}
	if !sameValues(before, snapshot(c.Model.Parameters())) {
		t.Fatal("validation changed parameters")
	}
	if _, ok := c.Logs().Epoch[learner.ValidLossKey]; !ok {
		t.Fatalf("missing %q in epoch logs", learner.ValidLossKey)
	}
}

func TestClassifierPredictionWithoutTargets(t *testing.T) {
	c := newRegressor(t, optim.NewSGD(0.1))
	out, err := c.ForwardBatch(learner.Prediction, learner.Batch{Inputs: [][]float64{{1, 2}, {3, 4}, {5, 6}}})
	if err != nil {
		t.Fatalf("ForwardBatch: %v", err)
	}
	if len(out) != 3 || len(out[0]) != 1 {
		t.Fatalf("unexpected output shape %v", out)
	}
}

func TestClassifierRejectsRaggedBatch(t *testing.T) {
	c := newRegressor(t, optim.NewSGD(0.1))
	_, err := c.ForwardBatch(learner.Training, learner.Batch{
		Inputs:  [][]float64{{1, 2}, {3}},
		Targets: [][]float64{{1}, {1}},
	})
	if err == nil {
		t.Fatal("expected ragged batch error")
	}
	_, err = c.ForwardBatch(learner.Training, learner.Batch{
		Inputs:  [][]float64{{1, 2}, {3, 4}},
		Targets: [][]float64{{1}},
	})
	if err == nil {
		t.Fatal("expected target count error")
	}
}

func TestClassifierRejectsCUDA(t *testing.T) {
	c := newRegressor(t, optim.NewSGD(0.1))
	err := c.ToDevice(device.Device{Kind: device.CUDA})
	if !errors.Is(err, ErrUnsupportedDevice) {
		t.Fatalf("expected ErrUnsupportedDevice, got %v", err)
	}
	if err := c.ToDevice(device.Detect()); err != nil {
		t.Fatalf("cpu device rejected: %v", err)
	}
}

func newGAN(t *testing.T, steps *[]string) *GAN {
	t.Helper()
	cr := anyvec64.DefaultCreator{}
	gen, err := NewMLP(cr, "Generator", MLPConfig{Sizes: []int{2, 4, 2}, Hidden: anynet.Tanh})
	if err != nil {
		t.Fatalf("NewMLP: %v", err)
	}
	disc, err := NewMLP(cr, "Discriminator", MLPConfig{Sizes: []int{2, 4, 1}, Hidden: anynet.Tanh, Output: anynet.Sigmoid})
	if err != nil {
		t.Fatalf("NewMLP: %v", err)
	}
	return NewGAN(gen, disc,
		&recordingOptim{name: "G", steps: steps, inner: optim.NewAdam(1e-3)},
		&recordingOptim{name: "D", steps: steps, inner: optim.NewAdam(1e-3)},
		NewGeneratorLoss(nil))
}

func ganBatch() learner.Batch {
	return learner.Batch{
		Inputs:  [][]float64{{0.1, 0.2}, {0.3, 0.4}},
		Targets: [][]float64{{0.2, 0.4}, {0.6, 0.8}},
	}
}

func TestGANStepsDiscriminatorThenGenerator(t *testing.T) {
	var steps []string
	g := newGAN(t, &steps)
	g.TrainMode()
	for i := 0; i < 2; i++ {
		if _, err := g.ForwardBatch(learner.Training, ganBatch()); err != nil {
			t.Fatalf("ForwardBatch: %v", err)
		}
	}
	want := []string{"D", "G", "D", "G"}
	if len(steps) != len(want) {
		t.Fatalf("expected steps %v, got %v", want, steps)
	}
	for i := range want {
		if steps[i] != want[i] {
			t.Fatalf("expected steps %v, got %v", want, steps)
		}
	}
	logs := g.Logs()
	for _, key := range []string{DLossKey, GLossKey, DRealKey, DFakeKey} {
		if _, ok := logs.Batch[key]; !ok {
			t.Fatalf("missing batch log %q", key)
		}
	}
	if _, ok := logs.Epoch[learner.TrainLossKey]; !ok {
		t.Fatalf("missing %q", learner.TrainLossKey)
	}
}

func TestGANValidationDoesNotStep(t *testing.T) {
	var steps []string
	g := newGAN(t, &steps)
	genBefore := snapshot(g.Generator.Parameters())
	discBefore := snapshot(g.Discriminator.Parameters())
	g.EvalMode()
	if _, err := g.ForwardBatch(learner.Validation, ganBatch()); err != nil {
		t.Fatalf("ForwardBatch: %v", err)
	}
	if len(steps) != 0 {
		t.Fatalf("validation stepped optimizers: %v", steps)
	}
	if !sameValues(genBefore, snapshot(g.Generator.Parameters())) ||
		!sameValues(discBefore, snapshot(g.Discriminator.Parameters())) {
		t.Fatal("validation changed parameters")
	}
	if _, ok := g.Logs().Epoch[learner.ValidLossKey]; !ok {
		t.Fatalf("missing %q", learner.ValidLossKey)
	}
}

func TestGANModelsOrder(t *testing.T) {
	var steps []string
	models := newGAN(t, &steps).Models()
	if len(models) != 2 || models[0].Name() != "Generator" || models[1].Name() != "Discriminator" {
		t.Fatalf("unexpected models %v", models)
	}
}

func TestGeneratorLossPerfectReconstruction(t *testing.T) {
	cr := anyvec64.DefaultCreator{}
	target := anydiff.NewConst(cr.MakeVectorData(cr.MakeNumericList([]float64{0.5, 0.25, 1, 0})))
	fake := anydiff.NewConst(cr.MakeVectorData(cr.MakeNumericList([]float64{1})))
	features := anynet.Net{anynet.NewFC(cr, 2, 3)}
	loss := NewGeneratorLoss(features)
	got := scalar(loss.Cost(fake, target, target, 2))
	if math.Abs(got) > 1e-12 {
		t.Fatalf("expected zero loss, got %g", got)
	}

	fake = anydiff.NewConst(cr.MakeVectorData(cr.MakeNumericList([]float64{0})))
	got = scalar(loss.Cost(fake, target, target, 2))
	if math.Abs(got-DefaultAdversarialWeight) > 1e-12 {
		t.Fatalf("expected adversarial weight, got %g", got)
	}
}

func TestModelUnmarshalKeepsVariables(t *testing.T) {
	cr := anyvec64.DefaultCreator{}
	cfg := MLPConfig{Sizes: []int{3, 4, 2}, Hidden: anynet.ReLU, KeepProb: 0.5}
	src, err := NewMLP(cr, "Net", cfg)
	if err != nil {
		t.Fatalf("NewMLP: %v", err)
	}
	dst, err := NewMLP(cr, "Net", cfg)
	if err != nil {
		t.Fatalf("NewMLP: %v", err)
	}
	vars := dst.Parameters()
	data, err := src.MarshalBinary()
	if err != nil {
		t.Fatalf("MarshalBinary: %v", err)
	}
	if err := dst.UnmarshalBinary(data); err != nil {
		t.Fatalf("UnmarshalBinary: %v", err)
	}
	for i, p := range dst.Parameters() {
		if p != vars[i] {
			t.Fatalf("parameter %d was replaced", i)
		}
	}
	if !sameValues(snapshot(src.Parameters()), snapshot(dst.Parameters())) {
		t.Fatal("restored parameters differ")
	}

	other, err := NewMLP(cr, "Net", MLPConfig{Sizes: []int{3, 2}})
	if err != nil {
		t.Fatalf("NewMLP: %v", err)
	}
	if err := other.UnmarshalBinary(data); err == nil {
		t.Fatal("expected shape mismatch error")
	}
}

func TestNewMLPValidatesSizes(t *testing.T) {
	cr := anyvec64.DefaultCreator{}
	if _, err := NewMLP(cr, "x", MLPConfig{Sizes: []int{3}}); err == nil {
		t.Fatal("expected error for a single size")
	}
	if _, err := NewMLP(cr, "x", MLPConfig{Sizes: []int{3, 0}}); err == nil {
		t.Fatal("expected error for a zero size")
	}
}

func TestGeneratorLossPerceptionTerm(t *testing.T) {
	cr := anyvec64.DefaultCreator{}
	generated := anydiff.NewConst(cr.MakeVectorData(cr.MakeNumericList([]float64{1, 0, 0, 1})))
	target := anydiff.NewConst(cr.MakeVectorData(cr.MakeNumericList([]float64{0, 0, 0, 0})))
	fake := anydiff.NewConst(cr.MakeVectorData(cr.MakeNumericList([]float64{1})))

	// F sums each row, so F(generated) = [1, 1] and F(target) = [0, 0].
	fc := anynet.NewFCZero(cr, 2, 1)
	fc.Weights.Vector.SetData(cr.MakeNumericList([]float64{1, 1}))

	got := scalar(NewGeneratorLoss(anynet.Net{fc}).Cost(fake, generated, target, 2))
	want := 0.5 + DefaultPerceptionWeight*1
	if math.Abs(got-want) > 1e-12 {
		t.Fatalf("expected %g, got %g", want, got)
	}
	withoutFeatures := scalar(NewGeneratorLoss(nil).Cost(fake, generated, target, 2))
	if math.Abs(withoutFeatures-0.5) > 1e-12 {
		t.Fatalf("expected pixel loss 0.5, got %g", withoutFeatures)
	}
}

func TestModelFeaturesShareDiscriminatorLayers(t *testing.T) {
	cr := anyvec64.DefaultCreator{}
	disc, err := NewMLP(cr, "Discriminator", MLPConfig{Sizes: []int{2, 4, 1}, Hidden: anynet.Tanh, Output: anynet.Sigmoid})
	if err != nil {
		t.Fatalf("NewMLP: %v", err)
	}
	features := disc.Features()
	if len(features) != 2 || features[0] != disc.Net[0] {
		t.Fatalf("unexpected feature layers %v", features)
	}
	in := anydiff.NewConst(cr.MakeVectorData(cr.MakeNumericList([]float64{0.1, 0.2, 0.3, 0.4})))
	if n := features.Apply(in, 2).Output().Len(); n != 8 {
		t.Fatalf("expected 2x4 features, got %d values", n)
	}

	single, err := NewMLP(cr, "Linear", MLPConfig{Sizes: []int{2, 1}})
	if err != nil {
		t.Fatalf("NewMLP: %v", err)
	}
	if single.Features() != nil {
		t.Fatal("single layer network should have no features")
	}
}

func TestGANGeneratorStepLeavesFeaturesAlone(t *testing.T) {
	var steps []string
	g := newGAN(t, &steps)
	g.Loss = NewGeneratorLoss(g.Discriminator.Features())
	g.DOptim = &recordingOptim{name: "D", steps: &steps, inner: optim.NewSGD(0)}
	before := snapshot(g.Discriminator.Parameters())
	genBefore := snapshot(g.Generator.Parameters())
	g.TrainMode()
	if _, err := g.ForwardBatch(learner.Training, ganBatch()); err != nil {
		t.Fatalf("ForwardBatch: %v", err)
	}
	if !sameValues(before, snapshot(g.Discriminator.Parameters())) {
		t.Fatal("generator step changed discriminator features")
	}
	if sameValues(genBefore, snapshot(g.Generator.Parameters())) {
		t.Fatal("generator did not train")
	}
}
