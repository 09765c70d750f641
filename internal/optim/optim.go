// Package optim wraps anysgd gradient transformers into optimizers with
// an adjustable learning rate.
package optim

import (
	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anynet/anysgd"
)

// Optimizer applies gradients to the variables they refer to.
type Optimizer interface {
	Step(g anydiff.Grad)
	LearningRate() float64
	SetLearningRate(lr float64)
}

// Transformed performs one descent step per call: the gradient is passed
// through Transformer (if any), scaled by -LR and added to the variables.
type Transformed struct {
	Transformer anysgd.Transformer
	LR          float64
}

// NewSGD returns plain stochastic gradient descent.
func NewSGD(lr float64) *Transformed {
	return &Transformed{LR: lr}
}

// NewAdam returns Adam with the paper's default decay rates.
func NewAdam(lr float64) *Transformed {
	return &Transformed{Transformer: &anysgd.Adam{}, LR: lr}
}

// NewRMSProp returns RMSProp with default decay.
func NewRMSProp(lr float64) *Transformed {
	return &Transformed{Transformer: &anysgd.RMSProp{}, LR: lr}
}

// NewMomentum returns SGD with momentum.
func NewMomentum(lr, momentum float64) *Transformed {
	return &Transformed{Transformer: &anysgd.Momentum{Momentum: momentum}, LR: lr}
}

// Step updates every variable in g.
func (t *Transformed) Step(g anydiff.Grad) {
	if len(g) == 0 {
		return
	}
	if t.Transformer != nil {
		g = t.Transformer.Transform(g)
	}
	for _, v := range g {
		g.Scale(v.Creator().MakeNumeric(-t.LR))
		break
	}
	g.AddToVars()
}

func (t *Transformed) LearningRate() float64 {
	return t.LR
}

func (t *Transformed) SetLearningRate(lr float64) {
	t.LR = lr
}

// NewGrad returns a zeroed gradient covering params.
func NewGrad(params []*anydiff.Var) anydiff.Grad {
	g := anydiff.Grad{}
	for _, p := range params {
		g[p] = p.Vector.Creator().MakeVector(p.Vector.Len())
	}
	return g
}

// Backward back-propagates a single-component cost into params.
// Variables outside params are left untouched.
func Backward(cost anydiff.Res, params []*anydiff.Var) anydiff.Grad {
	g := NewGrad(params)
	c := cost.Output().Creator()
	cost.Propagate(c.MakeVectorData(c.MakeNumericList([]float64{1})), g)
	return g
}
