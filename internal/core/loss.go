package core

import (
	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anynet"
)

// Default weights of the generator loss terms.
const (
	DefaultAdversarialWeight = 0.001
	DefaultPerceptionWeight  = 0.006
)

// GeneratorLoss combines reconstruction, adversarial and perceptual
// terms:
//
//	mse(gen, target) + a*(1 - fake) + p*mse(F(gen), F(target))
//
// where fake is the mean discriminator score of the generated batch and
// F is a feature network. Only the generator's variables receive the
// resulting gradient, so F is fixed as far as the generator step is
// concerned. The perceptual term is skipped when Features is nil.
type GeneratorLoss struct {
	AdversarialWeight float64
	PerceptionWeight  float64
	Features          anynet.Layer
}

// NewGeneratorLoss returns the loss with the default weights.
func NewGeneratorLoss(features anynet.Layer) GeneratorLoss {
	return GeneratorLoss{
		AdversarialWeight: DefaultAdversarialWeight,
		PerceptionWeight:  DefaultPerceptionWeight,
		Features:          features,
	}
}

// Cost returns the single-component generator loss.
func (g GeneratorLoss) Cost(fakeScore, generated, target anydiff.Res, n int) anydiff.Res {
	c := generated.Output().Creator()
	image := mean(anynet.MSE{}.Cost(target, generated, n))
	adversarial := anydiff.Scale(oneMinus(fakeScore), c.MakeNumeric(g.AdversarialWeight))
	total := anydiff.Add(image, adversarial)
	if g.Features != nil {
		perception := mean(anynet.MSE{}.Cost(g.Features.Apply(target, n), g.Features.Apply(generated, n), n))
		total = anydiff.Add(total, anydiff.Scale(perception, c.MakeNumeric(g.PerceptionWeight)))
	}
	return total
}
