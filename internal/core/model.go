// Package core implements the model families the learner can drive:
// a classifier/regressor and an adversarial generator/discriminator
// pair. All numerics are delegated to anynet and anydiff.
package core

import (
	"github.com/pkg/errors"
	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anynet"
	"github.com/unixpickle/anyvec"
	"github.com/unixpickle/serializer"
)

// ErrUnsupportedDevice is returned when a core is asked to move to a
// device it cannot run on.
var ErrUnsupportedDevice = errors.New("core: unsupported device")

// Model is a named network. The name doubles as its checkpoint stem.
type Model struct {
	name string
	Net  anynet.Net
}

// NewModel wraps net under name.
func NewModel(name string, net anynet.Net) *Model {
	return &Model{name: name, Net: net}
}

func (m *Model) Name() string {
	return m.name
}

// Parameters returns the learnable variables in a stable order.
func (m *Model) Parameters() []*anydiff.Var {
	return m.Net.Parameters()
}

// Apply runs the network on a packed batch of n rows.
func (m *Model) Apply(in anydiff.Res, n int) anydiff.Res {
	return m.Net.Apply(in, n)
}

// Features returns the layers before the last fully-connected layer,
// sharing their variables with m. It is nil for a network with a single
// fully-connected layer.
func (m *Model) Features() anynet.Net {
	last := -1
	for i, l := range m.Net {
		if _, ok := l.(*anynet.FC); ok {
			last = i
		}
	}
	if last <= 0 {
		return nil
	}
	return m.Net[:last]
}

// SetTraining toggles the stochastic layers of the network.
func (m *Model) SetTraining(on bool) {
	for _, l := range m.Net {
		if d, ok := l.(*anynet.Dropout); ok {
			d.Enabled = on
		}
	}
}

// MarshalBinary encodes the network with the serializer package.
func (m *Model) MarshalBinary() ([]byte, error) {
	data, err := serializer.SerializeAny(m.Net)
	if err != nil {
		return nil, errors.Wrapf(err, "serialize %s", m.name)
	}
	return data, nil
}

// UnmarshalBinary decodes a network and copies its parameter values into
// the live variables, so optimizers holding them keep working.
func (m *Model) UnmarshalBinary(data []byte) error {
	var net anynet.Net
	if err := serializer.DeserializeAny(data, &net); err != nil {
		return errors.Wrapf(err, "deserialize %s", m.name)
	}
	current := m.Net.Parameters()
	loaded := net.Parameters()
	if len(current) != len(loaded) {
		return errors.Errorf("deserialize %s: expected %d parameters, got %d",
			m.name, len(current), len(loaded))
	}
	for i, p := range current {
		if p.Vector.Len() != loaded[i].Vector.Len() {
			return errors.Errorf("deserialize %s: parameter %d has length %d, want %d",
				m.name, i, loaded[i].Vector.Len(), p.Vector.Len())
		}
	}
	for i, p := range current {
		c := p.Vector.Creator()
		p.Vector.SetData(c.MakeNumericList(floats(loaded[i].Vector)))
	}
	return nil
}

// MLPConfig describes a fully-connected network.
type MLPConfig struct {
	// Sizes lists the layer widths, input first.
	Sizes  []int
	Hidden anynet.Activation

	// Output, if non-nil, follows the last fully-connected layer.
	Output anynet.Layer

	// KeepProb enables dropout after each hidden activation when in (0, 1).
	KeepProb float64
}

// NewMLP builds a randomly initialised fully-connected model.
func NewMLP(c anyvec.Creator, name string, cfg MLPConfig) (*Model, error) {
	if len(cfg.Sizes) < 2 {
		return nil, errors.Errorf("core: %s needs at least an input and output size", name)
	}
	var net anynet.Net
	for i := 0; i+1 < len(cfg.Sizes); i++ {
		in, out := cfg.Sizes[i], cfg.Sizes[i+1]
		if in <= 0 || out <= 0 {
			return nil, errors.Errorf("core: %s has non-positive layer size", name)
		}
		net = append(net, anynet.NewFC(c, in, out))
		if i+2 < len(cfg.Sizes) {
			net = append(net, cfg.Hidden)
			if cfg.KeepProb > 0 && cfg.KeepProb < 1 {
				net = append(net, &anynet.Dropout{KeepProb: cfg.KeepProb})
			}
		}
	}
	if cfg.Output != nil {
		net = append(net, cfg.Output)
	}
	return NewModel(name, net), nil
}

// guard turns anynet shape panics into errors.
func guard(err *error) {
	if r := recover(); r != nil {
		*err = errors.Errorf("core: %v", r)
	}
}
