package tabular

import (
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// StandardScaler centers each column on its mean and divides by its
// population standard deviation. Constant columns are only centered.
type StandardScaler struct {
	Mean []float64
	Std  []float64
}

// Fit records the per-column statistics of x.
func (s *StandardScaler) Fit(x mat.Matrix) {
	_, cols := x.Dims()
	s.Mean = make([]float64, cols)
	s.Std = make([]float64, cols)
	for j := 0; j < cols; j++ {
		col := mat.Col(nil, j, x)
		s.Mean[j], s.Std[j] = stat.PopMeanStdDev(col, nil)
		if s.Std[j] == 0 {
			s.Std[j] = 1
		}
	}
}

// Transform returns a scaled copy of x.
func (s *StandardScaler) Transform(x mat.Matrix) (*mat.Dense, error) {
	rows, cols := x.Dims()
	if s.Mean == nil {
		return nil, ErrNotFitted
	}
	if cols != len(s.Mean) {
		return nil, errors.Errorf("tabular: scaler fitted on %d columns, got %d", len(s.Mean), cols)
	}
	out := mat.NewDense(rows, cols, nil)
	out.Apply(func(i, j int, v float64) float64 {
		return (v - s.Mean[j]) / s.Std[j]
	}, x)
	return out, nil
}
