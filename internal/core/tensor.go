package core

import (
	"github.com/pkg/errors"
	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anyvec"
)

// pack flattens equally wide rows into a constant.
func pack(c anyvec.Creator, rows [][]float64) (*anydiff.Const, error) {
	if len(rows) == 0 {
		return nil, errors.New("core: empty batch")
	}
	width := len(rows[0])
	flat := make([]float64, 0, width*len(rows))
	for i, r := range rows {
		if len(r) != width {
			return nil, errors.Errorf("core: row %d has %d columns, want %d", i, len(r), width)
		}
		flat = append(flat, r...)
	}
	return anydiff.NewConst(c.MakeVectorData(c.MakeNumericList(flat))), nil
}

// unpack splits a packed vector back into n rows.
func unpack(v anyvec.Vector, n int) [][]float64 {
	flat := floats(v)
	if n <= 0 || len(flat)%n != 0 {
		return nil
	}
	width := len(flat) / n
	rows := make([][]float64, n)
	for i := range rows {
		rows[i] = append([]float64(nil), flat[i*width:(i+1)*width]...)
	}
	return rows
}

func floats(v anyvec.Vector) []float64 {
	switch data := v.Data().(type) {
	case []float64:
		return data
	case []float32:
		out := make([]float64, len(data))
		for i, x := range data {
			out[i] = float64(x)
		}
		return out
	default:
		panic("core: unsupported numeric type")
	}
}

// scalar reads the first component of r.
func scalar(r anydiff.Res) float64 {
	return floats(r.Output())[0]
}

// mean averages every component of r into a single component.
func mean(r anydiff.Res) anydiff.Res {
	c := r.Output().Creator()
	return anydiff.Scale(anydiff.Sum(r), c.MakeNumeric(1/float64(r.Output().Len())))
}

// oneMinus computes 1 - r for a single-component r.
func oneMinus(r anydiff.Res) anydiff.Res {
	c := r.Output().Creator()
	one := anydiff.NewConst(c.MakeVectorData(c.MakeNumericList([]float64{1})))
	return anydiff.Add(one, anydiff.Scale(r, c.MakeNumeric(-1)))
}
