package metrics

import "gonum.org/v1/gonum/floats"

// Accuracy counts rows whose highest output matches the highest target.
type Accuracy struct {
	correct int
	total   int
}

func (a *Accuracy) Name() string { return "accuracy" }

func (a *Accuracy) Reset() {
	a.correct = 0
	a.total = 0
}

func (a *Accuracy) Update(outputs, targets [][]float64) {
	for i := range outputs {
		if i >= len(targets) {
			break
		}
		if len(outputs[i]) == 0 || len(targets[i]) == 0 {
			continue
		}
		if floats.MaxIdx(outputs[i]) == floats.MaxIdx(targets[i]) {
			a.correct++
		}
		a.total++
	}
}

func (a *Accuracy) Value() float64 {
	if a.total == 0 {
		return 0
	}
	return float64(a.correct) / float64(a.total)
}

// MeanSquaredError averages the squared component error over all rows.
type MeanSquaredError struct {
	sum   float64
	count int
}

func (m *MeanSquaredError) Name() string { return "mse" }

func (m *MeanSquaredError) Reset() {
	m.sum = 0
	m.count = 0
}

// Update skips rows whose output and target widths differ.
func (m *MeanSquaredError) Update(outputs, targets [][]float64) {
	for i := range outputs {
		if i >= len(targets) || len(outputs[i]) != len(targets[i]) {
			continue
		}
		d := floats.Distance(outputs[i], targets[i], 2)
		m.sum += d * d
		m.count += len(outputs[i])
	}
}

func (m *MeanSquaredError) Value() float64 {
	if m.count == 0 {
		return 0
	}
	return m.sum / float64(m.count)
}
