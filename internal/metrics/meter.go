package metrics

import "math"

const meterMomentum = 0.98

// AverageMeter tracks the running mean of a scalar along with an
// exponentially smoothed, bias-corrected value.
type AverageMeter struct {
	last     float64
	sum      float64
	count    int
	smoothed float64
}

// Update records a new value.
func (m *AverageMeter) Update(v float64) {
	m.last = v
	m.sum += v
	m.count++
	m.smoothed = m.smoothed*meterMomentum + v*(1-meterMomentum)
}

// Reset clears all recorded values.
func (m *AverageMeter) Reset() {
	*m = AverageMeter{}
}

// Last returns the most recent value.
func (m *AverageMeter) Last() float64 {
	return m.last
}

// Count returns the number of recorded values.
func (m *AverageMeter) Count() int {
	return m.count
}

// Avg returns the arithmetic mean, or 0 if nothing was recorded.
func (m *AverageMeter) Avg() float64 {
	if m.count == 0 {
		return 0
	}
	return m.sum / float64(m.count)
}

// DebiasLoss returns the smoothed value corrected for its zero start.
func (m *AverageMeter) DebiasLoss() float64 {
	if m.count == 0 {
		return 0
	}
	return m.smoothed / (1 - math.Pow(meterMomentum, float64(m.count)))
}
