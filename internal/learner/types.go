package learner

import (
	"context"
	"fmt"
	"sort"
	"strings"
)

// Step tells a core which phase a batch belongs to.
type Step string

const (
	Training   Step = "training"
	Validation Step = "validation"
	Prediction Step = "prediction"
)

// Reserved log keys shared by cores and callbacks.
const (
	LossKey      = "loss"
	TrainLossKey = "train loss"
	ValidLossKey = "valid loss"
)

// Batch is a mini-batch of rows. Targets is nil when predicting.
type Batch struct {
	Inputs  [][]float64
	Targets [][]float64
}

// Size returns the number of rows in the batch.
func (b Batch) Size() int {
	return len(b.Inputs)
}

// Logs maps metric names to scalar values.
type Logs map[string]float64

// Clone returns a copy of l; nil stays nil.
func (l Logs) Clone() Logs {
	if l == nil {
		return nil
	}
	out := make(Logs, len(l))
	for k, v := range l {
		out[k] = v
	}
	return out
}

// Merge copies other into l, overwriting duplicate keys.
func (l Logs) Merge(other Logs) {
	for k, v := range other {
		l[k] = v
	}
}

// Keys returns the keys in sorted order.
func (l Logs) Keys() []string {
	keys := make([]string, 0, len(l))
	for k := range l {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// String renders the logs as sorted key=value pairs. Spaces in keys are
// replaced with underscores.
func (l Logs) String() string {
	parts := make([]string, 0, len(l))
	for _, k := range l.Keys() {
		parts = append(parts, fmt.Sprintf("%s=%.5f", strings.ReplaceAll(k, " ", "_"), l[k]))
	}
	return strings.Join(parts, " ")
}

// DataSource produces the batches of one full pass every time Batches is
// called. Both channels are closed when the pass ends; a failed pass
// reports its error on the error channel. Implementations stop early
// when ctx is done.
type DataSource interface {
	// Len returns the number of batches in a pass, or -1 if unknown.
	Len() int
	Batches(ctx context.Context) (<-chan Batch, <-chan error)
}

// SliceSource is an in-memory DataSource.
type SliceSource []Batch

func (s SliceSource) Len() int {
	return len(s)
}

func (s SliceSource) Batches(ctx context.Context) (<-chan Batch, <-chan error) {
	out := make(chan Batch)
	errCh := make(chan error, 1)
	go func() {
		defer close(out)
		defer close(errCh)
		for _, b := range s {
			select {
			case <-ctx.Done():
				errCh <- ctx.Err()
				return
			case out <- b:
			}
		}
	}()
	return out, errCh
}
