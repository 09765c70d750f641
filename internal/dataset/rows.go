package dataset

import (
	"context"
	"math/rand"
	"sync"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"trainforge/internal/learner"
)

// RowSource batches the rows of an input matrix and an optional target
// matrix. With Shuffle set, each pass visits rows in a permutation
// seeded by Seed plus the pass index.
type RowSource struct {
	X         *mat.Dense
	Y         *mat.Dense
	BatchSize int
	Shuffle   bool
	Seed      int64

	mu   sync.Mutex
	pass int
}

// NewRowSource checks that x and y agree on the number of rows. y may be
// nil for prediction.
func NewRowSource(x, y *mat.Dense, batchSize int, shuffle bool, seed int64) (*RowSource, error) {
	if x == nil {
		return nil, errors.New("dataset: input matrix is required")
	}
	if batchSize <= 0 {
		return nil, errors.Errorf("dataset: batch size must be > 0 (got %d)", batchSize)
	}
	if y != nil {
		xr, _ := x.Dims()
		yr, _ := y.Dims()
		if xr != yr {
			return nil, errors.Errorf("dataset: %d input rows but %d target rows", xr, yr)
		}
	}
	return &RowSource{X: x, Y: y, BatchSize: batchSize, Shuffle: shuffle, Seed: seed}, nil
}

func (r *RowSource) Len() int {
	rows, _ := r.X.Dims()
	return (rows + r.BatchSize - 1) / r.BatchSize
}

func (r *RowSource) Batches(ctx context.Context) (<-chan learner.Batch, <-chan error) {
	out := make(chan learner.Batch)
	errCh := make(chan error, 1)

	r.mu.Lock()
	pass := r.pass
	r.pass++
	r.mu.Unlock()

	rows, _ := r.X.Dims()
	order := make([]int, rows)
	for i := range order {
		order[i] = i
	}
	if r.Shuffle {
		rng := rand.New(rand.NewSource(r.Seed + int64(pass)))
		rng.Shuffle(rows, func(i, j int) { order[i], order[j] = order[j], order[i] })
	}

	go func() {
		defer close(out)
		defer close(errCh)
		for start := 0; start < rows; start += r.BatchSize {
			end := start + r.BatchSize
			if end > rows {
				end = rows
			}
			var b learner.Batch
			for _, i := range order[start:end] {
				b.Inputs = append(b.Inputs, mat.Row(nil, i, r.X))
				if r.Y != nil {
					b.Targets = append(b.Targets, mat.Row(nil, i, r.Y))
				}
			}
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
