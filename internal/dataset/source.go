package dataset

import (
	"context"
	"log"
	"sync"

	"github.com/pkg/errors"

	"trainforge/internal/learner"
)

// ShardSource is a learner.DataSource over WebDataset shards. Each call
// to Batches starts a new pass with a fresh shard order.
type ShardSource struct {
	roots      map[string][]string
	featurizer Featurizer
	batchSize  int
	numWorkers int
	seed       int64
	shard      ShardOptions
	samples    int

	mu   sync.Mutex
	pass int
	// batches is the count produced by the last complete pass.
	batches int
}

// ShardSourceOptions configures NewShardSource.
type ShardSourceOptions struct {
	BatchSize  int
	NumWorkers int
	Seed       int64
	Shard      ShardOptions
}

// NewShardSource counts the samples in every shard of roots so Len is
// known before the first pass.
func NewShardSource(roots map[string][]string, f Featurizer, opts ShardSourceOptions) (*ShardSource, error) {
	if f == nil {
		return nil, errors.New("dataset: featurizer is required")
	}
	if opts.BatchSize <= 0 {
		return nil, errors.Errorf("dataset: batch size must be > 0 (got %d)", opts.BatchSize)
	}
	s := &ShardSource{
		roots:      roots,
		featurizer: f,
		batchSize:  opts.BatchSize,
		numWorkers: opts.NumWorkers,
		seed:       opts.Seed,
		shard:      opts.Shard,
	}
	for _, shards := range roots {
		for _, path := range shards {
			n, err := CountSamples(path, opts.Shard)
			if err != nil {
				return nil, err
			}
			s.samples += n
		}
	}
	if s.samples == 0 {
		return nil, errors.New("dataset: shards contain no samples")
	}
	return s, nil
}

// Samples returns the number of samples in one pass.
func (s *ShardSource) Samples() int {
	return s.samples
}

// Len returns the number of batches in one pass; the last may be short.
// Until a pass completes it assumes every sample decodes; afterwards it
// reports what the last complete pass produced.
func (s *ShardSource) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.batches > 0 {
		return s.batches
	}
	return (s.samples + s.batchSize - 1) / s.batchSize
}

func (s *ShardSource) Batches(ctx context.Context) (<-chan learner.Batch, <-chan error) {
	out := make(chan learner.Batch)
	errCh := make(chan error, 1)

	s.mu.Lock()
	pass := s.pass
	s.pass++
	s.mu.Unlock()

	go func() {
		defer close(out)
		defer close(errCh)

		samples, sampleErrs, err := StartPass(ctx, PassOptions{
			Roots:      s.roots,
			Seed:       s.seed,
			Pass:       pass,
			NumWorkers: s.numWorkers,
			Shard:      s.shard,
		})
		if err != nil {
			errCh <- err
			return
		}

		skipped, emitted := 0, 0
		batch := learner.Batch{}
		emit := func() bool {
			if batch.Size() == 0 {
				return true
			}
			select {
			case <-ctx.Done():
				errCh <- ctx.Err()
				return false
			case out <- batch:
			}
			emitted++
			batch = learner.Batch{}
			return true
		}

		for sample := range samples {
			in, target, err := s.featurizer.Featurize(sample)
			if err != nil {
				skipped++
				continue
			}
			batch.Inputs = append(batch.Inputs, in)
			batch.Targets = append(batch.Targets, target)
			if batch.Size() == s.batchSize && !emit() {
				return
			}
		}
		if err := <-sampleErrs; err != nil {
			errCh <- err
			return
		}
		if !emit() {
			return
		}
		s.mu.Lock()
		s.batches = emitted
		s.mu.Unlock()
		if skipped > 0 {
			log.Printf("pass=%d skipped=%d undecodable samples", pass, skipped)
		}
	}()

	return out, errCh
}
