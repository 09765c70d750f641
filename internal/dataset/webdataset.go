// Package dataset streams training samples from WebDataset-style TAR
// shards and in-memory matrices, and batches them for the learner.
package dataset

import (
	"archive/tar"
	"bufio"
	"context"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Sample represents a paired record from a WebDataset shard. Label is -1
// for unlabeled shards.
type Sample struct {
	Key   string
	Image []byte
	Label int
}

// ErrPendingOverflow indicates the pairing map exceeded the configured bound.
var ErrPendingOverflow = errors.New("webdataset: pending pair buffer exceeded")

const defaultPendingCap = 1024

// ShardOptions controls how shard entries are paired.
type ShardOptions struct {
	PendingCap int
	// Unlabeled emits images as soon as they are read, without a .cls
	// entry.
	Unlabeled bool
}

func (o ShardOptions) pendingCap() int {
	if o.PendingCap <= 0 {
		return defaultPendingCap
	}
	return o.PendingCap
}

func entryKind(name string) (key, kind string) {
	base := filepath.Base(name)
	ext := strings.ToLower(filepath.Ext(base))
	key = strings.TrimSuffix(base, filepath.Ext(base))
	switch ext {
	case ".jpg", ".jpeg", ".png":
		return key, "image"
	case ".cls":
		return key, "label"
	}
	return key, ""
}

// StreamShard streams paired samples from the shard at path.
func StreamShard(ctx context.Context, path string, opts ShardOptions) (<-chan Sample, <-chan error) {
	pendingCap := opts.pendingCap()
	out := make(chan Sample)
	errCh := make(chan error, 1)

	go func() {
		defer close(out)
		defer close(errCh)

		f, err := os.Open(path)
		if err != nil {
			errCh <- errors.Wrap(err, "open shard")
			return
		}
		defer f.Close()

		tr := tar.NewReader(bufio.NewReader(f))
		pending := make(map[string]*partial)

		for {
			select {
			case <-ctx.Done():
				errCh <- ctx.Err()
				return
			default:
			}

			hdr, err := tr.Next()
			if err == io.EOF {
				break
			}
			if err != nil {
				errCh <- errors.Wrapf(err, "read tar %s", path)
				return
			}
			if hdr.FileInfo().IsDir() {
				continue
			}
			key, kind := entryKind(hdr.Name)
			if kind == "" || (kind == "label" && opts.Unlabeled) {
				continue
			}
			payload, err := io.ReadAll(tr)
			if err != nil {
				errCh <- errors.Wrapf(err, "read %s", hdr.Name)
				return
			}
			part := pending[key]
			if part == nil {
				part = &partial{}
				pending[key] = part
			}
			if kind == "image" {
				part.image = payload
			} else {
				label, err := strconv.Atoi(strings.TrimSpace(string(payload)))
				if err != nil {
					errCh <- errors.Wrapf(err, "parse label %s", hdr.Name)
					return
				}
				part.label = &label
			}

			if len(pending) > pendingCap {
				errCh <- ErrPendingOverflow
				return
			}
			if !part.ready(opts.Unlabeled) {
				continue
			}
			sample := Sample{Key: key, Image: part.image, Label: -1}
			if part.label != nil {
				sample.Label = *part.label
			}
			delete(pending, key)

			select {
			case <-ctx.Done():
				errCh <- ctx.Err()
				return
			case out <- sample:
			}
		}

		if len(pending) > 0 {
			errCh <- errors.Errorf("webdataset: %d samples incomplete in %s", len(pending), path)
		}
	}()

	return out, errCh
}

// CountSamples returns how many samples StreamShard would emit for the
// shard at path. Only headers are read.
func CountSamples(path string, opts ShardOptions) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, errors.Wrap(err, "open shard")
	}
	defer f.Close()

	tr := tar.NewReader(bufio.NewReader(f))
	seen := make(map[string]uint8)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return 0, errors.Wrapf(err, "read tar %s", path)
		}
		if hdr.FileInfo().IsDir() {
			continue
		}
		key, kind := entryKind(hdr.Name)
		switch kind {
		case "image":
			seen[key] |= 1
		case "label":
			seen[key] |= 2
		}
	}
	want := uint8(3)
	if opts.Unlabeled {
		want = 1
	}
	n := 0
	for _, bits := range seen {
		if bits&want == want {
			n++
		}
	}
	return n, nil
}

type partial struct {
	image []byte
	label *int
}

func (p *partial) ready(unlabeled bool) bool {
	return len(p.image) > 0 && (unlabeled || p.label != nil)
}
