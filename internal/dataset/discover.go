package dataset

import (
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/pkg/errors"
)

// ErrNoShards is returned for a root that holds no shard files.
var ErrNoShards = errors.New("dataset: no shards found")

// shardName matches WebDataset shard files such as shard-000042.tar or
// train-000001.tar.
var shardName = regexp.MustCompile(`^[A-Za-z0-9_]+-[0-9]{6,}\.tar$`)

// IsShard reports whether name is a shard file name.
func IsShard(name string) bool {
	return shardName.MatchString(name)
}

// DiscoverShards lists the shard files under root in lexical order. Hidden
// directories are not descended into. A root that is itself a shard file
// yields just that file.
func DiscoverShards(root string) ([]string, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, errors.Wrapf(err, "dataset: stat root %s", root)
	}
	if !info.IsDir() {
		if !IsShard(info.Name()) {
			return nil, errors.Errorf("dataset: %s is not a shard file", root)
		}
		return []string{root}, nil
	}

	var shards []string
	walk := func(path string, d fs.DirEntry, err error) error {
		switch {
		case err != nil:
			return err
		case d.IsDir() && path != root && strings.HasPrefix(d.Name(), "."):
			return fs.SkipDir
		case d.Type().IsRegular() && IsShard(d.Name()):
			shards = append(shards, path)
		}
		return nil
	}
	if err := filepath.WalkDir(root, walk); err != nil {
		return nil, errors.Wrapf(err, "dataset: walk %s", root)
	}
	sort.Strings(shards)
	return shards, nil
}

// DiscoverByRoot maps each cleaned root to its shards. Repeated roots
// collapse into one entry, and a root without shards fails with
// ErrNoShards so that a typo does not silently drop a data source.
func DiscoverByRoot(roots []string) (map[string][]string, error) {
	if len(roots) == 0 {
		return nil, errors.Wrap(ErrNoShards, "no roots given")
	}
	byRoot := make(map[string][]string, len(roots))
	for _, r := range roots {
		root := filepath.Clean(r)
		if _, seen := byRoot[root]; seen {
			continue
		}
		shards, err := DiscoverShards(root)
		if err != nil {
			return nil, err
		}
		if len(shards) == 0 {
			return nil, errors.Wrap(ErrNoShards, root)
		}
		byRoot[root] = shards
	}
	return byRoot, nil
}
