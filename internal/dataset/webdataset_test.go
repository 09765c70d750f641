package dataset

import (
	"archive/tar"
	"bytes"
	"context"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"testing"

	"github.com/pkg/errors"
)

func TestStreamShardPairsEntries(t *testing.T) {
	shard := writeShard(t, t.TempDir(), map[string]filePair{
		"000001": {imageExt: ".jpg", image: []byte("jpeg"), label: 3},
		"000002": {imageExt: ".png", image: []byte("png"), label: 7},
	})

	samples, err := drainShard(shard, ShardOptions{PendingCap: 4})
	if err != nil {
		t.Fatalf("StreamShard returned error: %v", err)
	}
	if len(samples) != 2 {
		t.Fatalf("expected 2 samples, got %d", len(samples))
	}
	sort.Slice(samples, func(i, j int) bool { return samples[i].Key < samples[j].Key })
	if samples[0].Label != 3 || samples[1].Label != 7 {
		t.Fatalf("unexpected labels %d %d", samples[0].Label, samples[1].Label)
	}
}

func TestStreamShardUnlabeled(t *testing.T) {
	dir := t.TempDir()
	buf := &bytes.Buffer{}
	tw := tar.NewWriter(buf)
	addTarEntry(tw, "a.png", []byte("a"))
	addTarEntry(tw, "b.png", []byte("b"))
	addTarEntry(tw, "b.cls", []byte("1"))
	tw.Close()
	shard := filepath.Join(dir, "shard-000000.tar")
	if err := os.WriteFile(shard, buf.Bytes(), 0o644); err != nil {
		t.Fatalf("write shard: %v", err)
	}

	samples, err := drainShard(shard, ShardOptions{Unlabeled: true})
	if err != nil {
		t.Fatalf("StreamShard returned error: %v", err)
	}
	if len(samples) != 2 {
		t.Fatalf("expected 2 samples, got %d", len(samples))
	}
	for _, s := range samples {
		if s.Label != -1 {
			t.Fatalf("unlabeled sample %s has label %d", s.Key, s.Label)
		}
	}

	n, err := CountSamples(shard, ShardOptions{})
	if err != nil {
		t.Fatalf("CountSamples: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 labeled sample, got %d", n)
	}
	if n, _ := CountSamples(shard, ShardOptions{Unlabeled: true}); n != 2 {
		t.Fatalf("expected 2 unlabeled samples, got %d", n)
	}
}

func TestStreamShardIncomplete(t *testing.T) {
	dir := t.TempDir()
	buf := &bytes.Buffer{}
	tw := tar.NewWriter(buf)
	addTarEntry(tw, "a.png", []byte("a"))
	tw.Close()
	shard := filepath.Join(dir, "shard-000000.tar")
	if err := os.WriteFile(shard, buf.Bytes(), 0o644); err != nil {
		t.Fatalf("write shard: %v", err)
	}
	if _, err := drainShard(shard, ShardOptions{}); err == nil {
		t.Fatal("expected incomplete sample error")
	}
}

func TestStreamShardPendingOverflow(t *testing.T) {
	dir := t.TempDir()
	buf := &bytes.Buffer{}
	tw := tar.NewWriter(buf)
	for i := 0; i < 3; i++ {
		addTarEntry(tw, strconv.Itoa(i)+".png", []byte("x"))
	}
	tw.Close()
	shard := filepath.Join(dir, "shard-000000.tar")
	if err := os.WriteFile(shard, buf.Bytes(), 0o644); err != nil {
		t.Fatalf("write shard: %v", err)
	}
	_, err := drainShard(shard, ShardOptions{PendingCap: 2})
	if !errors.Is(err, ErrPendingOverflow) {
		t.Fatalf("expected ErrPendingOverflow, got %v", err)
	}
}

func drainShard(path string, opts ShardOptions) ([]Sample, error) {
	samplesCh, errCh := StreamShard(context.Background(), path, opts)
	var samples []Sample
	for s := range samplesCh {
		samples = append(samples, s)
	}
	return samples, <-errCh
}

func writeShard(t *testing.T, dir string, data map[string]filePair) string {
	t.Helper()
	path := filepath.Join(dir, "shard-000000.tar")
	if err := os.WriteFile(path, buildShard(data).Bytes(), 0o644); err != nil {
		t.Fatalf("write shard: %v", err)
	}
	return path
}

func buildShard(data map[string]filePair) *bytes.Buffer {
	buf := &bytes.Buffer{}
	tw := tar.NewWriter(buf)
	keys := make([]string, 0, len(data))
	for key := range data {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		pair := data[key]
		addTarEntry(tw, key+pair.imageExt, pair.image)
		addTarEntry(tw, key+".cls", []byte(strconv.Itoa(pair.label)))
	}
	tw.Close()
	return buf
}

type filePair struct {
	imageExt string
	image    []byte
	label    int
}

func addTarEntry(tw *tar.Writer, name string, data []byte) {
	hdr := &tar.Header{Name: name, Size: int64(len(data)), Mode: 0o644}
	if err := tw.WriteHeader(hdr); err != nil {
		panic(err)
	}
	if _, err := tw.Write(data); err != nil {
		panic(err)
	}
}
