package trainer

import (
	"archive/tar"
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"trainforge/internal/checkpoint"
	"trainforge/internal/config"
	"trainforge/internal/dataset"
	"trainforge/internal/device"
)

func writeCSV(t *testing.T, dir string) string {
	t.Helper()
	var b strings.Builder
	b.WriteString("x,color,y\n")
	colors := []string{"red", "green", "blue"}
	for i := 0; i < 20; i++ {
		x := strconv.Itoa(i)
		if i == 3 {
			x = ""
		}
		fmt.Fprintf(&b, "%s,%s,%d\n", x, colors[i%3], i%2)
	}
	path := filepath.Join(dir, "data.csv")
	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		t.Fatalf("write csv: %v", err)
	}
	return path
}

func runConfig(t *testing.T, cfg config.Config) RunConfig {
	t.Helper()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	return RunConfig{Config: cfg, Device: device.Detect()}
}

func mustExist(t *testing.T, paths ...string) {
	t.Helper()
	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			t.Fatalf("expected %s: %v", p, err)
		}
	}
}

func TestRunTabularAndRestore(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "out")
	cfg := runConfig(t, config.Config{
		Mode:         config.ModeTabular,
		CSV:          writeCSV(t, dir),
		TargetColumn: "y",
		Classes:      2,
		ValFraction:  0.25,
		Epochs:       2,
		BatchSize:    4,
		Hidden:       []int{8},
		OutputDir:    out,
		Plateau:      config.PlateauConfig{Enabled: true, Patience: 1},
	})
	if err := Run(context.Background(), cfg); err != nil {
		t.Fatalf("Run: %v", err)
	}
	mustExist(t, filepath.Join(out, "Tabular.pth"), filepath.Join(out, "Tabular_epoch-2.pth"))

	cfg.Restore = out
	cfg.OutputDir = filepath.Join(dir, "second")
	cfg.Epochs = 1
	if err := Run(context.Background(), cfg); err != nil {
		t.Fatalf("Run with restore: %v", err)
	}

	cfg.Restore = t.TempDir()
	err := Run(context.Background(), cfg)
	if !errors.Is(err, checkpoint.ErrIncompleteRestore) {
		t.Fatalf("expected ErrIncompleteRestore, got %v", err)
	}
}

func TestRunTabularLinearRegression(t *testing.T) {
	dir := t.TempDir()
	cfg := runConfig(t, config.Config{
		Mode:         config.ModeTabular,
		CSV:          writeCSV(t, dir),
		TargetColumn: "y",
		Encoder:      "linear",
		Epochs:       1,
		BatchSize:    5,
		OutputDir:    filepath.Join(dir, "out"),
	})
	if err := Run(context.Background(), cfg); err != nil {
		t.Fatalf("Run: %v", err)
	}
}

func TestRunTabularMissingTarget(t *testing.T) {
	dir := t.TempDir()
	cfg := runConfig(t, config.Config{
		Mode:         config.ModeTabular,
		CSV:          writeCSV(t, dir),
		TargetColumn: "label",
		Epochs:       1,
		BatchSize:    5,
		OutputDir:    filepath.Join(dir, "out"),
	})
	if err := Run(context.Background(), cfg); err == nil {
		t.Fatal("expected missing target error")
	}
}

func TestRunTabularRejectsOutOfRangeLabels(t *testing.T) {
	dir := t.TempDir()
	cfg := runConfig(t, config.Config{
		Mode:         config.ModeTabular,
		CSV:          writeCSV(t, dir),
		TargetColumn: "y",
		Classes:      1,
		Epochs:       1,
		BatchSize:    5,
		OutputDir:    filepath.Join(dir, "out"),
	})
	err := Run(context.Background(), cfg)
	if err == nil || !strings.Contains(err.Error(), "label 1") {
		t.Fatalf("expected out of range label error, got %v", err)
	}
}

func TestOneHot(t *testing.T) {
	y, err := oneHot(mat.NewDense(3, 1, []float64{0, 2, 1}), 3)
	if err != nil {
		t.Fatalf("oneHot: %v", err)
	}
	want := mat.NewDense(3, 3, []float64{
		1, 0, 0,
		0, 0, 1,
		0, 1, 0,
	})
	if !mat.Equal(y, want) {
		t.Fatalf("unexpected one-hot rows %v", mat.Formatted(y))
	}
	for _, bad := range []float64{2, -1, 0.5} {
		if _, err := oneHot(mat.NewDense(1, 1, []float64{bad}), 2); err == nil {
			t.Fatalf("label %g should be rejected", bad)
		}
	}
}

func pngBytes(t *testing.T, level uint8) []byte {
	t.Helper()
	img := image.NewGray(image.Rect(0, 0, 8, 8))
	for y := 0; y < 8; y++ {
		for x := 0; x < 8; x++ {
			img.SetGray(x, y, color.Gray{Y: level + uint8(x*y)})
		}
	}
	buf := &bytes.Buffer{}
	if err := png.Encode(buf, img); err != nil {
		t.Fatalf("encode: %v", err)
	}
	return buf.Bytes()
}

// writeShards writes two shards of labeled PNGs under root.
func writeShards(t *testing.T, root string) map[string][]string {
	t.Helper()
	if err := os.MkdirAll(root, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	for s := 0; s < 2; s++ {
		buf := &bytes.Buffer{}
		tw := tar.NewWriter(buf)
		for i := 0; i < 3; i++ {
			key := fmt.Sprintf("%06d", s*3+i)
			add := func(name string, data []byte) {
				if err := tw.WriteHeader(&tar.Header{Name: name, Size: int64(len(data)), Mode: 0o644}); err != nil {
					t.Fatalf("write header: %v", err)
				}
				if _, err := tw.Write(data); err != nil {
					t.Fatalf("write data: %v", err)
				}
			}
			add(key+".png", pngBytes(t, uint8(60*i)))
			add(key+".cls", []byte(strconv.Itoa(i)))
		}
		if err := tw.Close(); err != nil {
			t.Fatalf("close tar: %v", err)
		}
		path := filepath.Join(root, fmt.Sprintf("shard-%06d.tar", s))
		if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
			t.Fatalf("write shard: %v", err)
		}
	}
	roots, err := dataset.DiscoverByRoot([]string{root})
	if err != nil {
		t.Fatalf("DiscoverByRoot: %v", err)
	}
	return roots
}

func TestRunClassifier(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "out")
	cfg := runConfig(t, config.Config{
		Mode:       config.ModeClassifier,
		TrainRoots: []string{filepath.Join(dir, "train")},
		Grid:       4,
		Classes:    3,
		Epochs:     2,
		BatchSize:  2,
		NumWorkers: 2,
		OutputDir:  out,
		SaveEvery:  5,
	})
	cfg.TrainShards = writeShards(t, filepath.Join(dir, "train"))
	cfg.ValShards = writeShards(t, filepath.Join(dir, "val"))
	if err := Run(context.Background(), cfg); err != nil {
		t.Fatalf("Run: %v", err)
	}
	mustExist(t, filepath.Join(out, "Classifier.pth"), filepath.Join(out, "Classifier_epoch-2.pth"))
	if _, err := os.Stat(filepath.Join(out, "Classifier_epoch-1.pth")); err == nil {
		t.Fatal("epoch 1 should not be saved with save_every 5")
	}
}

func TestRunSRGAN(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "out")
	cfg := runConfig(t, config.Config{
		Mode:       config.ModeSRGAN,
		TrainRoots: []string{filepath.Join(dir, "train")},
		Grid:       2,
		HighGrid:   4,
		Epochs:     1,
		GenEpochs:  1,
		BatchSize:  3,
		Hidden:     []int{4},
		OutputDir:  out,
		Plateau:    config.PlateauConfig{Enabled: true},
	})
	cfg.TrainShards = writeShards(t, filepath.Join(dir, "train"))
	if err := Run(context.Background(), cfg); err != nil {
		t.Fatalf("Run: %v", err)
	}
	mustExist(t,
		filepath.Join(out, "Generator.pth"),
		filepath.Join(out, "Discriminator.pth"),
		filepath.Join(out, "pretrain", "Generator.pth"),
	)
}

func TestRunRejectsDevice(t *testing.T) {
	dir := t.TempDir()
	cfg := runConfig(t, config.Config{
		Mode:         config.ModeTabular,
		CSV:          writeCSV(t, dir),
		TargetColumn: "y",
		Epochs:       1,
		BatchSize:    5,
		OutputDir:    filepath.Join(dir, "out"),
	})
	cfg.Device = device.Device{Kind: device.CUDA}
	if err := Run(context.Background(), cfg); err == nil {
		t.Fatal("expected unsupported device error")
	}
}

func TestSplitRows(t *testing.T) {
	train, val := splitRows(10, 0.3, 1)
	if len(train) != 7 || len(val) != 3 {
		t.Fatalf("unexpected split %d/%d", len(train), len(val))
	}
	seen := map[int]bool{}
	for _, i := range append(train, val...) {
		seen[i] = true
	}
	if len(seen) != 10 {
		t.Fatalf("rows lost in split: %v", seen)
	}
	train, val = splitRows(4, 0, 1)
	if len(train) != 4 || len(val) != 0 {
		t.Fatalf("unexpected split %d/%d", len(train), len(val))
	}
}
