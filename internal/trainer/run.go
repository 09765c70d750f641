// Package trainer assembles data sources, cores and callbacks for each
// training mode and runs them through the learner.
package trainer

import (
	"context"
	"log"
	"math"
	"math/rand"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/unixpickle/anynet"
	"github.com/unixpickle/anyvec/anyvec64"
	"gonum.org/v1/gonum/mat"

	"trainforge/internal/callback"
	"trainforge/internal/checkpoint"
	"trainforge/internal/config"
	"trainforge/internal/core"
	"trainforge/internal/dataset"
	"trainforge/internal/device"
	"trainforge/internal/learner"
	"trainforge/internal/metrics"
	"trainforge/internal/optim"
	"trainforge/internal/tabular"
)

// RunConfig captures the knobs required by a training run: the validated
// file config plus the discovered shards and the resolved device.
type RunConfig struct {
	config.Config

	TrainShards map[string][]string
	ValShards   map[string][]string
	Device      device.Device
}

// Run executes the training workload selected by cfg.Mode.
func Run(ctx context.Context, cfg RunConfig) error {
	switch cfg.Mode {
	case config.ModeClassifier:
		return runClassifier(ctx, cfg)
	case config.ModeSRGAN:
		return runSRGAN(ctx, cfg)
	case config.ModeTabular:
		return runTabular(ctx, cfg)
	}
	return errors.Errorf("trainer: unknown mode %q", cfg.Mode)
}

func shardSources(cfg RunConfig, f dataset.Featurizer, shard dataset.ShardOptions) (train, val learner.DataSource, err error) {
	if len(cfg.TrainShards) == 0 {
		return nil, nil, errors.New("trainer: no training shards")
	}
	opts := dataset.ShardSourceOptions{
		BatchSize:  cfg.BatchSize,
		NumWorkers: cfg.NumWorkers,
		Seed:       cfg.Seed,
		Shard:      shard,
	}
	ts, err := dataset.NewShardSource(cfg.TrainShards, f, opts)
	if err != nil {
		return nil, nil, errors.Wrap(err, "trainer: training shards")
	}
	log.Printf("train samples=%d batches=%d", ts.Samples(), ts.Len())
	if len(cfg.ValShards) == 0 {
		return ts, nil, nil
	}
	vs, err := dataset.NewShardSource(cfg.ValShards, f, opts)
	if err != nil {
		return nil, nil, errors.Wrap(err, "trainer: validation shards")
	}
	log.Printf("val samples=%d batches=%d", vs.Samples(), vs.Len())
	return ts, vs, nil
}

func sizes(in int, hidden []int, out int) []int {
	s := append([]int{in}, hidden...)
	return append(s, out)
}

// callbacks returns the stock callbacks: progress, periodic checkpoints
// under dir and, when enabled, a plateau schedule on opt.
func callbacks(cfg RunConfig, dir string, opt optim.Optimizer, hasVal bool) []learner.Callback {
	cbs := []learner.Callback{
		callback.NewProgress(cfg.LogEvery),
		&callback.ModelSaver{Dir: dir, EveryN: cfg.SaveEvery},
	}
	if cfg.Plateau.Enabled {
		step := "valid"
		if !hasVal {
			step = "train"
		}
		cbs = append(cbs, plateau(cfg, opt, step))
	}
	return cbs
}

func plateau(cfg RunConfig, opt optim.Optimizer, lossStep string) *callback.ReduceLROnPlateau {
	p := callback.NewReduceLROnPlateau(opt)
	p.Factor = cfg.Plateau.Factor
	p.Patience = cfg.Plateau.Patience
	p.MinLR = cfg.Plateau.MinLR
	p.LossStep = lossStep
	return p
}

func restore(cfg RunConfig, models []checkpoint.Model) error {
	if cfg.Restore == "" {
		return nil
	}
	if err := checkpoint.Restore(cfg.Restore, models); err != nil {
		return err
	}
	log.Printf("restored %d models from %s", len(models), cfg.Restore)
	return nil
}

func runClassifier(ctx context.Context, cfg RunConfig) error {
	f := dataset.ClassFeatures{Grid: cfg.Grid, Classes: cfg.Classes}
	train, val, err := shardSources(cfg, f, dataset.ShardOptions{})
	if err != nil {
		return err
	}
	model, err := core.NewMLP(anyvec64.DefaultCreator{}, "Classifier", core.MLPConfig{
		Sizes:  sizes(f.InputSize(), cfg.Hidden, f.TargetSize()),
		Hidden: anynet.ReLU,
		Output: anynet.LogSoftmax,
	})
	if err != nil {
		return err
	}
	opt := optim.NewAdam(cfg.LearningRate)
	c := core.NewClassifier(model, opt, anynet.DotCost{})
	if err := restore(cfg, c.Models()); err != nil {
		return err
	}
	l := learner.New(c, learner.WithDevice(cfg.Device), learner.WithMetrics(&metrics.Accuracy{}))
	return l.Train(ctx, cfg.Epochs, train, val, callbacks(cfg, cfg.OutputDir, opt, val != nil)...)
}

// runSRGAN pretrains the generator on pixel MSE for GenEpochs and then
// trains it adversarially.
func runSRGAN(ctx context.Context, cfg RunConfig) error {
	f := dataset.SuperResolution{LowGrid: cfg.Grid, HighGrid: cfg.HighGrid}
	train, val, err := shardSources(cfg, f, dataset.ShardOptions{Unlabeled: true})
	if err != nil {
		return err
	}
	creator := anyvec64.DefaultCreator{}
	gen, err := core.NewMLP(creator, "Generator", core.MLPConfig{
		Sizes:  sizes(f.InputSize(), cfg.Hidden, f.TargetSize()),
		Hidden: anynet.ReLU,
		Output: anynet.Sigmoid,
	})
	if err != nil {
		return err
	}
	disc, err := core.NewMLP(creator, "Discriminator", core.MLPConfig{
		Sizes:  sizes(f.TargetSize(), cfg.Hidden, 1),
		Hidden: anynet.ReLU,
		Output: anynet.Sigmoid,
	})
	if err != nil {
		return err
	}
	gOpt := optim.NewAdam(cfg.LearningRate)
	dOpt := optim.NewAdam(cfg.LearningRate)
	var features anynet.Layer
	if f := disc.Features(); f != nil {
		features = f
	} else {
		log.Printf("srgan: discriminator has no hidden layers, perceptual loss disabled")
	}
	gan := core.NewGAN(gen, disc, gOpt, dOpt, core.NewGeneratorLoss(features))
	if err := restore(cfg, gan.Models()); err != nil {
		return err
	}

	// Pretraining shares the generator optimizer with the adversarial
	// phase and schedules it on the training loss.
	if cfg.GenEpochs > 0 {
		log.Printf("pretraining generator epochs=%d", cfg.GenEpochs)
		pre := core.NewClassifier(gen, gOpt, anynet.MSE{})
		l := learner.New(pre, learner.WithDevice(cfg.Device), learner.WithMetrics(&metrics.MeanSquaredError{}))
		err := l.Train(ctx, cfg.GenEpochs, train, nil,
			callback.NewProgress(cfg.LogEvery),
			&callback.ModelSaver{Dir: filepath.Join(cfg.OutputDir, "pretrain"), EveryN: cfg.SaveEvery},
			plateau(cfg, gOpt, "train"))
		if err != nil {
			return errors.Wrap(err, "trainer: pretrain generator")
		}
	}

	l := learner.New(gan, learner.WithDevice(cfg.Device), learner.WithMetrics(&metrics.MeanSquaredError{}))
	return l.Train(ctx, cfg.Epochs, train, val, callbacks(cfg, cfg.OutputDir, gOpt, val != nil)...)
}

func runTabular(ctx context.Context, cfg RunConfig) error {
	file, err := os.Open(cfg.CSV)
	if err != nil {
		return errors.Wrap(err, "trainer: open csv")
	}
	frame, err := tabular.ReadCSV(file)
	file.Close()
	if err != nil {
		return err
	}
	targetCol, ok := frame.Column(cfg.TargetColumn)
	if !ok {
		return errors.Wrap(tabular.ErrMissingColumn, cfg.TargetColumn)
	}
	if !targetCol.IsNumeric() || targetCol.HasMissing() {
		return errors.Errorf("trainer: target column %s must be numeric without missing values", cfg.TargetColumn)
	}

	numeric, categorical := cfg.Numeric, cfg.Categorical
	if len(numeric) == 0 && len(categorical) == 0 {
		numeric, categorical = inferColumns(frame, cfg.TargetColumn)
	}
	var enc tabular.Encoder
	if cfg.Encoder == "linear" {
		enc = tabular.NewLinearEncoder(numeric, categorical, true, &tabular.StandardScaler{}, cfg.CategMethod)
	} else {
		enc = tabular.NewTreeEncoder(numeric, categorical, true, &tabular.StandardScaler{})
	}

	trainRows, valRows := splitRows(frame.Rows(), cfg.ValFraction, cfg.Seed)
	trainFrame := frame.Take(trainRows)
	if err := enc.Fit(trainFrame); err != nil {
		return errors.Wrap(err, "trainer: fit encoder")
	}

	classify := cfg.Classes > 0
	encode := func(f *tabular.Frame) (*mat.Dense, *mat.Dense, error) {
		encoded, err := enc.Transform(f)
		if err != nil {
			return nil, nil, err
		}
		x, err := encoded.Matrix(nil)
		if err != nil {
			return nil, nil, err
		}
		y, err := f.Matrix([]string{cfg.TargetColumn})
		if err != nil {
			return nil, nil, err
		}
		if classify {
			if y, err = oneHot(y, cfg.Classes); err != nil {
				return nil, nil, errors.Wrapf(err, "trainer: target column %s", cfg.TargetColumn)
			}
		}
		return x, y, nil
	}

	xTrain, yTrain, err := encode(trainFrame)
	if err != nil {
		return err
	}
	train, err := dataset.NewRowSource(xTrain, yTrain, cfg.BatchSize, true, cfg.Seed)
	if err != nil {
		return err
	}
	var val learner.DataSource
	if len(valRows) > 0 {
		xVal, yVal, err := encode(frame.Take(valRows))
		if err != nil {
			return err
		}
		vs, err := dataset.NewRowSource(xVal, yVal, cfg.BatchSize, false, cfg.Seed)
		if err != nil {
			return err
		}
		val = vs
	}
	_, inputs := xTrain.Dims()
	_, outputs := yTrain.Dims()
	log.Printf("tabular train_rows=%d val_rows=%d features=%d outputs=%d", len(trainRows), len(valRows), inputs, outputs)

	mlp := core.MLPConfig{Sizes: sizes(inputs, cfg.Hidden, outputs), Hidden: anynet.ReLU}
	var cost anynet.Cost = anynet.MSE{}
	var metric learner.Metric = &metrics.MeanSquaredError{}
	if classify {
		mlp.Output = anynet.LogSoftmax
		cost = anynet.DotCost{}
		metric = &metrics.Accuracy{}
	}
	model, err := core.NewMLP(anyvec64.DefaultCreator{}, "Tabular", mlp)
	if err != nil {
		return err
	}
	opt := optim.NewAdam(cfg.LearningRate)
	c := core.NewClassifier(model, opt, cost)
	if err := restore(cfg, c.Models()); err != nil {
		return err
	}
	l := learner.New(c, learner.WithDevice(cfg.Device), learner.WithMetrics(metric))
	return l.Train(ctx, cfg.Epochs, train, val, callbacks(cfg, cfg.OutputDir, opt, val != nil)...)
}

// inferColumns treats every numeric column except target as numeric and
// every label column as categorical.
func inferColumns(f *tabular.Frame, target string) (numeric, categorical []string) {
	for _, name := range f.Names() {
		if name == target {
			continue
		}
		c, _ := f.Column(name)
		if c.IsNumeric() {
			numeric = append(numeric, name)
		} else {
			categorical = append(categorical, name)
		}
	}
	return numeric, categorical
}

// splitRows shuffles row indices with seed and holds out fraction of
// them for validation.
func splitRows(n int, fraction float64, seed int64) (train, val []int) {
	perm := rand.New(rand.NewSource(seed)).Perm(n)
	held := int(float64(n) * fraction)
	if held >= n {
		held = n - 1
	}
	return perm[held:], perm[:held]
}

// oneHot expands integer class labels in [0, classes) into indicator
// rows.
func oneHot(y *mat.Dense, classes int) (*mat.Dense, error) {
	rows, _ := y.Dims()
	out := mat.NewDense(rows, classes, nil)
	for i := 0; i < rows; i++ {
		v := y.At(i, 0)
		if v != math.Trunc(v) || v < 0 || v >= float64(classes) {
			return nil, errors.Errorf("row %d: label %g is not a class in [0, %d)", i, v, classes)
		}
		out.Set(i, int(v), 1)
	}
	return out, nil
}
