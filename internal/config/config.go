package config

import (
	"os"
	"strings"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Training modes.
const (
	ModeClassifier = "classifier"
	ModeSRGAN      = "srgan"
	ModeTabular    = "tabular"
)

// Config captures the runtime knobs for a training run.
type Config struct {
	Mode string `yaml:"mode"`

	// Image modes read WebDataset shards from one or more roots.
	TrainRoots []string `yaml:"train_roots"`
	ValRoots   []string `yaml:"val_roots"`
	Grid       int      `yaml:"grid"`
	HighGrid   int      `yaml:"high_grid"`
	Classes    int      `yaml:"classes"`

	// Tabular mode reads a CSV file.
	CSV          string   `yaml:"csv"`
	TargetColumn string   `yaml:"target_column"`
	Numeric      []string `yaml:"numeric"`
	Categorical  []string `yaml:"categorical"`
	Encoder      string   `yaml:"encoder"`
	CategMethod  string   `yaml:"categ_method"`
	ValFraction  float64  `yaml:"val_fraction"`

	Epochs       int     `yaml:"epochs"`
	GenEpochs    int     `yaml:"gen_epochs"`
	BatchSize    int     `yaml:"batch_size"`
	NumWorkers   int     `yaml:"num_workers"`
	Hidden       []int   `yaml:"hidden"`
	LearningRate float64 `yaml:"learning_rate"`
	Seed         int64   `yaml:"seed"`
	LogEvery     int     `yaml:"log_every"`
	Device       string  `yaml:"device"`

	OutputDir string `yaml:"output_dir"`
	Restore   string `yaml:"restore"`
	SaveEvery int    `yaml:"save_every"`

	Plateau PlateauConfig `yaml:"plateau"`
}

// PlateauConfig tunes the learning-rate plateau schedule.
type PlateauConfig struct {
	Enabled  bool    `yaml:"enabled"`
	Factor   float64 `yaml:"factor"`
	Patience int     `yaml:"patience"`
	MinLR    float64 `yaml:"min_lr"`
}

// Overrides captures CLI supplied values.
type Overrides struct {
	Mode         string
	TrainRoots   []string
	ValRoots     []string
	CSV          string
	Epochs       int
	BatchSize    int
	NumWorkers   int
	LearningRate float64
	Seed         int64
	LogEvery     int
	Device       string
	OutputDir    string
	Restore      string
}

// Load reads and validates a Config from YAML. Unknown keys are
// rejected.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "open config")
	}
	defer f.Close()

	cfg := &Config{}
	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, errors.Wrap(err, "parse config")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// ApplyOverrides updates cfg using any non-zero override.
func (c *Config) ApplyOverrides(o Overrides) {
	if o.Mode != "" {
		c.Mode = o.Mode
	}
	if len(o.TrainRoots) > 0 {
		c.TrainRoots = o.TrainRoots
	}
	if len(o.ValRoots) > 0 {
		c.ValRoots = o.ValRoots
	}
	if o.CSV != "" {
		c.CSV = o.CSV
	}
	if o.Epochs > 0 {
		c.Epochs = o.Epochs
	}
	if o.BatchSize > 0 {
		c.BatchSize = o.BatchSize
	}
	if o.NumWorkers > 0 {
		c.NumWorkers = o.NumWorkers
	}
	if o.LearningRate > 0 {
		c.LearningRate = o.LearningRate
	}
	if o.Seed != 0 {
		c.Seed = o.Seed
	}
	if o.LogEvery > 0 {
		c.LogEvery = o.LogEvery
	}
	if o.Device != "" {
		c.Device = o.Device
	}
	if o.OutputDir != "" {
		c.OutputDir = o.OutputDir
	}
	if o.Restore != "" {
		c.Restore = o.Restore
	}
}

// Validate verifies the config is runnable and fills defaults.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}
	c.Mode = strings.ToLower(strings.TrimSpace(c.Mode))
	if c.Mode == "" {
		c.Mode = ModeClassifier
	}
	switch c.Mode {
	case ModeClassifier, ModeSRGAN:
		if len(c.TrainRoots) == 0 {
			return errors.Errorf("%s mode needs at least one training root", c.Mode)
		}
		if c.Grid <= 0 {
			c.Grid = 16
		}
	case ModeTabular:
		if c.CSV == "" {
			return errors.New("tabular mode needs a csv file")
		}
		if c.TargetColumn == "" {
			return errors.New("tabular mode needs a target_column")
		}
		if c.ValFraction < 0 || c.ValFraction >= 1 {
			return errors.Errorf("val_fraction must be in [0, 1) (got %g)", c.ValFraction)
		}
		if c.Encoder == "" {
			c.Encoder = "tree"
		}
		if c.Encoder != "tree" && c.Encoder != "linear" {
			return errors.Errorf("unknown encoder %q", c.Encoder)
		}
	default:
		return errors.Errorf("unknown mode %q", c.Mode)
	}
	if c.Mode == ModeClassifier && c.Classes <= 0 {
		return errors.Errorf("classes must be > 0 (got %d)", c.Classes)
	}
	if c.Mode == ModeSRGAN {
		if c.HighGrid <= 0 {
			c.HighGrid = 2 * c.Grid
		}
		if c.GenEpochs < 0 {
			return errors.Errorf("gen_epochs must be >= 0 (got %d)", c.GenEpochs)
		}
	}
	if c.Epochs <= 0 {
		return errors.Errorf("epochs must be > 0 (got %d)", c.Epochs)
	}
	if c.BatchSize <= 0 {
		return errors.Errorf("batch_size must be > 0 (got %d)", c.BatchSize)
	}
	if c.NumWorkers <= 0 {
		c.NumWorkers = 1
	}
	if c.LearningRate <= 0 {
		c.LearningRate = 1e-3
	}
	if len(c.Hidden) == 0 {
		c.Hidden = []int{64}
	}
	for _, h := range c.Hidden {
		if h <= 0 {
			return errors.Errorf("hidden sizes must be > 0 (got %v)", c.Hidden)
		}
	}
	if c.LogEvery <= 0 {
		c.LogEvery = 50
	}
	if c.SaveEvery <= 0 {
		c.SaveEvery = 1
	}
	if c.OutputDir == "" {
		c.OutputDir = "checkpoints"
	}
	if c.Plateau.Factor == 0 {
		c.Plateau.Factor = 0.1
	}
	if c.Plateau.Factor < 0 || c.Plateau.Factor >= 1 {
		return errors.Errorf("plateau.factor must be in (0, 1) (got %g)", c.Plateau.Factor)
	}
	if c.Plateau.Patience <= 0 {
		c.Plateau.Patience = 10
	}
	return nil
}
