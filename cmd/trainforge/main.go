package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"trainforge/internal/config"
	"trainforge/internal/dataset"
	"trainforge/internal/device"
	"trainforge/internal/trainer"
)

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func main() {
	cfgPath := flag.String("config", "configs/classifier.yaml", "Path to YAML config")
	mode := flag.String("mode", "", "Training mode: classifier, srgan or tabular")
	trainRoots := flag.String("train-roots", "", "Comma separated training roots")
	valRoots := flag.String("val-roots", "", "Comma separated validation roots")
	csvPath := flag.String("csv", "", "CSV file for tabular mode")
	epochs := flag.Int("epochs", 0, "Number of training epochs")
	batchSize := flag.Int("batch-size", 0, "Batch size")
	numWorkers := flag.Int("num-workers", 0, "Number of data loader workers")
	lr := flag.Float64("lr", 0, "Learning rate")
	seed := flag.Int64("seed", 0, "PRNG seed")
	logEvery := flag.Int("log-every", 0, "Log every N batches")
	dev := flag.String("device", "", "Device: cpu, cuda or cuda:N")
	outputDir := flag.String("output-dir", "", "Checkpoint directory")
	restore := flag.String("restore", "", "Directory to restore checkpoints from")

	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	cfg.ApplyOverrides(config.Overrides{
		Mode:         *mode,
		TrainRoots:   splitList(*trainRoots),
		ValRoots:     splitList(*valRoots),
		CSV:          *csvPath,
		Epochs:       *epochs,
		BatchSize:    *batchSize,
		NumWorkers:   *numWorkers,
		LearningRate: *lr,
		Seed:         *seed,
		LogEvery:     *logEvery,
		Device:       *dev,
		OutputDir:    *outputDir,
		Restore:      *restore,
	})

	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid config: %v", err)
	}

	d, err := device.Parse(cfg.Device)
	if err != nil {
		log.Fatalf("invalid device: %v", err)
	}
	log.Printf("mode=%s device=%s", cfg.Mode, d)

	runCfg := trainer.RunConfig{Config: *cfg, Device: d}
	if cfg.Mode != config.ModeTabular {
		runCfg.TrainShards, err = dataset.DiscoverByRoot(cfg.TrainRoots)
		if err != nil {
			log.Fatalf("discover training shards: %v", err)
		}
		for root, shards := range runCfg.TrainShards {
			log.Printf("root=%s shards=%d", root, len(shards))
		}
		if len(cfg.ValRoots) > 0 {
			runCfg.ValShards, err = dataset.DiscoverByRoot(cfg.ValRoots)
			if err != nil {
				log.Fatalf("discover validation shards: %v", err)
			}
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := trainer.Run(ctx, runCfg); err != nil {
		log.Fatalf("training failed: %v", err)
	}
}
