package main

import (
	"flag"
	"fmt"
	"log"
	"math/rand"
	"os"
	"strings"

	"github.com/vahidzee/reason-aware-raster/checkpoints"
	"github.com/vahidzee/reason-aware-raster/scene"
	"github.com/vahidzee/reason-aware-raster/training"
)

// dictFlag collects repeated key=value flags into a map.
type dictFlag map[string]string

func (d dictFlag) String() string {
	pairs := make([]string, 0, len(d))
	for k, v := range d {
		pairs = append(pairs, k+"="+v)
	}
	return strings.Join(pairs, ",")
}

func (d dictFlag) Set(value string) error {
	key, val, ok := strings.Cut(value, "=")
	if !ok || key == "" {
		return fmt.Errorf("expected key=value, got %q", value)
	}
	d[key] = val
	return nil
}

func main() {
	hp := training.DefaultHyperparameters()
	hp.ModelDict = dictFlag{}
	hp.OptimizerDict = dictFlag{}
	hp.SchedulerDict = dictFlag{}
	hp.SaliencyDict = dictFlag{}

	flag.StringVar(&hp.Model, "model", hp.Model, "model architecture registry name")
	flag.Var(dictFlag(hp.ModelDict), "model-dict", "model keyword argument, key=value (repeatable)")
	flag.IntVar(&hp.Modes, "modes", hp.Modes, "number of trajectory hypotheses")

	flag.StringVar(&hp.Optimizer, "optimizer", hp.Optimizer, "optimizer registry name")
	flag.Var(dictFlag(hp.OptimizerDict), "optimizer-dict", "optimizer keyword argument, key=value (repeatable)")
	flag.Float64Var(&hp.LR, "lr", hp.LR, "base learning rate")

	flag.StringVar(&hp.Scheduler, "scheduler", hp.Scheduler, "scheduler registry name, empty for constant LR")
	flag.Var(dictFlag(hp.SchedulerDict), "scheduler-dict", "scheduler keyword argument, key=value (repeatable)")
	flag.StringVar(&hp.SchedulerInterval, "scheduler-interval", hp.SchedulerInterval, "scheduler interval: step or epoch")
	flag.IntVar(&hp.SchedulerFrequency, "scheduler-frequency", hp.SchedulerFrequency, "scheduler invocation frequency")
	flag.StringVar(&hp.SchedulerMonitor, "scheduler-monitor", hp.SchedulerMonitor, "metric watched by plateau schedulers")

	flag.StringVar(&hp.PGDMode, "pgd-mode", hp.PGDMode, "adversarial search mode: loss or negative_sample")
	flag.Float64Var(&hp.PGDRegFactor, "pgd-reg-factor", hp.PGDRegFactor, "adversarial regularization weight, 0 replaces the batch")
	flag.IntVar(&hp.PGDIters, "pgd-iters", hp.PGDIters, "adversarial search iterations, 0 disables the attack")
	flag.BoolVar(&hp.PGDRandomStart, "pgd-random-start", hp.PGDRandomStart, "start the search from a random perturbation")
	flag.Float64Var(&hp.PGDAlpha, "pgd-alpha", hp.PGDAlpha, "adversarial gradient-sign step size")
	flag.Float64Var(&hp.PGDEpsVehicles, "pgd-eps-vehicles", hp.PGDEpsVehicles, "perturbation bound for vehicle channels")
	flag.Float64Var(&hp.PGDEpsSemantics, "pgd-eps-semantics", hp.PGDEpsSemantics, "perturbation bound for semantic map channels")

	flag.Float64Var(&hp.SaliencyFactor, "saliency-factor", hp.SaliencyFactor, "saliency supervision weight, 0 disables it")
	flag.StringVar(&hp.SaliencyInterest, "saliency-intrest", hp.SaliencyInterest, "interest region calculation for saliency supervision")
	flag.Var(dictFlag(hp.SaliencyDict), "saliency-dict", "saliency keyword argument, key=value (repeatable)")

	flag.BoolVar(&hp.TrackGrad, "track-grad", hp.TrackGrad, "log input gradient magnitudes per channel group")

	var (
		configPath     = flag.String("config", "", "scene configuration JSON, empty for defaults")
		epochs         = flag.Int("epochs", 1, "number of training epochs")
		batchSize      = flag.Int("batch-size", 8, "batch size")
		trainSamples   = flag.Int("train-samples", 64, "synthetic training samples")
		valSamples     = flag.Int("val-samples", 16, "synthetic validation samples")
		seed           = flag.Int64("seed", 1, "random seed")
		checkpointPath = flag.String("checkpoint", "", "path to write the final checkpoint, empty to skip")
		binaryFormat   = flag.Bool("checkpoint-binary", false, "write the checkpoint in binary instead of JSON")
	)
	flag.Parse()

	if err := run(hp, *configPath, *epochs, *batchSize, *trainSamples, *valSamples, *seed, *checkpointPath, *binaryFormat); err != nil {
		log.Printf("training failed: %v", err)
		os.Exit(1)
	}
}

func run(hp training.Hyperparameters, configPath string, epochs, batchSize, trainSamples, valSamples int, seed int64, checkpointPath string, binaryFormat bool) error {
	cfg := scene.Default()
	if configPath != "" {
		loaded, err := scene.Load(configPath)
		if err != nil {
			return err
		}
		cfg = loaded
	}

	training.SetRandomSeed(seed)

	module, err := training.NewTrainerModule(cfg, hp)
	if err != nil {
		return err
	}
	trainer, err := training.NewTrainer(module, training.NewStdLogger(nil))
	if err != nil {
		return err
	}

	trainSet, err := training.NewSyntheticSceneDataset(cfg, trainSamples, seed)
	if err != nil {
		return err
	}
	valSet, err := training.NewSyntheticSceneDataset(cfg, valSamples, seed+1)
	if err != nil {
		return err
	}
	trainLoader, err := training.NewDataLoader(trainSet, batchSize, true, rand.New(rand.NewSource(seed)))
	if err != nil {
		return err
	}
	valLoader, err := training.NewDataLoader(valSet, batchSize, false, nil)
	if err != nil {
		return err
	}

	log.Printf("training %s for %d epochs, %d train batches per epoch", hp.Model, epochs, trainLoader.Len())
	if err := trainer.Fit(trainLoader, valLoader, epochs); err != nil {
		return err
	}

	if checkpointPath == "" {
		return nil
	}
	format := checkpoints.FormatJSON
	if binaryFormat {
		format = checkpoints.FormatBinary
	}
	ckpt := &checkpoints.Checkpoint{
		Scene:           *cfg,
		Hyperparameters: hp,
		Weights:         checkpoints.CaptureWeights(module.Model().Parameters()),
		TrainingState: checkpoints.TrainingState{
			Epoch:        trainer.Epoch(),
			Step:         trainer.GlobalStep(),
			LearningRate: trainer.Optimizer().GetLR(),
		},
	}
	if err := checkpoints.NewCheckpointSaver(format).SaveCheckpoint(ckpt, checkpointPath); err != nil {
		return err
	}
	log.Printf("checkpoint written to %s (%s)", checkpointPath, format)
	return nil
}
