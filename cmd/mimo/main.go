// Package main provides the mimo command: MIMO ensemble training on Born.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"runtime/debug"

	"k8s.io/klog/v2"

	"github.com/born-ml/mimo/internal/config"
)

const version = "v0.1.0-dev"

const usage = `Usage: mimo <command> [flags]

Commands:
  train      Train a MIMO ensemble
  version    Show version

Run "mimo train -h" for training flags.
`

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		fmt.Fprint(stderr, usage)
		return 2
	}
	switch args[0] {
	case "version":
		fmt.Fprintf(stdout, "mimo %s (born %s)\n", version, engineVersion())
		return 0
	case "train":
		return trainCommand(args[1:], stderr)
	case "help", "-h", "--help":
		fmt.Fprint(stdout, usage)
		return 0
	default:
		fmt.Fprintf(stderr, "unknown command %q\n\n%s", args[0], usage)
		return 2
	}
}

// engineVersion reports the Born module version linked into the binary.
func engineVersion() string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return "unknown"
	}
	for _, dep := range info.Deps {
		if dep.Path == "github.com/born-ml/born" {
			return dep.Version
		}
	}
	return "unknown"
}

type trainFlags struct {
	config    string
	resume    string
	epochs    int
	batchSize int
	ensemble  int
	dataset   string
	dataDir   string
	out       string
	device    string
	seed      uint64
}

func (f *trainFlags) register(fs *flag.FlagSet) {
	fs.StringVar(&f.config, "config", "", "YAML config file (defaults apply when empty)")
	fs.StringVar(&f.resume, "resume", "", "checkpoint to resume from, e.g. weights/weights_50.born")
	fs.IntVar(&f.epochs, "epochs", 0, "number of epochs")
	fs.IntVar(&f.batchSize, "batch-size", 0, "training batch size")
	fs.IntVar(&f.ensemble, "ensemble", 0, "ensemble size M")
	fs.StringVar(&f.dataset, "dataset", "", "cifar10, cifar100 or synthetic")
	fs.StringVar(&f.dataDir, "data-dir", "", "directory holding the dataset files")
	fs.StringVar(&f.out, "out", "", "output directory for weights and metrics")
	fs.StringVar(&f.device, "device", "", "cpu or webgpu")
	fs.Uint64Var(&f.seed, "seed", 0, "random seed")
}

// apply copies explicitly set flags over cfg.
func (f *trainFlags) apply(fs *flag.FlagSet, cfg *config.Config) {
	fs.Visit(func(fl *flag.Flag) {
		switch fl.Name {
		case "epochs":
			cfg.Epochs = f.epochs
		case "batch-size":
			cfg.BatchSize = f.batchSize
			cfg.TestBatchSize = f.batchSize
		case "ensemble":
			cfg.Ensemble = f.ensemble
		case "dataset":
			cfg.Dataset = f.dataset
		case "data-dir":
			cfg.DataDir = f.dataDir
		case "out":
			cfg.OutputDir = f.out
		case "device":
			cfg.Device = f.device
		case "seed":
			cfg.Seed = f.seed
		}
	})
}

func trainCommand(args []string, stderr io.Writer) int {
	fs := flag.NewFlagSet("train", flag.ContinueOnError)
	fs.SetOutput(stderr)
	klog.InitFlags(fs)
	var flags trainFlags
	flags.register(fs)
	if err := fs.Parse(args); err != nil {
		return 2
	}
	defer klog.Flush()

	cfg, err := config.Load(flags.config)
	if err != nil {
		klog.ErrorS(err, "Loading config")
		return 1
	}
	flags.apply(fs, &cfg)
	if err := cfg.Validate(); err != nil {
		klog.ErrorS(err, "Invalid config")
		return 1
	}

	logger := klog.Background()
	if dump, err := cfg.Marshal(); err == nil {
		logger.V(2).Info("Configuration", "config", string(dump))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := trainOnDevice(ctx, cfg, flags.resume, logger); err != nil {
		klog.ErrorS(err, "Training failed")
		return 1
	}
	return 0
}
