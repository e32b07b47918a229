package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strconv"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"digitforge/internal/config"
	"digitforge/internal/dataset"
	"digitforge/internal/device"
	"digitforge/internal/metrics"
	"digitforge/internal/model"
	"digitforge/internal/ndarray"
	"digitforge/internal/progress"
	"digitforge/internal/trainer"
)

func newTrainCmd(a *app) *cobra.Command {
	var o config.Overrides
	cmd := &cobra.Command{
		Use:   "train",
		Short: "Train the MLP on MNIST or image shards and save it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a.cfg.ApplyOverrides(o)
			if err := a.cfg.Validate(); err != nil {
				return fmt.Errorf("invalid config: %w", err)
			}
			res, err := runTrain(cmd.Context(), a.cfg, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Training result %s\n", res)
			printResult(out, res)
			fmt.Fprintf(out, "Model saved to %s\n", a.cfg.OutputDir)
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&o.Dataset, "dataset", "", "Dataset source: mnist or shards")
	f.StringVar(&o.DataDir, "data-dir", "", "MNIST cache directory")
	f.StringSliceVar(&o.TrainRoots, "train-root", nil, "Shard root for training (repeatable)")
	f.StringSliceVar(&o.ValidRoots, "valid-root", nil, "Shard root for validation (repeatable)")
	f.StringVar(&o.OutputDir, "output-dir", "", "Directory for logs and parameters")
	f.StringVar(&o.ModelName, "model-name", "", "Model name")
	f.IntVar(&o.Epochs, "epochs", 0, "Number of epochs")
	f.IntVar(&o.BatchSize, "batch-size", 0, "Batch size")
	f.Float64Var(&o.LearningRate, "learning-rate", 0, "Optimizer learning rate")
	f.StringVar(&o.Optimizer, "optimizer", "", "Optimizer: adam or sgd")
	f.IntVar(&o.NumWorkers, "num-workers", 0, "Shard decoding workers")
	f.Int64Var(&o.Seed, "seed", 0, "PRNG seed")
	f.IntVar(&o.Limit, "limit", 0, "Use at most this many records per split")
	f.IntVar(&o.LogEvery, "log-every", 0, "Log throughput every N batches")
	return cmd
}

// runTrain prepares the datasets, fits the model and saves it to the output
// directory. Progress bars go to status.
func runTrain(ctx context.Context, cfg *config.Config, status io.Writer) (trainer.Result, error) {
	train, valid, err := trainingData(cfg)
	if err != nil {
		return trainer.Result{}, err
	}
	if err := prepare(ctx, train, "Preparing training data", status); err != nil {
		return trainer.Result{}, err
	}
	if valid != nil {
		if err := prepare(ctx, valid, "Preparing validation data", status); err != nil {
			return trainer.Result{}, err
		}
	}
	slog.Info("datasets ready", "train", train.Len(), "validate", datasetLen(valid), "cpu", device.Describe())

	m := newDigitModel(cfg)
	defer m.Close()

	var opt trainer.Optimizer
	switch cfg.Optimizer {
	case config.OptimizerSGD:
		opt = trainer.NewSGD(cfg.LearningRate, 0.9)
	default:
		adam := trainer.NewAdam()
		adam.LearningRate = cfg.LearningRate
		opt = adam
	}

	listeners := trainer.LoggingDefaults(cfg.OutputDir)
	for i, l := range listeners {
		if _, ok := l.(*trainer.LoggingListener); ok {
			listeners[i] = trainer.NewLoggingListener(status, cfg.LogEvery)
		}
	}
	tc := trainer.NewTrainingConfig(trainer.NewSoftmaxCrossEntropyLoss()).
		AddEvaluator(trainer.NewAccuracy()).
		AddTrainingListeners(listeners...).
		OptOptimizer(opt).
		OptSeed(cfg.Seed)

	tr, err := trainer.New(m, tc)
	if err != nil {
		return trainer.Result{}, err
	}
	defer tr.Close()
	tr.SetMetrics(metrics.New())
	if err := tr.Initialize(ndarray.Shape{1, dataset.MnistImageSize * dataset.MnistImageSize}); err != nil {
		return trainer.Result{}, err
	}

	if err := trainer.Fit(ctx, tr, cfg.Epochs, train, valid); err != nil {
		return trainer.Result{}, err
	}

	res := tr.Result()
	m.SetProperty(model.PropertyAccuracy, strconv.FormatFloat(res.TrainEvaluation("Accuracy"), 'f', 5, 64))
	m.SetProperty(model.PropertyLoss, strconv.FormatFloat(res.TrainLoss(), 'f', 5, 64))
	if err := m.Save(cfg.OutputDir, cfg.ModelName, model.WithHalfPrecision(cfg.HalfPrecision)); err != nil {
		return trainer.Result{}, fmt.Errorf("save model: %w", err)
	}
	if err := tr.Close(); err != nil {
		return trainer.Result{}, err
	}
	return res, nil
}

func trainingData(cfg *config.Config) (dataset.RandomAccess, dataset.RandomAccess, error) {
	switch cfg.Dataset {
	case config.DatasetShards:
		opts := dataset.ShardOptions{
			Roots:      cfg.TrainRoots,
			BatchSize:  cfg.BatchSize,
			Shuffle:    true,
			Seed:       cfg.Seed,
			Limit:      cfg.Limit,
			NumWorkers: cfg.NumWorkers,
		}
		train := dataset.NewShards(opts)
		if len(cfg.ValidRoots) == 0 {
			return train, nil, nil
		}
		opts.Roots = cfg.ValidRoots
		return train, dataset.NewShards(opts), nil
	case config.DatasetMnist:
		mnist := func(usage dataset.Usage) *dataset.Mnist {
			return dataset.NewMnist(dataset.MnistOptions{
				Usage:     usage,
				BatchSize: cfg.BatchSize,
				Shuffle:   true,
				Seed:      cfg.Seed,
				Limit:     cfg.Limit,
				Dir:       cfg.DataDir,
				BaseURL:   cfg.BaseURL,
			})
		}
		return mnist(dataset.Train), mnist(dataset.Test), nil
	default:
		return nil, nil, fmt.Errorf("unknown dataset %q", cfg.Dataset)
	}
}

func prepare(ctx context.Context, ds dataset.RandomAccess, message string, status io.Writer) error {
	return ds.Prepare(ctx, progress.New(status, message))
}

func datasetLen(ds dataset.RandomAccess) int {
	if ds == nil {
		return 0
	}
	return ds.Len()
}

func printResult(w io.Writer, res trainer.Result) {
	names := make([]string, 0, len(res.Evaluations))
	for name := range res.Evaluations {
		names = append(names, name)
	}
	sort.Strings(names)
	rows := make([][]string, 0, len(names))
	for _, name := range names {
		rows = append(rows, []string{name, strconv.FormatFloat(res.Evaluations[name], 'f', 5, 64)})
	}

	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"EVALUATION", "VALUE"})
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetNoWhiteSpace(true)
	table.SetTablePadding("    ")
	table.AppendBulk(rows)
	table.Render()
}
