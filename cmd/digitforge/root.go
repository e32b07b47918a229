package main

import (
	"log/slog"

	"github.com/spf13/cobra"

	"digitforge/internal/config"
	"digitforge/internal/dataset"
	"digitforge/internal/model"
)

type app struct {
	cfgPath string
	verbose bool
	cfg     *config.Config
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:           "digitforge",
		Short:         "Train and run handwritten digit classifiers",
		SilenceUsage:  true,
		SilenceErrors: true,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			level := slog.LevelInfo
			if a.verbose {
				level = slog.LevelDebug
			}
			slog.SetDefault(slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level})))

			if a.cfgPath == "" {
				a.cfg = config.Default()
				return nil
			}
			cfg, err := config.Load(a.cfgPath)
			if err != nil {
				return err
			}
			a.cfg = cfg
			return nil
		},
	}
	root.PersistentFlags().StringVarP(&a.cfgPath, "config", "c", "", "Path to YAML config")
	root.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "Enable debug logging")

	root.AddCommand(
		newTrainCmd(a),
		newPredictCmd(a),
		newNDArrayCmd(),
		newServeCmd(a),
	)
	return root
}

// newDigitModel builds the MLP for flattened 28x28 digits.
func newDigitModel(cfg *config.Config) *model.Model {
	m := model.New(cfg.ModelName)
	m.SetBlock(model.NewMlp(dataset.MnistImageSize*dataset.MnistImageSize, dataset.MnistClasses, cfg.Hidden))
	return m
}

// loadDigitModel builds the MLP and loads the latest saved parameters.
func loadDigitModel(cfg *config.Config) (*model.Model, error) {
	m := newDigitModel(cfg)
	if err := m.Load(cfg.OutputDir); err != nil {
		m.Close()
		return nil, err
	}
	slog.Debug("model loaded", "name", m.Name(), "dir", cfg.OutputDir, "epoch", m.Epoch())
	return m, nil
}
