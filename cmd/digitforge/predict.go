package main

import (
	"fmt"
	"io"
	"strconv"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"digitforge/internal/config"
	"digitforge/internal/dataset"
	"digitforge/internal/inference"
	"digitforge/internal/vision"
)

func newPredictCmd(a *app) *cobra.Command {
	var o config.Overrides
	cmd := &cobra.Command{
		Use:   "predict [image]",
		Short: "Classify an image with the saved model",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				o.ImagePath = args[0]
			}
			a.cfg.ApplyOverrides(o)
			if err := a.cfg.ValidateModel(); err != nil {
				return fmt.Errorf("invalid config: %w", err)
			}
			res, err := runPredict(a.cfg)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Prediction result %s", res)
			printClassifications(out, res.TopK(a.cfg.TopK))
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&o.OutputDir, "model-dir", "", "Directory holding saved parameters")
	f.StringVar(&o.ModelName, "model-name", "", "Model name")
	f.IntVar(&o.TopK, "top-k", 0, "Number of classes to show")
	return cmd
}

func newTranslator(cfg *config.Config) *inference.ImageClassificationTranslator {
	return inference.NewImageClassificationTranslator(
		inference.WithTransforms(
			vision.Resize{Width: dataset.MnistImageSize, Height: dataset.MnistImageSize},
			vision.ToTensor{},
		),
		inference.WithTopK(cfg.TopK),
	)
}

// runPredict loads the saved model and classifies cfg.ImagePath.
func runPredict(cfg *config.Config) (*inference.Classifications, error) {
	img, err := vision.FromFile(cfg.ImagePath)
	if err != nil {
		return nil, err
	}
	m, err := loadDigitModel(cfg)
	if err != nil {
		return nil, err
	}
	defer m.Close()

	p := inference.NewPredictor[*vision.Image, *inference.Classifications](m, newTranslator(cfg))
	defer p.Close()
	return p.Predict(img)
}

func printClassifications(w io.Writer, items []inference.Classification) {
	rows := make([][]string, 0, len(items))
	for _, it := range items {
		rows = append(rows, []string{it.ClassName, strconv.FormatFloat(it.Probability*100, 'f', 2, 64) + "%"})
	}
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"CLASS", "PROBABILITY"})
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetNoWhiteSpace(true)
	table.SetTablePadding("    ")
	table.AppendBulk(rows)
	table.Render()
}
