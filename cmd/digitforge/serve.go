package main

import (
	"fmt"
	"net"

	"github.com/spf13/cobra"

	"digitforge/internal/config"
	"digitforge/internal/inference"
	"digitforge/internal/server"
	"digitforge/internal/vision"
)

func newServeCmd(a *app) *cobra.Command {
	var o config.Overrides
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve predictions of the saved model over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a.cfg.ApplyOverrides(o)
			if err := a.cfg.ValidateModel(); err != nil {
				return fmt.Errorf("invalid config: %w", err)
			}
			m, err := loadDigitModel(a.cfg)
			if err != nil {
				return err
			}
			defer m.Close()
			p := inference.NewPredictor[*vision.Image, *inference.Classifications](m, newTranslator(a.cfg))
			defer p.Close()

			ln, err := net.Listen("tcp", a.cfg.Addr)
			if err != nil {
				return fmt.Errorf("listen %s: %w", a.cfg.Addr, err)
			}
			return server.New(m.Name(), p, a.cfg.TopK).AllowOrigins(a.cfg.AllowOrigins...).Serve(cmd.Context(), ln)
		},
	}
	f := cmd.Flags()
	f.StringVar(&o.Addr, "addr", "", "Listen address")
	f.StringVar(&o.OutputDir, "model-dir", "", "Directory holding saved parameters")
	f.StringVar(&o.ModelName, "model-name", "", "Model name")
	f.IntVar(&o.TopK, "top-k", 0, "Default number of classes per response")
	return cmd
}
