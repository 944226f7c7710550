package cmd

import (
	"fmt"
	"os"

	"habblive-backend/internal/catalog"
	"habblive-backend/internal/components/telemetry"
	"habblive-backend/internal/reconcile"
	"habblive-backend/internal/scrapers/habblive"

	"github.com/spf13/cobra"
)

var extractCmd = &cobra.Command{
	Use:   "extract <file.html>",
	Short: "Recognizes the badges on a saved profile page, nothing is fetched.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		c, err := catalog.New(cfg.Catalog.Prefix, cfg.Catalog.Size)
		if err != nil {
			return err
		}

		markup, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("read page: %w", err)
		}

		extractor := habblive.NewExtractor(c, nil, telemetry.SlogAPI{})
		renderResult(
			cmd.OutOrStdout(),
			args[0],
			c,
			reconcile.Reconcile(c, extractor.Extract(markup)),
		)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(extractCmd)
}
