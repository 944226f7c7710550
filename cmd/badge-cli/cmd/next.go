package cmd

import (
	"habblive-backend/internal/app"
	"habblive-backend/internal/catalog"
	"habblive-backend/internal/components/telemetry"
	"habblive-backend/internal/reconcile"

	"github.com/spf13/cobra"
)

var (
	nextCookies   string
	nextAnonymous bool
)

var nextCmd = &cobra.Command{
	Use:   "next <user>",
	Short: "Fetches the profile of a user and prints the next badge they should collect.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		pipeline, err := app.NewPipeline(cfg, telemetry.SlogAPI{})
		if err != nil {
			return err
		}

		user := args[0]
		var found catalog.Set
		switch {
		case nextCookies != "":
			found, err = pipeline.Fetcher.FetchWithCookies(cmd.Context(), user, nextCookies)
		case nextAnonymous:
			found, err = pipeline.Fetcher.FetchAnonymous(cmd.Context(), user)
		default:
			found, err = pipeline.Fetcher.FetchProfile(cmd.Context(), user)
		}
		if err != nil {
			return err
		}

		renderResult(
			cmd.OutOrStdout(),
			user,
			pipeline.Catalog,
			reconcile.Reconcile(pipeline.Catalog, found),
		)
		return nil
	},
}

func init() {
	nextCmd.Flags().StringVar(&nextCookies, "cookies", "", "Raw Cookie header of your own habblive session.")
	nextCmd.Flags().BoolVar(&nextAnonymous, "anonymous", false, "Fetch the public profile without logging in.")
	rootCmd.AddCommand(nextCmd)
}
