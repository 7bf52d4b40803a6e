package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var clearStagingOnly bool

var clearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete stored data",
	Long: `Clear empties every table, or with --staging-only just the five raw
upload tables, keeping reconciliation results.`,
	RunE: runClear,
}

func init() {
	rootCmd.AddCommand(clearCmd)
	clearCmd.Flags().BoolVar(&clearStagingOnly, "staging-only", false, "keep reconciliation results")
}

func runClear(cmd *cobra.Command, args []string) error {
	return withApp(cmd.Context(), func(a *app) error {
		if clearStagingOnly {
			if err := a.store.ClearStaging(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Staging data cleared")
			return nil
		}
		if err := a.store.ClearAll(cmd.Context()); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "All data cleared")
		return nil
	})
}
