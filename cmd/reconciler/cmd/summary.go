package cmd

import (
	"time"

	"github.com/spf13/cobra"

	"settlement-reconciler/internal/models"
	"settlement-reconciler/internal/reporter"
	"settlement-reconciler/pkg/errors"
)

var (
	summaryPeriod string
	summaryFormat string
)

var summaryCmd = &cobra.Command{
	Use:   "summary",
	Short: "Print status and settlement totals",
	Long: `Summary totals the stored results of one period, or of every period when
--period is omitted.

Examples:
  reconciler summary --period 2024-01
  reconciler summary --output-format json`,
	PreRunE: validateSummaryFlags,
	RunE:    runSummary,
}

func init() {
	rootCmd.AddCommand(summaryCmd)
	summaryCmd.Flags().StringVarP(&summaryPeriod, "period", "p", "", "YYYY-MM period (default: all periods)")
	summaryCmd.Flags().StringVarP(&summaryFormat, "output-format", "o", "console", "output format: console, json")
}

func validateSummaryFlags(cmd *cobra.Command, args []string) error {
	if summaryPeriod != "" {
		if err := models.ValidatePeriod(summaryPeriod); err != nil {
			return errors.ValidationError(errors.CodeInvalidPeriod, "period", summaryPeriod, err)
		}
	}
	switch reporter.OutputFormat(summaryFormat) {
	case reporter.FormatConsole, reporter.FormatJSON:
		return nil
	}
	return errors.ConfigurationError(errors.CodeInvalidConfig, "output-format", summaryFormat, nil)
}

func runSummary(cmd *cobra.Command, args []string) error {
	return withApp(cmd.Context(), func(a *app) error {
		return printSummary(cmd, a, summaryPeriod, reporter.OutputFormat(summaryFormat))
	})
}

func printSummary(cmd *cobra.Command, a *app, period string, format reporter.OutputFormat) error {
	summary, err := a.aggregator.Summarize(cmd.Context(), period)
	if err != nil {
		return err
	}

	config := reporter.DefaultReportConfig()
	config.Format = format
	generator, err := reporter.NewSafeReportGenerator(config, a.log)
	if err != nil {
		return err
	}
	return generator.GenerateReportSafely(&reporter.Report{
		Period:      period,
		GeneratedAt: time.Now(),
		Summary:     summary,
	}, cmd.OutOrStdout())
}
