package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"settlement-reconciler/internal/models"
	"settlement-reconciler/internal/reporter"
	"settlement-reconciler/internal/store"
	"settlement-reconciler/pkg/errors"
	"settlement-reconciler/pkg/logger"
)

var (
	exportPeriod  string
	exportFile    string
	exportFormat  string
	exportDetails bool
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Write the results and summary to a file",
	Long: `Export writes the stored results of one period, or of every period, with
their summary. XLSX files carry a "Reconciliation" detail sheet and a
"Summary" sheet. If the target cannot be written the report is saved to the
temp directory instead and its path printed.

Examples:
  reconciler export --period 2024-01 --output-file myntra_reconciliation_2024-01.xlsx
  reconciler export --output-file all.csv --output-format csv`,
	PreRunE: validateExportFlags,
	RunE:    runExport,
}

func init() {
	rootCmd.AddCommand(exportCmd)
	exportCmd.Flags().StringVarP(&exportPeriod, "period", "p", "", "YYYY-MM period (default: all periods)")
	exportCmd.Flags().StringVarP(&exportFile, "output-file", "f", "", "output file path (default: myntra_reconciliation_<period>.<ext>)")
	exportCmd.Flags().StringVarP(&exportFormat, "output-format", "o", "xlsx", "output format: xlsx, csv, json")
	exportCmd.Flags().BoolVar(&exportDetails, "details", true, "include per-line rows in json output")
}

func validateExportFlags(cmd *cobra.Command, args []string) error {
	if exportPeriod != "" {
		if err := models.ValidatePeriod(exportPeriod); err != nil {
			return errors.ValidationError(errors.CodeInvalidPeriod, "period", exportPeriod, err)
		}
	}
	switch reporter.OutputFormat(exportFormat) {
	case reporter.FormatXLSX, reporter.FormatCSV, reporter.FormatJSON:
	default:
		return errors.ConfigurationError(errors.CodeInvalidConfig, "output-format", exportFormat, nil)
	}
	if exportFile == "" {
		exportFile = reporter.ExportFilename(exportPeriod, reporter.OutputFormat(exportFormat), time.Now())
	}
	return nil
}

func runExport(cmd *cobra.Command, args []string) error {
	return withApp(cmd.Context(), func(a *app) error {
		ctx := cmd.Context()
		rows, _, err := a.store.ListResults(ctx, store.ResultFilter{Period: exportPeriod})
		if err != nil {
			return err
		}
		summary, err := a.aggregator.Summarize(ctx, exportPeriod)
		if err != nil {
			return err
		}

		config := reporter.DefaultReportConfig()
		config.Format = reporter.OutputFormat(exportFormat)
		config.IncludeDetails = exportDetails
		generator, err := reporter.NewSafeReportGenerator(config, a.log)
		if err != nil {
			return err
		}

		var written string
		err = logger.TimedOperation("export "+exportFormat, a.log, func() error {
			var werr error
			written, werr = generator.WriteFile(&reporter.Report{
				Period:      exportPeriod,
				GeneratedAt: time.Now(),
				Summary:     summary,
				Results:     rows,
			}, exportFile)
			return werr
		})
		if err != nil {
			return err
		}
		if written != exportFile {
			fmt.Fprintf(cmd.ErrOrStderr(), "Could not write %s; saved backup instead\n", exportFile)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Exported %d rows to %s\n", len(rows), written)
		return nil
	})
}
