package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"settlement-reconciler/internal/ingest"
	"settlement-reconciler/internal/models"
	"settlement-reconciler/pkg/errors"
)

var (
	uploadType   string
	uploadFile   string
	uploadDir    string
	uploadPeriod string
)

var uploadCmd = &cobra.Command{
	Use:   "upload",
	Short: "Load CSV exports into the dataset store",
	Long: `Upload parses marketplace CSV exports and upserts their rows by
order_line_id. Rows without an order_line_id are skipped and reported.

Either name one file with --type and --file, or point --dir at a folder
holding ORDER.csv, CANCEL.csv, RETURN.csv, RETURN_CHARGE.csv and PAYMENT.csv
(any subset, any case). Directory files are uploaded concurrently.

Dataset types: order, cancel, return, return-charge, payment.

Examples:
  reconciler upload --type order --file ORDER.csv --period 2024-01
  reconciler upload --type payment --file PAYMENT.csv
  reconciler upload --dir ./exports/2024-01 --period 2024-01`,
	PreRunE: validateUploadFlags,
	RunE:    runUpload,
}

func init() {
	rootCmd.AddCommand(uploadCmd)

	uploadCmd.Flags().StringVarP(&uploadType, "type", "t", "", "dataset type")
	uploadCmd.Flags().StringVarP(&uploadFile, "file", "f", "", "path to the CSV file")
	uploadCmd.Flags().StringVarP(&uploadDir, "dir", "d", "", "directory of dataset exports")
	uploadCmd.Flags().StringVarP(&uploadPeriod, "period", "p", "", "YYYY-MM period stamped on order lines")
}

func validateUploadFlags(cmd *cobra.Command, args []string) error {
	switch {
	case uploadDir != "" && (uploadType != "" || uploadFile != ""):
		return errors.New(errors.CategoryValidation, errors.CodeInvalidConfig,
			"--dir cannot be combined with --type or --file")
	case uploadDir == "" && (uploadType == "" || uploadFile == ""):
		return errors.New(errors.CategoryValidation, errors.CodeMissingConfig,
			"either --dir or both --type and --file are required")
	}
	if uploadDir == "" {
		if _, err := models.ParseDatasetType(uploadType); err != nil {
			return errors.ValidationError(errors.CodeUnknownDataset, "type", uploadType, err)
		}
	}
	if uploadPeriod != "" {
		if err := models.ValidatePeriod(uploadPeriod); err != nil {
			return errors.ValidationError(errors.CodeInvalidPeriod, "period", uploadPeriod, err)
		}
	}
	return nil
}

func runUpload(cmd *cobra.Command, args []string) error {
	if uploadDir != "" {
		return withApp(cmd.Context(), func(a *app) error {
			reports, err := a.ingest.UploadDir(cmd.Context(), uploadDir, uploadPeriod)
			if err != nil {
				return err
			}
			for _, report := range reports {
				printUploadReport(cmd, report)
			}
			return nil
		})
	}

	dataset, _ := models.ParseDatasetType(uploadType)
	return withApp(cmd.Context(), func(a *app) error {
		report, err := a.ingest.UploadFile(cmd.Context(), dataset, uploadFile, uploadPeriod)
		if err != nil {
			return err
		}
		printUploadReport(cmd, report)
		return nil
	})
}

func printUploadReport(cmd *cobra.Command, report *ingest.Report) {
	out := cmd.OutOrStdout()
	fmt.Fprintln(out, report.Message())
	if report.Skipped == 0 {
		return
	}
	fmt.Fprintf(out, "Skipped %d of %d rows without an order_line_id\n", report.Skipped, report.RowsRead)
	if verbose {
		fmt.Fprintln(out, FormatRowIssues(report.Issues))
	}
}
