package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"settlement-reconciler/internal/models"
	"settlement-reconciler/internal/reconciler"
	"settlement-reconciler/internal/reporter"
	"settlement-reconciler/internal/store"
	"settlement-reconciler/pkg/errors"
)

var (
	reconcilePeriod string
	reconcileVerify bool
	reconcileDir    string
)

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Reconcile the order lines of one period",
	Long: `Reconcile classifies every order line of the period, computes its
settlement figures and verdict, and replaces the period's stored results.
Re-running a period gives the same rows; other periods are untouched.

With --verify the stored rows are read back and checked against the
settlement formulas and verdict thresholds; any violation fails the command.

With --dir the exports in the directory are uploaded first, the period is
reconciled and its summary printed, all in one run. This is the only way to
use the default memory store from the command line.

Examples:
  reconciler reconcile --period 2024-01
  reconciler reconcile --period 2024-01 --verify
  reconciler reconcile --dir ./exports/2024-01 --period 2024-01
  reconciler reconcile              # current month`,
	PreRunE: validateReconcileFlags,
	RunE:    runReconcile,
}

func init() {
	rootCmd.AddCommand(reconcileCmd)
	reconcileCmd.Flags().StringVarP(&reconcilePeriod, "period", "p", "", "YYYY-MM period (default: current month)")
	reconcileCmd.Flags().BoolVar(&reconcileVerify, "verify", false, "check the stored results after reconciling")
	reconcileCmd.Flags().StringVarP(&reconcileDir, "dir", "d", "", "upload the exports in this directory before reconciling")
}

func validateReconcileFlags(cmd *cobra.Command, args []string) error {
	period, err := models.ResolvePeriod(reconcilePeriod, time.Now())
	if err != nil {
		return errors.ValidationError(errors.CodeInvalidPeriod, "period", reconcilePeriod, err)
	}
	reconcilePeriod = period
	return nil
}

func runReconcile(cmd *cobra.Command, args []string) error {
	if reconcileDir == "" {
		return withApp(cmd.Context(), func(a *app) error {
			return reconcilePeriodWith(cmd, a)
		})
	}

	return withProcessApp(cmd.Context(), func(a *app) error {
		reports, err := a.ingest.UploadDir(cmd.Context(), reconcileDir, reconcilePeriod)
		if err != nil {
			return err
		}
		for _, report := range reports {
			printUploadReport(cmd, report)
		}
		if err := reconcilePeriodWith(cmd, a); err != nil {
			return err
		}
		return printSummary(cmd, a, reconcilePeriod, reporter.FormatConsole)
	})
}

func reconcilePeriodWith(cmd *cobra.Command, a *app) error {
	result, err := a.engine.Reconcile(cmd.Context(), reconcilePeriod)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Reconciliation completed for %s: %d order lines\n", result.Period, result.Count)
	for _, status := range models.ItemStatuses {
		fmt.Fprintf(out, "  %-14s %d\n", status.String()+":", result.StatusCounts[status])
	}
	if verbose {
		fmt.Fprintf(out, "Took %s\n", result.Duration.Round(time.Millisecond))
	}
	if reconcileVerify {
		return verifyPeriod(cmd, a, result.Period)
	}
	return nil
}

func verifyPeriod(cmd *cobra.Command, a *app, period string) error {
	rows, _, err := a.store.ListResults(cmd.Context(), store.ResultFilter{Period: period})
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	violations := reconciler.Verify(rows)
	if len(violations) == 0 {
		fmt.Fprintf(out, "Verified %d results\n", len(rows))
		return nil
	}
	for _, v := range violations {
		fmt.Fprintf(out, "  %s\n", v)
	}
	return errors.InternalError(errors.CodeUnexpectedError, "result verification",
		fmt.Errorf("%d violations in %d results", len(violations), len(rows))).
		WithContext("period", period)
}
