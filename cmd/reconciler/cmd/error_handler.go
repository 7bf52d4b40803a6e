package cmd

import (
	"fmt"
	"io"
	"os"
	"strings"
	"syscall"

	"github.com/spf13/viper"

	"settlement-reconciler/pkg/errors"
	"settlement-reconciler/pkg/logger"
)

// maxListedIssues caps how many row issues are printed.
const maxListedIssues = 10

// CLIErrorHandler provides user-friendly error handling for CLI operations
type CLIErrorHandler struct {
	logger  logger.Logger
	out     io.Writer
	verbose bool
}

// NewCLIErrorHandler creates a new CLI error handler
func NewCLIErrorHandler() *CLIErrorHandler {
	return &CLIErrorHandler{
		logger:  logger.GetGlobalLogger().WithComponent("cli"),
		out:     os.Stderr,
		verbose: viper.GetBool("verbose"),
	}
}

// HandleError prints err and returns the process exit code.
func (h *CLIErrorHandler) HandleError(err error) int {
	if err == nil {
		return 0
	}

	h.logger.WithError(err).Debug("Command failed")

	if reconcilerErr, ok := errors.AsReconcilerError(err); ok {
		return h.handleReconcilerError(reconcilerErr)
	}
	return h.handleGenericError(err)
}

func (h *CLIErrorHandler) handleReconcilerError(err *errors.ReconcilerError) int {
	fmt.Fprintf(h.out, "Error: %s\n", err.Message)

	if h.verbose && len(err.Context) > 0 {
		fmt.Fprintf(h.out, "\nContext:\n")
		for key, value := range err.Context {
			fmt.Fprintf(h.out, "  %s: %v\n", key, value)
		}
	}

	if err.Suggestion != "" {
		fmt.Fprintf(h.out, "\nSuggestion: %s\n", err.Suggestion)
	}

	if help := h.getCategoryHelp(err.Category); help != "" {
		fmt.Fprintf(h.out, "\n%s\n", help)
	}

	if h.verbose && err.Cause != nil {
		fmt.Fprintf(h.out, "\nUnderlying error: %v\n", err.Cause)
	}

	return err.GetExitCode()
}

// handleGenericError covers errors that never became a ReconcilerError,
// mostly storage errors which are passed through unmodified.
func (h *CLIErrorHandler) handleGenericError(err error) int {
	switch {
	case h.isFileNotFoundError(err):
		fmt.Fprintf(h.out, "Error: File not found\n")
		fmt.Fprintf(h.out, "Suggestion: Check if the file path is correct and the file exists\n")
		return 2
	case h.isPermissionError(err):
		fmt.Fprintf(h.out, "Error: Permission denied\n")
		fmt.Fprintf(h.out, "Suggestion: Check file permissions and ensure you have read access\n")
		return 2
	case h.isDiskFullError(err):
		fmt.Fprintf(h.out, "Error: Insufficient disk space\n")
		fmt.Fprintf(h.out, "Suggestion: Free up disk space and try again\n")
		return 2
	}

	fmt.Fprintf(h.out, "Error: %v\n", err)
	return 1
}

func (h *CLIErrorHandler) getCategoryHelp(category errors.ErrorCategory) string {
	switch category {
	case errors.CategoryFile:
		return `File error help:
• Check that the export exists and is readable
• Split very large exports; uploads are capped by upload.max_bytes`

	case errors.CategoryParse, errors.CategoryValidation:
		return `Input help:
• Upload the marketplace CSV export unchanged, with its header row
• Every dataset needs an order line id column
• Periods are written YYYY-MM, for example 2024-01
• Dataset types are order, cancel, return, return-charge and payment`

	case errors.CategoryConfiguration:
		return `Configuration help:
• Check flags, RECONCILER_* variables, the .env file and --config
• store.driver is memory or mysql; mysql needs store.dsn
• The memory store only serves 'serve' and 'reconcile --dir'
• Use 'reconciler <command> --help' to see the available options`

	case errors.CategoryStorage:
		return `Storage help:
• Check that the database is reachable and the DSN is correct
• Another reconciliation of the same period may hold the lock; retry shortly`

	default:
		return ""
	}
}

func (h *CLIErrorHandler) isFileNotFoundError(err error) bool {
	return os.IsNotExist(err) || strings.Contains(err.Error(), "no such file or directory")
}

func (h *CLIErrorHandler) isPermissionError(err error) bool {
	return os.IsPermission(err) || strings.Contains(err.Error(), "permission denied")
}

func (h *CLIErrorHandler) isDiskFullError(err error) bool {
	if err == syscall.ENOSPC {
		return true
	}
	errStr := strings.ToLower(err.Error())
	return strings.Contains(errStr, "no space left") ||
		strings.Contains(errStr, "disk full") ||
		strings.Contains(errStr, "device full")
}

// FormatRowIssues lists skipped upload rows, at most maxListedIssues of them.
func FormatRowIssues(issues []errors.RowIssue) string {
	if len(issues) == 0 {
		return ""
	}

	var lines []string
	lines = append(lines, fmt.Sprintf("Found %d row issues:", len(issues)))
	for i, issue := range issues {
		if i == maxListedIssues {
			lines = append(lines, fmt.Sprintf("  ... and %d more", len(issues)-maxListedIssues))
			break
		}
		lines = append(lines, fmt.Sprintf("  row %d: %s", issue.Line, issue.Reason))
	}
	return strings.Join(lines, "\n")
}
