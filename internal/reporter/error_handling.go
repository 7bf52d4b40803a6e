package reporter

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"settlement-reconciler/pkg/errors"
	"settlement-reconciler/pkg/logger"
)

// SafeReportGenerator wraps ReportGenerator with logging, typed errors and
// a backup location for file output.
type SafeReportGenerator struct {
	*ReportGenerator
	logger    logger.Logger
	backupDir string
}

// NewSafeReportGenerator creates a new safe report generator with error handling
func NewSafeReportGenerator(config *ReportConfig, log logger.Logger) (*SafeReportGenerator, error) {
	if log == nil {
		log = logger.GetGlobalLogger()
	}

	generator, err := NewReportGenerator(config)
	if err != nil {
		return nil, errors.ConfigurationError(
			errors.CodeInvalidConfig,
			"report_config",
			config,
			err,
		).WithSuggestion("Check the report configuration values")
	}

	return &SafeReportGenerator{
		ReportGenerator: generator,
		logger:          log.WithComponent("reporter"),
		backupDir:       os.TempDir(),
	}, nil
}

// GenerateReportSafely validates the inputs, generates the report and
// returns failures as ReconcilerErrors.
func (srg *SafeReportGenerator) GenerateReportSafely(report *Report, writer io.Writer) error {
	srg.logger.WithFields(logger.Fields{
		"format": srg.config.Format,
		"output": getWriterDescription(writer),
	}).Debug("Starting report generation")

	if err := srg.validateInputs(report, writer); err != nil {
		srg.logger.WithError(err).Error("Report generation failed: input validation")
		return err
	}

	if err := srg.GenerateReport(report, writer); err != nil {
		srg.logger.WithError(err).Error("Report generation failed")
		return srg.wrapGenerationError(err)
	}

	srg.logger.WithField("rows", len(report.Results)).Debug("Report generation completed")
	return nil
}

// WriteFile writes the report to path through a temporary file in the same
// directory, so a failed write never leaves a truncated report behind. When
// the destination cannot be written the report goes to a backup file in the
// temp directory and its path is returned.
func (srg *SafeReportGenerator) WriteFile(report *Report, path string) (string, error) {
	if err := srg.validateInputs(report, io.Discard); err != nil {
		return "", err
	}

	err := srg.writeAtomic(report, path)
	if err == nil {
		return path, nil
	}
	if !srg.isFileError(err) {
		return "", srg.wrapGenerationError(err)
	}

	backupPath := srg.generateBackupPath(path)
	srg.logger.WithFields(logger.Fields{
		"original_file": path,
		"backup_file":   backupPath,
	}).WithError(err).Warn("Attempting output fallback")

	if backupErr := srg.writeAtomic(report, backupPath); backupErr != nil {
		return "", errors.InternalError(
			errors.CodeUnexpectedError,
			"report_output_fallback",
			fmt.Errorf("both primary and backup output failed: primary=%v, backup=%v", err, backupErr),
		)
	}
	srg.logger.WithField("backup_file", backupPath).Warn("Report saved to backup location")
	return backupPath, nil
}

func (srg *SafeReportGenerator) writeAtomic(report *Report, path string) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if err := srg.GenerateReport(report, tmp); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}

func (srg *SafeReportGenerator) validateInputs(report *Report, writer io.Writer) error {
	if report == nil || report.Summary == nil {
		return errors.ValidationError(
			errors.CodeMissingConfig,
			"report",
			nil,
			nil,
		).WithSuggestion("Provide a report with a summary")
	}
	if writer == nil {
		return errors.ValidationError(
			errors.CodeMissingConfig,
			"writer",
			nil,
			nil,
		).WithSuggestion("Provide a valid output writer")
	}
	return nil
}

func (srg *SafeReportGenerator) isFileError(err error) bool {
	return os.IsPermission(err) ||
		os.IsNotExist(err) ||
		os.IsExist(err) ||
		isSpaceError(err)
}

func (srg *SafeReportGenerator) generateBackupPath(originalPath string) string {
	base := filepath.Base(originalPath)
	ext := filepath.Ext(base)
	name := strings.TrimSuffix(base, ext)
	return filepath.Join(srg.backupDir, fmt.Sprintf("%s_backup%s", name, ext))
}

func (srg *SafeReportGenerator) wrapGenerationError(err error) error {
	if reconcilerErr, ok := errors.AsReconcilerError(err); ok {
		return reconcilerErr
	}
	return errors.InternalError(
		errors.CodeUnexpectedError,
		"report_generation",
		err,
	).WithSuggestion("Check the output destination and report format settings")
}

func getWriterDescription(writer io.Writer) string {
	switch w := writer.(type) {
	case *os.File:
		if w.Name() != "" {
			return fmt.Sprintf("file:%s", w.Name())
		}
		return "file:unnamed"
	default:
		return fmt.Sprintf("writer:%T", writer)
	}
}

func isSpaceError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "no space left") ||
		strings.Contains(msg, "disk full") ||
		strings.Contains(msg, "device full")
}
