// Package reporter renders reconciliation results and summaries.
//
// Supported output formats:
//   - Console: human-readable summary with an optional detail table
//   - JSON: structured data for programmatic consumption
//   - CSV: the detail rows for spreadsheet tools
//   - XLSX: a workbook with a "Reconciliation" detail sheet and a "Summary"
//     sheet of label/value rows
//
// Example usage:
//
//	generator, err := reporter.NewReportGenerator(&reporter.ReportConfig{Format: reporter.FormatXLSX})
//	err = generator.GenerateReport(&reporter.Report{Period: "2024-01", Summary: summary, Results: rows}, w)
package reporter

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"

	"settlement-reconciler/internal/models"
)

// OutputFormat represents the supported report output formats.
type OutputFormat string

const (
	FormatConsole OutputFormat = "console"
	FormatJSON    OutputFormat = "json"
	FormatCSV     OutputFormat = "csv"
	FormatXLSX    OutputFormat = "xlsx"
)

// Sheet names of the exported workbook.
const (
	DetailSheet  = "Reconciliation"
	SummarySheet = "Summary"
)

// IsValid checks if the output format is supported
func (f OutputFormat) IsValid() bool {
	switch f {
	case FormatConsole, FormatJSON, FormatCSV, FormatXLSX:
		return true
	default:
		return false
	}
}

// ContentType is the MIME type served for the format.
func (f OutputFormat) ContentType() string {
	switch f {
	case FormatJSON:
		return "application/json"
	case FormatCSV:
		return "text/csv"
	case FormatXLSX:
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	default:
		return "text/plain; charset=utf-8"
	}
}

// Extension is the file extension for the format, without the dot.
func (f OutputFormat) Extension() string {
	if f == FormatConsole {
		return "txt"
	}
	return string(f)
}

// ExportFilename names an export file: the period when given, otherwise
// today's date.
func ExportFilename(period string, format OutputFormat, now time.Time) string {
	stamp := period
	if stamp == "" {
		stamp = now.Format("2006-01-02")
	}
	return fmt.Sprintf("myntra_reconciliation_%s.%s", stamp, format.Extension())
}

// DetailHeaders are the column titles of the detail sheet and CSV export.
var DetailHeaders = []string{
	"Order Line ID",
	"Order Release ID",
	"SKU",
	"Style Name",
	"Status",
	"Final Amount",
	"Customer Paid",
	"Expected Settlement",
	"Actual Settlement",
	"Return Charge",
	"Net Settlement",
	"Difference",
	"Reconciliation Status",
}

// ReportConfig holds configuration options for report generation
type ReportConfig struct {
	Format OutputFormat `json:"format"`

	// IncludeDetails adds per-line rows to console and JSON output. CSV and
	// XLSX always carry them.
	IncludeDetails bool `json:"include_details"`

	// Console formatting options
	MaxConsoleRows int `json:"max_console_rows"`

	// CSV options
	CSVDelimiter rune `json:"csv_delimiter"`
	CSVHeaders   bool `json:"csv_headers"`
}

// DefaultReportConfig returns a default report configuration
func DefaultReportConfig() *ReportConfig {
	return &ReportConfig{
		Format:         FormatConsole,
		IncludeDetails: false,
		MaxConsoleRows: 50,
		CSVDelimiter:   ',',
		CSVHeaders:     true,
	}
}

// Validate validates the report configuration
func (c *ReportConfig) Validate() error {
	if !c.Format.IsValid() {
		return fmt.Errorf("invalid output format: %s", c.Format)
	}
	if c.MaxConsoleRows < 0 {
		return fmt.Errorf("max console rows must not be negative, got %d", c.MaxConsoleRows)
	}
	return nil
}

// Report is the input of every generator: a summary plus, optionally, the
// rows it was computed from.
type Report struct {
	Period      string                        `json:"period,omitempty"`
	GeneratedAt time.Time                     `json:"generated_at"`
	Summary     *models.Summary               `json:"summary"`
	Results     []models.ReconciliationResult `json:"results,omitempty"`
}

// ReportGenerator generates reconciliation reports in various formats
type ReportGenerator struct {
	config *ReportConfig
}

// NewReportGenerator creates a new report generator with the specified configuration
func NewReportGenerator(config *ReportConfig) (*ReportGenerator, error) {
	if config == nil {
		config = DefaultReportConfig()
	}
	if config.CSVDelimiter == 0 {
		config.CSVDelimiter = ','
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid report configuration: %w", err)
	}
	return &ReportGenerator{config: config}, nil
}

// GenerateReport writes report to writer in the configured format.
func (rg *ReportGenerator) GenerateReport(report *Report, writer io.Writer) error {
	if report == nil || report.Summary == nil {
		return fmt.Errorf("report and its summary cannot be nil")
	}

	switch rg.config.Format {
	case FormatConsole:
		return rg.generateConsoleReport(report, writer)
	case FormatJSON:
		return rg.generateJSONReport(report, writer)
	case FormatCSV:
		return rg.generateCSVReport(report, writer)
	case FormatXLSX:
		return rg.generateXLSXReport(report, writer)
	default:
		return fmt.Errorf("unsupported output format: %s", rg.config.Format)
	}
}

func (rg *ReportGenerator) generateConsoleReport(report *Report, writer io.Writer) error {
	fmt.Fprintf(writer, "SETTLEMENT RECONCILIATION REPORT\n")
	if report.Period != "" {
		fmt.Fprintf(writer, "Period:    %s\n", report.Period)
	} else {
		fmt.Fprintf(writer, "Period:    all\n")
	}
	if !report.GeneratedAt.IsZero() {
		fmt.Fprintf(writer, "Generated: %s\n", report.GeneratedAt.Format(time.RFC3339))
	}
	fmt.Fprintf(writer, "\n")

	s := report.Summary
	fmt.Fprintf(writer, "=== ITEM STATUS ===\n")
	fmt.Fprintf(writer, "  Total:         %d\n", s.TotalOrders)
	rg.printCount(writer, "Delivered", s.Delivered, s.TotalOrders)
	rg.printCount(writer, "Cancelled", s.Cancelled, s.TotalOrders)
	rg.printCount(writer, "Returned", s.Returned, s.TotalOrders)
	rg.printCount(writer, "RTO", s.RTO, s.TotalOrders)
	rg.printCount(writer, "In Transit", s.InTransit, s.TotalOrders)
	rg.printCount(writer, "Miscellaneous", s.Miscellaneous, s.TotalOrders)
	fmt.Fprintf(writer, "\n")

	fmt.Fprintf(writer, "=== SETTLEMENT ===\n")
	rg.printCount(writer, "Matched", s.Matched, s.TotalOrders)
	rg.printCount(writer, "Under Settled", s.UnderSettled, s.TotalOrders)
	rg.printCount(writer, "Over Settled", s.OverSettled, s.TotalOrders)
	rg.printCount(writer, "Pending", s.Pending, s.TotalOrders)
	fmt.Fprintf(writer, "\n")

	fmt.Fprintf(writer, "=== FINANCIAL SUMMARY ===\n")
	fmt.Fprintf(writer, "Total Customer Paid: %s\n", s.TotalCustomerPaid.StringFixed(2))
	fmt.Fprintf(writer, "Total Settled:       %s\n", s.TotalSettled.StringFixed(2))
	fmt.Fprintf(writer, "Total Difference:    %s\n", s.TotalDifference.StringFixed(2))

	if rg.config.IncludeDetails && len(report.Results) > 0 {
		fmt.Fprintf(writer, "\n=== DETAILS ===\n")
		rg.printDetails(report.Results, writer)
	}
	return nil
}

func (rg *ReportGenerator) printCount(writer io.Writer, label string, n, total int) {
	fmt.Fprintf(writer, "  %-14s %d (%.1f%%)\n", label+":", n, calculatePercentage(n, total))
}

func (rg *ReportGenerator) printDetails(rows []models.ReconciliationResult, writer io.Writer) {
	limit := len(rows)
	if rg.config.MaxConsoleRows > 0 && limit > rg.config.MaxConsoleRows {
		limit = rg.config.MaxConsoleRows
	}

	fmt.Fprintf(writer, "%-22s %-14s %12s %12s %-14s\n", "Order Line ID", "Status", "Net", "Difference", "Verdict")
	fmt.Fprintf(writer, "%s\n", strings.Repeat("-", 78))
	for _, r := range rows[:limit] {
		fmt.Fprintf(writer, "%-22s %-14s %12s %12s %-14s\n",
			truncate(r.OrderLineID, 22),
			truncate(statusLabel(r), 14),
			r.NetSettlement.StringFixed(2),
			r.Difference.StringFixed(2),
			r.ReconciliationStatus)
	}
	if limit < len(rows) {
		fmt.Fprintf(writer, "... and %d more\n", len(rows)-limit)
	}
}

func (rg *ReportGenerator) generateJSONReport(report *Report, writer io.Writer) error {
	out := *report
	if !rg.config.IncludeDetails {
		out.Results = nil
	}
	encoder := json.NewEncoder(writer)
	encoder.SetIndent("", "  ")
	return encoder.Encode(out)
}

func (rg *ReportGenerator) generateCSVReport(report *Report, writer io.Writer) error {
	csvWriter := csv.NewWriter(writer)
	csvWriter.Comma = rg.config.CSVDelimiter

	if rg.config.CSVHeaders {
		if err := csvWriter.Write(DetailHeaders); err != nil {
			return fmt.Errorf("failed to write CSV headers: %w", err)
		}
	}
	for _, r := range report.Results {
		if err := csvWriter.Write(detailStrings(r)); err != nil {
			return fmt.Errorf("failed to write record %s: %w", r.OrderLineID, err)
		}
	}
	csvWriter.Flush()
	return csvWriter.Error()
}

func (rg *ReportGenerator) generateXLSXReport(report *Report, writer io.Writer) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", DetailSheet); err != nil {
		return err
	}
	header := make([]interface{}, len(DetailHeaders))
	for i, h := range DetailHeaders {
		header[i] = h
	}
	if err := setRow(f, DetailSheet, 1, header); err != nil {
		return err
	}
	for i, r := range report.Results {
		if err := setRow(f, DetailSheet, i+2, detailCells(r)); err != nil {
			return fmt.Errorf("failed to write record %s: %w", r.OrderLineID, err)
		}
	}

	if _, err := f.NewSheet(SummarySheet); err != nil {
		return err
	}
	if err := setRow(f, SummarySheet, 1, []interface{}{"Metric", "Value"}); err != nil {
		return err
	}
	for i, row := range report.Summary.Rows() {
		if err := setRow(f, SummarySheet, i+2, []interface{}{row.Metric, row.Value}); err != nil {
			return err
		}
	}

	f.SetActiveSheet(0)
	return f.Write(writer)
}

func setRow(f *excelize.File, sheet string, row int, values []interface{}) error {
	cell, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return err
	}
	return f.SetSheetRow(sheet, cell, &values)
}

func money(d decimal.Decimal) float64 {
	return d.Round(2).InexactFloat64()
}

func statusLabel(r models.ReconciliationResult) string {
	if misc := r.MiscTypeString(); misc != "" {
		return fmt.Sprintf("%s (%s)", r.ItemStatus, misc)
	}
	return string(r.ItemStatus)
}

func detailCells(r models.ReconciliationResult) []interface{} {
	return []interface{}{
		r.OrderLineID,
		r.OrderReleaseID,
		r.SKUCode,
		r.StyleName,
		statusLabel(r),
		money(r.FinalAmount),
		money(r.CustomerPaidAmount),
		money(r.ExpectedSettlement),
		money(r.ActualSettlement),
		money(r.ReturnCharge),
		money(r.NetSettlement),
		money(r.Difference),
		string(r.ReconciliationStatus),
	}
}

func detailStrings(r models.ReconciliationResult) []string {
	return []string{
		r.OrderLineID,
		r.OrderReleaseID,
		r.SKUCode,
		r.StyleName,
		statusLabel(r),
		r.FinalAmount.StringFixed(2),
		r.CustomerPaidAmount.StringFixed(2),
		r.ExpectedSettlement.StringFixed(2),
		r.ActualSettlement.StringFixed(2),
		r.ReturnCharge.StringFixed(2),
		r.NetSettlement.StringFixed(2),
		r.Difference.StringFixed(2),
		string(r.ReconciliationStatus),
	}
}

func calculatePercentage(part, total int) float64 {
	if total == 0 {
		return 0
	}
	return float64(part) / float64(total) * 100
}

func truncate(s string, n int) string {
	if len([]rune(s)) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n-1]) + "…"
}

// GetConfiguration returns the generator's configuration.
func (rg *ReportGenerator) GetConfiguration() *ReportConfig {
	return rg.config
}
