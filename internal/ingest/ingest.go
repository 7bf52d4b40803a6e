// Package ingest loads uploaded marketplace CSV exports into the dataset
// store: rows are read, normalized through the dataset's field map, turned
// into typed records and upserted by order_line_id.
package ingest

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"settlement-reconciler/internal/models"
	"settlement-reconciler/internal/parsers"
	"settlement-reconciler/internal/store"
	"settlement-reconciler/pkg/errors"
	"settlement-reconciler/pkg/logger"
)

// DefaultMaxUploadBytes caps a single upload.
const DefaultMaxUploadBytes int64 = 50 << 20

// Upload is one file submitted for a dataset.
type Upload struct {
	Dataset models.DatasetType
	Name    string
	Data    []byte
	// Period stamps uploaded order lines. It is ignored for other datasets
	// and may be empty.
	Period string
}

// Report describes a finished upload.
type Report struct {
	Dataset  models.DatasetType `json:"dataset"`
	Count    int                `json:"count"`
	RowsRead int                `json:"rows_read"`
	Skipped  int                `json:"skipped"`
	Parser   string             `json:"parser"`
	Issues   []errors.RowIssue  `json:"issues,omitempty"`
	Duration time.Duration      `json:"-"`
}

// Message is the human-readable upload confirmation.
func (r *Report) Message() string {
	return fmt.Sprintf("Uploaded %d %s", r.Count, r.Dataset.Noun())
}

// Service runs uploads against a store.
type Service struct {
	store     store.Store
	source    *parsers.Source
	logger    logger.Logger
	maxBytes  int64
	maxIssues int
}

// Option configures a Service.
type Option func(*Service)

// WithMaxBytes caps upload size. Zero or less keeps the default.
func WithMaxBytes(n int64) Option {
	return func(s *Service) {
		if n > 0 {
			s.maxBytes = n
		}
	}
}

// WithLogger sets the service logger.
func WithLogger(log logger.Logger) Option {
	return func(s *Service) {
		if log != nil {
			s.logger = log.WithComponent("ingest")
			s.source.WithLogger(log)
		}
	}
}

// WithParseConfig replaces the CSV source configuration.
func WithParseConfig(cfg *parsers.ParseConfig) Option {
	return func(s *Service) {
		s.source = parsers.NewSource(cfg).WithLogger(s.logger)
	}
}

// NewService creates an ingestion Service.
func NewService(st store.Store, opts ...Option) *Service {
	s := &Service{
		store:     st,
		source:    parsers.NewSource(parsers.DefaultParseConfig()),
		logger:    logger.GetGlobalLogger().WithComponent("ingest"),
		maxBytes:  DefaultMaxUploadBytes,
		maxIssues: 50,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Upload ingests one file. Empty or unreadable files are rejected before
// anything is written; rows without an order_line_id are skipped and
// reported. Store failures are returned as the store reported them.
func (s *Service) Upload(ctx context.Context, u Upload) (*Report, error) {
	start := time.Now()
	fm, err := parsers.FieldMapFor(u.Dataset)
	if err != nil {
		return nil, errors.ValidationError(errors.CodeUnknownDataset, "type", u.Dataset, err)
	}
	if int64(len(u.Data)) > s.maxBytes {
		return nil, errors.FileError(errors.CodeFileTooLarge, u.Name, nil).
			WithContext("size", len(u.Data)).
			WithContext("max_size", s.maxBytes)
	}
	if strings.TrimSpace(string(u.Data)) == "" {
		return nil, errors.ValidationError(errors.CodeEmptyFile, "file", u.Name, nil)
	}
	if u.Dataset == models.DatasetOrder && u.Period != "" {
		if err := models.ValidatePeriod(u.Period); err != nil {
			return nil, errors.ValidationError(errors.CodeInvalidPeriod, "period", u.Period, err)
		}
	}

	log := s.logger.WithContext(ctx).WithFields(logger.Fields{
		"dataset": string(u.Dataset),
		"file":    u.Name,
	})

	rows, stats, err := s.source.ReadRows(ctx, u.Name, u.Data)
	if err != nil {
		log.WithError(err).Warn("Upload could not be parsed")
		return nil, err
	}
	if len(rows) == 0 {
		return nil, errors.ValidationError(errors.CodeEmptyFile, "file", u.Name, nil)
	}
	if !hasKeyColumn(rows, fm) {
		return nil, errors.ValidationError(errors.CodeMissingColumn, fm.KeyHeader(), nil, nil)
	}

	issues := errors.NewRowIssueCollector(s.maxIssues)
	count, err := s.upsert(ctx, u, fm, rows, issues)
	if err != nil {
		log.WithError(err).Error("Upload failed to store rows")
		return nil, err
	}

	report := &Report{
		Dataset:  u.Dataset,
		Count:    count,
		RowsRead: len(rows),
		Skipped:  issues.Total(),
		Parser:   stats.Parser,
		Issues:   issues.Issues(),
		Duration: time.Since(start),
	}
	log.WithFields(logger.Fields{
		"rows_read": report.RowsRead,
		"stored":    report.Count,
		"skipped":   report.Skipped,
		"parser":    report.Parser,
	}).Info("Upload stored")
	return report, nil
}

// UploadFile reads path from disk and ingests it.
func (s *Service) UploadFile(ctx context.Context, dataset models.DatasetType, path, period string) (*Report, error) {
	data, err := s.readFile(path)
	if err != nil {
		return nil, err
	}
	return s.Upload(ctx, Upload{Dataset: dataset, Name: path, Data: data, Period: period})
}

// readFile loads path, enforcing the size cap before reading.
func (s *Service) readFile(path string) ([]byte, error) {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.FileError(errors.CodeFileNotFound, path, err)
		}
		if os.IsPermission(err) {
			return nil, errors.FileError(errors.CodeFilePermission, path, err)
		}
		return nil, errors.FileError(errors.CodeReadFailed, path, err)
	}
	if info.Size() > s.maxBytes {
		return nil, errors.FileError(errors.CodeFileTooLarge, path, nil).
			WithContext("size", info.Size()).
			WithContext("max_size", s.maxBytes)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsPermission(err) {
			return nil, errors.FileError(errors.CodeFilePermission, path, err)
		}
		return nil, errors.FileError(errors.CodeReadFailed, path, err)
	}
	return data, nil
}

func hasKeyColumn(rows []parsers.Row, fm parsers.FieldMap) bool {
	for _, row := range rows {
		headers := make([]string, 0, len(row))
		for h := range row {
			headers = append(headers, h)
		}
		if fm.HasKeyColumn(headers) {
			return true
		}
	}
	return false
}

// convert normalizes every row and keeps the ones with a key. Row numbers
// in issues are 1-based data rows.
func convert[T any](rows []parsers.Row, fm parsers.FieldMap, issues *errors.RowIssueCollector, to func(parsers.Record) (T, bool)) []T {
	out := make([]T, 0, len(rows))
	for i, row := range rows {
		v, ok := to(parsers.Normalize(row, fm))
		if !ok {
			issues.Add(i+1, fmt.Sprintf("missing %s", fm.KeyField))
			continue
		}
		out = append(out, v)
	}
	return out
}

func (s *Service) upsert(ctx context.Context, u Upload, fm parsers.FieldMap, rows []parsers.Row, issues *errors.RowIssueCollector) (int, error) {
	switch u.Dataset {
	case models.DatasetOrder:
		orders := convert(rows, fm, issues, func(r parsers.Record) (models.OrderLine, bool) {
			return parsers.ToOrderLine(r, u.Period)
		})
		return s.store.UpsertOrders(ctx, orders)
	case models.DatasetCancel:
		return s.store.UpsertCancellations(ctx, convert(rows, fm, issues, parsers.ToCancellation))
	case models.DatasetReturn:
		return s.store.UpsertReturns(ctx, convert(rows, fm, issues, parsers.ToReturn))
	case models.DatasetReturnCharge:
		return s.store.UpsertReturnCharges(ctx, convert(rows, fm, issues, parsers.ToReturnCharge))
	case models.DatasetPayment:
		return s.store.UpsertPayments(ctx, convert(rows, fm, issues, parsers.ToPayment))
	}
	return 0, errors.ValidationError(errors.CodeUnknownDataset, "type", u.Dataset, nil)
}
