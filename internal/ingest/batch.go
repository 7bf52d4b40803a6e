package ingest

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/sync/errgroup"

	"settlement-reconciler/internal/models"
	"settlement-reconciler/pkg/errors"
	"settlement-reconciler/pkg/logger"
)

// DefaultBatchConcurrency bounds how many uploads of a batch run at once.
const DefaultBatchConcurrency = 4

// UploadBatch ingests several uploads concurrently, at most limit at a time.
// Reports come back in input order. The first failure cancels the uploads
// that have not started and is returned unmodified.
func (s *Service) UploadBatch(ctx context.Context, uploads []Upload, limit int) ([]*Report, error) {
	if limit <= 0 {
		limit = DefaultBatchConcurrency
	}

	reports := make([]*Report, len(uploads))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for i, u := range uploads {
		i, u := i, u
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			report, err := s.Upload(gctx, u)
			if err != nil {
				return err
			}
			reports[i] = report
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return reports, nil
}

// UploadDir ingests the dataset exports found in dir, matched by their
// conventional file names regardless of case. Datasets without a file are
// skipped; a directory with none of them is an error.
func (s *Service) UploadDir(ctx context.Context, dir, period string) ([]*Report, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.FileError(errors.CodeFileNotFound, dir, err)
		}
		return nil, errors.FileError(errors.CodeReadFailed, dir, err)
	}

	byName := make(map[string]string, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			byName[strings.ToLower(e.Name())] = e.Name()
		}
	}

	var uploads []Upload
	for _, dataset := range models.DatasetTypes {
		name, ok := byName[strings.ToLower(dataset.FileName())]
		if !ok {
			continue
		}
		path := filepath.Join(dir, name)
		data, err := s.readFile(path)
		if err != nil {
			return nil, err
		}
		uploads = append(uploads, Upload{Dataset: dataset, Name: path, Data: data, Period: period})
	}
	if len(uploads) == 0 {
		return nil, errors.FileError(errors.CodeFileNotFound, filepath.Join(dir, models.DatasetOrder.FileName()), nil).
			WithSuggestion("name the exports ORDER.csv, CANCEL.csv, RETURN.csv, RETURN_CHARGE.csv and PAYMENT.csv")
	}

	s.logger.WithContext(ctx).WithFields(logger.Fields{
		"dir":   dir,
		"files": len(uploads),
	}).Info("Uploading export directory")
	return s.UploadBatch(ctx, uploads, DefaultBatchConcurrency)
}
