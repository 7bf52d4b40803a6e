package api

import (
	"bytes"
	stderrors "errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"

	"settlement-reconciler/internal/ingest"
	"settlement-reconciler/internal/models"
	"settlement-reconciler/internal/reporter"
	"settlement-reconciler/internal/store"
	"settlement-reconciler/pkg/errors"
)

const (
	defaultPage     = 1
	defaultPageSize = 50
	allStatuses     = "All"
)

var validatorsOnce sync.Once

// registerValidators adds the "period" tag to gin's validator.
func registerValidators() {
	validatorsOnce.Do(func() {
		if v, ok := binding.Validator.Engine().(*validator.Validate); ok {
			_ = v.RegisterValidation("period", func(fl validator.FieldLevel) bool {
				return models.ValidatePeriod(fl.Field().String()) == nil
			})
		}
	})
}

type reconcileRequest struct {
	Period string `json:"period" binding:"omitempty,period"`
}

type periodQuery struct {
	Period string `form:"period" binding:"omitempty,period"`
}

type tableQuery struct {
	Page     int    `form:"page" binding:"omitempty,min=1"`
	PageSize int    `form:"pageSize" binding:"omitempty,min=1,max=1000"`
	Status   string `form:"status"`
	Period   string `form:"period" binding:"omitempty,period"`
}

type pagination struct {
	Page       int   `json:"page"`
	PageSize   int   `json:"pageSize"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"totalPages"`
}

type uploadResponse struct {
	Success bool              `json:"success"`
	Message string            `json:"message"`
	Count   int               `json:"count"`
	Skipped int               `json:"skipped,omitempty"`
	Issues  []errors.RowIssue `json:"issues,omitempty"`
}

// respondError writes {error} with the status of the error's category.
// Errors that are not ReconcilerErrors are internal and keep their message.
func (s *Server) respondError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	message := err.Error()
	if rerr, ok := errors.AsReconcilerError(err); ok {
		status = rerr.HTTPStatus()
		message = rerr.Message
	}
	_ = c.Error(err)
	c.AbortWithStatusJSON(status, gin.H{"error": message})
}

// bindError maps gin binding failures to validation errors.
func bindError(err error) error {
	var verrs validator.ValidationErrors
	if stderrors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		if fe.Tag() == "period" {
			return errors.ValidationError(errors.CodeInvalidPeriod, fe.Field(), fe.Value(), err)
		}
		return errors.ValidationError("", fe.Field(), fe.Value(), err)
	}
	return errors.Wrap(err, errors.CategoryValidation, errors.CodeInvalidFormat, err.Error())
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"timestamp": s.clock().UTC(),
	})
}

func (s *Server) uploadStatus(c *gin.Context) {
	counts, err := s.store.Counts(c.Request.Context())
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, counts)
}

func (s *Server) upload(c *gin.Context) {
	dataset, err := models.ParseDatasetType(c.Param("type"))
	if err != nil {
		s.respondError(c, errors.ValidationError(errors.CodeUnknownDataset, "type", c.Param("type"), err))
		return
	}

	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, s.cfg.MaxUploadBytes+1<<20)
	header, err := c.FormFile("file")
	if err != nil {
		s.respondError(c, errors.ValidationError(errors.CodeMissingFile, "file", nil, nil))
		return
	}
	if header.Size > s.cfg.MaxUploadBytes {
		s.respondError(c, errors.FileError(errors.CodeFileTooLarge, header.Filename, nil))
		return
	}

	file, err := header.Open()
	if err != nil {
		s.respondError(c, errors.FileError(errors.CodeReadFailed, header.Filename, err))
		return
	}
	defer file.Close()

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, file); err != nil {
		s.respondError(c, errors.FileError(errors.CodeReadFailed, header.Filename, err))
		return
	}

	report, err := s.ingest.Upload(c.Request.Context(), ingest.Upload{
		Dataset: dataset,
		Name:    header.Filename,
		Data:    buf.Bytes(),
		Period:  c.PostForm("period"),
	})
	if err != nil {
		s.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, uploadResponse{
		Success: true,
		Message: report.Message(),
		Count:   report.Count,
		Skipped: report.Skipped,
		Issues:  report.Issues,
	})
}

func (s *Server) reconcile(c *gin.Context) {
	var req reconcileRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil && err != io.EOF {
			s.respondError(c, bindError(err))
			return
		}
	}

	period, err := models.ResolvePeriod(req.Period, s.clock())
	if err != nil {
		s.respondError(c, errors.ValidationError(errors.CodeInvalidPeriod, "period", req.Period, err))
		return
	}

	result, err := s.engine.Reconcile(c.Request.Context(), period)
	if err != nil {
		s.respondError(c, err)
		return
	}
	s.aggregator.Invalidate()

	c.JSON(http.StatusOK, gin.H{
		"success":      true,
		"message":      fmt.Sprintf("Reconciliation completed for %s", period),
		"period":       result.Period,
		"count":        result.Count,
		"statusCounts": result.StatusCounts,
	})
}

func (s *Server) summary(c *gin.Context) {
	var q periodQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		s.respondError(c, bindError(err))
		return
	}
	summary, err := s.aggregator.Summarize(c.Request.Context(), q.Period)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, summary)
}

func (s *Server) reconciliationTable(c *gin.Context) {
	var q tableQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		s.respondError(c, bindError(err))
		return
	}
	if q.Page == 0 {
		q.Page = defaultPage
	}
	if q.PageSize == 0 {
		q.PageSize = defaultPageSize
	}

	filter := store.ResultFilter{
		Period: q.Period,
		Offset: (q.Page - 1) * q.PageSize,
		Limit:  q.PageSize,
	}
	if q.Status != "" && q.Status != allStatuses {
		status, err := models.ParseItemStatus(q.Status)
		if err != nil {
			s.respondError(c, errors.ValidationError("", "status", q.Status, err))
			return
		}
		filter.Status = status
	}

	rows, total, err := s.store.ListResults(c.Request.Context(), filter)
	if err != nil {
		s.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data":  rows,
		"count": total,
		"pagination": pagination{
			Page:       q.Page,
			PageSize:   q.PageSize,
			Total:      total,
			TotalPages: int(math.Ceil(float64(total) / float64(q.PageSize))),
		},
	})
}

func (s *Server) periods(c *gin.Context) {
	periods, err := s.store.Periods(c.Request.Context())
	if err != nil {
		s.respondError(c, err)
		return
	}
	if periods == nil {
		periods = []string{}
	}
	c.JSON(http.StatusOK, gin.H{"periods": periods})
}

func (s *Server) exportExcel(c *gin.Context) {
	var q periodQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		s.respondError(c, bindError(err))
		return
	}

	ctx := c.Request.Context()
	rows, _, err := s.store.ListResults(ctx, store.ResultFilter{Period: q.Period})
	if err != nil {
		s.respondError(c, err)
		return
	}
	summary, err := s.aggregator.Summarize(ctx, q.Period)
	if err != nil {
		s.respondError(c, err)
		return
	}

	generator, err := reporter.NewReportGenerator(&reporter.ReportConfig{Format: reporter.FormatXLSX})
	if err != nil {
		s.respondError(c, err)
		return
	}
	now := s.clock()
	var buf bytes.Buffer
	if err := generator.GenerateReport(&reporter.Report{
		Period:      q.Period,
		GeneratedAt: now,
		Summary:     summary,
		Results:     rows,
	}, &buf); err != nil {
		s.respondError(c, errors.InternalError(errors.CodeUnexpectedError, "export", err))
		return
	}

	filename := reporter.ExportFilename(q.Period, reporter.FormatXLSX, now)
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%s", filename))
	c.Data(http.StatusOK, reporter.FormatXLSX.ContentType(), buf.Bytes())
}

func (s *Server) clearAll(c *gin.Context) {
	if err := s.store.ClearAll(c.Request.Context()); err != nil {
		s.respondError(c, err)
		return
	}
	s.aggregator.Invalidate()
	c.JSON(http.StatusOK, gin.H{"message": "All data cleared"})
}

func (s *Server) clearStaging(c *gin.Context) {
	if err := s.store.ClearStaging(c.Request.Context()); err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Staging data cleared"})
}
