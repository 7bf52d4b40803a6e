package api

import (
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"

	"settlement-reconciler/internal/ingest"
	"settlement-reconciler/internal/models"
	"settlement-reconciler/internal/reconciler"
	"settlement-reconciler/internal/store"
	"settlement-reconciler/internal/store/memory"
	"settlement-reconciler/pkg/logger"
)

const fixtureDir = "../../testdata/fixtures"

func init() {
	gin.SetMode(gin.TestMode)
}

func newTestServer(st store.Store) *Server {
	cfg := DefaultConfig()
	cfg.RateLimit = 0
	return newTestServerWithConfig(st, cfg)
}

func newTestServerWithConfig(st store.Store, cfg Config) *Server {
	log := logger.NewNop()
	srv := NewServer(cfg, st,
		ingest.NewService(st, ingest.WithLogger(log)),
		reconciler.NewEngine(st, reconciler.WithLogger(log)),
		reconciler.NewAggregator(st, reconciler.WithRetry(0, 0), reconciler.WithAggregatorLogger(log)),
		log,
	)
	srv.clock = func() time.Time { return time.Date(2024, 2, 10, 9, 0, 0, 0, time.UTC) }
	return srv
}

func do(t *testing.T, h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func uploadRequest(t *testing.T, dataset, name string, data []byte, period string) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	if name != "" {
		fw, err := mw.CreateFormFile("file", name)
		if err != nil {
			t.Fatalf("CreateFormFile() error = %v", err)
		}
		fw.Write(data)
	}
	if period != "" {
		mw.WriteField("period", period)
	}
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/api/upload/"+dataset, &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func uploadFixture(t *testing.T, h http.Handler, dataset, file, period string) {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(fixtureDir, file))
	if err != nil {
		t.Fatalf("read fixture: %v", err)
	}
	w := do(t, h, uploadRequest(t, dataset, file, data, period))
	if w.Code != http.StatusOK {
		t.Fatalf("upload %s status = %d, body = %s", file, w.Code, w.Body.String())
	}
}

func uploadAll(t *testing.T, h http.Handler, period string) {
	t.Helper()
	uploadFixture(t, h, "order", "ORDER.csv", period)
	uploadFixture(t, h, "cancel", "CANCEL.csv", "")
	uploadFixture(t, h, "return", "RETURN.csv", "")
	uploadFixture(t, h, "return-charge", "RETURN_CHARGE.csv", "")
	uploadFixture(t, h, "payment", "PAYMENT.csv", "")
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.Unmarshal(w.Body.Bytes(), v); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
}

func TestHealth(t *testing.T) {
	h := newTestServer(memory.New()).Router()
	w := do(t, h, httptest.NewRequest(http.MethodGet, "/api/health", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var body map[string]interface{}
	decode(t, w, &body)
	if body["status"] != "ok" {
		t.Errorf("status field = %v", body["status"])
	}
	if w.Header().Get(correlationHeader) == "" {
		t.Error("missing correlation id header")
	}
}

func TestUploadEndpoint(t *testing.T) {
	st := memory.New()
	h := newTestServer(st).Router()

	data := []byte("order_line_id,customer_paid_amt\nP1,100\n,5\nP2,200\n")
	w := do(t, h, uploadRequest(t, "payment", "p.csv", data, ""))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	var resp uploadResponse
	decode(t, w, &resp)
	if !resp.Success || resp.Count != 2 || resp.Message != "Uploaded 2 payments" {
		t.Errorf("response = %+v", resp)
	}
	if resp.Skipped != 1 || len(resp.Issues) != 1 {
		t.Errorf("skipped = %d issues = %v, want 1 and 1", resp.Skipped, resp.Issues)
	}

	w = do(t, h, httptest.NewRequest(http.MethodGet, "/api/upload/status", nil))
	var counts models.TableCounts
	decode(t, w, &counts)
	if counts.Payments != 2 {
		t.Errorf("payments = %d, want 2", counts.Payments)
	}
}

func TestUploadRejected(t *testing.T) {
	tests := []struct {
		name    string
		dataset string
		file    string
		data    string
		period  string
		message string
	}{
		{"no file", "order", "", "", "", "No file uploaded"},
		{"empty file", "payment", "p.csv", "", "", "CSV file is empty or could not be parsed"},
		{"unknown type", "refund", "r.csv", "a\n1\n", "", "unknown dataset type 'refund'"},
		{"bad period", "order", "o.csv", "order line id\nX\n", "2024-13", "invalid period '2024-13': expected YYYY-MM"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newTestServer(memory.New()).Router()
			w := do(t, h, uploadRequest(t, tt.dataset, tt.file, []byte(tt.data), tt.period))
			if w.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400, body = %s", w.Code, w.Body.String())
			}
			var body map[string]string
			decode(t, w, &body)
			if body["error"] != tt.message {
				t.Errorf("error = %q, want %q", body["error"], tt.message)
			}
		})
	}
}

func TestReconcileFlow(t *testing.T) {
	st := memory.New()
	h := newTestServer(st).Router()
	uploadAll(t, h, "2024-01")

	req := httptest.NewRequest(http.MethodPost, "/api/reconcile", strings.NewReader(`{"period":"2024-01"}`))
	req.Header.Set("Content-Type", "application/json")
	w := do(t, h, req)
	if w.Code != http.StatusOK {
		t.Fatalf("reconcile status = %d, body = %s", w.Code, w.Body.String())
	}
	var rec struct {
		Success      bool                `json:"success"`
		Message      string              `json:"message"`
		Period       string              `json:"period"`
		Count        int                 `json:"count"`
		StatusCounts models.StatusCounts `json:"statusCounts"`
	}
	decode(t, w, &rec)
	if !rec.Success || rec.Count != 7 || rec.Message != "Reconciliation completed for 2024-01" {
		t.Errorf("reconcile response = %+v", rec)
	}
	if rec.StatusCounts[models.ItemStatusDelivered] != 2 || rec.StatusCounts[models.ItemStatusInTransit] != 1 {
		t.Errorf("statusCounts = %v", rec.StatusCounts)
	}

	w = do(t, h, httptest.NewRequest(http.MethodGet, "/api/summary?period=2024-01", nil))
	var summary models.Summary
	decode(t, w, &summary)
	if summary.TotalOrders != 7 || summary.Pending != 4 || !summary.TotalDifference.Equal(decimal.NewFromInt(-250)) {
		t.Errorf("summary = %+v", summary)
	}

	w = do(t, h, httptest.NewRequest(http.MethodGet, "/api/reconciliation-table?page=2&pageSize=3", nil))
	var table struct {
		Data       []models.ReconciliationResult `json:"data"`
		Count      int64                         `json:"count"`
		Pagination pagination                    `json:"pagination"`
	}
	decode(t, w, &table)
	if len(table.Data) != 3 || table.Count != 7 {
		t.Errorf("page 2 = %d rows of %d, want 3 of 7", len(table.Data), table.Count)
	}
	if table.Pagination != (pagination{Page: 2, PageSize: 3, Total: 7, TotalPages: 3}) {
		t.Errorf("pagination = %+v", table.Pagination)
	}

	w = do(t, h, httptest.NewRequest(http.MethodGet, "/api/reconciliation-table?status=Returned", nil))
	decode(t, w, &table)
	if table.Count != 1 || table.Data[0].ItemStatus != models.ItemStatusReturned {
		t.Errorf("Returned filter = %+v", table.Data)
	}

	w = do(t, h, httptest.NewRequest(http.MethodGet, "/api/periods", nil))
	var periods map[string][]string
	decode(t, w, &periods)
	if len(periods["periods"]) != 1 || periods["periods"][0] != "2024-01" {
		t.Errorf("periods = %v", periods)
	}
}

func TestReconcileDefaultsToCurrentPeriod(t *testing.T) {
	h := newTestServer(memory.New()).Router()
	w := do(t, h, httptest.NewRequest(http.MethodPost, "/api/reconcile", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	var body map[string]interface{}
	decode(t, w, &body)
	if body["period"] != "2024-02" || body["count"] != float64(0) {
		t.Errorf("response = %v", body)
	}
}

func TestBadRequests(t *testing.T) {
	tests := []struct {
		name   string
		method string
		target string
		body   string
	}{
		{"reconcile bad period", http.MethodPost, "/api/reconcile", `{"period":"Jan-2024"}`},
		{"reconcile bad json", http.MethodPost, "/api/reconcile", `{"period":`},
		{"summary bad period", http.MethodGet, "/api/summary?period=2024-1", ""},
		{"table unknown status", http.MethodGet, "/api/reconciliation-table?status=Lost", ""},
		{"table page size", http.MethodGet, "/api/reconciliation-table?pageSize=5000", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newTestServer(memory.New()).Router()
			req := httptest.NewRequest(tt.method, tt.target, strings.NewReader(tt.body))
			if tt.body != "" {
				req.Header.Set("Content-Type", "application/json")
			}
			w := do(t, h, req)
			if w.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400, body = %s", w.Code, w.Body.String())
			}
		})
	}
}

type brokenStore struct {
	*memory.Store
	err error
}

func (b *brokenStore) ListResults(ctx context.Context, filter store.ResultFilter) ([]models.ReconciliationResult, int64, error) {
	return nil, 0, b.err
}

func (b *brokenStore) Counts(ctx context.Context) (models.TableCounts, error) {
	return models.TableCounts{}, b.err
}

func TestStorageErrorsAre500(t *testing.T) {
	storeErr := stderrors.New("Error 1045: Access denied for user 'recon'@'localhost'")
	h := newTestServer(&brokenStore{Store: memory.New(), err: storeErr}).Router()

	for _, target := range []string{"/api/summary", "/api/reconciliation-table", "/api/upload/status"} {
		t.Run(target, func(t *testing.T) {
			w := do(t, h, httptest.NewRequest(http.MethodGet, target, nil))
			if w.Code != http.StatusInternalServerError {
				t.Fatalf("status = %d, want 500", w.Code)
			}
			var body map[string]string
			decode(t, w, &body)
			if body["error"] != storeErr.Error() {
				t.Errorf("error = %q, want %q", body["error"], storeErr.Error())
			}
		})
	}
}

func TestExportExcel(t *testing.T) {
	h := newTestServer(memory.New()).Router()
	uploadAll(t, h, "2024-01")
	req := httptest.NewRequest(http.MethodPost, "/api/reconcile", strings.NewReader(`{"period":"2024-01"}`))
	req.Header.Set("Content-Type", "application/json")
	do(t, h, req)

	w := do(t, h, httptest.NewRequest(http.MethodGet, "/api/export/excel?period=2024-01", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	if got := w.Header().Get("Content-Disposition"); got != "attachment; filename=myntra_reconciliation_2024-01.xlsx" {
		t.Errorf("Content-Disposition = %q", got)
	}

	f, err := excelize.OpenReader(bytes.NewReader(w.Body.Bytes()))
	if err != nil {
		t.Fatalf("OpenReader() error = %v", err)
	}
	defer f.Close()
	rows, err := f.GetRows("Reconciliation")
	if err != nil {
		t.Fatalf("GetRows() error = %v", err)
	}
	if len(rows) != 8 {
		t.Errorf("detail rows = %d, want header + 7", len(rows))
	}
}

func TestClearEndpoints(t *testing.T) {
	st := memory.New()
	h := newTestServer(st).Router()
	uploadAll(t, h, "2024-01")
	req := httptest.NewRequest(http.MethodPost, "/api/reconcile", strings.NewReader(`{"period":"2024-01"}`))
	req.Header.Set("Content-Type", "application/json")
	do(t, h, req)

	w := do(t, h, httptest.NewRequest(http.MethodDelete, "/api/clear/staging", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("clear staging status = %d", w.Code)
	}
	counts, _ := st.Counts(context.Background())
	if counts.Orders != 0 || counts.Payments != 0 || counts.ReconciliationResults != 7 {
		t.Errorf("after staging clear counts = %+v", counts)
	}

	w = do(t, h, httptest.NewRequest(http.MethodDelete, "/api/clear", nil))
	var body map[string]string
	decode(t, w, &body)
	if body["message"] != "All data cleared" {
		t.Errorf("message = %q", body["message"])
	}
	counts, _ = st.Counts(context.Background())
	if counts != (models.TableCounts{}) {
		t.Errorf("after clear counts = %+v", counts)
	}

	w = do(t, h, httptest.NewRequest(http.MethodGet, "/api/summary", nil))
	var summary models.Summary
	decode(t, w, &summary)
	if summary.TotalOrders != 0 {
		t.Errorf("summary after clear = %+v", summary)
	}
}

func TestNoRoute(t *testing.T) {
	h := newTestServer(memory.New()).Router()
	w := do(t, h, httptest.NewRequest(http.MethodGet, "/api/unknown", nil))
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}

func TestRateLimit(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RateLimit, cfg.RateBurst = 0.001, 2
	h := newTestServerWithConfig(memory.New(), cfg).Router()

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		codes = append(codes, do(t, h, httptest.NewRequest(http.MethodGet, "/api/periods", nil)).Code)
	}
	want := []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}
	for i := range want {
		if codes[i] != want[i] {
			t.Errorf("request %d status = %d, want %d", i+1, codes[i], want[i])
		}
	}

	if w := do(t, h, httptest.NewRequest(http.MethodGet, "/api/health", nil)); w.Code != http.StatusOK {
		t.Errorf("health status = %d, want 200 while throttled", w.Code)
	}
}
