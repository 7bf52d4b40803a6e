// Package generator builds synthetic marketplace exports with a known
// reconciliation outcome per order line. The files use the same headers as a
// real seller-panel download so they go through the normal upload path.
package generator

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"settlement-reconciler/internal/models"
	"settlement-reconciler/pkg/errors"
)

// Scenario is the story a generated order line tells.
type Scenario string

const (
	ScenarioMatched        Scenario = "matched"
	ScenarioUnderSettled   Scenario = "under-settled"
	ScenarioOverSettled    Scenario = "over-settled"
	ScenarioUnpaidDelivery Scenario = "unpaid-delivery"
	ScenarioCancelled      Scenario = "cancelled"
	ScenarioReturned       Scenario = "returned"
	ScenarioReturnNoCharge Scenario = "return-no-charge"
	ScenarioRTO            Scenario = "rto"
	ScenarioInTransit      Scenario = "in-transit"
)

// Scenarios lists every scenario in generation order.
var Scenarios = []Scenario{
	ScenarioMatched,
	ScenarioUnderSettled,
	ScenarioOverSettled,
	ScenarioUnpaidDelivery,
	ScenarioCancelled,
	ScenarioReturned,
	ScenarioReturnNoCharge,
	ScenarioRTO,
	ScenarioInTransit,
}

// Expectation is the classification and verdict a scenario must produce.
type Expectation struct {
	Status  models.ItemStatus
	Verdict models.ReconciliationStatus
}

// Expect returns the outcome reconciliation should reach for s.
func (s Scenario) Expect() Expectation {
	switch s {
	case ScenarioMatched:
		return Expectation{models.ItemStatusDelivered, models.ReconciliationMatched}
	case ScenarioUnderSettled:
		return Expectation{models.ItemStatusDelivered, models.ReconciliationUnderSettled}
	case ScenarioOverSettled:
		return Expectation{models.ItemStatusDelivered, models.ReconciliationOverSettled}
	case ScenarioUnpaidDelivery:
		return Expectation{models.ItemStatusMiscellaneous, models.ReconciliationPending}
	case ScenarioCancelled:
		return Expectation{models.ItemStatusCancelled, models.ReconciliationPending}
	case ScenarioReturned:
		return Expectation{models.ItemStatusReturned, models.ReconciliationOverSettled}
	case ScenarioReturnNoCharge:
		return Expectation{models.ItemStatusMiscellaneous, models.ReconciliationMatched}
	case ScenarioRTO:
		return Expectation{models.ItemStatusRTO, models.ReconciliationPending}
	default:
		return Expectation{models.ItemStatusInTransit, models.ReconciliationPending}
	}
}

// ParseScenario accepts a scenario name.
func ParseScenario(s string) (Scenario, error) {
	for _, known := range Scenarios {
		if Scenario(s) == known {
			return known, nil
		}
	}
	return "", fmt.Errorf("unknown scenario %q", s)
}

// Config controls a generation run. Weights default to one per scenario; a
// zero weight leaves the scenario out.
type Config struct {
	Orders  int
	Period  string
	Seed    int64
	Weights map[Scenario]int
}

// Line is one generated order line and the scenario behind it.
type Line struct {
	OrderLineID string
	Scenario    Scenario
}

// Dataset holds the rendered CSV files and the lines they describe.
type Dataset struct {
	Period string
	Seed   int64
	Lines  []Line
	Files  map[models.DatasetType][]byte
}

var (
	orderHeader = []string{
		"Order Line ID", "Order Release ID", "Seller SKU Code", "Style Name", "Brand",
		"Order Status", "Final Amount", "Total MRP", "Discount",
		"Delivered On", "Cancelled On", "Return Creation Date",
	}
	cancelHeader = []string{
		"order line id", "order release id", "cancellation reason", "cancellation type", "order cancellation date",
	}
	returnHeader = []string{
		"order_line_id", "order_id", "return_reason", "status", "return_created_date", "refunded_date", "return_id",
	}
	returnChargeHeader = []string{
		"order_line_id", "order_release_id", "return_type", "total_settlement", "total_actual_settlement",
	}
	paymentHeader = []string{
		"order_line_id", "order_release_id", "customer_paid_amt", "seller_product_amount",
		"total_expected_settlement", "total_actual_settlement", "amount_pending_settlement",
		"total_commission", "total_logistics_deduction",
	}

	brands = []string{"Roadster", "HRX", "Anouk", "Wildcraft", "Fastrack", "Mast & Harbour"}
	styles = []string{"Slim Jeans", "Tee, Cotton", "Kurta Set", "Sneakers", "Backpack", "Hoodie", "Analog Watch"}
)

const notAvailable = "NA"

type builder struct {
	rng   *rand.Rand
	start time.Time
	rows  map[models.DatasetType][][]string
}

// Generate renders cfg.Orders order lines. The same config always produces
// the same files.
func Generate(cfg Config) (*Dataset, error) {
	if cfg.Orders <= 0 {
		return nil, errors.ValidationError(errors.CodeInvalidFormat, "orders", cfg.Orders, nil)
	}
	if err := models.ValidatePeriod(cfg.Period); err != nil {
		return nil, errors.ValidationError(errors.CodeInvalidPeriod, "period", cfg.Period, err)
	}
	pick, err := newPicker(cfg.Weights)
	if err != nil {
		return nil, err
	}
	start, _ := time.Parse(models.PeriodLayout, cfg.Period)

	b := &builder{
		rng:   rand.New(rand.NewSource(cfg.Seed)),
		start: start,
		rows: map[models.DatasetType][][]string{
			models.DatasetOrder:        {orderHeader},
			models.DatasetCancel:       {cancelHeader},
			models.DatasetReturn:       {returnHeader},
			models.DatasetReturnCharge: {returnChargeHeader},
			models.DatasetPayment:      {paymentHeader},
		},
	}

	ds := &Dataset{Period: cfg.Period, Seed: cfg.Seed, Lines: make([]Line, 0, cfg.Orders)}
	compact := start.Format("200601")
	for i := 1; i <= cfg.Orders; i++ {
		line := Line{
			OrderLineID: fmt.Sprintf("OL%s%06d", compact, i),
			Scenario:    pick(b.rng),
		}
		b.add(line, fmt.Sprintf("OR%s%06d", compact, i))
		ds.Lines = append(ds.Lines, line)
	}

	ds.Files = make(map[models.DatasetType][]byte, len(b.rows))
	for dataset, rows := range b.rows {
		data, err := encodeCSV(rows)
		if err != nil {
			return nil, errors.InternalError(errors.CodeUnexpectedError, "render "+dataset.FileName(), err)
		}
		ds.Files[dataset] = data
	}
	return ds, nil
}

func newPicker(weights map[Scenario]int) (func(*rand.Rand) Scenario, error) {
	var (
		order []Scenario
		cum   []int
		total int
	)
	for _, s := range Scenarios {
		w := 1
		if weights != nil {
			w = weights[s]
		}
		if w < 0 {
			return nil, errors.ValidationError(errors.CodeInvalidFormat, "weight", fmt.Sprintf("%s=%d", s, w), nil)
		}
		if w == 0 {
			continue
		}
		total += w
		order = append(order, s)
		cum = append(cum, total)
	}
	if total == 0 {
		return nil, errors.ValidationError(errors.CodeInvalidFormat, "weight", "all zero", nil)
	}
	return func(rng *rand.Rand) Scenario {
		n := rng.Intn(total)
		return order[sort.SearchInts(cum, n+1)]
	}, nil
}

// between returns a random amount in [lo, hi] rupees with paise.
func (b *builder) between(lo, hi int64) decimal.Decimal {
	paise := lo*100 + b.rng.Int63n((hi-lo)*100+1)
	return decimal.New(paise, -2)
}

func (b *builder) day(offset int) time.Time {
	return b.start.AddDate(0, 0, offset)
}

func money(d decimal.Decimal) string {
	return d.StringFixed(2)
}

func date(t time.Time) string {
	return t.Format("2006-01-02")
}

func (b *builder) add(line Line, releaseID string) {
	paid := b.between(300, 1500)
	mrp := paid.Add(b.between(100, 1500))
	expected := paid.Mul(decimal.NewFromFloat(0.9)).Round(2)
	commission := expected.Sub(paid).Round(2)

	orderedOn := b.day(b.rng.Intn(20))
	status := "C"
	delivered, cancelled, returned := date(orderedOn.AddDate(0, 0, 3)), notAvailable, notAvailable

	payment := func(actual decimal.Decimal) {
		b.rows[models.DatasetPayment] = append(b.rows[models.DatasetPayment], []string{
			line.OrderLineID, releaseID, money(paid), money(paid.Sub(decimal.NewFromInt(20))),
			money(expected), money(actual), money(expected.Sub(actual)),
			money(commission), "-20.00",
		})
	}
	returnRow := func(status, reason string) {
		b.rows[models.DatasetReturn] = append(b.rows[models.DatasetReturn], []string{
			line.OrderLineID, releaseID, reason, status, date(orderedOn.AddDate(0, 0, 6)), notAvailable, "RT-" + line.OrderLineID,
		})
	}

	switch line.Scenario {
	case ScenarioMatched:
		payment(expected)
	case ScenarioUnderSettled:
		payment(expected.Sub(b.between(10, 100)))
	case ScenarioOverSettled:
		payment(expected.Add(b.between(10, 100)))
	case ScenarioUnpaidDelivery:
	case ScenarioCancelled:
		status, delivered, cancelled = "F", notAvailable, date(orderedOn.AddDate(0, 0, 1))
		b.rows[models.DatasetCancel] = append(b.rows[models.DatasetCancel], []string{
			line.OrderLineID, releaseID, "Customer changed mind", "CCC", cancelled + " 10:00:00",
		})
	case ScenarioReturned:
		returned = date(orderedOn.AddDate(0, 0, 6))
		returnRow("Return", "Size too small")
		charge := b.between(50, 150).Neg()
		b.rows[models.DatasetReturnCharge] = append(b.rows[models.DatasetReturnCharge], []string{
			line.OrderLineID, releaseID, "Return", money(charge), money(charge),
		})
		payment(expected)
	case ScenarioReturnNoCharge:
		returned = date(orderedOn.AddDate(0, 0, 6))
		returnRow("Return", "Not as described")
		payment(expected)
	case ScenarioRTO:
		status, delivered = "RTO", notAvailable
		returnRow("RTO", "Undelivered")
	case ScenarioInTransit:
		status, delivered = "Shipped", notAvailable
	}

	b.rows[models.DatasetOrder] = append(b.rows[models.DatasetOrder], []string{
		line.OrderLineID, releaseID,
		fmt.Sprintf("SKU-%06d", b.rng.Intn(1000000)),
		styles[b.rng.Intn(len(styles))],
		brands[b.rng.Intn(len(brands))],
		status, money(paid), money(mrp), money(mrp.Sub(paid)),
		delivered, cancelled, returned,
	})
}

func encodeCSV(rows [][]string) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.WriteAll(rows); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// StatusCounts returns how many lines should land in each item status.
func (d *Dataset) StatusCounts() models.StatusCounts {
	counts := make(models.StatusCounts, len(models.ItemStatuses))
	for _, s := range models.ItemStatuses {
		counts[s] = 0
	}
	for _, l := range d.Lines {
		counts[l.Scenario.Expect().Status]++
	}
	return counts
}

// VerdictCounts returns how many lines should get each verdict.
func (d *Dataset) VerdictCounts() map[models.ReconciliationStatus]int {
	counts := make(map[models.ReconciliationStatus]int, len(models.ReconciliationStatuses))
	for _, s := range models.ReconciliationStatuses {
		counts[s] = 0
	}
	for _, l := range d.Lines {
		counts[l.Scenario.Expect().Verdict]++
	}
	return counts
}

// Expectations maps each order line id to its expected outcome.
func (d *Dataset) Expectations() map[string]Expectation {
	out := make(map[string]Expectation, len(d.Lines))
	for _, l := range d.Lines {
		out[l.OrderLineID] = l.Scenario.Expect()
	}
	return out
}

// WriteDir writes every dataset under its conventional file name, creating
// dir when needed. It returns the written paths in upload order.
func (d *Dataset) WriteDir(dir string) ([]string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.FileError(errors.CodeFilePermission, dir, err)
	}
	paths := make([]string, 0, len(models.DatasetTypes))
	for _, dataset := range models.DatasetTypes {
		path := filepath.Join(dir, dataset.FileName())
		if err := os.WriteFile(path, d.Files[dataset], 0o644); err != nil {
			return nil, errors.FileError(errors.CodeFilePermission, path, err)
		}
		paths = append(paths, path)
	}
	return paths, nil
}
