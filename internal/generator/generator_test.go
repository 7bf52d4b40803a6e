package generator

import (
	"bytes"
	"encoding/csv"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"settlement-reconciler/internal/models"
	"settlement-reconciler/pkg/errors"
)

func TestGenerateDeterministic(t *testing.T) {
	cfg := Config{Orders: 50, Period: "2024-01", Seed: 42}
	a, err := Generate(cfg)
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	b, _ := Generate(cfg)
	for _, dataset := range models.DatasetTypes {
		if !bytes.Equal(a.Files[dataset], b.Files[dataset]) {
			t.Errorf("%s differs between runs with the same seed", dataset)
		}
	}

	cfg.Seed = 43
	c, _ := Generate(cfg)
	if bytes.Equal(a.Files[models.DatasetOrder], c.Files[models.DatasetOrder]) {
		t.Error("different seeds produced the same orders")
	}
}

func readRows(t *testing.T, data []byte) [][]string {
	t.Helper()
	rows, err := csv.NewReader(bytes.NewReader(data)).ReadAll()
	if err != nil {
		t.Fatalf("generated CSV does not parse: %v", err)
	}
	return rows
}

func TestGenerateRowsMatchScenarios(t *testing.T) {
	ds, err := Generate(Config{Orders: 90, Period: "2024-03", Seed: 7})
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}

	perScenario := map[Scenario]int{}
	for _, l := range ds.Lines {
		perScenario[l.Scenario]++
		if !strings.HasPrefix(l.OrderLineID, "OL202403") {
			t.Errorf("order line id %s does not carry the period", l.OrderLineID)
		}
	}

	want := map[models.DatasetType]int{
		models.DatasetOrder:        len(ds.Lines),
		models.DatasetCancel:       perScenario[ScenarioCancelled],
		models.DatasetReturn:       perScenario[ScenarioReturned] + perScenario[ScenarioReturnNoCharge] + perScenario[ScenarioRTO],
		models.DatasetReturnCharge: perScenario[ScenarioReturned],
		models.DatasetPayment: perScenario[ScenarioMatched] + perScenario[ScenarioUnderSettled] +
			perScenario[ScenarioOverSettled] + perScenario[ScenarioReturned] + perScenario[ScenarioReturnNoCharge],
	}
	for dataset, n := range want {
		rows := readRows(t, ds.Files[dataset])
		if got := len(rows) - 1; got != n {
			t.Errorf("%s rows = %d, want %d", dataset, got, n)
		}
	}

	orders := readRows(t, ds.Files[models.DatasetOrder])
	if orders[0][0] != "Order Line ID" {
		t.Errorf("order header = %v", orders[0])
	}
	for _, row := range orders[1:] {
		if !strings.HasPrefix(row[9], "2024-03") && row[9] != notAvailable {
			t.Errorf("delivered on %s outside the period", row[9])
		}
	}
}

func TestExpectedCounts(t *testing.T) {
	ds, err := Generate(Config{Orders: 40, Period: "2024-01", Seed: 1})
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}

	total := 0
	for _, n := range ds.StatusCounts() {
		total += n
	}
	if total != 40 {
		t.Errorf("StatusCounts total = %d, want 40", total)
	}
	total = 0
	for _, n := range ds.VerdictCounts() {
		total += n
	}
	if total != 40 {
		t.Errorf("VerdictCounts total = %d, want 40", total)
	}
	if len(ds.Expectations()) != 40 {
		t.Errorf("Expectations() = %d ids, want 40", len(ds.Expectations()))
	}
}

func TestWeights(t *testing.T) {
	ds, err := Generate(Config{
		Orders:  25,
		Period:  "2024-01",
		Weights: map[Scenario]int{ScenarioRTO: 1},
	})
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	for _, l := range ds.Lines {
		if l.Scenario != ScenarioRTO {
			t.Fatalf("line %s is %s, want only rto", l.OrderLineID, l.Scenario)
		}
	}
	if got := ds.StatusCounts()[models.ItemStatusRTO]; got != 25 {
		t.Errorf("RTO count = %d, want 25", got)
	}
}

func TestGenerateRejects(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
		code errors.ErrorCode
	}{
		{"no orders", Config{Orders: 0, Period: "2024-01"}, errors.CodeInvalidFormat},
		{"bad period", Config{Orders: 1, Period: "2024-1"}, errors.CodeInvalidPeriod},
		{"negative weight", Config{Orders: 1, Period: "2024-01", Weights: map[Scenario]int{ScenarioRTO: -1}}, errors.CodeInvalidFormat},
		{"all zero", Config{Orders: 1, Period: "2024-01", Weights: map[Scenario]int{}}, errors.CodeInvalidFormat},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Generate(tt.cfg)
			rerr, ok := errors.AsReconcilerError(err)
			if !ok || rerr.Code != tt.code {
				t.Errorf("Generate() error = %v, want %s", err, tt.code)
			}
		})
	}
}

func TestParseScenario(t *testing.T) {
	if s, err := ParseScenario("return-no-charge"); err != nil || s != ScenarioReturnNoCharge {
		t.Errorf("ParseScenario() = %s, %v", s, err)
	}
	if _, err := ParseScenario("lost"); err == nil {
		t.Error("ParseScenario(lost) should fail")
	}
}

func TestWriteDir(t *testing.T) {
	ds, err := Generate(Config{Orders: 5, Period: "2024-01", Seed: 3})
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	dir := filepath.Join(t.TempDir(), "exports")
	paths, err := ds.WriteDir(dir)
	if err != nil {
		t.Fatalf("WriteDir() error = %v", err)
	}
	if len(paths) != len(models.DatasetTypes) {
		t.Fatalf("WriteDir() wrote %d files, want %d", len(paths), len(models.DatasetTypes))
	}
	for i, dataset := range models.DatasetTypes {
		if filepath.Base(paths[i]) != dataset.FileName() {
			t.Errorf("path %d = %s, want %s", i, paths[i], dataset.FileName())
		}
		data, err := os.ReadFile(paths[i])
		if err != nil {
			t.Fatalf("ReadFile() error = %v", err)
		}
		if !bytes.Equal(data, ds.Files[dataset]) {
			t.Errorf("%s content differs from the dataset", paths[i])
		}
	}
}
