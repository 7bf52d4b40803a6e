package parsers

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"settlement-reconciler/internal/models"
)

func TestNormalize_HeaderMatching(t *testing.T) {
	tests := []struct {
		name   string
		header string
	}{
		{"exact", "order line id"},
		{"padded", "  Order Line ID "},
		{"upper", "ORDER LINE ID"},
		{"tabbed", "\tOrder line id"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := Normalize(Row{tt.header: "1234567890123456789"}, OrderFieldMap)
			got, ok := rec.Text("order_line_id")
			if !ok {
				t.Fatalf("expected order_line_id to be present for header %q", tt.header)
			}
			if got != "1234567890123456789" {
				t.Errorf("expected id to be kept verbatim, got %q", got)
			}
		})
	}
}

func TestNormalize_RenamesAndDropsColumns(t *testing.T) {
	row := Row{
		"order_line_id": "L1",
		"order_id":      "R1",
		"status":        "RTO",
		"courier":       "BlueDart",
	}
	rec := Normalize(row, ReturnFieldMap)

	if rec.TextValue("order_release_id") != "R1" {
		t.Errorf("expected order_id to map to order_release_id, got %q", rec.TextValue("order_release_id"))
	}
	if _, ok := rec["courier"]; ok {
		t.Error("unmapped column should be dropped")
	}
	if _, ok := rec["return_reason"]; ok {
		t.Error("field with no source column should be absent")
	}
	if len(rec) != 3 {
		t.Errorf("expected 3 fields, got %d: %v", len(rec), rec)
	}
}

func TestNormalize_AbsentVersusNull(t *testing.T) {
	rec := Normalize(Row{"order line id": "L1", "delivered on": "N/A"}, OrderFieldMap)

	v, ok := rec["delivered_on"]
	if !ok {
		t.Fatal("delivered_on should be present")
	}
	if v.Time != nil {
		t.Errorf("expected null delivered_on, got %v", v.Time)
	}
	if _, ok := rec["cancelled_on"]; ok {
		t.Error("cancelled_on had no source column and should be absent")
	}
}

func TestNormalize_EmptyRow(t *testing.T) {
	if rec := Normalize(nil, PaymentFieldMap); len(rec) != 0 {
		t.Errorf("expected empty record, got %v", rec)
	}
	if rec := Normalize(Row{"unrelated": "x"}, PaymentFieldMap); len(rec) != 0 {
		t.Errorf("expected empty record, got %v", rec)
	}
}

func TestNormalizeNumber(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"₹1,234.50", "1234.50"},
		{"1234", "1234"},
		{"-100", "-100"},
		{"Rs 45.5", "45.5"},
		{"-₹45.5", "-45.5"},
		{"", "0"},
		{"   ", "0"},
		{"-", "0"},
		{"N/A", "0"},
		{"1.2.3", "1.2"},
		{".5", "0.5"},
		{"12.", "12"},
		{"(300)", "300"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got := NormalizeNumber(tt.input)
			want := decimal.RequireFromString(tt.expected)
			if !got.Equal(want) {
				t.Errorf("NormalizeNumber(%q) = %s, want %s", tt.input, got, want)
			}
		})
	}
}

func TestNormalizeDate(t *testing.T) {
	tests := []struct {
		input    string
		expected *time.Time
	}{
		{"", nil},
		{"na", nil},
		{"NA", nil},
		{"N/A", nil},
		{"n/a", nil},
		{"not a date", nil},
		{"2024-01-15", ptrTime(time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC))},
		{"2024-01-15 10:30:45", ptrTime(time.Date(2024, 1, 15, 10, 30, 45, 0, time.UTC))},
		{"2024-01-15T10:30:45Z", ptrTime(time.Date(2024, 1, 15, 10, 30, 45, 0, time.UTC))},
		{"2024-01-15T16:00:45+05:30", ptrTime(time.Date(2024, 1, 15, 10, 30, 45, 0, time.UTC))},
		{"01/15/2024", ptrTime(time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC))},
		{"15-Jan-2024", ptrTime(time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC))},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got := NormalizeDate(tt.input)
			if tt.expected == nil {
				if got != nil {
					t.Errorf("NormalizeDate(%q) = %v, want nil", tt.input, got)
				}
				return
			}
			if got == nil {
				t.Fatalf("NormalizeDate(%q) = nil, want %v", tt.input, tt.expected)
			}
			if !got.Equal(*tt.expected) {
				t.Errorf("NormalizeDate(%q) = %v, want %v", tt.input, got, tt.expected)
			}
		})
	}
}

func TestKindOf(t *testing.T) {
	tests := []struct {
		field string
		kind  FieldKind
	}{
		{"final_amount", KindNumeric},
		{"settlement_amount", KindNumeric},
		{"delivered_on", KindDate},
		{"return_created_date", KindDate},
		{"order_status", KindText},
		{"order_line_id", KindText},
	}

	for _, tt := range tests {
		t.Run(tt.field, func(t *testing.T) {
			if got := KindOf(tt.field); got != tt.kind {
				t.Errorf("KindOf(%s) = %s, want %s", tt.field, got, tt.kind)
			}
		})
	}
}

func TestFieldMapFor(t *testing.T) {
	for _, d := range models.DatasetTypes {
		fm, err := FieldMapFor(d)
		if err != nil {
			t.Fatalf("FieldMapFor(%s) error: %v", d, err)
		}
		if fm.Dataset != d {
			t.Errorf("FieldMapFor(%s) returned map for %s", d, fm.Dataset)
		}
		if fm.KeyField != "order_line_id" {
			t.Errorf("%s: expected order_line_id key, got %s", d, fm.KeyField)
		}
	}

	if !OrderFieldMap.HasKeyColumn([]string{"Seller SKU Code", " Order Line ID"}) {
		t.Error("expected key column to be found")
	}
	if PaymentFieldMap.HasKeyColumn([]string{"order line id"}) {
		t.Error("payment export keys on order_line_id, not 'order line id'")
	}
}

func TestToOrderLine(t *testing.T) {
	row := Row{
		"Order Line ID":    " 9007199254740993 ",
		"Order Status":     "C",
		"Final Amount":     "₹499.00",
		"Delivered On":     "2024-01-10",
		"Cancelled On":     "NA",
		"Seller SKU Code":  "SKU-1",
		"Style Name":       "Cotton Tee",
		"Order Release ID": "R1",
	}
	line, ok := ToOrderLine(Normalize(row, OrderFieldMap), "2024-01")
	if !ok {
		t.Fatal("expected a usable order line")
	}

	if line.OrderLineID != "9007199254740993" {
		t.Errorf("unexpected id %q", line.OrderLineID)
	}
	if !line.FinalAmount.Equal(decimal.NewFromInt(499)) {
		t.Errorf("unexpected final amount %s", line.FinalAmount)
	}
	if line.DeliveredOn == nil || line.CancelledOn != nil {
		t.Errorf("unexpected dates delivered=%v cancelled=%v", line.DeliveredOn, line.CancelledOn)
	}
	if line.Period != "2024-01" || line.SKUCode != "SKU-1" {
		t.Errorf("unexpected line %+v", line)
	}

	if _, ok := ToOrderLine(Normalize(Row{"order line id": "  "}, OrderFieldMap), ""); ok {
		t.Error("blank id should be rejected")
	}
}

func TestToReturnCharge_KeepsSign(t *testing.T) {
	row := Row{
		"order_line_id":           "L9",
		"total_settlement":        "-120.00",
		"total_actual_settlement": "-100.00",
	}
	rc, ok := ToReturnCharge(Normalize(row, ReturnChargeFieldMap))
	if !ok {
		t.Fatal("expected a usable return charge")
	}
	if !rc.ActualSettlement.Equal(decimal.NewFromInt(-100)) {
		t.Errorf("expected -100, got %s", rc.ActualSettlement)
	}
	if !rc.SettlementAmount.Equal(decimal.NewFromInt(-120)) {
		t.Errorf("expected -120, got %s", rc.SettlementAmount)
	}
}

func TestToPayment(t *testing.T) {
	row := Row{
		"order_line_id":             "L2",
		"customer_paid_amt":         "500",
		"total_expected_settlement": "450",
		"total_actual_settlement":   "450",
		"total_commission":          "-30.5",
	}
	p, ok := ToPayment(Normalize(row, PaymentFieldMap))
	if !ok {
		t.Fatal("expected a usable payment")
	}
	if !p.CustomerPaidAmount.Equal(decimal.NewFromInt(500)) ||
		!p.ExpectedSettlement.Equal(decimal.NewFromInt(450)) ||
		!p.ActualSettlement.Equal(decimal.NewFromInt(450)) {
		t.Errorf("unexpected payment %+v", p)
	}
	if !p.PendingSettlement.IsZero() {
		t.Errorf("absent pending settlement should be zero, got %s", p.PendingSettlement)
	}
}

func ptrTime(t time.Time) *time.Time { return &t }
