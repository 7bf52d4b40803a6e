package parsers

import (
	"fmt"
	"strings"

	"settlement-reconciler/internal/models"
)

// FieldKind controls how a canonical field's raw value is coerced.
type FieldKind int

const (
	KindText FieldKind = iota
	KindNumeric
	KindDate
)

func (k FieldKind) String() string {
	switch k {
	case KindNumeric:
		return "numeric"
	case KindDate:
		return "date"
	default:
		return "text"
	}
}

// FieldMapping pairs an expected export header with its canonical field.
type FieldMapping struct {
	Header string
	Field  string
}

// FieldMap describes one export layout.
type FieldMap struct {
	Dataset  models.DatasetType
	Mappings []FieldMapping
	// KeyField must be present and non-blank for a row to be stored.
	KeyField string
}

var numericFields = map[string]bool{
	"final_amount":          true,
	"total_mrp":             true,
	"discount":              true,
	"customer_paid_amount":  true,
	"seller_product_amount": true,
	"expected_settlement":   true,
	"actual_settlement":     true,
	"pending_settlement":    true,
	"commission":            true,
	"logistics_deduction":   true,
	"settlement_amount":     true,
}

var dateFields = map[string]bool{
	"delivered_on":         true,
	"cancelled_on":         true,
	"return_creation_date": true,
	"cancellation_date":    true,
	"return_created_date":  true,
	"refunded_date":        true,
}

// KindOf returns how the canonical field is coerced.
func KindOf(field string) FieldKind {
	switch {
	case numericFields[field]:
		return KindNumeric
	case dateFields[field]:
		return KindDate
	default:
		return KindText
	}
}

// OrderFieldMap maps the order export.
var OrderFieldMap = FieldMap{
	Dataset:  models.DatasetOrder,
	KeyField: "order_line_id",
	Mappings: []FieldMapping{
		{"order line id", "order_line_id"},
		{"order release id", "order_release_id"},
		{"order status", "order_status"},
		{"final amount", "final_amount"},
		{"total mrp", "total_mrp"},
		{"discount", "discount"},
		{"delivered on", "delivered_on"},
		{"cancelled on", "cancelled_on"},
		{"return creation date", "return_creation_date"},
		{"seller sku code", "sku_code"},
		{"style name", "style_name"},
		{"brand", "brand"},
	},
}

// CancellationFieldMap maps the cancelled-orders export.
var CancellationFieldMap = FieldMap{
	Dataset:  models.DatasetCancel,
	KeyField: "order_line_id",
	Mappings: []FieldMapping{
		{"order line id", "order_line_id"},
		{"order release id", "order_release_id"},
		{"cancellation reason", "cancellation_reason"},
		{"cancellation type", "cancellation_type"},
		{"order cancellation date", "cancellation_date"},
	},
}

// ReturnFieldMap maps the returns export. Its order_id column holds the
// release id.
var ReturnFieldMap = FieldMap{
	Dataset:  models.DatasetReturn,
	KeyField: "order_line_id",
	Mappings: []FieldMapping{
		{"order_line_id", "order_line_id"},
		{"order_id", "order_release_id"},
		{"return_reason", "return_reason"},
		{"status", "status"},
		{"return_created_date", "return_created_date"},
		{"refunded_date", "refunded_date"},
		{"return_id", "return_id"},
	},
}

// PaymentFieldMap maps the forward settlement export.
var PaymentFieldMap = FieldMap{
	Dataset:  models.DatasetPayment,
	KeyField: "order_line_id",
	Mappings: []FieldMapping{
		{"order_line_id", "order_line_id"},
		{"order_release_id", "order_release_id"},
		{"customer_paid_amt", "customer_paid_amount"},
		{"seller_product_amount", "seller_product_amount"},
		{"total_expected_settlement", "expected_settlement"},
		{"total_actual_settlement", "actual_settlement"},
		{"amount_pending_settlement", "pending_settlement"},
		{"total_commission", "commission"},
		{"total_logistics_deduction", "logistics_deduction"},
	},
}

// ReturnChargeFieldMap maps the return settlement export.
var ReturnChargeFieldMap = FieldMap{
	Dataset:  models.DatasetReturnCharge,
	KeyField: "order_line_id",
	Mappings: []FieldMapping{
		{"order_line_id", "order_line_id"},
		{"order_release_id", "order_release_id"},
		{"return_type", "return_type"},
		{"total_settlement", "settlement_amount"},
		{"total_actual_settlement", "actual_settlement"},
	},
}

// FieldMapFor returns the field map of a dataset.
func FieldMapFor(d models.DatasetType) (FieldMap, error) {
	switch d {
	case models.DatasetOrder:
		return OrderFieldMap, nil
	case models.DatasetCancel:
		return CancellationFieldMap, nil
	case models.DatasetReturn:
		return ReturnFieldMap, nil
	case models.DatasetReturnCharge:
		return ReturnChargeFieldMap, nil
	case models.DatasetPayment:
		return PaymentFieldMap, nil
	}
	return FieldMap{}, fmt.Errorf("no field map for dataset %q", d)
}

// KeyHeader returns the export header that feeds the key field.
func (fm FieldMap) KeyHeader() string {
	for _, m := range fm.Mappings {
		if m.Field == fm.KeyField {
			return m.Header
		}
	}
	return fm.KeyField
}

// HasKeyColumn reports whether headers include the key column, comparing
// the same way Normalize does.
func (fm FieldMap) HasKeyColumn(headers []string) bool {
	want := headerKey(fm.KeyHeader())
	for _, h := range headers {
		if headerKey(h) == want {
			return true
		}
	}
	return false
}

func headerKey(h string) string {
	return strings.ToLower(strings.TrimSpace(h))
}
