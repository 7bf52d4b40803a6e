package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

func init() {
	// Amounts go over the wire as JSON numbers, matching what the dashboard
	// and exported JSON files expect.
	decimal.MarshalJSONWithoutQuotes = true
}

// Money columns are decimal(18,4). Marketplace exports use two decimals;
// the SQL store would round anything past the fourth.

// OrderLine is one physical shipped unit from the order export.
type OrderLine struct {
	OrderLineID        string          `gorm:"primaryKey;column:order_line_id;size:64" json:"order_line_id"`
	OrderReleaseID     string          `gorm:"column:order_release_id;size:64" json:"order_release_id"`
	SKUCode            string          `gorm:"column:sku_code;size:128" json:"sku_code"`
	StyleName          string          `gorm:"column:style_name;size:512" json:"style_name"`
	Brand              string          `gorm:"column:brand;size:128" json:"brand"`
	OrderStatus        string          `gorm:"column:order_status;size:64" json:"order_status"`
	FinalAmount        decimal.Decimal `gorm:"column:final_amount;type:decimal(18,4)" json:"final_amount"`
	TotalMRP           decimal.Decimal `gorm:"column:total_mrp;type:decimal(18,4)" json:"total_mrp"`
	Discount           decimal.Decimal `gorm:"column:discount;type:decimal(18,4)" json:"discount"`
	DeliveredOn        *time.Time      `gorm:"column:delivered_on" json:"delivered_on"`
	CancelledOn        *time.Time      `gorm:"column:cancelled_on" json:"cancelled_on"`
	ReturnCreationDate *time.Time      `gorm:"column:return_creation_date" json:"return_creation_date"`
	Period             string          `gorm:"column:period;size:7;index" json:"period,omitempty"`
	CreatedAt          time.Time       `gorm:"column:created_at" json:"created_at"`
}

// TableName implements gorm's tabler.
func (OrderLine) TableName() string { return "orders" }

// Key returns the join key.
func (o OrderLine) Key() string { return o.OrderLineID }

// Cancellation signals by its presence that an order line was cancelled.
type Cancellation struct {
	OrderLineID        string     `gorm:"primaryKey;column:order_line_id;size:64" json:"order_line_id"`
	OrderReleaseID     string     `gorm:"column:order_release_id;size:64" json:"order_release_id"`
	CancellationReason string     `gorm:"column:cancellation_reason;size:512" json:"cancellation_reason"`
	CancellationType   string     `gorm:"column:cancellation_type;size:128" json:"cancellation_type"`
	CancellationDate   *time.Time `gorm:"column:cancellation_date" json:"cancellation_date"`
	CreatedAt          time.Time  `gorm:"column:created_at" json:"created_at"`
}

func (Cancellation) TableName() string { return "cancellations" }

func (c Cancellation) Key() string { return c.OrderLineID }

// Return signals by its presence that a return was raised for an order line.
// Status may read "RTO" or "Return"; classification does not consult it.
type Return struct {
	OrderLineID       string     `gorm:"primaryKey;column:order_line_id;size:64" json:"order_line_id"`
	OrderReleaseID    string     `gorm:"column:order_release_id;size:64" json:"order_release_id"`
	ReturnID          string     `gorm:"column:return_id;size:64" json:"return_id"`
	ReturnReason      string     `gorm:"column:return_reason;size:512" json:"return_reason"`
	Status            string     `gorm:"column:status;size:64" json:"status"`
	ReturnCreatedDate *time.Time `gorm:"column:return_created_date" json:"return_created_date"`
	RefundedDate      *time.Time `gorm:"column:refunded_date" json:"refunded_date"`
	CreatedAt         time.Time  `gorm:"column:created_at" json:"created_at"`
}

func (Return) TableName() string { return "returns" }

func (r Return) Key() string { return r.OrderLineID }

// ReturnCharge carries the settlement adjustment for a return. ActualSettlement
// is signed and normally negative.
type ReturnCharge struct {
	OrderLineID      string          `gorm:"primaryKey;column:order_line_id;size:64" json:"order_line_id"`
	OrderReleaseID   string          `gorm:"column:order_release_id;size:64" json:"order_release_id"`
	ReturnType       string          `gorm:"column:return_type;size:64" json:"return_type"`
	SettlementAmount decimal.Decimal `gorm:"column:settlement_amount;type:decimal(18,4)" json:"settlement_amount"`
	ActualSettlement decimal.Decimal `gorm:"column:actual_settlement;type:decimal(18,4)" json:"actual_settlement"`
	CreatedAt        time.Time       `gorm:"column:created_at" json:"created_at"`
}

func (ReturnCharge) TableName() string { return "return_charges" }

func (r ReturnCharge) Key() string { return r.OrderLineID }

// Payment is the forward settlement for an order line.
type Payment struct {
	OrderLineID         string          `gorm:"primaryKey;column:order_line_id;size:64" json:"order_line_id"`
	OrderReleaseID      string          `gorm:"column:order_release_id;size:64" json:"order_release_id"`
	CustomerPaidAmount  decimal.Decimal `gorm:"column:customer_paid_amount;type:decimal(18,4)" json:"customer_paid_amount"`
	SellerProductAmount decimal.Decimal `gorm:"column:seller_product_amount;type:decimal(18,4)" json:"seller_product_amount"`
	ExpectedSettlement  decimal.Decimal `gorm:"column:expected_settlement;type:decimal(18,4)" json:"expected_settlement"`
	ActualSettlement    decimal.Decimal `gorm:"column:actual_settlement;type:decimal(18,4)" json:"actual_settlement"`
	PendingSettlement   decimal.Decimal `gorm:"column:pending_settlement;type:decimal(18,4)" json:"pending_settlement"`
	Commission          decimal.Decimal `gorm:"column:commission;type:decimal(18,4)" json:"commission"`
	LogisticsDeduction  decimal.Decimal `gorm:"column:logistics_deduction;type:decimal(18,4)" json:"logistics_deduction"`
	CreatedAt           time.Time       `gorm:"column:created_at" json:"created_at"`
}

func (Payment) TableName() string { return "payments" }

func (p Payment) Key() string { return p.OrderLineID }

// ReconciliationResult is the derived row for one order line in one period.
type ReconciliationResult struct {
	ID                   string               `gorm:"primaryKey;column:id;size:36" json:"id"`
	OrderLineID          string               `gorm:"column:order_line_id;size:64;index" json:"order_line_id"`
	OrderReleaseID       string               `gorm:"column:order_release_id;size:64" json:"order_release_id"`
	SKUCode              string               `gorm:"column:sku_code;size:128" json:"sku_code"`
	StyleName            string               `gorm:"column:style_name;size:512" json:"style_name"`
	ItemStatus           ItemStatus           `gorm:"column:item_status;size:32;index" json:"item_status"`
	MiscType             *MiscType            `gorm:"column:misc_type;size:16" json:"misc_type"`
	FinalAmount          decimal.Decimal      `gorm:"column:final_amount;type:decimal(18,4)" json:"final_amount"`
	CustomerPaidAmount   decimal.Decimal      `gorm:"column:customer_paid_amount;type:decimal(18,4)" json:"customer_paid_amount"`
	ExpectedSettlement   decimal.Decimal      `gorm:"column:expected_settlement;type:decimal(18,4)" json:"expected_settlement"`
	ActualSettlement     decimal.Decimal      `gorm:"column:actual_settlement;type:decimal(18,4)" json:"actual_settlement"`
	ReturnCharge         decimal.Decimal      `gorm:"column:return_charge;type:decimal(18,4)" json:"return_charge"`
	NetSettlement        decimal.Decimal      `gorm:"column:net_settlement;type:decimal(18,4)" json:"net_settlement"`
	Difference           decimal.Decimal      `gorm:"column:difference;type:decimal(18,4)" json:"difference"`
	CustomerDifference   decimal.Decimal      `gorm:"column:customer_difference;type:decimal(18,4)" json:"customer_difference"`
	ReconciliationStatus ReconciliationStatus `gorm:"column:reconciliation_status;size:32" json:"reconciliation_status"`
	Period               string               `gorm:"column:period;size:7;index" json:"period"`
	CreatedAt            time.Time            `gorm:"column:created_at;index" json:"created_at"`
}

func (ReconciliationResult) TableName() string { return "reconciliation_results" }

// MiscTypeString returns the misc type or an empty string when unset.
func (r *ReconciliationResult) MiscTypeString() string {
	if r.MiscType == nil {
		return ""
	}
	return string(*r.MiscType)
}

// String returns a compact description for logs and the console reporter.
func (r *ReconciliationResult) String() string {
	return fmt.Sprintf("ReconciliationResult{OrderLineID: %s, Status: %s, Verdict: %s, Difference: %s}",
		r.OrderLineID, r.ItemStatus, r.ReconciliationStatus, r.Difference.String())
}

// NormalizeIdentifier trims an order line id. It never reformats digits:
// ids exceed the float-safe integer range and are compared as opaque text.
func NormalizeIdentifier(id string) string {
	return strings.TrimSpace(id)
}
