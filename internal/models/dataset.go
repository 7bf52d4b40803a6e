package models

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// DatasetType names one of the five raw upload tables.
type DatasetType string

const (
	DatasetOrder        DatasetType = "order"
	DatasetCancel       DatasetType = "cancel"
	DatasetReturn       DatasetType = "return"
	DatasetReturnCharge DatasetType = "return-charge"
	DatasetPayment      DatasetType = "payment"
)

// DatasetTypes lists the raw datasets in upload order.
var DatasetTypes = []DatasetType{
	DatasetOrder,
	DatasetCancel,
	DatasetReturn,
	DatasetReturnCharge,
	DatasetPayment,
}

// ParseDatasetType accepts the URL/CLI spelling of a dataset.
func ParseDatasetType(s string) (DatasetType, error) {
	d := DatasetType(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range DatasetTypes {
		if d == known {
			return d, nil
		}
	}
	return "", fmt.Errorf("unknown dataset type %q", s)
}

// Table returns the storage table backing the dataset.
func (d DatasetType) Table() string {
	switch d {
	case DatasetOrder:
		return OrderLine{}.TableName()
	case DatasetCancel:
		return Cancellation{}.TableName()
	case DatasetReturn:
		return Return{}.TableName()
	case DatasetReturnCharge:
		return ReturnCharge{}.TableName()
	case DatasetPayment:
		return Payment{}.TableName()
	}
	return ""
}

// FileName is the conventional export file name of the dataset.
func (d DatasetType) FileName() string {
	switch d {
	case DatasetOrder:
		return "ORDER.csv"
	case DatasetCancel:
		return "CANCEL.csv"
	case DatasetReturn:
		return "RETURN.csv"
	case DatasetReturnCharge:
		return "RETURN_CHARGE.csv"
	case DatasetPayment:
		return "PAYMENT.csv"
	}
	return ""
}

// Noun is the plural used in upload messages.
func (d DatasetType) Noun() string {
	switch d {
	case DatasetOrder:
		return "orders"
	case DatasetCancel:
		return "cancellations"
	case DatasetReturn:
		return "returns"
	case DatasetReturnCharge:
		return "return charges"
	case DatasetPayment:
		return "payments"
	}
	return "rows"
}

// TableCounts is the row count of every table, keyed the way the upload
// status endpoint reports them.
type TableCounts struct {
	Orders                int64 `json:"orders"`
	Cancellations         int64 `json:"cancellations"`
	Returns               int64 `json:"returns"`
	ReturnCharges         int64 `json:"return_charges"`
	Payments              int64 `json:"payments"`
	ReconciliationResults int64 `json:"reconciliation_results"`
}

// Summary is the reduction of a result set into counts and totals.
type Summary struct {
	TotalOrders       int             `json:"totalOrders"`
	Delivered         int             `json:"delivered"`
	Cancelled         int             `json:"cancelled"`
	Returned          int             `json:"returned"`
	RTO               int             `json:"rto"`
	InTransit         int             `json:"inTransit"`
	Miscellaneous     int             `json:"miscellaneous"`
	Matched           int             `json:"matched"`
	UnderSettled      int             `json:"underSettled"`
	OverSettled       int             `json:"overSettled"`
	Pending           int             `json:"pending"`
	TotalCustomerPaid decimal.Decimal `json:"totalCustomerPaid"`
	TotalSettled      decimal.Decimal `json:"totalSettled"`
	TotalDifference   decimal.Decimal `json:"totalDifference"`
	Period            string          `json:"period,omitempty"`
}

// SummaryRow is one label/value pair of the exported summary sheet.
type SummaryRow struct {
	Metric string
	Value  interface{}
}

// Rows flattens the summary for label/value rendering.
func (s Summary) Rows() []SummaryRow {
	return []SummaryRow{
		{"Total Orders", s.TotalOrders},
		{"Delivered", s.Delivered},
		{"Cancelled", s.Cancelled},
		{"Returned", s.Returned},
		{"RTO", s.RTO},
		{"In Transit", s.InTransit},
		{"Miscellaneous", s.Miscellaneous},
		{"Matched", s.Matched},
		{"Under Settled", s.UnderSettled},
		{"Over Settled", s.OverSettled},
		{"Pending", s.Pending},
		{"Total Customer Paid", s.TotalCustomerPaid.StringFixed(2)},
		{"Total Settled", s.TotalSettled.StringFixed(2)},
		{"Total Difference", s.TotalDifference.StringFixed(2)},
	}
}

// StatusCounts maps each item status to its number of rows.
type StatusCounts map[ItemStatus]int
