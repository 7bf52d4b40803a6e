package reconciler

import (
	"strings"

	"github.com/shopspring/decimal"

	"settlement-reconciler/internal/models"
)

// matchTolerance is the absolute difference below which a settlement counts
// as matched.
var matchTolerance = decimal.NewFromInt(1)

// LineInputs is everything the other datasets say about one order line.
// A nil Payment or ReturnCharge means no row exists for the line.
type LineInputs struct {
	Cancelled    bool
	Returned     bool
	Payment      *models.Payment
	ReturnCharge *models.ReturnCharge
}

// hasSettlement reports whether any settlement row exists for the line.
func (in LineInputs) hasSettlement() bool {
	return in.Payment != nil || in.ReturnCharge != nil
}

// Classification is the lifecycle status of an order line. MiscType is set
// only when Status is Miscellaneous.
type Classification struct {
	Status   models.ItemStatus
	MiscType *models.MiscType
}

// Classify assigns exactly one ItemStatus to an order line. Rules are tried
// in priority order and the first that applies wins:
//
//  1. a cancellation row exists: Cancelled
//  2. order_status is RTO: RTO
//  3. a return row exists: Returned when a return charge exists, otherwise
//     Miscellaneous (Return)
//  4. order_status is present: C is delivered, F is Cancelled, RTO is RTO,
//     then substrings DELIVER, CANCEL, RTO, RETURN in that order, otherwise
//     In Transit
//  5. delivered_on set: delivered; cancelled_on set: Cancelled
//  6. In Transit
//
// "Delivered" resolves to Miscellaneous (Delivered) when the line has neither
// a payment nor a return charge.
func Classify(order models.OrderLine, in LineInputs) Classification {
	status := strings.ToUpper(strings.TrimSpace(order.OrderStatus))

	if in.Cancelled {
		return Classification{Status: models.ItemStatusCancelled}
	}
	if status == "RTO" {
		return Classification{Status: models.ItemStatusRTO}
	}
	if in.Returned {
		if in.ReturnCharge != nil {
			return Classification{Status: models.ItemStatusReturned}
		}
		return Classification{
			Status:   models.ItemStatusMiscellaneous,
			MiscType: models.MiscTypeReturn.Ptr(),
		}
	}

	if status != "" {
		switch status {
		case "C":
			return delivered(in)
		case "F":
			return Classification{Status: models.ItemStatusCancelled}
		}
		switch {
		case strings.Contains(status, "DELIVER"):
			return delivered(in)
		case strings.Contains(status, "CANCEL"):
			return Classification{Status: models.ItemStatusCancelled}
		case strings.Contains(status, "RTO"):
			return Classification{Status: models.ItemStatusRTO}
		case strings.Contains(status, "RETURN"):
			return Classification{Status: models.ItemStatusReturned}
		}
		return Classification{Status: models.ItemStatusInTransit}
	}

	if order.DeliveredOn != nil {
		return delivered(in)
	}
	if order.CancelledOn != nil {
		return Classification{Status: models.ItemStatusCancelled}
	}
	return Classification{Status: models.ItemStatusInTransit}
}

func delivered(in LineInputs) Classification {
	if !in.hasSettlement() {
		return Classification{
			Status:   models.ItemStatusMiscellaneous,
			MiscType: models.MiscTypeDelivered.Ptr(),
		}
	}
	return Classification{Status: models.ItemStatusDelivered}
}

// Settlement holds the money columns of a result row.
type Settlement struct {
	CustomerPaid       decimal.Decimal
	Expected           decimal.Decimal
	Actual             decimal.Decimal
	ReturnCharge       decimal.Decimal
	Net                decimal.Decimal
	Difference         decimal.Decimal
	CustomerDifference decimal.Decimal
}

// Settle computes the money columns. Missing rows contribute zero and the
// return charge keeps its sign. For Returned lines the difference is the
// negated net settlement and the customer difference adds the return charge
// to what the customer paid.
func Settle(status models.ItemStatus, in LineInputs) Settlement {
	var s Settlement
	if in.Payment != nil {
		s.CustomerPaid = in.Payment.CustomerPaidAmount
		s.Expected = in.Payment.ExpectedSettlement
		s.Actual = in.Payment.ActualSettlement
	}
	if in.ReturnCharge != nil {
		s.ReturnCharge = in.ReturnCharge.ActualSettlement
	}

	s.Net = s.Actual.Add(s.ReturnCharge)
	if status == models.ItemStatusReturned {
		s.Difference = s.Net.Neg()
		s.CustomerDifference = s.CustomerPaid.Add(s.ReturnCharge)
	} else {
		s.Difference = s.Expected.Sub(s.Actual)
		s.CustomerDifference = s.CustomerPaid.Sub(s.Net)
	}
	return s
}

// Verdict decides the reconciliation status from the item status, whether
// any settlement row exists and the difference.
func Verdict(status models.ItemStatus, in LineInputs, difference decimal.Decimal) models.ReconciliationStatus {
	switch {
	case status == models.ItemStatusInTransit:
		return models.ReconciliationPending
	case !in.hasSettlement():
		return models.ReconciliationPending
	case difference.Abs().LessThan(matchTolerance):
		return models.ReconciliationMatched
	case difference.IsPositive():
		return models.ReconciliationUnderSettled
	default:
		return models.ReconciliationOverSettled
	}
}
