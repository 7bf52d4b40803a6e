package reconciler

import (
	"fmt"

	"settlement-reconciler/internal/models"
)

// Violation is one stored result that breaks a reconciliation rule.
type Violation struct {
	OrderLineID string `json:"order_line_id"`
	Period      string `json:"period"`
	Rule        string `json:"rule"`
	Detail      string `json:"detail"`
}

func (v Violation) String() string {
	return fmt.Sprintf("%s/%s: %s (%s)", v.Period, v.OrderLineID, v.Rule, v.Detail)
}

// Verify checks stored results against the rules they were built with: the
// net settlement identity, the difference formulas, the verdict thresholds
// and the id scheme. It only looks at each row, not at the raw datasets.
func Verify(rows []models.ReconciliationResult) []Violation {
	var out []Violation
	for _, r := range rows {
		out = append(out, verifyRow(r)...)
	}
	return out
}

func verifyRow(r models.ReconciliationResult) []Violation {
	var out []Violation
	fail := func(rule, format string, args ...interface{}) {
		out = append(out, Violation{
			OrderLineID: r.OrderLineID,
			Period:      r.Period,
			Rule:        rule,
			Detail:      fmt.Sprintf(format, args...),
		})
	}

	if !r.ItemStatus.IsValid() {
		fail("item_status", "unknown status %q", r.ItemStatus)
	}
	if !r.ReconciliationStatus.IsValid() {
		fail("reconciliation_status", "unknown status %q", r.ReconciliationStatus)
	}
	if (r.ItemStatus == models.ItemStatusMiscellaneous) != (r.MiscType != nil) {
		fail("misc_type", "misc type %s with status %s", r.MiscTypeString(), r.ItemStatus)
	}
	if r.ID != ResultID(r.Period, r.OrderLineID) {
		fail("id", "id %s is not derived from period and order line", r.ID)
	}

	net := r.ActualSettlement.Add(r.ReturnCharge)
	if !r.NetSettlement.Equal(net) {
		fail("net_settlement", "net %s != actual %s + return charge %s", r.NetSettlement, r.ActualSettlement, r.ReturnCharge)
	}

	if r.ItemStatus == models.ItemStatusReturned {
		if !r.Difference.Equal(net.Neg()) {
			fail("difference", "returned difference %s != -net %s", r.Difference, net)
		}
		if want := r.CustomerPaidAmount.Add(r.ReturnCharge); !r.CustomerDifference.Equal(want) {
			fail("customer_difference", "returned customer difference %s != %s", r.CustomerDifference, want)
		}
	} else {
		if want := r.ExpectedSettlement.Sub(r.ActualSettlement); !r.Difference.Equal(want) {
			fail("difference", "difference %s != expected - actual %s", r.Difference, want)
		}
		if want := r.CustomerPaidAmount.Sub(net); !r.CustomerDifference.Equal(want) {
			fail("customer_difference", "customer difference %s != %s", r.CustomerDifference, want)
		}
	}

	switch r.ReconciliationStatus {
	case models.ReconciliationMatched:
		if !r.Difference.Abs().LessThan(matchTolerance) {
			fail("verdict", "matched with difference %s", r.Difference)
		}
	case models.ReconciliationUnderSettled:
		if r.Difference.LessThan(matchTolerance) {
			fail("verdict", "under settled with difference %s", r.Difference)
		}
	case models.ReconciliationOverSettled:
		if r.Difference.GreaterThan(matchTolerance.Neg()) {
			fail("verdict", "over settled with difference %s", r.Difference)
		}
	}
	if r.ItemStatus == models.ItemStatusInTransit && r.ReconciliationStatus != models.ReconciliationPending {
		fail("verdict", "in transit line is %s", r.ReconciliationStatus)
	}
	return out
}
