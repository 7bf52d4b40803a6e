package models

import "fmt"

// ItemStatus is the lifecycle classification of an order line.
type ItemStatus string

const (
	ItemStatusDelivered     ItemStatus = "Delivered"
	ItemStatusCancelled     ItemStatus = "Cancelled"
	ItemStatusReturned      ItemStatus = "Returned"
	ItemStatusRTO           ItemStatus = "RTO"
	ItemStatusInTransit     ItemStatus = "In Transit"
	ItemStatusMiscellaneous ItemStatus = "Miscellaneous"
)

// ItemStatuses lists every ItemStatus in summary order.
var ItemStatuses = []ItemStatus{
	ItemStatusDelivered,
	ItemStatusCancelled,
	ItemStatusReturned,
	ItemStatusRTO,
	ItemStatusInTransit,
	ItemStatusMiscellaneous,
}

func (s ItemStatus) String() string { return string(s) }

// IsValid reports whether s is one of the known statuses.
func (s ItemStatus) IsValid() bool {
	for _, known := range ItemStatuses {
		if s == known {
			return true
		}
	}
	return false
}

// ParseItemStatus accepts an exact status name.
func ParseItemStatus(s string) (ItemStatus, error) {
	status := ItemStatus(s)
	if !status.IsValid() {
		return "", fmt.Errorf("unknown item status %q", s)
	}
	return status, nil
}

// ReconciliationStatus is the settlement verdict for an order line.
type ReconciliationStatus string

const (
	ReconciliationMatched      ReconciliationStatus = "Matched"
	ReconciliationUnderSettled ReconciliationStatus = "Under Settled"
	ReconciliationOverSettled  ReconciliationStatus = "Over Settled"
	ReconciliationPending      ReconciliationStatus = "Pending"
)

// ReconciliationStatuses lists every verdict in summary order.
var ReconciliationStatuses = []ReconciliationStatus{
	ReconciliationMatched,
	ReconciliationUnderSettled,
	ReconciliationOverSettled,
	ReconciliationPending,
}

func (s ReconciliationStatus) String() string { return string(s) }

// IsValid reports whether s is one of the known verdicts.
func (s ReconciliationStatus) IsValid() bool {
	for _, known := range ReconciliationStatuses {
		if s == known {
			return true
		}
	}
	return false
}

// MiscType qualifies a Miscellaneous line: the event that happened without a
// matching settlement.
type MiscType string

const (
	MiscTypeReturn    MiscType = "Return"
	MiscTypeDelivered MiscType = "Delivered"
)

// Ptr returns a pointer to a copy of m.
func (m MiscType) Ptr() *MiscType { return &m }
