package parsers

import (
	"settlement-reconciler/internal/models"
)

// key returns the trimmed order line id and whether it is usable.
func (r Record) key() (string, bool) {
	id := models.NormalizeIdentifier(r.TextValue("order_line_id"))
	return id, id != ""
}

// ToOrderLine builds an OrderLine stamped with period. It reports false when
// the row has no order line id.
func ToOrderLine(r Record, period string) (models.OrderLine, bool) {
	id, ok := r.key()
	if !ok {
		return models.OrderLine{}, false
	}
	return models.OrderLine{
		OrderLineID:        id,
		OrderReleaseID:     r.TextValue("order_release_id"),
		SKUCode:            r.TextValue("sku_code"),
		StyleName:          r.TextValue("style_name"),
		Brand:              r.TextValue("brand"),
		OrderStatus:        r.TextValue("order_status"),
		FinalAmount:        r.Decimal("final_amount"),
		TotalMRP:           r.Decimal("total_mrp"),
		Discount:           r.Decimal("discount"),
		DeliveredOn:        r.Time("delivered_on"),
		CancelledOn:        r.Time("cancelled_on"),
		ReturnCreationDate: r.Time("return_creation_date"),
		Period:             period,
	}, true
}

// ToCancellation builds a Cancellation.
func ToCancellation(r Record) (models.Cancellation, bool) {
	id, ok := r.key()
	if !ok {
		return models.Cancellation{}, false
	}
	return models.Cancellation{
		OrderLineID:        id,
		OrderReleaseID:     r.TextValue("order_release_id"),
		CancellationReason: r.TextValue("cancellation_reason"),
		CancellationType:   r.TextValue("cancellation_type"),
		CancellationDate:   r.Time("cancellation_date"),
	}, true
}

// ToReturn builds a Return.
func ToReturn(r Record) (models.Return, bool) {
	id, ok := r.key()
	if !ok {
		return models.Return{}, false
	}
	return models.Return{
		OrderLineID:       id,
		OrderReleaseID:    r.TextValue("order_release_id"),
		ReturnID:          r.TextValue("return_id"),
		ReturnReason:      r.TextValue("return_reason"),
		Status:            r.TextValue("status"),
		ReturnCreatedDate: r.Time("return_created_date"),
		RefundedDate:      r.Time("refunded_date"),
	}, true
}

// ToReturnCharge builds a ReturnCharge. Amounts keep their sign.
func ToReturnCharge(r Record) (models.ReturnCharge, bool) {
	id, ok := r.key()
	if !ok {
		return models.ReturnCharge{}, false
	}
	return models.ReturnCharge{
		OrderLineID:      id,
		OrderReleaseID:   r.TextValue("order_release_id"),
		ReturnType:       r.TextValue("return_type"),
		SettlementAmount: r.Decimal("settlement_amount"),
		ActualSettlement: r.Decimal("actual_settlement"),
	}, true
}

// ToPayment builds a Payment.
func ToPayment(r Record) (models.Payment, bool) {
	id, ok := r.key()
	if !ok {
		return models.Payment{}, false
	}
	return models.Payment{
		OrderLineID:         id,
		OrderReleaseID:      r.TextValue("order_release_id"),
		CustomerPaidAmount:  r.Decimal("customer_paid_amount"),
		SellerProductAmount: r.Decimal("seller_product_amount"),
		ExpectedSettlement:  r.Decimal("expected_settlement"),
		ActualSettlement:    r.Decimal("actual_settlement"),
		PendingSettlement:   r.Decimal("pending_settlement"),
		Commission:          r.Decimal("commission"),
		LogisticsDeduction:  r.Decimal("logistics_deduction"),
	}, true
}
