package domain

// OfferRecord is one order parsed out of an offer-list message. ID is empty
// when the announcement carried no order number.
type OfferRecord struct {
	ID        string
	Quantity  float64
	UnitPrice float64
}

// Anonymous reports whether the offer has no id and therefore cannot be
// deduplicated.
func (o OfferRecord) Anonymous() bool {
	return o.ID == ""
}

// Thresholds are the minimum quantity and unit price an offer must meet.
type Thresholds struct {
	MinQuantity  float64
	MinUnitPrice float64
}

// Admits reports whether the offer meets both minimums.
func (t Thresholds) Admits(o OfferRecord) bool {
	return o.Quantity >= t.MinQuantity && o.UnitPrice >= t.MinUnitPrice
}
