package money

import (
	"strings"

	"github.com/shopspring/decimal"
)

// Normalised delivery methods
const (
	MethodInHouse    = "in_house"
	MethodThirdParty = "third_party"
)

const typeInstant = "instant"

// OrderAmounts is the raw money of an order plus the two fields that decide how it folds.
type OrderAmounts struct {
	DeliveryMethod string
	OrderType      string
	Total          Pair
	DeliveryFee    Pair
	ThirdPartyFee  Pair
	DriverFee      Pair
}

// Displayed is what the business recognises for an order.
type Displayed struct {
	ComputedTotalUSD     decimal.Decimal `json:"computed_total_usd"`
	ComputedTotalLBP     decimal.Decimal `json:"computed_total_lbp"`
	DeliveryFeesUSDShown decimal.Decimal `json:"delivery_fees_usd_shown"`
	DeliveryFeesLBPShown decimal.Decimal `json:"delivery_fees_lbp_shown"`
	ShowDeliveryFees     bool            `json:"show_delivery_fees"`
}

// ComputedTotal returns the effective total as a pair.
func (d Displayed) ComputedTotal() Pair {
	return Pair{USD: d.ComputedTotalUSD, LBP: d.ComputedTotalLBP}
}

// NormalizeDeliveryMethod maps free-form input onto in_house or third_party.
// Anything unrecognised is treated as in_house.
func NormalizeDeliveryMethod(method string) string {
	m := strings.ToLower(strings.TrimSpace(method))
	m = strings.NewReplacer(" ", "", "_", "", "-", "").Replace(m)
	switch m {
	case "thirdparty":
		return MethodThirdParty
	default:
		return MethodInHouse
	}
}

// IsInstant reports whether the order type is the instant type.
func IsInstant(orderType string) bool {
	return strings.ToLower(strings.TrimSpace(orderType)) == typeInstant
}

// ComputeDisplayedAmounts folds delivery, driver and third-party fees into the
// effective total according to the delivery method and order type.
//
//	in_house    / non-instant: total                        fees shown: delivery
//	in_house    / instant:     total + driver               fees hidden
//	third_party / non-instant: total + delivery + 3rd party fees shown: delivery + 3rd party
//	third_party / instant:     total + driver + 3rd party   fees hidden
func ComputeDisplayedAmounts(in OrderAmounts) Displayed {
	total := NewPair(in.Total.USD, in.Total.LBP)
	delivery := NewPair(in.DeliveryFee.USD, in.DeliveryFee.LBP)
	thirdParty := NewPair(in.ThirdPartyFee.USD, in.ThirdPartyFee.LBP)
	driver := NewPair(in.DriverFee.USD, in.DriverFee.LBP)

	instant := IsInstant(in.OrderType)

	var computed, shown Pair
	show := !instant

	switch NormalizeDeliveryMethod(in.DeliveryMethod) {
	case MethodThirdParty:
		if instant {
			computed = total.Add(driver).Add(thirdParty)
		} else {
			shown = delivery.Add(thirdParty)
			computed = total.Add(shown)
		}
	default:
		if instant {
			computed = total.Add(driver)
		} else {
			computed = total
			shown = delivery
		}
	}

	if !show {
		shown = NewPair(decimal.Zero, decimal.Zero)
	}

	return Displayed{
		ComputedTotalUSD:     USD(computed.USD),
		ComputedTotalLBP:     LBP(computed.LBP),
		DeliveryFeesUSDShown: USD(shown.USD),
		DeliveryFeesLBPShown: LBP(shown.LBP),
		ShowDeliveryFees:     show,
	}
}
