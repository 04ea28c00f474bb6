// Package checkout runs the pre-payment checks on a cart.
package checkout

import (
	"regexp"
	"strings"

	"github.com/kiwari-pos/orderflow/internal/apperr"
	"github.com/kiwari-pos/orderflow/internal/enum"
	"github.com/kiwari-pos/orderflow/internal/geo"
	"github.com/shopspring/decimal"
)

const DefaultRadiusMiles = 5.0

var DefaultMinDeliveryTotal = decimal.RequireFromString("25.00")

var phonePattern = regexp.MustCompile(`^[2-9]\d{2}[2-9]\d{6}$`)

// Validator holds the restaurant's delivery settings.
type Validator struct {
	Restaurant       geo.Point
	RadiusMiles      float64
	MinDeliveryTotal decimal.Decimal
}

// New returns a validator with the default radius and minimum.
func New(restaurant geo.Point) *Validator {
	return &Validator{
		Restaurant:       restaurant,
		RadiusMiles:      DefaultRadiusMiles,
		MinDeliveryTotal: DefaultMinDeliveryTotal,
	}
}

// Input is what the customer is about to pay for.
type Input struct {
	OrderType string
	LineCount int
	Total     decimal.Decimal
	Location  *geo.Point
	Phone     string
}

// Result carries the normalized phone and, for delivery, the distance.
type Result struct {
	Phone         string
	DistanceMiles float64
}

// Validate runs the checks in order and stops at the first failure:
// non-empty cart, delivery minimum, delivery location, delivery radius,
// then phone.
func (v *Validator) Validate(in Input) (Result, error) {
	var res Result

	if in.LineCount <= 0 {
		return res, apperr.Validation(apperr.CodeEmptyCart)
	}

	if in.OrderType == enum.OrderTypeDelivery {
		min := v.MinDeliveryTotal.Round(2)
		if in.Total.Round(2).LessThan(min) {
			return res, apperr.Validation(apperr.CodeMinimumNotMet, min.StringFixed(2))
		}
		if in.Location == nil || !in.Location.Valid() {
			return res, apperr.Validation(apperr.CodeLocationUnset)
		}
		res.DistanceMiles = geo.Haversine(v.Restaurant, *in.Location)
		if res.DistanceMiles > v.RadiusMiles {
			return res, apperr.Validation(apperr.CodeOutOfRadius, res.DistanceMiles, v.RadiusMiles)
		}
	}

	phone, ok := NormalizePhone(in.Phone)
	if !ok {
		return res, apperr.Validation(apperr.CodeInvalidPhone)
	}
	res.Phone = phone
	return res, nil
}

// NormalizePhone strips everything but digits, drops a leading country code
// 1 from 11-digit numbers, and reports whether the result is a valid
// 10-digit NANP number.
func NormalizePhone(raw string) (string, bool) {
	var b strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	digits := b.String()
	if len(digits) == 11 && digits[0] == '1' {
		digits = digits[1:]
	}
	return digits, phonePattern.MatchString(digits)
}

// Fees are the per-order charges added at checkout.
type Fees struct {
	DeliveryFee decimal.Decimal
	TaxRate     decimal.Decimal // fraction, e.g. 0.0925
}

// Quote is the amount due, itemized.
type Quote struct {
	Subtotal    decimal.Decimal `json:"subtotal"`
	DeliveryFee decimal.Decimal `json:"delivery_fee"`
	Tax         decimal.Decimal `json:"tax"`
	Total       decimal.Decimal `json:"total"`
}

// Quote adds the delivery fee (delivery orders only) and tax on the subtotal.
func (f Fees) Quote(orderType string, subtotal decimal.Decimal) Quote {
	q := Quote{Subtotal: subtotal.Round(2), DeliveryFee: decimal.Zero}
	if orderType == enum.OrderTypeDelivery {
		q.DeliveryFee = f.DeliveryFee.Round(2)
	}
	q.Tax = q.Subtotal.Mul(f.TaxRate).Round(2)
	q.Total = q.Subtotal.Add(q.DeliveryFee).Add(q.Tax)
	return q
}
