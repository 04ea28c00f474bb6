// Package pricing resolves a menu item plus selected options into a unit price.
//
// Compute is pure: the same item and selection always produce the same price,
// which keeps cart totals reproducible across reloads and across devices.
package pricing

import (
	"sort"
	"strings"

	"github.com/kiwari-pos/orderflow/internal/apperr"
	"github.com/kiwari-pos/orderflow/internal/enum"
	"github.com/kiwari-pos/orderflow/internal/menu"
	"github.com/shopspring/decimal"
)

var (
	surchargeMedium = decimal.RequireFromString("0.25")
	surchargeLarge  = decimal.RequireFromString("0.50")
	surchargeXL     = decimal.RequireFromString("0.75")
)

// Quote is a resolved selection: unit price and the option instances it came from.
type Quote struct {
	UnitPrice decimal.Decimal
	Options   []menu.SelectedOption
}

// Compute returns the unit price for item with selection.
func Compute(item menu.MenuItem, sel menu.Selection) (decimal.Decimal, error) {
	q, err := Resolve(item, sel)
	if err != nil {
		return decimal.Zero, err
	}
	return q.UnitPrice, nil
}

// Resolve validates selection against item and prices every chosen option.
// Options come back ordered by the item's group order, then by option id.
func Resolve(item menu.MenuItem, sel menu.Selection) (Quote, error) {
	for key := range sel {
		if _, ok := item.Group(key); !ok {
			return Quote{}, apperr.Validation(apperr.CodeUnknownOption, key)
		}
	}

	surcharge := sizeSurcharge(item, sel)
	total := item.BasePrice
	var resolved []menu.SelectedOption

	for _, g := range item.Groups {
		choices := sel[g.Key]
		if len(choices) == 0 {
			if g.Required {
				return Quote{}, apperr.Validation(apperr.CodeMissingRequiredOption, g.DisplayName())
			}
			continue
		}
		if !g.Multiple() && len(choices) > 1 {
			return Quote{}, apperr.Validation(apperr.CodeTooManyChoices, g.DisplayName())
		}
		if g.Multiple() && g.Max > 0 && len(choices) > g.Max {
			return Quote{}, apperr.LimitExceeded(g.Max, g.DisplayName())
		}

		groupOpts := make([]menu.SelectedOption, 0, len(choices))
		for _, c := range choices {
			opt, ok := g.Option(c.OptionID)
			if !ok {
				return Quote{}, apperr.Validation(apperr.CodeUnknownOption, g.DisplayName())
			}
			placement := menu.NormalizePlacement(c.Placement)
			if !menu.ValidPlacement(placement) || (placement != enum.PlacementWhole && !opt.HalfEligible) {
				return Quote{}, apperr.Validation(apperr.CodeInvalidPlacement, opt.Name)
			}

			price := opt.Price
			if surchargeApplies(g.Key) {
				price = price.Add(surcharge)
			}
			total = total.Add(price)
			groupOpts = append(groupOpts, menu.SelectedOption{
				Group:     g.Key,
				OptionID:  opt.ID,
				Name:      opt.Name,
				Placement: placement,
				Price:     price.Round(2),
			})
		}
		sort.SliceStable(groupOpts, func(i, j int) bool {
			if groupOpts[i].OptionID != groupOpts[j].OptionID {
				return groupOpts[i].OptionID < groupOpts[j].OptionID
			}
			return groupOpts[i].Placement < groupOpts[j].Placement
		})
		resolved = append(resolved, groupOpts...)
	}

	return Quote{UnitPrice: total.Round(2), Options: resolved}, nil
}

func surchargeApplies(groupKey string) bool {
	return groupKey == enum.GroupTopping || groupKey == enum.GroupExtra
}

// sizeSurcharge is the per-option add-on for toppings and extras, keyed by the
// display name of the currently selected size.
func sizeSurcharge(item menu.MenuItem, sel menu.Selection) decimal.Decimal {
	g, ok := item.Group(enum.GroupSize)
	if !ok {
		return decimal.Zero
	}
	choices := sel[enum.GroupSize]
	if len(choices) == 0 {
		return decimal.Zero
	}
	opt, ok := g.Option(choices[0].OptionID)
	if !ok {
		return decimal.Zero
	}
	return SurchargeForSize(opt.Name)
}

// SurchargeForSize maps a size display name to its topping surcharge.
func SurchargeForSize(name string) decimal.Decimal {
	n := strings.ToLower(strings.TrimSpace(name))
	switch {
	case n == "m" || n == "medium":
		return surchargeMedium
	case n == "l" || n == "large":
		return surchargeLarge
	case strings.Contains(n, "xl"):
		return surchargeXL
	}
	return decimal.Zero
}
