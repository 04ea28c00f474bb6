package pricing

import (
	"github.com/kiwari-pos/orderflow/internal/apperr"
	"github.com/kiwari-pos/orderflow/internal/enum"
	"github.com/kiwari-pos/orderflow/internal/menu"
	"github.com/shopspring/decimal"
)

// Builder accumulates a selection for one item, rejecting changes the item's
// option groups don't allow. A rejected change leaves the selection untouched.
type Builder struct {
	item menu.MenuItem
	sel  menu.Selection
}

// NewBuilder starts an empty selection for item.
func NewBuilder(item menu.MenuItem) *Builder {
	return &Builder{item: item, sel: menu.Selection{}}
}

// Choose sets the single choice of a single-select group.
func (b *Builder) Choose(groupKey, optionID, placement string) error {
	g, opt, err := b.lookup(groupKey, optionID)
	if err != nil {
		return err
	}
	if g.Multiple() {
		return b.Toggle(groupKey, optionID, placement)
	}
	placement, err = checkPlacement(opt, placement)
	if err != nil {
		return err
	}
	b.sel[groupKey] = []menu.Choice{{OptionID: optionID, Placement: placement}}
	return nil
}

// Toggle adds optionID to a multi-select group, or removes it if present.
// Adding beyond the group's max returns a LimitExceeded error.
func (b *Builder) Toggle(groupKey, optionID, placement string) error {
	g, opt, err := b.lookup(groupKey, optionID)
	if err != nil {
		return err
	}
	if !g.Multiple() {
		return b.Choose(groupKey, optionID, placement)
	}

	current := b.sel[groupKey]
	for i, c := range current {
		if c.OptionID == optionID {
			next := append(append([]menu.Choice(nil), current[:i]...), current[i+1:]...)
			if len(next) == 0 {
				delete(b.sel, groupKey)
			} else {
				b.sel[groupKey] = next
			}
			return nil
		}
	}

	if g.Max > 0 && len(current) >= g.Max {
		return apperr.LimitExceeded(g.Max, g.DisplayName())
	}
	placement, err = checkPlacement(opt, placement)
	if err != nil {
		return err
	}
	b.sel[groupKey] = append(append([]menu.Choice(nil), current...), menu.Choice{OptionID: optionID, Placement: placement})
	return nil
}

// Place moves an already chosen option to another placement.
func (b *Builder) Place(groupKey, optionID, placement string) error {
	_, opt, err := b.lookup(groupKey, optionID)
	if err != nil {
		return err
	}
	placement, err = checkPlacement(opt, placement)
	if err != nil {
		return err
	}
	for i, c := range b.sel[groupKey] {
		if c.OptionID == optionID {
			b.sel[groupKey][i].Placement = placement
			return nil
		}
	}
	return apperr.Validation(apperr.CodeUnknownOption, groupKey)
}

// Clear drops every choice in a group.
func (b *Builder) Clear(groupKey string) {
	delete(b.sel, groupKey)
}

// Selection returns a copy of the current selection.
func (b *Builder) Selection() menu.Selection {
	return b.sel.Clone()
}

// Price computes the unit price of the current selection.
func (b *Builder) Price() (decimal.Decimal, error) {
	return Compute(b.item, b.sel)
}

func (b *Builder) lookup(groupKey, optionID string) (menu.OptionGroup, menu.Option, error) {
	g, ok := b.item.Group(groupKey)
	if !ok {
		return menu.OptionGroup{}, menu.Option{}, apperr.Validation(apperr.CodeUnknownOption, groupKey)
	}
	opt, ok := g.Option(optionID)
	if !ok {
		return menu.OptionGroup{}, menu.Option{}, apperr.Validation(apperr.CodeUnknownOption, g.DisplayName())
	}
	return g, opt, nil
}

func checkPlacement(opt menu.Option, placement string) (string, error) {
	p := menu.NormalizePlacement(placement)
	if !menu.ValidPlacement(p) || (p != enum.PlacementWhole && !opt.HalfEligible) {
		return "", apperr.Validation(apperr.CodeInvalidPlacement, opt.Name)
	}
	return p, nil
}
