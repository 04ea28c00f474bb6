package menu

import (
	"github.com/kiwari-pos/orderflow/internal/enum"
	"github.com/shopspring/decimal"
)

// Option is one choice inside an option group.
type Option struct {
	ID           string          `json:"id" yaml:"id"`
	Name         string          `json:"name" yaml:"name"`
	Price        decimal.Decimal `json:"price" yaml:"price"`
	HalfEligible bool            `json:"half_eligible" yaml:"half_eligible"`
}

// OptionGroup is a named set of related choices (size, topping, ...).
type OptionGroup struct {
	Key      string   `json:"key" yaml:"key"`
	Name     string   `json:"name" yaml:"name"`
	Mode     string   `json:"mode" yaml:"mode"`
	Required bool     `json:"required" yaml:"required"`
	Max      int      `json:"max,omitempty" yaml:"max"` // 0 means unlimited
	Options  []Option `json:"options" yaml:"options"`
}

// MenuItem is a sellable item with a base price and its option groups.
type MenuItem struct {
	ID        string          `json:"id" yaml:"id"`
	Name      string          `json:"name" yaml:"name"`
	BasePrice decimal.Decimal `json:"base_price" yaml:"base_price"`
	Groups    []OptionGroup   `json:"groups" yaml:"groups"`
}

// Group returns the group with the given key.
func (m MenuItem) Group(key string) (OptionGroup, bool) {
	for _, g := range m.Groups {
		if g.Key == key {
			return g, true
		}
	}
	return OptionGroup{}, false
}

// Option returns the option with the given id.
func (g OptionGroup) Option(id string) (Option, bool) {
	for _, o := range g.Options {
		if o.ID == id {
			return o, true
		}
	}
	return Option{}, false
}

// Multiple reports whether the group accepts more than one choice.
func (g OptionGroup) Multiple() bool {
	return g.Mode == enum.SelectMultiple
}

// DisplayName is the label used in user-facing messages.
func (g OptionGroup) DisplayName() string {
	if g.Name != "" {
		return g.Name
	}
	return g.Key
}

// Choice is one picked option and where it goes on the item.
type Choice struct {
	OptionID  string `json:"option_id"`
	Placement string `json:"placement"`
}

// Selection maps group key to the choices made in that group.
type Selection map[string][]Choice

// Clone returns a deep copy.
func (s Selection) Clone() Selection {
	out := make(Selection, len(s))
	for k, v := range s {
		out[k] = append([]Choice(nil), v...)
	}
	return out
}

// SelectedOption is a resolved choice with its price.
type SelectedOption struct {
	Group     string          `json:"group"`
	OptionID  string          `json:"option_id"`
	Name      string          `json:"name"`
	Placement string          `json:"placement"`
	Price     decimal.Decimal `json:"price"`
}

// NormalizePlacement maps empty placement to whole.
func NormalizePlacement(p string) string {
	if p == "" {
		return enum.PlacementWhole
	}
	return p
}

// ValidPlacement reports whether p is one of whole, left, right.
func ValidPlacement(p string) bool {
	switch p {
	case enum.PlacementWhole, enum.PlacementLeft, enum.PlacementRight:
		return true
	}
	return false
}
