package menu

import (
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

var (
	ErrDuplicateItem = errors.New("duplicate menu item id")
	ErrInvalidMode   = errors.New("invalid option group mode")
)

// Catalog is the set of menu items a restaurant sells, keyed by item id.
type Catalog struct {
	Items map[string]MenuItem
}

type catalogFile struct {
	Items []MenuItem `yaml:"items"`
}

// LoadCatalog reads a YAML catalog from path.
func LoadCatalog(path string) (*Catalog, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open catalog: %w", err)
	}
	defer f.Close()
	return ParseCatalog(f)
}

// ParseCatalog decodes a YAML catalog document.
func ParseCatalog(r io.Reader) (*Catalog, error) {
	var doc catalogFile
	if err := yaml.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode catalog: %w", err)
	}
	return NewCatalog(doc.Items...)
}

// NewCatalog indexes items by id and defaults empty group modes to single.
func NewCatalog(items ...MenuItem) (*Catalog, error) {
	c := &Catalog{Items: make(map[string]MenuItem, len(items))}
	for _, item := range items {
		if _, dup := c.Items[item.ID]; dup {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateItem, item.ID)
		}
		for i, g := range item.Groups {
			switch g.Mode {
			case "":
				item.Groups[i].Mode = "single"
			case "single", "multiple":
			default:
				return nil, fmt.Errorf("item %s group %s: %w: %q", item.ID, g.Key, ErrInvalidMode, g.Mode)
			}
		}
		c.Items[item.ID] = item
	}
	return c, nil
}

// Item looks up a menu item.
func (c *Catalog) Item(id string) (MenuItem, bool) {
	item, ok := c.Items[id]
	return item, ok
}
