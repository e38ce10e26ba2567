package tableorder

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// Catalog is the fixed, read-only list of orderable items.
type Catalog struct {
	items  []MenuItem
	byName map[string]int
}

// NewCatalog builds a catalog from items, keeping their order.
// Names must be unique and non-empty, and prices must not be negative.
func NewCatalog(items ...MenuItem) (*Catalog, error) {
	if len(items) == 0 {
		return nil, fmt.Errorf("%w: catalog is empty", ErrInvalidParam)
	}

	c := &Catalog{
		items:  make([]MenuItem, 0, len(items)),
		byName: make(map[string]int, len(items)),
	}

	for _, item := range items {
		if strings.TrimSpace(item.Name) == "" {
			return nil, fmt.Errorf("%w: item name is empty", ErrInvalidParam)
		}
		if item.UnitPrice.IsNegative() {
			return nil, fmt.Errorf("%w: item %q has negative price %s", ErrInvalidParam, item.Name, item.UnitPrice)
		}
		if _, exists := c.byName[item.Name]; exists {
			return nil, fmt.Errorf("%w: duplicate item %q", ErrInvalidParam, item.Name)
		}
		c.byName[item.Name] = len(c.items)
		c.items = append(c.items, item)
	}

	return c, nil
}

// Lookup returns the item with the given name or ErrUnknownItem.
func (c *Catalog) Lookup(name string) (MenuItem, error) {
	idx, ok := c.byName[name]
	if !ok {
		return MenuItem{}, fmt.Errorf("%w: %q", ErrUnknownItem, name)
	}
	return c.items[idx], nil
}

// Items returns a copy of all items in declaration order.
func (c *Catalog) Items() []MenuItem {
	items := make([]MenuItem, len(c.items))
	copy(items, c.items)
	return items
}

func (c *Catalog) Len() int {
	return len(c.items)
}

type catalogFile struct {
	Categories []catalogCategory `yaml:"categories"`
}

type catalogCategory struct {
	Name  string        `yaml:"name"`
	Items []catalogItem `yaml:"items"`
}

type catalogItem struct {
	Name  string `yaml:"name"`
	Price string `yaml:"price"` // Using string to prevent float rounding
}

// LoadCatalog reads a YAML catalog grouped by category:
//
//	categories:
//	  - name: Getränke
//	    items:
//	      - { name: Cola, price: "3.50" }
func LoadCatalog(r io.Reader) (*Catalog, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var file catalogFile
	if err := dec.Decode(&file); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: catalog is empty", ErrInvalidParam)
		}
		return nil, fmt.Errorf("decode catalog: %w", err)
	}

	var items []MenuItem
	for _, category := range file.Categories {
		for _, it := range category.Items {
			price, err := decimal.NewFromString(strings.TrimSpace(it.Price))
			if err != nil {
				return nil, fmt.Errorf("%w: item %q has invalid price %q", ErrInvalidParam, it.Name, it.Price)
			}
			items = append(items, MenuItem{
				Name:      it.Name,
				UnitPrice: price,
				Category:  category.Name,
			})
		}
	}

	return NewCatalog(items...)
}

// LoadCatalogFile opens path and loads it with LoadCatalog.
func LoadCatalogFile(path string) (*Catalog, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	catalog, err := LoadCatalog(f)
	if err != nil {
		return nil, fmt.Errorf("load catalog %s: %w", path, err)
	}
	return catalog, nil
}
