package stock

import (
	"errors"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"
)

// Catalog is the document form of a product snapshot. JSON is accepted too.
type Catalog struct {
	Products []Product `yaml:"products" json:"products"`
}

// ReadCatalog decodes and checks a product snapshot.
func ReadCatalog(r io.Reader) ([]Product, error) {
	var c Catalog
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&c); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("catalog is empty")
		}
		return nil, fmt.Errorf("decode catalog: %w", err)
	}

	seen := make(map[string]bool, len(c.Products))
	for _, p := range c.Products {
		if p.ID == "" {
			return nil, fmt.Errorf("product %q has no id", p.Name)
		}
		if seen[p.ID] {
			return nil, fmt.Errorf("product %s listed twice", p.ID)
		}
		seen[p.ID] = true
		if len(p.Units) == 0 {
			return nil, fmt.Errorf("product %s has no selling units", p.ID)
		}
		units := make(map[string]bool, len(p.Units))
		for _, u := range p.Units {
			switch {
			case u.ID == "":
				return nil, fmt.Errorf("product %s: selling unit without id", p.ID)
			case units[u.ID]:
				return nil, fmt.Errorf("product %s: unit %s listed twice", p.ID, u.ID)
			case u.Price.IsNegative():
				return nil, fmt.Errorf("product %s unit %s: negative price", p.ID, u.ID)
			case u.Stock < 0:
				return nil, fmt.Errorf("product %s unit %s: negative stock", p.ID, u.ID)
			}
			units[u.ID] = true
		}
	}
	return c.Products, nil
}
