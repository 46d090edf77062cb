package bundle

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	pstrings "bundlesync/pkg/platform/strings"
)

// DefaultProduct is the catalog key used when none is configured.
const DefaultProduct = "pack-leyes-administrativo"

var (
	errUnknownProduct  = errors.New("unknown bundle product")
	errEmptyResources  = errors.New("bundle has no resources")
	errMissingLink     = errors.New("bundle has no payment link")
	errMissingResource = errors.New("resource id is required")
)

// Resource is one course in a bundle.
type Resource struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
}

// Bundle is the ordered set of resources granted together for one payment link.
type Bundle struct {
	Product     string
	PaymentLink string
	Resources   []Resource
}

type bundleEntry struct {
	PaymentLink string     `yaml:"payment_link"`
	Resources   []Resource `yaml:"resources"`
}

// Catalog maps product keys to bundles.
type Catalog struct {
	Bundles map[string]bundleEntry `yaml:"bundles"`
}

// LoadCatalog reads a YAML catalog file.
func LoadCatalog(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read bundle catalog: %w", err)
	}
	return ParseCatalog(data)
}

// ParseCatalog decodes and validates a YAML catalog.
func ParseCatalog(data []byte) (*Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parse bundle catalog: %w", err)
	}
	if len(c.Bundles) == 0 {
		return nil, fmt.Errorf("bundle catalog defines no bundles")
	}
	for _, product := range c.Products() {
		if _, err := c.Bundle(product); err != nil {
			return nil, err
		}
	}
	return &c, nil
}

// Products lists catalog keys in sorted order.
func (c *Catalog) Products() []string {
	products := make([]string, 0, len(c.Bundles))
	for key := range c.Bundles {
		products = append(products, key)
	}
	sort.Strings(products)
	return products
}

// Bundle returns the validated bundle for a product key.
func (c *Catalog) Bundle(product string) (*Bundle, error) {
	product = strings.TrimSpace(product)
	entry, ok := c.Bundles[product]
	if !ok {
		return nil, fmt.Errorf("%w: %q", errUnknownProduct, product)
	}
	if strings.TrimSpace(entry.PaymentLink) == "" {
		return nil, fmt.Errorf("%s: %w", product, errMissingLink)
	}
	if len(entry.Resources) == 0 {
		return nil, fmt.Errorf("%s: %w", product, errEmptyResources)
	}

	ids := make([]string, 0, len(entry.Resources))
	resources := make([]Resource, 0, len(entry.Resources))
	for i, r := range entry.Resources {
		id := strings.TrimSpace(r.ID)
		if id == "" {
			return nil, fmt.Errorf("%s: resource %d: %w", product, i, errMissingResource)
		}
		ids = append(ids, id)
		resources = append(resources, Resource{ID: id, Name: strings.TrimSpace(r.Name)})
	}
	if dups := pstrings.Duplicates(ids); len(dups) > 0 {
		return nil, fmt.Errorf("%s: duplicate resource ids: %s", product, strings.Join(dups, ", "))
	}

	return &Bundle{
		Product:     product,
		PaymentLink: strings.TrimSpace(entry.PaymentLink),
		Resources:   resources,
	}, nil
}

// DefaultCatalog returns the built-in catalog.
func DefaultCatalog() *Catalog {
	return &Catalog{Bundles: map[string]bundleEntry{
		DefaultProduct: {
			PaymentLink: "plink_1T4JrGB2szZEmbl7K8W84829",
			Resources: []Resource{
				{ID: "2665379", Name: "LEY DE JURISDICCIÓN CONTENCIOSO ADMINISTRATIVA"},
				{ID: "2550305", Name: "LA LEY ORGÁNICA DEL TRIBUNAL CONSTITUCIONAL"},
				{ID: "2556827", Name: "LEY DE CONTRATOS DEL SECTOR PÚBLICO"},
				{ID: "2550289", Name: "LAS LEYES DE IGUALDAD"},
				{ID: "2559560", Name: "LEY 39/2015 + LEY 40/2015"},
				{ID: "2945063", Name: "Ley de Prevención de Riesgos Laborales"},
				{ID: "2550250", Name: "LA CONSTITUCIÓN ESPAÑOLA"},
				{ID: "2665372", Name: "LEY REGULADORA DE LAS BASES DEL RÉGIMEN LOCAL"},
				{ID: "2665376", Name: "LEY DE ENJUICIAMIENTO CIVIL"},
				{ID: "2945064", Name: "LEY GENERAL PRESUPUESTARIA"},
				{ID: "2550313", Name: "ESTATUTO BÁSICO DEL EMPLEADO PÚBLICO"},
			},
		},
	}}
}

// Resolve loads the catalog at path, or the built-in one when path is empty, and
// returns the bundle for product.
func Resolve(path, product string) (*Bundle, error) {
	catalog := DefaultCatalog()
	if strings.TrimSpace(path) != "" {
		var err error
		catalog, err = LoadCatalog(path)
		if err != nil {
			return nil, err
		}
	}
	if strings.TrimSpace(product) == "" {
		product = DefaultProduct
	}
	return catalog.Bundle(product)
}
