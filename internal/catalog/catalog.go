// Package catalog resolves (platform, sensor, product) triples to product
// descriptors. A Catalog is loaded once and never mutated afterwards, so it is
// safe for concurrent readers without locking.
package catalog

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/mohammed-shakir/eo-timeseries/internal/core/apperr"
	"github.com/mohammed-shakir/eo-timeseries/internal/core/model"
)

//go:embed products.yaml
var embedded []byte

var ErrUnknownProduct = errors.New("unknown product")

type Catalog struct {
	byKey     map[model.ProductKey]model.Descriptor
	platforms []string
	sensors   map[string][]string
	products  map[[2]string][]string
}

type productDoc struct {
	Display    string           `yaml:"display"`
	Collection string           `yaml:"collection"`
	Index      string           `yaml:"index"`
	VisParams  *model.VisParams `yaml:"vis_params"`
	CloudMask  string           `yaml:"cloud_mask"`
	StartDate  string           `yaml:"start_date"`
	EndDate    string           `yaml:"end_date"`
}

// Default loads the catalog compiled into the binary.
func Default() (*Catalog, error) {
	return Parse(embedded)
}

func LoadFile(path string) (*Catalog, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open catalog: %w", err)
	}
	defer func() { _ = f.Close() }()
	return Load(f)
}

func Load(r io.Reader) (*Catalog, error) {
	b, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	return Parse(b)
}

// Parse decodes the nested platform -> sensor -> product document, keeping
// the document order for listings.
func Parse(b []byte) (*Catalog, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(b, &doc); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}
	if len(doc.Content) == 0 {
		return nil, errors.New("parse catalog: empty document")
	}
	root := doc.Content[0]
	if root.Kind != yaml.MappingNode {
		return nil, errors.New("parse catalog: top level must be a mapping of platforms")
	}

	c := &Catalog{
		byKey:    map[model.ProductKey]model.Descriptor{},
		sensors:  map[string][]string{},
		products: map[[2]string][]string{},
	}
	err := eachPair(root, func(platform string, sensorsNode *yaml.Node) error {
		c.platforms = append(c.platforms, platform)
		return eachPair(sensorsNode, func(sensor string, productsNode *yaml.Node) error {
			c.sensors[platform] = append(c.sensors[platform], sensor)
			return eachPair(productsNode, func(product string, leaf *yaml.Node) error {
				pd, err := decodeProduct(leaf)
				if err != nil {
					return fmt.Errorf("%s/%s/%s: %w", platform, sensor, product, err)
				}
				key := model.ProductKey{Platform: platform, Sensor: sensor, Product: product}
				d, err := pd.descriptor(key)
				if err != nil {
					return err
				}
				c.byKey[key] = d
				pk := [2]string{platform, sensor}
				c.products[pk] = append(c.products[pk], product)
				return nil
			})
		})
	})
	if err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}
	return c, nil
}

// decodeProduct decodes one leaf, rejecting keys productDoc does not declare
// at any depth.
func decodeProduct(leaf *yaml.Node) (productDoc, error) {
	var pd productDoc
	b, err := yaml.Marshal(leaf)
	if err != nil {
		return pd, err
	}
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err := dec.Decode(&pd); err != nil {
		return pd, err
	}
	return pd, nil
}

func eachPair(n *yaml.Node, fn func(key string, val *yaml.Node) error) error {
	if n.Kind != yaml.MappingNode {
		return fmt.Errorf("line %d: expected mapping", n.Line)
	}
	seen := make(map[string]struct{}, len(n.Content)/2)
	for i := 0; i+1 < len(n.Content); i += 2 {
		k := strings.TrimSpace(n.Content[i].Value)
		if k == "" {
			return fmt.Errorf("line %d: empty key", n.Content[i].Line)
		}
		if _, dup := seen[k]; dup {
			return fmt.Errorf("line %d: duplicate key %q", n.Content[i].Line, k)
		}
		seen[k] = struct{}{}
		if err := fn(k, n.Content[i+1]); err != nil {
			return err
		}
	}
	return nil
}

func (pd productDoc) descriptor(key model.ProductKey) (model.Descriptor, error) {
	if strings.TrimSpace(pd.Collection) == "" {
		return model.Descriptor{}, fmt.Errorf("%s: collection is required", key)
	}
	start, err := parseDate(pd.StartDate)
	if err != nil {
		return model.Descriptor{}, fmt.Errorf("%s: start_date: %w", key, err)
	}
	end, err := parseDate(pd.EndDate)
	if err != nil {
		return model.Descriptor{}, fmt.Errorf("%s: end_date: %w", key, err)
	}
	if !start.IsZero() && !end.IsZero() && end.Before(start) {
		return model.Descriptor{}, fmt.Errorf("%s: end_date before start_date", key)
	}
	display := strings.TrimSpace(pd.Display)
	if display == "" {
		display = key.Product
	}
	return model.Descriptor{
		Key:          key,
		CollectionID: strings.TrimSpace(pd.Collection),
		IndexName:    strings.TrimSpace(pd.Index),
		VisParams:    pd.VisParams,
		CloudMask:    strings.TrimSpace(pd.CloudMask),
		StartDate:    start,
		EndDate:      end,
		DisplayName:  display,
	}, nil
}

func parseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(model.DateLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse date %q: %w", s, err)
	}
	return t, nil
}

// Resolve returns a copy of the descriptor for the triple. A missing key at
// any level fails the whole lookup.
func (c *Catalog) Resolve(platform, sensor, product string) (model.Descriptor, error) {
	key := model.ProductKey{Platform: platform, Sensor: sensor, Product: product}
	d, ok := c.byKey[key]
	if !ok {
		return model.Descriptor{}, apperr.Catalog("catalog.Resolve",
			fmt.Sprintf("unknown product %s", key),
			fmt.Errorf("%w: %s", ErrUnknownProduct, key))
	}
	return d.Clone(), nil
}

func (c *Catalog) Platforms() []string {
	return slices.Clone(c.platforms)
}

func (c *Catalog) Sensors(platform string) []string {
	return slices.Clone(c.sensors[platform])
}

func (c *Catalog) Products(platform, sensor string) []string {
	return slices.Clone(c.products[[2]string{platform, sensor}])
}

func (c *Catalog) Len() int { return len(c.byKey) }
