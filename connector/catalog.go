package connector

import (
	"errors"
	"fmt"
	"strings"
)

// ErrDatasetNotFound signals a catalog query with no matching dataset.
var ErrDatasetNotFound = errors.New("connector: no dataset matches the query")

// CatalogContent wraps a raw catalog response document.
type CatalogContent struct {
	Data map[string]interface{}
}

// Datasets returns the catalog's datasets. The dcat:dataset entry is a
// single object when the catalog holds one dataset and a list
// otherwise; both shapes normalize to a slice.
func (c *CatalogContent) Datasets() []CatalogDataset {
	raw, ok := c.Data["dcat:dataset"]
	if !ok || raw == nil {
		return nil
	}

	switch v := raw.(type) {
	case []interface{}:
		out := make([]CatalogDataset, 0, len(v))
		for _, item := range v {
			if m, ok := item.(map[string]interface{}); ok {
				out = append(out, CatalogDataset{Data: m})
			}
		}
		return out
	case map[string]interface{}:
		return []CatalogDataset{{Data: v}}
	}
	return nil
}

// FindOneDataset picks the dataset matching query: with no query the
// first dataset, otherwise a case-insensitive exact match on id or
// name, then a substring match. No match is ErrDatasetNotFound.
func (c *CatalogContent) FindOneDataset(query string) (CatalogDataset, error) {
	datasets := c.Datasets()

	if query == "" {
		if len(datasets) == 0 {
			return CatalogDataset{}, ErrDatasetNotFound
		}
		return datasets[0], nil
	}

	q := strings.ToLower(query)

	for _, dset := range datasets {
		if q == strings.ToLower(dset.ID()) || q == strings.ToLower(dset.Name()) {
			return dset, nil
		}
	}

	for _, dset := range datasets {
		if strings.Contains(strings.ToLower(dset.ID()), q) ||
			strings.Contains(strings.ToLower(dset.Name()), q) {
			return dset, nil
		}
	}

	return CatalogDataset{}, fmt.Errorf("%w: %s", ErrDatasetNotFound, query)
}

// CatalogDataset wraps one dataset entry of a catalog.
type CatalogDataset struct {
	Data map[string]interface{}
}

// ID returns the dataset id, preferring the plain id property over the
// JSON-LD @id.
func (d CatalogDataset) ID() string {
	if id := d.stringField("id"); id != "" {
		return id
	}
	return d.stringField("@id")
}

// Name returns the dataset name property.
func (d CatalogDataset) Name() string {
	return d.stringField("name")
}

// DefaultPolicy returns the dataset's first offer policy, normalizing
// the scalar-or-list odrl:hasPolicy shape.
func (d CatalogDataset) DefaultPolicy() map[string]interface{} {
	switch v := d.Data["odrl:hasPolicy"].(type) {
	case []interface{}:
		if len(v) > 0 {
			if m, ok := v[0].(map[string]interface{}); ok {
				return m
			}
		}
	case map[string]interface{}:
		return v
	}
	return nil
}

// DefaultContractOfferID returns the offer id a negotiation references.
func (d CatalogDataset) DefaultContractOfferID() string {
	policy := d.DefaultPolicy()
	if policy == nil {
		return ""
	}
	id, _ := policy["@id"].(string)
	return id
}

// DefaultAssetID returns the asset id a negotiation targets.
func (d CatalogDataset) DefaultAssetID() string {
	return d.stringField("@id")
}

func (d CatalogDataset) stringField(key string) string {
	s, _ := d.Data[key].(string)
	return s
}
