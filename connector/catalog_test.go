package connector

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testDataset(id, name string) map[string]interface{} {
	return map[string]interface{}{
		"@id":  id,
		"id":   id,
		"name": name,
		"odrl:hasPolicy": map[string]interface{}{
			"@id": "offer-" + id,
		},
	}
}

func catalogWith(datasets interface{}) *CatalogContent {
	return &CatalogContent{Data: map[string]interface{}{"dcat:dataset": datasets}}
}

func TestCatalogContentDatasets(t *testing.T) {
	t.Run("normalizes a single dataset object", func(t *testing.T) {
		catalog := catalogWith(testDataset("asset-1", "Asset One"))

		datasets := catalog.Datasets()
		require.Len(t, datasets, 1)
		assert.Equal(t, "asset-1", datasets[0].ID())
	})

	t.Run("keeps list order", func(t *testing.T) {
		catalog := catalogWith([]interface{}{
			testDataset("asset-1", "Asset One"),
			testDataset("asset-2", "Asset Two"),
		})

		datasets := catalog.Datasets()
		require.Len(t, datasets, 2)
		assert.Equal(t, "asset-1", datasets[0].ID())
		assert.Equal(t, "asset-2", datasets[1].ID())
	})

	t.Run("empty catalogs yield no datasets", func(t *testing.T) {
		assert.Empty(t, (&CatalogContent{Data: map[string]interface{}{}}).Datasets())
		assert.Empty(t, catalogWith(nil).Datasets())
	})
}

func TestFindOneDataset(t *testing.T) {
	catalog := catalogWith([]interface{}{
		testDataset("asset-temperature", "Temperature Readings"),
		testDataset("asset-humidity", "Humidity Readings"),
	})

	t.Run("no query returns the first dataset", func(t *testing.T) {
		dset, err := catalog.FindOneDataset("")
		require.NoError(t, err)
		assert.Equal(t, "asset-temperature", dset.ID())
	})

	t.Run("no query on an empty catalog fails", func(t *testing.T) {
		_, err := catalogWith(nil).FindOneDataset("")
		assert.ErrorIs(t, err, ErrDatasetNotFound)
	})

	t.Run("exact id match ignores case", func(t *testing.T) {
		dset, err := catalog.FindOneDataset("ASSET-HUMIDITY")
		require.NoError(t, err)
		assert.Equal(t, "asset-humidity", dset.ID())
	})

	t.Run("exact name match", func(t *testing.T) {
		dset, err := catalog.FindOneDataset("humidity readings")
		require.NoError(t, err)
		assert.Equal(t, "asset-humidity", dset.ID())
	})

	t.Run("substring match when nothing matches exactly", func(t *testing.T) {
		dset, err := catalog.FindOneDataset("temper")
		require.NoError(t, err)
		assert.Equal(t, "asset-temperature", dset.ID())
	})

	t.Run("exact match wins over an earlier substring match", func(t *testing.T) {
		shadowed := catalogWith([]interface{}{
			testDataset("asset-1-archive", "Archive"),
			testDataset("asset-1", "Live"),
		})

		dset, err := shadowed.FindOneDataset("asset-1")
		require.NoError(t, err)
		assert.Equal(t, "asset-1", dset.ID())
	})

	t.Run("no match fails with the query in the error", func(t *testing.T) {
		_, err := catalog.FindOneDataset("pressure")
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrDatasetNotFound))
		assert.Contains(t, err.Error(), "pressure")
	})
}

func TestCatalogDataset(t *testing.T) {
	t.Run("default policy from a scalar", func(t *testing.T) {
		dset := CatalogDataset{Data: testDataset("asset-1", "Asset One")}

		policy := dset.DefaultPolicy()
		require.NotNil(t, policy)
		assert.Equal(t, "offer-asset-1", dset.DefaultContractOfferID())
	})

	t.Run("default policy from a list takes the first", func(t *testing.T) {
		dset := CatalogDataset{Data: map[string]interface{}{
			"@id": "asset-1",
			"odrl:hasPolicy": []interface{}{
				map[string]interface{}{"@id": "offer-a"},
				map[string]interface{}{"@id": "offer-b"},
			},
		}}

		assert.Equal(t, "offer-a", dset.DefaultContractOfferID())
	})

	t.Run("missing policy yields empty ids", func(t *testing.T) {
		dset := CatalogDataset{Data: map[string]interface{}{"@id": "asset-1"}}

		assert.Nil(t, dset.DefaultPolicy())
		assert.Empty(t, dset.DefaultContractOfferID())
		assert.Equal(t, "asset-1", dset.DefaultAssetID())
	})

	t.Run("id prefers the plain property over @id", func(t *testing.T) {
		dset := CatalogDataset{Data: map[string]interface{}{
			"@id": "urn:asset:1",
			"id":  "asset-1",
		}}
		assert.Equal(t, "asset-1", dset.ID())

		bare := CatalogDataset{Data: map[string]interface{}{"@id": "urn:asset:1"}}
		assert.Equal(t, "urn:asset:1", bare.ID())
	})
}
