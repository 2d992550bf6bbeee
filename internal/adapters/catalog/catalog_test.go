package catalog

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sapling/core/internal/domain/entities"
	"github.com/sapling/core/internal/infrastructure/logger"
)

const sampleCatalog = `
trees:
  - id: bonsai
    name: Bonsai
    price: 20
    icon: bonsai
  - id: palmTree
    name: Palm Tree
    price: 25
    icon: palmTree
`

func writeCatalog(t *testing.T, dir, body string) string {
	t.Helper()
	path := filepath.Join(dir, "catalog.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestParse(t *testing.T) {
	trees, err := Parse([]byte(sampleCatalog))
	require.NoError(t, err)
	assert.Equal(t, Default(), trees)
}

func TestParseRejectsInvalidCatalogs(t *testing.T) {
	tests := map[string]string{
		"malformed":      "trees: [",
		"empty":          "trees: []",
		"duplicate id":   "trees:\n  - {id: oak, price: 1}\n  - {id: oak, price: 2}\n",
		"negative price": "trees:\n  - {id: oak, price: -1}\n",
		"missing id":     "trees:\n  - {name: Oak, price: 1}\n",
	}

	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(body))
			assert.Error(t, err)
		})
	}
}

func TestLoadDefaultCatalog(t *testing.T) {
	c, err := Load("", logger.NewNop())
	require.NoError(t, err)

	entry, ok := c.Get("palmTree")
	require.True(t, ok)
	assert.Equal(t, int64(25), entry.Price)

	_, ok = c.Get("baobab")
	assert.False(t, ok)

	require.NoError(t, c.Reload(), "reloading the built-in catalog is a no-op")
	assert.Len(t, c.List(), 2)
}

func TestLoadAndReload(t *testing.T) {
	dir := t.TempDir()
	path := writeCatalog(t, dir, sampleCatalog)

	c, err := Load(path, logger.NewNop())
	require.NoError(t, err)
	assert.Len(t, c.List(), 2)

	writeCatalog(t, dir, "trees:\n  - {id: oak, name: Oak, price: 40, icon: oak}\n")
	require.NoError(t, c.Reload())

	trees := c.List()
	require.Len(t, trees, 1)
	assert.Equal(t, entities.CatalogTree{ID: "oak", Name: "Oak", Price: 40, Icon: "oak"}, trees[0])
	_, ok := c.Get("bonsai")
	assert.False(t, ok)

	writeCatalog(t, dir, "trees: []")
	assert.Error(t, c.Reload())
	assert.Len(t, c.List(), 1, "a bad file keeps the previous catalog")

	_, err = Load(filepath.Join(dir, "missing.yaml"), logger.NewNop())
	assert.Error(t, err)
}

func TestListReturnsCopy(t *testing.T) {
	c, err := New(Default(), logger.NewNop())
	require.NoError(t, err)

	trees := c.List()
	trees[0].Price = 1

	entry, _ := c.Get("bonsai")
	assert.Equal(t, int64(20), entry.Price)
	assert.Equal(t, int64(20), c.List()[0].Price)
}

func TestWatchReloadsOnChange(t *testing.T) {
	dir := t.TempDir()
	path := writeCatalog(t, dir, sampleCatalog)

	c, err := Load(path, logger.NewNop())
	require.NoError(t, err)

	stop, err := c.Watch()
	require.NoError(t, err)
	defer stop()

	writeCatalog(t, dir, "trees:\n  - {id: oak, name: Oak, price: 40, icon: oak}\n")

	assert.Eventually(t, func() bool {
		_, ok := c.Get("oak")
		return ok
	}, 3*time.Second, 20*time.Millisecond)

	stop()
	stop()
}
