package catalog

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/sapling/core/internal/domain/entities"
	"github.com/sapling/core/internal/infrastructure/logger"
)

const reloadDebounce = 200 * time.Millisecond

// File is the YAML layout of a catalog file.
type File struct {
	Trees []entities.CatalogTree `yaml:"trees"`
}

// Default returns the built-in catalog.
func Default() []entities.CatalogTree {
	return []entities.CatalogTree{
		{ID: "bonsai", Name: "Bonsai", Price: 20, Icon: "bonsai"},
		{ID: "palmTree", Name: "Palm Tree", Price: 25, Icon: "palmTree"},
	}
}

// Parse decodes and validates catalog YAML.
func Parse(data []byte) ([]entities.CatalogTree, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}
	if err := validate(f.Trees); err != nil {
		return nil, err
	}
	return f.Trees, nil
}

func validate(trees []entities.CatalogTree) error {
	if len(trees) == 0 {
		return entities.NewValidationError("catalog has no trees")
	}
	seen := make(map[string]struct{}, len(trees))
	for _, t := range trees {
		if err := t.Validate(); err != nil {
			return err
		}
		if _, ok := seen[t.ID]; ok {
			return entities.NewValidationError("duplicate catalog entry %s", t.ID)
		}
		seen[t.ID] = struct{}{}
	}
	return nil
}

// Catalog is the current set of purchasable trees. Entries are immutable;
// a reload swaps the whole set.
type Catalog struct {
	mu     sync.RWMutex
	trees  []entities.CatalogTree
	byID   map[string]entities.CatalogTree
	path   string
	logger *logger.Logger
}

// New builds a catalog from an explicit tree list.
func New(trees []entities.CatalogTree, appLogger *logger.Logger) (*Catalog, error) {
	if err := validate(trees); err != nil {
		return nil, err
	}
	c := &Catalog{logger: appLogger.WithComponent("catalog")}
	c.swap(trees)
	return c, nil
}

// Load reads the catalog from path, or returns the built-in catalog when
// path is empty.
func Load(path string, appLogger *logger.Logger) (*Catalog, error) {
	if path == "" {
		return New(Default(), appLogger)
	}

	trees, err := readFile(path)
	if err != nil {
		return nil, err
	}

	c, err := New(trees, appLogger)
	if err != nil {
		return nil, err
	}
	c.path = filepath.Clean(path)
	return c, nil
}

func readFile(path string) ([]entities.CatalogTree, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog %s: %w", path, err)
	}
	return Parse(data)
}

func (c *Catalog) swap(trees []entities.CatalogTree) {
	byID := make(map[string]entities.CatalogTree, len(trees))
	for _, t := range trees {
		byID[t.ID] = t
	}
	list := append([]entities.CatalogTree(nil), trees...)

	c.mu.Lock()
	c.trees = list
	c.byID = byID
	c.mu.Unlock()
}

// List returns the catalog in file order.
func (c *Catalog) List() []entities.CatalogTree {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]entities.CatalogTree(nil), c.trees...)
}

// Get looks up one entry by id.
func (c *Catalog) Get(id string) (entities.CatalogTree, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	t, ok := c.byID[id]
	return t, ok
}

// Reload re-reads the catalog file. On error the current catalog is kept.
func (c *Catalog) Reload() error {
	if c.path == "" {
		return nil
	}
	trees, err := readFile(c.path)
	if err != nil {
		return err
	}
	c.swap(trees)
	c.logger.Infow("Catalog reloaded", "path", c.path, "trees", len(trees))
	return nil
}

// Watch reloads the catalog whenever its file changes. The returned
// function stops watching.
func (c *Catalog) Watch() (func(), error) {
	if c.path == "" {
		return func() {}, nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create catalog watcher: %w", err)
	}

	// Editors often replace the file, so watch its directory.
	if err := watcher.Add(filepath.Dir(c.path)); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("watch catalog directory: %w", err)
	}

	done := make(chan struct{})

	go func() {
		var debounceTimer *time.Timer

		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != c.path {
					continue
				}
				if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}

				if debounceTimer != nil {
					debounceTimer.Stop()
				}
				debounceTimer = time.AfterFunc(reloadDebounce, func() {
					if err := c.Reload(); err != nil {
						c.logger.Warnw("Catalog reload failed, keeping previous catalog", "error", err)
					}
				})

			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				c.logger.Warnw("Catalog watcher error", "error", err)

			case <-done:
				if debounceTimer != nil {
					debounceTimer.Stop()
				}
				return
			}
		}
	}()

	var once sync.Once
	stop := func() {
		once.Do(func() {
			close(done)
			watcher.Close()
		})
	}

	return stop, nil
}
