package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/sapling/core/internal/domain/entities"
	"github.com/sapling/core/internal/ports"
)

type treeDocument struct {
	CatalogID   string    `json:"catalog_id"`
	Title       string    `json:"title"`
	Price       int64     `json:"price"`
	Icon        string    `json:"icon"`
	PurchasedAt time.Time `json:"purchased_at"`
}

// TreeRepositoryImpl implements the TreeRepository interface
type TreeRepositoryImpl struct {
	store ports.DocumentStore
}

// NewTreeRepository creates a new owned tree repository
func NewTreeRepository(store ports.DocumentStore) ports.TreeRepository {
	return &TreeRepositoryImpl{store: store}
}

func (r *TreeRepositoryImpl) Create(ctx context.Context, accountID string, tree *entities.OwnedTree) error {
	fields, err := ports.FieldsOf(treeDocument{
		CatalogID:   tree.CatalogID,
		Title:       tree.Title,
		Price:       tree.Price,
		Icon:        tree.Icon,
		PurchasedAt: tree.PurchasedAt,
	})
	if err != nil {
		return fmt.Errorf("encode tree: %w", err)
	}

	if _, err := r.store.Create(ctx, treeRef(accountID, tree.InstanceID), fields); err != nil {
		return unavailable("create tree", err)
	}

	return nil
}

func (r *TreeRepositoryImpl) Delete(ctx context.Context, accountID, instanceID string) error {
	if err := r.store.Delete(ctx, treeRef(accountID, instanceID)); err != nil {
		if isNotFound(err) {
			return entities.NewNotFoundError("tree %s", instanceID)
		}
		return unavailable("delete tree", err)
	}
	return nil
}

// List returns owned trees in purchase order.
func (r *TreeRepositoryImpl) List(ctx context.Context, accountID string) ([]*entities.OwnedTree, error) {
	docs, err := r.store.Query(ctx, ports.Query{Account: accountID, Collection: CollectionTrees})
	if err != nil {
		return nil, unavailable("list trees", err)
	}

	trees := make([]*entities.OwnedTree, 0, len(docs))
	for _, doc := range docs {
		var d treeDocument
		if err := doc.Decode(&d); err != nil {
			return nil, unavailable("decode tree", err)
		}
		trees = append(trees, &entities.OwnedTree{
			InstanceID:  doc.Ref.ID,
			CatalogID:   d.CatalogID,
			Title:       d.Title,
			Price:       d.Price,
			Icon:        d.Icon,
			PurchasedAt: d.PurchasedAt,
		})
	}

	return trees, nil
}
