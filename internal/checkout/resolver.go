package checkout

import (
	"context"
	"errors"
	"fmt"

	"grocerstock/backend/internal/domain"
	"grocerstock/backend/internal/store"
)

// ProductReader is the read-only slice of the repository the resolver needs.
type ProductReader interface {
	GetProduct(ctx context.Context, key domain.ProductKey) (*domain.Product, error)
}

// ResolvedDoc groups the cart items that share one backing product document,
// together with the warm-read snapshot of that document.
type ResolvedDoc struct {
	Key   domain.ProductKey
	Warm  *domain.Product
	Items []domain.CartItem
}

// ResolveStock groups cart items by product document and warm-reads each
// document exactly once, preserving first-seen order. The warm read shortens
// the atomic phase by shaping the query set up front; the coordinator re-reads
// live inside the transaction before trusting any quantity.
func ResolveStock(ctx context.Context, reader ProductReader, items []domain.CartItem) ([]ResolvedDoc, error) {
	byKey := make(map[domain.ProductKey]int, len(items))
	docs := make([]ResolvedDoc, 0, len(items))

	for _, item := range items {
		if item.Category == "" || item.BaseProductID == "" || item.VariantID == "" {
			return nil, &Error{
				Code:    CodeInvalidItemReference,
				Message: fmt.Sprintf("item %q is missing category, baseProductId, or variantId", item.Name),
			}
		}
		key := domain.ProductKey{Category: item.Category, ProductID: item.BaseProductID}
		idx, seen := byKey[key]
		if !seen {
			idx = len(docs)
			byKey[key] = idx
			docs = append(docs, ResolvedDoc{Key: key})
		}
		docs[idx].Items = append(docs[idx].Items, item)
	}

	for i := range docs {
		product, err := reader.GetProduct(ctx, docs[i].Key)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return nil, &Error{
					Code:    CodeProductNotFound,
					Message: fmt.Sprintf("product document %s not found", docs[i].Key.Path()),
					Path:    docs[i].Key.Path(),
				}
			}
			return nil, err
		}
		docs[i].Warm = product
	}

	return docs, nil
}
