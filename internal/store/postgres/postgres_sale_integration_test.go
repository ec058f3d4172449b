package postgres

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"grocerstock/backend/internal/domain"
	"grocerstock/backend/internal/store"
)

func TestRunSaleDecrementAndRollback(t *testing.T) {
	databaseURL := os.Getenv("GROCERSTOCK_TEST_DATABASE_URL")
	if databaseURL == "" {
		t.Skip("set GROCERSTOCK_TEST_DATABASE_URL to run postgres integration test")
	}

	ctx := context.Background()
	s, err := Open(ctx, databaseURL)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() {
		_ = s.Close()
	})

	stamp := time.Now().UnixNano()
	category := "it-test"
	productID := fmt.Sprintf("it-prod-%d", stamp)
	variantID := fmt.Sprintf("it-var-%d", stamp)
	receipt := fmt.Sprintf("GS-IT-%d", stamp)
	key := domain.ProductKey{Category: category, ProductID: productID}

	t.Cleanup(func() {
		_, _ = s.db.ExecContext(ctx, `DELETE FROM sales WHERE receipt_number = $1`, receipt)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM products WHERE category = $1 AND product_id = $2`, category, productID)
	})

	_, err = s.CreateProduct(ctx, domain.Product{
		Category:  category,
		ProductID: productID,
		Name:      "Integration Test Product",
		Variants: []domain.Variant{
			{VariantID: variantID, Name: "unit", Quantity: 10, UnitPrice: 5},
		},
	})
	if err != nil {
		t.Fatalf("create product: %v", err)
	}

	// Committed path: decrement plus sale record land together.
	err = s.RunSale(ctx, func(tx store.SaleTx) error {
		product, err := tx.GetProduct(ctx, key)
		if err != nil {
			return err
		}
		working := append([]domain.Variant(nil), product.Variants...)
		working[0].Quantity -= 3
		if err := tx.UpdateVariants(ctx, key, working); err != nil {
			return err
		}
		_, err = tx.CreateSale(ctx, domain.Sale{
			ReceiptNumber: receipt,
			CashierID:     "it",
			CashierName:   "Integration Test",
			Items: []domain.CartItem{{
				Name: "unit", Qty: 3, Price: 5,
				VariantID: variantID, BaseProductID: productID, Category: category,
			}},
			SubTotal: 15, Tax: 1.8, Total: 16.8, AmountPaid: 20, Change: 3.2,
			PaymentMethod:   "cash",
			ClientTimestamp: time.Now().UTC(),
		})
		return err
	})
	if err != nil {
		t.Fatalf("run sale: %v", err)
	}

	product, err := s.GetProduct(ctx, key)
	if err != nil {
		t.Fatalf("get product: %v", err)
	}
	if product.Variants[0].Quantity != 7 {
		t.Fatalf("quantity = %d, want 7", product.Variants[0].Quantity)
	}

	sale, err := s.GetSaleByReceipt(ctx, receipt)
	if err != nil {
		t.Fatalf("get sale: %v", err)
	}
	if sale.CommittedAt.IsZero() {
		t.Fatal("committed timestamp not set")
	}

	// Aborted path: an error from the transaction function rolls everything
	// back, including the already staged variant update.
	abortErr := fmt.Errorf("forced abort")
	err = s.RunSale(ctx, func(tx store.SaleTx) error {
		product, err := tx.GetProduct(ctx, key)
		if err != nil {
			return err
		}
		working := append([]domain.Variant(nil), product.Variants...)
		working[0].Quantity = 0
		if err := tx.UpdateVariants(ctx, key, working); err != nil {
			return err
		}
		return abortErr
	})
	if err == nil {
		t.Fatal("expected abort error")
	}

	product, err = s.GetProduct(ctx, key)
	if err != nil {
		t.Fatalf("get product: %v", err)
	}
	if product.Variants[0].Quantity != 7 {
		t.Fatalf("quantity = %d after rollback, want 7", product.Variants[0].Quantity)
	}
}
