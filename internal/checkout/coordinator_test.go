package checkout

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"grocerstock/backend/internal/domain"
	"grocerstock/backend/internal/store"
	"grocerstock/backend/internal/store/memory"
)

func newTestStore(t *testing.T) *memory.Store {
	t.Helper()
	s := memory.NewSeeded()

	_, err := s.CreateProduct(context.Background(), domain.Product{
		Category:  "test",
		ProductID: "cola",
		Name:      "Test Cola",
		Variants: []domain.Variant{
			{VariantID: "cola-330", Name: "330ml", Quantity: 10, UnitPrice: 25},
			{VariantID: "cola-1000", Name: "1L", Quantity: 5, UnitPrice: 65},
		},
	})
	if err != nil {
		t.Fatalf("seed product: %v", err)
	}
	return s
}

func item(variantID string, qty int, price float64) domain.CartItem {
	return domain.CartItem{
		Name:          variantID,
		Qty:           qty,
		Price:         price,
		VariantID:     variantID,
		BaseProductID: "cola",
		Category:      "test",
	}
}

func saleRequest(cart ...domain.CartItem) domain.SaleRequest {
	subTotal := 0.0
	for _, it := range cart {
		subTotal += it.Price * float64(it.Qty)
	}
	total := subTotal + subTotal*TaxRate

	return domain.SaleRequest{
		Cart:          cart,
		PaymentMethod: "cash",
		AmountPaid:    "100000",
		Total:         total,
		Cashier:       domain.Cashier{ID: "c1", Name: "Cashier One"},
	}
}

func variantQty(t *testing.T, s *memory.Store, variantID string) int {
	t.Helper()
	product, err := s.GetProduct(context.Background(), domain.ProductKey{Category: "test", ProductID: "cola"})
	if err != nil {
		t.Fatalf("get product: %v", err)
	}
	for _, v := range product.Variants {
		if v.VariantID == variantID {
			return v.Quantity
		}
	}
	t.Fatalf("variant %s not found", variantID)
	return 0
}

func TestProcessSaleDecrementsAndRecords(t *testing.T) {
	s := newTestStore(t)
	c := NewCoordinator(s, nil, nil)

	sale, err := c.ProcessSale(context.Background(), saleRequest(
		item("cola-330", 2, 25),
		item("cola-1000", 1, 65),
	))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if got := variantQty(t, s, "cola-330"); got != 8 {
		t.Fatalf("cola-330 quantity = %d, want 8", got)
	}
	if got := variantQty(t, s, "cola-1000"); got != 4 {
		t.Fatalf("cola-1000 quantity = %d, want 4", got)
	}

	if sale.ID == "" {
		t.Fatal("sale id not assigned")
	}
	if sale.ReceiptNumber == "" {
		t.Fatal("receipt number not assigned")
	}
	if sale.CommittedAt.IsZero() {
		t.Fatal("committed timestamp not assigned")
	}
	if sale.Status != domain.SaleStatusCompleted {
		t.Fatalf("status = %q, want completed", sale.Status)
	}

	stored, err := s.GetSaleByID(context.Background(), sale.ID)
	if err != nil {
		t.Fatalf("sale record not persisted: %v", err)
	}
	if len(stored.Items) != 2 {
		t.Fatalf("stored sale has %d items, want 2", len(stored.Items))
	}
}

func TestProcessSaleAccumulatesSameVariant(t *testing.T) {
	s := newTestStore(t)
	c := NewCoordinator(s, nil, nil)

	// Two cart lines hitting the same variant must decrement cumulatively.
	_, err := c.ProcessSale(context.Background(), saleRequest(
		item("cola-330", 3, 25),
		item("cola-330", 4, 25),
	))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := variantQty(t, s, "cola-330"); got != 3 {
		t.Fatalf("cola-330 quantity = %d, want 3", got)
	}
}

func TestProcessSaleInsufficientStock(t *testing.T) {
	s := newTestStore(t)
	c := NewCoordinator(s, nil, nil)

	_, err := c.ProcessSale(context.Background(), saleRequest(item("cola-1000", 6, 65)))
	if !errors.Is(err, ErrInsufficientStock) {
		t.Fatalf("err = %v, want insufficient stock", err)
	}

	var typed *Error
	if !errors.As(err, &typed) {
		t.Fatalf("err %v is not a typed checkout error", err)
	}
	if typed.Available != 5 || typed.Requested != 6 {
		t.Fatalf("available/requested = %d/%d, want 5/6", typed.Available, typed.Requested)
	}

	if got := variantQty(t, s, "cola-1000"); got != 5 {
		t.Fatalf("cola-1000 quantity = %d after failed sale, want 5", got)
	}
}

func TestProcessSaleAtomicOnPartialFailure(t *testing.T) {
	s := newTestStore(t)
	c := NewCoordinator(s, nil, nil)

	// First line is satisfiable; second references a variant that does not
	// exist. Nothing may be written.
	_, err := c.ProcessSale(context.Background(), saleRequest(
		item("cola-330", 2, 25),
		item("cola-ghost", 1, 10),
	))
	if !errors.Is(err, ErrVariantNotFound) {
		t.Fatalf("err = %v, want variant not found", err)
	}

	if got := variantQty(t, s, "cola-330"); got != 10 {
		t.Fatalf("cola-330 quantity = %d after aborted sale, want 10", got)
	}

	sales, err := s.ListSales(context.Background(), time.Time{}, time.Now().Add(24*time.Hour), 10)
	if err != nil {
		t.Fatalf("list sales: %v", err)
	}
	if len(sales) != 0 {
		t.Fatalf("found %d sale records after aborted sale, want 0", len(sales))
	}
}

func TestProcessSaleRejectsNegativeQuantityLine(t *testing.T) {
	s := newTestStore(t)
	c := NewCoordinator(s, nil, nil)

	// The negative line nets out against the positive one, so the claimed
	// total alone looks fine. Committing it would inflate cola-330 stock.
	_, err := c.ProcessSale(context.Background(), saleRequest(
		item("cola-330", -2, 25),
		item("cola-1000", 3, 65),
	))
	if !errors.Is(err, ErrInvalidCartItem) {
		t.Fatalf("err = %v, want invalid cart item", err)
	}

	if got := variantQty(t, s, "cola-330"); got != 10 {
		t.Fatalf("cola-330 quantity = %d after rejected sale, want 10", got)
	}
	if got := variantQty(t, s, "cola-1000"); got != 5 {
		t.Fatalf("cola-1000 quantity = %d after rejected sale, want 5", got)
	}

	sales, err := s.ListSales(context.Background(), time.Time{}, time.Now().Add(24*time.Hour), 10)
	if err != nil {
		t.Fatalf("list sales: %v", err)
	}
	if len(sales) != 0 {
		t.Fatalf("found %d sale records after rejected sale, want 0", len(sales))
	}
}

func TestProcessSaleEmptyVariantsList(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.CreateProduct(context.Background(), domain.Product{
		Category:  "test",
		ProductID: "shelf",
		Name:      "Empty Shelf",
		Variants:  []domain.Variant{},
	}); err != nil {
		t.Fatalf("seed product: %v", err)
	}
	c := NewCoordinator(s, nil, nil)

	// A document with no variants is valid; the item fails as a missing
	// variant, not as corrupt data.
	req := saleRequest(domain.CartItem{
		Name: "Phantom", Qty: 1, Price: 10,
		VariantID: "shelf-a", BaseProductID: "shelf", Category: "test",
	})
	_, err := c.ProcessSale(context.Background(), req)
	if !errors.Is(err, ErrVariantNotFound) {
		t.Fatalf("err = %v, want variant not found", err)
	}
}

func TestProcessSaleMissingProduct(t *testing.T) {
	s := newTestStore(t)
	c := NewCoordinator(s, nil, nil)

	req := saleRequest(domain.CartItem{
		Name: "Ghost", Qty: 1, Price: 10,
		VariantID: "x", BaseProductID: "nope", Category: "test",
	})
	_, err := c.ProcessSale(context.Background(), req)
	if !errors.Is(err, ErrProductNotFound) {
		t.Fatalf("err = %v, want product not found", err)
	}
}

func TestProcessSaleInvalidItemReference(t *testing.T) {
	s := newTestStore(t)
	c := NewCoordinator(s, nil, nil)

	req := saleRequest(domain.CartItem{Name: "Bad", Qty: 1, Price: 10, VariantID: "v"})
	_, err := c.ProcessSale(context.Background(), req)
	if !errors.Is(err, ErrInvalidItemReference) {
		t.Fatalf("err = %v, want invalid item reference", err)
	}
}

func TestProcessSaleConcurrentNoOversell(t *testing.T) {
	s := newTestStore(t)

	// Drain cola-1000 down to 1.
	first := NewCoordinator(s, nil, nil)
	if _, err := first.ProcessSale(context.Background(), saleRequest(item("cola-1000", 4, 65))); err != nil {
		t.Fatalf("drain: %v", err)
	}

	var wg sync.WaitGroup
	results := make([]error, 2)
	for i := 0; i < 2; i++ {
		// Separate coordinators: contention is resolved by the store, not by
		// the per-terminal guard.
		c := NewCoordinator(s, nil, nil)
		wg.Add(1)
		go func(i int, c *Coordinator) {
			defer wg.Done()
			_, results[i] = c.ProcessSale(context.Background(), saleRequest(item("cola-1000", 1, 65)))
		}(i, c)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range results {
		if err == nil {
			succeeded++
		} else if !errors.Is(err, ErrInsufficientStock) {
			t.Fatalf("unexpected failure: %v", err)
		}
	}
	if succeeded != 1 {
		t.Fatalf("%d sales succeeded on a single unit of stock, want exactly 1", succeeded)
	}
	if got := variantQty(t, s, "cola-1000"); got != 0 {
		t.Fatalf("cola-1000 quantity = %d, want 0", got)
	}
}

// blockingRepo parks RunSale until released so a second call can be issued
// while the first is mid-flight.
type blockingRepo struct {
	store.Repository
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func (b *blockingRepo) RunSale(ctx context.Context, fn func(tx store.SaleTx) error) error {
	b.once.Do(func() { close(b.entered) })
	<-b.release
	return b.Repository.RunSale(ctx, fn)
}

func TestProcessSaleRejectsOverlappingCalls(t *testing.T) {
	s := newTestStore(t)
	repo := &blockingRepo{
		Repository: s,
		entered:    make(chan struct{}),
		release:    make(chan struct{}),
	}
	c := NewCoordinator(repo, nil, nil)

	done := make(chan error, 1)
	go func() {
		_, err := c.ProcessSale(context.Background(), saleRequest(item("cola-330", 1, 25)))
		done <- err
	}()

	<-repo.entered
	_, err := c.ProcessSale(context.Background(), saleRequest(item("cola-330", 1, 25)))
	if !errors.Is(err, ErrAlreadyProcessing) {
		t.Fatalf("overlapping call err = %v, want already processing", err)
	}

	close(repo.release)
	if err := <-done; err != nil {
		t.Fatalf("first sale failed: %v", err)
	}

	// Guard is released after completion; the next sale must go through.
	if _, err := c.ProcessSale(context.Background(), saleRequest(item("cola-330", 1, 25))); err != nil {
		t.Fatalf("follow-up sale failed: %v", err)
	}
}
