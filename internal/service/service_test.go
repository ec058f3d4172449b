package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"grocerstock/backend/internal/cache"
	"grocerstock/backend/internal/domain"
	"grocerstock/backend/internal/store"
	"grocerstock/backend/internal/store/memory"
)

type fakeCache struct {
	mu          sync.Mutex
	catalog     []domain.Product
	sets        int
	invalidates int
}

func (f *fakeCache) GetCatalog(context.Context) ([]domain.Product, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.catalog == nil {
		return nil, cache.ErrMiss
	}
	return f.catalog, nil
}

func (f *fakeCache) SetCatalog(_ context.Context, products []domain.Product, _ time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.catalog = products
	f.sets++
	return nil
}

func (f *fakeCache) Invalidate(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.catalog = nil
	f.invalidates++
	return nil
}

func (f *fakeCache) Close() error { return nil }

type capturingPublisher struct {
	mu        sync.Mutex
	completed []domain.Sale
	voided    []domain.Sale
}

func (p *capturingPublisher) PublishSaleCompleted(_ context.Context, sale domain.Sale) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.completed = append(p.completed, sale)
	return nil
}

func (p *capturingPublisher) PublishSaleVoided(_ context.Context, sale domain.Sale) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.voided = append(p.voided, sale)
	return nil
}

func (p *capturingPublisher) Close() error { return nil }

func adminCtx() context.Context {
	return WithActor(context.Background(), domain.Actor{Username: "admin", DisplayName: "Store Admin", Role: "admin"})
}

func cashierCtx() context.Context {
	return WithActor(context.Background(), domain.Actor{Username: "cashier", DisplayName: "Front Cashier", Role: "cashier"})
}

func newTestService(t *testing.T) (*Service, *memory.Store, *fakeCache, *capturingPublisher) {
	t.Helper()
	repo := memory.NewSeeded()
	fc := &fakeCache{}
	pub := &capturingPublisher{}
	svc := New(repo, fc, pub, nil, "main-terminal", time.Minute)
	return svc, repo, fc, pub
}

func checkoutRequest(variantID, productID, category string, qty int, price float64) domain.SaleRequest {
	subTotal := price * float64(qty)
	return domain.SaleRequest{
		Cart: []domain.CartItem{{
			Name:          variantID,
			Qty:           qty,
			Price:         price,
			VariantID:     variantID,
			BaseProductID: productID,
			Category:      category,
		}},
		PaymentMethod: "cash",
		AmountPaid:    "100000",
		Total:         subTotal * 1.12,
	}
}

func TestProcessSaleAttributesActor(t *testing.T) {
	svc, _, fc, pub := newTestService(t)

	sale, err := svc.ProcessSale(cashierCtx(), checkoutRequest("water-still-500", "water-still", "beverages", 2, 15))
	if err != nil {
		t.Fatalf("process sale: %v", err)
	}
	if sale.CashierID != "cashier" || sale.CashierName != "Front Cashier" {
		t.Fatalf("cashier attribution = %s/%s", sale.CashierID, sale.CashierName)
	}
	if fc.invalidates == 0 {
		t.Fatal("catalog cache not invalidated after sale")
	}
	if len(pub.completed) != 1 {
		t.Fatalf("published %d completion events, want 1", len(pub.completed))
	}
}

func TestListProductsUsesCache(t *testing.T) {
	svc, _, fc, _ := newTestService(t)
	ctx := cashierCtx()

	first, err := svc.ListProducts(ctx)
	if err != nil {
		t.Fatalf("list products: %v", err)
	}
	if len(first) == 0 {
		t.Fatal("seeded catalog is empty")
	}
	if fc.sets != 1 {
		t.Fatalf("cache sets = %d, want 1", fc.sets)
	}

	// Second read must come from the cache, not trigger another set.
	second, err := svc.ListProducts(ctx)
	if err != nil {
		t.Fatalf("list products: %v", err)
	}
	if fc.sets != 1 {
		t.Fatalf("cache sets = %d after warm read, want 1", fc.sets)
	}
	if len(second) != len(first) {
		t.Fatalf("cached catalog has %d products, want %d", len(second), len(first))
	}
}

func TestCreateProductRequiresAdmin(t *testing.T) {
	svc, _, _, _ := newTestService(t)

	req := domain.ProductCreateRequest{
		Category: "test", ProductID: "widget", Name: "Widget",
		Variants: []domain.Variant{{VariantID: "widget-1", Quantity: 5, UnitPrice: 9}},
	}

	if _, err := svc.CreateProduct(cashierCtx(), req); !errors.Is(err, ErrAdminRequired) {
		t.Fatalf("cashier create err = %v, want admin role required", err)
	}
	if _, err := svc.CreateProduct(adminCtx(), req); err != nil {
		t.Fatalf("admin create err = %v", err)
	}
}

func TestRestock(t *testing.T) {
	svc, repo, _, _ := newTestService(t)

	product, err := svc.Restock(adminCtx(), domain.RestockRequest{
		Category: "beverages", ProductID: "water-still", VariantID: "water-still-500", Qty: 50,
	})
	if err != nil {
		t.Fatalf("restock: %v", err)
	}
	if product.Variants[0].Quantity != 250 {
		t.Fatalf("quantity = %d, want 250", product.Variants[0].Quantity)
	}

	movements, err := repo.ListStockMovements(context.Background(), time.Time{}, time.Now().Add(time.Hour), 10)
	if err != nil {
		t.Fatalf("list movements: %v", err)
	}
	if len(movements) != 1 {
		t.Fatalf("got %d movements, want 1", len(movements))
	}
	m := movements[0]
	if m.MovementType != domain.MovementIn || m.ReferenceType != domain.MovementRefRestock {
		t.Fatalf("movement type/ref = %s/%s", m.MovementType, m.ReferenceType)
	}
	if m.PreviousQty != 200 || m.NewQty != 250 {
		t.Fatalf("movement quantities = %d->%d, want 200->250", m.PreviousQty, m.NewQty)
	}
}

func TestRestockRequiresAdmin(t *testing.T) {
	svc, _, _, _ := newTestService(t)

	_, err := svc.Restock(cashierCtx(), domain.RestockRequest{
		Category: "beverages", ProductID: "water-still", VariantID: "water-still-500", Qty: 10,
	})
	if !errors.Is(err, ErrAdminRequired) {
		t.Fatalf("err = %v, want admin role required", err)
	}
}

func TestVoidSaleRestoresStock(t *testing.T) {
	svc, repo, _, pub := newTestService(t)

	sale, err := svc.ProcessSale(cashierCtx(), checkoutRequest("water-still-500", "water-still", "beverages", 5, 15))
	if err != nil {
		t.Fatalf("process sale: %v", err)
	}

	key := domain.ProductKey{Category: "beverages", ProductID: "water-still"}
	afterSale, err := repo.GetProduct(context.Background(), key)
	if err != nil {
		t.Fatalf("get product: %v", err)
	}
	if afterSale.Variants[0].Quantity != 195 {
		t.Fatalf("quantity after sale = %d, want 195", afterSale.Variants[0].Quantity)
	}

	voided, err := svc.VoidSale(adminCtx(), domain.VoidSaleRequest{SaleID: sale.ID, Reason: "customer return"})
	if err != nil {
		t.Fatalf("void sale: %v", err)
	}
	if voided.Status != domain.SaleStatusVoided {
		t.Fatalf("status = %q, want voided", voided.Status)
	}
	if voided.VoidedBy != "admin" {
		t.Fatalf("voided by = %q, want admin", voided.VoidedBy)
	}

	restored, err := repo.GetProduct(context.Background(), key)
	if err != nil {
		t.Fatalf("get product: %v", err)
	}
	if restored.Variants[0].Quantity != 200 {
		t.Fatalf("quantity after void = %d, want 200", restored.Variants[0].Quantity)
	}

	if len(pub.voided) != 1 {
		t.Fatalf("published %d void events, want 1", len(pub.voided))
	}
}

func TestVoidSaleRejectsDoubleVoid(t *testing.T) {
	svc, _, _, _ := newTestService(t)

	sale, err := svc.ProcessSale(cashierCtx(), checkoutRequest("water-still-500", "water-still", "beverages", 1, 15))
	if err != nil {
		t.Fatalf("process sale: %v", err)
	}

	if _, err := svc.VoidSale(adminCtx(), domain.VoidSaleRequest{SaleID: sale.ID, Reason: "first"}); err != nil {
		t.Fatalf("first void: %v", err)
	}
	_, err = svc.VoidSale(adminCtx(), domain.VoidSaleRequest{SaleID: sale.ID, Reason: "second"})
	if !errors.Is(err, store.ErrInvalidInput) {
		t.Fatalf("double void err = %v, want invalid input", err)
	}
}

func TestVoidSaleRequiresAdmin(t *testing.T) {
	svc, _, _, _ := newTestService(t)

	sale, err := svc.ProcessSale(cashierCtx(), checkoutRequest("water-still-500", "water-still", "beverages", 1, 15))
	if err != nil {
		t.Fatalf("process sale: %v", err)
	}

	_, err = svc.VoidSale(cashierCtx(), domain.VoidSaleRequest{SaleID: sale.ID})
	if !errors.Is(err, ErrAdminRequired) {
		t.Fatalf("err = %v, want admin role required", err)
	}
}

func TestSalesHistoryAndDailyReport(t *testing.T) {
	svc, _, _, _ := newTestService(t)

	if _, err := svc.ProcessSale(cashierCtx(), checkoutRequest("water-still-500", "water-still", "beverages", 2, 15)); err != nil {
		t.Fatalf("process sale: %v", err)
	}
	if _, err := svc.ProcessSale(cashierCtx(), checkoutRequest("soap-bar-90", "soap-bar", "household", 1, 32)); err != nil {
		t.Fatalf("process sale: %v", err)
	}

	today := time.Now().UTC().Format("2006-01-02")
	sales, err := svc.SalesHistory(cashierCtx(), today, 10)
	if err != nil {
		t.Fatalf("sales history: %v", err)
	}
	if len(sales) != 2 {
		t.Fatalf("history has %d sales, want 2", len(sales))
	}

	report, err := svc.DailyReport(adminCtx(), today)
	if err != nil {
		t.Fatalf("daily report: %v", err)
	}
	if report.Sales != 2 {
		t.Fatalf("report sales = %d, want 2", report.Sales)
	}
	if report.Date != today {
		t.Fatalf("report date = %q, want %q", report.Date, today)
	}
}

func TestSalesHistoryRejectsBadDate(t *testing.T) {
	svc, _, _, _ := newTestService(t)

	_, err := svc.SalesHistory(cashierCtx(), "not-a-date", 10)
	if !errors.Is(err, store.ErrInvalidInput) {
		t.Fatalf("err = %v, want invalid input", err)
	}
}
