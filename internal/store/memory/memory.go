package memory

import (
	"context"
	"fmt"
	"log"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"grocerstock/backend/internal/domain"
	"grocerstock/backend/internal/store"
)

// Store is the in-memory repository used for dev mode and tests. RunSale holds
// the write lock for the whole transaction function and applies staged writes
// only when the function succeeds, which gives the same all-or-nothing
// semantics the postgres store gets from a serializable transaction.
type Store struct {
	mu              sync.RWMutex
	products        map[domain.ProductKey]domain.Product
	salesByID       map[string]domain.Sale
	salesByReceipt  map[string]string
	saleOrder       []string
	movements       []domain.StockMovement
	usersByUsername map[string]domain.UserAccount
}

// seedUsers builds the initial in-memory accounts for dev/demo mode.
// Credentials come from SEED_ADMIN_PASSWORD and SEED_CASHIER_PASSWORD; unset
// variables fall back to dev defaults with a warning. Production deployments
// use PostgreSQL (DATABASE_URL) and never touch these.
func seedUsers() map[string]domain.UserAccount {
	adminPwd := envOr("SEED_ADMIN_PASSWORD", "admin123")
	cashierPwd := envOr("SEED_CASHIER_PASSWORD", "cashier123")
	if os.Getenv("SEED_ADMIN_PASSWORD") == "" || os.Getenv("SEED_CASHIER_PASSWORD") == "" {
		log.Println("[memory-store] WARNING: using default dev credentials. Set SEED_ADMIN_PASSWORD and SEED_CASHIER_PASSWORD to override.")
	}

	now := time.Now().UTC()
	users := map[string]domain.UserAccount{}
	for _, u := range []struct {
		username string
		display  string
		password string
		role     string
	}{
		{"admin", "Store Admin", adminPwd, "admin"},
		{"cashier", "Front Cashier", cashierPwd, "cashier"},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.DefaultCost)
		if err != nil {
			log.Fatalf("[memory-store] failed to hash seed password for %s: %v", u.username, err)
		}
		users[u.username] = domain.UserAccount{
			Username:    u.username,
			DisplayName: u.display,
			Password:    string(hash),
			Role:        u.role,
			Active:      true,
			CreatedAt:   now,
		}
	}
	return users
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func NewSeeded() *Store {
	now := time.Now().UTC()
	products := []domain.Product{
		{
			Category: "beverages", ProductID: "soda-cola", Name: "Cola", Brand: "FizzCo", Unit: "bottle",
			Variants: []domain.Variant{
				{VariantID: "soda-cola-330", Name: "330ml", Quantity: 120, UnitPrice: 25},
				{VariantID: "soda-cola-1000", Name: "1L", Quantity: 60, UnitPrice: 65},
			},
		},
		{
			Category: "beverages", ProductID: "water-still", Name: "Still Water", Brand: "ClearSpring", Unit: "bottle",
			Variants: []domain.Variant{
				{VariantID: "water-still-500", Name: "500ml", Quantity: 200, UnitPrice: 15},
			},
		},
		{
			Category: "grocery", ProductID: "rice-jasmine", Name: "Jasmine Rice", Brand: "GoldenHarvest", Unit: "bag",
			Variants: []domain.Variant{
				{VariantID: "rice-jasmine-1kg", Name: "1kg", Quantity: 80, UnitPrice: 62},
				{VariantID: "rice-jasmine-5kg", Name: "5kg", Quantity: 35, UnitPrice: 289},
			},
		},
		{
			Category: "grocery", ProductID: "noodles-instant", Name: "Instant Noodles", Brand: "QuickEats", Unit: "pack",
			Variants: []domain.Variant{
				{VariantID: "noodles-instant-solo", Name: "Single", Quantity: 300, UnitPrice: 12},
				{VariantID: "noodles-instant-6pk", Name: "6-pack", Quantity: 90, UnitPrice: 68},
			},
		},
		{
			Category: "household", ProductID: "soap-bar", Name: "Bath Soap", Brand: "PureCare", Unit: "bar",
			Variants: []domain.Variant{
				{VariantID: "soap-bar-90", Name: "90g", Quantity: 150, UnitPrice: 32},
			},
		},
	}

	productMap := make(map[domain.ProductKey]domain.Product, len(products))
	for _, p := range products {
		p.CreatedAt = now
		p.UpdatedAt = now
		productMap[p.Key()] = p
	}

	return &Store{
		products:        productMap,
		salesByID:       make(map[string]domain.Sale),
		salesByReceipt:  make(map[string]string),
		saleOrder:       make([]string, 0, 64),
		movements:       make([]domain.StockMovement, 0, 128),
		usersByUsername: seedUsers(),
	}
}

func cloneProduct(p domain.Product) domain.Product {
	p.Variants = append([]domain.Variant(nil), p.Variants...)
	return p
}

func cloneSale(s domain.Sale) domain.Sale {
	s.Items = append([]domain.CartItem(nil), s.Items...)
	if s.CustomerDetails != nil {
		details := *s.CustomerDetails
		s.CustomerDetails = &details
	}
	if s.VoidedAt != nil {
		at := *s.VoidedAt
		s.VoidedAt = &at
	}
	return s
}

func (s *Store) ListProducts(_ context.Context) ([]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	products := make([]domain.Product, 0, len(s.products))
	for _, p := range s.products {
		products = append(products, cloneProduct(p))
	}

	slices.SortFunc(products, func(a, b domain.Product) int {
		if a.Category == b.Category {
			return strings.Compare(a.Name, b.Name)
		}
		return strings.Compare(a.Category, b.Category)
	})

	return products, nil
}

func (s *Store) GetProduct(_ context.Context, key domain.ProductKey) (*domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	product, exists := s.products[key]
	if !exists {
		return nil, store.ErrNotFound
	}
	copied := cloneProduct(product)
	return &copied, nil
}

func (s *Store) CreateProduct(_ context.Context, product domain.Product) (*domain.Product, error) {
	if product.Category == "" || product.ProductID == "" || product.Name == "" {
		return nil, store.ErrInvalidInput
	}
	for _, v := range product.Variants {
		if v.VariantID == "" || v.Quantity < 0 || v.UnitPrice < 0 {
			return nil, store.ErrInvalidInput
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.products[product.Key()]; exists {
		return nil, store.ErrInvalidInput
	}

	now := time.Now().UTC()
	product.CreatedAt = now
	product.UpdatedAt = now
	s.products[product.Key()] = cloneProduct(product)
	created := cloneProduct(product)
	return &created, nil
}

func (s *Store) UpdateProduct(_ context.Context, product domain.Product) (*domain.Product, error) {
	if product.Category == "" || product.ProductID == "" || product.Name == "" {
		return nil, store.ErrInvalidInput
	}
	for _, v := range product.Variants {
		if v.VariantID == "" || v.Quantity < 0 || v.UnitPrice < 0 {
			return nil, store.ErrInvalidInput
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, exists := s.products[product.Key()]
	if !exists {
		return nil, store.ErrNotFound
	}

	product.CreatedAt = existing.CreatedAt
	product.UpdatedAt = time.Now().UTC()
	s.products[product.Key()] = cloneProduct(product)
	updated := cloneProduct(product)
	return &updated, nil
}

// saleTx stages writes against the store; nothing becomes visible until the
// RunSale callback returns nil and the staged writes are applied under the
// already-held write lock.
type saleTx struct {
	s               *Store
	pendingVariants map[domain.ProductKey][]domain.Variant
	pendingSales    []domain.Sale
	pendingStatus   []statusChange
}

type statusChange struct {
	id     string
	status string
	reason string
	by     string
	at     time.Time
}

func (tx *saleTx) GetProduct(_ context.Context, key domain.ProductKey) (*domain.Product, error) {
	product, exists := tx.s.products[key]
	if !exists {
		return nil, store.ErrNotFound
	}
	copied := cloneProduct(product)
	if staged, ok := tx.pendingVariants[key]; ok {
		copied.Variants = append([]domain.Variant(nil), staged...)
	}
	return &copied, nil
}

func (tx *saleTx) UpdateVariants(_ context.Context, key domain.ProductKey, variants []domain.Variant) error {
	if _, exists := tx.s.products[key]; !exists {
		return store.ErrNotFound
	}
	for _, v := range variants {
		if v.Quantity < 0 {
			return fmt.Errorf("%w: negative quantity for variant %s", store.ErrInvalidInput, v.VariantID)
		}
	}
	tx.pendingVariants[key] = append([]domain.Variant(nil), variants...)
	return nil
}

func (tx *saleTx) CreateSale(_ context.Context, sale domain.Sale) (*domain.Sale, error) {
	if len(sale.Items) == 0 {
		return nil, store.ErrInvalidInput
	}
	if sale.ID == "" {
		sale.ID = uuid.NewString()
	}
	sale.CommittedAt = time.Now().UTC()
	if sale.Status == "" {
		sale.Status = domain.SaleStatusCompleted
	}
	tx.pendingSales = append(tx.pendingSales, cloneSale(sale))
	created := cloneSale(sale)
	return &created, nil
}

func (tx *saleTx) GetSale(_ context.Context, id string) (*domain.Sale, error) {
	sale, exists := tx.s.salesByID[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	copied := cloneSale(sale)
	return &copied, nil
}

func (tx *saleTx) SetSaleStatus(_ context.Context, id string, status string, reason string, by string, at time.Time) error {
	if _, exists := tx.s.salesByID[id]; !exists {
		return store.ErrNotFound
	}
	tx.pendingStatus = append(tx.pendingStatus, statusChange{id: id, status: status, reason: reason, by: by, at: at})
	return nil
}

func (s *Store) RunSale(_ context.Context, fn func(tx store.SaleTx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &saleTx{
		s:               s,
		pendingVariants: make(map[domain.ProductKey][]domain.Variant),
	}

	if err := fn(tx); err != nil {
		return err
	}

	now := time.Now().UTC()
	for key, variants := range tx.pendingVariants {
		product := s.products[key]
		product.Variants = variants
		product.UpdatedAt = now
		s.products[key] = product
	}
	for _, sale := range tx.pendingSales {
		s.salesByID[sale.ID] = sale
		s.salesByReceipt[sale.ReceiptNumber] = sale.ID
		s.saleOrder = append(s.saleOrder, sale.ID)
	}
	for _, change := range tx.pendingStatus {
		sale := s.salesByID[change.id]
		sale.Status = change.status
		sale.VoidReason = change.reason
		sale.VoidedBy = change.by
		at := change.at
		sale.VoidedAt = &at
		s.salesByID[change.id] = sale
	}

	return nil
}

func (s *Store) GetSaleByID(_ context.Context, id string) (*domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sale, exists := s.salesByID[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	copied := cloneSale(sale)
	return &copied, nil
}

func (s *Store) GetSaleByReceipt(_ context.Context, receiptNumber string) (*domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, exists := s.salesByReceipt[receiptNumber]
	if !exists {
		return nil, store.ErrNotFound
	}
	copied := cloneSale(s.salesByID[id])
	return &copied, nil
}

func (s *Store) ListSales(_ context.Context, from time.Time, to time.Time, limit int) ([]domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit < 1 {
		limit = 100
	}

	// Newest first.
	result := make([]domain.Sale, 0, limit)
	for i := len(s.saleOrder) - 1; i >= 0 && len(result) < limit; i-- {
		sale := s.salesByID[s.saleOrder[i]]
		if sale.CommittedAt.Before(from) || !sale.CommittedAt.Before(to) {
			continue
		}
		result = append(result, cloneSale(sale))
	}
	return result, nil
}

func (s *Store) CreateStockMovements(_ context.Context, movements []domain.StockMovement) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, m := range movements {
		if m.ID == "" {
			m.ID = uuid.NewString()
		}
		if m.CreatedAt.IsZero() {
			m.CreatedAt = time.Now().UTC()
		}
		s.movements = append(s.movements, m)
	}
	return nil
}

func (s *Store) ListStockMovements(_ context.Context, from time.Time, to time.Time, limit int) ([]domain.StockMovement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit < 1 {
		limit = 200
	}

	result := make([]domain.StockMovement, 0, limit)
	for i := len(s.movements) - 1; i >= 0 && len(result) < limit; i-- {
		m := s.movements[i]
		if m.CreatedAt.Before(from) || !m.CreatedAt.Before(to) {
			continue
		}
		result = append(result, m)
	}
	return result, nil
}

func (s *Store) GetDailyReport(_ context.Context, from time.Time, to time.Time) (domain.DailyReport, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	report := domain.DailyReport{}
	byPayment := make(map[string]*domain.PaymentBreakdown)

	for _, id := range s.saleOrder {
		sale := s.salesByID[id]
		if sale.CommittedAt.Before(from) || !sale.CommittedAt.Before(to) {
			continue
		}
		if sale.Status == domain.SaleStatusVoided {
			report.Voided++
			continue
		}
		report.Sales++
		report.Gross += sale.Total
		report.Tax += sale.Tax
		for _, item := range sale.Items {
			report.ItemsSold += int64(item.Qty)
		}

		entry, ok := byPayment[sale.PaymentMethod]
		if !ok {
			entry = &domain.PaymentBreakdown{PaymentMethod: sale.PaymentMethod}
			byPayment[sale.PaymentMethod] = entry
		}
		entry.Sales++
		entry.Total += sale.Total
	}

	methods := make([]string, 0, len(byPayment))
	for method := range byPayment {
		methods = append(methods, method)
	}
	slices.Sort(methods)
	for _, method := range methods {
		report.ByPayment = append(report.ByPayment, *byPayment[method])
	}

	return report, nil
}

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) error {
	if user.Username == "" || user.Password == "" {
		return store.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.usersByUsername[user.Username]; exists {
		return store.ErrInvalidInput
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	s.usersByUsername[user.Username] = user
	return nil
}

func (s *Store) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]domain.UserAccount, 0, len(s.usersByUsername))
	for _, u := range s.usersByUsername {
		users = append(users, u)
	}
	slices.SortFunc(users, func(a, b domain.UserAccount) int {
		return strings.Compare(a.Username, b.Username)
	})
	return users, nil
}

func (s *Store) UpdateUserPassword(_ context.Context, username string, password string) error {
	if username == "" || password == "" {
		return store.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	user, exists := s.usersByUsername[username]
	if !exists {
		return store.ErrNotFound
	}
	user.Password = password
	s.usersByUsername[username] = user
	return nil
}
