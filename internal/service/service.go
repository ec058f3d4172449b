package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"grocerstock/backend/internal/cache"
	"grocerstock/backend/internal/checkout"
	"grocerstock/backend/internal/domain"
	"grocerstock/backend/internal/events"
	"grocerstock/backend/internal/metrics"
	"grocerstock/backend/internal/store"
	"grocerstock/backend/internal/xid"
)

// ErrAdminRequired is returned by operations reserved for the admin role.
var ErrAdminRequired = errors.New("admin role required")

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

type Service struct {
	repo              store.Repository
	catalogCache      cache.ProductCache
	publisher         events.Publisher
	metrics           *metrics.Metrics
	defaultTerminalID string
	catalogTTL        time.Duration

	mu           sync.Mutex
	coordinators map[string]*checkout.Coordinator
}

func New(repo store.Repository, catalogCache cache.ProductCache, publisher events.Publisher, m *metrics.Metrics, defaultTerminalID string, catalogTTL time.Duration) *Service {
	if catalogCache == nil {
		catalogCache = cache.NoopProductCache{}
	}
	if publisher == nil {
		publisher = events.NoopPublisher{}
	}
	if defaultTerminalID == "" {
		defaultTerminalID = "main-terminal"
	}
	if catalogTTL <= 0 {
		catalogTTL = 60 * time.Second
	}

	return &Service{
		repo:              repo,
		catalogCache:      catalogCache,
		publisher:         publisher,
		metrics:           m,
		defaultTerminalID: defaultTerminalID,
		catalogTTL:        catalogTTL,
		coordinators:      make(map[string]*checkout.Coordinator),
	}
}

// coordinatorFor returns the per-terminal checkout coordinator, creating it on
// first use. The coordinator itself rejects overlapping sales on the same
// terminal; sales on different terminals run concurrently.
func (s *Service) coordinatorFor(terminalID string) *checkout.Coordinator {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.coordinators[terminalID]
	if !ok {
		c = checkout.NewCoordinator(s.repo, s.publisher, s.metrics)
		s.coordinators[terminalID] = c
	}
	return c
}

func (s *Service) ProcessSale(ctx context.Context, req domain.SaleRequest) (*domain.Sale, error) {
	terminalID := strings.TrimSpace(req.TerminalID)
	if terminalID == "" {
		terminalID = s.defaultTerminalID
	}

	if actor, ok := ActorFromContext(ctx); ok && req.Cashier.ID == "" {
		req.Cashier = domain.Cashier{ID: actor.Username, Name: actor.DisplayName}
	}

	sale, err := s.coordinatorFor(terminalID).ProcessSale(ctx, req)
	if err != nil {
		return nil, err
	}

	// Stock just changed; cached catalog quantities are stale.
	if err := s.catalogCache.Invalidate(ctx); err != nil {
		log.Printf("[service] WARN: failed to invalidate catalog cache: %v", err)
	}

	return sale, nil
}

func (s *Service) ListProducts(ctx context.Context) ([]domain.Product, error) {
	if products, err := s.catalogCache.GetCatalog(ctx); err == nil {
		return products, nil
	} else if !errors.Is(err, cache.ErrMiss) {
		log.Printf("[service] WARN: catalog cache read failed: %v", err)
	}

	products, err := s.repo.ListProducts(ctx)
	if err != nil {
		return nil, err
	}

	if err := s.catalogCache.SetCatalog(ctx, products, s.catalogTTL); err != nil {
		log.Printf("[service] WARN: catalog cache write failed: %v", err)
	}
	return products, nil
}

func (s *Service) GetProduct(ctx context.Context, key domain.ProductKey) (*domain.Product, error) {
	if key.Category == "" || key.ProductID == "" {
		return nil, store.ErrInvalidInput
	}
	return s.repo.GetProduct(ctx, key)
}

func (s *Service) CreateProduct(ctx context.Context, req domain.ProductCreateRequest) (domain.Product, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != "admin" {
		return domain.Product{}, ErrAdminRequired
	}

	req.Category = strings.ToLower(strings.TrimSpace(req.Category))
	req.ProductID = strings.ToLower(strings.TrimSpace(req.ProductID))
	req.Name = strings.TrimSpace(req.Name)
	if req.Category == "" || req.ProductID == "" || req.Name == "" {
		return domain.Product{}, store.ErrInvalidInput
	}
	for _, v := range req.Variants {
		if strings.TrimSpace(v.VariantID) == "" || v.Quantity < 0 || v.UnitPrice < 0 {
			return domain.Product{}, store.ErrInvalidInput
		}
	}

	created, err := s.repo.CreateProduct(ctx, domain.Product{
		Category:  req.Category,
		ProductID: req.ProductID,
		Name:      req.Name,
		Brand:     strings.TrimSpace(req.Brand),
		Unit:      strings.TrimSpace(req.Unit),
		Variants:  req.Variants,
	})
	if err != nil {
		return domain.Product{}, err
	}

	if err := s.catalogCache.Invalidate(ctx); err != nil {
		log.Printf("[service] WARN: failed to invalidate catalog cache: %v", err)
	}
	return *created, nil
}

func (s *Service) UpdateProduct(ctx context.Context, key domain.ProductKey, req domain.ProductUpdateRequest) (domain.Product, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != "admin" {
		return domain.Product{}, ErrAdminRequired
	}
	if key.Category == "" || key.ProductID == "" {
		return domain.Product{}, store.ErrInvalidInput
	}

	existing, err := s.repo.GetProduct(ctx, key)
	if err != nil {
		return domain.Product{}, err
	}

	updated := *existing
	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			return domain.Product{}, store.ErrInvalidInput
		}
		updated.Name = name
	}
	if req.Brand != nil {
		updated.Brand = strings.TrimSpace(*req.Brand)
	}
	if req.Unit != nil {
		updated.Unit = strings.TrimSpace(*req.Unit)
	}

	saved, err := s.repo.UpdateProduct(ctx, updated)
	if err != nil {
		return domain.Product{}, err
	}

	if err := s.catalogCache.Invalidate(ctx); err != nil {
		log.Printf("[service] WARN: failed to invalidate catalog cache: %v", err)
	}
	return *saved, nil
}

// Restock increases one variant's quantity inside the same atomic primitive a
// sale uses, so a concurrent checkout can never read a half-applied quantity.
func (s *Service) Restock(ctx context.Context, req domain.RestockRequest) (domain.Product, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != "admin" {
		return domain.Product{}, ErrAdminRequired
	}
	if req.Category == "" || req.ProductID == "" || req.VariantID == "" || req.Qty < 1 {
		return domain.Product{}, store.ErrInvalidInput
	}

	key := domain.ProductKey{Category: req.Category, ProductID: req.ProductID}
	var result *domain.Product
	var movement domain.StockMovement

	err := s.repo.RunSale(ctx, func(tx store.SaleTx) error {
		product, err := tx.GetProduct(ctx, key)
		if err != nil {
			return err
		}

		working := append([]domain.Variant(nil), product.Variants...)
		idx := -1
		for i := range working {
			if working[i].VariantID == req.VariantID {
				idx = i
				break
			}
		}
		if idx < 0 {
			return store.ErrNotFound
		}

		previous := working[idx].Quantity
		working[idx].Quantity = previous + req.Qty
		if err := tx.UpdateVariants(ctx, key, working); err != nil {
			return err
		}

		product.Variants = working
		result = product
		movement = domain.StockMovement{
			ID:              xid.New("mv"),
			MovementType:    domain.MovementIn,
			ReferenceType:   domain.MovementRefRestock,
			ReferenceID:     key.Path(),
			Category:        key.Category,
			ProductID:       key.ProductID,
			VariantID:       req.VariantID,
			Name:            working[idx].Name,
			Quantity:        req.Qty,
			PreviousQty:     previous,
			NewQty:          working[idx].Quantity,
			UnitPrice:       working[idx].UnitPrice,
			PerformedBy:     actor.Username,
			PerformedByName: actor.DisplayName,
			CreatedAt:       time.Now().UTC(),
		}
		return nil
	})
	if err != nil {
		return domain.Product{}, err
	}

	if err := s.repo.CreateStockMovements(ctx, []domain.StockMovement{movement}); err != nil {
		log.Printf("[service] WARN: failed to record restock movement %s: %v", key.Path(), err)
	}
	if err := s.catalogCache.Invalidate(ctx); err != nil {
		log.Printf("[service] WARN: failed to invalidate catalog cache: %v", err)
	}

	return *result, nil
}

// VoidSale reverses a committed sale: every decremented variant is restored
// and the record is flipped to voided, all inside one atomic transaction. A
// variant that no longer exists in its product document is skipped with a
// warning rather than blocking the void.
func (s *Service) VoidSale(ctx context.Context, req domain.VoidSaleRequest) (*domain.Sale, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != "admin" {
		return nil, ErrAdminRequired
	}
	if strings.TrimSpace(req.SaleID) == "" {
		return nil, store.ErrInvalidInput
	}
	reason := strings.TrimSpace(req.Reason)
	if reason == "" {
		reason = "unspecified"
	}

	voidedAt := time.Now().UTC()
	var movements []domain.StockMovement

	err := s.repo.RunSale(ctx, func(tx store.SaleTx) error {
		sale, err := tx.GetSale(ctx, req.SaleID)
		if err != nil {
			return err
		}
		if sale.Status == domain.SaleStatusVoided {
			return fmt.Errorf("%w: sale %s already voided", store.ErrInvalidInput, sale.ID)
		}

		// Group restore quantities by product document so every document is
		// read and written once, same as the decrement path.
		type restore struct {
			key   domain.ProductKey
			items []domain.CartItem
		}
		byKey := make(map[domain.ProductKey]*restore)
		order := make([]domain.ProductKey, 0, len(sale.Items))
		for _, item := range sale.Items {
			key := domain.ProductKey{Category: item.Category, ProductID: item.BaseProductID}
			entry, ok := byKey[key]
			if !ok {
				entry = &restore{key: key}
				byKey[key] = entry
				order = append(order, key)
			}
			entry.items = append(entry.items, item)
		}

		pending := make([]domain.StockMovement, 0, len(sale.Items))
		for _, key := range order {
			entry := byKey[key]
			product, err := tx.GetProduct(ctx, key)
			if err != nil {
				if errors.Is(err, store.ErrNotFound) {
					log.Printf("[service] WARN: void %s: product %s no longer exists, skipping restore", sale.ID, key.Path())
					continue
				}
				return err
			}

			working := append([]domain.Variant(nil), product.Variants...)
			for _, item := range entry.items {
				idx := -1
				for i := range working {
					if working[i].VariantID == item.VariantID {
						idx = i
						break
					}
				}
				if idx < 0 {
					log.Printf("[service] WARN: void %s: variant %s missing from %s, skipping restore", sale.ID, item.VariantID, key.Path())
					continue
				}

				previous := working[idx].Quantity
				working[idx].Quantity = previous + item.Qty
				pending = append(pending, domain.StockMovement{
					ID:              xid.New("mv"),
					MovementType:    domain.MovementIn,
					ReferenceType:   domain.MovementRefVoid,
					ReferenceID:     sale.ID,
					Category:        key.Category,
					ProductID:       key.ProductID,
					VariantID:       item.VariantID,
					Name:            item.Name,
					Quantity:        item.Qty,
					PreviousQty:     previous,
					NewQty:          working[idx].Quantity,
					UnitPrice:       item.Price,
					PerformedBy:     actor.Username,
					PerformedByName: actor.DisplayName,
					CreatedAt:       voidedAt,
				})
			}

			if err := tx.UpdateVariants(ctx, key, working); err != nil {
				return err
			}
		}

		if err := tx.SetSaleStatus(ctx, sale.ID, domain.SaleStatusVoided, reason, actor.Username, voidedAt); err != nil {
			return err
		}
		movements = pending
		return nil
	})
	if err != nil {
		return nil, err
	}

	voided, err := s.repo.GetSaleByID(ctx, req.SaleID)
	if err != nil {
		return nil, err
	}

	if s.metrics != nil {
		s.metrics.SalesVoided.Inc()
	}
	if err := s.repo.CreateStockMovements(ctx, movements); err != nil {
		log.Printf("[service] WARN: failed to record void movements sale=%s: %v", req.SaleID, err)
	}
	if err := s.publisher.PublishSaleVoided(ctx, *voided); err != nil {
		log.Printf("[service] WARN: failed to publish void event sale=%s: %v", req.SaleID, err)
	}
	if err := s.catalogCache.Invalidate(ctx); err != nil {
		log.Printf("[service] WARN: failed to invalidate catalog cache: %v", err)
	}

	return voided, nil
}

func (s *Service) GetSale(ctx context.Context, id string) (*domain.Sale, error) {
	if strings.TrimSpace(id) == "" {
		return nil, store.ErrInvalidInput
	}
	return s.repo.GetSaleByID(ctx, id)
}

func (s *Service) GetSaleByReceipt(ctx context.Context, receiptNumber string) (*domain.Sale, error) {
	if strings.TrimSpace(receiptNumber) == "" {
		return nil, store.ErrInvalidInput
	}
	return s.repo.GetSaleByReceipt(ctx, receiptNumber)
}

func dayWindow(date string) (time.Time, time.Time, error) {
	var day time.Time
	if strings.TrimSpace(date) == "" {
		now := time.Now().UTC()
		day = time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	} else {
		parsed, err := time.Parse("2006-01-02", date)
		if err != nil {
			return time.Time{}, time.Time{}, store.ErrInvalidInput
		}
		day = parsed.UTC()
	}
	return day, day.Add(24 * time.Hour), nil
}

func (s *Service) SalesHistory(ctx context.Context, date string, limit int) ([]domain.Sale, error) {
	from, to, err := dayWindow(date)
	if err != nil {
		return nil, err
	}
	if limit < 1 {
		limit = 100
	}
	return s.repo.ListSales(ctx, from, to, limit)
}

func (s *Service) DailyReport(ctx context.Context, date string) (domain.DailyReport, error) {
	from, to, err := dayWindow(date)
	if err != nil {
		return domain.DailyReport{}, err
	}

	report, err := s.repo.GetDailyReport(ctx, from, to)
	if err != nil {
		return domain.DailyReport{}, err
	}
	report.Date = from.Format("2006-01-02")
	return report, nil
}

func (s *Service) StockMovements(ctx context.Context, date string, limit int) ([]domain.StockMovement, error) {
	from, to, err := dayWindow(date)
	if err != nil {
		return nil, err
	}
	if limit < 1 {
		limit = 200
	}
	return s.repo.ListStockMovements(ctx, from, to, limit)
}
