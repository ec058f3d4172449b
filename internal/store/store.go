package store

import (
	"context"
	"errors"
	"time"

	"grocerstock/backend/internal/domain"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrInvalidInput = errors.New("invalid input")
	// ErrConflict is returned by RunSale after its internal retry budget is
	// exhausted on repeated read/write conflicts.
	ErrConflict = errors.New("transaction conflict")
)

// Repository is the persistence boundary. Plain reads and single-document
// writes go through the top-level methods; every multi-document mutation of
// stock and sale records must go through RunSale.
type Repository interface {
	ListProducts(ctx context.Context) ([]domain.Product, error)
	GetProduct(ctx context.Context, key domain.ProductKey) (*domain.Product, error)
	CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error)
	UpdateProduct(ctx context.Context, product domain.Product) (*domain.Product, error)

	// RunSale executes fn against a transactional context scoped to the
	// product and sale collections. All writes issued through the SaleTx
	// commit together or not at all. Implementations retry fn on detected
	// read/write conflicts up to an internal bound; exhaustion surfaces as an
	// error wrapping ErrConflict. fn must therefore be safe to re-run and
	// keep no side effects outside the SaleTx.
	RunSale(ctx context.Context, fn func(tx SaleTx) error) error

	GetSaleByID(ctx context.Context, id string) (*domain.Sale, error)
	GetSaleByReceipt(ctx context.Context, receiptNumber string) (*domain.Sale, error)
	ListSales(ctx context.Context, from time.Time, to time.Time, limit int) ([]domain.Sale, error)

	CreateStockMovements(ctx context.Context, movements []domain.StockMovement) error
	ListStockMovements(ctx context.Context, from time.Time, to time.Time, limit int) ([]domain.StockMovement, error)

	GetDailyReport(ctx context.Context, from time.Time, to time.Time) (domain.DailyReport, error)

	CreateUser(ctx context.Context, user domain.UserAccount) error
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error
}

// SaleTx is the transactional context handed to RunSale callbacks. GetProduct
// performs a live, isolated read of the current document state; a warm read
// taken outside the transaction must never be trusted for stock checks.
type SaleTx interface {
	GetProduct(ctx context.Context, key domain.ProductKey) (*domain.Product, error)
	UpdateVariants(ctx context.Context, key domain.ProductKey, variants []domain.Variant) error
	CreateSale(ctx context.Context, sale domain.Sale) (*domain.Sale, error)
	GetSale(ctx context.Context, id string) (*domain.Sale, error)
	SetSaleStatus(ctx context.Context, id string, status string, reason string, by string, at time.Time) error
}
