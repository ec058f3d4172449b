package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"grocerstock/backend/internal/domain"
	"grocerstock/backend/internal/store"
)

// Store is the PostgreSQL repository. Variant lists live as JSONB on the
// product row so a sale transaction updates each product document with a
// single write, mirroring the per-document update model the checkout engine
// is built around.
type Store struct {
	db *sql.DB
}

// saleTxAttempts bounds retries of the whole sale transaction on
// serialization failures before giving up with store.ErrConflict.
const saleTxAttempts = 5

func Open(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	s := &Store{db: db}
	if err := s.ensureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) ensureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS products (
			category TEXT NOT NULL,
			product_id TEXT NOT NULL,
			name TEXT NOT NULL,
			brand TEXT NOT NULL DEFAULT '',
			unit TEXT NOT NULL DEFAULT '',
			base_quantity INTEGER NOT NULL DEFAULT 0,
			base_price DOUBLE PRECISION NOT NULL DEFAULT 0,
			variants JSONB NOT NULL DEFAULT '[]',
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			PRIMARY KEY (category, product_id)
		)`,
		`CREATE TABLE IF NOT EXISTS sales (
			id UUID PRIMARY KEY,
			receipt_number TEXT NOT NULL,
			cashier_id TEXT NOT NULL,
			cashier_name TEXT NOT NULL,
			customer_id TEXT NOT NULL DEFAULT '',
			customer_name TEXT NOT NULL DEFAULT '',
			is_bulk_order BOOLEAN NOT NULL DEFAULT FALSE,
			customer_details JSONB,
			items JSONB NOT NULL,
			sub_total DOUBLE PRECISION NOT NULL,
			tax DOUBLE PRECISION NOT NULL,
			total DOUBLE PRECISION NOT NULL,
			amount_paid DOUBLE PRECISION NOT NULL,
			change DOUBLE PRECISION NOT NULL,
			payment_method TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'completed',
			void_reason TEXT NOT NULL DEFAULT '',
			voided_by TEXT NOT NULL DEFAULT '',
			voided_at TIMESTAMPTZ,
			committed_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			client_timestamp TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_sales_receipt ON sales (receipt_number)`,
		`CREATE INDEX IF NOT EXISTS idx_sales_committed_at ON sales (committed_at DESC)`,
		`CREATE TABLE IF NOT EXISTS stock_movements (
			id TEXT PRIMARY KEY,
			movement_type TEXT NOT NULL,
			reference_type TEXT NOT NULL,
			reference_id TEXT NOT NULL,
			category TEXT NOT NULL,
			product_id TEXT NOT NULL,
			variant_id TEXT NOT NULL,
			name TEXT NOT NULL DEFAULT '',
			quantity INTEGER NOT NULL,
			previous_qty INTEGER NOT NULL,
			new_qty INTEGER NOT NULL,
			unit_price DOUBLE PRECISION NOT NULL DEFAULT 0,
			performed_by TEXT NOT NULL DEFAULT '',
			performed_by_name TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_stock_movements_created_at ON stock_movements (created_at DESC)`,
		`CREATE TABLE IF NOT EXISTS users (
			username TEXT PRIMARY KEY,
			display_name TEXT NOT NULL,
			password_hash TEXT NOT NULL,
			role TEXT NOT NULL,
			active BOOLEAN NOT NULL DEFAULT TRUE,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
	}

	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

func isSerializationFailure(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		// serialization_failure, deadlock_detected
		return pgErr.Code == "40001" || pgErr.Code == "40P01"
	}
	return false
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func scanProduct(row interface{ Scan(...any) error }) (*domain.Product, error) {
	var p domain.Product
	var variantsRaw []byte
	err := row.Scan(&p.Category, &p.ProductID, &p.Name, &p.Brand, &p.Unit,
		&p.BaseQuantity, &p.BasePrice, &variantsRaw, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(variantsRaw, &p.Variants); err != nil {
		return nil, fmt.Errorf("decode variants for %s: %w", p.Key().Path(), err)
	}
	return &p, nil
}

const productColumns = `category, product_id, name, brand, unit, base_quantity, base_price, variants, created_at, updated_at`

func (s *Store) ListProducts(ctx context.Context) ([]domain.Product, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+productColumns+` FROM products ORDER BY category, name`)
	if err != nil {
		return nil, fmt.Errorf("list products: %w", err)
	}
	defer rows.Close()

	var products []domain.Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, fmt.Errorf("list products: %w", err)
		}
		products = append(products, *p)
	}
	return products, rows.Err()
}

func (s *Store) GetProduct(ctx context.Context, key domain.ProductKey) (*domain.Product, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+productColumns+` FROM products WHERE category = $1 AND product_id = $2`,
		key.Category, key.ProductID)
	p, err := scanProduct(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get product %s: %w", key.Path(), err)
	}
	return p, nil
}

func (s *Store) CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	if product.Category == "" || product.ProductID == "" || product.Name == "" {
		return nil, store.ErrInvalidInput
	}
	variants, err := json.Marshal(product.Variants)
	if err != nil {
		return nil, fmt.Errorf("encode variants: %w", err)
	}

	row := s.db.QueryRowContext(ctx,
		`INSERT INTO products (category, product_id, name, brand, unit, base_quantity, base_price, variants)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 RETURNING created_at, updated_at`,
		product.Category, product.ProductID, product.Name, product.Brand, product.Unit,
		product.BaseQuantity, product.BasePrice, variants)
	if err := row.Scan(&product.CreatedAt, &product.UpdatedAt); err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrInvalidInput
		}
		return nil, fmt.Errorf("create product %s: %w", product.Key().Path(), err)
	}
	return &product, nil
}

func (s *Store) UpdateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	if product.Category == "" || product.ProductID == "" || product.Name == "" {
		return nil, store.ErrInvalidInput
	}
	variants, err := json.Marshal(product.Variants)
	if err != nil {
		return nil, fmt.Errorf("encode variants: %w", err)
	}

	row := s.db.QueryRowContext(ctx,
		`UPDATE products SET name = $3, brand = $4, unit = $5, variants = $6, updated_at = now()
		 WHERE category = $1 AND product_id = $2
		 RETURNING created_at, updated_at`,
		product.Category, product.ProductID, product.Name, product.Brand, product.Unit, variants)
	if err := row.Scan(&product.CreatedAt, &product.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("update product %s: %w", product.Key().Path(), err)
	}
	return &product, nil
}

type saleTx struct {
	tx *sql.Tx
}

func (t *saleTx) GetProduct(ctx context.Context, key domain.ProductKey) (*domain.Product, error) {
	row := t.tx.QueryRowContext(ctx,
		`SELECT `+productColumns+` FROM products WHERE category = $1 AND product_id = $2 FOR UPDATE`,
		key.Category, key.ProductID)
	p, err := scanProduct(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("lock product %s: %w", key.Path(), err)
	}
	return p, nil
}

func (t *saleTx) UpdateVariants(ctx context.Context, key domain.ProductKey, variants []domain.Variant) error {
	raw, err := json.Marshal(variants)
	if err != nil {
		return fmt.Errorf("encode variants: %w", err)
	}
	res, err := t.tx.ExecContext(ctx,
		`UPDATE products SET variants = $3, updated_at = now() WHERE category = $1 AND product_id = $2`,
		key.Category, key.ProductID, raw)
	if err != nil {
		return fmt.Errorf("update variants %s: %w", key.Path(), err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (t *saleTx) CreateSale(ctx context.Context, sale domain.Sale) (*domain.Sale, error) {
	if len(sale.Items) == 0 {
		return nil, store.ErrInvalidInput
	}
	if sale.ID == "" {
		sale.ID = uuid.NewString()
	}
	if sale.Status == "" {
		sale.Status = domain.SaleStatusCompleted
	}

	items, err := json.Marshal(sale.Items)
	if err != nil {
		return nil, fmt.Errorf("encode sale items: %w", err)
	}
	var details []byte
	if sale.CustomerDetails != nil {
		details, err = json.Marshal(sale.CustomerDetails)
		if err != nil {
			return nil, fmt.Errorf("encode customer details: %w", err)
		}
	}

	row := t.tx.QueryRowContext(ctx,
		`INSERT INTO sales (id, receipt_number, cashier_id, cashier_name, customer_id, customer_name,
			is_bulk_order, customer_details, items, sub_total, tax, total, amount_paid, change,
			payment_method, status, client_timestamp)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
		 RETURNING committed_at`,
		sale.ID, sale.ReceiptNumber, sale.CashierID, sale.CashierName, sale.CustomerID, sale.CustomerName,
		sale.IsBulkOrder, details, items, sale.SubTotal, sale.Tax, sale.Total, sale.AmountPaid, sale.Change,
		sale.PaymentMethod, sale.Status, sale.ClientTimestamp)
	if err := row.Scan(&sale.CommittedAt); err != nil {
		return nil, fmt.Errorf("create sale: %w", err)
	}
	return &sale, nil
}

func (t *saleTx) GetSale(ctx context.Context, id string) (*domain.Sale, error) {
	return scanSale(t.tx.QueryRowContext(ctx,
		`SELECT `+saleColumns+` FROM sales WHERE id = $1 FOR UPDATE`, id))
}

func (t *saleTx) SetSaleStatus(ctx context.Context, id string, status string, reason string, by string, at time.Time) error {
	res, err := t.tx.ExecContext(ctx,
		`UPDATE sales SET status = $2, void_reason = $3, voided_by = $4, voided_at = $5 WHERE id = $1`,
		id, status, reason, by, at)
	if err != nil {
		return fmt.Errorf("set sale status: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

// RunSale executes fn inside a serializable transaction. Serialization
// failures and deadlocks roll back and retry the whole function; any error
// returned by fn aborts the transaction so no partial writes survive.
func (s *Store) RunSale(ctx context.Context, fn func(tx store.SaleTx) error) error {
	var lastErr error
	for attempt := 0; attempt < saleTxAttempts; attempt++ {
		tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
		if err != nil {
			return fmt.Errorf("begin sale transaction: %w", err)
		}

		if err := fn(&saleTx{tx: tx}); err != nil {
			_ = tx.Rollback()
			if isSerializationFailure(err) {
				lastErr = err
				continue
			}
			return err
		}

		if err := tx.Commit(); err != nil {
			if isSerializationFailure(err) {
				lastErr = err
				continue
			}
			return fmt.Errorf("commit sale transaction: %w", err)
		}
		return nil
	}
	return fmt.Errorf("%w: sale transaction retries exhausted: %v", store.ErrConflict, lastErr)
}

const saleColumns = `id, receipt_number, cashier_id, cashier_name, customer_id, customer_name,
	is_bulk_order, customer_details, items, sub_total, tax, total, amount_paid, change,
	payment_method, status, void_reason, voided_by, voided_at, committed_at, client_timestamp`

func scanSale(row interface{ Scan(...any) error }) (*domain.Sale, error) {
	var sale domain.Sale
	var details, items []byte
	var voidedAt sql.NullTime
	err := row.Scan(&sale.ID, &sale.ReceiptNumber, &sale.CashierID, &sale.CashierName,
		&sale.CustomerID, &sale.CustomerName, &sale.IsBulkOrder, &details, &items,
		&sale.SubTotal, &sale.Tax, &sale.Total, &sale.AmountPaid, &sale.Change,
		&sale.PaymentMethod, &sale.Status, &sale.VoidReason, &sale.VoidedBy,
		&voidedAt, &sale.CommittedAt, &sale.ClientTimestamp)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan sale: %w", err)
	}
	if err := json.Unmarshal(items, &sale.Items); err != nil {
		return nil, fmt.Errorf("decode sale items: %w", err)
	}
	if len(details) > 0 {
		sale.CustomerDetails = &domain.CustomerDetails{}
		if err := json.Unmarshal(details, sale.CustomerDetails); err != nil {
			return nil, fmt.Errorf("decode customer details: %w", err)
		}
	}
	if voidedAt.Valid {
		at := voidedAt.Time
		sale.VoidedAt = &at
	}
	return &sale, nil
}

func (s *Store) GetSaleByID(ctx context.Context, id string) (*domain.Sale, error) {
	return scanSale(s.db.QueryRowContext(ctx,
		`SELECT `+saleColumns+` FROM sales WHERE id = $1`, id))
}

func (s *Store) GetSaleByReceipt(ctx context.Context, receiptNumber string) (*domain.Sale, error) {
	return scanSale(s.db.QueryRowContext(ctx,
		`SELECT `+saleColumns+` FROM sales WHERE receipt_number = $1 ORDER BY committed_at DESC LIMIT 1`,
		receiptNumber))
}

func (s *Store) ListSales(ctx context.Context, from time.Time, to time.Time, limit int) ([]domain.Sale, error) {
	if limit < 1 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+saleColumns+` FROM sales
		 WHERE committed_at >= $1 AND committed_at < $2
		 ORDER BY committed_at DESC LIMIT $3`,
		from, to, limit)
	if err != nil {
		return nil, fmt.Errorf("list sales: %w", err)
	}
	defer rows.Close()

	var sales []domain.Sale
	for rows.Next() {
		sale, err := scanSale(rows)
		if err != nil {
			return nil, err
		}
		sales = append(sales, *sale)
	}
	return sales, rows.Err()
}

func (s *Store) CreateStockMovements(ctx context.Context, movements []domain.StockMovement) error {
	if len(movements) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin movements: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, m := range movements {
		if m.ID == "" {
			m.ID = uuid.NewString()
		}
		createdAt := m.CreatedAt
		if createdAt.IsZero() {
			createdAt = time.Now().UTC()
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO stock_movements (id, movement_type, reference_type, reference_id,
				category, product_id, variant_id, name, quantity, previous_qty, new_qty,
				unit_price, performed_by, performed_by_name, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
			m.ID, m.MovementType, m.ReferenceType, m.ReferenceID,
			m.Category, m.ProductID, m.VariantID, m.Name, m.Quantity, m.PreviousQty, m.NewQty,
			m.UnitPrice, m.PerformedBy, m.PerformedByName, createdAt); err != nil {
			return fmt.Errorf("insert stock movement: %w", err)
		}
	}
	return tx.Commit()
}

func (s *Store) ListStockMovements(ctx context.Context, from time.Time, to time.Time, limit int) ([]domain.StockMovement, error) {
	if limit < 1 {
		limit = 200
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, movement_type, reference_type, reference_id, category, product_id,
			variant_id, name, quantity, previous_qty, new_qty, unit_price,
			performed_by, performed_by_name, created_at
		 FROM stock_movements
		 WHERE created_at >= $1 AND created_at < $2
		 ORDER BY created_at DESC LIMIT $3`,
		from, to, limit)
	if err != nil {
		return nil, fmt.Errorf("list stock movements: %w", err)
	}
	defer rows.Close()

	var movements []domain.StockMovement
	for rows.Next() {
		var m domain.StockMovement
		if err := rows.Scan(&m.ID, &m.MovementType, &m.ReferenceType, &m.ReferenceID,
			&m.Category, &m.ProductID, &m.VariantID, &m.Name, &m.Quantity, &m.PreviousQty,
			&m.NewQty, &m.UnitPrice, &m.PerformedBy, &m.PerformedByName, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan stock movement: %w", err)
		}
		movements = append(movements, m)
	}
	return movements, rows.Err()
}

func (s *Store) GetDailyReport(ctx context.Context, from time.Time, to time.Time) (domain.DailyReport, error) {
	var report domain.DailyReport

	row := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FILTER (WHERE status <> 'voided'),
			COALESCE(SUM(total) FILTER (WHERE status <> 'voided'), 0),
			COALESCE(SUM(tax) FILTER (WHERE status <> 'voided'), 0),
			COUNT(*) FILTER (WHERE status = 'voided')
		 FROM sales WHERE committed_at >= $1 AND committed_at < $2`,
		from, to)
	if err := row.Scan(&report.Sales, &report.Gross, &report.Tax, &report.Voided); err != nil {
		return report, fmt.Errorf("daily report totals: %w", err)
	}

	row = s.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM((item->>'qty')::INTEGER), 0)
		 FROM sales, jsonb_array_elements(items) AS item
		 WHERE committed_at >= $1 AND committed_at < $2 AND status <> 'voided'`,
		from, to)
	if err := row.Scan(&report.ItemsSold); err != nil {
		return report, fmt.Errorf("daily report items: %w", err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT payment_method, COUNT(*), COALESCE(SUM(total), 0)
		 FROM sales
		 WHERE committed_at >= $1 AND committed_at < $2 AND status <> 'voided'
		 GROUP BY payment_method ORDER BY payment_method`,
		from, to)
	if err != nil {
		return report, fmt.Errorf("daily report breakdown: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var entry domain.PaymentBreakdown
		if err := rows.Scan(&entry.PaymentMethod, &entry.Sales, &entry.Total); err != nil {
			return report, fmt.Errorf("scan payment breakdown: %w", err)
		}
		report.ByPayment = append(report.ByPayment, entry)
	}
	return report, rows.Err()
}

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) error {
	if user.Username == "" || user.Password == "" {
		return store.ErrInvalidInput
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users (username, display_name, password_hash, role, active)
		 VALUES ($1, $2, $3, $4, $5)`,
		user.Username, user.DisplayName, user.Password, user.Role, user.Active)
	if isUniqueViolation(err) {
		return store.ErrInvalidInput
	}
	if err != nil {
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT username, display_name, password_hash, role, active, created_at
		 FROM users ORDER BY username`)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	var users []domain.UserAccount
	for rows.Next() {
		var u domain.UserAccount
		if err := rows.Scan(&u.Username, &u.DisplayName, &u.Password, &u.Role, &u.Active, &u.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

func (s *Store) UpdateUserPassword(ctx context.Context, username string, password string) error {
	if username == "" || password == "" {
		return store.ErrInvalidInput
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE users SET password_hash = $2 WHERE username = $1`,
		username, password)
	if err != nil {
		return fmt.Errorf("update user password: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}
