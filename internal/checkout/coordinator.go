package checkout

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	"grocerstock/backend/internal/domain"
	"grocerstock/backend/internal/events"
	"grocerstock/backend/internal/metrics"
	"grocerstock/backend/internal/store"
)

// Coordinator drives a checkout from cart to committed sale record. One
// coordinator serves one terminal session and refuses overlapping calls; the
// isolation between coordinators (and between processes) comes entirely from
// the store's RunSale primitive, never from locks held here.
type Coordinator struct {
	repo       store.Repository
	publisher  events.Publisher
	metrics    *metrics.Metrics
	processing atomic.Bool
}

func NewCoordinator(repo store.Repository, publisher events.Publisher, m *metrics.Metrics) *Coordinator {
	if publisher == nil {
		publisher = events.NoopPublisher{}
	}
	return &Coordinator{repo: repo, publisher: publisher, metrics: m}
}

// ProcessSale converts a cart into a persisted sale while atomically
// decrementing the stock of every referenced variant. Either every decrement
// lands together with exactly one new sale record, or nothing is written and a
// typed error describes why.
func (c *Coordinator) ProcessSale(ctx context.Context, req domain.SaleRequest) (*domain.Sale, error) {
	if !c.processing.CompareAndSwap(false, true) {
		return nil, c.abort(ErrAlreadyProcessing)
	}
	defer c.processing.Store(false)

	cashier := req.Cashier
	if cashier.ID == "" {
		cashier = domain.UnknownCashier
	}

	totals, err := ValidateCart(req.Cart, req.Total, req.AmountPaid)
	if err != nil {
		return nil, c.abort(err)
	}

	// Warm read: shapes the document set and fails fast on dangling
	// references. Quantities seen here are not trusted for the stock check.
	docs, err := ResolveStock(ctx, c.repo, req.Cart)
	if err != nil {
		return nil, c.abort(err)
	}

	clientNow := time.Now().UTC()
	sale := domain.Sale{
		ReceiptNumber:   NewReceiptNumber(clientNow),
		CashierID:       cashier.ID,
		CashierName:     cashier.Name,
		CustomerID:      req.CustomerID,
		CustomerName:    req.CustomerName,
		IsBulkOrder:     req.IsBulkOrder,
		Items:           append([]domain.CartItem(nil), req.Cart...),
		SubTotal:        totals.SubTotal,
		Tax:             totals.Tax,
		Total:           totals.Total,
		AmountPaid:      totals.Total + totals.Change,
		Change:          totals.Change,
		PaymentMethod:   req.PaymentMethod,
		Status:          domain.SaleStatusCompleted,
		ClientTimestamp: clientNow,
	}
	if req.IsBulkOrder {
		sale.CustomerDetails = req.CustomerDetails
	}

	var committed *domain.Sale
	var movements []domain.StockMovement

	err = c.repo.RunSale(ctx, func(tx store.SaleTx) error {
		// The transaction function may be re-run by the store on conflict;
		// everything here must derive from live reads only.
		pending := make([]domain.StockMovement, 0, len(req.Cart))

		for _, doc := range docs {
			live, err := tx.GetProduct(ctx, doc.Key)
			if err != nil {
				if errors.Is(err, store.ErrNotFound) {
					return &Error{
						Code:    CodeProductNotFound,
						Message: fmt.Sprintf("product document %s disappeared before commit", doc.Key.Path()),
						Path:    doc.Key.Path(),
					}
				}
				return err
			}
			// One working copy per document: successive items hitting the
			// same document decrement the already-decremented value.
			working := append([]domain.Variant(nil), live.Variants...)

			for _, item := range doc.Items {
				idx := -1
				for i := range working {
					if working[i].VariantID == item.VariantID {
						idx = i
						break
					}
				}
				if idx < 0 {
					// Covers an empty variants list too; the document itself
					// is still valid.
					return &Error{
						Code:      CodeVariantNotFound,
						Message:   fmt.Sprintf("variant %s not found in %s", item.VariantID, doc.Key.Path()),
						Path:      doc.Key.Path(),
						VariantID: item.VariantID,
					}
				}

				current := working[idx].Quantity
				if current < 0 {
					return &Error{
						Code:      CodeCorruptVariantData,
						Message:   fmt.Sprintf("variant %s in %s has invalid stock %d", item.VariantID, doc.Key.Path(), current),
						Path:      doc.Key.Path(),
						VariantID: item.VariantID,
					}
				}
				if current < item.Qty {
					return &Error{
						Code:      CodeInsufficientStock,
						Message:   fmt.Sprintf("insufficient stock for %q (%s): available %d, requested %d", item.Name, item.VariantID, current, item.Qty),
						Path:      doc.Key.Path(),
						VariantID: item.VariantID,
						Available: current,
						Requested: item.Qty,
					}
				}

				working[idx].Quantity = current - item.Qty
				pending = append(pending, domain.StockMovement{
					MovementType:    domain.MovementOut,
					ReferenceType:   domain.MovementRefSale,
					ReferenceID:     sale.ReceiptNumber,
					Category:        doc.Key.Category,
					ProductID:       doc.Key.ProductID,
					VariantID:       item.VariantID,
					Name:            item.Name,
					Quantity:        item.Qty,
					PreviousQty:     current,
					NewQty:          current - item.Qty,
					UnitPrice:       item.Price,
					PerformedBy:     cashier.ID,
					PerformedByName: cashier.Name,
					CreatedAt:       clientNow,
				})
			}

			if err := tx.UpdateVariants(ctx, doc.Key, working); err != nil {
				return err
			}
		}

		created, err := tx.CreateSale(ctx, sale)
		if err != nil {
			return err
		}
		committed = created
		movements = pending
		return nil
	})
	if err != nil {
		var typed *Error
		if errors.As(err, &typed) {
			return nil, c.abort(typed)
		}
		return nil, c.abort(&Error{
			Code:    CodeTransactionFailed,
			Message: "sale transaction failed",
			Err:     err,
		})
	}

	committed.ClientTimestamp = clientNow
	if c.metrics != nil {
		c.metrics.CheckoutsCommitted.Inc()
	}

	// Audit trail and event fan-out are best-effort once the sale is durable;
	// a failure here must not fail the committed checkout.
	if err := c.repo.CreateStockMovements(ctx, movements); err != nil {
		log.Printf("[checkout] WARN: failed to record stock movements receipt=%s: %v", committed.ReceiptNumber, err)
	}
	if err := c.publisher.PublishSaleCompleted(ctx, *committed); err != nil {
		log.Printf("[checkout] WARN: failed to publish sale event receipt=%s: %v", committed.ReceiptNumber, err)
	}

	return committed, nil
}

func (c *Coordinator) abort(err error) error {
	if c.metrics != nil {
		var typed *Error
		if errors.As(err, &typed) {
			c.metrics.CheckoutsAborted.WithLabelValues(string(typed.Code)).Inc()
		} else {
			c.metrics.CheckoutsAborted.WithLabelValues("internal").Inc()
		}
	}
	return err
}
