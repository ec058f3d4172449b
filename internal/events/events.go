package events

import (
	"context"

	"grocerstock/backend/internal/domain"
)

// Publisher emits sale lifecycle events for downstream consumers (receipt
// printers, notification fan-out, analytics). Publishing is best-effort and
// happens strictly after the sale has committed; a publish failure never rolls
// back a sale.
type Publisher interface {
	PublishSaleCompleted(ctx context.Context, sale domain.Sale) error
	PublishSaleVoided(ctx context.Context, sale domain.Sale) error
	Close() error
}

type NoopPublisher struct{}

func (NoopPublisher) PublishSaleCompleted(_ context.Context, _ domain.Sale) error { return nil }
func (NoopPublisher) PublishSaleVoided(_ context.Context, _ domain.Sale) error    { return nil }
func (NoopPublisher) Close() error                                                { return nil }
