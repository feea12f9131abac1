package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/bibliolivre/storefront/pkg/pg"
)

// OrderBySessionRef looks an order up by the provider's checkout session id.
func (s *Store) OrderBySessionRef(ctx context.Context, sessionRef string) (*Order, error) {
	return s.order(ctx, `WHERE stripe_session_id = $1`, sessionRef)
}

// OrderByPaymentRef looks an order up by the provider's payment-intent id.
func (s *Store) OrderByPaymentRef(ctx context.Context, paymentRef string) (*Order, error) {
	return s.order(ctx, `WHERE stripe_payment_intent_id = $1`, paymentRef)
}

func (s *Store) order(ctx context.Context, where string, arg any) (*Order, error) {
	var o Order
	err := s.db.QueryRow(ctx, `
		SELECT id, user_id, email, status, currency, subtotal, total,
		       COALESCE(stripe_payment_intent_id, ''), COALESCE(stripe_session_id, ''), created_at
		FROM orders `+where, arg,
	).Scan(&o.ID, &o.UserID, &o.Email, &o.Status, &o.Currency, &o.Subtotal,
		&o.Total, &o.PaymentRef, &o.SessionRef, &o.CreatedAt)
	if err != nil {
		if pg.IsNotFoundError(err) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &o, nil
}

// Fulfill materializes an order with its items and download links in a single
// transaction. The unique constraints on the payment/session references turn
// a concurrent duplicate fulfillment into ErrOrderExists instead of a double
// order, so webhook redelivery is safe even when the application-level
// duplicate check races.
func (s *Store) Fulfill(ctx context.Context, order *Order, items []OrderItem, links []DownloadLink) error {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is a no-op

	_, err = tx.Exec(ctx, `
		INSERT INTO orders (id, user_id, email, status, currency, subtotal, total,
		                    stripe_payment_intent_id, stripe_session_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NULLIF($8, ''), NULLIF($9, ''))`,
		order.ID, order.UserID, order.Email, order.Status, order.Currency,
		order.Subtotal, order.Total, order.PaymentRef, order.SessionRef)
	if err != nil {
		if pg.IsDuplicateKeyError(err) {
			return ErrOrderExists
		}
		return fmt.Errorf("insert order: %w", err)
	}

	if len(items) > 0 {
		batch := &pgx.Batch{}
		for _, item := range items {
			batch.Queue(`
				INSERT INTO order_items (id, order_id, product_id, product_name, product_type, quantity, unit_price)
				VALUES ($1, $2, $3, $4, $5, $6, $7)`,
				item.ID, item.OrderID, item.ProductID, item.ProductName,
				item.ProductType, item.Quantity, item.UnitPrice)
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			if pg.IsForeignKeyViolationError(err) {
				return fmt.Errorf("insert order items: product gone: %w", err)
			}
			return fmt.Errorf("insert order items: %w", err)
		}
	}

	for _, link := range links {
		if err := insertDownloadLink(ctx, tx, &link); err != nil {
			if pg.IsForeignKeyViolationError(err) {
				return fmt.Errorf("insert download link: product gone: %w", err)
			}
			return fmt.Errorf("insert download link: %w", err)
		}
	}

	return tx.Commit(ctx)
}

// MarkOrderRefunded transitions an order from paid to refunded. The status
// predicate makes refunded terminal: a second refund matches zero rows and
// reports applied=false instead of double-processing.
func (s *Store) MarkOrderRefunded(ctx context.Context, orderID uuid.UUID) (applied bool, err error) {
	tag, err := s.db.Exec(ctx, `
		UPDATE orders
		SET status = $2
		WHERE id = $1 AND status = $3`,
		orderID, OrderStatusRefunded, OrderStatusPaid)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// HasPaidOrderForProduct reports whether the user has a paid order containing
// the product and returns the most recent such order's id. Entitlement to a
// download is derived from this, not from the mere existence of a link.
func (s *Store) HasPaidOrderForProduct(ctx context.Context, userID, productID uuid.UUID) (uuid.UUID, bool, error) {
	var orderID uuid.UUID
	err := s.db.QueryRow(ctx, `
		SELECT o.id
		FROM orders o
		JOIN order_items oi ON oi.order_id = o.id
		WHERE o.user_id = $1 AND oi.product_id = $2 AND o.status = $3
		ORDER BY o.created_at DESC
		LIMIT 1`, userID, productID, OrderStatusPaid,
	).Scan(&orderID)
	if err != nil {
		if pg.IsNotFoundError(err) {
			return uuid.Nil, false, nil
		}
		return uuid.Nil, false, err
	}
	return orderID, true, nil
}
