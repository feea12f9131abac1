// Package store is the entitlement data layer over PostgreSQL: profiles,
// products, orders, order items, download links and subscriptions. It holds
// no business rules beyond what the SQL itself enforces (uniqueness,
// compare-and-set updates); policy lives in the checkout, fulfillment and
// download packages.
package store

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bibliolivre/storefront/pkg/pg"
)

var (
	// ErrNotFound is returned when the requested row does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrOrderExists signals a duplicate fulfillment attempt for the same
	// checkout session or payment reference.
	ErrOrderExists = errors.New("order already recorded for this payment reference")
	// ErrQuotaExhausted signals that a download-count increment lost the race
	// against the link's limit.
	ErrQuotaExhausted = errors.New("download quota exhausted")
)

// Store provides pgx-backed access to the entitlement tables.
type Store struct {
	db *pgxpool.Pool
}

// New creates a Store on top of an established connection pool.
func New(db *pgxpool.Pool) *Store {
	if db == nil {
		panic("store: connection pool is required")
	}
	return &Store{db: db}
}

// Profile fetches a user's profile by id.
func (s *Store) Profile(ctx context.Context, userID uuid.UUID) (*Profile, error) {
	var p Profile
	err := s.db.QueryRow(ctx, `
		SELECT id, role, stripe_customer_id, created_at
		FROM profiles
		WHERE id = $1`, userID,
	).Scan(&p.ID, &p.Role, &p.StripeCustomerID, &p.CreatedAt)
	if err != nil {
		if pg.IsNotFoundError(err) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &p, nil
}

// SetStripeCustomerID persists the billing-customer reference for a user.
// The reference is write-once: an already-set value is never overwritten.
// applied=false means no row changed, either because the reference was
// already set or because the profile row does not exist.
func (s *Store) SetStripeCustomerID(ctx context.Context, userID uuid.UUID, customerID string) (applied bool, err error) {
	tag, err := s.db.Exec(ctx, `
		UPDATE profiles
		SET stripe_customer_id = $2
		WHERE id = $1 AND stripe_customer_id IS NULL`, userID, customerID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// ProductByID fetches a catalog entry by its internal id.
func (s *Store) ProductByID(ctx context.Context, id uuid.UUID) (*Product, error) {
	return s.product(ctx, `WHERE id = $1`, id)
}

// ProductByStripeID resolves a provider product reference to the catalog
// entry it belongs to.
func (s *Store) ProductByStripeID(ctx context.Context, stripeID string) (*Product, error) {
	return s.product(ctx, `WHERE stripe_product_id = $1`, stripeID)
}

func (s *Store) product(ctx context.Context, where string, arg any) (*Product, error) {
	var p Product
	err := s.db.QueryRow(ctx, `
		SELECT id, name, product_type, stripe_product_id, stripe_price_id,
		       file_bucket, file_path, active, created_at
		FROM products `+where, arg,
	).Scan(&p.ID, &p.Name, &p.Type, &p.StripeProductID, &p.StripePriceID,
		&p.FileBucket, &p.FilePath, &p.Active, &p.CreatedAt)
	if err != nil {
		if pg.IsNotFoundError(err) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &p, nil
}
