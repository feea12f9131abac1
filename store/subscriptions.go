package store

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/bibliolivre/storefront/pkg/pg"
)

// SubscriptionByProviderID fetches a subscription by the provider's id.
func (s *Store) SubscriptionByProviderID(ctx context.Context, stripeSubID string) (*Subscription, error) {
	var sub Subscription
	err := s.db.QueryRow(ctx, `
		SELECT id, user_id, stripe_subscription_id, plan_type, status,
		       current_period_end, created_at, updated_at
		FROM subscriptions
		WHERE stripe_subscription_id = $1`, stripeSubID,
	).Scan(&sub.ID, &sub.UserID, &sub.StripeSubscriptionID, &sub.PlanType,
		&sub.Status, &sub.CurrentPeriodEnd, &sub.CreatedAt, &sub.UpdatedAt)
	if err != nil {
		if pg.IsNotFoundError(err) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &sub, nil
}

// UpsertSubscription creates or refreshes a subscription row keyed by the
// provider's subscription id. Redelivered creation events collapse into an
// update instead of a duplicate row.
func (s *Store) UpsertSubscription(ctx context.Context, sub *Subscription) error {
	if sub.ID == uuid.Nil {
		sub.ID = uuid.New()
	}
	_, err := s.db.Exec(ctx, `
		INSERT INTO subscriptions (id, user_id, stripe_subscription_id, plan_type, status, current_period_end, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (stripe_subscription_id) DO UPDATE
		SET status = EXCLUDED.status,
		    plan_type = EXCLUDED.plan_type,
		    current_period_end = EXCLUDED.current_period_end,
		    updated_at = EXCLUDED.updated_at
		WHERE subscriptions.updated_at <= EXCLUDED.updated_at`,
		sub.ID, sub.UserID, sub.StripeSubscriptionID, sub.PlanType,
		sub.Status, sub.CurrentPeriodEnd, sub.UpdatedAt)
	return err
}

// UpdateSubscriptionStatus applies a status change carried by a provider
// event. The updated_at guard makes redelivered and reordered events
// converge on the latest-timestamped one rather than the last received.
// A zero periodEnd leaves the stored period end untouched.
func (s *Store) UpdateSubscriptionStatus(ctx context.Context, stripeSubID string, status SubscriptionStatus, periodEnd time.Time, eventTime time.Time) (applied bool, err error) {
	tag, err := s.db.Exec(ctx, `
		UPDATE subscriptions
		SET status = $2,
		    current_period_end = CASE WHEN $3::timestamptz > 'epoch'::timestamptz THEN $3 ELSE current_period_end END,
		    updated_at = $4
		WHERE stripe_subscription_id = $1 AND updated_at <= $4`,
		stripeSubID, status, periodEnd, eventTime)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}
