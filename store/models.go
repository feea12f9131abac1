package store

import (
	"time"

	"github.com/google/uuid"
)

// OrderStatus tracks the payment lifecycle of an order.
// Transitions only move forward: pending → paid → refunded.
type OrderStatus string

const (
	OrderStatusPending  OrderStatus = "pending"
	OrderStatusPaid     OrderStatus = "paid"
	OrderStatusRefunded OrderStatus = "refunded"
)

// SubscriptionStatus is the internal tri-state for recurring billing.
type SubscriptionStatus string

const (
	SubscriptionStatusActive   SubscriptionStatus = "active"
	SubscriptionStatusPastDue  SubscriptionStatus = "past_due"
	SubscriptionStatusCanceled SubscriptionStatus = "canceled"
)

// PlanType is the billing interval of a subscription plan.
type PlanType string

const (
	PlanMonthly PlanType = "monthly"
	PlanYearly  PlanType = "yearly"
)

// ProductType distinguishes downloadable goods from recurring access.
type ProductType string

const (
	ProductTypeEbook        ProductType = "ebook"
	ProductTypeSubscription ProductType = "subscription"
)

// Role is the profile's access level.
type Role string

const (
	RoleCustomer Role = "customer"
	RoleAdmin    Role = "admin"
)

const (
	// DefaultDownloadLimit is the number of downloads a fresh link allows.
	DefaultDownloadLimit = 5
	// DefaultLinkTTL is how long a fresh link stays valid.
	DefaultLinkTTL = 7 * 24 * time.Hour
	// maxIPHistory bounds the per-link IP audit trail; oldest entries are evicted.
	maxIPHistory = 10
)

// Profile bridges a user to their billing identity. The Stripe customer
// reference is filled on first checkout and never overwritten.
type Profile struct {
	ID               uuid.UUID
	Role             Role
	StripeCustomerID *string
	CreatedAt        time.Time
}

// Product is a catalog entry. FileBucket/FilePath locate the digital asset
// for ebook-type products; StripeProductID ties webhook line items back to
// the catalog.
type Product struct {
	ID              uuid.UUID
	Name            string
	Type            ProductType
	StripeProductID string
	StripePriceID   string
	FileBucket      string
	FilePath        string
	Active          bool
	CreatedAt       time.Time
}

// Order is one purchase transaction. UserID is null for guest orders.
// PaymentRef holds the provider's payment-intent id, SessionRef the checkout
// session id; both are unique and back the idempotent fulfillment guarantee.
type Order struct {
	ID         uuid.UUID
	UserID     uuid.NullUUID
	Email      string
	Status     OrderStatus
	Currency   string
	Subtotal   int64
	Total      int64
	PaymentRef string
	SessionRef string
	CreatedAt  time.Time
}

// OrderItem is one line within an order. Name, type and price are snapshots
// taken at purchase time and stay frozen if the catalog entry changes later.
type OrderItem struct {
	ID          uuid.UUID
	OrderID     uuid.UUID
	ProductID   uuid.UUID
	ProductName string
	ProductType ProductType
	Quantity    int32
	UnitPrice   int64
}

// DownloadLink grants bounded access to one asset for one order/product/user
// triple. The row id doubles as the opaque capability token. Rows are never
// deleted; exhausted and expired links remain as an audit trail.
type DownloadLink struct {
	ID               uuid.UUID
	UserID           uuid.NullUUID
	ProductID        uuid.UUID
	OrderID          uuid.UUID
	DownloadCount    int32
	DownloadLimit    int32
	ExpiresAt        time.Time
	IPAddresses      []string
	LastDownloadedAt *time.Time
	CreatedAt        time.Time
}

// Expired reports whether the link's validity window has passed.
func (l *DownloadLink) Expired(now time.Time) bool {
	return now.After(l.ExpiresAt)
}

// Exhausted reports whether the download quota is used up.
func (l *DownloadLink) Exhausted() bool {
	return l.DownloadCount >= l.DownloadLimit
}

// Subscription is a recurring billing relationship keyed by the provider's
// subscription id.
type Subscription struct {
	ID                   uuid.UUID
	UserID               uuid.UUID
	StripeSubscriptionID string
	PlanType             PlanType
	Status               SubscriptionStatus
	CurrentPeriodEnd     time.Time
	CreatedAt            time.Time
	UpdatedAt            time.Time
}
