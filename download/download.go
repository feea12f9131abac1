// Package download authorizes access to purchased digital assets. The
// service walks a fixed gate order so callers always get the most specific
// refusal: authentication, ownership, existence, expiry, then quota. File
// bytes are never proxied; authorized requests get a short-lived signed URL.
package download

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/bibliolivre/storefront/pkg/logger"
	"github.com/bibliolivre/storefront/store"
)

var (
	// ErrUnauthenticated means no caller identity was presented.
	ErrUnauthenticated = errors.New("authentication required")
	// ErrNotFound means no link or purchase matches the reference.
	ErrNotFound = errors.New("download not found")
	// ErrForbidden means the link belongs to someone else.
	ErrForbidden = errors.New("download belongs to another user")
	// ErrExpired means the link's validity window has passed. Reported
	// even when the quota is also used up; expiry is the harder stop.
	ErrExpired = errors.New("download link expired")
	// ErrLimitReached means the download quota is exhausted.
	ErrLimitReached = errors.New("download limit reached")
	// ErrAssetUnavailable means the catalog entry has no usable file
	// behind it. A server-side defect, never the customer's fault.
	ErrAssetUnavailable = errors.New("asset unavailable")
)

// SignTTL is the validity window of issued URLs. The entitlement lives in
// the link row, not in the URL; an authorized caller can always request a
// fresh one.
const SignTTL = time.Hour

// repository is the slice of the entitlement store the service uses.
type repository interface {
	DownloadLink(ctx context.Context, id uuid.UUID) (*store.DownloadLink, error)
	DownloadLinkForProduct(ctx context.Context, userID, productID uuid.UUID) (*store.DownloadLink, error)
	CreateDownloadLink(ctx context.Context, link *store.DownloadLink) error
	HasPaidOrderForProduct(ctx context.Context, userID, productID uuid.UUID) (uuid.UUID, bool, error)
	ProductByID(ctx context.Context, id uuid.UUID) (*store.Product, error)
	RecordDownload(ctx context.Context, linkID uuid.UUID, ip string) (int32, error)
}

// signer mints time-boxed URLs for stored objects.
type signer interface {
	SignedURL(ctx context.Context, bucket, path string, ttl time.Duration) (string, error)
}

// Service authorizes downloads and issues signed URLs.
type Service struct {
	repo   repository
	signer signer
	log    *slog.Logger
	now    func() time.Time
}

// New creates the download service. Panics on nil collaborators.
func New(repo repository, signer signer, log *slog.Logger) *Service {
	if repo == nil || signer == nil {
		panic("download: repository and signer are required")
	}
	if log == nil {
		log = slog.Default()
	}
	return &Service{repo: repo, signer: signer, log: log, now: time.Now}
}

// Authorize validates the caller's claim on ref and returns a signed URL.
// ref is a download-link id, or a product id when the link is being created
// lazily from purchase history. clientIP feeds the link's audit trail.
func (s *Service) Authorize(ctx context.Context, userID uuid.UUID, ref string, clientIP string) (string, error) {
	if userID == uuid.Nil {
		return "", ErrUnauthenticated
	}
	id, err := uuid.Parse(ref)
	if err != nil || id == uuid.Nil {
		return "", ErrNotFound
	}

	link, err := s.repo.DownloadLink(ctx, id)
	switch {
	case err == nil:
	case errors.Is(err, store.ErrNotFound):
		link, err = s.linkFromPurchase(ctx, userID, id)
		if err != nil {
			return "", err
		}
	default:
		return "", err
	}

	// Ownership gate fires before any state of the link is disclosed.
	// Links without an owner await a guest claim and are not servable here.
	if !link.UserID.Valid || link.UserID.UUID != userID {
		return "", ErrForbidden
	}
	if link.Expired(s.now()) {
		return "", ErrExpired
	}
	if link.Exhausted() {
		return "", ErrLimitReached
	}

	product, err := s.repo.ProductByID(ctx, link.ProductID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return "", ErrAssetUnavailable
		}
		return "", err
	}
	if product.FileBucket == "" || product.FilePath == "" {
		s.log.ErrorContext(ctx, "product has no file location",
			slog.String("product_id", product.ID.String()))
		return "", ErrAssetUnavailable
	}

	url, err := s.signer.SignedURL(ctx, product.FileBucket, product.FilePath, SignTTL)
	if err != nil {
		return "", err
	}

	// The quota CAS is the authority on the limit: a concurrent request
	// that wins the last slot turns this one into a refusal even though
	// the read-side gate passed.
	count, err := s.repo.RecordDownload(ctx, link.ID, clientIP)
	if err != nil {
		if errors.Is(err, store.ErrQuotaExhausted) {
			return "", ErrLimitReached
		}
		// Tracking is best effort; the response is already authorized.
		s.log.WarnContext(ctx, "failed to record download",
			slog.String("link_id", link.ID.String()), logger.Error(err))
		return url, nil
	}
	s.log.InfoContext(ctx, "download authorized",
		slog.String("link_id", link.ID.String()),
		slog.String("product_id", product.ID.String()),
		slog.Int("download_count", int(count)),
	)
	return url, nil
}

// linkFromPurchase materializes a link when the reference names a product
// the caller has paid for but no link row exists yet. Keeps older orders
// downloadable after link housekeeping or partial fulfillment.
func (s *Service) linkFromPurchase(ctx context.Context, userID, productID uuid.UUID) (*store.DownloadLink, error) {
	link, err := s.repo.DownloadLinkForProduct(ctx, userID, productID)
	if err == nil {
		return link, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}
	orderID, paid, err := s.repo.HasPaidOrderForProduct(ctx, userID, productID)
	if err != nil {
		return nil, err
	}
	if !paid {
		return nil, ErrNotFound
	}
	created := &store.DownloadLink{
		UserID:    uuid.NullUUID{UUID: userID, Valid: true},
		ProductID: productID,
		OrderID:   orderID,
	}
	if err := s.repo.CreateDownloadLink(ctx, created); err != nil {
		return nil, err
	}
	s.log.InfoContext(ctx, "download link created from purchase history",
		slog.String("link_id", created.ID.String()),
		slog.String("product_id", productID.String()),
	)
	return created, nil
}
