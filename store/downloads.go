package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/bibliolivre/storefront/pkg/pg"
)

type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// DownloadLink fetches a link by its id (the capability token).
func (s *Store) DownloadLink(ctx context.Context, id uuid.UUID) (*DownloadLink, error) {
	return s.downloadLink(ctx, `WHERE id = $1`, id)
}

// DownloadLinkForProduct fetches the user's link for a product, if any.
func (s *Store) DownloadLinkForProduct(ctx context.Context, userID, productID uuid.UUID) (*DownloadLink, error) {
	return s.downloadLink(ctx, `WHERE user_id = $1 AND product_id = $2`, userID, productID)
}

func (s *Store) downloadLink(ctx context.Context, where string, args ...any) (*DownloadLink, error) {
	var l DownloadLink
	err := s.db.QueryRow(ctx, `
		SELECT id, user_id, product_id, order_id, download_count, download_limit,
		       expires_at, ip_addresses, last_downloaded_at, created_at
		FROM download_links `+where, args...,
	).Scan(&l.ID, &l.UserID, &l.ProductID, &l.OrderID, &l.DownloadCount,
		&l.DownloadLimit, &l.ExpiresAt, &l.IPAddresses, &l.LastDownloadedAt, &l.CreatedAt)
	if err != nil {
		if pg.IsNotFoundError(err) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &l, nil
}

// CreateDownloadLink inserts a link, applying the default quota and expiry
// when the caller left them zero. The passed struct is updated in place.
func (s *Store) CreateDownloadLink(ctx context.Context, link *DownloadLink) error {
	applyLinkDefaults(link)
	return insertDownloadLink(ctx, s.db, link)
}

func applyLinkDefaults(link *DownloadLink) {
	if link.ID == uuid.Nil {
		link.ID = uuid.New()
	}
	if link.DownloadLimit == 0 {
		link.DownloadLimit = DefaultDownloadLimit
	}
	if link.ExpiresAt.IsZero() {
		link.ExpiresAt = time.Now().UTC().Add(DefaultLinkTTL)
	}
}

func insertDownloadLink(ctx context.Context, db execer, link *DownloadLink) error {
	applyLinkDefaults(link)
	_, err := db.Exec(ctx, `
		INSERT INTO download_links (id, user_id, product_id, order_id, download_count, download_limit, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		link.ID, link.UserID, link.ProductID, link.OrderID,
		link.DownloadCount, link.DownloadLimit, link.ExpiresAt)
	return err
}

// RecordDownload atomically increments the download counter, appends the
// caller's IP to the bounded history and stamps last_downloaded_at. The
// quota predicate is part of the UPDATE itself, so concurrent downloads of
// the same link can never push the count past the limit; a lost race surfaces
// as ErrQuotaExhausted.
func (s *Store) RecordDownload(ctx context.Context, linkID uuid.UUID, ip string) (int32, error) {
	var count int32
	err := s.db.QueryRow(ctx, `
		UPDATE download_links
		SET download_count = download_count + 1,
		    ip_addresses = (array_append(ip_addresses, $2::text))[greatest(coalesce(array_length(ip_addresses, 1), 0) - $3 + 2, 1):],
		    last_downloaded_at = now()
		WHERE id = $1 AND download_count < download_limit
		RETURNING download_count`,
		linkID, ip, maxIPHistory,
	).Scan(&count)
	if err != nil {
		if pg.IsNotFoundError(err) {
			return 0, ErrQuotaExhausted
		}
		return 0, err
	}
	return count, nil
}
