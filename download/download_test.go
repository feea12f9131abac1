package download_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/bibliolivre/storefront/download"
	"github.com/bibliolivre/storefront/store"
)

type mockRepo struct {
	mock.Mock
}

func (m *mockRepo) DownloadLink(ctx context.Context, id uuid.UUID) (*store.DownloadLink, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*store.DownloadLink), args.Error(1)
}

func (m *mockRepo) DownloadLinkForProduct(ctx context.Context, userID, productID uuid.UUID) (*store.DownloadLink, error) {
	args := m.Called(ctx, userID, productID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*store.DownloadLink), args.Error(1)
}

func (m *mockRepo) CreateDownloadLink(ctx context.Context, link *store.DownloadLink) error {
	args := m.Called(ctx, link)
	// Mirror the store's behavior of filling defaults on insert.
	if link.ID == uuid.Nil {
		link.ID = uuid.New()
	}
	if link.DownloadLimit == 0 {
		link.DownloadLimit = store.DefaultDownloadLimit
	}
	if link.ExpiresAt.IsZero() {
		link.ExpiresAt = time.Now().Add(store.DefaultLinkTTL)
	}
	return args.Error(0)
}

func (m *mockRepo) HasPaidOrderForProduct(ctx context.Context, userID, productID uuid.UUID) (uuid.UUID, bool, error) {
	args := m.Called(ctx, userID, productID)
	return args.Get(0).(uuid.UUID), args.Bool(1), args.Error(2)
}

func (m *mockRepo) ProductByID(ctx context.Context, id uuid.UUID) (*store.Product, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*store.Product), args.Error(1)
}

func (m *mockRepo) RecordDownload(ctx context.Context, linkID uuid.UUID, ip string) (int32, error) {
	args := m.Called(ctx, linkID, ip)
	return int32(args.Int(0)), args.Error(1)
}

type mockSigner struct {
	mock.Mock
}

func (m *mockSigner) SignedURL(ctx context.Context, bucket, path string, ttl time.Duration) (string, error) {
	args := m.Called(ctx, bucket, path, ttl)
	return args.String(0), args.Error(1)
}

func validLink(userID uuid.UUID) *store.DownloadLink {
	return &store.DownloadLink{
		ID:            uuid.New(),
		UserID:        uuid.NullUUID{UUID: userID, Valid: true},
		ProductID:     uuid.New(),
		OrderID:       uuid.New(),
		DownloadCount: 1,
		DownloadLimit: store.DefaultDownloadLimit,
		ExpiresAt:     time.Now().Add(24 * time.Hour),
	}
}

func ebookProduct(id uuid.UUID) *store.Product {
	return &store.Product{
		ID:         id,
		Name:       "Memórias Póstumas",
		Type:       store.ProductTypeEbook,
		FileBucket: "ebooks",
		FilePath:   "memorias-postumas.epub",
	}
}

func TestAuthorize_Unauthenticated(t *testing.T) {
	t.Parallel()

	svc := download.New(new(mockRepo), new(mockSigner), nil)
	_, err := svc.Authorize(context.Background(), uuid.Nil, uuid.NewString(), "1.2.3.4")
	require.ErrorIs(t, err, download.ErrUnauthenticated)
}

func TestAuthorize_MalformedRef(t *testing.T) {
	t.Parallel()

	svc := download.New(new(mockRepo), new(mockSigner), nil)
	_, err := svc.Authorize(context.Background(), uuid.New(), "not-a-uuid", "1.2.3.4")
	require.ErrorIs(t, err, download.ErrNotFound)
}

func TestAuthorize_OwnershipGate(t *testing.T) {
	t.Parallel()

	t.Run("another user's link", func(t *testing.T) {
		t.Parallel()

		link := validLink(uuid.New())
		repo := new(mockRepo)
		repo.On("DownloadLink", mock.Anything, link.ID).Return(link, nil)

		svc := download.New(repo, new(mockSigner), nil)
		_, err := svc.Authorize(context.Background(), uuid.New(), link.ID.String(), "1.2.3.4")
		require.ErrorIs(t, err, download.ErrForbidden)
	})

	t.Run("unclaimed guest link", func(t *testing.T) {
		t.Parallel()

		link := validLink(uuid.New())
		link.UserID = uuid.NullUUID{}
		repo := new(mockRepo)
		repo.On("DownloadLink", mock.Anything, link.ID).Return(link, nil)

		svc := download.New(repo, new(mockSigner), nil)
		_, err := svc.Authorize(context.Background(), uuid.New(), link.ID.String(), "1.2.3.4")
		require.ErrorIs(t, err, download.ErrForbidden)
	})
}

func TestAuthorize_ExpiryBeatsQuota(t *testing.T) {
	t.Parallel()

	userID := uuid.New()
	link := validLink(userID)
	link.ExpiresAt = time.Now().Add(-time.Hour)
	link.DownloadCount = link.DownloadLimit // exhausted too

	repo := new(mockRepo)
	repo.On("DownloadLink", mock.Anything, link.ID).Return(link, nil)

	svc := download.New(repo, new(mockSigner), nil)
	_, err := svc.Authorize(context.Background(), userID, link.ID.String(), "1.2.3.4")
	require.ErrorIs(t, err, download.ErrExpired)
}

func TestAuthorize_QuotaExhausted(t *testing.T) {
	t.Parallel()

	userID := uuid.New()
	link := validLink(userID)
	link.DownloadCount = link.DownloadLimit

	repo := new(mockRepo)
	repo.On("DownloadLink", mock.Anything, link.ID).Return(link, nil)

	svc := download.New(repo, new(mockSigner), nil)
	_, err := svc.Authorize(context.Background(), userID, link.ID.String(), "1.2.3.4")
	require.ErrorIs(t, err, download.ErrLimitReached)
}

func TestAuthorize_HappyPath(t *testing.T) {
	t.Parallel()

	userID := uuid.New()
	link := validLink(userID)
	product := ebookProduct(link.ProductID)

	repo := new(mockRepo)
	signer := new(mockSigner)
	repo.On("DownloadLink", mock.Anything, link.ID).Return(link, nil)
	repo.On("ProductByID", mock.Anything, link.ProductID).Return(product, nil)
	signer.On("SignedURL", mock.Anything, "ebooks", "memorias-postumas.epub", download.SignTTL).
		Return("https://s3.example.com/signed", nil)
	repo.On("RecordDownload", mock.Anything, link.ID, "1.2.3.4").Return(2, nil)

	svc := download.New(repo, signer, nil)
	url, err := svc.Authorize(context.Background(), userID, link.ID.String(), "1.2.3.4")
	require.NoError(t, err)
	assert.Equal(t, "https://s3.example.com/signed", url)
	repo.AssertExpectations(t)
	signer.AssertExpectations(t)
}

func TestAuthorize_ProductWithoutFile(t *testing.T) {
	t.Parallel()

	userID := uuid.New()
	link := validLink(userID)
	product := ebookProduct(link.ProductID)
	product.FilePath = ""

	repo := new(mockRepo)
	repo.On("DownloadLink", mock.Anything, link.ID).Return(link, nil)
	repo.On("ProductByID", mock.Anything, link.ProductID).Return(product, nil)

	svc := download.New(repo, new(mockSigner), nil)
	_, err := svc.Authorize(context.Background(), userID, link.ID.String(), "1.2.3.4")
	require.ErrorIs(t, err, download.ErrAssetUnavailable)
}

func TestAuthorize_LostQuotaRaceRefused(t *testing.T) {
	t.Parallel()

	userID := uuid.New()
	link := validLink(userID)
	link.DownloadCount = link.DownloadLimit - 1
	product := ebookProduct(link.ProductID)

	repo := new(mockRepo)
	signer := new(mockSigner)
	repo.On("DownloadLink", mock.Anything, link.ID).Return(link, nil)
	repo.On("ProductByID", mock.Anything, link.ProductID).Return(product, nil)
	signer.On("SignedURL", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return("https://s3.example.com/signed", nil)
	// A concurrent request took the last slot between the read and the CAS.
	repo.On("RecordDownload", mock.Anything, link.ID, "1.2.3.4").
		Return(0, store.ErrQuotaExhausted)

	svc := download.New(repo, signer, nil)
	_, err := svc.Authorize(context.Background(), userID, link.ID.String(), "1.2.3.4")
	require.ErrorIs(t, err, download.ErrLimitReached)
}

func TestAuthorize_TrackingFailureIsNonFatal(t *testing.T) {
	t.Parallel()

	userID := uuid.New()
	link := validLink(userID)
	product := ebookProduct(link.ProductID)

	repo := new(mockRepo)
	signer := new(mockSigner)
	repo.On("DownloadLink", mock.Anything, link.ID).Return(link, nil)
	repo.On("ProductByID", mock.Anything, link.ProductID).Return(product, nil)
	signer.On("SignedURL", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return("https://s3.example.com/signed", nil)
	repo.On("RecordDownload", mock.Anything, link.ID, "1.2.3.4").
		Return(0, errors.New("connection reset"))

	svc := download.New(repo, signer, nil)
	url, err := svc.Authorize(context.Background(), userID, link.ID.String(), "1.2.3.4")
	require.NoError(t, err)
	assert.NotEmpty(t, url)
}

func TestAuthorize_LazyLinkFromPurchase(t *testing.T) {
	t.Parallel()

	userID := uuid.New()
	productID := uuid.New()
	orderID := uuid.New()
	product := ebookProduct(productID)

	t.Run("creates link for paid product", func(t *testing.T) {
		t.Parallel()

		repo := new(mockRepo)
		signer := new(mockSigner)
		repo.On("DownloadLink", mock.Anything, productID).Return(nil, store.ErrNotFound)
		repo.On("DownloadLinkForProduct", mock.Anything, userID, productID).Return(nil, store.ErrNotFound)
		repo.On("HasPaidOrderForProduct", mock.Anything, userID, productID).Return(orderID, true, nil)
		repo.On("CreateDownloadLink", mock.Anything, mock.MatchedBy(func(l *store.DownloadLink) bool {
			return l.ProductID == productID && l.OrderID == orderID && l.UserID.UUID == userID
		})).Return(nil)
		repo.On("ProductByID", mock.Anything, productID).Return(product, nil)
		signer.On("SignedURL", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
			Return("https://s3.example.com/signed", nil)
		repo.On("RecordDownload", mock.Anything, mock.Anything, "1.2.3.4").Return(1, nil)

		svc := download.New(repo, signer, nil)
		url, err := svc.Authorize(context.Background(), userID, productID.String(), "1.2.3.4")
		require.NoError(t, err)
		assert.NotEmpty(t, url)
		repo.AssertExpectations(t)
	})

	t.Run("no purchase means not found", func(t *testing.T) {
		t.Parallel()

		repo := new(mockRepo)
		repo.On("DownloadLink", mock.Anything, productID).Return(nil, store.ErrNotFound)
		repo.On("DownloadLinkForProduct", mock.Anything, userID, productID).Return(nil, store.ErrNotFound)
		repo.On("HasPaidOrderForProduct", mock.Anything, userID, productID).Return(uuid.Nil, false, nil)

		svc := download.New(repo, new(mockSigner), nil)
		_, err := svc.Authorize(context.Background(), userID, productID.String(), "1.2.3.4")
		require.ErrorIs(t, err, download.ErrNotFound)
	})
}
