package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gemloft/storefront/internal/backend"
	"github.com/gemloft/storefront/internal/offer"
	"github.com/gemloft/storefront/internal/pricing"
)

type stubCatalog struct {
	products []pricing.Product
	err      error
}

func (s *stubCatalog) ListProducts(context.Context) ([]pricing.Product, error) {
	return s.products, s.err
}

type stubBackend struct {
	claimed bool
	grant   backend.ClaimGrant
	subErr  error
}

func (s *stubBackend) CheckClaim(context.Context, string) (bool, error) {
	return s.claimed, nil
}

func (s *stubBackend) Subscribe(context.Context, string) (backend.ClaimGrant, error) {
	return s.grant, s.subErr
}

type memStore struct {
	claimed  bool
	coupon   string
	declined bool
}

func (m *memStore) Claimed(context.Context) (bool, string, error) { return m.claimed, m.coupon, nil }
func (m *memStore) SetClaimed(_ context.Context, coupon string) error {
	m.claimed, m.coupon = true, coupon
	return nil
}
func (m *memStore) Declined(context.Context) (bool, error) { return m.declined, nil }
func (m *memStore) SetDeclined(_ context.Context, declined bool) error {
	m.declined = declined
	return nil
}

func newTestHandler(catalog Catalog, b offer.Backend) (*Handler, http.Handler) {
	offers := offer.NewCoordinator(b, &memStore{}, offer.Config{
		AllowedDomain: "@gmail.com",
		DefaultCoupon: "GEMLOFT15",
		PoolSize:      30,
	}, nil)

	h := NewHandler(catalog, offers, pricing.Formatter{Symbol: "$"})
	r := chi.NewRouter()
	h.Routes(r)
	return h, r
}

func dp(v string) *decimal.Decimal {
	d := decimal.RequireFromString(v)
	return &d
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&out))
	return out
}

func TestListProducts(t *testing.T) {
	t.Run("quotes attached", func(t *testing.T) {
		catalog := &stubCatalog{products: []pricing.Product{
			{ID: "ring-01", Name: "Solitaire Ring", Price: dp("100")},
			{ID: "pendant-02", Name: "Pendant", Price: dp("129.99"), Discount: dp("0")},
		}}
		_, router := newTestHandler(catalog, &stubBackend{})

		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/products", nil))

		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

		out := decodeBody[[]productResponse](t, rec)
		require.Len(t, out, 2)

		assert.Equal(t, "100.00", out[0].Quote.OriginalPrice)
		assert.Equal(t, "85.00", out[0].Quote.DiscountedPrice)
		assert.True(t, out[0].Quote.HasDiscount)
		assert.Equal(t, "$85.00", out[0].Quote.DisplayDiscount)

		assert.Equal(t, "129.99", out[1].Quote.DiscountedPrice)
		assert.False(t, out[1].Quote.HasDiscount)
	})

	t.Run("malformed record still served", func(t *testing.T) {
		p, err := pricing.ParseProduct([]byte(`{"id": "bad-01", "price": "call us"}`))
		require.NoError(t, err)
		_, router := newTestHandler(&stubCatalog{products: []pricing.Product{p}}, &stubBackend{})

		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/products", nil))

		require.Equal(t, http.StatusOK, rec.Code)
		out := decodeBody[[]productResponse](t, rec)
		require.Len(t, out, 1)
		assert.Equal(t, "0.00", out[0].Quote.OriginalPrice)
	})

	t.Run("backend failure", func(t *testing.T) {
		_, router := newTestHandler(&stubCatalog{err: errors.New("refused")}, &stubBackend{})

		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/products", nil))

		require.Equal(t, http.StatusBadGateway, rec.Code)
		out := decodeBody[errorResponse](t, rec)
		assert.Equal(t, http.StatusBadGateway, out.Code)
	})
}

func TestOfferState(t *testing.T) {
	_, router := newTestHandler(&stubCatalog{}, &stubBackend{})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/offers/state", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	out := decodeBody[offerStateResponse](t, rec)
	assert.Equal(t, 30, out.RemainingOffers)
	assert.False(t, out.Claimed)
	assert.False(t, out.Declined)
}

func TestClaim(t *testing.T) {
	claim := func(router http.Handler, body string) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/api/offers/claim", strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		router.ServeHTTP(rec, req)
		return rec
	}

	t.Run("success", func(t *testing.T) {
		b := &stubBackend{grant: backend.ClaimGrant{CouponCode: "SRV-COUPON", Remaining: 11, RemainingSet: true}}
		_, router := newTestHandler(&stubCatalog{}, b)

		rec := claim(router, `{"email": "user@gmail.com"}`)

		require.Equal(t, http.StatusOK, rec.Code)
		out := decodeBody[claimResponse](t, rec)
		assert.Equal(t, "SRV-COUPON", out.CouponCode)
		assert.Equal(t, 11, out.RemainingOffers)
	})

	t.Run("invalid email", func(t *testing.T) {
		_, router := newTestHandler(&stubCatalog{}, &stubBackend{})

		rec := claim(router, `{"email": "user@yahoo.com"}`)

		require.Equal(t, http.StatusBadRequest, rec.Code)
		out := decodeBody[errorResponse](t, rec)
		assert.NotEmpty(t, out.Message)
	})

	t.Run("malformed body", func(t *testing.T) {
		_, router := newTestHandler(&stubCatalog{}, &stubBackend{})

		rec := claim(router, `{"email":`)
		require.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("already claimed", func(t *testing.T) {
		_, router := newTestHandler(&stubCatalog{}, &stubBackend{claimed: true})

		rec := claim(router, `{"email": "user@gmail.com"}`)

		require.Equal(t, http.StatusConflict, rec.Code)
		out := decodeBody[errorResponse](t, rec)
		assert.Equal(t, "this offer has already been claimed", out.Message)
	})

	t.Run("backend failure", func(t *testing.T) {
		b := &stubBackend{subErr: &backend.StatusError{Code: 500, Message: "boom"}}
		_, router := newTestHandler(&stubCatalog{}, b)

		rec := claim(router, `{"email": "user@gmail.com"}`)
		require.Equal(t, http.StatusBadGateway, rec.Code)
	})

	t.Run("fallback when endpoint absent", func(t *testing.T) {
		b := &stubBackend{subErr: backend.ErrEndpointAbsent}
		_, router := newTestHandler(&stubCatalog{}, b)

		rec := claim(router, `{"email": "user@gmail.com"}`)

		require.Equal(t, http.StatusOK, rec.Code)
		out := decodeBody[claimResponse](t, rec)
		assert.Equal(t, "GEMLOFT15", out.CouponCode)
		assert.Equal(t, 29, out.RemainingOffers)
	})
}

func TestAutoClaim(t *testing.T) {
	_, router := newTestHandler(&stubCatalog{}, &stubBackend{})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/offers/auto-claim", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	out := decodeBody[claimResponse](t, rec)
	assert.Equal(t, "GEMLOFT15", out.CouponCode)
	assert.Equal(t, 29, out.RemainingOffers)

	// Repeating the call must not decrement again.
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/offers/auto-claim", nil))
	out = decodeBody[claimResponse](t, rec)
	assert.Equal(t, 29, out.RemainingOffers)
}

func TestDecline(t *testing.T) {
	h, router := newTestHandler(&stubCatalog{}, &stubBackend{})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/offers/decline", nil))
	require.Equal(t, http.StatusNoContent, rec.Code)

	assert.True(t, h.offers.State().Declined)
}
