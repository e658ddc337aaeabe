// Package api exposes the pricing and offer-claim engine to the storefront
// UI over HTTP.
package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/gemloft/storefront/internal/offer"
	"github.com/gemloft/storefront/internal/pricing"
)

// Catalog lists products from the backend.
type Catalog interface {
	ListProducts(ctx context.Context) ([]pricing.Product, error)
}

// Handler wires the storefront endpoints to the engine.
type Handler struct {
	catalog Catalog
	offers  *offer.Coordinator
	format  pricing.Formatter

	// catalogGroup collapses concurrent catalog fetches into one backend
	// round trip; the storefront grid, search dropdown, and best-seller rail
	// all hit this endpoint on page load.
	catalogGroup singleflight.Group
}

// NewHandler constructs a Handler with the required dependencies.
func NewHandler(catalog Catalog, offers *offer.Coordinator, format pricing.Formatter) *Handler {
	return &Handler{
		catalog: catalog,
		offers:  offers,
		format:  format,
	}
}

// Routes mounts all storefront endpoints on the given router.
func (h *Handler) Routes(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Get("/products", h.ListProducts)
		r.Route("/offers", func(r chi.Router) {
			r.Get("/state", h.OfferState)
			r.Post("/claim", h.Claim)
			r.Post("/auto-claim", h.AutoClaim)
			r.Post("/decline", h.Decline)
		})
	})
}

type productResponse struct {
	ID       string       `json:"id"`
	Name     string       `json:"name,omitempty"`
	Category string       `json:"category,omitempty"`
	Image    string       `json:"image,omitempty"`
	Quote    quotePayload `json:"quote"`
}

type quotePayload struct {
	OriginalPrice   string `json:"originalPrice"`
	DiscountedPrice string `json:"discountedPrice"`
	HasDiscount     bool   `json:"hasDiscount"`
	DisplayOriginal string `json:"displayOriginal"`
	DisplayDiscount string `json:"displayDiscounted"`
}

type offerStateResponse struct {
	RemainingOffers int    `json:"remainingOffers"`
	Claimed         bool   `json:"claimed"`
	CouponCode      string `json:"couponCode,omitempty"`
	Declined        bool   `json:"declined"`
}

type claimRequest struct {
	Email string `json:"email"`
}

type claimResponse struct {
	CouponCode      string `json:"couponCode"`
	RemainingOffers int    `json:"remainingOffers"`
}

type errorResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// ListProducts returns the catalog with a price quote attached to every
// record. Records failing strict validation are still served (permissive by
// policy) but logged so data-entry bugs surface.
func (h *Handler) ListProducts(w http.ResponseWriter, r *http.Request) {
	v, err, _ := h.catalogGroup.Do("products", func() (any, error) {
		return h.catalog.ListProducts(r.Context())
	})
	if err != nil {
		zctx.From(r.Context()).Error("catalog fetch failed", zap.Error(err))
		writeError(w, http.StatusBadGateway, "catalog unavailable, please try again later")
		return
	}
	products := v.([]pricing.Product)

	out := make([]productResponse, len(products))
	for i := range products {
		p := &products[i]
		if err := p.Validate(); err != nil {
			zctx.From(r.Context()).Warn("malformed catalog record",
				zap.String("product_id", p.ID),
				zap.Error(err))
		}
		q := pricing.ComputeQuote(p)
		out[i] = productResponse{
			ID:       p.ID,
			Name:     p.Name,
			Category: p.Category,
			Image:    p.Image,
			Quote: quotePayload{
				OriginalPrice:   q.OriginalPrice.StringFixed(2),
				DiscountedPrice: q.DiscountedPrice.StringFixed(2),
				HasDiscount:     q.HasDiscount,
				DisplayOriginal: h.format.Format(q.OriginalPrice),
				DisplayDiscount: h.format.Format(q.DiscountedPrice),
			},
		}
	}

	writeJSON(w, http.StatusOK, out)
}

// OfferState returns the session's offer standing for banner rendering. The
// remaining count is already clamped; the banner renders only while it is
// positive.
func (h *Handler) OfferState(w http.ResponseWriter, r *http.Request) {
	st := h.offers.State()
	writeJSON(w, http.StatusOK, offerStateResponse{
		RemainingOffers: st.Remaining,
		Claimed:         st.Claimed,
		CouponCode:      st.CouponCode,
		Declined:        st.Declined,
	})
}

// Claim runs the manual claim flow for the submitted email.
func (h *Handler) Claim(w http.ResponseWriter, r *http.Request) {
	var req claimRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	st, err := h.offers.Claim(r.Context(), req.Email)
	if err != nil {
		var vErr *offer.ValidationError
		switch {
		case errors.As(err, &vErr):
			writeError(w, http.StatusBadRequest, vErr.Reason)
		case errors.Is(err, offer.ErrAlreadyClaimed):
			writeError(w, http.StatusConflict, "this offer has already been claimed")
		default:
			zctx.From(r.Context()).Error("claim failed", zap.Error(err))
			writeError(w, http.StatusBadGateway, "offer service unavailable, please try again later")
		}
		return
	}

	writeJSON(w, http.StatusOK, claimResponse{
		CouponCode:      st.CouponCode,
		RemainingOffers: st.Remaining,
	})
}

// AutoClaim performs the local claim issued on authentication. Idempotent.
func (h *Handler) AutoClaim(w http.ResponseWriter, r *http.Request) {
	st := h.offers.AutoClaim(r.Context())
	writeJSON(w, http.StatusOK, claimResponse{
		CouponCode:      st.CouponCode,
		RemainingOffers: st.Remaining,
	})
}

// Decline records a dismissed offer UI.
func (h *Handler) Decline(w http.ResponseWriter, r *http.Request) {
	if err := h.offers.Decline(r.Context()); err != nil {
		zctx.From(r.Context()).Error("decline failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Code: status, Message: message})
}
