// Package api exposes the checkout pipeline over HTTP.
package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/velora/pickup-market/internal/checkout"
	"github.com/velora/pickup-market/internal/domain/cart"
	"github.com/velora/pickup-market/internal/domain/order"
	"github.com/velora/pickup-market/internal/domain/points"
	"github.com/velora/pickup-market/internal/domain/promo"
)

// APIKeyInfo holds the identity and permission data for a validated API key.
type APIKeyInfo struct {
	ID      string
	KeyHash string
	Name    string
	Scopes  []string
}

// APIKeyRepository provides lookup of API keys by their HMAC-SHA256 hash.
type APIKeyRepository interface {
	FindByHash(ctx context.Context, hash string) (*APIKeyInfo, error)
}

// Handler holds the HTTP endpoints and their dependencies.
type Handler struct {
	carts    cart.Repository
	checkout *checkout.Service
	apikeys  APIKeyRepository
	pepper   []byte
}

// NewHandler constructs a Handler with the required dependencies.
func NewHandler(carts cart.Repository, svc *checkout.Service, apikeys APIKeyRepository, pepper []byte) *Handler {
	return &Handler{
		carts:    carts,
		checkout: svc,
		apikeys:  apikeys,
		pepper:   pepper,
	}
}

// Routes builds the API router. The status-update endpoint is retailer/admin
// facing and sits behind API-key auth; customer endpoints identify the caller
// through the X-Customer-ID header set by the session service in front.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Route("/cart", func(r chi.Router) {
		r.Get("/", h.getCart)
		r.Post("/items", h.addCartItem)
		r.Put("/items/{id}", h.updateCartItem)
		r.Delete("/items/{id}", h.removeCartItem)
	})

	r.Post("/checkout", h.postCheckout)
	r.Get("/orders/{id}", h.getOrder)
	r.With(h.requireAPIKey).Put("/orders/{id}/status", h.putOrderStatus)
	r.Post("/payments/callback", h.paymentCallback)

	return r
}

type errorResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErrorCode(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, errorResponse{Code: code, Message: msg})
}

// writeError maps domain errors onto HTTP statuses. Unrecognized errors are
// logged and masked as 500s.
func writeError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, cart.ErrEmptyCart),
		errors.Is(err, promo.ErrDiscountNotFound),
		errors.Is(err, promo.ErrDiscountExpired),
		errors.Is(err, promo.ErrDiscountMinimumNotMet),
		errors.Is(err, promo.ErrDiscountUsageExceeded),
		errors.Is(err, promo.ErrRedemptionExceedsTotal),
		errors.Is(err, points.ErrInsufficientPoints):
		writeErrorCode(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, checkout.ErrCartModified),
		errors.Is(err, order.ErrStaleStatus):
		writeErrorCode(w, http.StatusConflict, err.Error())
	case errors.Is(err, order.ErrNotFound),
		errors.Is(err, cart.ErrLineNotFound),
		errors.Is(err, cart.ErrProductNotFound):
		writeErrorCode(w, http.StatusNotFound, err.Error())
	default:
		var transition *order.InvalidTransitionError
		if errors.As(err, &transition) {
			writeErrorCode(w, http.StatusUnprocessableEntity, transition.Error())
			return
		}
		zctx.From(ctx).Error("request failed", zap.Error(err))
		writeErrorCode(w, http.StatusInternalServerError, "internal error")
	}
}

// customerID extracts the caller's identity placed by the session service.
func customerID(r *http.Request) string {
	return r.Header.Get("X-Customer-ID")
}
