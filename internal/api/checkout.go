package api

import (
	"encoding/json"
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/velora/pickup-market/internal/checkout"
)

type checkoutRequest struct {
	DiscountCode       string `json:"discount_code"`
	PointsToRedeem     string `json:"points_to_redeem"`
	UseMaxPoints       bool   `json:"use_max_points"`
	PickupInstructions string `json:"pickup_instructions"`
}

type checkoutOrderResponse struct {
	OrderID       string `json:"order_id"`
	RetailerID    string `json:"retailer_id"`
	RetailerName  string `json:"retailer_name"`
	Total         string `json:"total"`
	Captured      bool   `json:"captured"`
	RedirectURL   string `json:"redirect_url,omitempty"`
	FailureReason string `json:"failure_reason,omitempty"`
}

type checkoutResponse struct {
	AttemptID string                  `json:"attempt_id"`
	Outcome   string                  `json:"outcome"`
	Orders    []checkoutOrderResponse `json:"orders"`
}

// postCheckout runs one checkout attempt. The Idempotency-Key header makes
// retried calls safe: a replayed key returns the stored attempt with 200
// instead of creating orders again.
func (h *Handler) postCheckout(w http.ResponseWriter, r *http.Request) {
	cust := customerID(r)
	if cust == "" {
		writeErrorCode(w, http.StatusUnauthorized, "missing customer identity")
		return
	}

	var req checkoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorCode(w, http.StatusBadRequest, "invalid json")
		return
	}

	pointsAmount := decimal.Zero
	if req.PointsToRedeem != "" {
		var err error
		pointsAmount, err = decimal.NewFromString(req.PointsToRedeem)
		if err != nil || pointsAmount.IsNegative() || !pointsAmount.Equal(pointsAmount.Round(2)) {
			writeErrorCode(w, http.StatusBadRequest, "points_to_redeem must be a non-negative amount with at most 2 decimal places")
			return
		}
	}

	result, err := h.checkout.Checkout(r.Context(), checkout.Request{
		CustomerID:         cust,
		IdempotencyKey:     r.Header.Get("Idempotency-Key"),
		DiscountCode:       req.DiscountCode,
		PointsToRedeem:     pointsAmount,
		UseMaxPoints:       req.UseMaxPoints,
		PickupInstructions: req.PickupInstructions,
	})
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}

	resp := checkoutResponse{
		AttemptID: result.AttemptID,
		Outcome:   string(result.Outcome),
		Orders:    make([]checkoutOrderResponse, len(result.Orders)),
	}
	for i, o := range result.Orders {
		resp.Orders[i] = checkoutOrderResponse{
			OrderID:       o.OrderID,
			RetailerID:    o.RetailerID,
			RetailerName:  o.RetailerName,
			Total:         o.Total.StringFixed(2),
			Captured:      o.Captured,
			RedirectURL:   o.RedirectURL,
			FailureReason: o.FailureReason,
		}
	}

	code := http.StatusCreated
	if result.Replayed {
		code = http.StatusOK
	}
	writeJSON(w, code, resp)
}

type paymentCallbackRequest struct {
	OrderID   string `json:"order_id"`
	CaptureID string `json:"capture_id"`
	Status    string `json:"status"`
}

// paymentCallback receives the processor's asynchronous completion event.
func (h *Handler) paymentCallback(w http.ResponseWriter, r *http.Request) {
	var req paymentCallbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorCode(w, http.StatusBadRequest, "invalid json")
		return
	}
	if req.OrderID == "" || req.CaptureID == "" {
		writeErrorCode(w, http.StatusBadRequest, "order_id and capture_id are required")
		return
	}

	o, err := h.checkout.HandlePaymentCallback(r.Context(), req.OrderID, req.CaptureID, req.Status == "completed")
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, orderToResponse(o))
}
