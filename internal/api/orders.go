package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/velora/pickup-market/internal/domain/order"
)

type orderItemResponse struct {
	ProductID   string `json:"product_id"`
	ProductName string `json:"product_name"`
	UnitPrice   string `json:"unit_price"`
	Quantity    int    `json:"quantity"`
}

type orderResponse struct {
	ID                 string              `json:"id"`
	AttemptID          string              `json:"attempt_id"`
	CustomerID         string              `json:"customer_id"`
	RetailerID         string              `json:"retailer_id"`
	RetailerName       string              `json:"retailer_name"`
	Status             string              `json:"status"`
	Items              []orderItemResponse `json:"items"`
	Subtotal           string              `json:"subtotal"`
	DiscountAmount     string              `json:"discount_amount"`
	PointsRedeemed     string              `json:"points_redeemed"`
	PlatformCommission string              `json:"platform_commission"`
	RetailerAmount     string              `json:"retailer_amount"`
	Total              string              `json:"total"`
	PickupInstructions string              `json:"pickup_instructions,omitempty"`
	CancelReason       string              `json:"cancel_reason,omitempty"`
	RedirectURL        string              `json:"redirect_url,omitempty"`
	CreatedAt          time.Time           `json:"created_at"`
	UpdatedAt          time.Time           `json:"updated_at"`
	ReadyForPickupAt   *time.Time          `json:"ready_for_pickup_at,omitempty"`
	PickedUpAt         *time.Time          `json:"picked_up_at,omitempty"`
}

func orderToResponse(o *order.Order) orderResponse {
	items := make([]orderItemResponse, len(o.Items))
	for i, it := range o.Items {
		items[i] = orderItemResponse{
			ProductID:   it.ProductID,
			ProductName: it.ProductName,
			UnitPrice:   it.UnitPrice.StringFixed(2),
			Quantity:    it.Quantity,
		}
	}
	return orderResponse{
		ID:                 o.ID,
		AttemptID:          o.AttemptID,
		CustomerID:         o.CustomerID,
		RetailerID:         o.RetailerID,
		RetailerName:       o.RetailerName,
		Status:             string(o.Status),
		Items:              items,
		Subtotal:           o.Subtotal.StringFixed(2),
		DiscountAmount:     o.DiscountAmount.StringFixed(2),
		PointsRedeemed:     o.PointsRedeemed.StringFixed(2),
		PlatformCommission: o.PlatformCommission.StringFixed(2),
		RetailerAmount:     o.RetailerAmount.StringFixed(2),
		Total:              o.Total.StringFixed(2),
		PickupInstructions: o.PickupInstructions,
		CancelReason:       o.CancelReason,
		RedirectURL:        o.RedirectURL,
		CreatedAt:          o.CreatedAt,
		UpdatedAt:          o.UpdatedAt,
		ReadyForPickupAt:   o.ReadyForPickupAt,
		PickedUpAt:         o.PickedUpAt,
	}
}

// getOrder returns one order with its items and settlement breakdown, scoped
// to the requesting customer.
func (h *Handler) getOrder(w http.ResponseWriter, r *http.Request) {
	cust := customerID(r)
	if cust == "" {
		writeErrorCode(w, http.StatusUnauthorized, "missing customer identity")
		return
	}

	o, err := h.checkout.GetOrder(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}
	// Another customer's order reads as absent, not forbidden.
	if o.CustomerID != cust {
		writeError(r.Context(), w, order.ErrNotFound)
		return
	}
	writeJSON(w, http.StatusOK, orderToResponse(o))
}

type statusUpdateRequest struct {
	Status string `json:"status"`
	Reason string `json:"reason"`
}

// putOrderStatus applies a retailer/admin status transition.
func (h *Handler) putOrderStatus(w http.ResponseWriter, r *http.Request) {
	var req statusUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorCode(w, http.StatusBadRequest, "invalid json")
		return
	}
	next := order.Status(req.Status)
	if !order.ValidStatus(next) {
		writeErrorCode(w, http.StatusBadRequest, "unknown status "+req.Status)
		return
	}

	o, err := h.checkout.UpdateStatus(r.Context(), chi.URLParam(r, "id"), next, req.Reason)
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, orderToResponse(o))
}
