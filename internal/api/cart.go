package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/velora/pickup-market/internal/domain/cart"
)

type cartLineResponse struct {
	ID           string `json:"id"`
	ProductID    string `json:"product_id"`
	ProductName  string `json:"product_name"`
	RetailerID   string `json:"retailer_id"`
	RetailerName string `json:"retailer_name"`
	UnitPrice    string `json:"unit_price"`
	Quantity     int    `json:"quantity"`
	LineTotal    string `json:"line_total"`
}

type cartGroupResponse struct {
	RetailerID   string             `json:"retailer_id"`
	RetailerName string             `json:"retailer_name"`
	Subtotal     string             `json:"subtotal"`
	Lines        []cartLineResponse `json:"lines"`
}

type cartResponse struct {
	Groups   []cartGroupResponse `json:"groups"`
	Subtotal string              `json:"subtotal"`
}

func lineToResponse(l cart.Line) cartLineResponse {
	return cartLineResponse{
		ID:           l.ID,
		ProductID:    l.ProductID,
		ProductName:  l.ProductName,
		RetailerID:   l.RetailerID,
		RetailerName: l.RetailerName,
		UnitPrice:    l.UnitPrice.StringFixed(2),
		Quantity:     l.Quantity,
		LineTotal:    l.LineTotal().StringFixed(2),
	}
}

// getCart returns the cart grouped by retailer, mirroring how checkout will
// split it.
func (h *Handler) getCart(w http.ResponseWriter, r *http.Request) {
	cust := customerID(r)
	if cust == "" {
		writeErrorCode(w, http.StatusUnauthorized, "missing customer identity")
		return
	}

	lines, err := h.carts.ListLines(r.Context(), cust)
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}

	resp := cartResponse{Groups: []cartGroupResponse{}}
	grand := decimal.Zero
	for _, g := range cart.GroupByRetailer(lines) {
		group := cartGroupResponse{
			RetailerID:   g.RetailerID,
			RetailerName: g.RetailerName,
			Subtotal:     g.Subtotal().StringFixed(2),
			Lines:        make([]cartLineResponse, len(g.Lines)),
		}
		for i, l := range g.Lines {
			group.Lines[i] = lineToResponse(l)
		}
		resp.Groups = append(resp.Groups, group)
		grand = grand.Add(g.Subtotal())
	}
	resp.Subtotal = grand.StringFixed(2)
	writeJSON(w, http.StatusOK, resp)
}

type addCartItemRequest struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

func (h *Handler) addCartItem(w http.ResponseWriter, r *http.Request) {
	cust := customerID(r)
	if cust == "" {
		writeErrorCode(w, http.StatusUnauthorized, "missing customer identity")
		return
	}

	var req addCartItemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorCode(w, http.StatusBadRequest, "invalid json")
		return
	}
	if req.ProductID == "" || req.Quantity < 1 {
		writeErrorCode(w, http.StatusBadRequest, "product_id and quantity >= 1 are required")
		return
	}

	line, err := h.carts.AddLine(r.Context(), cust, req.ProductID, req.Quantity)
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusCreated, lineToResponse(*line))
}

type updateCartItemRequest struct {
	Quantity int `json:"quantity"`
}

func (h *Handler) updateCartItem(w http.ResponseWriter, r *http.Request) {
	cust := customerID(r)
	if cust == "" {
		writeErrorCode(w, http.StatusUnauthorized, "missing customer identity")
		return
	}

	var req updateCartItemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorCode(w, http.StatusBadRequest, "invalid json")
		return
	}
	if req.Quantity < 1 {
		writeErrorCode(w, http.StatusBadRequest, "quantity must be >= 1")
		return
	}

	line, err := h.carts.UpdateQuantity(r.Context(), cust, chi.URLParam(r, "id"), req.Quantity)
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, lineToResponse(*line))
}

func (h *Handler) removeCartItem(w http.ResponseWriter, r *http.Request) {
	cust := customerID(r)
	if cust == "" {
		writeErrorCode(w, http.StatusUnauthorized, "missing customer identity")
		return
	}

	if err := h.carts.RemoveLine(r.Context(), cust, chi.URLParam(r, "id")); err != nil {
		writeError(r.Context(), w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
