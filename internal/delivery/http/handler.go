package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/azizikri/offer-checkout/internal/discount"
	"github.com/azizikri/offer-checkout/internal/domain"
	"github.com/azizikri/offer-checkout/internal/usecase"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

type Handler struct {
	gateway   usecase.StockGateway
	checkout  *usecase.CheckoutService
	offers    *usecase.OfferService
	hierarchy *usecase.HierarchyService
	logger    *zap.Logger
	now       func() time.Time
}

func NewHandler(gateway usecase.StockGateway, checkout *usecase.CheckoutService, offers *usecase.OfferService, hierarchy *usecase.HierarchyService, logger *zap.Logger) *Handler {
	return &Handler{
		gateway:   gateway,
		checkout:  checkout,
		offers:    offers,
		hierarchy: hierarchy,
		logger:    logger,
		now:       time.Now,
	}
}

func (h *Handler) Routes(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Post("/customers/{customerID}/checkout", h.Checkout)
		r.Get("/customers/{customerID}/orders", h.Orders)

		r.Post("/products/{productID}/restock", h.Restock)
		r.Post("/expiries/sweep", h.Sweep)

		r.Post("/offers/validate", h.ValidateOffer)
		r.Post("/offers", h.CreateOffer)
		r.Patch("/offers/{offerID}", h.UpdateOffer)
		r.Delete("/offers/{offerID}", h.DeleteOffer)

		r.Get("/categories/tree", h.CategoryTree)
		r.Put("/categories/{categoryID}/parent", h.ReparentCategory)
		r.Post("/categories/{categoryID}/validate", h.ValidateCategory)

		r.Put("/comments/{commentID}/parent", h.ReparentComment)
		r.Post("/comments/{commentID}/validate", h.ValidateComment)
	})
}

func (h *Handler) Checkout(w http.ResponseWriter, r *http.Request) {
	customerID, ok := idParam(w, r, "customerID")
	if !ok {
		return
	}
	var req CheckoutRequest
	if !decodeOptional(w, r, &req) {
		return
	}

	orders, err := h.gateway.Checkout(r.Context(), customerID, req.ExpectedOffers)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, CheckoutResponse{Orders: toOrderResponses(orders)})
}

func (h *Handler) Orders(w http.ResponseWriter, r *http.Request) {
	customerID, ok := idParam(w, r, "customerID")
	if !ok {
		return
	}
	limit, ok := queryInt(w, r, "limit", 1)
	if !ok {
		return
	}
	offset, ok := queryInt(w, r, "offset", 0)
	if !ok {
		return
	}

	orders, err := h.checkout.History(r.Context(), customerID, limit, offset)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderResponses(orders))
}

func (h *Handler) Restock(w http.ResponseWriter, r *http.Request) {
	productID, ok := idParam(w, r, "productID")
	if !ok {
		return
	}
	var req RestockRequest
	if !decode(w, r, &req) {
		return
	}

	var expiry *time.Time
	if req.Expiry != "" {
		t, err := time.Parse(time.DateOnly, req.Expiry)
		if err != nil {
			http.Error(w, "invalid expiry", http.StatusBadRequest)
			return
		}
		expiry = &t
	}

	stock, err := h.gateway.Restock(r.Context(), productID, req.Units, expiry)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, RestockResponse{ProductID: productID, Stock: stock})
}

func (h *Handler) Sweep(w http.ResponseWriter, r *http.Request) {
	var req SweepRequest
	if !decodeOptional(w, r, &req) {
		return
	}
	now := h.now()
	if req.Now != nil {
		now = *req.Now
	}

	expired, err := h.gateway.SweepExpiries(r.Context(), now)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, SweepResponse{Expired: expired})
}

func (h *Handler) ValidateOffer(w http.ResponseWriter, r *http.Request) {
	var req ValidateOfferRequest
	if !decode(w, r, &req) {
		return
	}
	v, err := req.Deal.Variant()
	if err != nil {
		h.writeError(w, err)
		return
	}

	if err := h.offers.ValidateOffer(r.Context(), req.ProductID, req.BasePrice, v); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) CreateOffer(w http.ResponseWriter, r *http.Request) {
	var req CreateOfferRequest
	if !decode(w, r, &req) {
		return
	}
	v, err := req.Deal.Variant()
	if err != nil {
		h.writeError(w, err)
		return
	}

	created, err := h.offers.Create(r.Context(), domain.SpecialOffer{
		ProductID:        req.ProductID,
		ValidFrom:        req.ValidFrom,
		ValidUntil:       req.ValidUntil,
		MembersOnly:      req.MembersOnly,
		LimitPerCustomer: req.LimitPerCustomer,
		Deal:             v,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toOfferResponse(created))
}

func (h *Handler) UpdateOffer(w http.ResponseWriter, r *http.Request) {
	offerID, ok := idParam(w, r, "offerID")
	if !ok {
		return
	}
	var req UpdateOfferRequest
	if !decode(w, r, &req) {
		return
	}

	patch := usecase.OfferPatch{
		LimitPerCustomer: req.LimitPerCustomer,
		ClearLimit:       req.ClearLimit,
		MembersOnly:      req.MembersOnly,
		ValidFrom:        req.ValidFrom,
		ValidUntil:       req.ValidUntil,
		OpenEnded:        req.OpenEnded,
	}
	if req.Deal != nil {
		v, err := req.Deal.Variant()
		if err == nil && v == nil {
			err = fmt.Errorf("%w: a deal cannot be removed", discount.ErrInvalidVariant)
		}
		if err != nil {
			h.writeError(w, err)
			return
		}
		patch.Deal = v
	}

	updated, err := h.offers.Update(r.Context(), offerID, patch)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toOfferResponse(updated))
}

func (h *Handler) DeleteOffer(w http.ResponseWriter, r *http.Request) {
	offerID, ok := idParam(w, r, "offerID")
	if !ok {
		return
	}
	if err := h.offers.Delete(r.Context(), offerID); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) CategoryTree(w http.ResponseWriter, r *http.Request) {
	forest, err := h.hierarchy.CategoryForest(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, forest)
}

func (h *Handler) ReparentCategory(w http.ResponseWriter, r *http.Request) {
	h.reparent(w, r, "categoryID", h.hierarchy.ReparentCategory)
}

func (h *Handler) ReparentComment(w http.ResponseWriter, r *http.Request) {
	h.reparent(w, r, "commentID", h.hierarchy.ReparentComment)
}

func (h *Handler) reparent(w http.ResponseWriter, r *http.Request, param string, move func(context.Context, int64, *int64) error) {
	id, ok := idParam(w, r, param)
	if !ok {
		return
	}
	var req ParentRequest
	if !decode(w, r, &req) {
		return
	}
	if err := move(r.Context(), id, req.Parent); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) ValidateCategory(w http.ResponseWriter, r *http.Request) {
	h.validateNode(w, r, "categoryID", h.hierarchy.ValidateCategory)
}

func (h *Handler) ValidateComment(w http.ResponseWriter, r *http.Request) {
	h.validateNode(w, r, "commentID", h.hierarchy.ValidateComment)
}

func (h *Handler) validateNode(w http.ResponseWriter, r *http.Request, param string, check func(context.Context, int64) error) {
	id, ok := idParam(w, r, param)
	if !ok {
		return
	}
	if err := check(r.Context(), id); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func idParam(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		http.Error(w, "invalid "+name, http.StatusBadRequest)
		return 0, false
	}
	return id, true
}

// queryInt reads an optional integer query parameter no smaller than floor.
// An absent parameter yields zero.
func queryInt(w http.ResponseWriter, r *http.Request, name string, floor int) (int, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < floor {
		http.Error(w, "invalid "+name, http.StatusBadRequest)
		return 0, false
	}
	return n, true
}

// decode reads a JSON body into dst and runs its validation tags.
func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	return decodeBody(w, r, dst, false)
}

// decodeOptional is decode for endpoints whose body may be left out.
func decodeOptional(w http.ResponseWriter, r *http.Request, dst any) bool {
	return decodeBody(w, r, dst, true)
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any, optional bool) bool {
	err := json.NewDecoder(r.Body).Decode(dst)
	if err != nil && !(optional && errors.Is(err, io.EOF)) {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return false
	}
	if err := validate.Struct(dst); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// statusOf maps a service error to its HTTP status.
func statusOf(err error) int {
	switch {
	case errors.Is(err, domain.ErrNotFound), errors.Is(err, domain.ErrNodeNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrInsufficientStock),
		errors.Is(err, domain.ErrUnavailableProduct),
		errors.Is(err, domain.ErrOfferLapsed),
		errors.Is(err, domain.ErrOverlappingOffer):
		return http.StatusConflict
	case errors.Is(err, domain.ErrInvalidQuantity),
		errors.Is(err, domain.ErrInvalidVariant),
		errors.Is(err, domain.ErrInvalidWindow),
		errors.Is(err, domain.ErrCycleDetected),
		errors.Is(err, domain.ErrThreadMismatch):
		return http.StatusUnprocessableEntity
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	status := statusOf(err)
	if status == http.StatusInternalServerError {
		h.logger.Error("request failed", zap.Error(err))
		http.Error(w, "internal server error", status)
		return
	}
	http.Error(w, err.Error(), status)
}
