package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/harborfresh/orderflow/internal/database"
	"github.com/harborfresh/orderflow/internal/models"
	"github.com/harborfresh/orderflow/internal/service"
	"github.com/harborfresh/orderflow/internal/store"
)

type contextKey string

const actorKey contextKey = "actor"

// actorFromHeaders trusts the identity the auth layer in front of this
// service injects. There is no credential verification here.
func actorFromHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, err := strconv.ParseInt(r.Header.Get("X-User-ID"), 10, 64)
		if err != nil {
			respondError(w, http.StatusUnauthorized, "missing or invalid actor identity")
			return
		}
		role := service.Role(r.Header.Get("X-User-Role"))
		if role == "" {
			role = service.RoleCustomer
		}

		ctx := context.WithValue(r.Context(), actorKey, service.Actor{ID: id, Role: role})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func actorFrom(r *http.Request) service.Actor {
	actor, _ := r.Context().Value(actorKey).(service.Actor)
	return actor
}

type handler struct {
	svc *service.OrderService
}

func newHandler(svc *service.OrderService) *handler {
	return &handler{svc: svc}
}

type createOrderRequest struct {
	UserID int64 `json:"user_id,omitempty"`
	Items  []struct {
		ProductID int64 `json:"product_id"`
		Quantity  int   `json:"quantity"`
	} `json:"items"`
	ShippingCost    float64        `json:"shipping_cost"`
	Tax             float64        `json:"tax"`
	Discount        float64        `json:"discount"`
	PaymentMethod   string         `json:"payment_method"`
	ShippingAddress models.Address `json:"shipping_address"`
	Notes           string         `json:"notes"`
}

func (h *handler) createOrder(w http.ResponseWriter, r *http.Request) {
	var req createOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	input := service.CreateOrderInput{
		UserID:          req.UserID,
		ShippingCost:    decimal.NewFromFloat(req.ShippingCost),
		Tax:             decimal.NewFromFloat(req.Tax),
		Discount:        decimal.NewFromFloat(req.Discount),
		PaymentMethod:   req.PaymentMethod,
		ShippingAddress: req.ShippingAddress,
		Notes:           req.Notes,
	}
	for _, item := range req.Items {
		input.Items = append(input.Items, service.ItemInput{
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
		})
	}

	order, err := h.svc.CreateOrder(r.Context(), actorFrom(r), input)
	if err != nil {
		respondDomainError(w, err)
		return
	}

	respondJSON(w, http.StatusCreated, order)
}

func (h *handler) getOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := orderID(w, r)
	if !ok {
		return
	}

	order, err := h.svc.GetOrder(r.Context(), actorFrom(r), id)
	if err != nil {
		respondDomainError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, order)
}

func (h *handler) listOrders(w http.ResponseWriter, r *http.Request) {
	userID, _ := strconv.ParseInt(r.URL.Query().Get("user_id"), 10, 64)
	filter := store.ListFilter{
		Status: models.OrderStatus(r.URL.Query().Get("status")),
	}
	filter.PageSize, _ = strconv.Atoi(r.URL.Query().Get("page_size"))

	page, err := h.svc.ListOrders(r.Context(), actorFrom(r), userID, filter, r.URL.Query().Get("cursor"))
	if err != nil {
		respondDomainError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, page)
}

func (h *handler) listAllOrders(w http.ResponseWriter, r *http.Request) {
	filter := store.ListFilter{
		Status: models.OrderStatus(r.URL.Query().Get("status")),
	}
	filter.PageSize, _ = strconv.Atoi(r.URL.Query().Get("page_size"))
	pageNum, _ := strconv.Atoi(r.URL.Query().Get("page"))

	page, err := h.svc.ListAllOrders(r.Context(), actorFrom(r), filter, pageNum)
	if err != nil {
		respondDomainError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, page)
}

func (h *handler) transitionOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := orderID(w, r)
	if !ok {
		return
	}

	var req struct {
		Status string `json:"status"`
		Note   string `json:"note"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	order, err := h.svc.Transition(r.Context(), actorFrom(r), id, models.OrderStatus(req.Status), req.Note)
	if err != nil {
		respondDomainError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, order)
}

func (h *handler) assignDriver(w http.ResponseWriter, r *http.Request) {
	id, ok := orderID(w, r)
	if !ok {
		return
	}

	var req struct {
		DriverID int64 `json:"driver_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	order, err := h.svc.AssignDriver(r.Context(), actorFrom(r), id, req.DriverID)
	if err != nil {
		respondDomainError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, order)
}

func (h *handler) pushLocation(w http.ResponseWriter, r *http.Request) {
	id, ok := orderID(w, r)
	if !ok {
		return
	}

	var req struct {
		DriverID int64   `json:"driver_id"`
		Lat      float64 `json:"lat"`
		Lng      float64 `json:"lng"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := h.svc.PushDriverLocation(r.Context(), id, req.DriverID, req.Lat, req.Lng); err != nil {
		respondDomainError(w, err)
		return
	}

	w.WriteHeader(http.StatusAccepted)
}

func (h *handler) setDriverAvailability(w http.ResponseWriter, r *http.Request) {
	driverID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid driver ID")
		return
	}

	var req struct {
		Available bool `json:"available"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := h.svc.SetDriverAvailability(r.Context(), actorFrom(r), driverID, req.Available); err != nil {
		respondDomainError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// streamTracking serves the order's live channel as server-sent events.
// The subscription lives exactly as long as the connection.
func (h *handler) streamTracking(w http.ResponseWriter, r *http.Request) {
	id, ok := orderID(w, r)
	if !ok {
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		respondError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	// The server's write timeout would cut the stream mid-subscription;
	// this connection lives until the client hangs up.
	if err := http.NewResponseController(w).SetWriteDeadline(time.Time{}); err != nil {
		slog.Warn("clear tracking stream write deadline", "order_id", id, "error", err)
	}

	client, err := h.svc.Subscribe(r.Context(), actorFrom(r), id)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	defer h.svc.Unsubscribe(client)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-client.Done():
			return
		case event := <-client.Events():
			data, err := json.Marshal(event)
			if err != nil {
				slog.Error("marshal tracking event", "error", err)
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.Type, data)
			flusher.Flush()
		}
	}
}

func orderID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid order ID")
		return 0, false
	}
	return id, true
}

// respondDomainError maps the core's error taxonomy onto HTTP without
// reclassifying: invalid requests, missing entities, terminal orders,
// and lost races each keep their own status.
func respondDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, service.ErrInvalidInput):
		respondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, service.ErrForbidden):
		respondError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, database.ErrOrderNotFound),
		errors.Is(err, database.ErrDriverNotFound),
		errors.Is(err, database.ErrProductNotFound):
		respondError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, database.ErrInvalidTransition),
		errors.Is(err, database.ErrDriverUnavailable):
		respondError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, database.ErrOrderTerminal),
		errors.Is(err, database.ErrConflict):
		respondError(w, http.StatusConflict, err.Error())
	default:
		slog.Error("internal error", "error", err)
		respondError(w, http.StatusInternalServerError, "internal error")
	}
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("encode JSON response", "error", err)
	}
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}
