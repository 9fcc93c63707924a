package invoices

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/tradebooks/tradebooks/internal/platform/httpx"
	"github.com/tradebooks/tradebooks/internal/shared"
)

// Handler manages invoice endpoints.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service, validate *validator.Validate) *Handler {
	return &Handler{logger: logger, service: service, validate: validate}
}

// MountRoutes registers invoice routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.listInvoices)
	r.Post("/", h.createInvoice)
	r.Get("/next-number", h.previewNumber)
	r.Get("/{id}", h.showInvoice)
	r.Put("/{id}", h.updateInvoice)
	r.Delete("/{id}", h.deleteInvoice)
	r.Post("/{id}/send", h.sendInvoice)
	r.Post("/{id}/record-payment", h.recordPayment)
	r.Post("/{id}/cancel", h.cancelInvoice)
}

func (h *Handler) actor(w http.ResponseWriter, r *http.Request) (shared.Actor, bool) {
	actor, ok := shared.ActorFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "missing actor identity")
		return shared.Actor{}, false
	}
	return actor, true
}

func (h *Handler) invoiceID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid invoice id")
		return 0, false
	}
	return id, true
}

func (h *Handler) listInvoices(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}

	req := ListRequest{BusinessID: actor.BusinessID}
	if v := r.URL.Query().Get("status"); v != "" {
		status := Status(v)
		req.Status = &status
	}
	if v := r.URL.Query().Get("client_id"); v != "" {
		if clientID, err := strconv.ParseInt(v, 10, 64); err == nil {
			req.ClientID = &clientID
		}
	}
	if v := r.URL.Query().Get("limit"); v != "" {
		req.Limit, _ = strconv.Atoi(v)
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		req.Offset, _ = strconv.Atoi(v)
	}

	list, total, err := h.service.List(r.Context(), req)
	if err != nil {
		h.logger.Error("list invoices", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}

	httpx.JSON(w, http.StatusOK, map[string]any{
		"invoices": list,
		"total":    total,
	})
}

func (h *Handler) createInvoice(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}

	var req CreateInvoiceRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusUnprocessableEntity, "Validation Failed", err.Error())
		return
	}

	inv, err := h.service.Create(r.Context(), actor.BusinessID, req.ClientID, toItems(req.Items), req.Pricing.toConfig(), req.Notes, req.DueDate)
	if err != nil {
		h.logger.Error("create invoice", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}

	httpx.JSON(w, http.StatusCreated, inv)
}

func (h *Handler) showInvoice(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.actor(w, r); !ok {
		return
	}
	id, ok := h.invoiceID(w, r)
	if !ok {
		return
	}

	detail, err := h.service.Detail(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}

	httpx.JSON(w, http.StatusOK, detail)
}

func (h *Handler) updateInvoice(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.actor(w, r); !ok {
		return
	}
	id, ok := h.invoiceID(w, r)
	if !ok {
		return
	}

	var req UpdateInvoiceRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusUnprocessableEntity, "Validation Failed", err.Error())
		return
	}

	var items []Item
	if req.Items != nil {
		items = toItems(*req.Items)
	}
	upd := HeaderUpdate{
		ClientID: req.ClientID,
		Notes:    req.Notes,
		DueDate:  req.DueDate,
	}
	if req.Pricing != nil {
		cfg := req.Pricing.toConfig()
		upd.Pricing = &cfg
	}

	inv, err := h.service.Update(r.Context(), id, items, upd)
	if err != nil {
		h.logger.Error("update invoice", slog.Any("error", err), slog.Int64("id", id))
		httpx.RespondError(w, err)
		return
	}

	httpx.JSON(w, http.StatusOK, inv)
}

func (h *Handler) deleteInvoice(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.actor(w, r); !ok {
		return
	}
	id, ok := h.invoiceID(w, r)
	if !ok {
		return
	}

	if err := h.service.Delete(r.Context(), id); err != nil {
		httpx.RespondError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) sendInvoice(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.actor(w, r); !ok {
		return
	}
	id, ok := h.invoiceID(w, r)
	if !ok {
		return
	}

	inv, err := h.service.Send(r.Context(), id)
	if err != nil {
		h.logger.Error("send invoice", slog.Any("error", err), slog.Int64("id", id))
		httpx.RespondError(w, err)
		return
	}

	httpx.JSON(w, http.StatusOK, inv)
}

func (h *Handler) recordPayment(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.actor(w, r); !ok {
		return
	}
	id, ok := h.invoiceID(w, r)
	if !ok {
		return
	}

	var req RecordPaymentRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusUnprocessableEntity, "Validation Failed", err.Error())
		return
	}

	inv, err := h.service.RecordPayment(r.Context(), id, req.Amount, req.Method, req.Reference)
	if err != nil {
		h.logger.Error("record payment", slog.Any("error", err), slog.Int64("id", id))
		httpx.RespondError(w, err)
		return
	}

	httpx.JSON(w, http.StatusOK, inv)
}

func (h *Handler) cancelInvoice(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.actor(w, r); !ok {
		return
	}
	id, ok := h.invoiceID(w, r)
	if !ok {
		return
	}

	inv, err := h.service.Cancel(r.Context(), id)
	if err != nil {
		h.logger.Error("cancel invoice", slog.Any("error", err), slog.Int64("id", id))
		httpx.RespondError(w, err)
		return
	}

	httpx.JSON(w, http.StatusOK, inv)
}

func (h *Handler) previewNumber(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}

	number, err := h.service.PeekNumber(r.Context(), actor.BusinessID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}

	httpx.JSON(w, http.StatusOK, map[string]string{"next_number": number})
}
