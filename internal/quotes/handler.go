package quotes

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/tradebooks/tradebooks/internal/platform/httpx"
	"github.com/tradebooks/tradebooks/internal/shared"
)

// ConvertFunc turns an accepted quote into an invoice. The invoices
// package supplies the implementation; taking it as a function keeps
// the dependency pointing one way.
type ConvertFunc func(ctx context.Context, quoteID int64) (any, error)

// Handler manages quote endpoints.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
	convert  ConvertFunc
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service, validate *validator.Validate, convert ConvertFunc) *Handler {
	return &Handler{logger: logger, service: service, validate: validate, convert: convert}
}

// MountRoutes registers quote routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.listQuotes)
	r.Post("/", h.createQuote)
	r.Get("/summary", h.showSummary)
	r.Get("/next-number", h.previewNumber)
	r.Get("/{id}", h.showQuote)
	r.Put("/{id}", h.updateQuote)
	r.Delete("/{id}", h.deleteQuote)
	r.Post("/{id}/send", h.sendQuote)
	r.Post("/{id}/accept", h.acceptQuote)
	r.Post("/{id}/reject", h.rejectQuote)
	r.Post("/{id}/create-revision", h.createRevision)
	r.Post("/{id}/create-invoice", h.createInvoice)
}

func (h *Handler) actor(w http.ResponseWriter, r *http.Request) (shared.Actor, bool) {
	actor, ok := shared.ActorFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "missing actor identity")
		return shared.Actor{}, false
	}
	return actor, true
}

func (h *Handler) quoteID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid quote id")
		return 0, false
	}
	return id, true
}

func (h *Handler) listQuotes(w http.ResponseWriter, r *http.Request) {
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
		h.logger.Error("list quotes", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}

	httpx.JSON(w, http.StatusOK, map[string]any{
		"quotes": list,
		"total":  total,
	})
}

func (h *Handler) createQuote(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}

	var req CreateQuoteRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusUnprocessableEntity, "Validation Failed", err.Error())
		return
	}

	quote, err := h.service.Create(r.Context(), actor.BusinessID, req.ClientID, toItems(req.Items), req.Pricing.toConfig(), req.Notes, req.ValidUntil)
	if err != nil {
		h.logger.Error("create quote", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}

	httpx.JSON(w, http.StatusCreated, quote)
}

func (h *Handler) showQuote(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.actor(w, r); !ok {
		return
	}
	id, ok := h.quoteID(w, r)
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

func (h *Handler) updateQuote(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.actor(w, r); !ok {
		return
	}
	id, ok := h.quoteID(w, r)
	if !ok {
		return
	}

	var req UpdateQuoteRequest
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
		ClientID:   req.ClientID,
		Notes:      req.Notes,
		ValidUntil: req.ValidUntil,
	}
	if req.Pricing != nil {
		cfg := req.Pricing.toConfig()
		upd.Pricing = &cfg
	}

	quote, err := h.service.Update(r.Context(), id, items, upd)
	if err != nil {
		h.logger.Error("update quote", slog.Any("error", err), slog.Int64("id", id))
		httpx.RespondError(w, err)
		return
	}

	httpx.JSON(w, http.StatusOK, quote)
}

func (h *Handler) deleteQuote(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.actor(w, r); !ok {
		return
	}
	id, ok := h.quoteID(w, r)
	if !ok {
		return
	}

	if err := h.service.Delete(r.Context(), id); err != nil {
		httpx.RespondError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) sendQuote(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.actor(w, r); !ok {
		return
	}
	id, ok := h.quoteID(w, r)
	if !ok {
		return
	}

	quote, err := h.service.Send(r.Context(), id)
	if err != nil {
		h.logger.Error("send quote", slog.Any("error", err), slog.Int64("id", id))
		httpx.RespondError(w, err)
		return
	}

	httpx.JSON(w, http.StatusOK, quote)
}

func (h *Handler) acceptQuote(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.actor(w, r); !ok {
		return
	}
	id, ok := h.quoteID(w, r)
	if !ok {
		return
	}

	var req AcceptQuoteRequest
	if r.ContentLength > 0 {
		if err := httpx.DecodeJSON(r, &req); err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Bad Request", err.Error())
			return
		}
	}

	quote, err := h.service.Accept(r.Context(), id, req.Note)
	if err != nil {
		h.logger.Error("accept quote", slog.Any("error", err), slog.Int64("id", id))
		httpx.RespondError(w, err)
		return
	}

	httpx.JSON(w, http.StatusOK, quote)
}

func (h *Handler) rejectQuote(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.actor(w, r); !ok {
		return
	}
	id, ok := h.quoteID(w, r)
	if !ok {
		return
	}

	var req RejectQuoteRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusUnprocessableEntity, "Validation Failed", err.Error())
		return
	}

	quote, err := h.service.Reject(r.Context(), id, req.Reason)
	if err != nil {
		h.logger.Error("reject quote", slog.Any("error", err), slog.Int64("id", id))
		httpx.RespondError(w, err)
		return
	}

	httpx.JSON(w, http.StatusOK, quote)
}

func (h *Handler) createRevision(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.actor(w, r); !ok {
		return
	}
	id, ok := h.quoteID(w, r)
	if !ok {
		return
	}

	var req CreateRevisionRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusUnprocessableEntity, "Validation Failed", err.Error())
		return
	}

	quote, err := h.service.CreateRevision(r.Context(), id, req.Reason)
	if err != nil {
		h.logger.Error("create revision", slog.Any("error", err), slog.Int64("id", id))
		httpx.RespondError(w, err)
		return
	}

	httpx.JSON(w, http.StatusOK, quote)
}

func (h *Handler) createInvoice(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.actor(w, r); !ok {
		return
	}
	id, ok := h.quoteID(w, r)
	if !ok {
		return
	}
	if h.convert == nil {
		httpx.Problem(w, http.StatusNotImplemented, "Not Implemented", "invoice conversion is not configured")
		return
	}

	invoice, err := h.convert(r.Context(), id)
	if err != nil {
		h.logger.Error("convert quote", slog.Any("error", err), slog.Int64("id", id))
		httpx.RespondError(w, err)
		return
	}

	httpx.JSON(w, http.StatusCreated, invoice)
}

func (h *Handler) showSummary(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}

	summary, err := h.service.Summary(r.Context(), actor.BusinessID)
	if err != nil {
		h.logger.Error("quote summary", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}

	httpx.JSON(w, http.StatusOK, summary)
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
