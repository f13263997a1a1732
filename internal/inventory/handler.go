// internal/inventory/handler.go
package inventory

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"lendingcore/internal/httpx"
)

type Handler struct {
	service Service
	log     *zap.Logger
}

func NewHandler(service Service, log *zap.Logger) *Handler {
	return &Handler{service: service, log: log}
}

// Register mounts the inventory routes on r.
func (h *Handler) Register(r chi.Router) {
	r.Route("/copies", func(r chi.Router) {
		r.Post("/", h.HandleAcquire)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", h.HandleGet)
			r.Delete("/", h.HandleRemove)
			r.Put("/status", h.HandleChangeStatus)
			r.Put("/location", h.HandleRelocate)
			r.Delete("/location", h.HandleClearLocation)
			r.Get("/exists", h.HandleExists)
			r.Get("/available", h.HandleAvailable)
			r.Post("/mark-loaned", h.HandleMarkLoaned)
			r.Post("/mark-returned", h.HandleMarkReturned)
		})
	})
	r.Get("/items/{itemID}/copies", h.HandleListByItem)
	r.Get("/items/{itemID}/availability", h.HandleAvailability)
}

type copyResponse struct {
	*Copy
	StatusDescription string `json:"status_description"`
	Location          string `json:"location,omitempty"`
}

func present(c *Copy) copyResponse {
	resp := copyResponse{Copy: c, StatusDescription: c.Status.Description()}
	if c.ShelfLocation != nil {
		resp.Location = c.ShelfLocation.String()
	}
	return resp
}

func (h *Handler) HandleAcquire(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ItemID        uuid.UUID  `json:"item_id"`
		Barcode       string     `json:"barcode"`
		ShelfLocation string     `json:"shelf_location"`
		AcquiredAt    *time.Time `json:"acquired_at"`
	}
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, h.log, err)
		return
	}

	in := AcquireCopyRequest{ItemID: req.ItemID, Barcode: req.Barcode, ShelfLocation: req.ShelfLocation}
	if req.AcquiredAt != nil {
		in.AcquiredAt = *req.AcquiredAt
	}
	c, err := h.service.AcquireCopy(r.Context(), in)
	if err != nil {
		httpx.WriteError(w, h.log, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, present(c))
}

func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.WriteError(w, h.log, err)
		return
	}
	c, err := h.service.GetCopy(r.Context(), id)
	if err != nil {
		httpx.WriteError(w, h.log, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, present(c))
}

func (h *Handler) HandleListByItem(w http.ResponseWriter, r *http.Request) {
	itemID, err := httpx.IDParam(r, "itemID")
	if err != nil {
		httpx.WriteError(w, h.log, err)
		return
	}
	availableOnly, _ := strconv.ParseBool(r.URL.Query().Get("available"))

	copies, err := h.service.ListCopiesByItem(r.Context(), itemID, availableOnly)
	if err != nil {
		httpx.WriteError(w, h.log, err)
		return
	}
	out := make([]copyResponse, 0, len(copies))
	for _, c := range copies {
		out = append(out, present(c))
	}
	httpx.WriteJSON(w, http.StatusOK, out)
}

func (h *Handler) HandleAvailability(w http.ResponseWriter, r *http.Request) {
	itemID, err := httpx.IDParam(r, "itemID")
	if err != nil {
		httpx.WriteError(w, h.log, err)
		return
	}
	a, err := h.service.Availability(r.Context(), itemID)
	if err != nil {
		httpx.WriteError(w, h.log, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, a)
}

func (h *Handler) HandleChangeStatus(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.WriteError(w, h.log, err)
		return
	}
	var req struct {
		Status string `json:"status"`
		Reason string `json:"reason"`
	}
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, h.log, err)
		return
	}
	target, err := ParseCopyStatus(req.Status)
	if err != nil {
		httpx.WriteError(w, h.log, err)
		return
	}
	if err := h.service.ChangeCopyStatus(r.Context(), id, target, req.Reason); err != nil {
		httpx.WriteError(w, h.log, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) HandleRelocate(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.WriteError(w, h.log, err)
		return
	}
	var req struct {
		Location string `json:"location"`
	}
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, h.log, err)
		return
	}
	loc, err := ParseShelfLocation(req.Location)
	if err != nil {
		httpx.WriteError(w, h.log, err)
		return
	}
	if err := h.service.RelocateCopy(r.Context(), id, &loc); err != nil {
		httpx.WriteError(w, h.log, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) HandleClearLocation(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.WriteError(w, h.log, err)
		return
	}
	if err := h.service.RelocateCopy(r.Context(), id, nil); err != nil {
		httpx.WriteError(w, h.log, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) HandleRemove(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.WriteError(w, h.log, err)
		return
	}
	if err := h.service.RemoveCopy(r.Context(), id, r.URL.Query().Get("reason")); err != nil {
		httpx.WriteError(w, h.log, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) HandleExists(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.WriteError(w, h.log, err)
		return
	}
	_, err = h.service.GetCopy(r.Context(), id)
	switch {
	case err == nil:
		httpx.WriteJSON(w, http.StatusOK, map[string]bool{"exists": true})
	case httpx.StatusFor(err) == http.StatusNotFound:
		httpx.WriteJSON(w, http.StatusOK, map[string]bool{"exists": false})
	default:
		httpx.WriteError(w, h.log, err)
	}
}

// HandleAvailable answers 404 for an unknown copy so callers can tell
// "missing" from "not loanable".
func (h *Handler) HandleAvailable(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.WriteError(w, h.log, err)
		return
	}
	c, err := h.service.GetCopy(r.Context(), id)
	if err != nil {
		httpx.WriteError(w, h.log, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"available": c.IsAvailable(),
		"status":    c.Status,
	})
}

func (h *Handler) HandleMarkLoaned(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.WriteError(w, h.log, err)
		return
	}
	if err := h.service.MarkLoaned(r.Context(), id); err != nil {
		httpx.WriteError(w, h.log, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) HandleMarkReturned(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.WriteError(w, h.log, err)
		return
	}
	if err := h.service.MarkReturned(r.Context(), id); err != nil {
		httpx.WriteError(w, h.log, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
