// internal/circulation/handler.go
package circulation

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"lendingcore/internal/events"
	"lendingcore/internal/httpx"
)

// HistoryReader returns the recorded events of one aggregate.
type HistoryReader interface {
	History(ctx context.Context, aggregateID uuid.UUID) ([]events.Envelope, error)
}

type Handler struct {
	service Service
	history HistoryReader
	log     *zap.Logger
}

func NewHandler(service Service, log *zap.Logger) *Handler {
	return &Handler{service: service, log: log}
}

// WithHistory exposes GET /loans/{id}/history.
func (h *Handler) WithHistory(r HistoryReader) *Handler {
	h.history = r
	return h
}

// Register mounts the circulation routes on r.
func (h *Handler) Register(r chi.Router) {
	r.Route("/loans", func(r chi.Router) {
		r.Post("/checkout", h.HandleCheckout)
		r.Get("/open", h.HandleListOpen)
		r.Get("/overdue", h.HandleListOverdue)
		r.Get("/borrower/{borrowerID}", h.HandleListByBorrower)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", h.HandleGet)
			r.Post("/return", h.HandleReturn)
			r.Post("/overdue", h.HandleMarkOverdue)
			r.Post("/fine", h.HandleCalculateFine)
			if h.history != nil {
				r.Get("/history", h.HandleHistory)
			}
		})
	})
}

func (h *Handler) HandleCheckout(w http.ResponseWriter, r *http.Request) {
	var req struct {
		BorrowerID uuid.UUID `json:"borrower_id"`
		CopyID     uuid.UUID `json:"copy_id"`
		LoanDays   *int      `json:"loan_days"`
	}
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, h.log, err)
		return
	}
	var opts []CheckoutOption
	if req.LoanDays != nil {
		opts = append(opts, WithLoanDays(*req.LoanDays))
	}
	in, err := NewCheckoutRequest(req.BorrowerID, req.CopyID, opts...)
	if err != nil {
		httpx.WriteError(w, h.log, err)
		return
	}

	id, err := h.service.Checkout(r.Context(), in)
	if err != nil {
		httpx.WriteError(w, h.log, err)
		return
	}
	loan, err := h.service.GetLoan(r.Context(), id)
	if err != nil {
		httpx.WriteError(w, h.log, err)
		return
	}
	w.Header().Set("Location", "/loans/"+id.String())
	httpx.WriteJSON(w, http.StatusCreated, loan)
}

func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	h.withLoanID(w, r, func(id uuid.UUID) (any, error) {
		return h.service.GetLoan(r.Context(), id)
	})
}

func (h *Handler) HandleReturn(w http.ResponseWriter, r *http.Request) {
	h.withLoanID(w, r, func(id uuid.UUID) (any, error) {
		return h.service.ReturnLoan(r.Context(), id)
	})
}

func (h *Handler) HandleMarkOverdue(w http.ResponseWriter, r *http.Request) {
	h.withLoanID(w, r, func(id uuid.UUID) (any, error) {
		return h.service.MarkOverdue(r.Context(), id)
	})
}

type fineResponse struct {
	LoanID   uuid.UUID `json:"loan_id"`
	Amount   string    `json:"amount"`
	Currency string    `json:"currency"`
	IsZero   bool      `json:"is_zero"`
}

func (h *Handler) HandleCalculateFine(w http.ResponseWriter, r *http.Request) {
	h.withLoanID(w, r, func(id uuid.UUID) (any, error) {
		fine, err := h.service.CalculateFine(r.Context(), id)
		if err != nil {
			return nil, err
		}
		return fineResponse{
			LoanID:   id,
			Amount:   fine.Amount().StringFixed(2),
			Currency: fine.Currency(),
			IsZero:   fine.IsZero(),
		}, nil
	})
}

func (h *Handler) HandleHistory(w http.ResponseWriter, r *http.Request) {
	h.withLoanID(w, r, func(id uuid.UUID) (any, error) {
		if _, err := h.service.GetLoan(r.Context(), id); err != nil {
			return nil, err
		}
		history, err := h.history.History(r.Context(), id)
		if err != nil {
			return nil, err
		}
		if history == nil {
			history = []events.Envelope{}
		}
		return history, nil
	})
}

func (h *Handler) HandleListByBorrower(w http.ResponseWriter, r *http.Request) {
	borrowerID, err := httpx.IDParam(r, "borrowerID")
	if err != nil {
		httpx.WriteError(w, h.log, err)
		return
	}
	loans, err := h.service.ListLoansByBorrower(r.Context(), borrowerID)
	h.writeList(w, loans, err)
}

func (h *Handler) HandleListOpen(w http.ResponseWriter, r *http.Request) {
	loans, err := h.service.ListOpenLoans(r.Context())
	h.writeList(w, loans, err)
}

func (h *Handler) HandleListOverdue(w http.ResponseWriter, r *http.Request) {
	loans, err := h.service.ListOverdueLoans(r.Context())
	if err != nil {
		httpx.WriteError(w, h.log, err)
		return
	}
	if loans == nil {
		loans = []OverdueLoan{}
	}
	httpx.WriteJSON(w, http.StatusOK, loans)
}

func (h *Handler) withLoanID(w http.ResponseWriter, r *http.Request, fn func(uuid.UUID) (any, error)) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.WriteError(w, h.log, err)
		return
	}
	out, err := fn(id)
	if err != nil {
		httpx.WriteError(w, h.log, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, out)
}

func (h *Handler) writeList(w http.ResponseWriter, loans []*Loan, err error) {
	if err != nil {
		httpx.WriteError(w, h.log, err)
		return
	}
	if loans == nil {
		loans = []*Loan{}
	}
	httpx.WriteJSON(w, http.StatusOK, loans)
}
