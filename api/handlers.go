/*
handlers.go - HTTP API handlers for the repayment engine

PURPOSE:
  Exposes the loan write service via REST API. Handles HTTP
  request/response, JSON serialization, and delegates to domain logic.

ENDPOINTS:
  Loans:
    GET    /api/loans                    List loans
    POST   /api/loans                    Create loan with schedule + charges
    GET    /api/loans/{id}               Loan, schedule and balances
    GET    /api/loans/{id}/transactions  Transaction history

  Transactions:
    POST   /api/loans/{id}/repayments       Apply repayment
    POST   /api/loans/{id}/waivers          Waive outstanding interest
    POST   /api/loans/{id}/charge-payments  Settle a single charge
    POST   /api/loans/{id}/recoveries       Post-write-off recovery
    POST   /api/loans/{id}/write-offs       Close out the outstanding balance
    POST   /api/loans/{id}/transactions/{txID}/reverse

  Strategies:
    GET    /api/strategies               List registered strategies

REQUEST FLOW:
  1. Parse HTTP request
  2. Validate input
  3. Call domain logic (loan.Service)
  4. Serialize response
  5. Handle errors

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, invalid input
  - 404: Loan/transaction/charge not found
  - 409: Conflict (duplicate loan, already reversed)
  - 422: Data integrity failures (charge aggregate divergence)
  - 500: Internal errors

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/warp/repayment-engine/engine"
	"github.com/warp/repayment-engine/factory"
	"github.com/warp/repayment-engine/loan"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Service  *loan.Service
	Registry *factory.Registry
}

// NewHandler creates a new handler around the write service.
func NewHandler(service *loan.Service, registry *factory.Registry) *Handler {
	return &Handler{Service: service, Registry: registry}
}

// =============================================================================
// LOAN HANDLERS
// =============================================================================

// ListLoans returns summaries of all loans.
func (h *Handler) ListLoans(w http.ResponseWriter, r *http.Request) {
	loans, err := h.Service.ListLoans(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}

	dtos := make([]LoanSummaryDTO, len(loans))
	for i, l := range loans {
		dtos[i] = LoanSummaryDTO{
			ID:               l.ID,
			ExternalRef:      l.ExternalRef,
			CurrencyCode:     l.Currency.Code,
			StrategyCode:     l.StrategyCode,
			Status:           string(l.Status),
			TotalOutstanding: l.TotalOutstanding().Value.String(),
		}
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateLoan opens a loan with its schedule and charges.
func (h *Handler) CreateLoan(w http.ResponseWriter, r *http.Request) {
	var req CreateLoanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	disbursedOn, err := engine.ParseDate(req.DisbursedOn)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid disbursed_on (use YYYY-MM-DD)", err)
		return
	}

	in := loan.CreateLoanInput{
		ExternalRef:  req.ExternalRef,
		CurrencyCode: req.CurrencyCode,
		Scale:        req.Scale,
		DisbursedOn:  disbursedOn,
		StrategyCode: req.StrategyCode,
	}

	for _, ii := range req.Installments {
		from, err := engine.ParseDate(ii.FromDate)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid installment from_date", err)
			return
		}
		due, err := engine.ParseDate(ii.DueDate)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid installment due_date", err)
			return
		}
		principal, err := parseAmount(ii.Principal)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid installment principal", err)
			return
		}
		interest, err := parseAmount(ii.Interest)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid installment interest", err)
			return
		}
		fee, err := parseAmount(ii.Fee)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid installment fee", err)
			return
		}
		penalty, err := parseAmount(ii.Penalty)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid installment penalty", err)
			return
		}
		in.Installments = append(in.Installments, loan.InstallmentInput{
			Number:    ii.Number,
			FromDate:  from,
			DueDate:   due,
			Principal: principal,
			Interest:  interest,
			Fee:       fee,
			Penalty:   penalty,
		})
	}

	for _, ci := range req.Charges {
		due, err := engine.ParseDate(ci.DueDate)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid charge due_date", err)
			return
		}
		amount, err := parseAmount(ci.Amount)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid charge amount", err)
			return
		}
		in.Charges = append(in.Charges, loan.ChargeInput{
			Name:    ci.Name,
			Penalty: ci.Penalty,
			DueDate: due,
			Amount:  amount,
		})
	}

	l, err := h.Service.CreateLoan(r.Context(), in)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toLoanDTO(l))
}

// GetLoan returns one loan with its schedule and balances.
func (h *Handler) GetLoan(w http.ResponseWriter, r *http.Request) {
	l, err := h.Service.GetLoan(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toLoanDTO(l))
}

// GetTransactions returns the loan's transaction history.
func (h *Handler) GetTransactions(w http.ResponseWriter, r *http.Request) {
	l, err := h.Service.GetLoan(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toTransactionDTOs(l.Transactions))
}

// =============================================================================
// TRANSACTION HANDLERS
// =============================================================================

type applyFunc func(loanID string, amount decimal.Decimal, date engine.Date) (*engine.Transaction, *engine.Result, error)

func (h *Handler) handlePayment(w http.ResponseWriter, r *http.Request, apply applyFunc) {
	loanID := chi.URLParam(r, "id")

	var req PaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil || !amount.IsPositive() {
		writeError(w, http.StatusBadRequest, "Amount must be a positive decimal string", err)
		return
	}
	date, err := engine.ParseDate(req.Date)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid date (use YYYY-MM-DD)", err)
		return
	}

	tx, _, err := apply(loanID, amount, date)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toTransactionDTO(tx))
}

// ApplyRepayment allocates a repayment across the schedule.
func (h *Handler) ApplyRepayment(w http.ResponseWriter, r *http.Request) {
	h.handlePayment(w, r, func(loanID string, amount decimal.Decimal, date engine.Date) (*engine.Transaction, *engine.Result, error) {
		return h.Service.ApplyRepayment(r.Context(), loanID, amount, date)
	})
}

// ApplyWaiver waives outstanding interest.
func (h *Handler) ApplyWaiver(w http.ResponseWriter, r *http.Request) {
	h.handlePayment(w, r, func(loanID string, amount decimal.Decimal, date engine.Date) (*engine.Transaction, *engine.Result, error) {
		return h.Service.ApplyWaiver(r.Context(), loanID, amount, date)
	})
}

// ApplyRecovery allocates a post-write-off recovery.
func (h *Handler) ApplyRecovery(w http.ResponseWriter, r *http.Request) {
	h.handlePayment(w, r, func(loanID string, amount decimal.Decimal, date engine.Date) (*engine.Transaction, *engine.Result, error) {
		return h.Service.ApplyRecovery(r.Context(), loanID, amount, date)
	})
}

// ApplyChargePayment settles a single charge.
func (h *Handler) ApplyChargePayment(w http.ResponseWriter, r *http.Request) {
	loanID := chi.URLParam(r, "id")

	var req ChargePaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.ChargeID == "" {
		writeError(w, http.StatusBadRequest, "charge_id is required", nil)
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil || !amount.IsPositive() {
		writeError(w, http.StatusBadRequest, "Amount must be a positive decimal string", err)
		return
	}
	date, err := engine.ParseDate(req.Date)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid date (use YYYY-MM-DD)", err)
		return
	}

	tx, _, err := h.Service.ApplyChargePayment(r.Context(), loanID, req.ChargeID, amount, date)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toTransactionDTO(tx))
}

// ApplyWriteOff closes out every outstanding component.
func (h *Handler) ApplyWriteOff(w http.ResponseWriter, r *http.Request) {
	loanID := chi.URLParam(r, "id")

	var req WriteOffRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	date, err := engine.ParseDate(req.Date)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid date (use YYYY-MM-DD)", err)
		return
	}

	tx, _, err := h.Service.ApplyWriteOff(r.Context(), loanID, date)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toTransactionDTO(tx))
}

// ReverseTransaction undoes a transaction's allocations.
func (h *Handler) ReverseTransaction(w http.ResponseWriter, r *http.Request) {
	loanID := chi.URLParam(r, "id")
	txID := chi.URLParam(r, "txID")

	tx, err := h.Service.ReverseTransaction(r.Context(), loanID, txID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toTransactionDTO(tx))
}

// =============================================================================
// STRATEGY HANDLERS
// =============================================================================

// ListStrategies returns all registered allocation strategies.
func (h *Handler) ListStrategies(w http.ResponseWriter, r *http.Request) {
	strategies := h.Registry.List()
	dtos := make([]StrategyDTO, len(strategies))
	for i, s := range strategies {
		j := factory.ToJSON(s)
		dtos[i] = StrategyDTO{
			Code:           j.Code,
			Name:           j.Name,
			DueOrder:       j.DueOrder,
			InAdvanceOrder: j.InAdvanceOrder,
		}
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// RESPONSE HELPERS
// =============================================================================

func parseAmount(s string) (decimal.Decimal, error) {
	return decimal.NewFromString(s)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeDomainError maps domain errors to HTTP statuses.
func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case loan.IsNotFound(err) || errors.Is(err, engine.ErrChargeNotFound):
		writeError(w, http.StatusNotFound, "Not found", err)
	case errors.Is(err, loan.ErrDuplicateLoan) || errors.Is(err, engine.ErrTransactionReversed):
		writeError(w, http.StatusConflict, "Conflict", err)
	case engine.IsIntegrityError(err):
		writeError(w, http.StatusUnprocessableEntity, "Loan data integrity failure", err)
	case engine.IsClientError(err):
		writeError(w, http.StatusBadRequest, "Invalid request", err)
	default:
		writeError(w, http.StatusInternalServerError, "Internal error", err)
	}
}
