/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external API contract, allowing:
  - Field renaming without breaking clients
  - API-specific validation
  - Version evolution

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

MONEY ENCODING:
  Monetary values travel as decimal strings ("1250.00"), never floats.
  Clients must round-trip them through a decimal library.

VALIDATION:
  Validation is done in handlers, not in DTOs. DTOs are pure data carriers.

SEE ALSO:
  - handlers.go: Uses these types
  - factory/strategy.go: StrategyJSON type
*/
package api

import (
	"time"

	"github.com/warp/repayment-engine/engine"
	"github.com/warp/repayment-engine/loan"
)

// =============================================================================
// REQUEST TYPES
// =============================================================================

// CreateLoanRequest is the request to open a loan with its schedule.
type CreateLoanRequest struct {
	ExternalRef  string                 `json:"external_ref,omitempty"`
	CurrencyCode string                 `json:"currency_code"`
	Scale        int32                  `json:"scale"`
	DisbursedOn  string                 `json:"disbursed_on"`
	StrategyCode string                 `json:"strategy_code"`
	Installments []InstallmentInputDTO  `json:"installments"`
	Charges      []ChargeInputDTO       `json:"charges,omitempty"`
}

// InstallmentInputDTO is one schedule period in a create request.
type InstallmentInputDTO struct {
	Number    int    `json:"number"`
	FromDate  string `json:"from_date"`
	DueDate   string `json:"due_date"`
	Principal string `json:"principal"`
	Interest  string `json:"interest"`
	Fee       string `json:"fee"`
	Penalty   string `json:"penalty"`
}

// ChargeInputDTO is one fee/penalty in a create request.
type ChargeInputDTO struct {
	Name    string `json:"name"`
	Penalty bool   `json:"penalty"`
	DueDate string `json:"due_date"`
	Amount  string `json:"amount"`
}

// PaymentRequest covers repayments, waivers and recoveries.
type PaymentRequest struct {
	Amount string `json:"amount"`
	Date   string `json:"date"`
}

// ChargePaymentRequest settles one named charge.
type ChargePaymentRequest struct {
	ChargeID string `json:"charge_id"`
	Amount   string `json:"amount"`
	Date     string `json:"date"`
}

// WriteOffRequest closes out the outstanding balance.
type WriteOffRequest struct {
	Date string `json:"date"`
}

// =============================================================================
// RESPONSE TYPES
// =============================================================================

// LoanDTO is the full loan view: account state, schedule and charges.
type LoanDTO struct {
	ID               string           `json:"id"`
	ExternalRef      string           `json:"external_ref,omitempty"`
	CurrencyCode     string           `json:"currency_code"`
	Scale            int32            `json:"scale"`
	DisbursedOn      string           `json:"disbursed_on"`
	StrategyCode     string           `json:"strategy_code"`
	Status           string           `json:"status"`
	Overpaid         string           `json:"overpaid"`
	TotalOutstanding string           `json:"total_outstanding"`
	Installments     []InstallmentDTO `json:"installments"`
	Charges          []ChargeDTO      `json:"charges"`
	CreatedAt        string           `json:"created_at"`
	UpdatedAt        string           `json:"updated_at"`
}

// LoanSummaryDTO is the list view.
type LoanSummaryDTO struct {
	ID               string `json:"id"`
	ExternalRef      string `json:"external_ref,omitempty"`
	CurrencyCode     string `json:"currency_code"`
	StrategyCode     string `json:"strategy_code"`
	Status           string `json:"status"`
	TotalOutstanding string `json:"total_outstanding"`
}

// InstallmentDTO is one schedule period with its per-bucket state.
type InstallmentDTO struct {
	Number           int           `json:"number"`
	FromDate         string        `json:"from_date"`
	DueDate          string        `json:"due_date"`
	Principal        ObligationDTO `json:"principal"`
	Interest         ObligationDTO `json:"interest"`
	Fee              ObligationDTO `json:"fee"`
	Penalty          ObligationDTO `json:"penalty"`
	TotalOutstanding string        `json:"total_outstanding"`
	ObligationsMetOn *string       `json:"obligations_met_on,omitempty"`
}

// ObligationDTO is one bucket of one period.
type ObligationDTO struct {
	Due         string `json:"due"`
	Paid        string `json:"paid"`
	Waived      string `json:"waived"`
	WrittenOff  string `json:"written_off"`
	Outstanding string `json:"outstanding"`
}

// ChargeDTO is one fee/penalty record.
type ChargeDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Penalty     bool   `json:"penalty"`
	DueDate     string `json:"due_date"`
	Amount      string `json:"amount"`
	Paid        string `json:"paid"`
	Waived      string `json:"waived"`
	Outstanding string `json:"outstanding"`
	Active      bool   `json:"active"`
}

// TransactionDTO is one applied transaction with its component totals.
type TransactionDTO struct {
	ID          string `json:"id"`
	Type        string `json:"type"`
	Amount      string `json:"amount"`
	Date        string `json:"date"`
	Principal   string `json:"principal"`
	Interest    string `json:"interest"`
	Fee         string `json:"fee"`
	Penalty     string `json:"penalty"`
	Overpayment string `json:"overpayment"`
	Reversed    bool   `json:"reversed"`
	CreatedAt   string `json:"created_at,omitempty"`
}

// StrategyDTO describes one registered allocation strategy.
type StrategyDTO struct {
	Code           string   `json:"code"`
	Name           string   `json:"name"`
	DueOrder       []string `json:"due_order"`
	InAdvanceOrder []string `json:"in_advance_order"`
}

// ErrorResponse is the standard error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details any    `json:"details,omitempty"`
}

// =============================================================================
// CONVERSION HELPERS
// =============================================================================

func toLoanDTO(l *loan.Loan) LoanDTO {
	dto := LoanDTO{
		ID:               l.ID,
		ExternalRef:      l.ExternalRef,
		CurrencyCode:     l.Currency.Code,
		Scale:            l.Currency.Scale,
		DisbursedOn:      l.DisbursedOn.String(),
		StrategyCode:     l.StrategyCode,
		Status:           string(l.Status),
		Overpaid:         l.Overpaid.Value.String(),
		TotalOutstanding: l.TotalOutstanding().Value.String(),
		Installments:     make([]InstallmentDTO, 0, len(l.Installments)),
		Charges:          make([]ChargeDTO, 0, len(l.Charges)),
		CreatedAt:        l.CreatedAt.Format(time.RFC3339),
		UpdatedAt:        l.UpdatedAt.Format(time.RFC3339),
	}
	for _, inst := range l.Installments {
		dto.Installments = append(dto.Installments, toInstallmentDTO(inst))
	}
	for _, c := range l.Charges {
		dto.Charges = append(dto.Charges, toChargeDTO(c))
	}
	return dto
}

func toInstallmentDTO(inst *engine.Installment) InstallmentDTO {
	dto := InstallmentDTO{
		Number:           inst.Number,
		FromDate:         inst.FromDate.String(),
		DueDate:          inst.DueDate.String(),
		Principal:        toObligationDTO(inst.Obligations[engine.BucketPrincipal]),
		Interest:         toObligationDTO(inst.Obligations[engine.BucketInterest]),
		Fee:              toObligationDTO(inst.Obligations[engine.BucketFee]),
		Penalty:          toObligationDTO(inst.Obligations[engine.BucketPenalty]),
		TotalOutstanding: inst.TotalOutstanding().Value.String(),
	}
	if inst.ObligationsMetOn != nil {
		s := inst.ObligationsMetOn.String()
		dto.ObligationsMetOn = &s
	}
	return dto
}

func toObligationDTO(o engine.Obligation) ObligationDTO {
	return ObligationDTO{
		Due:         o.Due.Value.String(),
		Paid:        o.Paid.Value.String(),
		Waived:      o.Waived.Value.String(),
		WrittenOff:  o.WrittenOff.Value.String(),
		Outstanding: o.Outstanding().Value.String(),
	}
}

func toChargeDTO(c *engine.Charge) ChargeDTO {
	return ChargeDTO{
		ID:          c.ID,
		Name:        c.Name,
		Penalty:     c.Penalty,
		DueDate:     c.DueDate.String(),
		Amount:      c.Amount.Value.String(),
		Paid:        c.Paid.Value.String(),
		Waived:      c.Waived.Value.String(),
		Outstanding: c.Outstanding().Value.String(),
		Active:      c.Active,
	}
}

func toTransactionDTO(tx *engine.Transaction) TransactionDTO {
	dto := TransactionDTO{
		ID:          tx.ID,
		Type:        tx.Type.String(),
		Amount:      tx.Amount.Value.String(),
		Date:        tx.Date.String(),
		Principal:   tx.AllocatedPrincipal().Value.String(),
		Interest:    tx.AllocatedInterest().Value.String(),
		Fee:         tx.AllocatedFee().Value.String(),
		Penalty:     tx.AllocatedPenalty().Value.String(),
		Overpayment: tx.Overpayment.Value.String(),
		Reversed:    tx.Reversed,
	}
	if tx.CreatedAt != nil {
		dto.CreatedAt = tx.CreatedAt.Format(time.RFC3339)
	}
	return dto
}

func toTransactionDTOs(txs []*engine.Transaction) []TransactionDTO {
	dtos := make([]TransactionDTO, len(txs))
	for i, tx := range txs {
		dtos[i] = toTransactionDTO(tx)
	}
	return dtos
}
