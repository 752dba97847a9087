/*
reversal.go - Undoing a transaction's allocations

PURPOSE:
  Reversal replays a transaction's component mappings in reverse order,
  subtracting every applied slice back out of its installment bucket
  and, for slices routed through a charge, restoring the charge's
  outstanding balance. After reversal the transaction's component totals
  are zero and every touched installment and charge is back in its
  pre-allocation state exactly.

  The loan-level consequences (arrears recalculation, overpaid balance)
  belong to the write path, not here.
*/
package engine

import "fmt"

// Reverse undoes every allocation recorded on the transaction. Returns
// ErrTransactionReversed if it was already reversed. Idempotent in
// effect: allocate-then-reverse restores the exact prior state.
func Reverse(tx *Transaction, installments []*Installment, charges []*Charge) error {
	if tx.Reversed {
		return ErrTransactionReversed
	}

	byNumber := make(map[int]*Installment, len(installments))
	for _, inst := range installments {
		byNumber[inst.Number] = inst
	}
	byChargeID := make(map[string]*Charge, len(charges))
	for _, c := range charges {
		byChargeID[c.ID] = c
	}

	for i := len(tx.Mappings) - 1; i >= 0; i-- {
		m := tx.Mappings[i]
		inst, ok := byNumber[m.InstallmentNumber]
		if !ok {
			return fmt.Errorf("reversal of %s: installment %d missing", tx.ID, m.InstallmentNumber)
		}

		switch m.Kind {
		case MappingPaid:
			inst.UnpayComponent(m.Bucket, m.Amount)
			if m.ChargeID != "" {
				c, ok := byChargeID[m.ChargeID]
				if !ok {
					return fmt.Errorf("reversal of %s: charge %s: %w", tx.ID, m.ChargeID, ErrChargeNotFound)
				}
				c.UndoPayment(m.Amount)
			}
		case MappingWaived:
			inst.UnwaiveComponent(m.Bucket, m.Amount)
		case MappingWrittenOff:
			inst.UnwriteOffComponent(m.Bucket, m.Amount)
		}
	}

	tx.resetComponents()
	tx.Reversed = true
	return nil
}
