package engine

// =============================================================================
// TIMING CLASSIFIER
// =============================================================================

// Timing classifies a transaction date against one installment's due date.
type Timing int

const (
	TimingInAdvance Timing = iota
	TimingOnTime
	TimingLate
)

func (t Timing) String() string {
	switch t {
	case TimingInAdvance:
		return "in_advance"
	case TimingOnTime:
		return "on_time"
	case TimingLate:
		return "late"
	default:
		return "unknown"
	}
}

// ClassifyTiming determines whether a transaction is early, on-time, or
// late relative to one installment. Recomputed per installment as the
// engine walks the schedule: the same transaction can be in advance of a
// later installment while being late against an earlier one.
func ClassifyTiming(inst *Installment, txDate Date) Timing {
	switch {
	case txDate.Equal(inst.DueDate):
		return TimingOnTime
	case txDate.Before(inst.DueDate):
		return TimingInAdvance
	default:
		return TimingLate
	}
}
