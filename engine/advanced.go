/*
advanced.go - Rule-based allocation with configurable processing scope

PURPOSE:
  The advanced processor generalizes the legacy strategy pair: instead
  of switching bucket orders on timing, it associates an ordered bucket
  list with each transaction TYPE, and can walk the schedule either
  vertically (one installment fully satisfied before the next) or
  horizontally (one bucket satisfied across every installment before the
  next bucket).

FALLBACK:
  A transaction type with no rule uses the default rule, which every
  configuration must carry.
*/
package engine

import "fmt"

// =============================================================================
// PROCESSING SCOPE
// =============================================================================

// ProcessingScope selects how the advanced processor walks the schedule.
type ProcessingScope int

const (
	// ScopeVertical satisfies one installment's buckets before moving on.
	ScopeVertical ProcessingScope = iota
	// ScopeHorizontal satisfies one bucket across all installments, then
	// moves to the next bucket.
	ScopeHorizontal
)

func (s ProcessingScope) String() string {
	if s == ScopeHorizontal {
		return "horizontal"
	}
	return "vertical"
}

// ParseProcessingScope parses the configuration name of a scope.
func ParseProcessingScope(v string) (ProcessingScope, error) {
	switch v {
	case "vertical":
		return ScopeVertical, nil
	case "horizontal":
		return ScopeHorizontal, nil
	default:
		return 0, fmt.Errorf("unknown processing scope %q", v)
	}
}

// =============================================================================
// RULES
// =============================================================================

// AllocationRule binds a bucket order to one transaction type.
type AllocationRule struct {
	TransactionType TransactionType
	Order           BucketOrder
}

// AdvancedStrategy configures the rule-based processor.
type AdvancedStrategy struct {
	Code         string
	Name         string
	DefaultOrder BucketOrder
	Rules        []AllocationRule
	Scope        ProcessingScope
}

// Validate checks the default order and every rule's order.
func (s AdvancedStrategy) Validate() error {
	if err := s.DefaultOrder.Validate(); err != nil {
		return fmt.Errorf("advanced strategy %s default order: %w", s.Code, err)
	}
	for _, r := range s.Rules {
		if err := r.Order.Validate(); err != nil {
			return fmt.Errorf("advanced strategy %s rule %s: %w", s.Code, r.TransactionType, err)
		}
	}
	return nil
}

// orderFor returns the rule order for a transaction type, or the default.
func (s AdvancedStrategy) orderFor(t TransactionType) BucketOrder {
	for _, r := range s.Rules {
		if r.TransactionType == t {
			return r.Order
		}
	}
	return s.DefaultOrder
}

// =============================================================================
// ADVANCED PROCESSOR
// =============================================================================

// AdvancedProcessor allocates by transaction-type rules and scope.
type AdvancedProcessor struct {
	strategy AdvancedStrategy
}

// NewAdvancedProcessor creates a processor, validating its configuration.
func NewAdvancedProcessor(s AdvancedStrategy) (*AdvancedProcessor, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &AdvancedProcessor{strategy: s}, nil
}

// Strategy returns the processor's configuration.
func (p *AdvancedProcessor) Strategy() AdvancedStrategy { return p.strategy }

// Process allocates the transaction per its type's rule. Charge
// payments, waivers and write-offs keep their dedicated paths - only
// the bucket walk itself is rule-driven.
func (p *AdvancedProcessor) Process(tx *Transaction, installments []*Installment, charges []*Charge) (*Result, error) {
	w, err := newWalk(tx, installments, charges)
	if err != nil {
		return nil, err
	}

	switch tx.Type {
	case TypeChargePayment:
		return w.runChargePayment()
	case TypeWaiver:
		return w.runInterestWaiver()
	case TypeWriteOff:
		return w.runWriteOff()
	case TypeRepayment, TypeRecovery:
		order := p.strategy.orderFor(tx.Type)
		if p.strategy.Scope == ScopeHorizontal {
			return w.runHorizontal(order)
		}
		return w.runWaterfall(func(*Installment) BucketOrder { return order })
	default:
		return nil, fmt.Errorf("unhandled transaction type %s", tx.Type)
	}
}
