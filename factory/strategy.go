/*
Package factory provides the allocation-strategy registry and JSON
configuration parsing.

PURPOSE:
  A loan product names its payment-allocation rules by strategy code.
  This package resolves codes to engine.Strategy values: a built-in
  registry carries the named legacy strategies, and JSON definitions can
  add custom ones without code changes.

WHY JSON?
  - Product configuration without redeploying
  - Easy admin-UI integration
  - Database storage of strategy configs

JSON SCHEMA (legacy pair of orders):
  {
    "code": "custom-strategy",
    "name": "Custom",
    "due_order": ["penalty", "fee", "interest", "principal"],
    "in_advance_order": ["principal", "interest", "fee", "penalty"]
  }

JSON SCHEMA (advanced, per-transaction-type rules):
  {
    "code": "advanced-custom",
    "name": "Advanced custom",
    "processing_scope": "horizontal",
    "default_order": ["penalty", "fee", "interest", "principal"],
    "rules": [
      {"transaction_type": "repayment",
       "order": ["interest", "principal", "penalty", "fee"]}
    ]
  }

SEE ALSO:
  - engine/strategy.go: Strategy and Processor
  - engine/advanced.go: AdvancedStrategy and AdvancedProcessor
*/
package factory

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/warp/repayment-engine/engine"
)

// =============================================================================
// BUILT-IN STRATEGIES
// =============================================================================

// Shorthand for readable order literals.
var (
	principal = engine.BucketPrincipal
	interest  = engine.BucketInterest
	fee       = engine.BucketFee
	penalty   = engine.BucketPenalty
)

func order(buckets ...engine.Bucket) engine.BucketOrder { return engine.BucketOrder(buckets) }

// builtins returns the named legacy strategies. Each collapses one of
// the fixed-order processors of older lending platforms into data.
func builtins() []engine.Strategy {
	return []engine.Strategy{
		{
			Code:         "mifos-standard-strategy",
			Name:         "Penalties, Fees, Interest, Principal order",
			DueOrder:     order(penalty, fee, interest, principal),
			AdvanceOrder: order(penalty, fee, interest, principal),
		},
		{
			Code:         "heavensfamily-strategy",
			Name:         "HeavensFamily Unique",
			DueOrder:     order(interest, principal, penalty, fee),
			AdvanceOrder: order(principal, interest, fee, penalty),
		},
		{
			Code:         "creocore-strategy",
			Name:         "Creocore Unique",
			DueOrder:     order(interest, principal, penalty, fee),
			AdvanceOrder: order(principal, interest, penalty, fee),
		},
		{
			Code:         "rbi-india-strategy",
			Name:         "Overdue/Due Fee/Interest-Principal",
			DueOrder:     order(principal, interest, penalty, fee),
			AdvanceOrder: order(principal, interest, penalty, fee),
		},
		{
			Code:         "principal-interest-penalties-fees-order-strategy",
			Name:         "Principal, Interest, Penalties, Fees order",
			DueOrder:     order(principal, interest, penalty, fee),
			AdvanceOrder: order(principal, interest, penalty, fee),
		},
		{
			Code:         "interest-principal-penalties-fees-order-strategy",
			Name:         "Interest, Principal, Penalties, Fees order",
			DueOrder:     order(interest, principal, penalty, fee),
			AdvanceOrder: order(interest, principal, penalty, fee),
		},
		{
			Code:         "early-repayment-strategy",
			Name:         "Early Repayment strategy",
			DueOrder:     order(principal, interest, penalty, fee),
			AdvanceOrder: order(principal, interest, penalty, fee),
		},
		{
			Code:         "due-penalty-fee-interest-principal-in-advance-principal-penalty-fee-interest-strategy",
			Name:         "Due penalty, fee, interest, principal, in advance principal, penalty, fee, interest",
			DueOrder:     order(penalty, fee, interest, principal),
			AdvanceOrder: order(principal, penalty, fee, interest),
		},
		{
			Code:         "due-penalty-interest-principal-fee-in-advance-penalty-interest-principal-fee-strategy",
			Name:         "Due penalty, interest, principal, fee, in advance penalty, interest, principal, fee",
			DueOrder:     order(penalty, interest, principal, fee),
			AdvanceOrder: order(penalty, interest, principal, fee),
		},
	}
}

// =============================================================================
// REGISTRY
// =============================================================================

// Registry resolves strategy codes to configurations.
type Registry struct {
	strategies map[string]engine.Strategy
	advanced   map[string]engine.AdvancedStrategy
}

// NewRegistry creates a registry pre-loaded with the built-in strategies.
func NewRegistry() *Registry {
	r := &Registry{
		strategies: make(map[string]engine.Strategy),
		advanced:   make(map[string]engine.AdvancedStrategy),
	}
	for _, s := range builtins() {
		r.strategies[s.Code] = s
	}
	return r
}

// Register adds or replaces a strategy after validating it.
func (r *Registry) Register(s engine.Strategy) error {
	if err := s.Validate(); err != nil {
		return err
	}
	r.strategies[s.Code] = s
	return nil
}

// RegisterAdvanced adds or replaces an advanced strategy.
func (r *Registry) RegisterAdvanced(s engine.AdvancedStrategy) error {
	if err := s.Validate(); err != nil {
		return err
	}
	r.advanced[s.Code] = s
	return nil
}

// Get resolves a strategy code.
func (r *Registry) Get(code string) (engine.Strategy, error) {
	s, ok := r.strategies[code]
	if !ok {
		return engine.Strategy{}, fmt.Errorf("strategy %q: %w", code, engine.ErrUnknownStrategy)
	}
	return s, nil
}

// GetAdvanced resolves an advanced strategy code.
func (r *Registry) GetAdvanced(code string) (engine.AdvancedStrategy, error) {
	s, ok := r.advanced[code]
	if !ok {
		return engine.AdvancedStrategy{}, fmt.Errorf("advanced strategy %q: %w", code, engine.ErrUnknownStrategy)
	}
	return s, nil
}

// Processor resolves a code to a ready processor.
func (r *Registry) Processor(code string) (*engine.Processor, error) {
	s, err := r.Get(code)
	if err != nil {
		return nil, err
	}
	return engine.NewProcessor(s)
}

// Allocator is satisfied by both processor kinds.
type Allocator interface {
	Process(tx *engine.Transaction, installments []*engine.Installment, charges []*engine.Charge) (*engine.Result, error)
}

// AllocatorFor resolves a code against both tables. Legacy codes win on
// collision so the built-ins cannot be shadowed by accident.
func (r *Registry) AllocatorFor(code string) (Allocator, error) {
	if s, ok := r.strategies[code]; ok {
		return engine.NewProcessor(s)
	}
	if s, ok := r.advanced[code]; ok {
		return engine.NewAdvancedProcessor(s)
	}
	return nil, fmt.Errorf("strategy %q: %w", code, engine.ErrUnknownStrategy)
}

// Has reports whether a code resolves to any strategy kind.
func (r *Registry) Has(code string) bool {
	if _, ok := r.strategies[code]; ok {
		return true
	}
	_, ok := r.advanced[code]
	return ok
}

// List returns all registered legacy strategies, sorted by code.
func (r *Registry) List() []engine.Strategy {
	out := make([]engine.Strategy, 0, len(r.strategies))
	for _, s := range r.strategies {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out
}

// =============================================================================
// JSON SCHEMA TYPES
// =============================================================================

// StrategyJSON is the JSON representation of a legacy strategy.
type StrategyJSON struct {
	Code           string   `json:"code"`
	Name           string   `json:"name"`
	DueOrder       []string `json:"due_order"`
	InAdvanceOrder []string `json:"in_advance_order"`
}

// AdvancedJSON is the JSON representation of an advanced strategy.
type AdvancedJSON struct {
	Code            string     `json:"code"`
	Name            string     `json:"name"`
	ProcessingScope string     `json:"processing_scope,omitempty"`
	DefaultOrder    []string   `json:"default_order"`
	Rules           []RuleJSON `json:"rules,omitempty"`
}

// RuleJSON binds a bucket order to a transaction type.
type RuleJSON struct {
	TransactionType string   `json:"transaction_type"`
	Order           []string `json:"order"`
}

// =============================================================================
// PARSING
// =============================================================================

// ParseStrategy parses a JSON legacy-strategy definition.
func ParseStrategy(jsonStr string) (engine.Strategy, error) {
	var sj StrategyJSON
	if err := json.Unmarshal([]byte(jsonStr), &sj); err != nil {
		return engine.Strategy{}, fmt.Errorf("failed to parse strategy JSON: %w", err)
	}
	return FromJSON(sj)
}

// FromJSON converts a StrategyJSON into a validated engine.Strategy.
func FromJSON(sj StrategyJSON) (engine.Strategy, error) {
	if sj.Code == "" {
		return engine.Strategy{}, fmt.Errorf("strategy code is required")
	}
	due, err := parseOrder(sj.DueOrder)
	if err != nil {
		return engine.Strategy{}, fmt.Errorf("strategy %s due order: %w", sj.Code, err)
	}
	advance, err := parseOrder(sj.InAdvanceOrder)
	if err != nil {
		return engine.Strategy{}, fmt.Errorf("strategy %s in-advance order: %w", sj.Code, err)
	}
	s := engine.Strategy{Code: sj.Code, Name: sj.Name, DueOrder: due, AdvanceOrder: advance}
	if err := s.Validate(); err != nil {
		return engine.Strategy{}, err
	}
	return s, nil
}

// ParseAdvanced parses a JSON advanced-strategy definition.
func ParseAdvanced(jsonStr string) (engine.AdvancedStrategy, error) {
	var aj AdvancedJSON
	if err := json.Unmarshal([]byte(jsonStr), &aj); err != nil {
		return engine.AdvancedStrategy{}, fmt.Errorf("failed to parse advanced strategy JSON: %w", err)
	}
	return AdvancedFromJSON(aj)
}

// AdvancedFromJSON converts an AdvancedJSON into a validated
// engine.AdvancedStrategy. The scope defaults to vertical.
func AdvancedFromJSON(aj AdvancedJSON) (engine.AdvancedStrategy, error) {
	if aj.Code == "" {
		return engine.AdvancedStrategy{}, fmt.Errorf("advanced strategy code is required")
	}

	scope := engine.ScopeVertical
	if aj.ProcessingScope != "" {
		var err error
		scope, err = engine.ParseProcessingScope(aj.ProcessingScope)
		if err != nil {
			return engine.AdvancedStrategy{}, fmt.Errorf("advanced strategy %s: %w", aj.Code, err)
		}
	}

	defaultOrder, err := parseOrder(aj.DefaultOrder)
	if err != nil {
		return engine.AdvancedStrategy{}, fmt.Errorf("advanced strategy %s default order: %w", aj.Code, err)
	}

	rules := make([]engine.AllocationRule, 0, len(aj.Rules))
	for _, rj := range aj.Rules {
		txType, err := engine.ParseTransactionType(rj.TransactionType)
		if err != nil {
			return engine.AdvancedStrategy{}, fmt.Errorf("advanced strategy %s: %w", aj.Code, err)
		}
		o, err := parseOrder(rj.Order)
		if err != nil {
			return engine.AdvancedStrategy{}, fmt.Errorf("advanced strategy %s rule %s: %w", aj.Code, rj.TransactionType, err)
		}
		rules = append(rules, engine.AllocationRule{TransactionType: txType, Order: o})
	}

	s := engine.AdvancedStrategy{
		Code:         aj.Code,
		Name:         aj.Name,
		DefaultOrder: defaultOrder,
		Rules:        rules,
		Scope:        scope,
	}
	if err := s.Validate(); err != nil {
		return engine.AdvancedStrategy{}, err
	}
	return s, nil
}

func parseOrder(names []string) (engine.BucketOrder, error) {
	o := make(engine.BucketOrder, 0, len(names))
	for _, n := range names {
		b, err := engine.ParseBucket(n)
		if err != nil {
			return nil, err
		}
		o = append(o, b)
	}
	return o, nil
}

// ToJSON renders a strategy back to its JSON representation.
func ToJSON(s engine.Strategy) StrategyJSON {
	return StrategyJSON{
		Code:           s.Code,
		Name:           s.Name,
		DueOrder:       orderNames(s.DueOrder),
		InAdvanceOrder: orderNames(s.AdvanceOrder),
	}
}

func orderNames(o engine.BucketOrder) []string {
	names := make([]string, len(o))
	for i, b := range o {
		names[i] = b.String()
	}
	return names
}
