// Package pricing maps verification event types to a base fee and the split
// of that fee between the participating parties.
package pricing

import (
	"errors"
	"fmt"
	"math"
	"math/bits"
	"sort"
	"sync"
)

var (
	// ErrUnknownEventType is returned by Lookup for unconfigured event types.
	ErrUnknownEventType = errors.New("unknown event type")
	// ErrInvalidRule rejects malformed rules on Set.
	ErrInvalidRule = errors.New("invalid pricing rule")
)

// FullShare is 100% expressed in basis points.
const FullShare = 10_000

// MaxBaseAmount bounds a rule's base fee so amount × basis points fits int64.
const MaxBaseAmount = math.MaxInt64 / FullShare

// Role identifies which party of a verification event pays a share.
type Role string

const (
	RoleA Role = "party_a"
	RoleB Role = "party_b"
)

// Default event types.
const (
	EventSingleA = "single-A"
	EventSingleB = "single-B"
	EventDual    = "dual"
)

// Share is one payer's portion of an event fee.
type Share struct {
	Role        Role  `json:"role" mapstructure:"role"`
	BasisPoints int64 `json:"basis_points" mapstructure:"basis_points"`
}

// Rule prices one event type. Shares are listed in allocation order; the last
// share absorbs any rounding remainder.
type Rule struct {
	EventType  string  `json:"event_type" mapstructure:"event_type"`
	BaseAmount int64   `json:"base_amount" mapstructure:"base_amount"`
	Shares     []Share `json:"shares" mapstructure:"shares"`
}

// Requires reports whether role must be supplied for this event type.
func (r Rule) Requires(role Role) bool {
	for _, s := range r.Shares {
		if s.Role == role {
			return true
		}
	}
	return false
}

// Validate checks the rule is self-consistent.
func (r Rule) Validate() error {
	if r.EventType == "" {
		return fmt.Errorf("%w: event type is required", ErrInvalidRule)
	}
	if r.BaseAmount <= 0 {
		return fmt.Errorf("%w: %s base amount must be positive, got %d", ErrInvalidRule, r.EventType, r.BaseAmount)
	}
	if r.BaseAmount > MaxBaseAmount {
		return fmt.Errorf("%w: %s base amount %d exceeds %d", ErrInvalidRule, r.EventType, r.BaseAmount, int64(MaxBaseAmount))
	}
	if len(r.Shares) == 0 {
		return fmt.Errorf("%w: %s has no payer shares", ErrInvalidRule, r.EventType)
	}
	seen := make(map[Role]bool, len(r.Shares))
	var sum int64
	for _, s := range r.Shares {
		if s.Role != RoleA && s.Role != RoleB {
			return fmt.Errorf("%w: %s has unknown role %q", ErrInvalidRule, r.EventType, s.Role)
		}
		if seen[s.Role] {
			return fmt.Errorf("%w: %s lists %s twice", ErrInvalidRule, r.EventType, s.Role)
		}
		if s.BasisPoints <= 0 {
			return fmt.Errorf("%w: %s share for %s must be positive", ErrInvalidRule, r.EventType, s.Role)
		}
		seen[s.Role] = true
		sum += s.BasisPoints
	}
	if sum != FullShare {
		return fmt.Errorf("%w: %s shares sum to %d basis points, want %d", ErrInvalidRule, r.EventType, sum, FullShare)
	}
	return nil
}

// Allocation is the computed amount owed by one share.
type Allocation struct {
	Role        Role
	BasisPoints int64
	Amount      int64
}

// Allocate splits total across the rule's shares. Each share gets
// floor(total*bps/10000) and the last share takes whatever is left, so the
// amounts always sum to total.
func Allocate(rule Rule, total int64) []Allocation {
	out := make([]Allocation, len(rule.Shares))
	var allocated int64
	for i, s := range rule.Shares {
		amount := shareOf(total, s.BasisPoints)
		if i == len(rule.Shares)-1 {
			amount = total - allocated
		}
		allocated += amount
		out[i] = Allocation{Role: s.Role, BasisPoints: s.BasisPoints, Amount: amount}
	}
	return out
}

// shareOf returns floor(total*bps/FullShare) using a 128-bit product.
// Negative inputs and bps above FullShare yield 0 and total respectively.
func shareOf(total, bps int64) int64 {
	if total <= 0 || bps <= 0 {
		return 0
	}
	if bps >= FullShare {
		return total
	}
	hi, lo := bits.Mul64(uint64(total), uint64(bps))
	q, _ := bits.Div64(hi, lo, FullShare)
	return int64(q)
}

// Table is the concurrency-safe set of active rules.
type Table struct {
	mu    sync.RWMutex
	rules map[string]Rule
}

// NewTable builds a table from rules, validating each.
func NewTable(rules ...Rule) (*Table, error) {
	t := &Table{rules: make(map[string]Rule, len(rules))}
	for _, r := range rules {
		if err := t.Set(r); err != nil {
			return nil, err
		}
	}
	return t, nil
}

// Defaults returns the standard rule set: a single-party fee for each side and
// a dual event charging both fees, split 20% party A / 80% party B with B as
// the primary payer.
func Defaults(feeA, feeB int64) []Rule {
	return []Rule{
		{EventType: EventSingleA, BaseAmount: feeA, Shares: []Share{{Role: RoleA, BasisPoints: FullShare}}},
		{EventType: EventSingleB, BaseAmount: feeB, Shares: []Share{{Role: RoleB, BasisPoints: FullShare}}},
		{EventType: EventDual, BaseAmount: feeA + feeB, Shares: []Share{
			{Role: RoleA, BasisPoints: 2_000},
			{Role: RoleB, BasisPoints: 8_000},
		}},
	}
}

// Lookup returns the rule for eventType.
func (t *Table) Lookup(eventType string) (Rule, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	r, ok := t.rules[eventType]
	if !ok {
		return Rule{}, fmt.Errorf("%w: %q", ErrUnknownEventType, eventType)
	}
	return cloneRule(r), nil
}

// Set adds or replaces a rule.
func (t *Table) Set(rule Rule) error {
	if err := rule.Validate(); err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rules[rule.EventType] = cloneRule(rule)
	return nil
}

// Rules lists all rules sorted by event type.
func (t *Table) Rules() []Rule {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]Rule, 0, len(t.rules))
	for _, r := range t.rules {
		out = append(out, cloneRule(r))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EventType < out[j].EventType })
	return out
}

func cloneRule(r Rule) Rule {
	r.Shares = append([]Share(nil), r.Shares...)
	return r
}
