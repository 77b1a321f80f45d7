package margin

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrUnknownPair is returned when no table is registered for a trading pair.
var ErrUnknownPair = errors.New("margin: unknown pair")

// Tier is one position bracket of a maintenance-margin table.
type Tier struct {
	// PositionBracket is the top notional boundary (inclusive) of the tier.
	PositionBracket   float64 `yaml:"pb" json:"pb"`
	MaxLeverage       int     `yaml:"ml" json:"ml"`
	MaintenanceRate   float64 `yaml:"mmr" json:"mmr"`
	MaintenanceAmount float64 `yaml:"ma" json:"ma"`
}

// Table holds the brackets and the minimum tradable base unit of one pair.
type Table struct {
	Pair        string  `yaml:"-" json:"pair"`
	MinBaseUnit float64 `yaml:"min_base_unit" json:"min_base_unit"`
	Tiers       []Tier  `yaml:"tiers" json:"tiers"`
}

// NormalizePair upper-cases and trims a pair identifier.
func NormalizePair(pair string) string {
	return strings.ToUpper(strings.TrimSpace(pair))
}

// Validate checks that the table is usable for lookups.
func (t Table) Validate() error {
	if t.MinBaseUnit <= 0 {
		return fmt.Errorf("margin table %s: min_base_unit must be > 0", t.Pair)
	}
	if len(t.Tiers) == 0 {
		return fmt.Errorf("margin table %s: no tiers", t.Pair)
	}
	prev := 0.0
	for i, tier := range t.Tiers {
		if tier.PositionBracket <= prev {
			return fmt.Errorf("margin table %s: tier %d bracket %.2f not ascending", t.Pair, i, tier.PositionBracket)
		}
		if tier.MaxLeverage < 1 {
			return fmt.Errorf("margin table %s: tier %d max leverage %d < 1", t.Pair, i, tier.MaxLeverage)
		}
		if tier.MaintenanceRate < 0 || tier.MaintenanceRate >= 1 {
			return fmt.Errorf("margin table %s: tier %d rate %.4f out of range", t.Pair, i, tier.MaintenanceRate)
		}
		prev = tier.PositionBracket
	}
	return nil
}

// Tier selects the first bracket whose boundary is >= notional.
// Notional above the last boundary uses the last tier.
func (t Table) Tier(notional float64) Tier {
	if len(t.Tiers) == 0 {
		return Tier{MaxLeverage: 1}
	}
	idx := sort.Search(len(t.Tiers), func(i int) bool {
		return t.Tiers[i].PositionBracket >= notional
	})
	if idx >= len(t.Tiers) {
		idx = len(t.Tiers) - 1
	}
	return t.Tiers[idx]
}

// MaxLeverage returns the leverage cap for a position of the given notional size.
func (t Table) MaxLeverage(notional float64) int {
	return t.Tier(notional).MaxLeverage
}

// MaintenanceMargin returns notional*rate - deduction. The result may be
// negative on tiers whose deduction dominates small notionals.
func (t Table) MaintenanceMargin(notional float64) float64 {
	tier := t.Tier(notional)
	return notional*tier.MaintenanceRate - tier.MaintenanceAmount
}

// MarginRatio is maintenance margin over current equity. A position is
// liquidated once the ratio reaches 1.
func (t Table) MarginRatio(notional, marginQuote, sizeBase, entryPrice, markPrice, direction float64) float64 {
	mm := t.MaintenanceMargin(notional)
	equity := marginQuote + sizeBase*direction*(markPrice-entryPrice)
	if equity == 0 {
		return 0
	}
	return mm / equity
}

func (t Table) clone() Table {
	out := t
	out.Tiers = append([]Tier(nil), t.Tiers...)
	return out
}

// Provider resolves a pair to its margin table.
type Provider interface {
	Table(pair string) (Table, error)
}

// Tables is a static Provider.
type Tables map[string]Table

// Table implements Provider.
func (ts Tables) Table(pair string) (Table, error) {
	key := NormalizePair(pair)
	tbl, ok := ts[key]
	if !ok {
		return Table{}, fmt.Errorf("%w: %s", ErrUnknownPair, key)
	}
	return tbl.clone(), nil
}

// Pairs returns the registered pairs sorted.
func (ts Tables) Pairs() []string {
	out := make([]string, 0, len(ts))
	for pair := range ts {
		out = append(out, pair)
	}
	sort.Strings(out)
	return out
}
