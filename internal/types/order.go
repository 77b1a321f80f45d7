package types

import (
	"fmt"
	"strings"
)

// OrderType selects the fill model and the fee rate.
type OrderType int

const (
	OrderTypeMarket OrderType = iota
	OrderTypeLimit
)

func (t OrderType) String() string {
	switch t {
	case OrderTypeMarket:
		return "MARKET"
	case OrderTypeLimit:
		return "LIMIT"
	}
	return fmt.Sprintf("OrderType(%d)", int(t))
}

func (t OrderType) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

func (t *OrderType) UnmarshalText(text []byte) error {
	parsed, err := ParseOrderType(string(text))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// ParseOrderType defaults an empty value to MARKET.
func ParseOrderType(raw string) (OrderType, error) {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "MARKET", "":
		return OrderTypeMarket, nil
	case "LIMIT":
		return OrderTypeLimit, nil
	}
	return OrderTypeMarket, fmt.Errorf("invalid value for order type: %q", raw)
}

// Difficulty places the peak of the fill distribution inside a bar.
type Difficulty int

const (
	DifficultyLow Difficulty = iota
	DifficultyMedium
	DifficultyHigh
)

func (d Difficulty) String() string {
	switch d {
	case DifficultyLow:
		return "LOW"
	case DifficultyMedium:
		return "MEDIUM"
	case DifficultyHigh:
		return "HIGH"
	}
	return fmt.Sprintf("Difficulty(%d)", int(d))
}

func (d Difficulty) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *Difficulty) UnmarshalText(text []byte) error {
	parsed, err := ParseDifficulty(string(text))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// ParseDifficulty defaults an empty value to MEDIUM.
func ParseDifficulty(raw string) (Difficulty, error) {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "LOW":
		return DifficultyLow, nil
	case "MEDIUM", "":
		return DifficultyMedium, nil
	case "HIGH":
		return DifficultyHigh, nil
	}
	return DifficultyMedium, fmt.Errorf("invalid difficulty %q", raw)
}

// OrderSystem is the aggregation discipline of an order manager.
// NETTING merges same-side orders; HEDGING keeps them independent and is not supported yet.
type OrderSystem int

const (
	OrderSystemNetting OrderSystem = iota
	OrderSystemHedging
)

func (s OrderSystem) String() string {
	switch s {
	case OrderSystemNetting:
		return "NETTING"
	case OrderSystemHedging:
		return "HEDGING"
	}
	return fmt.Sprintf("OrderSystem(%d)", int(s))
}

func (s OrderSystem) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *OrderSystem) UnmarshalText(text []byte) error {
	parsed, err := ParseOrderSystem(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

func ParseOrderSystem(raw string) (OrderSystem, error) {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "NETTING", "":
		return OrderSystemNetting, nil
	case "HEDGING":
		return OrderSystemHedging, nil
	}
	return OrderSystemNetting, fmt.Errorf("invalid order system %q", raw)
}
