package types

import (
	"fmt"
	"strings"
)

// Position is the side of an exposure. NEUTRAL never appears on an order.
type Position int

const (
	PositionNeutral Position = 0
	PositionLong    Position = 1
	PositionShort   Position = -1
)

// Direction returns +1 for LONG, -1 for SHORT and 0 for NEUTRAL.
func (p Position) Direction() float64 {
	switch p {
	case PositionLong:
		return 1
	case PositionShort:
		return -1
	case PositionNeutral:
		return 0
	}
	panic(fmt.Sprintf("types: unknown position %d", int(p)))
}

// Opposite returns the closing side of p. NEUTRAL maps to itself.
func (p Position) Opposite() Position {
	switch p {
	case PositionLong:
		return PositionShort
	case PositionShort:
		return PositionLong
	case PositionNeutral:
		return PositionNeutral
	}
	panic(fmt.Sprintf("types: unknown position %d", int(p)))
}

// IsDirectional reports whether p can be carried by an order.
func (p Position) IsDirectional() bool {
	return p == PositionLong || p == PositionShort
}

func (p Position) String() string {
	switch p {
	case PositionLong:
		return "LONG"
	case PositionShort:
		return "SHORT"
	case PositionNeutral:
		return "NEUTRAL"
	}
	return fmt.Sprintf("Position(%d)", int(p))
}

func (p Position) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

func (p *Position) UnmarshalText(text []byte) error {
	parsed, err := ParsePosition(string(text))
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// ParsePosition accepts LONG/SHORT/NEUTRAL in any case.
func ParsePosition(raw string) (Position, error) {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "LONG", "BUY":
		return PositionLong, nil
	case "SHORT", "SELL":
		return PositionShort, nil
	case "NEUTRAL", "":
		return PositionNeutral, nil
	}
	return PositionNeutral, fmt.Errorf("invalid position %q", raw)
}
