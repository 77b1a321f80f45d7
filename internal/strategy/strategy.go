// Package strategy holds the trading strategies replayed by the simulator.
package strategy

import (
	"fmt"
	"sort"
	"strings"

	"futuresim/internal/backtest"

	"github.com/mitchellh/mapstructure"
)

// Builder creates a strategy from decoded request params.
type Builder func(params map[string]any) (backtest.Strategy, error)

// Registry maps strategy names to builders. It implements
// backtest.StrategyFactory.
type Registry struct {
	builders map[string]Builder
}

// NewRegistry returns a registry with the built-in strategies.
func NewRegistry() *Registry {
	r := &Registry{builders: make(map[string]Builder)}
	r.Register(BollingerName, NewBollinger)
	r.Register(ScriptedName, NewScripted)
	return r
}

// Register adds or replaces a builder.
func (r *Registry) Register(name string, b Builder) {
	r.builders[strings.ToLower(strings.TrimSpace(name))] = b
}

// Names lists the registered strategies, sorted.
func (r *Registry) Names() []string {
	out := make([]string, 0, len(r.builders))
	for name := range r.builders {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// NewStrategy implements backtest.StrategyFactory.
func (r *Registry) NewStrategy(name string, params map[string]any) (backtest.Strategy, error) {
	b, ok := r.builders[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return nil, fmt.Errorf("unknown strategy %q, available: %s", name, strings.Join(r.Names(), ", "))
	}
	return b(params)
}

// decodeParams decodes loosely typed params (JSON numbers, YAML strings)
// into out, rejecting unknown keys.
func decodeParams(params map[string]any, out any) error {
	if len(params) == 0 {
		return nil
	}
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		TagName:          "json",
		WeaklyTypedInput: true,
		ErrorUnused:      true,
	})
	if err != nil {
		return err
	}
	if err := dec.Decode(params); err != nil {
		return fmt.Errorf("invalid strategy params: %w", err)
	}
	return nil
}
