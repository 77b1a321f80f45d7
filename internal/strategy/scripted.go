package strategy

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"futuresim/internal/backtest"
	"futuresim/internal/types"
)

const ScriptedName = "scripted"

// Script actions.
const (
	ActionLong         = "long"
	ActionShort        = "short"
	ActionNeutral      = "neutral"
	ActionRemoveLimits = "remove_limits"
	ActionLeverage     = "leverage"
)

// Step is one scripted intent, executed on bar Bar.
type Step struct {
	Bar            int     `json:"bar"`
	Action         string  `json:"action"`
	Quote          float64 `json:"quote"`
	WalletPercent  bool    `json:"wallet_prc"`
	GoNeutralFirst bool    `json:"go_neutral_first"`
	OrderType      string  `json:"order_type"`
	Price          float64 `json:"price"`
	Percent        float64 `json:"percent"`
	Leverage       int     `json:"leverage"`
}

type scriptedParams struct {
	Steps []Step `json:"steps"`
	// Strict makes engine rejections fail the run instead of being skipped.
	Strict bool `json:"strict"`
}

// Scripted replays a fixed list of intents keyed by bar index.
type Scripted struct {
	byBar  map[int][]Step
	strict bool
}

// NewScripted builds the replay from params["steps"].
func NewScripted(params map[string]any) (backtest.Strategy, error) {
	var p scriptedParams
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	return NewScriptedSteps(p.Strict, p.Steps...)
}

// NewScriptedSteps builds the replay from steps.
func NewScriptedSteps(strict bool, steps ...Step) (*Scripted, error) {
	s := &Scripted{byBar: make(map[int][]Step), strict: strict}
	for i, st := range steps {
		st.Action = strings.ToLower(strings.TrimSpace(st.Action))
		switch st.Action {
		case ActionLong, ActionShort, ActionNeutral, ActionRemoveLimits, ActionLeverage:
		default:
			return nil, fmt.Errorf("step %d: unknown action %q", i, st.Action)
		}
		if st.Bar < 0 {
			return nil, fmt.Errorf("step %d: negative bar %d", i, st.Bar)
		}
		if _, err := types.ParseOrderType(st.OrderType); err != nil {
			return nil, fmt.Errorf("step %d: %w", i, err)
		}
		s.byBar[st.Bar] = append(s.byBar[st.Bar], st)
	}
	return s, nil
}

func (s *Scripted) Name() string { return ScriptedName }

func (s *Scripted) Prepare([]backtest.Candle) error { return nil }

func (s *Scripted) OnBar(_ context.Context, sess *backtest.Session, idx int, _ backtest.Candle) error {
	var errs []error
	for _, st := range s.byBar[idx] {
		if err := s.apply(sess, st); err != nil {
			if s.strict {
				// %v keeps strict failures out of backtest.IsRecoverable.
				return fmt.Errorf("bar %d %s: %v", idx, st.Action, err)
			}
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (s *Scripted) apply(sess *backtest.Session, st Step) error {
	orderType, _ := types.ParseOrderType(st.OrderType)
	intent := backtest.Intent{
		Quote:          st.Quote,
		WalletPercent:  st.WalletPercent,
		GoNeutralFirst: st.GoNeutralFirst,
		OrderType:      orderType,
		ExpectedPrice:  st.Price,
	}
	var err error
	switch st.Action {
	case ActionLong:
		_, err = sess.GoLong(intent)
	case ActionShort:
		_, err = sess.GoShort(intent)
	case ActionNeutral:
		_, err = sess.GoNeutral(backtest.NeutralRequest{Percent: st.Percent, OrderType: orderType, ExpectedPrice: st.Price})
	case ActionRemoveLimits:
		_, err = sess.RemoveLimitOrders()
	case ActionLeverage:
		_, err = sess.Manager().ChangeLeverage(st.Leverage)
	}
	return err
}
