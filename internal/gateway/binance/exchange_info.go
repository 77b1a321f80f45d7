package binance

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/tidwall/gjson"
)

// LotFilter is the LOT_SIZE filter of one symbol.
type LotFilter struct {
	Symbol   string  `json:"symbol"`
	MinQty   float64 `json:"min_qty"`
	MaxQty   float64 `json:"max_qty"`
	StepSize float64 `json:"step_size"`
}

// LotFilters reads LOT_SIZE from /fapi/v1/exchangeInfo for the requested
// symbols, or for every symbol when none are given.
func (s *Source) LotFilters(ctx context.Context, symbols ...string) (map[string]LotFilter, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.cfg.RESTBaseURL+"/fapi/v1/exchangeInfo", nil)
	if err != nil {
		return nil, err
	}
	resp, err := s.client.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("binance exchangeInfo returned status %d", resp.StatusCode)
	}
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	return parseLotFilters(raw, symbols)
}

func parseLotFilters(raw []byte, symbols []string) (map[string]LotFilter, error) {
	if !gjson.ValidBytes(raw) {
		return nil, fmt.Errorf("binance exchangeInfo: invalid json")
	}
	wanted := make(map[string]bool, len(symbols))
	for _, sym := range symbols {
		wanted[exchangeSymbol(sym)] = true
	}
	out := make(map[string]LotFilter)
	gjson.GetBytes(raw, "symbols").ForEach(func(_, value gjson.Result) bool {
		name := value.Get("symbol").String()
		if len(wanted) > 0 && !wanted[name] {
			return true
		}
		lot := value.Get(`filters.#(filterType=="LOT_SIZE")`)
		if !lot.Exists() {
			return true
		}
		out[name] = LotFilter{
			Symbol:   name,
			MinQty:   parseNumber(lot.Get("minQty")),
			MaxQty:   parseNumber(lot.Get("maxQty")),
			StepSize: parseNumber(lot.Get("stepSize")),
		}
		return true
	})
	for sym := range wanted {
		if _, ok := out[sym]; !ok {
			return out, fmt.Errorf("binance exchangeInfo: no LOT_SIZE filter for %s", sym)
		}
	}
	return out, nil
}

func parseNumber(r gjson.Result) float64 {
	if r.Type == gjson.Number {
		return r.Float()
	}
	f, _ := strconv.ParseFloat(r.String(), 64)
	return f
}
