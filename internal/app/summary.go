package app

import (
	"fmt"
	"strings"

	"futuresim/internal/config"
	"futuresim/internal/margin"
)

// StartupSummary is printed once before serving.
type StartupSummary struct {
	Env        string
	HTTPAddr   string
	Pair       string
	Leverage   int
	Difficulty string
	Fees       string
	Balance    float64
	Strategy   string
	Pairs      []string
	TablesFrom string
	ReportDir  string
}

func newStartupSummary(cfg *config.Config, tables *margin.Registry) *StartupSummary {
	fees := "off"
	if cfg.Engine.UseFee {
		fees = fmt.Sprintf("maker %.4f%% / taker %.4f%%", cfg.Engine.FeeMaker*100, cfg.Engine.FeeTaker*100)
	}
	from := "built-in"
	if cfg.Engine.MarginTablesPath != "" {
		from = cfg.Engine.MarginTablesPath
	}
	return &StartupSummary{
		Env:        cfg.App.Env,
		HTTPAddr:   cfg.App.HTTPAddr,
		Pair:       cfg.Engine.Pair,
		Leverage:   cfg.Engine.Leverage,
		Difficulty: cfg.Engine.Difficulty,
		Fees:       fees,
		Balance:    cfg.Wallet.InitialBalance,
		Strategy:   cfg.Strategy.Name,
		Pairs:      tables.Snapshot().Tables.Pairs(),
		TablesFrom: from,
		ReportDir:  cfg.Backtest.ReportDir,
	}
}

func (s *StartupSummary) String() string {
	var b strings.Builder
	b.WriteString(strings.Repeat("=", 60) + "\n")
	b.WriteString("STARTUP SUMMARY\n")
	b.WriteString(strings.Repeat("=", 60) + "\n")
	fmt.Fprintf(&b, "  env:        %s\n", s.Env)
	fmt.Fprintf(&b, "  http:       %s\n", s.HTTPAddr)
	fmt.Fprintf(&b, "  pair:       %s x%d (%s)\n", s.Pair, s.Leverage, s.Difficulty)
	fmt.Fprintf(&b, "  fees:       %s\n", s.Fees)
	fmt.Fprintf(&b, "  balance:    %.2f\n", s.Balance)
	fmt.Fprintf(&b, "  strategy:   %s\n", s.Strategy)
	fmt.Fprintf(&b, "  margin:     %s (%s)\n", formatList(s.Pairs), s.TablesFrom)
	fmt.Fprintf(&b, "  reports:    %s\n", formatList([]string{s.ReportDir}))
	b.WriteString(strings.Repeat("=", 60))
	return b.String()
}

func formatList(items []string) string {
	out := make([]string, 0, len(items))
	for _, it := range items {
		if strings.TrimSpace(it) != "" {
			out = append(out, it)
		}
	}
	if len(out) == 0 {
		return "-"
	}
	return strings.Join(out, ", ")
}
