package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"futuresim/internal/app"
	"futuresim/internal/backtest"
	"futuresim/internal/config"
	"futuresim/internal/logger"

	"github.com/spf13/pflag"
)

const usage = `usage: futuresim <serve|run> [flags]

  serve   start the HTTP API
  run     execute one backtest (or one per --seeds entry) and print the results
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
	mode, args := os.Args[1], os.Args[2:]

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(config.Path())
	if err != nil {
		log.Fatalf("load config failed: %v", err)
	}
	logger.SetFormat(cfg.App.LogFormat)
	logFile, err := setupLogOutput(cfg.App.LogPath)
	if err != nil {
		log.Fatalf("open log file failed: %v", err)
	}
	if logFile != nil {
		defer logFile.Close()
	} else {
		logger.SetOutput(os.Stdout)
	}
	logger.SetLevel(cfg.App.LogLevel)
	logger.Infof("config loaded (env=%s, pair=%s)", cfg.App.Env, cfg.Engine.Pair)

	switch mode {
	case "serve":
		err = serve(ctx, cfg)
	case "run":
		err = run(ctx, cfg, args)
	default:
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
	if err != nil {
		logger.Errorf("%s failed: %v", mode, err)
		os.Exit(1)
	}
}

func serve(ctx context.Context, cfg *config.Config) error {
	a, err := app.NewApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()
	return a.Serve(ctx)
}

func run(ctx context.Context, cfg *config.Config, args []string) error {
	fs := pflag.NewFlagSet("run", pflag.ContinueOnError)
	req := backtest.RunRequest{}
	fs.StringVar(&req.Pair, "pair", "", "trading pair, defaults to engine.pair")
	fs.StringVar(&req.Timeframe, "timeframe", "1h", "candle timeframe")
	fs.StringVar(&req.Start, "start", "", "first day, YYYY-MM-DD")
	fs.StringVar(&req.End, "end", "", "last day (inclusive), YYYY-MM-DD")
	fs.StringVar(&req.Strategy, "strategy", "", "strategy name, defaults to strategy.name")
	fs.StringVar(&req.Difficulty, "difficulty", "", "LOW, MEDIUM or HIGH")
	fs.Float64Var(&req.InitialBalance, "balance", 0, "initial wallet balance")
	fs.IntVar(&req.Leverage, "leverage", 0, "order leverage")
	fs.BoolVar(&req.Report, "report", false, "render an HTML report")
	params := fs.String("params", "", "strategy params as a JSON object")
	seeds := fs.StringSlice("seeds", nil, "run once per seed, in parallel")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if req.Start == "" || req.End == "" {
		return fmt.Errorf("--start and --end are required")
	}
	if *params != "" {
		if err := json.Unmarshal([]byte(*params), &req.Params); err != nil {
			return fmt.Errorf("parse --params: %w", err)
		}
	}
	seedList, err := parseSeeds(*seeds)
	if err != nil {
		return err
	}

	a, err := app.NewApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()
	runs, err := a.Run(ctx, req, seedList)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	for _, r := range runs {
		if err := enc.Encode(r); err != nil {
			return err
		}
	}
	return nil
}

func parseSeeds(raw []string) ([]uint64, error) {
	out := make([]uint64, 0, len(raw))
	for _, s := range raw {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		v, err := strconv.ParseUint(s, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid seed %q: %w", s, err)
		}
		out = append(out, v)
	}
	return out, nil
}

func setupLogOutput(path string) (*os.File, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return nil, nil
	}
	dir := filepath.Dir(trimmed)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	file, err := os.OpenFile(trimmed, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	mw := io.MultiWriter(os.Stdout, file)
	log.SetOutput(mw)
	logger.SetOutput(mw)
	return file, nil
}
