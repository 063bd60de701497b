// Command consowatch watches an energy-consumption dashboard and publishes
// its readings.
//
// Usage:
//
//	consowatch -config consowatch.yaml      # run from YAML config
//	consowatch -url https://dashboard/      # quick run, stdout sink
//	consowatch -url https://dashboard/ -once  # print one GET_DATA result and exit
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hazyhaar/consowatch/agent"
	"github.com/hazyhaar/consowatch/command"
	"github.com/hazyhaar/consowatch/config"
)

func main() {
	configPath := flag.String("config", "", "path to consowatch.yaml config file")
	pageURL := flag.String("url", "", "dashboard URL (overrides the config file)")
	stealth := flag.String("stealth", "", "page acquisition: http, headless, headful")
	once := flag.Bool("once", false, "extract once, print the GET_DATA response, and exit")
	logLevel := flag.String("log-level", "info", "log level: debug, info, warn, error")
	flag.Parse()

	var level slog.Level
	switch *logLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := loadConfig(*configPath, *pageURL, *stealth)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		fmt.Fprintln(os.Stderr, "usage: consowatch -config <file> | -url <url> [-once]")
		os.Exit(2)
	}

	if err := run(ctx, logger, cfg, *once); err != nil {
		logger.Error("consowatch: fatal", "error", err)
		os.Exit(1)
	}
}

func loadConfig(path, pageURL, stealth string) (*config.Config, error) {
	var cfg *config.Config
	if path != "" {
		c, err := config.LoadFile(path)
		if err != nil {
			return nil, err
		}
		cfg = c
	} else {
		cfg = config.Default()
		cfg.Stdout = true
	}
	if pageURL != "" {
		cfg.Page.URL = pageURL
	}
	if stealth != "" {
		cfg.Page.Stealth = stealth
	}
	if cfg.Page.URL == "" {
		return nil, fmt.Errorf("consowatch: no page url")
	}
	return cfg, cfg.Validate()
}

func run(ctx context.Context, logger *slog.Logger, cfg *config.Config, once bool) error {
	a := agent.New(cfg, logger)

	if once {
		if err := a.Open(ctx); err != nil {
			return err
		}
		defer a.Stop()

		resp, err := a.Controller().Handle(ctx, command.GetData{})
		if err != nil {
			return err
		}
		return json.NewEncoder(os.Stdout).Encode(resp)
	}

	if err := a.Start(ctx); err != nil {
		return err
	}
	logger.Info("consowatch: running", "url", cfg.Page.URL, "stealth", cfg.Page.Stealth)

	<-ctx.Done()
	logger.Info("consowatch: shutting down")
	a.Stop()
	return nil
}
