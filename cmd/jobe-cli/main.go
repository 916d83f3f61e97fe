package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"jobe/internal/cli/command"
	"jobe/internal/cli/config"
	"jobe/internal/cli/http"
	"jobe/internal/cli/repl"
	"jobe/internal/cli/state"
)

const defaultConfigPath = "configs/cli.yaml"

func main() {
	configPath := flag.String("config", defaultConfigPath, "Path to config file")
	baseURL := flag.String("base", "", "Override base URL")
	timeout := flag.Duration("timeout", 0, "Override HTTP timeout (e.g. 60s)")
	apiKey := flag.String("key", "", "Override API key")
	statePath := flag.String("state", "", "Override uploaded file state path")
	pretty := flag.Bool("pretty", false, "Pretty print JSON response")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}
	if *baseURL != "" {
		cfg.BaseURL = *baseURL
	}
	if *timeout > 0 {
		cfg.Timeout = *timeout
	}
	if *apiKey != "" {
		cfg.APIKey = *apiKey
	}
	if *statePath != "" {
		cfg.StatePath = *statePath
	}
	if *pretty {
		trueValue := true
		cfg.PrettyJSON = &trueValue
	}

	files, err := state.Load(cfg.StatePath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load file state failed: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM)
	defer stop()

	client := httpclient.New(cfg.BaseURL, cfg.Timeout, cfg.APIKey)
	session := repl.New(client, command.Registry(), &files, cfg.StatePath, cfg.PrettyJSON != nil && *cfg.PrettyJSON, os.Stdout)
	if err := session.Run(ctx, cfg.HistoryFile); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
}
