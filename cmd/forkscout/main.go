package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"github.com/Romamo/forkscout-sub000/pkg/export"
	"github.com/Romamo/forkscout-sub000/pkg/forks"
	"github.com/Romamo/forkscout-sub000/pkg/github"
	"github.com/Romamo/forkscout-sub000/pkg/logging"
	"github.com/Romamo/forkscout-sub000/pkg/progress"
)

var CLI struct {
	Token   string `help:"GitHub token (defaults to GITHUB_TOKEN)" env:"GITHUB_TOKEN"`
	Verbose bool   `short:"v" help:"Enable verbose logging"`
	Pretty  bool   `help:"Human-readable log output" default:"true"`

	Scan struct {
		Repository   string `arg:"" help:"Repository to scan, as owner/name"`
		CSV          string `help:"Write results as CSV to this file instead of a table"`
		MaxForks     int    `help:"Maximum number of forks to compare" default:"200"`
		Concurrency  int    `help:"Parallel comparison workers" default:"5"`
		IncludeStale bool   `help:"Also compare forks with no pushes since creation"`
	} `cmd:"" help:"Discover and rank forks of a repository"`
}

func main() {
	// .env is optional; real environments set GITHUB_TOKEN directly.
	_ = godotenv.Load()

	ctx := kong.Parse(&CLI)

	level := logging.LevelInfo
	if CLI.Verbose {
		level = logging.LevelDebug
	}
	logging.Setup(logging.Config{
		Level:  level,
		Pretty: CLI.Pretty,
		Caller: CLI.Verbose,
		Output: os.Stderr,
	})

	switch ctx.Command() {
	case "scan <repository>":
		if err := runScan(); err != nil {
			fmt.Fprintln(os.Stderr, "Error:", github.UserFriendlyMessage(err))
			os.Exit(1)
		}
	}
}

func runScan() error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	defer progress.DefaultManager.StopAll()

	client, err := github.New(github.DefaultConfig(CLI.Token))
	if err != nil {
		return fmt.Errorf("create client: %w", err)
	}

	scanner := forks.NewScanner(client, forks.ScanConfig{
		MaxForks:     CLI.Scan.MaxForks,
		Concurrency:  CLI.Scan.Concurrency,
		IncludeStale: CLI.Scan.IncludeStale,
	})

	start := time.Now()
	result, err := scanner.Scan(ctx, CLI.Scan.Repository)
	if err != nil {
		status := client.CircuitBreakerStatus()
		if status.State != "closed" {
			log.Warn().
				Str("breaker_state", status.State).
				Int("failures", status.FailureCount).
				Msg("Circuit breaker engaged during scan")
		}
		return err
	}

	log.Info().
		Int("forks", len(result.Forks)).
		Dur("duration", time.Since(start)).
		Msg("Scan finished")

	if CLI.Scan.CSV != "" {
		f, err := os.Create(CLI.Scan.CSV)
		if err != nil {
			return fmt.Errorf("create csv file: %w", err)
		}
		defer f.Close()
		if err := export.WriteCSV(f, result); err != nil {
			return fmt.Errorf("write csv: %w", err)
		}
		fmt.Fprintf(os.Stderr, "Wrote %d forks to %s\n", len(result.Forks), CLI.Scan.CSV)
		return nil
	}

	return export.WriteTable(os.Stdout, result)
}
