// Package main is the entry point for the repricer service.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"log"
	"os"

	"github.com/marketops/repricer/internal/app"
)

var (
	// version can be set at build time via -ldflags
	version = "dev"
)

func main() {
	// Get command from args, default to "serve" (api + scheduler)
	command := "serve"
	args := os.Args[1:]
	if len(args) > 0 {
		command = args[0]
		args = args[1:]
	}

	switch command {
	case "serve", "all":
		runWithApp(args, func(ctx context.Context, a *app.App) error {
			return a.RunServe(ctx)
		})
	case "api":
		runWithApp(args, func(ctx context.Context, a *app.App) error {
			return a.RunAPI(ctx)
		})
	case "worker":
		runWithApp(args, func(ctx context.Context, a *app.App) error {
			return a.RunWorker(ctx)
		})
	case "cycle":
		runCycle(args)
	case "version":
		log.Printf("Repricer version %s\n", version)
		os.Exit(0)
	case "help", "-h", "--help":
		printUsage()
		os.Exit(0)
	default:
		log.Printf("Unknown command: %s\n\n", command)
		printUsage()
		os.Exit(1)
	}
}

// runWithApp builds the app from flags and runs fn until shutdown.
func runWithApp(args []string, fn func(context.Context, *app.App) error) {
	configPath := parseConfigPath(args, nil)

	a, err := app.New(app.Options{ConfigPath: configPath, Version: version})
	if err != nil {
		log.Fatalf("Failed to initialize: %v", err)
	}
	defer func() { _ = a.Close() }()

	if err := fn(context.Background(), a); err != nil {
		log.Fatalf("Service error: %v", err)
	}
}

// runCycle executes one reduction cycle in the foreground and prints the
// summary as JSON.
func runCycle(args []string) {
	fs := flag.NewFlagSet("cycle", flag.ExitOnError)
	dryRun := fs.Bool("dry-run", false, "compute prices without applying them")
	limit := fs.Int("limit", 0, "cap the number of due listings (0 = all)")
	configPath := parseConfigPath(args, fs)

	a, err := app.New(app.Options{ConfigPath: configPath, Version: version})
	if err != nil {
		log.Fatalf("Failed to initialize: %v", err)
	}
	defer func() { _ = a.Close() }()

	summary, err := a.RunCycle(context.Background(), *dryRun, *limit)
	if err != nil {
		log.Fatalf("Cycle failed: %v", err)
	}

	out, _ := json.MarshalIndent(summary, "", "  ")
	log.Printf("Cycle summary:\n%s", out)
}

// parseConfigPath resolves -config from flags or REPRICER_CONFIG, defaulting
// to config.yaml.
func parseConfigPath(args []string, fs *flag.FlagSet) string {
	if fs == nil {
		fs = flag.NewFlagSet("repricer", flag.ExitOnError)
	}
	configPath := fs.String("config", "", "path to config file")
	_ = fs.Parse(args)

	if *configPath != "" {
		return *configPath
	}
	if env := os.Getenv("REPRICER_CONFIG"); env != "" {
		return env
	}
	return "config.yaml"
}

func printUsage() {
	log.Println("Repricer Service - Multi-command CLI")
	log.Println()
	log.Println("Usage:")
	log.Println("  repricer [command] [flags]")
	log.Println()
	log.Println("Commands:")
	log.Println("  serve      Start both HTTP API server and scheduler (default)")
	log.Println("  api        Start the HTTP API server only")
	log.Println("  worker     Start the background scheduler only")
	log.Println("  cycle      Run one reduction cycle in the foreground")
	log.Println("  version    Print version information")
	log.Println("  help       Show this help message")
	log.Println()
	log.Println("Flags:")
	log.Println("  -config PATH   Path to config file (default: config.yaml)")
	log.Println("  -dry-run       (cycle) Compute prices without applying them")
	log.Println("  -limit N       (cycle) Cap the number of due listings")
	log.Println()
	log.Println("Environment Variables:")
	log.Println("  REPRICER_CONFIG          - Config file path")
	log.Println("  REPRICER_DB_HOST         - PostgreSQL host")
	log.Println("  REPRICER_DB_PORT         - PostgreSQL port (default: 5432)")
	log.Println("  REPRICER_DB_USER         - PostgreSQL user (default: postgres)")
	log.Println("  REPRICER_DB_PASSWORD     - PostgreSQL password")
	log.Println("  REPRICER_DB_NAME         - PostgreSQL database (default: repricer)")
	log.Println("  REPRICER_REDIS_ADDR      - Redis address (default: localhost:6379)")
	log.Println("  REPRICER_ENCRYPTION_KEY  - Hex-encoded 32-byte refresh token key")
	log.Println("  REPRICER_API_KEY         - API key for the HTTP surface")
	log.Println("  REPRICER_PORT            - HTTP port")
	log.Println("  APP_DEBUG                - Enable debug logging")
}
