package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/AaronShark/RSSTools/internal/config"
)

func init() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "2006-01-02 15:04:05"})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
}

const drainTimeout = 30 * time.Second

func usage() {
	fmt.Println("Usage: rsskb [command] [options]")
	fmt.Println("Commands:")
	fmt.Println("  download     Download articles from RSS feeds")
	fmt.Println("  summarize    Batch generate AI summaries")
	fmt.Println("  failed       Generate OPML for failed feeds")
	fmt.Println("  stats        Show knowledge base statistics")
	fmt.Println("  health       Check system health")
	fmt.Println("  clean-cache  Clean old cached LLM results")
	fmt.Println("  serve        Run the read-only HTTP API")
	fmt.Println("  import       Import a CSV feed list into the OPML subscriptions")
	fmt.Println("  config       Show current configuration")
	fmt.Println("\nFor command-specific options, use: rsskb [command] -h")
}

func main() {
	var configPath string

	downloadCmd := flag.NewFlagSet("download", flag.ExitOnError)
	downloadForce := downloadCmd.Bool("force", false, "Force re-download all articles")
	downloadCmd.StringVar(&configPath, "config", "", "Path to config file (default ~/.rsskb/config.yaml)")

	summarizeCmd := flag.NewFlagSet("summarize", flag.ExitOnError)
	summarizeForce := summarizeCmd.Bool("force", false, "Force re-summarize all articles")
	summarizeCmd.StringVar(&configPath, "config", "", "Path to config file (default ~/.rsskb/config.yaml)")

	failedCmd := flag.NewFlagSet("failed", flag.ExitOnError)
	failedCmd.StringVar(&configPath, "config", "", "Path to config file (default ~/.rsskb/config.yaml)")

	statsCmd := flag.NewFlagSet("stats", flag.ExitOnError)
	statsCmd.StringVar(&configPath, "config", "", "Path to config file (default ~/.rsskb/config.yaml)")

	healthCmd := flag.NewFlagSet("health", flag.ExitOnError)
	healthCmd.StringVar(&configPath, "config", "", "Path to config file (default ~/.rsskb/config.yaml)")

	cleanCacheCmd := flag.NewFlagSet("clean-cache", flag.ExitOnError)
	cleanDays := cleanCacheCmd.Int("days", 30, "Cache age in days")
	cleanDryRun := cleanCacheCmd.Bool("dry-run", false, "Show what would be deleted without deleting")
	cleanCacheCmd.StringVar(&configPath, "config", "", "Path to config file (default ~/.rsskb/config.yaml)")

	serveCmd := flag.NewFlagSet("serve", flag.ExitOnError)
	serveAddr := serveCmd.String("addr", ":8080", "Address for the API server to listen on")
	serveAPIKey := serveCmd.String("api-key", os.Getenv("RSSKB_API_KEY"), "API key for authentication (empty disables auth)")
	serveCmd.StringVar(&configPath, "config", "", "Path to config file (default ~/.rsskb/config.yaml)")

	importCmd := flag.NewFlagSet("import", flag.ExitOnError)
	importCSV := importCmd.String("csv", "feeds.csv", "Path or URL of the CSV feed list")
	importCmd.StringVar(&configPath, "config", "", "Path to config file (default ~/.rsskb/config.yaml)")

	configCmd := flag.NewFlagSet("config", flag.ExitOnError)
	configCmd.StringVar(&configPath, "config", "", "Path to config file (default ~/.rsskb/config.yaml)")

	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	run := func(parse *flag.FlagSet, fn func(*config.Config) error) {
		parse.Parse(os.Args[2:])
		cfg, err := config.Load(configPath)
		if err != nil {
			log.Error().Err(err).Msg("Failed to load configuration")
			os.Exit(1)
		}
		zerolog.SetGlobalLevel(cfg.ParsedLogLevel())
		if err := fn(cfg); err != nil {
			log.Error().Err(err).Msg("Command failed")
			os.Exit(1)
		}
	}

	switch os.Args[1] {
	case "download":
		run(downloadCmd, func(cfg *config.Config) error {
			return runDownload(cfg, *downloadForce)
		})

	case "summarize":
		run(summarizeCmd, func(cfg *config.Config) error {
			return runSummarize(cfg, *summarizeForce)
		})

	case "failed":
		run(failedCmd, runFailed)

	case "stats":
		run(statsCmd, runStats)

	case "health":
		healthCmd.Parse(os.Args[2:])
		cfg, err := config.Load(configPath)
		if err != nil {
			log.Error().Err(err).Msg("Failed to load configuration")
			os.Exit(1)
		}
		zerolog.SetGlobalLevel(cfg.ParsedLogLevel())
		if !runHealth(cfg) {
			os.Exit(1)
		}

	case "clean-cache":
		run(cleanCacheCmd, func(cfg *config.Config) error {
			return runCleanCache(cfg, *cleanDays, *cleanDryRun)
		})

	case "serve":
		run(serveCmd, func(cfg *config.Config) error {
			return runServe(cfg, *serveAddr, *serveAPIKey)
		})

	case "import":
		run(importCmd, func(cfg *config.Config) error {
			return runImport(cfg, *importCSV)
		})

	case "config":
		run(configCmd, runShowConfig)

	case "-h", "--help", "help":
		usage()
		os.Exit(0)

	default:
		log.Error().Str("command", os.Args[1]).Msg("Unknown command")
		usage()
		os.Exit(1)
	}
}
