package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/mattjoyce/dingtalk-gw/internal/journal"
	"github.com/mattjoyce/dingtalk-gw/internal/lock"
	"github.com/mattjoyce/dingtalk-gw/internal/storage"
)

func runJournalNoun(args []string) int {
	if len(args) < 1 {
		printJournalNounHelp(os.Stderr)
		return 1
	}
	if isHelpToken(args[0]) {
		printJournalNounHelp(os.Stdout)
		return 0
	}

	action := args[0]
	actionArgs := args[1:]

	switch action {
	case "recent":
		if hasHelpFlag(actionArgs) {
			printJournalRecentHelp()
			return 0
		}
		return runJournalRecent(actionArgs)
	case "prune":
		if hasHelpFlag(actionArgs) {
			printJournalPruneHelp()
			return 0
		}
		return runJournalPrune(actionArgs)
	default:
		fmt.Fprintf(os.Stderr, "Unknown journal action: %s\n", action)
		printJournalNounHelp(os.Stderr)
		return 1
	}
}

func printJournalNounHelp(w *os.File) {
	fmt.Fprintln(w, "Usage: dingtalk-gw journal <action>")
	fmt.Fprintln(w, "Actions: recent, prune")
}

func printJournalRecentHelp() {
	fmt.Println("Usage: dingtalk-gw journal recent [--config PATH] [--limit N] [--json]")
	fmt.Println("List the most recent journaled deliveries, newest first.")
}

func printJournalPruneHelp() {
	fmt.Println("Usage: dingtalk-gw journal prune [--config PATH] [--retention DURATION]")
	fmt.Println("Delete deliveries older than the retention (default: journal.retention).")
	fmt.Println("Refuses to run while a gateway holds the journal.")
}

// openJournal opens the configured journal database. The caller closes it.
func openJournal(ctx context.Context, path string) (*journal.Journal, func(), error) {
	if path == "" {
		return nil, nil, fmt.Errorf("journal is disabled (journal.path is empty)")
	}
	db, err := storage.OpenSQLite(ctx, path)
	if err != nil {
		return nil, nil, err
	}
	return journal.New(db), func() { _ = db.Close() }, nil
}

func runJournalRecent(args []string) int {
	var configPath string
	var limit int
	var jsonOut bool

	fs := flag.NewFlagSet("recent", flag.ContinueOnError)
	fs.StringVar(&configPath, "config", "", "Path to configuration (empty: environment)")
	fs.IntVar(&limit, "limit", 20, "Maximum deliveries to list")
	fs.BoolVar(&jsonOut, "json", false, "Output in JSON (includes payloads)")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	cfg, ok := loadConfigForTool(configPath)
	if !ok {
		return 1
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	jr, closeDB, err := openJournal(ctx, cfg.Journal.Path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open journal: %v\n", err)
		return 1
	}
	defer closeDB()

	deliveries, err := jr.Recent(ctx, limit)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to read journal: %v\n", err)
		return 1
	}

	if jsonOut {
		if deliveries == nil {
			deliveries = []journal.Delivery{}
		}
		out, err := json.MarshalIndent(deliveries, "", "  ")
		if err != nil {
			fmt.Fprintf(os.Stderr, "JSON format error: %v\n", err)
			return 1
		}
		fmt.Println(string(out))
		return 0
	}

	if len(deliveries) == 0 {
		fmt.Println("No deliveries recorded.")
		return 0
	}
	for _, d := range deliveries {
		fmt.Printf("%s  %-8s %-24s %s\n", d.ReceivedAt.Format(time.RFC3339), d.Source, d.Type, d.ID)
	}
	return 0
}

func runJournalPrune(args []string) int {
	var configPath string
	var retention time.Duration

	fs := flag.NewFlagSet("prune", flag.ContinueOnError)
	fs.StringVar(&configPath, "config", "", "Path to configuration (empty: environment)")
	fs.DurationVar(&retention, "retention", 0, "Keep deliveries newer than this (default: journal.retention)")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}
	if retention < 0 {
		fmt.Fprintln(os.Stderr, "Error: --retention must not be negative")
		return 1
	}

	cfg, ok := loadConfigForTool(configPath)
	if !ok {
		return 1
	}
	if retention == 0 {
		retention = cfg.Journal.Retention
	}
	if cfg.Journal.Path == "" {
		fmt.Fprintln(os.Stderr, "Failed to open journal: journal is disabled (journal.path is empty)")
		return 1
	}

	// A running gateway prunes on its own schedule.
	jlock, err := lock.Acquire(lock.PathFor(cfg.Journal.Path))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Journal is in use: %v\n", err)
		return 1
	}
	defer func() { _ = jlock.Release() }()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	jr, closeDB, err := openJournal(ctx, cfg.Journal.Path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open journal: %v\n", err)
		return 1
	}
	defer closeDB()

	n, err := jr.Prune(ctx, retention)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Prune failed: %v\n", err)
		return 1
	}
	fmt.Printf("Pruned %d deliveries older than %s\n", n, retention)
	return 0
}
