package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/mattjoyce/dingtalk-gw/internal/config"
	"github.com/mattjoyce/dingtalk-gw/internal/dingcrypto"
	"github.com/mattjoyce/dingtalk-gw/internal/dispatch"
	"github.com/mattjoyce/dingtalk-gw/internal/events"
	"github.com/mattjoyce/dingtalk-gw/internal/journal"
	"github.com/mattjoyce/dingtalk-gw/internal/lock"
	"github.com/mattjoyce/dingtalk-gw/internal/log"
	"github.com/mattjoyce/dingtalk-gw/internal/storage"
	"github.com/mattjoyce/dingtalk-gw/internal/webhook"
)

const version = "0.1.0"

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(argv []string) int {
	if len(argv) < 1 {
		printUsage()
		return 1
	}

	cmd := argv[0]
	args := argv[1:]

	switch cmd {
	// --- NOUNS ---
	case "system":
		return runSystemNoun(args)
	case "config":
		return runConfigNoun(args)
	case "crypto":
		return runCryptoNoun(args)
	case "journal":
		return runJournalNoun(args)

	// --- ROOT ALIASES ---
	case "start":
		return runStart(args)
	case "version":
		fmt.Printf("dingtalk-gw version %s\n", version)
		return 0
	case "help", "--help", "-h":
		printUsage()
		return 0

	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		printUsage()
		return 1
	}
}

func printUsage() {
	fmt.Print(`dingtalk-gw - DingTalk callback and robot gateway

Usage:
  dingtalk-gw <noun> <action> [flags]

Core Resources (Nouns):
  system    Gateway lifecycle
  config    Configuration validation and integrity
  crypto    Offline callback/robot signing tools
  journal   Delivery journal inspection and maintenance

System Commands:
  system start        Start the gateway service in foreground

Config Commands:
  config check        Validate configuration and integrity
  config lock         Authorize current config (write BLAKE3 .checksums)

Crypto Commands:
  crypto encrypt      Encrypt a plaintext into a signed callback envelope
  crypto decrypt      Verify and decrypt a callback ciphertext
  crypto robot-sign   Print robot timestamp/sign headers

Journal Commands:
  journal recent      List recent deliveries
  journal prune       Delete deliveries past retention

General:
  version             Show version information
  help                Show this help message

Without --config, settings are read from the environment (and ./.env).
Use 'dingtalk-gw <noun> help' for resource-specific flags.
`)
}

// --- NOUN DISPATCHERS ---

func runSystemNoun(args []string) int {
	if len(args) < 1 {
		printSystemNounHelp(os.Stderr)
		return 1
	}
	if isHelpToken(args[0]) {
		printSystemNounHelp(os.Stdout)
		return 0
	}

	action := args[0]
	actionArgs := args[1:]

	switch action {
	case "start":
		if hasHelpFlag(actionArgs) {
			printSystemStartHelp()
			return 0
		}
		return runStart(actionArgs)
	default:
		fmt.Fprintf(os.Stderr, "Unknown system action: %s\n", action)
		printSystemNounHelp(os.Stderr)
		return 1
	}
}

func runConfigNoun(args []string) int {
	if len(args) < 1 {
		printConfigNounHelp(os.Stderr)
		return 1
	}
	if isHelpToken(args[0]) {
		printConfigNounHelp(os.Stdout)
		return 0
	}

	action := args[0]
	actionArgs := args[1:]

	switch action {
	case "check":
		if hasHelpFlag(actionArgs) {
			printConfigCheckHelp()
			return 0
		}
		return runConfigCheck(actionArgs)
	case "lock":
		if hasHelpFlag(actionArgs) {
			printConfigLockHelp()
			return 0
		}
		return runConfigLock(actionArgs)
	default:
		fmt.Fprintf(os.Stderr, "Unknown config action: %s\n", action)
		printConfigNounHelp(os.Stderr)
		return 1
	}
}

func runCryptoNoun(args []string) int {
	if len(args) < 1 {
		printCryptoNounHelp(os.Stderr)
		return 1
	}
	if isHelpToken(args[0]) {
		printCryptoNounHelp(os.Stdout)
		return 0
	}

	action := args[0]
	actionArgs := args[1:]

	switch action {
	case "encrypt":
		if hasHelpFlag(actionArgs) {
			printCryptoEncryptHelp()
			return 0
		}
		return runCryptoEncrypt(actionArgs)
	case "decrypt":
		if hasHelpFlag(actionArgs) {
			printCryptoDecryptHelp()
			return 0
		}
		return runCryptoDecrypt(actionArgs)
	case "robot-sign":
		if hasHelpFlag(actionArgs) {
			printCryptoRobotSignHelp()
			return 0
		}
		return runCryptoRobotSign(actionArgs)
	default:
		fmt.Fprintf(os.Stderr, "Unknown crypto action: %s\n", action)
		printCryptoNounHelp(os.Stderr)
		return 1
	}
}

func isHelpToken(token string) bool {
	return token == "help" || token == "--help" || token == "-h"
}

func hasHelpFlag(args []string) bool {
	for _, arg := range args {
		if arg == "--help" || arg == "-h" {
			return true
		}
	}
	return false
}

func printSystemNounHelp(w *os.File) {
	fmt.Fprintln(w, "Usage: dingtalk-gw system <action>")
	fmt.Fprintln(w, "Actions: start")
}

func printConfigNounHelp(w *os.File) {
	fmt.Fprintln(w, "Usage: dingtalk-gw config <action>")
	fmt.Fprintln(w, "Actions: check, lock")
}

func printCryptoNounHelp(w *os.File) {
	fmt.Fprintln(w, "Usage: dingtalk-gw crypto <action>")
	fmt.Fprintln(w, "Actions: encrypt, decrypt, robot-sign")
}

func printSystemStartHelp() {
	fmt.Println("Usage: dingtalk-gw system start [--config PATH]")
	fmt.Println("Start the gateway service in the foreground.")
}

func printConfigCheckHelp() {
	fmt.Println("Usage: dingtalk-gw config check [--config PATH] [--json]")
	fmt.Println("Validate configuration, secrets and integrity checksums.")
}

func printConfigLockHelp() {
	fmt.Println("Usage: dingtalk-gw config lock --config PATH [--dry-run] [-v]")
	fmt.Println("Write a BLAKE3 .checksums manifest next to the config file.")
}

func printCryptoEncryptHelp() {
	fmt.Println("Usage: dingtalk-gw crypto encrypt [--config PATH] <plaintext>")
	fmt.Println("Print a signed, encrypted callback envelope as JSON.")
}

func printCryptoDecryptHelp() {
	fmt.Println("Usage: dingtalk-gw crypto decrypt [--config PATH] --signature S --timestamp T --nonce N <encrypt>")
	fmt.Println("Verify the signature and print the decrypted plaintext.")
}

func printCryptoRobotSignHelp() {
	fmt.Println("Usage: dingtalk-gw crypto robot-sign [--config PATH] [--timestamp MS]")
	fmt.Println("Print the timestamp and sign headers a robot callback would carry.")
}

// newCodec builds the callback codec from config.
func newCodec(cfg *config.Config, opts ...dingcrypto.Option) (*dingcrypto.Codec, error) {
	unit, err := dingcrypto.ParseTimestampUnit(cfg.DingTalk.TimestampUnit)
	if err != nil {
		return nil, err
	}
	opts = append(opts, dingcrypto.WithTimestampUnit(unit))
	return dingcrypto.NewCodec(cfg.DingTalk.Token, cfg.DingTalk.AESKey, cfg.DingTalk.CallbackAppKey(), opts...)
}

func runStart(args []string) int {
	fs := flag.NewFlagSet("start", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory (empty: environment)")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse flags: %v\n", err)
		return 1
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}

	log.Setup(cfg.Service.LogLevel, cfg.Service.LogFormat)
	logger := log.WithComponent("main")
	logger.Info("dingtalk-gw starting", "version", version, "config", *configPath)

	codec, err := newCodec(cfg)
	if err != nil {
		logger.Error("failed to build callback codec", "error", err)
		return 1
	}
	verifier, err := dingcrypto.NewRobotVerifier(cfg.DingTalk.ClientSecret)
	if err != nil {
		logger.Error("failed to build robot verifier", "error", err)
		return 1
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := events.NewHub(256)

	var recorder dispatch.Recorder
	var jr *journal.Journal
	if cfg.Journal.Path != "" {
		jlock, err := lock.Acquire(lock.PathFor(cfg.Journal.Path))
		if err != nil {
			logger.Error("journal is in use by another gateway", "path", cfg.Journal.Path, "error", err)
			return 1
		}
		defer func() { _ = jlock.Release() }()

		db, err := storage.OpenSQLite(ctx, cfg.Journal.Path)
		if err != nil {
			logger.Error("failed to open journal database", "path", cfg.Journal.Path, "error", err)
			return 1
		}
		defer db.Close()
		jr = journal.New(db)
		recorder = jr
		logger.Info("journal enabled", "path", cfg.Journal.Path, "retention", cfg.Journal.Retention)
	}

	disp := dispatch.New(hub, recorder)

	webhookConfig, err := webhook.FromGlobalConfig(cfg)
	if err != nil {
		logger.Error("failed to configure webhook server", "error", err)
		return 1
	}
	server, err := webhook.New(webhookConfig, codec, verifier, disp, hub, log.WithComponent("webhook"))
	if err != nil {
		logger.Error("failed to build webhook server", "error", err)
		return 1
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	var wg sync.WaitGroup
	if jr != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			runJournalPruner(ctx, jr, cfg.Journal.Retention, time.Hour, log.WithComponent("journal"))
		}()
	}

	logger.Info("dingtalk-gw running (press Ctrl+C to stop)", "listen", webhookConfig.Listen)

	code := serve(ctx, server, sigCh, logger)

	// The journal closes in deferred calls; nothing may still be writing.
	cancel()
	wg.Wait()

	logger.Info("dingtalk-gw stopped")
	return code
}

// starter is satisfied by *webhook.Server.
type starter interface {
	Start(ctx context.Context) error
}

// serve runs srv until a signal arrives or srv fails. It returns only after
// srv.Start has returned, so in-flight requests have drained.
func serve(ctx context.Context, srv starter, sigCh <-chan os.Signal, logger *slog.Logger) int {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start(ctx) }()

	select {
	case sig := <-sigCh:
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
		if err := <-errCh; err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("webhook shutdown failed", "error", err)
			return 1
		}
		return 0
	case err := <-errCh:
		if err == nil || errors.Is(err, context.Canceled) {
			return 0
		}
		logger.Error("component failed", "component", "webhook", "error", err)
		return 1
	}
}

// pruner is satisfied by *journal.Journal.
type pruner interface {
	Prune(ctx context.Context, retention time.Duration) (int64, error)
}

// runJournalPruner prunes once immediately and then every interval until ctx
// is cancelled.
func runJournalPruner(ctx context.Context, p pruner, retention, interval time.Duration, logger *slog.Logger) {
	prune := func() {
		n, err := p.Prune(ctx, retention)
		if err != nil {
			if ctx.Err() == nil {
				logger.Error("journal prune failed", "error", err)
			}
			return
		}
		if n > 0 {
			logger.Info("journal pruned", "deleted", n, "retention", retention)
		}
	}

	prune()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			prune()
		}
	}
}

// openJournalForCheck confirms the journal database can be opened.
func openJournalForCheck(path string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	db, err := storage.OpenSQLite(ctx, path)
	if err != nil {
		return err
	}
	return db.Close()
}
