package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/mattjoyce/dingtalk-gw/internal/config"
	"github.com/mattjoyce/dingtalk-gw/internal/dingcrypto"
)

// checkResult is the `config check` report. It never includes secret values.
type checkResult struct {
	Valid         bool     `json:"valid"`
	Source        string   `json:"source"`
	Locked        bool     `json:"locked"`
	Listen        string   `json:"listen,omitempty"`
	AppKeySource  string   `json:"app_key_source,omitempty"`
	TimestampUnit string   `json:"timestamp_unit,omitempty"`
	Journal       string   `json:"journal,omitempty"`
	AdminAPI      bool     `json:"admin_api"`
	Errors        []string `json:"errors,omitempty"`
}

func runConfigCheck(args []string) int {
	var configPath string
	var jsonOut bool

	fs := flag.NewFlagSet("check", flag.ContinueOnError)
	fs.StringVar(&configPath, "config", "", "Path to configuration (empty: environment)")
	fs.BoolVar(&jsonOut, "json", false, "Output in JSON")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	result := checkConfig(configPath)

	if jsonOut {
		out, err := json.MarshalIndent(result, "", "  ")
		if err != nil {
			fmt.Fprintf(os.Stderr, "JSON format error: %v\n", err)
			return 1
		}
		fmt.Println(string(out))
	} else {
		printCheckResult(result)
	}

	if !result.Valid {
		return 1
	}
	return 0
}

func checkConfig(configPath string) checkResult {
	result := checkResult{Source: "environment"}
	if configPath != "" {
		result.Source = configPath
		if abs, err := config.ResolvePath(configPath); err == nil {
			if manifest, err := config.LoadChecksums(filepath.Dir(abs)); err == nil {
				_, result.Locked = manifest.Hashes[filepath.Base(abs)]
			}
		}
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		result.Errors = append(result.Errors, err.Error())
		return result
	}

	result.Listen = cfg.Server.Listen
	result.AppKeySource = "client_id"
	if cfg.DingTalk.ClientID == "" {
		result.AppKeySource = "corp_id"
	}
	unit, _ := dingcrypto.ParseTimestampUnit(cfg.DingTalk.TimestampUnit)
	result.TimestampUnit = unit.String()
	result.AdminAPI = cfg.API.Token != ""

	if _, err := dingcrypto.NewRobotVerifier(cfg.DingTalk.ClientSecret); err != nil {
		result.Errors = append(result.Errors, err.Error())
	}
	if cfg.Journal.Path != "" {
		result.Journal = cfg.Journal.Path
		if err := openJournalForCheck(cfg.Journal.Path); err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("journal: %v", err))
		}
	}

	result.Valid = len(result.Errors) == 0
	return result
}

func printCheckResult(r checkResult) {
	if !r.Valid {
		fmt.Printf("Configuration INVALID (%s)\n", r.Source)
		for _, e := range r.Errors {
			fmt.Printf("  ERROR %s\n", e)
		}
		return
	}

	fmt.Printf("Configuration valid (%s)\n", r.Source)
	fmt.Printf("  listen:          %s\n", r.Listen)
	fmt.Printf("  app key source:  %s\n", r.AppKeySource)
	fmt.Printf("  timestamp unit:  %s\n", r.TimestampUnit)
	fmt.Printf("  admin api:       %t\n", r.AdminAPI)
	if r.Journal != "" {
		fmt.Printf("  journal:         %s\n", r.Journal)
	} else {
		fmt.Printf("  journal:         disabled\n")
	}
	fmt.Printf("  locked:          %t\n", r.Locked)
}

func runConfigLock(args []string) int {
	var configPath string
	var verbose, verboseShort, dryRun bool

	fs := flag.NewFlagSet("lock", flag.ContinueOnError)
	fs.StringVar(&configPath, "config", "", "Path to configuration file or directory")
	fs.BoolVar(&verbose, "verbose", false, "Verbose output")
	fs.BoolVar(&verboseShort, "v", false, "Verbose output")
	fs.BoolVar(&dryRun, "dry-run", false, "Dry run")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	if configPath == "" {
		fmt.Fprintln(os.Stderr, "Error: --config is required (environment-only settings have nothing to lock)")
		return 1
	}

	report, err := config.LockConfig(configPath, dryRun)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to lock config: %v\n", err)
		return 1
	}

	if verbose || verboseShort {
		fmt.Printf("  HASH %s: %s\n", filepath.Base(report.ConfigPath), report.Hash)
	}
	if dryRun {
		fmt.Printf("Dry run completed (not written): %s\n", report.ChecksumPath)
	} else {
		fmt.Printf("Successfully locked configuration: %s\n", report.ChecksumPath)
	}
	return 0
}

func loadConfigForTool(configPath string) (*config.Config, bool) {
	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return nil, false
	}
	return cfg, true
}

func runCryptoEncrypt(args []string) int {
	fs := flag.NewFlagSet("encrypt", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration (empty: environment)")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}
	if fs.NArg() != 1 {
		printCryptoEncryptHelp()
		return 1
	}

	cfg, ok := loadConfigForTool(*configPath)
	if !ok {
		return 1
	}
	codec, err := newCodec(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to build codec: %v\n", err)
		return 1
	}

	env, err := codec.Encrypt(fs.Arg(0))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Encrypt failed: %v\n", err)
		return 1
	}
	out, err := json.MarshalIndent(env, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "JSON format error: %v\n", err)
		return 1
	}
	fmt.Println(string(out))
	return 0
}

func runCryptoDecrypt(args []string) int {
	var configPath, signature, timestamp, nonce string

	fs := flag.NewFlagSet("decrypt", flag.ContinueOnError)
	fs.StringVar(&configPath, "config", "", "Path to configuration (empty: environment)")
	fs.StringVar(&signature, "signature", "", "msg_signature / signature query value")
	fs.StringVar(&timestamp, "timestamp", "", "timestamp query value")
	fs.StringVar(&nonce, "nonce", "", "nonce query value")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}
	if fs.NArg() != 1 || signature == "" || timestamp == "" || nonce == "" {
		printCryptoDecryptHelp()
		return 1
	}

	cfg, ok := loadConfigForTool(configPath)
	if !ok {
		return 1
	}
	codec, err := newCodec(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to build codec: %v\n", err)
		return 1
	}

	plaintext, err := codec.Decrypt(signature, timestamp, nonce, fs.Arg(0))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Decrypt failed: %v\n", err)
		return 1
	}
	fmt.Println(plaintext)
	return 0
}

func runCryptoRobotSign(args []string) int {
	var configPath, timestamp string

	fs := flag.NewFlagSet("robot-sign", flag.ContinueOnError)
	fs.StringVar(&configPath, "config", "", "Path to configuration (empty: environment)")
	fs.StringVar(&timestamp, "timestamp", "", "Timestamp in ms (default: now)")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}
	if timestamp == "" {
		timestamp = strconv.FormatInt(time.Now().UnixMilli(), 10)
	} else if _, err := strconv.ParseInt(timestamp, 10, 64); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid --timestamp %q: must be integer milliseconds\n", timestamp)
		return 1
	}

	cfg, ok := loadConfigForTool(configPath)
	if !ok {
		return 1
	}
	verifier, err := dingcrypto.NewRobotVerifier(cfg.DingTalk.ClientSecret)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to build verifier: %v\n", err)
		return 1
	}

	fmt.Printf("timestamp: %s\n", timestamp)
	fmt.Printf("sign: %s\n", verifier.Sign(timestamp))
	return 0
}
