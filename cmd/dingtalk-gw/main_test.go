package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mattjoyce/dingtalk-gw/internal/dingcrypto"
	"github.com/mattjoyce/dingtalk-gw/internal/journal"
	"github.com/mattjoyce/dingtalk-gw/internal/lock"
	"github.com/mattjoyce/dingtalk-gw/internal/storage"
)

const testConfigYAML = `
service:
  log_level: error
dingtalk:
  token: tok
  aes_key: MDEyMzQ1Njc4OWFiY2RlZjAxMjM0NTY3ODlhYmNkZWY
  client_id: ding-app
  client_secret: robot-secret
`

func captureOutputWithExitCode(t *testing.T, run func() int) (int, string, string) {
	t.Helper()

	oldStdout := os.Stdout
	oldStderr := os.Stderr

	stdoutR, stdoutW, err := os.Pipe()
	if err != nil {
		t.Fatalf("os.Pipe stdout failed: %v", err)
	}
	stderrR, stderrW, err := os.Pipe()
	if err != nil {
		t.Fatalf("os.Pipe stderr failed: %v", err)
	}

	os.Stdout = stdoutW
	os.Stderr = stderrW

	// Drain concurrently so large outputs cannot fill the pipe buffer.
	stdoutCh := make(chan []byte)
	stderrCh := make(chan []byte)
	go func() { b, _ := io.ReadAll(stdoutR); stdoutCh <- b }()
	go func() { b, _ := io.ReadAll(stderrR); stderrCh <- b }()

	code := run()

	_ = stdoutW.Close()
	_ = stderrW.Close()
	os.Stdout = oldStdout
	os.Stderr = oldStderr

	stdoutBytes := <-stdoutCh
	stderrBytes := <-stderrCh
	_ = stdoutR.Close()
	_ = stderrR.Close()

	return code, string(stdoutBytes), string(stderrBytes)
}

func captureRun(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	return captureOutputWithExitCode(t, func() int { return run(args) })
}

func writeTestConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestRunVersionAndHelp(t *testing.T) {
	code, stdout, _ := captureRun(t, "version")
	if code != 0 || !strings.Contains(stdout, "dingtalk-gw version "+version) {
		t.Fatalf("version: code=%d stdout=%q", code, stdout)
	}

	code, stdout, _ = captureRun(t, "help")
	if code != 0 || !strings.Contains(stdout, "crypto robot-sign") {
		t.Fatalf("help: code=%d stdout=%q", code, stdout)
	}

	code, _, stderr := captureRun(t, "bogus")
	if code != 1 || !strings.Contains(stderr, "Unknown command: bogus") {
		t.Fatalf("unknown: code=%d stderr=%q", code, stderr)
	}

	code, _, _ = captureRun(t)
	if code != 1 {
		t.Fatalf("no args: code=%d, want 1", code)
	}
}

func TestNounHelp(t *testing.T) {
	for _, noun := range []string{"system", "config", "crypto", "journal"} {
		code, stdout, _ := captureRun(t, noun, "help")
		if code != 0 || !strings.Contains(stdout, "Usage: dingtalk-gw "+noun) {
			t.Errorf("%s help: code=%d stdout=%q", noun, code, stdout)
		}
		code, _, _ = captureRun(t, noun, "nope")
		if code != 1 {
			t.Errorf("%s nope: code=%d, want 1", noun, code)
		}
	}
}

func TestCryptoEncryptDecryptRoundTrip(t *testing.T) {
	cfgPath := writeTestConfig(t, testConfigYAML)

	code, stdout, stderr := captureRun(t, "crypto", "encrypt", "--config", cfgPath, `{"EventType":"check_url"}`)
	if code != 0 {
		t.Fatalf("encrypt: code=%d stderr=%s", code, stderr)
	}

	var env dingcrypto.Envelope
	if err := json.Unmarshal([]byte(stdout), &env); err != nil {
		t.Fatalf("encrypt output is not an envelope: %v\n%s", err, stdout)
	}
	if env.MsgSignature == "" || env.TimeStamp == "" || env.Nonce == "" || env.Encrypt == "" {
		t.Fatalf("incomplete envelope: %+v", env)
	}

	code, stdout, stderr = captureRun(t, "crypto", "decrypt", "--config", cfgPath,
		"--signature", env.MsgSignature, "--timestamp", env.TimeStamp, "--nonce", env.Nonce, env.Encrypt)
	if code != 0 {
		t.Fatalf("decrypt: code=%d stderr=%s", code, stderr)
	}
	if strings.TrimSpace(stdout) != `{"EventType":"check_url"}` {
		t.Fatalf("decrypt output = %q", stdout)
	}

	code, _, stderr = captureRun(t, "crypto", "decrypt", "--config", cfgPath,
		"--signature", strings.Repeat("0", 40), "--timestamp", env.TimeStamp, "--nonce", env.Nonce, env.Encrypt)
	if code != 1 || !strings.Contains(stderr, "signature verification failed") {
		t.Fatalf("tampered decrypt: code=%d stderr=%q", code, stderr)
	}
	if strings.Contains(stderr, env.MsgSignature) {
		t.Fatal("stderr leaked the expected signature")
	}
}

func TestCryptoDecryptRequiresFlags(t *testing.T) {
	cfgPath := writeTestConfig(t, testConfigYAML)
	code, stdout, _ := captureRun(t, "crypto", "decrypt", "--config", cfgPath, "abc")
	if code != 1 || !strings.Contains(stdout, "Usage: dingtalk-gw crypto decrypt") {
		t.Fatalf("code=%d stdout=%q", code, stdout)
	}
}

func TestCryptoRobotSign(t *testing.T) {
	cfgPath := writeTestConfig(t, testConfigYAML)

	code, stdout, stderr := captureRun(t, "crypto", "robot-sign", "--config", cfgPath, "--timestamp", "1714564800000")
	if code != 0 {
		t.Fatalf("robot-sign: code=%d stderr=%s", code, stderr)
	}

	verifier, err := dingcrypto.NewRobotVerifier("robot-secret",
		dingcrypto.WithClock(func() time.Time { return time.UnixMilli(1714564800000) }))
	if err != nil {
		t.Fatal(err)
	}
	want := "timestamp: 1714564800000\nsign: " + verifier.Sign("1714564800000") + "\n"
	if stdout != want {
		t.Fatalf("robot-sign output = %q, want %q", stdout, want)
	}
	if !verifier.Verify("1714564800000", verifier.Sign("1714564800000")) {
		t.Fatal("printed sign does not verify")
	}

	code, _, _ = captureRun(t, "crypto", "robot-sign", "--config", cfgPath, "--timestamp", "soon")
	if code != 1 {
		t.Fatalf("bad timestamp: code=%d, want 1", code)
	}
}

func TestConfigCheck(t *testing.T) {
	cfgPath := writeTestConfig(t, testConfigYAML)

	code, stdout, stderr := captureRun(t, "config", "check", "--config", cfgPath)
	if code != 0 {
		t.Fatalf("check: code=%d stdout=%s stderr=%s", code, stdout, stderr)
	}
	if !strings.Contains(stdout, "Configuration valid") || !strings.Contains(stdout, "locked:          false") {
		t.Fatalf("unexpected check output: %s", stdout)
	}
	for _, secret := range []string{"robot-secret", "MDEyMzQ1Njc4OWFiY2RlZjAxMjM0NTY3ODlhYmNkZWY"} {
		if strings.Contains(stdout, secret) {
			t.Fatalf("check output leaked a secret: %s", stdout)
		}
	}

	bad := writeTestConfig(t, strings.Replace(testConfigYAML, "token: tok", "", 1))
	code, stdout, _ = captureRun(t, "config", "check", "--config", bad, "--json")
	if code != 1 {
		t.Fatalf("invalid check: code=%d, want 1", code)
	}
	var res checkResult
	if err := json.Unmarshal([]byte(stdout), &res); err != nil {
		t.Fatalf("json output: %v\n%s", err, stdout)
	}
	if res.Valid || len(res.Errors) == 0 || !strings.Contains(res.Errors[0], "dingtalk.token is required") {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestConfigCheckWithJournal(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "data", "journal.db")
	cfgPath := writeTestConfig(t, testConfigYAML+"journal:\n  path: "+dbPath+"\n")

	code, stdout, _ := captureRun(t, "config", "check", "--config", cfgPath, "--json")
	if code != 0 {
		t.Fatalf("check: code=%d stdout=%s", code, stdout)
	}
	var res checkResult
	if err := json.Unmarshal([]byte(stdout), &res); err != nil {
		t.Fatal(err)
	}
	if res.Journal != dbPath {
		t.Fatalf("journal = %q, want %q", res.Journal, dbPath)
	}
	if _, err := os.Stat(dbPath); err != nil {
		t.Fatalf("journal database not created: %v", err)
	}
}

func TestConfigLock(t *testing.T) {
	cfgPath := writeTestConfig(t, testConfigYAML)
	checksums := filepath.Join(filepath.Dir(cfgPath), ".checksums")

	code, stdout, stderr := captureRun(t, "config", "lock", "--config", cfgPath, "--dry-run", "-v")
	if code != 0 {
		t.Fatalf("dry-run: code=%d stderr=%s", code, stderr)
	}
	if !strings.Contains(stdout, "HASH config.yaml:") || !strings.Contains(stdout, "Dry run completed") {
		t.Fatalf("dry-run output: %s", stdout)
	}
	if _, err := os.Stat(checksums); !os.IsNotExist(err) {
		t.Fatal(".checksums should not exist after dry run")
	}

	code, _, stderr = captureRun(t, "config", "lock", "--config", cfgPath)
	if code != 0 {
		t.Fatalf("lock: code=%d stderr=%s", code, stderr)
	}
	if _, err := os.Stat(checksums); err != nil {
		t.Fatalf(".checksums not written: %v", err)
	}

	code, stdout, _ = captureRun(t, "config", "check", "--config", cfgPath)
	if code != 0 || !strings.Contains(stdout, "locked:          true") {
		t.Fatalf("check after lock: code=%d stdout=%s", code, stdout)
	}

	if err := os.WriteFile(cfgPath, []byte(testConfigYAML+"# tampered\n"), 0600); err != nil {
		t.Fatal(err)
	}
	code, stdout, _ = captureRun(t, "config", "check", "--config", cfgPath)
	if code != 1 || !strings.Contains(stdout, "config verification failed") {
		t.Fatalf("check after tamper: code=%d stdout=%s", code, stdout)
	}

	code, _, _ = captureRun(t, "config", "lock")
	if code != 1 {
		t.Fatalf("lock without --config: code=%d, want 1", code)
	}
}

type fakePruner struct {
	calls atomic.Int32
	err   error
}

func (p *fakePruner) Prune(ctx context.Context, retention time.Duration) (int64, error) {
	p.calls.Add(1)
	return 1, p.err
}

func TestRunJournalPruner(t *testing.T) {
	p := &fakePruner{err: errors.New("locked")}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		runJournalPruner(ctx, p, time.Hour, 5*time.Millisecond, logger)
		close(done)
	}()

	deadline := time.After(2 * time.Second)
	for p.calls.Load() < 3 {
		select {
		case <-deadline:
			t.Fatalf("pruner ran %d times, want >= 3", p.calls.Load())
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()
	<-done
}

type fakeServer struct {
	drain   time.Duration
	failErr error
	stopped atomic.Bool
}

func (s *fakeServer) Start(ctx context.Context) error {
	if s.failErr != nil {
		return s.failErr
	}
	<-ctx.Done()
	time.Sleep(s.drain)
	s.stopped.Store(true)
	return ctx.Err()
}

func TestServeWaitsForShutdown(t *testing.T) {
	srv := &fakeServer{drain: 50 * time.Millisecond}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	sigCh := make(chan os.Signal, 1)
	sigCh <- os.Interrupt

	if code := serve(context.Background(), srv, sigCh, logger); code != 0 {
		t.Fatalf("serve() = %d, want 0", code)
	}
	if !srv.stopped.Load() {
		t.Fatal("serve returned before the server finished shutting down")
	}
}

func TestServeServerFailure(t *testing.T) {
	srv := &fakeServer{failErr: errors.New("listen tcp: address in use")}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	if code := serve(context.Background(), srv, make(chan os.Signal), logger); code != 1 {
		t.Fatalf("serve() = %d, want 1", code)
	}
}

func seedJournal(t *testing.T, dbPath string, deliveries ...journal.Delivery) {
	t.Helper()
	ctx := context.Background()
	db, err := storage.OpenSQLite(ctx, dbPath)
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	jr := journal.New(db)
	for _, d := range deliveries {
		if _, err := jr.Record(ctx, d); err != nil {
			t.Fatal(err)
		}
	}
}

func TestJournalRecent(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "journal.db")
	cfgPath := writeTestConfig(t, testConfigYAML+"journal:\n  path: "+dbPath+"\n")

	now := time.Now().UTC()
	seedJournal(t, dbPath,
		journal.Delivery{ID: "older", Source: "callback", Type: "check_url", Payload: json.RawMessage(`{"EventType":"check_url"}`), ReceivedAt: now.Add(-time.Minute)},
		journal.Delivery{ID: "newer", Source: "robot", Type: "text", ReceivedAt: now},
	)

	code, stdout, stderr := captureRun(t, "journal", "recent", "--config", cfgPath, "--json")
	if code != 0 {
		t.Fatalf("recent: code=%d stderr=%s", code, stderr)
	}
	var got []journal.Delivery
	if err := json.Unmarshal([]byte(stdout), &got); err != nil {
		t.Fatalf("json output: %v\n%s", err, stdout)
	}
	if len(got) != 2 || got[0].ID != "newer" || got[1].ID != "older" {
		t.Fatalf("recent = %+v, want newer then older", got)
	}

	code, stdout, _ = captureRun(t, "journal", "recent", "--config", cfgPath, "--limit", "1")
	if code != 0 || !strings.Contains(stdout, "newer") || strings.Contains(stdout, "older") {
		t.Fatalf("recent --limit 1: code=%d stdout=%s", code, stdout)
	}
}

func TestJournalRecentDisabled(t *testing.T) {
	cfgPath := writeTestConfig(t, testConfigYAML)

	code, _, stderr := captureRun(t, "journal", "recent", "--config", cfgPath)
	if code != 1 || !strings.Contains(stderr, "journal is disabled") {
		t.Fatalf("recent without journal: code=%d stderr=%s", code, stderr)
	}
}

func TestJournalPrune(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "journal.db")
	cfgPath := writeTestConfig(t, testConfigYAML+"journal:\n  path: "+dbPath+"\n")

	now := time.Now().UTC()
	seedJournal(t, dbPath,
		journal.Delivery{ID: "stale", Source: "callback", Type: "check_url", ReceivedAt: now.Add(-48 * time.Hour)},
		journal.Delivery{ID: "fresh", Source: "robot", Type: "text", ReceivedAt: now},
	)

	code, stdout, stderr := captureRun(t, "journal", "prune", "--config", cfgPath, "--retention", "24h")
	if code != 0 || !strings.Contains(stdout, "Pruned 1 deliveries") {
		t.Fatalf("prune: code=%d stdout=%s stderr=%s", code, stdout, stderr)
	}

	code, stdout, _ = captureRun(t, "journal", "recent", "--config", cfgPath)
	if code != 0 || !strings.Contains(stdout, "fresh") || strings.Contains(stdout, "stale") {
		t.Fatalf("recent after prune: code=%d stdout=%s", code, stdout)
	}
}

func TestJournalPruneRefusesWhileLocked(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "journal.db")
	cfgPath := writeTestConfig(t, testConfigYAML+"journal:\n  path: "+dbPath+"\n")

	held, err := lock.Acquire(lock.PathFor(dbPath))
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = held.Release() }()

	code, _, stderr := captureRun(t, "journal", "prune", "--config", cfgPath)
	if code != 1 || !strings.Contains(stderr, "Journal is in use") {
		t.Fatalf("prune while locked: code=%d stderr=%s", code, stderr)
	}
}
