package main

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"

	serveradapter "github.com/hylla/patchroulette/internal/adapters/server"
	"github.com/hylla/patchroulette/internal/config"
)

// TestMain runs commands through plain cobra so output stays unstyled and deterministic.
func TestMain(m *testing.M) {
	executeRoot = func(ctx context.Context, root *cobra.Command) error {
		return root.ExecuteContext(ctx)
	}
	for _, name := range []string{
		"PATCHROULETTE_CONFIG",
		"PATCHROULETTE_DB_PATH",
		"PATCHROULETTE_HTTP_BIND",
		"PATCHROULETTE_LOG_LEVEL",
		"PATCHROULETTE_LOG_FILE",
		"PATCHROULETTE_ACTIVITY_LIMIT",
	} {
		_ = os.Unsetenv(name)
	}
	os.Exit(m.Run())
}

// cliHarness runs commands against one temp database and config path.
type cliHarness struct {
	t      *testing.T
	dbPath string
	cfg    string
}

func newCLIHarness(t *testing.T) cliHarness {
	t.Helper()
	dir := t.TempDir()
	return cliHarness{
		t:      t,
		dbPath: filepath.Join(dir, "patchroulette.db"),
		cfg:    filepath.Join(dir, "config.toml"),
	}
}

// exec runs one command and returns stdout.
func (h cliHarness) exec(args ...string) (string, error) {
	h.t.Helper()
	var out bytes.Buffer
	full := append([]string{"--db", h.dbPath, "--config", h.cfg}, args...)
	err := run(context.Background(), full, &out, io.Discard)
	return out.String(), err
}

// mustExec runs one command and fails the test on error.
func (h cliHarness) mustExec(args ...string) string {
	h.t.Helper()
	out, err := h.exec(args...)
	if err != nil {
		h.t.Fatalf("run(%v) error = %v", args, err)
	}
	return out
}

// TestRunVersion verifies the version flag.
func TestRunVersion(t *testing.T) {
	var out strings.Builder
	if err := run(context.Background(), []string{"--version"}, &out, io.Discard); err != nil {
		t.Fatalf("run(--version) error = %v", err)
	}
	if !strings.Contains(out.String(), version) {
		t.Fatalf("expected version output, got %q", out.String())
	}
}

// TestRunPaths verifies path resolution output without touching the database.
func TestRunPaths(t *testing.T) {
	base := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(base, "config"))
	t.Setenv("XDG_DATA_HOME", filepath.Join(base, "data"))

	var out strings.Builder
	if err := run(context.Background(), []string{"paths", "--app", "portbot", "--dev"}, &out, io.Discard); err != nil {
		t.Fatalf("run(paths) error = %v", err)
	}
	got := out.String()
	for _, want := range []string{"app: portbot", "dev_mode: true", "portbot-dev.db", "log: "} {
		if !strings.Contains(got, want) {
			t.Fatalf("expected %q in paths output, got %q", want, got)
		}
	}
}

// TestRunPortingWorkflow walks one scope from publish to stats through the CLI.
func TestRunPortingWorkflow(t *testing.T) {
	h := newCLIHarness(t)

	out := h.mustExec("publish", "1.20", "A.java", "B.java", "C.java")
	if !strings.Contains(out, "published 3 units to 1.20") {
		t.Fatalf("unexpected publish output %q", out)
	}
	if out := h.mustExec("scopes"); strings.TrimSpace(out) != "1.20" {
		t.Fatalf("unexpected scopes output %q", out)
	}

	out = h.mustExec("claim", "1.20", "A.java", "B.java", "--as", "alice")
	if !strings.Contains(out, "claimed 2 of 2") {
		t.Fatalf("unexpected claim output %q", out)
	}
	out = h.mustExec("complete", "1.20", "A.java", "--as", "alice")
	if !strings.Contains(out, "completed A.java (done by alice)") {
		t.Fatalf("unexpected complete output %q", out)
	}
	out = h.mustExec("release", "1.20", "B.java")
	if !strings.Contains(out, "released B.java (available)") {
		t.Fatalf("unexpected release output %q", out)
	}

	out = h.mustExec("list", "1.20", "--available")
	if !strings.Contains(out, "B.java") || !strings.Contains(out, "C.java") || strings.Contains(out, "A.java") {
		t.Fatalf("unexpected available listing %q", out)
	}
	out = h.mustExec("list", "1.20")
	if !strings.Contains(out, "A.java") || !strings.Contains(out, "alice") {
		t.Fatalf("unexpected full listing %q", out)
	}

	out = h.mustExec("show", "1.20", "A.java")
	if !strings.Contains(out, "A.java") || !strings.Contains(out, "done") || !strings.Contains(out, "alice") || strings.Contains(out, "B.java") {
		t.Fatalf("unexpected show output %q", out)
	}
	if _, err := h.exec("show", "1.20", "Missing.java"); err == nil || !strings.Contains(err.Error(), "not found") {
		t.Fatalf("expected not found for unknown unit, got %v", err)
	}

	out = h.mustExec("stats", "1.20")
	if !strings.Contains(out, "1.20: 3 total, 2 available, 0 in progress, 1 done") || !strings.Contains(out, "alice") {
		t.Fatalf("unexpected stats output %q", out)
	}

	out = h.mustExec("activity", "1.20", "--limit", "2")
	if !strings.Contains(out, "release") || !strings.Contains(out, "complete") || strings.Contains(out, "publish") {
		t.Fatalf("unexpected activity output %q", out)
	}

	h.mustExec("clear", "1.20")
	if out := h.mustExec("scopes"); !strings.Contains(out, "No scopes published.") {
		t.Fatalf("expected no scopes after clear, got %q", out)
	}
}

// TestRunClaimConflicts verifies a taken unit cannot be claimed again.
func TestRunClaimConflicts(t *testing.T) {
	h := newCLIHarness(t)
	h.mustExec("publish", "1.20", "A.java")
	h.mustExec("claim", "1.20", "A.java", "--as", "alice")

	_, err := h.exec("claim", "1.20", "A.java", "--as", "bob")
	if err == nil || !strings.Contains(err.Error(), "conflict") {
		t.Fatalf("expected conflict error, got %v", err)
	}
	_, err = h.exec("complete", "1.20", "A.java", "--as", "bob")
	if err == nil || !strings.Contains(err.Error(), "conflict") {
		t.Fatalf("expected conflict for non-owner complete, got %v", err)
	}
	_, err = h.exec("claim", "1.20", "Missing.java", "--as", "bob")
	if err == nil || !strings.Contains(err.Error(), "not found") {
		t.Fatalf("expected not found for unknown path, got %v", err)
	}
}

// TestRunRequiresContributor verifies --as is mandatory where ownership matters.
func TestRunRequiresContributor(t *testing.T) {
	h := newCLIHarness(t)
	for _, args := range [][]string{
		{"claim", "1.20", "A.java"},
		{"complete", "1.20", "A.java"},
		{"reopen", "1.20", "A.java"},
	} {
		if _, err := h.exec(args...); err == nil || !strings.Contains(err.Error(), "as") {
			t.Fatalf("run(%v) expected missing --as error, got %v", args, err)
		}
	}
}

// TestRunPublishFromFile verifies path lists are read from files and stdin markers.
func TestRunPublishFromFile(t *testing.T) {
	h := newCLIHarness(t)
	list := filepath.Join(t.TempDir(), "files.txt")
	if err := os.WriteFile(list, []byte("# ported from 1.21\nA.java\n\n  B.java  \n"), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	out := h.mustExec("publish", "1.20", "--file", list, "C.java")
	if !strings.Contains(out, "published 3 units") {
		t.Fatalf("unexpected publish output %q", out)
	}
	if _, err := h.exec("publish", "1.20"); err == nil {
		t.Fatal("expected error when publishing no paths")
	}
}

// TestRunExportImport verifies a snapshot moves claim state between databases.
func TestRunExportImport(t *testing.T) {
	source := newCLIHarness(t)
	source.mustExec("publish", "1.20", "A.java", "B.java")
	source.mustExec("claim", "1.20", "A.java", "--as", "alice")

	snapPath := filepath.Join(t.TempDir(), "backup", "snapshot.json")
	source.mustExec("export", "--out", snapPath)
	content, err := os.ReadFile(snapPath)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	if !strings.Contains(string(content), "patchroulette.snapshot.v1") || !strings.Contains(string(content), "\"owner\": \"alice\"") {
		t.Fatalf("unexpected snapshot %s", content)
	}

	target := newCLIHarness(t)
	out := target.mustExec("import", "--in", snapPath)
	if !strings.Contains(out, "imported 2 units") {
		t.Fatalf("unexpected import output %q", out)
	}
	if _, err := target.exec("claim", "1.20", "A.java", "--as", "bob"); err == nil {
		t.Fatal("expected imported claim to block a second claimant")
	}
	out = target.mustExec("activity", "1.20")
	if !strings.Contains(out, "import") {
		t.Fatalf("expected import event, got %q", out)
	}

	if _, err := target.exec("import"); err == nil {
		t.Fatal("expected missing --in error")
	}
}

// TestRunServeResolvesConfig verifies config values reach the server and flags override them.
func TestRunServeResolvesConfig(t *testing.T) {
	origRunner := serveCommandRunner
	t.Cleanup(func() { serveCommandRunner = origRunner })

	var (
		gotCfg  serveradapter.Config
		gotDeps serveradapter.Dependencies
	)
	serveCommandRunner = func(_ context.Context, cfg serveradapter.Config, deps serveradapter.Dependencies) error {
		gotCfg = cfg
		gotDeps = deps
		return nil
	}

	h := newCLIHarness(t)
	if err := os.WriteFile(h.cfg, []byte("[server]\nhttp_bind = \"127.0.0.1:9999\"\nmcp_endpoint = \"/agents\"\n"), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	h.mustExec("serve", "--api-endpoint", "/rest")

	if gotCfg.HTTPBind != "127.0.0.1:9999" || gotCfg.APIEndpoint != "/rest" || gotCfg.MCPEndpoint != "/agents" {
		t.Fatalf("unexpected serve config %#v", gotCfg)
	}
	if gotCfg.ServerName != defaultAppName || gotCfg.ServerVersion != version {
		t.Fatalf("unexpected server identity %#v", gotCfg)
	}
	if gotDeps.Work == nil || gotDeps.Store == nil || gotDeps.Logger == nil {
		t.Fatalf("expected wired dependencies, got %#v", gotDeps)
	}
}

// TestRunServePropagatesFailure verifies serve errors are wrapped and returned.
func TestRunServePropagatesFailure(t *testing.T) {
	origRunner := serveCommandRunner
	t.Cleanup(func() { serveCommandRunner = origRunner })
	serveCommandRunner = func(context.Context, serveradapter.Config, serveradapter.Dependencies) error {
		return errors.New("address in use")
	}

	h := newCLIHarness(t)
	_, err := h.exec("serve")
	if err == nil || !strings.Contains(err.Error(), "address in use") {
		t.Fatalf("expected serve failure, got %v", err)
	}
}

// TestRunRejectsInvalidConfig verifies config validation stops commands before the store opens.
func TestRunRejectsInvalidConfig(t *testing.T) {
	h := newCLIHarness(t)
	if err := os.WriteFile(h.cfg, []byte("[logging]\nlevel = \"loud\"\n"), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	if _, err := h.exec("scopes"); err == nil || !strings.Contains(err.Error(), "load config") {
		t.Fatalf("expected config error, got %v", err)
	}
	if _, err := os.Stat(h.dbPath); !os.IsNotExist(err) {
		t.Fatalf("expected no database file, stat error %v", err)
	}
}

// TestRuntimeLoggerWritesFileSink verifies the rotating file sink receives logfmt lines.
func TestRuntimeLoggerWritesFileSink(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "patchroulette.log")
	var console bytes.Buffer
	logger, err := newRuntimeLogger(&console, "patchroulette", config.LoggingConfig{
		Level:      "info",
		File:       path,
		MaxSizeMB:  1,
		MaxBackups: 1,
	})
	if err != nil {
		t.Fatalf("newRuntimeLogger() error = %v", err)
	}
	logger.Debug("hidden detail")
	logger.Info("unit claimed", "path", "A.java")
	if err := logger.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	if !strings.Contains(string(content), "msg=\"unit claimed\"") || !strings.Contains(string(content), "path=A.java") {
		t.Fatalf("unexpected file log %q", content)
	}
	if strings.Contains(string(content), "hidden detail") {
		t.Fatalf("debug line leaked past info level: %q", content)
	}
	if !strings.Contains(console.String(), "unit claimed") {
		t.Fatalf("expected console line, got %q", console.String())
	}
	if logger.FilePath() != path {
		t.Fatalf("FilePath() = %q, want %q", logger.FilePath(), path)
	}
}

// TestRuntimeLoggerRejectsUnknownLevel verifies level parsing errors surface.
func TestRuntimeLoggerRejectsUnknownLevel(t *testing.T) {
	if _, err := newRuntimeLogger(io.Discard, "patchroulette", config.LoggingConfig{Level: "loud"}); err == nil {
		t.Fatal("expected level parse error")
	}
}
