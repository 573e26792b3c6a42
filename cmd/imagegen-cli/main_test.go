package main

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	log "github.com/sirupsen/logrus"

	"imagegen/internal/adapters/localstorage"
	"imagegen/internal/config"
	"imagegen/internal/core/domain"
	"imagegen/internal/core/ports"
	"imagegen/internal/core/script"
	"imagegen/internal/service"
)

// scriptedExecutor fails every script whose name starts with "bad" and makes
// the others produce one png in their working directory.
type scriptedExecutor struct{}

func (scriptedExecutor) Execute(_ context.Context, scriptPath, workDir string) (*ports.ExecResult, error) {
	name := strings.TrimSuffix(filepath.Base(scriptPath), ".fixed.py")
	if strings.HasPrefix(name, "bad") {
		return &ports.ExecResult{ExitCode: 1, Stderr: []byte("boom")}, nil
	}
	err := os.WriteFile(filepath.Join(workDir, name+".png"), []byte("img"), 0644)
	return &ports.ExecResult{}, err
}

type noopEnv struct{}

func (noopEnv) Prepare(context.Context) error { return nil }

func testBuild(cfg *config.Config) *service.Orchestrator {
	return service.NewOrchestrator(
		noopEnv{},
		script.NewColabTransformer(),
		scriptedExecutor{},
		localstorage.NewLocalStorage(cfg.OutputDir),
		log.WithField("app", "test"),
	)
}

func runCLI(t *testing.T, scripts []string, args ...string) (int, string, string) {
	t.Helper()
	root := t.TempDir()
	testsDir := filepath.Join(root, "tests")
	outputDir := filepath.Join(root, "output")
	if err := os.MkdirAll(testsDir, 0755); err != nil {
		t.Fatal(err)
	}
	for _, s := range scripts {
		if err := os.WriteFile(filepath.Join(testsDir, s), []byte("x = 1\n"), 0644); err != nil {
			t.Fatal(err)
		}
	}

	cfg := config.Default()
	cfg.TestsDir = testsDir
	cfg.OutputDir = outputDir
	cfg.LogLevel = "panic"

	var stdout bytes.Buffer
	app := newApp(&cfg, &stdout, testBuild)
	err := runApp(context.Background(), app, append([]string{"imagegen-cli"}, args...))
	return exitCode(err), stdout.String(), outputDir
}

func TestCLI_PartialSuccessExitsZero(t *testing.T) {
	code, out, outputDir := runCLI(t, []string{"good.py", "bad1.py", "bad2.py"}, "all")
	if code != ExitSuccess {
		t.Fatalf("exit code = %d, want 0\n%s", code, out)
	}
	if !strings.Contains(out, "Completed: 1/3 tests successful") {
		t.Fatalf("summary missing:\n%s", out)
	}
	if _, err := os.Stat(filepath.Join(outputDir, "good", "good.png")); err != nil {
		t.Fatalf("artifact not harvested: %v", err)
	}
}

func TestCLI_AllFailedExitsOne(t *testing.T) {
	code, out, _ := runCLI(t, []string{"bad1.py", "bad2.py", "bad3.py"}, "all")
	if code != ExitFailure {
		t.Fatalf("exit code = %d, want 1", code)
	}
	if !strings.Contains(out, "Completed: 0/3 tests successful") {
		t.Fatalf("summary missing:\n%s", out)
	}
}

func TestCLI_NamedScriptNotFound(t *testing.T) {
	code, _, _ := runCLI(t, []string{"a.py"}, "c")
	if code != ExitFailure {
		t.Fatalf("exit code = %d, want 1", code)
	}
}

func TestCLI_MissingTestsDir(t *testing.T) {
	code, _, _ := runCLI(t, nil, "--tests-dir", filepath.Join(t.TempDir(), "missing"), "all")
	if code != ExitFailure {
		t.Fatalf("exit code = %d, want 1", code)
	}
}

func TestCLI_InvalidInvocation(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"no selector", nil},
		{"two selectors", []string{"a", "b"}},
		{"bad format", []string{"-f", "gif", "a"}},
		{"unknown flag", []string{"--nope", "a"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, _, _ := runCLI(t, []string{"a.py"}, tt.args...)
			if code != ExitInvalidInvocation {
				t.Fatalf("exit code = %d, want %d", code, ExitInvalidInvocation)
			}
		})
	}
}

func TestCLI_FormatAndOutputFlags(t *testing.T) {
	alt := filepath.Join(t.TempDir(), "alt")
	code, out, _ := runCLI(t, []string{"good.py"}, "--format", "svg", "-o", alt, "good")
	if code != ExitSuccess {
		t.Fatalf("exit code = %d\n%s", code, out)
	}
	if _, err := os.Stat(filepath.Join(alt, "good", "good.png")); err != nil {
		t.Fatalf("--output-dir not honoured: %v", err)
	}
}

func TestCLI_FlagsAfterSelector(t *testing.T) {
	alt := filepath.Join(t.TempDir(), "alt")
	code, out, _ := runCLI(t, []string{"good.py"}, "good", "--format", "svg", "-o", alt, "--timeout=5m")
	if code != ExitSuccess {
		t.Fatalf("exit code = %d\n%s", code, out)
	}
	if _, err := os.Stat(filepath.Join(alt, "good", "good.png")); err != nil {
		t.Fatalf("--output-dir after the selector not honoured: %v", err)
	}
}

func TestCLI_BadFormatAfterSelector(t *testing.T) {
	code, _, _ := runCLI(t, []string{"good.py"}, "good", "-f", "gif")
	if code != ExitInvalidInvocation {
		t.Fatalf("exit code = %d, want %d", code, ExitInvalidInvocation)
	}
}

func TestHoistFlags(t *testing.T) {
	app := newApp(&config.Config{}, io.Discard, testBuild)

	tests := []struct {
		name string
		args []string
		want []string
	}{
		{
			name: "flags already first",
			args: []string{"bin", "-f", "svg", "good"},
			want: []string{"bin", "-f", "svg", "good"},
		},
		{
			name: "flags after selector",
			args: []string{"bin", "good", "--format", "pdf", "-o", "/out", "--tests-dir=/t"},
			want: []string{"bin", "--format", "pdf", "-o", "/out", "--tests-dir=/t", "good"},
		},
		{
			name: "double dash keeps the rest positional",
			args: []string{"bin", "good", "--", "-f"},
			want: []string{"bin", "good", "--", "-f"},
		},
		{
			name: "unknown flag moves without a value",
			args: []string{"bin", "good", "--nope", "x"},
			want: []string{"bin", "--nope", "good", "x"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := hoistFlags(app.Flags, tt.args); !reflect.DeepEqual(got, tt.want) {
				t.Fatalf("hoistFlags(%v) = %v, want %v", tt.args, got, tt.want)
			}
		})
	}
}

func TestNewExecutor_ForwardsDisplayEnvironment(t *testing.T) {
	cfg := config.Default()
	cfg.Display = ":7"
	executor := newExecutor(&cfg, newPreparer(&cfg))

	want := []string{"DISPLAY=:7", "PYTHONPATH=" + cfg.LibraryPath}
	if !reflect.DeepEqual(executor.Env, want) {
		t.Fatalf("executor env = %v, want %v", executor.Env, want)
	}
}

func TestExitCode(t *testing.T) {
	if exitCode(nil) != ExitSuccess {
		t.Fatal("nil error must map to success")
	}
	if exitCode(toExit(domain.ErrAllFailed)) != ExitFailure {
		t.Fatal("aggregate failure must map to 1")
	}
	if exitCode(toExit(domain.ErrNotFound)) != ExitFailure {
		t.Fatal("not found must map to 1")
	}
}
