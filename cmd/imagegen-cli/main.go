package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	"imagegen/internal/adapters/localstorage"
	"imagegen/internal/adapters/python"
	"imagegen/internal/adapters/xvfb"
	"imagegen/internal/config"
	"imagegen/internal/core/domain"
	"imagegen/internal/core/script"
	"imagegen/internal/service"
)

const (
	ExitSuccess           = 0
	ExitFailure           = 1
	ExitInvalidInvocation = 2
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(ExitInvalidInvocation)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		log.Warn("received interrupt signal, cancelling...")
		cancel()
	}()

	app := newApp(cfg, os.Stdout, newOrchestrator)
	err = runApp(ctx, app, os.Args)
	if err != nil && err.Error() != "" {
		fmt.Fprintln(os.Stderr, err)
	}
	os.Exit(exitCode(err))
}

// newOrchestrator wires the production adapters.
func newOrchestrator(cfg *config.Config) *service.Orchestrator {
	env := newPreparer(cfg)
	return service.NewOrchestrator(
		env,
		script.NewColabTransformer(),
		newExecutor(cfg, env),
		localstorage.NewLocalStorage(cfg.OutputDir),
		log.WithField("app", "imagegen"),
	)
}

func newPreparer(cfg *config.Config) *xvfb.Preparer {
	env := xvfb.NewPreparer()
	env.Display = cfg.Display
	env.Screen = cfg.Screen
	env.Binary = cfg.XvfbBinary
	env.LibraryPath = cfg.LibraryPath
	return env
}

// newExecutor passes the display variables to every child explicitly, so
// scripts see them even if something else rewrites the process environment.
func newExecutor(cfg *config.Config, env *xvfb.Preparer) *python.Executor {
	executor := python.NewExecutor(cfg.Interpreter, cfg.Timeout)
	executor.Env = env.Environ()
	return executor
}

// runApp runs app after moving flags that follow the selector in front of
// it. The flag parser stops at the first positional argument, but the
// documented form is "imagegen-cli <test_case> [--format F] ...".
func runApp(ctx context.Context, app *cli.App, args []string) error {
	return app.RunContext(ctx, hoistFlags(app.Flags, args))
}

// hoistFlags returns args with every flag (and the value of flags that take
// one) placed before the positional arguments. Everything after "--" stays
// positional. args[0] is the program name.
func hoistFlags(flags []cli.Flag, args []string) []string {
	if len(args) == 0 {
		return args
	}

	takesValue := map[string]bool{}
	for _, f := range flags {
		valued := true
		if doc, ok := f.(cli.DocGenerationFlag); ok {
			valued = doc.TakesValue()
		}
		for _, name := range f.Names() {
			takesValue[name] = valued
		}
	}

	var flagArgs, positional []string
	rest := args[1:]
	for i := 0; i < len(rest); i++ {
		arg := rest[i]
		if arg == "--" {
			positional = append(positional, rest[i:]...)
			break
		}
		if len(arg) < 2 || !strings.HasPrefix(arg, "-") {
			positional = append(positional, arg)
			continue
		}

		flagArgs = append(flagArgs, arg)
		name := strings.TrimLeft(arg, "-")
		if strings.Contains(name, "=") {
			continue
		}
		if takesValue[name] && i+1 < len(rest) {
			i++
			flagArgs = append(flagArgs, rest[i])
		}
	}

	out := make([]string, 0, len(args))
	out = append(out, args[0])
	out = append(out, flagArgs...)
	return append(out, positional...)
}

func newApp(
	cfg *config.Config,
	stdout io.Writer,
	build func(*config.Config) *service.Orchestrator,
) *cli.App {
	formatFlag := cli.StringFlag{
		Name:    "format",
		Aliases: []string{"f"},
		Value:   cfg.Format,
		Usage:   "output format: png|jpg|svg|pdf",
	}
	outputDirFlag := cli.StringFlag{
		Name:    "output-dir",
		Aliases: []string{"o"},
		Value:   cfg.OutputDir,
		Usage:   "directory receiving one subdirectory per test case",
	}
	testsDirFlag := cli.StringFlag{
		Name:    "tests-dir",
		Aliases: []string{"t"},
		Value:   cfg.TestsDir,
		Usage:   "directory containing the test case scripts",
	}
	interpreterFlag := cli.StringFlag{
		Name:  "interpreter",
		Value: cfg.Interpreter,
		Usage: "interpreter used to run the scripts",
	}
	timeoutFlag := cli.DurationFlag{
		Name:  "timeout",
		Value: cfg.Timeout,
		Usage: "wall-clock limit per script",
	}
	logLevelFlag := cli.StringFlag{
		Name:  "log-level",
		Value: cfg.LogLevel,
		Usage: "log level: debug|info|warn|error",
	}
	logFormatFlag := cli.StringFlag{
		Name:  "log-format",
		Value: cfg.LogFormat,
		Usage: "log format: text|json",
	}

	return &cli.App{
		Name:      "imagegen-cli",
		Usage:     "run notebook-style example scripts headlessly and collect their images",
		ArgsUsage: "<test_case|all>",
		Writer:    stdout,
		Flags: []cli.Flag{
			&formatFlag,
			&outputDirFlag,
			&testsDirFlag,
			&interpreterFlag,
			&timeoutFlag,
			&logLevelFlag,
			&logFormatFlag,
		},
		// exit codes are derived from the returned error by the caller
		ExitErrHandler: func(*cli.Context, error) {},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				_ = cli.ShowAppHelp(c)
				return cli.Exit(`expected exactly one test case name or "all"`, ExitInvalidInvocation)
			}

			run := *cfg
			run.Format = c.String(formatFlag.Name)
			run.OutputDir = c.String(outputDirFlag.Name)
			run.TestsDir = c.String(testsDirFlag.Name)
			run.Interpreter = c.String(interpreterFlag.Name)
			run.Timeout = c.Duration(timeoutFlag.Name)
			run.LogLevel = c.String(logLevelFlag.Name)
			run.LogFormat = c.String(logFormatFlag.Name)

			if err := run.Validate(); err != nil {
				return cli.Exit(err.Error(), ExitInvalidInvocation)
			}
			if err := run.ConfigureLogging(); err != nil {
				return cli.Exit(err.Error(), ExitInvalidInvocation)
			}
			format, err := domain.ParseFormat(run.Format)
			if err != nil {
				return cli.Exit(err.Error(), ExitInvalidInvocation)
			}

			log.WithField("tests_dir", run.TestsDir).
				WithField("output_dir", run.OutputDir).
				WithField("format", format).
				Info("=== Image Generation ===")

			summary, err := build(&run).Run(c.Context, c.Args().First(), run.TestsDir, format)
			if summary != nil {
				printSummary(stdout, summary)
			}
			return toExit(err)
		},
	}
}

func toExit(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, domain.ErrNotFound):
		return cli.Exit(fmt.Sprintf("Test case not found: %v", err), ExitFailure)
	case errors.Is(err, domain.ErrAllFailed):
		return cli.Exit("No test case succeeded", ExitFailure)
	default:
		return cli.Exit(err.Error(), ExitFailure)
	}
}

func exitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}
	var coder cli.ExitCoder
	if errors.As(err, &coder) {
		return coder.ExitCode()
	}
	// anything else comes from flag parsing
	return ExitInvalidInvocation
}

func printSummary(w io.Writer, summary *domain.Summary) {
	fmt.Fprintln(w, "\n=== Batch Summary ===")
	fmt.Fprintf(w, "Run ID:       %s\n", summary.RunID)
	for _, r := range summary.Results {
		switch {
		case r.Success:
			fmt.Fprintf(w, "  [ok]   %s: generated %d files\n", r.Job.Name, len(r.Artifacts))
			for _, path := range r.Artifacts {
				fmt.Fprintf(w, "           - %s\n", path)
			}
		case r.TimedOut:
			fmt.Fprintf(w, "  [fail] %s: timed out\n", r.Job.Name)
		default:
			fmt.Fprintf(w, "  [fail] %s: %s\n", r.Job.Name, r.ErrorMessage)
		}
	}
	fmt.Fprintf(w, "\nCompleted: %s tests successful\n", summary)
}
