package xvfb

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"syscall"

	log "github.com/sirupsen/logrus"
)

const (
	DefaultDisplay     = ":99"
	DefaultScreen      = "1280x1024x24"
	DefaultBinary      = "Xvfb"
	DefaultLibraryPath = "/opt/conda/lib/python3.12/site-packages"
)

// Preparer implements ports.Environment by exporting the display and library
// path variables and making sure a virtual framebuffer is running.
//
// Prepare mutates process-wide state and is meant to be called once, before
// any script runs. It is not safe for concurrent use and never tears anything
// down: the environment variables stay set and the framebuffer it starts
// outlives the process.
type Preparer struct {
	Display     string
	Screen      string
	Binary      string
	LibraryPath string

	// running reports whether a process with the given name exists.
	running func(ctx context.Context, name string) bool
	// start launches a detached background process.
	start  func(name string, args ...string) error
	setenv func(key, value string) error
}

// NewPreparer creates a Preparer with the standard display settings.
func NewPreparer() *Preparer {
	return &Preparer{
		Display:     DefaultDisplay,
		Screen:      DefaultScreen,
		Binary:      DefaultBinary,
		LibraryPath: DefaultLibraryPath,
		running:     pgrep,
		start:       startDetached,
		setenv:      os.Setenv,
	}
}

// Prepare exports DISPLAY and PYTHONPATH and starts the framebuffer if no
// instance is already running. It does not wait for the server to come up.
func (p *Preparer) Prepare(ctx context.Context) error {
	if err := p.setenv("DISPLAY", p.Display); err != nil {
		return fmt.Errorf("setting DISPLAY: %w", err)
	}
	if p.LibraryPath != "" {
		if err := p.setenv("PYTHONPATH", p.LibraryPath); err != nil {
			return fmt.Errorf("setting PYTHONPATH: %w", err)
		}
	}

	logger := log.WithField("display", p.Display)
	if p.running(ctx, p.Binary) {
		logger.Infof("%s already running", p.Binary)
		return nil
	}

	logger.WithField("screen", p.Screen).Infof("starting %s", p.Binary)
	if err := p.start(p.Binary, p.Display, "-screen", "0", p.Screen); err != nil {
		return fmt.Errorf("starting %s on %s: %w", p.Binary, p.Display, err)
	}
	return nil
}

// Environ returns the variables Prepare exports, in KEY=value form, for
// handing to child processes explicitly.
func (p *Preparer) Environ() []string {
	env := []string{"DISPLAY=" + p.Display}
	if p.LibraryPath != "" {
		env = append(env, "PYTHONPATH="+p.LibraryPath)
	}
	return env
}

// pgrep treats any failure, including a missing pgrep binary, as "not
// running".
func pgrep(ctx context.Context, name string) bool {
	return exec.CommandContext(ctx, "pgrep", name).Run() == nil
}

func startDetached(name string, args ...string) error {
	cmd := exec.Command(name, args...)
	// nil Stdout/Stderr are connected to the null device
	cmd.Stdout = nil
	cmd.Stderr = nil
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	if err := cmd.Start(); err != nil {
		return err
	}
	return cmd.Process.Release()
}
