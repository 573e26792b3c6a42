package domain

import (
	"fmt"
	"strings"
	"time"
)

// Format is the image or document format a job should produce.
type Format string

const (
	FormatPNG Format = "png"
	FormatJPG Format = "jpg"
	FormatSVG Format = "svg"
	FormatPDF Format = "pdf"
)

// ScriptDefaultFormat is the extension the demo scripts hardcode in their
// savefig calls. Any other requested format is substituted for it.
const ScriptDefaultFormat = FormatJPG

// Formats lists every supported format in CLI order.
var Formats = []Format{FormatPNG, FormatJPG, FormatSVG, FormatPDF}

// ArtifactExtensions are the file extensions harvested after a run, in
// harvest order.
var ArtifactExtensions = []string{".jpg", ".png", ".svg", ".pdf"}

// ParseFormat validates a user supplied format name.
func ParseFormat(raw string) (Format, error) {
	f := Format(strings.ToLower(strings.TrimSpace(raw)))
	for _, known := range Formats {
		if f == known {
			return f, nil
		}
	}
	return "", fmt.Errorf("invalid format %q (expected png|jpg|svg|pdf)", raw)
}

// Ext returns the dotted extension token, e.g. ".png".
func (f Format) Ext() string {
	return "." + string(f)
}

// Job represents a single script scheduled for transformation and execution.
type Job struct {
	Name       string
	SourcePath string
	WorkDir    string // child cwd and harvest source
	OutputDir  string // <output-dir>/<Name>
	Format     Format
}

// RunResult holds the outcome of a completed job.
type RunResult struct {
	Job          Job
	Success      bool
	TimedOut     bool
	ExitCode     int
	Artifacts    []string
	ErrorMessage string
	StartedAt    time.Time
	CompletedAt  time.Time
}

// Summary aggregates the results of one batch.
type Summary struct {
	RunID     string
	Results   []RunResult
	Succeeded int
	Total     int
}

func (s *Summary) String() string {
	return fmt.Sprintf("%d/%d", s.Succeeded, s.Total)
}
