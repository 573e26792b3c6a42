// Package script turns notebook-style demo scripts into standalone programs.
//
// The rewrite is line oriented and does not parse the script language:
//
//  1. A block opened by the notebook-host guard line is dropped up to, but
//     not including, the next blank line.
//  2. Shell-escape lines ("!pip install ...") are dropped wherever they are.
//  3. An empty entry point is appended when none is present.
//  4. The hardcoded output extension is replaced with the requested one.
//
// A guard block that is never closed by a blank line swallows the rest of
// the file, and the extension replacement is a blind text substitution that
// also rewrites the token inside unrelated strings and comments.
package script

import (
	"path/filepath"
	"strings"

	"imagegen/internal/core/domain"
)

const (
	colabGuard  = "if 'google.colab' in sys.modules:"
	shellEscape = "!"
	entryPoint  = "if __name__ == '__main__':"
	entryPointQ = `if __name__ == "__main__":`
	entryStub   = "\n\nif __name__ == '__main__':\n    pass\n"
	fixedSuffix = ".fixed"
)

type scanState int

const (
	passthrough scanState = iota
	skipping
)

// Transformer implements ports.Transformer.
type Transformer struct {
	// GuardMarker opens a block to drop when a line contains it.
	GuardMarker string

	// ShellEscape drops any line whose first non-space text starts with it.
	ShellEscape string

	// EntryGuards are the entry-point forms that count as already present.
	// The first one is appended when none is found.
	EntryGuards []string

	// DefaultFormat is the extension the scripts hardcode.
	DefaultFormat domain.Format
}

// NewColabTransformer returns a Transformer for Google Colab notebooks
// exported as Python scripts.
func NewColabTransformer() *Transformer {
	return &Transformer{
		GuardMarker:   colabGuard,
		ShellEscape:   shellEscape,
		EntryGuards:   []string{entryPoint, entryPointQ},
		DefaultFormat: domain.ScriptDefaultFormat,
	}
}

// Transform rewrites source for standalone execution producing format.
func (t *Transformer) Transform(source string, format domain.Format) string {
	out := strings.Join(t.filter(strings.Split(source, "\n")), "\n")

	if !t.hasEntryPoint(out) {
		out += entryStub
	}

	if format != "" && format != t.DefaultFormat {
		out = strings.ReplaceAll(out, t.DefaultFormat.Ext(), format.Ext())
	}
	return out
}

func (t *Transformer) filter(lines []string) []string {
	kept := make([]string, 0, len(lines))
	state := passthrough

	for _, line := range lines {
		trimmed := strings.TrimSpace(line)

		switch state {
		case passthrough:
			if t.GuardMarker != "" && strings.Contains(line, t.GuardMarker) {
				state = skipping
				continue
			}
		case skipping:
			if trimmed != "" {
				continue
			}
			// the terminating blank line is not part of the block and is kept
			state = passthrough
		}

		if t.ShellEscape != "" && strings.HasPrefix(trimmed, t.ShellEscape) {
			continue
		}
		kept = append(kept, line)
	}
	return kept
}

func (t *Transformer) hasEntryPoint(text string) bool {
	for _, guard := range t.EntryGuards {
		if strings.Contains(text, guard) {
			return true
		}
	}
	return false
}

// FixedPath returns the sibling path the transformed script is written to:
// "dir/name.py" becomes "dir/name.fixed.py".
func FixedPath(sourcePath string) string {
	ext := filepath.Ext(sourcePath)
	return strings.TrimSuffix(sourcePath, ext) + fixedSuffix + ext
}

// IsFixedPath reports whether path looks like a transformed sibling script.
func IsFixedPath(path string) bool {
	ext := filepath.Ext(path)
	return strings.HasSuffix(strings.TrimSuffix(path, ext), fixedSuffix)
}
