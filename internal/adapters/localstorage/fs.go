package localstorage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"syscall"

	"imagegen/internal/core/domain"
)

// LocalStorage implements ports.Storage for the local filesystem.
type LocalStorage struct {
	BaseDir string

	// Extensions selects which files Harvest moves. Defaults to
	// domain.ArtifactExtensions.
	Extensions []string
}

// NewLocalStorage creates a new LocalStorage instance.
func NewLocalStorage(baseDir string) *LocalStorage {
	return &LocalStorage{BaseDir: baseDir, Extensions: domain.ArtifactExtensions}
}

// InitJob creates the job directory, including parents.
func (s *LocalStorage) InitJob(ctx context.Context, jobName string) error {
	path := s.GetJobPath(jobName)
	if err := os.MkdirAll(path, 0755); err != nil {
		return fmt.Errorf("failed to create job directory %s: %w", path, err)
	}
	return nil
}

// Harvest moves the artifact files found directly under srcDir into the job
// directory. Files are visited extension by extension, then by name.
func (s *LocalStorage) Harvest(ctx context.Context, srcDir, jobName string) ([]string, error) {
	entries, err := os.ReadDir(srcDir)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", srcDir, err)
	}

	dest := s.GetJobPath(jobName)
	var moved []string
	for _, ext := range s.Extensions {
		var names []string
		for _, entry := range entries {
			if entry.Type().IsRegular() && strings.HasSuffix(entry.Name(), ext) {
				names = append(names, entry.Name())
			}
		}
		sort.Strings(names)

		for _, name := range names {
			if err := ctx.Err(); err != nil {
				return moved, err
			}
			to := filepath.Join(dest, name)
			if err := moveFile(filepath.Join(srcDir, name), to); err != nil {
				return moved, fmt.Errorf("failed to move %s: %w", name, err)
			}
			moved = append(moved, to)
		}
	}
	return moved, nil
}

// GetJobPath returns the path for a job directory.
func (s *LocalStorage) GetJobPath(jobName string) string {
	return filepath.Join(s.BaseDir, jobName)
}

// moveFile renames src to dst, falling back to copy and remove when they
// live on different filesystems.
func moveFile(src, dst string) error {
	err := os.Rename(src, dst)
	if err == nil {
		return nil
	}
	if !errors.Is(err, syscall.EXDEV) {
		return err
	}

	if err := copyFile(src, dst); err != nil {
		return err
	}
	return os.Remove(src)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return err
	}

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return fmt.Errorf("failed to copy file: %w", err)
	}
	return out.Close()
}
