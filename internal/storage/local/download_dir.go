// Package local manages the download directory on the local filesystem.
package local

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Config captures the parameters for the download directory.
type Config struct {
	// BaseDir is the directory archives are written to.
	BaseDir string `mapstructure:"base_dir" yaml:"base_dir"`
}

// Dir is a writable download directory.
type Dir struct {
	baseDir string
}

// New creates the directory if needed and verifies it is writable.
func New(cfg Config) (*Dir, error) {
	if strings.TrimSpace(cfg.BaseDir) == "" {
		return nil, fmt.Errorf("base directory is required")
	}
	abs, err := filepath.Abs(cfg.BaseDir)
	if err != nil {
		return nil, fmt.Errorf("resolve base directory: %w", err)
	}

	info, err := os.Stat(abs)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to stat base directory: %w", err)
		}
		if mkErr := os.MkdirAll(abs, 0o750); mkErr != nil {
			return nil, fmt.Errorf("failed to create base directory: %w", mkErr)
		}
	} else if !info.IsDir() {
		return nil, fmt.Errorf("base directory path is not a directory")
	}

	d := &Dir{baseDir: abs}
	if err := d.Check(); err != nil {
		return nil, err
	}
	return d, nil
}

// Path returns the absolute directory path.
func (d *Dir) Path() string {
	return d.baseDir
}

// Check verifies the directory still accepts writes.
func (d *Dir) Check() error {
	probe, err := os.CreateTemp(d.baseDir, ".writable_test_*")
	if err != nil {
		return fmt.Errorf("base directory is not writable: %w", err)
	}
	name := probe.Name()
	if err := probe.Close(); err != nil {
		return fmt.Errorf("close probe file: %w", err)
	}
	if err := os.Remove(name); err != nil {
		return fmt.Errorf("failed to clean up probe file: %w", err)
	}
	return nil
}

// Contains reports whether path names a regular file directly inside the
// directory and returns its cleaned absolute form.
func (d *Dir) Contains(path string) (string, bool) {
	if strings.TrimSpace(path) == "" {
		return "", false
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", false
	}
	if filepath.Dir(abs) != d.baseDir {
		return "", false
	}
	info, err := os.Stat(abs)
	if err != nil || !info.Mode().IsRegular() {
		return "", false
	}
	return abs, true
}
