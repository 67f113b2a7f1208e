// Package config loads the JSON configuration files of the analysis and
// calibration commands. Every field is optional; the Get* methods return
// the default for fields the file leaves out, and command line flags are
// applied on top.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/matsim-org/matsim-episim-libs/internal/runs"
)

const maxFileSize = 1 * 1024 * 1024 // 1MB

// load reads a .json file of at most 1MB into v.
func load(path string, v any) error {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return fmt.Errorf("failed to stat config file: %w", err)
	}
	if fileInfo.Size() > maxFileSize {
		return fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to parse config JSON: %w", err)
	}
	return nil
}

func parseDate(name string, v *string) error {
	if v == nil || *v == "" {
		return nil
	}
	if _, err := time.Parse(time.DateOnly, *v); err != nil {
		return fmt.Errorf("invalid %s '%s': %w", name, *v, err)
	}
	return nil
}

func getDate(v *string, def time.Time) time.Time {
	if v == nil || *v == "" {
		return def
	}
	d, err := time.Parse(time.DateOnly, *v)
	if err != nil {
		return def
	}
	return d
}

// Analysis configures reading simulation output for analysis.
type Analysis struct {
	RunDir   *string `json:"run_dir,omitempty"`
	District *string `json:"district,omitempty"`
	Start    *string `json:"start,omitempty"` // ISO date, inclusive
	End      *string `json:"end,omitempty"`   // ISO date, inclusive
	Window   *int    `json:"window,omitempty"`
}

// LoadAnalysis loads an Analysis from a JSON file and validates it.
func LoadAnalysis(path string) (*Analysis, error) {
	cfg := &Analysis{}
	if err := load(path, cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks that the configuration values are valid.
func (c *Analysis) Validate() error {
	if c.Window != nil && *c.Window < 1 {
		return fmt.Errorf("window must be positive, got %d", *c.Window)
	}
	if err := parseDate("start", c.Start); err != nil {
		return err
	}
	if err := parseDate("end", c.End); err != nil {
		return err
	}
	if c.Start != nil && c.End != nil && *c.Start != "" && *c.End != "" && c.GetEnd().Before(c.GetStart()) {
		return fmt.Errorf("end %s is before start %s", *c.End, *c.Start)
	}
	return nil
}

// GetRunDir returns the run directory or "output".
func (c *Analysis) GetRunDir() string {
	if c.RunDir == nil || *c.RunDir == "" {
		return "output"
	}
	return *c.RunDir
}

// GetDistrict returns the district filter. Empty keeps all districts.
func (c *Analysis) GetDistrict() string {
	if c.District == nil {
		return ""
	}
	return *c.District
}

// GetWindow returns the smoothing window or runs.DefaultWindow.
func (c *Analysis) GetWindow() int {
	if c.Window == nil {
		return runs.DefaultWindow
	}
	return *c.Window
}

// GetStart returns the first date of the analysis window, zero when unset.
func (c *Analysis) GetStart() time.Time {
	return getDate(c.Start, time.Time{})
}

// GetEnd returns the last date of the analysis window, zero when unset.
func (c *Analysis) GetEnd() time.Time {
	return getDate(c.End, time.Time{})
}

// RunOptions returns the options for reading runs.
func (c *Analysis) RunOptions() runs.Options {
	return runs.Options{District: c.GetDistrict(), Window: c.GetWindow()}
}
