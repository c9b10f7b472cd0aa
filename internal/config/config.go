// Package config loads the optional YAML configuration file of the server.
//
// Every key mirrors a command line flag. A value from the file only applies
// when the flag was not given explicitly.
package config

import (
	"bytes"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// File is the content of the configuration file. Absent keys leave the flag
// default in place.
type File struct {
	HTTP           string `yaml:"http"`
	DataDir        string `yaml:"data_dir"`
	StaticDir      string `yaml:"static_dir"`
	LogLevel       string `yaml:"log_level"`
	GeoDB          string `yaml:"geo_db"`
	Watch          *bool  `yaml:"watch"`
	Metrics        *bool  `yaml:"metrics"`
	LoadWorkers    *int   `yaml:"load_workers"`
	SaveRatePerMin *int   `yaml:"save_rate_per_min"`
	SaveBurst      *int   `yaml:"save_burst"`
}

// Load reads and validates a configuration file. Unknown keys are rejected.
// The path is provided by the CLI user, so file inclusion is expected.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path) //nolint:gosec // User-specified config path
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates configuration content.
func Parse(data []byte) (*File, error) {
	var f File
	d := yaml.NewDecoder(bytes.NewReader(data))
	d.KnownFields(true)
	if err := d.Decode(&f); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := f.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &f, nil
}

// Validate checks the values that the flags cannot check by themselves.
func (f *File) Validate() error {
	if f.LogLevel != "" {
		if _, err := ParseLogLevel(f.LogLevel); err != nil {
			return err
		}
	}
	for name, v := range map[string]*int{
		"load_workers":      f.LoadWorkers,
		"save_rate_per_min": f.SaveRatePerMin,
		"save_burst":        f.SaveBurst,
	} {
		if v != nil && *v < 0 {
			return fmt.Errorf("%s must not be negative, got %d", name, *v)
		}
	}
	return nil
}

// Apply sets the flags of fs from the file, skipping the flags that were set
// on the command line.
func (f *File) Apply(fs *flag.FlagSet) error {
	set := map[string]bool{}
	fs.Visit(func(fl *flag.Flag) {
		set[fl.Name] = true
	})
	values := []struct {
		flag  string
		value string
		ok    bool
	}{
		{"http", f.HTTP, f.HTTP != ""},
		{"data-dir", f.DataDir, f.DataDir != ""},
		{"static-dir", f.StaticDir, f.StaticDir != ""},
		{"log-level", f.LogLevel, f.LogLevel != ""},
		{"geo-db", f.GeoDB, f.GeoDB != ""},
		{"watch", formatBool(f.Watch), f.Watch != nil},
		{"metrics", formatBool(f.Metrics), f.Metrics != nil},
		{"load-workers", formatInt(f.LoadWorkers), f.LoadWorkers != nil},
		{"save-rate-per-min", formatInt(f.SaveRatePerMin), f.SaveRatePerMin != nil},
		{"save-burst", formatInt(f.SaveBurst), f.SaveBurst != nil},
	}
	for _, v := range values {
		if !v.ok || set[v.flag] || fs.Lookup(v.flag) == nil {
			continue
		}
		if err := fs.Set(v.flag, v.value); err != nil {
			return fmt.Errorf("failed to apply %s: %w", v.flag, err)
		}
	}
	return nil
}

// ParseLogLevel parses debug, info, warn or error.
func ParseLogLevel(s string) (slog.Level, error) {
	switch s {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("unknown log level: %q", s)
	}
}

func formatBool(b *bool) string {
	if b == nil {
		return ""
	}
	return strconv.FormatBool(*b)
}

func formatInt(i *int) string {
	if i == nil {
		return ""
	}
	return strconv.Itoa(*i)
}
