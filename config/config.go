// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

// Package config manages user settings kept in the store's setting table.
package config

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/siderolabs/gen/xslices"

	"github.com/siderolabs/go-dvr-recover/mpegps"
)

// Errors returned by the configuration layer.
var (
	ErrUnknownKey   = errors.New("unknown setting")
	ErrInvalidValue = errors.New("invalid setting value")
	ErrNoInputs     = errors.New("no input files configured")
	ErrExportDir    = errors.New("export directory is not usable")
)

// Setting keys.
const (
	KeyInputs             = "input_filenames"
	KeyBlockSize          = "blocksize"
	KeyMinChunkSize       = "min_chunk_size"
	KeyMaxCreateGap       = "max_create_gap"
	KeyMaxSortGap         = "max_sort_gap"
	KeyExportDir          = "export_dir"
	KeyCheckpointInterval = "checkpoint_interval"
)

// inputSeparator joins input paths in a single setting value, it can't appear in a path.
const inputSeparator = "\x00"

// Config is the effective configuration: stored settings merged over defaults.
type Config struct {
	// Inputs are the image files in concatenation order.
	Inputs []string

	// ExportDir is empty if not set.
	ExportDir string

	BlockSize    int
	MinChunkSize int64

	// MaxCreateGap and MaxSortGap are in clock ticks.
	MaxCreateGap uint64
	MaxSortGap   uint64

	CheckpointInterval time.Duration
}

// Defaults returns the configuration used when nothing is stored.
func Defaults() Config {
	return Config{
		BlockSize:          2048,
		MinChunkSize:       25600,
		MaxCreateGap:       mpegps.ClockRate,
		MaxSortGap:         mpegps.ClockRate,
		CheckpointInterval: 30 * time.Second,
	}
}

// Source provides stored settings.
type Source interface {
	Settings() (map[string]string, error)
}

// Sink stores settings.
type Sink interface {
	SetSetting(key, value string) error
	DeleteSetting(key string) error
}

type field struct {
	key    string
	parse  func(c *Config, value string) error
	format func(c Config) string
}

var fields = []field{
	{
		key: KeyInputs,
		parse: func(c *Config, value string) error {
			c.Inputs = splitInputs(value)

			return nil
		},
		format: func(c Config) string { return strings.Join(c.Inputs, inputSeparator) },
	},
	{
		key: KeyBlockSize,
		parse: func(c *Config, value string) error {
			v, err := strconv.Atoi(value)
			if err != nil {
				return err
			}

			if v < mpegps.HeaderSize {
				return fmt.Errorf("block size should be at least %d bytes", mpegps.HeaderSize)
			}

			c.BlockSize = v

			return nil
		},
		format: func(c Config) string { return strconv.Itoa(c.BlockSize) },
	},
	{
		key: KeyMinChunkSize,
		parse: func(c *Config, value string) error {
			v, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return err
			}

			if v < 0 {
				return errors.New("minimum chunk size should be non-negative")
			}

			c.MinChunkSize = v

			return nil
		},
		format: func(c Config) string { return strconv.FormatInt(c.MinChunkSize, 10) },
	},
	{
		key: KeyMaxCreateGap,
		parse: func(c *Config, value string) (err error) {
			c.MaxCreateGap, err = parseTicks(value)

			return err
		},
		format: func(c Config) string { return strconv.FormatUint(c.MaxCreateGap, 10) },
	},
	{
		key: KeyMaxSortGap,
		parse: func(c *Config, value string) (err error) {
			c.MaxSortGap, err = parseTicks(value)

			return err
		},
		format: func(c Config) string { return strconv.FormatUint(c.MaxSortGap, 10) },
	},
	{
		key: KeyExportDir,
		parse: func(c *Config, value string) error {
			c.ExportDir = value

			return nil
		},
		format: func(c Config) string { return c.ExportDir },
	},
	{
		key: KeyCheckpointInterval,
		parse: func(c *Config, value string) error {
			v, err := time.ParseDuration(value)
			if err != nil {
				return err
			}

			if v <= 0 {
				return errors.New("checkpoint interval should be positive")
			}

			c.CheckpointInterval = v

			return nil
		},
		format: func(c Config) string { return c.CheckpointInterval.String() },
	},
}

func lookup(key string) (field, error) {
	idx := slices.IndexFunc(fields, func(f field) bool { return f.key == key })
	if idx == -1 {
		return field{}, fmt.Errorf("%w: %q", ErrUnknownKey, key)
	}

	return fields[idx], nil
}

// Keys returns all setting keys in display order.
func Keys() []string {
	return xslices.Map(fields, func(f field) string { return f.key })
}

// Load merges the stored settings over Defaults.
//
// Keys which are not known are ignored.
func Load(src Source) (Config, error) {
	stored, err := src.Settings()
	if err != nil {
		return Config{}, err
	}

	cfg := Defaults()

	for _, f := range fields {
		value, ok := stored[f.key]
		if !ok {
			continue
		}

		if err = f.parse(&cfg, value); err != nil {
			return Config{}, fmt.Errorf("%w: stored %s %q: %w", ErrInvalidValue, f.key, value, err)
		}
	}

	return cfg, nil
}

// Set validates and stores a single setting.
func Set(dst Sink, key, value string) error {
	f, err := lookup(key)
	if err != nil {
		return err
	}

	cfg := Defaults()

	if err = f.parse(&cfg, value); err != nil {
		return fmt.Errorf("%w: %s %q: %w", ErrInvalidValue, key, value, err)
	}

	return dst.SetSetting(key, value)
}

// Unset removes a setting, restoring its default.
func Unset(dst Sink, key string) error {
	if _, err := lookup(key); err != nil {
		return err
	}

	return dst.DeleteSetting(key)
}

// Reset removes all settings.
func Reset(dst Sink) error {
	for _, f := range fields {
		if err := dst.DeleteSetting(f.key); err != nil {
			return err
		}
	}

	return nil
}

// SetInputs stores the list of input files.
func SetInputs(dst Sink, inputs []string) error {
	if len(inputs) == 0 {
		return dst.DeleteSetting(KeyInputs)
	}

	for _, input := range inputs {
		if input == "" || strings.Contains(input, inputSeparator) {
			return fmt.Errorf("%w: input path %q", ErrInvalidValue, input)
		}
	}

	return dst.SetSetting(KeyInputs, strings.Join(inputs, inputSeparator))
}

// Value returns the effective value of a setting formatted for display.
func (c Config) Value(key string) (string, error) {
	f, err := lookup(key)
	if err != nil {
		return "", err
	}

	return f.format(c), nil
}

// ValidateScan checks that every input file can be read.
func (c Config) ValidateScan() error {
	if len(c.Inputs) == 0 {
		return ErrNoInputs
	}

	for _, input := range c.Inputs {
		f, err := os.Open(input)
		if err != nil {
			return fmt.Errorf("%w: input %q: %w", ErrInvalidValue, input, err)
		}

		f.Close() //nolint:errcheck
	}

	return nil
}

// ValidateExport checks that the export directory is set and exists.
func (c Config) ValidateExport() error {
	if c.ExportDir == "" {
		return fmt.Errorf("%w: %s is not set", ErrExportDir, KeyExportDir)
	}

	st, err := os.Stat(c.ExportDir)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrExportDir, err)
	}

	if !st.IsDir() {
		return fmt.Errorf("%w: %q is not a directory", ErrExportDir, c.ExportDir)
	}

	return nil
}

func parseTicks(value string) (uint64, error) {
	return strconv.ParseUint(value, 10, 64)
}

func splitInputs(value string) []string {
	if value == "" {
		return nil
	}

	return strings.Split(value, inputSeparator)
}
