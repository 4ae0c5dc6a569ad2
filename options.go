// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package dvrrecover

import (
	"errors"
	"fmt"
	"io"
	"time"

	"go.uber.org/zap"

	"github.com/siderolabs/go-dvr-recover/config"
	"github.com/siderolabs/go-dvr-recover/mpegps"
)

// Options defines settings for Scanner, Linker and Exporter.
type Options struct {
	Compressor Compressor

	Logger *zap.Logger

	ExportDir string

	BlockSize    int
	MinChunkSize int64

	// MaxCreateGap is the largest clock step (in ticks) between consecutive blocks of one chunk.
	MaxCreateGap uint64
	// MaxSortGap is the largest clock step (in ticks) between two linked chunks.
	MaxSortGap uint64

	// CheckpointInterval is the wall-clock time between scan checkpoints.
	CheckpointInterval time.Duration
	// CheckpointEvery additionally checkpoints every N blocks, if non-zero.
	CheckpointEvery int
}

// Compressor implements an optional interface for compression of exported recordings.
type Compressor interface {
	NewWriter(w io.Writer) (io.WriteCloser, error)

	// Extension is appended to the names of compressed files, e.g. ".zst".
	Extension() string
}

func defaultOptions() Options {
	cfg := config.Defaults()

	return Options{
		Logger:             zap.NewNop(),
		BlockSize:          cfg.BlockSize,
		MinChunkSize:       cfg.MinChunkSize,
		MaxCreateGap:       cfg.MaxCreateGap,
		MaxSortGap:         cfg.MaxSortGap,
		CheckpointInterval: cfg.CheckpointInterval,
	}
}

// OptionFunc allows setting Options.
type OptionFunc func(*Options) error

func applyOptions(opts []OptionFunc) (Options, error) {
	opt := defaultOptions()

	for _, o := range opts {
		if err := o(&opt); err != nil {
			return Options{}, err
		}
	}

	return opt, nil
}

// WithConfig applies every value of the stored configuration.
func WithConfig(cfg config.Config) OptionFunc {
	return func(opt *Options) error {
		for _, o := range []OptionFunc{
			WithBlockSize(cfg.BlockSize),
			WithMinChunkSize(cfg.MinChunkSize),
			WithMaxCreateGap(cfg.MaxCreateGap),
			WithMaxSortGap(cfg.MaxSortGap),
			WithCheckpointInterval(cfg.CheckpointInterval),
		} {
			if err := o(opt); err != nil {
				return err
			}
		}

		opt.ExportDir = cfg.ExportDir

		return nil
	}
}

// WithBlockSize sets the size of a block in bytes.
func WithBlockSize(size int) OptionFunc {
	return func(opt *Options) error {
		if size < mpegps.HeaderSize {
			return fmt.Errorf("block size should be at least %d: %d", mpegps.HeaderSize, size)
		}

		opt.BlockSize = size

		return nil
	}
}

// WithMinChunkSize sets the number of blocks a chunk needs to be kept.
func WithMinChunkSize(blocks int64) OptionFunc {
	return func(opt *Options) error {
		if blocks < 0 {
			return fmt.Errorf("minimum chunk size should be non-negative: %d", blocks)
		}

		opt.MinChunkSize = blocks

		return nil
	}
}

// WithMaxCreateGap sets the clock discontinuity (in ticks) which splits chunks during the scan.
func WithMaxCreateGap(ticks uint64) OptionFunc {
	return func(opt *Options) error {
		opt.MaxCreateGap = ticks

		return nil
	}
}

// WithMaxSortGap sets the clock gap (in ticks) up to which chunks are linked.
func WithMaxSortGap(ticks uint64) OptionFunc {
	return func(opt *Options) error {
		opt.MaxSortGap = ticks

		return nil
	}
}

// WithCheckpointInterval sets how often the scan progress is persisted.
func WithCheckpointInterval(interval time.Duration) OptionFunc {
	return func(opt *Options) error {
		if interval <= 0 {
			return fmt.Errorf("checkpoint interval should be positive: %s", interval)
		}

		opt.CheckpointInterval = interval

		return nil
	}
}

// WithCheckpointEvery persists the scan progress every n blocks in addition to the interval.
func WithCheckpointEvery(n int) OptionFunc {
	return func(opt *Options) error {
		if n < 0 {
			return fmt.Errorf("checkpoint block count should be non-negative: %d", n)
		}

		opt.CheckpointEvery = n

		return nil
	}
}

// WithExportDir sets the directory exported recordings are written to.
func WithExportDir(dir string) OptionFunc {
	return func(opt *Options) error {
		if dir == "" {
			return errors.New("export directory should be set")
		}

		opt.ExportDir = dir

		return nil
	}
}

// WithCompressor compresses exported recordings.
func WithCompressor(c Compressor) OptionFunc {
	return func(opt *Options) error {
		opt.Compressor = c

		return nil
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) OptionFunc {
	return func(opt *Options) error {
		opt.Logger = logger

		return nil
	}
}
