// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package dvrrecover

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/siderolabs/go-dvr-recover/chunk"
	"github.com/siderolabs/go-dvr-recover/store"
)

// partSuffix marks files which are still being written.
const partSuffix = ".part"

// copyBatch is the number of blocks copied per read.
const copyBatch = 256

// Opener opens a fresh stream over the device image.
type Opener func() (io.ReadSeekCloser, error)

// ExportResult describes one exported chain.
type ExportResult struct {
	Path string

	Index  int
	Chunks int

	// Bytes is the uncompressed size of the recording.
	Bytes int64

	Duration time.Duration
	CopyTime time.Duration
}

// Exporter writes every chain of chunks as one file.
type Exporter struct {
	store *store.Store
	open  Opener
	opt   Options
}

// NewExporter creates an Exporter reading chunk data through open.
func NewExporter(st *store.Store, open Opener, opts ...OptionFunc) (*Exporter, error) {
	opt, err := applyOptions(opts)
	if err != nil {
		return nil, err
	}

	if opt.ExportDir == "" {
		return nil, errors.New("export directory should be set")
	}

	return &Exporter{
		store: st,
		open:  open,
		opt:   opt,
	}, nil
}

// FileName returns the name of the file chain index is exported to.
func (e *Exporter) FileName(index int) string {
	name := fmt.Sprintf("chunk_%04d.mpg", index)

	if e.opt.Compressor != nil {
		name += e.opt.Compressor.Extension()
	}

	return name
}

// ExportAll exports every chain.
func (e *Exporter) ExportAll(ctx context.Context) ([]ExportResult, error) {
	chains, err := Chains(e.store)
	if err != nil {
		return nil, err
	}

	results := make([]ExportResult, 0, len(chains))

	for _, c := range chains {
		result, err := e.export(ctx, c)
		if err != nil {
			return results, err
		}

		results = append(results, result)
	}

	return results, nil
}

// ExportChain exports the chain with the given 1-based index.
func (e *Exporter) ExportChain(ctx context.Context, index int) (ExportResult, error) {
	chains, err := Chains(e.store)
	if err != nil {
		return ExportResult{}, err
	}

	if index < 1 || index > len(chains) {
		return ExportResult{}, fmt.Errorf("%w: %d, have %d chains", ErrChainIndex, index, len(chains))
	}

	return e.export(ctx, chains[index-1])
}

func (e *Exporter) export(ctx context.Context, c chunk.Chain) (ExportResult, error) {
	result := ExportResult{
		Path:     filepath.Join(e.opt.ExportDir, e.FileName(c.Index)),
		Index:    c.Index,
		Chunks:   len(c.Chunks),
		Duration: c.Duration(),
	}

	src, err := e.open()
	if err != nil {
		return result, fmt.Errorf("failed to open input: %w", err)
	}

	defer src.Close() //nolint:errcheck

	start := time.Now()

	if err = atomicCreateFile(result.Path, 0o644, func(w io.Writer) error {
		return e.writeChain(ctx, w, src, c, &result.Bytes)
	}); err != nil {
		return result, fmt.Errorf("failed to export chain %d: %w", c.Index, err)
	}

	result.CopyTime = time.Since(start)

	e.opt.Logger.Info("chain exported",
		zap.Int("index", c.Index),
		zap.String("path", result.Path),
		zap.Int("chunks", result.Chunks),
		zap.Int64("bytes", result.Bytes),
		zap.Duration("duration", result.Duration),
		zap.Float64("mib_per_second", float64(result.Bytes)/(1<<20)/max(result.CopyTime.Seconds(), 1e-9)),
	)

	return result, nil
}

func (e *Exporter) writeChain(ctx context.Context, w io.Writer, src io.ReadSeeker, c chunk.Chain, written *int64) error {
	if e.opt.Compressor == nil {
		return e.copyChain(ctx, w, src, c, written)
	}

	cw, err := e.opt.Compressor.NewWriter(w)
	if err != nil {
		return err
	}

	if err = e.copyChain(ctx, cw, src, c, written); err != nil {
		cw.Close() //nolint:errcheck

		return err
	}

	return cw.Close()
}

// copyChain copies the blocks of every chunk of c in order, requiring full blocks.
func (e *Exporter) copyChain(ctx context.Context, w io.Writer, src io.ReadSeeker, c chunk.Chain, written *int64) error {
	blockSize := int64(e.opt.BlockSize)
	buf := make([]byte, copyBatch*blockSize)

	for _, ch := range c.Chunks {
		if _, err := src.Seek(ch.BlockStart*blockSize, io.SeekStart); err != nil {
			return fmt.Errorf("%w: chunk %d: %w", ErrIntegrity, ch.ID, err)
		}

		for remaining := ch.BlockSize; remaining > 0; {
			if err := ctx.Err(); err != nil {
				return err
			}

			n := min(remaining, copyBatch)
			p := buf[:n*blockSize]

			if _, err := io.ReadFull(src, p); err != nil {
				return fmt.Errorf("%w: chunk %d: failed to read block %d: %w", ErrIntegrity, ch.ID, ch.BlockEnd()-remaining, err)
			}

			if _, err := w.Write(p); err != nil {
				return err
			}

			*written += int64(len(p))
			remaining -= n
		}

		e.opt.Logger.Debug("chunk exported",
			zap.Int("index", c.Index),
			zap.Uint64("chunk", uint64(ch.ID)),
			zap.Int64("block_start", ch.BlockStart),
			zap.Int64("block_size", ch.BlockSize),
		)
	}

	return nil
}

// atomicCreateFile writes path through a temporary file which is renamed once fill succeeds.
//
// If fill fails, the temporary file is left in place.
func atomicCreateFile(path string, mode os.FileMode, fill func(w io.Writer) error) error {
	tmpPath := path + partSuffix

	f, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, mode)
	if err != nil {
		return fmt.Errorf("failed to create temporary file: %w", err)
	}

	if err = fill(f); err != nil {
		f.Close() //nolint:errcheck

		return err
	}

	if err = f.Close(); err != nil {
		return fmt.Errorf("failed to close temporary file: %w", err)
	}

	if err = os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath) //nolint:errcheck

		return fmt.Errorf("failed to rename temporary file: %w", err)
	}

	return nil
}
