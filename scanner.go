// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package dvrrecover

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/siderolabs/gen/optional"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/siderolabs/go-dvr-recover/chunk"
	"github.com/siderolabs/go-dvr-recover/mpegps"
	"github.com/siderolabs/go-dvr-recover/store"
)

// Source is the device image being scanned.
type Source interface {
	io.ReadSeeker

	Size() int64
}

// ScanStats summarizes a scan run.
type ScanStats struct {
	SessionID string

	// StartBlock is the block the run started (or resumed) at.
	StartBlock  int64
	BlocksRead  int64
	TotalBlocks int64

	// Chunks is the number of chunks in the store, including ones found by earlier runs.
	Chunks int

	// Elapsed is the scanning time accumulated over all runs of the session.
	Elapsed time.Duration
	// RunTime is the duration of this run.
	RunTime time.Duration

	Resumed  bool
	Finished bool
}

// BytesPerSecond returns the read throughput of this run.
func (s ScanStats) BytesPerSecond(blockSize int) float64 {
	if s.RunTime <= 0 {
		return 0
	}

	return float64(s.BlocksRead) * float64(blockSize) / s.RunTime.Seconds()
}

// Scanner splits the device image into chunks of continuous pack headers.
//
// The scan is resumable: progress is persisted to the store as a checkpoint,
// and a chunk is stored together with a checkpoint past the block which closed it.
type Scanner struct {
	store *store.Store
	opt   Options
}

// NewScanner creates a Scanner writing to st.
func NewScanner(st *store.Store, opts ...OptionFunc) (*Scanner, error) {
	opt, err := applyOptions(opts)
	if err != nil {
		return nil, err
	}

	return &Scanner{
		store: st,
		opt:   opt,
	}, nil
}

// scanState is the in-memory state machine of the scan.
type scanState struct {
	active *chunk.Draft
	prev   optional.Optional[uint64]

	sessionID string
	elapsed   time.Duration
	next      int64
}

// step feeds block i into the state machine, returning the draft closed by it, if any.
func (s *scanState) step(i int64, scr optional.Optional[uint64], maxGap uint64) (*chunk.Draft, error) {
	var closed *chunk.Draft

	if !scr.IsPresent() {
		if s.active != nil {
			closed = s.active
			s.active = nil

			if err := closed.Close(i, s.prev.ValueOrZero()); err != nil {
				return nil, err
			}
		}

		return closed, nil
	}

	clock := scr.ValueOrZero()

	if s.active != nil {
		prev := s.prev.ValueOrZero()

		if clock < prev || clock-prev > maxGap {
			closed = s.active
			s.active = nil

			if err := closed.Close(i, prev); err != nil {
				return nil, err
			}
		}
	}

	if s.active == nil {
		s.active = chunk.NewDraft(i, clock)
	}

	s.prev = optional.Some(clock)

	return closed, nil
}

func (s *scanState) checkpoint(blockSize int) store.Checkpoint {
	cp := store.Checkpoint{
		SessionID: s.sessionID,
		NextBlock: s.next,
		BlockSize: blockSize,
		Elapsed:   s.elapsed,
	}

	if s.active != nil {
		cp.ActiveChunk = &store.ActiveChunk{
			BlockStart: s.active.BlockStart(),
			ClockStart: s.active.ClockStart(),
		}
	}

	if s.prev.IsPresent() {
		prev := s.prev.ValueOrZero()
		cp.PrevClock = &prev
	}

	return cp
}

// Run scans src from the checkpoint (or from the first block) to the end.
//
// If ctx is canceled, the progress is persisted before Run returns ctx.Err().
// A block which can't be read completely fails the scan with ErrIntegrity, leaving
// the store at its last checkpoint.
func (s *Scanner) Run(ctx context.Context, src Source) (ScanStats, error) {
	state, stats, err := s.begin()
	if err != nil {
		return stats, err
	}

	blockSize := int64(s.opt.BlockSize)

	stats.TotalBlocks = src.Size() / blockSize
	stats.StartBlock = state.next

	logger := s.opt.Logger.With(zap.String("session", state.sessionID))

	if state.next > stats.TotalBlocks {
		return stats, fmt.Errorf("%w: checkpoint at block %d is beyond the end of input (%d blocks)", ErrIntegrity, state.next, stats.TotalBlocks)
	}

	if _, err = src.Seek(state.next*blockSize, io.SeekStart); err != nil {
		return stats, fmt.Errorf("failed to seek to block %d: %w", state.next, err)
	}

	logger.Info("scan started",
		zap.Bool("resumed", stats.Resumed),
		zap.Int64("start_block", state.next),
		zap.Int64("total_blocks", stats.TotalBlocks),
		zap.Int("block_size", s.opt.BlockSize),
	)

	var (
		sometimes = rate.Sometimes{Interval: s.opt.CheckpointInterval, Every: s.opt.CheckpointEvery}
		block     = make([]byte, blockSize)
		closed    *chunk.Draft
		started   = time.Now()
		elapsed0  = state.elapsed
	)

	updateTimes := func() {
		stats.RunTime = time.Since(started)
		stats.Elapsed = elapsed0 + stats.RunTime
		state.elapsed = stats.Elapsed
	}

	for i := state.next; i < stats.TotalBlocks; i++ {
		if err = ctx.Err(); err != nil {
			updateTimes()

			if cpErr := s.persist(state, nil); cpErr != nil {
				return stats, errors.Join(err, cpErr)
			}

			logger.Info("scan interrupted", zap.Int64("next_block", state.next), zap.Int("chunks", stats.Chunks))

			return stats, err
		}

		if _, err = io.ReadFull(src, block); err != nil {
			updateTimes()

			return stats, fmt.Errorf("%w: failed to read block %d: %w", ErrIntegrity, i, err)
		}

		stats.BlocksRead++

		if closed, err = state.step(i, mpegps.DecodeSCR(block), s.opt.MaxCreateGap); err != nil {
			return stats, err
		}

		state.next = i + 1

		if closed != nil && closed.BlockSize() >= s.opt.MinChunkSize {
			updateTimes()

			if err = s.persist(state, closed); err != nil {
				return stats, err
			}

			stats.Chunks++

			s.logChunk(logger, closed)
		}

		sometimes.Do(func() {
			updateTimes()

			if err = s.persist(state, nil); err != nil {
				return
			}

			s.logProgress(logger, stats)
		})

		if err != nil {
			return stats, err
		}
	}

	updateTimes()

	if err = s.finish(state, stats.TotalBlocks); err != nil {
		return stats, err
	}

	if state.active != nil {
		stats.Chunks++
	}

	stats.Finished = true

	logger.Info("scan finished",
		zap.Int64("blocks_read", stats.BlocksRead),
		zap.Int("chunks", stats.Chunks),
		zap.Duration("elapsed", stats.Elapsed),
		zap.Float64("mib_per_second", stats.BytesPerSecond(s.opt.BlockSize)/(1<<20)),
	)

	return stats, nil
}

// begin restores the scan state from the checkpoint.
func (s *Scanner) begin() (*scanState, ScanStats, error) {
	var (
		state *scanState
		stats ScanStats
	)

	err := s.store.View(func(tx *store.Tx) error {
		count, err := tx.ChunkCount()
		if err != nil {
			return err
		}

		stats.Chunks = count

		stored, err := tx.Checkpoint()
		if err != nil {
			return err
		}

		if !stored.IsPresent() {
			if count > 0 {
				return ErrScanCompleted
			}

			state = &scanState{
				sessionID: uuid.NewString(),
			}

			return nil
		}

		cp := stored.ValueOrZero()

		if cp.BlockSize != s.opt.BlockSize {
			return fmt.Errorf("%w: checkpoint %d, configured %d", ErrBlockSizeMismatch, cp.BlockSize, s.opt.BlockSize)
		}

		state = &scanState{
			sessionID: cp.SessionID,
			elapsed:   cp.Elapsed,
			next:      cp.NextBlock,
		}

		if cp.PrevClock != nil {
			state.prev = optional.Some(*cp.PrevClock)
		}

		if cp.ActiveChunk != nil {
			state.active = chunk.NewDraft(cp.ActiveChunk.BlockStart, cp.ActiveChunk.ClockStart)
		}

		stats.Resumed = true

		return nil
	})
	if err != nil {
		return nil, stats, err
	}

	stats.SessionID = state.sessionID

	return state, stats, nil
}

// persist writes the checkpoint and, optionally, a closed chunk in one transaction.
func (s *Scanner) persist(state *scanState, closed *chunk.Draft) error {
	return s.store.Update(func(tx *store.Tx) error {
		if closed != nil {
			if _, err := tx.InsertChunk(closed); err != nil {
				return err
			}
		}

		return tx.PutCheckpoint(state.checkpoint(s.opt.BlockSize))
	})
}

// finish closes the active chunk at the end of input and removes the checkpoint.
func (s *Scanner) finish(state *scanState, totalBlocks int64) error {
	if state.active != nil {
		if err := state.active.Close(totalBlocks, state.prev.ValueOrZero()); err != nil {
			return err
		}

		if state.active.BlockSize() < s.opt.MinChunkSize {
			state.active = nil
		}
	}

	return s.store.Update(func(tx *store.Tx) error {
		if state.active != nil {
			if _, err := tx.InsertChunk(state.active); err != nil {
				return err
			}
		}

		return tx.ClearCheckpoint()
	})
}

func (s *Scanner) logChunk(logger *zap.Logger, d *chunk.Draft) {
	logger.Debug("chunk found",
		zap.Int64("block_start", d.BlockStart()),
		zap.Int64("block_size", d.BlockSize()),
		zap.Uint64("clock_start", d.ClockStart()),
	)
}

func (s *Scanner) logProgress(logger *zap.Logger, stats ScanStats) {
	var percent float64

	if stats.TotalBlocks > 0 {
		percent = float64(stats.StartBlock+stats.BlocksRead) * 100 / float64(stats.TotalBlocks)
	}

	var blocksPerSecond float64

	if stats.RunTime > 0 {
		blocksPerSecond = float64(stats.BlocksRead) / stats.RunTime.Seconds()
	}

	logger.Info("scan progress",
		zap.Float64("percent", percent),
		zap.Int64("block", stats.StartBlock+stats.BlocksRead),
		zap.Float64("blocks_per_second", blocksPerSecond),
		zap.Float64("mib_per_second", stats.BytesPerSecond(s.opt.BlockSize)/(1<<20)),
		zap.Int("chunks", stats.Chunks),
	)
}
