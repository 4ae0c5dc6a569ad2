// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

// Package chunk defines recording fragments found on the device image.
package chunk

import (
	"errors"
	"fmt"
	"time"

	"github.com/siderolabs/gen/optional"

	"github.com/siderolabs/go-dvr-recover/mpegps"
)

// Errors returned by Draft.
var (
	ErrDraftCommitted = errors.New("draft already committed")
	ErrDraftOpen      = errors.New("draft is not closed")
)

// ID identifies a persisted chunk.
type ID uint64

// Chunk is a contiguous run of blocks believed to belong to one continuous recording segment.
type Chunk struct {
	// Predecessor is the chunk immediately preceding this one in the recording.
	Predecessor optional.Optional[ID]

	ID ID

	// BlockStart and BlockSize are counted in blocks from the start of the stream.
	BlockStart int64
	BlockSize  int64

	// ClockStart and ClockEnd are the SCR values of the first and last block.
	ClockStart uint64
	ClockEnd   uint64
}

// BlockEnd returns the index of the block right after the chunk.
func (c Chunk) BlockEnd() int64 {
	return c.BlockStart + c.BlockSize
}

// Duration returns the recording time covered by the chunk.
func (c Chunk) Duration() time.Duration {
	if c.ClockEnd < c.ClockStart {
		return 0
	}

	return mpegps.Duration(c.ClockEnd - c.ClockStart)
}

// Draft is a chunk which is still being scanned and has no identity yet.
//
// A Draft turns into a Chunk only through Commit; once committed, the draft
// can't be changed or committed again.
type Draft struct {
	blockStart int64
	blockSize  int64

	clockStart uint64
	clockEnd   uint64

	closed    bool
	committed bool
}

// NewDraft starts a draft at the given block and clock value.
func NewDraft(blockStart int64, clockStart uint64) *Draft {
	return &Draft{
		blockStart: blockStart,
		clockStart: clockStart,
	}
}

// BlockStart returns the first block of the draft.
func (d *Draft) BlockStart() int64 {
	return d.blockStart
}

// ClockStart returns the clock value of the first block of the draft.
func (d *Draft) ClockStart() uint64 {
	return d.clockStart
}

// BlockSize returns the number of blocks of a closed draft.
func (d *Draft) BlockSize() int64 {
	return d.blockSize
}

// Close ends the draft before blockEnd, clockEnd being the clock value of its last block.
func (d *Draft) Close(blockEnd int64, clockEnd uint64) error {
	if d.committed {
		return ErrDraftCommitted
	}

	if blockEnd < d.blockStart {
		return fmt.Errorf("draft end block %d is before its start %d", blockEnd, d.blockStart)
	}

	d.blockSize = blockEnd - d.blockStart
	d.clockEnd = clockEnd
	d.closed = true

	return nil
}

// Commit converts the closed draft into a Chunk with the given id.
func (d *Draft) Commit(id ID) (Chunk, error) {
	if d.committed {
		return Chunk{}, ErrDraftCommitted
	}

	if !d.closed {
		return Chunk{}, ErrDraftOpen
	}

	d.committed = true

	return Chunk{
		ID:         id,
		BlockStart: d.blockStart,
		BlockSize:  d.blockSize,
		ClockStart: d.clockStart,
		ClockEnd:   d.clockEnd,
	}, nil
}
