// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package store

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/siderolabs/gen/optional"

	"github.com/siderolabs/go-dvr-recover/chunk"
)

// chunk record layout, all fields big-endian:
//
//	0  block start    int64
//	8  block size     int64
//	16 clock start    uint64
//	24 clock end      uint64
//	32 has pred       uint8
//	33 predecessor    uint64
const chunkRecordSize = 41

func encodeChunk(c chunk.Chunk) []byte {
	buf := make([]byte, 0, chunkRecordSize)

	buf = binary.BigEndian.AppendUint64(buf, uint64(c.BlockStart))
	buf = binary.BigEndian.AppendUint64(buf, uint64(c.BlockSize))
	buf = binary.BigEndian.AppendUint64(buf, c.ClockStart)
	buf = binary.BigEndian.AppendUint64(buf, c.ClockEnd)

	if c.Predecessor.IsPresent() {
		buf = append(buf, 1)
	} else {
		buf = append(buf, 0)
	}

	return binary.BigEndian.AppendUint64(buf, uint64(c.Predecessor.ValueOrZero()))
}

func decodeChunk(id chunk.ID, data []byte) (chunk.Chunk, error) {
	if len(data) != chunkRecordSize {
		return chunk.Chunk{}, fmt.Errorf("chunk %d: unexpected record size %d", id, len(data))
	}

	c := chunk.Chunk{
		ID:         id,
		BlockStart: int64(binary.BigEndian.Uint64(data[0:])),
		BlockSize:  int64(binary.BigEndian.Uint64(data[8:])),
		ClockStart: binary.BigEndian.Uint64(data[16:]),
		ClockEnd:   binary.BigEndian.Uint64(data[24:]),
	}

	switch data[32] {
	case 0:
	case 1:
		c.Predecessor = optional.Some(chunk.ID(binary.BigEndian.Uint64(data[33:])))
	default:
		return chunk.Chunk{}, fmt.Errorf("chunk %d: invalid predecessor flag %d", id, data[32])
	}

	return c, nil
}

// Checkpoint is the progress of an interrupted scan.
type Checkpoint struct {
	// ActiveChunk is set if a chunk was being scanned.
	ActiveChunk *ActiveChunk `json:"active_chunk,omitempty"`

	// PrevClock is the clock value of the last block which had a pack header.
	PrevClock *uint64 `json:"prev_clock,omitempty"`

	// SessionID identifies the scan across resumptions.
	SessionID string `json:"session_id"`

	// NextBlock is the first block which hasn't been processed yet.
	NextBlock int64 `json:"next_block"`

	// BlockSize is the block size the scan was started with.
	BlockSize int `json:"block_size"`

	// Elapsed is the scanning time accumulated so far.
	Elapsed time.Duration `json:"elapsed"`
}

// ActiveChunk is the in-progress chunk of a Checkpoint.
type ActiveChunk struct {
	BlockStart int64  `json:"block_start"`
	ClockStart uint64 `json:"clock_start"`
}
