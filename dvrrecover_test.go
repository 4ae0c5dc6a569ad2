// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package dvrrecover_test

import (
	"bytes"
	"testing"

	"github.com/siderolabs/gen/optional"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"

	dvrrecover "github.com/siderolabs/go-dvr-recover"
	"github.com/siderolabs/go-dvr-recover/chunk"
	"github.com/siderolabs/go-dvr-recover/mpegps"
	"github.com/siderolabs/go-dvr-recover/store"
)

const testBlockSize = 64

// image builds a synthetic device image block by block.
type image struct {
	data []byte
}

func (img *image) blocks() int {
	return len(img.data) / testBlockSize
}

// fill appends the payload of the current block; it never forms a pack start code.
func (img *image) fill(block []byte) []byte {
	idx := img.blocks()

	for j := len(block); j < testBlockSize; j++ {
		block = append(block, byte(0x80|(idx*7+j)&0x7f))
	}

	return block
}

// run appends n blocks with pack headers, clocks starting at start and advancing by step.
func (img *image) run(start, step uint64, n int) *image {
	for i := range n {
		block := mpegps.AppendPackHeader(make([]byte, 0, testBlockSize), start+uint64(i)*step)

		img.data = append(img.data, img.fill(block)...)
	}

	return img
}

// garbage appends n blocks without pack headers.
func (img *image) garbage(n int) *image {
	for range n {
		img.data = append(img.data, img.fill(make([]byte, 0, testBlockSize))...)
	}

	return img
}

func (img *image) reader() *bytes.Reader {
	return bytes.NewReader(img.data)
}

// span returns the bytes of blocks [start, end).
func (img *image) span(start, end int64) []byte {
	return img.data[start*testBlockSize : end*testBlockSize]
}

func openStore(t *testing.T) *store.Store {
	t.Helper()

	st, err := store.Open("", store.WithInMemory(), store.WithLogger(zaptest.NewLogger(t)))
	require.NoError(t, err)

	t.Cleanup(func() { require.NoError(t, st.Close()) })

	return st
}

func storedChunks(t *testing.T, st *store.Store) []chunk.Chunk {
	t.Helper()

	var chunks []chunk.Chunk

	require.NoError(t, st.View(func(tx *store.Tx) error {
		var err error

		chunks, err = tx.Chunks()

		return err
	}))

	return chunks
}

type chunkRecord struct {
	pred chunk.ID

	blockStart, blockSize int64
	clockStart, clockEnd  uint64
}

// insertChunks stores chunks with ids 1..n, pred 0 means no predecessor.
func insertChunks(t *testing.T, st *store.Store, records ...chunkRecord) {
	t.Helper()

	require.NoError(t, st.Update(func(tx *store.Tx) error {
		for _, rec := range records {
			d := chunk.NewDraft(rec.blockStart, rec.clockStart)

			if err := d.Close(rec.blockStart+rec.blockSize, rec.clockEnd); err != nil {
				return err
			}

			c, err := tx.InsertChunk(d)
			if err != nil {
				return err
			}

			if rec.pred != 0 {
				c.Predecessor = optional.Some(rec.pred)

				if err = tx.UpdateChunk(c); err != nil {
					return err
				}
			}
		}

		return nil
	}))
}

func TestClear(t *testing.T) {
	t.Parallel()

	st := openStore(t)

	insertChunks(t, st, chunkRecord{blockSize: 1}, chunkRecord{blockStart: 1, blockSize: 1})

	require.NoError(t, st.Update(func(tx *store.Tx) error {
		return tx.PutCheckpoint(store.Checkpoint{NextBlock: 2, BlockSize: testBlockSize})
	}))

	require.NoError(t, dvrrecover.Clear(st))

	assert.Empty(t, storedChunks(t, st))

	require.NoError(t, st.View(func(tx *store.Tx) error {
		cp, err := tx.Checkpoint()
		require.NoError(t, err)
		assert.False(t, cp.IsPresent())

		return nil
	}))

	// clearing an empty store is fine
	require.NoError(t, dvrrecover.Clear(st))
}

func TestChains(t *testing.T) {
	t.Parallel()

	st := openStore(t)

	insertChunks(t, st,
		chunkRecord{blockStart: 0, blockSize: 10, clockStart: 500, clockEnd: 600},
		chunkRecord{blockStart: 10, blockSize: 10, clockStart: 100, clockEnd: 200},
		chunkRecord{pred: 1, blockStart: 20, blockSize: 5, clockStart: 650, clockEnd: 700},
	)

	chains, err := dvrrecover.Chains(st)
	require.NoError(t, err)
	require.Len(t, chains, 2)

	assert.EqualValues(t, 2, chains[0].Head().ID)
	assert.Equal(t, 1, chains[0].Index)

	assert.EqualValues(t, 1, chains[1].Head().ID)
	assert.Equal(t, 2, chains[1].Index)
	assert.Len(t, chains[1].Chunks, 2)
	assert.EqualValues(t, 15, chains[1].BlockSize())

	insertChunks(t, st, chunkRecord{pred: 1, blockStart: 30, blockSize: 1, clockStart: 650, clockEnd: 650})

	_, err = dvrrecover.Chains(st)
	require.ErrorIs(t, err, dvrrecover.ErrIntegrity)
	require.ErrorIs(t, err, chunk.ErrAmbiguousSuccessor)
}

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		goleak.IgnoreAnyFunction("github.com/golang/glog.(*loggingT).flushDaemon"),
		goleak.IgnoreAnyFunction("github.com/golang/glog.(*fileSink).flushDaemon"),
		goleak.IgnoreAnyFunction("go.opencensus.io/stats/view.(*worker).start"),
	)
}
