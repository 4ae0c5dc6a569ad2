// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package dvrrecover_test

import (
	"context"
	"testing"

	"github.com/siderolabs/gen/xtesting/must"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	dvrrecover "github.com/siderolabs/go-dvr-recover"
	"github.com/siderolabs/go-dvr-recover/chunk"
	"github.com/siderolabs/go-dvr-recover/store"
)

func newLinker(t *testing.T, st *store.Store, maxSortGap uint64) *dvrrecover.Linker {
	t.Helper()

	return must.Value(dvrrecover.NewLinker(st,
		dvrrecover.WithLogger(zaptest.NewLogger(t)),
		dvrrecover.WithMaxSortGap(maxSortGap),
	))(t)
}

// predecessors maps chunk id to its predecessor id, 0 for none.
func predecessors(t *testing.T, st *store.Store) map[chunk.ID]chunk.ID {
	t.Helper()

	preds := map[chunk.ID]chunk.ID{}

	for _, c := range storedChunks(t, st) {
		preds[c.ID] = c.Predecessor.ValueOrZero()
	}

	return preds
}

func clocks(start, end uint64) chunkRecord {
	return chunkRecord{blockSize: 1, clockStart: start, clockEnd: end}
}

func TestLink(t *testing.T) {
	t.Parallel()

	for _, test := range []struct {
		name string

		chunks     []chunkRecord
		maxSortGap uint64

		expected      map[chunk.ID]chunk.ID
		expectedStats dvrrecover.LinkStats
	}{
		{
			name:          "unambiguous continuation",
			chunks:        []chunkRecord{clocks(0, 100), clocks(150, 300)},
			maxSortGap:    100,
			expected:      map[chunk.ID]chunk.ID{1: 0, 2: 1},
			expectedStats: dvrrecover.LinkStats{Chunks: 2, Linked: 1},
		},
		{
			name:          "conflicting continuations are left unlinked",
			chunks:        []chunkRecord{clocks(0, 100), clocks(150, 300), clocks(150, 300)},
			maxSortGap:    100,
			expected:      map[chunk.ID]chunk.ID{1: 0, 2: 0, 3: 0},
			expectedStats: dvrrecover.LinkStats{Chunks: 3, Conflicts: 2},
		},
		{
			name:          "nearest predecessor wins",
			chunks:        []chunkRecord{clocks(0, 100), clocks(0, 130), clocks(150, 300)},
			maxSortGap:    100,
			expected:      map[chunk.ID]chunk.ID{1: 0, 2: 0, 3: 2},
			expectedStats: dvrrecover.LinkStats{Chunks: 3, Linked: 1},
		},
		{
			name:          "equal distance picks the lowest id",
			chunks:        []chunkRecord{clocks(250, 600), clocks(0, 100), clocks(50, 100), clocks(150, 200)},
			maxSortGap:    100,
			expected:      map[chunk.ID]chunk.ID{1: 4, 2: 0, 3: 0, 4: 2},
			expectedStats: dvrrecover.LinkStats{Chunks: 4, Linked: 2},
		},
		{
			name:          "gap limit is inclusive",
			chunks:        []chunkRecord{clocks(0, 100), clocks(200, 300), clocks(401, 500)},
			maxSortGap:    100,
			expected:      map[chunk.ID]chunk.ID{1: 0, 2: 1, 3: 0},
			expectedStats: dvrrecover.LinkStats{Chunks: 3, Linked: 1},
		},
		{
			name:          "overlapping clocks are not linked",
			chunks:        []chunkRecord{clocks(0, 100), clocks(50, 150)},
			maxSortGap:    100,
			expected:      map[chunk.ID]chunk.ID{1: 0, 2: 0},
			expectedStats: dvrrecover.LinkStats{Chunks: 2},
		},
		{
			name:          "cycle is broken at the lowest id",
			chunks:        []chunkRecord{clocks(100, 100), clocks(100, 100)},
			maxSortGap:    100,
			expected:      map[chunk.ID]chunk.ID{1: 0, 2: 1},
			expectedStats: dvrrecover.LinkStats{Chunks: 2, Linked: 1, CyclesBroken: 1},
		},
		{
			name:          "empty store",
			expected:      map[chunk.ID]chunk.ID{},
			expectedStats: dvrrecover.LinkStats{},
		},
	} {
		t.Run(test.name, func(t *testing.T) {
			t.Parallel()

			st := openStore(t)
			insertChunks(t, st, test.chunks...)

			linker := newLinker(t, st, test.maxSortGap)

			stats, err := linker.Link(t.Context())
			require.NoError(t, err)

			assert.Equal(t, test.expectedStats, stats)
			assert.Equal(t, test.expected, predecessors(t, st))

			// linking is repeatable
			_, err = linker.Link(t.Context())
			require.NoError(t, err)
			assert.Equal(t, test.expected, predecessors(t, st))

			_, err = dvrrecover.Chains(st)
			require.NoError(t, err)
		})
	}
}

func TestLinkReplacesLinks(t *testing.T) {
	t.Parallel()

	st := openStore(t)

	// 2 -> 3 is a stale link which doesn't survive relinking
	insertChunks(t, st,
		clocks(0, 100),
		chunkRecord{pred: 3, blockSize: 1, clockStart: 150, clockEnd: 200},
		clocks(5000, 6000),
	)

	linker := newLinker(t, st, 100)

	_, err := linker.Link(t.Context())
	require.NoError(t, err)
	assert.Equal(t, map[chunk.ID]chunk.ID{1: 0, 2: 1, 3: 0}, predecessors(t, st))

	require.NoError(t, linker.Reset())
	assert.Equal(t, map[chunk.ID]chunk.ID{1: 0, 2: 0, 3: 0}, predecessors(t, st))
}

func TestLinkCanceled(t *testing.T) {
	t.Parallel()

	st := openStore(t)
	insertChunks(t, st, clocks(0, 100), clocks(150, 300))

	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	_, err := newLinker(t, st, 100).Link(ctx)
	require.ErrorIs(t, err, context.Canceled)

	assert.Equal(t, map[chunk.ID]chunk.ID{1: 0, 2: 0}, predecessors(t, st))
}
