// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package dvrrecover

import (
	"context"
	"slices"

	"github.com/siderolabs/gen/optional"
	"go.uber.org/zap"

	"github.com/siderolabs/go-dvr-recover/chunk"
	"github.com/siderolabs/go-dvr-recover/store"
)

// LinkStats summarizes a linking run.
type LinkStats struct {
	Chunks int
	Linked int

	// Conflicts is the number of chunks left unlinked because they claimed the same predecessor.
	Conflicts int
	// CyclesBroken is the number of predecessor cycles which were cut.
	CyclesBroken int
}

// Linker chains chunks by timestamp continuity.
type Linker struct {
	store *store.Store
	opt   Options
}

// NewLinker creates a Linker over st.
func NewLinker(st *store.Store, opts ...OptionFunc) (*Linker, error) {
	opt, err := applyOptions(opts)
	if err != nil {
		return nil, err
	}

	return &Linker{
		store: st,
		opt:   opt,
	}, nil
}

// Link recomputes the predecessor of every chunk.
//
// The predecessor of chunk b is the chunk a whose clock end is closest before b's
// clock start, within MaxSortGap. On equal distance the chunk with the lowest id wins.
// Chunks claiming the same predecessor are all left unlinked.
//
// All links are replaced in a single transaction.
func (l *Linker) Link(ctx context.Context) (LinkStats, error) {
	var stats LinkStats

	err := l.store.Update(func(tx *store.Tx) error {
		chunks, err := tx.Chunks()
		if err != nil {
			return err
		}

		stats = LinkStats{Chunks: len(chunks)}

		preds, err := l.nearest(ctx, chunks)
		if err != nil {
			return err
		}

		stats.Conflicts = repairConflicts(preds)
		stats.CyclesBroken = breakCycles(chunks, preds)
		stats.Linked = len(preds)

		for _, c := range chunks {
			pred, ok := preds[c.ID]

			if c.Predecessor.IsPresent() == ok && c.Predecessor.ValueOrZero() == pred {
				continue
			}

			c.Predecessor = optional.None[chunk.ID]()
			if ok {
				c.Predecessor = optional.Some(pred)
			}

			if err = tx.UpdateChunk(c); err != nil {
				return err
			}
		}

		return nil
	})
	if err != nil {
		return LinkStats{}, err
	}

	l.opt.Logger.Info("chunks linked",
		zap.Int("chunks", stats.Chunks),
		zap.Int("linked", stats.Linked),
		zap.Int("conflicts", stats.Conflicts),
		zap.Int("cycles_broken", stats.CyclesBroken),
	)

	return stats, nil
}

// Reset removes all links.
func (l *Linker) Reset() error {
	return l.store.Update(func(tx *store.Tx) error {
		return tx.ResetPredecessors()
	})
}

// nearest picks the closest admissible predecessor for every chunk; chunks are ordered by id.
func (l *Linker) nearest(ctx context.Context, chunks []chunk.Chunk) (map[chunk.ID]chunk.ID, error) {
	preds := make(map[chunk.ID]chunk.ID, len(chunks))

	for _, b := range chunks {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		var (
			best      chunk.ID
			bestDelta uint64
			found     bool
		)

		for _, a := range chunks {
			if a.ID == b.ID || b.ClockStart < a.ClockEnd {
				continue
			}

			delta := b.ClockStart - a.ClockEnd
			if delta > l.opt.MaxSortGap {
				continue
			}

			if !found || delta < bestDelta {
				best, bestDelta, found = a.ID, delta, true
			}
		}

		if found {
			preds[b.ID] = best
		}
	}

	return preds, nil
}

// repairConflicts unlinks every chunk whose predecessor is claimed more than once.
func repairConflicts(preds map[chunk.ID]chunk.ID) int {
	claims := make(map[chunk.ID]int, len(preds))

	for _, pred := range preds {
		claims[pred]++
	}

	var conflicts int

	for id, pred := range preds {
		if claims[pred] > 1 {
			delete(preds, id)

			conflicts++
		}
	}

	return conflicts
}

// breakCycles cuts every predecessor cycle at its lowest id member.
//
// Cycles can only form between chunks of zero clock length.
func breakCycles(chunks []chunk.Chunk, preds map[chunk.ID]chunk.ID) int {
	const (
		unseen = iota
		onPath
		done
	)

	state := make(map[chunk.ID]int, len(chunks))

	var broken int

	for _, c := range chunks {
		var path []chunk.ID

		id, ok := c.ID, true

		for ok && state[id] == unseen {
			state[id] = onPath
			path = append(path, id)

			id, ok = preds[id]
		}

		if ok && state[id] == onPath {
			cycle := path[slices.Index(path, id):]

			delete(preds, slices.Min(cycle))

			broken++
		}

		for _, p := range path {
			state[p] = done
		}
	}

	return broken
}
