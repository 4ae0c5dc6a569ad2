// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package chunk

import (
	"cmp"
	"errors"
	"fmt"
	"slices"
	"time"
)

// Errors returned by BuildChains.
var (
	ErrAmbiguousSuccessor = errors.New("multiple chunks reference the same predecessor")
	ErrCycle              = errors.New("predecessor cycle")
)

// Chain is a sequence of chunks linked through their predecessors, forming one recording.
type Chain struct {
	Chunks []Chunk

	// Index is the 1-based position of the chain in enumeration order.
	Index int
}

// Head returns the first chunk of the chain.
func (c Chain) Head() Chunk {
	return c.Chunks[0]
}

// BlockSize returns the total number of blocks in the chain.
func (c Chain) BlockSize() int64 {
	var size int64

	for _, ch := range c.Chunks {
		size += ch.BlockSize
	}

	return size
}

// Duration returns the total recording time of the chain.
func (c Chain) Duration() time.Duration {
	var d time.Duration

	for _, ch := range c.Chunks {
		d += ch.Duration()
	}

	return d
}

// BuildChains groups chunks into chains.
//
// A chain starts at every chunk without a predecessor (or with a predecessor
// which doesn't exist) and follows the unique successor of each chunk. Chains are
// ordered by the clock value of their head, then by head id.
//
// A chunk with more than one successor fails with ErrAmbiguousSuccessor, chunks
// which can't be reached from any head fail with ErrCycle.
func BuildChains(chunks []Chunk) ([]Chain, error) {
	known := make(map[ID]struct{}, len(chunks))

	for _, ch := range chunks {
		known[ch.ID] = struct{}{}
	}

	successors := make(map[ID][]Chunk, len(chunks))

	var heads []Chunk

	for _, ch := range chunks {
		pred, ok := predecessorOf(ch)
		if ok {
			if _, exists := known[pred]; exists {
				successors[pred] = append(successors[pred], ch)

				continue
			}
		}

		heads = append(heads, ch)
	}

	slices.SortFunc(heads, func(a, b Chunk) int {
		return cmp.Or(cmp.Compare(a.ClockStart, b.ClockStart), cmp.Compare(a.ID, b.ID))
	})

	visited := make(map[ID]struct{}, len(chunks))
	chains := make([]Chain, 0, len(heads))

	for i, head := range heads {
		chain := Chain{
			Index: i + 1,
		}

		for current, ok := head, true; ok; {
			if _, seen := visited[current.ID]; seen {
				return nil, fmt.Errorf("%w: chunk %d reached twice", ErrCycle, current.ID)
			}

			visited[current.ID] = struct{}{}
			chain.Chunks = append(chain.Chunks, current)

			next := successors[current.ID]

			switch len(next) {
			case 0:
				ok = false
			case 1:
				current = next[0]
			default:
				return nil, fmt.Errorf("%w: chunk %d has %d successors", ErrAmbiguousSuccessor, current.ID, len(next))
			}
		}

		chains = append(chains, chain)
	}

	if len(visited) != len(chunks) {
		for _, ch := range chunks {
			if _, seen := visited[ch.ID]; !seen {
				return nil, fmt.Errorf("%w: chunk %d is not reachable from any chain head", ErrCycle, ch.ID)
			}
		}
	}

	return chains, nil
}

func predecessorOf(ch Chunk) (ID, bool) {
	if !ch.Predecessor.IsPresent() {
		return 0, false
	}

	return ch.Predecessor.ValueOrZero(), true
}
