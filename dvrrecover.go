// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

// Package dvrrecover recovers MPEG Program Stream recordings from raw DVR disk images.
//
// Recovery runs in three phases over a shared store: Scanner finds chunks,
// Linker chains them into recordings and Exporter writes every chain to a file.
package dvrrecover

import (
	"errors"
	"fmt"

	"github.com/siderolabs/go-dvr-recover/chunk"
	"github.com/siderolabs/go-dvr-recover/store"
)

// Errors returned by the recovery phases.
var (
	ErrScanCompleted     = errors.New("store holds chunks of a completed scan, clear it first")
	ErrBlockSizeMismatch = errors.New("checkpoint was written with a different block size")
	ErrIntegrity         = errors.New("integrity error")
	ErrChainIndex        = errors.New("chain index out of range")
)

// Clear deletes all chunks and the scan checkpoint.
func Clear(st *store.Store) error {
	return st.Update(func(tx *store.Tx) error {
		if err := tx.DeleteChunks(); err != nil {
			return err
		}

		return tx.ClearCheckpoint()
	})
}

// Chains returns the stored chunks grouped into chains.
func Chains(st *store.Store) ([]chunk.Chain, error) {
	var chunks []chunk.Chunk

	if err := st.View(func(tx *store.Tx) error {
		var err error

		chunks, err = tx.Chunks()

		return err
	}); err != nil {
		return nil, err
	}

	chains, err := chunk.BuildChains(chunks)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrIntegrity, err)
	}

	return chains, nil
}
