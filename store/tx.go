// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package store

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v3"
	"github.com/siderolabs/gen/optional"

	"github.com/siderolabs/go-dvr-recover/chunk"
)

// Tx is a transaction on the Store.
type Tx struct {
	txn *badger.Txn

	writable bool
}

var errReadOnly = errors.New("read-only transaction")

// InsertChunk assigns the next id to the draft and stores it.
func (tx *Tx) InsertChunk(d *chunk.Draft) (chunk.Chunk, error) {
	if !tx.writable {
		return chunk.Chunk{}, errReadOnly
	}

	id, err := tx.nextChunkID()
	if err != nil {
		return chunk.Chunk{}, err
	}

	c, err := d.Commit(id)
	if err != nil {
		return chunk.Chunk{}, err
	}

	return c, tx.putChunk(c)
}

// UpdateChunk overwrites an existing chunk.
func (tx *Tx) UpdateChunk(c chunk.Chunk) error {
	if !tx.writable {
		return errReadOnly
	}

	if _, err := tx.Chunk(c.ID); err != nil {
		return err
	}

	return tx.putChunk(c)
}

// Chunk returns a chunk by id.
func (tx *Tx) Chunk(id chunk.ID) (chunk.Chunk, error) {
	item, err := tx.txn.Get(chunkKey(id))
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return chunk.Chunk{}, fmt.Errorf("chunk %d: %w", id, ErrNotFound)
		}

		return chunk.Chunk{}, err
	}

	var c chunk.Chunk

	err = item.Value(func(val []byte) error {
		c, err = decodeChunk(id, val)

		return err
	})

	return c, err
}

// Chunks returns all chunks ordered by id.
func (tx *Tx) Chunks() ([]chunk.Chunk, error) {
	var chunks []chunk.Chunk

	err := tx.iterate(prefixChunk, true, func(item *badger.Item) error {
		id, err := chunkIDFromKey(item.Key())
		if err != nil {
			return err
		}

		return item.Value(func(val []byte) error {
			c, err := decodeChunk(id, val)
			if err != nil {
				return err
			}

			chunks = append(chunks, c)

			return nil
		})
	})

	return chunks, err
}

// ChunkCount returns the number of stored chunks.
func (tx *Tx) ChunkCount() (int, error) {
	var n int

	err := tx.iterate(prefixChunk, false, func(*badger.Item) error {
		n++

		return nil
	})

	return n, err
}

// ResetPredecessors clears the predecessor of every chunk.
func (tx *Tx) ResetPredecessors() error {
	chunks, err := tx.Chunks()
	if err != nil {
		return err
	}

	for _, c := range chunks {
		if !c.Predecessor.IsPresent() {
			continue
		}

		c.Predecessor = optional.None[chunk.ID]()

		if err = tx.UpdateChunk(c); err != nil {
			return err
		}
	}

	return nil
}

// DeleteChunks removes all chunks and restarts id assignment.
func (tx *Tx) DeleteChunks() error {
	if !tx.writable {
		return errReadOnly
	}

	var keys [][]byte

	if err := tx.iterate(prefixChunk, false, func(item *badger.Item) error {
		keys = append(keys, item.KeyCopy(nil))

		return nil
	}); err != nil {
		return err
	}

	for _, key := range keys {
		if err := tx.txn.Delete(key); err != nil {
			return err
		}
	}

	return tx.txn.Delete(keyNextChunkID)
}

// Checkpoint returns the stored scan checkpoint, if any.
func (tx *Tx) Checkpoint() (optional.Optional[Checkpoint], error) {
	item, err := tx.txn.Get(keyCheckpoint)
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return optional.None[Checkpoint](), nil
		}

		return optional.None[Checkpoint](), err
	}

	var cp Checkpoint

	if err = item.Value(func(val []byte) error {
		return json.Unmarshal(val, &cp)
	}); err != nil {
		return optional.None[Checkpoint](), fmt.Errorf("failed to decode checkpoint: %w", err)
	}

	return optional.Some(cp), nil
}

// PutCheckpoint replaces the scan checkpoint.
func (tx *Tx) PutCheckpoint(cp Checkpoint) error {
	if !tx.writable {
		return errReadOnly
	}

	data, err := json.Marshal(cp)
	if err != nil {
		return err
	}

	return tx.txn.Set(keyCheckpoint, data)
}

// ClearCheckpoint removes the scan checkpoint.
func (tx *Tx) ClearCheckpoint() error {
	if !tx.writable {
		return errReadOnly
	}

	return tx.txn.Delete(keyCheckpoint)
}

// Setting returns a setting value, the flag is false if the setting is not stored.
func (tx *Tx) Setting(key string) (string, bool, error) {
	item, err := tx.txn.Get(settingKey(key))
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return "", false, nil
		}

		return "", false, err
	}

	value, err := item.ValueCopy(nil)
	if err != nil {
		return "", false, err
	}

	return string(value), true, nil
}

// SetSetting stores a setting value.
func (tx *Tx) SetSetting(key, value string) error {
	if !tx.writable {
		return errReadOnly
	}

	return tx.txn.Set(settingKey(key), []byte(value))
}

// DeleteSetting removes a setting, missing settings are ignored.
func (tx *Tx) DeleteSetting(key string) error {
	if !tx.writable {
		return errReadOnly
	}

	return tx.txn.Delete(settingKey(key))
}

// Settings returns all stored settings.
func (tx *Tx) Settings() (map[string]string, error) {
	settings := map[string]string{}

	err := tx.iterate(prefixSetting, true, func(item *badger.Item) error {
		value, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}

		settings[string(item.Key()[len(prefixSetting):])] = string(value)

		return nil
	})

	return settings, err
}

func (tx *Tx) iterate(prefix []byte, values bool, fn func(*badger.Item) error) error {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = prefix
	opts.PrefetchValues = values

	it := tx.txn.NewIterator(opts)
	defer it.Close()

	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		if err := fn(it.Item()); err != nil {
			return err
		}
	}

	return nil
}

func (tx *Tx) nextChunkID() (chunk.ID, error) {
	next := uint64(1)

	item, err := tx.txn.Get(keyNextChunkID)

	switch {
	case errors.Is(err, badger.ErrKeyNotFound):
	case err != nil:
		return 0, err
	default:
		if err = item.Value(func(val []byte) error {
			if len(val) != 8 {
				return errors.New("malformed chunk id counter")
			}

			next = binary.BigEndian.Uint64(val)

			return nil
		}); err != nil {
			return 0, err
		}
	}

	if err = tx.txn.Set(keyNextChunkID, binary.BigEndian.AppendUint64(nil, next+1)); err != nil {
		return 0, err
	}

	return chunk.ID(next), nil
}

func (tx *Tx) putChunk(c chunk.Chunk) error {
	return tx.txn.Set(chunkKey(c.ID), encodeChunk(c))
}

func chunkKey(id chunk.ID) []byte {
	return binary.BigEndian.AppendUint64(append([]byte(nil), prefixChunk...), uint64(id))
}

func chunkIDFromKey(key []byte) (chunk.ID, error) {
	if len(key) != len(prefixChunk)+8 {
		return 0, fmt.Errorf("malformed chunk key %q", key)
	}

	return chunk.ID(binary.BigEndian.Uint64(key[len(prefixChunk):])), nil
}

func settingKey(key string) []byte {
	return append(append([]byte(nil), prefixSetting...), key...)
}
