// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

// Package zstd compresses exported recordings.
package zstd

import (
	"io"

	"github.com/klauspost/compress/zstd"
)

// Extension of zstd compressed files.
const Extension = ".zst"

// Compressor implements streaming zstd compression.
type Compressor struct {
	opts []zstd.EOption
}

// NewCompressor creates new Compressor.
//
// Recordings are already compressed video, so the fastest level is used unless opts say otherwise.
func NewCompressor(opts ...zstd.EOption) *Compressor {
	return &Compressor{
		opts: append([]zstd.EOption{zstd.WithEncoderLevel(zstd.SpeedFastest)}, opts...),
	}
}

// NewWriter returns a writer compressing to w, it has to be closed to flush the frame.
func (c *Compressor) NewWriter(w io.Writer) (io.WriteCloser, error) {
	return zstd.NewWriter(w, c.opts...)
}

// Extension implements Compressor.
func (c *Compressor) Extension() string {
	return Extension
}

// NewReader returns a reader decompressing r.
func NewReader(r io.Reader) (io.ReadCloser, error) {
	dec, err := zstd.NewReader(r)
	if err != nil {
		return nil, err
	}

	return dec.IOReadCloser(), nil
}
