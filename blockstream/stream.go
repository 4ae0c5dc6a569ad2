// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

// Package blockstream presents a list of files as one contiguous seekable stream.
package blockstream

import (
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"sync/atomic"
)

// Errors returned by Stream.
var (
	ErrClosed          = errors.New("stream closed")
	ErrSeekBeforeStart = errors.New("seek before start")
	ErrOutOfRange      = errors.New("offset out of range")
	ErrShortRead       = errors.New("short read before end of file")
	ErrNoInputs        = errors.New("no input files")
)

// Part describes one physical file of the stream.
type Part struct {
	Path string

	// Start is the offset of the first byte of the part within the stream.
	Start int64
	Size  int64
}

// End returns the stream offset right after the last byte of the part.
func (p Part) End() int64 {
	return p.Start + p.Size
}

// Stream implements io.ReadSeekCloser over the concatenation of Parts.
//
// At most one underlying file is open at a time.
// Stream is not safe to be used with concurrent Read/Seek operations.
type Stream struct {
	parts []Part

	// currently open file, nil if none
	file *os.File
	// index of the part backing file, -1 if none
	cur int

	size int64
	off  int64

	closed atomic.Bool
}

// Open builds a Stream over paths in the given order.
//
// Every path is opened once to determine its size, so that unreadable inputs are
// reported before any data is read.
func Open(paths ...string) (*Stream, error) {
	if len(paths) == 0 {
		return nil, ErrNoInputs
	}

	parts := make([]Part, 0, len(paths))

	var start int64

	for _, path := range paths {
		size, err := partSize(path)
		if err != nil {
			return nil, err
		}

		parts = append(parts, Part{
			Path:  path,
			Start: start,
			Size:  size,
		})

		start += size
	}

	return &Stream{
		parts: parts,
		cur:   -1,
		size:  start,
	}, nil
}

// partSize seeks to the end instead of using stat, as block devices report zero size.
func partSize(path string) (int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("failed to open input: %w", err)
	}

	defer f.Close() //nolint:errcheck

	size, err := f.Seek(0, io.SeekEnd)
	if err != nil {
		return 0, fmt.Errorf("failed to determine size of %q: %w", path, err)
	}

	return size, nil
}

// Size returns the sum of all part sizes.
func (s *Stream) Size() int64 {
	return s.size
}

// Parts returns a copy of the part table.
func (s *Stream) Parts() []Part {
	return slices.Clone(s.parts)
}

// Locate maps a stream offset to the index of the part holding it and the offset within that part.
func (s *Stream) Locate(off int64) (index int, local int64, err error) {
	if off < 0 || off >= s.size {
		return 0, 0, fmt.Errorf("%w: %d not in [0, %d)", ErrOutOfRange, off, s.size)
	}

	// the first part which ends after off; empty parts are skipped naturally
	index, _ = slices.BinarySearchFunc(s.parts, off, func(p Part, target int64) int {
		if p.End() <= target {
			return -1
		}

		return 1
	})

	return index, off - s.parts[index].Start, nil
}

// Seek implements io.Seeker.
//
// Seeking to the very end of the stream is allowed, the next Read returns io.EOF.
func (s *Stream) Seek(offset int64, whence int) (int64, error) {
	if s.closed.Load() {
		return s.off, ErrClosed
	}

	newOff := s.off

	switch whence {
	case io.SeekCurrent:
		newOff += offset
	case io.SeekEnd:
		newOff = s.size + offset
	case io.SeekStart:
		newOff = offset
	default:
		return s.off, fmt.Errorf("invalid whence %d", whence)
	}

	if newOff < 0 {
		return s.off, ErrSeekBeforeStart
	}

	if newOff > s.size {
		return s.off, fmt.Errorf("%w: %d beyond stream size %d", ErrOutOfRange, newOff, s.size)
	}

	if newOff == s.size {
		s.off = newOff

		return s.off, s.closeFile()
	}

	index, local, err := s.Locate(newOff)
	if err != nil {
		return s.off, err
	}

	if err = s.openPart(index); err != nil {
		return s.off, err
	}

	if _, err = s.file.Seek(local, io.SeekStart); err != nil {
		return s.off, fmt.Errorf("failed to seek in %q: %w", s.parts[index].Path, err)
	}

	s.off = newOff

	return s.off, nil
}

// Read implements io.Reader.
//
// Read fills p completely unless the end of the stream is reached. When a read
// crosses the end of a part, the next part is opened and reading continues there.
// A part which ends before its recorded size is an integrity error (ErrShortRead).
func (s *Stream) Read(p []byte) (n int, err error) {
	if s.closed.Load() {
		return n, ErrClosed
	}

	if s.off == s.size {
		return n, io.EOF
	}

	for n < len(p) && s.off < s.size {
		if s.file == nil {
			if _, err = s.Seek(s.off, io.SeekStart); err != nil {
				return n, err
			}
		}

		part := s.parts[s.cur]

		nn := min(int64(len(p)-n), part.End()-s.off)

		read, err := io.ReadFull(s.file, p[n:n+int(nn)])

		n += read
		s.off += int64(read)

		if err != nil {
			return n, fmt.Errorf("%w: %q at offset %d: %w", ErrShortRead, part.Path, s.off-part.Start, err)
		}

		if s.off == part.End() {
			// part exhausted, the next iteration opens the following one
			if err = s.closeFile(); err != nil {
				return n, err
			}
		}
	}

	return n, nil
}

// Close implements io.Closer.
func (s *Stream) Close() error {
	if s.closed.Swap(true) {
		return nil
	}

	return s.closeFile()
}

func (s *Stream) openPart(index int) error {
	if s.file != nil && s.cur == index {
		return nil
	}

	if err := s.closeFile(); err != nil {
		return err
	}

	f, err := os.Open(s.parts[index].Path)
	if err != nil {
		return fmt.Errorf("failed to open input: %w", err)
	}

	s.file = f
	s.cur = index

	return nil
}

func (s *Stream) closeFile() error {
	if s.file == nil {
		return nil
	}

	err := s.file.Close()

	s.file = nil
	s.cur = -1

	return err
}
