// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

// Package mpegps decodes MPEG Program Stream pack headers.
package mpegps

import (
	"time"

	"github.com/siderolabs/gen/optional"
)

const (
	// ClockRate is the System Clock Reference frequency in ticks per second.
	ClockRate = 90000

	// MaxSCR is the largest representable 33-bit System Clock Reference.
	MaxSCR = 1<<33 - 1

	// HeaderSize is the size of an MPEG-2 pack header without stuffing.
	HeaderSize = 14

	// minDecodeSize covers the start code and all SCR bits.
	minDecodeSize = 9
)

// PackStartCode prefixes every pack header.
var PackStartCode = [4]byte{0x00, 0x00, 0x01, 0xBA}

// Partial pack header layout:
//
//	   [4]      [5]      [6]      [7]      [8]
//	01000100|00000000|00000100|00000000|00000100   marker bits
//	  ^^^ ^^ ^^^^^^^^ ^^^^^ ^^ ^^^^^^^^ ^^^^^      SCR
//
// scrBits lists {byte, bit} of every SCR bit, least significant first.
var scrBits = [33][2]uint8{
	{8, 3}, {8, 4}, {8, 5}, {8, 6}, {8, 7},
	{7, 0}, {7, 1}, {7, 2}, {7, 3}, {7, 4}, {7, 5}, {7, 6}, {7, 7},
	{6, 0}, {6, 1}, {6, 3}, {6, 4}, {6, 5}, {6, 6}, {6, 7},
	{5, 0}, {5, 1}, {5, 2}, {5, 3}, {5, 4}, {5, 5}, {5, 6}, {5, 7},
	{4, 0}, {4, 1}, {4, 3}, {4, 4}, {4, 5},
}

// DecodeSCR returns the System Clock Reference of the pack header at the start of block.
//
// Blocks which do not start with a pack header, or whose marker bits are not set,
// yield an empty result.
func DecodeSCR(block []byte) optional.Optional[uint64] {
	if len(block) < minDecodeSize {
		return optional.None[uint64]()
	}

	if [4]byte(block[:4]) != PackStartCode {
		return optional.None[uint64]()
	}

	if (block[4]>>6)&3 != 1 ||
		(block[4]>>2)&1 != 1 ||
		(block[6]>>2)&1 != 1 ||
		(block[8]>>2)&1 != 1 {
		return optional.None[uint64]()
	}

	var scr uint64

	for i, loc := range scrBits {
		scr |= uint64((block[loc[0]]>>loc[1])&1) << i
	}

	return optional.Some(scr)
}

// AppendPackHeader appends an MPEG-2 pack header carrying scr to dst.
//
// The SCR extension is zero, the program mux rate is fixed and no stuffing is added.
func AppendPackHeader(dst []byte, scr uint64) []byte {
	scr &= MaxSCR

	var hdr [HeaderSize]byte

	copy(hdr[:], PackStartCode[:])

	// '01' marker, then marker bits at 4.2, 6.2, 8.2
	hdr[4] = 0b0100_0100
	hdr[6] = 0b0000_0100
	hdr[8] = 0b0000_0100

	for i, loc := range scrBits {
		hdr[loc[0]] |= uint8((scr>>i)&1) << loc[1]
	}

	// SCR extension marker, mux rate (22 bits) followed by two marker bits
	hdr[9] = 0x01
	hdr[10], hdr[11], hdr[12] = 0x01, 0x89, 0xC3
	// reserved bits, zero stuffing length
	hdr[13] = 0xF8

	return append(dst, hdr[:]...)
}

// Ticks converts a duration to SCR ticks.
func Ticks(d time.Duration) uint64 {
	return uint64(d * ClockRate / time.Second)
}

// Duration converts a number of SCR ticks to a duration.
func Duration(ticks uint64) time.Duration {
	return time.Duration(ticks) * time.Second / ClockRate
}
