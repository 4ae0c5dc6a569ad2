// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package mpegps_test

import (
	"encoding/hex"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/siderolabs/go-dvr-recover/mpegps"
)

func TestDecodeSCR(t *testing.T) {
	t.Parallel()

	for _, test := range []struct {
		name string

		header string

		expected uint64
	}{
		{
			name:     "zero",
			header:   "000001ba4400040004",
			expected: 0,
		},
		{
			name:     "captured header",
			header:   "000001ba4402c48204",
			expected: 2887744,
		},
		{
			name:     "most significant bit set",
			header:   "000001ba640ff7ab6c",
			expected: 4311709037,
		},
		{
			name:     "all bits set",
			header:   "000001ba7ffffffffc",
			expected: mpegps.MaxSCR,
		},
	} {
		t.Run(test.name, func(t *testing.T) {
			t.Parallel()

			block, err := hex.DecodeString(test.header)
			require.NoError(t, err)

			block = append(block, make([]byte, 2048-len(block))...)

			scr := mpegps.DecodeSCR(block)
			require.True(t, scr.IsPresent())
			assert.Equal(t, test.expected, scr.ValueOrZero())
		})
	}
}

func TestAppendPackHeaderRoundTrip(t *testing.T) {
	t.Parallel()

	for _, scr := range []uint64{
		0,
		1,
		90000,
		1 << 15,
		1 << 30,
		1 << 32,
		4311709037,
		mpegps.MaxSCR,
	} {
		block := mpegps.AppendPackHeader(nil, scr)
		require.Len(t, block, mpegps.HeaderSize)

		decoded := mpegps.DecodeSCR(block)
		require.True(t, decoded.IsPresent(), "scr %d", scr)
		assert.Equal(t, scr, decoded.ValueOrZero())
	}
}

func TestDecodeSCRRejects(t *testing.T) {
	t.Parallel()

	valid := mpegps.AppendPackHeader(nil, 0x1_2345_6789)

	require.True(t, mpegps.DecodeSCR(valid).IsPresent())

	t.Run("start code", func(t *testing.T) {
		t.Parallel()

		for i := range 4 {
			for bit := range 8 {
				block := append([]byte(nil), valid...)
				block[i] ^= 1 << bit

				assert.False(t, mpegps.DecodeSCR(block).IsPresent(), "byte %d bit %d", i, bit)
			}
		}
	})

	t.Run("marker bits", func(t *testing.T) {
		t.Parallel()

		for _, loc := range [][2]int{
			{4, 7}, // '01' prefix
			{4, 6},
			{4, 2},
			{6, 2},
			{8, 2},
		} {
			block := append([]byte(nil), valid...)
			block[loc[0]] ^= 1 << loc[1]

			assert.False(t, mpegps.DecodeSCR(block).IsPresent(), "byte %d bit %d", loc[0], loc[1])
		}
	})

	t.Run("short block", func(t *testing.T) {
		t.Parallel()

		assert.False(t, mpegps.DecodeSCR(valid[:8]).IsPresent())
		assert.False(t, mpegps.DecodeSCR(nil).IsPresent())
	})

	t.Run("zero block", func(t *testing.T) {
		t.Parallel()

		assert.False(t, mpegps.DecodeSCR(make([]byte, 2048)).IsPresent())
	})
}

func TestTicks(t *testing.T) {
	t.Parallel()

	assert.EqualValues(t, 90000, mpegps.Ticks(time.Second))
	assert.EqualValues(t, 45000, mpegps.Ticks(500*time.Millisecond))
	assert.Equal(t, time.Second, mpegps.Duration(90000))
	assert.Equal(t, 2*time.Hour, mpegps.Duration(mpegps.Ticks(2*time.Hour)))
}

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}
