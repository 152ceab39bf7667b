package mpegts

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// packPCR writes base/ext in the 6-byte adaptation field layout with the
// reserved bits set.
func packPCR(b []byte, base uint64, ext uint16) {
	b[0] = byte(base >> 25)
	b[1] = byte(base >> 17)
	b[2] = byte(base >> 9)
	b[3] = byte(base >> 1)
	b[4] = byte(base&1)<<7 | 0x7E | byte(ext>>8)
	b[5] = byte(ext)
}

func TestParseAdaptationField_PCR(t *testing.T) {
	t.Parallel()

	buf := make([]byte, PacketSize)
	buf[4] = 7
	buf[5] = randomAccessMask | pcrFlagMask
	packPCR(buf[6:12], 0x1_2345_6789, 0x155)

	af, n, err := parseAdaptationField(buf, 4)
	require.NoError(t, err)
	assert.Equal(t, 8, n)
	assert.True(t, af.RandomAccessIndicator)
	assert.False(t, af.DiscontinuityIndicator)
	require.NotNil(t, af.PCR)
	assert.Equal(t, uint64(0x1_2345_6789), af.PCR.Base)
	assert.Equal(t, uint16(0x155), af.PCR.Extension)
	assert.Nil(t, af.OPCR)
	assert.Nil(t, af.Stuffing)
}

func TestParseAdaptationField_PCRAndOPCRWithStuffing(t *testing.T) {
	t.Parallel()

	buf := make([]byte, PacketSize)
	buf[4] = 20
	buf[5] = discontinuityMask | pcrFlagMask | opcrFlagMask | splicingPointMask
	packPCR(buf[6:12], maxClockBase, maxClockExtension)
	packPCR(buf[12:18], 90000, 0)
	// splice_countdown followed by stuffing; kept verbatim.
	copy(buf[18:25], []byte{0x03, 0xFF, 0xFF, 0x00, 0xFF, 0xFF, 0xFF})

	af, n, err := parseAdaptationField(buf, 4)
	require.NoError(t, err)
	assert.Equal(t, 21, n)
	assert.True(t, af.DiscontinuityIndicator)
	assert.True(t, af.SplicingPointFlag)
	assert.Equal(t, ClockReference{Base: maxClockBase, Extension: maxClockExtension}, *af.PCR)
	assert.Equal(t, ClockReference{Base: 90000}, *af.OPCR)
	assert.Equal(t, []byte{0x03, 0xFF, 0xFF, 0x00, 0xFF, 0xFF, 0xFF}, af.Stuffing)
}

func TestParseAdaptationField_ZeroLength(t *testing.T) {
	t.Parallel()

	buf := make([]byte, PacketSize)
	af, n, err := parseAdaptationField(buf, 4)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, &AdaptationField{}, af)
}

func TestParseAdaptationField_Truncated(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		setup func(buf []byte)
	}{
		{"length past packet end", func(buf []byte) { buf[4] = 184 }},
		{"pcr does not fit", func(buf []byte) {
			buf[4] = 4
			buf[5] = pcrFlagMask
		}},
		{"opcr does not fit", func(buf []byte) {
			buf[4] = 10
			buf[5] = pcrFlagMask | opcrFlagMask
		}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			buf := make([]byte, PacketSize)
			tc.setup(buf)
			_, _, err := parseAdaptationField(buf, 4)
			if !errors.Is(err, ErrTruncatedAdaptationField) {
				t.Fatalf("err = %v, want ErrTruncatedAdaptationField", err)
			}
		})
	}
}

func TestParseAdaptationField_MaxLength(t *testing.T) {
	t.Parallel()

	buf := make([]byte, PacketSize)
	buf[4] = 183
	af, n, err := parseAdaptationField(buf, 4)
	require.NoError(t, err)
	assert.Equal(t, 184, n)
	assert.Len(t, af.Stuffing, 182)
}

func TestDumpAdaptationField_PadsStuffing(t *testing.T) {
	t.Parallel()

	af := &AdaptationField{
		Length:                10,
		RandomAccessIndicator: true,
		PCR:                   &ClockReference{Base: 12345, Extension: 7},
	}
	dst := make([]byte, 32)
	n, err := dumpAdaptationField(af, dst)
	require.NoError(t, err)
	assert.Equal(t, 11, n)
	assert.Equal(t, byte(10), dst[0])
	assert.Equal(t, byte(randomAccessMask|pcrFlagMask), dst[1])

	want := make([]byte, 6)
	packPCR(want, 12345, 7)
	assert.Equal(t, want, dst[2:8])
	assert.Equal(t, []byte{0xFF, 0xFF, 0xFF}, dst[8:11])
	assert.Equal(t, byte(0), dst[11], "wrote past the declared length")
}

func TestDumpAdaptationField_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		af   *AdaptationField
		dst  int
	}{
		{"length too short for pcr", &AdaptationField{Length: 6, PCR: &ClockReference{}}, 184},
		{"length too short for stuffing", &AdaptationField{Length: 2, Stuffing: []byte{1, 2}}, 184},
		{"zero length with flag", &AdaptationField{DiscontinuityIndicator: true}, 184},
		{"pcr base overflow", &AdaptationField{Length: 7, PCR: &ClockReference{Base: 1 << 33}}, 184},
		{"opcr extension overflow", &AdaptationField{Length: 7, OPCR: &ClockReference{Extension: 512}}, 184},
		{"does not fit destination", &AdaptationField{Length: 20}, 10},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, err := dumpAdaptationField(tc.af, make([]byte, tc.dst))
			if !errors.Is(err, ErrRange) {
				t.Fatalf("err = %v, want ErrRange", err)
			}
		})
	}
}

func TestAdaptationField_RoundTrip(t *testing.T) {
	t.Parallel()

	fields := []*AdaptationField{
		{},
		{Length: 1},
		{Length: 1, ElementaryStreamPriorityIndicator: true},
		{Length: 7, PCR: &ClockReference{Base: 1, Extension: 299}},
		{Length: 13, PCR: &ClockReference{Base: maxClockBase}, OPCR: &ClockReference{Extension: maxClockExtension}},
		{Length: 5, TransportPrivateDataFlag: true, AdaptationFieldExtensionFlag: true, Stuffing: []byte{2, 0xAB, 0xCD, 0xEF}},
		{Length: 183, DiscontinuityIndicator: true, Stuffing: bytes.Repeat([]byte{0xFF}, 182)},
		{Length: 13, PCR: &ClockReference{Base: 7, ReservedCleared: 0x3F}, OPCR: &ClockReference{Extension: 9, ReservedCleared: 0x15}},
	}

	for _, want := range fields {
		buf := make([]byte, PacketSize)
		n, err := dumpAdaptationField(want, buf[4:])
		require.NoError(t, err)

		got, m, err := parseAdaptationField(buf, 4)
		require.NoError(t, err)
		assert.Equal(t, n, m)
		assert.Equal(t, want, got)
	}
}

func TestClockReference_ReservedBits(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		byte4   byte
		cleared uint8
	}{
		{"all ones", 0x7E, 0},
		{"all zeros", 0x00, 0x3F},
		{"mixed", 0x54, 0x15},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			in := make([]byte, clockReferenceSize)
			packPCR(in, 0x1_0000_0001, 0x101)
			in[4] = in[4]&^0x7E | tc.byte4

			c, err := readClockReference(in)
			require.NoError(t, err)
			assert.Equal(t, uint64(0x1_0000_0001), c.Base)
			assert.Equal(t, uint16(0x101), c.Extension)
			assert.Equal(t, tc.cleared, c.ReservedCleared)

			out := make([]byte, clockReferenceSize)
			require.NoError(t, writeClockReference(c, out))
			assert.Equal(t, in, out)
		})
	}
}

func TestClockReference_Value(t *testing.T) {
	t.Parallel()
	c := ClockReference{Base: 90000, Extension: 150}
	assert.Equal(t, uint64(90000*300+150), c.Value())
}
