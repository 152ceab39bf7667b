package mpegts

import (
	"fmt"

	"github.com/q191201771/naza/pkg/nazabits"
)

// adaptation_field flags byte
const (
	discontinuityMask    = 0x80
	randomAccessMask     = 0x40
	esPriorityMask       = 0x20
	pcrFlagMask          = 0x10
	opcrFlagMask         = 0x08
	splicingPointMask    = 0x04
	privateDataFlagMask  = 0x02
	afExtensionFlagMask  = 0x01
	clockReferenceSize   = 6
	maxClockBase         = 1<<33 - 1
	maxClockExtension    = 1<<9 - 1
	clockReservedBits    = 6
	clockReservedPattern = 0x3F
	stuffingByte         = 0xFF
)

// ------------------------------------------------
// <iso13818-1> <Table 2-6>
// adaptation_field_length              [8b]
// discontinuity_indicator              [1b]
// random_access_indicator              [1b]
// elementary_stream_priority_indicator [1b]
// PCR_flag                             [1b]
// OPCR_flag                            [1b]
// splicing_point_flag                  [1b]
// transport_private_data_flag          [1b]
// adaptation_field_extension_flag      [1b]
// -----if PCR_flag == 1-----
// program_clock_reference_base         [33b]
// reserved                             [6b]
// program_clock_reference_extension    [9b]
// -----if OPCR_flag == 1----
// original_program_clock_reference     [48b] same layout
// -----remaining declared bytes: stuffing
// ------------------------------------------------

// parseAdaptationField decodes the adaptation field starting at buf[offset]
// and returns it together with the number of bytes it occupies, length byte
// included.
func parseAdaptationField(buf []byte, offset int) (*AdaptationField, int, error) {
	if offset >= len(buf) {
		return nil, 0, fmt.Errorf("%w: no room for length byte at offset %d", ErrTruncatedAdaptationField, offset)
	}
	af := &AdaptationField{Length: buf[offset]}
	end := offset + 1 + int(af.Length)
	if end > len(buf) {
		return nil, 0, fmt.Errorf("%w: length %d at offset %d exceeds %d remaining bytes",
			ErrTruncatedAdaptationField, af.Length, offset, len(buf)-offset-1)
	}
	if af.Length == 0 {
		return af, 1, nil
	}

	pos := offset + 1
	flags := buf[pos]
	pos++
	af.DiscontinuityIndicator = flags&discontinuityMask != 0
	af.RandomAccessIndicator = flags&randomAccessMask != 0
	af.ElementaryStreamPriorityIndicator = flags&esPriorityMask != 0
	af.SplicingPointFlag = flags&splicingPointMask != 0
	af.TransportPrivateDataFlag = flags&privateDataFlagMask != 0
	af.AdaptationFieldExtensionFlag = flags&afExtensionFlagMask != 0

	if flags&pcrFlagMask != 0 {
		if pos+clockReferenceSize > end {
			return nil, 0, fmt.Errorf("%w: PCR flagged but only %d bytes declared", ErrTruncatedAdaptationField, end-pos)
		}
		pcr, err := readClockReference(buf[pos : pos+clockReferenceSize])
		if err != nil {
			return nil, 0, err
		}
		af.PCR = pcr
		pos += clockReferenceSize
	}
	if flags&opcrFlagMask != 0 {
		if pos+clockReferenceSize > end {
			return nil, 0, fmt.Errorf("%w: OPCR flagged but only %d bytes declared", ErrTruncatedAdaptationField, end-pos)
		}
		opcr, err := readClockReference(buf[pos : pos+clockReferenceSize])
		if err != nil {
			return nil, 0, err
		}
		af.OPCR = opcr
		pos += clockReferenceSize
	}

	if pos < end {
		af.Stuffing = make([]byte, end-pos)
		copy(af.Stuffing, buf[pos:end])
	}
	return af, end - offset, nil
}

// minLength is the smallest adaptation_field_length that holds the populated
// sub-fields of af.
func (af *AdaptationField) minLength() int {
	if !af.hasContent() {
		return 0
	}
	n := 1 + len(af.Stuffing)
	if af.PCR != nil {
		n += clockReferenceSize
	}
	if af.OPCR != nil {
		n += clockReferenceSize
	}
	return n
}

func (af *AdaptationField) hasContent() bool {
	return af.DiscontinuityIndicator || af.RandomAccessIndicator ||
		af.ElementaryStreamPriorityIndicator || af.PCR != nil || af.OPCR != nil ||
		af.SplicingPointFlag || af.TransportPrivateDataFlag ||
		af.AdaptationFieldExtensionFlag || len(af.Stuffing) > 0
}

// dumpAdaptationField writes af into dst and returns the number of bytes
// written (1 + af.Length). Declared bytes not covered by the populated
// sub-fields are filled with 0xFF.
func dumpAdaptationField(af *AdaptationField, dst []byte) (int, error) {
	total := 1 + int(af.Length)
	if total > len(dst) {
		return 0, fmt.Errorf("%w: adaptation field of %d bytes does not fit in %d", ErrRange, total, len(dst))
	}
	if need := af.minLength(); int(af.Length) < need {
		return 0, fmt.Errorf("%w: adaptation_field_length %d cannot hold %d bytes of sub-fields", ErrRange, af.Length, need)
	}

	dst[0] = af.Length
	if af.Length == 0 {
		return 1, nil
	}

	var flags byte
	if af.DiscontinuityIndicator {
		flags |= discontinuityMask
	}
	if af.RandomAccessIndicator {
		flags |= randomAccessMask
	}
	if af.ElementaryStreamPriorityIndicator {
		flags |= esPriorityMask
	}
	if af.PCR != nil {
		flags |= pcrFlagMask
	}
	if af.OPCR != nil {
		flags |= opcrFlagMask
	}
	if af.SplicingPointFlag {
		flags |= splicingPointMask
	}
	if af.TransportPrivateDataFlag {
		flags |= privateDataFlagMask
	}
	if af.AdaptationFieldExtensionFlag {
		flags |= afExtensionFlagMask
	}
	dst[1] = flags
	pos := 2

	if af.PCR != nil {
		if err := writeClockReference(af.PCR, dst[pos:pos+clockReferenceSize]); err != nil {
			return 0, fmt.Errorf("PCR: %w", err)
		}
		pos += clockReferenceSize
	}
	if af.OPCR != nil {
		if err := writeClockReference(af.OPCR, dst[pos:pos+clockReferenceSize]); err != nil {
			return 0, fmt.Errorf("OPCR: %w", err)
		}
		pos += clockReferenceSize
	}

	pos += copy(dst[pos:total], af.Stuffing)
	for ; pos < total; pos++ {
		dst[pos] = stuffingByte
	}
	return total, nil
}

func readClockReference(b []byte) (*ClockReference, error) {
	br := nazabits.NewBitReader(b)
	high, err := br.ReadBits8(1)
	if err != nil {
		return nil, fmt.Errorf("%w: clock reference: %v", ErrTruncatedAdaptationField, err)
	}
	low, err := br.ReadBits32(32)
	if err != nil {
		return nil, fmt.Errorf("%w: clock reference: %v", ErrTruncatedAdaptationField, err)
	}
	reserved, err := br.ReadBits8(clockReservedBits)
	if err != nil {
		return nil, fmt.Errorf("%w: clock reference: %v", ErrTruncatedAdaptationField, err)
	}
	ext, err := br.ReadBits16(9)
	if err != nil {
		return nil, fmt.Errorf("%w: clock reference: %v", ErrTruncatedAdaptationField, err)
	}
	return &ClockReference{
		Base:            uint64(high)<<32 | uint64(low),
		Extension:       ext,
		ReservedCleared: ^reserved & clockReservedPattern,
	}, nil
}

// writeClockReference packs c into the 6 bytes of dst. Reserved bits are
// written as ones except those in c.ReservedCleared.
func writeClockReference(c *ClockReference, dst []byte) error {
	if c.Base > maxClockBase {
		return fmt.Errorf("%w: clock reference base %d exceeds 33 bits", ErrRange, c.Base)
	}
	if c.Extension > maxClockExtension {
		return fmt.Errorf("%w: clock reference extension %d exceeds 9 bits", ErrRange, c.Extension)
	}
	if c.ReservedCleared > clockReservedPattern {
		return fmt.Errorf("%w: clock reference reserved mask 0x%02X exceeds 6 bits", ErrRange, c.ReservedCleared)
	}
	clear(dst[:clockReferenceSize])
	bw := nazabits.NewBitWriter(dst)
	bw.WriteBits8(1, uint8(c.Base>>32))
	bw.WriteBits16(16, uint16(c.Base>>16))
	bw.WriteBits16(16, uint16(c.Base))
	bw.WriteBits8(clockReservedBits, clockReservedPattern&^c.ReservedCleared)
	bw.WriteBits16(9, c.Extension)
	return nil
}
