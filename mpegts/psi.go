package mpegts

import "fmt"

// ParsePSI decodes the PSI framing of a packet payload. With pusi set the
// payload starts with pointer_field, followed by that many bytes ending the
// previous section, then table_id. Without pusi the payload is a section
// continuation and starts directly with table_id.
//
// The section body is not interpreted: section_length and CRC_32 are left to
// whoever reassembles sections across packets.
func ParsePSI(payload []byte, pusi bool) (*PSIPacket, error) {
	p := &PSIPacket{}
	offset := 0
	if pusi {
		if len(payload) < 1 {
			return nil, fmt.Errorf("%w: PSI payload has no pointer_field", ErrRange)
		}
		pointer := payload[0]
		p.PointerField = &pointer
		offset = 1 + int(pointer)
		if offset >= len(payload) {
			return nil, fmt.Errorf("%w: pointer_field %d leaves no table_id in %d payload bytes",
				ErrRange, pointer, len(payload))
		}
		if pointer > 0 {
			p.SectionTail = make([]byte, pointer)
			copy(p.SectionTail, payload[1:offset])
		}
	} else if len(payload) < 1 {
		return nil, fmt.Errorf("%w: PSI payload has no table_id", ErrRange)
	}

	p.TableID = payload[offset]
	offset++
	if offset < len(payload) {
		p.Remaining = make([]byte, len(payload)-offset)
		copy(p.Remaining, payload[offset:])
	}
	return p, nil
}

// EncodedLen returns the number of payload bytes p occupies.
func (p *PSIPacket) EncodedLen() int {
	n := 1 + len(p.Remaining)
	if p.PointerField != nil {
		n += 1 + len(p.SectionTail)
	}
	return n
}

// DumpPSI writes the PSI framing of p into dst and returns the number of
// bytes written. pointer_field is emitted iff pusi is set; a PSIPacket whose
// PointerField presence disagrees with pusi is rejected with ErrInvalidState.
func DumpPSI(p *PSIPacket, pusi bool, dst []byte) (int, error) {
	if p.PointerField != nil && !pusi {
		return 0, fmt.Errorf("%w: pointer_field present without payload_unit_start_indicator", ErrInvalidState)
	}
	if p.PointerField == nil && pusi {
		return 0, fmt.Errorf("%w: payload_unit_start_indicator set without pointer_field", ErrInvalidState)
	}
	if p.PointerField == nil && len(p.SectionTail) > 0 {
		return 0, fmt.Errorf("%w: section tail present without pointer_field", ErrInvalidState)
	}
	if p.PointerField != nil && int(*p.PointerField) != len(p.SectionTail) {
		return 0, fmt.Errorf("%w: pointer_field %d does not match %d section tail bytes",
			ErrInvalidState, *p.PointerField, len(p.SectionTail))
	}
	n := p.EncodedLen()
	if n > len(dst) {
		return 0, fmt.Errorf("%w: PSI payload of %d bytes does not fit in %d", ErrRange, n, len(dst))
	}

	offset := 0
	if p.PointerField != nil {
		dst[0] = *p.PointerField
		offset = 1 + copy(dst[1:], p.SectionTail)
	}
	dst[offset] = p.TableID
	offset++
	offset += copy(dst[offset:], p.Remaining)
	return offset, nil
}
