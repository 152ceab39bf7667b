package mpegts

import "fmt"

const (
	syncByte   = 0x47
	headerSize = 4

	// byte 1
	teiMask      = 0x80
	pusiMask     = 0x40
	priorityMask = 0x20
	pidHighMask  = 0x1F

	// byte 3
	scramblingShift = 6
	scramblingMask  = 0x03
	afExistsMask    = 0x20
	payloadMask     = 0x10
	ccMask          = 0x0F

	maxPID  = 0x1FFF
	nullPID = 0x1FFF
)

// parseHeader decodes the 4-byte header at the start of buf.
func parseHeader(buf []byte) (Header, error) {
	var h Header
	if len(buf) < headerSize {
		return h, fmt.Errorf("%w: header needs %d bytes, got %d", ErrSize, headerSize, len(buf))
	}
	if buf[0] != syncByte {
		return h, fmt.Errorf("%w: 0x%02X", ErrSync, buf[0])
	}

	h.TransportErrorIndicator = buf[1]&teiMask != 0
	h.PayloadUnitStartIndicator = buf[1]&pusiMask != 0
	h.TransportPriority = buf[1]&priorityMask != 0
	h.PID = uint16(buf[1]&pidHighMask)<<8 | uint16(buf[2])
	h.TransportScramblingControl = buf[3] >> scramblingShift & scramblingMask
	h.AdaptationFieldExists = buf[3]&afExistsMask != 0
	h.PayloadExists = buf[3]&payloadMask != 0
	h.ContinuityCounter = buf[3] & ccMask

	if !h.AdaptationFieldExists && !h.PayloadExists {
		return h, fmt.Errorf("%w: reserved adaptation_field_control 00 on PID %d", ErrRange, h.PID)
	}
	return h, nil
}

// dumpHeader writes h into the first 4 bytes of dst.
func dumpHeader(h Header, dst []byte) error {
	if len(dst) < headerSize {
		return fmt.Errorf("%w: header needs %d bytes, got %d", ErrRange, headerSize, len(dst))
	}
	if h.PID > maxPID {
		return fmt.Errorf("%w: PID %d exceeds %d", ErrRange, h.PID, maxPID)
	}
	if h.TransportScramblingControl > scramblingMask {
		return fmt.Errorf("%w: transport_scrambling_control %d exceeds %d", ErrRange, h.TransportScramblingControl, scramblingMask)
	}
	if h.ContinuityCounter > ccMask {
		return fmt.Errorf("%w: continuity_counter %d exceeds %d", ErrRange, h.ContinuityCounter, ccMask)
	}
	if !h.AdaptationFieldExists && !h.PayloadExists {
		return fmt.Errorf("%w: neither adaptation field nor payload flagged", ErrRange)
	}

	dst[0] = syncByte
	dst[1] = byte(h.PID>>8) & pidHighMask
	if h.TransportErrorIndicator {
		dst[1] |= teiMask
	}
	if h.PayloadUnitStartIndicator {
		dst[1] |= pusiMask
	}
	if h.TransportPriority {
		dst[1] |= priorityMask
	}
	dst[2] = byte(h.PID)
	dst[3] = h.TransportScramblingControl<<scramblingShift | h.ContinuityCounter
	if h.AdaptationFieldExists {
		dst[3] |= afExistsMask
	}
	if h.PayloadExists {
		dst[3] |= payloadMask
	}
	return nil
}
