package mpegts

import (
	"fmt"
	"log/slog"
)

// Codec parses and dumps transport stream packets and tracks per-PID
// continuity across the packets it parses.
//
// A Codec is not safe for concurrent ParsePacket calls. Use one Codec per
// stream; independent Codecs share no state.
type Codec struct {
	log        *slog.Logger
	classifier Classifier
	cc         *continuityState
}

// NewCodec creates a Codec with empty continuity state.
func NewCodec(opts ...func(*Codec)) *Codec {
	c := &Codec{
		classifier: DefaultClassifier,
		cc:         newContinuityState(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.log == nil {
		c.log = slog.Default()
	}
	c.log = c.log.With("component", "mpegts-codec")
	return c
}

// CodecOptClassifier sets the PID classification used to decide which
// payloads carry PSI. Defaults to DefaultClassifier.
func CodecOptClassifier(cl Classifier) func(*Codec) {
	return func(c *Codec) {
		if cl != nil {
			c.classifier = cl
		}
	}
}

// CodecOptLogger sets the logger. Defaults to slog.Default().
func CodecOptLogger(l *slog.Logger) func(*Codec) {
	return func(c *Codec) {
		c.log = l
	}
}

// Reset forgets every continuity counter seen so far.
func (c *Codec) Reset() {
	c.cc.reset()
}

// ExpectedContinuityCounter returns the counter the next payload-carrying
// packet on pid should have, or false if no packet on pid was parsed yet.
func (c *Codec) ExpectedContinuityCounter(pid uint16) (uint8, bool) {
	return c.cc.expected(pid)
}

// ParsePacket decodes one packet. packetNum and byteOffset locate the
// packet in its stream and are copied to the result. Continuity state is
// updated only when the whole packet decodes.
func (c *Codec) ParsePacket(packetNum, byteOffset int64, buf []byte) (*TransportPacket, error) {
	if len(buf) != PacketSize {
		return nil, fmt.Errorf("%w: got %d bytes, expected %d (packet %d)", ErrSize, len(buf), PacketSize, packetNum)
	}

	h, err := parseHeader(buf)
	if err != nil {
		return nil, fmt.Errorf("packet %d at %d: %w", packetNum, byteOffset, err)
	}

	pkt := &TransportPacket{
		Header:     h,
		PacketNum:  packetNum,
		ByteOffset: byteOffset,
	}
	offset := headerSize

	if h.AdaptationFieldExists {
		af, n, err := parseAdaptationField(buf, offset)
		if err != nil {
			return nil, fmt.Errorf("packet %d at %d, PID %d: %w", packetNum, byteOffset, h.PID, err)
		}
		pkt.AdaptationField = af
		offset += n
		if !h.PayloadExists && offset != PacketSize {
			return nil, fmt.Errorf("packet %d at %d, PID %d: %w: adaptation_field_length %d leaves %d unused bytes in a packet without payload",
				packetNum, byteOffset, h.PID, ErrRange, af.Length, PacketSize-offset)
		}
	}

	if h.PayloadExists {
		payload := buf[offset:]
		if c.classifier.Classify(h.PID) == KindPSI {
			psi, err := ParsePSI(payload, h.PayloadUnitStartIndicator)
			if err != nil {
				return nil, fmt.Errorf("packet %d at %d, PID %d: %w", packetNum, byteOffset, h.PID, err)
			}
			pkt.PSI = psi
		} else if len(payload) > 0 {
			pkt.Payload = make([]byte, len(payload))
			copy(pkt.Payload, payload)
		}
	}

	indicator := pkt.AdaptationField != nil && pkt.AdaptationField.DiscontinuityIndicator
	if c.cc.observe(h, indicator) {
		pkt.DiscontinuityDetected = true
		c.log.Debug("continuity counter discontinuity",
			"pid", h.PID,
			"cc", h.ContinuityCounter,
			"packet", packetNum,
			"offset", byteOffset)
	}
	return pkt, nil
}

// DumpPacket encodes pkt into buf and returns the number of bytes written,
// always PacketSize on success. Space left after the payload is filled with
// 0xFF. On error nothing is written to buf. DumpPacket does not read or
// change continuity state.
func (c *Codec) DumpPacket(pkt *TransportPacket, buf []byte) (int, error) {
	if len(buf) < PacketSize {
		return 0, fmt.Errorf("%w: got %d bytes, need %d", ErrBufferTooSmall, len(buf), PacketSize)
	}

	var scratch [PacketSize]byte
	n, err := encodePacket(pkt, scratch[:])
	if err != nil {
		return 0, err
	}
	return copy(buf, scratch[:n]), nil
}

func encodePacket(pkt *TransportPacket, dst []byte) (int, error) {
	h := pkt.Header
	if (pkt.AdaptationField != nil) != h.AdaptationFieldExists {
		return 0, fmt.Errorf("%w: adaptation_field_exists=%t but adaptation field present=%t",
			ErrInvalidState, h.AdaptationFieldExists, pkt.AdaptationField != nil)
	}
	if pkt.PSI != nil && len(pkt.Payload) > 0 {
		return 0, fmt.Errorf("%w: both PSI and opaque payload set", ErrInvalidState)
	}
	if !h.PayloadExists && (pkt.PSI != nil || len(pkt.Payload) > 0) {
		return 0, fmt.Errorf("%w: payload set but payload_exists=false", ErrInvalidState)
	}
	if err := dumpHeader(h, dst); err != nil {
		return 0, err
	}
	offset := headerSize

	if pkt.AdaptationField != nil {
		n, err := dumpAdaptationField(pkt.AdaptationField, dst[offset:])
		if err != nil {
			return 0, err
		}
		offset += n
		if !h.PayloadExists && offset != PacketSize {
			return 0, fmt.Errorf("%w: adaptation_field_length %d must be %d in a packet without payload",
				ErrRange, pkt.AdaptationField.Length, PacketSize-headerSize-1)
		}
	}

	switch {
	case pkt.PSI != nil:
		n, err := DumpPSI(pkt.PSI, h.PayloadUnitStartIndicator, dst[offset:])
		if err != nil {
			return 0, err
		}
		offset += n
	case len(pkt.Payload) > 0:
		if len(pkt.Payload) > len(dst)-offset {
			return 0, fmt.Errorf("%w: payload of %d bytes does not fit in %d", ErrRange, len(pkt.Payload), len(dst)-offset)
		}
		offset += copy(dst[offset:], pkt.Payload)
	}

	for ; offset < PacketSize; offset++ {
		dst[offset] = stuffingByte
	}
	return PacketSize, nil
}
