package main

import (
	"fmt"

	"github.com/zlorb/m2pb/mpegts"
)

// clockWrap is the period of a 27 MHz clock reference (2^33 * 300 ticks).
const clockWrap = (uint64(1) << 33) * 300

// fileLoop holds a transport stream file decoded once, so it can be
// re-encoded on every pass with continuity counters and clock references
// that carry on from the previous pass.
type fileLoop struct {
	codec   *mpegts.Codec
	raw     []byte
	packets []*mpegts.TransportPacket // nil where the codec rejected the packet

	pcrPID   uint16
	firstPCR uint64
	lastPCR  uint64
	pcrCount int

	next   map[uint16]uint8
	offset uint64
}

func newFileLoop(data []byte, classifier mpegts.Classifier) (*fileLoop, error) {
	if len(data) < mpegts.PacketSize {
		return nil, fmt.Errorf("file holds %d bytes, less than one packet", len(data))
	}
	codec := mpegts.NewCodec(mpegts.CodecOptClassifier(classifier))
	n := len(data) / mpegts.PacketSize
	l := &fileLoop{
		codec:   codec,
		raw:     data[:n*mpegts.PacketSize],
		packets: make([]*mpegts.TransportPacket, n),
		next:    make(map[uint16]uint8),
	}

	pcrFound := false
	for i := range n {
		off := i * mpegts.PacketSize
		pkt, err := codec.ParsePacket(int64(i), int64(off), l.raw[off:off+mpegts.PacketSize])
		if err != nil {
			continue
		}
		l.packets[i] = pkt
		af := pkt.AdaptationField
		if af == nil || af.PCR == nil {
			continue
		}
		if !pcrFound {
			pcrFound = true
			l.pcrPID = pkt.Header.PID
			l.firstPCR = af.PCR.Value()
		}
		if pkt.Header.PID == l.pcrPID {
			l.lastPCR = af.PCR.Value()
			l.pcrCount++
		}
	}
	return l, nil
}

// duration returns the span covered by the PCRs in seconds, or 0 if the
// file carries fewer than two.
func (l *fileLoop) duration() float64 {
	if l.pcrCount < 2 || l.lastPCR <= l.firstPCR {
		return 0
	}
	return float64(l.lastPCR-l.firstPCR) / 27_000_000
}

// span is the clock advance of one pass: the PCR range plus one average
// PCR interval, so the first PCR of the next pass does not repeat the last
// one of this pass.
func (l *fileLoop) span() uint64 {
	if l.pcrCount < 2 || l.lastPCR <= l.firstPCR {
		return 0
	}
	d := l.lastPCR - l.firstPCR
	return d + d/uint64(l.pcrCount-1)
}

// packetCount returns the number of whole packets in the loop.
func (l *fileLoop) packetCount() int {
	return len(l.packets)
}

// render writes packet i of the current pass into dst.
func (l *fileLoop) render(i int, dst []byte) error {
	off := i * mpegts.PacketSize
	src := l.packets[i]
	if src == nil {
		copy(dst, l.raw[off:off+mpegts.PacketSize])
		return nil
	}

	pkt := *src
	pkt.Header.ContinuityCounter = l.continuity(src.Header)
	if af := src.AdaptationField; af != nil && l.offset != 0 {
		shifted := *af
		shifted.PCR = shiftClock(af.PCR, l.offset)
		shifted.OPCR = shiftClock(af.OPCR, l.offset)
		pkt.AdaptationField = &shifted
	}
	if _, err := l.codec.DumpPacket(&pkt, dst); err != nil {
		return fmt.Errorf("packet %d: %w", i, err)
	}
	return nil
}

// endPass advances the clock offset after a full pass.
func (l *fileLoop) endPass() {
	l.offset = (l.offset + l.span()) % clockWrap
}

func (l *fileLoop) continuity(h mpegts.Header) uint8 {
	if h.PID == mpegts.PIDNull {
		return h.ContinuityCounter
	}
	last, seen := l.next[h.PID]
	cc := h.ContinuityCounter
	if seen {
		cc = last
		if h.PayloadExists {
			cc = (last + 1) & 0x0F
		}
	}
	l.next[h.PID] = cc
	return cc
}

func shiftClock(c *mpegts.ClockReference, offset uint64) *mpegts.ClockReference {
	if c == nil {
		return nil
	}
	v := (c.Value() + offset) % clockWrap
	return &mpegts.ClockReference{Base: v / 300, Extension: uint16(v % 300), ReservedCleared: c.ReservedCleared}
}
