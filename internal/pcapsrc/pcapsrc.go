// Package pcapsrc extracts transport stream bytes from UDP datagrams in a
// pcap capture, so a captured multicast or unicast feed can be probed like
// a .ts file.
package pcapsrc

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
)

const (
	tsPacketSize = 188
	rtpVersion   = 2
	rtpMinHeader = 12
)

// Stats counts what the reader did with the datagrams in the capture.
type Stats struct {
	Frames    int64 `json:"frames"`
	Datagrams int64 `json:"datagrams"`
	RTP       int64 `json:"rtp"`
	Skipped   int64 `json:"skipped"`
	Bytes     int64 `json:"bytes"`
}

// Reader is an io.Reader over the transport stream carried in a capture.
type Reader struct {
	log     *slog.Logger
	source  *gopacket.PacketSource
	dstPort uint16
	pending []byte
	stats   Stats
}

// NewReader reads a pcap stream from r. Only the classic pcap format is
// understood; pcapng captures have to be converted first.
func NewReader(r io.Reader, opts ...func(*Reader)) (*Reader, error) {
	pr, err := pcapgo.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("pcapsrc: %w", err)
	}
	src := gopacket.NewPacketSource(pr, pr.LinkType())
	src.DecodeOptions = gopacket.DecodeOptions{Lazy: true, NoCopy: true}

	rd := &Reader{source: src}
	for _, opt := range opts {
		opt(rd)
	}
	if rd.log == nil {
		rd.log = slog.Default()
	}
	rd.log = rd.log.With("component", "pcapsrc")
	return rd, nil
}

// OptDstPort keeps only datagrams sent to port. Zero keeps every datagram.
func OptDstPort(port uint16) func(*Reader) {
	return func(r *Reader) {
		r.dstPort = port
	}
}

// OptLogger sets the logger. Defaults to slog.Default().
func OptLogger(l *slog.Logger) func(*Reader) {
	return func(r *Reader) {
		r.log = l
	}
}

// Stats returns the counters accumulated so far.
func (r *Reader) Stats() Stats {
	return r.stats
}

// Read implements io.Reader.
func (r *Reader) Read(p []byte) (int, error) {
	for len(r.pending) == 0 {
		if err := r.next(); err != nil {
			return 0, err
		}
	}
	n := copy(p, r.pending)
	r.pending = r.pending[n:]
	return n, nil
}

func (r *Reader) next() error {
	pkt, err := r.source.NextPacket()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return io.EOF
		}
		return fmt.Errorf("pcapsrc: frame %d: %w", r.stats.Frames, err)
	}
	r.stats.Frames++

	udpLayer := pkt.Layer(layers.LayerTypeUDP)
	if udpLayer == nil {
		return nil
	}
	udp := udpLayer.(*layers.UDP)
	if r.dstPort != 0 && uint16(udp.DstPort) != r.dstPort {
		return nil
	}
	r.stats.Datagrams++

	payload, isRTP, err := transportPayload(udp.Payload)
	if err != nil {
		r.stats.Skipped++
		r.log.Debug("skipping datagram", "frame", r.stats.Frames, "error", err)
		return nil
	}
	if isRTP {
		r.stats.RTP++
	}
	r.stats.Bytes += int64(len(payload))
	r.pending = payload
	return nil
}

// transportPayload returns the transport packets carried in a UDP payload.
// A payload that is a whole number of packets starting with a sync byte is
// raw transport stream; anything else must be RTP (RFC 3550) wrapping one.
func transportPayload(b []byte) ([]byte, bool, error) {
	if len(b) > 0 && len(b)%tsPacketSize == 0 && b[0] == 0x47 {
		return b, false, nil
	}

	if len(b) < rtpMinHeader {
		return nil, false, fmt.Errorf("%d byte payload is neither transport stream nor RTP", len(b))
	}
	if b[0]>>6 != rtpVersion {
		return nil, false, fmt.Errorf("unexpected RTP version %d", b[0]>>6)
	}
	padding := b[0]&0x20 != 0
	extension := b[0]&0x10 != 0
	csrcCount := int(b[0] & 0x0F)

	offset := rtpMinHeader + 4*csrcCount
	if extension {
		if len(b) < offset+4 {
			return nil, false, errors.New("truncated RTP header extension")
		}
		offset += 4 + 4*int(binary.BigEndian.Uint16(b[offset+2:]))
	}
	end := len(b)
	if padding && end > 0 {
		end -= int(b[end-1])
	}
	if offset > end {
		return nil, false, fmt.Errorf("RTP header of %d bytes exceeds %d byte payload", offset, end)
	}

	payload := b[offset:end]
	if len(payload)%tsPacketSize != 0 {
		return nil, false, fmt.Errorf("RTP payload of %d bytes is not whole transport packets", len(payload))
	}
	return payload, true, nil
}
