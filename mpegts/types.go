// Package mpegts implements a byte-exact codec for 188-byte MPEG-2 transport
// stream packets. It maps a packet to a TransportPacket (header, optional
// adaptation field, PSI framing or opaque payload) and back, and tracks
// per-PID continuity counters across a sequence of parsed packets.
//
// Section reassembly across packets, table semantics and PES demuxing are
// left to the caller: the codec exposes the raw pointer_field, table_id and
// remaining bytes of every PSI packet.
package mpegts

// PacketSize is the fixed size of a transport stream packet.
const PacketSize = 188

// TransportPacket is the structured form of one 188-byte TS packet.
// At most one of PSI and Payload is set, and only if Header.PayloadExists.
type TransportPacket struct {
	Header          Header
	AdaptationField *AdaptationField
	PSI             *PSIPacket
	Payload         []byte

	// Set by Codec.ParsePacket for traceability; ignored by DumpPacket.
	PacketNum             int64
	ByteOffset            int64
	DiscontinuityDetected bool
}

// Header contains the fields of the fixed 4-byte packet header.
type Header struct {
	TransportErrorIndicator    bool
	PayloadUnitStartIndicator  bool
	TransportPriority          bool
	PID                        uint16
	TransportScramblingControl uint8
	AdaptationFieldExists      bool
	PayloadExists              bool
	ContinuityCounter          uint8
}

// AdaptationField is the optional, length-prefixed field that follows the
// header. Length is the adaptation_field_length byte: the number of bytes
// after it. Stuffing holds every declared byte after the flags and clock
// references verbatim, including the bodies of the splicing point, private
// data and extension sub-fields, which are not interpreted.
type AdaptationField struct {
	Length                            uint8
	DiscontinuityIndicator            bool
	RandomAccessIndicator             bool
	ElementaryStreamPriorityIndicator bool
	PCR                               *ClockReference
	OPCR                              *ClockReference
	SplicingPointFlag                 bool
	TransportPrivateDataFlag          bool
	AdaptationFieldExtensionFlag      bool
	Stuffing                          []byte
}

// ClockReference is a PCR or OPCR: a 33-bit base in 90 kHz units and a 9-bit
// extension in 27 MHz units.
//
// The 6 reserved bits between base and extension should be ones.
// ReservedCleared records those that were zero on the wire, so the zero
// value encodes the canonical all-ones pattern.
type ClockReference struct {
	Base            uint64
	Extension       uint16
	ReservedCleared uint8
}

// Value returns the clock reference in 27 MHz ticks.
func (c ClockReference) Value() uint64 {
	return c.Base*300 + uint64(c.Extension)
}

// PSIPacket is the PSI framing of one packet payload.
//
// PointerField is present iff the packet has payload_unit_start_indicator
// set. SectionTail holds the *PointerField bytes that follow it, which end
// a section started in an earlier packet. TableID is the first byte of the
// section starting in this packet (or the first payload byte of a
// continuation packet) and Remaining is everything after it.
type PSIPacket struct {
	PointerField *uint8
	SectionTail  []byte
	TableID      uint8
	Remaining    []byte
}

// PayloadKind classifies what a PID carries.
type PayloadKind int

// Payload kinds understood by the codec.
const (
	KindOpaque PayloadKind = iota
	KindPSI
)

func (k PayloadKind) String() string {
	switch k {
	case KindPSI:
		return "psi"
	case KindOpaque:
		return "opaque"
	}
	return "unknown"
}
