// Package probe runs the transport packet codec over a byte stream and
// aggregates per-PID statistics, continuity discontinuities and parse errors
// into a Report.
package probe

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"time"

	"github.com/zlorb/m2pb/mpegts"
)

// maxRecordedErrors bounds how many parse errors a Report keeps verbatim.
// Errors past the bound are still counted.
const maxRecordedErrors = 64

// PIDStats holds what a probe saw on one PID.
type PIDStats struct {
	PID             uint16 `json:"pid"`
	Packets         int64  `json:"packets"`
	PSIPackets      int64  `json:"psiPackets"`
	OpaquePackets   int64  `json:"opaquePackets"`
	AdaptationOnly  int64  `json:"adaptationOnly"`
	PCRs            int64  `json:"pcrs"`
	Discontinuities int64  `json:"discontinuities"`
	Scrambled       int64  `json:"scrambled"`

	HasTableID  bool                   `json:"hasTableId"`
	LastTableID uint8                  `json:"lastTableId"`
	LastPCR     *mpegts.ClockReference `json:"lastPcr,omitempty"`
}

// Discontinuity locates a continuity counter break.
type Discontinuity struct {
	PID        uint16 `json:"pid"`
	PacketNum  int64  `json:"packetNum"`
	ByteOffset int64  `json:"byteOffset"`
	Expected   uint8  `json:"expected"`
	Got        uint8  `json:"got"`
}

// ParseError records a packet the codec rejected.
type ParseError struct {
	PacketNum  int64  `json:"packetNum"`
	ByteOffset int64  `json:"byteOffset"`
	Err        string `json:"error"`
}

// Report is the result of probing one stream.
type Report struct {
	Name            string               `json:"name"`
	Packets         int64                `json:"packets"`
	Bytes           int64                `json:"bytes"`
	TrailingBytes   int                  `json:"trailingBytes"`
	Errors          int64                `json:"errors"`
	PIDs            map[uint16]*PIDStats `json:"pids"`
	Discontinuities []Discontinuity      `json:"discontinuities"`
	ParseErrors     []ParseError         `json:"parseErrors"`
	Duration        time.Duration        `json:"duration"`
}

// Sorted returns the per-PID statistics ordered by PID.
func (r *Report) Sorted() []*PIDStats {
	out := make([]*PIDStats, 0, len(r.PIDs))
	for _, s := range r.PIDs {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PID < out[j].PID })
	return out
}

// Probe reads packets from a reader and feeds them through one Codec.
type Probe struct {
	name       string
	log        *slog.Logger
	classifier mpegts.Classifier
}

// New creates a Probe. name labels the report and log lines.
func New(name string, opts ...func(*Probe)) *Probe {
	p := &Probe{
		name:       name,
		classifier: mpegts.DefaultClassifier,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.log == nil {
		p.log = slog.Default()
	}
	p.log = p.log.With("component", "probe", "input", name)
	return p
}

// OptClassifier sets the PID classification handed to the codec.
func OptClassifier(cl mpegts.Classifier) func(*Probe) {
	return func(p *Probe) {
		if cl != nil {
			p.classifier = cl
		}
	}
}

// OptLogger sets the logger. Defaults to slog.Default().
func OptLogger(l *slog.Logger) func(*Probe) {
	return func(p *Probe) {
		p.log = l
	}
}

// Run reads r until EOF or ctx is cancelled. Packets the codec rejects are
// counted and skipped; reading continues at the next packet boundary. A
// short final read is reported as TrailingBytes. The returned Report is
// valid even when err is non-nil.
func (p *Probe) Run(ctx context.Context, r io.Reader) (*Report, error) {
	start := time.Now()
	codec := mpegts.NewCodec(mpegts.CodecOptClassifier(p.classifier), mpegts.CodecOptLogger(p.log))
	rep := &Report{
		Name: p.name,
		PIDs: make(map[uint16]*PIDStats),
	}
	defer func() { rep.Duration = time.Since(start) }()

	buf := make([]byte, mpegts.PacketSize)
	var num int64
	for {
		if err := ctx.Err(); err != nil {
			return rep, err
		}

		n, err := io.ReadFull(r, buf)
		rep.Bytes += int64(n)
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			if errors.Is(err, io.ErrUnexpectedEOF) {
				rep.TrailingBytes = n
				p.log.Warn("trailing bytes after last packet", "bytes", n)
				break
			}
			return rep, fmt.Errorf("read packet %d: %w", num, err)
		}

		offset := num * mpegts.PacketSize
		p.observe(codec, rep, num, offset, buf)
		num++
	}

	p.log.Info("probe finished",
		"packets", rep.Packets,
		"pids", len(rep.PIDs),
		"discontinuities", len(rep.Discontinuities),
		"errors", rep.Errors)
	return rep, nil
}

func (p *Probe) observe(codec *mpegts.Codec, rep *Report, num, offset int64, buf []byte) {
	rep.Packets++

	// The counter the packet should carry has to be read before the codec
	// updates its state.
	pid := uint16(buf[1]&0x1F)<<8 | uint16(buf[2])
	expected, hasExpected := codec.ExpectedContinuityCounter(pid)

	pkt, err := codec.ParsePacket(num, offset, buf)
	if err != nil {
		rep.Errors++
		if len(rep.ParseErrors) < maxRecordedErrors {
			rep.ParseErrors = append(rep.ParseErrors, ParseError{
				PacketNum:  num,
				ByteOffset: offset,
				Err:        err.Error(),
			})
		}
		p.log.Debug("skipping packet", "packet", num, "offset", offset, "error", err)
		return
	}

	st := rep.PIDs[pkt.Header.PID]
	if st == nil {
		st = &PIDStats{PID: pkt.Header.PID}
		rep.PIDs[pkt.Header.PID] = st
	}
	st.Packets++
	if pkt.Header.TransportScramblingControl != 0 {
		st.Scrambled++
	}

	switch {
	case pkt.PSI != nil:
		st.PSIPackets++
		if pkt.PSI.PointerField != nil {
			st.HasTableID = true
			st.LastTableID = pkt.PSI.TableID
		}
	case pkt.Header.PayloadExists:
		st.OpaquePackets++
	default:
		st.AdaptationOnly++
	}

	if af := pkt.AdaptationField; af != nil && af.PCR != nil {
		st.PCRs++
		pcr := *af.PCR
		st.LastPCR = &pcr
	}

	if pkt.DiscontinuityDetected {
		st.Discontinuities++
		d := Discontinuity{
			PID:        pkt.Header.PID,
			PacketNum:  num,
			ByteOffset: offset,
			Got:        pkt.Header.ContinuityCounter,
		}
		if hasExpected {
			d.Expected = expected
			if !pkt.Header.PayloadExists {
				d.Expected = (expected - 1) & 0x0F
			}
		}
		rep.Discontinuities = append(rep.Discontinuities, d)
	}
}
