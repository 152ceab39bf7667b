package main

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/zlorb/m2pb/internal/probe"
)

// maxListedDiscontinuities caps the discontinuities printed in text mode.
const maxListedDiscontinuities = 20

func writeJSON(w io.Writer, rep *probe.Report) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(struct {
		*probe.Report
		PIDs       []*probe.PIDStats `json:"pids"`
		DurationMs int64             `json:"durationMs"`
	}{
		Report:     rep,
		PIDs:       rep.Sorted(),
		DurationMs: rep.Duration.Milliseconds(),
	})
}

func writeText(w io.Writer, rep *probe.Report) error {
	fmt.Fprintf(w, "%s: %d packets, %d bytes, %d PIDs, %d discontinuities, %d errors\n",
		rep.Name, rep.Packets, rep.Bytes, len(rep.PIDs), len(rep.Discontinuities), rep.Errors)
	if rep.TrailingBytes > 0 {
		fmt.Fprintf(w, "  %d trailing bytes after the last whole packet\n", rep.TrailingBytes)
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(tw, "PID\tpackets\tpsi\topaque\taf-only\tpcr\tcc-err\tscrambled\ttable\tlast pcr\t")
	for _, s := range rep.Sorted() {
		table := "-"
		if s.HasTableID {
			table = fmt.Sprintf("0x%02X", s.LastTableID)
		}
		pcr := "-"
		if s.LastPCR != nil {
			pcr = fmt.Sprintf("%.3fs", float64(s.LastPCR.Value())/27_000_000)
		}
		fmt.Fprintf(tw, "0x%04X\t%d\t%d\t%d\t%d\t%d\t%d\t%d\t%s\t%s\t\n",
			s.PID, s.Packets, s.PSIPackets, s.OpaquePackets, s.AdaptationOnly,
			s.PCRs, s.Discontinuities, s.Scrambled, table, pcr)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	for i, d := range rep.Discontinuities {
		if i == maxListedDiscontinuities {
			fmt.Fprintf(w, "  ... %d more discontinuities\n", len(rep.Discontinuities)-i)
			break
		}
		fmt.Fprintf(w, "  cc discontinuity: PID 0x%04X packet %d offset %d expected %d got %d\n",
			d.PID, d.PacketNum, d.ByteOffset, d.Expected, d.Got)
	}
	for _, e := range rep.ParseErrors {
		fmt.Fprintf(w, "  bad packet %d at offset %d: %s\n", e.PacketNum, e.ByteOffset, e.Err)
	}
	if n := rep.Errors - int64(len(rep.ParseErrors)); n > 0 {
		fmt.Fprintf(w, "  ... %d more bad packets\n", n)
	}
	_, err := fmt.Fprintln(w)
	return err
}
