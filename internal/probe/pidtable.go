package probe

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/zlorb/m2pb/mpegts"
)

// ParsePIDTable parses a comma separated list of pid=kind pairs such as
// "0x100=psi,257=opaque". PIDs accept any base strconv understands. An
// empty string yields an empty table.
func ParsePIDTable(s string) (mpegts.PIDTable, error) {
	table := make(mpegts.PIDTable)
	s = strings.TrimSpace(s)
	if s == "" {
		return table, nil
	}

	for _, entry := range strings.Split(s, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		pidStr, kindStr, ok := strings.Cut(entry, "=")
		if !ok {
			return nil, fmt.Errorf("pid table entry %q: missing '='", entry)
		}
		pid, err := strconv.ParseUint(strings.TrimSpace(pidStr), 0, 16)
		if err != nil {
			return nil, fmt.Errorf("pid table entry %q: %w", entry, err)
		}
		if pid > 0x1FFF {
			return nil, fmt.Errorf("pid table entry %q: PID %d exceeds 13 bits", entry, pid)
		}
		kind, err := parseKind(strings.TrimSpace(kindStr))
		if err != nil {
			return nil, fmt.Errorf("pid table entry %q: %w", entry, err)
		}
		table[uint16(pid)] = kind
	}
	return table, nil
}

func parseKind(s string) (mpegts.PayloadKind, error) {
	switch strings.ToLower(s) {
	case "psi":
		return mpegts.KindPSI, nil
	case "opaque", "pes", "data":
		return mpegts.KindOpaque, nil
	}
	return 0, fmt.Errorf("unknown payload kind %q", s)
}
