package mpegts

// continuityState remembers the last continuity_counter seen on each PID.
// A PID missing from the map is unseen.
type continuityState struct {
	last map[uint16]uint8
}

func newContinuityState() *continuityState {
	return &continuityState{last: make(map[uint16]uint8)}
}

func (s *continuityState) reset() {
	clear(s.last)
}

// observe records h.ContinuityCounter for h.PID and reports whether it
// breaks continuity with the previous packet on that PID. A signaled
// discontinuity_indicator suppresses the report. The counter only advances
// on packets that carry payload, and the null PID is never tracked.
func (s *continuityState) observe(h Header, indicator bool) bool {
	if h.PID == nullPID {
		return false
	}
	prev, seen := s.last[h.PID]
	s.last[h.PID] = h.ContinuityCounter
	if !seen || indicator {
		return false
	}
	expected := prev
	if h.PayloadExists {
		expected = (prev + 1) & ccMask
	}
	return h.ContinuityCounter != expected
}

// expected returns the counter the next payload-carrying packet on pid
// should have.
func (s *continuityState) expected(pid uint16) (uint8, bool) {
	prev, seen := s.last[pid]
	if !seen {
		return 0, false
	}
	return (prev + 1) & ccMask, true
}
