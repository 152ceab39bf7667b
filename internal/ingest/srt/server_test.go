package srt

import (
	"testing"

	"github.com/zlorb/m2pb/internal/ingest"
)

func TestServerAdmit(t *testing.T) {
	t.Parallel()

	reg := ingest.NewRegistry(nil, nil)
	if _, _, err := reg.Register("cam", ingest.SourceSRTListen); err != nil {
		t.Fatalf("Register: %v", err)
	}
	t.Cleanup(func() { reg.Unregister("cam") })

	tests := []struct {
		name   string
		max    int
		id     string
		refuse bool
	}{
		{name: "new key", id: "live/other"},
		{name: "key in use", id: "live/cam", refuse: true},
		{name: "key in use without prefix", id: "/cam", refuse: true},
		{name: "under limit", max: 2, id: "other"},
		{name: "at limit", max: 1, id: "other", refuse: true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			s := NewServer(":0", reg, ServerOptMaxPublishers(tc.max))
			reason := s.admit(tc.id)
			if tc.refuse && reason == "" {
				t.Errorf("admit(%q) accepted, want refusal", tc.id)
			}
			if !tc.refuse && reason != "" {
				t.Errorf("admit(%q) refused: %s", tc.id, reason)
			}
		})
	}
}

func TestNewServerIgnoresNilLogger(t *testing.T) {
	t.Parallel()

	s := NewServer(":0", ingest.NewRegistry(nil, nil), ServerOptLogger(nil))
	if s.log == nil {
		t.Fatal("logger is nil")
	}
}
