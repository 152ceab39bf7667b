package srt

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"

	"github.com/zlorb/m2pb/internal/ingest"
)

const (
	// readBufferSize holds ten SRT payloads of 7 transport packets each.
	readBufferSize = 10 * 7 * 188

	// latency is the SRT receiver latency, in nanoseconds.
	latency = 120_000_000

	// defaultKey names a publisher that sent no usable stream ID.
	defaultKey = "default"
)

// streamKeyFromID maps an SRT stream ID to a registry key. Publishers
// commonly send "live/<key>" or "/<key>".
func streamKeyFromID(id string) string {
	key := strings.TrimPrefix(strings.TrimPrefix(id, "/"), "live/")
	if key == "" {
		return defaultKey
	}
	return key
}

// streamIDForKey is the stream ID a caller sends when the request names none.
func streamIDForKey(key string) string {
	return "live/" + key
}

// relay moves bytes from r into the registry pipe w until r ends, the
// pipe is closed or ctx is done. It returns the reason it stopped; io.EOF
// from r counts as a clean end.
func relay(ctx context.Context, r io.Reader, stream *ingest.Stream, w io.Writer) error {
	buf := make([]byte, readBufferSize)
	for ctx.Err() == nil {
		n, err := r.Read(buf)
		if n > 0 {
			stream.RecordRead(n)
			if _, werr := w.Write(buf[:n]); werr != nil {
				return werr
			}
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
	}
	return ctx.Err()
}

// logClosed reports the end of a relayed stream with its counters.
func logClosed(log *slog.Logger, stream *ingest.Stream, err error) {
	stats := stream.Stats()
	attrs := []any{
		"stream_key", stream.Key,
		"bytes", stats.BytesReceived,
		"reads", stats.ReadCount,
		"uptime_ms", stats.UptimeMs,
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		attrs = append(attrs, "error", err)
	}
	log.Info("stream closed", attrs...)
}
