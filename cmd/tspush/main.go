// Command tspush publishes a transport stream file to an SRT listener in
// real time, looping it with continuity counters and PCRs rewritten so the
// receiver sees one continuous stream. It is the counterpart of
// tsprobe -srt for local testing.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	srt "github.com/zsiec/srtgo"

	"github.com/zlorb/m2pb/internal/probe"
	"github.com/zlorb/m2pb/mpegts"
)

// chunkPackets is the number of packets per SRT write, the usual 1316 byte
// SRT payload.
const chunkPackets = 7

// defaultDuration is assumed when neither -duration nor the file's PCRs
// give one.
const defaultDuration = 60.0

func main() {
	level := slog.LevelInfo
	if os.Getenv("DEBUG") != "" {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	addrFlag := flag.String("addr", envOr("TSPUSH_ADDR", "127.0.0.1:6000"), "SRT listener address")
	keyFlag := flag.String("key", "", "stream key (default: file name without extension)")
	durationFlag := flag.Float64("duration", 0, "file duration in seconds (default: derived from PCRs)")
	onceFlag := flag.Bool("once", false, "push the file once instead of looping")
	pidsFlag := flag.String("pids", envOr("TSPROBE_PID_TABLE", ""), "extra PSI/opaque PIDs, e.g. 0x100=psi")
	flag.Parse()

	if flag.NArg() != 1 {
		fmt.Fprintf(os.Stderr, "Usage: tspush [-addr host:port] [-key k] [-once] file.ts\n")
		os.Exit(2)
	}
	path := flag.Arg(0)

	table, err := probe.ParsePIDTable(*pidsFlag)
	if err != nil {
		slog.Error("invalid -pids", "error", err)
		os.Exit(2)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		slog.Error("reading input", "error", err)
		os.Exit(1)
	}
	loop, err := newFileLoop(data, table)
	if err != nil {
		slog.Error("loading input", "path", path, "error", err)
		os.Exit(1)
	}

	streamID := "live/" + streamKey(path, *keyFlag)
	duration := selectDuration(*durationFlag, loop.duration())
	bytesPerSec := float64(loop.packetCount()*mpegts.PacketSize) / duration
	slog.Info("loaded", "path", path, "packets", loop.packetCount(),
		"duration_s", duration, "bytes_per_sec", int64(bytesPerSec), "pcr_pid", loop.pcrPID)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	for ctx.Err() == nil {
		err := pushOnce(ctx, *addrFlag, streamID, loop, bytesPerSec, !*onceFlag)
		if err == nil || errors.Is(err, context.Canceled) {
			return
		}
		slog.Warn("connection lost, reconnecting", "stream_id", streamID, "error", err)
		select {
		case <-time.After(time.Second):
		case <-ctx.Done():
		}
	}
}

func pushOnce(ctx context.Context, addr, streamID string, loop *fileLoop, bytesPerSec float64, repeat bool) error {
	cfg := srt.DefaultConfig()
	cfg.StreamID = streamID

	slog.Info("connecting", "addr", addr, "stream_id", streamID)
	conn, err := srt.Dial(addr, cfg)
	if err != nil {
		return fmt.Errorf("SRT dial %s: %w", addr, err)
	}
	defer conn.Close()

	slog.Info("connected", "stream_id", streamID)
	return stream(ctx, conn, loop, bytesPerSec, repeat)
}

// stream writes the loop to w paced at bytesPerSec against a single clock,
// so there is no burst or gap at the loop seam.
func stream(ctx context.Context, w io.Writer, loop *fileLoop, bytesPerSec float64, repeat bool) error {
	start := time.Now()
	var sent int64
	chunk := make([]byte, chunkPackets*mpegts.PacketSize)
	n := loop.packetCount()

	for pass := 1; ; pass++ {
		for i := 0; i < n; i += chunkPackets {
			if err := ctx.Err(); err != nil {
				return err
			}
			end := min(i+chunkPackets, n)
			buf := chunk[:(end-i)*mpegts.PacketSize]
			for j := i; j < end; j++ {
				if err := loop.render(j, buf[(j-i)*mpegts.PacketSize:]); err != nil {
					return err
				}
			}
			if _, err := w.Write(buf); err != nil {
				return err
			}
			sent += int64(len(buf))

			if bytesPerSec > 0 {
				due := time.Duration(float64(sent) / bytesPerSec * float64(time.Second))
				if wait := due - time.Since(start); wait > 0 {
					select {
					case <-time.After(wait):
					case <-ctx.Done():
						return ctx.Err()
					}
				}
			}
		}
		loop.endPass()
		slog.Debug("pass complete", "pass", pass, "sent_bytes", sent, "elapsed", time.Since(start).Truncate(time.Millisecond))
		if !repeat {
			return nil
		}
	}
}

// selectDuration prefers an explicit override, then the PCR-derived
// duration, then defaultDuration.
func selectDuration(override, fromPCR float64) float64 {
	if override > 0 {
		return override
	}
	if fromPCR > 0 {
		return fromPCR
	}
	return defaultDuration
}

func streamKey(path, key string) string {
	if key != "" {
		return key
	}
	base := filepath.Base(path)
	return base[:len(base)-len(filepath.Ext(base))]
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
