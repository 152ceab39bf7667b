// Command tsprobe parses transport streams packet by packet and reports
// per-PID statistics, continuity counter discontinuities and malformed
// packets. Inputs are .ts files, pcap captures of UDP/RTP feeds, or live SRT
// streams either published to tsprobe or pulled from a remote listener.
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
	"runtime"
	"sync"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/zlorb/m2pb/internal/ingest"
	srtingest "github.com/zlorb/m2pb/internal/ingest/srt"
	"github.com/zlorb/m2pb/internal/pcapsrc"
	"github.com/zlorb/m2pb/internal/probe"
	"github.com/zlorb/m2pb/mpegts"
)

var version = "dev"

type config struct {
	files    []string
	pcap     bool
	port     uint16
	pids     mpegts.PIDTable
	srtAddr  string
	srtMax   int
	pullAddr string
	key      string
	streamID string
	json     bool
}

func main() {
	level := slog.LevelInfo
	if os.Getenv("DEBUG") != "" {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	cfg, err := parseFlags(os.Args[1:])
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		slog.Info("received signal, shutting down", "signal", sig)
		cancel()
	}()

	slog.Info("tsprobe starting", "version", version, "inputs", len(cfg.files), "srt", cfg.srtAddr, "pull", cfg.pullAddr)

	out := &reportWriter{w: os.Stdout, json: cfg.json}
	if len(cfg.files) > 0 {
		err = probeFiles(ctx, cfg, out)
	} else {
		err = probeLive(ctx, cfg, out)
	}
	if err != nil {
		slog.Error("tsprobe failed", "error", err)
		os.Exit(1)
	}
}

func parseFlags(args []string) (*config, error) {
	fs := flag.NewFlagSet("tsprobe", flag.ContinueOnError)
	pcapFlag := fs.Bool("pcap", false, "inputs are pcap captures of UDP or RTP carried transport streams")
	portFlag := fs.Uint("port", 0, "with -pcap, only read datagrams sent to this UDP port")
	pidsFlag := fs.String("pids", envOr("TSPROBE_PID_TABLE", ""), "extra PSI/opaque PIDs, e.g. 0x100=psi,0x101=opaque")
	srtFlag := fs.String("srt", envOr("TSPROBE_SRT_ADDR", ""), "listen for SRT publishers on this address, e.g. :6000")
	srtMaxFlag := fs.Int("srt-max", 0, "with -srt, refuse publishers beyond this many (0 = no limit)")
	pullFlag := fs.String("pull", "", "pull from a remote SRT listener at host:port")
	keyFlag := fs.String("key", "probe", "stream key used for -pull")
	streamIDFlag := fs.String("streamid", "", "SRT stream ID sent with -pull (default live/<key>)")
	jsonFlag := fs.Bool("json", false, "print reports as JSON")
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "Usage:\n")
		fmt.Fprintf(fs.Output(), "  tsprobe [-pcap [-port n]] [-pids table] [-json] file...\n")
		fmt.Fprintf(fs.Output(), "  tsprobe -srt :6000 [-pids table] [-json]\n")
		fmt.Fprintf(fs.Output(), "  tsprobe -pull host:port [-key k] [-streamid id] [-pids table] [-json]\n\n")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	table, err := probe.ParsePIDTable(*pidsFlag)
	if err != nil {
		return nil, fmt.Errorf("-pids: %w", err)
	}
	if *srtMaxFlag < 0 {
		return nil, fmt.Errorf("-srt-max %d must not be negative", *srtMaxFlag)
	}
	if *portFlag > 0xFFFF {
		return nil, fmt.Errorf("-port %d out of range", *portFlag)
	}

	cfg := &config{
		files:    fs.Args(),
		pcap:     *pcapFlag,
		port:     uint16(*portFlag),
		pids:     table,
		srtAddr:  *srtFlag,
		srtMax:   *srtMaxFlag,
		pullAddr: *pullFlag,
		key:      *keyFlag,
		streamID: *streamIDFlag,
		json:     *jsonFlag,
	}

	live := cfg.srtAddr != "" || cfg.pullAddr != ""
	switch {
	case len(cfg.files) > 0 && live:
		return nil, errors.New("file inputs cannot be combined with -srt or -pull")
	case len(cfg.files) == 0 && !live:
		fs.Usage()
		return nil, errors.New("no inputs")
	}
	return cfg, nil
}

// probeFiles probes every file concurrently, one codec per file, and
// prints the reports in argument order.
func probeFiles(ctx context.Context, cfg *config, out *reportWriter) error {
	reports := make([]*probe.Report, len(cfg.files))
	errs := make([]error, len(cfg.files))

	var g errgroup.Group
	g.SetLimit(runtime.NumCPU())
	for i, path := range cfg.files {
		g.Go(func() error {
			reports[i], errs[i] = probeFile(ctx, cfg, path)
			return nil
		})
	}
	_ = g.Wait()

	for i, rep := range reports {
		if rep != nil {
			if err := out.write(rep); err != nil {
				return err
			}
		}
		if errs[i] != nil {
			errs[i] = fmt.Errorf("%s: %w", cfg.files[i], errs[i])
		}
	}
	return errors.Join(errs...)
}

func probeFile(ctx context.Context, cfg *config, path string) (*probe.Report, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var r io.Reader = f
	if cfg.pcap {
		pr, err := pcapsrc.NewReader(f, pcapsrc.OptDstPort(cfg.port))
		if err != nil {
			return nil, err
		}
		defer func() {
			st := pr.Stats()
			slog.Debug("pcap input", "path", path, "frames", st.Frames, "datagrams", st.Datagrams,
				"rtp", st.RTP, "skipped", st.Skipped)
		}()
		r = pr
	}
	return probe.New(path, probe.OptClassifier(cfg.pids)).Run(ctx, r)
}

// probeLive serves SRT publishers and/or pulls one remote stream, printing
// a report whenever a stream ends.
func probeLive(ctx context.Context, cfg *config, out *reportWriter) error {
	g, ctx := errgroup.WithContext(ctx)

	registry := ingest.NewRegistry(func(key string, input io.Reader, source ingest.Source) {
		rep, err := probe.New(key, probe.OptClassifier(cfg.pids)).Run(ctx, input)
		if err != nil && !errors.Is(err, context.Canceled) {
			slog.Warn("probe ended with error", "key", key, "source", source, "error", err)
		}
		if err := out.write(rep); err != nil {
			slog.Error("writing report", "key", key, "error", err)
		}
	}, nil)

	if cfg.srtAddr != "" {
		srv := srtingest.NewServer(cfg.srtAddr, registry, srtingest.ServerOptMaxPublishers(cfg.srtMax))
		g.Go(func() error {
			return srv.ListenAndServe(ctx)
		})
	}

	if cfg.pullAddr != "" {
		caller := srtingest.NewCaller(registry, nil)
		g.Go(func() error {
			err := caller.Pull(ctx, srtingest.PullRequest{
				Address:   cfg.pullAddr,
				StreamKey: cfg.key,
				StreamID:  cfg.streamID,
			})
			if err != nil {
				return err
			}
			stream, ok := registry.Get(cfg.key)
			if !ok {
				return nil
			}
			select {
			case <-stream.Done():
			case <-ctx.Done():
				_ = caller.Stop(cfg.key)
			}
			if cfg.srtAddr == "" {
				// Nothing else to serve once the pulled stream ended.
				return errPullDone
			}
			return nil
		})
	}

	err := g.Wait()
	// Close the pipes of streams still open so their probes see EOF.
	for _, s := range registry.List() {
		registry.Unregister(s.Key)
	}
	registry.Wait()
	if errors.Is(err, errPullDone) {
		return nil
	}
	return err
}

var errPullDone = errors.New("pull finished")

// reportWriter serializes reports from concurrent probes.
type reportWriter struct {
	mu   sync.Mutex
	w    io.Writer
	json bool
}

func (rw *reportWriter) write(rep *probe.Report) error {
	rw.mu.Lock()
	defer rw.mu.Unlock()
	if rw.json {
		return writeJSON(rw.w, rep)
	}
	return writeText(rw.w, rep)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
