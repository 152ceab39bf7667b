package srt

import (
	"context"
	"fmt"
	"log/slog"

	srtgo "github.com/zsiec/srtgo"

	"github.com/zlorb/m2pb/internal/ingest"
)

// Server is an SRT listener. Each publisher that connects becomes a
// stream in the ingest registry, keyed by its stream ID.
type Server struct {
	addr          string
	registry      *ingest.Registry
	log           *slog.Logger
	maxPublishers int
}

// NewServer returns a Server for addr. Nothing is bound until
// ListenAndServe.
func NewServer(addr string, registry *ingest.Registry, opts ...func(*Server)) *Server {
	s := &Server{
		addr:     addr,
		registry: registry,
		log:      slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.With("component", "srt-server")
	return s
}

// ServerOptLogger sets the logger. A nil logger is ignored.
func ServerOptLogger(l *slog.Logger) func(*Server) {
	return func(s *Server) {
		if l != nil {
			s.log = l
		}
	}
}

// ServerOptMaxPublishers caps the number of streams the registry may hold
// before new publishers are refused. Zero means no cap.
func ServerOptMaxPublishers(n int) func(*Server) {
	return func(s *Server) {
		s.maxPublishers = n
	}
}

// ListenAndServe binds the listener and accepts publishers until ctx is
// done. A bind failure is returned; accept errors are logged and skipped.
func (s *Server) ListenAndServe(ctx context.Context) error {
	cfg := srtgo.DefaultConfig()
	cfg.Latency = latency

	l, err := srtgo.Listen(s.addr, cfg)
	if err != nil {
		return fmt.Errorf("srt listen %s: %w", s.addr, err)
	}
	l.SetAcceptRejectFunc(func(req srtgo.ConnRequest) srtgo.RejectReason {
		if reason := s.admit(req.StreamID); reason != "" {
			s.log.Info("publisher refused", "stream_id", req.StreamID, "reason", reason)
			return srtgo.RejPeer
		}
		return 0
	})
	s.log.Info("listening", "addr", s.addr)

	stop := context.AfterFunc(ctx, func() { l.Close() })
	defer stop()

	for {
		conn, err := l.Accept()
		switch {
		case ctx.Err() != nil:
			if conn != nil {
				conn.Close()
			}
			return nil
		case err != nil:
			s.log.Warn("accept failed", "error", err)
		default:
			go s.publish(ctx, conn)
		}
	}
}

// admit decides whether a publisher with stream ID id may connect. It
// returns the refusal reason, or "" to accept.
func (s *Server) admit(id string) string {
	if _, active := s.registry.Get(streamKeyFromID(id)); active {
		return "stream key in use"
	}
	if s.maxPublishers > 0 && len(s.registry.List()) >= s.maxPublishers {
		return "publisher limit reached"
	}
	return ""
}

// publish relays one accepted connection into the registry.
func (s *Server) publish(ctx context.Context, conn *srtgo.Conn) {
	defer conn.Close()

	key := streamKeyFromID(conn.StreamID())
	stream, w, err := s.registry.Register(key, ingest.SourceSRTListen)
	if err != nil {
		// Lost a race with another publisher using the same key.
		s.log.Warn("publisher dropped", "stream_key", key, "error", err)
		return
	}
	defer s.registry.Unregister(key)

	// Reads do not observe ctx; closing the connection does.
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	remote := conn.RemoteAddr().String()
	stream.SetRemoteAddr(remote)
	s.log.Info("publisher connected", "stream_key", key, "remote", remote)

	logClosed(s.log, stream, relay(ctx, conn, stream, w))
}
