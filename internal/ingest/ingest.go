// Package ingest couples network byte sources with the probes that consume
// them. Each publish or pull connection becomes a Stream whose bytes are
// handed to the onStream callback through a pipe.
package ingest

import (
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// Source identifies how a stream reached the registry.
type Source int

// Known stream sources.
const (
	SourceSRTListen Source = iota
	SourceSRTPull
)

func (s Source) String() string {
	switch s {
	case SourceSRTListen:
		return "srt-listen"
	case SourceSRTPull:
		return "srt-pull"
	}
	return fmt.Sprintf("source(%d)", int(s))
}

// Stats captures connection-level counters for a stream.
type Stats struct {
	BytesReceived int64  `json:"bytesReceived"`
	ReadCount     int64  `json:"readCount"`
	ConnectedAt   int64  `json:"connectedAt"`
	UptimeMs      int64  `json:"uptimeMs"`
	RemoteAddr    string `json:"remoteAddr"`
}

// Stream is an active connection. Bytes written into the pipe by the
// network receiver are read by the probe.
type Stream struct {
	Key       string
	StartedAt time.Time
	Source    Source
	input     io.ReadCloser
	pw        io.WriteCloser
	done      chan struct{}

	bytesReceived atomic.Int64
	readCount     atomic.Int64
	remoteAddr    atomic.Value
}

// RecordRead increments the byte and read counters after a socket read.
func (s *Stream) RecordRead(n int) {
	s.bytesReceived.Add(int64(n))
	s.readCount.Add(1)
}

// SetRemoteAddr stores the peer address for diagnostics.
func (s *Stream) SetRemoteAddr(addr string) {
	s.remoteAddr.Store(addr)
}

// Done is closed once the stream is unregistered.
func (s *Stream) Done() <-chan struct{} {
	return s.done
}

// Stats returns a snapshot of the connection counters.
func (s *Stream) Stats() Stats {
	addr, _ := s.remoteAddr.Load().(string)
	return Stats{
		BytesReceived: s.bytesReceived.Load(),
		ReadCount:     s.readCount.Load(),
		ConnectedAt:   s.StartedAt.UnixMilli(),
		UptimeMs:      time.Since(s.StartedAt).Milliseconds(),
		RemoteAddr:    addr,
	}
}

// StreamHandler consumes the bytes of a newly registered stream. It runs on
// its own goroutine and should return once input reports EOF.
type StreamHandler func(key string, input io.Reader, source Source)

// Registry tracks active streams by key. A key can be registered once at a
// time; a second publisher for the same key is rejected.
type Registry struct {
	log *slog.Logger

	mu      sync.RWMutex
	streams map[string]*Stream

	onStream StreamHandler
	wg       sync.WaitGroup
}

// NewRegistry creates a Registry. onStream is invoked asynchronously for
// every registered stream. If log is nil, slog.Default() is used.
func NewRegistry(onStream StreamHandler, log *slog.Logger) *Registry {
	if log == nil {
		log = slog.Default()
	}
	return &Registry{
		log:      log.With("component", "ingest-registry"),
		streams:  make(map[string]*Stream),
		onStream: onStream,
	}
}

// Register creates a stream for key and returns it together with the
// writer the network receiver should copy into. It fails if key is already
// active.
func (r *Registry) Register(key string, source Source) (*Stream, io.Writer, error) {
	pr, pw := io.Pipe()

	stream := &Stream{
		Key:       key,
		StartedAt: time.Now(),
		Source:    source,
		input:     pr,
		pw:        pw,
		done:      make(chan struct{}),
	}

	r.mu.Lock()
	if _, ok := r.streams[key]; ok {
		r.mu.Unlock()
		r.log.Warn("rejecting duplicate stream", "key", key, "source", source)
		return nil, nil, fmt.Errorf("stream %q already active", key)
	}
	r.streams[key] = stream
	r.mu.Unlock()
	r.log.Info("stream registered", "key", key, "source", source)

	if r.onStream != nil {
		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			r.onStream(key, pr, source)
			// Unblock the writer if the handler stopped reading early.
			pr.Close()
		}()
	}

	return stream, pw, nil
}

// Unregister removes a stream by key, closing its pipe and signaling Done.
func (r *Registry) Unregister(key string) {
	r.mu.Lock()
	stream, ok := r.streams[key]
	if ok {
		delete(r.streams, key)
	}
	r.mu.Unlock()

	if ok {
		stream.pw.Close()
		close(stream.done)
		r.log.Info("stream unregistered", "key", key)
	}
}

// Get returns the Stream for key, or false if none is active.
func (r *Registry) Get(key string) (*Stream, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.streams[key]
	return s, ok
}

// List returns the active streams ordered by key.
func (r *Registry) List() []*Stream {
	r.mu.RLock()
	out := make([]*Stream, 0, len(r.streams))
	for _, s := range r.streams {
		out = append(out, s)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// Wait blocks until every onStream handler has returned.
func (r *Registry) Wait() {
	r.wg.Wait()
}
