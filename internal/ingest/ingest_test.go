package ingest

import (
	"io"
	"sync"
	"testing"
	"time"
)

func TestRegistryRegisterAndGet(t *testing.T) {
	t.Parallel()

	r := NewRegistry(nil, nil)
	stream, w, err := r.Register("test-stream", SourceSRTListen)
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	if stream.Key != "test-stream" {
		t.Fatalf("got key %q, want %q", stream.Key, "test-stream")
	}
	if stream.Source != SourceSRTListen {
		t.Fatalf("got source %v, want %v", stream.Source, SourceSRTListen)
	}
	if w == nil {
		t.Fatal("writer is nil")
	}

	got, ok := r.Get("test-stream")
	if !ok {
		t.Fatal("Get returned false for registered stream")
	}
	if got != stream {
		t.Fatal("Get returned different stream pointer")
	}
}

func TestRegistryRejectsDuplicate(t *testing.T) {
	t.Parallel()

	r := NewRegistry(nil, nil)
	if _, _, err := r.Register("cam", SourceSRTListen); err != nil {
		t.Fatalf("first Register: %v", err)
	}
	s, w, err := r.Register("cam", SourceSRTPull)
	if err == nil {
		t.Fatal("duplicate Register should fail")
	}
	if s != nil || w != nil {
		t.Fatal("duplicate Register should return nil stream and writer")
	}

	r.Unregister("cam")
	if _, _, err := r.Register("cam", SourceSRTPull); err != nil {
		t.Fatalf("Register after Unregister: %v", err)
	}
}

func TestRegistryGetMissing(t *testing.T) {
	t.Parallel()

	r := NewRegistry(nil, nil)
	_, ok := r.Get("nonexistent")
	if ok {
		t.Fatal("Get returned true for missing stream")
	}
}

func TestRegistryUnregister(t *testing.T) {
	t.Parallel()

	r := NewRegistry(nil, nil)
	stream, _, _ := r.Register("stream1", SourceSRTListen)

	r.Unregister("stream1")

	_, ok := r.Get("stream1")
	if ok {
		t.Fatal("stream still found after Unregister")
	}
	select {
	case <-stream.Done():
	default:
		t.Fatal("Done not closed after Unregister")
	}
}

func TestRegistryUnregisterMissing(t *testing.T) {
	t.Parallel()

	r := NewRegistry(nil, nil)
	// Should not panic.
	r.Unregister("nonexistent")
}

func TestRegistryUnregisterClosesPipe(t *testing.T) {
	t.Parallel()

	r := NewRegistry(nil, nil)
	stream, _, _ := r.Register("stream1", SourceSRTListen)
	r.Unregister("stream1")

	// Reading from the input side should return EOF after pipe is closed.
	buf := make([]byte, 1)
	_, err := stream.input.Read(buf)
	if err != io.EOF {
		t.Fatalf("expected EOF after Unregister, got %v", err)
	}
}

func TestRegistryOnStreamCallback(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	var calledKey string
	var calledSource Source

	done := make(chan struct{})
	r := NewRegistry(func(key string, _ io.Reader, source Source) {
		mu.Lock()
		calledKey = key
		calledSource = source
		mu.Unlock()
		close(done)
	}, nil)

	r.Register("cb-stream", SourceSRTPull)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("onStream callback not called within timeout")
	}

	mu.Lock()
	defer mu.Unlock()
	if calledKey != "cb-stream" {
		t.Fatalf("callback got key %q, want %q", calledKey, "cb-stream")
	}
	if calledSource != SourceSRTPull {
		t.Fatalf("callback got source %v, want %v", calledSource, SourceSRTPull)
	}
}

func TestRegistryDataFlowsToHandler(t *testing.T) {
	t.Parallel()

	got := make(chan []byte, 1)
	r := NewRegistry(func(_ string, input io.Reader, _ Source) {
		b, _ := io.ReadAll(input)
		got <- b
	}, nil)

	_, w, err := r.Register("flow", SourceSRTListen)
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if _, err := w.Write([]byte("hello")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	r.Unregister("flow")
	r.Wait()

	select {
	case b := <-got:
		if string(b) != "hello" {
			t.Fatalf("handler read %q, want %q", b, "hello")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("handler did not finish")
	}
}

func TestRegistryWriteFailsAfterHandlerReturns(t *testing.T) {
	t.Parallel()

	r := NewRegistry(func(string, io.Reader, Source) {}, nil)
	_, w, err := r.Register("quit", SourceSRTListen)
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	r.Wait()

	if _, err := w.Write([]byte{0x47}); err == nil {
		t.Fatal("write should fail once the handler stopped reading")
	}
}

func TestStreamStats(t *testing.T) {
	t.Parallel()

	r := NewRegistry(nil, nil)
	stream, _, _ := r.Register("stats", SourceSRTListen)

	stream.RecordRead(1316)
	stream.RecordRead(188)
	stream.SetRemoteAddr("10.0.0.1:5000")

	s := stream.Stats()
	if s.BytesReceived != 1504 {
		t.Errorf("BytesReceived = %d, want 1504", s.BytesReceived)
	}
	if s.ReadCount != 2 {
		t.Errorf("ReadCount = %d, want 2", s.ReadCount)
	}
	if s.RemoteAddr != "10.0.0.1:5000" {
		t.Errorf("RemoteAddr = %q", s.RemoteAddr)
	}
	if s.ConnectedAt != stream.StartedAt.UnixMilli() {
		t.Errorf("ConnectedAt = %d, want %d", s.ConnectedAt, stream.StartedAt.UnixMilli())
	}
}

func TestRegistryList(t *testing.T) {
	t.Parallel()

	r := NewRegistry(nil, nil)
	for _, k := range []string{"b", "a", "c"} {
		if _, _, err := r.Register(k, SourceSRTListen); err != nil {
			t.Fatalf("Register(%q): %v", k, err)
		}
	}
	list := r.List()
	if len(list) != 3 {
		t.Fatalf("List returned %d streams, want 3", len(list))
	}
	for i, want := range []string{"a", "b", "c"} {
		if list[i].Key != want {
			t.Errorf("List()[%d] = %q, want %q", i, list[i].Key, want)
		}
	}
}

func TestSourceString(t *testing.T) {
	t.Parallel()

	if SourceSRTListen.String() != "srt-listen" || SourceSRTPull.String() != "srt-pull" {
		t.Fatal("unexpected source names")
	}
	if Source(9).String() != "source(9)" {
		t.Fatalf("got %q", Source(9).String())
	}
}
