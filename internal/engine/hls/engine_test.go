package hls

import (
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/camwatch/playback/internal/engine"
	"github.com/camwatch/playback/internal/types"
)

const vodPlaylist = `#EXTM3U
#EXT-X-VERSION:3
#EXT-X-TARGETDURATION:4
#EXT-X-MEDIA-SEQUENCE:0
#EXTINF:4.000,
seg0.ts
#EXTINF:4.000,
seg1.ts
#EXT-X-ENDLIST
`

func testLogger() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logrus.NewEntry(l)
}

func collect(t *testing.T, events <-chan engine.Event, n int) []engine.Event {
	t.Helper()
	var out []engine.Event
	for len(out) < n {
		select {
		case ev, ok := <-events:
			if !ok {
				t.Fatalf("Event stream closed after %d of %d events", len(out), n)
			}
			out = append(out, ev)
		case <-time.After(5 * time.Second):
			t.Fatalf("Timed out after %d of %d events", len(out), n)
		}
	}
	return out
}

func newTestEngine() *Engine {
	return New(Config{PollInterval: 10 * time.Millisecond, HTTPTimeout: 2 * time.Second}, testLogger())
}

func TestEngineLoadsSegments(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/stream.m3u8":
			_, _ = io.WriteString(w, vodPlaylist)
		case "/seg0.ts", "/seg1.ts":
			_, _ = w.Write([]byte("ts-data"))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	e := newTestEngine()
	defer e.Destroy()
	e.Load(t.Context(), types.StreamSource{URI: srv.URL + "/stream.m3u8"})

	// manifest, 2x(segment+append), end of stream
	evs := collect(t, e.Events(), 6)

	if evs[0].Kind != engine.EventManifestReady {
		t.Errorf("Expected manifest ready first, got %s", evs[0].Kind)
	}
	if evs[1].Kind != engine.EventSegmentLoaded || evs[1].BufferedEnd != 4 {
		t.Errorf("Expected segment loaded at 4s, got %s at %f", evs[1].Kind, evs[1].BufferedEnd)
	}
	if evs[2].Kind != engine.EventBufferAppended {
		t.Errorf("Expected buffer appended, got %s", evs[2].Kind)
	}
	if evs[3].BufferedEnd != 8 {
		t.Errorf("Expected buffered end 8 after second segment, got %f", evs[3].BufferedEnd)
	}
	if evs[5].Kind != engine.EventEndOfStream {
		t.Errorf("Expected end of stream, got %s", evs[5].Kind)
	}
}

func TestEngineManifestErrorBeforeFirstParse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "not ready", http.StatusInternalServerError)
	}))
	defer srv.Close()

	e := newTestEngine()
	defer e.Destroy()
	e.Load(t.Context(), types.StreamSource{URI: srv.URL + "/stream.m3u8"})

	evs := collect(t, e.Events(), 1)
	if evs[0].Kind != engine.EventError {
		t.Fatalf("Expected error event, got %s", evs[0].Kind)
	}
	if evs[0].Category != types.CategoryManifest {
		t.Errorf("Expected manifest category before first parse, got %s", evs[0].Category)
	}
}

func TestEngineNetworkErrorAfterManifest(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/stream.m3u8" {
			_, _ = io.WriteString(w, vodPlaylist)
			return
		}
		http.Error(w, "gone", http.StatusBadGateway)
	}))
	defer srv.Close()

	e := newTestEngine()
	defer e.Destroy()
	e.Load(t.Context(), types.StreamSource{URI: srv.URL + "/stream.m3u8"})

	evs := collect(t, e.Events(), 2)
	if evs[0].Kind != engine.EventManifestReady {
		t.Fatalf("Expected manifest ready first, got %s", evs[0].Kind)
	}
	if evs[1].Kind != engine.EventError {
		t.Fatalf("Expected error event, got %s", evs[1].Kind)
	}
	if evs[1].Category != types.CategoryNetwork {
		t.Errorf("Expected network category after manifest, got %s", evs[1].Category)
	}
}

func TestEngineFollowsMasterPlaylist(t *testing.T) {
	const master = `#EXTM3U
#EXT-X-STREAM-INF:BANDWIDTH=1280000
variant.m3u8
`
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/master.m3u8":
			_, _ = io.WriteString(w, master)
		case "/variant.m3u8":
			_, _ = io.WriteString(w, vodPlaylist)
		case "/seg0.ts", "/seg1.ts":
			_, _ = w.Write([]byte("ts-data"))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	e := newTestEngine()
	defer e.Destroy()
	e.Load(t.Context(), types.StreamSource{URI: srv.URL + "/master.m3u8"})

	evs := collect(t, e.Events(), 2)
	if evs[0].Kind != engine.EventManifestReady {
		t.Errorf("Expected manifest ready, got %s", evs[0].Kind)
	}
	if evs[1].Kind != engine.EventSegmentLoaded {
		t.Errorf("Expected segment loaded from variant, got %s", evs[1].Kind)
	}
}

func TestEngineRejectsSelfReferencingMaster(t *testing.T) {
	const master = `#EXTM3U
#EXT-X-STREAM-INF:BANDWIDTH=1280000
master.m3u8
`
	var requests atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		_, _ = io.WriteString(w, master)
	}))
	defer srv.Close()

	e := newTestEngine()
	defer e.Destroy()
	e.Load(t.Context(), types.StreamSource{URI: srv.URL + "/master.m3u8"})

	evs := collect(t, e.Events(), 1)
	if evs[0].Kind != engine.EventError {
		t.Fatalf("Expected error event, got %s", evs[0].Kind)
	}
	if evs[0].Category != types.CategoryManifest {
		t.Errorf("Expected manifest category, got %s", evs[0].Category)
	}
	if got := requests.Load(); got > 3 {
		t.Errorf("Expected the indirection to stop after a few fetches, got %d", got)
	}
}

func TestEngineReloadSkipsSeenSegments(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/stream.m3u8":
			_, _ = io.WriteString(w, vodPlaylist)
		case "/seg0.ts", "/seg1.ts":
			_, _ = w.Write([]byte("ts-data"))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	e := newTestEngine()
	defer e.Destroy()
	src := types.StreamSource{URI: srv.URL + "/stream.m3u8"}

	e.Load(t.Context(), src)
	first := collect(t, e.Events(), 6)
	if first[5].Kind != engine.EventEndOfStream {
		t.Fatalf("Expected end of stream, got %s", first[5].Kind)
	}

	// A re-load of the same playlist must not replay segments already
	// appended; only the end marker repeats.
	e.Load(t.Context(), src)
	second := collect(t, e.Events(), 1)
	if second[0].Kind != engine.EventEndOfStream {
		t.Errorf("Expected immediate end of stream on reload, got %s", second[0].Kind)
	}
}

func TestEngineDestroyStopsPoll(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/live.m3u8":
			// No ENDLIST, poll keeps going.
			_, _ = io.WriteString(w, "#EXTM3U\n#EXT-X-VERSION:3\n#EXT-X-TARGETDURATION:4\n#EXT-X-MEDIA-SEQUENCE:0\n#EXTINF:4.000,\nseg0.ts\n")
		case "/seg0.ts":
			_, _ = w.Write([]byte("ts-data"))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	e := newTestEngine()
	e.Load(t.Context(), types.StreamSource{URI: srv.URL + "/live.m3u8"})
	collect(t, e.Events(), 3)

	e.Destroy()
	e.Destroy()

	// The stream must close once the poll has stopped.
	for range e.Events() {
	}
}
