package observe

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	influxlog "github.com/influxdata/influxdb-client-go/v2/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Uranury/ruuvi-lapio/reading"
)

type fakeProducer bool

func (f fakeProducer) Running() bool { return bool(f) }

type fakeStats struct{}

func (fakeStats) InFlight() int      { return 2 }
func (fakeStats) Dispatched() uint64 { return 7 }

func quiet() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

var sample = reading.Normalized{Temperature: 2134, Humidity: 5578, Pressure: 101321, AccelerationZ: 1000, MAC: "AA:BB:CC:DD:EE:FF"}

func TestHealthz(t *testing.T) {
	tests := []struct {
		name     string
		running  bool
		status   int
		producer string
	}{
		{"running", true, http.StatusOK, "running"},
		{"terminated", false, http.StatusServiceUnavailable, "terminated"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewRouter(fakeProducer(tt.running), fakeStats{}, nil)
			rec := httptest.NewRecorder()
			r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

			assert.Equal(t, tt.status, rec.Code)
			var h Health
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &h))
			assert.Equal(t, tt.producer, h.Producer)
			assert.Equal(t, 2, h.InFlight)
			assert.Equal(t, uint64(7), h.Dispatched)
		})
	}
}

func TestNoWebsocketRouteWithoutHub(t *testing.T) {
	r := NewRouter(fakeProducer(true), fakeStats{}, nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ws", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHubBroadcast(t *testing.T) {
	hub := NewHub(quiet())
	srv := httptest.NewServer(NewRouter(fakeProducer(true), fakeStats{}, hub))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return hub.Clients() == 1 }, 2*time.Second, 5*time.Millisecond)
	hub.Observe(sample)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var got reading.Normalized
	require.NoError(t, conn.ReadJSON(&got))
	assert.Equal(t, sample, got)

	conn.Close()
	require.Eventually(t, func() bool { return hub.Clients() == 0 }, 2*time.Second, 5*time.Millisecond)
	hub.Observe(sample)
}

func TestHubCloseDisconnectsClients(t *testing.T) {
	hub := NewHub(quiet())
	srv := httptest.NewServer(http.HandlerFunc(hub.ServeWS))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	defer conn.Close()
	require.Eventually(t, func() bool { return hub.Clients() == 1 }, 2*time.Second, 5*time.Millisecond)

	hub.Close()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err = conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway), "got %v", err)
}

func TestHubObserveWithoutClients(t *testing.T) {
	hub := NewHub(quiet())
	assert.NotPanics(t, func() { hub.Observe(sample) })
	assert.Zero(t, hub.Clients())
}

func TestInfluxMirror(t *testing.T) {
	var mu sync.Mutex
	var bodies []string
	var query string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v2/write" {
			http.NotFound(w, r)
			return
		}
		b, _ := io.ReadAll(r.Body)
		mu.Lock()
		bodies = append(bodies, string(b))
		query = r.URL.RawQuery
		mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	influx := NewInflux(srv.URL, "token", "home", "sensors", quiet())
	influx.Observe(sample)
	influx.Close()

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, bodies, 1)
	assert.True(t, strings.HasPrefix(bodies[0], "ruuvi,mac=AA:BB:CC:DD:EE:FF "), bodies[0])
	assert.Contains(t, bodies[0], "temperature=2134i")
	assert.Contains(t, bodies[0], "pressure=101321i")
	assert.Contains(t, query, "bucket=sensors")
	assert.Contains(t, query, "org=home")
}

func TestInfluxObserveDoesNotBlockOnHangingServer(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()
	defer close(release)

	influx := NewInflux(srv.URL, "token", "home", "sensors", quiet())
	observed := make(chan struct{})
	go func() {
		defer close(observed)
		for n := 0; n < 20000; n++ {
			influx.Observe(sample)
		}
	}()
	select {
	case <-observed:
	case <-time.After(5 * time.Second):
		t.Fatal("Observe blocked behind an unresponsive influx server")
	}

	start := time.Now()
	influx.Close()
	assert.Less(t, time.Since(start), closeTimeout+time.Second)
	assert.NotPanics(t, func() { influx.Observe(sample) })
}

func TestInfluxClientLogsGoThroughSlog(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelWarn}))

	influx := NewInflux("http://127.0.0.1:1", "token", "home", "sensors", logger)
	defer influx.Close()

	influxlog.Log.Warnf("retry buffer full, discarding %d", 1)
	influxlog.Log.Debug("batch contents")
	assert.Contains(t, buf.String(), "component=influxdb")
	assert.Contains(t, buf.String(), "retry buffer full, discarding 1")
	assert.NotContains(t, buf.String(), "batch contents")
	assert.Equal(t, influxlog.WarningLevel, influxlog.Log.LogLevel())
}

func TestServeAndShutdown(t *testing.T) {
	s := Serve("127.0.0.1:0", NewRouter(fakeProducer(true), fakeStats{}, nil), quiet())
	require.NoError(t, s.Shutdown(t.Context()))
}
