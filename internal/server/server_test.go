package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/muurk/patchscan/internal/engine"
)

func newTestServer(t *testing.T) (*Server, *httptest.Server, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	s, err := New(&Config{Listen: "127.0.0.1:0", Gatherer: reg, Logger: zap.NewNop()})
	require.NoError(t, err)
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(func() {
		s.Hub().Close()
		ts.Close()
	})
	return s, ts, reg
}

func get(t *testing.T, url string) (int, string) {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(body)
}

func TestMetricsEndpoint(t *testing.T) {
	_, ts, reg := newTestServer(t)
	m := engine.NewMetrics(reg)
	m.ObserveTool("objdump", 20*time.Millisecond, nil)

	status, body := get(t, ts.URL+"/metrics")
	assert.Equal(t, http.StatusOK, status)
	assert.Contains(t, body, "patchscan_tool_duration_seconds")
	assert.Contains(t, body, `tool="objdump"`)
}

func TestHealthz(t *testing.T) {
	_, ts, _ := newTestServer(t)
	status, body := get(t, ts.URL+"/healthz")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "ok\n", body)
}

func TestReportEndpoint(t *testing.T) {
	s, ts, _ := newTestServer(t)

	status, _ := get(t, ts.URL+"/report")
	assert.Equal(t, http.StatusNotFound, status)

	results := map[string]engine.Class{"CVE-2017-0001": engine.ClassPatched}
	require.NoError(t, s.SetReport(&engine.Report{RunID: "run-1", Results: results, Summary: engine.Summarize(results)}))

	status, body := get(t, ts.URL+"/report")
	require.Equal(t, http.StatusOK, status)

	var got engine.Report
	require.NoError(t, json.Unmarshal([]byte(body), &got))
	assert.Equal(t, "run-1", got.RunID)
	assert.Equal(t, engine.ClassPatched, got.Results["CVE-2017-0001"])
	assert.Equal(t, 1, got.Summary.Patched)

	resp, err := http.Post(ts.URL+"/report", "application/json", strings.NewReader("{}"))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func dialEvents(t *testing.T, ts *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/events"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) Event {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var ev Event
	require.NoError(t, conn.ReadJSON(&ev))
	return ev
}

func TestEvents_Stream(t *testing.T) {
	s, ts, _ := newTestServer(t)
	hub := s.Hub()

	// Published before anyone connects; delivered as backlog.
	hub.RunStarted("run-1", engine.Device{Fingerprint: "google/sailfish"}, 2)
	hub.Result(engine.Result{ID: "CVE-2017-0001", Class: engine.ClassMissing})

	conn := dialEvents(t, ts)

	ev := readEvent(t, conn)
	assert.Equal(t, EventRunStarted, ev.Type)
	assert.Equal(t, "run-1", ev.RunID)
	require.NotNil(t, ev.Device)
	assert.Equal(t, "google/sailfish", ev.Device.Fingerprint)
	assert.Equal(t, 2, ev.Total)

	ev = readEvent(t, conn)
	assert.Equal(t, EventResult, ev.Type)
	require.NotNil(t, ev.Result)
	assert.Equal(t, engine.ClassMissing, ev.Result.Class)

	// Live events after connecting.
	hub.Result(engine.Result{ID: "CVE-2017-0002", Class: engine.ClassPatched})
	ev = readEvent(t, conn)
	require.NotNil(t, ev.Result)
	assert.Equal(t, "CVE-2017-0002", ev.Result.ID)

	results := map[string]engine.Class{"CVE-2017-0001": engine.ClassMissing, "CVE-2017-0002": engine.ClassPatched}
	require.NoError(t, s.SetReport(&engine.Report{RunID: "run-1", Results: results, Summary: engine.Summarize(results)}))
	ev = readEvent(t, conn)
	assert.Equal(t, EventRunFinished, ev.Type)
	require.NotNil(t, ev.Summary)
	assert.Equal(t, 1, ev.Summary.Missing)
	assert.Equal(t, 2, ev.Total)
}

func TestEvents_RunStartedResetsBacklog(t *testing.T) {
	s, ts, _ := newTestServer(t)
	hub := s.Hub()

	hub.RunStarted("old", engine.Device{}, 1)
	hub.Result(engine.Result{ID: "CVE-2016-0001", Class: engine.ClassPatched})
	hub.RunStarted("new", engine.Device{}, 5)

	conn := dialEvents(t, ts)
	ev := readEvent(t, conn)
	assert.Equal(t, "new", ev.RunID)
}

func TestEvents_CloseDisconnectsClients(t *testing.T) {
	s, ts, _ := newTestServer(t)
	conn := dialEvents(t, ts)

	require.Eventually(t, func() bool { return s.Hub().Clients() == 1 }, 5*time.Second, 10*time.Millisecond)
	s.Hub().Close()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, _, err := conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "got %v", err)
	assert.Equal(t, 0, s.Hub().Clients())

	// New clients are turned away once closed.
	late := dialEvents(t, ts)
	require.NoError(t, late.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, _, err = late.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway), "got %v", err)
}

func TestHub_DropsSlowClient(t *testing.T) {
	h := NewHub(zap.NewNop())
	c := &client{send: make(chan Event, 1), remoteAddr: "slow"}
	h.clients[c] = struct{}{}

	h.Result(engine.Result{ID: "a"})
	h.Result(engine.Result{ID: "b"})

	assert.Equal(t, 0, h.Clients())
	ev, ok := <-c.send
	require.True(t, ok)
	assert.Equal(t, "a", ev.Result.ID)
	_, ok = <-c.send
	assert.False(t, ok, "send channel should be closed")
}

func TestServer_ListenAndShutdown(t *testing.T) {
	s, err := New(&Config{Listen: "127.0.0.1:0", Gatherer: prometheus.NewRegistry(), Logger: zap.NewNop()})
	require.NoError(t, err)
	assert.Empty(t, s.Addr())

	require.NoError(t, s.Listen())
	assert.True(t, strings.HasPrefix(s.URL(), "http://127.0.0.1:"))

	status, body := get(t, s.URL()+"/healthz")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "ok\n", body)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, s.Shutdown(ctx))

	_, err = http.Get(s.URL() + "/healthz")
	assert.Error(t, err)
}

func TestServer_Start(t *testing.T) {
	s, err := New(&Config{Listen: "127.0.0.1:0", Gatherer: prometheus.NewRegistry(), Logger: zap.NewNop()})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Start(ctx) }()

	require.Eventually(t, func() bool { return s.Addr() != "" }, 5*time.Second, 10*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(15 * time.Second):
		t.Fatal("Start did not return after cancellation")
	}
}

func TestNew_TLSErrors(t *testing.T) {
	dir := t.TempDir()
	_, err := New(&Config{
		Listen:   "127.0.0.1:0",
		CertFile: filepath.Join(dir, "missing.pem"),
		KeyFile:  filepath.Join(dir, "missing.key"),
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "TLS")

	_, err = NewTLSConfigFromMemory([]byte("not a cert"), []byte("not a key"))
	assert.Error(t, err)

	assert.Equal(t, false, GetTLSInfo(nil)["enabled"])
}
