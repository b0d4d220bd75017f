package panel

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/calltrace/internal/store"
	"github.com/rendis/calltrace/internal/streaming"
	"github.com/rendis/calltrace/pkg/tracer"
)

func newTestStore(t *testing.T) store.Store {
	t.Helper()
	s, err := store.NewLibSQLStore("file:" + filepath.Join(t.TempDir(), "traces.db"))
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// fetchRunner traces two fetches followed by a failing save.
func fetchRunner(ctx context.Context, observers ...tracer.Observer) (*store.TraceRecord, error) {
	rec := store.NewRecorder()
	opts := []tracer.Option{tracer.WithName("fetch"), tracer.WithObserver(rec)}
	for _, o := range observers {
		opts = append(opts, tracer.WithObserver(o))
	}
	tr := tracer.New(opts...)

	fetch := tracer.Wrap1(tr, "fetch", func(_ context.Context, url string) (int, error) { return 200, nil })
	save := tracer.WrapErr1(tr, "save", func(context.Context, int) error { return errors.New("disk full") })
	for _, url := range []string{"a", "b"} {
		status, _ := fetch(ctx, url)
		if url == "b" {
			_ = save(ctx, status)
		}
	}

	out := store.NewTraceRecord(tr)
	out.Events = rec.Events()
	return out, nil
}

func newTestPanel(t *testing.T) (*httptest.Server, store.Store, *streaming.MemoryHub) {
	t.Helper()
	st := newTestStore(t)
	hub := streaming.NewMemoryHub()
	srv := httptest.NewServer(NewPanelServer(PanelDeps{Store: st, Hub: hub, Run: fetchRunner}).Handler())
	t.Cleanup(srv.Close)
	return srv, st, hub
}

func decode(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
}

func startRun(t *testing.T, srv *httptest.Server) string {
	t.Helper()
	resp, err := http.Post(srv.URL+"/api/runs", "application/json", nil)
	require.NoError(t, err)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var out struct {
		TraceID string       `json:"trace_id"`
		Stats   tracer.Stats `json:"stats"`
	}
	decode(t, resp, &out)
	assert.Equal(t, 3, out.Stats.Calls)
	assert.Equal(t, 1, out.Stats.Failures)
	return out.TraceID
}

func TestRunArchivesTrace(t *testing.T) {
	srv, st, _ := newTestPanel(t)
	id := startRun(t, srv)

	rec, err := st.GetTrace(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, "fetch", rec.Name)
	assert.NotEmpty(t, rec.Events)
}

func TestListTraces(t *testing.T) {
	srv, _, _ := newTestPanel(t)
	first := startRun(t, srv)
	second := startRun(t, srv)

	resp, err := http.Get(srv.URL + "/api/traces")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var out struct {
		Traces []store.TraceSummary `json:"traces"`
	}
	decode(t, resp, &out)
	require.Len(t, out.Traces, 2)
	ids := []string{out.Traces[0].ID, out.Traces[1].ID}
	assert.ElementsMatch(t, []string{first, second}, ids)

	resp, err = http.Get(srv.URL + "/api/traces?limit=1")
	require.NoError(t, err)
	decode(t, resp, &out)
	assert.Len(t, out.Traces, 1)

	resp, err = http.Get(srv.URL + "/api/traces?where=trace.failures+%3E+0&lang=cel")
	require.NoError(t, err)
	decode(t, resp, &out)
	assert.Len(t, out.Traces, 2)
}

func TestListTracesBadFilter(t *testing.T) {
	srv, _, _ := newTestPanel(t)
	startRun(t, srv)

	for _, q := range []string{"where=.calls&lang=jq", "where=calls+%2B+1", "where=failures+%3E+0&lang=cel"} {
		resp, err := http.Get(srv.URL + "/api/traces?" + q)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, q)
	}
}

func TestShowTrace(t *testing.T) {
	srv, _, _ := newTestPanel(t)
	id := startRun(t, srv)

	resp, err := http.Get(srv.URL + "/api/traces/" + id)
	require.NoError(t, err)
	var rec store.TraceRecord
	decode(t, resp, &rec)
	assert.Equal(t, id, rec.ID)

	resp, err = http.Get(srv.URL + "/api/traces/" + id + "?format=plantuml")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/plain; charset=utf-8", resp.Header.Get("Content-Type"))
	body := new(strings.Builder)
	_, err = bufio.NewReader(resp.Body).WriteTo(body)
	require.NoError(t, err)
	assert.Contains(t, body.String(), "@startuml")
	assert.Contains(t, body.String(), `"save" -x "`)

	resp, err = http.Get(srv.URL + "/api/traces/" + id + "?format=svg")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestTraceStats(t *testing.T) {
	srv, _, _ := newTestPanel(t)
	id := startRun(t, srv)

	resp, err := http.Get(srv.URL + "/api/traces/" + id + "/stats")
	require.NoError(t, err)
	var out struct {
		Callees []store.CalleeStats `json:"callees"`
	}
	decode(t, resp, &out)
	require.Len(t, out.Callees, 2)
	assert.Equal(t, "fetch", out.Callees[0].Callee)
	assert.Equal(t, 2, out.Callees[0].Calls)
	assert.Equal(t, 0, out.Callees[0].Failures)
	assert.Equal(t, "save", out.Callees[1].Callee)
	assert.Equal(t, 1, out.Callees[1].Failures)
	assert.Equal(t, map[string]int{"error": 1}, out.Callees[1].FailKinds)
}

func TestTraceImage(t *testing.T) {
	srv, _, _ := newTestPanel(t)
	id := startRun(t, srv)

	resp, err := http.Get(srv.URL + "/api/traces/" + id + "/image")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "image/png", resp.Header.Get("Content-Type"))
}

func TestDeleteTrace(t *testing.T) {
	srv, _, _ := newTestPanel(t)
	id := startRun(t, srv)

	del := func() int {
		req, err := http.NewRequest(http.MethodDelete, srv.URL+"/api/traces/"+id, nil)
		require.NoError(t, err)
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		resp.Body.Close()
		return resp.StatusCode
	}
	assert.Equal(t, http.StatusOK, del())
	assert.Equal(t, http.StatusNotFound, del())

	resp, err := http.Get(srv.URL + "/api/traces/" + id)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestRunsDisabled(t *testing.T) {
	srv := httptest.NewServer(NewPanelServer(PanelDeps{Store: newTestStore(t)}).Handler())
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/api/runs", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotImplemented, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/sse/events")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotImplemented, resp.StatusCode)
}

func TestSSEStreamsRunEvents(t *testing.T) {
	srv, _, _ := newTestPanel(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/sse/events?type=trace.raise", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	id := startRun(t, srv)

	reader := bufio.NewReader(resp.Body)
	line, err := reader.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "event: trace.raise\n", line)

	line, err = reader.ReadString('\n')
	require.NoError(t, err)
	var ev streaming.StreamEvent
	require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(strings.TrimSpace(line), "data: ")), &ev))
	assert.Equal(t, id, ev.TraceID)
	assert.Equal(t, "save", ev.Callee)
	assert.Equal(t, "error", ev.Detail)
}
