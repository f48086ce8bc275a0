package api_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/fluxcore/streamgraph/internal/api"
	"github.com/fluxcore/streamgraph/internal/builtins"
	"github.com/fluxcore/streamgraph/internal/clock"
	"github.com/fluxcore/streamgraph/internal/compiler"
	"github.com/fluxcore/streamgraph/internal/graph"
	"github.com/fluxcore/streamgraph/internal/message"
	"github.com/fluxcore/streamgraph/internal/processor"
	"github.com/fluxcore/streamgraph/internal/pubsub"
	"github.com/fluxcore/streamgraph/internal/runtime"
	"github.com/fluxcore/streamgraph/pkg/registry"
)

func newTestServer(t *testing.T) (*graph.Graph, *runtime.Engine, *httptest.Server) {
	t.Helper()

	g := graph.New()
	reg := registry.New()
	require.NoError(t, reg.Register(builtins.SourceTypeTag, builtins.NewSource, builtins.SourceDescriptor))
	require.NoError(t, reg.Register(builtins.SinkTypeTag, builtins.NewSink, builtins.SinkDescriptor))

	schemas := message.NewSchemaRegistry()
	schemas.Register(builtins.IntSchema)

	bus := pubsub.NewBus()
	sched := clock.NewScheduler()
	ctxFn := func(id string, tok *processor.ShutdownToken) processor.Context {
		return processor.Context{ID: id, ShutdownTok: tok, PubSub: bus}
	}
	c := compiler.New(g, reg, schemas, bus, nil, sched, ctxFn, 3*time.Second, 32, func(cat message.Category) int { return 16 })
	e := runtime.New(g, c, bus, sched, nil, "test-graph")

	h := api.NewHandler(e)
	srv := httptest.NewServer(h.Router())
	t.Cleanup(srv.Close)
	return g, e, srv
}

func doJSON(t *testing.T, method, url string, body interface{}) *http.Response {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func TestAddProcessorAndState(t *testing.T) {
	_, _, srv := newTestServer(t)

	resp := doJSON(t, http.MethodPost, srv.URL+"/v1/processors", map[string]interface{}{
		"id":      "src",
		"type":    builtins.SourceTypeTag,
		"config":  json.RawMessage(`{"step":1,"rate_hz":200}`),
		"outputs": builtins.SourceDescriptor().Outputs,
	})
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp2 := doJSON(t, http.MethodGet, srv.URL+"/v1/state", nil)
	defer resp2.Body.Close()
	require.Equal(t, http.StatusOK, resp2.StatusCode)
	var state map[string]string
	require.NoError(t, json.NewDecoder(resp2.Body).Decode(&state))
	require.Equal(t, "stopped", state["state"])
}

func TestAddProcessorRejectsInvalidPayload(t *testing.T) {
	_, _, srv := newTestServer(t)

	req, err := http.NewRequest(http.MethodPost, srv.URL+"/v1/processors", bytes.NewReader([]byte("not json")))
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAddProcessorDuplicateIDConflicts(t *testing.T) {
	_, _, srv := newTestServer(t)

	payload := map[string]interface{}{
		"id":      "src",
		"type":    builtins.SourceTypeTag,
		"config":  json.RawMessage(`{"step":1,"rate_hz":200}`),
		"outputs": builtins.SourceDescriptor().Outputs,
	}
	resp1 := doJSON(t, http.MethodPost, srv.URL+"/v1/processors", payload)
	resp1.Body.Close()
	require.Equal(t, http.StatusOK, resp1.StatusCode)

	resp2 := doJSON(t, http.MethodPost, srv.URL+"/v1/processors", payload)
	defer resp2.Body.Close()
	require.Equal(t, http.StatusConflict, resp2.StatusCode)
}

func TestFullPipelineLifecycleOverHTTP(t *testing.T) {
	_, e, srv := newTestServer(t)

	resp := doJSON(t, http.MethodPost, srv.URL+"/v1/processors", map[string]interface{}{
		"id":      "src",
		"type":    builtins.SourceTypeTag,
		"config":  json.RawMessage(`{"step":1,"rate_hz":200}`),
		"outputs": builtins.SourceDescriptor().Outputs,
	})
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = doJSON(t, http.MethodPost, srv.URL+"/v1/processors", map[string]interface{}{
		"id":     "snk",
		"type":   builtins.SinkTypeTag,
		"config": json.RawMessage(`{}`),
		"inputs": builtins.SinkDescriptor().Inputs,
	})
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = doJSON(t, http.MethodPost, srv.URL+"/v1/links", map[string]interface{}{
		"id":   "l1",
		"from": graph.Endpoint{Node: "src", Port: "out"},
		"to":   graph.Endpoint{Node: "snk", Port: "in"},
	})
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = doJSON(t, http.MethodPost, srv.URL+"/v1/compile", nil)
	resp.Body.Close()
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = doJSON(t, http.MethodPost, srv.URL+"/v1/lifecycle/start", nil)
	resp.Body.Close()
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	require.Equal(t, runtime.Running, e.State())

	resp = doJSON(t, http.MethodGet, srv.URL+"/v1/snapshot", nil)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var snap graph.Snapshot
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&snap))
	require.Len(t, snap.Nodes, 2)
	require.Len(t, snap.Links, 1)

	resp2 := doJSON(t, http.MethodPost, srv.URL+"/v1/lifecycle/stop", nil)
	resp2.Body.Close()
	require.Equal(t, http.StatusNoContent, resp2.StatusCode)
	require.Equal(t, runtime.Stopped, e.State())
}

func TestRemoveUnknownProcessorNotFound(t *testing.T) {
	_, _, srv := newTestServer(t)

	resp := doJSON(t, http.MethodDelete, srv.URL+"/v1/processors/ghost", nil)
	defer resp.Body.Close()
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}
