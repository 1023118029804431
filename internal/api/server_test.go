package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"pairscope/internal/analytics"
	"pairscope/internal/model"
	"pairscope/internal/pipeline"
)

const testKey = "secret-key"

type fakeRunner struct {
	syncReq     pipeline.SyncRequest
	discoverReq pipeline.DiscoverRequest
	result      pipeline.Result
	err         error
}

func (f *fakeRunner) Sync(_ context.Context, req pipeline.SyncRequest) (pipeline.Result, error) {
	f.syncReq = req
	return f.result, f.err
}

func (f *fakeRunner) Discover(_ context.Context, req pipeline.DiscoverRequest) (pipeline.Result, error) {
	f.discoverReq = req
	return f.result, f.err
}

type fakeSnapshots struct {
	at    time.Time
	stats analytics.RunStats
	err   error
}

func (f *fakeSnapshots) Run(_ context.Context, at time.Time) (analytics.RunStats, error) {
	f.at = at
	return f.stats, f.err
}

func testServer(runner *fakeRunner, snapshots *fakeSnapshots) *Server {
	return NewServer(testKey, Defaults{
		ChunkSize: 500,
		BatchSize: 20,
		Delay:     200 * time.Millisecond,
	}, runner, snapshots, nil)
}

func doRequest(t *testing.T, handler http.Handler, method, path, key string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if key != "" {
		req.Header.Set(apiKeyHeader, key)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestHealthzIsOpen(t *testing.T) {
	srv := testServer(&fakeRunner{}, &fakeSnapshots{})
	rec := doRequest(t, srv.Router(), http.MethodGet, "/healthz", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestSyncRequiresAPIKey(t *testing.T) {
	srv := testServer(&fakeRunner{}, &fakeSnapshots{})
	router := srv.Router()

	rec := doRequest(t, router, http.MethodPost, "/v1/sync", "", nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = doRequest(t, router, http.MethodPost, "/v1/sync", "wrong-key", nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestSyncSuccess(t *testing.T) {
	runner := &fakeRunner{result: pipeline.Result{
		RunID: 42,
		Counters: model.RunCounters{
			EventsFound: 10, EventsProcessed: 7, EventsSkipped: 2, EventsFailed: 1,
		},
	}}
	srv := testServer(runner, &fakeSnapshots{})

	rec := doRequest(t, srv.Router(), http.MethodPost, "/v1/sync", testKey, syncRequest{
		FromBlock: 100, ToBlock: 200,
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp runResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, runResponse{
		EventsFound: 10, Processed: 7, Skipped: 2, Failed: 1, SyncRunID: 42,
	}, resp)

	// Unset tuning falls back to server defaults.
	require.Equal(t, uint64(500), runner.syncReq.ChunkSize)
	require.Equal(t, 200*time.Millisecond, runner.syncReq.Delay)
	require.Equal(t, "api", runner.syncReq.Source)
}

func TestSyncEmptyBodyUsesDefaults(t *testing.T) {
	runner := &fakeRunner{}
	srv := testServer(runner, &fakeSnapshots{})

	rec := doRequest(t, srv.Router(), http.MethodPost, "/v1/sync", testKey, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, uint64(500), runner.syncReq.ChunkSize)
}

func TestSyncDelayZeroDisablesPacing(t *testing.T) {
	runner := &fakeRunner{}
	srv := testServer(runner, &fakeSnapshots{})
	zero := int64(0)

	rec := doRequest(t, srv.Router(), http.MethodPost, "/v1/sync", testKey, syncRequest{
		ToBlock: 100, DelayMs: &zero,
	})
	require.Equal(t, http.StatusOK, rec.Code)

	// An explicit 0 is a real value, not a request for the default.
	require.Equal(t, time.Duration(0), runner.syncReq.Delay)
}

func TestSyncDelayOverride(t *testing.T) {
	runner := &fakeRunner{}
	srv := testServer(runner, &fakeSnapshots{})
	delay := int64(50)

	rec := doRequest(t, srv.Router(), http.MethodPost, "/v1/sync", testKey, syncRequest{
		ToBlock: 100, DelayMs: &delay,
	})
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, 50*time.Millisecond, runner.syncReq.Delay)
}

func TestSyncRejectsNegativeDelay(t *testing.T) {
	runner := &fakeRunner{}
	srv := testServer(runner, &fakeSnapshots{})
	negative := int64(-1)

	rec := doRequest(t, srv.Router(), http.MethodPost, "/v1/sync", testKey, syncRequest{
		ToBlock: 100, DelayMs: &negative,
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Zero(t, runner.syncReq)
}

func TestSyncRejectsInvertedRange(t *testing.T) {
	runner := &fakeRunner{}
	srv := testServer(runner, &fakeSnapshots{})

	rec := doRequest(t, srv.Router(), http.MethodPost, "/v1/sync", testKey, syncRequest{
		FromBlock: 200, ToBlock: 100,
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Zero(t, runner.syncReq)
}

func TestSyncRejectsMalformedBody(t *testing.T) {
	srv := testServer(&fakeRunner{}, &fakeSnapshots{})
	req := httptest.NewRequest(http.MethodPost, "/v1/sync", bytes.NewBufferString("{not json"))
	req.Header.Set(apiKeyHeader, testKey)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSyncFailureIs500(t *testing.T) {
	runner := &fakeRunner{
		result: pipeline.Result{RunID: 7},
		err:    errors.New("rpc unavailable"),
	}
	srv := testServer(runner, &fakeSnapshots{})

	rec := doRequest(t, srv.Router(), http.MethodPost, "/v1/sync", testKey, syncRequest{ToBlock: 100})
	require.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestDiscoverSuccess(t *testing.T) {
	runner := &fakeRunner{result: pipeline.Result{
		RunID:    9,
		Counters: model.RunCounters{EventsFound: 3, EventsProcessed: 2, EventsFailed: 1},
	}}
	srv := testServer(runner, &fakeSnapshots{})

	rec := doRequest(t, srv.Router(), http.MethodPost, "/v1/discover", testKey, discoverRequest{BatchSize: 15})
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, 15, runner.discoverReq.BatchSize)

	var resp runResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, int64(9), resp.SyncRunID)
}

func TestSnapshotTruncatesToHourBucket(t *testing.T) {
	snapshots := &fakeSnapshots{stats: analytics.RunStats{Created: 5, Errors: 1}}
	srv := testServer(&fakeRunner{}, snapshots)

	rec := doRequest(t, srv.Router(), http.MethodPost, "/v1/snapshot", testKey, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp snapshotResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, snapshotResponse{Created: 5, Errors: 1}, resp)

	require.Zero(t, snapshots.at.Minute())
	require.Zero(t, snapshots.at.Second())
}
