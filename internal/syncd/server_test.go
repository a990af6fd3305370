package syncd

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tempolog/tempolog/internal/syncwire"
)

const testSecret = "test-secret"

func newTestServer(t *testing.T) (*httptest.Server, *Tokens) {
	t.Helper()
	authority, err := OpenAuthority(filepath.Join(t.TempDir(), "authority.db"))
	require.NoError(t, err)
	t.Cleanup(func() { authority.Close() })

	tokens := NewTokens(testSecret)
	srv := NewServer(authority, tokens, NewLocalNotifier(), nil)
	ts := httptest.NewServer(srv.Router(ServerConfig{}))
	t.Cleanup(ts.Close)
	return ts, tokens
}

func authedRequest(t *testing.T, tokens *Tokens, origin, method, url string, body []byte) *http.Request {
	t.Helper()
	var req *http.Request
	var err error
	if body != nil {
		req, err = http.NewRequest(method, url, bytes.NewReader(body))
	} else {
		req, err = http.NewRequest(method, url, nil)
	}
	require.NoError(t, err)

	token, err := tokens.Mint(origin, time.Hour)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+token)
	return req
}

func doJSON(t *testing.T, req *http.Request, out any) int {
	t.Helper()
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil && resp.StatusCode == http.StatusOK {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func pushBody(t *testing.T, records ...syncwire.Record) []byte {
	t.Helper()
	// json.Marshal validates RawMessage contents, which would reject the
	// deliberately malformed payloads some cases send to the server.
	// Splice the payload bytes in verbatim instead.
	parts := make([]string, len(records))
	for i, rec := range records {
		payload := rec.Payload
		rec.Payload = nil
		b, err := json.Marshal(rec)
		require.NoError(t, err)
		parts[i] = strings.Replace(string(b), `"payload":null`, `"payload":`+string(payload), 1)
	}
	return []byte(`{"events":[` + strings.Join(parts, ",") + `]}`)
}

func record(id string, seq int64, origin string) syncwire.Record {
	return syncwire.Record{
		ID:      id,
		Seq:     seq,
		Origin:  origin,
		Name:    "v1.TodoCreated",
		Payload: json.RawMessage(`{"id":"todo-` + id + `","text":"x"}`),
	}
}

func TestHealthNeedsNoAuth(t *testing.T) {
	ts, _ := newTestServer(t)
	resp, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestProtectedRoutesRejectBadTokens(t *testing.T) {
	ts, _ := newTestServer(t)

	// No token at all.
	resp, err := http.Get(ts.URL + "/v1/handshake")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	// Token signed with a different secret.
	forged, err := NewTokens("wrong-secret").Mint("alpha", time.Hour)
	require.NoError(t, err)
	req, err := http.NewRequest(http.MethodGet, ts.URL+"/v1/handshake", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+forged)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestHandshakeReportsProtocolAndHead(t *testing.T) {
	ts, tokens := newTestServer(t)

	var hs syncwire.HandshakeResponse
	status := doJSON(t, authedRequest(t, tokens, "alpha", http.MethodGet, ts.URL+"/v1/handshake", nil), &hs)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, syncwire.ProtocolVersion, hs.ProtocolVersion)
	assert.Zero(t, hs.Head)
	assert.Equal(t, "alpha", hs.Replica)
}

func TestPushAssignsGlobalOrderAndIsIdempotent(t *testing.T) {
	ts, tokens := newTestServer(t)

	body := pushBody(t, record("a1", 1, "alpha"), record("a2", 2, "alpha"))
	var push syncwire.PushResponse
	status := doJSON(t, authedRequest(t, tokens, "alpha", http.MethodPost, ts.URL+"/v1/push", body), &push)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, []string{"a1", "a2"}, push.Accepted)
	assert.Empty(t, push.Duplicate)
	assert.Equal(t, int64(2), push.Head)

	// Retrying the same push acknowledges without growing the stream.
	status = doJSON(t, authedRequest(t, tokens, "alpha", http.MethodPost, ts.URL+"/v1/push", body), &push)
	require.Equal(t, http.StatusOK, status)
	assert.Empty(t, push.Accepted)
	assert.Equal(t, []string{"a1", "a2"}, push.Duplicate)
	assert.Equal(t, int64(2), push.Head)
}

func TestPushRejectsMalformedAndForeignEvents(t *testing.T) {
	ts, tokens := newTestServer(t)

	cases := []struct {
		name   string
		rec    syncwire.Record
		status int
	}{
		{"missing id", syncwire.Record{Seq: 1, Origin: "alpha", Name: "v1.TodoCreated", Payload: json.RawMessage(`{}`)}, http.StatusBadRequest},
		{"local-only name", syncwire.Record{ID: "e1", Seq: 1, Origin: "alpha", Name: "local.UIStateSet", Payload: json.RawMessage(`{}`)}, http.StatusBadRequest},
		{"broken payload", syncwire.Record{ID: "e2", Seq: 1, Origin: "alpha", Name: "v1.TodoCreated", Payload: json.RawMessage(`{broken`)}, http.StatusBadRequest},
		{"foreign origin", record("e3", 1, "bravo"), http.StatusForbidden},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			status := doJSON(t, authedRequest(t, tokens, "alpha", http.MethodPost, ts.URL+"/v1/push", pushBody(t, tc.rec)), nil)
			assert.Equal(t, tc.status, status)
		})
	}

	// Nothing from the rejected pushes reached the stream.
	var hs syncwire.HandshakeResponse
	doJSON(t, authedRequest(t, tokens, "alpha", http.MethodGet, ts.URL+"/v1/handshake", nil), &hs)
	assert.Zero(t, hs.Head)
}

func TestPullReturnsStreamAfterCursor(t *testing.T) {
	ts, tokens := newTestServer(t)

	body := pushBody(t, record("a1", 1, "alpha"), record("a2", 2, "alpha"), record("a3", 3, "alpha"))
	status := doJSON(t, authedRequest(t, tokens, "alpha", http.MethodPost, ts.URL+"/v1/push", body), nil)
	require.Equal(t, http.StatusOK, status)

	var pull syncwire.PullResponse
	status = doJSON(t, authedRequest(t, tokens, "bravo", http.MethodGet, ts.URL+"/v1/pull?cursor=1", nil), &pull)
	require.Equal(t, http.StatusOK, status)
	require.Len(t, pull.Records, 2)
	assert.Equal(t, "a2", pull.Records[0].ID)
	assert.Equal(t, "a3", pull.Records[1].ID)
	assert.Equal(t, int64(3), pull.Cursor)
	assert.False(t, pull.More)

	// Caught up: cursor is echoed back.
	status = doJSON(t, authedRequest(t, tokens, "bravo", http.MethodGet, ts.URL+"/v1/pull?cursor=3", nil), &pull)
	require.Equal(t, http.StatusOK, status)
	assert.Empty(t, pull.Records)
	assert.Equal(t, int64(3), pull.Cursor)
}

func TestPullLongPollWakesOnPush(t *testing.T) {
	ts, tokens := newTestServer(t)

	type result struct {
		pull   syncwire.PullResponse
		status int
	}
	done := make(chan result, 1)
	go func() {
		var pull syncwire.PullResponse
		status := doJSON(t, authedRequest(t, tokens, "bravo", http.MethodGet,
			ts.URL+"/v1/pull?cursor=0&wait_ms=5000", nil), &pull)
		done <- result{pull, status}
	}()

	// Give the long poll a moment to park before pushing.
	time.Sleep(100 * time.Millisecond)
	status := doJSON(t, authedRequest(t, tokens, "alpha", http.MethodPost,
		ts.URL+"/v1/push", pushBody(t, record("a1", 1, "alpha"))), nil)
	require.Equal(t, http.StatusOK, status)

	select {
	case res := <-done:
		require.Equal(t, http.StatusOK, res.status)
		require.Len(t, res.pull.Records, 1)
		assert.Equal(t, "a1", res.pull.Records[0].ID)
		assert.Equal(t, int64(1), res.pull.Cursor)
	case <-time.After(3 * time.Second):
		t.Fatal("long poll did not wake on push")
	}
}

func TestPullRejectsMalformedParams(t *testing.T) {
	ts, tokens := newTestServer(t)

	status := doJSON(t, authedRequest(t, tokens, "alpha", http.MethodGet, ts.URL+"/v1/pull?cursor=abc", nil), nil)
	assert.Equal(t, http.StatusBadRequest, status)
	status = doJSON(t, authedRequest(t, tokens, "alpha", http.MethodGet, ts.URL+"/v1/pull?wait_ms=-5", nil), nil)
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestTokenRoundTrip(t *testing.T) {
	tokens := NewTokens(testSecret)
	tok, err := tokens.Mint("alpha", time.Hour)
	require.NoError(t, err)

	origin, err := tokens.Verify(tok)
	require.NoError(t, err)
	assert.Equal(t, "alpha", origin)

	_, err = tokens.Verify("not-a-token")
	assert.Error(t, err)

	expired, err := tokens.Mint("alpha", -time.Minute)
	require.NoError(t, err)
	_, err = tokens.Verify(expired)
	assert.Error(t, err)
}
