package syncer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/tempolog/tempolog/internal/event"
	"github.com/tempolog/tempolog/internal/syncwire"
)

// Client speaks the sync protocol to one authority endpoint.
// Safe for concurrent use; the engine is its only caller in practice.
type Client struct {
	base  string
	token string
	http  *http.Client
}

// NewClient builds a client for the authority at base, authenticating
// with the given bearer token.
func NewClient(base, token string) *Client {
	return &Client{
		base:  strings.TrimRight(base, "/"),
		token: token,
		http:  &http.Client{Timeout: 60 * time.Second},
	}
}

// Handshake opens a sync session and checks protocol compatibility.
func (c *Client) Handshake(ctx context.Context) (syncwire.HandshakeResponse, error) {
	var hs syncwire.HandshakeResponse
	if err := c.get(ctx, "/v1/handshake", nil, &hs); err != nil {
		return syncwire.HandshakeResponse{}, err
	}
	if hs.ProtocolVersion != syncwire.ProtocolVersion {
		return syncwire.HandshakeResponse{}, &ProtocolError{
			Kind:   KindHandshake,
			Detail: fmt.Sprintf("authority speaks protocol %d, client speaks %d", hs.ProtocolVersion, syncwire.ProtocolVersion),
		}
	}
	return hs, nil
}

// Push uploads stamped local events in commit order.
func (c *Client) Push(ctx context.Context, events []event.Event) (syncwire.PushResponse, error) {
	records := make([]syncwire.Record, len(events))
	for i, ev := range events {
		payload, err := event.MarshalPayload(ev.Payload)
		if err != nil {
			return syncwire.PushResponse{}, fmt.Errorf("push: %w", err)
		}
		records[i] = syncwire.Record{
			ID:      ev.ID,
			Seq:     ev.Seq,
			Origin:  ev.Origin,
			Name:    ev.Name,
			Payload: payload,
		}
	}

	var resp syncwire.PushResponse
	if err := c.post(ctx, "/v1/push", syncwire.PushRequest{Events: records}, &resp); err != nil {
		return syncwire.PushResponse{}, err
	}
	return resp, nil
}

// Pull fetches the stream after cursor, optionally long-polling for up
// to wait when the replica is already caught up. Returns the decoded
// events, the cursor to persist, and whether more pages are pending.
func (c *Client) Pull(ctx context.Context, cursor int64, wait time.Duration) ([]event.Event, int64, bool, error) {
	params := url.Values{}
	params.Set("cursor", strconv.FormatInt(cursor, 10))
	if wait > 0 {
		params.Set("wait_ms", strconv.FormatInt(wait.Milliseconds(), 10))
	}

	var resp syncwire.PullResponse
	if err := c.get(ctx, "/v1/pull", params, &resp); err != nil {
		return nil, 0, false, err
	}

	events := make([]event.Event, 0, len(resp.Records))
	for _, rec := range resp.Records {
		payload, err := event.DecodePayload(rec.Name, rec.Payload)
		if err != nil {
			return nil, 0, false, &ProtocolError{
				Kind:   KindDecode,
				Detail: fmt.Sprintf("record %s: %v", rec.ID, err),
				Err:    err,
			}
		}
		events = append(events, event.Event{
			ID:      rec.ID,
			Seq:     rec.Seq,
			Origin:  rec.Origin,
			Name:    rec.Name,
			Payload: payload,
		})
	}
	return events, resp.Cursor, resp.More, nil
}

func (c *Client) get(ctx context.Context, path string, params url.Values, out any) error {
	target := c.base + path
	if len(params) > 0 {
		target += "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return &ProtocolError{Kind: KindTransport, Detail: err.Error(), Err: err}
	}
	return c.do(req, out)
}

func (c *Client) post(ctx context.Context, path string, body, out any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return &ProtocolError{Kind: KindDecode, Detail: err.Error(), Err: err}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+path, bytes.NewReader(data))
	if err != nil {
		return &ProtocolError{Kind: KindTransport, Detail: err.Error(), Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.http.Do(req)
	if err != nil {
		return &ProtocolError{Kind: KindTransport, Detail: err.Error(), Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		kind := KindServer
		if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
			kind = KindAuth
		}
		var body syncwire.ErrorResponse
		_ = json.NewDecoder(resp.Body).Decode(&body)
		if body.Error == "" {
			body.Error = resp.Status
		}
		return &ProtocolError{Kind: kind, Status: resp.StatusCode, Detail: body.Error}
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return &ProtocolError{Kind: KindDecode, Detail: err.Error(), Err: err}
		}
	}
	return nil
}
