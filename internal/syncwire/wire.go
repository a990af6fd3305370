// Package syncwire defines the JSON shapes exchanged between replicas
// and the sync authority. Shared by the client and the server so the
// two cannot drift.
package syncwire

import "encoding/json"

// ProtocolVersion is negotiated at handshake. A mismatch is a terminal
// error for the client: silently proceeding across versions risks
// misinterpreting the stream.
const ProtocolVersion = 1

// Record is one event in the authority stream. GlobalSeq is zero on
// push (the authority assigns it) and set on pull. The payload stays
// raw end to end on the server: the authority stores and relays bytes,
// replicas decode and validate.
type Record struct {
	GlobalSeq int64           `json:"globalSeq,omitempty"`
	ID        string          `json:"id"`
	Seq       int64           `json:"seq"`
	Origin    string          `json:"origin"`
	Name      string          `json:"name"`
	Payload   json.RawMessage `json:"payload"`
}

// HandshakeResponse opens a sync session.
type HandshakeResponse struct {
	ProtocolVersion int    `json:"protocolVersion"`
	Head            int64  `json:"head"`
	Replica         string `json:"replica"`
}

// PushRequest uploads local events in commit order.
type PushRequest struct {
	Events []Record `json:"events"`
}

// PushResponse acknowledges a push. Duplicate ids are acknowledged, not
// errors: overlapping sync rounds re-push the same events.
type PushResponse struct {
	Accepted  []string `json:"accepted"`
	Duplicate []string `json:"duplicate"`
	Head      int64    `json:"head"`
}

// PullResponse returns the stream after the requested cursor. Cursor is
// the position the client should persist after applying the batch.
type PullResponse struct {
	Records []Record `json:"records"`
	Cursor  int64    `json:"cursor"`
	More    bool     `json:"more"`
}

// ErrorResponse is the JSON body of any non-2xx reply.
type ErrorResponse struct {
	Error string `json:"error"`
}
