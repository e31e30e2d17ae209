// Package ddp implements the client wire protocol (spec §6): JSON message
// framing over one WebSocket frame per message, version negotiation, and
// the cleared-array / EJSON-style transforms used for field removal and
// round-trip-preserving Dates, binary data, and decimal values.
package ddp

import "encoding/json"

// SupportedVersions lists the versions this server negotiates, in
// preference order.
var SupportedVersions = []string{"1a", "1", "pre2", "pre1"}

// Negotiate picks the first of SupportedVersions that also appears in the
// client's proposed support list.
func Negotiate(support []string) (string, bool) {
	offered := make(map[string]bool, len(support))
	for _, v := range support {
		offered[v] = true
	}
	for _, v := range SupportedVersions {
		if offered[v] {
			return v, true
		}
	}
	return "", false
}

// Raw is the envelope every inbound message is first decoded into, so the
// dispatcher can branch on Msg before parsing the rest of the fields.
type Raw struct {
	Msg string `json:"msg"`
}

// Connect is a client->server connect message.
type Connect struct {
	Msg     string   `json:"msg"`
	Version string   `json:"version"`
	Support []string `json:"support"`
	Session string   `json:"session,omitempty"`
}

// Connected is the server's successful connect reply.
type Connected struct {
	Msg     string `json:"msg"`
	Session string `json:"session"`
}

// Failed is the server's version-mismatch connect reply.
type Failed struct {
	Msg     string `json:"msg"`
	Version string `json:"version"`
}

// Sub is a client->server subscribe request.
type Sub struct {
	Msg    string            `json:"msg"`
	ID     string            `json:"id"`
	Name   string            `json:"name"`
	Params []json.RawMessage `json:"params,omitempty"`
}

// Unsub is a client->server unsubscribe request.
type Unsub struct {
	Msg string `json:"msg"`
	ID  string `json:"id"`
}

// Method is a client->server method invocation.
type Method struct {
	Msg        string            `json:"msg"`
	ID         string            `json:"id"`
	Method     string            `json:"method"`
	Params     []json.RawMessage `json:"params,omitempty"`
	RandomSeed string            `json:"randomSeed,omitempty"`
}

// Ping/Pong carry an optional id for liveness correlation.
type Ping struct {
	Msg string `json:"msg"`
	ID  string `json:"id,omitempty"`
}

type Pong struct {
	Msg string `json:"msg"`
	ID  string `json:"id,omitempty"`
}

// Nosub is the server's subscription-stop notice.
type Nosub struct {
	Msg   string      `json:"msg"`
	ID    string      `json:"id"`
	Error *ErrorField `json:"error,omitempty"`
}

// Added/Changed/Removed are the server's per-document delta messages.
type Added struct {
	Msg        string          `json:"msg"`
	Collection string          `json:"collection"`
	ID         string          `json:"id"`
	Fields     json.RawMessage `json:"fields,omitempty"`
}

type Changed struct {
	Msg        string          `json:"msg"`
	Collection string          `json:"collection"`
	ID         string          `json:"id"`
	Fields     json.RawMessage `json:"fields,omitempty"`
	Cleared    []string        `json:"cleared,omitempty"`
}

type Removed struct {
	Msg        string `json:"msg"`
	Collection string `json:"collection"`
	ID         string `json:"id"`
}

// Ready announces that every initial-add for the listed subscriptions has
// been delivered.
type Ready struct {
	Msg  string   `json:"msg"`
	Subs []string `json:"subs"`
}

// Updated announces that a method's writes have fully fanned out.
type Updated struct {
	Msg     string   `json:"msg"`
	Methods []string `json:"methods"`
}

// Result is the server's reply to a method call.
type Result struct {
	Msg    string          `json:"msg"`
	ID     string          `json:"id"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *ErrorField     `json:"error,omitempty"`
}

// ErrorField is the client-safe error shape carried by result/nosub/error.
type ErrorField struct {
	Error   any    `json:"error"`
	Reason  string `json:"reason,omitempty"`
	Details any    `json:"details,omitempty"`
}

// Error is a protocol-level error reply (unknown message, malformed frame).
type Error struct {
	Msg              string          `json:"msg"`
	Reason           string          `json:"reason"`
	OffendingMessage json.RawMessage `json:"offendingMessage,omitempty"`
}

// Init is the version-1a initial-burst extension, replacing a run of
// added messages for one collection with a single framed batch.
type Init struct {
	Msg        string            `json:"msg"`
	Collection string            `json:"collection"`
	Items      []InitItem        `json:"items"`
}

type InitItem struct {
	ID     string          `json:"id"`
	Fields json.RawMessage `json:"fields,omitempty"`
}
