// Package rpc turns relay frames into structured signing requests and turns
// handler results back into encrypted reply events.
package rpc

import "nostriot/internal/signer"

// Envelope is one parsed inbound request. Immutable once parsed; the request
// id is echoed verbatim in the reply.
type Envelope struct {
	Sender string // requester pubkey, hex
	ID     string
	Method string
	Params []string
	Scheme signer.Scheme
	Kind   int
}

// request is the JSON-RPC style body carried inside the event content.
type request struct {
	ID     string   `json:"id"`
	Method string   `json:"method"`
	Params []string `json:"params"`
}

// Result is the outcome of a dispatch, distinguished by content rather than
// transport-level signaling.
type Result struct {
	ID     string
	Result string
	Err    string
}

type response struct {
	ID     string `json:"id"`
	Result string `json:"result,omitempty"`
	Error  string `json:"error,omitempty"`
}
