package rpc

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/nbd-wtf/go-nostr"

	"nostriot/internal/signer"
)

func decodeReplyFrame(t *testing.T, frame []byte) nostr.Event {
	t.Helper()
	var arr []json.RawMessage
	if err := json.Unmarshal(frame, &arr); err != nil || len(arr) != 2 {
		t.Fatalf("malformed publish frame: %s", frame)
	}
	var label string
	if err := json.Unmarshal(arr[0], &label); err != nil || label != "EVENT" {
		t.Fatalf("expected EVENT frame, got %s", frame)
	}
	var ev nostr.Event
	if err := json.Unmarshal(arr[1], &ev); err != nil {
		t.Fatalf("malformed reply event: %v", err)
	}
	return ev
}

func TestRespondMirrorsNIP44(t *testing.T) {
	server := newKeys(t, serverSK)
	client := newKeys(t, clientSK)

	var sent []byte
	enc := NewEncoder(server, func(b []byte) error { sent = b; return nil }, nil, nil, nil)
	env := &Envelope{Sender: client.PublicKey(), ID: "r1", Method: "ping", Scheme: signer.SchemeNIP44}
	if err := enc.Respond(env, Result{ID: "r1", Result: "pong"}); err != nil {
		t.Fatalf("respond: %v", err)
	}

	ev := decodeReplyFrame(t, sent)
	if ev.Kind != nostr.KindNostrConnect {
		t.Fatalf("wrong kind: %d", ev.Kind)
	}
	if ev.PubKey != server.PublicKey() {
		t.Fatalf("reply not from signer identity: %s", ev.PubKey)
	}
	if ok, err := ev.CheckSignature(); !ok || err != nil {
		t.Fatalf("reply signature invalid: ok=%v err=%v", ok, err)
	}
	addressed := false
	for _, tag := range ev.Tags {
		if len(tag) >= 2 && tag[0] == "p" && tag[1] == client.PublicKey() {
			addressed = true
		}
	}
	if !addressed {
		t.Fatalf("reply not addressed to requester: %v", ev.Tags)
	}

	body, err := client.Decrypt(server.PublicKey(), ev.Content, signer.SchemeNIP44)
	if err != nil {
		t.Fatalf("client cannot decrypt reply: %v", err)
	}
	var resp struct {
		ID     string `json:"id"`
		Result string `json:"result"`
		Error  string `json:"error"`
	}
	if err := json.Unmarshal([]byte(body), &resp); err != nil {
		t.Fatalf("reply body not json: %v", err)
	}
	if resp.ID != "r1" || resp.Result != "pong" || resp.Error != "" {
		t.Fatalf("unexpected reply body: %+v", resp)
	}
}

func TestRespondMirrorsNIP04(t *testing.T) {
	server := newKeys(t, serverSK)
	client := newKeys(t, clientSK)

	var sent []byte
	enc := NewEncoder(server, func(b []byte) error { sent = b; return nil }, nil, nil, nil)
	env := &Envelope{Sender: client.PublicKey(), ID: "r2", Method: "ping", Scheme: signer.SchemeNIP04}
	if err := enc.Respond(env, Result{ID: "r2", Result: "pong"}); err != nil {
		t.Fatalf("respond: %v", err)
	}

	ev := decodeReplyFrame(t, sent)
	if !strings.Contains(ev.Content, "?iv=") {
		t.Fatalf("nip04 request answered with a different scheme")
	}
	body, err := client.Decrypt(server.PublicKey(), ev.Content, signer.SchemeNIP04)
	if err != nil || !strings.Contains(body, `"id":"r2"`) {
		t.Fatalf("nip04 reply unreadable: %q %v", body, err)
	}
}

func TestRespondAnswersPlainRequestEncrypted(t *testing.T) {
	server := newKeys(t, serverSK)
	client := newKeys(t, clientSK)

	var sent []byte
	enc := NewEncoder(server, func(b []byte) error { sent = b; return nil }, nil, nil, nil)
	env := &Envelope{Sender: client.PublicKey(), ID: "r3", Method: "ping", Scheme: signer.SchemePlain}
	if err := enc.Respond(env, Result{ID: "r3", Result: "pong"}); err != nil {
		t.Fatalf("respond: %v", err)
	}

	ev := decodeReplyFrame(t, sent)
	if strings.HasPrefix(strings.TrimSpace(ev.Content), "{") {
		t.Fatalf("plaintext reply emitted")
	}
	if _, err := client.Decrypt(server.PublicKey(), ev.Content, signer.SchemeNIP44); err != nil {
		t.Fatalf("plain request reply not nip44: %v", err)
	}
}

func TestRespondErrorResult(t *testing.T) {
	server := newKeys(t, serverSK)
	client := newKeys(t, clientSK)

	var sent []byte
	enc := NewEncoder(server, func(b []byte) error { sent = b; return nil }, nil, nil, nil)
	env := &Envelope{Sender: client.PublicKey(), ID: "r4", Method: "nope", Scheme: signer.SchemeNIP44}
	if err := enc.Respond(env, Result{ID: "r4", Err: "Unknown method"}); err != nil {
		t.Fatalf("respond: %v", err)
	}

	ev := decodeReplyFrame(t, sent)
	body, err := client.Decrypt(server.PublicKey(), ev.Content, signer.SchemeNIP44)
	if err != nil {
		t.Fatalf("decrypt: %v", err)
	}
	if !strings.Contains(body, `"error":"Unknown method"`) {
		t.Fatalf("error not carried in body: %s", body)
	}
	if strings.Contains(body, `"result"`) {
		t.Fatalf("empty result not omitted: %s", body)
	}
}

func TestRespondSendFailureSurfaces(t *testing.T) {
	server := newKeys(t, serverSK)
	client := newKeys(t, clientSK)

	sendErr := errors.New("socket gone")
	enc := NewEncoder(server, func([]byte) error { return sendErr }, nil, nil, nil)
	env := &Envelope{Sender: client.PublicKey(), ID: "r5", Method: "ping", Scheme: signer.SchemeNIP44}
	if err := enc.Respond(env, Result{ID: "r5", Result: "pong"}); !errors.Is(err, sendErr) {
		t.Fatalf("send failure swallowed: %v", err)
	}
}
