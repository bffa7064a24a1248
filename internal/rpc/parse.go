package rpc

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/nbd-wtf/go-nostr"

	"nostriot/internal/logger"
	"nostriot/internal/metrics"
	"nostriot/internal/signer"
)

var eventMarker = []byte(`"EVENT"`)

// Parser turns raw relay frames into Envelopes. Anything that cannot be
// attributed to a well-formed, addressed, decryptable request is dropped
// without a reply: with no trustworthy request id there is nothing to
// respond against.
type Parser struct {
	local  string
	cipher signer.Cipher
	log    logger.Logger
	rec    metrics.Recorder
}

func NewParser(localPubKey string, cipher signer.Cipher, log logger.Logger, rec metrics.Recorder) *Parser {
	if log == nil {
		log = logger.Noop{}
	}
	if rec == nil {
		rec = metrics.Noop{}
	}
	return &Parser{local: localPubKey, cipher: cipher, log: log, rec: rec}
}

// Parse returns the envelope and true, or nil and false for frames that are
// not requests (relay notices, EOSE, OK acks, malformed or undecryptable
// events).
func (p *Parser) Parse(frame []byte) (*Envelope, bool) {
	// Cheap marker check before structured decode; relays are chatty and
	// most frames are not for us.
	if !bytes.Contains(frame, eventMarker) {
		return nil, false
	}
	var arr []json.RawMessage
	if err := json.Unmarshal(frame, &arr); err != nil || len(arr) < 3 {
		return nil, false
	}
	var label string
	if err := json.Unmarshal(arr[0], &label); err != nil || label != "EVENT" {
		return nil, false
	}
	var ev nostr.Event
	if err := json.Unmarshal(arr[2], &ev); err != nil {
		p.drop("malformed event", nil)
		return nil, false
	}
	if !p.addressedToUs(ev) {
		p.drop("event not addressed to us", map[string]any{"event": ev.ID})
		return nil, false
	}
	if ok, err := ev.CheckSignature(); !ok || err != nil {
		p.drop("bad event signature", map[string]any{"event": ev.ID})
		return nil, false
	}

	scheme, body, ok := p.decode(ev)
	if !ok {
		return nil, false
	}
	var req request
	if err := json.Unmarshal([]byte(body), &req); err != nil || req.ID == "" || req.Method == "" {
		p.drop("malformed request body", map[string]any{"sender": ev.PubKey})
		return nil, false
	}
	return &Envelope{
		Sender: ev.PubKey,
		ID:     req.ID,
		Method: req.Method,
		Params: req.Params,
		Scheme: scheme,
		Kind:   ev.Kind,
	}, true
}

func (p *Parser) addressedToUs(ev nostr.Event) bool {
	for _, tag := range ev.Tags {
		if len(tag) >= 2 && tag[0] == "p" && strings.EqualFold(tag[1], p.local) {
			return true
		}
	}
	return false
}

// decode unwraps the event content. Decryption failure is treated exactly
// like a parse failure. Plaintext bodies are a legacy path and are called
// out as such.
func (p *Parser) decode(ev nostr.Event) (signer.Scheme, string, bool) {
	content := strings.TrimSpace(ev.Content)
	if strings.HasPrefix(content, "{") {
		p.log.Warn("accepting plaintext request, legacy client", map[string]any{"sender": ev.PubKey})
		return signer.SchemePlain, content, true
	}
	scheme := signer.SchemeNIP44
	if strings.Contains(content, "?iv=") {
		scheme = signer.SchemeNIP04
	}
	plain, err := p.cipher.Decrypt(ev.PubKey, content, scheme)
	if err != nil {
		p.drop("decrypt failed", map[string]any{"sender": ev.PubKey, "scheme": string(scheme)})
		return "", "", false
	}
	return scheme, plain, true
}

func (p *Parser) drop(reason string, fields map[string]any) {
	if fields == nil {
		fields = map[string]any{}
	}
	fields["reason"] = reason
	p.log.Debug("frame dropped", fields)
	p.rec.IncCounter(metrics.FramesDropped, nil)
}
