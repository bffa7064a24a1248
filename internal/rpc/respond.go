package rpc

import (
	"encoding/json"
	"fmt"

	"github.com/nbd-wtf/go-nostr"

	"nostriot/internal/clock"
	"nostriot/internal/logger"
	"nostriot/internal/metrics"
	"nostriot/internal/signer"
)

// Encoder builds the encrypted reply event for a dispatched request and
// hands it to the relay. Replies mirror the scheme the request arrived
// under; a plaintext request is still answered NIP-44, since there is no
// cipher to mirror.
type Encoder struct {
	capability signer.Capability
	send       func([]byte) error
	clk        clock.Clock
	log        logger.Logger
	rec        metrics.Recorder
}

func NewEncoder(capability signer.Capability, send func([]byte) error, clk clock.Clock, log logger.Logger, rec metrics.Recorder) *Encoder {
	if clk == nil {
		clk = clock.System{}
	}
	if log == nil {
		log = logger.Noop{}
	}
	if rec == nil {
		rec = metrics.Noop{}
	}
	return &Encoder{capability: capability, send: send, clk: clk, log: log, rec: rec}
}

// Respond encrypts and transmits one result. Transmission failure is logged
// and the response dropped; the requester must resend once the supervisor
// has reconnected.
func (e *Encoder) Respond(env *Envelope, res Result) error {
	frame, err := e.encode(env, res)
	if err != nil {
		return err
	}
	if err := e.send(frame); err != nil {
		e.rec.IncCounter(metrics.SendFailures, nil)
		e.log.Warn("response dropped", map[string]any{
			"request": env.ID,
			"method":  env.Method,
			"err":     err.Error(),
		})
		return err
	}
	return nil
}

func (e *Encoder) encode(env *Envelope, res Result) ([]byte, error) {
	body, err := json.Marshal(response{ID: res.ID, Result: res.Result, Error: res.Err})
	if err != nil {
		return nil, fmt.Errorf("marshal response body: %w", err)
	}
	content, err := e.capability.Encrypt(env.Sender, string(body), env.Scheme)
	if err != nil {
		return nil, fmt.Errorf("encrypt response: %w", err)
	}
	ev := nostr.Event{
		CreatedAt: nostr.Timestamp(e.clk.Now().Unix()),
		Kind:      nostr.KindNostrConnect,
		Tags:      nostr.Tags{nostr.Tag{"p", env.Sender}},
		Content:   content,
	}
	if err := e.capability.SignEvent(&ev); err != nil {
		return nil, fmt.Errorf("sign response: %w", err)
	}
	frame, err := json.Marshal([]any{"EVENT", ev})
	if err != nil {
		return nil, fmt.Errorf("marshal response frame: %w", err)
	}
	return frame, nil
}
