package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/nbd-wtf/go-nostr"

	"nostriot/internal/signer"
)

// Built-in remote-signer methods.
const (
	MethodConnect      = "connect"
	MethodSignEvent    = "sign_event"
	MethodPing         = "ping"
	MethodGetPublicKey = "get_public_key"
	MethodNIP04Encrypt = "nip04_encrypt"
	MethodNIP04Decrypt = "nip04_decrypt"
	MethodNIP44Encrypt = "nip44_encrypt"
	MethodNIP44Decrypt = "nip44_decrypt"
)

var errUnauthorized = errors.New("unauthorized")

// BuiltinOptions wires the signer capability and the client policy into the
// built-in method set.
type BuiltinOptions struct {
	Capability signer.Capability
	// Authorized gates every connect; nil authorizes everyone.
	Authorized func(pubkey string) bool
	// ConnectSecret, when set, must be presented by the client on connect.
	ConnectSecret string
}

// RegisterBuiltins installs the handshake, identity, signing and encryption
// passthrough methods on the router.
func RegisterBuiltins(r *Router, opts BuiltinOptions) {
	capability := opts.Capability

	r.Register(MethodConnect, func(_ context.Context, env *Envelope) (string, error) {
		if opts.Authorized != nil && !opts.Authorized(env.Sender) {
			return "", errUnauthorized
		}
		secret := ""
		if len(env.Params) >= 2 {
			secret = env.Params[1]
		}
		if opts.ConnectSecret != "" && secret != opts.ConnectSecret {
			return "", errUnauthorized
		}
		if secret != "" {
			return secret, nil
		}
		return "ack", nil
	})

	r.Register(MethodGetPublicKey, func(context.Context, *Envelope) (string, error) {
		return capability.PublicKey(), nil
	})

	r.Register(MethodPing, func(context.Context, *Envelope) (string, error) {
		return "pong", nil
	})

	r.Register(MethodSignEvent, func(_ context.Context, env *Envelope) (string, error) {
		if len(env.Params) < 1 {
			return "", errors.New("sign_event requires an event parameter")
		}
		var ev nostr.Event
		if err := json.Unmarshal([]byte(env.Params[0]), &ev); err != nil {
			return "", fmt.Errorf("malformed event parameter: %w", err)
		}
		if ev.CreatedAt == 0 {
			ev.CreatedAt = nostr.Now()
		}
		if err := capability.SignEvent(&ev); err != nil {
			return "", err
		}
		signed, err := json.Marshal(ev)
		if err != nil {
			return "", fmt.Errorf("marshal signed event: %w", err)
		}
		return string(signed), nil
	})

	r.Register(MethodNIP04Encrypt, cipherHandler(capability, signer.SchemeNIP04, true))
	r.Register(MethodNIP04Decrypt, cipherHandler(capability, signer.SchemeNIP04, false))
	r.Register(MethodNIP44Encrypt, cipherHandler(capability, signer.SchemeNIP44, true))
	r.Register(MethodNIP44Decrypt, cipherHandler(capability, signer.SchemeNIP44, false))
}

// cipherHandler builds the encrypt/decrypt passthroughs, which all share the
// params shape [thirdPartyPubkey, payload].
func cipherHandler(capability signer.Capability, scheme signer.Scheme, encrypt bool) HandlerFunc {
	return func(_ context.Context, env *Envelope) (string, error) {
		if len(env.Params) < 2 {
			return "", errors.New("expected params [pubkey, payload]")
		}
		peer, payload := env.Params[0], env.Params[1]
		if encrypt {
			return capability.Encrypt(peer, payload, scheme)
		}
		return capability.Decrypt(peer, payload, scheme)
	}
}
