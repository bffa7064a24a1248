// Package signer implements the cryptographic capability the dispatcher
// consumes: event signing plus NIP-04 and NIP-44 message encryption for a
// single local identity.
package signer

import (
	"errors"
	"fmt"
	"sync"

	"github.com/nbd-wtf/go-nostr"
	"github.com/nbd-wtf/go-nostr/nip04"
	"github.com/nbd-wtf/go-nostr/nip44"
)

// Scheme names the encryption wrapping of a request or response payload.
type Scheme string

const (
	SchemeNIP04 Scheme = "nip04"
	SchemeNIP44 Scheme = "nip44"
	SchemePlain Scheme = "plain"
)

var ErrUnknownScheme = errors.New("unknown encryption scheme")

// Signer signs events as the local identity.
type Signer interface {
	PublicKey() string
	SignEvent(evt *nostr.Event) error
}

// Cipher encrypts and decrypts payloads exchanged with a counterparty,
// selecting NIP-04 or NIP-44 per message.
type Cipher interface {
	Encrypt(peerPubKey, plaintext string, scheme Scheme) (string, error)
	Decrypt(peerPubKey, ciphertext string, scheme Scheme) (string, error)
}

// Capability is the full contract the router and encoder depend on.
type Capability interface {
	Signer
	Cipher
}

// KeySigner holds the local keypair and caches per-peer derived keys so a
// chatty client does not redo ECDH on every frame.
type KeySigner struct {
	sk string
	pk string

	mu         sync.Mutex
	nip44Cache map[string][32]byte
	nip04Cache map[string][]byte
}

// New derives the public key from the hex private key. Derivation failure is
// a construction error, reported once at configuration load.
func New(privateKeyHex string) (*KeySigner, error) {
	pk, err := DerivePublicKey(privateKeyHex)
	if err != nil {
		return nil, err
	}
	return &KeySigner{
		sk:         privateKeyHex,
		pk:         pk,
		nip44Cache: make(map[string][32]byte),
		nip04Cache: make(map[string][]byte),
	}, nil
}

func (s *KeySigner) PublicKey() string { return s.pk }

func (s *KeySigner) SignEvent(evt *nostr.Event) error {
	if err := evt.Sign(s.sk); err != nil {
		return fmt.Errorf("sign event: %w", err)
	}
	return nil
}

func (s *KeySigner) Encrypt(peerPubKey, plaintext string, scheme Scheme) (string, error) {
	switch scheme {
	case SchemeNIP04:
		key, err := s.sharedSecret(peerPubKey)
		if err != nil {
			return "", err
		}
		out, err := nip04.Encrypt(plaintext, key)
		if err != nil {
			return "", fmt.Errorf("nip04 encrypt: %w", err)
		}
		return out, nil
	case SchemeNIP44, SchemePlain:
		// Plain requests are still answered encrypted; NIP-44 is the default.
		key, err := s.conversationKey(peerPubKey)
		if err != nil {
			return "", err
		}
		out, err := nip44.Encrypt(plaintext, key)
		if err != nil {
			return "", fmt.Errorf("nip44 encrypt: %w", err)
		}
		return out, nil
	default:
		return "", ErrUnknownScheme
	}
}

func (s *KeySigner) Decrypt(peerPubKey, ciphertext string, scheme Scheme) (string, error) {
	switch scheme {
	case SchemeNIP04:
		key, err := s.sharedSecret(peerPubKey)
		if err != nil {
			return "", err
		}
		out, err := nip04.Decrypt(ciphertext, key)
		if err != nil {
			return "", fmt.Errorf("nip04 decrypt: %w", err)
		}
		return out, nil
	case SchemeNIP44:
		key, err := s.conversationKey(peerPubKey)
		if err != nil {
			return "", err
		}
		out, err := nip44.Decrypt(ciphertext, key)
		if err != nil {
			return "", fmt.Errorf("nip44 decrypt: %w", err)
		}
		return out, nil
	default:
		return "", ErrUnknownScheme
	}
}

func (s *KeySigner) conversationKey(peerPubKey string) ([32]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if key, ok := s.nip44Cache[peerPubKey]; ok {
		return key, nil
	}
	key, err := nip44.GenerateConversationKey(peerPubKey, s.sk)
	if err != nil {
		return [32]byte{}, fmt.Errorf("nip44 conversation key: %w", err)
	}
	s.nip44Cache[peerPubKey] = key
	return key, nil
}

func (s *KeySigner) sharedSecret(peerPubKey string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if key, ok := s.nip04Cache[peerPubKey]; ok {
		return key, nil
	}
	key, err := nip04.ComputeSharedSecret(peerPubKey, s.sk)
	if err != nil {
		return nil, fmt.Errorf("nip04 shared secret: %w", err)
	}
	s.nip04Cache[peerPubKey] = key
	return key, nil
}
