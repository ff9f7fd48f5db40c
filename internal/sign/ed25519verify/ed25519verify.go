// Package ed25519verify implements the §4.7 ed25519 backend: 32-byte
// public keys, 64-byte detached signatures. Stdlib-only: crypto/ed25519
// is exactly the narrow, well-specified primitive this job needs, and no
// library in the retrieved corpus does detached Ed25519 verify
// differently or better.
package ed25519verify

import (
	"crypto/ed25519"

	"github.com/ostree-go/ostree/internal/ostreeerr"
	"github.com/ostree-go/ostree/internal/sign"
)

// Verifier implements sign.Verifier for raw Ed25519 keys/signatures.
type Verifier struct{}

// Signer implements sign.Signer for raw Ed25519 private keys.
type Signer struct{}

// Sign produces a detached signature of data using privateKey, a raw
// 64-byte ed25519.PrivateKey (seed+public key, the stdlib's packed form).
func (Signer) Sign(data []byte, privateKey []byte) ([]byte, error) {
	if len(privateKey) != ed25519.PrivateKeySize {
		return nil, ostreeerr.InvalidFormatf("ed25519verify: private key must be %d bytes, got %d", ed25519.PrivateKeySize, len(privateKey))
	}
	return ed25519.Sign(ed25519.PrivateKey(privateKey), data), nil
}

// Verify reports Valid if any signature in sigs verifies against any key
// in pubkeys over data.
func (Verifier) Verify(data []byte, sigs [][]byte, pubkeys [][]byte) (sign.Result, error) {
	for _, sig := range sigs {
		if len(sig) != ed25519.SignatureSize {
			continue
		}
		for _, pk := range pubkeys {
			if len(pk) != ed25519.PublicKeySize {
				continue
			}
			if ed25519.Verify(ed25519.PublicKey(pk), data, sig) {
				return sign.Result{Valid: true}, nil
			}
		}
	}
	return sign.Result{Valid: false, Reason: "no ed25519 signature verified against a candidate public key"}, nil
}
