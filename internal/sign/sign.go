// Package sign implements §4.7's signature envelope: one shape,
// Verify(data, sigs, pubkeys) -> Result, backed by three independent
// backends (ed25519, spki, gpg) registered under the commitmeta key each
// uses. Revocation and the require-valid policy live here, one layer
// above the backends, so every backend gets them for free.
package sign

import (
	"bytes"

	"github.com/ostree-go/ostree/internal/ostreeerr"
)

// Backend identifies which commitmeta key's signature list a Verifier
// checks: ostree.sign.ed25519, ostree.sign.spki, ostree.sign.gpg.
type Backend string

const (
	BackendEd25519 Backend = "ostree.sign.ed25519"
	BackendSPKI    Backend = "ostree.sign.spki"
	BackendGPG     Backend = "ostree.sign.gpg"
)

// Result is the outcome of a verification attempt against one backend.
type Result struct {
	Valid  bool
	Reason string // populated when Valid is false
}

// Verifier is the shape every backend implements: verify data's detached
// signatures against a set of candidate public keys.
type Verifier interface {
	Verify(data []byte, sigs [][]byte, pubkeys [][]byte) (Result, error)
}

// Signer is the producing half of the same shape (§4.7: "sign(data) ->
// sig and verify(data, sigs, pubkeys) -> Valid | Invalid"). Only the
// ed25519 backend implements this in this module — spki/gpg signing
// keys are managed by external tooling this module only ever verifies
// against, never generates for.
type Signer interface {
	Sign(data []byte, privateKey []byte) ([]byte, error)
}

// RevocationSet is a parallel keyring: pubkeys present here short-circuit
// verification to Invalid even when the signature is otherwise sound
// (§4.7: "revoked keys ... short-circuit verification to Invalid even
// when the signature is otherwise sound").
type RevocationSet struct {
	revoked [][]byte
}

// NewRevocationSet builds a revocation set from raw public key bytes.
func NewRevocationSet(pubkeys [][]byte) RevocationSet {
	return RevocationSet{revoked: pubkeys}
}

func (rs RevocationSet) contains(pubkey []byte) bool {
	for _, r := range rs.revoked {
		if bytes.Equal(r, pubkey) {
			return true
		}
	}
	return false
}

// VerifyWithPolicy applies the require-valid policy (§8 property 9): a
// trust decision is Valid iff at least one signature verifies against a
// non-revoked public key. Revoked keys are filtered out before the
// backend ever sees them, so revoking a key flips the result without
// recomputing any signature.
func VerifyWithPolicy(v Verifier, data []byte, sigs [][]byte, pubkeys [][]byte, revoked RevocationSet) (Result, error) {
	var trusted [][]byte
	for _, k := range pubkeys {
		if !revoked.contains(k) {
			trusted = append(trusted, k)
		}
	}
	if len(trusted) == 0 {
		return Result{Valid: false, Reason: "all candidate public keys are revoked"}, nil
	}

	result, err := v.Verify(data, sigs, trusted)
	if err != nil {
		return Result{}, err
	}
	if !result.Valid {
		return result, nil
	}
	return Result{Valid: true}, nil
}

// RequireValid turns a Result into the ErrSignatureInvalid sentinel
// (§7) when verification failed, for callers that want a plain error
// rather than a Result to inspect.
func RequireValid(r Result, err error) error {
	if err != nil {
		return err
	}
	if !r.Valid {
		return ostreeerr.SignatureInvalidf("sign: %s", r.Reason)
	}
	return nil
}
