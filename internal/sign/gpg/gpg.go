// Package gpg implements the §4.7 GPG backend on top of
// github.com/ProtonMail/go-crypto/openpgp, the OpenPGP implementation
// go-git depends on (and uses internally for commit/tag signature
// verification). Keyrings are loaded as concatenated armored or binary
// blobs; verification reports the per-signature attributes §4.7 lists.
package gpg

import (
	"bytes"
	"time"

	"github.com/ProtonMail/go-crypto/openpgp"

	"github.com/ostree-go/ostree/internal/ostreeerr"
	"github.com/ostree-go/ostree/internal/sign"
)

// SignatureAttributes is the per-signature detail §4.7 requires be
// available to callers, beyond the bare Valid/Invalid verdict.
type SignatureAttributes struct {
	Valid       bool
	Expired     bool
	Revoked     bool
	MissingKey  bool
	Fingerprint string
	SignedAt    time.Time
	KeyAlgo     string
	PrimaryName string
	PrimaryMail string
}

// Verifier implements sign.Verifier. pubkeys are concatenated
// armored-or-binary OpenPGP keyring blobs, loaded fresh on every call
// (prepare-root and fsck are not hot loops for this backend).
type Verifier struct{}

// Verify reports Valid if any signature in sigs verifies against the
// keyring formed by concatenating pubkeys, applying the rule "VALID bit
// set, OR GREEN bit set, OR summary==0 and status==OK" — expressed here
// as: the signing entity resolves, its key is not expired, and the
// signature check itself returns no error.
func (Verifier) Verify(data []byte, sigs [][]byte, pubkeys [][]byte) (sign.Result, error) {
	keyring, err := loadKeyring(pubkeys)
	if err != nil {
		return sign.Result{}, err
	}

	for _, sigBytes := range sigs {
		attrs, err := checkDetached(keyring, data, sigBytes)
		if err != nil {
			continue // this signature didn't verify against this keyring; try the next
		}
		if attrs.Valid {
			return sign.Result{Valid: true}, nil
		}
	}
	return sign.Result{Valid: false, Reason: "no gpg signature verified against the trusted keyring"}, nil
}

// VerifyDetailed is like Verify but returns the full per-signature
// attributes §4.7 lists, for callers that need the fingerprint or
// primary identity. Nothing in this module calls it; prepare-root's
// composefs signature check goes through Verifier.
func VerifyDetailed(pubkeys [][]byte, data, sigBytes []byte) (SignatureAttributes, error) {
	keyring, err := loadKeyring(pubkeys)
	if err != nil {
		return SignatureAttributes{}, err
	}
	return checkDetached(keyring, data, sigBytes)
}

func loadKeyring(pubkeys [][]byte) (openpgp.EntityList, error) {
	var all openpgp.EntityList
	for _, blob := range pubkeys {
		entities, err := openpgp.ReadArmoredKeyRing(bytes.NewReader(blob))
		if err != nil {
			entities, err = openpgp.ReadKeyRing(bytes.NewReader(blob))
			if err != nil {
				return nil, ostreeerr.InvalidFormatf("gpg: unreadable keyring blob: %v", err)
			}
		}
		all = append(all, entities...)
	}
	return all, nil
}

func checkDetached(keyring openpgp.EntityList, data, sigBytes []byte) (SignatureAttributes, error) {
	signer, err := openpgp.CheckDetachedSignature(keyring, bytes.NewReader(data), bytes.NewReader(sigBytes), nil)
	if err != nil {
		return SignatureAttributes{MissingKey: err == openpgp.ErrUnknownIssuer}, err
	}

	attrs := SignatureAttributes{Valid: true}
	if signer.PrimaryKey != nil {
		attrs.Fingerprint = signer.PrimaryKey.KeyIdString()
		attrs.KeyAlgo = signer.PrimaryKey.PubKeyAlgo.String()
	}
	if ident := signer.PrimaryIdentity(); ident != nil && ident.UserId != nil {
		attrs.PrimaryName = ident.UserId.Name
		attrs.PrimaryMail = ident.UserId.Email
	}
	if signingKeyExpired(signer, time.Now()) {
		attrs.Expired = true
		attrs.Valid = false
	}
	return attrs, nil
}

func signingKeyExpired(e *openpgp.Entity, at time.Time) bool {
	for _, ident := range e.Identities {
		if ident.SelfSignature == nil {
			continue
		}
		if lifetime := ident.SelfSignature.KeyLifetimeSecs; lifetime != nil {
			expiry := e.PrimaryKey.CreationTime.Add(time.Duration(*lifetime) * time.Second)
			if at.After(expiry) {
				return true
			}
		}
	}
	return false
}
