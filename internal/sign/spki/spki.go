// Package spki implements the §4.7 spki backend: an ASN.1 DER Subject
// Public Key Info plus an OpenSSL-style verify, for payloads up to
// 128 MiB. Stdlib-only: crypto/x509's ParsePKIXPublicKey is exactly
// the SPKI parser this job calls for, paired with crypto/rsa and
// crypto/ecdsa's verify primitives.
package spki

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"

	"github.com/ostree-go/ostree/internal/ostreeerr"
	"github.com/ostree-go/ostree/internal/sign"
)

// MaxPayload is the §4.7 upper bound on verifiable data size.
const MaxPayload = 128 << 20

// Verifier implements sign.Verifier for DER SubjectPublicKeyInfo keys.
type Verifier struct{}

func (Verifier) Verify(data []byte, sigs [][]byte, pubkeys [][]byte) (sign.Result, error) {
	if len(data) > MaxPayload {
		return sign.Result{}, ostreeerr.InvalidFormatf("spki: payload exceeds %d bytes", MaxPayload)
	}

	digest := sha256.Sum256(data)

	for _, derKey := range pubkeys {
		pub, err := x509.ParsePKIXPublicKey(derKey)
		if err != nil {
			continue
		}
		for _, sig := range sigs {
			if verifyOne(pub, digest[:], sig) {
				return sign.Result{Valid: true}, nil
			}
		}
	}
	return sign.Result{Valid: false, Reason: "no spki signature verified against a candidate public key"}, nil
}

func verifyOne(pub any, digest, sig []byte) bool {
	switch key := pub.(type) {
	case *rsa.PublicKey:
		return rsa.VerifyPKCS1v15(key, crypto.SHA256, digest, sig) == nil
	case *ecdsa.PublicKey:
		return ecdsa.VerifyASN1(key, digest, sig)
	default:
		return false
	}
}
