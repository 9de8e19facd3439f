// Package crypto implements the protocol's Ed25519 envelope signing, the
// EdDSA invite-token scheme, and optional recipient-sealed envelope content.
package crypto

import (
	"crypto/ed25519"
	"encoding/base64"
	"errors"
	"fmt"
)

var (
	ErrInvalidPublicKey = errors.New("invalid Ed25519 public key")
	ErrInvalidSignature = errors.New("invalid signature")
)

// ValidatePublicKey decodes and length-checks a base64 Ed25519 public key.
func ValidatePublicKey(pubkeyB64 string) (ed25519.PublicKey, error) {
	decoded, err := base64.StdEncoding.DecodeString(pubkeyB64)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid base64 encoding", ErrInvalidPublicKey)
	}
	if len(decoded) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("%w: must be %d bytes, got %d", ErrInvalidPublicKey, ed25519.PublicKeySize, len(decoded))
	}
	return ed25519.PublicKey(decoded), nil
}

// VerifySignature verifies signedData against a base64-encoded signature.
func VerifySignature(pubkey ed25519.PublicKey, signedData []byte, signatureB64 string) error {
	signature, err := base64.StdEncoding.DecodeString(signatureB64)
	if err != nil {
		return fmt.Errorf("%w: invalid base64 encoding", ErrInvalidSignature)
	}
	if !ed25519.Verify(pubkey, signedData, signature) {
		return ErrInvalidSignature
	}
	return nil
}

// Sign produces the base64-encoded Ed25519 signature of data.
func Sign(priv ed25519.PrivateKey, data []byte) string {
	sig := ed25519.Sign(priv, data)
	return base64.StdEncoding.EncodeToString(sig)
}

// EncodePublicKey base64-encodes an Ed25519 public key for the wire.
func EncodePublicKey(pub ed25519.PublicKey) string {
	return base64.StdEncoding.EncodeToString(pub)
}
