package crypto

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"filippo.io/edwards25519"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/hkdf"
)

// Sealing converts each party's long-term Ed25519 identity key to X25519 and
// runs an ephemeral-key ECIES construction over it, so a directed envelope's
// content can be read only by its recipient even though the transport and
// signature are otherwise public. The envelope signature still covers the
// sealed content verbatim — sealing happens before signing, never after.
const (
	sealHKDFInfo  = "swarm-seal-v1"
	sealVersion   = 0x01
	x25519KeySize = 32
	nonceSize     = 12
	sealKeySize   = 32
	tagSize       = 16
	minWireLen    = 1 + x25519KeySize + nonceSize + tagSize
)

// SealError wraps a failure in SealContent/OpenContent.
type SealError struct{ Message string }

func (e *SealError) Error() string { return e.Message }

func sealErrorf(format string, args ...interface{}) *SealError {
	return &SealError{Message: fmt.Sprintf(format, args...)}
}

// ephemeralKeypair is a one-shot X25519 keypair generated fresh for a single
// SealContent call; its private half is discarded the moment the shared
// secret is derived.
type ephemeralKeypair struct {
	priv [32]byte
	pub  []byte
}

func newEphemeralKeypair() (*ephemeralKeypair, error) {
	var priv [32]byte
	if _, err := rand.Read(priv[:]); err != nil {
		return nil, err
	}
	pub, err := curve25519.X25519(priv[:], curve25519.Basepoint)
	if err != nil {
		return nil, err
	}
	return &ephemeralKeypair{priv: priv, pub: pub}, nil
}

// ed25519PubToX25519 converts a long-term Ed25519 public key to its X25519
// Diffie-Hellman equivalent.
func ed25519PubToX25519(edPub ed25519.PublicKey) ([]byte, error) {
	p, err := new(edwards25519.Point).SetBytes(edPub)
	if err != nil {
		return nil, fmt.Errorf("invalid Ed25519 public key: %w", err)
	}
	return p.BytesMontgomery(), nil
}

func ed25519SeedToX25519Private(seed []byte) []byte {
	h := sha512.Sum512(seed)
	h[0] &= 248
	h[31] &= 127
	h[31] |= 64
	return h[:32]
}

// deriveSharedKey runs X25519 ECDH between privKey and peerPub, then stretches
// the shared secret into a symmetric ChaCha20-Poly1305 key with HKDF-SHA256,
// salted with the ephemeral and recipient public keys so a key can never be
// reused across a different (ephemeral, recipient) pairing.
func deriveSharedKey(privKey, peerPub, ephPub, recipientX25519Pub []byte) ([]byte, error) {
	shared, err := curve25519.X25519(privKey, peerPub)
	if err != nil {
		return nil, err
	}

	salt := make([]byte, 0, len(ephPub)+len(recipientX25519Pub))
	salt = append(salt, ephPub...)
	salt = append(salt, recipientX25519Pub...)

	r := hkdf.New(sha256.New, shared, salt, []byte(sealHKDFInfo))
	key := make([]byte, sealKeySize)
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, err
	}
	return key, nil
}

// encodeSealedWire lays out the version-tagged wire format: version[1] ||
// ephemeral_pk[32] || nonce[12] || ciphertext+tag.
func encodeSealedWire(ephPub, nonce, ciphertext []byte) string {
	wire := make([]byte, 0, 1+len(ephPub)+len(nonce)+len(ciphertext))
	wire = append(wire, sealVersion)
	wire = append(wire, ephPub...)
	wire = append(wire, nonce...)
	wire = append(wire, ciphertext...)
	return base64.StdEncoding.EncodeToString(wire)
}

type sealedWire struct {
	ephPub     []byte
	nonce      []byte
	ciphertext []byte
}

func decodeSealedWire(sealedB64 string) (*sealedWire, error) {
	raw, err := base64.StdEncoding.DecodeString(sealedB64)
	if err != nil {
		return nil, sealErrorf("invalid base64 content: %v", err)
	}
	if len(raw) < minWireLen {
		return nil, sealErrorf("sealed content too short: %d bytes, minimum %d", len(raw), minWireLen)
	}
	if raw[0] != sealVersion {
		return nil, sealErrorf("unsupported sealed content version: %d", raw[0])
	}
	raw = raw[1:]
	return &sealedWire{
		ephPub:     raw[:x25519KeySize],
		nonce:      raw[x25519KeySize : x25519KeySize+nonceSize],
		ciphertext: raw[x25519KeySize+nonceSize:],
	}, nil
}

// SealContent encrypts plaintext for recipientPubB64 (base64 Ed25519 public
// key), returning base64-encoded wire bytes.
func SealContent(plaintext string, recipientPubB64 string) (string, error) {
	recipientEdPub, err := ValidatePublicKey(recipientPubB64)
	if err != nil {
		return "", sealErrorf("invalid recipient public key: %v", err)
	}
	recipientX25519Pub, err := ed25519PubToX25519(recipientEdPub)
	if err != nil {
		return "", sealErrorf("failed to convert recipient key: %v", err)
	}

	eph, err := newEphemeralKeypair()
	if err != nil {
		return "", err
	}

	key, err := deriveSharedKey(eph.priv[:], recipientX25519Pub, eph.pub, recipientX25519Pub)
	if err != nil {
		return "", err
	}

	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, nonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return "", err
	}
	ciphertext := aead.Seal(nil, nonce, []byte(plaintext), nil)

	return encodeSealedWire(eph.pub, nonce, ciphertext), nil
}

// OpenContent decrypts sealed content using the local agent's Ed25519
// private key.
func OpenContent(sealedB64 string, privateKey ed25519.PrivateKey) (string, error) {
	wire, err := decodeSealedWire(sealedB64)
	if err != nil {
		return "", err
	}

	ownX25519Priv := ed25519SeedToX25519Private(privateKey.Seed())
	ownX25519Pub, err := curve25519.X25519(ownX25519Priv, curve25519.Basepoint)
	if err != nil {
		return "", sealErrorf("failed to derive X25519 public key: %v", err)
	}

	key, err := deriveSharedKey(ownX25519Priv, wire.ephPub, wire.ephPub, ownX25519Pub)
	if err != nil {
		return "", sealErrorf("unseal failed: invalid ephemeral key")
	}

	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return "", err
	}

	plaintext, err := aead.Open(nil, wire.nonce, wire.ciphertext, nil)
	if err != nil {
		return "", sealErrorf("unseal failed: wrong key or tampered content")
	}
	return string(plaintext), nil
}

// IsSealError reports whether err originated from SealContent/OpenContent.
func IsSealError(err error) bool {
	var se *SealError
	return errors.As(err, &se)
}
