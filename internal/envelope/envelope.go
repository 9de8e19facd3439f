// Package envelope builds, signs, and validates the protocol's signed
// message envelope.
package envelope

import (
	"crypto/ed25519"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	protocrypto "github.com/finml-sage/agent-swarm-protocol/internal/crypto"
	"github.com/finml-sage/agent-swarm-protocol/internal/model"
)

// MaxContentBytes bounds an envelope's content field.
const MaxContentBytes = 32 * 1024

// MaxClockSkew is the allowed drift between an envelope's timestamp and the
// receiving node's clock, in either direction.
const MaxClockSkew = 5 * time.Minute

var (
	ErrInvalidFormat      = errors.New("envelope is missing or malformed fields")
	ErrInvalidType        = errors.New("envelope type is not a recognized message type")
	ErrContentTooLarge    = errors.New("envelope content exceeds the maximum size")
	ErrClockSkew          = errors.New("envelope timestamp is outside the allowed clock skew")
	ErrInvalidSig         = protocrypto.ErrInvalidSignature
	ErrUnsupportedVersion = errors.New("envelope protocol_version major does not match this node's")
)

var validTypes = map[model.MessageType]bool{
	model.MessageTypeMessage:      true,
	model.MessageTypeNotification: true,
	model.MessageTypeSystem:       true,
}

// New builds and signs a fresh envelope. If recipientPub is non-nil, content
// is sealed for that recipient before signing. priority may be empty, in
// which case the envelope carries no priority field at all (§3: optional).
func New(priv ed25519.PrivateKey, swarmID, sender, recipient string, msgType model.MessageType, content string, recipientPub ed25519.PublicKey, priority model.Priority) (model.Envelope, error) {
	sealed := false
	if recipientPub != nil {
		s, err := protocrypto.SealContent(content, protocrypto.EncodePublicKey(recipientPub))
		if err != nil {
			return model.Envelope{}, fmt.Errorf("sealing content: %w", err)
		}
		content = s
		sealed = true
	}

	env := model.Envelope{
		ProtocolVersion: model.ProtocolVersion,
		MessageID:       uuid.NewString(),
		Timestamp:       time.Now().Unix(),
		SwarmID:         swarmID,
		Sender:          sender,
		Recipient:       recipient,
		Type:            msgType,
		Priority:        priority,
		Content:         content,
		Sealed:          sealed,
	}
	env.Signature = protocrypto.Sign(priv, SigningPayload(env))
	return env, nil
}

// SigningPayload returns the canonical bytes an envelope's signature covers.
func SigningPayload(env model.Envelope) []byte {
	return protocrypto.CanonicalPayload(env.MessageID, env.Timestamp, env.SwarmID, env.Recipient, string(env.Type), env.Content)
}

// ValidateFormat checks the envelope's structural validity (§4.3) without
// touching the signature: protocol version, required fields, UUID-shaped
// IDs, recognized type, content size.
func ValidateFormat(env model.Envelope) error {
	if env.MessageID == "" || env.SwarmID == "" || env.Sender == "" || env.Signature == "" {
		return ErrInvalidFormat
	}
	if major, _, ok := strings.Cut(env.ProtocolVersion, "."); !ok || major != model.ProtocolMajor {
		return ErrUnsupportedVersion
	}
	if _, err := uuid.Parse(env.MessageID); err != nil {
		return fmt.Errorf("%w: message_id is not a UUID", ErrInvalidFormat)
	}
	if _, err := uuid.Parse(env.SwarmID); err != nil {
		return fmt.Errorf("%w: swarm_id is not a UUID", ErrInvalidFormat)
	}
	if !validTypes[env.Type] {
		return ErrInvalidType
	}
	if len(env.Content) > MaxContentBytes {
		return ErrContentTooLarge
	}
	return nil
}

// ValidateTimestamp rejects envelopes whose timestamp has drifted from now
// by more than MaxClockSkew in either direction.
func ValidateTimestamp(env model.Envelope, now time.Time) error {
	ts := time.Unix(env.Timestamp, 0)
	skew := now.Sub(ts)
	if skew < 0 {
		skew = -skew
	}
	if skew > MaxClockSkew {
		return ErrClockSkew
	}
	return nil
}

// VerifySignature verifies the envelope's signature against the sender's
// Ed25519 public key.
func VerifySignature(env model.Envelope, senderPub ed25519.PublicKey) error {
	return protocrypto.VerifySignature(senderPub, SigningPayload(env), env.Signature)
}
