package envelope

import (
	"crypto/ed25519"
	"crypto/rand"
	"strings"
	"testing"
	"time"

	"github.com/finml-sage/agent-swarm-protocol/internal/model"
)

const testSwarmID = "11111111-1111-1111-1111-111111111111"

func generateKeypair(t *testing.T) (ed25519.PrivateKey, ed25519.PublicKey) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	return priv, pub
}

func TestNewBuildsVerifiableEnvelope(t *testing.T) {
	priv, pub := generateKeypair(t)

	env, err := New(priv, testSwarmID, "alice", "bob", model.MessageTypeMessage, "hi bob", nil, model.PriorityNormal)
	if err != nil {
		t.Fatal(err)
	}
	if env.Sealed {
		t.Fatal("expected unsealed envelope when no recipient key is given")
	}
	if env.ProtocolVersion != model.ProtocolVersion {
		t.Fatalf("expected protocol_version %q, got %q", model.ProtocolVersion, env.ProtocolVersion)
	}
	if err := ValidateFormat(env); err != nil {
		t.Fatalf("expected valid format, got %v", err)
	}
	if err := VerifySignature(env, pub); err != nil {
		t.Fatalf("expected valid signature, got %v", err)
	}
}

func TestNewSealsContentForRecipient(t *testing.T) {
	priv, _ := generateKeypair(t)
	_, recipientPub := generateKeypair(t)

	env, err := New(priv, testSwarmID, "alice", "bob", model.MessageTypeMessage, "secret", recipientPub, model.PriorityNormal)
	if err != nil {
		t.Fatal(err)
	}
	if !env.Sealed {
		t.Fatal("expected sealed envelope when a recipient key is given")
	}
	if env.Content == "secret" {
		t.Fatal("expected sealed content to differ from plaintext")
	}
}

func TestNewAllowsEmptyPriority(t *testing.T) {
	priv, _ := generateKeypair(t)
	env, err := New(priv, testSwarmID, "alice", "bob", model.MessageTypeMessage, "hi", nil, "")
	if err != nil {
		t.Fatal(err)
	}
	if env.Priority != "" {
		t.Fatalf("expected no priority set, got %q", env.Priority)
	}
	if err := ValidateFormat(env); err != nil {
		t.Fatalf("expected valid format with no priority, got %v", err)
	}
}

func TestValidateFormatRejectsMissingFields(t *testing.T) {
	env := model.Envelope{SwarmID: testSwarmID, Sender: "alice", Signature: "sig"}
	if err := ValidateFormat(env); err == nil {
		t.Fatal("expected error for missing message_id")
	}
}

func TestValidateFormatRejectsNonUUIDMessageID(t *testing.T) {
	env := model.Envelope{
		ProtocolVersion: model.ProtocolVersion,
		MessageID:       "not-a-uuid",
		SwarmID:         testSwarmID,
		Sender:          "alice",
		Type:            model.MessageTypeMessage,
		Signature:       "sig",
	}
	if err := ValidateFormat(env); err == nil {
		t.Fatal("expected error for non-UUID message_id")
	}
}

func TestValidateFormatRejectsNonUUIDSwarmID(t *testing.T) {
	priv, _ := generateKeypair(t)
	env, err := New(priv, testSwarmID, "alice", "bob", model.MessageTypeMessage, "hi", nil, model.PriorityNormal)
	if err != nil {
		t.Fatal(err)
	}
	env.SwarmID = "not-a-uuid"
	if err := ValidateFormat(env); err == nil {
		t.Fatal("expected error for non-UUID swarm_id")
	}
}

func TestValidateFormatRejectsUnsupportedMajorVersion(t *testing.T) {
	priv, _ := generateKeypair(t)
	env, err := New(priv, testSwarmID, "alice", "bob", model.MessageTypeMessage, "hi", nil, model.PriorityNormal)
	if err != nil {
		t.Fatal(err)
	}
	env.ProtocolVersion = "99.0.0"
	if err := ValidateFormat(env); err == nil {
		t.Fatal("expected error for unsupported protocol major version")
	}
}

func TestValidateFormatRejectsUnknownType(t *testing.T) {
	priv, _ := generateKeypair(t)
	env, err := New(priv, testSwarmID, "alice", "bob", model.MessageTypeMessage, "hi", nil, model.PriorityNormal)
	if err != nil {
		t.Fatal(err)
	}
	env.Type = model.MessageType("carrier_pigeon")
	if err := ValidateFormat(env); err == nil {
		t.Fatal("expected error for unrecognized message type")
	}
}

func TestValidateFormatRejectsOversizedContent(t *testing.T) {
	priv, _ := generateKeypair(t)
	env, err := New(priv, testSwarmID, "alice", "bob", model.MessageTypeMessage, "x", nil, model.PriorityNormal)
	if err != nil {
		t.Fatal(err)
	}
	env.Content = strings.Repeat("a", MaxContentBytes+1)
	if err := ValidateFormat(env); err == nil {
		t.Fatal("expected error for content exceeding MaxContentBytes")
	}
}

func TestValidateTimestampRejectsClockSkew(t *testing.T) {
	priv, _ := generateKeypair(t)
	env, err := New(priv, testSwarmID, "alice", "bob", model.MessageTypeMessage, "hi", nil, model.PriorityNormal)
	if err != nil {
		t.Fatal(err)
	}
	env.Timestamp = time.Now().Add(-2 * time.Hour).Unix()
	if err := ValidateTimestamp(env, time.Now()); err == nil {
		t.Fatal("expected clock skew error")
	}
}

func TestValidateTimestampAcceptsWithinSkew(t *testing.T) {
	priv, _ := generateKeypair(t)
	env, err := New(priv, testSwarmID, "alice", "bob", model.MessageTypeMessage, "hi", nil, model.PriorityNormal)
	if err != nil {
		t.Fatal(err)
	}
	if err := ValidateTimestamp(env, time.Now()); err != nil {
		t.Fatalf("expected timestamp within skew to be accepted, got %v", err)
	}
}

func TestVerifySignatureRejectsWrongKey(t *testing.T) {
	priv, _ := generateKeypair(t)
	_, otherPub := generateKeypair(t)
	env, err := New(priv, testSwarmID, "alice", "bob", model.MessageTypeMessage, "hi", nil, model.PriorityNormal)
	if err != nil {
		t.Fatal(err)
	}
	if err := VerifySignature(env, otherPub); err == nil {
		t.Fatal("expected signature verification against the wrong key to fail")
	}
}
