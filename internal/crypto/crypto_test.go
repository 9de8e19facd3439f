package crypto

import (
	"crypto/ed25519"
	"crypto/rand"
	"testing"
	"time"
)

func generateKeypair(t *testing.T) (ed25519.PrivateKey, ed25519.PublicKey) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	return priv, pub
}

func TestSignVerifyRoundTrip(t *testing.T) {
	priv, pub := generateKeypair(t)
	payload := CanonicalPayload("msg-1", 1700000000, "swarm-1", "bob", "text", "hello")

	sig := Sign(priv, payload)
	if err := VerifySignature(pub, payload, sig); err != nil {
		t.Fatalf("expected valid signature, got %v", err)
	}
}

func TestVerifySignatureRejectsTamperedPayload(t *testing.T) {
	priv, pub := generateKeypair(t)
	payload := CanonicalPayload("msg-1", 1700000000, "swarm-1", "bob", "text", "hello")
	sig := Sign(priv, payload)

	tampered := CanonicalPayload("msg-1", 1700000000, "swarm-1", "bob", "text", "goodbye")
	if err := VerifySignature(pub, tampered, sig); err == nil {
		t.Fatal("expected signature verification to fail on tampered payload")
	}
}

func TestCanonicalPayloadFieldBoundaries(t *testing.T) {
	// Moving a byte across a NUL-separated field boundary must produce a
	// different payload, not an ambiguous one.
	a := CanonicalPayload("m", 1, "sw", "r", "text", "ab")
	b := CanonicalPayload("m", 1, "sw", "r", "textab", "")
	if string(a) == string(b) {
		t.Fatal("expected distinct canonical payloads for different field splits")
	}
}

func TestValidatePublicKeyRejectsWrongLength(t *testing.T) {
	if _, err := ValidatePublicKey("dG9vc2hvcnQ="); err == nil {
		t.Fatal("expected error for undersized key")
	}
}

func TestValidatePublicKeyRoundTrip(t *testing.T) {
	_, pub := generateKeypair(t)
	encoded := EncodePublicKey(pub)
	decoded, err := ValidatePublicKey(encoded)
	if err != nil {
		t.Fatal(err)
	}
	if !decoded.Equal(pub) {
		t.Fatal("decoded key does not match original")
	}
}

func TestSealOpenRoundTrip(t *testing.T) {
	priv, pub := generateKeypair(t)
	pubB64 := EncodePublicKey(pub)

	sealed, err := SealContent("hello bob", pubB64)
	if err != nil {
		t.Fatal(err)
	}
	opened, err := OpenContent(sealed, priv)
	if err != nil {
		t.Fatal(err)
	}
	if opened != "hello bob" {
		t.Fatalf("expected %q, got %q", "hello bob", opened)
	}
}

func TestSealProducesDistinctCiphertexts(t *testing.T) {
	_, pub := generateKeypair(t)
	pubB64 := EncodePublicKey(pub)

	ct1, err := SealContent("same", pubB64)
	if err != nil {
		t.Fatal(err)
	}
	ct2, err := SealContent("same", pubB64)
	if err != nil {
		t.Fatal(err)
	}
	if ct1 == ct2 {
		t.Fatal("expected distinct ciphertexts for identical plaintext due to ephemeral key")
	}
}

func TestOpenContentRejectsWrongRecipient(t *testing.T) {
	_, bobPub := generateKeypair(t)
	evePriv, _ := generateKeypair(t)

	sealed, err := SealContent("for bob only", EncodePublicKey(bobPub))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := OpenContent(sealed, evePriv); err == nil {
		t.Fatal("expected decryption to fail for the wrong recipient")
	}
}

func TestOpenContentRejectsTruncatedWire(t *testing.T) {
	priv, _ := generateKeypair(t)
	if _, err := OpenContent("dG9vc2hvcnQ=", priv); err == nil {
		t.Fatal("expected error for undersized sealed content")
	}
}

func TestInviteTokenIssueAndVerify(t *testing.T) {
	priv, pub := generateKeypair(t)

	token, err := IssueInviteToken(priv, "tok-1", "swarm-1", "master-agent", "https://master.example:9443", 5, time.Hour)
	if err != nil {
		t.Fatal(err)
	}

	claims, err := VerifyInviteToken(token, pub, "swarm-1")
	if err != nil {
		t.Fatal(err)
	}
	if claims.Master != "master-agent" || claims.Endpoint != "https://master.example:9443" || claims.MaxUses != 5 {
		t.Fatalf("unexpected claims: %+v", claims)
	}
}

func TestInviteTokenRejectsWrongSwarm(t *testing.T) {
	priv, pub := generateKeypair(t)
	token, err := IssueInviteToken(priv, "tok-1", "swarm-1", "master-agent", "https://master.example", 1, time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := VerifyInviteToken(token, pub, "swarm-2"); err == nil {
		t.Fatal("expected swarm_id mismatch to be rejected")
	}
}

func TestInviteTokenRejectsExpired(t *testing.T) {
	priv, pub := generateKeypair(t)
	token, err := IssueInviteToken(priv, "tok-1", "swarm-1", "master-agent", "https://master.example", 1, -time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := VerifyInviteToken(token, pub, ""); err == nil {
		t.Fatal("expected expired token to be rejected")
	}
}

func TestInviteTokenRejectsWrongSigner(t *testing.T) {
	priv, _ := generateKeypair(t)
	_, otherPub := generateKeypair(t)
	token, err := IssueInviteToken(priv, "tok-1", "swarm-1", "master-agent", "https://master.example", 1, time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := VerifyInviteToken(token, otherPub, ""); err == nil {
		t.Fatal("expected signature verification against the wrong key to fail")
	}
}

func TestPeekInviteClaimsDoesNotRequireValidSignature(t *testing.T) {
	priv, _ := generateKeypair(t)
	token, err := IssueInviteToken(priv, "tok-1", "swarm-1", "master-agent", "https://master.example", 1, time.Hour)
	if err != nil {
		t.Fatal(err)
	}

	// A peek must succeed using only unverified claims, so the caller can
	// learn which endpoint to fetch the real verification key from.
	claims, err := PeekInviteClaims(token)
	if err != nil {
		t.Fatal(err)
	}
	if claims.Endpoint != "https://master.example" {
		t.Fatalf("unexpected endpoint: %q", claims.Endpoint)
	}
}

func TestPeekInviteClaimsRejectsMissingFields(t *testing.T) {
	priv, _ := generateKeypair(t)
	// IssueInviteToken signs whatever claims it is given, so empty swarm,
	// master and endpoint values yield a validly signed but claims-incomplete
	// token that exercises PeekInviteClaims's own validation.
	token, err := IssueInviteToken(priv, "tok-1", "", "", "", 0, time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := PeekInviteClaims(token); err == nil {
		t.Fatal("expected error for missing required claims")
	}
}
