package crypto

import (
	"strconv"
	"strings"
)

// CanonicalPayload builds the exact byte sequence an envelope's signature
// covers. Fields are NUL-separated and signed directly — unlike the
// reference client (which concatenates the fields with no separator and
// SHA-256-hashes before signing), this protocol signs the raw, unambiguous
// payload so that a field boundary can never be forged by moving a byte
// from one field into an adjacent one.
func CanonicalPayload(messageID string, timestamp int64, swarmID, recipient, msgType, content string) []byte {
	var b strings.Builder
	b.WriteString(messageID)
	b.WriteByte(0)
	b.WriteString(strconv.FormatInt(timestamp, 10))
	b.WriteByte(0)
	b.WriteString(swarmID)
	b.WriteByte(0)
	b.WriteString(recipient)
	b.WriteByte(0)
	b.WriteString(msgType)
	b.WriteByte(0)
	b.WriteString(content)
	return []byte(b.String())
}

// JoinRequestPayload builds the canonical bytes a join request's
// self-attestation signature covers (§4.5/§4.7). The requester isn't yet a
// swarm member, so this proves possession of the private key behind the
// public key it's asserting, over exactly the fields the master will act on.
func JoinRequestPayload(agentID, endpoint, publicKeyB64, inviteToken string, timestamp int64) []byte {
	var b strings.Builder
	b.WriteString(agentID)
	b.WriteByte(0)
	b.WriteString(endpoint)
	b.WriteByte(0)
	b.WriteString(publicKeyB64)
	b.WriteByte(0)
	b.WriteString(inviteToken)
	b.WriteByte(0)
	b.WriteString(strconv.FormatInt(timestamp, 10))
	return []byte(b.String())
}
