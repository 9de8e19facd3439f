package middleware

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/finml-sage/agent-swarm-protocol/internal/apierr"
	"github.com/finml-sage/agent-swarm-protocol/internal/envelope"
	"github.com/finml-sage/agent-swarm-protocol/internal/model"
	"github.com/finml-sage/agent-swarm-protocol/internal/store"
)

type contextKey string

const EnvelopeContextKey contextKey = "envelope"

// KeyResolver looks up the current verification key for agentID, consulting
// the membership store and, on a miss, the unexpired public-key cache entry.
// It does not fetch or refresh a key from the remote agent.
type KeyResolver interface {
	ResolvePublicKey(ctx context.Context, swarmID, agentID string) (ed25519.PublicKey, error)
}

// EnvelopeAuth verifies the Ed25519 signature on a posted envelope body
// before invoking next. Unlike the reference chat service's nonce-based
// header scheme, the protocol signs the envelope itself, so this middleware
// decodes the body once, verifies it, and republishes it on the request
// context for the handler — no second JSON decode, no nonce store.
type EnvelopeAuth struct {
	keys  KeyResolver
	store store.Store
}

// NewEnvelopeAuth builds an EnvelopeAuth middleware.
func NewEnvelopeAuth(keys KeyResolver, st store.Store) *EnvelopeAuth {
	return &EnvelopeAuth{keys: keys, store: st}
}

// RequireValidEnvelope parses the JSON body as a model.Envelope, checks its
// format and timestamp, resolves the sender's key, and verifies the
// signature — the "signature verify" stage of the receive pipeline (§4.9).
func (m *EnvelopeAuth) RequireValidEnvelope(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Agent-ID") == "" || r.Header.Get("X-Swarm-Protocol") == "" {
			apierr.Write(w, apierr.New(apierr.InvalidFormat, "X-Agent-ID and X-Swarm-Protocol headers are required"))
			return
		}

		body, err := io.ReadAll(r.Body)
		if err != nil {
			apierr.Write(w, apierr.New(apierr.InvalidFormat, "failed to read request body"))
			return
		}
		r.Body = io.NopCloser(bytes.NewBuffer(body))

		var env model.Envelope
		if err := json.Unmarshal(body, &env); err != nil {
			apierr.Write(w, apierr.New(apierr.InvalidFormat, "malformed envelope JSON"))
			return
		}

		if err := envelope.ValidateFormat(env); err != nil {
			apierr.Write(w, apierr.New(apierr.InvalidFormat, err.Error()))
			return
		}
		if err := envelope.ValidateTimestamp(env, time.Now()); err != nil {
			apierr.Write(w, apierr.New(apierr.InvalidFormat, err.Error()))
			return
		}

		pubkey, err := m.keys.ResolvePublicKey(r.Context(), env.SwarmID, env.Sender)
		if err != nil {
			apierr.Write(w, apierr.New(apierr.NotMember, "unknown sender for this swarm"))
			return
		}

		if err := envelope.VerifySignature(env, pubkey); err != nil {
			apierr.Write(w, apierr.New(apierr.InvalidSignature, "envelope signature verification failed"))
			return
		}

		ctx := context.WithValue(r.Context(), EnvelopeContextKey, env)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// EnvelopeFromContext retrieves the verified envelope RequireValidEnvelope
// attached to the request context.
func EnvelopeFromContext(ctx context.Context) (model.Envelope, bool) {
	env, ok := ctx.Value(EnvelopeContextKey).(model.Envelope)
	return env, ok
}
