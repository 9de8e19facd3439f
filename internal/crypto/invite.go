package crypto

import (
	"crypto/ed25519"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// InviteClaims are the validated claims of an invite token, mirroring the
// reference implementation's required fields (swarm_id, master, endpoint,
// iat) plus the optional expiry and use-count cap this protocol adds.
type InviteClaims struct {
	SwarmID  string `json:"swarm_id"`
	Master   string `json:"master"`
	Endpoint string `json:"endpoint"`
	MaxUses  int    `json:"max_uses,omitempty"`
	jwt.RegisteredClaims
}

var (
	ErrTokenSignature = errors.New("token signature verification failed")
	ErrTokenExpired   = errors.New("token has expired")
	ErrTokenPayload   = errors.New("token payload is malformed or missing required claims")
	ErrTokenSwarmID   = errors.New("token swarm_id does not match expected swarm")
)

// IssueInviteToken signs an EdDSA invite JWT for swarmID on behalf of
// masterID, reachable at endpoint, usable up to maxUses times before ttl
// elapses.
func IssueInviteToken(priv ed25519.PrivateKey, tokenID, swarmID, masterID, endpoint string, maxUses int, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := InviteClaims{
		SwarmID:  swarmID,
		Master:   masterID,
		Endpoint: endpoint,
		MaxUses:  maxUses,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        tokenID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims)
	return token.SignedString(priv)
}

// PeekInviteClaims reads an invite token's claims without verifying its
// signature, used only to learn which master/endpoint to fetch a public key
// from before the token can be verified for real.
func PeekInviteClaims(tokenString string) (*InviteClaims, error) {
	claims := &InviteClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(tokenString, claims); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTokenPayload, err)
	}
	if claims.SwarmID == "" || claims.Master == "" || claims.Endpoint == "" {
		return nil, fmt.Errorf("%w: missing required claims", ErrTokenPayload)
	}
	return claims, nil
}

// VerifyInviteToken validates an invite JWT's EdDSA signature against the
// swarm master's public key and returns its claims. When expectedSwarmID is
// non-empty, the token's swarm_id must match it.
func VerifyInviteToken(tokenString string, masterPub ed25519.PublicKey, expectedSwarmID string) (*InviteClaims, error) {
	claims := &InviteClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodEd25519); !ok {
			return nil, fmt.Errorf("%w: unexpected signing method %v", ErrTokenPayload, t.Header["alg"])
		}
		return masterPub, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		if errors.Is(err, jwt.ErrTokenSignatureInvalid) {
			return nil, ErrTokenSignature
		}
		return nil, fmt.Errorf("%w: %v", ErrTokenPayload, err)
	}
	if !token.Valid {
		return nil, ErrTokenPayload
	}

	if claims.SwarmID == "" || claims.Master == "" || claims.Endpoint == "" || claims.IssuedAt == nil {
		return nil, fmt.Errorf("%w: missing required claims", ErrTokenPayload)
	}
	if expectedSwarmID != "" && claims.SwarmID != expectedSwarmID {
		return nil, fmt.Errorf("%w: token is for swarm %q", ErrTokenSwarmID, claims.SwarmID)
	}

	return claims, nil
}
