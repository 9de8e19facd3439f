// Package membership implements the swarm lifecycle state machine: create,
// invite, join, leave, kick, and master transfer, grounded on the
// reference implementation's validate_and_join flow but exposed as an
// idiomatic Go service over internal/store.
package membership

import (
	"context"
	"crypto/ed25519"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/finml-sage/agent-swarm-protocol/internal/apierr"
	"github.com/finml-sage/agent-swarm-protocol/internal/crypto"
	"github.com/finml-sage/agent-swarm-protocol/internal/model"
	"github.com/finml-sage/agent-swarm-protocol/internal/store"
)

// Service implements swarm lifecycle operations over a durable Store.
type Service struct {
	store          store.Store
	pubKeyCacheTTL time.Duration
}

// New builds a membership Service.
func New(st store.Store, pubKeyCacheTTL time.Duration) *Service {
	return &Service{store: st, pubKeyCacheTTL: pubKeyCacheTTL}
}

// CreateSwarm registers a new swarm with the local agent as master.
func (s *Service) CreateSwarm(ctx context.Context, name, masterID, masterEndpoint, masterPubKey string, settings model.SwarmSettings) (*model.Swarm, error) {
	swarm := model.Swarm{
		SwarmID:   uuid.NewString(),
		Name:      name,
		MasterID:  masterID,
		Settings:  settings,
		CreatedAt: time.Now(),
	}
	if err := s.store.CreateSwarm(ctx, swarm); err != nil {
		return nil, fmt.Errorf("creating swarm: %w", err)
	}
	member := model.Member{
		SwarmID:   swarm.SwarmID,
		AgentID:   masterID,
		Endpoint:  masterEndpoint,
		PublicKey: masterPubKey,
		Status:    model.MemberStatusActive,
		JoinedAt:  swarm.CreatedAt,
	}
	if err := s.store.AddMember(ctx, member); err != nil {
		return nil, fmt.Errorf("registering master as member: %w", err)
	}
	return &swarm, nil
}

// IssueInvite mints an invite JWT for swarmID, recording it so it can later
// be revoked or use-count-exhausted. Only the swarm's master may issue
// invites, and only when the swarm has invites enabled.
func (s *Service) IssueInvite(ctx context.Context, priv ed25519.PrivateKey, requesterID, swarmID string, maxUses int, ttl time.Duration) (string, error) {
	swarm, err := s.store.GetSwarm(ctx, swarmID)
	if err != nil {
		return "", apierr.New(apierr.SwarmNotFound, "swarm not found")
	}
	if swarm.MasterID != requesterID {
		return "", apierr.New(apierr.NotMaster, "only the swarm master may issue invites")
	}
	if !swarm.Settings.InvitesEnabled {
		return "", apierr.New(apierr.InvitesDisabled, "this swarm has invites disabled")
	}

	tokenID := uuid.NewString()
	master, err := s.store.GetMember(ctx, swarmID, requesterID)
	if err != nil {
		return "", fmt.Errorf("loading master member record: %w", err)
	}

	tok, err := crypto.IssueInviteToken(priv, tokenID, swarmID, requesterID, master.Endpoint, maxUses, ttl)
	if err != nil {
		return "", fmt.Errorf("signing invite token: %w", err)
	}

	if err := s.store.RecordIssuedToken(ctx, model.IssuedToken{
		TokenID:   tokenID,
		SwarmID:   swarmID,
		MaxUses:   maxUses,
		ExpiresAt: time.Now().Add(ttl),
		CreatedAt: time.Now(),
	}); err != nil {
		return "", fmt.Errorf("recording issued token: %w", err)
	}

	return tok, nil
}

// BuildJoinRequest self-signs a JoinRequest on behalf of a prospective
// member: it proves possession of priv (whose public key it asserts) over
// the exact fields the master will act on. This is the joining side's half
// of §4.5 — the master never sees priv, only the resulting request.
func BuildJoinRequest(priv ed25519.PrivateKey, inviteToken, agentID, agentEndpoint, agentPubKey string) model.JoinRequest {
	req := model.JoinRequest{
		InviteToken: inviteToken,
		AgentID:     agentID,
		Endpoint:    agentEndpoint,
		PublicKey:   agentPubKey,
		Timestamp:   time.Now().Unix(),
	}
	payload := crypto.JoinRequestPayload(req.AgentID, req.Endpoint, req.PublicKey, req.InviteToken, req.Timestamp)
	req.Signature = crypto.Sign(priv, payload)
	return req
}

// Join is the master-side receiver of a join request (§4.5): it verifies
// the invite token against this node's own key (only the local master could
// have signed a token being redeemed here), then mutates the local
// authoritative swarm. It mirrors the reference implementation's
// validate_and_join order: token verify -> swarm lookup ->
// duplicate-membership check -> approval-required check -> member
// registration. The second return value reports whether the join was an
// idempotent no-op against an already-active membership, so callers can
// suppress a redundant member_joined broadcast.
func (s *Service) Join(ctx context.Context, inviteToken string, masterPub ed25519.PublicKey, agentID, agentEndpoint, agentPubKey string) (*model.Swarm, bool, error) {
	claims, err := crypto.VerifyInviteToken(inviteToken, masterPub, "")
	if err != nil {
		return nil, false, translateTokenError(err)
	}

	tok, err := s.store.GetIssuedToken(ctx, claims.ID)
	if err == nil {
		if tok.Revoked {
			return nil, false, apierr.New(apierr.TokenRevoked, "invite token has been revoked")
		}
		if tok.MaxUses > 0 && tok.UseCount >= tok.MaxUses {
			return nil, false, apierr.New(apierr.TokenExhausted, "invite token has reached its use limit")
		}
	}

	swarm, err := s.store.GetSwarm(ctx, claims.SwarmID)
	if err != nil {
		return nil, false, apierr.New(apierr.SwarmNotFound, fmt.Sprintf("swarm %q not found", claims.SwarmID))
	}

	existing, err := s.store.GetMember(ctx, claims.SwarmID, agentID)
	if err == nil && existing.Status == model.MemberStatusActive {
		// Idempotent re-join: already an active member, return current state.
		return swarm, true, nil
	}

	if swarm.Settings.RequireApproval {
		if err != nil || existing.Status != model.MemberStatusPending {
			if addErr := s.store.AddMember(ctx, model.Member{
				SwarmID: claims.SwarmID, AgentID: agentID, Endpoint: agentEndpoint,
				PublicKey: agentPubKey, Status: model.MemberStatusPending, JoinedAt: time.Now(),
			}); addErr != nil {
				return nil, false, fmt.Errorf("recording pending member: %w", addErr)
			}
		}
		return nil, false, apierr.New(apierr.ApprovalRequired, "swarm requires master approval to join")
	}

	if err := s.store.AddMember(ctx, model.Member{
		SwarmID: claims.SwarmID, AgentID: agentID, Endpoint: agentEndpoint,
		PublicKey: agentPubKey, Status: model.MemberStatusActive, JoinedAt: time.Now(),
	}); err != nil {
		return nil, false, fmt.Errorf("registering member: %w", err)
	}

	if tok != nil {
		_ = s.store.IncrementTokenUse(ctx, claims.ID)
	}

	joined, err := s.store.GetSwarm(ctx, claims.SwarmID)
	return joined, false, err
}

// ApproveMember activates a pending member; only the swarm's master may
// approve.
func (s *Service) ApproveMember(ctx context.Context, requesterID, swarmID, agentID string) error {
	swarm, err := s.store.GetSwarm(ctx, swarmID)
	if err != nil {
		return apierr.New(apierr.SwarmNotFound, "swarm not found")
	}
	if swarm.MasterID != requesterID {
		return apierr.New(apierr.NotMaster, "only the swarm master may approve members")
	}
	if err := s.store.SetMemberStatus(ctx, swarmID, agentID, model.MemberStatusActive); err != nil {
		return apierr.New(apierr.MemberNotFound, "pending member not found")
	}
	return nil
}

// Leave marks agentID as having left swarmID. A departing master must
// transfer mastership first (TransferDeclined otherwise).
func (s *Service) Leave(ctx context.Context, swarmID, agentID string) error {
	swarm, err := s.store.GetSwarm(ctx, swarmID)
	if err != nil {
		return apierr.New(apierr.SwarmNotFound, "swarm not found")
	}
	if swarm.MasterID == agentID {
		return apierr.New(apierr.TransferDeclined, "master must transfer mastership before leaving")
	}
	if err := s.store.SetMemberStatus(ctx, swarmID, agentID, model.MemberStatusLeft); err != nil {
		return apierr.New(apierr.MemberNotFound, "member not found")
	}
	return nil
}

// Kick removes a member from the swarm; only the master may kick, and the
// master cannot kick themself.
func (s *Service) Kick(ctx context.Context, requesterID, swarmID, targetID string) error {
	swarm, err := s.store.GetSwarm(ctx, swarmID)
	if err != nil {
		return apierr.New(apierr.SwarmNotFound, "swarm not found")
	}
	if swarm.MasterID != requesterID {
		return apierr.New(apierr.NotMaster, "only the swarm master may kick members")
	}
	if targetID == requesterID {
		return apierr.New(apierr.NotAuthorized, "master cannot kick themself; use Transfer then Leave")
	}
	if err := s.store.SetMemberStatus(ctx, swarmID, targetID, model.MemberStatusKicked); err != nil {
		return apierr.New(apierr.MemberNotFound, "member not found")
	}
	return nil
}

// Transfer hands mastership of swarmID to newMasterID, an existing active
// member. Only the current master may transfer.
func (s *Service) Transfer(ctx context.Context, requesterID, swarmID, newMasterID string) error {
	swarm, err := s.store.GetSwarm(ctx, swarmID)
	if err != nil {
		return apierr.New(apierr.SwarmNotFound, "swarm not found")
	}
	if swarm.MasterID != requesterID {
		return apierr.New(apierr.NotMaster, "only the current master may transfer mastership")
	}
	newMaster, err := s.store.GetMember(ctx, swarmID, newMasterID)
	if err != nil || newMaster.Status != model.MemberStatusActive {
		return apierr.New(apierr.MemberNotFound, "new master must be an active member")
	}
	return s.store.UpdateSwarmMaster(ctx, swarmID, newMasterID)
}

// Mute silences agentID (or, when agentID is empty, the whole swarm) for
// the local node's own notification purposes.
func (s *Service) Mute(ctx context.Context, swarmID, agentID string) error {
	return s.store.AddMute(ctx, model.Mute{SwarmID: swarmID, AgentID: agentID, CreatedAt: time.Now()})
}

// Unmute reverses a prior Mute.
func (s *Service) Unmute(ctx context.Context, swarmID, agentID string) error {
	return s.store.RemoveMute(ctx, swarmID, agentID)
}

// ResolvePublicKey implements middleware.KeyResolver: it looks up the
// sender's key from the swarm's member table, falling back to the public
// key cache (for senders outside the swarm, e.g. an inviter's public key
// embedded pre-join).
func (s *Service) ResolvePublicKey(ctx context.Context, swarmID, agentID string) (ed25519.PublicKey, error) {
	if member, err := s.store.GetMember(ctx, swarmID, agentID); err == nil {
		return crypto.ValidatePublicKey(member.PublicKey)
	}
	cached, err := s.store.GetPublicKeyCache(ctx, agentID)
	if err != nil {
		return nil, err
	}
	if time.Now().After(cached.ExpiresAt) {
		return nil, store.ErrNotFound
	}
	return crypto.ValidatePublicKey(cached.PublicKey)
}

func translateTokenError(err error) error {
	switch err {
	case crypto.ErrTokenExpired:
		return apierr.New(apierr.TokenExpired, "invite token has expired")
	case crypto.ErrTokenSignature:
		return apierr.New(apierr.InvalidToken, "invite token signature is invalid")
	default:
		return apierr.New(apierr.InvalidToken, err.Error())
	}
}
