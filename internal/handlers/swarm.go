package handlers

import (
	"crypto/ed25519"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/finml-sage/agent-swarm-protocol/internal/apierr"
	"github.com/finml-sage/agent-swarm-protocol/internal/crypto"
	"github.com/finml-sage/agent-swarm-protocol/internal/envelope"
	"github.com/finml-sage/agent-swarm-protocol/internal/metrics"
	"github.com/finml-sage/agent-swarm-protocol/internal/model"
	"github.com/finml-sage/agent-swarm-protocol/internal/notifications"
)

// writeErr translates a Service error into the wire error envelope,
// defaulting to INTERNAL_ERROR for anything that isn't already a typed
// *apierr.Error.
func writeErr(w http.ResponseWriter, err error) {
	if apiErr, ok := err.(*apierr.Error); ok {
		apierr.Write(w, apiErr)
		return
	}
	apierr.Write(w, apierr.New(apierr.InternalError, err.Error()))
}

func decodeJSON(r *http.Request, v interface{}) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(v)
}

func (h *Handler) selfPublicKey() string {
	return crypto.EncodePublicKey(h.selfPriv.Public().(ed25519.PublicKey))
}

type createSwarmRequest struct {
	Name     string              `json:"name"`
	Settings model.SwarmSettings `json:"settings"`
}

// CreateSwarm handles POST /swarm/create, registering a new swarm with the
// local agent as master.
func (h *Handler) CreateSwarm(w http.ResponseWriter, r *http.Request) {
	var req createSwarmRequest
	if err := decodeJSON(r, &req); err != nil || req.Name == "" {
		apierr.Write(w, apierr.New(apierr.InvalidFormat, "name is required"))
		return
	}

	ctx, cancel := requestContext(r, 5*time.Second)
	defer cancel()

	swarm, err := h.membership.CreateSwarm(ctx, req.Name, h.selfID, h.selfEndpoint, h.selfPublicKey(), req.Settings)
	if err != nil {
		writeErr(w, err)
		return
	}
	h.JSON(w, http.StatusCreated, swarm)
}

type inviteRequest struct {
	MaxUses int           `json:"max_uses"`
	TTL     time.Duration `json:"ttl_seconds"`
}

type inviteResponse struct {
	Token string `json:"invite_token"`
}

// IssueInvite handles POST /swarm/{swarmID}/invite.
func (h *Handler) IssueInvite(w http.ResponseWriter, r *http.Request) {
	swarmID := chi.URLParam(r, "swarmID")
	var req inviteRequest
	if err := decodeJSON(r, &req); err != nil {
		apierr.Write(w, apierr.New(apierr.InvalidFormat, "malformed request body"))
		return
	}
	ttl := req.TTL * time.Second
	if ttl <= 0 {
		ttl = 7 * 24 * time.Hour
	}

	ctx, cancel := requestContext(r, 5*time.Second)
	defer cancel()

	token, err := h.membership.IssueInvite(ctx, h.selfPriv, h.selfID, swarmID, req.MaxUses, ttl)
	if err != nil {
		writeErr(w, err)
		return
	}
	h.JSON(w, http.StatusCreated, inviteResponse{Token: token})
}

// Join handles POST /swarm/join: the **master's** receive-side endpoint
// (§4.5/§2). A remote agent POSTs a self-attested, signed model.JoinRequest;
// this node verifies the requester's proof-of-possession signature against
// the public key it asserts, verifies the embedded invite token against
// this node's own local key (only this node's master key could have signed
// a token redeemable here), and mutates this node's own authoritative
// membership table. This node is never the joiner.
func (h *Handler) Join(w http.ResponseWriter, r *http.Request) {
	var req model.JoinRequest
	if err := decodeJSON(r, &req); err != nil || req.InviteToken == "" || req.AgentID == "" || req.Endpoint == "" || req.PublicKey == "" {
		apierr.Write(w, apierr.New(apierr.InvalidFormat, "invite_token, agent_id, endpoint, and public_key are required"))
		return
	}

	ctx, cancel := requestContext(r, 10*time.Second)
	defer cancel()

	requesterPub, err := crypto.ValidatePublicKey(req.PublicKey)
	if err != nil {
		apierr.Write(w, apierr.New(apierr.InvalidFormat, "public_key is malformed"))
		return
	}
	if skew := time.Since(time.Unix(req.Timestamp, 0)); skew > envelope.MaxClockSkew || skew < -envelope.MaxClockSkew {
		apierr.Write(w, apierr.New(apierr.InvalidFormat, "join request timestamp is outside the allowed clock skew"))
		return
	}
	payload := crypto.JoinRequestPayload(req.AgentID, req.Endpoint, req.PublicKey, req.InviteToken, req.Timestamp)
	if err := crypto.VerifySignature(requesterPub, payload, req.Signature); err != nil {
		apierr.Write(w, apierr.New(apierr.InvalidSignature, "join request signature does not match the asserted public key"))
		return
	}

	swarm, alreadyMember, err := h.membership.Join(ctx, req.InviteToken, h.selfPriv.Public().(ed25519.PublicKey), req.AgentID, req.Endpoint, req.PublicKey)
	if err != nil {
		outcome := "error"
		if apiErr, ok := err.(*apierr.Error); ok {
			outcome = string(apiErr.HTTPCode)
		}
		metrics.JoinsProcessed.WithLabelValues(outcome).Inc()
		writeErr(w, err)
		return
	}

	if !alreadyMember {
		metrics.JoinsProcessed.WithLabelValues("joined").Inc()
		if members, err := h.store.ListMembers(ctx, swarm.SwarmID); err == nil {
			h.notifier.Broadcast(ctx, swarm.SwarmID, notifications.EventMemberJoined, req.AgentID, members)
		}
	} else {
		metrics.JoinsProcessed.WithLabelValues("rejoined").Inc()
	}
	h.JSON(w, http.StatusOK, swarm)
}

// ApproveMember handles POST /swarm/{swarmID}/approve/{agentID}.
func (h *Handler) ApproveMember(w http.ResponseWriter, r *http.Request) {
	swarmID := chi.URLParam(r, "swarmID")
	agentID := chi.URLParam(r, "agentID")

	ctx, cancel := requestContext(r, 5*time.Second)
	defer cancel()

	if err := h.membership.ApproveMember(ctx, h.selfID, swarmID, agentID); err != nil {
		writeErr(w, err)
		return
	}

	if member, err := h.store.GetMember(ctx, swarmID, agentID); err == nil {
		h.notifier.Notify(ctx, swarmID, notifications.EventMemberApproved, agentID, *member)
	}
	h.JSON(w, http.StatusOK, map[string]string{"status": "approved"})
}

// Leave handles POST /swarm/{swarmID}/leave.
func (h *Handler) Leave(w http.ResponseWriter, r *http.Request) {
	swarmID := chi.URLParam(r, "swarmID")

	ctx, cancel := requestContext(r, 5*time.Second)
	defer cancel()

	if err := h.membership.Leave(ctx, swarmID, h.selfID); err != nil {
		writeErr(w, err)
		return
	}
	if members, err := h.store.ListMembers(ctx, swarmID); err == nil {
		h.notifier.Broadcast(ctx, swarmID, notifications.EventMemberLeft, h.selfID, members)
	}
	h.JSON(w, http.StatusOK, map[string]string{"status": "left"})
}

// Kick handles POST /swarm/{swarmID}/kick/{agentID}.
func (h *Handler) Kick(w http.ResponseWriter, r *http.Request) {
	swarmID := chi.URLParam(r, "swarmID")
	agentID := chi.URLParam(r, "agentID")

	ctx, cancel := requestContext(r, 5*time.Second)
	defer cancel()

	member, memberErr := h.store.GetMember(ctx, swarmID, agentID)
	if err := h.membership.Kick(ctx, h.selfID, swarmID, agentID); err != nil {
		writeErr(w, err)
		return
	}
	metrics.KicksProcessed.Inc()
	if memberErr == nil {
		h.notifier.Notify(ctx, swarmID, notifications.EventKicked, agentID, *member)
	}
	if members, err := h.store.ListMembers(ctx, swarmID); err == nil {
		h.notifier.Broadcast(ctx, swarmID, notifications.EventMemberKicked, agentID, members)
	}
	h.JSON(w, http.StatusOK, map[string]string{"status": "kicked"})
}

// Transfer handles POST /swarm/{swarmID}/transfer/{agentID}.
func (h *Handler) Transfer(w http.ResponseWriter, r *http.Request) {
	swarmID := chi.URLParam(r, "swarmID")
	newMasterID := chi.URLParam(r, "agentID")

	ctx, cancel := requestContext(r, 5*time.Second)
	defer cancel()

	if err := h.membership.Transfer(ctx, h.selfID, swarmID, newMasterID); err != nil {
		writeErr(w, err)
		return
	}
	if members, err := h.store.ListMembers(ctx, swarmID); err == nil {
		h.notifier.Broadcast(ctx, swarmID, notifications.EventMasterChanged, newMasterID, members)
	}
	h.JSON(w, http.StatusOK, map[string]string{"status": "transferred", "new_master": newMasterID})
}

// Mute handles POST /swarm/{swarmID}/mute/{agentID}; agentID "-" mutes the
// entire swarm rather than a single sender.
func (h *Handler) Mute(w http.ResponseWriter, r *http.Request) {
	swarmID := chi.URLParam(r, "swarmID")
	agentID := chi.URLParam(r, "agentID")
	if agentID == "-" {
		agentID = ""
	}

	ctx, cancel := requestContext(r, 5*time.Second)
	defer cancel()

	if err := h.membership.Mute(ctx, swarmID, agentID); err != nil {
		writeErr(w, err)
		return
	}
	h.JSON(w, http.StatusOK, map[string]string{"status": "muted"})
}

// Unmute handles POST /swarm/{swarmID}/unmute/{agentID}.
func (h *Handler) Unmute(w http.ResponseWriter, r *http.Request) {
	swarmID := chi.URLParam(r, "swarmID")
	agentID := chi.URLParam(r, "agentID")
	if agentID == "-" {
		agentID = ""
	}

	ctx, cancel := requestContext(r, 5*time.Second)
	defer cancel()

	if err := h.membership.Unmute(ctx, swarmID, agentID); err != nil {
		writeErr(w, err)
		return
	}
	h.JSON(w, http.StatusOK, map[string]string{"status": "unmuted"})
}
