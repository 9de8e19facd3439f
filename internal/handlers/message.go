package handlers

import (
	"net/http"
	"time"

	"github.com/finml-sage/agent-swarm-protocol/internal/api/middleware"
	"github.com/finml-sage/agent-swarm-protocol/internal/apierr"
	"github.com/finml-sage/agent-swarm-protocol/internal/metrics"
	"github.com/finml-sage/agent-swarm-protocol/internal/model"
	"github.com/finml-sage/agent-swarm-protocol/internal/waketrigger"
)

type receiveAck struct {
	MessageID string `json:"message_id"`
	Status    string `json:"status"` // "queued" or "duplicate"
}

// ReceiveMessage is the inbound envelope-delivery endpoint (§4.9). By the
// time it runs, EnvelopeAuth has already verified the signature and put the
// envelope on the request context; this handler runs the rest of the
// receive pipeline: mute filtering, idempotent dedup, and the wake decision.
func (h *Handler) ReceiveMessage(w http.ResponseWriter, r *http.Request) {
	env, ok := middleware.EnvelopeFromContext(r.Context())
	if !ok {
		apierr.Write(w, apierr.New(apierr.InvalidFormat, "no verified envelope on request"))
		return
	}
	ctx, cancel := requestContext(r, 5*time.Second)
	defer cancel()

	if member, err := h.store.GetMember(ctx, env.SwarmID, env.Sender); err != nil || member.Status != model.MemberStatusActive {
		apierr.Write(w, apierr.New(apierr.NotAuthorized, "sender is not a current member of this swarm"))
		return
	}

	senderMuted, err := h.store.IsMuted(ctx, env.SwarmID, env.Sender)
	if err != nil {
		apierr.Write(w, apierr.New(apierr.InternalError, "checking mute state"))
		return
	}
	swarmMuted, err := h.store.IsMuted(ctx, env.SwarmID, "")
	if err != nil {
		apierr.Write(w, apierr.New(apierr.InternalError, "checking mute state"))
		return
	}

	// Mute filter (§4.7 step 7): a muted sender or swarm is acknowledged but
	// never reaches the inbox or the wake trigger.
	if senderMuted || swarmMuted {
		h.JSON(w, http.StatusOK, receiveAck{MessageID: env.MessageID, Status: "queued"})
		return
	}

	inserted, err := h.store.InsertInbox(ctx, model.InboxEntry{
		MessageID:  env.MessageID,
		SwarmID:    env.SwarmID,
		Sender:     env.Sender,
		Recipient:  env.Recipient,
		Type:       env.Type,
		Content:    env.Content,
		Sealed:     env.Sealed,
		Status:     model.InboxStatusUnread,
		ReceivedAt: time.Now(),
	})
	if err != nil {
		apierr.Write(w, apierr.New(apierr.InternalError, "storing message"))
		return
	}
	if !inserted {
		metrics.MessagesDuplicate.Inc()
		h.JSON(w, http.StatusOK, receiveAck{MessageID: env.MessageID, Status: "duplicate"})
		return
	}
	metrics.MessagesReceived.WithLabelValues(string(env.Type)).Inc()

	msgCtx := waketrigger.MessageContext{
		IsSenderMuted: senderMuted,
		IsSwarmMuted:  swarmMuted,
		CurrentHour:   time.Now().Hour(),
		SelfAgentID:   h.selfID,
	}
	// h.wake.Process is the only invocation path: on DecisionWake it POSTs to
	// /api/wake, whose handler owns the single-flight session check and the
	// sole call into h.invoker. This handler never invokes directly (§8
	// property 6) — that would double-invoke and bypass the dedup.
	decision, wakeErr := h.wake.Process(ctx, h.prefs, env, msgCtx)
	metrics.WakesTriggered.WithLabelValues(string(decision)).Inc()
	if wakeErr != nil {
		h.logger.Warn().Err(wakeErr).Str("message_id", env.MessageID).Msg("wake trigger delivery failed")
	}

	if decision != waketrigger.DecisionSkip {
		_ = h.store.SetInboxStatus(ctx, env.MessageID, model.InboxStatusUnread)
	}

	h.JSON(w, http.StatusAccepted, receiveAck{
		MessageID: env.MessageID,
		Status:    "queued",
	})
}
