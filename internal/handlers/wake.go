package handlers

import (
	"net/http"
	"time"

	"github.com/finml-sage/agent-swarm-protocol/internal/apierr"
	"github.com/finml-sage/agent-swarm-protocol/internal/invoker"
)

type wakeCallbackRequest struct {
	MessageID         string `json:"message_id"`
	SwarmID           string `json:"swarm_id"`
	SenderID          string `json:"sender_id"`
	NotificationLevel string `json:"notification_level"`
}

// Wake handles POST /api/wake, the endpoint waketrigger.Trigger itself calls
// on a WAKE decision. It drives the local session state machine — resuming
// a recently-suspended session or starting a fresh one — and hands the
// signal to the configured Invoker for actual delivery to the agent runtime.
func (h *Handler) Wake(w http.ResponseWriter, r *http.Request) {
	var req wakeCallbackRequest
	if err := decodeJSON(r, &req); err != nil || req.MessageID == "" || req.SwarmID == "" {
		apierr.Write(w, apierr.New(apierr.InvalidFormat, "malformed wake payload"))
		return
	}

	ctx, cancel := requestContext(r, 5*time.Second)
	defer cancel()

	// Single-flight (§4.9): an already-active session means the agent is
	// already running and will see this message on its own; don't invoke
	// a second time on top of it.
	if h.sessions.IsActive() {
		h.JSON(w, http.StatusOK, map[string]string{"status": "already_active"})
		return
	}

	if h.sessions.ShouldResume() {
		_ = h.sessions.UpdateActivity("")
	} else {
		_ = h.sessions.StartSession(req.SwarmID)
	}

	if h.invoker != nil {
		if err := h.invoker.Invoke(ctx, invoker.WakeSignal{
			MessageID:         req.MessageID,
			SwarmID:           req.SwarmID,
			SenderID:          req.SenderID,
			NotificationLevel: req.NotificationLevel,
		}); err != nil {
			apierr.Write(w, apierr.New(apierr.InternalError, "invoker delivery failed"))
			return
		}
	}

	h.JSON(w, http.StatusOK, map[string]string{"status": "invoked"})
}
