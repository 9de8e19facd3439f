package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/finml-sage/agent-swarm-protocol/internal/apierr"
	"github.com/finml-sage/agent-swarm-protocol/internal/store"
)

type swarmInfoResponse struct {
	AgentID  string `json:"agent_id"`
	Endpoint string `json:"endpoint"`
	PublicKey string `json:"public_key"`
}

// SwarmInfo handles GET /swarm/info/{agentID}. Each node represents exactly
// one agent identity, so the path parameter is not read; the response
// always describes this node's own identity, the same contract internal/transport.FetchPublicKey expects.
func (h *Handler) SwarmInfo(w http.ResponseWriter, r *http.Request) {
	h.JSON(w, http.StatusOK, swarmInfoResponse{
		AgentID:   h.selfID,
		Endpoint:  h.selfEndpoint,
		PublicKey: h.selfPublicKey(),
	})
}

// GetSwarm handles GET /swarm/{swarmID}, returning the swarm's metadata and
// current member roster.
func (h *Handler) GetSwarm(w http.ResponseWriter, r *http.Request) {
	swarmID := chi.URLParam(r, "swarmID")

	ctx, cancel := requestContext(r, 5*time.Second)
	defer cancel()

	swarm, err := h.store.GetSwarm(ctx, swarmID)
	if err != nil {
		apierr.Write(w, apierr.New(apierr.SwarmNotFound, "swarm not found"))
		return
	}
	members, err := h.store.ListMembers(ctx, swarmID)
	if err != nil {
		apierr.Write(w, apierr.New(apierr.InternalError, "listing members"))
		return
	}
	h.JSON(w, http.StatusOK, map[string]interface{}{
		"swarm":   swarm,
		"members": members,
	})
}

// ExportState handles GET /swarm/export, returning the node's full
// schema-versioned durable-store snapshot (§6).
func (h *Handler) ExportState(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := requestContext(r, 10*time.Second)
	defer cancel()

	snap, err := h.store.Export(ctx)
	if err != nil {
		apierr.Write(w, apierr.New(apierr.InternalError, "exporting state"))
		return
	}
	if h.sessions != nil {
		sess := h.sessions.Snapshot()
		snap.Session = &sess
	}
	h.JSON(w, http.StatusOK, snap)
}

// ImportState handles POST /swarm/import, loading a previously exported
// snapshot, including the legacy 1.0.0 inbox-status remap.
func (h *Handler) ImportState(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	var snap store.Snapshot
	if err := json.NewDecoder(r.Body).Decode(&snap); err != nil {
		apierr.Write(w, apierr.New(apierr.InvalidFormat, "malformed snapshot"))
		return
	}

	ctx, cancel := requestContext(r, 30*time.Second)
	defer cancel()

	if err := h.store.Import(ctx, &snap); err != nil {
		apierr.Write(w, apierr.New(apierr.InvalidFormat, err.Error()))
		return
	}
	if snap.Session != nil && h.sessions != nil {
		if err := h.sessions.Restore(*snap.Session); err != nil {
			apierr.Write(w, apierr.New(apierr.InternalError, "restoring session state"))
			return
		}
	}
	h.JSON(w, http.StatusOK, map[string]string{"status": "imported"})
}
