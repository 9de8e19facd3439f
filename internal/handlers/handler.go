// Package handlers implements the node's HTTP surface: inbound envelope
// delivery, swarm membership operations, the wake endpoint, and health/info
// reporting.
package handlers

import (
	"context"
	"crypto/ed25519"
	"encoding/json"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/finml-sage/agent-swarm-protocol/internal/invoker"
	"github.com/finml-sage/agent-swarm-protocol/internal/membership"
	"github.com/finml-sage/agent-swarm-protocol/internal/notifications"
	"github.com/finml-sage/agent-swarm-protocol/internal/session"
	"github.com/finml-sage/agent-swarm-protocol/internal/store"
	"github.com/finml-sage/agent-swarm-protocol/internal/transport"
	"github.com/finml-sage/agent-swarm-protocol/internal/waketrigger"
)

// Handler holds the dependencies shared by every HTTP handler.
type Handler struct {
	store      store.Store
	redis      *redis.Client
	membership *membership.Service
	transport  *transport.Transport
	notifier   *notifications.Notifier
	wake       *waketrigger.Trigger
	sessions   *session.Manager
	invoker    invoker.Invoker
	logger     zerolog.Logger

	selfID         string
	selfEndpoint   string
	selfPriv       ed25519.PrivateKey
	prefs          waketrigger.Preferences
	pubKeyCacheTTL time.Duration
}

// Deps bundles NewHandler's constructor arguments.
type Deps struct {
	Store          store.Store
	Redis          *redis.Client
	Membership     *membership.Service
	Transport      *transport.Transport
	Notifier       *notifications.Notifier
	Wake           *waketrigger.Trigger
	Sessions       *session.Manager
	Invoker        invoker.Invoker
	Logger         zerolog.Logger
	SelfID         string
	SelfEndpoint   string
	SelfPriv       ed25519.PrivateKey
	Prefs          waketrigger.Preferences
	PubKeyCacheTTL time.Duration
}

// NewHandler builds a Handler from Deps.
func NewHandler(d Deps) *Handler {
	return &Handler{
		store:          d.Store,
		redis:          d.Redis,
		membership:     d.Membership,
		transport:      d.Transport,
		notifier:       d.Notifier,
		wake:           d.Wake,
		sessions:       d.Sessions,
		invoker:        d.Invoker,
		logger:         d.Logger,
		selfID:         d.SelfID,
		selfEndpoint:   d.SelfEndpoint,
		selfPriv:       d.SelfPriv,
		prefs:          d.Prefs,
		pubKeyCacheTTL: d.PubKeyCacheTTL,
	}
}

// JSON sends a JSON response with the given status code.
func (h *Handler) JSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func requestContext(r *http.Request, timeout time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(r.Context(), timeout)
}
