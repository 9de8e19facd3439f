package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/finml-sage/agent-swarm-protocol/internal/model"
	"github.com/finml-sage/agent-swarm-protocol/internal/store"
)

type swarmInfoResponse struct {
	AgentID   string `json:"agent_id"`
	PublicKey string `json:"public_key"`
}

// FetchPublicKey GETs the remote agent's current public key from its
// swarm-info endpoint and caches it for cacheTTL. The receive path does not
// call it: signature verification uses only the member table and the
// existing cache entry.
func (t *Transport) FetchPublicKey(ctx context.Context, st store.Store, endpoint, agentID string, cacheTTL time.Duration) (*model.PublicKeyCacheEntry, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"/swarm/info/"+agentID, nil)
	if err != nil {
		return nil, err
	}

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching public key from %s: %w", endpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("swarm info endpoint returned %d", resp.StatusCode)
	}

	var info swarmInfoResponse
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return nil, fmt.Errorf("decoding swarm info response: %w", err)
	}

	entry := model.PublicKeyCacheEntry{
		AgentID:   agentID,
		PublicKey: info.PublicKey,
		FetchedAt: time.Now(),
		ExpiresAt: time.Now().Add(cacheTTL),
	}
	if err := st.PutPublicKeyCache(ctx, entry); err != nil {
		return nil, fmt.Errorf("caching public key: %w", err)
	}
	return &entry, nil
}
