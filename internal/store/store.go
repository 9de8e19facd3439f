// Package store is the node's single-writer, WAL-mode durable persistence
// layer: swarms, members, mutes, the public-key cache, the inbox/outbox
// queues, and issued invite tokens. The local session record is kept in a
// JSON file by internal/session, and the ephemeral Redis-backed
// sliding-window rate counters and IP blocks live in
// internal/api/middleware/ratelimit.go.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/finml-sage/agent-swarm-protocol/internal/model"
)

var ErrNotFound = errors.New("store: record not found")

// Store is the durable persistence interface implemented by SQLiteStore.
type Store interface {
	Close() error
	Ping(ctx context.Context) error

	// Swarms and membership
	CreateSwarm(ctx context.Context, swarm model.Swarm) error
	GetSwarm(ctx context.Context, swarmID string) (*model.Swarm, error)
	UpdateSwarmMaster(ctx context.Context, swarmID, newMasterID string) error
	DeleteSwarm(ctx context.Context, swarmID string) error

	AddMember(ctx context.Context, member model.Member) error
	GetMember(ctx context.Context, swarmID, agentID string) (*model.Member, error)
	ListMembers(ctx context.Context, swarmID string) ([]model.Member, error)
	SetMemberStatus(ctx context.Context, swarmID, agentID string, status model.MemberStatus) error

	// Mutes
	AddMute(ctx context.Context, mute model.Mute) error
	RemoveMute(ctx context.Context, swarmID, agentID string) error
	IsMuted(ctx context.Context, swarmID, agentID string) (bool, error)

	// Public key cache
	PutPublicKeyCache(ctx context.Context, entry model.PublicKeyCacheEntry) error
	GetPublicKeyCache(ctx context.Context, agentID string) (*model.PublicKeyCacheEntry, error)

	// Inbox
	InsertInbox(ctx context.Context, entry model.InboxEntry) (inserted bool, err error)
	GetInboxByMessageID(ctx context.Context, messageID string) (*model.InboxEntry, error)
	ListInbox(ctx context.Context, swarmID string, limit int, before time.Time) ([]model.InboxEntry, error)
	SetInboxStatus(ctx context.Context, messageID string, status model.InboxStatus) error

	// Outbox
	EnqueueOutbox(ctx context.Context, entry model.OutboxEntry) error
	NextOutboxBatch(ctx context.Context, limit int) ([]model.OutboxEntry, error)
	MarkOutboxDelivered(ctx context.Context, id int64) error
	MarkOutboxFailed(ctx context.Context, id int64, errMsg string, nextAttempt time.Time) error

	// Invite tokens
	RecordIssuedToken(ctx context.Context, tok model.IssuedToken) error
	GetIssuedToken(ctx context.Context, tokenID string) (*model.IssuedToken, error)
	IncrementTokenUse(ctx context.Context, tokenID string) error
	RevokeToken(ctx context.Context, tokenID string) error

	// Export/import (§6 schema-versioned snapshot)
	Export(ctx context.Context) (*Snapshot, error)
	Import(ctx context.Context, snap *Snapshot) error
}
