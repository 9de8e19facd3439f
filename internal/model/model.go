// Package model holds the wire and storage types shared across the node:
// swarms, members, envelopes, and the inbound/outbound queue entries
// persisted by internal/store.
package model

import "time"

// MessageType enumerates the envelope's type field (§3's closed set).
type MessageType string

const (
	MessageTypeMessage      MessageType = "message"
	MessageTypeSystem       MessageType = "system"
	MessageTypeNotification MessageType = "notification"
)

// Priority is the envelope's optional urgency marker, orthogonal to Type.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
)

// ProtocolVersion is the wire protocol version this node speaks. Peers are
// accepted as long as their major version matches (§4.3 rule 1).
const ProtocolVersion = "1.0.0"

// ProtocolMajor is the leading dot-separated component of ProtocolVersion.
const ProtocolMajor = "1"

// Envelope is the signed unit of exchange between nodes.
type Envelope struct {
	ProtocolVersion string      `json:"protocol_version"`
	MessageID       string      `json:"message_id"`
	Timestamp       int64       `json:"timestamp"`
	SwarmID         string      `json:"swarm_id"`
	Sender          string      `json:"sender"`
	Recipient       string      `json:"recipient"`
	Type            MessageType `json:"type"`
	Priority        Priority    `json:"priority,omitempty"`
	Content         string      `json:"content"`
	Sealed          bool        `json:"sealed,omitempty"`
	Signature       string      `json:"signature"`
}

// JoinRequest is the self-attested, signed payload a prospective member
// POSTs to a swarm master's /swarm/join (§4.5). Since the requester isn't
// yet a member, its signature is verified against the public key asserted
// in this same request rather than a swarm-roster lookup.
type JoinRequest struct {
	InviteToken string `json:"invite_token"`
	AgentID     string `json:"agent_id"`
	Endpoint    string `json:"endpoint"`
	PublicKey   string `json:"public_key"` // base64 std-encoded Ed25519 public key
	Timestamp   int64  `json:"timestamp"`
	Signature   string `json:"signature"`
}

// SystemAction enumerates the recognized action values of a system
// envelope's JSON content (§4.3 rule 5, §4.5).
type SystemAction string

const (
	SystemActionMemberJoined   SystemAction = "member_joined"
	SystemActionMemberLeft     SystemAction = "member_left"
	SystemActionMemberKicked   SystemAction = "member_kicked"
	SystemActionMasterChanged  SystemAction = "master_changed"
	SystemActionSwarmDissolved SystemAction = "swarm_dissolved"
	SystemActionMemberApproved SystemAction = "member_approved"
)

// SystemContent is the machine-parseable payload carried as the content of
// a type=system envelope (§4.5): {action, swarm_id, agent_id, initiated_by?,
// reason?}.
type SystemContent struct {
	Action      SystemAction `json:"action"`
	SwarmID     string       `json:"swarm_id"`
	AgentID     string       `json:"agent_id"`
	InitiatedBy string       `json:"initiated_by,omitempty"`
	Reason      string       `json:"reason,omitempty"`
}

// SwarmSettings controls membership and admission behavior for a swarm.
type SwarmSettings struct {
	RequireApproval bool `json:"require_approval"`
	InvitesEnabled  bool `json:"invites_enabled"`
	MaxMembers      int  `json:"max_members"`
}

// Swarm is a named group of agents with a single current master.
type Swarm struct {
	SwarmID   string        `json:"swarm_id"`
	Name      string        `json:"name"`
	MasterID  string        `json:"master_id"`
	Settings  SwarmSettings `json:"settings"`
	CreatedAt time.Time     `json:"created_at"`
}

// MemberStatus is the membership lifecycle state of a Member row.
type MemberStatus string

const (
	MemberStatusActive  MemberStatus = "active"
	MemberStatusPending MemberStatus = "pending"
	MemberStatusKicked  MemberStatus = "kicked"
	MemberStatusLeft    MemberStatus = "left"
)

// Member is one agent's membership record within a swarm.
type Member struct {
	SwarmID   string       `json:"swarm_id"`
	AgentID   string       `json:"agent_id"`
	Endpoint  string       `json:"endpoint"`
	PublicKey string       `json:"public_key"` // base64 std-encoded Ed25519 public key
	Status    MemberStatus `json:"status"`
	JoinedAt  time.Time    `json:"joined_at"`
}

// InboxStatus tracks processing state of a received envelope.
type InboxStatus string

const (
	InboxStatusUnread     InboxStatus = "unread"
	InboxStatusRead       InboxStatus = "read"
	InboxStatusProcessing InboxStatus = "processing"
)

// InboxEntry is a durably stored, deduplicated received envelope.
type InboxEntry struct {
	ID          int64       `json:"id"`
	MessageID   string      `json:"message_id"`
	SwarmID     string      `json:"swarm_id"`
	Sender      string      `json:"sender"`
	Recipient   string      `json:"recipient"`
	Type        MessageType `json:"type"`
	Content     string      `json:"content"`
	Sealed      bool        `json:"sealed"`
	Status      InboxStatus `json:"status"`
	ReceivedAt  time.Time   `json:"received_at"`
	WakeDecided string      `json:"wake_decision,omitempty"`
}

// OutboxStatus tracks delivery state of a queued outbound envelope.
type OutboxStatus string

const (
	OutboxStatusPending   OutboxStatus = "pending"
	OutboxStatusDelivered OutboxStatus = "delivered"
	OutboxStatusFailed    OutboxStatus = "failed"
)

// OutboxEntry is a queued outbound delivery attempt, ordered by CursorID.
type OutboxEntry struct {
	ID          int64        `json:"id"`
	CursorID    string       `json:"cursor_id"` // ULID, monotonic insert-order cursor
	Envelope    Envelope     `json:"envelope"`
	TargetURL   string       `json:"target_url"`
	Status      OutboxStatus `json:"status"`
	Attempts    int          `json:"attempts"`
	NextAttempt time.Time    `json:"next_attempt"`
	LastError   string       `json:"last_error,omitempty"`
}

// Mute records that a sender or swarm is silenced for the local agent.
type Mute struct {
	SwarmID   string    `json:"swarm_id"`
	AgentID   string    `json:"agent_id,omitempty"` // empty means the whole swarm is muted
	CreatedAt time.Time `json:"created_at"`
}

// PublicKeyCacheEntry caches a remote agent's verification key.
type PublicKeyCacheEntry struct {
	AgentID   string    `json:"agent_id"`
	PublicKey string    `json:"public_key"`
	FetchedAt time.Time `json:"fetched_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// IssuedToken records an invite token this node's master has handed out,
// so Join can refuse a revoked token or one whose use limit is reached.
type IssuedToken struct {
	TokenID   string    `json:"token_id"`
	SwarmID   string    `json:"swarm_id"`
	IssuedTo  string    `json:"issued_to,omitempty"` // optional agent hint, empty = open invite
	MaxUses   int       `json:"max_uses"`
	UseCount  int       `json:"use_count"`
	Revoked   bool      `json:"revoked"`
	ExpiresAt time.Time `json:"expires_at"`
	CreatedAt time.Time `json:"created_at"`
}

// SessionState is the local agent's Claude-invocation lifecycle state.
type SessionState string

const (
	SessionStateIdle      SessionState = "idle"
	SessionStateActive    SessionState = "active"
	SessionStateSuspended SessionState = "suspended"
)

// Session is the persisted invocation-session record for the local agent.
type Session struct {
	SessionID         string       `json:"session_id"`
	State             SessionState `json:"state"`
	StartedAt         time.Time    `json:"started_at"`
	LastActive        time.Time    `json:"last_active"`
	MessagesProcessed int          `json:"messages_processed"`
	CurrentSwarm      string       `json:"current_swarm,omitempty"`
	ContextSummary    string       `json:"context_summary,omitempty"`
}
