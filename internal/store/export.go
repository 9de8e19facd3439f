package store

import (
	"context"
	"fmt"

	"github.com/finml-sage/agent-swarm-protocol/internal/model"
)

// CurrentSchemaVersion is the normative export/import schema version this
// store writes and reads without translation.
const CurrentSchemaVersion = "2.0.0"

// legacySchemaVersion is the older export format this store still accepts
// on Import, remapping its coarser inbox statuses.
const legacySchemaVersion = "1.0.0"

// Snapshot is the top-level JSON document produced by Export and consumed
// by Import.
type Snapshot struct {
	SchemaVersion  string                      `json:"schema_version"`
	Swarms         []model.Swarm               `json:"swarms"`
	Members        []model.Member              `json:"members"`
	Mutes          []model.Mute                `json:"mutes"`
	Inbox          []model.InboxEntry          `json:"inbox"`
	Outbox         []model.OutboxEntry         `json:"outbox"`
	PublicKeyCache []model.PublicKeyCacheEntry `json:"public_key_cache"`
	IssuedTokens   []model.IssuedToken         `json:"issued_tokens"`
	// Session is the local agent's invocation-session record (§6 Persisted
	// layout). SQLiteStore never populates or reads it — it's a JSON file,
	// not a SQL table — so handlers.ExportState/ImportState compose it in at
	// the HTTP layer, where both the store and the session.Manager are
	// available.
	Session *model.Session `json:"session,omitempty"`
}

// Export produces a full, versioned snapshot of durable state.
func (s *SQLiteStore) Export(ctx context.Context) (*Snapshot, error) {
	snap := &Snapshot{SchemaVersion: CurrentSchemaVersion}

	rows, err := s.db.QueryContext(ctx, `SELECT swarm_id, name, master_id, require_approval, invites_enabled, max_members, created_at FROM swarms`)
	if err != nil {
		return nil, err
	}
	for rows.Next() {
		var sw model.Swarm
		var ra, ie int
		if err := rows.Scan(&sw.SwarmID, &sw.Name, &sw.MasterID, &ra, &ie, &sw.Settings.MaxMembers, &sw.CreatedAt); err != nil {
			rows.Close()
			return nil, err
		}
		sw.Settings.RequireApproval = ra != 0
		sw.Settings.InvitesEnabled = ie != 0
		snap.Swarms = append(snap.Swarms, sw)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	memberRows, err := s.db.QueryContext(ctx, `SELECT swarm_id, agent_id, endpoint, public_key, status, joined_at FROM members`)
	if err != nil {
		return nil, err
	}
	for memberRows.Next() {
		var m model.Member
		if err := memberRows.Scan(&m.SwarmID, &m.AgentID, &m.Endpoint, &m.PublicKey, &m.Status, &m.JoinedAt); err != nil {
			memberRows.Close()
			return nil, err
		}
		snap.Members = append(snap.Members, m)
	}
	memberRows.Close()
	if err := memberRows.Err(); err != nil {
		return nil, err
	}

	muteRows, err := s.db.QueryContext(ctx, `SELECT swarm_id, agent_id, created_at FROM mutes`)
	if err != nil {
		return nil, err
	}
	for muteRows.Next() {
		var mu model.Mute
		if err := muteRows.Scan(&mu.SwarmID, &mu.AgentID, &mu.CreatedAt); err != nil {
			muteRows.Close()
			return nil, err
		}
		snap.Mutes = append(snap.Mutes, mu)
	}
	muteRows.Close()
	if err := muteRows.Err(); err != nil {
		return nil, err
	}

	fullInbox, err := s.exportAllInbox(ctx)
	if err != nil {
		return nil, err
	}
	snap.Inbox = fullInbox

	fullOutbox, err := s.exportAllOutbox(ctx)
	if err != nil {
		return nil, err
	}
	snap.Outbox = fullOutbox

	pubkeyRows, err := s.db.QueryContext(ctx, `SELECT agent_id, public_key, fetched_at, expires_at FROM pubkey_cache`)
	if err != nil {
		return nil, err
	}
	for pubkeyRows.Next() {
		var e model.PublicKeyCacheEntry
		if err := pubkeyRows.Scan(&e.AgentID, &e.PublicKey, &e.FetchedAt, &e.ExpiresAt); err != nil {
			pubkeyRows.Close()
			return nil, err
		}
		snap.PublicKeyCache = append(snap.PublicKeyCache, e)
	}
	pubkeyRows.Close()
	if err := pubkeyRows.Err(); err != nil {
		return nil, err
	}

	tokRows, err := s.db.QueryContext(ctx, `SELECT token_id, swarm_id, issued_to, max_uses, use_count, revoked, expires_at, created_at FROM issued_tokens`)
	if err != nil {
		return nil, err
	}
	for tokRows.Next() {
		var t model.IssuedToken
		var revoked int
		if err := tokRows.Scan(&t.TokenID, &t.SwarmID, &t.IssuedTo, &t.MaxUses, &t.UseCount, &revoked, &t.ExpiresAt, &t.CreatedAt); err != nil {
			tokRows.Close()
			return nil, err
		}
		t.Revoked = revoked != 0
		snap.IssuedTokens = append(snap.IssuedTokens, t)
	}
	tokRows.Close()
	if err := tokRows.Err(); err != nil {
		return nil, err
	}

	return snap, nil
}

func (s *SQLiteStore) exportAllInbox(ctx context.Context) ([]model.InboxEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, message_id, swarm_id, sender, recipient, type, content, sealed, status, received_at, wake_decision
		FROM inbox ORDER BY id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []model.InboxEntry
	for rows.Next() {
		var e model.InboxEntry
		var sealed int
		if err := rows.Scan(&e.ID, &e.MessageID, &e.SwarmID, &e.Sender, &e.Recipient, &e.Type, &e.Content, &sealed, &e.Status, &e.ReceivedAt, &e.WakeDecided); err != nil {
			return nil, err
		}
		e.Sealed = sealed != 0
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (s *SQLiteStore) exportAllOutbox(ctx context.Context) ([]model.OutboxEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT cursor_id, message_id, timestamp, swarm_id, sender, recipient, type, content, sealed, signature, target_url, status, attempts, next_attempt, last_error
		FROM outbox ORDER BY cursor_id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []model.OutboxEntry
	for rows.Next() {
		var e model.OutboxEntry
		var sealed int
		if err := rows.Scan(&e.CursorID, &e.Envelope.MessageID, &e.Envelope.Timestamp, &e.Envelope.SwarmID,
			&e.Envelope.Sender, &e.Envelope.Recipient, &e.Envelope.Type, &e.Envelope.Content, &sealed,
			&e.Envelope.Signature, &e.TargetURL, &e.Status, &e.Attempts, &e.NextAttempt, &e.LastError); err != nil {
			return nil, err
		}
		e.Envelope.Sealed = sealed != 0
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Import restores durable state from snap, remapping legacy (1.0.0) inbox
// status values to the current unread/read model:
// pending|processing -> unread, completed|failed -> read.
func (s *SQLiteStore) Import(ctx context.Context, snap *Snapshot) error {
	if snap.SchemaVersion != CurrentSchemaVersion && snap.SchemaVersion != legacySchemaVersion {
		return fmt.Errorf("store: unsupported snapshot schema version %q", snap.SchemaVersion)
	}
	legacy := snap.SchemaVersion == legacySchemaVersion

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, sw := range snap.Swarms {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO swarms (swarm_id, name, master_id, require_approval, invites_enabled, max_members, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(swarm_id) DO UPDATE SET name=excluded.name, master_id=excluded.master_id,
				require_approval=excluded.require_approval, invites_enabled=excluded.invites_enabled,
				max_members=excluded.max_members`,
			sw.SwarmID, sw.Name, sw.MasterID, boolToInt(sw.Settings.RequireApproval),
			boolToInt(sw.Settings.InvitesEnabled), sw.Settings.MaxMembers, sw.CreatedAt); err != nil {
			return err
		}
	}

	for _, m := range snap.Members {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO members (swarm_id, agent_id, endpoint, public_key, status, joined_at)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(swarm_id, agent_id) DO UPDATE SET endpoint=excluded.endpoint,
				public_key=excluded.public_key, status=excluded.status, joined_at=excluded.joined_at`,
			m.SwarmID, m.AgentID, m.Endpoint, m.PublicKey, m.Status, m.JoinedAt); err != nil {
			return err
		}
	}

	for _, mu := range snap.Mutes {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO mutes (swarm_id, agent_id, created_at) VALUES (?, ?, ?)
			ON CONFLICT(swarm_id, agent_id) DO UPDATE SET created_at=excluded.created_at`,
			mu.SwarmID, mu.AgentID, mu.CreatedAt); err != nil {
			return err
		}
	}

	for _, e := range snap.Inbox {
		status := e.Status
		if legacy {
			status = remapLegacyInboxStatus(status)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO inbox (message_id, swarm_id, sender, recipient, type, content, sealed, status, received_at, wake_decision)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(message_id) DO NOTHING`,
			e.MessageID, e.SwarmID, e.Sender, e.Recipient, e.Type, e.Content,
			boolToInt(e.Sealed), status, e.ReceivedAt, e.WakeDecided); err != nil {
			return err
		}
	}

	for _, e := range snap.Outbox {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO outbox (cursor_id, message_id, timestamp, swarm_id, sender, recipient, type, content, sealed, signature, target_url, status, attempts, next_attempt, last_error)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(cursor_id) DO NOTHING`,
			e.CursorID, e.Envelope.MessageID, e.Envelope.Timestamp, e.Envelope.SwarmID,
			e.Envelope.Sender, e.Envelope.Recipient, e.Envelope.Type, e.Envelope.Content,
			boolToInt(e.Envelope.Sealed), e.Envelope.Signature, e.TargetURL, e.Status,
			e.Attempts, e.NextAttempt, e.LastError); err != nil {
			return err
		}
	}

	for _, pk := range snap.PublicKeyCache {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO pubkey_cache (agent_id, public_key, fetched_at, expires_at) VALUES (?, ?, ?, ?)
			ON CONFLICT(agent_id) DO UPDATE SET public_key=excluded.public_key,
				fetched_at=excluded.fetched_at, expires_at=excluded.expires_at`,
			pk.AgentID, pk.PublicKey, pk.FetchedAt, pk.ExpiresAt); err != nil {
			return err
		}
	}

	for _, t := range snap.IssuedTokens {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO issued_tokens (token_id, swarm_id, issued_to, max_uses, use_count, revoked, expires_at, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(token_id) DO UPDATE SET use_count=excluded.use_count, revoked=excluded.revoked`,
			t.TokenID, t.SwarmID, t.IssuedTo, t.MaxUses, t.UseCount, boolToInt(t.Revoked), t.ExpiresAt, t.CreatedAt); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// remapLegacyInboxStatus applies the 1.0.0 -> 2.0.0 status mapping:
// pending/processing collapse to unread, completed/failed collapse to read.
func remapLegacyInboxStatus(legacyStatus model.InboxStatus) model.InboxStatus {
	switch string(legacyStatus) {
	case "pending", "processing":
		return model.InboxStatusUnread
	case "completed", "failed":
		return model.InboxStatusRead
	default:
		return legacyStatus
	}
}
