package store

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/finml-sage/agent-swarm-protocol/internal/model"
)

// SQLiteStore is the node's single-writer, WAL-mode local database.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (creating if needed) the node's database at dbPath.
func NewSQLiteStore(ctx context.Context, dbPath string) (*SQLiteStore, error) {
	if dbPath == "" {
		dbPath = "./data/swarmd.db"
	}

	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_foreign_keys=on&_busy_timeout=5000")
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1) // single writer per §5

	if err := db.PingContext(ctx); err != nil {
		return nil, err
	}

	s := &SQLiteStore{db: db}
	if err := s.initSchema(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS swarms (
		swarm_id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		master_id TEXT NOT NULL,
		require_approval INTEGER DEFAULT 0,
		invites_enabled INTEGER DEFAULT 1,
		max_members INTEGER DEFAULT 0,
		created_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS members (
		swarm_id TEXT NOT NULL,
		agent_id TEXT NOT NULL,
		endpoint TEXT NOT NULL,
		public_key TEXT NOT NULL,
		status TEXT NOT NULL,
		joined_at DATETIME NOT NULL,
		PRIMARY KEY (swarm_id, agent_id)
	);

	CREATE TABLE IF NOT EXISTS mutes (
		swarm_id TEXT NOT NULL,
		agent_id TEXT NOT NULL DEFAULT '',
		created_at DATETIME NOT NULL,
		PRIMARY KEY (swarm_id, agent_id)
	);

	CREATE TABLE IF NOT EXISTS pubkey_cache (
		agent_id TEXT PRIMARY KEY,
		public_key TEXT NOT NULL,
		fetched_at DATETIME NOT NULL,
		expires_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS inbox (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		message_id TEXT UNIQUE NOT NULL,
		swarm_id TEXT NOT NULL,
		sender TEXT NOT NULL,
		recipient TEXT NOT NULL,
		type TEXT NOT NULL,
		content TEXT NOT NULL,
		sealed INTEGER DEFAULT 0,
		status TEXT NOT NULL,
		received_at DATETIME NOT NULL,
		wake_decision TEXT DEFAULT ''
	);

	CREATE TABLE IF NOT EXISTS outbox (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		cursor_id TEXT UNIQUE NOT NULL,
		message_id TEXT NOT NULL,
		timestamp INTEGER NOT NULL,
		swarm_id TEXT NOT NULL,
		sender TEXT NOT NULL,
		recipient TEXT NOT NULL,
		type TEXT NOT NULL,
		content TEXT NOT NULL,
		sealed INTEGER DEFAULT 0,
		signature TEXT NOT NULL,
		target_url TEXT NOT NULL,
		status TEXT NOT NULL,
		attempts INTEGER DEFAULT 0,
		next_attempt DATETIME NOT NULL,
		last_error TEXT DEFAULT ''
	);

	CREATE TABLE IF NOT EXISTS issued_tokens (
		token_id TEXT PRIMARY KEY,
		swarm_id TEXT NOT NULL,
		issued_to TEXT DEFAULT '',
		max_uses INTEGER DEFAULT 0,
		use_count INTEGER DEFAULT 0,
		revoked INTEGER DEFAULT 0,
		expires_at DATETIME NOT NULL,
		created_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_members_agent ON members(agent_id);
	CREATE INDEX IF NOT EXISTS idx_inbox_swarm ON inbox(swarm_id, received_at);
	CREATE INDEX IF NOT EXISTS idx_outbox_status ON outbox(status, next_attempt);
	`
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

func (s *SQLiteStore) Close() error { return s.db.Close() }

func (s *SQLiteStore) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

// --- Swarms ---

func (s *SQLiteStore) CreateSwarm(ctx context.Context, swarm model.Swarm) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO swarms (swarm_id, name, master_id, require_approval, invites_enabled, max_members, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		swarm.SwarmID, swarm.Name, swarm.MasterID,
		boolToInt(swarm.Settings.RequireApproval), boolToInt(swarm.Settings.InvitesEnabled),
		swarm.Settings.MaxMembers, swarm.CreatedAt)
	return err
}

func (s *SQLiteStore) GetSwarm(ctx context.Context, swarmID string) (*model.Swarm, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT swarm_id, name, master_id, require_approval, invites_enabled, max_members, created_at
		FROM swarms WHERE swarm_id = ?`, swarmID)

	var sw model.Swarm
	var requireApproval, invitesEnabled int
	if err := row.Scan(&sw.SwarmID, &sw.Name, &sw.MasterID, &requireApproval, &invitesEnabled, &sw.Settings.MaxMembers, &sw.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	sw.Settings.RequireApproval = requireApproval != 0
	sw.Settings.InvitesEnabled = invitesEnabled != 0
	return &sw, nil
}

func (s *SQLiteStore) UpdateSwarmMaster(ctx context.Context, swarmID, newMasterID string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE swarms SET master_id = ? WHERE swarm_id = ?`, newMasterID, swarmID)
	if err != nil {
		return err
	}
	return checkRowsAffected(res)
}

func (s *SQLiteStore) DeleteSwarm(ctx context.Context, swarmID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM swarms WHERE swarm_id = ?`, swarmID); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM members WHERE swarm_id = ?`, swarmID); err != nil {
		return err
	}
	return tx.Commit()
}

// --- Members ---

func (s *SQLiteStore) AddMember(ctx context.Context, member model.Member) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO members (swarm_id, agent_id, endpoint, public_key, status, joined_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(swarm_id, agent_id) DO UPDATE SET
			endpoint = excluded.endpoint, public_key = excluded.public_key,
			status = excluded.status, joined_at = excluded.joined_at`,
		member.SwarmID, member.AgentID, member.Endpoint, member.PublicKey, member.Status, member.JoinedAt)
	return err
}

func (s *SQLiteStore) GetMember(ctx context.Context, swarmID, agentID string) (*model.Member, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT swarm_id, agent_id, endpoint, public_key, status, joined_at
		FROM members WHERE swarm_id = ? AND agent_id = ?`, swarmID, agentID)

	var m model.Member
	if err := row.Scan(&m.SwarmID, &m.AgentID, &m.Endpoint, &m.PublicKey, &m.Status, &m.JoinedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &m, nil
}

func (s *SQLiteStore) ListMembers(ctx context.Context, swarmID string) ([]model.Member, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT swarm_id, agent_id, endpoint, public_key, status, joined_at
		FROM members WHERE swarm_id = ? ORDER BY joined_at ASC`, swarmID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var members []model.Member
	for rows.Next() {
		var m model.Member
		if err := rows.Scan(&m.SwarmID, &m.AgentID, &m.Endpoint, &m.PublicKey, &m.Status, &m.JoinedAt); err != nil {
			return nil, err
		}
		members = append(members, m)
	}
	return members, rows.Err()
}

func (s *SQLiteStore) SetMemberStatus(ctx context.Context, swarmID, agentID string, status model.MemberStatus) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE members SET status = ? WHERE swarm_id = ? AND agent_id = ?`, status, swarmID, agentID)
	if err != nil {
		return err
	}
	return checkRowsAffected(res)
}

// --- Mutes ---

func (s *SQLiteStore) AddMute(ctx context.Context, mute model.Mute) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO mutes (swarm_id, agent_id, created_at) VALUES (?, ?, ?)
		ON CONFLICT(swarm_id, agent_id) DO UPDATE SET created_at = excluded.created_at`,
		mute.SwarmID, mute.AgentID, mute.CreatedAt)
	return err
}

func (s *SQLiteStore) RemoveMute(ctx context.Context, swarmID, agentID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM mutes WHERE swarm_id = ? AND agent_id = ?`, swarmID, agentID)
	return err
}

// IsMuted returns true if either the specific agent or the whole swarm
// (agent_id = '') is muted.
func (s *SQLiteStore) IsMuted(ctx context.Context, swarmID, agentID string) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM mutes WHERE swarm_id = ? AND (agent_id = ? OR agent_id = '')`,
		swarmID, agentID).Scan(&count)
	return count > 0, err
}

// --- Public key cache ---

func (s *SQLiteStore) PutPublicKeyCache(ctx context.Context, entry model.PublicKeyCacheEntry) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO pubkey_cache (agent_id, public_key, fetched_at, expires_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(agent_id) DO UPDATE SET public_key = excluded.public_key,
			fetched_at = excluded.fetched_at, expires_at = excluded.expires_at`,
		entry.AgentID, entry.PublicKey, entry.FetchedAt, entry.ExpiresAt)
	return err
}

func (s *SQLiteStore) GetPublicKeyCache(ctx context.Context, agentID string) (*model.PublicKeyCacheEntry, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT agent_id, public_key, fetched_at, expires_at FROM pubkey_cache WHERE agent_id = ?`, agentID)

	var e model.PublicKeyCacheEntry
	if err := row.Scan(&e.AgentID, &e.PublicKey, &e.FetchedAt, &e.ExpiresAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &e, nil
}

// --- Inbox ---

// InsertInbox idempotently inserts by message_id; inserted is false when the
// message_id already existed (the caller should treat this as a duplicate
// delivery, not an error).
func (s *SQLiteStore) InsertInbox(ctx context.Context, entry model.InboxEntry) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO inbox (message_id, swarm_id, sender, recipient, type, content, sealed, status, received_at, wake_decision)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.MessageID, entry.SwarmID, entry.Sender, entry.Recipient, entry.Type,
		entry.Content, boolToInt(entry.Sealed), entry.Status, entry.ReceivedAt, entry.WakeDecided)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *SQLiteStore) GetInboxByMessageID(ctx context.Context, messageID string) (*model.InboxEntry, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, message_id, swarm_id, sender, recipient, type, content, sealed, status, received_at, wake_decision
		FROM inbox WHERE message_id = ?`, messageID)
	return scanInboxEntry(row)
}

func (s *SQLiteStore) ListInbox(ctx context.Context, swarmID string, limit int, before time.Time) ([]model.InboxEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, message_id, swarm_id, sender, recipient, type, content, sealed, status, received_at, wake_decision
		FROM inbox WHERE swarm_id = ? AND received_at < ? ORDER BY received_at DESC LIMIT ?`,
		swarmID, before, limit)
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

func (s *SQLiteStore) SetInboxStatus(ctx context.Context, messageID string, status model.InboxStatus) error {
	res, err := s.db.ExecContext(ctx, `UPDATE inbox SET status = ? WHERE message_id = ?`, status, messageID)
	if err != nil {
		return err
	}
	return checkRowsAffected(res)
}

func scanInboxEntry(row *sql.Row) (*model.InboxEntry, error) {
	var e model.InboxEntry
	var sealed int
	if err := row.Scan(&e.ID, &e.MessageID, &e.SwarmID, &e.Sender, &e.Recipient, &e.Type, &e.Content, &sealed, &e.Status, &e.ReceivedAt, &e.WakeDecided); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	e.Sealed = sealed != 0
	return &e, nil
}

// --- Outbox ---

func (s *SQLiteStore) EnqueueOutbox(ctx context.Context, entry model.OutboxEntry) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO outbox (cursor_id, message_id, timestamp, swarm_id, sender, recipient, type, content, sealed, signature, target_url, status, attempts, next_attempt, last_error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.CursorID, entry.Envelope.MessageID, entry.Envelope.Timestamp, entry.Envelope.SwarmID,
		entry.Envelope.Sender, entry.Envelope.Recipient, entry.Envelope.Type, entry.Envelope.Content,
		boolToInt(entry.Envelope.Sealed), entry.Envelope.Signature, entry.TargetURL, entry.Status,
		entry.Attempts, entry.NextAttempt, entry.LastError)
	return err
}

func (s *SQLiteStore) NextOutboxBatch(ctx context.Context, limit int) ([]model.OutboxEntry, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, cursor_id, message_id, timestamp, swarm_id, sender, recipient, type, content, sealed, signature, target_url, status, attempts, next_attempt, last_error
		FROM outbox WHERE status = ? AND next_attempt <= ? ORDER BY cursor_id ASC LIMIT ?`,
		model.OutboxStatusPending, time.Now(), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []model.OutboxEntry
	for rows.Next() {
		var e model.OutboxEntry
		var sealed int
		if err := rows.Scan(&e.ID, &e.CursorID, &e.Envelope.MessageID, &e.Envelope.Timestamp, &e.Envelope.SwarmID,
			&e.Envelope.Sender, &e.Envelope.Recipient, &e.Envelope.Type, &e.Envelope.Content, &sealed,
			&e.Envelope.Signature, &e.TargetURL, &e.Status, &e.Attempts, &e.NextAttempt, &e.LastError); err != nil {
			return nil, err
		}
		e.Envelope.Sealed = sealed != 0
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (s *SQLiteStore) MarkOutboxDelivered(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, `UPDATE outbox SET status = ? WHERE id = ?`, model.OutboxStatusDelivered, id)
	return err
}

// MarkOutboxFailed records a failed delivery attempt. A zero nextAttempt
// means the caller has given up retrying: the entry is marked terminally
// Failed rather than rescheduled.
func (s *SQLiteStore) MarkOutboxFailed(ctx context.Context, id int64, errMsg string, nextAttempt time.Time) error {
	status := model.OutboxStatusPending
	if nextAttempt.IsZero() {
		status = model.OutboxStatusFailed
	}
	_, err := s.db.ExecContext(ctx, `
		UPDATE outbox SET status = ?, attempts = attempts + 1, last_error = ?, next_attempt = ? WHERE id = ?`,
		status, errMsg, nextAttempt, id)
	return err
}

// --- Invite tokens ---

func (s *SQLiteStore) RecordIssuedToken(ctx context.Context, tok model.IssuedToken) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO issued_tokens (token_id, swarm_id, issued_to, max_uses, use_count, revoked, expires_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		tok.TokenID, tok.SwarmID, tok.IssuedTo, tok.MaxUses, tok.UseCount, boolToInt(tok.Revoked), tok.ExpiresAt, tok.CreatedAt)
	return err
}

func (s *SQLiteStore) GetIssuedToken(ctx context.Context, tokenID string) (*model.IssuedToken, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT token_id, swarm_id, issued_to, max_uses, use_count, revoked, expires_at, created_at
		FROM issued_tokens WHERE token_id = ?`, tokenID)

	var t model.IssuedToken
	var revoked int
	if err := row.Scan(&t.TokenID, &t.SwarmID, &t.IssuedTo, &t.MaxUses, &t.UseCount, &revoked, &t.ExpiresAt, &t.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	t.Revoked = revoked != 0
	return &t, nil
}

func (s *SQLiteStore) IncrementTokenUse(ctx context.Context, tokenID string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE issued_tokens SET use_count = use_count + 1 WHERE token_id = ?`, tokenID)
	if err != nil {
		return err
	}
	return checkRowsAffected(res)
}

func (s *SQLiteStore) RevokeToken(ctx context.Context, tokenID string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE issued_tokens SET revoked = 1 WHERE token_id = ?`, tokenID)
	if err != nil {
		return err
	}
	return checkRowsAffected(res)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func checkRowsAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
