// Package sqlite provides a SQLite-backed storage driver.
//
// Schema creation is idempotent and runs on open. All timestamps are stored
// as RFC3339Nano UTC strings.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/engramlabs/engram/pkg/memory"
	"github.com/engramlabs/engram/pkg/storage"
)

// SQLiteDriver implements storage.Driver using SQLite.
type SQLiteDriver struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS conversations (
	id TEXT PRIMARY KEY,
	owner_id TEXT NOT NULL,
	created_at TEXT NOT NULL,
	archived INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_conversations_owner ON conversations(owner_id);

CREATE TABLE IF NOT EXISTS messages (
	id TEXT PRIMARY KEY,
	conversation_id TEXT NOT NULL REFERENCES conversations(id),
	seq INTEGER NOT NULL,
	role TEXT NOT NULL,
	content TEXT NOT NULL,
	token_count INTEGER NOT NULL,
	model TEXT NOT NULL DEFAULT '',
	created_at TEXT NOT NULL,
	UNIQUE(conversation_id, seq)
);

CREATE TABLE IF NOT EXISTS summaries (
	id TEXT PRIMARY KEY,
	conversation_id TEXT NOT NULL REFERENCES conversations(id),
	start_seq INTEGER NOT NULL,
	end_seq INTEGER NOT NULL,
	body TEXT NOT NULL,
	token_count INTEGER NOT NULL,
	created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_summaries_conversation ON summaries(conversation_id);

CREATE TABLE IF NOT EXISTS records (
	id TEXT PRIMARY KEY,
	type TEXT NOT NULL,
	body TEXT NOT NULL,
	owner_id TEXT NOT NULL,
	created_at TEXT NOT NULL,
	metadata TEXT NOT NULL DEFAULT '{}'
);
CREATE INDEX IF NOT EXISTS idx_records_owner ON records(owner_id);

CREATE TABLE IF NOT EXISTS journals (
	id TEXT PRIMARY KEY,
	owner_id TEXT NOT NULL,
	date TEXT NOT NULL,
	body TEXT NOT NULL,
	created_at TEXT NOT NULL,
	UNIQUE(owner_id, date)
);

CREATE TABLE IF NOT EXISTS observations (
	id TEXT PRIMARY KEY,
	owner_id TEXT NOT NULL,
	category TEXT NOT NULL,
	content TEXT NOT NULL,
	created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_observations_owner ON observations(owner_id);

CREATE TABLE IF NOT EXISTS profiles (
	owner_id TEXT PRIMARY KEY,
	background TEXT NOT NULL DEFAULT '',
	communication_style TEXT NOT NULL DEFAULT '',
	updated_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS nodes (
	id TEXT PRIMARY KEY,
	type TEXT NOT NULL,
	content TEXT NOT NULL,
	confidence REAL NOT NULL DEFAULT 0,
	state TEXT NOT NULL,
	superseded_by TEXT NOT NULL DEFAULT '',
	created_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS node_evidence (
	node_id TEXT NOT NULL REFERENCES nodes(id),
	ref TEXT NOT NULL,
	UNIQUE(node_id, ref)
);

CREATE TABLE IF NOT EXISTS edges (
	id TEXT PRIMARY KEY,
	from_id TEXT NOT NULL,
	to_id TEXT NOT NULL,
	relation TEXT NOT NULL,
	created_at TEXT NOT NULL
);
`

// NewSQLiteDriver creates a new SQLite-backed driver.
// The dbPath can be a file path or ":memory:" for an in-memory database.
func NewSQLiteDriver(dbPath string) (*SQLiteDriver, error) {
	if dbPath == "" {
		return nil, fmt.Errorf("database path is required")
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// A single connection keeps pragmas in effect and makes ":memory:"
	// databases behave: each pooled connection would otherwise open its
	// own empty in-memory database.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	return &SQLiteDriver{db: db}, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}

func (d *SQLiteDriver) CreateConversation(ctx context.Context, c *memory.Conversation) error {
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}

	archived := 0
	if c.Archived {
		archived = 1
	}

	_, err := d.db.ExecContext(ctx,
		`INSERT INTO conversations(id, owner_id, created_at, archived) VALUES (?, ?, ?, ?)`,
		c.ID, c.OwnerID, formatTime(c.CreatedAt), archived,
	)
	if err != nil {
		return fmt.Errorf("inserting conversation %s: %w", c.ID, err)
	}

	return nil
}

func (d *SQLiteDriver) GetConversation(ctx context.Context, id string) (*memory.Conversation, error) {
	var c memory.Conversation
	var createdAt string
	var archived int

	err := d.db.QueryRowContext(ctx,
		`SELECT id, owner_id, created_at, archived FROM conversations WHERE id = ?`, id,
	).Scan(&c.ID, &c.OwnerID, &createdAt, &archived)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound{Kind: "conversation", ID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("querying conversation %s: %w", id, err)
	}

	c.CreatedAt = parseTime(createdAt)
	c.Archived = archived != 0

	return &c, nil
}

func (d *SQLiteDriver) ListConversations(ctx context.Context, ownerID string) ([]*memory.Conversation, error) {
	rows, err := d.db.QueryContext(ctx,
		`SELECT id, owner_id, created_at, archived FROM conversations WHERE owner_id = ? ORDER BY created_at`,
		ownerID,
	)
	if err != nil {
		return nil, fmt.Errorf("listing conversations: %w", err)
	}
	defer rows.Close()

	var out []*memory.Conversation
	for rows.Next() {
		var c memory.Conversation
		var createdAt string
		var archived int
		if err := rows.Scan(&c.ID, &c.OwnerID, &createdAt, &archived); err != nil {
			return nil, fmt.Errorf("scanning conversation: %w", err)
		}
		c.CreatedAt = parseTime(createdAt)
		c.Archived = archived != 0
		out = append(out, &c)
	}

	return out, rows.Err()
}

func (d *SQLiteDriver) Owners(ctx context.Context) ([]string, error) {
	rows, err := d.db.QueryContext(ctx,
		`SELECT DISTINCT owner_id FROM conversations ORDER BY owner_id`,
	)
	if err != nil {
		return nil, fmt.Errorf("listing owners: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var owner string
		if err := rows.Scan(&owner); err != nil {
			return nil, fmt.Errorf("scanning owner: %w", err)
		}
		out = append(out, owner)
	}

	return out, rows.Err()
}

// AppendMessage assigns the next sequence number inside a transaction so
// append order is strictly serialized per conversation.
func (d *SQLiteDriver) AppendMessage(ctx context.Context, m *memory.Message) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	var exists int
	if err := tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM conversations WHERE id = ?`, m.ConversationID,
	).Scan(&exists); err != nil {
		return fmt.Errorf("checking conversation: %w", err)
	}
	if exists == 0 {
		return storage.ErrNotFound{Kind: "conversation", ID: m.ConversationID}
	}

	var nextSeq int
	if err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(seq), 0) + 1 FROM messages WHERE conversation_id = ?`, m.ConversationID,
	).Scan(&nextSeq); err != nil {
		return fmt.Errorf("allocating sequence: %w", err)
	}

	m.Seq = nextSeq
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO messages(id, conversation_id, seq, role, content, token_count, model, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.ConversationID, m.Seq, string(m.Role), m.Content, m.TokenCount, m.Model, formatTime(m.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("inserting message %s: %w", m.ID, err)
	}

	return tx.Commit()
}

func (d *SQLiteDriver) scanMessages(rows *sql.Rows) ([]*memory.Message, error) {
	var out []*memory.Message
	for rows.Next() {
		var m memory.Message
		var role, createdAt string
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.Seq, &role, &m.Content, &m.TokenCount, &m.Model, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning message: %w", err)
		}
		m.Role = memory.Role(role)
		m.CreatedAt = parseTime(createdAt)
		out = append(out, &m)
	}

	return out, rows.Err()
}

func (d *SQLiteDriver) Messages(ctx context.Context, conversationID string, fromSeq int) ([]*memory.Message, error) {
	rows, err := d.db.QueryContext(ctx,
		`SELECT id, conversation_id, seq, role, content, token_count, model, created_at
		 FROM messages WHERE conversation_id = ? AND seq >= ? ORDER BY seq`,
		conversationID, fromSeq,
	)
	if err != nil {
		return nil, fmt.Errorf("querying messages: %w", err)
	}
	defer rows.Close()

	return d.scanMessages(rows)
}

func (d *SQLiteDriver) MessageRange(ctx context.Context, conversationID string, startSeq, endSeq int) ([]*memory.Message, error) {
	rows, err := d.db.QueryContext(ctx,
		`SELECT id, conversation_id, seq, role, content, token_count, model, created_at
		 FROM messages WHERE conversation_id = ? AND seq >= ? AND seq <= ? ORDER BY seq`,
		conversationID, startSeq, endSeq,
	)
	if err != nil {
		return nil, fmt.Errorf("querying message range: %w", err)
	}
	defer rows.Close()

	return d.scanMessages(rows)
}

// PutSummary rejects overlapping ranges inside the insert transaction so
// concurrent compactions cannot both claim a span.
func (d *SQLiteDriver) PutSummary(ctx context.Context, s *memory.Summary) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	var overlapping int
	err = tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM summaries
		 WHERE conversation_id = ? AND start_seq <= ? AND ? <= end_seq`,
		s.ConversationID, s.EndSeq, s.StartSeq,
	).Scan(&overlapping)
	if err != nil {
		return fmt.Errorf("checking summary overlap: %w", err)
	}
	if overlapping > 0 {
		return memory.ErrConflict
	}

	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now().UTC()
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO summaries(id, conversation_id, start_seq, end_seq, body, token_count, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		s.ID, s.ConversationID, s.StartSeq, s.EndSeq, s.Text, s.TokenCount, formatTime(s.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("inserting summary %s: %w", s.ID, err)
	}

	return tx.Commit()
}

func (d *SQLiteDriver) UpdateSummary(ctx context.Context, s *memory.Summary) error {
	res, err := d.db.ExecContext(ctx,
		`UPDATE summaries SET body = ?, token_count = ? WHERE id = ?`,
		s.Text, s.TokenCount, s.ID,
	)
	if err != nil {
		return fmt.Errorf("updating summary %s: %w", s.ID, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking update result: %w", err)
	}
	if n == 0 {
		return storage.ErrNotFound{Kind: "summary", ID: s.ID}
	}

	return nil
}

func (d *SQLiteDriver) DeleteSummary(ctx context.Context, id string) error {
	res, err := d.db.ExecContext(ctx, `DELETE FROM summaries WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting summary %s: %w", id, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking delete result: %w", err)
	}
	if n == 0 {
		return storage.ErrNotFound{Kind: "summary", ID: id}
	}

	return nil
}

func (d *SQLiteDriver) Summaries(ctx context.Context, conversationID string) ([]*memory.Summary, error) {
	rows, err := d.db.QueryContext(ctx,
		`SELECT id, conversation_id, start_seq, end_seq, body, token_count, created_at
		 FROM summaries WHERE conversation_id = ? ORDER BY start_seq`,
		conversationID,
	)
	if err != nil {
		return nil, fmt.Errorf("querying summaries: %w", err)
	}
	defer rows.Close()

	var out []*memory.Summary
	for rows.Next() {
		var s memory.Summary
		var createdAt string
		if err := rows.Scan(&s.ID, &s.ConversationID, &s.StartSeq, &s.EndSeq, &s.Text, &s.TokenCount, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning summary: %w", err)
		}
		s.CreatedAt = parseTime(createdAt)
		out = append(out, &s)
	}

	return out, rows.Err()
}

func (d *SQLiteDriver) PutRecord(ctx context.Context, r *memory.Record) error {
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}

	meta := "{}"
	if len(r.Metadata) > 0 {
		b, err := json.Marshal(r.Metadata)
		if err != nil {
			return fmt.Errorf("marshaling record metadata: %w", err)
		}
		meta = string(b)
	}

	_, err := d.db.ExecContext(ctx,
		`INSERT INTO records(id, type, body, owner_id, created_at, metadata)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET type = excluded.type, body = excluded.body,
			owner_id = excluded.owner_id, metadata = excluded.metadata`,
		r.ID, string(r.Type), r.Text, r.OwnerID, formatTime(r.CreatedAt), meta,
	)
	if err != nil {
		return fmt.Errorf("upserting record %s: %w", r.ID, err)
	}

	return nil
}

func scanRecord(scan func(...any) error) (*memory.Record, error) {
	var r memory.Record
	var typ, createdAt, meta string

	if err := scan(&r.ID, &typ, &r.Text, &r.OwnerID, &createdAt, &meta); err != nil {
		return nil, err
	}

	r.Type = memory.RecordType(typ)
	r.CreatedAt = parseTime(createdAt)
	if meta != "" && meta != "{}" {
		if err := json.Unmarshal([]byte(meta), &r.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshaling record metadata: %w", err)
		}
	}

	return &r, nil
}

func (d *SQLiteDriver) GetRecord(ctx context.Context, id string) (*memory.Record, error) {
	row := d.db.QueryRowContext(ctx,
		`SELECT id, type, body, owner_id, created_at, metadata FROM records WHERE id = ?`, id,
	)

	r, err := scanRecord(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound{Kind: "record", ID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("querying record %s: %w", id, err)
	}

	return r, nil
}

func (d *SQLiteDriver) DeleteRecord(ctx context.Context, id string) error {
	if _, err := d.db.ExecContext(ctx, `DELETE FROM records WHERE id = ?`, id); err != nil {
		return fmt.Errorf("deleting record %s: %w", id, err)
	}

	return nil
}

func (d *SQLiteDriver) ListRecords(ctx context.Context, f storage.RecordFilter) ([]*memory.Record, error) {
	where := []string{"owner_id = ?"}
	args := []any{f.OwnerID}

	if len(f.Types) > 0 {
		placeholders := make([]string, len(f.Types))
		for i, t := range f.Types {
			placeholders[i] = "?"
			args = append(args, string(t))
		}
		where = append(where, fmt.Sprintf("type IN (%s)", strings.Join(placeholders, ",")))
	}

	if f.Keyword != "" {
		where = append(where, "body LIKE ? COLLATE NOCASE")
		args = append(args, "%"+f.Keyword+"%")
	}

	query := fmt.Sprintf(
		`SELECT id, type, body, owner_id, created_at, metadata FROM records
		 WHERE %s ORDER BY created_at DESC`,
		strings.Join(where, " AND "),
	)

	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing records: %w", err)
	}
	defer rows.Close()

	var out []*memory.Record
	for rows.Next() {
		r, err := scanRecord(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scanning record: %w", err)
		}
		out = append(out, r)
	}

	return out, rows.Err()
}

func (d *SQLiteDriver) UpsertJournal(ctx context.Context, j *memory.Journal) error {
	if j.CreatedAt.IsZero() {
		j.CreatedAt = time.Now().UTC()
	}

	_, err := d.db.ExecContext(ctx,
		`INSERT INTO journals(id, owner_id, date, body, created_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(owner_id, date) DO UPDATE SET body = excluded.body, created_at = excluded.created_at`,
		j.ID, j.OwnerID, j.Date, j.Body, formatTime(j.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("upserting journal %s/%s: %w", j.OwnerID, j.Date, err)
	}

	return nil
}

func (d *SQLiteDriver) Journal(ctx context.Context, ownerID, date string) (*memory.Journal, error) {
	var j memory.Journal
	var createdAt string

	err := d.db.QueryRowContext(ctx,
		`SELECT id, owner_id, date, body, created_at FROM journals WHERE owner_id = ? AND date = ?`,
		ownerID, date,
	).Scan(&j.ID, &j.OwnerID, &j.Date, &j.Body, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound{Kind: "journal", ID: ownerID + "/" + date}
	}
	if err != nil {
		return nil, fmt.Errorf("querying journal: %w", err)
	}

	j.CreatedAt = parseTime(createdAt)

	return &j, nil
}

func (d *SQLiteDriver) Journals(ctx context.Context, ownerID string) ([]*memory.Journal, error) {
	rows, err := d.db.QueryContext(ctx,
		`SELECT id, owner_id, date, body, created_at FROM journals WHERE owner_id = ? ORDER BY date DESC`,
		ownerID,
	)
	if err != nil {
		return nil, fmt.Errorf("listing journals: %w", err)
	}
	defer rows.Close()

	var out []*memory.Journal
	for rows.Next() {
		var j memory.Journal
		var createdAt string
		if err := rows.Scan(&j.ID, &j.OwnerID, &j.Date, &j.Body, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning journal: %w", err)
		}
		j.CreatedAt = parseTime(createdAt)
		out = append(out, &j)
	}

	return out, rows.Err()
}

func (d *SQLiteDriver) AddObservation(ctx context.Context, o *memory.Observation) error {
	if o.CreatedAt.IsZero() {
		o.CreatedAt = time.Now().UTC()
	}

	_, err := d.db.ExecContext(ctx,
		`INSERT INTO observations(id, owner_id, category, content, created_at) VALUES (?, ?, ?, ?, ?)`,
		o.ID, o.OwnerID, o.Category, o.Content, formatTime(o.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("inserting observation %s: %w", o.ID, err)
	}

	return nil
}

func (d *SQLiteDriver) Observations(ctx context.Context, ownerID, category string) ([]*memory.Observation, error) {
	query := `SELECT id, owner_id, category, content, created_at FROM observations WHERE owner_id = ?`
	args := []any{ownerID}

	if category != "" {
		query += ` AND category = ?`
		args = append(args, category)
	}

	query += ` ORDER BY created_at DESC`

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing observations: %w", err)
	}
	defer rows.Close()

	var out []*memory.Observation
	for rows.Next() {
		var o memory.Observation
		var createdAt string
		if err := rows.Scan(&o.ID, &o.OwnerID, &o.Category, &o.Content, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning observation: %w", err)
		}
		o.CreatedAt = parseTime(createdAt)
		out = append(out, &o)
	}

	return out, rows.Err()
}

func (d *SQLiteDriver) UpsertProfile(ctx context.Context, p *memory.Profile) error {
	p.UpdatedAt = time.Now().UTC()

	_, err := d.db.ExecContext(ctx,
		`INSERT INTO profiles(owner_id, background, communication_style, updated_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(owner_id) DO UPDATE SET background = excluded.background,
			communication_style = excluded.communication_style, updated_at = excluded.updated_at`,
		p.OwnerID, p.Background, p.CommunicationStyle, formatTime(p.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("upserting profile %s: %w", p.OwnerID, err)
	}

	return nil
}

func (d *SQLiteDriver) Profile(ctx context.Context, ownerID string) (*memory.Profile, error) {
	var p memory.Profile
	var updatedAt string

	err := d.db.QueryRowContext(ctx,
		`SELECT owner_id, background, communication_style, updated_at FROM profiles WHERE owner_id = ?`,
		ownerID,
	).Scan(&p.OwnerID, &p.Background, &p.CommunicationStyle, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound{Kind: "profile", ID: ownerID}
	}
	if err != nil {
		return nil, fmt.Errorf("querying profile: %w", err)
	}

	p.UpdatedAt = parseTime(updatedAt)

	return &p, nil
}

func (d *SQLiteDriver) putNodeTx(ctx context.Context, tx *sql.Tx, n *memory.Node, update bool) error {
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}

	if update {
		res, err := tx.ExecContext(ctx,
			`UPDATE nodes SET type = ?, content = ?, confidence = ?, state = ?, superseded_by = ? WHERE id = ?`,
			string(n.Type), n.Content, n.Confidence, string(n.State), n.SupersededBy, n.ID,
		)
		if err != nil {
			return fmt.Errorf("updating node %s: %w", n.ID, err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("checking node update: %w", err)
		}
		if affected == 0 {
			return storage.ErrNotFound{Kind: "node", ID: n.ID}
		}
	} else {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO nodes(id, type, content, confidence, state, superseded_by, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			n.ID, string(n.Type), n.Content, n.Confidence, string(n.State), n.SupersededBy, formatTime(n.CreatedAt),
		)
		if err != nil {
			return fmt.Errorf("inserting node %s: %w", n.ID, err)
		}
	}

	// Evidence refs only ever grow; INSERT OR IGNORE keeps re-writes idempotent.
	for _, ref := range n.EvidenceRefs {
		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO node_evidence(node_id, ref) VALUES (?, ?)`,
			n.ID, ref,
		); err != nil {
			return fmt.Errorf("inserting evidence for node %s: %w", n.ID, err)
		}
	}

	return nil
}

func (d *SQLiteDriver) PutNode(ctx context.Context, n *memory.Node) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if err := d.putNodeTx(ctx, tx, n, false); err != nil {
		return err
	}

	return tx.Commit()
}

func (d *SQLiteDriver) UpdateNode(ctx context.Context, n *memory.Node) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if err := d.putNodeTx(ctx, tx, n, true); err != nil {
		return err
	}

	return tx.Commit()
}

func (d *SQLiteDriver) nodeEvidence(ctx context.Context, nodeID string) ([]string, error) {
	rows, err := d.db.QueryContext(ctx,
		`SELECT ref FROM node_evidence WHERE node_id = ? ORDER BY rowid`, nodeID,
	)
	if err != nil {
		return nil, fmt.Errorf("querying evidence: %w", err)
	}
	defer rows.Close()

	var refs []string
	for rows.Next() {
		var ref string
		if err := rows.Scan(&ref); err != nil {
			return nil, fmt.Errorf("scanning evidence: %w", err)
		}
		refs = append(refs, ref)
	}

	return refs, rows.Err()
}

func (d *SQLiteDriver) GetNode(ctx context.Context, id string) (*memory.Node, error) {
	var n memory.Node
	var typ, state, createdAt string

	err := d.db.QueryRowContext(ctx,
		`SELECT id, type, content, confidence, state, superseded_by, created_at FROM nodes WHERE id = ?`, id,
	).Scan(&n.ID, &typ, &n.Content, &n.Confidence, &state, &n.SupersededBy, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound{Kind: "node", ID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("querying node %s: %w", id, err)
	}

	n.Type = memory.NodeType(typ)
	n.State = memory.NodeState(state)
	n.CreatedAt = parseTime(createdAt)

	refs, err := d.nodeEvidence(ctx, id)
	if err != nil {
		return nil, err
	}
	n.EvidenceRefs = refs

	return &n, nil
}

func (d *SQLiteDriver) Nodes(ctx context.Context, f storage.NodeFilter) ([]*memory.Node, error) {
	where := []string{"1=1"}
	var args []any

	if len(f.Types) > 0 {
		placeholders := make([]string, len(f.Types))
		for i, t := range f.Types {
			placeholders[i] = "?"
			args = append(args, string(t))
		}
		where = append(where, fmt.Sprintf("type IN (%s)", strings.Join(placeholders, ",")))
	}

	if len(f.States) > 0 {
		placeholders := make([]string, len(f.States))
		for i, s := range f.States {
			placeholders[i] = "?"
			args = append(args, string(s))
		}
		where = append(where, fmt.Sprintf("state IN (%s)", strings.Join(placeholders, ",")))
	}

	query := fmt.Sprintf(
		`SELECT id, type, content, confidence, state, superseded_by, created_at FROM nodes
		 WHERE %s ORDER BY created_at`,
		strings.Join(where, " AND "),
	)

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing nodes: %w", err)
	}
	defer rows.Close()

	var out []*memory.Node
	for rows.Next() {
		var n memory.Node
		var typ, state, createdAt string
		if err := rows.Scan(&n.ID, &typ, &n.Content, &n.Confidence, &state, &n.SupersededBy, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning node: %w", err)
		}
		n.Type = memory.NodeType(typ)
		n.State = memory.NodeState(state)
		n.CreatedAt = parseTime(createdAt)
		out = append(out, &n)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	rows.Close()

	for _, n := range out {
		refs, err := d.nodeEvidence(ctx, n.ID)
		if err != nil {
			return nil, err
		}
		n.EvidenceRefs = refs
	}

	return out, nil
}

func (d *SQLiteDriver) PutEdge(ctx context.Context, e *memory.Edge) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}

	_, err := d.db.ExecContext(ctx,
		`INSERT INTO edges(id, from_id, to_id, relation, created_at) VALUES (?, ?, ?, ?, ?)`,
		e.ID, e.From, e.To, string(e.Relation), formatTime(e.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("inserting edge %s: %w", e.ID, err)
	}

	return nil
}

func (d *SQLiteDriver) Edges(ctx context.Context, nodeID string) ([]*memory.Edge, error) {
	query := `SELECT id, from_id, to_id, relation, created_at FROM edges`
	var args []any

	if nodeID != "" {
		query += ` WHERE from_id = ? OR to_id = ?`
		args = append(args, nodeID, nodeID)
	}

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing edges: %w", err)
	}
	defer rows.Close()

	var out []*memory.Edge
	for rows.Next() {
		var e memory.Edge
		var relation, createdAt string
		if err := rows.Scan(&e.ID, &e.From, &e.To, &relation, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning edge: %w", err)
		}
		e.Relation = memory.RelationType(relation)
		e.CreatedAt = parseTime(createdAt)
		out = append(out, &e)
	}

	return out, rows.Err()
}

func (d *SQLiteDriver) Stats(ctx context.Context) (*storage.Stats, error) {
	stats := &storage.Stats{}

	counts := []struct {
		table string
		dst   *int
	}{
		{"conversations", &stats.Conversations},
		{"messages", &stats.Messages},
		{"summaries", &stats.Summaries},
		{"records", &stats.Records},
		{"journals", &stats.Journals},
		{"observations", &stats.Observations},
		{"nodes", &stats.Nodes},
		{"edges", &stats.Edges},
	}

	for _, c := range counts {
		if err := d.db.QueryRowContext(ctx,
			fmt.Sprintf("SELECT COUNT(*) FROM %s", c.table),
		).Scan(c.dst); err != nil {
			return nil, fmt.Errorf("counting %s: %w", c.table, err)
		}
	}

	return stats, nil
}

// Close closes the underlying database.
func (d *SQLiteDriver) Close() error {
	return d.db.Close()
}

var _ storage.Driver = (*SQLiteDriver)(nil)
