package convstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
)

// SQLiteStore persists conversations in SQLite. Messages live in their own
// table keyed by (conversation_id, ordinal) so append order is the read order.
type SQLiteStore struct {
	db *sql.DB
}

var _ Store = &SQLiteStore{}

// SQLiteDSNForFile builds a DSN for a database file with WAL and foreign keys
// enabled, suitable for concurrent turn processing.
func SQLiteDSNForFile(path string) (string, error) {
	if strings.TrimSpace(path) == "" {
		return "", errors.New("sqlite store: empty database path")
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", errors.Wrap(err, "sqlite store: resolve database path")
	}
	q := url.Values{}
	q.Set("_journal_mode", "WAL")
	q.Set("_busy_timeout", "5000")
	q.Set("_foreign_keys", "1")
	return "file:" + abs + "?" + q.Encode(), nil
}

func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, errors.New("sqlite store: empty dsn")
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "sqlite store: open")
	}
	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteStore) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS conversations (
			id TEXT PRIMARY KEY,
			tenant_id TEXT NOT NULL,
			title TEXT NOT NULL DEFAULT 'New Conversation',
			summary TEXT NOT NULL DEFAULT '',
			summary_up_to_index INTEGER NOT NULL DEFAULT 0,
			is_active INTEGER NOT NULL DEFAULT 1,
			version INTEGER NOT NULL DEFAULT 1,
			created_at_ms INTEGER NOT NULL,
			updated_at_ms INTEGER NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS messages (
			conversation_id TEXT NOT NULL,
			ordinal INTEGER NOT NULL,
			id TEXT NOT NULL,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			metadata_json TEXT,
			created_at_ms INTEGER NOT NULL,
			PRIMARY KEY (conversation_id, ordinal),
			FOREIGN KEY (conversation_id) REFERENCES conversations(id) ON DELETE CASCADE
		);`,
		`CREATE INDEX IF NOT EXISTS conversations_by_tenant ON conversations(tenant_id, is_active, updated_at_ms DESC);`,
	}
	for _, st := range stmts {
		if _, err := s.db.Exec(st); err != nil {
			return errors.Wrap(err, "sqlite store: migrate")
		}
	}
	return nil
}

func (s *SQLiteStore) Create(ctx context.Context, tenantID string, title string) (*Conversation, error) {
	if strings.TrimSpace(tenantID) == "" {
		return nil, errors.New("sqlite store: empty tenant id")
	}
	if title == "" {
		title = "New Conversation"
	}
	now := time.Now()
	conv := &Conversation{
		ID:        uuid.NewString(),
		TenantID:  tenantID,
		Title:     title,
		IsActive:  true,
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO conversations (id, tenant_id, title, created_at_ms, updated_at_ms) VALUES (?, ?, ?, ?, ?)`,
		conv.ID, conv.TenantID, conv.Title, now.UnixMilli(), now.UnixMilli())
	if err != nil {
		return nil, errors.Wrap(err, "sqlite store: create conversation")
	}
	return conv, nil
}

func (s *SQLiteStore) Get(ctx context.Context, tenantID string, id string) (*Conversation, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, tenant_id, title, summary, summary_up_to_index, is_active, version, created_at_ms, updated_at_ms
		 FROM conversations WHERE id = ? AND tenant_id = ?`, id, tenantID)

	var conv Conversation
	var isActive int
	var createdMs, updatedMs int64
	err := row.Scan(&conv.ID, &conv.TenantID, &conv.Title, &conv.Summary, &conv.SummaryUpToIndex,
		&isActive, &conv.Version, &createdMs, &updatedMs)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "sqlite store: get conversation")
	}
	conv.IsActive = isActive != 0
	conv.CreatedAt = time.UnixMilli(createdMs)
	conv.UpdatedAt = time.UnixMilli(updatedMs)

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, role, content, metadata_json, created_at_ms
		 FROM messages WHERE conversation_id = ? ORDER BY ordinal ASC`, id)
	if err != nil {
		return nil, errors.Wrap(err, "sqlite store: load messages")
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var m Message
		var metadataJSON sql.NullString
		var createdAtMs int64
		if err := rows.Scan(&m.ID, &m.Role, &m.Content, &metadataJSON, &createdAtMs); err != nil {
			return nil, errors.Wrap(err, "sqlite store: scan message")
		}
		m.CreatedAt = time.UnixMilli(createdAtMs)
		if metadataJSON.Valid && metadataJSON.String != "" {
			md := &MessageMetadata{}
			if err := json.Unmarshal([]byte(metadataJSON.String), md); err != nil {
				return nil, errors.Wrap(err, "sqlite store: decode message metadata")
			}
			m.Metadata = md
		}
		conv.Messages = append(conv.Messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "sqlite store: iterate messages")
	}
	return &conv, nil
}

func (s *SQLiteStore) ListByTenant(ctx context.Context, tenantID string) ([]Info, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT c.id, c.tenant_id, c.title, c.created_at_ms, c.updated_at_ms,
		        (SELECT COUNT(1) FROM messages m WHERE m.conversation_id = c.id)
		 FROM conversations c
		 WHERE c.tenant_id = ? AND c.is_active = 1
		 ORDER BY c.updated_at_ms DESC`, tenantID)
	if err != nil {
		return nil, errors.Wrap(err, "sqlite store: list conversations")
	}
	defer func() { _ = rows.Close() }()
	infos := []Info{}
	for rows.Next() {
		var info Info
		var createdMs, updatedMs int64
		if err := rows.Scan(&info.ID, &info.TenantID, &info.Title, &createdMs, &updatedMs, &info.MessageCount); err != nil {
			return nil, errors.Wrap(err, "sqlite store: scan conversation row")
		}
		info.CreatedAt = time.UnixMilli(createdMs)
		info.UpdatedAt = time.UnixMilli(updatedMs)
		infos = append(infos, info)
	}
	return infos, rows.Err()
}

func (s *SQLiteStore) AppendTurn(ctx context.Context, id string, user Message, assistant Message) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "sqlite store: begin append")
	}
	defer func() { _ = tx.Rollback() }()

	var count int
	err = tx.QueryRowContext(ctx, `SELECT COUNT(1) FROM messages WHERE conversation_id = ?`, id).Scan(&count)
	if err != nil {
		return errors.Wrap(err, "sqlite store: count messages")
	}
	now := time.Now()
	for i, m := range []Message{fillMessage(user, now), fillMessage(assistant, now)} {
		var metadataJSON any
		if m.Metadata != nil {
			b, err := json.Marshal(m.Metadata)
			if err != nil {
				return errors.Wrap(err, "sqlite store: encode message metadata")
			}
			metadataJSON = string(b)
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO messages (conversation_id, ordinal, id, role, content, metadata_json, created_at_ms)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			id, count+i, m.ID, m.Role, m.Content, metadataJSON, m.CreatedAt.UnixMilli())
		if err != nil {
			return errors.Wrap(err, "sqlite store: insert message")
		}
	}
	res, err := tx.ExecContext(ctx,
		`UPDATE conversations SET version = version + 1, updated_at_ms = ? WHERE id = ?`,
		now.UnixMilli(), id)
	if err != nil {
		return errors.Wrap(err, "sqlite store: bump conversation version")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return errors.Wrap(tx.Commit(), "sqlite store: commit append")
}

func (s *SQLiteStore) UpdateSummary(ctx context.Context, id string, summary string, upToIndex int) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE conversations
		 SET summary = ?, summary_up_to_index = ?, version = version + 1, updated_at_ms = ?
		 WHERE id = ? AND summary_up_to_index <= ?`,
		summary, upToIndex, time.Now().UnixMilli(), id, upToIndex)
	if err != nil {
		return errors.Wrap(err, "sqlite store: update summary")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		var exists int
		if err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM conversations WHERE id = ?`, id).Scan(&exists); err != nil {
			return errors.Wrap(err, "sqlite store: check conversation")
		}
		if exists == 0 {
			return ErrNotFound
		}
		return errors.Wrapf(ErrConflict, "summaryUpToIndex would move backwards to %d", upToIndex)
	}
	return nil
}

func (s *SQLiteStore) Deactivate(ctx context.Context, tenantID string, id string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE conversations SET is_active = 0, version = version + 1, updated_at_ms = ?
		 WHERE id = ? AND tenant_id = ?`,
		time.Now().UnixMilli(), id, tenantID)
	if err != nil {
		return errors.Wrap(err, "sqlite store: deactivate conversation")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
