package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/ThinkInAIXYZ/deepchat-acp-core/internal/acpcore/model"
)

// SQLiteStore is a SQLite-backed Store, following the single-writer
// connection-pool pattern used elsewhere in this codebase's local durable
// tables (one open connection, WAL-free rwc file, schema created on open).
type SQLiteStore struct {
	db *sql.DB
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore opens (creating if necessary) a SQLite database at dbPath
// and ensures its schema exists.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if err := ensureParentDir(dbPath); err != nil {
		return nil, fmt.Errorf("failed to prepare database path: %w", err)
	}

	dsn := fmt.Sprintf("file:%s?_foreign_keys=on&_mode=rwc", dbPath)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &SQLiteStore{db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

func ensureParentDir(dbPath string) error {
	dir := filepath.Dir(dbPath)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}

func (s *SQLiteStore) initSchema() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS acp_session_bindings (
			conversation_id TEXT NOT NULL,
			agent_id        TEXT NOT NULL,
			session_id      TEXT NOT NULL DEFAULT '',
			workdir         TEXT NOT NULL DEFAULT '',
			updated_at      TIMESTAMP NOT NULL,
			PRIMARY KEY (conversation_id, agent_id)
		)
	`)
	return err
}

// Get implements Store.
func (s *SQLiteStore) Get(ctx context.Context, conversationID, agentID string) (*model.PersistedSessionData, error) {
	var sessionID, workdir string
	err := s.db.QueryRowContext(ctx, `
		SELECT session_id, workdir FROM acp_session_bindings
		WHERE conversation_id = ? AND agent_id = ?
	`, conversationID, agentID).Scan(&sessionID, &workdir)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	return &model.PersistedSessionData{
		ConversationID: conversationID,
		AgentID:        agentID,
		SessionID:      sessionID,
		Workdir:        workdir,
	}, nil
}

// PutWorkdir implements Store.
func (s *SQLiteStore) PutWorkdir(ctx context.Context, conversationID, agentID, workdir string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO acp_session_bindings (conversation_id, agent_id, workdir, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(conversation_id, agent_id) DO UPDATE SET workdir = excluded.workdir, updated_at = excluded.updated_at
	`, conversationID, agentID, workdir, time.Now())
	return err
}

// PutSessionID implements Store.
func (s *SQLiteStore) PutSessionID(ctx context.Context, conversationID, agentID, sessionID string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO acp_session_bindings (conversation_id, agent_id, session_id, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(conversation_id, agent_id) DO UPDATE SET session_id = excluded.session_id, updated_at = excluded.updated_at
	`, conversationID, agentID, sessionID, time.Now())
	return err
}

// Close implements Store.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
