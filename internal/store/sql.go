// ABOUTME: database/sql implementation of the Store interface with automatic schema creation
// ABOUTME: Supports Postgres (lib/pq) in production and SQLite (modernc) for local use and tests

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// SQLStore implements the Store interface on database/sql.
type SQLStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLStore opens a store using the given driver ("postgres" or "sqlite")
// and DSN. The schema is created if it does not exist.
func NewSQLStore(driver, dsn string) (*SQLStore, error) {
	logger := slog.Default().With("component", "store")

	var timestampType string
	switch driver {
	case "postgres":
		timestampType = "TIMESTAMPTZ"
	case "sqlite":
		timestampType = "DATETIME"
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if driver == "sqlite" {
		// A single connection keeps :memory: databases coherent across the pool
		db.SetMaxOpenConns(1)
		if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
			db.Close()
			return nil, fmt.Errorf("enabling WAL mode: %w", err)
		}
	}

	s := &SQLStore{db: db, logger: logger}

	if err := s.createSchema(timestampType); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("store initialized", "driver", driver)
	return s, nil
}

// createSchema creates the tables if they don't exist. The timestamp column
// type is the only dialect difference between the supported drivers.
func (s *SQLStore) createSchema(timestampType string) error {
	schema := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS messages (
			id TEXT PRIMARY KEY,
			conversation_id TEXT NOT NULL UNIQUE,
			freshchat_conversation_id TEXT,
			message TEXT NOT NULL,
			created_at %[1]s NOT NULL,
			user_id TEXT,
			user_name TEXT,
			user_email TEXT,
			state_of_emotion TEXT,
			user_tone TEXT,
			priority_level TEXT,
			emoji_suggestion TEXT,
			cf_subscription_id TEXT,
			cf_student_id TEXT,
			assigned_agent_id TEXT,
			is_resolved BOOLEAN NOT NULL DEFAULT FALSE
		);

		CREATE TABLE IF NOT EXISTS message_details (
			message_id TEXT PRIMARY KEY,
			conversation_id TEXT NOT NULL,
			message TEXT NOT NULL,
			created_at %[1]s NOT NULL,
			user_id TEXT,
			user_name TEXT,
			user_email TEXT,
			state_of_emotion TEXT,
			user_tone TEXT,
			priority_level TEXT,
			emoji_suggestion TEXT
		);

		CREATE INDEX IF NOT EXISTS idx_message_details_conversation
			ON message_details(conversation_id);

		CREATE INDEX IF NOT EXISTS idx_messages_resolved_created
			ON messages(is_resolved, created_at);
	`, timestampType)

	_, err := s.db.Exec(schema)
	return err
}

const conversationColumns = `id, conversation_id, freshchat_conversation_id, message, created_at,
	user_id, user_name, user_email,
	state_of_emotion, user_tone, priority_level, emoji_suggestion,
	cf_subscription_id, cf_student_id, assigned_agent_id, is_resolved`

// FindByConversationID returns the record for a conversation id, or ErrNotFound.
func (s *SQLStore) FindByConversationID(ctx context.Context, conversationID string) (*Conversation, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+conversationColumns+`
		FROM messages
		WHERE conversation_id = $1`, conversationID)

	conv, err := scanConversation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying conversation: %w", err)
	}
	return conv, nil
}

// InsertIfAbsent inserts the first record for a conversation id.
// The unique constraint on conversation_id makes the insert idempotent:
// a conflicting insert writes nothing and reports ErrConversationExists.
func (s *SQLStore) InsertIfAbsent(ctx context.Context, conv *Conversation) error {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO messages (`+conversationColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		ON CONFLICT (conversation_id) DO NOTHING`,
		conv.MessageID, conv.ConversationID, conv.ExternalConversationID,
		conv.Text, conv.CreatedAt,
		conv.UserID, conv.UserName, conv.UserEmail,
		conv.StateOfEmotion, conv.UserTone, conv.PriorityLevel, conv.EmojiSuggestion,
		conv.SubscriptionID, conv.StudentID, conv.AssignedAgentID, conv.Resolved,
	)
	if err != nil {
		return fmt.Errorf("inserting conversation: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking insert result: %w", err)
	}
	if affected == 0 {
		return ErrConversationExists
	}
	return nil
}

// AppendDetail records a follow-up flush. Duplicate message ids are silently
// ignored so a redelivered flush cannot double-append.
func (s *SQLStore) AppendDetail(ctx context.Context, detail *Detail) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO message_details (
			message_id, conversation_id, message, created_at,
			user_id, user_name, user_email,
			state_of_emotion, user_tone, priority_level, emoji_suggestion
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (message_id) DO NOTHING`,
		detail.MessageID, detail.ConversationID, detail.Text, detail.CreatedAt,
		detail.UserID, detail.UserName, detail.UserEmail,
		detail.StateOfEmotion, detail.UserTone, detail.PriorityLevel, detail.EmojiSuggestion,
	)
	if err != nil {
		return fmt.Errorf("appending detail: %w", err)
	}
	return nil
}

// UpdateAssignedAgent stamps the assigned agent on a conversation record.
func (s *SQLStore) UpdateAssignedAgent(ctx context.Context, conversationID, agentID string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE messages SET assigned_agent_id = $2 WHERE conversation_id = $1`,
		conversationID, agentID)
	if err != nil {
		return fmt.Errorf("updating assigned agent: %w", err)
	}
	return nil
}

// UpdateResolution sets the resolved flag on a conversation record.
func (s *SQLStore) UpdateResolution(ctx context.Context, conversationID string, resolved bool) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE messages SET is_resolved = $2 WHERE conversation_id = $1`,
		conversationID, resolved)
	if err != nil {
		return fmt.Errorf("updating resolution: %w", err)
	}
	return nil
}

// ListUnresolved returns unresolved conversations, newest first.
func (s *SQLStore) ListUnresolved(ctx context.Context) ([]*Conversation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+conversationColumns+`
		FROM messages
		WHERE is_resolved = FALSE
		ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("querying unresolved conversations: %w", err)
	}
	defer rows.Close()

	var convs []*Conversation
	for rows.Next() {
		conv, err := scanConversation(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning conversation: %w", err)
		}
		convs = append(convs, conv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating conversations: %w", err)
	}
	return convs, nil
}

// Close closes the underlying database handle.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

// scanner covers both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanConversation(row scanner) (*Conversation, error) {
	var conv Conversation
	var externalID, userID, userName, userEmail sql.NullString
	var emotion, tone, priority, emoji sql.NullString
	var subscriptionID, studentID, agentID sql.NullString

	err := row.Scan(
		&conv.MessageID, &conv.ConversationID, &externalID,
		&conv.Text, &conv.CreatedAt,
		&userID, &userName, &userEmail,
		&emotion, &tone, &priority, &emoji,
		&subscriptionID, &studentID, &agentID, &conv.Resolved,
	)
	if err != nil {
		return nil, err
	}

	conv.ExternalConversationID = externalID.String
	conv.UserID = userID.String
	conv.UserName = userName.String
	conv.UserEmail = userEmail.String
	conv.StateOfEmotion = emotion.String
	conv.UserTone = tone.String
	conv.PriorityLevel = priority.String
	conv.EmojiSuggestion = emoji.String
	conv.SubscriptionID = subscriptionID.String
	conv.StudentID = studentID.String
	conv.AssignedAgentID = agentID.String
	return &conv, nil
}
