// ABOUTME: Tests for the SQL store against in-memory SQLite
// ABOUTME: Covers the idempotent insert contract, detail appends, updates, and listing

package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *SQLStore {
	t.Helper()
	s, err := NewSQLStore("sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func testConversation(conversationID string) *Conversation {
	return &Conversation{
		MessageID:              "msg-" + conversationID,
		ConversationID:         conversationID,
		ExternalConversationID: "ext-" + conversationID,
		Text:                   "hello there",
		CreatedAt:              time.Now().UTC().Truncate(time.Second),
		UserID:                 "user-1",
		UserName:               "Jane Doe",
		UserEmail:              "jane@example.com",
		StateOfEmotion:         "calm",
		UserTone:               "positive",
		PriorityLevel:          "low",
		EmojiSuggestion:        "🙂",
		SubscriptionID:         "sub-42",
		StudentID:              "stu-7",
	}
}

func TestInsertIfAbsent_FirstInsert(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.InsertIfAbsent(ctx, testConversation("c1")))

	got, err := s.FindByConversationID(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, "msg-c1", got.MessageID)
	assert.Equal(t, "hello there", got.Text)
	assert.Equal(t, "Jane Doe", got.UserName)
	assert.Equal(t, "calm", got.StateOfEmotion)
	assert.Equal(t, "sub-42", got.SubscriptionID)
	assert.False(t, got.Resolved)
}

func TestInsertIfAbsent_DuplicateSignalsConflict(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.InsertIfAbsent(ctx, testConversation("c1")))

	// A second insert for the same conversation id must report the
	// distinguishable conflict, not a generic error, and write nothing.
	dup := testConversation("c1")
	dup.MessageID = "msg-other"
	dup.Text = "should not be written"
	err := s.InsertIfAbsent(ctx, dup)
	require.ErrorIs(t, err, ErrConversationExists)

	got, err := s.FindByConversationID(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, "msg-c1", got.MessageID)
	assert.Equal(t, "hello there", got.Text)
}

func TestFindByConversationID_NotFound(t *testing.T) {
	s := newTestStore(t)

	_, err := s.FindByConversationID(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestAppendDetail_DuplicateMessageIDIgnored(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	detail := &Detail{
		MessageID:      "m-1",
		ConversationID: "c1",
		Text:           "follow up",
		CreatedAt:      time.Now().UTC(),
	}
	require.NoError(t, s.AppendDetail(ctx, detail))
	require.NoError(t, s.AppendDetail(ctx, detail))

	var count int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM message_details WHERE conversation_id = $1`, "c1").Scan(&count)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestUpdateAssignedAgent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.InsertIfAbsent(ctx, testConversation("c1")))
	require.NoError(t, s.UpdateAssignedAgent(ctx, "c1", "agent-9"))

	got, err := s.FindByConversationID(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, "agent-9", got.AssignedAgentID)

	// Updating a conversation that has not been persisted yet is not an error
	require.NoError(t, s.UpdateAssignedAgent(ctx, "unknown", "agent-9"))
}

func TestUpdateResolution(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.InsertIfAbsent(ctx, testConversation("c1")))
	require.NoError(t, s.UpdateResolution(ctx, "c1", true))

	got, err := s.FindByConversationID(ctx, "c1")
	require.NoError(t, err)
	assert.True(t, got.Resolved)
}

func TestListUnresolved_NewestFirstExcludingResolved(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	older := testConversation("c-old")
	older.CreatedAt = time.Now().UTC().Add(-time.Hour).Truncate(time.Second)
	newer := testConversation("c-new")
	resolved := testConversation("c-done")

	require.NoError(t, s.InsertIfAbsent(ctx, older))
	require.NoError(t, s.InsertIfAbsent(ctx, newer))
	require.NoError(t, s.InsertIfAbsent(ctx, resolved))
	require.NoError(t, s.UpdateResolution(ctx, "c-done", true))

	convs, err := s.ListUnresolved(ctx)
	require.NoError(t, err)
	require.Len(t, convs, 2)
	assert.Equal(t, "c-new", convs[0].ConversationID)
	assert.Equal(t, "c-old", convs[1].ConversationID)
}
