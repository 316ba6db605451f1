// ABOUTME: Mock Store implementation for testing
// ABOUTME: Allows tests to run without a database and to inject failures

package store

import (
	"context"
	"sort"
	"sync"
)

// MockStore is an in-memory Store implementation for testing.
type MockStore struct {
	mu            sync.RWMutex
	conversations map[string]*Conversation // keyed by conversation id
	details       map[string][]*Detail     // keyed by conversation id
	detailIDs     map[string]struct{}      // seen detail message ids

	// Err, when set, is returned by every write operation. Lets tests
	// exercise the transient-failure path.
	Err error
}

// NewMockStore creates a new MockStore.
func NewMockStore() *MockStore {
	return &MockStore{
		conversations: make(map[string]*Conversation),
		details:       make(map[string][]*Detail),
		detailIDs:     make(map[string]struct{}),
	}
}

// FindByConversationID retrieves a conversation record.
func (m *MockStore) FindByConversationID(ctx context.Context, conversationID string) (*Conversation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	conv, ok := m.conversations[conversationID]
	if !ok {
		return nil, ErrNotFound
	}
	c := *conv
	return &c, nil
}

// InsertIfAbsent stores the first record for a conversation id.
func (m *MockStore) InsertIfAbsent(ctx context.Context, conv *Conversation) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.Err != nil {
		return m.Err
	}
	if _, exists := m.conversations[conv.ConversationID]; exists {
		return ErrConversationExists
	}

	c := *conv
	m.conversations[c.ConversationID] = &c
	return nil
}

// AppendDetail records a follow-up flush.
func (m *MockStore) AppendDetail(ctx context.Context, detail *Detail) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.Err != nil {
		return m.Err
	}
	if _, seen := m.detailIDs[detail.MessageID]; seen {
		return nil
	}

	d := *detail
	m.details[d.ConversationID] = append(m.details[d.ConversationID], &d)
	m.detailIDs[d.MessageID] = struct{}{}
	return nil
}

// UpdateAssignedAgent stamps the assigned agent if the record exists.
func (m *MockStore) UpdateAssignedAgent(ctx context.Context, conversationID, agentID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.Err != nil {
		return m.Err
	}
	if conv, ok := m.conversations[conversationID]; ok {
		conv.AssignedAgentID = agentID
	}
	return nil
}

// UpdateResolution sets the resolved flag if the record exists.
func (m *MockStore) UpdateResolution(ctx context.Context, conversationID string, resolved bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.Err != nil {
		return m.Err
	}
	if conv, ok := m.conversations[conversationID]; ok {
		conv.Resolved = resolved
	}
	return nil
}

// ListUnresolved returns unresolved conversations, newest first.
func (m *MockStore) ListUnresolved(ctx context.Context) ([]*Conversation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var convs []*Conversation
	for _, conv := range m.conversations {
		if !conv.Resolved {
			c := *conv
			convs = append(convs, &c)
		}
	}
	sort.Slice(convs, func(i, j int) bool {
		return convs[i].CreatedAt.After(convs[j].CreatedAt)
	})
	return convs, nil
}

// Close is a no-op.
func (m *MockStore) Close() error {
	return nil
}

// Details returns the appended detail records for a conversation.
// Test helper; not part of the Store interface.
func (m *MockStore) Details(conversationID string) []*Detail {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*Detail, len(m.details[conversationID]))
	copy(out, m.details[conversationID])
	return out
}
