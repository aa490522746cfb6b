// Package storage persists chats and their messages.
package storage

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/ncolesummers/research-chat-agent/pkg/domain"
)

// ErrChatNotFound is returned for an unknown chat id
var ErrChatNotFound = errors.New("chat not found")

// Store types
const (
	TypeMemory = "memory"
	TypeSQLite = "sqlite"
)

// DefaultTitle is the title of a chat until one is generated
const DefaultTitle = "New Chat"

// New opens the store selected by storeType
func New(storeType, path string) (domain.ChatStore, error) {
	switch storeType {
	case "", TypeMemory:
		return NewMemoryStore(), nil
	case TypeSQLite:
		return NewSQLiteStore(path)
	default:
		return nil, fmt.Errorf("unknown storage type %q", storeType)
	}
}

// MemoryStore keeps chats in process memory
type MemoryStore struct {
	mu       sync.RWMutex
	chats    map[string]domain.Chat
	messages map[string][]domain.StoredMessage
	now      func() time.Time
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		chats:    make(map[string]domain.Chat),
		messages: make(map[string][]domain.StoredMessage),
		now:      time.Now,
	}
}

// CreateChat creates a chat owned by userID
func (s *MemoryStore) CreateChat(ctx context.Context, userID, title string) (*domain.Chat, error) {
	if title == "" {
		title = DefaultTitle
	}
	chat := domain.Chat{
		ID:        uuid.NewString(),
		Title:     title,
		UserID:    userID,
		CreatedAt: s.now().UTC(),
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.chats[chat.ID] = chat
	return &chat, nil
}

// GetChat returns a chat by id
func (s *MemoryStore) GetChat(ctx context.Context, chatID string) (*domain.Chat, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	chat, ok := s.chats[chatID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrChatNotFound, chatID)
	}
	return &chat, nil
}

// ListChats returns the chats of a user, newest first
func (s *MemoryStore) ListChats(ctx context.Context, userID string) ([]*domain.Chat, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*domain.Chat
	for _, chat := range s.chats {
		if chat.UserID != userID {
			continue
		}
		c := chat
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

// UpdateChatTitle renames a chat
func (s *MemoryStore) UpdateChatTitle(ctx context.Context, chatID, title string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	chat, ok := s.chats[chatID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrChatNotFound, chatID)
	}
	chat.Title = title
	s.chats[chatID] = chat
	return nil
}

// DeleteChat removes a chat and its messages
func (s *MemoryStore) DeleteChat(ctx context.Context, chatID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.chats[chatID]; !ok {
		return fmt.Errorf("%w: %s", ErrChatNotFound, chatID)
	}
	delete(s.chats, chatID)
	delete(s.messages, chatID)
	return nil
}

// AppendMessage adds a message to the end of a chat
func (s *MemoryStore) AppendMessage(ctx context.Context, chatID string, role domain.Role, content string) (*domain.StoredMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.chats[chatID]; !ok {
		return nil, fmt.Errorf("%w: %s", ErrChatNotFound, chatID)
	}
	msg := domain.StoredMessage{
		ID:        uuid.NewString(),
		ChatID:    chatID,
		Role:      role,
		Content:   content,
		CreatedAt: s.now().UTC(),
	}
	s.messages[chatID] = append(s.messages[chatID], msg)
	return &msg, nil
}

// ListMessages returns the messages of a chat in insertion order
func (s *MemoryStore) ListMessages(ctx context.Context, chatID string) ([]*domain.StoredMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.chats[chatID]; !ok {
		return nil, fmt.Errorf("%w: %s", ErrChatNotFound, chatID)
	}
	stored := s.messages[chatID]
	out := make([]*domain.StoredMessage, len(stored))
	for i := range stored {
		m := stored[i]
		out[i] = &m
	}
	return out, nil
}

// Close is a no-op
func (s *MemoryStore) Close() error {
	return nil
}
