package store

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/Tyrowin/chatrelay/internal/relay"
	"github.com/google/uuid"
)

// Memory keeps accounts and messages in process memory. It is the default
// backend and the one used by tests.
type Memory struct {
	mu       sync.RWMutex
	accounts map[string]Account
	order    []string
	messages map[string][]relay.Message
	limit    int
}

// NewMemory creates an empty store. limit caps FindMessages, zero means no cap.
func NewMemory(limit int) *Memory {
	return &Memory{
		accounts: make(map[string]Account),
		messages: make(map[string][]relay.Message),
		limit:    limit,
	}
}

func (m *Memory) CreateUser(_ context.Context, account Account) (Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.accounts[account.Email]; exists {
		return Account{}, ErrUserExists
	}
	account = prepareAccount(account, uuid.NewString, time.Now())
	m.accounts[account.Email] = account
	m.order = append(m.order, account.Email)
	return account, nil
}

func (m *Memory) FindUser(_ context.Context, email string) (Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	account, ok := m.accounts[email]
	if !ok {
		return Account{}, ErrNotFound
	}
	return account, nil
}

func (m *Memory) ListUsers(_ context.Context) ([]Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	accounts := make([]Account, 0, len(m.order))
	for _, email := range m.order {
		accounts = append(accounts, m.accounts[email])
	}
	return accounts, nil
}

func (m *Memory) SaveMessage(_ context.Context, msg relay.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := conversationID(msg.SenderID, msg.ReceiverID)
	conversation := append(m.messages[id], msg)
	slices.SortStableFunc(conversation, func(a, b relay.Message) int {
		return a.Timestamp.Compare(b.Timestamp)
	})
	m.messages[id] = conversation
	return nil
}

func (m *Memory) FindMessages(_ context.Context, a, b relay.UserID) ([]relay.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return slices.Clone(tail(m.messages[conversationID(a, b)], m.limit)), nil
}

func (m *Memory) Close() error {
	return nil
}
