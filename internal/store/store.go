// Package store holds the account and message stores the relay relies on.
//
// Five backends satisfy Store: an in-process Memory store, an embedded Badger
// database, Redis, PostgreSQL and MongoDB. Open picks one from Config.
package store

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/Tyrowin/chatrelay/internal/relay"
	"go.uber.org/zap"
)

var (
	// ErrNotFound is returned when no account matches the lookup.
	ErrNotFound = errors.New("store: not found")
	// ErrUserExists is returned when an account with the same email exists.
	ErrUserExists = errors.New("store: user already exists")
	// ErrUnknownBackend is returned by Open for an unsupported backend name.
	ErrUnknownBackend = errors.New("store: unknown backend")
)

// Account is a registered user.
type Account struct {
	ID        string    `json:"id" bson:"_id"`
	Name      string    `json:"name" bson:"name"`
	Email     string    `json:"email" bson:"email"`
	CreatedAt time.Time `json:"createdAt" bson:"created_at"`
}

// Accounts manages registered users.
type Accounts interface {
	// CreateUser stores account, assigning ID and CreatedAt when empty.
	CreateUser(ctx context.Context, account Account) (Account, error)
	// FindUser returns the account registered with email or ErrNotFound.
	FindUser(ctx context.Context, email string) (Account, error)
	// ListUsers returns every account in registration order.
	ListUsers(ctx context.Context) ([]Account, error)
}

// Store is the full external collaborator used by the server.
type Store interface {
	Accounts
	relay.MessageStore
	Close() error
}

// Backend names accepted by Config.Backend.
const (
	BackendMemory   = "memory"
	BackendBadger   = "badger"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
	BackendMongo    = "mongo"
)

// Config selects and configures a backend.
type Config struct {
	Backend       string `yaml:"backend"`
	BadgerPath    string `yaml:"badger_path"`
	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`
	PostgresDSN   string `yaml:"postgres_dsn"`
	MongoURI      string `yaml:"mongo_uri"`
	MongoDatabase string `yaml:"mongo_database"`
	// HistoryLimit caps FindMessages to the most recent messages. Zero means no cap.
	HistoryLimit int `yaml:"history_limit"`
}

// Open connects the backend named by cfg.Backend.
func Open(ctx context.Context, cfg Config, log *zap.Logger) (Store, error) {
	if log == nil {
		log = zap.NewNop()
	}
	log.Info("Opening store", zap.String("backend", cfg.Backend))

	switch cfg.Backend {
	case "", BackendMemory:
		return NewMemory(cfg.HistoryLimit), nil
	case BackendBadger:
		return OpenBadger(cfg.BadgerPath, cfg.HistoryLimit, log)
	case BackendRedis:
		return OpenRedis(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.HistoryLimit)
	case BackendPostgres:
		return OpenPostgres(ctx, cfg.PostgresDSN, cfg.HistoryLimit)
	case BackendMongo:
		return OpenMongo(ctx, cfg.MongoURI, cfg.MongoDatabase, cfg.HistoryLimit)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, cfg.Backend)
	}
}

// conversationID names the stored conversation between a and b. Each identity
// is base64url encoded, so the '.' separator cannot occur inside either part.
func conversationID(a, b relay.UserID) string {
	if b < a {
		a, b = b, a
	}
	enc := base64.RawURLEncoding
	return enc.EncodeToString([]byte(a)) + "." + enc.EncodeToString([]byte(b))
}

// prepareAccount fills the generated fields of a new account.
func prepareAccount(account Account, newID func() string, now time.Time) Account {
	if account.ID == "" {
		account.ID = newID()
	}
	if account.CreatedAt.IsZero() {
		account.CreatedAt = now
	}
	account.CreatedAt = account.CreatedAt.UTC()
	return account
}

// tail keeps the last limit messages. limit <= 0 keeps all of them.
func tail(messages []relay.Message, limit int) []relay.Message {
	if limit <= 0 || len(messages) <= limit {
		return messages
	}
	return messages[len(messages)-limit:]
}
