package store

import (
	"context"
	"time"

	"github.com/Tyrowin/chatrelay/internal/relay"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS chat_users (
	id         TEXT PRIMARY KEY,
	name       TEXT NOT NULL,
	email      TEXT NOT NULL UNIQUE,
	created_at TIMESTAMPTZ NOT NULL
);
CREATE TABLE IF NOT EXISTS chat_messages (
	id           TEXT PRIMARY KEY,
	conversation TEXT NOT NULL,
	sender_id    TEXT NOT NULL,
	receiver_id  TEXT NOT NULL,
	payload      TEXT NOT NULL,
	sent_at      TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS chat_messages_conversation_idx ON chat_messages (conversation, sent_at);
`

// Postgres stores accounts and messages in two tables created on open.
type Postgres struct {
	pool  *pgxpool.Pool
	limit int
}

// OpenPostgres connects to dsn and makes sure the schema exists.
func OpenPostgres(ctx context.Context, dsn string, limit int) (*Postgres, error) {
	if dsn == "" {
		return nil, errors.New("postgres: dsn is required")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, errors.Wrap(err, "postgres: connect")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, errors.Wrap(err, "postgres: ping")
	}
	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, errors.Wrap(err, "postgres: create schema")
	}
	return &Postgres{pool: pool, limit: limit}, nil
}

func (s *Postgres) CreateUser(ctx context.Context, account Account) (Account, error) {
	account = prepareAccount(account, uuid.NewString, time.Now())
	tag, err := s.pool.Exec(ctx,
		`INSERT INTO chat_users (id, name, email, created_at) VALUES ($1, $2, $3, $4)
		 ON CONFLICT (email) DO NOTHING`,
		account.ID, account.Name, account.Email, account.CreatedAt)
	if err != nil {
		return Account{}, errors.Wrap(err, "postgres: create user")
	}
	if tag.RowsAffected() == 0 {
		return Account{}, ErrUserExists
	}
	return account, nil
}

func (s *Postgres) FindUser(ctx context.Context, email string) (Account, error) {
	var account Account
	err := s.pool.QueryRow(ctx,
		`SELECT id, name, email, created_at FROM chat_users WHERE email = $1`, email).
		Scan(&account.ID, &account.Name, &account.Email, &account.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Account{}, ErrNotFound
	}
	if err != nil {
		return Account{}, errors.Wrap(err, "postgres: find user")
	}
	account.CreatedAt = account.CreatedAt.UTC()
	return account, nil
}

func (s *Postgres) ListUsers(ctx context.Context) ([]Account, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, name, email, created_at FROM chat_users ORDER BY created_at, email`)
	if err != nil {
		return nil, errors.Wrap(err, "postgres: list users")
	}
	accounts, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Account, error) {
		var account Account
		err := row.Scan(&account.ID, &account.Name, &account.Email, &account.CreatedAt)
		account.CreatedAt = account.CreatedAt.UTC()
		return account, err
	})
	return accounts, errors.Wrap(err, "postgres: scan users")
}

func (s *Postgres) SaveMessage(ctx context.Context, msg relay.Message) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO chat_messages (id, conversation, sender_id, receiver_id, payload, sent_at)
		 VALUES ($1, $2, $3, $4, $5, $6) ON CONFLICT (id) DO NOTHING`,
		msg.ID, conversationID(msg.SenderID, msg.ReceiverID),
		string(msg.SenderID), string(msg.ReceiverID), msg.Payload, msg.Timestamp)
	return errors.Wrap(err, "postgres: save message")
}

func (s *Postgres) FindMessages(ctx context.Context, a, b relay.UserID) ([]relay.Message, error) {
	// NULL disables the limit.
	var limit *int
	if s.limit > 0 {
		limit = &s.limit
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, sender_id, receiver_id, payload, sent_at FROM (
			SELECT * FROM chat_messages WHERE conversation = $1
			ORDER BY sent_at DESC, id DESC LIMIT $2
		) recent ORDER BY sent_at, id`,
		conversationID(a, b), limit)
	if err != nil {
		return nil, errors.Wrap(err, "postgres: find messages")
	}
	messages, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (relay.Message, error) {
		var (
			msg              relay.Message
			sender, receiver string
		)
		err := row.Scan(&msg.ID, &sender, &receiver, &msg.Payload, &msg.Timestamp)
		msg.SenderID = relay.UserID(sender)
		msg.ReceiverID = relay.UserID(receiver)
		msg.Timestamp = msg.Timestamp.UTC()
		return msg, err
	})
	return messages, errors.Wrap(err, "postgres: scan messages")
}

func (s *Postgres) Close() error {
	s.pool.Close()
	return nil
}
