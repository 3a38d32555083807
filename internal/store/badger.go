package store

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"time"

	"github.com/Tyrowin/chatrelay/internal/relay"
	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// Badger stores accounts and messages in an embedded BadgerDB.
//
// Keys:
//
//	user:{email}                              -> Account (JSON)
//	msg:{conversation}:{unix nanos, 19 digits}:{message id} -> Message (JSON)
//
// The zero padded timestamp makes a prefix scan return a conversation in
// chronological order; the message ID keeps two messages sent in the same
// nanosecond apart.
type Badger struct {
	db    *badger.DB
	limit int
	log   *zap.Logger
}

// OpenBadger opens (or creates) the database in dir.
func OpenBadger(dir string, limit int, log *zap.Logger) (*Badger, error) {
	if dir == "" {
		return nil, errors.New("badger: path is required")
	}
	db, err := badger.Open(badger.DefaultOptions(dir).WithLoggingLevel(badger.WARNING))
	if err != nil {
		return nil, errors.Wrapf(err, "badger: open %s", dir)
	}
	return NewBadger(db, limit, log), nil
}

// NewBadger wraps an already opened database.
func NewBadger(db *badger.DB, limit int, log *zap.Logger) *Badger {
	if log == nil {
		log = zap.NewNop()
	}
	return &Badger{db: db, limit: limit, log: log}
}

func userKey(email string) []byte {
	return []byte("user:" + email)
}

func messagePrefix(a, b relay.UserID) []byte {
	return []byte("msg:" + conversationID(a, b) + ":")
}

func messageKey(msg relay.Message) []byte {
	return fmt.Appendf(messagePrefix(msg.SenderID, msg.ReceiverID), "%019d:%s", msg.Timestamp.UnixNano(), msg.ID)
}

func (s *Badger) CreateUser(_ context.Context, account Account) (Account, error) {
	account = prepareAccount(account, uuid.NewString, time.Now())
	value, err := json.Marshal(account)
	if err != nil {
		return Account{}, errors.Wrap(err, "badger: encode account")
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		key := userKey(account.Email)
		if _, err := txn.Get(key); err == nil {
			return ErrUserExists
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		return txn.Set(key, value)
	})
	// A conflict means a concurrent transaction committed the same key first.
	if errors.Is(err, ErrUserExists) || errors.Is(err, badger.ErrConflict) {
		return Account{}, ErrUserExists
	}
	if err != nil {
		return Account{}, errors.Wrap(err, "badger: create user")
	}
	return account, nil
}

func (s *Badger) FindUser(_ context.Context, email string) (Account, error) {
	var account Account
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(userKey(email))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &account)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return Account{}, ErrNotFound
	}
	if err != nil {
		return Account{}, errors.Wrap(err, "badger: find user")
	}
	return account, nil
}

func (s *Badger) ListUsers(_ context.Context) ([]Account, error) {
	var accounts []Account
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefix := []byte("user:")
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var account Account
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &account)
			}); err != nil {
				return err
			}
			accounts = append(accounts, account)
		}
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "badger: list users")
	}
	slices.SortStableFunc(accounts, func(a, b Account) int {
		return a.CreatedAt.Compare(b.CreatedAt)
	})
	return accounts, nil
}

func (s *Badger) SaveMessage(_ context.Context, msg relay.Message) error {
	value, err := json.Marshal(msg)
	if err != nil {
		return errors.Wrap(err, "badger: encode message")
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(messageKey(msg), value)
	})
	return errors.Wrap(err, "badger: save message")
}

func (s *Badger) FindMessages(_ context.Context, a, b relay.UserID) ([]relay.Message, error) {
	var messages []relay.Message
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefix := messagePrefix(a, b)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var msg relay.Message
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &msg)
			}); err != nil {
				return err
			}
			messages = append(messages, msg)
		}
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "badger: find messages")
	}
	return tail(messages, s.limit), nil
}

func (s *Badger) Close() error {
	s.log.Info("Closing BadgerDB")
	return s.db.Close()
}
