package store

import (
	"context"
	"encoding/json"
	"slices"
	"time"

	"github.com/Tyrowin/chatrelay/internal/relay"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

const (
	redisUsersKey  = "chat:users"
	redisUserKey   = "chat:user:"
	redisStreamKey = "chat:dm:"
	redisDataField = "data"
	// Streams are trimmed approximately past this many entries.
	redisStreamMaxLen = 100_000
)

// Redis stores accounts as JSON strings indexed by a sorted set, and each
// conversation as a stream.
type Redis struct {
	rdb   redis.UniversalClient
	limit int
}

// OpenRedis connects to addr and checks the connection.
func OpenRedis(ctx context.Context, addr, password string, db, limit int) (*Redis, error) {
	if addr == "" {
		return nil, errors.New("redis: address is required")
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, errors.Wrapf(err, "redis: ping %s", addr)
	}
	return NewRedis(rdb, limit), nil
}

// NewRedis wraps an existing client.
func NewRedis(rdb redis.UniversalClient, limit int) *Redis {
	return &Redis{rdb: rdb, limit: limit}
}

func (s *Redis) CreateUser(ctx context.Context, account Account) (Account, error) {
	account = prepareAccount(account, uuid.NewString, time.Now())
	value, err := json.Marshal(account)
	if err != nil {
		return Account{}, errors.Wrap(err, "redis: encode account")
	}

	key := redisUserKey + account.Email
	ok, err := s.rdb.SetNX(ctx, key, value, 0).Result()
	if err != nil {
		return Account{}, errors.Wrap(err, "redis: create user")
	}
	if !ok {
		return Account{}, ErrUserExists
	}

	score := float64(account.CreatedAt.UnixNano())
	if err := s.rdb.ZAdd(ctx, redisUsersKey, redis.Z{Score: score, Member: account.Email}).Err(); err != nil {
		// Release the email: an unindexed account is never listed.
		if delErr := s.rdb.Del(context.WithoutCancel(ctx), key).Err(); delErr != nil {
			return Account{}, errors.Wrapf(err, "redis: index user (release failed: %v)", delErr)
		}
		return Account{}, errors.Wrap(err, "redis: index user")
	}
	return account, nil
}

func (s *Redis) FindUser(ctx context.Context, email string) (Account, error) {
	raw, err := s.rdb.Get(ctx, redisUserKey+email).Bytes()
	if errors.Is(err, redis.Nil) {
		return Account{}, ErrNotFound
	}
	if err != nil {
		return Account{}, errors.Wrap(err, "redis: find user")
	}

	var account Account
	if err := json.Unmarshal(raw, &account); err != nil {
		return Account{}, errors.Wrap(err, "redis: decode account")
	}
	return account, nil
}

func (s *Redis) ListUsers(ctx context.Context) ([]Account, error) {
	emails, err := s.rdb.ZRange(ctx, redisUsersKey, 0, -1).Result()
	if err != nil {
		return nil, errors.Wrap(err, "redis: list users")
	}
	if len(emails) == 0 {
		return nil, nil
	}

	keys := make([]string, len(emails))
	for i, email := range emails {
		keys[i] = redisUserKey + email
	}
	values, err := s.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, errors.Wrap(err, "redis: load users")
	}

	accounts := make([]Account, 0, len(values))
	for _, value := range values {
		raw, ok := value.(string)
		if !ok {
			continue
		}
		var account Account
		if err := json.Unmarshal([]byte(raw), &account); err != nil {
			return nil, errors.Wrap(err, "redis: decode account")
		}
		accounts = append(accounts, account)
	}
	return accounts, nil
}

func (s *Redis) SaveMessage(ctx context.Context, msg relay.Message) error {
	value, err := json.Marshal(msg)
	if err != nil {
		return errors.Wrap(err, "redis: encode message")
	}
	args := &redis.XAddArgs{
		Stream: redisStreamKey + conversationID(msg.SenderID, msg.ReceiverID),
		Values: map[string]any{redisDataField: value},
		Approx: true,
		MaxLen: redisStreamMaxLen,
	}
	return errors.Wrap(s.rdb.XAdd(ctx, args).Err(), "redis: save message")
}

func (s *Redis) FindMessages(ctx context.Context, a, b relay.UserID) ([]relay.Message, error) {
	stream := redisStreamKey + conversationID(a, b)

	var (
		entries []redis.XMessage
		err     error
	)
	if s.limit > 0 {
		entries, err = s.rdb.XRevRangeN(ctx, stream, "+", "-", int64(s.limit)).Result()
		slices.Reverse(entries)
	} else {
		entries, err = s.rdb.XRange(ctx, stream, "-", "+").Result()
	}
	if err != nil {
		return nil, errors.Wrap(err, "redis: find messages")
	}

	messages := make([]relay.Message, 0, len(entries))
	for _, entry := range entries {
		raw, ok := entry.Values[redisDataField].(string)
		if !ok {
			continue
		}
		var msg relay.Message
		if err := json.Unmarshal([]byte(raw), &msg); err != nil {
			return nil, errors.Wrapf(err, "redis: decode message %s", entry.ID)
		}
		messages = append(messages, msg)
	}
	// Saves run concurrently, so stream order can differ slightly from send order.
	slices.SortStableFunc(messages, func(x, y relay.Message) int {
		return x.Timestamp.Compare(y.Timestamp)
	})
	return messages, nil
}

func (s *Redis) Close() error {
	return s.rdb.Close()
}
