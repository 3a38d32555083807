package store

import (
	"context"
	"slices"
	"time"

	"github.com/Tyrowin/chatrelay/internal/relay"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	mongoUsersCollection    = "users"
	mongoMessagesCollection = "messages"
	defaultMongoDatabase    = "chatrelay"
)

type mongoMessage struct {
	ID           string    `bson:"_id"`
	Conversation string    `bson:"conversation"`
	SenderID     string    `bson:"sender_id"`
	ReceiverID   string    `bson:"receiver_id"`
	Payload      string    `bson:"payload"`
	Timestamp    time.Time `bson:"timestamp"`
}

func (m mongoMessage) message() relay.Message {
	return relay.Message{
		ID:         m.ID,
		SenderID:   relay.UserID(m.SenderID),
		ReceiverID: relay.UserID(m.ReceiverID),
		Payload:    m.Payload,
		Timestamp:  m.Timestamp.UTC(),
	}
}

// Mongo stores accounts and messages in two collections. Timestamps are kept
// with millisecond precision.
type Mongo struct {
	client   *mongo.Client
	users    *mongo.Collection
	messages *mongo.Collection
	limit    int
}

// OpenMongo connects to uri, checks the connection and ensures indexes.
func OpenMongo(ctx context.Context, uri, database string, limit int) (*Mongo, error) {
	if uri == "" {
		return nil, errors.New("mongo: uri is required")
	}
	if database == "" {
		database = defaultMongoDatabase
	}

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, errors.Wrap(err, "mongo: connect")
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, errors.Wrap(err, "mongo: ping")
	}

	db := client.Database(database)
	s := &Mongo{
		client:   client,
		users:    db.Collection(mongoUsersCollection),
		messages: db.Collection(mongoMessagesCollection),
		limit:    limit,
	}
	if err := s.ensureIndexes(ctx); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}
	return s, nil
}

func (s *Mongo) ensureIndexes(ctx context.Context) error {
	_, err := s.users.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "email", Value: 1}},
		Options: options.Index().SetUnique(true).SetName("uniq_email"),
	})
	if err != nil {
		return errors.Wrap(err, "mongo: users index")
	}
	_, err = s.messages.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "conversation", Value: 1}, {Key: "timestamp", Value: 1}},
		Options: options.Index().SetName("ix_conversation_time"),
	})
	return errors.Wrap(err, "mongo: messages index")
}

func (s *Mongo) CreateUser(ctx context.Context, account Account) (Account, error) {
	account = prepareAccount(account, uuid.NewString, time.Now())
	account.CreatedAt = account.CreatedAt.Truncate(time.Millisecond)

	if _, err := s.users.InsertOne(ctx, account); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return Account{}, ErrUserExists
		}
		return Account{}, errors.Wrap(err, "mongo: create user")
	}
	return account, nil
}

func (s *Mongo) FindUser(ctx context.Context, email string) (Account, error) {
	var account Account
	err := s.users.FindOne(ctx, bson.M{"email": email}).Decode(&account)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return Account{}, ErrNotFound
	}
	if err != nil {
		return Account{}, errors.Wrap(err, "mongo: find user")
	}
	account.CreatedAt = account.CreatedAt.UTC()
	return account, nil
}

func (s *Mongo) ListUsers(ctx context.Context) ([]Account, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}, {Key: "email", Value: 1}})
	cursor, err := s.users.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, errors.Wrap(err, "mongo: list users")
	}
	var accounts []Account
	if err := cursor.All(ctx, &accounts); err != nil {
		return nil, errors.Wrap(err, "mongo: decode users")
	}
	for i := range accounts {
		accounts[i].CreatedAt = accounts[i].CreatedAt.UTC()
	}
	return accounts, nil
}

func (s *Mongo) SaveMessage(ctx context.Context, msg relay.Message) error {
	doc := mongoMessage{
		ID:           msg.ID,
		Conversation: conversationID(msg.SenderID, msg.ReceiverID),
		SenderID:     string(msg.SenderID),
		ReceiverID:   string(msg.ReceiverID),
		Payload:      msg.Payload,
		Timestamp:    msg.Timestamp,
	}
	_, err := s.messages.InsertOne(ctx, doc)
	if mongo.IsDuplicateKeyError(err) {
		return nil
	}
	return errors.Wrap(err, "mongo: save message")
}

func (s *Mongo) FindMessages(ctx context.Context, a, b relay.UserID) ([]relay.Message, error) {
	opts := options.Find().SetSort(bson.D{{Key: "timestamp", Value: -1}, {Key: "_id", Value: -1}})
	if s.limit > 0 {
		opts.SetLimit(int64(s.limit))
	}
	cursor, err := s.messages.Find(ctx, bson.M{"conversation": conversationID(a, b)}, opts)
	if err != nil {
		return nil, errors.Wrap(err, "mongo: find messages")
	}
	var docs []mongoMessage
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, errors.Wrap(err, "mongo: decode messages")
	}

	slices.Reverse(docs)
	messages := make([]relay.Message, len(docs))
	for i, doc := range docs {
		messages[i] = doc.message()
	}
	return messages, nil
}

func (s *Mongo) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}
