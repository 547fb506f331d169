package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	mongoMessagesCollection      = "messages"
	mongoConversationsCollection = "conversations"
	mongoUsersCollection         = "users"

	mongoConnectTimeout = 10 * time.Second
)

// Mongo stores messages, conversations and user status in MongoDB. Acknowledgments use an
// atomic $addToSet guarded by $ne, so concurrent receipts never lose updates.
type Mongo struct {
	client        *mongo.Client
	messages      *mongo.Collection
	conversations *mongo.Collection
	users         *mongo.Collection
	now           func() time.Time
}

// NewMongo connects to the given MongoDB deployment.
func NewMongo(ctx context.Context, uri string, database string) (*Mongo, error) {
	ctx, cancel := context.WithTimeout(ctx, mongoConnectTimeout)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, errors.Wrap(err, "connect to mongodb")
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, errors.Wrap(err, "ping mongodb")
	}

	db := client.Database(database)
	s := &Mongo{
		client:        client,
		messages:      db.Collection(mongoMessagesCollection),
		conversations: db.Collection(mongoConversationsCollection),
		users:         db.Collection(mongoUsersCollection),
		now:           time.Now,
	}
	if err := s.ensureIndexes(ctx); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}
	return s, nil
}

func (s *Mongo) ensureIndexes(ctx context.Context) error {
	_, err := s.messages.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{
			{Key: "conversationId", Value: 1},
			{Key: "createdAt", Value: -1},
		},
	})
	return errors.Wrap(err, "create message index")
}

func (s *Mongo) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

func (s *Mongo) Create(ctx context.Context, conversationID, senderID, content, msgType string) (*Message, error) {
	msg := &Message{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		SenderID:       senderID,
		Content:        content,
		Type:           msgType,
		SeenBy:         []string{},
		DeliveredTo:    []string{},
		CreatedAt:      s.now().UTC(),
	}
	if _, err := s.messages.InsertOne(ctx, msg); err != nil {
		return nil, errors.Wrapf(err, "insert message into %s", conversationID)
	}
	return msg, nil
}

func (s *Mongo) FindRecent(ctx context.Context, conversationID string, limit int) ([]*Message, error) {
	opts := options.Find().SetSort(bson.D{{Key: "createdAt", Value: -1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}

	cursor, err := s.messages.Find(ctx, bson.D{{Key: "conversationId", Value: conversationID}}, opts)
	if err != nil {
		return nil, errors.Wrapf(err, "find messages of %s", conversationID)
	}

	var result []*Message
	if err := cursor.All(ctx, &result); err != nil {
		return nil, errors.Wrapf(err, "decode messages of %s", conversationID)
	}
	return result, nil
}

func (s *Mongo) AppendIfAbsent(ctx context.Context, messageID string, field AckField, userID string) (bool, error) {
	filter, update := appendIfAbsentQuery(messageID, field, userID)
	result, err := s.messages.UpdateOne(ctx, filter, update)
	if err != nil {
		return false, errors.Wrapf(err, "update %s of %s", field, messageID)
	}
	return result.ModifiedCount > 0, nil
}

// appendIfAbsentQuery only matches messages that do not contain userID yet,
// which makes the update a no-op instead of a rewrite when it is present.
func appendIfAbsentQuery(messageID string, field AckField, userID string) (bson.D, bson.D) {
	filter := bson.D{
		{Key: "_id", Value: messageID},
		{Key: string(field), Value: bson.D{{Key: "$ne", Value: userID}}},
	}
	update := bson.D{
		{Key: "$addToSet", Value: bson.D{{Key: string(field), Value: userID}}},
	}
	return filter, update
}

type mongoConversation struct {
	DisappearingMessages bool  `bson:"disappearingMessages"`
	DisappearingSeconds  int64 `bson:"disappearingSeconds"`
}

func (s *Mongo) Disappearing(ctx context.Context, conversationID string) (Disappearing, error) {
	opts := options.FindOne().SetProjection(bson.D{
		{Key: "disappearingMessages", Value: 1},
		{Key: "disappearingSeconds", Value: 1},
	})

	var conv mongoConversation
	err := s.conversations.FindOne(ctx, bson.D{{Key: "_id", Value: conversationID}}, opts).Decode(&conv)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return Disappearing{}, ErrNotFound
	} else if err != nil {
		return Disappearing{}, errors.Wrapf(err, "load conversation %s", conversationID)
	}

	return Disappearing{
		Enabled: conv.DisappearingMessages,
		TTL:     time.Duration(conv.DisappearingSeconds) * time.Second,
	}, nil
}

// directConversationFilter matches the non-group conversation whose
// participants are exactly the two users.
func directConversationFilter(userA, userB string) bson.D {
	return bson.D{
		{Key: "isGroup", Value: bson.D{{Key: "$ne", Value: true}}},
		{Key: "participants", Value: bson.D{
			{Key: "$all", Value: bson.A{userA, userB}},
			{Key: "$size", Value: 2},
		}},
	}
}

func (s *Mongo) DirectConversation(ctx context.Context, userA, userB string) (string, error) {
	opts := options.FindOne().SetProjection(bson.D{{Key: "_id", Value: 1}})

	var conv struct {
		ID string `bson:"_id"`
	}
	err := s.conversations.FindOne(ctx, directConversationFilter(userA, userB), opts).Decode(&conv)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return "", ErrNotFound
	} else if err != nil {
		return "", errors.Wrapf(err, "find conversation of %s and %s", userA, userB)
	}
	return conv.ID, nil
}

func (s *Mongo) SetStatus(ctx context.Context, userID string, status UserStatus, lastSeen time.Time) error {
	_, err := s.users.UpdateOne(ctx,
		bson.D{{Key: "_id", Value: userID}},
		bson.D{{Key: "$set", Value: bson.D{
			{Key: "status", Value: string(status)},
			{Key: "lastSeen", Value: lastSeen},
		}}},
	)
	return errors.Wrapf(err, "update status of user %s", userID)
}
