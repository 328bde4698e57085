package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"paperscape/internal/model"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const usersCollection = "users"

// MongoUserStore 基于 MongoDB 的用户存储。
type MongoUserStore struct {
	client *mongo.Client
	users  *mongo.Collection
	now    func() time.Time
}

// OpenMongo 连接 MongoDB 并确保唯一索引存在。
func OpenMongo(ctx context.Context, uri, database string) (*MongoUserStore, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	s := &MongoUserStore{
		client: client,
		users:  client.Database(database).Collection(usersCollection),
		now:    time.Now,
	}
	if err := s.ensureIndexes(ctx); err != nil {
		_ = client.Disconnect(ctx)
		return nil, err
	}
	return s, nil
}

func (s *MongoUserStore) ensureIndexes(ctx context.Context) error {
	_, err := s.users.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "email", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			// 仅对存在激活码的文档建立唯一约束
			Keys: bson.D{{Key: "activation_code", Value: 1}},
			Options: options.Index().
				SetUnique(true).
				SetPartialFilterExpression(bson.M{"activation_code": bson.M{"$exists": true}}),
		},
	})
	if err != nil {
		return fmt.Errorf("create mongo indexes: %w", err)
	}
	return nil
}

func (s *MongoUserStore) FindByEmail(ctx context.Context, email string) (*model.User, error) {
	return s.findOne(ctx, bson.M{"email": NormalizeEmail(email)})
}

func (s *MongoUserStore) FindByID(ctx context.Context, id string) (*model.User, error) {
	return s.findOne(ctx, bson.M{"_id": id})
}

func (s *MongoUserStore) findOne(ctx context.Context, filter bson.M) (*model.User, error) {
	var user model.User
	if err := s.users.FindOne(ctx, filter).Decode(&user); err != nil {
		return nil, translateMongoError(err)
	}
	return &user, nil
}

func (s *MongoUserStore) Create(ctx context.Context, nu NewUser) (*model.User, error) {
	user, err := prepareUser(nu, s.now())
	if err != nil {
		return nil, err
	}
	if _, err := s.users.InsertOne(ctx, user); err != nil {
		return nil, translateMongoError(err)
	}
	return user, nil
}

func (s *MongoUserStore) ActivateByCode(ctx context.Context, code string, issuedAfter time.Time) (*model.User, error) {
	if code == "" {
		return nil, ErrNotFound
	}
	filter := bson.M{"activation_code": code, "active": false}
	if !issuedAfter.IsZero() {
		filter["created_at"] = bson.M{"$gt": issuedAfter}
	}
	update := bson.M{
		"$set":   bson.M{"active": true},
		"$unset": bson.M{"activation_code": ""},
	}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var user model.User
	if err := s.users.FindOneAndUpdate(ctx, filter, update, opts).Decode(&user); err != nil {
		return nil, translateMongoError(err)
	}
	return &user, nil
}

func (s *MongoUserStore) Delete(ctx context.Context, id string) error {
	_, err := s.users.DeleteOne(ctx, bson.M{"_id": id})
	return err
}

func (s *MongoUserStore) Promote(ctx context.Context, id string, role model.Role) (*model.User, error) {
	if !role.Valid() {
		return nil, &ValidationError{Field: "role", Message: fmt.Sprintf("Invalid role: %s", role)}
	}
	update := bson.M{
		"$set":   bson.M{"role": role, "active": true},
		"$unset": bson.M{"activation_code": ""},
	}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var user model.User
	if err := s.users.FindOneAndUpdate(ctx, bson.M{"_id": id}, update, opts).Decode(&user); err != nil {
		return nil, translateMongoError(err)
	}
	return &user, nil
}

func (s *MongoUserStore) List(ctx context.Context, limit, offset int) ([]model.User, error) {
	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}}).
		SetLimit(int64(limit)).
		SetSkip(int64(offset))
	cur, err := s.users.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, err
	}
	users := make([]model.User, 0, limit)
	if err := cur.All(ctx, &users); err != nil {
		return nil, err
	}
	return users, nil
}

func (s *MongoUserStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, nil)
}

// Close 断开 MongoDB 连接。
func (s *MongoUserStore) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}

func translateMongoError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, mongo.ErrNoDocuments):
		return ErrNotFound
	case mongo.IsDuplicateKeyError(err):
		return ErrDuplicate
	default:
		return err
	}
}
