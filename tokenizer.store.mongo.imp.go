// File: tokenizer.store.mongo.imp.go

package tokenizer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// authTokenDocument represents a token record in MongoDB
type authTokenDocument struct {
	ID                      int64      `bson:"_id"`
	Name                    string     `bson:"name"`
	Platform                string     `bson:"platform"`
	OwnerType               string     `bson:"owner_type"`
	OwnerID                 string     `bson:"owner_id"`
	Driver                  string     `bson:"driver"`
	AccessToken             string     `bson:"access_token"`
	RefreshToken            string     `bson:"refresh_token"`
	Scopes                  []string   `bson:"scopes"`
	AccessTokenExpireAt     time.Time  `bson:"access_token_expire_at"`
	RefreshTokenAvailableAt time.Time  `bson:"refresh_token_available_at"`
	RefreshTokenExpireAt    time.Time  `bson:"refresh_token_expire_at"`
	LastUsedAt              *time.Time `bson:"last_used_at"`
	CreatedAt               time.Time  `bson:"created_at"`
	UpdatedAt               time.Time  `bson:"updated_at"`
	DeletedAt               *time.Time `bson:"deleted_at"`
}

func newAuthTokenDocument(record *TokenRecord) authTokenDocument {
	return authTokenDocument{
		ID:                      int64(record.ID),
		Name:                    record.Name,
		Platform:                record.Platform,
		OwnerType:               record.OwnerType,
		OwnerID:                 record.OwnerID,
		Driver:                  record.Driver,
		AccessToken:             record.AccessToken,
		RefreshToken:            record.RefreshToken,
		Scopes:                  record.Scopes,
		AccessTokenExpireAt:     record.AccessTokenExpireAt,
		RefreshTokenAvailableAt: record.RefreshTokenAvailableAt,
		RefreshTokenExpireAt:    record.RefreshTokenExpireAt,
		LastUsedAt:              record.LastUsedAt,
		CreatedAt:               record.CreatedAt,
		UpdatedAt:               record.UpdatedAt,
		DeletedAt:               record.DeletedAt,
	}
}

func (d *authTokenDocument) toRecord() *TokenRecord {
	return &TokenRecord{
		ID:                      uint64(d.ID),
		Name:                    d.Name,
		Platform:                d.Platform,
		OwnerType:               d.OwnerType,
		OwnerID:                 d.OwnerID,
		Driver:                  d.Driver,
		AccessToken:             d.AccessToken,
		RefreshToken:            d.RefreshToken,
		Scopes:                  d.Scopes,
		AccessTokenExpireAt:     d.AccessTokenExpireAt,
		RefreshTokenAvailableAt: d.RefreshTokenAvailableAt,
		RefreshTokenExpireAt:    d.RefreshTokenExpireAt,
		LastUsedAt:              d.LastUsedAt,
		CreatedAt:               d.CreatedAt,
		UpdatedAt:               d.UpdatedAt,
		DeletedAt:               d.DeletedAt,
	}
}

// live matches documents that have not been soft-deleted.
func live(filter bson.M) bson.M {
	filter["deleted_at"] = nil
	return filter
}

// MongoTokenStore stores token records in a MongoDB collection.
type MongoTokenStore struct {
	collection      *mongo.Collection
	useTransactions bool
}

// NewMongoTokenStore creates a MongoDB-based token store. Transactions
// require a replica set and are only used for batched purges.
func NewMongoTokenStore(db *mongo.Database, collection string, useTransactions bool) (*MongoTokenStore, error) {
	if db == nil {
		return nil, fmt.Errorf("database cannot be nil")
	}
	if collection == "" {
		collection = DefaultTable
	}

	// Test the connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.Client().Ping(ctx, nil); err != nil {
		return nil, fmt.Errorf("mongodb connection failed: %w", err)
	}

	coll := db.Collection(collection)
	if err := createMongoIndexes(ctx, coll); err != nil {
		return nil, fmt.Errorf("failed to create indexes: %w", err)
	}

	return &MongoTokenStore{
		collection:      coll,
		useTransactions: useTransactions,
	}, nil
}

// createMongoIndexes creates necessary indexes for optimal performance
func createMongoIndexes(ctx context.Context, coll *mongo.Collection) error {
	indexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "access_token", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys:    bson.D{{Key: "refresh_token", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys: bson.D{{Key: "owner_type", Value: 1}, {Key: "owner_id", Value: 1}},
		},
		{
			Keys: bson.D{{Key: "deleted_at", Value: 1}},
		},
		{
			Keys: bson.D{{Key: "refresh_token_expire_at", Value: 1}},
		},
	}

	if _, err := coll.Indexes().CreateMany(ctx, indexes); err != nil {
		return fmt.Errorf("failed to create token indexes: %w", err)
	}
	return nil
}

// withTransaction executes a function within a transaction if transactions are enabled
func (r *MongoTokenStore) withTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if !r.useTransactions {
		return fn(ctx)
	}

	session, err := r.collection.Database().Client().StartSession()
	if err != nil {
		return fmt.Errorf("failed to start session: %w", err)
	}
	defer session.EndSession(ctx)

	_, err = session.WithTransaction(ctx, func(sessionCtx mongo.SessionContext) (interface{}, error) {
		return nil, fn(sessionCtx)
	})
	return err
}

func (r *MongoTokenStore) TokenExists(ctx context.Context, tokenType TokenType, value string) (bool, error) {
	var field string
	switch tokenType {
	case AccessTokenType:
		field = "access_token"
	case RefreshTokenType:
		field = "refresh_token"
	default:
		return false, fmt.Errorf("invalid token type: %s", tokenType)
	}

	count, err := r.collection.CountDocuments(ctx, bson.M{field: value}, options.Count().SetLimit(1))
	if err != nil {
		return false, fmt.Errorf("mongodb error: %w", err)
	}
	return count > 0, nil
}

func (r *MongoTokenStore) FindByAccessToken(ctx context.Context, value string, now time.Time) (*TokenRecord, error) {
	return r.findOne(ctx, live(bson.M{
		"access_token":           value,
		"access_token_expire_at": bson.M{"$gt": now},
	}))
}

func (r *MongoTokenStore) FindByRefreshToken(ctx context.Context, value string, now time.Time) (*TokenRecord, error) {
	return r.findOne(ctx, live(bson.M{
		"refresh_token":              value,
		"refresh_token_available_at": bson.M{"$lte": now},
		"refresh_token_expire_at":    bson.M{"$gt": now},
	}))
}

func (r *MongoTokenStore) findOne(ctx context.Context, filter bson.M) (*TokenRecord, error) {
	var doc authTokenDocument
	if err := r.collection.FindOne(ctx, filter).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrRecordNotFound
		}
		return nil, fmt.Errorf("mongodb error: %w", err)
	}
	return doc.toRecord(), nil
}

func (r *MongoTokenStore) Create(ctx context.Context, record *TokenRecord) error {
	if record.ID == 0 {
		record.ID = GenerateID()
	}

	if _, err := r.collection.InsertOne(ctx, newAuthTokenDocument(record)); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return fmt.Errorf("%w: %v", ErrDuplicateToken, err)
		}
		return fmt.Errorf("failed to insert token record: %w", err)
	}
	return nil
}

func (r *MongoTokenStore) Update(ctx context.Context, record *TokenRecord) error {
	doc := newAuthTokenDocument(record)
	update := bson.M{
		"$set": bson.M{
			"name":                       doc.Name,
			"platform":                   doc.Platform,
			"driver":                     doc.Driver,
			"access_token":               doc.AccessToken,
			"refresh_token":              doc.RefreshToken,
			"scopes":                     doc.Scopes,
			"access_token_expire_at":     doc.AccessTokenExpireAt,
			"refresh_token_available_at": doc.RefreshTokenAvailableAt,
			"refresh_token_expire_at":    doc.RefreshTokenExpireAt,
			"last_used_at":               doc.LastUsedAt,
			"updated_at":                 doc.UpdatedAt,
		},
	}

	result, err := r.collection.UpdateOne(ctx, live(bson.M{"_id": doc.ID}), update)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return fmt.Errorf("%w: %v", ErrDuplicateToken, err)
		}
		return fmt.Errorf("failed to update token record: %w", err)
	}
	if result.MatchedCount == 0 {
		return ErrRecordNotFound
	}
	return nil
}

func (r *MongoTokenStore) Touch(ctx context.Context, id uint64, at time.Time) error {
	result, err := r.collection.UpdateOne(ctx,
		live(bson.M{"_id": int64(id)}),
		bson.M{"$set": bson.M{"last_used_at": at}})
	if err != nil {
		return fmt.Errorf("failed to touch token record: %w", err)
	}
	if result.MatchedCount == 0 {
		return ErrRecordNotFound
	}
	return nil
}

func (r *MongoTokenStore) SoftDelete(ctx context.Context, id uint64, at time.Time) (bool, error) {
	result, err := r.collection.UpdateOne(ctx,
		live(bson.M{"_id": int64(id)}),
		bson.M{"$set": bson.M{"deleted_at": at, "updated_at": at}})
	if err != nil {
		return false, fmt.Errorf("failed to revoke token record: %w", err)
	}
	return result.ModifiedCount > 0, nil
}

func (r *MongoTokenStore) ListLive(ctx context.Context, ownerType, ownerID string) ([]*TokenRecord, error) {
	cursor, err := r.collection.Find(ctx,
		live(bson.M{"owner_type": ownerType, "owner_id": ownerID}),
		options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("mongodb error: %w", err)
	}
	defer cursor.Close(ctx)

	var docs []authTokenDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("failed to decode token records: %w", err)
	}

	records := make([]*TokenRecord, 0, len(docs))
	for i := range docs {
		records = append(records, docs[i].toRecord())
	}
	return records, nil
}

func (r *MongoTokenStore) PurgeBatch(ctx context.Context, criteria PurgeCriteria, limit int) (int, error) {
	if limit <= 0 {
		return 0, fmt.Errorf("limit must be positive")
	}

	var conditions bson.A
	if criteria.Revoked {
		conditions = append(conditions, bson.M{"deleted_at": bson.M{"$ne": nil}})
	}
	if criteria.Expired {
		conditions = append(conditions, bson.M{"refresh_token_expire_at": bson.M{"$lt": criteria.ExpiredBefore}})
	}
	if len(conditions) == 0 {
		return 0, nil
	}

	var purged int
	err := r.withTransaction(ctx, func(ctx context.Context) error {
		cursor, err := r.collection.Find(ctx, bson.M{"$or": conditions},
			options.Find().
				SetSort(bson.D{{Key: "_id", Value: 1}}).
				SetLimit(int64(limit)).
				SetProjection(bson.M{"_id": 1}))
		if err != nil {
			return fmt.Errorf("failed to select purgeable records: %w", err)
		}

		var docs []struct {
			ID int64 `bson:"_id"`
		}
		if err := cursor.All(ctx, &docs); err != nil {
			return fmt.Errorf("failed to decode purgeable records: %w", err)
		}
		if len(docs) == 0 {
			return nil
		}

		ids := make(bson.A, 0, len(docs))
		for _, doc := range docs {
			ids = append(ids, doc.ID)
		}

		result, err := r.collection.DeleteMany(ctx, bson.M{"_id": bson.M{"$in": ids}})
		if err != nil {
			return fmt.Errorf("failed to purge token records: %w", err)
		}
		purged = int(result.DeletedCount)
		return nil
	})
	return purged, err
}

// Stats returns statistics about the store
// Useful for monitoring and debugging
func (r *MongoTokenStore) Stats(ctx context.Context) (map[string]interface{}, error) {
	total, err := r.collection.CountDocuments(ctx, bson.M{})
	if err != nil {
		return nil, fmt.Errorf("failed to count token records: %w", err)
	}

	liveCount, err := r.collection.CountDocuments(ctx, live(bson.M{}))
	if err != nil {
		return nil, fmt.Errorf("failed to count live token records: %w", err)
	}

	return map[string]interface{}{
		"records":         total,
		"live_records":    liveCount,
		"revoked_records": total - liveCount,
	}, nil
}
