package carts

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/shopfront/fulfillment/internal/domain"
)

type mongoRepository struct {
	collection *mongo.Collection
}

func NewMongoRepository(db *mongo.Database) CartRepository {
	return &mongoRepository{
		collection: db.Collection("abandoned_carts"),
	}
}

// ListByUser returns the user's not-yet-recovered carts.
func (m *mongoRepository) ListByUser(ctx context.Context, userID string) ([]domain.AbandonedCart, error) {
	filter := bson.M{"user_id": userID, "recovered": false}
	cursor, err := m.collection.Find(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to list carts: %w", err)
	}
	defer cursor.Close(ctx)

	carts := make([]domain.AbandonedCart, 0)
	if err := cursor.All(ctx, &carts); err != nil {
		return nil, fmt.Errorf("failed to decode carts: %w", err)
	}
	return carts, nil
}

func (m *mongoRepository) MarkRecovered(ctx context.Context, cartID string) error {
	now := time.Now()
	update := bson.M{
		"$set": bson.M{
			"recovered":    true,
			"recovered_at": now,
			"last_updated": now,
		},
	}

	result, err := m.collection.UpdateOne(ctx, bson.M{"_id": cartID}, update)
	if err != nil {
		return fmt.Errorf("failed to mark cart recovered: %w", err)
	}
	if result.MatchedCount == 0 {
		return ErrCartNotFound
	}
	return nil
}

func (m *mongoRepository) DeleteByUser(ctx context.Context, userID string) (int64, error) {
	result, err := m.collection.DeleteMany(ctx, bson.M{"user_id": userID})
	if err != nil {
		return 0, fmt.Errorf("failed to delete carts: %w", err)
	}
	return result.DeletedCount, nil
}
