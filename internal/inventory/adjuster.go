// Package inventory decrements catalog stock counters after payment capture.
package inventory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/shopfront/fulfillment/internal/domain"
)

var ErrProductNotFound = errors.New("product not found")

// productUpdater is the one collection operation the adjuster performs.
// Satisfied by *mongo.Collection.
type productUpdater interface {
	UpdateOne(ctx context.Context, filter interface{}, update interface{}, opts ...*options.UpdateOptions) (*mongo.UpdateResult, error)
}

// Failure records one product whose stock could not be adjusted.
type Failure struct {
	ProductID string
	Err       error
}

// Report summarises a DecrementMany run. It is informational: by contract
// the adjuster never fails its caller, because it runs after payment capture.
type Report struct {
	Adjusted int
	Failures []Failure
}

// Adjuster decrements stock counters in the catalog's products collection.
type Adjuster struct {
	products productUpdater
	logger   *slog.Logger
}

func NewAdjuster(products *mongo.Collection, logger *slog.Logger) *Adjuster {
	return &Adjuster{products: products, logger: logger}
}

// newAdjuster is the injectable constructor used by tests.
func newAdjuster(products productUpdater, logger *slog.Logger) *Adjuster {
	return &Adjuster{products: products, logger: logger}
}

// DecrementOne lowers a product's stock by quantity, flooring at zero. The
// product id may be either the document id or a legacy numeric id; both
// representations are tried in one filter.
func (a *Adjuster) DecrementOne(ctx context.Context, productID string, quantity int) error {
	filter, err := productFilter(productID)
	if err != nil {
		return err
	}

	// Server-side pipeline keeps the floor atomic: no read-modify-write
	// window in which stock could go negative.
	update := mongo.Pipeline{
		bson.D{{Key: "$set", Value: bson.D{
			{Key: "stock", Value: bson.D{
				{Key: "$max", Value: bson.A{
					0,
					bson.D{{Key: "$subtract", Value: bson.A{"$stock", quantity}}},
				}},
			}},
		}}},
	}

	result, err := a.products.UpdateOne(ctx, filter, update)
	if err != nil {
		return fmt.Errorf("failed to decrement stock for %s: %w", productID, err)
	}
	if result.MatchedCount == 0 {
		return ErrProductNotFound
	}
	return nil
}

// DecrementMany runs every decrement, collecting per-item failures. It
// completes even when every single item fails: the payment is captured and
// the order exists, so inventory bookkeeping must not block fulfillment.
func (a *Adjuster) DecrementMany(ctx context.Context, items []domain.PaymentItem) Report {
	report := Report{}
	for _, item := range items {
		if err := a.DecrementOne(ctx, item.ID, item.Quantity); err != nil {
			a.logger.Warn("stock decrement failed",
				"product_id", item.ID,
				"quantity", item.Quantity,
				"error", err)
			report.Failures = append(report.Failures, Failure{ProductID: item.ID, Err: err})
			continue
		}
		report.Adjusted++
	}

	if len(report.Failures) > 0 {
		a.logger.Warn("inventory adjustment completed with failures",
			"adjusted", report.Adjusted,
			"failed", len(report.Failures))
	}
	return report
}

// productFilter matches a product by its real storage key: a document
// ObjectID, a plain string id, or the human-facing numeric id.
func productFilter(productID string) (bson.M, error) {
	or := []bson.M{{"_id": productID}}
	if oid, err := primitive.ObjectIDFromHex(productID); err == nil {
		or = append(or, bson.M{"_id": oid})
	}
	if n, err := strconv.ParseInt(productID, 10, 64); err == nil {
		or = append(or, bson.M{"product_id": n})
	}
	if productID == "" {
		return nil, ErrProductNotFound
	}
	return bson.M{"$or": or}, nil
}
