// Package carts reconciles abandoned-cart records once their owner completes
// a paid order.
package carts

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/shopfront/fulfillment/internal/domain"
)

var ErrCartNotFound = errors.New("abandoned cart not found")

// CartRepository defines the abandoned-cart operations the reconciler needs.
type CartRepository interface {
	ListByUser(ctx context.Context, userID string) ([]domain.AbandonedCart, error)
	MarkRecovered(ctx context.Context, cartID string) error
	DeleteByUser(ctx context.Context, userID string) (int64, error)
}

// Reconciler marks a user's abandoned carts recovered, then clears them.
type Reconciler struct {
	repo   CartRepository
	logger *slog.Logger
}

func NewReconciler(repo CartRepository, logger *slog.Logger) *Reconciler {
	return &Reconciler{repo: repo, logger: logger}
}

// ReconcileUser marks every non-recovered cart recovered and then deletes all
// of the user's cart records. The recovery mark is bookkeeping for the
// re-engagement reports; the deletion is the operative cleanup. A user with
// no abandoned cart is the common case and is not an error.
func (r *Reconciler) ReconcileUser(ctx context.Context, userID string) error {
	carts, err := r.repo.ListByUser(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrCartNotFound) {
			return nil
		}
		return fmt.Errorf("failed to list abandoned carts: %w", err)
	}

	for _, cart := range carts {
		if err := r.repo.MarkRecovered(ctx, cart.ID); err != nil {
			// Deletion below cleans up regardless; losing the mark only
			// skews recovery statistics.
			r.logger.Warn("failed to mark cart recovered",
				"cart_id", cart.ID,
				"user_id", userID,
				"error", err)
		}
	}

	deleted, err := r.repo.DeleteByUser(ctx, userID)
	if err != nil && !errors.Is(err, ErrCartNotFound) {
		return fmt.Errorf("failed to delete abandoned carts: %w", err)
	}
	if deleted > 0 {
		r.logger.Info("abandoned carts reconciled", "user_id", userID, "deleted", deleted)
	}
	return nil
}
