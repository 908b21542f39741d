package service

import (
	"context"

	"github.com/jask/trackable/internal/database/repository"
)

// Lineage is every status row of one order, in progression order.
type Lineage []repository.Order

// Empty reports whether no row exists for the order yet.
func (l Lineage) Empty() bool { return len(l) == 0 }

// At returns the row at status, or nil.
func (l Lineage) At(status repository.OrderStatus) *repository.Order {
	for i := range l {
		if l[i].Status == status {
			return &l[i]
		}
	}
	return nil
}

// Deduplicator answers "have we seen this order or this source before".
// Matching is exact; fuzzy matching only happens during merchant resolution.
type Deduplicator struct {
	Orders  *repository.OrderRepo
	Sources *repository.SourceRepo
}

func (d *Deduplicator) FindLineage(ctx context.Context, userID, merchantID, orderNumber string) (Lineage, error) {
	rows, err := d.Orders.Lineage(ctx, userID, merchantID, orderNumber)
	if err != nil {
		return nil, err
	}
	return Lineage(rows), nil
}

// IsSourceDuplicate reports whether the source has already been processed.
func (d *Deduplicator) IsSourceDuplicate(ctx context.Context, userID string, sourceType repository.SourceType, sourceID string) (bool, error) {
	if sourceID == "" {
		return false, nil
	}
	return d.Sources.IsProcessed(ctx, userID, sourceType, sourceID)
}
