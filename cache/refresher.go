package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strconv"
	"time"
)

// LocationReader supplies the Postgres-resident rows the cache mirrors.
// store/postgres implements it.
type LocationReader interface {
	InventoryByLocation(ctx context.Context, locationID string) ([]map[string]interface{}, error)
	DiscountsByLocation(ctx context.Context, locationID string) ([]map[string]interface{}, error)
}

// Refresher overwrites the Redis view for a location from Postgres.
// Only the refresher ever writes these keys; API readers get
// stale-but-consistent snapshots.
type Refresher struct {
	db    LocationReader
	cache Cache

	// now is swappable for deterministic sync stamps in tests.
	now func() time.Time
}

func NewRefresher(db LocationReader, c Cache) *Refresher {
	return &Refresher{db: db, cache: c, now: time.Now}
}

// RefreshLocation reads a location's inventory and discounts and lands
// all three keys (inventory, discounts, sync stamp) in one MSet, so
// readers never observe a half-updated location.
func (r *Refresher) RefreshLocation(ctx context.Context, locationID string) error {
	inventory, err := r.db.InventoryByLocation(ctx, locationID)
	if err != nil {
		return fmt.Errorf("cache: reading inventory for %s: %w", locationID, err)
	}
	discounts, err := r.db.DiscountsByLocation(ctx, locationID)
	if err != nil {
		return fmt.Errorf("cache: reading discounts for %s: %w", locationID, err)
	}

	invJSON, err := json.Marshal(inventory)
	if err != nil {
		return fmt.Errorf("cache: serializing inventory for %s: %w", locationID, err)
	}
	discJSON, err := json.Marshal(discounts)
	if err != nil {
		return fmt.Errorf("cache: serializing discounts for %s: %w", locationID, err)
	}

	pairs := map[string]string{
		KeyInventory(locationID): string(invJSON),
		KeyDiscounts(locationID): string(discJSON),
		KeySyncStamp(locationID): strconv.FormatInt(Millis(r.now()), 10),
	}
	if err := r.cache.MSet(ctx, pairs); err != nil {
		return fmt.Errorf("cache: writing view for %s: %w", locationID, err)
	}
	return nil
}

// RefreshAll refreshes every location, isolating failures: one broken
// location never blocks the rest. Returns the per-location errors.
func (r *Refresher) RefreshAll(ctx context.Context, locationIDs []string) map[string]error {
	failed := map[string]error{}
	for _, id := range locationIDs {
		if err := r.RefreshLocation(ctx, id); err != nil {
			log.Printf("[Cache] refresh failed for location %s: %v", id, err)
			failed[id] = err
		}
	}
	return failed
}
