/*
Package postgres implements the service's relational persistence on
PostgreSQL via pgx: the store registry source, the inventory/discount
upserts performed by inventory-sync, and the row reads the cache
refresher mirrors into Redis.

UPSERT DISCIPLINE:
  Writes are row-level INSERT ... ON CONFLICT ... DO UPDATE with a
  synced_at audit column. No cross-row transaction semantics: each row
  stands alone, and the Redis view is rebuilt wholesale afterwards.

MIGRATION:
  Schema is created on New() if absent. Production migrations are owned
  by the admin backend; the DDL here only makes local and test
  environments self-sufficient.
*/
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/warp/pos-ledger/pos"
	"github.com/warp/pos-ledger/registry"
)

// Store wraps a pgx connection pool.
type Store struct {
	pool *pgxpool.Pool
}

// New connects and ensures the schema exists.
func New(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: connecting: %w", err)
	}
	s := &Store{pool: pool}
	if err := s.migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: migrating: %w", err)
	}
	return s, nil
}

// Close releases the pool.
func (s *Store) Close() {
	s.pool.Close()
}

func (s *Store) migrate(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS stores (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		branch_code TEXT NOT NULL,
		timezone TEXT NOT NULL,
		pos_api_key TEXT NOT NULL,
		is_active BOOLEAN NOT NULL DEFAULT TRUE
	);

	CREATE TABLE IF NOT EXISTS inventory (
		location_id TEXT NOT NULL,
		product_id TEXT NOT NULL,
		sku TEXT,
		product_name TEXT,
		category TEXT,
		quantity_available NUMERIC NOT NULL DEFAULT 0,
		unit_cost NUMERIC NOT NULL DEFAULT 0,
		unit_price NUMERIC NOT NULL DEFAULT 0,
		synced_at TIMESTAMPTZ NOT NULL,
		PRIMARY KEY (location_id, product_id)
	);

	CREATE TABLE IF NOT EXISTS discounts (
		location_id TEXT NOT NULL,
		discount_id TEXT NOT NULL,
		discount_name TEXT,
		discount_method TEXT,
		amount NUMERIC NOT NULL DEFAULT 0,
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		valid_from TEXT,
		valid_until TEXT,
		synced_at TIMESTAMPTZ NOT NULL,
		PRIMARY KEY (location_id, discount_id)
	);

	CREATE INDEX IF NOT EXISTS idx_inventory_location ON inventory(location_id);
	CREATE INDEX IF NOT EXISTS idx_discounts_location ON discounts(location_id);
	`
	_, err := s.pool.Exec(ctx, schema)
	return err
}

// =============================================================================
// STORE REGISTRY SOURCE
// =============================================================================

// ListActiveStores implements registry.Source.
func (s *Store) ListActiveStores(ctx context.Context) ([]registry.Store, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, name, branch_code, timezone, pos_api_key, is_active
		 FROM stores WHERE is_active ORDER BY branch_code`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var stores []registry.Store
	for rows.Next() {
		var st registry.Store
		if err := rows.Scan(&st.ID, &st.Name, &st.BranchCode, &st.Timezone, &st.PosAPIKey, &st.IsActive); err != nil {
			return nil, err
		}
		stores = append(stores, st)
	}
	return stores, rows.Err()
}

// =============================================================================
// INVENTORY / DISCOUNT UPSERTS (API camelCase -> DB snake_case)
// =============================================================================

// The POS payload fields map onto columns through declared descriptor
// tables rather than per-field conditionals; the same table drives the
// column list and the value extraction.

type inventoryField struct {
	column string
	value  func(pos.InventoryItem) interface{}
}

var inventoryFields = []inventoryField{
	{"product_id", func(it pos.InventoryItem) interface{} { return it.ProductID }},
	{"sku", func(it pos.InventoryItem) interface{} { return it.SKU }},
	{"product_name", func(it pos.InventoryItem) interface{} { return it.ProductName }},
	{"category", func(it pos.InventoryItem) interface{} { return it.Category }},
	{"quantity_available", func(it pos.InventoryItem) interface{} { return it.QuantityAvailable }},
	{"unit_cost", func(it pos.InventoryItem) interface{} { return it.UnitCost }},
	{"unit_price", func(it pos.InventoryItem) interface{} { return it.UnitPrice }},
}

type discountField struct {
	column string
	value  func(pos.Discount) interface{}
}

var discountFields = []discountField{
	{"discount_id", func(d pos.Discount) interface{} { return d.DiscountID }},
	{"discount_name", func(d pos.Discount) interface{} { return d.DiscountName }},
	{"discount_method", func(d pos.Discount) interface{} { return d.DiscountMethod }},
	{"amount", func(d pos.Discount) interface{} { return d.Amount }},
	{"is_active", func(d pos.Discount) interface{} { return d.IsActive }},
	{"valid_from", func(d pos.Discount) interface{} { return d.ValidFrom }},
	{"valid_until", func(d pos.Discount) interface{} { return d.ValidUntil }},
}

// upsertSQL builds the INSERT ... ON CONFLICT statement for a descriptor
// table. location_id leads, synced_at trails; everything else updates on
// conflict.
func upsertSQL(table string, columns []string, conflictKey string) string {
	cols := append([]string{"location_id"}, columns...)
	cols = append(cols, "synced_at")

	placeholders := ""
	for i := range cols {
		if i > 0 {
			placeholders += ", "
		}
		placeholders += fmt.Sprintf("$%d", i+1)
	}

	set := ""
	for _, c := range cols[1:] {
		if set != "" {
			set += ", "
		}
		set += fmt.Sprintf("%s = EXCLUDED.%s", c, c)
	}

	colList := ""
	for i, c := range cols {
		if i > 0 {
			colList += ", "
		}
		colList += c
	}

	return fmt.Sprintf(
		"INSERT INTO %s (%s) VALUES (%s) ON CONFLICT (location_id, %s) DO UPDATE SET %s",
		table, colList, placeholders, conflictKey, set)
}

// UpsertInventory lands a location's inventory snapshot, batched.
func (s *Store) UpsertInventory(ctx context.Context, locationID string, items []pos.InventoryItem) error {
	columns := make([]string, len(inventoryFields))
	for i, f := range inventoryFields {
		columns[i] = f.column
	}
	sql := upsertSQL("inventory", columns, "product_id")
	now := time.Now().UTC()

	batch := &pgx.Batch{}
	for _, it := range items {
		args := make([]interface{}, 0, len(inventoryFields)+2)
		args = append(args, locationID)
		for _, f := range inventoryFields {
			args = append(args, f.value(it))
		}
		args = append(args, now)
		batch.Queue(sql, args...)
	}
	return s.pool.SendBatch(ctx, batch).Close()
}

// UpsertDiscounts lands a location's discount list, batched.
func (s *Store) UpsertDiscounts(ctx context.Context, locationID string, discounts []pos.Discount) error {
	columns := make([]string, len(discountFields))
	for i, f := range discountFields {
		columns[i] = f.column
	}
	sql := upsertSQL("discounts", columns, "discount_id")
	now := time.Now().UTC()

	batch := &pgx.Batch{}
	for _, d := range discounts {
		args := make([]interface{}, 0, len(discountFields)+2)
		args = append(args, locationID)
		for _, f := range discountFields {
			args = append(args, f.value(d))
		}
		args = append(args, now)
		batch.Queue(sql, args...)
	}
	return s.pool.SendBatch(ctx, batch).Close()
}

// =============================================================================
// ROW READS FOR THE CACHE REFRESHER
// =============================================================================

// rowsToMaps materializes a result set as column-keyed maps, which is
// what the Redis view serializes (full rows, schema-agnostic).
func rowsToMaps(rows pgx.Rows) ([]map[string]interface{}, error) {
	defer rows.Close()
	fields := rows.FieldDescriptions()

	var out []map[string]interface{}
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, err
		}
		m := make(map[string]interface{}, len(fields))
		for i, fd := range fields {
			m[string(fd.Name)] = values[i]
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// InventoryByLocation implements cache.LocationReader.
func (s *Store) InventoryByLocation(ctx context.Context, locationID string) ([]map[string]interface{}, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT * FROM inventory WHERE location_id = $1 ORDER BY product_id`, locationID)
	if err != nil {
		return nil, err
	}
	return rowsToMaps(rows)
}

// DiscountsByLocation implements cache.LocationReader.
func (s *Store) DiscountsByLocation(ctx context.Context, locationID string) ([]map[string]interface{}, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT * FROM discounts WHERE location_id = $1 ORDER BY discount_id`, locationID)
	if err != nil {
		return nil, err
	}
	return rowsToMaps(rows)
}
