package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/JonMunkholm/stockcount/internal/core"
)

// SQLiteStore implements core.Store over a single SQLite connection. Changes
// are published to in-process subscribers after each commit, so it suits a
// single server process.
type SQLiteStore struct {
	db  *sqlx.DB
	hub *hub
	now func() time.Time
}

type productRow struct {
	ID             string          `db:"id"`
	OrganizationID string          `db:"organization_id"`
	SKU            string          `db:"sku"`
	Name           string          `db:"name"`
	CategoryLevel1 string          `db:"category_level_1"`
	CategoryLevel2 string          `db:"category_level_2"`
	CategoryLevel3 string          `db:"category_level_3"`
	Price          sql.NullFloat64 `db:"price"`
	ExpectedStock  sql.NullInt64   `db:"expected_stock"`
	Store          string          `db:"store"`
	Location       string          `db:"location"`
	CreatedMs      int64           `db:"created_ms"`
	UpdatedMs      int64           `db:"updated_ms"`
}

func (r productRow) product() core.Product {
	p := core.Product{
		ID:             r.ID,
		OrganizationID: r.OrganizationID,
		SKU:            r.SKU,
		Name:           r.Name,
		CategoryLevel1: r.CategoryLevel1,
		CategoryLevel2: r.CategoryLevel2,
		CategoryLevel3: r.CategoryLevel3,
		Store:          r.Store,
		Location:       r.Location,
		CreatedAt:      time.UnixMilli(r.CreatedMs).UTC(),
		UpdatedAt:      time.UnixMilli(r.UpdatedMs).UTC(),
	}
	if r.Price.Valid {
		v := r.Price.Float64
		p.Price = &v
	}
	if r.ExpectedStock.Valid {
		v := int(r.ExpectedStock.Int64)
		p.ExpectedStock = &v
	}
	return p
}

func productsFromRows(rows []productRow) []core.Product {
	out := make([]core.Product, len(rows))
	for i, r := range rows {
		out[i] = r.product()
	}
	return out
}

func nullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}

func nullInt(v *int) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*v), Valid: true}
}

const sqliteProductColumns = `id, organization_id, sku, name, category_level_1, category_level_2,
	category_level_3, price, expected_stock, store, location, created_ms, updated_ms`

// OpenSQLite opens dsn (a file path or ":memory:") with foreign keys enabled.
func OpenSQLite(ctx context.Context, dsn string) (*sqlx.DB, error) {
	db, err := sqlx.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// one connection: writes serialize and an in-memory database survives
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(0)

	for _, pragma := range []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}
	return db, nil
}

func NewSQLiteStore(db *sqlx.DB) *SQLiteStore {
	return &SQLiteStore{db: db, hub: newHub(), now: time.Now}
}

func (s *SQLiteStore) Close() error {
	s.hub.closeAll()
	return s.db.Close()
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// tx runs fn in a transaction and publishes the changes it returns once the
// transaction commits.
func (s *SQLiteStore) tx(ctx context.Context, fn func(tx *sqlx.Tx) ([]core.Change, error)) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	changes, err := fn(tx)
	if err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	for _, c := range changes {
		s.hub.publish(c)
	}
	return nil
}

func (s *SQLiteStore) CreateOrganization(ctx context.Context, name string) (core.Organization, error) {
	org := core.Organization{ID: uuid.NewString(), Name: name, CreatedAt: s.now().UTC().Truncate(time.Millisecond)}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO organizations (id, name, created_ms) VALUES (?, ?, ?)`,
		org.ID, org.Name, org.CreatedAt.UnixMilli())
	if err != nil {
		return core.Organization{}, fmt.Errorf("insert organization: %w", err)
	}
	return org, nil
}

func (s *SQLiteStore) GetOrganization(ctx context.Context, orgID string) (core.Organization, error) {
	var row struct {
		ID        string `db:"id"`
		Name      string `db:"name"`
		CreatedMs int64  `db:"created_ms"`
	}
	err := s.db.GetContext(ctx, &row, `SELECT id, name, created_ms FROM organizations WHERE id = ?`, orgID)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Organization{}, core.ErrOrgNotFound
	}
	if err != nil {
		return core.Organization{}, err
	}
	return core.Organization{ID: row.ID, Name: row.Name, CreatedAt: time.UnixMilli(row.CreatedMs).UTC()}, nil
}

func (s *SQLiteStore) ListProducts(ctx context.Context, orgID string) ([]core.Product, error) {
	var rows []productRow
	err := s.db.SelectContext(ctx, &rows,
		`SELECT `+sqliteProductColumns+` FROM products WHERE organization_id = ? ORDER BY sku`, orgID)
	if err != nil {
		return nil, err
	}
	return productsFromRows(rows), nil
}

func (s *SQLiteStore) FindProductBySKU(ctx context.Context, orgID, sku string) (core.Product, error) {
	return getProduct(ctx, s.db, `organization_id = ? AND sku = ?`, orgID, sku)
}

func getProduct(ctx context.Context, q sqlx.QueryerContext, where string, args ...any) (core.Product, error) {
	var row productRow
	err := sqlx.GetContext(ctx, q, &row, `SELECT `+sqliteProductColumns+` FROM products WHERE `+where, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Product{}, core.ErrProductNotFound
	}
	if err != nil {
		return core.Product{}, err
	}
	return row.product(), nil
}

func (s *SQLiteStore) newRow(orgID string, in core.ProductInput, nowMs int64) productRow {
	return productRow{
		ID:             uuid.NewString(),
		OrganizationID: orgID,
		SKU:            in.SKU,
		Name:           in.Name,
		CategoryLevel1: in.CategoryLevel1,
		CategoryLevel2: in.CategoryLevel2,
		CategoryLevel3: in.CategoryLevel3,
		Price:          nullFloat(in.Price),
		ExpectedStock:  nullInt(in.ExpectedStock),
		Store:          in.Store,
		Location:       in.Location,
		CreatedMs:      nowMs,
		UpdatedMs:      nowMs,
	}
}

const insertProductSQL = `INSERT INTO products (` + sqliteProductColumns + `)
	VALUES (:id, :organization_id, :sku, :name, :category_level_1, :category_level_2,
		:category_level_3, :price, :expected_stock, :store, :location, :created_ms, :updated_ms)`

func (s *SQLiteStore) InsertProduct(ctx context.Context, orgID string, in core.ProductInput) (core.Product, error) {
	products, err := s.InsertProducts(ctx, orgID, []core.ProductInput{in})
	if err != nil {
		return core.Product{}, err
	}
	return products[0], nil
}

// InsertProducts inserts all rows or none.
func (s *SQLiteStore) InsertProducts(ctx context.Context, orgID string, in []core.ProductInput) ([]core.Product, error) {
	if len(in) == 0 {
		return nil, nil
	}
	if _, err := s.GetOrganization(ctx, orgID); err != nil {
		return nil, err
	}

	nowMs := s.now().UnixMilli()
	rows := make([]productRow, len(in))
	for i, row := range in {
		rows[i] = s.newRow(orgID, row, nowMs)
	}

	err := s.tx(ctx, func(tx *sqlx.Tx) ([]core.Change, error) {
		stmt, err := tx.PrepareNamedContext(ctx, insertProductSQL)
		if err != nil {
			return nil, err
		}
		defer stmt.Close()

		for _, row := range rows {
			if _, err := stmt.ExecContext(ctx, row); err != nil {
				return nil, fmt.Errorf("insert product %q: %w", row.SKU, err)
			}
		}
		return []core.Change{{
			Kind: core.ChangeProductUpsert, OrganizationID: orgID, Products: productsFromRows(rows),
		}}, nil
	})
	if err != nil {
		return nil, err
	}
	return productsFromRows(rows), nil
}

func (s *SQLiteStore) UpdateProduct(ctx context.Context, orgID, id string, u core.ProductUpdate) (core.Product, error) {
	var p core.Product
	err := s.tx(ctx, func(tx *sqlx.Tx) ([]core.Change, error) {
		res, err := tx.ExecContext(ctx,
			`UPDATE products SET
				name             = COALESCE(?, name),
				category_level_1 = COALESCE(?, category_level_1),
				category_level_2 = COALESCE(?, category_level_2),
				category_level_3 = COALESCE(?, category_level_3),
				price            = COALESCE(?, price),
				expected_stock   = COALESCE(?, expected_stock),
				store            = COALESCE(?, store),
				location         = COALESCE(?, location),
				updated_ms       = ?
			WHERE organization_id = ? AND id = ?`,
			u.Name, u.CategoryLevel1, u.CategoryLevel2, u.CategoryLevel3,
			nullFloat(u.Price), nullInt(u.ExpectedStock), u.Store, u.Location,
			s.now().UnixMilli(), orgID, id)
		if err != nil {
			return nil, err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return nil, core.ErrProductNotFound
		}
		if p, err = getProduct(ctx, tx, `organization_id = ? AND id = ?`, orgID, id); err != nil {
			return nil, err
		}
		return []core.Change{{Kind: core.ChangeProductUpsert, OrganizationID: orgID, Products: []core.Product{p}}}, nil
	})
	return p, err
}

func (s *SQLiteStore) BulkUpdateExpectedStock(ctx context.Context, orgID string, ids []string, expected int) ([]core.Product, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	var updated []core.Product
	err := s.tx(ctx, func(tx *sqlx.Tx) ([]core.Change, error) {
		query, args, err := sqlx.In(
			`UPDATE products SET expected_stock = ?, updated_ms = ? WHERE organization_id = ? AND id IN (?)`,
			expected, s.now().UnixMilli(), orgID, ids)
		if err != nil {
			return nil, err
		}
		if _, err := tx.ExecContext(ctx, tx.Rebind(query), args...); err != nil {
			return nil, err
		}

		query, args, err = sqlx.In(
			`SELECT `+sqliteProductColumns+` FROM products WHERE organization_id = ? AND id IN (?) ORDER BY sku`,
			orgID, ids)
		if err != nil {
			return nil, err
		}
		var rows []productRow
		if err := tx.SelectContext(ctx, &rows, tx.Rebind(query), args...); err != nil {
			return nil, err
		}
		updated = productsFromRows(rows)
		return []core.Change{{Kind: core.ChangeProductUpsert, OrganizationID: orgID, Products: updated}}, nil
	})
	return updated, err
}

func (s *SQLiteStore) DeleteProduct(ctx context.Context, orgID, id string) error {
	n, err := s.DeleteProducts(ctx, orgID, []string{id})
	if err != nil {
		return err
	}
	if n == 0 {
		return core.ErrProductNotFound
	}
	return nil
}

func (s *SQLiteStore) DeleteProducts(ctx context.Context, orgID string, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	var n int64
	err := s.tx(ctx, func(tx *sqlx.Tx) ([]core.Change, error) {
		query, args, err := sqlx.In(`DELETE FROM products WHERE organization_id = ? AND id IN (?)`, orgID, ids)
		if err != nil {
			return nil, err
		}
		res, err := tx.ExecContext(ctx, tx.Rebind(query), args...)
		if err != nil {
			return nil, err
		}
		n, _ = res.RowsAffected()
		return []core.Change{{Kind: core.ChangeProductDelete, OrganizationID: orgID, IDs: ids}}, nil
	})
	return n, err
}

func (s *SQLiteStore) DeleteAllProducts(ctx context.Context, orgID string) ([]string, error) {
	return s.deleteAll(ctx, orgID, "products", core.ChangeProductsClear)
}

func (s *SQLiteStore) DeleteAllCounts(ctx context.Context, orgID string) ([]string, error) {
	return s.deleteAll(ctx, orgID, "count_records", core.ChangeCountsClear)
}

// deleteAll empties table for orgID and publishes the removed ids.
func (s *SQLiteStore) deleteAll(ctx context.Context, orgID, table string, kind core.ChangeKind) ([]string, error) {
	var ids []string
	err := s.tx(ctx, func(tx *sqlx.Tx) ([]core.Change, error) {
		if err := tx.SelectContext(ctx, &ids, `SELECT id FROM `+table+` WHERE organization_id = ?`, orgID); err != nil {
			return nil, err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM `+table+` WHERE organization_id = ?`, orgID); err != nil {
			return nil, err
		}
		return []core.Change{{Kind: kind, OrganizationID: orgID, IDs: ids}}, nil
	})
	if err != nil {
		return nil, err
	}
	return ids, nil
}

func (s *SQLiteStore) ListCounts(ctx context.Context, orgID string) ([]core.CountRecord, error) {
	var counts []core.CountRecord
	err := s.db.SelectContext(ctx, &counts,
		`SELECT `+countColumns+` FROM count_records WHERE organization_id = ? ORDER BY timestamp_ms, id`, orgID)
	if err != nil {
		return nil, err
	}
	return counts, nil
}

func (s *SQLiteStore) InsertCount(ctx context.Context, orgID string, in core.CountInput) (core.CountRecord, error) {
	rec := core.CountRecord{
		ID:             uuid.NewString(),
		OrganizationID: orgID,
		ProductID:      in.ProductID,
		Quantity:       in.Quantity,
		Timestamp:      s.now().UnixMilli(),
		CounterName:    in.CounterName,
	}

	err := s.tx(ctx, func(tx *sqlx.Tx) ([]core.Change, error) {
		var exists bool
		err := tx.GetContext(ctx, &exists,
			`SELECT EXISTS (SELECT 1 FROM products WHERE organization_id = ? AND id = ?)`, orgID, in.ProductID)
		if err != nil {
			return nil, err
		}
		if !exists {
			return nil, core.ErrProductNotFound
		}

		_, err = tx.NamedExecContext(ctx,
			`INSERT INTO count_records (`+countColumns+`)
			VALUES (:id, :organization_id, :product_id, :quantity, :timestamp_ms, :counter_name)`, rec)
		if err != nil {
			return nil, err
		}
		return []core.Change{{Kind: core.ChangeCountInsert, OrganizationID: orgID, Count: &rec}}, nil
	})
	if err != nil {
		return core.CountRecord{}, err
	}
	return rec, nil
}

// Subscribe streams changes committed through this store for orgID.
func (s *SQLiteStore) Subscribe(ctx context.Context, orgID string) (<-chan core.Change, error) {
	if _, err := s.GetOrganization(ctx, orgID); err != nil {
		return nil, err
	}
	return s.hub.subscribe(ctx, orgID), nil
}
