package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JonMunkholm/stockcount/internal/config"
	"github.com/JonMunkholm/stockcount/internal/core"
)

const (
	// notifyChannel carries JSON-encoded core.Change payloads.
	notifyChannel = "stockcount_changes"

	// maxNotifyPayload stays under Postgres' 8000 byte NOTIFY limit.
	maxNotifyPayload = 7900
)

const productColumns = `id, organization_id, sku, name, category_level_1, category_level_2,
	category_level_3, price, expected_stock, store, location, created_at, updated_at`

const countColumns = `id, organization_id, product_id, quantity, timestamp_ms, counter_name`

// PostgresStore implements core.Store over a pgx pool. Every write sends its
// Change with pg_notify inside the same transaction, so subscribers in any
// process see exactly the committed writes.
type PostgresStore struct {
	pool     *pgxpool.Pool
	ownsPool bool
	hub      *hub

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	lmu       sync.Mutex
	listening bool
}

// NewPostgresPool parses cfg and connects, applying the pool limits.
func NewPostgresPool(ctx context.Context, cfg config.DatabaseConfig) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse database URL: %w", err)
	}
	poolConfig.MaxConns = int32(cfg.MaxConns)
	poolConfig.MinConns = int32(cfg.MinConns)
	poolConfig.MaxConnLifetime = cfg.MaxConnLifetime
	poolConfig.MaxConnIdleTime = cfg.MaxConnIdleTime

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return pool, nil
}

// NewPostgresStore wraps pool. Close stops the listener but leaves the pool
// open unless the store was created by Open.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	ctx, cancel := context.WithCancel(context.Background())
	return &PostgresStore{
		pool:   pool,
		hub:    newHub(),
		ctx:    ctx,
		cancel: cancel,
	}
}

func (s *PostgresStore) Close() error {
	s.cancel()
	s.wg.Wait()
	s.hub.closeAll()
	if s.ownsPool {
		s.pool.Close()
	}
	return nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// parseID reports whether id is a UUID. Malformed ids cannot match a row.
func parseID(id string) (uuid.UUID, bool) {
	u, err := uuid.Parse(id)
	return u, err == nil
}

func parseIDs(ids []string) []uuid.UUID {
	out := make([]uuid.UUID, 0, len(ids))
	for _, id := range ids {
		if u, ok := parseID(id); ok {
			out = append(out, u)
		}
	}
	return out
}

// CreateOrganization inserts an organization. Provisioning tools and tests use it.
func (s *PostgresStore) CreateOrganization(ctx context.Context, name string) (core.Organization, error) {
	rows, err := s.pool.Query(ctx,
		`INSERT INTO organizations (id, name) VALUES ($1, $2) RETURNING id, name, created_at`,
		uuid.New(), name)
	if err != nil {
		return core.Organization{}, fmt.Errorf("insert organization: %w", err)
	}
	return pgx.CollectOneRow(rows, pgx.RowToStructByName[core.Organization])
}

func (s *PostgresStore) GetOrganization(ctx context.Context, orgID string) (core.Organization, error) {
	id, ok := parseID(orgID)
	if !ok {
		return core.Organization{}, core.ErrOrgNotFound
	}
	rows, err := s.pool.Query(ctx, `SELECT id, name, created_at FROM organizations WHERE id = $1`, id)
	if err != nil {
		return core.Organization{}, err
	}
	org, err := pgx.CollectOneRow(rows, pgx.RowToStructByName[core.Organization])
	if errors.Is(err, pgx.ErrNoRows) {
		return core.Organization{}, core.ErrOrgNotFound
	}
	return org, err
}

func (s *PostgresStore) ListProducts(ctx context.Context, orgID string) ([]core.Product, error) {
	id, ok := parseID(orgID)
	if !ok {
		return nil, core.ErrOrgNotFound
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+productColumns+` FROM products WHERE organization_id = $1 ORDER BY sku`, id)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowToStructByName[core.Product])
}

func (s *PostgresStore) FindProductBySKU(ctx context.Context, orgID, sku string) (core.Product, error) {
	id, ok := parseID(orgID)
	if !ok {
		return core.Product{}, core.ErrProductNotFound
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+productColumns+` FROM products WHERE organization_id = $1 AND sku = $2`, id, sku)
	if err != nil {
		return core.Product{}, err
	}
	return collectProduct(rows)
}

func collectProduct(rows pgx.Rows) (core.Product, error) {
	p, err := pgx.CollectOneRow(rows, pgx.RowToStructByName[core.Product])
	if errors.Is(err, pgx.ErrNoRows) {
		return core.Product{}, core.ErrProductNotFound
	}
	return p, err
}

func (s *PostgresStore) InsertProduct(ctx context.Context, orgID string, in core.ProductInput) (core.Product, error) {
	org, ok := parseID(orgID)
	if !ok {
		return core.Product{}, core.ErrOrgNotFound
	}

	var p core.Product
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx,
			`INSERT INTO products (id, organization_id, sku, name, category_level_1, category_level_2,
				category_level_3, price, expected_stock, store, location)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
			RETURNING `+productColumns,
			uuid.New(), org, in.SKU, in.Name, in.CategoryLevel1, in.CategoryLevel2,
			in.CategoryLevel3, in.Price, in.ExpectedStock, in.Store, in.Location)
		if err != nil {
			return err
		}
		if p, err = collectProduct(rows); err != nil {
			return err
		}
		return notify(ctx, tx, core.Change{Kind: core.ChangeProductUpsert, OrganizationID: orgID, Products: []core.Product{p}})
	})
	return p, err
}

// InsertProducts bulk-loads rows with COPY in one transaction.
func (s *PostgresStore) InsertProducts(ctx context.Context, orgID string, in []core.ProductInput) ([]core.Product, error) {
	org, ok := parseID(orgID)
	if !ok {
		return nil, core.ErrOrgNotFound
	}
	if len(in) == 0 {
		return nil, nil
	}

	now := time.Now().UTC()
	products := make([]core.Product, len(in))
	rows := make([][]any, len(in))
	for i, row := range in {
		id := uuid.New()
		products[i] = core.Product{
			ID: id.String(), OrganizationID: orgID,
			SKU: row.SKU, Name: row.Name,
			CategoryLevel1: row.CategoryLevel1, CategoryLevel2: row.CategoryLevel2, CategoryLevel3: row.CategoryLevel3,
			Price: row.Price, ExpectedStock: row.ExpectedStock,
			Store: row.Store, Location: row.Location,
			CreatedAt: now, UpdatedAt: now,
		}
		rows[i] = []any{
			id, org, row.SKU, row.Name, row.CategoryLevel1, row.CategoryLevel2, row.CategoryLevel3,
			row.Price, row.ExpectedStock, row.Store, row.Location, now, now,
		}
	}

	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		n, err := tx.CopyFrom(ctx,
			pgx.Identifier{"products"},
			[]string{"id", "organization_id", "sku", "name", "category_level_1", "category_level_2",
				"category_level_3", "price", "expected_stock", "store", "location", "created_at", "updated_at"},
			pgx.CopyFromRows(rows),
		)
		if err != nil {
			return fmt.Errorf("copy products: %w", err)
		}
		slog.Debug("products copied", "org_id", orgID, "rows", n)
		return notify(ctx, tx, core.Change{Kind: core.ChangeProductUpsert, OrganizationID: orgID, Products: products})
	})
	if err != nil {
		return nil, err
	}
	return products, nil
}

// UpdateProduct overwrites the non-nil fields of u.
func (s *PostgresStore) UpdateProduct(ctx context.Context, orgID, id string, u core.ProductUpdate) (core.Product, error) {
	org, ok1 := parseID(orgID)
	pid, ok2 := parseID(id)
	if !ok1 || !ok2 {
		return core.Product{}, core.ErrProductNotFound
	}

	var p core.Product
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx,
			`UPDATE products SET
				name             = COALESCE($3, name),
				category_level_1 = COALESCE($4, category_level_1),
				category_level_2 = COALESCE($5, category_level_2),
				category_level_3 = COALESCE($6, category_level_3),
				price            = COALESCE($7, price),
				expected_stock   = COALESCE($8, expected_stock),
				store            = COALESCE($9, store),
				location         = COALESCE($10, location),
				updated_at       = now()
			WHERE organization_id = $1 AND id = $2
			RETURNING `+productColumns,
			org, pid, u.Name, u.CategoryLevel1, u.CategoryLevel2, u.CategoryLevel3,
			u.Price, u.ExpectedStock, u.Store, u.Location)
		if err != nil {
			return err
		}
		if p, err = collectProduct(rows); err != nil {
			return err
		}
		return notify(ctx, tx, core.Change{Kind: core.ChangeProductUpsert, OrganizationID: orgID, Products: []core.Product{p}})
	})
	return p, err
}

func (s *PostgresStore) BulkUpdateExpectedStock(ctx context.Context, orgID string, ids []string, expected int) ([]core.Product, error) {
	org, ok := parseID(orgID)
	if !ok {
		return nil, core.ErrOrgNotFound
	}
	pids := parseIDs(ids)
	if len(pids) == 0 {
		return nil, nil
	}

	var updated []core.Product
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx,
			`UPDATE products SET expected_stock = $3, updated_at = now()
			WHERE organization_id = $1 AND id = ANY($2)
			RETURNING `+productColumns,
			org, pids, expected)
		if err != nil {
			return err
		}
		if updated, err = pgx.CollectRows(rows, pgx.RowToStructByName[core.Product]); err != nil {
			return err
		}
		return notify(ctx, tx, core.Change{Kind: core.ChangeProductUpsert, OrganizationID: orgID, Products: updated})
	})
	return updated, err
}

func (s *PostgresStore) DeleteProduct(ctx context.Context, orgID, id string) error {
	n, err := s.DeleteProducts(ctx, orgID, []string{id})
	if err != nil {
		return err
	}
	if n == 0 {
		return core.ErrProductNotFound
	}
	return nil
}

func (s *PostgresStore) DeleteProducts(ctx context.Context, orgID string, ids []string) (int64, error) {
	org, ok := parseID(orgID)
	if !ok {
		return 0, core.ErrOrgNotFound
	}
	pids := parseIDs(ids)
	if len(pids) == 0 {
		return 0, nil
	}

	var n int64
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx,
			`DELETE FROM products WHERE organization_id = $1 AND id = ANY($2)`, org, pids)
		if err != nil {
			return err
		}
		n = tag.RowsAffected()
		return notify(ctx, tx, core.Change{Kind: core.ChangeProductDelete, OrganizationID: orgID, IDs: ids})
	})
	return n, err
}

func (s *PostgresStore) DeleteAllProducts(ctx context.Context, orgID string) ([]string, error) {
	return s.deleteAll(ctx, orgID, "products", core.ChangeProductsClear)
}

func (s *PostgresStore) DeleteAllCounts(ctx context.Context, orgID string) ([]string, error) {
	return s.deleteAll(ctx, orgID, "count_records", core.ChangeCountsClear)
}

// deleteAll empties table for orgID. The notification lists the removed ids
// so it cannot touch rows inserted after the delete.
func (s *PostgresStore) deleteAll(ctx context.Context, orgID, table string, kind core.ChangeKind) ([]string, error) {
	org, ok := parseID(orgID)
	if !ok {
		return nil, core.ErrOrgNotFound
	}

	var ids []string
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx,
			`DELETE FROM `+pgx.Identifier{table}.Sanitize()+` WHERE organization_id = $1 RETURNING id::text`, org)
		if err != nil {
			return err
		}
		if ids, err = pgx.CollectRows(rows, pgx.RowTo[string]); err != nil {
			return err
		}
		return notify(ctx, tx, core.Change{Kind: kind, OrganizationID: orgID, IDs: ids})
	})
	if err != nil {
		return nil, err
	}
	return ids, nil
}

func (s *PostgresStore) ListCounts(ctx context.Context, orgID string) ([]core.CountRecord, error) {
	org, ok := parseID(orgID)
	if !ok {
		return nil, core.ErrOrgNotFound
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+countColumns+` FROM count_records WHERE organization_id = $1 ORDER BY timestamp_ms, id`, org)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowToStructByName[core.CountRecord])
}

func (s *PostgresStore) InsertCount(ctx context.Context, orgID string, in core.CountInput) (core.CountRecord, error) {
	org, ok1 := parseID(orgID)
	pid, ok2 := parseID(in.ProductID)
	if !ok1 || !ok2 {
		return core.CountRecord{}, core.ErrProductNotFound
	}

	var rec core.CountRecord
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx,
			`INSERT INTO count_records (id, organization_id, product_id, quantity, timestamp_ms, counter_name)
			VALUES ($1, $2, $3, $4, $5, $6)
			RETURNING `+countColumns,
			uuid.New(), org, pid, in.Quantity, time.Now().UnixMilli(), in.CounterName)
		if err != nil {
			return err
		}
		if rec, err = pgx.CollectOneRow(rows, pgx.RowToStructByName[core.CountRecord]); err != nil {
			return err
		}
		return notify(ctx, tx, core.Change{Kind: core.ChangeCountInsert, OrganizationID: orgID, Count: &rec})
	})
	return rec, err
}

// notify queues c for delivery when tx commits. Changes too large for a
// NOTIFY payload are sent as a reload request for their organization.
func notify(ctx context.Context, tx pgx.Tx, c core.Change) error {
	payload, err := encodeChange(c)
	if err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `SELECT pg_notify($1, $2)`, notifyChannel, payload); err != nil {
		return fmt.Errorf("notify: %w", err)
	}
	return nil
}

func encodeChange(c core.Change) (string, error) {
	raw, err := json.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("encode change: %w", err)
	}
	if len(raw) > maxNotifyPayload {
		raw, err = json.Marshal(core.Change{Kind: core.ChangeReloadRequired, OrganizationID: c.OrganizationID})
		if err != nil {
			return "", fmt.Errorf("encode change: %w", err)
		}
	}
	return string(raw), nil
}

// Subscribe streams committed changes for orgID. All subscriptions share one
// LISTEN connection; if it fails every subscription is closed and the next
// Subscribe reconnects.
func (s *PostgresStore) Subscribe(ctx context.Context, orgID string) (<-chan core.Change, error) {
	subCtx, cancel := context.WithCancel(ctx)
	ch := s.hub.subscribe(subCtx, orgID)

	if err := s.ensureListener(ctx); err != nil {
		cancel()
		return nil, err
	}

	// the hub closes ch once subCtx ends
	stop := context.AfterFunc(s.ctx, cancel)
	context.AfterFunc(subCtx, func() { stop() })
	return ch, nil
}

func (s *PostgresStore) ensureListener(ctx context.Context) error {
	s.lmu.Lock()
	defer s.lmu.Unlock()

	if s.listening {
		return nil
	}
	if s.ctx.Err() != nil {
		return core.ErrSnapshotClosed
	}

	pooled, err := s.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire listener connection: %w", err)
	}
	conn := pooled.Hijack()

	if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{notifyChannel}.Sanitize()); err != nil {
		_ = conn.Close(context.Background())
		return fmt.Errorf("listen: %w", err)
	}

	s.listening = true
	s.wg.Add(1)
	go s.listen(conn)
	return nil
}

func (s *PostgresStore) listen(conn *pgx.Conn) {
	defer s.wg.Done()
	defer func() {
		_ = conn.Close(context.Background())

		s.lmu.Lock()
		s.listening = false
		s.lmu.Unlock()

		// subscribers must reload; they cannot know what they missed
		s.hub.closeAll()
	}()

	for {
		n, err := conn.WaitForNotification(s.ctx)
		if err != nil {
			if s.ctx.Err() == nil {
				slog.Error("notification listener stopped", "error", err)
			}
			return
		}

		var c core.Change
		if err := json.Unmarshal([]byte(n.Payload), &c); err != nil {
			slog.Warn("bad notification payload", "error", err)
			continue
		}
		s.hub.publish(c)
	}
}
