package database

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/stockcount/internal/config"
	"github.com/JonMunkholm/stockcount/internal/core"
)

func newTestStore(t *testing.T) (Store, core.Organization) {
	t.Helper()
	ctx := context.Background()

	s, err := Open(ctx, config.DatabaseConfig{Driver: "sqlite", URL: ":memory:", AutoMigrate: true})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	org, err := s.CreateOrganization(ctx, "Main Street")
	require.NoError(t, err)
	return s, org
}

func intPtr(v int) *int           { return &v }
func floatPtr(v float64) *float64 { return &v }
func strPtr(v string) *string     { return &v }

func recv(t *testing.T, ch <-chan core.Change) core.Change {
	t.Helper()
	select {
	case c, ok := <-ch:
		require.True(t, ok, "change feed closed")
		return c
	case <-time.After(time.Second):
		t.Fatal("no change received")
		return core.Change{}
	}
}

func TestSQLiteStore_Organizations(t *testing.T) {
	s, org := newTestStore(t)
	ctx := context.Background()

	got, err := s.GetOrganization(ctx, org.ID)
	require.NoError(t, err)
	assert.Equal(t, "Main Street", got.Name)
	assert.Equal(t, org.CreatedAt, got.CreatedAt)

	_, err = s.GetOrganization(ctx, "missing")
	assert.ErrorIs(t, err, core.ErrOrgNotFound)
}

func TestSQLiteStore_Products(t *testing.T) {
	s, org := newTestStore(t)
	ctx := context.Background()

	p, err := s.InsertProduct(ctx, org.ID, core.ProductInput{
		SKU: "B-2", Name: "Bolt", Price: floatPtr(0.25), ExpectedStock: intPtr(40), Store: "North",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, p.ID)
	assert.Equal(t, org.ID, p.OrganizationID)

	_, err = s.InsertProducts(ctx, org.ID, []core.ProductInput{
		{SKU: "A-1", Name: "Anchor"},
		{SKU: "C-3", Name: "Clamp", Location: "Aisle 3"},
	})
	require.NoError(t, err)

	products, err := s.ListProducts(ctx, org.ID)
	require.NoError(t, err)
	require.Len(t, products, 3)
	assert.Equal(t, []string{"A-1", "B-2", "C-3"}, []string{products[0].SKU, products[1].SKU, products[2].SKU})
	assert.Nil(t, products[0].Price)
	assert.Nil(t, products[0].ExpectedStock)
	require.NotNil(t, products[1].Price)
	assert.InDelta(t, 0.25, *products[1].Price, 1e-9)

	found, err := s.FindProductBySKU(ctx, org.ID, "C-3")
	require.NoError(t, err)
	assert.Equal(t, "Aisle 3", found.Location)

	_, err = s.FindProductBySKU(ctx, org.ID, "Z-9")
	assert.ErrorIs(t, err, core.ErrProductNotFound)
}

func TestSQLiteStore_DuplicateSKURejectsBatch(t *testing.T) {
	s, org := newTestStore(t)
	ctx := context.Background()

	_, err := s.InsertProduct(ctx, org.ID, core.ProductInput{SKU: "A-1", Name: "Anchor"})
	require.NoError(t, err)

	_, err = s.InsertProducts(ctx, org.ID, []core.ProductInput{
		{SKU: "B-2", Name: "Bolt"},
		{SKU: "A-1", Name: "Anchor again"},
	})
	require.Error(t, err)
	assert.Equal(t, "DB002", core.MapError(err).Code)

	products, err := s.ListProducts(ctx, org.ID)
	require.NoError(t, err)
	assert.Len(t, products, 1)
}

func TestSQLiteStore_UpdateProduct(t *testing.T) {
	s, org := newTestStore(t)
	ctx := context.Background()

	p, err := s.InsertProduct(ctx, org.ID, core.ProductInput{SKU: "A-1", Name: "Anchor", ExpectedStock: intPtr(5), Store: "North"})
	require.NoError(t, err)

	updated, err := s.UpdateProduct(ctx, org.ID, p.ID, core.ProductUpdate{Name: strPtr("Heavy Anchor"), Price: floatPtr(12.5)})
	require.NoError(t, err)
	assert.Equal(t, "Heavy Anchor", updated.Name)
	assert.Equal(t, "North", updated.Store)
	require.NotNil(t, updated.ExpectedStock)
	assert.Equal(t, 5, *updated.ExpectedStock)
	require.NotNil(t, updated.Price)
	assert.InDelta(t, 12.5, *updated.Price, 1e-9)

	_, err = s.UpdateProduct(ctx, org.ID, "missing", core.ProductUpdate{Name: strPtr("x")})
	assert.ErrorIs(t, err, core.ErrProductNotFound)

	other, err := s.CreateOrganization(ctx, "Elsewhere")
	require.NoError(t, err)
	_, err = s.UpdateProduct(ctx, other.ID, p.ID, core.ProductUpdate{Name: strPtr("x")})
	assert.ErrorIs(t, err, core.ErrProductNotFound)
}

func TestSQLiteStore_BulkUpdateAndDelete(t *testing.T) {
	s, org := newTestStore(t)
	ctx := context.Background()

	products, err := s.InsertProducts(ctx, org.ID, []core.ProductInput{
		{SKU: "A-1", Name: "Anchor"},
		{SKU: "B-2", Name: "Bolt"},
		{SKU: "C-3", Name: "Clamp"},
	})
	require.NoError(t, err)

	updated, err := s.BulkUpdateExpectedStock(ctx, org.ID, []string{products[0].ID, products[2].ID}, 9)
	require.NoError(t, err)
	require.Len(t, updated, 2)
	for _, p := range updated {
		require.NotNil(t, p.ExpectedStock)
		assert.Equal(t, 9, *p.ExpectedStock)
	}

	n, err := s.DeleteProducts(ctx, org.ID, []string{products[0].ID, products[1].ID})
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	assert.ErrorIs(t, s.DeleteProduct(ctx, org.ID, products[0].ID), core.ErrProductNotFound)

	removed, err := s.DeleteAllProducts(ctx, org.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{products[2].ID}, removed)
}

func TestSQLiteStore_Counts(t *testing.T) {
	s, org := newTestStore(t)
	ctx := context.Background()

	p, err := s.InsertProduct(ctx, org.ID, core.ProductInput{SKU: "A-1", Name: "Anchor"})
	require.NoError(t, err)

	rec, err := s.InsertCount(ctx, org.ID, core.CountInput{ProductID: p.ID, Quantity: 3, CounterName: "Ana"})
	require.NoError(t, err)
	assert.NotEmpty(t, rec.ID)
	assert.NotZero(t, rec.Timestamp)

	_, err = s.InsertCount(ctx, org.ID, core.CountInput{ProductID: p.ID, Quantity: -1, CounterName: "Ben"})
	require.NoError(t, err)

	_, err = s.InsertCount(ctx, org.ID, core.CountInput{ProductID: "missing", Quantity: 1})
	assert.ErrorIs(t, err, core.ErrProductNotFound)

	counts, err := s.ListCounts(ctx, org.ID)
	require.NoError(t, err)
	require.Len(t, counts, 2)
	assert.Equal(t, 2, core.Total(p.ID, counts))

	// history outlives the product
	require.NoError(t, s.DeleteProduct(ctx, org.ID, p.ID))
	counts, err = s.ListCounts(ctx, org.ID)
	require.NoError(t, err)
	assert.Len(t, counts, 2)

	removed, err := s.DeleteAllCounts(ctx, org.ID)
	require.NoError(t, err)
	assert.Len(t, removed, 2)
	assert.Contains(t, removed, rec.ID)
}

func TestSQLiteStore_SubscribeDeliversCommittedWrites(t *testing.T) {
	s, org := newTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())

	ch, err := s.Subscribe(ctx, org.ID)
	require.NoError(t, err)

	p, err := s.InsertProduct(context.Background(), org.ID, core.ProductInput{SKU: "A-1", Name: "Anchor"})
	require.NoError(t, err)
	c := recv(t, ch)
	assert.Equal(t, core.ChangeProductUpsert, c.Kind)
	require.Len(t, c.Products, 1)
	assert.Equal(t, p.ID, c.Products[0].ID)

	rec, err := s.InsertCount(context.Background(), org.ID, core.CountInput{ProductID: p.ID, Quantity: 2})
	require.NoError(t, err)
	c = recv(t, ch)
	assert.Equal(t, core.ChangeCountInsert, c.Kind)
	require.NotNil(t, c.Count)
	assert.Equal(t, rec.ID, c.Count.ID)

	// failed writes publish nothing
	_, err = s.InsertProduct(context.Background(), org.ID, core.ProductInput{SKU: "A-1", Name: "Dup"})
	require.Error(t, err)
	select {
	case c := <-ch:
		t.Fatalf("unexpected change %v", c.Kind)
	default:
	}

	cancel()
	assert.Eventually(t, func() bool {
		_, ok := <-ch
		return !ok
	}, time.Second, 10*time.Millisecond)

	_, err = s.Subscribe(context.Background(), "missing")
	assert.ErrorIs(t, err, core.ErrOrgNotFound)
}

func TestSQLiteStore_ServiceRoundTrip(t *testing.T) {
	s, org := newTestStore(t)
	ctx := context.Background()

	cfg := &config.Config{
		Import:   config.ImportConfig{MaxConcurrent: 2, MaxWaitTime: time.Second, PreviewRows: 5, Timeout: time.Minute},
		Realtime: config.RealtimeConfig{Subscribe: true},
		Export:   config.ExportConfig{Timezone: "UTC"},
	}
	svc := core.NewService(s, cfg)
	defer svc.Close()

	_, err := svc.CreateProduct(ctx, org.ID, core.ProductInput{SKU: "A-1", Name: "Anchor", ExpectedStock: intPtr(2)})
	require.NoError(t, err)

	res, err := svc.RecordScan(ctx, org.ID, "A-1")
	require.NoError(t, err)
	assert.Equal(t, 1, res.Total)

	res, err = svc.RecordScan(ctx, org.ID, "A-1")
	require.NoError(t, err)
	assert.Equal(t, 2, res.Total)

	item, err := svc.GetProduct(ctx, org.ID, res.Product.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, item.Counted)
}

func TestSQLiteStore_ClearPublishesRemovedIDs(t *testing.T) {
	s, org := newTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	p, err := s.InsertProduct(ctx, org.ID, core.ProductInput{SKU: "A-1", Name: "Anchor"})
	require.NoError(t, err)
	rec, err := s.InsertCount(ctx, org.ID, core.CountInput{ProductID: p.ID, Quantity: 4})
	require.NoError(t, err)

	ch, err := s.Subscribe(ctx, org.ID)
	require.NoError(t, err)

	_, err = s.DeleteAllCounts(ctx, org.ID)
	require.NoError(t, err)
	c := recv(t, ch)
	assert.Equal(t, core.ChangeCountsClear, c.Kind)
	assert.Equal(t, []string{rec.ID}, c.IDs)

	_, err = s.DeleteAllProducts(ctx, org.ID)
	require.NoError(t, err)
	c = recv(t, ch)
	assert.Equal(t, core.ChangeProductsClear, c.Kind)
	assert.Equal(t, []string{p.ID}, c.IDs)
}

func TestSQLiteStore_ServiceScanAfterReset(t *testing.T) {
	s, org := newTestStore(t)
	ctx := context.Background()

	cfg := &config.Config{
		Import:   config.ImportConfig{MaxConcurrent: 2, MaxWaitTime: time.Second, PreviewRows: 5, Timeout: time.Minute},
		Realtime: config.RealtimeConfig{Subscribe: true},
		Export:   config.ExportConfig{Timezone: "UTC"},
	}
	svc := core.NewService(s, cfg)
	defer svc.Close()

	p, err := svc.CreateProduct(ctx, org.ID, core.ProductInput{SKU: "A-1", Name: "Anchor"})
	require.NoError(t, err)

	for i := 0; i < 20; i++ {
		_, err = svc.ApplyDelta(ctx, org.ID, p.ID, 5)
		require.NoError(t, err)
		_, err = svc.ResetCounts(ctx, org.ID, true)
		require.NoError(t, err)
		res, err := svc.RecordScan(ctx, org.ID, "A-1")
		require.NoError(t, err)
		assert.Equal(t, 1, res.Total)

		// the store echoes every write; none may disturb the total
		assert.Never(t, func() bool {
			st, err := svc.State(ctx, org.ID)
			return err != nil || st.Total(p.ID) != 1
		}, 30*time.Millisecond, 2*time.Millisecond)

		counts, err := s.ListCounts(ctx, org.ID)
		require.NoError(t, err)
		assert.Equal(t, 1, core.Total(p.ID, counts))

		_, err = svc.ResetCounts(ctx, org.ID, true)
		require.NoError(t, err)
	}
}

func TestMigrate_SQLiteDownAndUp(t *testing.T) {
	db, err := OpenSQLite(context.Background(), ":memory:")
	require.NoError(t, err)
	defer db.Close()

	v, err := migrateSQLite(db, MigrateUp)
	require.NoError(t, err)
	assert.EqualValues(t, 1, v)

	v, err = migrateSQLite(db, MigrateUp)
	require.NoError(t, err, "re-running is a no-op")
	assert.EqualValues(t, 1, v)

	v, err = migrateSQLite(db, MigrateDown)
	require.NoError(t, err)
	assert.EqualValues(t, 0, v)
}

func TestPgx5URL(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"postgres://u:p@host/db", "pgx5://u:p@host/db"},
		{"postgresql://host/db?sslmode=disable", "pgx5://host/db?sslmode=disable"},
		{"pgx5://host/db", "pgx5://host/db"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, pgx5URL(tt.in))
	}
}
