package web

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/stockcount/internal/config"
	"github.com/JonMunkholm/stockcount/internal/core"
	"github.com/JonMunkholm/stockcount/internal/database"
)

type testEnv struct {
	srv   *Server
	store database.Store
	org   core.Organization
}

func testConfig() *config.Config {
	return &config.Config{
		Server:   config.ServerConfig{RequestTimeout: 10 * time.Second},
		Import:   config.ImportConfig{MaxFileSize: 1 << 16, MaxConcurrent: 2, MaxWaitTime: time.Second, PreviewRows: 5, Timeout: time.Minute},
		Realtime: config.RealtimeConfig{Subscribe: true},
		Export:   config.ExportConfig{Timezone: "UTC"},
		Security: config.SecurityConfig{EnableCSP: true},
	}
}

func newTestEnv(t *testing.T, mutate func(*config.Config)) *testEnv {
	t.Helper()
	ctx := context.Background()

	cfg := testConfig()
	if mutate != nil {
		mutate(cfg)
	}

	store, err := database.Open(ctx, config.DatabaseConfig{Driver: "sqlite", URL: ":memory:", AutoMigrate: true})
	require.NoError(t, err)
	org, err := store.CreateOrganization(ctx, "Main Street")
	require.NoError(t, err)

	svc := core.NewService(store, cfg)
	srv := NewServer(svc, cfg)
	t.Cleanup(func() {
		srv.Shutdown(ctx)
		svc.Close()
		store.Close()
	})
	return &testEnv{srv: srv, store: store, org: org}
}

func (e *testEnv) path(suffix string) string {
	return "/api/orgs/" + e.org.ID + suffix
}

func (e *testEnv) do(t *testing.T, method, target string, body any, headers ...string) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, target, &buf)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}

	rec := httptest.NewRecorder()
	e.srv.Router().ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	return decode[ErrorResponse](t, rec).Code
}

func (e *testEnv) createProduct(t *testing.T, in core.ProductInput) core.Product {
	t.Helper()
	rec := e.do(t, http.MethodPost, e.path("/products"), in)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decode[core.Product](t, rec)
}

func intPtr(v int) *int { return &v }

func TestHealth(t *testing.T) {
	e := newTestEnv(t, nil)

	rec := e.do(t, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	body := decode[map[string]any](t, rec)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.NotEmpty(t, rec.Header().Get("Content-Security-Policy"))
}

func TestProducts_CRUD(t *testing.T) {
	e := newTestEnv(t, nil)

	p := e.createProduct(t, core.ProductInput{SKU: "A-1", Name: "Anchor", ExpectedStock: intPtr(4), Store: "North"})
	e.createProduct(t, core.ProductInput{SKU: "B-2", Name: "Bolt"})

	rec := e.do(t, http.MethodGet, e.path("/products"), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]core.Product](t, rec), 2)

	rec = e.do(t, http.MethodPatch, e.path("/products/"+p.ID), map[string]any{"name": "Heavy Anchor"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "Heavy Anchor", decode[core.Product](t, rec).Name)

	rec = e.do(t, http.MethodGet, e.path("/products/by-sku/A-1"), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, p.ID, decode[core.Product](t, rec).ID)

	rec = e.do(t, http.MethodGet, e.path("/products/"+p.ID), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	pc := decode[core.ProductCount](t, rec)
	assert.Equal(t, 4, pc.Expected)
	assert.Equal(t, core.ClassMissing, pc.Class)

	rec = e.do(t, http.MethodPost, e.path("/products/expected-stock"), map[string]any{"ids": []string{p.ID}, "expected_stock": 7})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = e.do(t, http.MethodDelete, e.path("/products/"+p.ID), nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = e.do(t, http.MethodDelete, e.path("/products/"+p.ID), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "NF002", errorCode(t, rec))
}

func TestProducts_Validation(t *testing.T) {
	e := newTestEnv(t, nil)

	tests := []struct {
		name     string
		method   string
		path     string
		body     any
		wantCode int
		wantErr  string
	}{
		{"missing name", http.MethodPost, "/products", map[string]any{"sku": "A-1"}, http.StatusBadRequest, "VAL006"},
		{"unknown field", http.MethodPost, "/products", map[string]any{"sku": "A-1", "name": "x", "colour": "red"}, http.StatusBadRequest, "ERR000"},
		{"empty update", http.MethodPatch, "/products/missing", map[string]any{}, http.StatusBadRequest, "VAL006"},
		{"bulk without value", http.MethodPost, "/products/expected-stock", map[string]any{"ids": []string{"x"}}, http.StatusBadRequest, "VAL006"},
		{"unknown sku", http.MethodGet, "/products/by-sku/NOPE", nil, http.StatusNotFound, "NF001"},
		{"clear without confirm", http.MethodDelete, "/products", nil, http.StatusBadRequest, "VAL005"},
		{"reset without confirm", http.MethodDelete, "/counts", nil, http.StatusBadRequest, "VAL005"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := e.do(t, tt.method, e.path(tt.path), tt.body)
			assert.Equal(t, tt.wantCode, rec.Code, rec.Body.String())
			assert.Equal(t, tt.wantErr, errorCode(t, rec))
		})
	}
}

func TestProducts_DuplicateSKUConflicts(t *testing.T) {
	e := newTestEnv(t, nil)
	e.createProduct(t, core.ProductInput{SKU: "A-1", Name: "Anchor"})

	rec := e.do(t, http.MethodPost, e.path("/products"), core.ProductInput{SKU: "A-1", Name: "Again"})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "DB002", errorCode(t, rec))
}

func TestUnknownOrganization(t *testing.T) {
	e := newTestEnv(t, nil)

	rec := e.do(t, http.MethodGet, "/api/orgs/nope/products", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "NF003", errorCode(t, rec))
}

type countResponse struct {
	core.CountResult
	Applied bool `json:"applied"`
}

func TestCounts_ScanDeltaAbsolute(t *testing.T) {
	e := newTestEnv(t, nil)
	p := e.createProduct(t, core.ProductInput{SKU: "A-1", Name: "Anchor", ExpectedStock: intPtr(5)})

	rec := e.do(t, http.MethodPost, e.path("/counts/scan"), map[string]string{"sku": "A-1"}, CounterNameHeader, "Ana")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	res := decode[countResponse](t, rec)
	assert.Equal(t, 1, res.Total)
	assert.Equal(t, "Ana", res.Count.CounterName)

	rec = e.do(t, http.MethodPost, e.path("/counts/delta"), map[string]any{"product_id": p.ID, "amount": 3, "counter_name": "Ben"}, CounterNameHeader, "Ana")
	require.Equal(t, http.StatusCreated, rec.Code)
	res = decode[countResponse](t, rec)
	assert.Equal(t, 4, res.Total)
	assert.Equal(t, "Ben", res.Count.CounterName)

	rec = e.do(t, http.MethodPost, e.path("/counts/delta"), map[string]any{"product_id": p.ID, "amount": 0})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "VAL003", errorCode(t, rec))

	rec = e.do(t, http.MethodPost, e.path("/counts/absolute"), map[string]any{"product_id": p.ID, "total": "4"})
	require.Equal(t, http.StatusOK, rec.Code)
	res = decode[countResponse](t, rec)
	assert.False(t, res.Applied)
	assert.Equal(t, 4, res.Total)

	rec = e.do(t, http.MethodPost, e.path("/counts/absolute"), map[string]any{"product_id": p.ID, "total": "7"})
	require.Equal(t, http.StatusCreated, rec.Code)
	res = decode[countResponse](t, rec)
	assert.True(t, res.Applied)
	assert.Equal(t, 3, res.Count.Quantity)
	assert.Equal(t, 7, res.Total)

	rec = e.do(t, http.MethodPost, e.path("/counts/absolute"), map[string]any{"product_id": p.ID, "total": "seven"})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "VAL002", errorCode(t, rec))

	// totals may also arrive as JSON numbers
	rec = e.do(t, http.MethodPost, e.path("/counts/absolute"), map[string]any{"product_id": p.ID, "total": 7})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	res = decode[countResponse](t, rec)
	assert.False(t, res.Applied)
	assert.Equal(t, 7, res.Total)

	rec = e.do(t, http.MethodPost, e.path("/counts/absolute"), map[string]any{"product_id": p.ID, "total": 7.5})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "VAL002", errorCode(t, rec))

	rec = e.do(t, http.MethodPost, e.path("/counts/scan"), map[string]string{"sku": "a-1"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "NF001", errorCode(t, rec))

	rec = e.do(t, http.MethodGet, e.path("/counts/recent?n=2"), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	recent := decode[[]core.CountRecord](t, rec)
	require.Len(t, recent, 2)
	assert.Equal(t, 3, recent[0].Quantity)

	rec = e.do(t, http.MethodDelete, e.path("/counts?confirm=true"), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 3, decode[map[string]int64](t, rec)["deleted"])
}

func TestCounts_HTMXFragment(t *testing.T) {
	e := newTestEnv(t, nil)
	e.createProduct(t, core.ProductInput{SKU: "A-1", Name: "Anchor <b>"})

	rec := e.do(t, http.MethodPost, e.path("/counts/scan"), map[string]string{"sku": "A-1"}, "HX-Request", "true")
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/html")
	assert.Contains(t, rec.Body.String(), "Anchor &lt;b&gt;")
	assert.Contains(t, rec.Body.String(), "Total: 1")

	rec = e.do(t, http.MethodPost, e.path("/counts/scan"), map[string]string{"sku": "ZZZ"}, "HX-Request", "true")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "Code: NF001")
}

func TestDashboardAndExport(t *testing.T) {
	e := newTestEnv(t, nil)
	a := e.createProduct(t, core.ProductInput{SKU: "A-1", Name: "Anchor", ExpectedStock: intPtr(2), Store: "North"})
	e.createProduct(t, core.ProductInput{SKU: "B-2", Name: "Bolt", ExpectedStock: intPtr(0), Store: "South"})

	rec := e.do(t, http.MethodPost, e.path("/counts/delta"), map[string]any{"product_id": a.ID, "amount": 2})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = e.do(t, http.MethodGet, e.path("/dashboard?view=all&per_page=1&page=2"), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	d := decode[core.Dashboard](t, rec)
	assert.Equal(t, 100, d.Summary.CompletionPercent)
	assert.Equal(t, 2, d.Page.TotalPages)
	require.Len(t, d.Items, 1)
	assert.Equal(t, "B-2", d.Items[0].Product.SKU)
	assert.Equal(t, []string{"North", "South"}, d.Stores)

	rec = e.do(t, http.MethodGet, e.path("/dashboard?store=North"), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[core.Dashboard](t, rec).Items, 1)

	rec = e.do(t, http.MethodGet, e.path("/export/summary"), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Disposition"), `filename="inventory_summary_`)
	assert.True(t, strings.HasPrefix(rec.Body.String(), "SKU,Product Name,"))

	rec = e.do(t, http.MethodPost, e.path("/reload"), nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = e.do(t, http.MethodGet, e.path("/export/nope"), nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "RPT001", errorCode(t, rec))

	req := httptest.NewRequest(http.MethodGet, "/orgs/"+e.org.ID, nil)
	page := httptest.NewRecorder()
	e.srv.Router().ServeHTTP(page, req)
	require.Equal(t, http.StatusOK, page.Code)
	assert.Contains(t, page.Body.String(), "<h1>Main Street</h1>")
}

func multipartUpload(t *testing.T, csv, mapping string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", "products.csv")
	require.NoError(t, err)
	_, err = fw.Write([]byte(csv))
	require.NoError(t, err)
	if mapping != "" {
		require.NoError(t, mw.WriteField("mapping", mapping))
	}
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func (e *testEnv) upload(t *testing.T, path string, body *bytes.Buffer, contentType string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, e.path(path), body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	e.srv.Router().ServeHTTP(rec, req)
	return rec
}

func TestImport_MappingPreviewCommit(t *testing.T) {
	e := newTestEnv(t, nil)
	csv := "\ufeffCode,Title,Expected Stock\nA-1,Anchor,3\nB-2,Bolt,x\n,No SKU,1\n"

	body, ct := multipartUpload(t, csv, "")
	rec := e.upload(t, "/import/mapping", body, ct)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	mapping := decode[core.ImportPreview](t, rec)
	assert.Equal(t, []string{"Code", "Title", "Expected Stock"}, mapping.Headers)
	assert.False(t, mapping.CanProceed)

	spec := `{"columns":{"sku":"Code","name":"Title","expectedStock":"Expected Stock"}}`
	body, ct = multipartUpload(t, csv, spec)
	rec = e.upload(t, "/import/preview", body, ct)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	preview := decode[core.ImportPreview](t, rec)
	assert.True(t, preview.CanProceed)
	assert.Equal(t, 3, preview.TotalRows)
	assert.Equal(t, 2, preview.ValidRows)

	body, ct = multipartUpload(t, csv, spec)
	rec = e.upload(t, "/import/commit", body, ct)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, core.ImportResult{Inserted: 2, Rejected: 1}, decode[core.ImportResult](t, rec))

	rec = e.do(t, http.MethodGet, e.path("/products/by-sku/B-2"), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	bolt := decode[core.Product](t, rec)
	require.NotNil(t, bolt.ExpectedStock)
	assert.Equal(t, 0, *bolt.ExpectedStock)
}

func TestImport_RawBodyAndErrors(t *testing.T) {
	e := newTestEnv(t, func(c *config.Config) { c.Import.MaxFileSize = 64 })

	rec := e.upload(t, "/import/commit", bytes.NewBufferString("SKU,Name\nA-1,Anchor\n"), "text/csv")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, 1, decode[core.ImportResult](t, rec).Inserted)

	tests := []struct {
		name     string
		body     string
		wantCode int
		wantErr  string
	}{
		{"too large", "SKU,Name\n" + strings.Repeat("A,B\n", 40), http.StatusRequestEntityTooLarge, "FILE001"},
		{"empty", "  \n", http.StatusBadRequest, "FILE002"},
		{"missing required mapping", "Code,Title\nA,B\n", http.StatusUnprocessableEntity, "VAL001"},
		{"nothing valid", "SKU,Name\n,B\n", http.StatusUnprocessableEntity, "IMP001"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := e.upload(t, "/import/commit", bytes.NewBufferString(tt.body), "text/csv")
			assert.Equal(t, tt.wantCode, rec.Code, rec.Body.String())
			assert.Equal(t, tt.wantErr, errorCode(t, rec))
		})
	}

	body, ct := multipartUpload(t, "SKU,Name\nA,B\n", "{not json")
	rec = e.upload(t, "/import/preview", body, ct)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAPIKeyRequired(t *testing.T) {
	e := newTestEnv(t, func(c *config.Config) {
		c.Security.RequireAPIKey = true
		c.Security.APIKeys = []string{"secret"}
	})

	rec := e.do(t, http.MethodGet, e.path("/products"), nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = e.do(t, http.MethodGet, e.path("/products"), nil, "X-API-Key", "wrong")
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = e.do(t, http.MethodGet, e.path("/products"), nil, "X-API-Key", "secret")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = e.do(t, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRateLimit(t *testing.T) {
	e := newTestEnv(t, func(c *config.Config) {
		c.Rate.Enabled = true
		c.Rate.RequestsPerMinute = 2
	})

	for i := 0; i < 2; i++ {
		assert.Equal(t, http.StatusOK, e.do(t, http.MethodGet, "/healthz", nil).Code)
	}
	rec := e.do(t, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "RATE001", errorCode(t, rec))
	assert.Equal(t, "60", rec.Header().Get("Retry-After"))
}
