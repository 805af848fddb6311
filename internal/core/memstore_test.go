package core

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// memStore is an in-memory Store that echoes every write on its change feed.
type memStore struct {
	mu       sync.Mutex
	orgs     map[string]Organization
	products map[string]Product
	counts   []CountRecord
	subs     map[string][]chan Change
	clock    int64

	// failNext makes the next write return this error.
	failNext error
	// listCalls counts ListProducts calls, i.e. loads.
	listCalls int
}

func newMemStore(orgIDs ...string) *memStore {
	s := &memStore{
		orgs:     make(map[string]Organization),
		products: make(map[string]Product),
		subs:     make(map[string][]chan Change),
		clock:    1_700_000_000_000,
	}
	for _, id := range orgIDs {
		s.orgs[id] = Organization{ID: id, Name: id}
	}
	return s
}

func (s *memStore) takeFailure() error {
	err := s.failNext
	s.failNext = nil
	return err
}

func (s *memStore) publish(c Change) {
	for _, ch := range s.subs[c.OrganizationID] {
		select {
		case ch <- c:
		default:
		}
	}
}

func (s *memStore) Ping(ctx context.Context) error { return nil }

func (s *memStore) GetOrganization(ctx context.Context, orgID string) (Organization, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orgs[orgID]
	if !ok {
		return Organization{}, ErrOrgNotFound
	}
	return o, nil
}

func (s *memStore) ListProducts(ctx context.Context, orgID string) ([]Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listCalls++
	var out []Product
	for _, p := range s.products {
		if p.OrganizationID == orgID {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SKU < out[j].SKU })
	return out, nil
}

func (s *memStore) FindProductBySKU(ctx context.Context, orgID, sku string) (Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.products {
		if p.OrganizationID == orgID && p.SKU == sku {
			return p, nil
		}
	}
	return Product{}, ErrProductNotFound
}

func (s *memStore) newProduct(orgID string, in ProductInput) Product {
	now := time.UnixMilli(s.clock)
	return Product{
		ID: uuid.NewString(), OrganizationID: orgID,
		SKU: in.SKU, Name: in.Name,
		CategoryLevel1: in.CategoryLevel1, CategoryLevel2: in.CategoryLevel2, CategoryLevel3: in.CategoryLevel3,
		Price: in.Price, ExpectedStock: in.ExpectedStock,
		Store: in.Store, Location: in.Location,
		CreatedAt: now, UpdatedAt: now,
	}
}

func (s *memStore) InsertProduct(ctx context.Context, orgID string, in ProductInput) (Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.takeFailure(); err != nil {
		return Product{}, err
	}
	p := s.newProduct(orgID, in)
	s.products[p.ID] = p
	s.publish(Change{Kind: ChangeProductUpsert, OrganizationID: orgID, Products: []Product{p}})
	return p, nil
}

func (s *memStore) InsertProducts(ctx context.Context, orgID string, in []ProductInput) ([]Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.takeFailure(); err != nil {
		return nil, err
	}
	out := make([]Product, 0, len(in))
	for _, row := range in {
		p := s.newProduct(orgID, row)
		s.products[p.ID] = p
		out = append(out, p)
	}
	s.publish(Change{Kind: ChangeReloadRequired, OrganizationID: orgID})
	return out, nil
}

func (s *memStore) UpdateProduct(ctx context.Context, orgID, id string, u ProductUpdate) (Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.products[id]
	if !ok || p.OrganizationID != orgID {
		return Product{}, ErrProductNotFound
	}
	p = u.ApplyTo(p)
	s.products[id] = p
	s.publish(Change{Kind: ChangeProductUpsert, OrganizationID: orgID, Products: []Product{p}})
	return p, nil
}

func (s *memStore) BulkUpdateExpectedStock(ctx context.Context, orgID string, ids []string, expected int) ([]Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Product
	for _, id := range ids {
		p, ok := s.products[id]
		if !ok || p.OrganizationID != orgID {
			continue
		}
		v := expected
		p.ExpectedStock = &v
		s.products[id] = p
		out = append(out, p)
	}
	s.publish(Change{Kind: ChangeProductUpsert, OrganizationID: orgID, Products: out})
	return out, nil
}

func (s *memStore) DeleteProduct(ctx context.Context, orgID, id string) error {
	n, _ := s.DeleteProducts(ctx, orgID, []string{id})
	if n == 0 {
		return ErrProductNotFound
	}
	return nil
}

func (s *memStore) DeleteProducts(ctx context.Context, orgID string, ids []string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, id := range ids {
		if p, ok := s.products[id]; ok && p.OrganizationID == orgID {
			delete(s.products, id)
			n++
		}
	}
	s.publish(Change{Kind: ChangeProductDelete, OrganizationID: orgID, IDs: ids})
	return n, nil
}

func (s *memStore) DeleteAllProducts(ctx context.Context, orgID string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []string
	for id, p := range s.products {
		if p.OrganizationID == orgID {
			delete(s.products, id)
			ids = append(ids, id)
		}
	}
	s.publish(Change{Kind: ChangeProductsClear, OrganizationID: orgID, IDs: ids})
	return ids, nil
}

func (s *memStore) ListCounts(ctx context.Context, orgID string) ([]CountRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []CountRecord
	for _, c := range s.counts {
		if c.OrganizationID == orgID {
			out = append(out, c)
		}
	}
	return out, nil
}

func (s *memStore) InsertCount(ctx context.Context, orgID string, in CountInput) (CountRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.takeFailure(); err != nil {
		return CountRecord{}, err
	}
	s.clock++
	rec := CountRecord{
		ID: uuid.NewString(), OrganizationID: orgID,
		ProductID: in.ProductID, Quantity: in.Quantity,
		Timestamp: s.clock, CounterName: in.CounterName,
	}
	s.counts = append(s.counts, rec)
	s.publish(Change{Kind: ChangeCountInsert, OrganizationID: orgID, Count: &rec})
	return rec, nil
}

func (s *memStore) DeleteAllCounts(ctx context.Context, orgID string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.counts[:0]
	var ids []string
	for _, c := range s.counts {
		if c.OrganizationID == orgID {
			ids = append(ids, c.ID)
			continue
		}
		kept = append(kept, c)
	}
	s.counts = kept
	s.publish(Change{Kind: ChangeCountsClear, OrganizationID: orgID, IDs: ids})
	return ids, nil
}

func (s *memStore) Subscribe(ctx context.Context, orgID string) (<-chan Change, error) {
	ch := make(chan Change, 64)
	s.mu.Lock()
	s.subs[orgID] = append(s.subs[orgID], ch)
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		defer s.mu.Unlock()
		subs := s.subs[orgID]
		for i, c := range subs {
			if c == ch {
				s.subs[orgID] = append(subs[:i], subs[i+1:]...)
				break
			}
		}
		close(ch)
	}()
	return ch, nil
}

// insertForeign simulates a write made by another process.
func (s *memStore) insertForeign(orgID string, in CountInput) CountRecord {
	rec, _ := s.InsertCount(context.Background(), orgID, in)
	return rec
}
