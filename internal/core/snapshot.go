package core

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// State is an immutable view of one organization's catalog and count history.
// Products are ordered by SKU and Counts by arrival. Callers must not modify
// the slices.
type State struct {
	OrganizationID string
	Products       []Product
	Counts         []CountRecord
	LoadedAt       time.Time

	// Version increases with every batch of changes applied by a Snapshot.
	Version uint64

	byID  map[string]int
	bySKU map[string]int
}

// NewState builds a State from loaded data, sorting products by SKU.
func NewState(orgID string, products []Product, counts []CountRecord) *State {
	ps := append([]Product(nil), products...)
	sortProducts(ps)
	cs := append([]CountRecord(nil), counts...)
	st := &State{
		OrganizationID: orgID,
		Products:       ps,
		Counts:         cs[:len(cs):len(cs)],
		LoadedAt:       time.Now(),
	}
	st.index()
	return st
}

func sortProducts(ps []Product) {
	sort.SliceStable(ps, func(i, j int) bool { return ps[i].SKU < ps[j].SKU })
}

func (st *State) index() {
	st.byID = make(map[string]int, len(st.Products))
	st.bySKU = make(map[string]int, len(st.Products))
	for i, p := range st.Products {
		st.byID[p.ID] = i
		st.bySKU[p.SKU] = i
	}
}

// Product returns the product with id.
func (st *State) Product(id string) (Product, bool) {
	i, ok := st.byID[id]
	if !ok {
		return Product{}, false
	}
	return st.Products[i], true
}

// ProductBySKU looks up a product by exact, case-sensitive SKU.
func (st *State) ProductBySKU(sku string) (Product, bool) {
	i, ok := st.bySKU[sku]
	if !ok {
		return Product{}, false
	}
	return st.Products[i], true
}

// Total returns the counted total for productID over the full history.
func (st *State) Total(productID string) int {
	return Total(productID, st.Counts)
}

// RecentCounts returns up to n counts, newest first.
func (st *State) RecentCounts(n int) []CountRecord {
	out := append([]CountRecord(nil), st.Counts...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp > out[j].Timestamp })
	if n > 0 && len(out) > n {
		out = out[:n]
	}
	return out
}

// Snapshot holds the current State of one organization. A single goroutine
// owns all mutation: confirmed writes and store notifications both arrive as
// Changes through the same inbox, and count ids already seen are dropped, so
// a write and its notification echo are counted once. Readers load the
// published State without locking.
type Snapshot struct {
	orgID string
	inbox chan envelope
	state atomic.Pointer[State]

	done      chan struct{}
	closeOnce sync.Once
	stopped   chan struct{}
}

type envelope struct {
	changes []Change
	replace *State
	since   uint64
	applied chan struct{}
}

// NewSnapshot starts the writer goroutine for orgID. Close stops it.
func NewSnapshot(orgID string, initial *State) *Snapshot {
	if initial == nil {
		initial = NewState(orgID, nil, nil)
	}
	s := &Snapshot{
		orgID:   orgID,
		inbox:   make(chan envelope, 64),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
	s.state.Store(initial)
	go s.run(initial)
	return s
}

// State returns the most recently published state.
func (s *Snapshot) State() *State {
	return s.state.Load()
}

// Apply merges changes and waits until they are visible through State.
func (s *Snapshot) Apply(ctx context.Context, changes ...Change) error {
	if len(changes) == 0 {
		return nil
	}
	return s.send(ctx, envelope{changes: changes, applied: make(chan struct{})})
}

// Replace swaps in a freshly loaded state. since is the Version observed
// before the load started; changes applied after it are replayed on top of
// st so a write confirmed during the load is not lost.
func (s *Snapshot) Replace(ctx context.Context, st *State, since uint64) error {
	return s.send(ctx, envelope{replace: st, since: since, applied: make(chan struct{})})
}

func (s *Snapshot) send(ctx context.Context, env envelope) error {
	select {
	case s.inbox <- env:
	case <-ctx.Done():
		return ctx.Err()
	case <-s.done:
		return ErrSnapshotClosed
	}

	select {
	case <-env.applied:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-s.stopped:
		return ErrSnapshotClosed
	}
}

// Close stops the writer. Pending and later Apply calls fail with ErrSnapshotClosed.
func (s *Snapshot) Close() {
	s.closeOnce.Do(func() {
		close(s.done)
		<-s.stopped
	})
}

func (s *Snapshot) run(initial *State) {
	defer close(s.stopped)

	w := newSnapshotWriter(initial)
	for {
		select {
		case <-s.done:
			return
		case env := <-s.inbox:
			if env.replace != nil {
				w.replace(env.replace, env.since)
			}
			if len(env.changes) > 0 {
				w.version++
				for _, c := range env.changes {
					w.apply(c)
					w.record(c)
				}
			}
			s.state.Store(w.publish(s.orgID))
			close(env.applied)
		}
	}
}

// maxJournal bounds the changes kept for replay after a reload.
const maxJournal = 4096

// snapshotWriter is the mutable side of a Snapshot, touched only by run.
type snapshotWriter struct {
	products []Product
	counts   []CountRecord
	loadedAt time.Time

	// seen holds the count ids applied since the last load. removed and
	// gone outlive loads: a count or product removed once never returns.
	seen    map[string]struct{}
	removed map[string]struct{}
	gone    map[string]struct{}

	version uint64
	journal []journalEntry

	// dirty is set when products changed since last, forcing a re-index.
	dirty bool
	last  *State
}

type journalEntry struct {
	version uint64
	change  Change
}

func newSnapshotWriter(st *State) *snapshotWriter {
	w := &snapshotWriter{
		version: st.Version,
		removed: make(map[string]struct{}),
		gone:    make(map[string]struct{}),
	}
	w.replace(st, st.Version)
	return w
}

// replace adopts st and replays journaled changes newer than since. Replayed
// deletes name the rows they removed, so one the load already reflects is a
// no-op.
func (w *snapshotWriter) replace(st *State, since uint64) {
	w.products = st.Products
	w.counts = st.Counts
	w.loadedAt = st.LoadedAt
	w.seen = make(map[string]struct{}, len(st.Counts))
	for _, c := range st.Counts {
		w.seen[c.ID] = struct{}{}
	}
	w.dirty = true

	kept := w.journal[:0]
	for _, e := range w.journal {
		if e.version > since {
			w.apply(e.change)
			kept = append(kept, e)
		}
	}
	w.journal = kept
}

func (w *snapshotWriter) record(c Change) {
	if len(w.journal) >= maxJournal {
		w.journal = append(w.journal[:0], w.journal[len(w.journal)/2:]...)
	}
	w.journal = append(w.journal, journalEntry{version: w.version, change: c})
}

func (w *snapshotWriter) apply(c Change) {
	switch c.Kind {
	case ChangeCountInsert:
		if c.Count == nil {
			return
		}
		if _, dup := w.seen[c.Count.ID]; dup {
			return
		}
		if _, gone := w.removed[c.Count.ID]; gone {
			return
		}
		w.seen[c.Count.ID] = struct{}{}
		// Published states hold capped slices, so appending here never
		// writes into memory a reader can see.
		w.counts = append(w.counts, *c.Count)

	case ChangeCountDelete, ChangeCountsClear:
		drop := idSet(c.IDs)
		for id := range drop {
			w.removed[id] = struct{}{}
		}
		kept := make([]CountRecord, 0, len(w.counts))
		for _, rec := range w.counts {
			if _, ok := drop[rec.ID]; !ok {
				kept = append(kept, rec)
			}
		}
		w.counts = kept

	case ChangeProductUpsert:
		next := append([]Product(nil), w.products...)
		pos := make(map[string]int, len(next))
		for i, p := range next {
			pos[p.ID] = i
		}
		for _, p := range c.Products {
			if _, deleted := w.gone[p.ID]; deleted {
				continue
			}
			if i, ok := pos[p.ID]; ok {
				next[i] = p
				continue
			}
			pos[p.ID] = len(next)
			next = append(next, p)
		}
		sortProducts(next)
		w.products = next
		w.dirty = true

	case ChangeProductDelete, ChangeProductsClear:
		drop := idSet(c.IDs)
		for id := range drop {
			w.gone[id] = struct{}{}
		}
		next := make([]Product, 0, len(w.products))
		for _, p := range w.products {
			if _, ok := drop[p.ID]; !ok {
				next = append(next, p)
			}
		}
		w.products = next
		w.dirty = true
	}
}

func (w *snapshotWriter) publish(orgID string) *State {
	st := &State{
		OrganizationID: orgID,
		Products:       w.products,
		Counts:         w.counts[:len(w.counts):len(w.counts)],
		LoadedAt:       w.loadedAt,
		Version:        w.version,
	}
	if w.dirty || w.last == nil {
		st.index()
	} else {
		st.byID, st.bySKU = w.last.byID, w.last.bySKU
	}
	w.last = st
	w.dirty = false
	return st
}

func idSet(ids []string) map[string]struct{} {
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set
}
