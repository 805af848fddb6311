package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/JonMunkholm/stockcount/internal/config"
	"github.com/JonMunkholm/stockcount/internal/logging"
)

// LoadTimeout bounds loading one organization's snapshot from the store.
var LoadTimeout = 30 * time.Second

// Service is the entry point for catalog, counting, import and export
// operations. It keeps one Snapshot per organization, loaded on first use
// and kept current from confirmed writes and the store's change feed.
type Service struct {
	store   Store
	cfg     *config.Config
	limiter *ImportLimiter
	loc     *time.Location
	now     func() time.Time

	// ctx scopes subscriptions; cancelled by Close.
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu        sync.RWMutex
	snapshots map[string]*orgSnapshot
	loads     singleflight.Group
}

type orgSnapshot struct {
	snap   *Snapshot
	cancel context.CancelFunc
}

// NewService creates a Service over store.
func NewService(store Store, cfg *config.Config) *Service {
	ctx, cancel := context.WithCancel(context.Background())
	return &Service{
		store:     store,
		cfg:       cfg,
		limiter:   NewImportLimiter(cfg.Import.MaxConcurrent, cfg.Import.MaxWaitTime),
		loc:       cfg.Export.Location(),
		now:       time.Now,
		ctx:       ctx,
		cancel:    cancel,
		snapshots: make(map[string]*orgSnapshot),
	}
}

// Limiter exposes the import limiter for shutdown draining and health output.
func (s *Service) Limiter() *ImportLimiter {
	return s.limiter
}

// Ping checks the store.
func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// Close stops every subscription and snapshot writer.
func (s *Service) Close() {
	s.cancel()

	s.mu.Lock()
	for orgID, entry := range s.snapshots {
		entry.cancel()
		entry.snap.Close()
		delete(s.snapshots, orgID)
	}
	s.mu.Unlock()

	s.wg.Wait()
}

// State returns the current state of orgID, loading it on first use.
func (s *Service) State(ctx context.Context, orgID string) (*State, error) {
	snap, err := s.snapshot(ctx, orgID)
	if err != nil {
		return nil, err
	}
	return snap.State(), nil
}

func (s *Service) cached(orgID string) (*Snapshot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.snapshots[orgID]
	if !ok {
		return nil, false
	}
	return entry.snap, true
}

// snapshot returns orgID's snapshot. Concurrent first requests share one load.
func (s *Service) snapshot(ctx context.Context, orgID string) (*Snapshot, error) {
	if snap, ok := s.cached(orgID); ok {
		return snap, nil
	}

	ch := s.loads.DoChan(orgID, func() (any, error) {
		if snap, ok := s.cached(orgID); ok {
			return snap, nil
		}
		return s.open(orgID)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Snapshot), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// open subscribes to orgID's changes, loads its data and registers the
// snapshot. Subscribing first means no change between load and registration
// is lost; changes already in the load are deduplicated by the snapshot.
func (s *Service) open(orgID string) (*Snapshot, error) {
	subCtx, cancel := context.WithCancel(s.ctx)

	var changes <-chan Change
	if s.cfg.Realtime.Subscribe {
		ch, err := s.store.Subscribe(subCtx, orgID)
		if err != nil {
			cancel()
			return nil, fmt.Errorf("subscribe %s: %w", orgID, err)
		}
		changes = ch
	}

	loadCtx, loadCancel := context.WithTimeout(subCtx, LoadTimeout)
	defer loadCancel()

	st, err := s.loadState(loadCtx, orgID)
	if err != nil {
		cancel()
		return nil, err
	}

	snap := NewSnapshot(orgID, st)

	s.mu.Lock()
	s.snapshots[orgID] = &orgSnapshot{snap: snap, cancel: cancel}
	s.mu.Unlock()

	if changes != nil {
		s.wg.Add(1)
		go s.forward(subCtx, orgID, snap, changes)
	}

	slog.Info("snapshot loaded",
		"org_id", orgID,
		"products", len(st.Products),
		"counts", len(st.Counts),
	)
	return snap, nil
}

// loadState fetches the organization, its products and its counts concurrently.
func (s *Service) loadState(ctx context.Context, orgID string) (*State, error) {
	var (
		products []Product
		counts   []CountRecord
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if _, err := s.store.GetOrganization(gctx, orgID); err != nil {
			return fmt.Errorf("get organization: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		products, err = s.store.ListProducts(gctx, orgID)
		if err != nil {
			return fmt.Errorf("list products: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		counts, err = s.store.ListCounts(gctx, orgID)
		if err != nil {
			return fmt.Errorf("list counts: %w", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return NewState(orgID, products, counts), nil
}

// forward feeds store notifications into the snapshot inbox. When the feed
// ends unexpectedly the snapshot is dropped so the next request reloads and
// resubscribes.
func (s *Service) forward(ctx context.Context, orgID string, snap *Snapshot, changes <-chan Change) {
	defer s.wg.Done()

	for c := range changes {
		var err error
		if c.Kind == ChangeReloadRequired {
			err = s.Reload(ctx, orgID)
		} else {
			err = snap.Apply(ctx, c)
		}
		if err != nil && ctx.Err() == nil {
			slog.Warn("apply change failed", "org_id", orgID, "kind", c.Kind, "error", err)
		}
	}

	if ctx.Err() == nil {
		slog.Warn("change feed closed, evicting snapshot", "org_id", orgID)
		s.evict(orgID, snap)
	}
}

func (s *Service) evict(orgID string, snap *Snapshot) {
	s.mu.Lock()
	entry, ok := s.snapshots[orgID]
	if ok && entry.snap == snap {
		delete(s.snapshots, orgID)
	}
	s.mu.Unlock()

	if ok && entry.snap == snap {
		entry.cancel()
		snap.Close()
	}
}

// Reload replaces orgID's snapshot with fresh store data. Organizations that
// are not loaded are left alone.
func (s *Service) Reload(ctx context.Context, orgID string) error {
	snap, ok := s.cached(orgID)
	if !ok {
		return nil
	}
	since := snap.State().Version
	st, err := s.loadState(ctx, orgID)
	if err != nil {
		if errors.Is(err, ErrOrgNotFound) {
			s.evict(orgID, snap)
		}
		return err
	}
	return snap.Replace(ctx, st, since)
}

// ReloadAll reloads every loaded organization and returns how many succeeded.
func (s *Service) ReloadAll(ctx context.Context) (int, error) {
	s.mu.RLock()
	orgIDs := make([]string, 0, len(s.snapshots))
	for id := range s.snapshots {
		orgIDs = append(orgIDs, id)
	}
	s.mu.RUnlock()

	var errs []error
	ok := 0
	for _, id := range orgIDs {
		if err := s.Reload(ctx, id); err != nil {
			errs = append(errs, fmt.Errorf("reload %s: %w", id, err))
			continue
		}
		ok++
	}
	return ok, errors.Join(errs...)
}

// commit applies confirmed changes to orgID's snapshot. The store already
// holds the data, so a failure here is logged rather than returned.
func (s *Service) commit(ctx context.Context, snap *Snapshot, changes ...Change) {
	if err := snap.Apply(context.WithoutCancel(ctx), changes...); err != nil {
		logging.FromContext(ctx).Warn("snapshot apply failed", "error", err)
	}
}
