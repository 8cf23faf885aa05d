package client

import (
	"context"

	"go.uber.org/zap"

	"machine-catalog-backend/internal/catalog"
	"machine-catalog-backend/internal/model"
	"machine-catalog-backend/internal/querycache"
	"machine-catalog-backend/internal/store"
)

const (
	kindMachines = "machines"
	kindParts    = "parts"
)

var partsKey = querycache.ListKey(kindParts, "")

// Session serves catalog reads from a query cache and keeps the cache in
// step with the mutations it sends.
type Session struct {
	api     *Client
	cache   *querycache.Cache
	policy  querycache.Policy
	catalog querycache.Policy
	log     *zap.SugaredLogger
}

// SessionOption configures a Session.
type SessionOption func(*Session)

// WithPolicies overrides the staleness of machine queries and of the parts
// catalog.
func WithPolicies(machines, parts querycache.Policy) SessionOption {
	return func(s *Session) {
		s.policy = machines
		s.catalog = parts
	}
}

// WithLogger sets the logger used for background failures.
func WithLogger(log *zap.SugaredLogger) SessionOption {
	return func(s *Session) { s.log = log }
}

func NewSession(api *Client, cache *querycache.Cache, opts ...SessionOption) *Session {
	s := &Session{
		api:     api,
		cache:   cache,
		policy:  querycache.DefaultPolicy,
		catalog: querycache.CatalogPolicy,
		log:     zap.NewNop().Sugar(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func machinesKey(page, pageSize int) querycache.Key {
	return querycache.ListKey(kindMachines, pageQuery(page, pageSize))
}

func (s *Session) Machines(ctx context.Context, page, pageSize int) (store.MachinePage, error) {
	return querycache.Get(ctx, s.cache, machinesKey(page, pageSize), s.policy, s.machinesFetcher(page, pageSize))
}

func (s *Session) machinesFetcher(page, pageSize int) func(context.Context) (store.MachinePage, error) {
	return func(ctx context.Context) (store.MachinePage, error) {
		return s.api.ListMachines(ctx, page, pageSize)
	}
}

func (s *Session) Machine(ctx context.Context, id int64) (store.MachineDetail, error) {
	return querycache.Get(ctx, s.cache, querycache.DetailKey(kindMachines, id), s.policy, func(ctx context.Context) (store.MachineDetail, error) {
		return s.api.GetMachine(ctx, id)
	})
}

func (s *Session) Parts(ctx context.Context) ([]model.Part, error) {
	return querycache.Get(ctx, s.cache, partsKey, s.catalog, s.api.ListParts)
}

func (s *Session) Part(ctx context.Context, id int64) (model.Part, error) {
	return querycache.Get(ctx, s.cache, querycache.DetailKey(kindParts, id), s.catalog, func(ctx context.Context) (model.Part, error) {
		return s.api.GetPart(ctx, id)
	})
}

// PrefetchNeighbors warms the pages around page in the background. Pages
// past the last known one are skipped.
func (s *Session) PrefetchNeighbors(page, pageSize int) {
	page, pageSize = store.ClampPage(page, pageSize)
	last := 0
	if v, ok := s.cache.Peek(machinesKey(page, pageSize)); ok {
		if cur, ok := v.(store.MachinePage); ok {
			last = cur.TotalPages
		}
	}

	for _, p := range []int{page - 1, page + 1} {
		if p < 1 || (last > 0 && p > last) {
			continue
		}
		fetch := s.machinesFetcher(p, pageSize)
		started := s.cache.Prefetch(machinesKey(p, pageSize), s.policy, func(ctx context.Context) (any, error) {
			return fetch(ctx)
		})
		if started {
			s.log.Debugw("Prefetching machine page", "page", p, "pageSize", pageSize)
		}
	}
}

func (s *Session) CreateMachine(ctx context.Context, in catalog.MachineInput) (catalog.Created, error) {
	out, err := s.api.CreateMachine(ctx, in)
	if err != nil {
		return out, err
	}
	s.cache.Invalidate(querycache.Lists(kindMachines))
	return out, nil
}

func (s *Session) EditMachine(ctx context.Context, id int64, in catalog.MachineInput) (store.MachineDetail, error) {
	out, err := s.api.EditMachine(ctx, id, in)
	if err != nil {
		return out, err
	}
	s.machineChanged(id)
	return out, nil
}

func (s *Session) UpdateMachineMeta(ctx context.Context, id int64, in catalog.MetaInput) (store.MachineDetail, error) {
	out, err := s.api.UpdateMachineMeta(ctx, id, in)
	if err != nil {
		return out, err
	}
	s.machineChanged(id)
	return out, nil
}

func (s *Session) ReplacePlacements(ctx context.Context, id int64, in catalog.PlacementsInput) (store.MachineDetail, error) {
	out, err := s.api.ReplacePlacements(ctx, id, in)
	if err != nil {
		return out, err
	}
	s.machineChanged(id)
	return out, nil
}

// DeleteMachine drops the machine from every cached list before the server
// answers. A failed call restores the lists as they were.
func (s *Session) DeleteMachine(ctx context.Context, id int64) error {
	s.cache.Cancel(querycache.Lists(kindMachines))
	snap := s.cache.Optimistic(querycache.Lists(kindMachines), func(_ querycache.Key, old any) (any, bool) {
		pg, ok := old.(store.MachinePage)
		if !ok {
			return nil, false
		}
		return withoutMachine(pg, id)
	})

	if err := s.api.DeleteMachine(ctx, id); err != nil {
		snap.Rollback()
		return err
	}
	s.cache.Invalidate(querycache.Lists(kindMachines))
	s.cache.Remove(querycache.Exact(querycache.DetailKey(kindMachines, id)))
	return nil
}

func (s *Session) CreatePart(ctx context.Context, in catalog.PartInput) (model.Part, error) {
	out, err := s.api.CreatePart(ctx, in)
	if err != nil {
		return out, err
	}
	s.cache.Invalidate(querycache.Lists(kindParts))
	return out, nil
}

// UpdatePart also invalidates machine details, which embed part names.
func (s *Session) UpdatePart(ctx context.Context, id int64, in catalog.PartInput) (model.Part, error) {
	out, err := s.api.UpdatePart(ctx, id, in)
	if err != nil {
		return out, err
	}
	s.cache.Invalidate(querycache.Lists(kindParts))
	s.cache.Invalidate(querycache.Exact(querycache.DetailKey(kindParts, id)))
	s.cache.Invalidate(querycache.Kind(kindMachines))
	return out, nil
}

func (s *Session) DeletePart(ctx context.Context, id int64) error {
	s.cache.Cancel(querycache.Lists(kindParts))
	snap := s.cache.Optimistic(querycache.Lists(kindParts), func(_ querycache.Key, old any) (any, bool) {
		parts, ok := old.([]model.Part)
		if !ok {
			return nil, false
		}
		return withoutPart(parts, id)
	})

	if err := s.api.DeletePart(ctx, id); err != nil {
		snap.Rollback()
		return err
	}
	s.cache.Invalidate(querycache.Lists(kindParts))
	s.cache.Remove(querycache.Exact(querycache.DetailKey(kindParts, id)))
	// Placement counts and details of machines that used the part changed.
	s.cache.Invalidate(querycache.Kind(kindMachines))
	return nil
}

func (s *Session) UploadImage(ctx context.Context, filename string, data []byte) (string, error) {
	return s.api.UploadImage(ctx, filename, data)
}

func (s *Session) machineChanged(id int64) {
	s.cache.Invalidate(querycache.Lists(kindMachines))
	s.cache.Invalidate(querycache.Exact(querycache.DetailKey(kindMachines, id)))
}

func withoutMachine(pg store.MachinePage, id int64) (any, bool) {
	items := make([]store.MachineSummary, 0, len(pg.Items))
	for _, it := range pg.Items {
		if it.ID != id {
			items = append(items, it)
		}
	}
	if len(items) == len(pg.Items) {
		return nil, false
	}
	pg.Items = items
	pg.Total--
	return pg, true
}

func withoutPart(parts []model.Part, id int64) (any, bool) {
	out := make([]model.Part, 0, len(parts))
	for _, p := range parts {
		if p.ID != id {
			out = append(out, p)
		}
	}
	if len(out) == len(parts) {
		return nil, false
	}
	return out, true
}
