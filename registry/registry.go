/*
Package registry holds the fleet of retail stores the service accounts
for. Store records come from the admin backend's Postgres tables; the
registry loads them once per process and refreshes on demand (jobs read a
consistent snapshot for their whole run).

The branch code is the accounting system's stable identifier for a store
(e.g. "FLD-BONITA"). One store, one code: Mint Willowbrook is ILD-WILLOW
everywhere, including hourly reports — the Michigan code seen in one
historical export was a data bug.
*/
package registry

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// Store is one retail location. Immutable within a job run.
type Store struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	BranchCode string `json:"branchCode"`
	Timezone   string `json:"timezone"`
	PosAPIKey  string `json:"-"`
	IsActive   bool   `json:"isActive"`
}

// Summary is the public shape cached under locations:all — no API key.
type Summary struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	BranchCode string `json:"branchCode"`
	Timezone   string `json:"timezone"`
}

// Source supplies store records; store/postgres implements it.
type Source interface {
	ListActiveStores(ctx context.Context) ([]Store, error)
}

// ErrNoActiveStores is returned when the registry is empty: there is
// nothing to sync or export, which is a configuration problem, not a
// transient one.
var ErrNoActiveStores = fmt.Errorf("registry: no active stores configured")

// Registry caches the store list. The snapshot is replaced wholesale on
// Load, never mutated in place, so concurrent readers always see a
// consistent fleet.
type Registry struct {
	src Source

	mu     sync.RWMutex
	stores []Store
	byName map[string]Store
}

func New(src Source) *Registry {
	return &Registry{src: src, byName: map[string]Store{}}
}

// Load refreshes the snapshot from the source.
func (r *Registry) Load(ctx context.Context) error {
	stores, err := r.src.ListActiveStores(ctx)
	if err != nil {
		return fmt.Errorf("registry: loading stores: %w", err)
	}

	byName := make(map[string]Store, len(stores))
	for _, s := range stores {
		byName[strings.ToLower(s.Name)] = s
	}

	r.mu.Lock()
	r.stores = stores
	r.byName = byName
	r.mu.Unlock()
	return nil
}

// Active returns the current snapshot of active stores.
func (r *Registry) Active() []Store {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.stores
}

// ByName resolves an internal store name, case-insensitively.
func (r *Registry) ByName(name string) (Store, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.byName[strings.ToLower(strings.TrimSpace(name))]
	return s, ok
}

// Summaries returns the API-safe store list for the locations:all cache.
func (r *Registry) Summaries() []Summary {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Summary, 0, len(r.stores))
	for _, s := range r.stores {
		out = append(out, Summary{ID: s.ID, Name: s.Name, BranchCode: s.BranchCode, Timezone: s.Timezone})
	}
	return out
}

// StaticSource is a fixed store list, used in tests and local runs
// without the admin database.
type StaticSource []Store

func (s StaticSource) ListActiveStores(ctx context.Context) ([]Store, error) {
	var active []Store
	for _, st := range s {
		if st.IsActive {
			active = append(active, st)
		}
	}
	return active, nil
}
