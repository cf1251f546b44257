package store

import (
	"sort"
	"sync"

	"github.com/vectorkv/vectorkv/pkg/schema"
)

// Handler owns the concurrent registry of named stores for one process.
// Creation is exclusive on the registry; once a Store exists, operations on
// it route through the Store's own lock rather than the registry's.
type Handler struct {
	mu     sync.RWMutex
	stores map[string]*Store
}

// NewHandler creates an empty store registry.
func NewHandler() *Handler {
	return &Handler{stores: make(map[string]*Store)}
}

// Create registers a new store, failing with StoreAlreadyExists if name is
// taken.
func (h *Handler) Create(name string, dimension int) (*Store, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.stores[name]; ok {
		return nil, schema.NewError(schema.TagStoreAlreadyExists, "store %q already exists", name)
	}
	s := New(name, dimension)
	h.stores[name] = s
	return s, nil
}

// Get returns the named store, failing with StoreNotFound if absent.
func (h *Handler) Get(name string) (*Store, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	s, ok := h.stores[name]
	if !ok {
		return nil, schema.NewError(schema.TagStoreNotFound, "store %q not found", name)
	}
	return s, nil
}

// Drop removes the named store, returning the number of stores deleted (0
// or 1).
func (h *Handler) Drop(name string) int {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.stores[name]; !ok {
		return 0
	}
	delete(h.stores, name)
	return 1
}

// List returns every store's current Info, sorted by name for stable
// output.
func (h *Handler) List() []Info {
	h.mu.RLock()
	stores := make([]*Store, 0, len(h.stores))
	for _, s := range h.stores {
		stores = append(stores, s)
	}
	h.mu.RUnlock()

	sort.Slice(stores, func(i, j int) bool { return stores[i].Name() < stores[j].Name() })

	out := make([]Info, len(stores))
	for i, s := range stores {
		out[i] = s.Info()
	}
	return out
}

// Names returns every registered store name, for snapshotting.
func (h *Handler) Names() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]string, 0, len(h.stores))
	for name := range h.stores {
		out = append(out, name)
	}
	return out
}

// Register installs an already-constructed store under its own name,
// overwriting any existing entry, used by the persistence loader when
// restoring a snapshot into a fresh handler.
func (h *Handler) Register(s *Store) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.stores[s.Name()] = s
}
