package ai

import (
	"sync"

	"github.com/vectorkv/vectorkv/pkg/schema"
)

// AiStore is the AI proxy's local record of one DB store's model binding:
// which model embeds writes, which embeds queries, and whether raw inputs
// are retained so reads can surface them instead of opaque vectors. The
// vectors and metadata themselves live in the forwarded DB store; AiStore
// never duplicates them.
type AiStore struct {
	Name          string
	Dimension     int
	IndexModel    schema.ModelID
	QueryModel    schema.ModelID
	StoreOriginal bool

	mu       sync.RWMutex
	original map[string][]byte // Vector.Key() -> raw input, present only if StoreOriginal
}

// SetOriginalInput retains raw alongside vec, a no-op if StoreOriginal is
// unset.
func (s *AiStore) SetOriginalInput(vec schema.Vector, raw []byte) {
	if !s.StoreOriginal {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.original == nil {
		s.original = make(map[string][]byte)
	}
	s.original[vec.Key()] = raw
}

// OriginalInput returns the raw input retained for vec, if any.
func (s *AiStore) OriginalInput(vec schema.Vector) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	raw, ok := s.original[vec.Key()]
	return raw, ok
}

// DeleteOriginalInput drops vec's retained raw input. The dispatcher calls it
// for each key of a DelKey request; entries removed by DelPred keep their
// retained input.
func (s *AiStore) DeleteOriginalInput(vec schema.Vector) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.original, vec.Key())
}

// Registry is the AI proxy's process-wide table of AiStores, keyed by name.
// It tracks only model bindings and the original-input companion map; the
// authoritative entry data lives in the DB the proxy forwards to. Create is
// exclusive on the registry; per-store access otherwise goes through each
// AiStore's own lock.
type Registry struct {
	mu     sync.RWMutex
	stores map[string]*AiStore
}

// NewRegistry creates an empty AiStore registry.
func NewRegistry() *Registry {
	return &Registry{stores: make(map[string]*AiStore)}
}

// Create registers a new AiStore, failing with StoreAlreadyExists if name is
// taken.
func (r *Registry) Create(name string, dimension int, indexModel, queryModel schema.ModelID, storeOriginal bool) (*AiStore, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.stores[name]; ok {
		return nil, schema.NewError(schema.TagStoreAlreadyExists, "store %q already exists", name)
	}
	s := &AiStore{
		Name:          name,
		Dimension:     dimension,
		IndexModel:    indexModel,
		QueryModel:    queryModel,
		StoreOriginal: storeOriginal,
	}
	r.stores[name] = s
	return s, nil
}

// Get returns the named AiStore, failing with StoreNotFound if absent.
func (r *Registry) Get(name string) (*AiStore, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.stores[name]
	if !ok {
		return nil, schema.NewError(schema.TagStoreNotFound, "store %q not found", name)
	}
	return s, nil
}

// Drop removes the named AiStore, returning the number removed (0 or 1).
func (r *Registry) Drop(name string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.stores[name]; !ok {
		return 0
	}
	delete(r.stores, name)
	return 1
}

// Purge removes every AiStore in one call, returning the count removed.
func (r *Registry) Purge() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := len(r.stores)
	r.stores = make(map[string]*AiStore)
	return n
}
