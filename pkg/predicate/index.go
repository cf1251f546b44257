// Package predicate implements the inverted (field, value) -> key-set index
// that backs Store.GetPred, and evaluation of the Condition trees defined in
// pkg/schema. One inverted bucket map per indexed field, guarded by a single
// mutex since field creation/drop is rare relative to reads.
package predicate

import (
	"sync"

	"github.com/vectorkv/vectorkv/pkg/schema"
)

// bucket maps a metadata value's canonical key to the set of vector keys
// whose field equals that value.
type bucket map[string]map[string]struct{}

// Index is the predicate index for one store: one inverted bucket map per
// indexed field name.
type Index struct {
	mu     sync.RWMutex
	fields map[string]bucket
}

// New creates an empty predicate index.
func New() *Index {
	return &Index{fields: make(map[string]bucket)}
}

// HasField reports whether field is indexed.
func (idx *Index) HasField(field string) bool {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	_, ok := idx.fields[field]
	return ok
}

// Fields returns the set of indexed field names.
func (idx *Index) Fields() []string {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	out := make([]string, 0, len(idx.fields))
	for f := range idx.fields {
		out = append(out, f)
	}
	return out
}

// CreateFields indexes the given fields if not already indexed, seeding each
// new index by replaying the current entries. Returns the count of newly
// created indexes (repeat calls over already-indexed fields are a no-op).
func (idx *Index) CreateFields(fields []string, allEntries map[string]schema.StoreValue) int {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	created := 0
	for _, field := range fields {
		if _, ok := idx.fields[field]; ok {
			continue
		}
		b := make(bucket)
		for key, value := range allEntries {
			if mv, ok := value[field]; ok {
				idx.insertLocked(b, mv, key)
			}
		}
		idx.fields[field] = b
		created++
	}
	return created
}

// DropFields removes the given fields' indexes. Returns the count actually
// removed.
func (idx *Index) DropFields(fields []string) int {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	removed := 0
	for _, field := range fields {
		if _, ok := idx.fields[field]; ok {
			delete(idx.fields, field)
			removed++
		}
	}
	return removed
}

func (idx *Index) insertLocked(b bucket, value schema.MetadataValue, key string) {
	k := value.Key()
	set, ok := b[k]
	if !ok {
		set = make(map[string]struct{})
		b[k] = set
	}
	set[key] = struct{}{}
}

// Update applies the net effect of a Set/DelKey/DelPred mutation on a single
// key: remove it from its old field values' buckets and insert it under its
// new ones. Called atomically with the entries-map mutation by the store.
func (idx *Index) Update(key string, oldValue, newValue schema.StoreValue) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	for field, b := range idx.fields {
		if oldValue != nil {
			if mv, ok := oldValue[field]; ok {
				if set, ok := b[mv.Key()]; ok {
					delete(set, key)
					if len(set) == 0 {
						delete(b, mv.Key())
					}
				}
			}
		}
		if newValue != nil {
			if mv, ok := newValue[field]; ok {
				idx.insertLocked(b, mv, key)
			}
		}
	}
}

// Remove drops key from every bucket it participates in, given its current
// value map (called by DelKey/DelPred before the key leaves entries).
func (idx *Index) Remove(key string, value schema.StoreValue) {
	idx.Update(key, value, nil)
}

// Evaluate resolves a Condition against the index, given the full universe of
// keys (needed to materialise NotEquals/NotIn complements). It returns a
// schema.Error tagged TagPredicateNotFound if any referenced field is not
// indexed.
func (idx *Index) Evaluate(cond schema.Condition, allKeys func() map[string]struct{}) (map[string]struct{}, error) {
	if cond.IsLeaf() {
		return idx.evaluateLeaf(cond, allKeys)
	}

	if len(cond.Children) == 0 {
		return map[string]struct{}{}, nil
	}

	sets := make([]map[string]struct{}, 0, len(cond.Children))
	for _, child := range cond.Children {
		s, err := idx.Evaluate(child, allKeys)
		if err != nil {
			return nil, err
		}
		sets = append(sets, s)
	}

	switch cond.Combinator {
	case schema.CombineOr:
		return union(sets), nil
	default: // CombineAnd
		return intersect(sets), nil
	}
}

func (idx *Index) evaluateLeaf(cond schema.Condition, allKeys func() map[string]struct{}) (map[string]struct{}, error) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	b, ok := idx.fields[cond.Field]
	if !ok {
		return nil, schema.NewError(schema.TagPredicateNotFound, "field %q is not indexed", cond.Field)
	}

	switch cond.Op {
	case schema.OpEquals:
		return cloneBucket(b[cond.Value.Key()]), nil
	case schema.OpIn:
		out := make(map[string]struct{})
		for _, v := range cond.Values {
			for k := range b[v.Key()] {
				out[k] = struct{}{}
			}
		}
		return out, nil
	case schema.OpNotEquals:
		return complement(b[cond.Value.Key()], allKeys()), nil
	case schema.OpNotIn:
		excluded := make(map[string]struct{})
		for _, v := range cond.Values {
			for k := range b[v.Key()] {
				excluded[k] = struct{}{}
			}
		}
		return complement(excluded, allKeys()), nil
	default:
		return nil, schema.NewError(schema.TagInvalidPredicate, "unknown predicate operator %d", cond.Op)
	}
}

func cloneBucket(set map[string]struct{}) map[string]struct{} {
	out := make(map[string]struct{}, len(set))
	for k := range set {
		out[k] = struct{}{}
	}
	return out
}

func complement(exclude, universe map[string]struct{}) map[string]struct{} {
	out := make(map[string]struct{}, len(universe))
	for k := range universe {
		if _, skip := exclude[k]; !skip {
			out[k] = struct{}{}
		}
	}
	return out
}

func union(sets []map[string]struct{}) map[string]struct{} {
	out := make(map[string]struct{})
	for _, s := range sets {
		for k := range s {
			out[k] = struct{}{}
		}
	}
	return out
}

// intersect orders sets smallest-first before walking, per spec ("and =
// intersection of child sets, order by smallest first").
func intersect(sets []map[string]struct{}) map[string]struct{} {
	if len(sets) == 0 {
		return map[string]struct{}{}
	}
	bySize := append([]map[string]struct{}(nil), sets...)
	for i := 1; i < len(bySize); i++ {
		for j := i; j > 0 && len(bySize[j]) < len(bySize[j-1]); j-- {
			bySize[j], bySize[j-1] = bySize[j-1], bySize[j]
		}
	}

	out := cloneBucket(bySize[0])
	for _, s := range bySize[1:] {
		for k := range out {
			if _, ok := s[k]; !ok {
				delete(out, k)
			}
		}
	}
	return out
}
