// Package store implements the Store and Handler types: the vector->value
// map plus its predicate and non-linear indexes, and the process-wide
// registry of named stores. One RWMutex per store guards the entries and
// every index as a single unit; the registry is guarded by its own lock, so
// per-store operations never contend on registry access.
package store

import (
	"sort"
	"sync"

	"github.com/vectorkv/vectorkv/pkg/hnsw"
	"github.com/vectorkv/vectorkv/pkg/kdtree"
	"github.com/vectorkv/vectorkv/pkg/kernel"
	"github.com/vectorkv/vectorkv/pkg/predicate"
	"github.com/vectorkv/vectorkv/pkg/schema"
)

// NonLinearConfig describes one non-linear index a store should maintain.
type NonLinearConfig struct {
	Algorithm schema.Algorithm
	Kind      kernel.Kind // metric the index ranks by

	// HNSW-only knobs; zero values fall back to hnsw.DefaultConfig.
	M                     int
	MMax0                 int
	EfConstruction        int
	ExtendCandidates      bool
	KeepPrunedConnections bool
}

type nonLinearIndex struct {
	cfg  NonLinearConfig
	kd   *kdtree.Tree
	hnsw *hnsw.Graph
}

// SetResult is the outcome of a Set call. ReplacedBytes is the payload
// footprint of the values the batch overwrote, so callers accounting memory
// can return it to their budget.
type SetResult struct {
	Inserted      uint64
	Updated       uint64
	ReplacedBytes uint64
}

// SimHit is one ranked result from GetSimN.
type SimHit struct {
	Key        schema.Vector
	Value      schema.StoreValue
	Similarity float64
}

// Store is a named container of equi-dimensional vectors and their metadata.
type Store struct {
	mu sync.RWMutex

	name      string
	dimension int

	entries map[string]schema.StoreValue // keyed by Vector.Key()
	keys    map[string]schema.Vector     // Vector.Key() -> decoded vector, parallel to entries

	predIdx *predicate.Index

	nonlinear map[schema.Algorithm]*nonLinearIndex

	// originalInputs holds the AI-side raw input bytes keyed by Vector.Key(),
	// present only when the owning AiStore has store_original set.
	originalInputs map[string][]byte
}

// New creates an empty store of the given name and fixed dimension.
func New(name string, dimension int) *Store {
	return &Store{
		name:      name,
		dimension: dimension,
		entries:   make(map[string]schema.StoreValue),
		keys:      make(map[string]schema.Vector),
		predIdx:   predicate.New(),
		nonlinear: make(map[schema.Algorithm]*nonLinearIndex),
	}
}

// Name returns the store's name.
func (s *Store) Name() string { return s.name }

// Dimension returns the store's fixed vector dimension.
func (s *Store) Dimension() int { return s.dimension }

// Len returns the number of entries currently held.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Info summarises the store for ListStores/InfoServer.
type Info struct {
	Name      string
	Dimension int
	Len       int
	SizeBytes uint64
	NonLinear []NonLinearConfig
}

// Info returns the store's current summary.
func (s *Store) Info() Info {
	s.mu.RLock()
	defer s.mu.RUnlock()

	configs := make([]NonLinearConfig, 0, len(s.nonlinear))
	for _, nl := range s.nonlinear {
		configs = append(configs, nl.cfg)
	}

	var size uint64
	for k, v := range s.entries {
		size += entrySize(k, v)
	}

	return Info{
		Name:      s.name,
		Dimension: s.dimension,
		Len:       len(s.entries),
		SizeBytes: size,
		NonLinear: configs,
	}
}

// Set inserts or updates entries. Every key must have length == dimension,
// else the whole batch is rejected atomically with DimensionMismatch. Returns
// the count of newly-inserted vs. updated keys.
func (s *Store) Set(entries map[string]schema.StoreValue, keysByHash map[string]schema.Vector) (SetResult, error) {
	for hash, vec := range keysByHash {
		if vec.Dim() != s.dimension {
			return SetResult{}, schema.DimensionMismatch(s.dimension, vec.Dim())
		}
		if vec.HasNaN() {
			return SetResult{}, schema.NewError(schema.TagDimensionMismatch, "vector %v contains NaN", hash)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var result SetResult
	for hash, value := range entries {
		vec := keysByHash[hash]
		old, existed := s.entries[hash]
		s.entries[hash] = value
		s.keys[hash] = vec
		s.predIdx.Update(hash, old, value)

		if existed {
			result.Updated++
			result.ReplacedBytes += entrySize(hash, old)
		} else {
			result.Inserted++
			for _, nl := range s.nonlinear {
				insertIntoIndex(nl, vec)
			}
		}
	}
	return result, nil
}

func insertIntoIndex(nl *nonLinearIndex, vec schema.Vector) {
	switch nl.cfg.Algorithm {
	case schema.AlgoKDTree:
		nl.kd.Insert(vec)
	case schema.AlgoHNSW:
		nl.hnsw.Insert(vec)
	}
}

func removeFromIndex(nl *nonLinearIndex, vec schema.Vector) {
	switch nl.cfg.Algorithm {
	case schema.AlgoKDTree:
		nl.kd.Delete(vec)
	case schema.AlgoHNSW:
		nl.hnsw.Delete(vec)
	}
}

// GetKey returns the entries for the given decoded keys, skipping any not
// present.
func (s *Store) GetKey(vectors []schema.Vector) map[string]schema.StoreValue {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]schema.StoreValue)
	for _, v := range vectors {
		hash := v.Key()
		if val, ok := s.entries[hash]; ok {
			out[hash] = val
		}
	}
	return out
}

// GetPred evaluates cond and returns the matching entries.
func (s *Store) GetPred(cond schema.Condition) (map[string]schema.StoreValue, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys, err := s.predIdx.Evaluate(cond, s.allKeysLocked)
	if err != nil {
		return nil, err
	}
	out := make(map[string]schema.StoreValue, len(keys))
	for hash := range keys {
		out[hash] = s.entries[hash]
	}
	return out, nil
}

func (s *Store) allKeysLocked() map[string]struct{} {
	out := make(map[string]struct{}, len(s.entries))
	for hash := range s.entries {
		out[hash] = struct{}{}
	}
	return out
}

// GetSimN performs top-N similarity retrieval. If algo names a non-linear
// index that exists on the store and cond is nil, that index accelerates the
// scan; otherwise a brute-force scan over every entry is used. When cond is
// non-nil and every field it names is predicate-indexed, the matching keys
// are filtered before ranking. When any field it names is not indexed, the
// call fails with PredicateNotFound; candidates are not filtered after
// ranking without a predicate index.
func (s *Store) GetSimN(query schema.Vector, n int, kind kernel.Kind, algo *schema.Algorithm, cond *schema.Condition) ([]SimHit, error) {
	if n <= 0 {
		return nil, schema.NewError(schema.TagClosestNMustBeNonZero, "n must be > 0")
	}
	if query.Dim() != s.dimension {
		return nil, schema.DimensionMismatch(s.dimension, query.Dim())
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var allowed map[string]struct{}
	preFilter := false
	if cond != nil {
		if s.predicateCoversLocked(*cond) {
			keys, err := s.predIdx.Evaluate(*cond, s.allKeysLocked)
			if err != nil {
				return nil, err
			}
			allowed = keys
			preFilter = true
		}
	}

	if algo != nil {
		if nl, ok := s.nonlinear[*algo]; ok && !preFilter {
			return s.rankViaIndex(nl, query, n, kind, cond)
		}
	}

	return s.rankBruteForce(query, n, kind, allowed, cond, preFilter)
}

func (s *Store) predicateCoversLocked(cond schema.Condition) bool {
	for _, f := range cond.Fields() {
		if !s.predIdx.HasField(f) {
			return false
		}
	}
	return true
}

// rankViaIndex asks a non-linear index for a generous over-fetch (so that a
// post-ranking predicate filter still has enough candidates), then applies
// the filter and truncates to n.
func (s *Store) rankViaIndex(nl *nonLinearIndex, query schema.Vector, n int, kind kernel.Kind, cond *schema.Condition) ([]SimHit, error) {
	fetch := n
	if cond != nil {
		fetch = n * 4
		if fetch > len(s.entries) {
			fetch = len(s.entries)
		}
	}
	var candidates []schema.Vector
	switch nl.cfg.Algorithm {
	case schema.AlgoKDTree:
		candidates = nl.kd.Query(query, fetch, kind)
	case schema.AlgoHNSW:
		candidates = nl.hnsw.Query(query, fetch, fetch)
	}

	hits := make([]SimHit, 0, len(candidates))
	for _, c := range candidates {
		hash := c.Key()
		value, ok := s.entries[hash]
		if !ok {
			continue
		}
		if cond != nil {
			matched, err := s.matchesLocked(*cond, hash)
			if err != nil {
				return nil, err
			}
			if !matched {
				continue
			}
		}
		score, ok := kernel.Score(kind, query, c)
		if !ok {
			continue
		}
		hits = append(hits, SimHit{Key: c, Value: value, Similarity: score})
	}
	sort.Slice(hits, func(i, j int) bool { return kernel.Less(kind, hits[i].Similarity, hits[j].Similarity) })
	if cond != nil && len(hits) < n && len(candidates) < len(s.entries) {
		// Index over-fetch still came up short; fall back to a full scan so
		// the "extend until N or exhausted" policy holds.
		return s.rankBruteForce(query, n, kind, nil, cond, false)
	}
	if len(hits) > n {
		hits = hits[:n]
	}
	return hits, nil
}

func (s *Store) matchesLocked(cond schema.Condition, hash string) (bool, error) {
	keys, err := s.predIdx.Evaluate(cond, s.allKeysLocked)
	if err != nil {
		return false, err
	}
	_, ok := keys[hash]
	return ok, nil
}

// rankBruteForce scans every entry (optionally restricted to allowed, when
// preFilter is true) and returns the top n by kind.
func (s *Store) rankBruteForce(query schema.Vector, n int, kind kernel.Kind, allowed map[string]struct{}, cond *schema.Condition, preFilter bool) ([]SimHit, error) {
	var matched map[string]struct{}
	if cond != nil && !preFilter {
		var err error
		matched, err = s.predIdx.Evaluate(*cond, s.allKeysLocked)
		if err != nil {
			return nil, err
		}
	}

	hits := make([]SimHit, 0, len(s.entries))
	for hash, value := range s.entries {
		if preFilter {
			if _, ok := allowed[hash]; !ok {
				continue
			}
		} else if matched != nil {
			if _, ok := matched[hash]; !ok {
				continue
			}
		}
		vec := s.keys[hash]
		score, ok := kernel.Score(kind, query, vec)
		if !ok {
			continue
		}
		hits = append(hits, SimHit{Key: vec, Value: value, Similarity: score})
	}

	sort.Slice(hits, func(i, j int) bool { return kernel.Less(kind, hits[i].Similarity, hits[j].Similarity) })
	if len(hits) > n {
		hits = hits[:n]
	}
	return hits, nil
}

// DelKey removes the given decoded keys, returning the count actually
// deleted and the payload bytes freed. Missing keys are silently skipped.
func (s *Store) DelKey(vectors []schema.Vector) (deleted, freed uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, v := range vectors {
		hash := v.Key()
		value, ok := s.entries[hash]
		if !ok {
			continue
		}
		freed += entrySize(hash, value)
		s.removeLocked(hash, value, v)
		deleted++
	}
	return deleted, freed
}

// DelPred deletes every entry matching cond, returning the count deleted and
// the payload bytes freed.
func (s *Store) DelPred(cond schema.Condition) (deleted, freed uint64, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	keys, err := s.predIdx.Evaluate(cond, s.allKeysLocked)
	if err != nil {
		return 0, 0, err
	}
	for hash := range keys {
		value, ok := s.entries[hash]
		if !ok {
			continue
		}
		freed += entrySize(hash, value)
		s.removeLocked(hash, value, s.keys[hash])
		deleted++
	}
	return deleted, freed, nil
}

// entrySize is the payload footprint of one entry: the key's encoded bytes
// plus every metadata field name and value. ListStores and the allocator
// accounting in pkg/rpc both use this measure.
func entrySize(hash string, value schema.StoreValue) uint64 {
	size := uint64(len(hash))
	for field, mv := range value {
		size += uint64(len(field)) + uint64(len(mv.Str)) + uint64(len(mv.Binary))
	}
	return size
}

func (s *Store) removeLocked(hash string, value schema.StoreValue, vec schema.Vector) {
	s.predIdx.Remove(hash, value)
	delete(s.entries, hash)
	delete(s.keys, hash)
	delete(s.originalInputs, hash)
	for _, nl := range s.nonlinear {
		removeFromIndex(nl, vec)
	}
}

// CreatePredIndex indexes the given fields, returning the count of newly
// created indexes (idempotent).
func (s *Store) CreatePredIndex(fields []string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.predIdx.CreateFields(fields, s.entries)
}

// DropPredIndex removes the given fields' indexes, returning the count
// removed. If errorIfNotExists is set and any field was not indexed, returns
// PredicateNotFound without modifying anything.
func (s *Store) DropPredIndex(fields []string, errorIfNotExists bool) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if errorIfNotExists {
		for _, f := range fields {
			if !s.predIdx.HasField(f) {
				return 0, schema.NewError(schema.TagPredicateNotFound, "field %q is not indexed", f)
			}
		}
	}
	return s.predIdx.DropFields(fields), nil
}

// CreateNonLinearIndex builds the named index over the store's current
// entries, replaying all live keys into it before returning.
func (s *Store) CreateNonLinearIndex(cfg NonLinearConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.nonlinear[cfg.Algorithm]; ok {
		return schema.NewError(schema.TagIndexAlreadyExists, "index %s already exists", cfg.Algorithm)
	}

	nl := &nonLinearIndex{cfg: cfg}
	points := make([]schema.Vector, 0, len(s.keys))
	for _, v := range s.keys {
		points = append(points, v)
	}

	switch cfg.Algorithm {
	case schema.AlgoKDTree:
		nl.kd = kdtree.New(s.dimension)
		nl.kd.Build(points)
	case schema.AlgoHNSW:
		hcfg := hnsw.Config{
			M:                     cfg.M,
			MMax0:                 cfg.MMax0,
			EfConstruction:        cfg.EfConstruction,
			Kind:                  cfg.Kind,
			ExtendCandidates:      cfg.ExtendCandidates,
			KeepPrunedConnections: cfg.KeepPrunedConnections,
		}
		nl.hnsw = hnsw.New(s.dimension, hcfg)
		nl.hnsw.Build(points)
	}

	s.nonlinear[cfg.Algorithm] = nl
	return nil
}

// DropNonLinearIndex removes the given algorithms' indexes, returning the
// count removed.
func (s *Store) DropNonLinearIndex(algos []schema.Algorithm, errorIfNotExists bool) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if errorIfNotExists {
		for _, a := range algos {
			if _, ok := s.nonlinear[a]; !ok {
				return 0, schema.NewError(schema.TagIndexNotFound, "index %s not found", a)
			}
		}
	}
	removed := 0
	for _, a := range algos {
		if _, ok := s.nonlinear[a]; ok {
			delete(s.nonlinear, a)
			removed++
		}
	}
	return removed, nil
}

// SnapshotEntries returns a defensive copy of the store's current
// vector->value entries, for use by the persistence package.
func (s *Store) SnapshotEntries() (map[string]schema.Vector, map[string]schema.StoreValue) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := make(map[string]schema.Vector, len(s.keys))
	values := make(map[string]schema.StoreValue, len(s.entries))
	for hash, v := range s.keys {
		keys[hash] = v.Clone()
	}
	for hash, v := range s.entries {
		values[hash] = v.Clone()
	}
	return keys, values
}

// SnapshotNonLinearConfigs returns the configs of every non-linear index
// currently held, for persistence (the indexes themselves are rebuilt on
// load, never serialised).
func (s *Store) SnapshotNonLinearConfigs() []NonLinearConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]NonLinearConfig, 0, len(s.nonlinear))
	for _, nl := range s.nonlinear {
		out = append(out, nl.cfg)
	}
	return out
}

// PredicateFields returns the currently indexed predicate fields.
func (s *Store) PredicateFields() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.predIdx.Fields()
}

// Restore repopulates an empty store from a snapshot: entries, predicate
// fields and non-linear index configs (indexes are rebuilt, not replayed
// from a serialised structure).
func (s *Store) Restore(keys map[string]schema.Vector, values map[string]schema.StoreValue, predFields []string, nonlinear []NonLinearConfig) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.keys = keys
	s.entries = values

	if len(predFields) > 0 {
		s.predIdx.CreateFields(predFields, values)
	}

	points := make([]schema.Vector, 0, len(keys))
	for _, v := range keys {
		points = append(points, v)
	}
	for _, cfg := range nonlinear {
		nl := &nonLinearIndex{cfg: cfg}
		switch cfg.Algorithm {
		case schema.AlgoKDTree:
			nl.kd = kdtree.New(s.dimension)
			nl.kd.Build(points)
		case schema.AlgoHNSW:
			hcfg := hnsw.Config{
				M:                     cfg.M,
				MMax0:                 cfg.MMax0,
				EfConstruction:        cfg.EfConstruction,
				Kind:                  cfg.Kind,
				ExtendCandidates:      cfg.ExtendCandidates,
				KeepPrunedConnections: cfg.KeepPrunedConnections,
			}
			nl.hnsw = hnsw.New(s.dimension, hcfg)
			nl.hnsw.Build(points)
		}
		s.nonlinear[cfg.Algorithm] = nl
	}
}

// SetOriginalInput stores the AI-side raw input bytes for a key, used only
// by AI-facing stores with store_original enabled.
func (s *Store) SetOriginalInput(vec schema.Vector, raw []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.originalInputs == nil {
		s.originalInputs = make(map[string][]byte)
	}
	s.originalInputs[vec.Key()] = raw
}

// OriginalInput returns the raw input bytes retained for vec, if any.
func (s *Store) OriginalInput(vec schema.Vector) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	raw, ok := s.originalInputs[vec.Key()]
	return raw, ok
}
