// Package hnsw implements a hierarchical navigable small-world graph index
// over D-dimensional points: multi-layer greedy-then-best-first
// construction, diversity-aware neighbour selection
// (SELECT-NEIGHBORS-HEURISTIC), and tombstone-based deletion with a full
// rebuild once tombstones dominate. A bounded max/min-heap pair drives the
// per-layer search; a per-node mutex guards adjacency-list mutation.
package hnsw

import (
	"container/heap"
	"math"
	"math/rand"
	"sync"

	"github.com/vectorkv/vectorkv/pkg/kernel"
	"github.com/vectorkv/vectorkv/pkg/schema"
)

// Config holds the construction parameters of one HNSW index.
type Config struct {
	M                     int // neighbours per node above layer 0
	MMax0                 int // neighbours at layer 0, typically 2*M
	EfConstruction        int
	Kind                  kernel.Kind
	ExtendCandidates      bool
	KeepPrunedConnections bool
	Rand                  *rand.Rand // nil gives each graph its own fixed-seed source
}

// DefaultConfig returns reasonable starting parameters for kind.
func DefaultConfig(kind kernel.Kind) Config {
	return Config{
		M:              16,
		MMax0:          32,
		EfConstruction: 200,
		Kind:           kind,
	}
}

type node struct {
	key       schema.Vector
	level     int
	neighbors [][]string // neighbors[l] = adjacency list at layer l
	tombstone bool
	mu        sync.RWMutex
}

// Graph is one HNSW index over a fixed dimension. Keys are identified by
// their schema.Vector.Key() string so results can be resolved back to a
// Store's entries.
type Graph struct {
	mu    sync.RWMutex
	cfg   Config
	dim   int
	mL    float64
	nodes map[string]*node
	entry string
	top   int

	tombstones int
}

// New creates an empty HNSW graph over dim-dimensional points.
func New(dim int, cfg Config) *Graph {
	if cfg.M == 0 {
		cfg = DefaultConfig(cfg.Kind)
	}
	if cfg.MMax0 == 0 {
		cfg.MMax0 = 2 * cfg.M
	}
	if cfg.Rand == nil {
		cfg.Rand = rand.New(rand.NewSource(1))
	}
	return &Graph{
		cfg:   cfg,
		dim:   dim,
		mL:    1.0 / math.Log(float64(cfg.M)),
		nodes: make(map[string]*node),
		top:   -1,
	}
}

// Len reports the number of live points in the graph.
func (g *Graph) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	n := 0
	for _, nd := range g.nodes {
		if !nd.tombstone {
			n++
		}
	}
	return n
}

func (g *Graph) randomLevel() int {
	u := g.cfg.Rand.Float64()
	for u == 0 {
		u = g.cfg.Rand.Float64()
	}
	return int(math.Floor(-math.Log(u) * g.mL))
}

// distance returns the kernel distance/score between two stored vectors,
// oriented so that "smaller is closer" regardless of metric: for
// Higher()-ranked metrics we negate the score.
func (g *Graph) distance(a, b schema.Vector) float64 {
	score, ok := kernel.Score(g.cfg.Kind, a, b)
	if !ok {
		return math.Inf(1)
	}
	if g.cfg.Kind.Higher() {
		return -score
	}
	return score
}

// Insert adds key to the graph.
func (g *Graph) Insert(key schema.Vector) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.insertLocked(key)
}

func (g *Graph) layerCap(level int) int {
	if level == 0 {
		return g.cfg.MMax0
	}
	return g.cfg.M
}

// connect adds id as a neighbour of nbrID at layer l, pruning nbrID's
// adjacency list back to its cap via the diversity heuristic if it would
// overflow.
func (g *Graph) connect(nbrID, id string, l int) {
	nbr, ok := g.nodes[nbrID]
	if !ok {
		return
	}
	nbr.mu.Lock()
	defer nbr.mu.Unlock()

	if l >= len(nbr.neighbors) {
		return
	}
	cap := g.layerCap(l)
	list := append(nbr.neighbors[l], id)
	if len(list) <= cap {
		nbr.neighbors[l] = list
		return
	}

	candidates := make([]candidate, 0, len(list))
	for _, nid := range list {
		if other, ok := g.nodes[nid]; ok {
			candidates = append(candidates, candidate{id: nid, dist: g.distance(nbr.key, other.key)})
		}
	}
	selected := g.selectNeighborsFromCandidates(nbr.key, candidates, cap)
	nbr.neighbors[l] = selected
}

// candidate pairs a node id with its distance to some fixed query point.
type candidate struct {
	id   string
	dist float64
}

// greedyClosest performs a single-best greedy descent at layer l starting
// from entryID (the ef=1 phase of construction/query).
func (g *Graph) greedyClosest(query schema.Vector, entryID string, l int) string {
	current := entryID
	currentDist := g.distance(query, g.nodes[current].key)

	for {
		nd := g.nodes[current]
		nd.mu.RLock()
		neighbors := append([]string(nil), nd.neighbors[l]...)
		nd.mu.RUnlock()

		moved := false
		for _, nbrID := range neighbors {
			nbr, ok := g.nodes[nbrID]
			if !ok || nbr.tombstone {
				continue
			}
			dist := g.distance(query, nbr.key)
			if dist < currentDist {
				current = nbrID
				currentDist = dist
				moved = true
			}
		}
		if !moved {
			return current
		}
	}
}

type heapItem struct {
	id   string
	dist float64
}

type minHeap []heapItem

func (h minHeap) Len() int           { return len(h) }
func (h minHeap) Less(i, j int) bool { return h[i].dist < h[j].dist }
func (h minHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *minHeap) Push(x any)        { *h = append(*h, x.(heapItem)) }
func (h *minHeap) Pop() any          { old := *h; n := len(old); x := old[n-1]; *h = old[:n-1]; return x }

type maxHeap []heapItem

func (h maxHeap) Len() int           { return len(h) }
func (h maxHeap) Less(i, j int) bool { return h[i].dist > h[j].dist }
func (h maxHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *maxHeap) Push(x any)        { *h = append(*h, x.(heapItem)) }
func (h *maxHeap) Pop() any          { old := *h; n := len(old); x := old[n-1]; *h = old[:n-1]; return x }

// searchLayer runs the bounded best-first search of the construction/query
// algorithm at one layer, starting from entryIDs, returning up to ef
// candidates sorted closest-first.
func (g *Graph) searchLayer(query schema.Vector, entryIDs []string, ef int, l int) []candidate {
	visited := make(map[string]bool, ef*2)
	candidates := &minHeap{}
	results := &maxHeap{}
	heap.Init(candidates)
	heap.Init(results)

	for _, id := range entryIDs {
		if visited[id] {
			continue
		}
		visited[id] = true
		nd, ok := g.nodes[id]
		if !ok || nd.tombstone {
			continue
		}
		d := g.distance(query, nd.key)
		heap.Push(candidates, heapItem{id: id, dist: d})
		heap.Push(results, heapItem{id: id, dist: d})
	}

	for candidates.Len() > 0 {
		c := heap.Pop(candidates).(heapItem)
		if results.Len() >= ef && c.dist > (*results)[0].dist {
			break
		}

		nd := g.nodes[c.id]
		nd.mu.RLock()
		neighbors := append([]string(nil), nd.neighbors[l]...)
		nd.mu.RUnlock()

		for _, nbrID := range neighbors {
			if visited[nbrID] {
				continue
			}
			visited[nbrID] = true
			nbr, ok := g.nodes[nbrID]
			if !ok || nbr.tombstone {
				continue
			}
			d := g.distance(query, nbr.key)
			if results.Len() < ef || d < (*results)[0].dist {
				heap.Push(candidates, heapItem{id: nbrID, dist: d})
				heap.Push(results, heapItem{id: nbrID, dist: d})
				if results.Len() > ef {
					heap.Pop(results)
				}
			}
		}
	}

	out := make([]candidate, results.Len())
	for i := len(out) - 1; i >= 0; i-- {
		item := heap.Pop(results).(heapItem)
		out[i] = candidate{id: item.id, dist: item.dist}
	}
	return out
}

// selectNeighbors runs the diversity heuristic (SELECT-NEIGHBORS-HEURISTIC)
// over a fresh candidate set produced by searchLayer.
func (g *Graph) selectNeighbors(query schema.Vector, candidates []candidate, m int) []string {
	return g.selectNeighborsFromCandidates(query, candidates, m)
}

// selectNeighborsFromCandidates is the heuristic's core: greedily keep a
// candidate only if it is closer to the query than it is to every neighbour
// already accepted into R, preferring diversity over raw proximity; the
// discarded set can optionally backfill R if it would otherwise fall short
// of m.
func (g *Graph) selectNeighborsFromCandidates(query schema.Vector, candidates []candidate, m int) []string {
	working := append([]candidate(nil), candidates...)

	if g.cfg.ExtendCandidates {
		seen := make(map[string]bool, len(working))
		for _, c := range working {
			seen[c.id] = true
		}
		extra := make([]candidate, 0)
		for _, c := range working {
			nd, ok := g.nodes[c.id]
			if !ok {
				continue
			}
			nd.mu.RLock()
			for l := 0; l < len(nd.neighbors); l++ {
				for _, nbrID := range nd.neighbors[l] {
					if seen[nbrID] {
						continue
					}
					seen[nbrID] = true
					if other, ok := g.nodes[nbrID]; ok && !other.tombstone {
						extra = append(extra, candidate{id: nbrID, dist: g.distance(query, other.key)})
					}
				}
			}
			nd.mu.RUnlock()
		}
		working = append(working, extra...)
	}

	sortCandidates(working)

	var result []candidate
	var discarded []candidate

	for _, c := range working {
		if len(result) >= m {
			break
		}
		cNode, ok := g.nodes[c.id]
		if !ok {
			continue
		}
		closerToQueryThanToAnyResult := true
		for _, r := range result {
			rNode, ok := g.nodes[r.id]
			if !ok {
				continue
			}
			if g.distance(cNode.key, rNode.key) < c.dist {
				closerToQueryThanToAnyResult = false
				break
			}
		}
		if closerToQueryThanToAnyResult {
			result = append(result, c)
		} else {
			discarded = append(discarded, c)
		}
	}

	if g.cfg.KeepPrunedConnections && len(result) < m {
		sortCandidates(discarded)
		for _, c := range discarded {
			if len(result) >= m {
				break
			}
			result = append(result, c)
		}
	}

	out := make([]string, len(result))
	for i, c := range result {
		out[i] = c.id
	}
	return out
}

func sortCandidates(c []candidate) {
	for i := 1; i < len(c); i++ {
		for j := i; j > 0 && c[j].dist < c[j-1].dist; j-- {
			c[j], c[j-1] = c[j-1], c[j]
		}
	}
}

// Query returns up to N keys nearest target, searching with the given ef
// (candidate queue size for the layer-0 search).
func (g *Graph) Query(target schema.Vector, n, ef int) []schema.Vector {
	g.mu.RLock()
	defer g.mu.RUnlock()

	if g.entry == "" || n <= 0 {
		return nil
	}
	if ef < n {
		ef = n
	}

	ep := g.entry
	for l := g.top; l > 0; l-- {
		ep = g.greedyClosest(target, ep, l)
	}

	candidates := g.searchLayer(target, []string{ep}, ef, 0)
	if len(candidates) > n {
		candidates = candidates[:n]
	}
	out := make([]schema.Vector, 0, len(candidates))
	for _, c := range candidates {
		if nd, ok := g.nodes[c.id]; ok && !nd.tombstone {
			out = append(out, nd.key)
		}
	}
	return out
}

// Delete logically removes key, tombstoning its adjacency edges and
// reassigning the entry point if necessary. Once tombstones exceed half of
// the live node count, the graph is rebuilt from its remaining live keys.
func (g *Graph) Delete(key schema.Vector) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	id := key.Key()
	nd, ok := g.nodes[id]
	if !ok || nd.tombstone {
		return false
	}
	nd.tombstone = true
	g.tombstones++

	if g.entry == id {
		g.reassignEntry()
	}

	live := 0
	for _, n := range g.nodes {
		if !n.tombstone {
			live++
		}
	}
	if live > 0 && float64(g.tombstones) > 0.5*float64(live) {
		g.rebuildLocked()
	}
	return true
}

func (g *Graph) reassignEntry() {
	best := ""
	bestLevel := -1
	for id, n := range g.nodes {
		if n.tombstone {
			continue
		}
		if n.level > bestLevel {
			bestLevel = n.level
			best = id
		}
	}
	g.entry = best
	g.top = bestLevel
}

// rebuildLocked reinserts every live key into a fresh graph, discarding
// tombstoned nodes and their edges entirely. Caller holds g.mu.
func (g *Graph) rebuildLocked() {
	var live []schema.Vector
	for _, n := range g.nodes {
		if !n.tombstone {
			live = append(live, n.key)
		}
	}

	g.nodes = make(map[string]*node)
	g.entry = ""
	g.top = -1
	g.tombstones = 0

	for _, key := range live {
		g.insertLocked(key)
	}
}

// insertLocked performs the actual construction-time insert. Caller holds
// g.mu for writing.
func (g *Graph) insertLocked(key schema.Vector) {
	level := g.randomLevel()
	id := key.Key()
	nd := &node{key: key, level: level, neighbors: make([][]string, level+1)}
	for i := range nd.neighbors {
		nd.neighbors[i] = make([]string, 0, g.layerCap(i))
	}
	g.nodes[id] = nd

	if g.entry == "" {
		g.entry = id
		g.top = level
		return
	}

	ep := g.entry
	for l := g.top; l > level; l-- {
		ep = g.greedyClosest(key, ep, l)
	}

	for l := min(level, g.top); l >= 0; l-- {
		candidates := g.searchLayer(key, []string{ep}, g.cfg.EfConstruction, l)
		selected := g.selectNeighbors(key, candidates, g.layerCap(l))
		nd.neighbors[l] = selected
		for _, nbrID := range selected {
			g.connect(nbrID, id, l)
		}
		if len(candidates) > 0 {
			ep = candidates[0].id
		}
	}

	if level > g.top {
		g.entry = id
		g.top = level
	}
}

// Build replaces the graph's contents, inserting points in order.
func (g *Graph) Build(points []schema.Vector) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.nodes = make(map[string]*node)
	g.entry = ""
	g.top = -1
	g.tombstones = 0
	for _, p := range points {
		g.insertLocked(p)
	}
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
