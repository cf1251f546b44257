// Package kdtree implements the binary space-partitioning index used to
// accelerate GetSimN: the split axis cycles through dimensions by depth, the
// splitting element at each node is the median of its subset along that
// axis, and deletes are logical tombstones reconciled by a full rebuild once
// they accumulate past a threshold. A single mutex guards the node set and
// root pointer, with rebuilds triggered from Insert/Delete rather than from
// a background task.
package kdtree

import (
	"container/heap"
	"sort"
	"sync"

	"github.com/vectorkv/vectorkv/pkg/kernel"
	"github.com/vectorkv/vectorkv/pkg/schema"
)

// imbalanceFactor bounds how lopsided the tree may grow before a full
// rebuild is forced on insert.
const imbalanceFactor = 2.0

// tombstoneFraction is the fraction of live nodes' worth of tombstones that
// triggers a rebuild on delete.
const tombstoneFraction = 0.25

type node struct {
	key       schema.Vector
	left      *node
	right     *node
	tombstone bool
}

// Tree is a KD-tree over D-dimensional points, keyed by their Vector.Key()
// string so the caller's Store can resolve a hit back to its metadata.
type Tree struct {
	mu         sync.RWMutex
	dim        int
	root       *node
	size       int // live (non-tombstoned) node count
	tombstones int
	inserted   int // total inserts since the last rebuild, for imbalance tracking
}

// New creates an empty KD-tree over D-dimensional vectors.
func New(dim int) *Tree {
	return &Tree{dim: dim}
}

// Len reports the number of live points in the tree.
func (t *Tree) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.size
}

// Build replaces the tree's contents with a balanced tree over points,
// used both for initial construction (replaying a store's current keys)
// and for rebuilds.
func (t *Tree) Build(points []schema.Vector) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buildLocked(points)
}

func (t *Tree) buildLocked(points []schema.Vector) {
	pts := make([]schema.Vector, len(points))
	copy(pts, points)
	t.root = buildSubtree(pts, 0, t.dim)
	t.size = len(pts)
	t.tombstones = 0
	t.inserted = 0
}

// buildSubtree recursively partitions pts around the median along
// depth mod dim, breaking ties by original insertion order (stable sort).
func buildSubtree(pts []schema.Vector, depth, dim int) *node {
	if len(pts) == 0 {
		return nil
	}
	axis := depth % dim
	sort.SliceStable(pts, func(i, j int) bool {
		return pts[i][axis] < pts[j][axis]
	})
	mid := len(pts) / 2
	n := &node{key: pts[mid]}
	n.left = buildSubtree(pts[:mid], depth+1, dim)
	n.right = buildSubtree(pts[mid+1:], depth+1, dim)
	return n
}

// collectLive walks the tree gathering every non-tombstoned key.
func collectLive(n *node, out *[]schema.Vector) {
	if n == nil {
		return
	}
	if !n.tombstone {
		*out = append(*out, n.key)
	}
	collectLive(n.left, out)
	collectLive(n.right, out)
}

func treeDepth(n *node) int {
	if n == nil {
		return 0
	}
	ld, rd := treeDepth(n.left), treeDepth(n.right)
	if ld > rd {
		return ld + 1
	}
	return rd + 1
}

// Insert adds key to the tree. Rather than true incremental BST insertion
// (which would let the tree degrade into a list under adversarial input),
// insertion is amortised: the key is added as a leaf descent guided by the
// same axis rule used at build time, and a full rebuild is triggered
// whenever the tree's depth exceeds what a balanced tree of this size
// would need by more than imbalanceFactor.
func (t *Tree) Insert(key schema.Vector) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.insertLocked(key)
	t.inserted++

	balancedDepth := log2Ceil(t.size)
	if float64(treeDepth(t.root)) > float64(balancedDepth)*imbalanceFactor && t.size > 1 {
		var pts []schema.Vector
		collectLive(t.root, &pts)
		t.buildLocked(pts)
	}
}

func (t *Tree) insertLocked(key schema.Vector) {
	t.root = insertNode(t.root, key, 0, t.dim)
	t.size++
}

func insertNode(n *node, key schema.Vector, depth, dim int) *node {
	if n == nil {
		return &node{key: key}
	}
	axis := depth % dim
	if key[axis] < n.key[axis] {
		n.left = insertNode(n.left, key, depth+1, dim)
	} else {
		n.right = insertNode(n.right, key, depth+1, dim)
	}
	return n
}

func log2Ceil(n int) int {
	if n <= 1 {
		return 1
	}
	d := 0
	for v := 1; v < n; v <<= 1 {
		d++
	}
	return d
}

// Delete marks key as tombstoned if present, reporting whether it was found.
// Once tombstones exceed tombstoneFraction of live nodes, the tree is
// rebuilt from the remaining live keys.
func (t *Tree) Delete(key schema.Vector) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	n := findNode(t.root, key, 0, t.dim)
	if n == nil || n.tombstone {
		return false
	}
	n.tombstone = true
	t.size--
	t.tombstones++

	if t.size > 0 && float64(t.tombstones) > tombstoneFraction*float64(t.size) {
		var pts []schema.Vector
		collectLive(t.root, &pts)
		t.buildLocked(pts)
	}
	return true
}

func findNode(n *node, key schema.Vector, depth, dim int) *node {
	if n == nil {
		return nil
	}
	if n.key.Equal(key) && !n.tombstone {
		return n
	}
	axis := depth % dim
	if key[axis] < n.key[axis] {
		return findNode(n.left, key, depth+1, dim)
	}
	if key[axis] == n.key[axis] {
		// A median split at build time can leave equal axis values on the left.
		if found := findNode(n.left, key, depth+1, dim); found != nil {
			return found
		}
	}
	return findNode(n.right, key, depth+1, dim)
}

// neighbor is one candidate in the query's bounded max-heap, ordered so the
// worst candidate (by the query's metric) sits at the heap's root for O(log N)
// eviction once the heap is full.
type neighbor struct {
	key   schema.Vector
	score float64
}

type boundedHeap struct {
	items []neighbor
	kind  kernel.Kind
}

// worse reports whether a ranks worse than b under kind, i.e. a is the
// first candidate to evict. For Higher()-ranked metrics (cosine, dot) the
// worst score is the smallest; for Euclidean the worst score is the
// largest.
func (h boundedHeap) worse(a, b float64) bool {
	if h.kind.Higher() {
		return a < b
	}
	return a > b
}

func (h boundedHeap) Len() int { return len(h.items) }
func (h boundedHeap) Less(i, j int) bool {
	return h.worse(h.items[i].score, h.items[j].score)
}
func (h boundedHeap) Swap(i, j int) { h.items[i], h.items[j] = h.items[j], h.items[i] }
func (h *boundedHeap) Push(x any)   { h.items = append(h.items, x.(neighbor)) }
func (h *boundedHeap) Pop() any {
	old := h.items
	n := len(old)
	item := old[n-1]
	h.items = old[:n-1]
	return item
}

// Query returns up to N keys nearest to target under kind, using best-first
// descent pruned by the axis-plane distance bound. Candidates whose score is
// disqualified by kernel.Score (NaN) are skipped.
func (t *Tree) Query(target schema.Vector, n int, kind kernel.Kind) []schema.Vector {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if n <= 0 || t.root == nil {
		return nil
	}

	h := &boundedHeap{kind: kind}
	heap.Init(h)
	t.search(t.root, target, 0, n, kind, h)

	sort.Slice(h.items, func(i, j int) bool {
		return kernel.Less(kind, h.items[i].score, h.items[j].score)
	})
	out := make([]schema.Vector, len(h.items))
	for i, it := range h.items {
		out[i] = it.key
	}
	return out
}

func (t *Tree) search(n *node, target schema.Vector, depth, limit int, kind kernel.Kind, h *boundedHeap) {
	if n == nil {
		return
	}

	if !n.tombstone {
		if score, ok := kernel.Score(kind, target, n.key); ok {
			if h.Len() < limit {
				heap.Push(h, neighbor{key: n.key, score: score})
			} else if h.worse(h.items[0].score, score) {
				heap.Pop(h)
				heap.Push(h, neighbor{key: n.key, score: score})
			}
		}
	}

	axis := depth % t.dim
	diff := target[axis] - n.key[axis]

	near, far := n.left, n.right
	if diff > 0 {
		near, far = n.right, n.left
	}

	t.search(near, target, depth+1, limit, kind, h)

	// Prune the far side unless the heap isn't full yet or the splitting
	// plane is still within the current worst candidate's margin.
	planeDist := float64(diff)
	if planeDist < 0 {
		planeDist = -planeDist
	}
	if h.Len() < limit || t.planeCouldImprove(kind, h.items[0].score, planeDist) {
		t.search(far, target, depth+1, limit, kind, h)
	}
}

// planeCouldImprove reports whether a point beyond the splitting plane,
// distant at least planeDist along one axis alone, could still beat the
// heap's current worst score under kind.
func (t *Tree) planeCouldImprove(kind kernel.Kind, worst, planeDist float64) bool {
	switch kind {
	case kernel.Euclidean:
		return planeDist < worst
	default:
		// Cosine/dot similarity has no direct single-axis distance bound;
		// conservatively always descend so correctness never regresses for
		// these metrics (recall-optimisation is future work).
		return true
	}
}
