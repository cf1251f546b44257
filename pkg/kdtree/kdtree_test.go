package kdtree

import (
	"math/rand"
	"sort"
	"testing"

	"github.com/vectorkv/vectorkv/pkg/kernel"
	"github.com/vectorkv/vectorkv/pkg/schema"
)

func TestQueryMatchesBruteForceEuclidean(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	const dim = 8
	const n = 1000

	points := make([]schema.Vector, n)
	for i := range points {
		v := make(schema.Vector, dim)
		for d := 0; d < dim; d++ {
			v[d] = rng.Float32()
		}
		points[i] = v
	}

	tree := New(dim)
	tree.Build(points)

	query := points[42].Clone()
	got := tree.Query(query, 5, kernel.Euclidean)

	type scored struct {
		v schema.Vector
		s float64
	}
	all := make([]scored, len(points))
	for i, p := range points {
		all[i] = scored{p, kernel.EuclideanDistance(query, p)}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].s < all[j].s })

	want := make(map[string]struct{}, 5)
	for i := 0; i < 5; i++ {
		want[all[i].v.Key()] = struct{}{}
	}
	if len(got) != 5 {
		t.Fatalf("got %d results, want 5", len(got))
	}
	for _, g := range got {
		if _, ok := want[g.Key()]; !ok {
			t.Errorf("kd-tree result %v not in brute-force top 5", g)
		}
	}
}

func TestInsertAndDeleteTombstone(t *testing.T) {
	tree := New(2)
	a := schema.Vector{0, 0}
	b := schema.Vector{1, 1}
	tree.Insert(a)
	tree.Insert(b)

	if tree.Len() != 2 {
		t.Fatalf("len = %d, want 2", tree.Len())
	}
	if !tree.Delete(a) {
		t.Fatal("delete of present key failed")
	}
	if tree.Len() != 1 {
		t.Fatalf("len after delete = %d, want 1", tree.Len())
	}
	if tree.Delete(a) {
		t.Fatal("second delete of already-tombstoned key should report false")
	}

	got := tree.Query(schema.Vector{0, 0}, 2, kernel.Euclidean)
	if len(got) != 1 || !got[0].Equal(b) {
		t.Fatalf("query after delete = %v, want [{1 1}]", got)
	}
}

func TestRebuildOnTombstoneThreshold(t *testing.T) {
	tree := New(1)
	var pts []schema.Vector
	for i := 0; i < 20; i++ {
		v := schema.Vector{float32(i)}
		pts = append(pts, v)
		tree.Insert(v)
	}
	for i := 0; i < 6; i++ {
		tree.Delete(pts[i])
	}
	if tree.Len() != 14 {
		t.Fatalf("len = %d, want 14", tree.Len())
	}
	got := tree.Query(schema.Vector{0}, 20, kernel.Euclidean)
	if len(got) != 14 {
		t.Fatalf("query count = %d, want 14", len(got))
	}
}

func TestQueryZeroNReturnsNothing(t *testing.T) {
	tree := New(2)
	tree.Insert(schema.Vector{1, 2})
	if got := tree.Query(schema.Vector{1, 2}, 0, kernel.Euclidean); got != nil {
		t.Fatalf("query with n=0 = %v, want nil", got)
	}
}
