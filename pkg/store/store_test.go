package store

import (
	"testing"

	"github.com/vectorkv/vectorkv/pkg/kernel"
	"github.com/vectorkv/vectorkv/pkg/schema"
)

func entriesOf(pairs ...struct {
	Vec schema.Vector
	Val schema.StoreValue
}) (map[string]schema.StoreValue, map[string]schema.Vector) {
	values := make(map[string]schema.StoreValue)
	keys := make(map[string]schema.Vector)
	for _, p := range pairs {
		values[p.Vec.Key()] = p.Val
		keys[p.Vec.Key()] = p.Vec
	}
	return values, keys
}

func TestSetGetKeyScenario1(t *testing.T) {
	s := New("S", 5)
	vec := schema.Vector{1, 2, 3, 4, 5}
	values, keys := entriesOf(struct {
		Vec schema.Vector
		Val schema.StoreValue
	}{vec, schema.StoreValue{"job": schema.NewRawString("dev")}})

	res, err := s.Set(values, keys)
	if err != nil {
		t.Fatal(err)
	}
	if res.Inserted != 1 || res.Updated != 0 {
		t.Fatalf("set result = %+v, want {1 0}", res)
	}

	got := s.GetKey([]schema.Vector{{1, 2, 3, 4, 5}})
	if len(got) != 1 {
		t.Fatalf("GetKey matching = %d entries, want 1", len(got))
	}

	miss := s.GetKey([]schema.Vector{{5, 4, 3, 2, 1}})
	if len(miss) != 0 {
		t.Fatalf("GetKey non-matching = %d entries, want 0", len(miss))
	}
}

func TestSetDimensionMismatchRejectsWholeBatch(t *testing.T) {
	s := New("S", 5)
	good := schema.Vector{1, 2, 3, 4, 5}
	bad := schema.Vector{1, 2, 3}
	values := map[string]schema.StoreValue{
		good.Key(): {"a": schema.NewRawString("x")},
		bad.Key():  {"a": schema.NewRawString("y")},
	}
	keys := map[string]schema.Vector{good.Key(): good, bad.Key(): bad}

	_, err := s.Set(values, keys)
	e, ok := schema.AsError(err)
	if !ok || e.Tag != schema.TagDimensionMismatch {
		t.Fatalf("expected DimensionMismatch, got %v", err)
	}
	if s.Len() != 0 {
		t.Fatalf("store size = %d after rejected batch, want 0", s.Len())
	}
}

func TestPredScenario2(t *testing.T) {
	s := New("S", 5)
	s.CreatePredIndex([]string{"rank"})

	chunin := schema.Vector{1, 1, 1, 1, 1}
	jonin := schema.Vector{2, 2, 2, 2, 2}
	values := map[string]schema.StoreValue{
		chunin.Key(): {"rank": schema.NewRawString("chunin")},
		jonin.Key():  {"rank": schema.NewRawString("jonin")},
	}
	keys := map[string]schema.Vector{chunin.Key(): chunin, jonin.Key(): jonin}
	if _, err := s.Set(values, keys); err != nil {
		t.Fatal(err)
	}

	got, err := s.GetPred(schema.Equals("rank", schema.NewRawString("jonin")))
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 {
		t.Fatalf("GetPred jonin = %d entries, want 1", len(got))
	}

	deleted, freed, err := s.DelPred(schema.Equals("rank", schema.NewRawString("jonin")))
	if err != nil {
		t.Fatal(err)
	}
	if deleted != 1 {
		t.Fatalf("deleted = %d, want 1", deleted)
	}
	if freed == 0 {
		t.Fatal("expected freed bytes to be reported for the deleted entry")
	}

	got, err = s.GetPred(schema.Equals("rank", schema.NewRawString("jonin")))
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 0 {
		t.Fatalf("GetPred jonin after delete = %d entries, want 0", len(got))
	}
}

func TestGetSimNScenario3(t *testing.T) {
	s := New("S", 3)
	a := schema.Vector{1, 0, 0}
	b := schema.Vector{0, 1, 0}
	c := schema.Vector{0.9, 0.1, 0}
	values := map[string]schema.StoreValue{
		a.Key(): {}, b.Key(): {}, c.Key(): {},
	}
	keys := map[string]schema.Vector{a.Key(): a, b.Key(): b, c.Key(): c}
	if _, err := s.Set(values, keys); err != nil {
		t.Fatal(err)
	}

	hits, err := s.GetSimN(schema.Vector{1, 0, 0}, 2, kernel.Cosine, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 2 {
		t.Fatalf("got %d hits, want 2", len(hits))
	}
	if !hits[0].Key.Equal(a) {
		t.Fatalf("top hit = %v, want [1 0 0]", hits[0].Key)
	}
	if hits[0].Similarity < 0.999 {
		t.Fatalf("top similarity = %f, want ~1.0", hits[0].Similarity)
	}
}

func TestGetSimNRejectsZeroN(t *testing.T) {
	s := New("S", 2)
	_, err := s.GetSimN(schema.Vector{1, 1}, 0, kernel.Cosine, nil, nil)
	e, ok := schema.AsError(err)
	if !ok || e.Tag != schema.TagClosestNMustBeNonZero {
		t.Fatalf("expected ClosestNMustBeNonZero, got %v", err)
	}
}

func TestCreatePredIndexIdempotent(t *testing.T) {
	s := New("S", 2)
	if n := s.CreatePredIndex([]string{"f"}); n != 1 {
		t.Fatalf("created = %d, want 1", n)
	}
	if n := s.CreatePredIndex([]string{"f"}); n != 0 {
		t.Fatalf("repeat created = %d, want 0", n)
	}
}

func TestHandlerCreateDropList(t *testing.T) {
	h := NewHandler()
	if _, err := h.Create("S", 4); err != nil {
		t.Fatal(err)
	}
	if _, err := h.Create("S", 4); err == nil {
		t.Fatal("expected StoreAlreadyExists on duplicate create")
	}
	if got := h.List(); len(got) != 1 {
		t.Fatalf("list = %d stores, want 1", len(got))
	}
	if n := h.Drop("S"); n != 1 {
		t.Fatalf("drop = %d, want 1", n)
	}
	if n := h.Drop("S"); n != 0 {
		t.Fatalf("second drop = %d, want 0", n)
	}
}

func TestKDTreeAcceleratedScenario4(t *testing.T) {
	s := New("S", 8)
	values := make(map[string]schema.StoreValue)
	keys := make(map[string]schema.Vector)
	var pts []schema.Vector
	for i := 0; i < 200; i++ {
		v := make(schema.Vector, 8)
		for d := range v {
			v[d] = float32((i*7+d*13)%97) / 97.0
		}
		values[v.Key()] = schema.StoreValue{}
		keys[v.Key()] = v
		pts = append(pts, v)
	}
	if _, err := s.Set(values, keys); err != nil {
		t.Fatal(err)
	}

	if err := s.CreateNonLinearIndex(NonLinearConfig{Algorithm: schema.AlgoKDTree, Kind: kernel.Euclidean}); err != nil {
		t.Fatal(err)
	}

	algo := schema.AlgoKDTree
	query := pts[10]
	indexed, err := s.GetSimN(query, 5, kernel.Euclidean, &algo, nil)
	if err != nil {
		t.Fatal(err)
	}
	brute, err := s.GetSimN(query, 5, kernel.Euclidean, nil, nil)
	if err != nil {
		t.Fatal(err)
	}

	indexedKeys := make(map[string]struct{})
	for _, h := range indexed {
		indexedKeys[h.Key.Key()] = struct{}{}
	}
	for _, h := range brute {
		if _, ok := indexedKeys[h.Key.Key()]; !ok {
			t.Errorf("brute-force result %v missing from kd-tree accelerated result", h.Key)
		}
	}
}
