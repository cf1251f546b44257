package rpc

import (
	"testing"

	"github.com/vectorkv/vectorkv/pkg/kernel"
	"github.com/vectorkv/vectorkv/pkg/schema"
	"github.com/vectorkv/vectorkv/pkg/store"
)

func newTestDispatcher() *Dispatcher {
	return NewDispatcher(store.NewHandler())
}

func TestDispatchPing(t *testing.T) {
	d := newTestDispatcher()
	resp := d.Dispatch(Request{Kind: KindPing})
	if !resp.Pong {
		t.Fatal("expected Pong true")
	}
	if resp.Err != nil {
		t.Fatalf("unexpected error: %v", resp.Err)
	}
}

func TestDispatchCreateSetGetSimN(t *testing.T) {
	d := newTestDispatcher()

	create := d.Dispatch(Request{Kind: KindCreateStore, StoreName: "movies", Dimension: 2})
	if create.Err != nil {
		t.Fatalf("create store: %v", create.Err)
	}

	v := schema.Vector{1, 0}
	entries := map[string]schema.StoreValue{v.Key(): {"title": {Str: "first"}}}
	keys := map[string]schema.Vector{v.Key(): v}

	set := d.Dispatch(Request{Kind: KindSet, StoreName: "movies", Entries: entries, Keys: keys})
	if set.Err != nil {
		t.Fatalf("set: %v", set.Err)
	}
	if set.Inserted != 1 {
		t.Fatalf("expected 1 inserted, got %d", set.Inserted)
	}

	sim := d.Dispatch(Request{
		Kind:      KindGetSimN,
		StoreName: "movies",
		Keys:      map[string]schema.Vector{v.Key(): v},
		N:         1,
		Metric:    kernel.Cosine,
	})
	if sim.Err != nil {
		t.Fatalf("get_sim_n: %v", sim.Err)
	}
	if len(sim.SimHits) != 1 {
		t.Fatalf("expected 1 hit, got %d", len(sim.SimHits))
	}
}

func TestDispatchUnknownStoreReturnsWireError(t *testing.T) {
	d := newTestDispatcher()
	resp := d.Dispatch(Request{Kind: KindGetKey, StoreName: "missing"})
	if resp.Err == nil {
		t.Fatal("expected error for missing store")
	}
	if resp.Err.Tag != schema.TagStoreNotFound {
		t.Fatalf("expected StoreNotFound, got %s", resp.Err.Tag)
	}
}

func TestDispatchPipelineRunsInOrder(t *testing.T) {
	d := newTestDispatcher()
	resp := d.Dispatch(Request{
		Kind: KindPipeline,
		Requests: []Request{
			{Kind: KindCreateStore, StoreName: "s", Dimension: 1},
			{Kind: KindListStores},
		},
	})
	if len(resp.Responses) != 2 {
		t.Fatalf("expected 2 sub-responses, got %d", len(resp.Responses))
	}
	if resp.Responses[0].Err != nil {
		t.Fatalf("create failed: %v", resp.Responses[0].Err)
	}
	if len(resp.Responses[1].Stores) != 1 {
		t.Fatalf("expected 1 store listed, got %d", len(resp.Responses[1].Stores))
	}
}

func TestAllocatorRejectsOversizedSet(t *testing.T) {
	h := store.NewHandler()
	d := NewDispatcher(h)
	d.Allocator = NewAllocator(1)

	d.Dispatch(Request{Kind: KindCreateStore, StoreName: "s", Dimension: 2})

	v := schema.Vector{1, 2}
	resp := d.Dispatch(Request{
		Kind:      KindSet,
		StoreName: "s",
		Entries:   map[string]schema.StoreValue{v.Key(): {"a": {Str: "big-value-exceeds-cap"}}},
		Keys:      map[string]schema.Vector{v.Key(): v},
	})
	if resp.Err == nil {
		t.Fatal("expected CapacityOverflow error")
	}
	if resp.Err.Tag != schema.TagCapacityOverflow {
		t.Fatalf("expected CapacityOverflow, got %s", resp.Err.Tag)
	}
}

func TestAllocatorReleasesOnDeleteAndUpdate(t *testing.T) {
	d := newTestDispatcher()
	d.Allocator = NewAllocator(64)

	d.Dispatch(Request{Kind: KindCreateStore, StoreName: "s", Dimension: 2})

	v := schema.Vector{1, 2}
	// key (8 bytes) + field "a" (1 byte) + 40-byte value = 49 bytes, so the
	// 64-byte budget holds exactly one live copy.
	payload := "0123456789012345678901234567890123456789"
	set := func() Response {
		return d.Dispatch(Request{
			Kind:      KindSet,
			StoreName: "s",
			Entries:   map[string]schema.StoreValue{v.Key(): {"a": {Str: payload}}},
			Keys:      map[string]schema.Vector{v.Key(): v},
		})
	}

	if resp := set(); resp.Err != nil {
		t.Fatalf("initial set: %v", resp.Err)
	}
	if resp := set(); resp.Err != nil {
		t.Fatalf("overwrite should fit once the replaced value is released: %v", resp.Err)
	}

	del := d.Dispatch(Request{Kind: KindDelKey, StoreName: "s", Keys: map[string]schema.Vector{v.Key(): v}})
	if del.Err != nil {
		t.Fatalf("del_key: %v", del.Err)
	}
	if del.DeletedCount != 1 {
		t.Fatalf("deleted = %d, want 1", del.DeletedCount)
	}
	if got := d.Allocator.Used(); got != 0 {
		t.Fatalf("allocator used = %d after delete, want 0", got)
	}

	if resp := set(); resp.Err != nil {
		t.Fatalf("set after delete should fit in the reclaimed budget: %v", resp.Err)
	}
}
