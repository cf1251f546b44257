package ai

import (
	"context"
	"testing"

	"github.com/vectorkv/vectorkv/pkg/dbpool"
	"github.com/vectorkv/vectorkv/pkg/model"
	"github.com/vectorkv/vectorkv/pkg/rpc"
	"github.com/vectorkv/vectorkv/pkg/schema"
	"github.com/vectorkv/vectorkv/pkg/store"
)

// fakeConn forwards directly into an in-process rpc.Dispatcher, standing in
// for a dialed rpc.Client so the AI dispatcher's forwarding logic can be
// exercised without a real listener.
type fakeConn struct {
	d      *rpc.Dispatcher
	closed bool
}

func (f *fakeConn) Call(req rpc.Request) (rpc.Response, error) { return f.d.Dispatch(req), nil }
func (f *fakeConn) Closed() bool                               { return f.closed }
func (f *fakeConn) Close() error                               { f.closed = true; return nil }

func newTestDispatcher() *Dispatcher {
	rd := rpc.NewDispatcher(store.NewHandler())
	pool := dbpool.New(1, func(ctx context.Context) (dbpool.Conn, error) {
		return &fakeConn{d: rd}, nil
	})
	models := model.New(model.Descriptors(), model.HashBackend{}, "", 0)
	return NewDispatcher(NewRegistry(), models, pool)
}

func TestAICreateStoreValidatesMatchingDimensions(t *testing.T) {
	d := newTestDispatcher()
	resp := d.Dispatch(context.Background(), Request{
		Kind:       KindCreateStore,
		StoreName:  "shoes",
		IndexModel: schema.ModelMiniLML6V2,
		QueryModel: schema.ModelBGEBaseEnV15,
	})
	if resp.Err == nil {
		t.Fatal("expected DimensionMismatch for mismatched index/query model dimensions")
	}
	if resp.Err.Tag != schema.TagDimensionMismatch {
		t.Fatalf("expected DimensionMismatch, got %s", resp.Err.Tag)
	}
}

func TestAICreateSetGetSimNRoundTrip(t *testing.T) {
	d := newTestDispatcher()

	create := d.Dispatch(context.Background(), Request{
		Kind:          KindCreateStore,
		StoreName:     "shoes",
		IndexModel:    schema.ModelMiniLML6V2,
		QueryModel:    schema.ModelMiniLML6V2,
		StoreOriginal: true,
	})
	if create.Err != nil {
		t.Fatalf("create store: %v", create.Err)
	}

	set := d.Dispatch(context.Background(), Request{
		Kind:      KindSet,
		StoreName: "shoes",
		SetInputs: []SetInput{
			{
				Input: schema.StoreInput{Modality: schema.ModalityText, Text: "Jordan One"},
				Value: schema.StoreValue{"brand": schema.NewRawString("Nike")},
			},
			{
				Input: schema.StoreInput{Modality: schema.ModalityText, Text: "Yeezy"},
				Value: schema.StoreValue{"brand": schema.NewRawString("Adidas")},
			},
		},
	})
	if set.Err != nil {
		t.Fatalf("set: %v", set.Err)
	}
	if set.Inserted != 2 {
		t.Fatalf("expected 2 inserted, got %d", set.Inserted)
	}

	sim := d.Dispatch(context.Background(), Request{
		Kind:       KindGetSimN,
		StoreName:  "shoes",
		QueryInput: schema.StoreInput{Modality: schema.ModalityText, Text: "Jordan One"},
		N:          1,
	})
	if sim.Err != nil {
		t.Fatalf("get_sim_n: %v", sim.Err)
	}
	if len(sim.SimHits) != 1 {
		t.Fatalf("expected 1 hit, got %d", len(sim.SimHits))
	}
	if string(sim.SimHits[0].OriginalInput) != "Jordan One" {
		t.Fatalf("expected retained original input, got %q", sim.SimHits[0].OriginalInput)
	}
}

func TestAIPurgeStoresForwardsAndClearsLocalRegistry(t *testing.T) {
	d := newTestDispatcher()
	d.Dispatch(context.Background(), Request{
		Kind:       KindCreateStore,
		StoreName:  "shoes",
		IndexModel: schema.ModelMiniLML6V2,
		QueryModel: schema.ModelMiniLML6V2,
	})

	resp := d.Dispatch(context.Background(), Request{Kind: KindPurgeStores})
	if resp.Err != nil {
		t.Fatalf("purge_stores: %v", resp.Err)
	}
	if resp.PurgedStores != 1 {
		t.Fatalf("expected 1 purged store, got %d", resp.PurgedStores)
	}
	if _, err := d.Stores.Get("shoes"); err == nil {
		t.Fatal("expected local AiStore registry entry to be gone after purge")
	}
}
