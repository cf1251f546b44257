package ai

import (
	"context"

	"github.com/vectorkv/vectorkv/pkg/cache"
	"github.com/vectorkv/vectorkv/pkg/dbpool"
	"github.com/vectorkv/vectorkv/pkg/model"
	"github.com/vectorkv/vectorkv/pkg/rpc"
	"github.com/vectorkv/vectorkv/pkg/schema"
)

// caller is the subset of *rpc.Client the dispatcher needs from a pooled
// connection; tests substitute a fake satisfying both this and dbpool.Conn.
type caller interface {
	dbpool.Conn
	Call(rpc.Request) (rpc.Response, error)
}

// Dispatcher embeds raw inputs through pkg/model and forwards the DB
// equivalent of every mutation over a pooled connection, translating
// responses back into the AI-side shape (with original inputs reattached
// where store_original is set).
type Dispatcher struct {
	Stores *Registry
	Models *model.Registry
	Cache  *cache.EmbeddingCache
	Pool   *dbpool.Pool

	Info    func() rpc.ServerInfo
	Clients func() []rpc.ConnectedClient
}

// NewDispatcher creates a Dispatcher over the given AiStore registry, model
// registry and DB connection pool.
func NewDispatcher(stores *Registry, models *model.Registry, pool *dbpool.Pool) *Dispatcher {
	return &Dispatcher{Stores: stores, Models: models, Pool: pool}
}

// Dispatch handles one top-level Request, never returning a Go error: every
// failure is carried in the Response's Err field.
func (d *Dispatcher) Dispatch(ctx context.Context, req Request) Response {
	if req.Kind == KindPipeline {
		responses := make([]Response, len(req.Requests))
		for i, sub := range req.Requests {
			responses[i] = d.Dispatch(ctx, sub)
		}
		return Response{Kind: KindPipeline, Responses: responses}
	}

	resp, err := d.dispatchOne(ctx, req)
	resp.Kind = req.Kind
	if err != nil {
		resp.Err = asWireError(err)
	}
	return resp
}

func asWireError(err error) *schema.Error {
	if e, ok := schema.AsError(err); ok {
		return e
	}
	return schema.NewError(schema.TagSerializationFailed, "%v", err)
}

// forward acquires a pooled DB connection, sends req and releases the
// connection regardless of outcome.
func (d *Dispatcher) forward(ctx context.Context, req rpc.Request) (rpc.Response, error) {
	c, err := d.Pool.Acquire(ctx)
	if err != nil {
		return rpc.Response{}, err
	}
	defer d.Pool.Release(c)

	cc, ok := c.(caller)
	if !ok {
		return rpc.Response{}, schema.NewError(schema.TagSerializationFailed, "pooled connection cannot forward requests")
	}
	resp, err := cc.Call(req)
	if err != nil {
		return rpc.Response{}, err
	}
	if resp.Err != nil {
		return rpc.Response{}, resp.Err
	}
	return resp, nil
}

func (d *Dispatcher) dispatchOne(ctx context.Context, req Request) (Response, error) {
	switch req.Kind {
	case KindPing:
		return Response{Pong: true}, nil

	case KindInfoServer:
		if d.Info != nil {
			return Response{Info: d.Info()}, nil
		}
		return Response{}, nil

	case KindListClients:
		if d.Clients != nil {
			return Response{Clients: d.Clients()}, nil
		}
		return Response{}, nil

	case KindListStores:
		resp, err := d.forward(ctx, rpc.Request{Kind: rpc.KindListStores})
		if err != nil {
			return Response{}, err
		}
		return Response{Stores: resp.Stores}, nil

	case KindCreateStore:
		return d.createStore(ctx, req)

	case KindDropStore:
		resp, err := d.forward(ctx, rpc.Request{Kind: rpc.KindDropStore, StoreName: req.StoreName})
		d.Stores.Drop(req.StoreName)
		if err != nil {
			return Response{}, err
		}
		return Response{DeletedCount: resp.DeletedCount}, nil

	case KindSet:
		return d.set(ctx, req)

	case KindGetKey:
		resp, err := d.forward(ctx, rpc.Request{Kind: rpc.KindGetKey, StoreName: req.StoreName, Keys: req.Keys})
		if err != nil {
			return Response{}, err
		}
		return Response{GetEntries: d.toGetEntries(req.StoreName, resp.GetEntries)}, nil

	case KindGetPred:
		resp, err := d.forward(ctx, rpc.Request{Kind: rpc.KindGetPred, StoreName: req.StoreName, Condition: req.Condition})
		if err != nil {
			return Response{}, err
		}
		return Response{GetEntries: d.toGetEntries(req.StoreName, resp.GetEntries)}, nil

	case KindGetSimN:
		return d.getSimN(ctx, req)

	case KindDelKey:
		resp, err := d.forward(ctx, rpc.Request{Kind: rpc.KindDelKey, StoreName: req.StoreName, Keys: req.Keys})
		if s, serr := d.Stores.Get(req.StoreName); serr == nil {
			for _, v := range req.Keys {
				s.DeleteOriginalInput(v)
			}
		}
		if err != nil {
			return Response{}, err
		}
		return Response{DeletedCount: resp.DeletedCount}, nil

	case KindDelPred:
		resp, err := d.forward(ctx, rpc.Request{Kind: rpc.KindDelPred, StoreName: req.StoreName, Condition: req.Condition})
		if err != nil {
			return Response{}, err
		}
		return Response{DeletedCount: resp.DeletedCount}, nil

	case KindCreatePredIndex:
		resp, err := d.forward(ctx, rpc.Request{Kind: rpc.KindCreatePredIndex, StoreName: req.StoreName, Fields: req.Fields})
		if err != nil {
			return Response{}, err
		}
		return Response{CreatedOrRemoved: resp.CreatedOrRemoved}, nil

	case KindDropPredIndex:
		resp, err := d.forward(ctx, rpc.Request{Kind: rpc.KindDropPredIndex, StoreName: req.StoreName, Fields: req.Fields, ErrorIfNotExists: req.ErrorIfNotExists})
		if err != nil {
			return Response{}, err
		}
		return Response{CreatedOrRemoved: resp.CreatedOrRemoved}, nil

	case KindCreateNonLinearIndex:
		resp, err := d.forward(ctx, rpc.Request{Kind: rpc.KindCreateNonLinearIndex, StoreName: req.StoreName, NonLinearConfigs: req.NonLinearConfigs})
		if err != nil {
			return Response{}, err
		}
		return Response{CreatedOrRemoved: resp.CreatedOrRemoved}, nil

	case KindDropNonLinearIndex:
		resp, err := d.forward(ctx, rpc.Request{Kind: rpc.KindDropNonLinearIndex, StoreName: req.StoreName, NonLinearAlgos: req.NonLinearAlgos, ErrorIfNotExists: req.ErrorIfNotExists})
		if err != nil {
			return Response{}, err
		}
		return Response{CreatedOrRemoved: resp.CreatedOrRemoved}, nil

	case KindPurgeStores:
		return d.purgeStores(ctx)

	default:
		return Response{}, schema.NewError(schema.TagInvalidPredicate, "unsupported AI request kind %d", req.Kind)
	}
}

// purgeStores lists every DB-side store and drops them one by one over the
// pool (the DB wire surface has no bulk purge), then clears the local
// AiStore registry.
func (d *Dispatcher) purgeStores(ctx context.Context) (Response, error) {
	list, err := d.forward(ctx, rpc.Request{Kind: rpc.KindListStores})
	if err != nil {
		return Response{}, err
	}
	purged := 0
	for _, s := range list.Stores {
		resp, err := d.forward(ctx, rpc.Request{Kind: rpc.KindDropStore, StoreName: s.Name})
		if err != nil {
			return Response{}, err
		}
		purged += int(resp.DeletedCount)
	}
	d.Stores.Purge()
	return Response{PurgedStores: purged}, nil
}

// createStore validates that index_model and query_model share an output
// dimension, creates the DB-side store at that dimension, then records the
// local model binding only once the DB call has succeeded.
func (d *Dispatcher) createStore(ctx context.Context, req Request) (Response, error) {
	indexDesc, ok := d.Models.Descriptor(req.IndexModel)
	if !ok {
		return Response{}, schema.NewError(schema.TagModelLoadFailed, "unknown index model %v", req.IndexModel)
	}
	queryDesc, ok := d.Models.Descriptor(req.QueryModel)
	if !ok {
		return Response{}, schema.NewError(schema.TagModelLoadFailed, "unknown query model %v", req.QueryModel)
	}
	if indexDesc.OutputDimension != queryDesc.OutputDimension {
		return Response{}, schema.DimensionMismatch(indexDesc.OutputDimension, queryDesc.OutputDimension)
	}

	if _, err := d.forward(ctx, rpc.Request{Kind: rpc.KindCreateStore, StoreName: req.StoreName, Dimension: indexDesc.OutputDimension}); err != nil {
		return Response{}, err
	}

	if _, err := d.Stores.Create(req.StoreName, indexDesc.OutputDimension, req.IndexModel, req.QueryModel, req.StoreOriginal); err != nil {
		return Response{}, err
	}
	return Response{}, nil
}

// set embeds every input through the store's index model and forwards the
// resulting vectors as a DB Set, retaining raw inputs afterward if
// store_original is configured.
func (d *Dispatcher) set(ctx context.Context, req Request) (Response, error) {
	s, err := d.Stores.Get(req.StoreName)
	if err != nil {
		return Response{}, err
	}

	inputs := make([]schema.StoreInput, len(req.SetInputs))
	for i, si := range req.SetInputs {
		inputs[i] = si.Input
	}
	vectors, err := d.embed(ctx, s.IndexModel, inputs)
	if err != nil {
		return Response{}, err
	}

	entries := make(map[string]schema.StoreValue, len(vectors))
	keys := make(map[string]schema.Vector, len(vectors))
	for i, vec := range vectors {
		hash := vec.Key()
		entries[hash] = req.SetInputs[i].Value
		keys[hash] = vec
	}

	resp, err := d.forward(ctx, rpc.Request{Kind: rpc.KindSet, StoreName: req.StoreName, Entries: entries, Keys: keys})
	if err != nil {
		return Response{}, err
	}

	if s.StoreOriginal {
		for i, vec := range vectors {
			s.SetOriginalInput(vec, rawBytes(req.SetInputs[i].Input))
		}
	}

	return Response{Inserted: resp.Inserted, Updated: resp.Updated}, nil
}

// getSimN embeds the query through the store's query model and forwards a
// DB GetSimN, reattaching original inputs when available.
func (d *Dispatcher) getSimN(ctx context.Context, req Request) (Response, error) {
	s, err := d.Stores.Get(req.StoreName)
	if err != nil {
		return Response{}, err
	}

	vectors, err := d.embed(ctx, s.QueryModel, []schema.StoreInput{req.QueryInput})
	if err != nil {
		return Response{}, err
	}
	query := vectors[0]

	resp, err := d.forward(ctx, rpc.Request{
		Kind:      rpc.KindGetSimN,
		StoreName: req.StoreName,
		Keys:      map[string]schema.Vector{query.Key(): query},
		N:         req.N,
		Metric:    req.Metric,
		Algorithm: req.Algorithm,
		Condition: req.Condition,
	})
	if err != nil {
		return Response{}, err
	}

	hits := make([]SimHit, len(resp.SimHits))
	for i, h := range resp.SimHits {
		hit := SimHit{Key: h.Key, Value: h.Value, Similarity: h.Similarity}
		if raw, ok := s.OriginalInput(h.Key); ok {
			hit.OriginalInput = raw
		}
		hits[i] = hit
	}
	return Response{SimHits: hits}, nil
}

// embed runs inputs through model id, consulting the embedding cache first
// so repeated identical inputs skip re-inference.
func (d *Dispatcher) embed(ctx context.Context, id schema.ModelID, inputs []schema.StoreInput) ([]schema.Vector, error) {
	if d.Cache == nil {
		return d.Models.Embed(ctx, id, inputs)
	}

	out := make([]schema.Vector, len(inputs))
	var miss []schema.StoreInput
	var missIdx []int
	for i, in := range inputs {
		key := cache.Key(id, rawBytes(in))
		if vec, ok := d.Cache.Get(key); ok {
			out[i] = vec
			continue
		}
		miss = append(miss, in)
		missIdx = append(missIdx, i)
	}
	if len(miss) == 0 {
		return out, nil
	}

	vecs, err := d.Models.Embed(ctx, id, miss)
	if err != nil {
		return nil, err
	}
	for j, idx := range missIdx {
		out[idx] = vecs[j]
		d.Cache.Put(cache.Key(id, rawBytes(miss[j])), vecs[j])
	}
	return out, nil
}

func (d *Dispatcher) toGetEntries(storeName string, rows []rpc.KeyValue) []GetEntry {
	s, err := d.Stores.Get(storeName)
	out := make([]GetEntry, len(rows))
	for i, row := range rows {
		entry := GetEntry{Key: row.Key, Value: row.Value}
		if err == nil {
			if raw, ok := s.OriginalInput(row.Key); ok {
				entry.OriginalInput = raw
			}
		}
		out[i] = entry
	}
	return out
}

func rawBytes(in schema.StoreInput) []byte {
	if in.Modality == schema.ModalityImage {
		return in.Image
	}
	return []byte(in.Text)
}
