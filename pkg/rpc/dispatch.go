package rpc

import (
	"github.com/vectorkv/vectorkv/pkg/schema"
	"github.com/vectorkv/vectorkv/pkg/store"
)

// Dispatcher routes decoded Requests to a store.Handler and converts the
// result back into a wire Response. It holds no connection state; Server
// owns one Dispatcher shared by every connection.
type Dispatcher struct {
	Handler   *store.Handler
	Allocator *Allocator
	Info      func() ServerInfo
	Clients   func() []ConnectedClient
}

// NewDispatcher creates a Dispatcher over handler with no resource cap
// (Allocator nil disables CapacityOverflow checks).
func NewDispatcher(handler *store.Handler) *Dispatcher {
	return &Dispatcher{Handler: handler}
}

// Dispatch handles a single top-level Request, never returning a Go error:
// every failure is carried in the Response's Err field so a Pipeline's
// sibling requests still run. A Pipeline request recurses once per
// sub-request, strictly in order.
func (d *Dispatcher) Dispatch(req Request) Response {
	if req.Kind == KindPipeline {
		responses := make([]Response, len(req.Requests))
		for i, sub := range req.Requests {
			responses[i] = d.Dispatch(sub)
		}
		return Response{Kind: KindPipeline, Responses: responses}
	}

	resp, err := d.dispatchOne(req)
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

func (d *Dispatcher) dispatchOne(req Request) (Response, error) {
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
		infos := d.Handler.List()
		out := make([]StoreSummary, len(infos))
		for i, info := range infos {
			out[i] = StoreSummary{Name: info.Name, Dimension: info.Dimension, Len: info.Len, SizeBytes: info.SizeBytes, NonLinear: info.NonLinear}
		}
		return Response{Stores: out}, nil

	case KindCreateStore:
		if _, err := d.Handler.Create(req.StoreName, req.Dimension); err != nil {
			return Response{}, err
		}
		return Response{}, nil

	case KindDropStore:
		if d.Allocator != nil {
			if s, err := d.Handler.Get(req.StoreName); err == nil {
				d.Allocator.Release(s.Info().SizeBytes)
			}
		}
		return Response{DeletedCount: uint64(d.Handler.Drop(req.StoreName))}, nil

	case KindSet:
		s, err := d.Handler.Get(req.StoreName)
		if err != nil {
			return Response{}, err
		}
		reserved := estimateSetSize(req.Entries, req.Keys)
		// Bytes already held under the batch's keys are handed back when the
		// overwrite lands, so only the growth beyond them must fit the cap.
		var covered uint64
		if d.Allocator != nil {
			for hash, v := range req.Keys {
				if old, ok := s.GetKey([]schema.Vector{v})[v.Key()]; ok {
					covered += estimateSetSize(map[string]schema.StoreValue{hash: old}, map[string]schema.Vector{hash: v})
				}
			}
			if covered > reserved {
				covered = reserved
			}
			if !d.Allocator.Reserve(reserved - covered) {
				return Response{}, schema.NewError(schema.TagCapacityOverflow, "allocator_size exceeded")
			}
		}
		res, err := s.Set(req.Entries, req.Keys)
		if d.Allocator != nil {
			if err != nil {
				d.Allocator.Release(reserved - covered)
			} else if res.ReplacedBytes > covered {
				d.Allocator.Release(res.ReplacedBytes - covered)
			}
		}
		if err != nil {
			return Response{}, err
		}
		return Response{Inserted: res.Inserted, Updated: res.Updated}, nil

	case KindGetKey:
		s, err := d.Handler.Get(req.StoreName)
		if err != nil {
			return Response{}, err
		}
		vectors := make([]schema.Vector, 0, len(req.Keys))
		for _, v := range req.Keys {
			vectors = append(vectors, v)
		}
		values := s.GetKey(vectors)
		return Response{GetEntries: toKeyValues(values)}, nil

	case KindGetPred:
		s, err := d.Handler.Get(req.StoreName)
		if err != nil {
			return Response{}, err
		}
		if req.Condition == nil {
			return Response{}, schema.NewError(schema.TagInvalidPredicate, "GetPred requires a condition")
		}
		values, err := s.GetPred(*req.Condition)
		if err != nil {
			return Response{}, err
		}
		return Response{GetEntries: toKeyValues(values)}, nil

	case KindGetSimN:
		s, err := d.Handler.Get(req.StoreName)
		if err != nil {
			return Response{}, err
		}
		query := firstVector(req.Keys)
		hits, err := s.GetSimN(query, req.N, req.Metric, req.Algorithm, req.Condition)
		if err != nil {
			return Response{}, err
		}
		out := make([]SimHit, len(hits))
		for i, h := range hits {
			out[i] = SimHit{Key: h.Key, Value: h.Value, Similarity: h.Similarity}
		}
		return Response{SimHits: out}, nil

	case KindDelKey:
		s, err := d.Handler.Get(req.StoreName)
		if err != nil {
			return Response{}, err
		}
		vectors := make([]schema.Vector, 0, len(req.Keys))
		for _, v := range req.Keys {
			vectors = append(vectors, v)
		}
		deleted, freed := s.DelKey(vectors)
		if d.Allocator != nil {
			d.Allocator.Release(freed)
		}
		return Response{DeletedCount: deleted}, nil

	case KindDelPred:
		s, err := d.Handler.Get(req.StoreName)
		if err != nil {
			return Response{}, err
		}
		if req.Condition == nil {
			return Response{}, schema.NewError(schema.TagInvalidPredicate, "DelPred requires a condition")
		}
		deleted, freed, err := s.DelPred(*req.Condition)
		if err != nil {
			return Response{}, err
		}
		if d.Allocator != nil {
			d.Allocator.Release(freed)
		}
		return Response{DeletedCount: deleted}, nil

	case KindCreatePredIndex:
		s, err := d.Handler.Get(req.StoreName)
		if err != nil {
			return Response{}, err
		}
		return Response{CreatedOrRemoved: s.CreatePredIndex(req.Fields)}, nil

	case KindDropPredIndex:
		s, err := d.Handler.Get(req.StoreName)
		if err != nil {
			return Response{}, err
		}
		n, err := s.DropPredIndex(req.Fields, req.ErrorIfNotExists)
		if err != nil {
			return Response{}, err
		}
		return Response{CreatedOrRemoved: n}, nil

	case KindCreateNonLinearIndex:
		s, err := d.Handler.Get(req.StoreName)
		if err != nil {
			return Response{}, err
		}
		for _, cfg := range req.NonLinearConfigs {
			if err := s.CreateNonLinearIndex(cfg); err != nil {
				return Response{}, err
			}
		}
		return Response{CreatedOrRemoved: len(req.NonLinearConfigs)}, nil

	case KindDropNonLinearIndex:
		s, err := d.Handler.Get(req.StoreName)
		if err != nil {
			return Response{}, err
		}
		n, err := s.DropNonLinearIndex(req.NonLinearAlgos, req.ErrorIfNotExists)
		if err != nil {
			return Response{}, err
		}
		return Response{CreatedOrRemoved: n}, nil

	default:
		return Response{}, schema.NewError(schema.TagInvalidPredicate, "unknown request kind %d", req.Kind)
	}
}

func toKeyValues(values map[string]schema.StoreValue) []KeyValue {
	out := make([]KeyValue, 0, len(values))
	for hash, v := range values {
		out = append(out, KeyValue{Key: schema.VectorFromKey(hash), Value: v})
	}
	return out
}

func firstVector(keys map[string]schema.Vector) schema.Vector {
	for _, v := range keys {
		return v
	}
	return nil
}

func estimateSetSize(entries map[string]schema.StoreValue, keys map[string]schema.Vector) uint64 {
	var n uint64
	for hash, vec := range keys {
		n += uint64(len(vec)) * 4
		for field, mv := range entries[hash] {
			n += uint64(len(field)) + uint64(len(mv.Str)) + uint64(len(mv.Binary))
		}
	}
	return n
}
