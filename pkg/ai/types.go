// Package ai implements the embedding proxy: a request taxonomy shaped like
// the DB's (pkg/rpc) but carrying raw text/image inputs instead of vectors,
// a per-store model binding, and a forwarding dispatcher that embeds inputs
// through pkg/model and relays the DB-equivalent request over a pooled
// pkg/rpc connection (pkg/dbpool). Requests are a flat tagged union per
// kind, decoded once and routed by a single switch, extended with the
// AI-specific CreateStore/Set/GetSimN fields and the AI-only PurgeStores
// operation.
package ai

import (
	"github.com/vectorkv/vectorkv/pkg/kernel"
	"github.com/vectorkv/vectorkv/pkg/rpc"
	"github.com/vectorkv/vectorkv/pkg/schema"
	"github.com/vectorkv/vectorkv/pkg/store"
)

// Kind discriminates the AI request taxonomy. It mirrors rpc.Kind's vector
// passthrough operations and adds the AI-specific extensions.
type Kind uint8

const (
	KindPing Kind = iota
	KindInfoServer
	KindListClients
	KindListStores
	KindCreateStore
	KindDropStore
	KindSet
	KindGetKey
	KindGetPred
	KindGetSimN
	KindDelKey
	KindDelPred
	KindCreatePredIndex
	KindDropPredIndex
	KindCreateNonLinearIndex
	KindDropNonLinearIndex
	KindPurgeStores
	KindPipeline
)

// SetInput pairs one raw input with the metadata to attach to its embedded
// vector, the AI-side equivalent of one (key, value) pair in a DB Set.
type SetInput struct {
	Input schema.StoreInput
	Value schema.StoreValue
}

// Request is the flat tagged union every AI frame's payload decodes into.
// Fields not relevant to Kind are left zero.
type Request struct {
	Kind Kind

	TraceParent string
	AuthToken   string

	StoreName string

	// CreateStore only.
	IndexModel    schema.ModelID
	QueryModel    schema.ModelID
	StoreOriginal bool

	// Set only.
	SetInputs         []SetInput
	PreprocessAction  schema.PreprocessAction
	ExecutionProvider schema.ExecutionProvider

	// GetSimN: QueryInput is embedded through the store's QueryModel. N,
	// Metric and Algorithm pass through unchanged to the DB request.
	QueryInput schema.StoreInput
	N          int
	Metric     kernel.Kind
	Algorithm  *schema.Algorithm

	// Vector-level passthroughs: GetKey/DelKey/GetPred/DelPred operate
	// directly on keys the client already holds (e.g. returned by an
	// earlier GetSimN), so they carry vectors, not raw inputs.
	Keys      map[string]schema.Vector
	Condition *schema.Condition

	Fields           []string
	ErrorIfNotExists bool
	NonLinearConfigs []store.NonLinearConfig
	NonLinearAlgos   []schema.Algorithm

	Requests []Request // Pipeline only
}

// Response is the flat tagged union an AI Request produces.
type Response struct {
	Kind Kind
	Err  *schema.Error

	Pong bool

	Info    rpc.ServerInfo
	Clients []rpc.ConnectedClient
	Stores  []rpc.StoreSummary

	Inserted uint64
	Updated  uint64

	GetEntries []GetEntry
	SimHits    []SimHit

	DeletedCount     uint64
	CreatedOrRemoved int
	PurgedStores     int

	Responses []Response // Pipeline only
}

// GetEntry is one GetKey/GetPred result row. OriginalInput is populated only
// when the owning store has store_original set and the entry retains it.
type GetEntry struct {
	Key           schema.Vector
	Value         schema.StoreValue
	OriginalInput []byte
}

// SimHit is one GetSimN result row.
type SimHit struct {
	Key           schema.Vector
	Value         schema.StoreValue
	Similarity    float64
	OriginalInput []byte
}
