package rpc

import (
	"time"

	"github.com/vectorkv/vectorkv/pkg/kernel"
	"github.com/vectorkv/vectorkv/pkg/schema"
	"github.com/vectorkv/vectorkv/pkg/store"
)

// Kind discriminates the DB request taxonomy carried in a Request's tag
// field. Exactly one Kind is set per non-pipeline Request.
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
	KindPipeline
)

// Request is the flat tagged union every DB frame's payload decodes into;
// only the fields relevant to Kind are populated. A Pipeline request carries
// its sub-requests in Requests; of its other fields only AuthToken and
// TraceParent are read, by the server, for the pipeline as a whole.
type Request struct {
	Kind Kind

	TraceParent string // optional W3C-style traceparent header
	AuthToken   string // "username:api_key" bearer token, required unless auth is disabled

	StoreName string
	Dimension int

	Entries map[string]schema.StoreValue
	Keys    map[string]schema.Vector

	Condition *schema.Condition

	N         int
	Metric    kernel.Kind // similarity metric for GetSimN
	Algorithm *schema.Algorithm

	Fields           []string
	ErrorIfNotExists bool
	NonLinearConfigs []store.NonLinearConfig
	NonLinearAlgos   []schema.Algorithm

	Requests []Request // Pipeline only
}

// Response is the flat tagged union a dispatched Request produces. Callers
// switch on the same Kind the Request carried (Pipeline responses nest one
// Response per sub-request, in order).
type Response struct {
	Kind Kind
	Err  *schema.Error // non-nil iff this slot failed

	Pong bool

	Info ServerInfo

	Clients []ConnectedClient

	Stores []StoreSummary

	Inserted uint64
	Updated  uint64

	GetEntries []KeyValue

	SimHits []SimHit

	DeletedCount uint64

	CreatedOrRemoved int

	Responses []Response // Pipeline only
}

// ServerInfo mirrors schema.ServerInfo over the wire (kept distinct so the
// RPC layer can evolve independently of the in-process schema type).
type ServerInfo struct {
	Address         string
	Version         string
	Type            string
	MemoryLimit     uint64
	MemoryRemaining uint64
}

// ConnectedClient is one LISTCLIENTS entry.
type ConnectedClient struct {
	Address       string
	TimeConnected time.Time
}

// StoreSummary is one ListStores entry.
type StoreSummary struct {
	Name      string
	Dimension int
	Len       int
	SizeBytes uint64
	NonLinear []store.NonLinearConfig
}

// KeyValue is one GetKey/GetPred result row.
type KeyValue struct {
	Key   schema.Vector
	Value schema.StoreValue
}

// SimHit is one GetSimN result row.
type SimHit struct {
	Key        schema.Vector
	Value      schema.StoreValue
	Similarity float64
}
