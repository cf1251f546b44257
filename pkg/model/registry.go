package model

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/vectorkv/vectorkv/pkg/schema"
)

// State is one position in a model instance's lifecycle.
type State uint8

const (
	Unloaded State = iota
	Loading
	Ready
	Idle
	Evicting
)

func (s State) String() string {
	switch s {
	case Loading:
		return "loading"
	case Ready:
		return "ready"
	case Idle:
		return "idle"
	case Evicting:
		return "evicting"
	default:
		return "unloaded"
	}
}

// DefaultBatchSize bounds how many inputs are sent to the backend in one
// Infer call when a caller submits more than this many at once.
const DefaultBatchSize = 32

// instance tracks one model's lifecycle state, independent of every other
// model in the registry.
type instance struct {
	mu       sync.Mutex
	cond     *sync.Cond
	state    State
	handle   Handle
	lastUsed time.Time
	inFlight int
}

func newInstance() *instance {
	in := &instance{state: Unloaded}
	in.cond = sync.NewCond(&in.mu)
	return in
}

// Registry is the AI host's per-process model cache: one instance per
// ModelID, loaded lazily and evicted after idleTime without use.
type Registry struct {
	descriptors map[schema.ModelID]schema.ModelDescriptor
	backend     Backend
	cacheDir    string
	idleTime    time.Duration
	batchSize   int

	mu        sync.Mutex
	instances map[schema.ModelID]*instance

	stop chan struct{}
	done chan struct{}
}

// New creates a registry over the given descriptor set, evicting idle models
// after idleTime. idleTime <= 0 disables eviction.
func New(descriptors map[schema.ModelID]schema.ModelDescriptor, backend Backend, cacheDir string, idleTime time.Duration) *Registry {
	r := &Registry{
		descriptors: descriptors,
		backend:     backend,
		cacheDir:    cacheDir,
		idleTime:    idleTime,
		batchSize:   DefaultBatchSize,
		instances:   make(map[schema.ModelID]*instance),
		stop:        make(chan struct{}),
		done:        make(chan struct{}),
	}
	if idleTime > 0 {
		go r.evictLoop()
	} else {
		close(r.done)
	}
	return r
}

// Descriptor returns id's static characteristics and whether id is known to
// this registry.
func (r *Registry) Descriptor(id schema.ModelID) (schema.ModelDescriptor, bool) {
	d, ok := r.descriptors[id]
	return d, ok
}

// State reports id's current lifecycle state (Unloaded if never touched).
func (r *Registry) State(id schema.ModelID) State {
	in := r.instanceFor(id)
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.state
}

func (r *Registry) instanceFor(id schema.ModelID) *instance {
	r.mu.Lock()
	defer r.mu.Unlock()
	in, ok := r.instances[id]
	if !ok {
		in = newInstance()
		r.instances[id] = in
	}
	return in
}

// Embed runs desc's model over inputs, loading it first if necessary and
// batching the call to the backend in groups of at most the registry's
// configured batch size. Every input must match desc's modality and, for
// text, fit within desc's token limit.
func (r *Registry) Embed(ctx context.Context, id schema.ModelID, inputs []schema.StoreInput) ([]schema.Vector, error) {
	desc, ok := r.descriptors[id]
	if !ok {
		return nil, schema.NewError(schema.TagModelLoadFailed, "unknown model %v", id)
	}
	for _, in := range inputs {
		if in.Modality != desc.Modality {
			return nil, schema.NewError(schema.TagUnsupportedModalityForInput, "model %s requires modality %s, got %s", desc.ID, desc.Modality, in.Modality)
		}
		if desc.Modality == schema.ModalityText && desc.MaxTokens > 0 && approxTokenCount(in.Text) > desc.MaxTokens {
			return nil, schema.NewError(schema.TagMaxTokenExceeded, "input exceeds model %s's %d-token limit", desc.ID, desc.MaxTokens)
		}
	}

	in := r.instanceFor(id)
	handle, err := r.acquireReady(ctx, in, desc)
	if err != nil {
		return nil, err
	}
	defer r.release(in)

	out := make([]schema.Vector, 0, len(inputs))
	batch := r.batchSize
	if batch <= 0 {
		batch = DefaultBatchSize
	}
	for start := 0; start < len(inputs); start += batch {
		end := start + batch
		if end > len(inputs) {
			end = len(inputs)
		}
		vecs, err := r.backend.Infer(ctx, handle, desc, inputs[start:end])
		if err != nil {
			return nil, schema.NewError(schema.TagInferenceFailed, "model %s: %v", desc.ID, err)
		}
		out = append(out, vecs...)
	}
	return out, nil
}

// acquireReady brings in to Ready (loading it if Unloaded, waiting out a
// concurrent Loading or Evicting), marks it in-flight, and returns its
// handle.
func (r *Registry) acquireReady(ctx context.Context, in *instance, desc schema.ModelDescriptor) (Handle, error) {
	in.mu.Lock()
	for in.state == Loading || in.state == Evicting {
		in.cond.Wait()
	}
	switch in.state {
	case Unloaded:
		in.state = Loading
		in.mu.Unlock()

		handle, err := r.backend.Load(ctx, desc, r.cacheDir)

		in.mu.Lock()
		if err != nil {
			in.state = Unloaded
			in.cond.Broadcast()
			in.mu.Unlock()
			return nil, schema.NewError(schema.TagModelLoadFailed, "model %s: %v", desc.ID, err)
		}
		in.handle = handle
		in.state = Ready
		in.cond.Broadcast()
	case Idle:
		in.state = Ready
	}
	in.inFlight++
	in.lastUsed = time.Now()
	handle := in.handle
	in.mu.Unlock()
	return handle, nil
}

// release marks one in-flight inference as finished, dropping to Idle once
// nothing else is using the instance.
func (r *Registry) release(in *instance) {
	in.mu.Lock()
	in.inFlight--
	in.lastUsed = time.Now()
	if in.inFlight == 0 && in.state == Ready {
		in.state = Idle
	}
	in.cond.Broadcast()
	in.mu.Unlock()
}

// evictLoop periodically unloads models that have sat Idle past idleTime.
func (r *Registry) evictLoop() {
	defer close(r.done)
	ticker := time.NewTicker(r.idleTime / 4)
	defer ticker.Stop()
	for {
		select {
		case <-r.stop:
			return
		case <-ticker.C:
			r.evictOnce()
		}
	}
}

func (r *Registry) evictOnce() {
	r.mu.Lock()
	instances := make(map[schema.ModelID]*instance, len(r.instances))
	for id, in := range r.instances {
		instances[id] = in
	}
	r.mu.Unlock()

	for _, in := range instances {
		in.mu.Lock()
		if in.state != Idle || time.Since(in.lastUsed) < r.idleTime {
			in.mu.Unlock()
			continue
		}
		in.state = Evicting
		for in.inFlight > 0 {
			in.cond.Wait()
		}
		handle := in.handle
		in.mu.Unlock()

		r.backend.Unload(handle)

		in.mu.Lock()
		in.handle = nil
		in.state = Unloaded
		in.cond.Broadcast()
		in.mu.Unlock()
	}
}

// Close stops the idle-eviction loop. It does not unload any currently
// loaded model.
func (r *Registry) Close() {
	select {
	case <-r.stop:
	default:
		close(r.stop)
	}
	<-r.done
}

// approxTokenCount estimates a text's token count by whitespace-splitting,
// a reasonable proxy for the true tokenizer's length without depending on
// the model's actual vocabulary.
func approxTokenCount(text string) int {
	return len(strings.Fields(text))
}
