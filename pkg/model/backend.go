package model

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"math"

	"github.com/vectorkv/vectorkv/pkg/schema"
)

// Handle is an opaque loaded-model reference a Backend hands back from Load
// and expects returned to Unload. Concrete backends wrap whatever runtime
// object actually holds weights/session state.
type Handle interface{}

// Backend loads and runs inference for a model descriptor. Swapping the
// backend is how a real ONNX/TensorRT runtime plugs into the registry
// without touching its lifecycle or batching logic.
type Backend interface {
	// Load prepares desc for inference, caching any on-disk artifacts under
	// cacheDir, and returns a handle to pass to Infer/Unload.
	Load(ctx context.Context, desc schema.ModelDescriptor, cacheDir string) (Handle, error)

	// Infer embeds a batch of inputs, all sharing desc's modality, returning
	// one vector per input in order.
	Infer(ctx context.Context, h Handle, desc schema.ModelDescriptor, inputs []schema.StoreInput) ([]schema.Vector, error)

	// Unload releases any resources held by h.
	Unload(h Handle)
}

// HashBackend is a deterministic, dependency-free Backend: it derives each
// output vector from a SHA-256 digest of the input bytes, so identical
// inputs always embed to the same vector and distinct inputs embed to
// (almost certainly) distinct vectors. It stands in for a real model runtime
// in environments with no GPU/ONNX runtime available, and in tests.
type HashBackend struct{}

type hashHandle struct{}

// Load is a no-op; HashBackend needs no on-disk artifacts.
func (HashBackend) Load(ctx context.Context, desc schema.ModelDescriptor, cacheDir string) (Handle, error) {
	return hashHandle{}, nil
}

// Infer derives one vector per input from a seeded PRNG keyed by the input's
// SHA-256 digest, scaled into desc's output dimension.
func (HashBackend) Infer(ctx context.Context, h Handle, desc schema.ModelDescriptor, inputs []schema.StoreInput) ([]schema.Vector, error) {
	out := make([]schema.Vector, len(inputs))
	for i, in := range inputs {
		var raw []byte
		if in.Modality == schema.ModalityImage {
			raw = in.Image
		} else {
			raw = []byte(in.Text)
		}
		out[i] = hashEmbed(raw, desc.OutputDimension)
	}
	return out, nil
}

// Unload is a no-op; HashBackend holds no resources.
func (HashBackend) Unload(h Handle) {}

func hashEmbed(input []byte, dim int) schema.Vector {
	v := make(schema.Vector, dim)
	digest := sha256.Sum256(input)
	state := binary.LittleEndian.Uint64(digest[:8])
	for i := range v {
		state = state*6364136223846793005 + 1442695040888963407
		u := uint32(state >> 33)
		v[i] = float32(u)/float32(math.MaxUint32)*2 - 1
	}
	return v
}
