package schema

import "time"

// Algorithm enumerates the non-linear index kinds a store may hold: KDTree
// and HNSW. Similarity metrics are kernel.Kind values, not Algorithms.
type Algorithm uint8

const (
	AlgoKDTree Algorithm = iota
	AlgoHNSW
)

func (a Algorithm) String() string {
	switch a {
	case AlgoKDTree:
		return "kdtree"
	case AlgoHNSW:
		return "hnsw"
	default:
		return "unknown"
	}
}

// ServerType distinguishes the DB core from the AI proxy in InfoServer
// responses.
type ServerType uint8

const (
	ServerTypeDB ServerType = iota
	ServerTypeAI
)

func (s ServerType) String() string {
	if s == ServerTypeAI {
		return "ai"
	}
	return "db"
}

// ServerInfo is returned by InfoServer.
type ServerInfo struct {
	Address         string
	Version         string
	Type            ServerType
	MemoryLimit     uint64
	MemoryRemaining uint64
}

// ConnectedClient describes one entry in LISTCLIENTS.
type ConnectedClient struct {
	Address       string
	TimeConnected time.Time
}

// Modality names the input kind an AI model accepts.
type Modality uint8

const (
	ModalityText Modality = iota
	ModalityImage
)

func (m Modality) String() string {
	if m == ModalityImage {
		return "image"
	}
	return "text"
}

// PreprocessAction selects whether the AI proxy applies the model's own
// input preprocessing or forwards the raw bytes untouched.
type PreprocessAction uint8

const (
	NoPreprocessing PreprocessAction = iota
	ModelPreprocessing
)

// ExecutionProvider names an inference backend for an embedding model.
type ExecutionProvider uint8

const (
	ProviderCPU ExecutionProvider = iota
	ProviderCUDA
	ProviderTensorRT
	ProviderCoreML
	ProviderDirectML
)

func (p ExecutionProvider) String() string {
	switch p {
	case ProviderCUDA:
		return "cuda"
	case ProviderTensorRT:
		return "tensorrt"
	case ProviderCoreML:
		return "coreml"
	case ProviderDirectML:
		return "directml"
	default:
		return "cpu"
	}
}

// ModelID enumerates the embedding models the AI host knows how to load.
type ModelID uint8

const (
	ModelMiniLML6V2 ModelID = iota
	ModelMiniLML12V2
	ModelBGEBaseEnV15
	ModelBGELargeEnV15
	ModelResNet50
	ModelCLIPViTB32Image
	ModelCLIPViTB32Text
)

func (m ModelID) String() string {
	switch m {
	case ModelMiniLML6V2:
		return "MiniLM-L6-v2"
	case ModelMiniLML12V2:
		return "MiniLM-L12-v2"
	case ModelBGEBaseEnV15:
		return "BGE-base-en-v1.5"
	case ModelBGELargeEnV15:
		return "BGE-large-en-v1.5"
	case ModelResNet50:
		return "ResNet-50"
	case ModelCLIPViTB32Image:
		return "CLIP-ViT-B32-Image"
	case ModelCLIPViTB32Text:
		return "CLIP-ViT-B32-Text"
	default:
		return "unknown"
	}
}

// ModelDescriptor captures a model's static characteristics, independent of
// whether it is currently loaded.
type ModelDescriptor struct {
	ID                 ModelID
	Modality           Modality
	MaxTokens          int // 0 when not tokenizer-bound (image models)
	OutputDimension    int
	SupportedProviders []ExecutionProvider
}

// StoreInput is the tagged variant accepted by AI-side Set/GetSimN: either
// raw text or raw image bytes. The tag must match the target AI store's
// declared modality.
type StoreInput struct {
	Modality Modality
	Text     string
	Image    []byte
}
