// Package model hosts the AI proxy's per-process model registry: lazy
// loading, idle eviction, and batched inference dispatch for the fixed set of
// embedding models the host knows about. Each model is an independently
// stateful instance cycling through Unloaded -> Loading -> Ready -> Idle ->
// Evicting -> Unloaded, so one cold model never blocks another's inference.
package model

import "github.com/vectorkv/vectorkv/pkg/schema"

// Descriptors returns the static characteristics of every model the AI host
// knows how to load, keyed by ModelID.
func Descriptors() map[schema.ModelID]schema.ModelDescriptor {
	return map[schema.ModelID]schema.ModelDescriptor{
		schema.ModelMiniLML6V2: {
			ID: schema.ModelMiniLML6V2, Modality: schema.ModalityText,
			MaxTokens: 256, OutputDimension: 384,
			SupportedProviders: []schema.ExecutionProvider{schema.ProviderCPU, schema.ProviderCUDA},
		},
		schema.ModelMiniLML12V2: {
			ID: schema.ModelMiniLML12V2, Modality: schema.ModalityText,
			MaxTokens: 256, OutputDimension: 384,
			SupportedProviders: []schema.ExecutionProvider{schema.ProviderCPU, schema.ProviderCUDA},
		},
		schema.ModelBGEBaseEnV15: {
			ID: schema.ModelBGEBaseEnV15, Modality: schema.ModalityText,
			MaxTokens: 512, OutputDimension: 768,
			SupportedProviders: []schema.ExecutionProvider{schema.ProviderCPU, schema.ProviderCUDA, schema.ProviderTensorRT},
		},
		schema.ModelBGELargeEnV15: {
			ID: schema.ModelBGELargeEnV15, Modality: schema.ModalityText,
			MaxTokens: 512, OutputDimension: 1024,
			SupportedProviders: []schema.ExecutionProvider{schema.ProviderCPU, schema.ProviderCUDA, schema.ProviderTensorRT},
		},
		schema.ModelResNet50: {
			ID: schema.ModelResNet50, Modality: schema.ModalityImage,
			MaxTokens: 0, OutputDimension: 2048,
			SupportedProviders: []schema.ExecutionProvider{schema.ProviderCPU, schema.ProviderCUDA, schema.ProviderCoreML, schema.ProviderDirectML},
		},
		schema.ModelCLIPViTB32Image: {
			ID: schema.ModelCLIPViTB32Image, Modality: schema.ModalityImage,
			MaxTokens: 0, OutputDimension: 512,
			SupportedProviders: []schema.ExecutionProvider{schema.ProviderCPU, schema.ProviderCUDA, schema.ProviderCoreML},
		},
		schema.ModelCLIPViTB32Text: {
			ID: schema.ModelCLIPViTB32Text, Modality: schema.ModalityText,
			MaxTokens: 77, OutputDimension: 512,
			SupportedProviders: []schema.ExecutionProvider{schema.ProviderCPU, schema.ProviderCUDA, schema.ProviderCoreML},
		},
	}
}
