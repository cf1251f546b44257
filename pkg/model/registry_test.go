package model

import (
	"context"
	"testing"
	"time"

	"github.com/vectorkv/vectorkv/pkg/schema"
)

func TestEmbedLoadsLazilyAndReturnsVectors(t *testing.T) {
	r := New(Descriptors(), HashBackend{}, t.TempDir(), 0)
	defer r.Close()

	if got := r.State(schema.ModelMiniLML6V2); got != Unloaded {
		t.Fatalf("state before use = %v, want Unloaded", got)
	}

	vecs, err := r.Embed(context.Background(), schema.ModelMiniLML6V2, []schema.StoreInput{
		{Modality: schema.ModalityText, Text: "hello world"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(vecs) != 1 || vecs[0].Dim() != 384 {
		t.Fatalf("vecs = %v, want 1 vector of dim 384", vecs)
	}

	if got := r.State(schema.ModelMiniLML6V2); got != Idle {
		t.Fatalf("state after use = %v, want Idle", got)
	}
}

func TestEmbedIsDeterministic(t *testing.T) {
	r := New(Descriptors(), HashBackend{}, t.TempDir(), 0)
	defer r.Close()

	in := []schema.StoreInput{{Modality: schema.ModalityText, Text: "same input"}}
	v1, err := r.Embed(context.Background(), schema.ModelBGEBaseEnV15, in)
	if err != nil {
		t.Fatal(err)
	}
	v2, err := r.Embed(context.Background(), schema.ModelBGEBaseEnV15, in)
	if err != nil {
		t.Fatal(err)
	}
	if !v1[0].Equal(v2[0]) {
		t.Fatal("identical input produced different vectors")
	}
}

func TestEmbedRejectsWrongModality(t *testing.T) {
	r := New(Descriptors(), HashBackend{}, t.TempDir(), 0)
	defer r.Close()

	_, err := r.Embed(context.Background(), schema.ModelMiniLML6V2, []schema.StoreInput{
		{Modality: schema.ModalityImage, Image: []byte{1, 2, 3}},
	})
	if err == nil {
		t.Fatal("expected an error for mismatched modality")
	}
	serr, ok := err.(*schema.Error)
	if !ok || serr.Tag != schema.TagUnsupportedModalityForInput {
		t.Fatalf("err = %v, want TagUnsupportedModalityForInput", err)
	}
}

func TestEmbedRejectsTokenOverflow(t *testing.T) {
	r := New(Descriptors(), HashBackend{}, t.TempDir(), 0)
	defer r.Close()

	words := make([]string, 0, 80)
	for i := 0; i < 80; i++ {
		words = append(words, "word")
	}
	long := schema.StoreInput{Modality: schema.ModalityText, Text: joinWords(words)}

	_, err := r.Embed(context.Background(), schema.ModelCLIPViTB32Text, []schema.StoreInput{long})
	if err == nil {
		t.Fatal("expected MaxTokenExceeded")
	}
	serr, ok := err.(*schema.Error)
	if !ok || serr.Tag != schema.TagMaxTokenExceeded {
		t.Fatalf("err = %v, want TagMaxTokenExceeded", err)
	}
}

func joinWords(words []string) string {
	out := ""
	for i, w := range words {
		if i > 0 {
			out += " "
		}
		out += w
	}
	return out
}

func TestEmbedBatchesLargeInputSets(t *testing.T) {
	r := New(Descriptors(), HashBackend{}, t.TempDir(), 0)
	r.batchSize = 4
	defer r.Close()

	inputs := make([]schema.StoreInput, 10)
	for i := range inputs {
		inputs[i] = schema.StoreInput{Modality: schema.ModalityText, Text: joinWords([]string{"item", string(rune('a' + i))})}
	}

	vecs, err := r.Embed(context.Background(), schema.ModelMiniLML6V2, inputs)
	if err != nil {
		t.Fatal(err)
	}
	if len(vecs) != len(inputs) {
		t.Fatalf("got %d vectors, want %d", len(vecs), len(inputs))
	}
}

func TestIdleEvictionUnloadsModel(t *testing.T) {
	r := New(Descriptors(), HashBackend{}, t.TempDir(), 20*time.Millisecond)
	defer r.Close()

	_, err := r.Embed(context.Background(), schema.ModelMiniLML6V2, []schema.StoreInput{
		{Modality: schema.ModalityText, Text: "warm up"},
	})
	if err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(500 * time.Millisecond)
	for time.Now().Before(deadline) {
		if r.State(schema.ModelMiniLML6V2) == Unloaded {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("model never returned to Unloaded, state = %v", r.State(schema.ModelMiniLML6V2))
}

func TestUnknownModelFails(t *testing.T) {
	r := New(Descriptors(), HashBackend{}, t.TempDir(), 0)
	defer r.Close()

	_, err := r.Embed(context.Background(), schema.ModelID(255), []schema.StoreInput{
		{Modality: schema.ModalityText, Text: "x"},
	})
	if err == nil {
		t.Fatal("expected an error for an unknown model id")
	}
}
