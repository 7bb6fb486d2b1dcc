package model

import (
	"context"
	"testing"

	"github.com/wardenhq/warden/internal/config"
	wardenErrors "github.com/wardenhq/warden/internal/errors"
	"github.com/wardenhq/warden/internal/model/contract"
)

type stubProvider struct {
	name     string
	requests []contract.CompletionRequest
	resp     *contract.CompletionResponse
	err      error
}

func (s *stubProvider) Name() string { return s.name }

func (s *stubProvider) Generate(ctx context.Context, req contract.CompletionRequest) (*contract.CompletionResponse, error) {
	s.requests = append(s.requests, req)
	if s.err != nil {
		return nil, s.err
	}
	return s.resp, nil
}

func (s *stubProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	return []float32{0.1, 0.2, 0.3}, nil
}

func newStubRouter(stub *stubProvider) *Router {
	return &Router{
		cfg: config.ModelConfig{
			Provider:  stub.name,
			Name:      "model-one",
			MaxTokens: 512,
		},
		providers:  map[string]Provider{stub.name: stub},
		completion: stub,
		embedder:   stub,
	}
}

func TestNewRouter_UnknownProvider(t *testing.T) {
	_, err := NewRouter(config.ModelConfig{Provider: "mystery"}, config.ProvidersConfig{})
	if err == nil {
		t.Fatal("expected error for unknown provider")
	}
	if !wardenErrors.IsConfiguration(err) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}

func TestRouter_CompleteFillsDefaults(t *testing.T) {
	stub := &stubProvider{
		name: "stub",
		resp: &contract.CompletionResponse{
			Blocks:     []contract.Block{contract.TextBlock("hi")},
			StopReason: contract.StopEndTurn,
		},
	}
	router := newStubRouter(stub)

	resp, err := router.Complete(context.Background(), contract.CompletionRequest{
		Messages: []contract.Message{{Role: contract.RoleUser, Content: "hello"}},
	})
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if resp.Text() != "hi" {
		t.Fatalf("unexpected response text %q", resp.Text())
	}

	if len(stub.requests) != 1 {
		t.Fatalf("expected 1 provider call, got %d", len(stub.requests))
	}
	sent := stub.requests[0]
	if sent.Model != "model-one" {
		t.Fatalf("model default not applied: %q", sent.Model)
	}
	if sent.MaxTokens != 512 {
		t.Fatalf("max tokens default not applied: %d", sent.MaxTokens)
	}
}

func TestRouter_CompleteKeepsExplicitModel(t *testing.T) {
	stub := &stubProvider{
		name: "stub",
		resp: &contract.CompletionResponse{StopReason: contract.StopEndTurn},
	}
	router := newStubRouter(stub)

	_, err := router.Complete(context.Background(), contract.CompletionRequest{
		Model:     "model-override",
		MaxTokens: 64,
		Messages:  []contract.Message{{Role: contract.RoleUser, Content: "hello"}},
	})
	if err != nil {
		t.Fatalf("complete: %v", err)
	}

	sent := stub.requests[0]
	if sent.Model != "model-override" || sent.MaxTokens != 64 {
		t.Fatalf("explicit request values were overwritten: %+v", sent)
	}
}

func TestRouter_Embed(t *testing.T) {
	stub := &stubProvider{name: "stub"}
	router := newStubRouter(stub)

	vec, err := router.Embed(context.Background(), "decision text")
	if err != nil {
		t.Fatalf("embed: %v", err)
	}
	if len(vec) != 3 {
		t.Fatalf("unexpected vector length %d", len(vec))
	}
}
