package companion

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func testRequest() GenerationRequest {
	return GenerationRequest{
		Model: "gpt-4o-mini",
		Messages: []PromptMessage{
			{Role: RoleSystem, Content: "directive"},
			{Role: RoleUser, Content: "hello"},
		},
		MaxTokens:   128,
		Temperature: 0.6,
	}
}

func newTestClient(serverURL string) *OpenAIClient {
	cfg := DefaultPipelineConfig()
	cfg.APIKey = "test-key"
	cfg.BaseURL = serverURL
	return NewOpenAIClient(cfg)
}

func TestOpenAIClient_Success(t *testing.T) {
	var gotAuth string
	var gotBody openAIRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Error(err)
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"choices": []map[string]interface{}{
				{"message": map[string]string{"role": "assistant", "content": "hi there"}},
			},
		})
	}))
	defer server.Close()

	result, err := newTestClient(server.URL).Generate(context.Background(), testRequest())
	if err != nil {
		t.Fatal(err)
	}
	if result.FirstText() != "hi there" {
		t.Errorf("unexpected reply: %q", result.FirstText())
	}
	if gotAuth != "Bearer test-key" {
		t.Errorf("missing bearer auth, got %q", gotAuth)
	}
	if gotBody.Model != "gpt-4o-mini" || len(gotBody.Messages) != 2 {
		t.Errorf("request not forwarded faithfully: %+v", gotBody)
	}
}

func TestOpenAIClient_ServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"error": map[string]string{"message": "overloaded", "type": "server_error"},
		})
	}))
	defer server.Close()

	_, err := newTestClient(server.URL).Generate(context.Background(), testRequest())
	if err == nil {
		t.Fatal("expected error on 500 response")
	}
}

func TestOpenAIClient_MalformedResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("not json"))
	}))
	defer server.Close()

	_, err := newTestClient(server.URL).Generate(context.Background(), testRequest())
	if err == nil {
		t.Fatal("expected error on malformed body")
	}
}

func TestOpenAIClient_MissingKeySkipsRequest(t *testing.T) {
	called := false
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	defer server.Close()

	cfg := DefaultPipelineConfig()
	cfg.BaseURL = server.URL
	client := NewOpenAIClient(cfg)

	_, err := client.Generate(context.Background(), testRequest())
	if !errors.Is(err, ErrMissingAPIKey) {
		t.Fatalf("expected ErrMissingAPIKey, got %v", err)
	}
	if called {
		t.Error("no request may be issued without a credential")
	}
}

func TestGenerationResult_FirstText(t *testing.T) {
	var nilResult *GenerationResult
	if nilResult.FirstText() != "" {
		t.Error("nil result has no text")
	}
	if (&GenerationResult{}).FirstText() != "" {
		t.Error("empty completions has no text")
	}
}
