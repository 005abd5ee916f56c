package main

import (
	"encoding/json"
	"flag"
	"log"
	"net/http"

	"github.com/recallmesh/recallmesh/pkg/embedding"
)

var (
	addr = flag.String("addr", ":8081", "Listen address")
	dims = flag.Int("dims", 1536, "Vector width to return")
)

type embeddingsRequest struct {
	Input string `json:"input"`
	Model string `json:"model"`
}

// embeddingsHandler mimics the OpenAI embeddings endpoint with
// deterministic vectors, so a local server can run against
// MEMORY_EMBEDDING_OPENAI_BASE_URL=http://localhost:8081/v1 without
// credentials or network access.
func embeddingsHandler(provider *embedding.MockProvider) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		log.Printf("Mock embeddings request: %s %s", r.Method, r.URL.Path)
		w.Header().Set("Content-Type", "application/json")

		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			json.NewEncoder(w).Encode(map[string]interface{}{
				"error": map[string]interface{}{
					"message": "method not allowed",
					"type":    "invalid_request_error",
				},
			})
			return
		}

		var req embeddingsRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Input == "" {
			w.WriteHeader(http.StatusBadRequest)
			json.NewEncoder(w).Encode(map[string]interface{}{
				"error": map[string]interface{}{
					"message": "input is required",
					"type":    "invalid_request_error",
				},
			})
			return
		}

		vec, _ := provider.Embed(r.Context(), req.Input)
		model := req.Model
		if model == "" {
			model = "mock-embedding"
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"object": "list",
			"data": []map[string]interface{}{
				{"object": "embedding", "index": 0, "embedding": vec},
			},
			"model": model,
			"usage": map[string]interface{}{
				"prompt_tokens": len(req.Input) / 4,
				"total_tokens":  len(req.Input) / 4,
			},
		})
	}
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"healthy"}`))
}

func main() {
	flag.Parse()
	log.Printf("Starting mock embeddings server on %s (dims=%d)", *addr, *dims)

	provider := embedding.NewMockProvider(*dims)
	http.HandleFunc("/v1/embeddings", embeddingsHandler(provider))
	http.HandleFunc("/health", healthHandler)

	log.Fatal(http.ListenAndServe(*addr, nil))
}
