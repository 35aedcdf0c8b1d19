package mockapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"pkt.systems/pslog"
	"pkt.systems/tunnelchat/schema"
)

// Options configures the mock chat API.
type Options struct {
	Models   []schema.ModelID
	Scenario string
	Delay    time.Duration
	Logger   pslog.Logger
}

type handler struct {
	opts Options
	log  pslog.Logger
}

// NewHandler returns an OpenAI-compatible API rooted at /v1.
func NewHandler(opts Options) http.Handler {
	if len(opts.Models) == 0 {
		opts.Models = []schema.ModelID{"deepseek-r1:70b"}
	}
	logger := opts.Logger
	if logger == nil {
		logger = pslog.Ctx(context.Background())
	}
	h := &handler{opts: opts, log: logger}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/models", h.listModels)
	mux.HandleFunc("GET /v1/models/{id...}", h.getModel)
	mux.HandleFunc("POST /v1/chat/completions", h.chat)
	mux.HandleFunc("POST /v1/completions", h.complete)
	return mux
}

type chatBody struct {
	Model    schema.ModelID   `json:"model"`
	Messages []schema.Message `json:"messages"`
	Prompt   string           `json:"prompt"`
	Stream   bool             `json:"stream"`
}

func (h *handler) modelInfo(id schema.ModelID) schema.ModelInfo {
	return schema.ModelInfo{ID: id, Object: "model", Created: 1700000000, OwnedBy: "library"}
}

func (h *handler) knownModel(id schema.ModelID) bool {
	for _, model := range h.opts.Models {
		if model == id {
			return true
		}
	}
	return false
}

func (h *handler) listModels(w http.ResponseWriter, _ *http.Request) {
	data := make([]schema.ModelInfo, 0, len(h.opts.Models))
	for _, id := range h.opts.Models {
		data = append(data, h.modelInfo(id))
	}
	writeJSON(w, http.StatusOK, map[string]any{"object": "list", "data": data})
}

func (h *handler) getModel(w http.ResponseWriter, r *http.Request) {
	id := schema.ModelID(r.PathValue("id"))
	if !h.knownModel(id) {
		writeError(w, http.StatusNotFound, fmt.Sprintf("model %q not found", id))
		return
	}
	writeJSON(w, http.StatusOK, h.modelInfo(id))
}

func (h *handler) decode(w http.ResponseWriter, r *http.Request) (chatBody, bool) {
	var body chatBody
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return chatBody{}, false
	}
	if !h.knownModel(body.Model) {
		writeError(w, http.StatusNotFound, fmt.Sprintf("model %q not found", body.Model))
		return chatBody{}, false
	}
	return body, true
}

func lastUserPrompt(messages []schema.Message) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == schema.RoleUser {
			return messages[i].Content
		}
	}
	return ""
}

func (h *handler) chat(w http.ResponseWriter, r *http.Request) {
	body, ok := h.decode(w, r)
	if !ok {
		return
	}
	prompt := lastUserPrompt(body.Messages)
	scenario, err := pickScenario(h.opts.Scenario, prompt)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	log := h.log.With("scenario", scenario.Name, "model", body.Model, "stream", body.Stream)
	if scenario.Status != 0 {
		log.Info("mock chat rejected", "status", scenario.Status)
		writeError(w, scenario.Status, "mock scenario failure")
		return
	}
	if !body.Stream {
		log.Info("mock chat completion")
		writeJSON(w, http.StatusOK, map[string]any{
			"object": "chat.completion",
			"model":  body.Model,
			"choices": []map[string]any{{
				"index":         0,
				"message":       schema.Message{Role: schema.RoleAssistant, Content: scenario.Text()},
				"finish_reason": "stop",
			}},
		})
		return
	}
	h.stream(w, r, log, scenario, hashSeed(prompt, string(body.Model), scenario.Name))
}

func (h *handler) stream(w http.ResponseWriter, r *http.Request, log pslog.Logger, scenario Scenario, seed uint64) {
	flusher, _ := w.(http.Flusher)
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)

	chunks := chunk(scenario.Text(), seed)
	log.Info("mock chat stream start", "chunks", len(chunks))
	for i, piece := range chunks {
		if scenario.Malformed && i == len(chunks)/2 {
			_, _ = io.WriteString(w, "data: {\"choices\":[{\"delta\":\n\n")
		}
		payload, _ := json.Marshal(map[string]any{
			"object":  "chat.completion.chunk",
			"choices": []map[string]any{{"index": 0, "delta": map[string]string{"content": piece}}},
		})
		if _, err := fmt.Fprintf(w, "data: %s\n\n", payload); err != nil {
			return
		}
		if flusher != nil {
			flusher.Flush()
		}
		if h.opts.Delay > 0 {
			select {
			case <-r.Context().Done():
				log.Info("mock chat stream cancelled", "sent", i+1)
				return
			case <-time.After(h.opts.Delay):
			}
		}
	}
	if scenario.Truncate {
		log.Info("mock chat stream truncated")
		if flusher != nil {
			flusher.Flush()
		}
		panic(http.ErrAbortHandler)
	}
	_, _ = io.WriteString(w, "data: {\"choices\":[{\"delta\":{},\"finish_reason\":\"stop\"}]}\n\n")
	_, _ = io.WriteString(w, "data: [DONE]\n\n")
	if flusher != nil {
		flusher.Flush()
	}
	log.Info("mock chat stream done")
}

func (h *handler) complete(w http.ResponseWriter, r *http.Request) {
	body, ok := h.decode(w, r)
	if !ok {
		return
	}
	scenario, err := pickScenario(h.opts.Scenario, body.Prompt)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if scenario.Status != 0 {
		writeError(w, scenario.Status, "mock scenario failure")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"object":  "text_completion",
		"model":   body.Model,
		"choices": []map[string]any{{"index": 0, "text": strings.TrimSpace(scenario.Answer), "finish_reason": "stop"}},
	})
}

func writeJSON(w http.ResponseWriter, status int, value any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(value)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{"error": map[string]string{"message": message}})
}
