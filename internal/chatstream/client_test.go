package chatstream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"pkt.systems/pslog"
	"pkt.systems/tunnelchat/schema"
)

type recordedRequest struct {
	Model    string           `json:"model"`
	Messages []schema.Message `json:"messages"`
	Prompt   string           `json:"prompt"`
	Stream   bool             `json:"stream"`
}

func newAPIServer(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv
}

func TestClientSendStreamsDeltas(t *testing.T) {
	var got recordedRequest
	var auth string
	srv := newAPIServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" || r.Method != http.MethodPost {
			http.NotFound(w, r)
			return
		}
		auth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.Header().Set("Content-Type", "text/event-stream")
		for _, chunk := range []string{"Hel", "lo\n"} {
			_, _ = fmt.Fprintf(w, "data: {\"choices\":[{\"delta\":{\"content\":%q}}]}\n\n", chunk)
		}
		_, _ = io.WriteString(w, "data: [DONE]\n\n")
	})

	client := New(srv.URL+"/v1/", "deepseek-r1:70b", WithAPIKey("ollama"))
	history := []schema.Message{{Role: schema.RoleUser, Content: "hi"}}
	stream, err := client.Send(context.Background(), history)
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	defer stream.Close()

	var text strings.Builder
	var sawDone bool
	for {
		event, err := stream.Next(context.Background())
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			t.Fatalf("next: %v", err)
		}
		if event.Type == schema.StreamDone {
			sawDone = true
			continue
		}
		text.WriteString(event.Delta)
	}
	if !sawDone || text.String() != "Hello\n" {
		t.Fatalf("unexpected stream result done=%t text=%q", sawDone, text.String())
	}
	if got.Model != "deepseek-r1:70b" || !got.Stream || len(got.Messages) != 1 || got.Messages[0].Content != "hi" {
		t.Fatalf("unexpected request body: %+v", got)
	}
	if auth != "Bearer ollama" {
		t.Fatalf("expected bearer auth, got %q", auth)
	}
}

func TestClientSendLogsWithTurnFields(t *testing.T) {
	srv := newAPIServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = io.WriteString(w, "data: {\"choices\":\n\n")
		_, _ = io.WriteString(w, "data: [DONE]\n\n")
	})

	var buf bytes.Buffer
	logger := pslog.NewWithOptions(&buf, pslog.Options{
		Mode:          pslog.ModeStructured,
		NoColor:       true,
		MinLevel:      pslog.InfoLevel,
		VerboseFields: true,
	}).With("session", "s1", "turn", 2)
	ctx := pslog.ContextWithLogger(context.Background(), logger)

	client := New(srv.URL+"/v1", "m1")
	stream, err := client.Send(ctx, []schema.Message{{Role: schema.RoleUser, Content: "hi"}})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	defer stream.Close()
	for {
		if _, err := stream.Next(context.Background()); err != nil {
			if !errors.Is(err, io.EOF) {
				t.Fatalf("next: %v", err)
			}
			break
		}
	}

	var line []byte
	for _, candidate := range bytes.Split(buf.Bytes(), []byte("\n")) {
		if bytes.Contains(candidate, []byte("decode failed")) {
			line = candidate
			break
		}
	}
	if line == nil {
		t.Fatalf("decode failure not logged: %s", buf.String())
	}
	entry := map[string]any{}
	if err := json.Unmarshal(line, &entry); err != nil {
		t.Fatalf("parse log entry: %v", err)
	}
	if entry["session"] != "s1" || entry["turn"] != float64(2) || entry["model"] != "m1" {
		t.Fatalf("expected turn fields on decode failure, got %+v", entry)
	}
	if n := bytes.Count(line, []byte(`"model"`)); n != 1 {
		t.Fatalf("expected model once, got %d in %s", n, line)
	}
}

func TestClientSendRequestError(t *testing.T) {
	srv := newAPIServer(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"model not found"}`, http.StatusNotFound)
	})
	client := New(srv.URL+"/v1", "missing")
	_, err := client.Send(context.Background(), []schema.Message{{Role: schema.RoleUser, Content: "hi"}})
	var reqErr *schema.RequestError
	if !errors.As(err, &reqErr) {
		t.Fatalf("expected request error, got %v", err)
	}
	if reqErr.Status != http.StatusNotFound || !strings.Contains(reqErr.Body, "model not found") {
		t.Fatalf("unexpected request error: %+v", reqErr)
	}
}

func TestClientSendStallTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := newAPIServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = io.WriteString(w, "data: {\"choices\":[{\"delta\":{\"content\":\"a\"}}]}\n\n")
		w.(http.Flusher).Flush()
		select {
		case <-release:
		case <-r.Context().Done():
		}
	})
	defer close(release)

	client := New(srv.URL+"/v1", "m", WithStallTimeout(50*time.Millisecond))
	stream, err := client.Send(context.Background(), nil)
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	defer stream.Close()
	if event, err := stream.Next(context.Background()); err != nil || event.Delta != "a" {
		t.Fatalf("expected first delta, got %+v %v", event, err)
	}
	_, err = stream.Next(context.Background())
	var truncated *schema.TruncatedStreamError
	if !errors.As(err, &truncated) || !truncated.Stalled {
		t.Fatalf("expected stalled stream, got %v", err)
	}
}

func TestClientModels(t *testing.T) {
	srv := newAPIServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.EscapedPath() {
		case "/v1/models":
			_, _ = io.WriteString(w, `{"object":"list","data":[{"id":"deepseek-r1:70b","object":"model","owned_by":"library"},{"id":"llama3","object":"model"}]}`)
		case "/v1/models/deepseek-r1:70b", "/v1/models/deepseek-r1%3A70b":
			_, _ = io.WriteString(w, `{"id":"deepseek-r1:70b","object":"model","created":1700000000,"owned_by":"library"}`)
		default:
			http.NotFound(w, r)
		}
	})
	client := New(srv.URL+"/v1", "deepseek-r1:70b")

	models, err := client.ListModels(context.Background())
	if err != nil {
		t.Fatalf("list models: %v", err)
	}
	if len(models) != 2 || models[0].ID != "deepseek-r1:70b" || models[0].OwnedBy != "library" {
		t.Fatalf("unexpected models: %+v", models)
	}
	info, err := client.GetModel(context.Background(), "deepseek-r1:70b")
	if err != nil {
		t.Fatalf("get model: %v", err)
	}
	if info.Created != 1700000000 {
		t.Fatalf("unexpected model info: %+v", info)
	}
	if _, err := client.GetModel(context.Background(), "nope"); err == nil {
		t.Fatalf("expected error for unknown model")
	}
}

func TestClientNonStreaming(t *testing.T) {
	var bodies []recordedRequest
	srv := newAPIServer(t, func(w http.ResponseWriter, r *http.Request) {
		var body recordedRequest
		_ = json.NewDecoder(r.Body).Decode(&body)
		bodies = append(bodies, body)
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/v1/chat/completions":
			_, _ = io.WriteString(w, `{"choices":[{"message":{"role":"assistant","content":"<think>x</think>This is a test."}}]}`)
		case "/v1/completions":
			_, _ = io.WriteString(w, `{"choices":[{"text":"This is a test."}]}`)
		default:
			http.NotFound(w, r)
		}
	})
	client := New(srv.URL+"/v1", "m")

	reply, err := client.ChatOnce(context.Background(), []schema.Message{{Role: schema.RoleUser, Content: "Say this is a test"}})
	if err != nil {
		t.Fatalf("chat once: %v", err)
	}
	if reply != "<think>x</think>This is a test." {
		t.Fatalf("unexpected reply: %q", reply)
	}
	text, err := client.Complete(context.Background(), "Say this is a test")
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if text != "This is a test." {
		t.Fatalf("unexpected completion: %q", text)
	}
	if len(bodies) != 2 || bodies[0].Stream || bodies[1].Prompt != "Say this is a test" {
		t.Fatalf("unexpected request bodies: %+v", bodies)
	}
}
