package mockapi

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"pkt.systems/tunnelchat/internal/chatstream"
	"pkt.systems/tunnelchat/internal/segment"
	"pkt.systems/tunnelchat/schema"
)

func runStream(t *testing.T, client *chatstream.Client, prompt string) ([]schema.Segment, int, error) {
	t.Helper()
	stream, err := client.Send(context.Background(), []schema.Message{{Role: schema.RoleUser, Content: prompt}})
	if err != nil {
		return nil, 0, err
	}
	defer stream.Close()
	parser := segment.New()
	var segments []schema.Segment
	for {
		event, err := stream.Next(context.Background())
		if errors.Is(err, io.EOF) {
			return segments, stream.Skipped(), nil
		}
		if err != nil {
			parser.Discard()
			return segments, stream.Skipped(), err
		}
		switch event.Type {
		case schema.StreamDelta:
			segments = append(segments, parser.Feed(event.Delta)...)
		case schema.StreamDone:
			segments = append(segments, parser.Finish()...)
		}
	}
}

func TestHandlerThinkScenario(t *testing.T) {
	srv := httptest.NewServer(NewHandler(Options{}))
	defer srv.Close()
	client := chatstream.New(srv.URL+"/v1", "deepseek-r1:70b")

	segments, skipped, err := runStream(t, client, "Say this is a test")
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	want := []schema.Segment{
		{Kind: schema.SegmentThinking, Text: "\n"},
		{Kind: schema.SegmentThinking, Text: "The user wants a short answer.\n"},
		{Kind: schema.SegmentThinking, Text: "I should keep it brief.\n"},
		{Kind: schema.SegmentAnswer, Text: "\n"},
		{Kind: schema.SegmentAnswer, Text: "\n"},
		{Kind: schema.SegmentAnswer, Text: "This is a test.\n"},
	}
	if diff := cmp.Diff(want, segments); diff != "" {
		t.Fatalf("segments mismatch (-want +got):\n%s", diff)
	}
	if skipped != 0 {
		t.Fatalf("expected no skipped lines, got %d", skipped)
	}
}

func TestHandlerMalformedScenarioSkipsLine(t *testing.T) {
	srv := httptest.NewServer(NewHandler(Options{Scenario: "malformed"}))
	defer srv.Close()
	client := chatstream.New(srv.URL+"/v1", "deepseek-r1:70b")

	segments, skipped, err := runStream(t, client, "hello")
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	if skipped != 1 {
		t.Fatalf("expected one skipped line, got %d", skipped)
	}
	var text strings.Builder
	for _, seg := range segments {
		text.WriteString(seg.Text)
	}
	scenario := Scenarios()["malformed"]
	want := "\n" + scenario.Thinking + "\n\n" + scenario.Answer
	if text.String() != want {
		t.Fatalf("expected %q, got %q", want, text.String())
	}
}

func TestHandlerTruncatedScenario(t *testing.T) {
	srv := httptest.NewServer(NewHandler(Options{}))
	defer srv.Close()
	client := chatstream.New(srv.URL+"/v1", "deepseek-r1:70b")

	_, _, err := runStream(t, client, "cut me off #scenario:truncated")
	var truncated *schema.TruncatedStreamError
	if !errors.As(err, &truncated) {
		t.Fatalf("expected truncated stream, got %v", err)
	}
}

func TestHandlerErrorScenario(t *testing.T) {
	srv := httptest.NewServer(NewHandler(Options{Scenario: "error"}))
	defer srv.Close()
	client := chatstream.New(srv.URL+"/v1", "deepseek-r1:70b")

	_, _, err := runStream(t, client, "hello")
	var reqErr *schema.RequestError
	if !errors.As(err, &reqErr) || reqErr.Status != http.StatusInternalServerError {
		t.Fatalf("expected 500 request error, got %v", err)
	}
}

func TestHandlerUnknownModel(t *testing.T) {
	srv := httptest.NewServer(NewHandler(Options{}))
	defer srv.Close()
	client := chatstream.New(srv.URL+"/v1", "missing")

	_, _, err := runStream(t, client, "hello")
	var reqErr *schema.RequestError
	if !errors.As(err, &reqErr) || reqErr.Status != http.StatusNotFound {
		t.Fatalf("expected 404 request error, got %v", err)
	}
	if _, err := client.GetModel(context.Background(), "missing"); err == nil {
		t.Fatalf("expected unknown model error")
	}
}

func TestHandlerModelsAndCompletions(t *testing.T) {
	srv := httptest.NewServer(NewHandler(Options{Models: []schema.ModelID{"deepseek-r1:70b", "qwen"}}))
	defer srv.Close()
	client := chatstream.New(srv.URL+"/v1", "qwen")

	models, err := client.ListModels(context.Background())
	if err != nil || len(models) != 2 {
		t.Fatalf("list models: %v %+v", err, models)
	}
	info, err := client.GetModel(context.Background(), "deepseek-r1:70b")
	if err != nil || info.ID != "deepseek-r1:70b" {
		t.Fatalf("get model: %v %+v", err, info)
	}
	reply, err := client.ChatOnce(context.Background(), []schema.Message{{Role: schema.RoleUser, Content: "hi #scenario:plain"}})
	if err != nil || reply != Scenarios()["plain"].Answer {
		t.Fatalf("chat once: %v %q", err, reply)
	}
	text, err := client.Complete(context.Background(), "Say this is a test")
	if err != nil || text != "This is a test." {
		t.Fatalf("complete: %v %q", err, text)
	}
}

func TestPickScenario(t *testing.T) {
	if s, err := pickScenario("", "no directive"); err != nil || s.Name != "think" {
		t.Fatalf("expected default scenario, got %+v %v", s, err)
	}
	if s, err := pickScenario("", "please #scenario:multiline now"); err != nil || s.Name != "multiline" {
		t.Fatalf("expected directive scenario, got %+v %v", s, err)
	}
	if s, err := pickScenario("plain", "#scenario:multiline"); err != nil || s.Name != "plain" {
		t.Fatalf("expected explicit scenario to win, got %+v %v", s, err)
	}
	if _, err := pickScenario("nope", ""); err == nil {
		t.Fatalf("expected unknown scenario error")
	}
	for _, name := range ScenarioNames() {
		if _, ok := Scenarios()[name]; !ok {
			t.Fatalf("scenario %q missing", name)
		}
	}
}

func TestChunkCoversText(t *testing.T) {
	text := Scenarios()["multiline"].Text()
	for seed := uint64(0); seed < 50; seed++ {
		chunks := chunk(text, seed)
		if strings.Join(chunks, "") != text {
			t.Fatalf("seed %d: chunks do not reassemble text", seed)
		}
		for _, c := range chunks {
			if len(c) == 0 || len(c) > 7 {
				t.Fatalf("seed %d: chunk size %d out of range", seed, len(c))
			}
		}
	}
}
