package chatstream

import (
	"bytes"
	"encoding/json"

	"pkt.systems/tunnelchat/schema"
)

const (
	dataPrefix = "data:"
	doneMarker = "[DONE]"
)

type chunkPayload struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		Text         string  `json:"text"`
		FinishReason *string `json:"finish_reason"`
	} `json:"choices"`
}

// decodeLine classifies one raw event line. ok is false for lines that carry
// no event (blank lines, comments and non-data fields).
func decodeLine(raw []byte) (schema.StreamEvent, bool, error) {
	line := bytes.TrimSpace(raw)
	if len(line) == 0 || line[0] == ':' {
		return schema.StreamEvent{}, false, nil
	}
	if !bytes.HasPrefix(line, []byte(dataPrefix)) {
		return schema.StreamEvent{}, false, nil
	}
	payload := bytes.TrimSpace(line[len(dataPrefix):])
	if string(payload) == doneMarker {
		return schema.StreamEvent{Type: schema.StreamDone}, true, nil
	}
	var chunk chunkPayload
	if err := json.Unmarshal(payload, &chunk); err != nil {
		return schema.StreamEvent{}, false, &schema.MalformedEventError{Line: schema.RawEventLine(line), Err: err}
	}
	event := schema.StreamEvent{Type: schema.StreamDelta}
	for _, choice := range chunk.Choices {
		event.Delta += choice.Delta.Content
		if choice.Delta.Content == "" {
			event.Delta += choice.Text
		}
		if choice.FinishReason != nil && *choice.FinishReason != "" {
			event.FinishReason = *choice.FinishReason
		}
	}
	if event.Delta == "" && event.FinishReason == "" {
		return schema.StreamEvent{}, false, nil
	}
	return event, true, nil
}
