package stream

import (
	"bytes"
	"encoding/json"
	"strings"
)

// Preview caps, in runes.
const (
	ToolInputPreviewLen  = 300
	ToolResultPreviewLen = 200
)

type wireMessage struct {
	Type    string          `json:"type"`
	Message *wireBody       `json:"message,omitempty"`
	Content json.RawMessage `json:"content,omitempty"`
}

type wireBody struct {
	Content json.RawMessage `json:"content"`
}

type wireBlock struct {
	Type      string          `json:"type"`
	Text      string          `json:"text,omitempty"`
	Name      string          `json:"name,omitempty"`
	Input     json.RawMessage `json:"input,omitempty"`
	ToolUseID string          `json:"tool_use_id,omitempty"`
	Content   json.RawMessage `json:"content,omitempty"`
}

// Translator incrementally splits raw process output into lines and maps each
// complete line to events. It is not safe for concurrent use.
type Translator struct {
	buf []byte
}

// Feed consumes a chunk of output and returns the events for every line it
// completed, in order.
func (t *Translator) Feed(chunk []byte) []Event {
	t.buf = append(t.buf, chunk...)

	var events []Event
	for {
		i := bytes.IndexByte(t.buf, '\n')
		if i < 0 {
			break
		}
		events = append(events, ParseLine(t.buf[:i])...)
		t.buf = t.buf[i+1:]
	}
	return events
}

// Flush makes a final attempt to parse any trailing partial line.
func (t *Translator) Flush() []Event {
	rest := t.buf
	t.buf = nil
	return ParseLine(rest)
}

// ParseLine maps one JSON line to events. Malformed lines and unrecognised
// message types yield nothing.
func ParseLine(line []byte) []Event {
	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return nil
	}
	var msg wireMessage
	if err := json.Unmarshal(line, &msg); err != nil {
		return nil
	}

	raw := msg.Content
	if msg.Message != nil && len(msg.Message.Content) > 0 {
		raw = msg.Message.Content
	}
	// Content may also be a bare string, which carries no blocks.
	var blocks []wireBlock
	if len(raw) > 0 && raw[0] == '[' {
		if err := json.Unmarshal(raw, &blocks); err != nil {
			return nil
		}
	}

	var events []Event
	switch msg.Type {
	case "assistant":
		for _, b := range blocks {
			switch b.Type {
			case "text":
				if b.Text != "" {
					events = append(events, Text(b.Text))
				}
			case "tool_use":
				events = append(events, ToolCall(b.Name, truncate(compactJSON(b.Input), ToolInputPreviewLen)))
			}
		}
	case "user":
		for _, b := range blocks {
			if b.Type == "tool_result" {
				events = append(events, ToolResult(b.ToolUseID, truncate(resultText(b.Content), ToolResultPreviewLen)))
			}
		}
	}
	return events
}

func compactJSON(raw json.RawMessage) string {
	if len(raw) == 0 {
		return "{}"
	}
	var out bytes.Buffer
	if err := json.Compact(&out, raw); err != nil {
		return string(raw)
	}
	return out.String()
}

// resultText flattens a tool_result content field, which is either a string
// or an array of text blocks.
func resultText(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var blocks []wireBlock
	if err := json.Unmarshal(raw, &blocks); err == nil {
		parts := make([]string, 0, len(blocks))
		for _, b := range blocks {
			if b.Text != "" {
				parts = append(parts, b.Text)
			}
		}
		return strings.Join(parts, "\n")
	}
	return compactJSON(raw)
}

func truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max])
}
