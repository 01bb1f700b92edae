// Package stream decodes the agent's line-delimited JSON output into the
// small event protocol served to live consumers.
package stream

// Kind names an event on the wire.
type Kind string

const (
	KindStatus     Kind = "status"
	KindText       Kind = "text"
	KindToolCall   Kind = "tool_call"
	KindToolResult Kind = "tool_result"
	KindDone       Kind = "done"
)

// Event is one protocol event. Data holds the payload matching Kind.
type Event struct {
	Kind Kind        `json:"event"`
	Data interface{} `json:"data"`
}

type StatusPayload struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

type TextPayload struct {
	Text string `json:"text"`
}

type ToolCallPayload struct {
	Name  string `json:"name"`
	Input string `json:"input"`
}

type ToolResultPayload struct {
	ToolUseID string `json:"tool_use_id"`
	Content   string `json:"content"`
}

type DonePayload struct {
	ExitCode int `json:"exit_code"`
}

// Status values emitted by the runner.
const (
	StatusStarting = "starting"
	StatusError    = "error"
)

func Status(status, message string) Event {
	return Event{Kind: KindStatus, Data: StatusPayload{Status: status, Message: message}}
}

func Text(text string) Event {
	return Event{Kind: KindText, Data: TextPayload{Text: text}}
}

func ToolCall(name, input string) Event {
	return Event{Kind: KindToolCall, Data: ToolCallPayload{Name: name, Input: input}}
}

func ToolResult(id, content string) Event {
	return Event{Kind: KindToolResult, Data: ToolResultPayload{ToolUseID: id, Content: content}}
}

func Done(exitCode int) Event {
	return Event{Kind: KindDone, Data: DonePayload{ExitCode: exitCode}}
}

// TextOf returns the text of a text event and whether e is one.
func TextOf(e Event) (string, bool) {
	if e.Kind != KindText {
		return "", false
	}
	p, ok := e.Data.(TextPayload)
	return p.Text, ok
}
