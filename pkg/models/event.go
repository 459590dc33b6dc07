package models

// Stream event types emitted on the /v1/responses SSE channel. Tool
// lifecycle events are built from a per-tool prefix plus one of the
// lifecycle suffixes below.
const (
	EventResponseCreated    = "response.created"
	EventResponseInProgress = "response.in_progress"
	EventResponseCompleted  = "response.completed"
	EventResponseIncomplete = "response.incomplete"
	EventResponseError      = "response.error"

	EventOutputItemAdded = "response.output_item.added"
	EventOutputItemDone  = "response.output_item.done"

	EventOutputTextDelta = "response.output_text.delta"
	EventOutputTextDone  = "response.output_text.done"

	EventFunctionCallArgumentsDelta = "response.function_call_arguments.delta"
	EventFunctionCallArgumentsDone  = "response.function_call_arguments.done"

	// Lifecycle suffixes appended to "response.<tool>" or
	// "response.mcp_call.<tool>".
	EventSuffixInProgress = ".in_progress"
	EventSuffixExecuting  = ".executing"
	EventSuffixGenerating = ".generating"
	EventSuffixCompleted  = ".completed"
)

// Error codes carried by terminal response.error events.
const (
	ErrorCodeTimeout          = "timeout"
	ErrorCodeTooManyToolCalls = "too_many_tool_calls"
	ErrorCodeServerError      = "server_error"
)

// StreamEvent is the canonical SSE payload. Every event carries Type and a
// monotonically non-decreasing SequenceNumber; the remaining fields are
// populated per event type. Terminal events embed the full Response.
type StreamEvent struct {
	Type           string    `json:"type"`
	SequenceNumber int64     `json:"sequence_number"`
	Response       *Response `json:"response,omitempty"`
	Item           *Item     `json:"item,omitempty"`
	ItemID         string    `json:"item_id,omitempty"`
	OutputIndex    *int      `json:"output_index,omitempty"`
	ContentIndex   *int      `json:"content_index,omitempty"`
	Delta          string    `json:"delta,omitempty"`
	Text           string    `json:"text,omitempty"`
	Arguments      string    `json:"arguments,omitempty"`
	Code           string    `json:"code,omitempty"`
	Message        string    `json:"message,omitempty"`
}
