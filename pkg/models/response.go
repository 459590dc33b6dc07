// Package models defines the core data types for OpenRelay.
package models

// ResponseStatus is the lifecycle state of a Response.
type ResponseStatus string

const (
	ResponseStatusInProgress ResponseStatus = "in_progress"
	ResponseStatusCompleted  ResponseStatus = "completed"
	ResponseStatusIncomplete ResponseStatus = "incomplete"
	ResponseStatusFailed     ResponseStatus = "failed"
)

// Incomplete reasons reported in IncompleteDetails.
const (
	IncompleteReasonMaxOutputTokens = "max_output_tokens"
	IncompleteReasonContentFilter   = "content_filter"
)

// Response is the client-facing envelope returned by /v1/responses.
// It is the gateway's native output shape; provider chat completions are
// converted into it and never returned as-is.
type Response struct {
	ID                 string             `json:"id"`
	Object             string             `json:"object"`
	CreatedAt          int64              `json:"created_at"`
	Model              string             `json:"model"`
	Status             ResponseStatus     `json:"status"`
	IncompleteDetails  *IncompleteDetails `json:"incomplete_details,omitempty"`
	Error              *ResponseError     `json:"error,omitempty"`
	Output             []Item             `json:"output"`
	Usage              *Usage             `json:"usage,omitempty"`
	Instructions       string             `json:"instructions,omitempty"`
	Tools              []ToolDef          `json:"tools,omitempty"`
	ToolChoice         any                `json:"tool_choice,omitempty"`
	Temperature        *float32           `json:"temperature,omitempty"`
	TopP               *float32           `json:"top_p,omitempty"`
	MaxOutputTokens    *int               `json:"max_output_tokens,omitempty"`
	PreviousResponseID string             `json:"previous_response_id,omitempty"`
	Metadata           map[string]string  `json:"metadata,omitempty"`
	Store              bool               `json:"store"`
}

// IncompleteDetails explains why a Response stopped short.
type IncompleteDetails struct {
	Reason string `json:"reason"`
}

// ResponseError carries a terminal error on a failed Response.
type ResponseError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Usage reports token consumption for one orchestration.
type Usage struct {
	InputTokens         int                  `json:"input_tokens"`
	OutputTokens        int                  `json:"output_tokens"`
	TotalTokens         int                  `json:"total_tokens"`
	OutputTokensDetails *OutputTokensDetails `json:"output_tokens_details,omitempty"`
}

// OutputTokensDetails breaks down output token usage.
type OutputTokensDetails struct {
	ReasoningTokens int `json:"reasoning_tokens"`
}

// OutputText collects the text of all output_text parts across message items.
func (r *Response) OutputText() string {
	var out string
	for _, item := range r.Output {
		if item.Type != ItemTypeMessage {
			continue
		}
		for _, part := range item.Content {
			if part.Type == ContentTypeOutputText || part.Type == ContentTypeText {
				out += part.Text
			}
		}
	}
	return out
}
