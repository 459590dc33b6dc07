package models

import (
	"encoding/json"
	"fmt"
)

// ResponseRequest is the body of POST /v1/responses.
type ResponseRequest struct {
	Model              string            `json:"model"`
	Input              json.RawMessage   `json:"input"`
	Instructions       string            `json:"instructions,omitempty"`
	MaxOutputTokens    *int              `json:"max_output_tokens,omitempty"`
	Tools              []ToolDef         `json:"tools,omitempty"`
	Temperature        *float32          `json:"temperature,omitempty"`
	TopP               *float32          `json:"top_p,omitempty"`
	ToolChoice         any               `json:"tool_choice,omitempty"`
	Store              *bool             `json:"store,omitempty"`
	Stream             bool              `json:"stream,omitempty"`
	PreviousResponseID string            `json:"previous_response_id,omitempty"`
	Metadata           map[string]string `json:"metadata,omitempty"`
	Truncation         string            `json:"truncation,omitempty"`
	Text               json.RawMessage   `json:"text,omitempty"`
	Reasoning          json.RawMessage   `json:"reasoning,omitempty"`
}

// InputItems parses the polymorphic input field. A JSON string becomes a
// single user message; an array is decoded as an ordered item list.
func (r *ResponseRequest) InputItems() ([]Item, error) {
	if len(r.Input) == 0 {
		return nil, fmt.Errorf("input is required")
	}
	switch r.Input[0] {
	case '"':
		var text string
		if err := json.Unmarshal(r.Input, &text); err != nil {
			return nil, fmt.Errorf("decode input text: %w", err)
		}
		return []Item{NewUserMessage(text)}, nil
	case '[':
		var items []Item
		if err := json.Unmarshal(r.Input, &items); err != nil {
			return nil, fmt.Errorf("decode input items: %w", err)
		}
		return items, nil
	default:
		return nil, fmt.Errorf("input must be a string or an array of items")
	}
}

// ShouldStore reports whether the response should be persisted.
// Persistence defaults to on; the client opts out with store=false.
func (r *ResponseRequest) ShouldStore() bool {
	return r.Store == nil || *r.Store
}

// Built-in tool types the gateway recognizes on a tool definition.
const (
	ToolTypeFunction        = "function"
	ToolTypeFileSearch      = "file_search"
	ToolTypeAgenticSearch   = "agentic_search"
	ToolTypeImageGeneration = "image_generation"
	ToolTypeMCP             = "mcp"
)

// ToolDef declares a tool the model may call. Function tools carry a JSON
// schema; built-in tools carry their own configuration. A non-empty Name
// on a built-in tool declares a client-chosen alias for it.
type ToolDef struct {
	Type        string          `json:"type"`
	Name        string          `json:"name,omitempty"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
	Strict      *bool           `json:"strict,omitempty"`

	// file_search / agentic_search
	VectorStoreIDs []string        `json:"vector_store_ids,omitempty"`
	MaxNumResults  int             `json:"max_num_results,omitempty"`
	Filters        json.RawMessage `json:"filters,omitempty"`
	RankingOptions *RankingOptions `json:"ranking_options,omitempty"`

	// agentic_search
	MaxIterations int `json:"max_iterations,omitempty"`

	// mcp
	ServerLabel  string   `json:"server_label,omitempty"`
	ServerURL    string   `json:"server_url,omitempty"`
	AllowedTools []string `json:"allowed_tools,omitempty"`
}

// RankingOptions tune retrieval scoring for search tools.
type RankingOptions struct {
	Ranker         string   `json:"ranker,omitempty"`
	ScoreThreshold *float64 `json:"score_threshold,omitempty"`
}
