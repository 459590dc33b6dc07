package models

import (
	"bytes"
	"encoding/json"
)

// ItemType discriminates the variants of a conversation item.
type ItemType string

const (
	ItemTypeMessage             ItemType = "message"
	ItemTypeReasoning           ItemType = "reasoning"
	ItemTypeFunctionCall        ItemType = "function_call"
	ItemTypeFunctionCallOutput  ItemType = "function_call_output"
	ItemTypeImageGenerationCall ItemType = "image_generation_call"
)

// Item statuses.
const (
	ItemStatusInProgress = "in_progress"
	ItemStatusCompleted  = "completed"
	ItemStatusIncomplete = "incomplete"
	ItemStatusFailed     = "failed"
)

// Message roles.
const (
	RoleUser      = "user"
	RoleSystem    = "system"
	RoleDeveloper = "developer"
	RoleAssistant = "assistant"
)

// Item is one element of the conversation log: an input item supplied by
// the client or an output item produced by the model. The Type field
// selects which of the remaining fields are meaningful; use sites switch
// exhaustively on it.
type Item struct {
	Type   ItemType `json:"type"`
	ID     string   `json:"id,omitempty"`
	Status string   `json:"status,omitempty"`

	// message
	Role    string        `json:"role,omitempty"`
	Content []ContentPart `json:"content,omitempty"`

	// reasoning
	Summary []SummaryText `json:"summary,omitempty"`

	// function_call / function_call_output
	CallID    string `json:"call_id,omitempty"`
	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments,omitempty"`
	Output    string `json:"output,omitempty"`

	// image_generation_call
	Result string `json:"result,omitempty"`
}

// Content part types.
const (
	ContentTypeText       = "text"
	ContentTypeInputText  = "input_text"
	ContentTypeInputImage = "input_image"
	ContentTypeInputFile  = "input_file"
	ContentTypeOutputText = "output_text"
)

// ContentPart is one element of a message item's ordered content list.
type ContentPart struct {
	Type        string       `json:"type"`
	Text        string       `json:"text,omitempty"`
	Annotations []Annotation `json:"annotations,omitempty"`

	// input_image
	ImageURL string `json:"image_url,omitempty"`
	Detail   string `json:"detail,omitempty"`

	// input_file
	FileID   string `json:"file_id,omitempty"`
	Filename string `json:"filename,omitempty"`
	FileData string `json:"file_data,omitempty"`
}

// SummaryText is one element of a reasoning item's summary.
type SummaryText struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// Annotation types.
const (
	AnnotationFileCitation = "file_citation"
	AnnotationURLCitation  = "url_citation"
)

// Annotation is a citation attached to an output_text content part.
type Annotation struct {
	Type string `json:"type"`

	// file_citation
	FileID   string `json:"file_id,omitempty"`
	Filename string `json:"filename,omitempty"`
	Index    int    `json:"index,omitempty"`

	// url_citation
	URL        string `json:"url,omitempty"`
	Title      string `json:"title,omitempty"`
	StartIndex int    `json:"start_index,omitempty"`
	EndIndex   int    `json:"end_index,omitempty"`
}

// NewUserMessage builds a message item with a single input_text part.
func NewUserMessage(text string) Item {
	return Item{
		Type: ItemTypeMessage,
		Role: RoleUser,
		Content: []ContentPart{
			{Type: ContentTypeInputText, Text: text},
		},
	}
}

// ItemsEqual reports structural equality between two items. The store
// merge semantics (set-union by structural equality) depend on it.
func ItemsEqual(a, b Item) bool {
	ab, err := json.Marshal(a)
	if err != nil {
		return false
	}
	bb, err := json.Marshal(b)
	if err != nil {
		return false
	}
	return bytes.Equal(ab, bb)
}
