// Package responses converts between the gateway's canonical Response
// shape and the provider-facing chat completion shape.
//
// The forward direction turns the client's input item list into the
// provider messages array; the backward direction rebuilds canonical
// output items (reasoning, message, function calls) from a completion,
// attaching citation annotations and mapping finish reasons onto response
// statuses.
package responses

import (
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/openrelay-ai/openrelay/pkg/models"
)

// ToChatMessages translates instructions plus the ordered input item list
// into provider messages. Developer messages map to the system role; tool
// outputs become tool-role messages linked by call id.
func ToChatMessages(instructions string, items []models.Item) []openai.ChatCompletionMessage {
	messages := make([]openai.ChatCompletionMessage, 0, len(items)+1)
	if instructions != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: instructions,
		})
	}

	for _, item := range items {
		switch item.Type {
		case models.ItemTypeMessage:
			messages = append(messages, messageFromItem(item))
		case models.ItemTypeFunctionCall:
			messages = append(messages, openai.ChatCompletionMessage{
				Role: openai.ChatMessageRoleAssistant,
				ToolCalls: []openai.ToolCall{{
					ID:   item.CallID,
					Type: openai.ToolTypeFunction,
					Function: openai.FunctionCall{
						Name:      item.Name,
						Arguments: item.Arguments,
					},
				}},
			})
		case models.ItemTypeFunctionCallOutput:
			messages = append(messages, openai.ChatCompletionMessage{
				Role:       openai.ChatMessageRoleTool,
				Content:    item.Output,
				ToolCallID: item.CallID,
			})
		case models.ItemTypeReasoning, models.ItemTypeImageGenerationCall:
			// Not replayed upstream.
		}
	}
	return messages
}

func messageFromItem(item models.Item) openai.ChatCompletionMessage {
	role := item.Role
	if role == models.RoleDeveloper {
		role = models.RoleSystem
	}
	msg := openai.ChatCompletionMessage{Role: role}

	if !needsMultiContent(item.Content) {
		var text strings.Builder
		for _, part := range item.Content {
			text.WriteString(part.Text)
		}
		msg.Content = text.String()
		return msg
	}

	parts := make([]openai.ChatMessagePart, 0, len(item.Content))
	for _, part := range item.Content {
		switch part.Type {
		case models.ContentTypeInputImage:
			detail := openai.ImageURLDetail(part.Detail)
			if detail == "" {
				detail = openai.ImageURLDetailAuto
			}
			parts = append(parts, openai.ChatMessagePart{
				Type: openai.ChatMessagePartTypeImageURL,
				ImageURL: &openai.ChatMessageImageURL{
					URL:    part.ImageURL,
					Detail: detail,
				},
			})
		case models.ContentTypeInputFile:
			// The chat wire shape has no file part; inline the payload as
			// text so the model still sees the document.
			var b strings.Builder
			if part.Filename != "" {
				b.WriteString("[file: " + part.Filename + "]\n")
			} else if part.FileID != "" {
				b.WriteString("[file: " + part.FileID + "]\n")
			}
			b.WriteString(part.FileData)
			parts = append(parts, openai.ChatMessagePart{
				Type: openai.ChatMessagePartTypeText,
				Text: b.String(),
			})
		default:
			parts = append(parts, openai.ChatMessagePart{
				Type: openai.ChatMessagePartTypeText,
				Text: part.Text,
			})
		}
	}
	msg.MultiContent = parts
	return msg
}

func needsMultiContent(parts []models.ContentPart) bool {
	for _, p := range parts {
		if p.Type == models.ContentTypeInputImage || p.Type == models.ContentTypeInputFile {
			return true
		}
	}
	return false
}

// RequestParams carries the request-side fields the backward conversion
// copies onto the Response envelope.
type RequestParams struct {
	Model              string
	Instructions       string
	Tools              []models.ToolDef
	ToolChoice         any
	Temperature        *float32
	TopP               *float32
	MaxOutputTokens    *int
	PreviousResponseID string
	Metadata           map[string]string
	Store              bool
}

// FromChatCompletion rebuilds a canonical Response from a completion.
// Reasoning enclosed in <think> tags is split into a reasoning item; each
// tool call becomes a function_call item. inputItems is consulted for
// file-search citations produced earlier in the turn loop.
func FromChatCompletion(completion openai.ChatCompletionResponse, params RequestParams, inputItems []models.Item) *models.Response {
	resp := &models.Response{
		ID:                 completion.ID,
		Object:             "response",
		CreatedAt:          completion.Created,
		Model:              params.Model,
		Status:             models.ResponseStatusCompleted,
		Output:             []models.Item{},
		Instructions:       params.Instructions,
		Tools:              params.Tools,
		ToolChoice:         params.ToolChoice,
		Temperature:        params.Temperature,
		TopP:               params.TopP,
		MaxOutputTokens:    params.MaxOutputTokens,
		PreviousResponseID: params.PreviousResponseID,
		Metadata:           params.Metadata,
		Store:              params.Store,
	}
	if resp.CreatedAt == 0 {
		resp.CreatedAt = time.Now().Unix()
	}

	for _, choice := range completion.Choices {
		reasoning, text := SplitThink(choice.Message.Content)

		if reasoning != "" {
			resp.Output = append(resp.Output, models.Item{
				Type: models.ItemTypeReasoning,
				Summary: []models.SummaryText{
					{Type: "summary_text", Text: reasoning},
				},
				Status: models.ItemStatusCompleted,
			})
		}

		if text != "" {
			part := models.ContentPart{
				Type:        models.ContentTypeOutputText,
				Text:        text,
				Annotations: collectAnnotations(inputItems),
			}
			resp.Output = append(resp.Output, models.Item{
				Type:    models.ItemTypeMessage,
				Role:    models.RoleAssistant,
				Status:  models.ItemStatusCompleted,
				Content: []models.ContentPart{part},
			})
		}

		for _, tc := range choice.Message.ToolCalls {
			resp.Output = append(resp.Output, models.Item{
				Type:      models.ItemTypeFunctionCall,
				CallID:    tc.ID,
				Name:      tc.Function.Name,
				Arguments: tc.Function.Arguments,
				Status:    models.ItemStatusCompleted,
			})
		}

		applyFinishReason(resp, choice.FinishReason)
	}

	resp.Usage = usageFromCompletion(completion.Usage)
	return resp
}

func applyFinishReason(resp *models.Response, reason openai.FinishReason) {
	switch reason {
	case openai.FinishReasonLength:
		resp.Status = models.ResponseStatusIncomplete
		resp.IncompleteDetails = &models.IncompleteDetails{
			Reason: models.IncompleteReasonMaxOutputTokens,
		}
	case openai.FinishReasonContentFilter:
		resp.Status = models.ResponseStatusFailed
		resp.IncompleteDetails = &models.IncompleteDetails{
			Reason: models.IncompleteReasonContentFilter,
		}
		resp.Error = &models.ResponseError{
			Code:    models.ErrorCodeServerError,
			Message: "content filtered by upstream provider",
		}
	}
}

func usageFromCompletion(u openai.Usage) *models.Usage {
	usage := &models.Usage{
		InputTokens:  u.PromptTokens,
		OutputTokens: u.CompletionTokens,
		TotalTokens:  u.TotalTokens,
		OutputTokensDetails: &models.OutputTokensDetails{
			ReasoningTokens: 0,
		},
	}
	if u.CompletionTokensDetails != nil {
		usage.OutputTokensDetails.ReasoningTokens = u.CompletionTokensDetails.ReasoningTokens
	}
	if usage.TotalTokens == 0 {
		usage.TotalTokens = usage.InputTokens + usage.OutputTokens
	}
	return usage
}

// ToChatCompletion converts a canonical Response back to the completion
// shape. Round-tripping preserves model, choice structure, message text,
// tool call names and arguments, finish reasons and usage.
func ToChatCompletion(resp *models.Response) openai.ChatCompletionResponse {
	completion := openai.ChatCompletionResponse{
		ID:      resp.ID,
		Object:  "chat.completion",
		Created: resp.CreatedAt,
		Model:   resp.Model,
	}

	var message openai.ChatCompletionMessage
	message.Role = openai.ChatMessageRoleAssistant
	finish := openai.FinishReasonStop

	for _, item := range resp.Output {
		switch item.Type {
		case models.ItemTypeMessage:
			for _, part := range item.Content {
				message.Content += part.Text
			}
		case models.ItemTypeFunctionCall:
			message.ToolCalls = append(message.ToolCalls, openai.ToolCall{
				ID:   item.CallID,
				Type: openai.ToolTypeFunction,
				Function: openai.FunctionCall{
					Name:      item.Name,
					Arguments: item.Arguments,
				},
			})
			finish = openai.FinishReasonToolCalls
		}
	}

	switch resp.Status {
	case models.ResponseStatusIncomplete:
		finish = openai.FinishReasonLength
	case models.ResponseStatusFailed:
		if resp.IncompleteDetails != nil && resp.IncompleteDetails.Reason == models.IncompleteReasonContentFilter {
			finish = openai.FinishReasonContentFilter
		}
	}

	completion.Choices = []openai.ChatCompletionChoice{{
		Index:        0,
		Message:      message,
		FinishReason: finish,
	}}

	if resp.Usage != nil {
		completion.Usage = openai.Usage{
			PromptTokens:     resp.Usage.InputTokens,
			CompletionTokens: resp.Usage.OutputTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		}
	}
	return completion
}

// SplitThink separates reasoning enclosed in <think>...</think> from the
// remaining text. Unterminated tags are treated as plain text.
func SplitThink(content string) (reasoning, text string) {
	start := strings.Index(content, "<think>")
	if start < 0 {
		return "", content
	}
	end := strings.Index(content[start:], "</think>")
	if end < 0 {
		return "", content
	}
	end += start
	reasoning = strings.TrimSpace(content[start+len("<think>") : end])
	text = strings.TrimSpace(content[:start] + content[end+len("</think>"):])
	return reasoning, text
}
