// Package store persists responses, their conversation item history and
// raw chat completions.
//
// Both backends share the same observable semantics: storing a response
// merges its input and output item lists with any existing record by
// structural equality, preserving first-seen order, so multi-turn
// orchestrations accumulate the full interaction log. Writes are
// linearizable per response id.
package store

import (
	"context"
	"errors"

	openai "github.com/sashabaranov/go-openai"

	"github.com/openrelay-ai/openrelay/pkg/models"
)

// ErrNotFound is returned when the requested record does not exist.
var ErrNotFound = errors.New("not found")

// ResponseStore persists canonical responses and their item history.
type ResponseStore interface {
	// StoreResponse upserts a response. Item lists are merged with any
	// previous record; function_call output items are projected into
	// input form before storage.
	StoreResponse(ctx context.Context, response *models.Response, inputItems []models.Item) error

	// GetResponse fetches a response by id.
	GetResponse(ctx context.Context, id string) (*models.Response, error)

	// GetInputItems returns the accumulated input item log.
	GetInputItems(ctx context.Context, id string) ([]models.Item, error)

	// GetOutputItems returns the accumulated output items.
	GetOutputItems(ctx context.Context, id string) ([]models.Item, error)

	// DeleteResponse removes a response and its items.
	DeleteResponse(ctx context.Context, id string) error
}

// CompletionStore persists raw chat completions from the
// /v1/chat/completions surface.
type CompletionStore interface {
	StoreCompletion(ctx context.Context, completion openai.ChatCompletionResponse, messages []openai.ChatCompletionMessage) error
	GetCompletion(ctx context.Context, id string) (openai.ChatCompletionResponse, error)
	DeleteCompletion(ctx context.Context, id string) error
}

// projectToInput converts stored output items into input form. Function
// calls keep their call id, name and arguments with the assistant role;
// other output items pass through unchanged.
func projectToInput(items []models.Item) []models.Item {
	projected := make([]models.Item, 0, len(items))
	for _, item := range items {
		if item.Type == models.ItemTypeFunctionCall {
			projected = append(projected, models.Item{
				Type:      models.ItemTypeFunctionCall,
				Role:      models.RoleAssistant,
				CallID:    item.CallID,
				Name:      item.Name,
				Arguments: item.Arguments,
				Status:    item.Status,
			})
			continue
		}
		projected = append(projected, item)
	}
	return projected
}

// mergeItems unions existing and incoming item lists by structural
// equality, keeping first-seen order.
func mergeItems(existing, incoming []models.Item) []models.Item {
	merged := make([]models.Item, len(existing))
	copy(merged, existing)
	for _, item := range incoming {
		seen := false
		for _, have := range merged {
			if models.ItemsEqual(have, item) {
				seen = true
				break
			}
		}
		if !seen {
			merged = append(merged, item)
		}
	}
	return merged
}
