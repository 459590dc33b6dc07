package orchestrator

import (
	"sort"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

// callAccumulator assembles one tool call from streamed fragments.
// Argument fragments concatenate in chunk-arrival order.
type callAccumulator struct {
	index int
	id    string
	name  strings.Builder
	args  strings.Builder
}

// choiceAccumulator assembles one choice.
type choiceAccumulator struct {
	index   int
	text    strings.Builder
	calls   []*callAccumulator // in first-seen order
	byIndex map[int]*callAccumulator
	finish  openai.FinishReason
}

// streamAccumulator rebuilds a synthetic ChatCompletion from a chunk
// stream. Usage comes from the last chunk that carries it; absent
// usage leaves token counts zero (unknown).
type streamAccumulator struct {
	id      string
	model   string
	created int64
	choices map[int]*choiceAccumulator
	usage   *openai.Usage
}

func newStreamAccumulator() *streamAccumulator {
	return &streamAccumulator{choices: make(map[int]*choiceAccumulator)}
}

func (a *streamAccumulator) choice(index int) *choiceAccumulator {
	c, ok := a.choices[index]
	if !ok {
		c = &choiceAccumulator{index: index, byIndex: make(map[int]*callAccumulator)}
		a.choices[index] = c
	}
	return c
}

// add folds one chunk into the accumulators and returns the finish
// reason it carried, if any.
func (a *streamAccumulator) add(chunk openai.ChatCompletionStreamResponse) openai.FinishReason {
	if chunk.ID != "" {
		a.id = chunk.ID
	}
	if chunk.Model != "" {
		a.model = chunk.Model
	}
	if chunk.Created != 0 {
		a.created = chunk.Created
	}
	if chunk.Usage != nil {
		a.usage = chunk.Usage
	}

	var finish openai.FinishReason
	for _, delta := range chunk.Choices {
		c := a.choice(delta.Index)
		c.text.WriteString(delta.Delta.Content)

		for _, tc := range delta.Delta.ToolCalls {
			callIndex := 0
			if tc.Index != nil {
				callIndex = *tc.Index
			}
			call, ok := c.byIndex[callIndex]
			if !ok {
				call = &callAccumulator{index: callIndex}
				c.byIndex[callIndex] = call
				c.calls = append(c.calls, call)
			}
			if tc.ID != "" {
				call.id = tc.ID
			}
			call.name.WriteString(tc.Function.Name)
			call.args.WriteString(tc.Function.Arguments)
		}

		if delta.FinishReason != "" {
			c.finish = delta.FinishReason
			finish = delta.FinishReason
		}
	}
	return finish
}

// textOf returns the accumulated text of a choice.
func (a *streamAccumulator) textOf(index int) string {
	if c, ok := a.choices[index]; ok {
		return c.text.String()
	}
	return ""
}

// completion materializes the synthetic ChatCompletion. A choice is
// kept iff it has content, at least one complete tool call, or an
// explicit finish reason.
func (a *streamAccumulator) completion() openai.ChatCompletionResponse {
	out := openai.ChatCompletionResponse{
		ID:      a.id,
		Object:  "chat.completion",
		Created: a.created,
		Model:   a.model,
	}
	if a.usage != nil {
		out.Usage = *a.usage
	}

	indexes := make([]int, 0, len(a.choices))
	for i := range a.choices {
		indexes = append(indexes, i)
	}
	sort.Ints(indexes)

	for _, i := range indexes {
		c := a.choices[i]
		msg := openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleAssistant,
			Content: c.text.String(),
		}
		for _, call := range c.calls {
			if call.name.Len() == 0 {
				continue
			}
			msg.ToolCalls = append(msg.ToolCalls, openai.ToolCall{
				ID:   call.id,
				Type: openai.ToolTypeFunction,
				Function: openai.FunctionCall{
					Name:      call.name.String(),
					Arguments: call.args.String(),
				},
			})
		}
		if msg.Content == "" && len(msg.ToolCalls) == 0 && c.finish == "" {
			continue
		}
		out.Choices = append(out.Choices, openai.ChatCompletionChoice{
			Index:        c.index,
			Message:      msg,
			FinishReason: c.finish,
		})
	}
	return out
}
