package orchestrator

import (
	"context"
	"encoding/json"

	openai "github.com/sashabaranov/go-openai"

	"github.com/openrelay-ai/openrelay/internal/tools"
	"github.com/openrelay-ai/openrelay/pkg/models"
)

// outcomeKind is the tool handler's verdict for one turn.
type outcomeKind int

const (
	// outcomeContinue: native tools ran, their outputs were appended,
	// the loop iterates.
	outcomeContinue outcomeKind = iota

	// outcomeTerminate: a terminal tool succeeded; its item is the
	// final output.
	outcomeTerminate

	// outcomeClientTools: at least one call resolves to no server-side
	// tool; the client must resolve it.
	outcomeClientTools
)

type toolOutcome struct {
	kind         outcomeKind
	terminalItem models.Item

	// terminalCall is the provider tool call the terminal item answers;
	// completion mode feeds it back as an ordinary message pair.
	terminalCall openai.ToolCall
}

// toolEvents receives per-call lifecycle notifications in streaming
// mode. Buffered orchestrations pass nil.
type toolEvents interface {
	// toolStarted is called before execution; generating reports the
	// extra image_generation phase.
	toolStarted(tool tools.Tool, callID string, index int, generating bool)
	toolFinished(tool tools.Tool, callID string, index int, err error)
}

// handleTools classifies and executes the tool calls of a completion.
//
// Native calls execute in provider order, appending a FunctionCall and
// FunctionCallOutput pair to the running items; execution errors become
// the call's output so the model can react. A successful terminal tool
// short-circuits everything after it. Calls that resolve to nothing are
// left for the client: their FunctionCall is appended without an output
// and the turn ends with outcomeClientTools.
func (o *Orchestrator) handleTools(ctx context.Context, st *turnState, completion openai.ChatCompletionResponse, events toolEvents) toolOutcome {
	hasClientTools := false

	for _, choice := range completion.Choices {
		for i, tc := range choice.Message.ToolCalls {
			call := models.Item{
				Type:      models.ItemTypeFunctionCall,
				CallID:    tc.ID,
				Name:      tc.Function.Name,
				Arguments: tc.Function.Arguments,
				Status:    models.ItemStatusCompleted,
			}

			tool, ok := o.tools.GetFunctionTool(tc.Function.Name, st.aliases)
			if !ok {
				st.items = append(st.items, call)
				st.toolCalls++
				hasClientTools = true
				continue
			}

			if tools.IsTerminal(tool) {
				if events != nil {
					events.toolStarted(tool, tc.ID, i, true)
				}
				output, err := o.tools.Execute(ctx, tool, tc.ID, tc.Function.Arguments)
				if events != nil {
					events.toolFinished(tool, tc.ID, i, err)
				}
				if err == nil {
					return toolOutcome{
						kind:         outcomeTerminate,
						terminalItem: imageGenerationItem(tc.ID, output),
						terminalCall: tc,
					}
				}
				// A failed terminal tool degrades to the native path so
				// the model can recover.
				st.items = append(st.items, call, errorOutput(tc.ID, err))
				st.toolCalls++
				continue
			}

			if events != nil {
				events.toolStarted(tool, tc.ID, i, false)
			}
			output, err := o.tools.Execute(ctx, tool, tc.ID, tc.Function.Arguments)
			if events != nil {
				events.toolFinished(tool, tc.ID, i, err)
			}

			result := models.Item{
				Type:   models.ItemTypeFunctionCallOutput,
				CallID: tc.ID,
				Output: output,
				Status: models.ItemStatusCompleted,
			}
			if err != nil {
				result = errorOutput(tc.ID, err)
			}
			st.items = append(st.items, call, result)
			st.toolCalls++
		}
	}

	if hasClientTools {
		// Native outputs, if any, are already in the log; the remaining
		// calls still need the client.
		return toolOutcome{kind: outcomeClientTools}
	}
	return toolOutcome{kind: outcomeContinue}
}

// errorOutput embeds a tool failure as the call's output.
func errorOutput(callID string, err error) models.Item {
	payload, _ := json.Marshal(map[string]string{"error": err.Error()})
	return models.Item{
		Type:   models.ItemTypeFunctionCallOutput,
		CallID: callID,
		Output: string(payload),
		Status: models.ItemStatusFailed,
	}
}

// imageGenerationItem unwraps the terminal tool's {data: <b64>} payload
// into the final image_generation_call item.
func imageGenerationItem(callID, output string) models.Item {
	var payload struct {
		Data string `json:"data"`
	}
	if err := json.Unmarshal([]byte(output), &payload); err != nil || payload.Data == "" {
		payload.Data = output
	}
	return models.Item{
		Type:   models.ItemTypeImageGenerationCall,
		CallID: callID,
		Status: models.ItemStatusCompleted,
		Result: payload.Data,
	}
}
