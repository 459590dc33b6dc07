package responses

import (
	"encoding/json"
	"strings"

	"github.com/openrelay-ai/openrelay/pkg/models"
)

// searchOutput is the JSON payload written by the file_search and
// agentic_search tools into their function_call_output.
type searchOutput struct {
	Data []struct {
		FileID   string `json:"file_id"`
		Filename string `json:"filename"`
	} `json:"data"`
	Annotations []models.Annotation `json:"annotations"`
}

// collectAnnotations gathers file_citation annotations from the most
// recent search tool output in the input list.
func collectAnnotations(inputItems []models.Item) []models.Annotation {
	return fileCitationsFromInput(inputItems)
}

// rawChoiceAnnotations mirrors the slice of the wire completion body the
// typed SDK decoding drops: per choice, the assistant message's
// annotations array.
type rawChoiceAnnotations struct {
	Choices []struct {
		Message struct {
			Annotations []struct {
				Type        string `json:"type"`
				URLCitation *struct {
					URL        string `json:"url"`
					Title      string `json:"title"`
					StartIndex int    `json:"start_index"`
					EndIndex   int    `json:"end_index"`
				} `json:"url_citation"`
			} `json:"annotations"`
		} `json:"message"`
	} `json:"choices"`
}

// AttachURLCitations decodes the raw completion body for url_citation
// annotations and appends them to the matching message items of resp.
// Choices pair with message items in order; a body that fails to parse
// or carries no annotations leaves resp untouched.
func AttachURLCitations(resp *models.Response, raw []byte) {
	if len(raw) == 0 {
		return
	}
	var body rawChoiceAnnotations
	if err := json.Unmarshal(raw, &body); err != nil {
		return
	}

	var msgIdx []int
	for i, item := range resp.Output {
		if item.Type == models.ItemTypeMessage && len(item.Content) > 0 {
			msgIdx = append(msgIdx, i)
		}
	}
	if len(msgIdx) == 0 {
		return
	}

	for choice, c := range body.Choices {
		var citations []models.Annotation
		for _, a := range c.Message.Annotations {
			if a.Type != models.AnnotationURLCitation || a.URLCitation == nil {
				continue
			}
			citations = append(citations, models.Annotation{
				Type:       models.AnnotationURLCitation,
				URL:        a.URLCitation.URL,
				Title:      a.URLCitation.Title,
				StartIndex: a.URLCitation.StartIndex,
				EndIndex:   a.URLCitation.EndIndex,
			})
		}
		if len(citations) == 0 {
			continue
		}
		target := msgIdx[min(choice, len(msgIdx)-1)]
		part := &resp.Output[target].Content[0]
		part.Annotations = append(part.Annotations, citations...)
	}
}

// fileCitationsFromInput inspects the last input item: when it is the
// output of a search tool, its payload is parsed into file_citation
// annotations. A payload that fails to parse is ignored.
func fileCitationsFromInput(items []models.Item) []models.Annotation {
	if len(items) == 0 {
		return nil
	}
	last := items[len(items)-1]
	if last.Type != models.ItemTypeFunctionCallOutput {
		return nil
	}
	if !isSearchCall(items, last.CallID) {
		return nil
	}

	var payload searchOutput
	if err := json.Unmarshal([]byte(last.Output), &payload); err != nil {
		return nil
	}
	if len(payload.Annotations) > 0 {
		return payload.Annotations
	}

	annotations := make([]models.Annotation, 0, len(payload.Data))
	for i, d := range payload.Data {
		if d.FileID == "" {
			continue
		}
		annotations = append(annotations, models.Annotation{
			Type:     models.AnnotationFileCitation,
			FileID:   d.FileID,
			Filename: d.Filename,
			Index:    i,
		})
	}
	return annotations
}

// isSearchCall reports whether the function_call matching callID names a
// search tool.
func isSearchCall(items []models.Item, callID string) bool {
	for _, item := range items {
		if item.Type != models.ItemTypeFunctionCall || item.CallID != callID {
			continue
		}
		return strings.Contains(item.Name, models.ToolTypeFileSearch) ||
			strings.Contains(item.Name, models.ToolTypeAgenticSearch)
	}
	return false
}
