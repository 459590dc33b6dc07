package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	schemagen "github.com/invopop/jsonschema"

	"github.com/openrelay-ai/openrelay/internal/vectorstore"
	"github.com/openrelay-ai/openrelay/pkg/models"
)

// searchArgs is the argument shape of both search tools.
type searchArgs struct {
	Query string `json:"query" jsonschema:"description=The search query,required"`
}

var searchArgsSchema = reflectSchema(&searchArgs{})

// reflectSchema derives a JSON schema from a Go argument struct.
func reflectSchema(v any) json.RawMessage {
	reflector := schemagen.Reflector{DoNotReference: true, Anonymous: true}
	data, err := json.Marshal(reflector.Reflect(v))
	if err != nil {
		return nil
	}
	return data
}

// searchResultPayload is the tool output the converter later mines for
// file citations.
type searchResultPayload struct {
	Data        []searchResultEntry `json:"data"`
	Annotations []models.Annotation `json:"annotations"`
}

type searchResultEntry struct {
	FileID   string  `json:"file_id"`
	Filename string  `json:"filename"`
	Score    float64 `json:"score"`
	Content  string  `json:"content"`
}

// fileSearchTool answers a single hybrid search over the configured
// vector stores.
type fileSearchTool struct {
	name    string
	vectors *vectorstore.Service
	def     models.ToolDef
}

func newFileSearchTool(name string, vectors *vectorstore.Service, def models.ToolDef) *fileSearchTool {
	return &fileSearchTool{name: name, vectors: vectors, def: def}
}

func (t *fileSearchTool) Name() string { return t.name }

func (t *fileSearchTool) Description() string {
	return "Search the attached vector stores for passages relevant to a query."
}

func (t *fileSearchTool) Parameters() json.RawMessage { return searchArgsSchema }

func (t *fileSearchTool) Execute(ctx context.Context, args json.RawMessage) (string, error) {
	var parsed searchArgs
	if err := json.Unmarshal(args, &parsed); err != nil {
		return "", fmt.Errorf("decode arguments: %w", err)
	}
	if strings.TrimSpace(parsed.Query) == "" {
		return marshalPayload(nil)
	}
	results, err := searchStores(ctx, t.vectors, t.def, parsed.Query)
	if err != nil {
		return "", err
	}
	return marshalPayload(results)
}

// searchStores fans one query out over every configured store and keeps
// the best results overall.
func searchStores(ctx context.Context, vectors *vectorstore.Service, def models.ToolDef, query string) ([]models.VectorSearchResult, error) {
	limit := def.MaxNumResults
	if limit <= 0 {
		limit = 10
	}

	req := models.VectorSearchRequest{
		Query:          query,
		MaxNumResults:  limit,
		RankingOptions: def.RankingOptions,
	}
	if len(def.Filters) > 0 {
		var filter models.Filter
		if err := json.Unmarshal(def.Filters, &filter); err != nil {
			return nil, fmt.Errorf("decode filters: %w", err)
		}
		req.Filters = &filter
	}

	var merged []models.VectorSearchResult
	for _, storeID := range def.VectorStoreIDs {
		results, err := vectors.Search(ctx, storeID, req)
		if err != nil {
			return nil, fmt.Errorf("search %s: %w", storeID, err)
		}
		merged = append(merged, results...)
	}
	sort.SliceStable(merged, func(i, j int) bool { return merged[i].Score > merged[j].Score })
	if len(merged) > limit {
		merged = merged[:limit]
	}
	return merged, nil
}

func marshalPayload(results []models.VectorSearchResult) (string, error) {
	payload := searchResultPayload{
		Data:        []searchResultEntry{},
		Annotations: []models.Annotation{},
	}
	for i, r := range results {
		text := ""
		if len(r.Content) > 0 {
			text = r.Content[0].Text
		}
		payload.Data = append(payload.Data, searchResultEntry{
			FileID:   r.FileID,
			Filename: r.Filename,
			Score:    r.Score,
			Content:  text,
		})
		payload.Annotations = append(payload.Annotations, models.Annotation{
			Type:     models.AnnotationFileCitation,
			FileID:   r.FileID,
			Filename: r.Filename,
			Index:    i,
		})
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal search results: %w", err)
	}
	return string(data), nil
}
