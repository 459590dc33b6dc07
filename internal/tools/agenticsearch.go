package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/openrelay-ai/openrelay/internal/vectorstore"
	"github.com/openrelay-ai/openrelay/pkg/models"
)

// defaultSearchIterations bounds query relaxation when the request does
// not set max_iterations.
const defaultSearchIterations = 3

// agenticSearchTool is file search with query relaxation: when the full
// query comes back thin, it retries with progressively shorter queries
// until it has enough results or runs out of iterations.
type agenticSearchTool struct {
	name    string
	vectors *vectorstore.Service
	def     models.ToolDef
}

func newAgenticSearchTool(name string, vectors *vectorstore.Service, def models.ToolDef) *agenticSearchTool {
	return &agenticSearchTool{name: name, vectors: vectors, def: def}
}

func (t *agenticSearchTool) Name() string { return t.name }

func (t *agenticSearchTool) Description() string {
	return "Search the attached vector stores, retrying with relaxed queries until enough passages are found."
}

func (t *agenticSearchTool) Parameters() json.RawMessage { return searchArgsSchema }

func (t *agenticSearchTool) Execute(ctx context.Context, args json.RawMessage) (string, error) {
	var parsed searchArgs
	if err := json.Unmarshal(args, &parsed); err != nil {
		return "", fmt.Errorf("decode arguments: %w", err)
	}
	if strings.TrimSpace(parsed.Query) == "" {
		return marshalPayload(nil)
	}

	limit := t.def.MaxNumResults
	if limit <= 0 {
		limit = 10
	}
	iterations := t.def.MaxIterations
	if iterations <= 0 {
		iterations = defaultSearchIterations
	}

	seen := make(map[string]bool)
	var collected []models.VectorSearchResult
	query := parsed.Query
	for i := 0; i < iterations && query != ""; i++ {
		results, err := searchStores(ctx, t.vectors, t.def, query)
		if err != nil {
			return "", err
		}
		for _, r := range results {
			key := r.FileID + "\x00" + firstContent(r)
			if seen[key] {
				continue
			}
			seen[key] = true
			collected = append(collected, r)
		}
		if len(collected) >= limit {
			break
		}
		query = relaxQuery(query)
	}

	sort.SliceStable(collected, func(i, j int) bool { return collected[i].Score > collected[j].Score })
	if len(collected) > limit {
		collected = collected[:limit]
	}
	return marshalPayload(collected)
}

func firstContent(r models.VectorSearchResult) string {
	if len(r.Content) > 0 {
		return r.Content[0].Text
	}
	return ""
}

// relaxQuery drops the shortest term, widening the match on the next
// pass. Single-term queries relax to nothing.
func relaxQuery(query string) string {
	terms := strings.Fields(query)
	if len(terms) <= 1 {
		return ""
	}
	shortest := 0
	for i, term := range terms {
		if len(term) < len(terms[shortest]) {
			shortest = i
		}
	}
	return strings.Join(append(terms[:shortest], terms[shortest+1:]...), " ")
}
