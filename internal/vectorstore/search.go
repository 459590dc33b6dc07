package vectorstore

import (
	"context"
	"fmt"
	"sort"

	"github.com/openrelay-ai/openrelay/pkg/models"
)

// rrfK dampens the rank contribution in reciprocal rank fusion.
const rrfK = 60

// overfetchFactor widens the per-index candidate pool before fusion.
const overfetchFactor = 4

// Reranker reorders fused candidates. The default deployment has none
// and keeps the fused order.
type Reranker interface {
	Rerank(ctx context.Context, query string, hits []Hit) ([]Hit, error)
}

// Searcher runs hybrid retrieval: dense nearest-neighbour and keyword
// matches fused by reciprocal rank, optionally reranked.
type Searcher struct {
	embedder Embedder
	index    Index
	lexical  *LexicalIndex
	reranker Reranker
	minScore float64
}

// NewSearcher wires the retrieval pipeline. lexical and reranker may be
// nil, degrading to dense-only search in fused order.
func NewSearcher(embedder Embedder, index Index, lexical *LexicalIndex, reranker Reranker, minScore float64) *Searcher {
	return &Searcher{
		embedder: embedder,
		index:    index,
		lexical:  lexical,
		reranker: reranker,
		minScore: minScore,
	}
}

// Search retrieves the top chunks for query within one store.
func (s *Searcher) Search(ctx context.Context, storeID string, req models.VectorSearchRequest) ([]models.VectorSearchResult, error) {
	limit := req.MaxNumResults
	if limit <= 0 {
		limit = 10
	}
	pool := limit * overfetchFactor

	vectors, err := s.embedder.Embed(ctx, []string{req.Query})
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	dense, err := s.index.Query(ctx, storeID, vectors[0], pool, s.minScore, req.Filters)
	if err != nil {
		return nil, fmt.Errorf("vector query: %w", err)
	}

	var sparse []Hit
	if s.lexical != nil {
		sparse, err = s.lexical.Query(ctx, storeID, req.Query, pool)
		if err != nil {
			return nil, fmt.Errorf("lexical query: %w", err)
		}
		sparse = restrictToDense(sparse, dense, req.Filters)
	}

	fused := fuseRanks(dense, sparse)
	if s.reranker != nil && len(fused) > 1 {
		fused, err = s.reranker.Rerank(ctx, req.Query, fused)
		if err != nil {
			return nil, fmt.Errorf("rerank: %w", err)
		}
	}

	if req.RankingOptions != nil && req.RankingOptions.ScoreThreshold != nil {
		threshold := *req.RankingOptions.ScoreThreshold
		kept := fused[:0]
		for _, hit := range fused {
			if hit.Score >= threshold {
				kept = append(kept, hit)
			}
		}
		fused = kept
	}
	if len(fused) > limit {
		fused = fused[:limit]
	}

	results := make([]models.VectorSearchResult, 0, len(fused))
	for _, hit := range fused {
		results = append(results, models.VectorSearchResult{
			FileID:     hit.Chunk.FileID,
			Filename:   hit.Filename,
			Score:      hit.Score,
			Attributes: hit.Attributes,
			Content:    []models.ResultContent{{Type: "text", Text: hit.Chunk.Text}},
		})
	}
	return results, nil
}

// restrictToDense drops keyword matches whose file is excluded by the
// attribute filter, using the dense hits as the attribute source. When a
// filter is set, files absent from the dense pool are dropped outright:
// the lexical index carries no attributes to check against.
func restrictToDense(sparse, dense []Hit, filter *models.Filter) []Hit {
	if filter == nil {
		return sparse
	}
	allowed := make(map[string]Hit, len(dense))
	for _, hit := range dense {
		allowed[hit.Chunk.FileID] = hit
	}
	kept := sparse[:0]
	for _, hit := range sparse {
		source, ok := allowed[hit.Chunk.FileID]
		if !ok {
			continue
		}
		hit.Filename = source.Filename
		hit.Attributes = source.Attributes
		kept = append(kept, hit)
	}
	return kept
}

// fuseRanks merges the two ranked lists with reciprocal rank fusion,
// keyed by chunk id. Chunk payloads prefer the dense hit, which carries
// filename and attributes.
func fuseRanks(dense, sparse []Hit) []Hit {
	type fusion struct {
		hit   Hit
		score float64
		order int
	}
	byChunk := make(map[string]*fusion)

	add := func(hits []Hit) {
		for rank, hit := range hits {
			f, ok := byChunk[hit.Chunk.ChunkID]
			if !ok {
				f = &fusion{hit: hit, order: len(byChunk)}
				byChunk[hit.Chunk.ChunkID] = f
			}
			f.score += 1 / float64(rrfK+rank+1)
		}
	}
	// Dense first so the kept payload carries filename and attributes.
	add(dense)
	add(sparse)

	fused := make([]*fusion, 0, len(byChunk))
	for _, f := range byChunk {
		fused = append(fused, f)
	}
	sort.Slice(fused, func(i, j int) bool {
		if fused[i].score != fused[j].score {
			return fused[i].score > fused[j].score
		}
		return fused[i].order < fused[j].order
	})

	out := make([]Hit, len(fused))
	for i, f := range fused {
		out[i] = f.hit
		out[i].Score = f.score
	}
	return out
}
