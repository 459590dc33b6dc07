package vectorstore

import (
	"context"
	"testing"

	"github.com/openrelay-ai/openrelay/pkg/models"
)

// fakeEmbedder maps known texts onto fixed vectors.
type fakeEmbedder struct {
	vectors map[string][]float32
	dim     int
}

func (e *fakeEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		if v, ok := e.vectors[text]; ok {
			out[i] = v
			continue
		}
		v := make([]float32, e.dim)
		v[0] = 1
		out[i] = v
	}
	return out, nil
}

func (e *fakeEmbedder) Dimension() int { return e.dim }

func TestFuseRanks(t *testing.T) {
	mk := func(id string) Hit {
		return Hit{Chunk: models.Chunk{ChunkID: id, FileID: "file-" + id, Text: id}, Filename: id + ".txt"}
	}

	dense := []Hit{mk("a"), mk("b"), mk("c")}
	sparse := []Hit{mk("b"), mk("d")}

	fused := fuseRanks(dense, sparse)
	if len(fused) != 4 {
		t.Fatalf("got %d fused hits, want 4", len(fused))
	}

	// "b" appears in both lists (ranks 2 and 1) and must outrank "a"
	// (dense rank 1 only): 1/62 + 1/61 > 1/61.
	if fused[0].Chunk.ChunkID != "b" {
		t.Errorf("fused[0] = %s, want b", fused[0].Chunk.ChunkID)
	}
	if fused[1].Chunk.ChunkID != "a" {
		t.Errorf("fused[1] = %s, want a", fused[1].Chunk.ChunkID)
	}

	// The dense payload wins for shared chunks.
	if fused[0].Filename != "b.txt" {
		t.Errorf("fused[0].Filename = %q", fused[0].Filename)
	}

	// Scores are RRF scores, descending.
	for i := 1; i < len(fused); i++ {
		if fused[i].Score > fused[i-1].Score {
			t.Errorf("fused order broken at %d: %f > %f", i, fused[i].Score, fused[i-1].Score)
		}
	}
}

func TestFuseRanksTieBreak(t *testing.T) {
	// Equal single-list ranks tie on score; insertion order (dense first)
	// breaks the tie deterministically.
	dense := []Hit{{Chunk: models.Chunk{ChunkID: "x"}}}
	sparse := []Hit{{Chunk: models.Chunk{ChunkID: "y"}}}

	fused := fuseRanks(dense, sparse)
	if len(fused) != 2 || fused[0].Chunk.ChunkID != "x" {
		t.Errorf("tie break should prefer the dense hit: %+v", fused)
	}
}

func TestRestrictToDense(t *testing.T) {
	dense := []Hit{
		{Chunk: models.Chunk{ChunkID: "c1", FileID: "file-a"}, Filename: "a.txt", Attributes: map[string]any{"team": "infra"}},
	}
	sparse := []Hit{
		{Chunk: models.Chunk{ChunkID: "c2", FileID: "file-a"}},
		{Chunk: models.Chunk{ChunkID: "c3", FileID: "file-b"}},
	}
	filter := &models.Filter{Type: models.FilterTypeEq, Key: "team", Value: "infra"}

	kept := restrictToDense(sparse, dense, filter)
	if len(kept) != 1 || kept[0].Chunk.ChunkID != "c2" {
		t.Fatalf("kept = %+v, want only the chunk from file-a", kept)
	}
	if kept[0].Filename != "a.txt" || kept[0].Attributes["team"] != "infra" {
		t.Errorf("payload not copied from the dense hit: %+v", kept[0])
	}

	// Without a filter everything passes through untouched.
	if got := restrictToDense(sparse, dense, nil); len(got) != 2 {
		t.Errorf("nil filter dropped hits: %+v", got)
	}
}

func TestSearcherDenseOnly(t *testing.T) {
	ctx := context.Background()
	idx, err := NewFileIndex(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	embedder := &fakeEmbedder{dim: 2, vectors: map[string][]float32{
		"find north": {1, 0},
	}}

	chunks := []models.Chunk{
		{ChunkID: "c1", FileID: "file-1", Text: "north facing", Embedding: []float32{1, 0}},
		{ChunkID: "c2", FileID: "file-1", Text: "east facing", Embedding: []float32{0, 1}},
	}
	if err := idx.AddFile(ctx, "vs_1", "file-1", chunks, map[string]any{"filename": "doc.txt"}); err != nil {
		t.Fatal(err)
	}

	s := NewSearcher(embedder, idx, nil, nil, 0)
	results, err := s.Search(ctx, "vs_1", models.VectorSearchRequest{Query: "find north", MaxNumResults: 1})
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("got %d results, want 1", len(results))
	}
	got := results[0]
	if got.FileID != "file-1" || got.Filename != "doc.txt" {
		t.Errorf("result = %+v", got)
	}
	if len(got.Content) != 1 || got.Content[0].Text != "north facing" {
		t.Errorf("content = %+v", got.Content)
	}
}

func TestSearcherScoreThreshold(t *testing.T) {
	ctx := context.Background()
	idx, err := NewFileIndex(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	embedder := &fakeEmbedder{dim: 2}

	chunks := []models.Chunk{
		{ChunkID: "c1", FileID: "file-1", Text: "hit", Embedding: []float32{1, 0}},
	}
	if err := idx.AddFile(ctx, "vs_1", "file-1", chunks, nil); err != nil {
		t.Fatal(err)
	}

	s := NewSearcher(embedder, idx, nil, nil, 0)
	high := 10.0 // above any possible RRF score
	results, err := s.Search(ctx, "vs_1", models.VectorSearchRequest{
		Query:          "anything",
		RankingOptions: &models.RankingOptions{ScoreThreshold: &high},
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 0 {
		t.Errorf("threshold should drop everything, got %+v", results)
	}
}
