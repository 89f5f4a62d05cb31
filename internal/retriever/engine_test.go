package retriever

import (
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/nextlevelbuilder/nutribot/internal/config"
)

func TestChunkTextShortTextSingleChunk(t *testing.T) {
	chunks := chunkText("short note", 100, 20)
	if len(chunks) != 1 || chunks[0] != "short note" {
		t.Errorf("got %v", chunks)
	}
}

func TestChunkTextEmpty(t *testing.T) {
	if chunks := chunkText("   \n ", 100, 20); chunks != nil {
		t.Errorf("got %v, want nil", chunks)
	}
}

func TestChunkTextSplitsWithOverlap(t *testing.T) {
	text := strings.Repeat("word ", 100) // 500 chars
	chunks := chunkText(text, 120, 30)
	if len(chunks) < 4 {
		t.Fatalf("got %d chunks", len(chunks))
	}
	for i, c := range chunks {
		if len([]rune(c)) > 120 {
			t.Errorf("chunk %d is %d runes", i, len([]rune(c)))
		}
	}
}

func TestChunkTextPrefersSentenceBoundary(t *testing.T) {
	text := "First sentence is here. Second sentence follows after. Third one rounds it out and keeps going for a while longer."
	chunks := chunkText(text, 60, 0)
	if len(chunks) < 2 {
		t.Fatalf("got %d chunks", len(chunks))
	}
	if !strings.HasSuffix(chunks[0], ".") {
		t.Errorf("first chunk %q does not end at a sentence", chunks[0])
	}
}

func TestLoadCorpusMissingDir(t *testing.T) {
	docs, err := loadCorpus("/nonexistent/corpus", 1000, 100)
	if err != nil {
		t.Fatal(err)
	}
	if docs != nil {
		t.Errorf("got %d docs, want none", len(docs))
	}
}

func TestLoadCorpusReadsMarkdownAndText(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "ckd.md", "CKD patients should limit potassium intake.")
	writeFile(t, dir, "notes.txt", "Warfarin interacts with vitamin K.")
	writeFile(t, dir, "ignore.pdf", "binary-ish")
	writeFile(t, dir, ".hidden.md", "skipped")

	docs, err := loadCorpus(dir, 1000, 100)
	if err != nil {
		t.Fatal(err)
	}
	if len(docs) != 2 {
		t.Fatalf("got %d docs, want 2", len(docs))
	}
	sources := map[string]bool{}
	for _, d := range docs {
		sources[d.Source] = true
	}
	if !sources["ckd.md"] || !sources["notes.txt"] {
		t.Errorf("got sources %v", sources)
	}
}

func TestCosineSimilarity(t *testing.T) {
	tests := []struct {
		name string
		a, b []float32
		want float64
	}{
		{"identical", []float32{1, 0}, []float32{1, 0}, 1},
		{"orthogonal", []float32{1, 0}, []float32{0, 1}, 0},
		{"opposite", []float32{1, 0}, []float32{-1, 0}, -1},
		{"zero vector", []float32{0, 0}, []float32{1, 0}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := cosineSimilarity(tt.a, tt.b)
			if math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("got %f, want %f", got, tt.want)
			}
		})
	}
}

func TestEngineFallsBackToSeedKnowledge(t *testing.T) {
	cfg := config.RetrieverConfig{CorpusDir: filepath.Join(t.TempDir(), "empty"), TopK: 3}
	e, err := NewEngine(context.Background(), cfg, nil)
	if err != nil {
		t.Fatal(err)
	}
	if e.Size() != len(seedKnowledge) {
		t.Errorf("got %d chunks, want %d", e.Size(), len(seedKnowledge))
	}

	results, err := e.Search(context.Background(), "Can I eat bananas with kidney disease?", "Medical Conditions: CKD Stage 3", 3)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) == 0 {
		t.Fatal("no results")
	}
	if !strings.Contains(results[0], "potassium") {
		t.Errorf("top result %q not about potassium", results[0])
	}
}

func TestKeywordSearchRanksByOverlap(t *testing.T) {
	docs := []Document{
		{Text: "Hypertension patients should limit sodium."},
		{Text: "Diabetes patients should focus on low glycemic index foods."},
		{Text: "Warfarin patients should limit vitamin K and leafy greens."},
	}
	results := searchKeywords("warfarin vitamin interactions", "", docs, 2)
	if len(results) == 0 {
		t.Fatal("no results")
	}
	if !strings.Contains(results[0], "Warfarin") {
		t.Errorf("got %q", results[0])
	}
}

func TestKeywordSearchReturnsHeadWhenNoMatch(t *testing.T) {
	docs := []Document{{Text: "alpha"}, {Text: "beta"}, {Text: "gamma"}}
	results := searchKeywords("zzz qqq", "", docs, 2)
	if len(results) != 2 || results[0] != "alpha" {
		t.Errorf("got %v", results)
	}
}

type fakeEmbedder struct {
	vectors map[string][]float32
	err     error
	calls   int
}

func (f *fakeEmbedder) Embed(_ context.Context, _ string, inputs []string) ([][]float32, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	out := make([][]float32, len(inputs))
	for i, in := range inputs {
		v, ok := f.vectors[in]
		if !ok {
			v = []float32{0, 0, 1}
		}
		out[i] = v
	}
	return out, nil
}

func TestEngineEmbeddingSearch(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.md", "bananas are high in potassium")
	writeFile(t, dir, "b.md", "sodium raises blood pressure")

	fe := &fakeEmbedder{vectors: map[string][]float32{
		"bananas are high in potassium": {1, 0, 0},
		"sodium raises blood pressure":  {0, 1, 0},
		"can I eat bananas?":            {0.9, 0.1, 0},
	}}
	cfg := config.RetrieverConfig{CorpusDir: dir, ChunkSize: 1000, TopK: 2, MinScore: 0.25}
	e, err := NewEngine(context.Background(), cfg, fe)
	if err != nil {
		t.Fatal(err)
	}

	results, err := e.Search(context.Background(), "can I eat bananas?", "", 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 1 {
		t.Fatalf("got %d results %v, want 1 above min score", len(results), results)
	}
	if results[0] != "bananas are high in potassium" {
		t.Errorf("got %q", results[0])
	}
}

func TestEngineKeywordFallbackWhenEmbedderFails(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.md", "warfarin interacts with vitamin K")

	fe := &fakeEmbedder{err: errors.New("quota exceeded")}
	cfg := config.RetrieverConfig{CorpusDir: dir, ChunkSize: 1000, TopK: 2}
	e, err := NewEngine(context.Background(), cfg, fe)
	if err != nil {
		t.Fatal(err)
	}

	results, err := e.Search(context.Background(), "warfarin diet", "", 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 1 || !strings.Contains(results[0], "warfarin") {
		t.Errorf("got %v", results)
	}
}

func TestEngineReloadPicksUpNewFiles(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.md", "first document")

	cfg := config.RetrieverConfig{CorpusDir: dir, ChunkSize: 1000, TopK: 4}
	e, err := NewEngine(context.Background(), cfg, nil)
	if err != nil {
		t.Fatal(err)
	}
	if e.Size() != 1 {
		t.Fatalf("got %d chunks", e.Size())
	}

	writeFile(t, dir, "b.md", "second document")
	if err := e.Reload(context.Background()); err != nil {
		t.Fatal(err)
	}
	if e.Size() != 2 {
		t.Errorf("got %d chunks after reload, want 2", e.Size())
	}
}

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}
