package retriever

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"
)

// Document is one chunk of corpus text with its origin.
type Document struct {
	Source string // file path relative to the corpus dir
	Text   string
}

// loadCorpus walks dir and chunks every .md and .txt file. A missing or
// empty dir is not an error: the engine falls back to seed knowledge.
func loadCorpus(dir string, chunkSize, chunkOverlap int) ([]Document, error) {
	if dir == "" {
		return nil, nil
	}
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return nil, nil
	}

	var docs []Document
	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || strings.HasPrefix(d.Name(), ".") {
			return nil
		}
		ext := strings.ToLower(filepath.Ext(path))
		if ext != ".md" && ext != ".txt" {
			return nil
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read %s: %w", path, err)
		}
		if !utf8.Valid(data) {
			slog.Warn("retriever: skipping non-UTF8 file", "path", path)
			return nil
		}

		rel, relErr := filepath.Rel(dir, path)
		if relErr != nil {
			rel = path
		}
		for _, chunk := range chunkText(string(data), chunkSize, chunkOverlap) {
			docs = append(docs, Document{Source: rel, Text: chunk})
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk corpus: %w", err)
	}
	return docs, nil
}

// chunkText splits text into overlapping chunks of at most size runes,
// preferring to break at paragraph then sentence boundaries.
func chunkText(text string, size, overlap int) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if size <= 0 {
		return []string{text}
	}
	if overlap < 0 || overlap >= size {
		overlap = 0
	}

	runes := []rune(text)
	if len(runes) <= size {
		return []string{text}
	}

	var chunks []string
	start := 0
	for start < len(runes) {
		end := start + size
		if end >= len(runes) {
			chunk := strings.TrimSpace(string(runes[start:]))
			if chunk != "" {
				chunks = append(chunks, chunk)
			}
			break
		}

		cut := breakPoint(runes[start:end])
		end = start + cut
		chunk := strings.TrimSpace(string(runes[start:end]))
		if chunk != "" {
			chunks = append(chunks, chunk)
		}

		next := end - overlap
		if next <= start {
			next = end
		}
		start = next
	}
	return chunks
}

// breakPoint finds the best split position within window: the last
// paragraph break, else the last sentence end, else the window length.
func breakPoint(window []rune) int {
	s := string(window)
	if i := strings.LastIndex(s, "\n\n"); i > len(s)/2 {
		return len([]rune(s[:i]))
	}
	for _, sep := range []string{". ", ".\n", "! ", "? "} {
		if i := strings.LastIndex(s, sep); i > len(s)/2 {
			return len([]rune(s[:i+1]))
		}
	}
	return len(window)
}
