package bootstrap

import (
	"embed"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
)

//go:embed templates/*.md
var templateFS embed.FS

// Starter knowledge documents seeded into a fresh corpus directory.
var templateFiles = []string{
	"renal-diet.md",
	"drug-nutrient-interactions.md",
	"diabetes-nutrition.md",
	"hypertension-nutrition.md",
}

// ReadTemplate returns the content of an embedded starter document.
func ReadTemplate(name string) (string, error) {
	content, err := templateFS.ReadFile(filepath.Join("templates", name))
	if err != nil {
		return "", err
	}
	return string(content), nil
}

// EnsureCorpusFiles seeds starter knowledge documents into the corpus
// directory. Only writes files that don't already exist (will not
// overwrite clinician-maintained documents). Returns the list of files
// that were created.
func EnsureCorpusFiles(corpusDir string) ([]string, error) {
	if err := os.MkdirAll(corpusDir, 0755); err != nil {
		return nil, err
	}

	var created []string
	for _, name := range templateFiles {
		ok, err := seedTemplate(corpusDir, name)
		if err != nil {
			slog.Warn("bootstrap: failed to seed corpus document", "file", name, "error", err)
			continue
		}
		if ok {
			created = append(created, name)
		}
	}
	return created, nil
}

// seedTemplate writes a single embedded document if it doesn't exist.
// Returns true if the file was created.
func seedTemplate(corpusDir, name string) (bool, error) {
	target := filepath.Join(corpusDir, name)
	if _, err := os.Stat(target); err == nil {
		return false, nil
	} else if !os.IsNotExist(err) {
		return false, err
	}

	content, err := ReadTemplate(name)
	if err != nil {
		return false, fmt.Errorf("read embedded template %s: %w", name, err)
	}
	if err := os.WriteFile(target, []byte(content), 0644); err != nil {
		return false, fmt.Errorf("write %s: %w", target, err)
	}
	return true, nil
}
