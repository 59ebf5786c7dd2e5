// Package corpus reads arbitration case records from a directory of JSON files.
package corpus

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rs/zerolog"

	"arbitration-rag/internal/domain"
)

// DirLoader loads one CaseDocument per *.json file in Dir.
type DirLoader struct {
	Dir    string
	logger *zerolog.Logger
}

func NewDirLoader(dir string, logger *zerolog.Logger) *DirLoader {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &DirLoader{Dir: dir, logger: logger}
}

// LoadAll returns the documents in file name order. Files that cannot be
// read or parsed, or that have no Identifier, are logged and skipped.
func (l *DirLoader) LoadAll(ctx context.Context) ([]domain.CaseDocument, error) {
	entries, err := os.ReadDir(l.Dir)
	if err != nil {
		return nil, fmt.Errorf("read corpus dir %s: %w", l.Dir, err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() || !strings.EqualFold(filepath.Ext(e.Name()), ".json") {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)

	docs := make([]domain.CaseDocument, 0, len(names))
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		path := filepath.Join(l.Dir, name)
		doc, err := readCase(path)
		if err != nil {
			l.logger.Warn().Err(err).Str("file", path).Msg("skipping corpus file")
			continue
		}
		docs = append(docs, doc)
	}
	l.logger.Info().Int("files", len(names)).Int("cases", len(docs)).Str("dir", l.Dir).Msg("corpus loaded")
	return docs, nil
}

func readCase(path string) (domain.CaseDocument, error) {
	var doc domain.CaseDocument
	data, err := os.ReadFile(path)
	if err != nil {
		return doc, err
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return doc, fmt.Errorf("parse: %w", err)
	}
	if strings.TrimSpace(doc.Identifier) == "" {
		return doc, fmt.Errorf("missing Identifier")
	}
	return doc, nil
}

// StaticLoader serves documents already in memory.
type StaticLoader []domain.CaseDocument

func (s StaticLoader) LoadAll(context.Context) ([]domain.CaseDocument, error) {
	return []domain.CaseDocument(s), nil
}
