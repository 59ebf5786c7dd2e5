package retrieval

import (
	"fmt"
	"strings"
	"text/template"

	"arbitration-rag/internal/domain"
)

const (
	noSourcesAnswer   = "No relevant sources were found in the case corpus for this question."
	generationApology = "Sorry, an answer could not be generated right now. The retrieved sources are listed below."
)

var promptTemplate = template.Must(template.New("prompt").Funcs(template.FuncMap{
	"inc":  func(i int) int { return i + 1 },
	"date": formatDate,
	"trim": strings.TrimSpace,
}).Parse(`You are a legal research assistant for investment arbitration cases.
Answer the question strictly from the context below. Cite every source you rely on by its number, for example [1].
If the context is insufficient to answer, say so explicitly instead of guessing.

Context:
{{range $i, $r := .Results}}[{{inc $i}}] score {{printf "%.3f" $r.Score}} | {{$r.Chunk.Metadata.CaseTitle}} | {{$r.Chunk.Metadata.DocumentType}}: {{$r.Chunk.Metadata.DocumentTitle}} | date: {{date $r.Chunk.Metadata.Date}}
{{trim $r.Chunk.Content}}

{{end}}Question: {{.Query}}
Answer:`))

func formatDate(d string) string {
	if d == "" {
		return "unknown"
	}
	return d
}

// BuildPrompt renders the grounded prompt for query over the ranked results.
func BuildPrompt(query string, results []domain.SearchResult) (string, error) {
	var sb strings.Builder
	err := promptTemplate.Execute(&sb, struct {
		Query   string
		Results []domain.SearchResult
	}{Query: query, Results: results})
	if err != nil {
		return "", fmt.Errorf("render prompt: %w", err)
	}
	return sb.String(), nil
}
