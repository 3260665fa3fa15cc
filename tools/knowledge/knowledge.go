// Package knowledge provides a vector store search tool, letting an agent
// query its knowledge base on demand instead of through automatic
// retrieval.
package knowledge

import (
	"context"
	"fmt"
	"strings"

	"github.com/braid-ai/braid"
)

// SearchTool returns a tool that embeds a query and answers it from the
// vector store. topK values of zero or less fall back to braid.DefaultTopK.
func SearchTool(embedder braid.EmbeddingProvider, store braid.VectorStore, topK int) *braid.Tool {
	if topK <= 0 {
		topK = braid.DefaultTopK
	}
	return braid.NewTool(
		"knowledge_search",
		"Search the knowledge base for previously stored documents relevant to a query.",
		[]braid.ToolProperty{{
			Name:        "query",
			Type:        braid.TypeString,
			Description: "Search query",
			Required:    true,
		}},
		func(ctx context.Context, args map[string]any) (any, error) {
			query, _ := args["query"].(string)
			if strings.TrimSpace(query) == "" {
				return nil, fmt.Errorf("query is required")
			}

			embs, err := embedder.Embed(ctx, []string{query})
			if err != nil {
				return nil, &braid.EmbeddingError{Provider: embedder.Name(), Message: "embed query", Err: err}
			}
			if len(embs) == 0 {
				return nil, &braid.EmbeddingError{Provider: embedder.Name(), Message: "no embedding returned"}
			}

			docs, err := store.SimilaritySearch(ctx, embs[0], topK)
			if err != nil {
				return nil, err
			}
			if len(docs) == 0 {
				return fmt.Sprintf("No relevant information found for %q.", query), nil
			}

			var out strings.Builder
			for i, d := range docs {
				fmt.Fprintf(&out, "%d. %s", i+1, d.Content)
				if d.SourceName != "" {
					fmt.Fprintf(&out, " (source: %s)", d.SourceName)
				}
				out.WriteByte('\n')
			}
			return strings.TrimSpace(out.String()), nil
		},
	)
}
