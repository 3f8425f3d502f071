package turn

import (
	"fmt"
	"regexp"
	"strings"

	"halcyon/voice/internal/rag"
)

// correctionMarkers signal self-correction. A marker inside any incoming
// partial or final cancels speculation immediately, before the debounce
// would. Matching is word-bounded and case-insensitive.
var correctionMarkers = regexp.MustCompile(`(?i)\b(actually|wait|sorry|no)\b`)

func hasCorrectionMarker(text string) bool {
	return correctionMarkers.MatchString(text)
}

// buildSystemPrompt splices retrieved snippets into the base prompt with
// source and relevance attribution.
func buildSystemPrompt(base string, snippets []rag.Snippet) string {
	if len(snippets) == 0 {
		return base
	}
	var ctx strings.Builder
	for i, s := range snippets {
		if i > 0 {
			ctx.WriteString("\n\n")
		}
		fmt.Fprintf(&ctx, "[Source: %s - Relevance: %.2f]\n%s", s.SourceID, s.Score, s.Text)
	}
	return base + "\n\n" +
		"You have access to the following relevant information from the user's knowledge base:\n\n" +
		ctx.String() + "\n\n" +
		"Instructions for using this information:\n" +
		"- Answer the user's question based PRIMARILY on the provided context\n" +
		"- If the context doesn't contain the answer, clearly say \"I don't have that information in your knowledge base\"\n" +
		"- Do NOT make up or hallucinate information not present in the context\n" +
		"- Cite sources naturally\n" +
		"- Keep responses concise for voice delivery (2-3 sentences max)\n"
}
