package services

import (
	"fmt"
	"strings"

	"github/dantive/regbot/models"
)

// RefusalText is the exact sentence returned when retrieval cannot support an
// answer. Clients match on it verbatim.
const RefusalText = "I don't know based on the provided sources."

// BuildRAGPrompt assembles the single instruction string sent to generation:
// the question, the numbered evidence block, and the behavioral rules. The
// [n] numbering is 1-based in eligible-result order and must line up with the
// citations built from the same slice.
func BuildRAGPrompt(question string, eligible []models.RetrievalResult) string {
	var sb strings.Builder

	sb.WriteString("You are a regulatory assistant. Answer the question using ONLY the numbered sources below.\n\n")
	sb.WriteString("Rules:\n")
	sb.WriteString("- Use only the numbered sources. Do not rely on outside knowledge.\n")
	sb.WriteString(fmt.Sprintf("- If the sources are insufficient to answer, reply exactly: %q\n", RefusalText))
	sb.WriteString("- Cite every factual statement with [^n] matching the source number.\n\n")

	sb.WriteString("Sources:\n")
	for i, r := range eligible {
		sb.WriteString(fmt.Sprintf("[%d] %s\n", i+1, r.Text))
	}

	sb.WriteString("\nQuestion: ")
	sb.WriteString(question)
	sb.WriteString("\n\nAnswer:")
	return sb.String()
}
