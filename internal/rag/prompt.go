package rag

import (
	"fmt"
	"strings"
)

const answerSystemPrompt = `You are a document analysis assistant. Answer the question using ONLY the numbered context passages provided. Cite every factual claim with the passage number in square brackets, e.g. [1] or [1, 3]. If the passages do not contain the answer, say so plainly instead of guessing. Do not cite passages that were not provided.`

// noEvidenceAnswer is returned without calling the model when retrieval
// comes back empty.
const noEvidenceAnswer = "I could not find any relevant passages for this question in the selected documents."

// BuildAnswerPrompt renders the user prompt for grounded answering:
// numbered context passages followed by the question. Passage numbers
// line up with evidence ranks, so the model's [n] markers map straight
// onto the evidence list.
func BuildAnswerPrompt(query string, evidence []EvidenceItem) string {
	var b strings.Builder
	b.WriteString("Context passages:\n\n")
	for i, item := range evidence {
		text := item.Text
		if text == "" {
			text = item.Snippet
		}
		fmt.Fprintf(&b, "[%d] %s (Page %d):\n%s\n\n", i+1, item.DocumentTitle, item.PageNumber, text)
	}
	b.WriteString("Question: ")
	b.WriteString(query)
	return b.String()
}
