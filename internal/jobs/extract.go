package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/docscope/docscope/internal/rag"
)

// templateFields are the columns of the evidence discovery table. Every
// document row carries all of them; the model fills what it can and the
// rest defaults to "Unknown".
var templateFields = []string{
	"date",
	"document_type",
	"summary",
	"author",
	"persons_mentioned",
	"language",
}

const extractSystemPrompt = `You are a document analysis assistant. Extract metadata from the document excerpt and respond with a single JSON object, no prose. Use "Unknown" for anything the excerpt does not state.`

// extractFields runs template extraction for one document: read its
// leading chunks, ask the model for structured metadata, parse the JSON.
func (m *Manager) extractFields(ctx context.Context, documentID string) (map[string]string, error) {
	chunks, err := m.chunks.DocumentChunks(ctx, documentID, m.config.ContextMaxChunks)
	if err != nil {
		return nil, fmt.Errorf("%w: loading document chunks: %v", rag.ErrRetrievalUnavailable, err)
	}
	if len(chunks) == 0 {
		return nil, fmt.Errorf("document %s has no indexed content", documentID)
	}

	raw, err := m.generator.Generate(ctx, extractSystemPrompt, buildExtractPrompt(chunks, m.config.ContextMaxChars))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", rag.ErrGenerationFailed, err)
	}

	fields, err := parseExtractedFields(raw)
	if err != nil {
		return nil, fmt.Errorf("parsing extraction output: %w", err)
	}
	return fields, nil
}

func buildExtractPrompt(chunks []rag.Chunk, maxChars int) string {
	var b strings.Builder
	b.WriteString("Document excerpt:\n\n")
	for _, c := range chunks {
		if maxChars > 0 && b.Len()+len(c.Text) > maxChars {
			remaining := maxChars - b.Len()
			if remaining > 0 {
				b.WriteString(c.Text[:remaining])
			}
			break
		}
		b.WriteString(c.Text)
		b.WriteString("\n\n")
	}

	b.WriteString("Extract the following fields as JSON: ")
	b.WriteString(strings.Join(templateFields, ", "))
	b.WriteString(`. Example: {"date": "2023-05-01", "document_type": "contract", "summary": "...", "author": "...", "persons_mentioned": "...", "language": "en"}`)
	return b.String()
}

// parseExtractedFields tolerates markdown fences and extra prose around
// the JSON object. Array values are flattened to comma-separated strings.
func parseExtractedFields(raw string) (map[string]string, error) {
	cleaned := stripCodeFence(raw)

	start := strings.Index(cleaned, "{")
	end := strings.LastIndex(cleaned, "}")
	if start < 0 || end <= start {
		return nil, fmt.Errorf("no JSON object in model output")
	}

	var parsed map[string]interface{}
	if err := json.Unmarshal([]byte(cleaned[start:end+1]), &parsed); err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}

	fields := make(map[string]string, len(templateFields))
	for _, name := range templateFields {
		fields[name] = "Unknown"
	}
	for key, value := range parsed {
		fields[key] = flattenValue(value)
	}
	return fields, nil
}

func flattenValue(value interface{}) string {
	switch v := value.(type) {
	case string:
		if strings.TrimSpace(v) == "" {
			return "Unknown"
		}
		return v
	case []interface{}:
		parts := make([]string, 0, len(v))
		for _, item := range v {
			parts = append(parts, flattenValue(item))
		}
		if len(parts) == 0 {
			return "Unknown"
		}
		return strings.Join(parts, ", ")
	case nil:
		return "Unknown"
	default:
		return fmt.Sprintf("%v", v)
	}
}

func stripCodeFence(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if !strings.HasPrefix(trimmed, "```") {
		return trimmed
	}
	trimmed = strings.TrimPrefix(trimmed, "```json")
	trimmed = strings.TrimPrefix(trimmed, "```")
	trimmed = strings.TrimSuffix(strings.TrimSpace(trimmed), "```")
	return strings.TrimSpace(trimmed)
}
