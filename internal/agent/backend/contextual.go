package backend

import (
	"encoding/json"
	"fmt"
	"strings"
)

const transcriptionPrompt = `You are transcribing a business document (invoice, receipt or delivery note).
Return every line of text exactly as printed, top to bottom, keeping amounts,
dates, invoice numbers and line items intact. Do not translate or summarize.

Respond with a single JSON object and nothing else:
{"text": "<full transcription, lines separated by \n>", "confidence": <0-100 estimate of transcription accuracy>}`

// transcription is the reply expected from a contextual model.
type transcription struct {
	Text       string   `json:"text"`
	Confidence *float64 `json:"confidence"`
}

// parseTranscription decodes a model reply, tolerating markdown fences and
// prose around the JSON object.
func parseTranscription(content string) (*transcription, error) {
	raw := extractJSON(content)
	var t transcription
	if err := json.Unmarshal([]byte(raw), &t); err != nil {
		return nil, fmt.Errorf("%w: %v", errMalformedResponse, err)
	}
	if strings.TrimSpace(t.Text) == "" {
		return nil, fmt.Errorf("%w: empty transcription", errMalformedResponse)
	}
	return &t, nil
}

func (t *transcription) confidence(fallback float64) float64 {
	if t.Confidence == nil {
		return fallback
	}
	return *t.Confidence
}

func extractJSON(content string) string {
	content = strings.TrimSpace(content)
	if strings.HasPrefix(content, "```") {
		start := 3
		if nl := strings.Index(content[start:], "\n"); nl != -1 {
			start += nl + 1
		}
		if end := strings.Index(content[start:], "```"); end != -1 {
			content = content[start : start+end]
		} else {
			content = content[start:]
		}
	}
	if first := strings.Index(content, "{"); first != -1 {
		if last := strings.LastIndex(content, "}"); last > first {
			content = content[first : last+1]
		}
	}
	return strings.TrimSpace(content)
}
