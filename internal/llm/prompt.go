package llm

import (
	"encoding/json"
	"strings"
)

const insightSystemPrompt = "You are a concise personal finance assistant. " +
	"Use only the JSON summary you are given. Answer in plain text, at most six short sentences, " +
	"quoting amounts with the given currency symbol. Do not invent transactions."

func insightPrompt(req InsightRequest) string {
	payload, _ := json.Marshal(req)
	var b strings.Builder
	if q := strings.TrimSpace(req.Question); q != "" {
		b.WriteString("Question: ")
		b.WriteString(q)
		b.WriteString("\n\n")
	} else {
		b.WriteString("Give a short overview of spending and anything unusual.\n\n")
	}
	b.WriteString("Summary JSON:\n")
	b.Write(payload)
	return b.String()
}

// cleanText strips code fences a model may wrap around its answer.
func cleanText(raw string) string {
	s := strings.TrimSpace(raw)
	if strings.HasPrefix(s, "```") {
		if idx := strings.Index(s, "\n"); idx != -1 {
			s = s[idx+1:]
		}
		if idx := strings.LastIndex(s, "```"); idx != -1 {
			s = s[:idx]
		}
	}
	return strings.TrimSpace(s)
}
