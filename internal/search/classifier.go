// Package search classifies free-text queries, expands them into embedding
// terms, and ranks stored products by vector similarity with a full-text
// fallback.
package search

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
)

// maxHistoryTurns caps how much conversational context reaches the prompt.
const maxHistoryTurns = 6

// maxClassifyResponseBytes limits LLM response size before JSON parsing (10 KB).
const maxClassifyResponseBytes = 10 * 1024

// classifierPrompt instructs the model to either answer conversationally or
// expand the query into search terms. %s placeholders: (1) history block,
// (2) query.
const classifierPrompt = `You are a query classifier for a grocery deal search system. Decide whether the user's input is casual conversation or a product search.

Rules:
- CHAT: greetings, thanks, questions about the system itself, or anything that is not about finding products. Answer briefly and helpfully.
- SEARCH: anything that could be a product, brand, category, meal, or shopping intent, even a single word. Expand it into a comma-separated list of concrete search terms (synonyms, related products, category words). Keep terms in the user's language.
- When in doubt, choose SEARCH.

Output format: a single JSON object, nothing else.
{"type": "CHAT", "message": "<your reply>", "terms": ""}
or
{"type": "SEARCH", "message": "<one short sentence about what you searched for>", "terms": "<comma-separated terms>"}
%s
User input: %s

JSON:`

// Classification is the parsed classifier verdict.
type Classification struct {
	Type    string `json:"type"`
	Message string `json:"message"`
	Terms   string `json:"terms"`
}

// IsChat reports whether the verdict is conversational.
func (c Classification) IsChat() bool { return c.Type == "CHAT" }

// markerRe extracts a verdict from almost-JSON output where strict parsing
// failed (truncated braces, trailing prose, single quotes).
var markerRe = regexp.MustCompile(`"type"\s*:\s*"(CHAT|SEARCH)"`)

var (
	messageRe = regexp.MustCompile(`"message"\s*:\s*"((?:[^"\\]|\\.)*)"`)
	termsRe   = regexp.MustCompile(`"terms"\s*:\s*"((?:[^"\\]|\\.)*)"`)
)

// Classifier wraps the generative model behind the strict-then-permissive
// parse contract.
type Classifier struct {
	g         *genkit.Genkit
	modelName string
	logger    *slog.Logger
}

// NewClassifier creates a Classifier.
func NewClassifier(g *genkit.Genkit, modelName string, logger *slog.Logger) (*Classifier, error) {
	if g == nil {
		return nil, fmt.Errorf("genkit instance is required")
	}
	if modelName == "" {
		return nil, fmt.Errorf("model name is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Classifier{g: g, modelName: modelName, logger: logger}, nil
}

// Classify sends the query (plus optional history) to the model and parses
// the verdict. It never returns an error: any failure falls open to SEARCH
// with the raw query as both message and terms, so a flaky model degrades
// to plain search instead of a dead end.
func (c *Classifier) Classify(ctx context.Context, query string, history []Turn) Classification {
	prompt := fmt.Sprintf(classifierPrompt, formatHistory(history), query)

	resp, err := genkit.Generate(ctx, c.g,
		ai.WithModelName(c.modelName),
		ai.WithPrompt(prompt),
	)
	if err != nil {
		c.logger.Warn("classifier generate failed, falling open to search", "error", err)
		return failOpen(query)
	}

	text := strings.TrimSpace(resp.Text())
	if text == "" || len(text) > maxClassifyResponseBytes {
		c.logger.Warn("classifier response unusable, falling open to search",
			"bytes", len(text))
		return failOpen(query)
	}

	if verdict, ok := parseStrict(text); ok {
		return normalize(verdict, query)
	}
	if verdict, ok := parsePermissive(text); ok {
		c.logger.Debug("classifier response parsed permissively",
			"raw", truncate(text, 200))
		return normalize(verdict, query)
	}

	c.logger.Warn("classifier response unparseable, falling open to search",
		"raw", truncate(text, 200))
	return failOpen(query)
}

// parseStrict expects exactly the documented JSON object.
func parseStrict(text string) (Classification, bool) {
	text = stripCodeFences(text)

	var verdict Classification
	if err := json.Unmarshal([]byte(text), &verdict); err != nil {
		return Classification{}, false
	}
	if verdict.Type != "CHAT" && verdict.Type != "SEARCH" {
		return Classification{}, false
	}
	return verdict, true
}

// parsePermissive scans for the recognizable markers of the contract inside
// otherwise malformed output.
func parsePermissive(text string) (Classification, bool) {
	m := markerRe.FindStringSubmatch(text)
	if m == nil {
		return Classification{}, false
	}

	verdict := Classification{Type: m[1]}
	if mm := messageRe.FindStringSubmatch(text); mm != nil {
		verdict.Message = unescape(mm[1])
	}
	if tm := termsRe.FindStringSubmatch(text); tm != nil {
		verdict.Terms = unescape(tm[1])
	}
	return verdict, true
}

// normalize fills the gaps a sloppy model leaves: a SEARCH verdict without
// terms searches the raw query.
func normalize(verdict Classification, query string) Classification {
	verdict.Message = strings.TrimSpace(verdict.Message)
	verdict.Terms = strings.TrimSpace(verdict.Terms)
	if verdict.Type == "SEARCH" && verdict.Terms == "" {
		verdict.Terms = query
	}
	return verdict
}

func failOpen(query string) Classification {
	return Classification{Type: "SEARCH", Message: query, Terms: query}
}

func formatHistory(history []Turn) string {
	if len(history) == 0 {
		return ""
	}
	if len(history) > maxHistoryTurns {
		history = history[len(history)-maxHistoryTurns:]
	}

	var b strings.Builder
	b.WriteString("\nRecent conversation:\n")
	for _, turn := range history {
		b.WriteString(turn.Role)
		b.WriteString(": ")
		b.WriteString(turn.Content)
		b.WriteByte('\n')
	}
	return b.String()
}

// stripCodeFences removes ```json ... ``` wrapping from LLM output.
func stripCodeFences(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		if idx := strings.Index(s, "\n"); idx != -1 {
			s = s[idx+1:]
		}
		if idx := strings.LastIndex(s, "```"); idx != -1 {
			s = s[:idx]
		}
		s = strings.TrimSpace(s)
	}
	return s
}

func unescape(s string) string {
	var out string
	if err := json.Unmarshal([]byte(`"`+s+`"`), &out); err != nil {
		return s
	}
	return out
}

// truncate shortens s to at most n bytes for logging.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
