package disambiguate

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/charity-cli/internal/match"
	"github.com/sells-group/charity-cli/internal/resilience"
	"github.com/sells-group/charity-cli/pkg/anthropic"
)

const systemPrompt = "You are a charity data matching expert. You match organization names to official Charity Commission register entries and answer only in JSON."

const userPrompt = `Original entity: %s
%s
Candidates from the charity register:
%s
Task: Determine if any of these candidates is a match for the original entity.

Respond in JSON format:
{
    "match_found": true/false,
    "selected_index": <1-based index of best match, or null>,
    "confidence": <0.0 to 1.0>,
    "reasoning": "<brief explanation>"
}

Consider:
- Name variations (abbreviations, spelling differences)
- Common organizational suffixes (Ltd, Charity, Foundation)
- Registration status
- Similarity scores

Be conservative - only match if confident it's the same organization.`

// defaultConfidence applies when the model omits a confidence.
const defaultConfidence = 0.8

// ClaudeConfig tunes the Claude disambiguator.
type ClaudeConfig struct {
	Model     string
	MaxTokens int64
	Timeout   time.Duration
}

// Claude asks an Anthropic model to choose among candidates.
type Claude struct {
	client  anthropic.Client
	cfg     ClaudeConfig
	breaker *resilience.Breaker
}

// NewClaude builds a Claude disambiguator. breaker may be nil.
func NewClaude(client anthropic.Client, cfg ClaudeConfig, breaker *resilience.Breaker) *Claude {
	if cfg.Model == "" {
		cfg.Model = "claude-haiku-4-5-20251001"
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 512
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	return &Claude{client: client, cfg: cfg, breaker: breaker}
}

// Available reports whether an Anthropic client is configured.
func (c *Claude) Available() bool { return c != nil && c.client != nil }

type aiResponse struct {
	MatchFound    bool     `json:"match_found"`
	SelectedIndex *int     `json:"selected_index"`
	Confidence    *float64 `json:"confidence"`
	Reasoning     string   `json:"reasoning"`
}

// Select returns the model's pick, or nil on no match or any failure.
func (c *Claude) Select(ctx context.Context, name string, candidates []match.Candidate, extra map[string]any) *Selection {
	if !c.Available() || len(candidates) == 0 {
		return nil
	}
	log := zap.L().With(zap.String("entity", name), zap.Int("candidates", len(candidates)))

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	temp := 0.1
	resp, err := resilience.Call(ctx, c.breaker, func(ctx context.Context) (*anthropic.Completion, error) {
		return c.client.Complete(ctx, anthropic.CompletionRequest{
			Model:       c.cfg.Model,
			MaxTokens:   c.cfg.MaxTokens,
			System:      systemPrompt,
			CacheSystem: true,
			Prompt:      BuildPrompt(name, candidates, extra),
			Temperature: &temp,
		})
	})
	if err != nil {
		log.Warn("disambiguate: ai call failed", zap.Error(err))
		return nil
	}
	resp.Usage.Log(c.cfg.Model, "disambiguate")

	sel, err := parseResponse(resp.Text, len(candidates))
	if err != nil {
		log.Warn("disambiguate: unparseable ai response", zap.Error(err))
		return nil
	}
	return sel
}

// BuildPrompt renders the user prompt for a disambiguation request.
func BuildPrompt(name string, candidates []match.Candidate, extra map[string]any) string {
	var ctxLines strings.Builder
	if len(extra) > 0 {
		keys := make([]string, 0, len(extra))
		for k := range extra {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		ctxLines.WriteString("Additional context:\n")
		for _, k := range keys {
			fmt.Fprintf(&ctxLines, "- %s: %v\n", k, extra[k])
		}
	}

	var cands strings.Builder
	for i, cand := range candidates {
		status := cand.Status
		if status == "" {
			status = "Unknown"
		}
		fmt.Fprintf(&cands, "%d. %s (Number: %s, Status: %s, Similarity: %.0f%%)\n",
			i+1, cand.Name, cand.Number, status, cand.Score*100)
	}
	return fmt.Sprintf(userPrompt, name, ctxLines.String(), cands.String())
}

func parseResponse(text string, n int) (*Selection, error) {
	var r aiResponse
	if err := json.Unmarshal([]byte(cleanJSON(text)), &r); err != nil {
		return nil, err
	}
	if !r.MatchFound || r.SelectedIndex == nil {
		return nil, nil
	}
	idx := *r.SelectedIndex - 1
	if idx < 0 || idx >= n {
		return nil, nil
	}

	conf := defaultConfidence
	if r.Confidence != nil {
		conf = min(max(*r.Confidence, 0), 1)
	}
	reasoning := strings.TrimSpace(r.Reasoning)
	if reasoning == "" {
		reasoning = "AI matched"
	}
	return &Selection{Index: idx, Confidence: conf, Reasoning: reasoning}, nil
}

// cleanJSON extracts a JSON object from text that may carry markdown code
// fences or prose around it.
func cleanJSON(text string) string {
	text = strings.TrimSpace(text)

	if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```json")
		text = strings.TrimPrefix(text, "```")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
	}

	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start >= 0 && end > start {
		text = text[start : end+1]
	}
	return strings.TrimSpace(text)
}
