// Package anthropic wraps the Anthropic Messages API for single-turn
// completions.
package anthropic

import (
	"context"
	"strings"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// Client is the completion surface used by the disambiguator.
type Client interface {
	Complete(ctx context.Context, req CompletionRequest) (*Completion, error)
}

// CompletionRequest is one system prompt plus one user prompt.
type CompletionRequest struct {
	Model     string
	MaxTokens int64
	System    string
	// CacheSystem marks the system prompt for ephemeral prompt caching.
	CacheSystem bool
	Prompt      string
	Temperature *float64
}

// Completion is the flattened model reply.
type Completion struct {
	ID         string
	Model      string
	Text       string
	StopReason string
	Usage      Usage
}

// Usage counts the tokens billed for one call.
type Usage struct {
	InputTokens      int64
	OutputTokens     int64
	CacheWriteTokens int64
	CacheReadTokens  int64
}

type price struct {
	inputPerMTok  float64
	outputPerMTok float64
}

var prices = map[string]price{
	"claude-haiku-4-5-20251001":  {inputPerMTok: 1.00, outputPerMTok: 5.00},
	"claude-sonnet-4-5-20250929": {inputPerMTok: 3.00, outputPerMTok: 15.00},
}

// CostUSD estimates the dollar cost of u under model's list price. Cache
// writes bill at 1.25x input and cache reads at 0.1x. Unknown models cost 0.
func (u Usage) CostUSD(model string) float64 {
	p, ok := prices[model]
	if !ok {
		return 0
	}
	input := float64(u.InputTokens) + 1.25*float64(u.CacheWriteTokens) + 0.1*float64(u.CacheReadTokens)
	return (input*p.inputPerMTok + float64(u.OutputTokens)*p.outputPerMTok) / 1e6
}

// Log records usage at Debug under the calling stage's name.
func (u Usage) Log(model, stage string) {
	zap.L().Debug("anthropic usage",
		zap.String("model", model),
		zap.String("stage", stage),
		zap.Int64("input_tokens", u.InputTokens),
		zap.Int64("output_tokens", u.OutputTokens),
		zap.Int64("cache_read_tokens", u.CacheReadTokens),
		zap.Float64("cost_usd", u.CostUSD(model)),
	)
}

// Option configures the SDK client.
type Option func(*[]option.RequestOption)

// WithBaseURL points the client at a different endpoint (for testing).
func WithBaseURL(u string) Option {
	return func(o *[]option.RequestOption) {
		*o = append(*o, option.WithBaseURL(u))
	}
}

// WithMaxRetries sets the SDK's retry budget for transient failures.
func WithMaxRetries(n int) Option {
	return func(o *[]option.RequestOption) {
		*o = append(*o, option.WithMaxRetries(n))
	}
}

type sdkClient struct {
	client sdk.Client
}

// NewClient creates a Client backed by anthropic-sdk-go.
func NewClient(apiKey string, opts ...Option) Client {
	reqOpts := []option.RequestOption{option.WithAPIKey(apiKey)}
	for _, opt := range opts {
		opt(&reqOpts)
	}
	return &sdkClient{client: sdk.NewClient(reqOpts...)}
}

func (c *sdkClient) Complete(ctx context.Context, req CompletionRequest) (*Completion, error) {
	params := sdk.MessageNewParams{
		Model:     sdk.Model(req.Model),
		MaxTokens: req.MaxTokens,
		Messages:  []sdk.MessageParam{sdk.NewUserMessage(sdk.NewTextBlock(req.Prompt))},
	}
	if req.System != "" {
		block := sdk.TextBlockParam{Text: req.System}
		if req.CacheSystem {
			block.CacheControl = sdk.NewCacheControlEphemeralParam()
		}
		params.System = []sdk.TextBlockParam{block}
	}
	if req.Temperature != nil {
		params.Temperature = sdk.Float(*req.Temperature)
	}

	msg, err := c.client.Messages.New(ctx, params)
	if err != nil {
		return nil, eris.Wrap(err, "anthropic: complete")
	}
	return toCompletion(msg), nil
}

func toCompletion(msg *sdk.Message) *Completion {
	var text strings.Builder
	for _, b := range msg.Content {
		if b.Type == "text" {
			text.WriteString(b.Text)
		}
	}
	return &Completion{
		ID:         msg.ID,
		Model:      string(msg.Model),
		Text:       text.String(),
		StopReason: string(msg.StopReason),
		Usage: Usage{
			InputTokens:      msg.Usage.InputTokens,
			OutputTokens:     msg.Usage.OutputTokens,
			CacheWriteTokens: msg.Usage.CacheCreationInputTokens,
			CacheReadTokens:  msg.Usage.CacheReadInputTokens,
		},
	}
}
