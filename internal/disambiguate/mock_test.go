package disambiguate

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/sells-group/charity-cli/pkg/anthropic"
)

type mockAnthropicClient struct {
	mock.Mock
}

func (m *mockAnthropicClient) Complete(ctx context.Context, req anthropic.CompletionRequest) (*anthropic.Completion, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*anthropic.Completion), args.Error(1)
}

func textResponse(text string) *anthropic.Completion {
	return &anthropic.Completion{Text: text}
}

var _ anthropic.Client = (*mockAnthropicClient)(nil)
