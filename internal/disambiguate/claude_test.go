package disambiguate

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/charity-cli/internal/match"
	"github.com/sells-group/charity-cli/pkg/anthropic"
)

func candidates() []match.Candidate {
	return []match.Candidate{
		{Number: "202918", Name: "OXFAM", Status: "Registered", Score: 0.6},
		{Number: "1111111", Name: "OXFORD AID", Status: "Removed", Score: 0.55},
	}
}

func TestNone(t *testing.T) {
	var d Disambiguator = None{}
	assert.False(t, d.Available())
	assert.Nil(t, d.Select(context.Background(), "x", candidates(), nil))
}

func TestClaude_Select(t *testing.T) {
	client := &mockAnthropicClient{}
	client.On("Complete", mock.Anything, mock.MatchedBy(func(req anthropic.CompletionRequest) bool {
		return req.Model == "claude-haiku-4-5-20251001" &&
			req.System != "" && req.CacheSystem &&
			strings.Contains(req.Prompt, "Oxfam GB") &&
			req.Temperature != nil && *req.Temperature == 0.1
	})).Return(textResponse("```json\n{\"match_found\": true, \"selected_index\": 1, \"confidence\": 0.9, \"reasoning\": \"Oxfam GB is Oxfam\"}\n```"), nil)

	d := NewClaude(client, ClaudeConfig{}, nil)
	require.True(t, d.Available())

	sel := d.Select(context.Background(), "Oxfam GB", candidates(), map[string]any{"city": "Oxford"})

	require.NotNil(t, sel)
	assert.Equal(t, 0, sel.Index)
	assert.Equal(t, 0.9, sel.Confidence)
	assert.Equal(t, "Oxfam GB is Oxfam", sel.Reasoning)
	client.AssertExpectations(t)
}

func TestClaude_NoMatch(t *testing.T) {
	client := &mockAnthropicClient{}
	client.On("Complete", mock.Anything, mock.Anything).
		Return(textResponse(`{"match_found": false, "selected_index": null, "confidence": 0.2, "reasoning": "none fit"}`), nil)

	assert.Nil(t, NewClaude(client, ClaudeConfig{}, nil).Select(context.Background(), "Oxfam GB", candidates(), nil))
}

func TestClaude_ErrorIsNoSelection(t *testing.T) {
	client := &mockAnthropicClient{}
	client.On("Complete", mock.Anything, mock.Anything).Return(nil, errors.New("overloaded"))

	assert.Nil(t, NewClaude(client, ClaudeConfig{}, nil).Select(context.Background(), "Oxfam GB", candidates(), nil))
}

func TestClaude_GarbageIsNoSelection(t *testing.T) {
	client := &mockAnthropicClient{}
	client.On("Complete", mock.Anything, mock.Anything).Return(textResponse("I think it is the first one."), nil)

	assert.Nil(t, NewClaude(client, ClaudeConfig{}, nil).Select(context.Background(), "Oxfam GB", candidates(), nil))
}

func TestClaude_NoCandidatesSkipsCall(t *testing.T) {
	client := &mockAnthropicClient{}

	assert.Nil(t, NewClaude(client, ClaudeConfig{}, nil).Select(context.Background(), "Oxfam GB", nil, nil))
	client.AssertNotCalled(t, "Complete", mock.Anything, mock.Anything)
}

func TestParseResponse(t *testing.T) {
	tests := []struct {
		name     string
		text     string
		wantNil  bool
		wantIdx  int
		wantConf float64
		wantWhy  string
	}{
		{name: "second", text: `{"match_found":true,"selected_index":2,"confidence":0.7,"reasoning":"r"}`, wantIdx: 1, wantConf: 0.7, wantWhy: "r"},
		{name: "default confidence", text: `{"match_found":true,"selected_index":1}`, wantIdx: 0, wantConf: 0.8, wantWhy: "AI matched"},
		{name: "clamped", text: `{"match_found":true,"selected_index":1,"confidence":1.7}`, wantIdx: 0, wantConf: 1, wantWhy: "AI matched"},
		{name: "negative clamped", text: `{"match_found":true,"selected_index":1,"confidence":-2}`, wantIdx: 0, wantConf: 0, wantWhy: "AI matched"},
		{name: "out of range", text: `{"match_found":true,"selected_index":3}`, wantNil: true},
		{name: "zero index", text: `{"match_found":true,"selected_index":0}`, wantNil: true},
		{name: "not found", text: `{"match_found":false,"selected_index":1}`, wantNil: true},
		{name: "prose wrapped", text: `Here you go: {"match_found":true,"selected_index":1,"confidence":0.95} thanks`, wantIdx: 0, wantConf: 0.95, wantWhy: "AI matched"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sel, err := parseResponse(tt.text, 2)
			require.NoError(t, err)
			if tt.wantNil {
				assert.Nil(t, sel)
				return
			}
			require.NotNil(t, sel)
			assert.Equal(t, tt.wantIdx, sel.Index)
			assert.InDelta(t, tt.wantConf, sel.Confidence, 1e-9)
			assert.Equal(t, tt.wantWhy, sel.Reasoning)
		})
	}
}

func TestParseResponse_Invalid(t *testing.T) {
	_, err := parseResponse("not json", 2)
	assert.Error(t, err)
}

func TestBuildPrompt(t *testing.T) {
	p := BuildPrompt("Oxfam GB", candidates(), map[string]any{"town": "Oxford", "address": "John Smith Drive"})

	assert.Contains(t, p, "Original entity: Oxfam GB")
	assert.Contains(t, p, "1. OXFAM (Number: 202918, Status: Registered, Similarity: 60%)")
	assert.Contains(t, p, "2. OXFORD AID (Number: 1111111, Status: Removed, Similarity: 55%)")
	assert.Contains(t, p, "- address: John Smith Drive\n- town: Oxford")
}

func TestCleanJSON(t *testing.T) {
	assert.Equal(t, `{"a":1}`, cleanJSON("```json\n{\"a\":1}\n```"))
	assert.Equal(t, `{"a":1}`, cleanJSON("```\n{\"a\":1}\n```"))
	assert.Equal(t, `{"a":1}`, cleanJSON(`  {"a":1}  `))
}
