package ownership

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClampDepth(t *testing.T) {
	assert.Equal(t, DefaultMaxDepth, ClampDepth(0))
	assert.Equal(t, DefaultMaxDepth, ClampDepth(-4))
	assert.Equal(t, 2, ClampDepth(2))
	assert.Equal(t, MaxDepthCap, ClampDepth(50))
}

func TestParseDirection(t *testing.T) {
	tests := []struct {
		in   string
		want Direction
		ok   bool
	}{
		{"", DirectionBoth, true},
		{"up", DirectionUp, true},
		{"down", DirectionDown, true},
		{"both", DirectionBoth, true},
		{"sideways", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, ok := ParseDirection(tt.in)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}
