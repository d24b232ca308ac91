// Package disambiguate picks the best registry candidate for an input name
// when similarity scoring alone is inconclusive.
package disambiguate

import (
	"context"

	"github.com/sells-group/charity-cli/internal/match"
)

// Selection is a disambiguator's pick. Index is 0-based into the candidate
// list that was passed in.
type Selection struct {
	Index      int
	Confidence float64
	Reasoning  string
}

// Disambiguator selects at most one candidate. A nil Selection means no
// confident pick; implementations never fail the caller.
type Disambiguator interface {
	Available() bool
	Select(ctx context.Context, name string, candidates []match.Candidate, extra map[string]any) *Selection
}

// None is the disambiguator used when no AI provider is configured.
type None struct{}

// Available reports false; None never selects.
func (None) Available() bool { return false }

// Select always returns nil.
func (None) Select(context.Context, string, []match.Candidate, map[string]any) *Selection {
	return nil
}
