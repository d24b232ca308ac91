package match

import (
	"sort"
	"strings"

	"github.com/sells-group/charity-cli/pkg/charity"
)

const (
	// MaxCandidates caps the ranked list.
	MaxCandidates = 5

	// ExactThreshold is the similarity at which the top candidate is
	// accepted without further review.
	ExactThreshold = 0.95
)

// Scorer returns the similarity of a registry name to the input name.
type Scorer func(input, candidate string) float64

// Candidate is a scored registry search result.
type Candidate struct {
	Charity charity.Charity
	Number  string
	Name    string
	Status  string
	Score   float64
}

// Ranker scores and orders search results.
type Ranker struct {
	score Scorer
	max   int
}

// NewRanker returns a Ranker. A nil scorer uses Similarity; max <= 0 uses
// MaxCandidates.
func NewRanker(score Scorer, max int) *Ranker {
	if score == nil {
		score = Similarity
	}
	if max <= 0 {
		max = MaxCandidates
	}
	return &Ranker{score: score, max: max}
}

// Rank scores each result against name and returns them best first. Results
// without a number are dropped, as are repeats of a number already seen.
// Ties keep registry order.
func (r *Ranker) Rank(name string, results []charity.Charity) []Candidate {
	seen := make(map[string]bool, len(results))
	out := make([]Candidate, 0, len(results))
	for _, res := range results {
		num := res.Number()
		if num == "" || seen[num] {
			continue
		}
		seen[num] = true
		display := strings.TrimSpace(res.DisplayName())
		out = append(out, Candidate{
			Charity: res,
			Number:  num,
			Name:    display,
			Status:  res.RegistrationStatus,
			Score:   r.score(name, display),
		})
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if len(out) > r.max {
		out = out[:r.max]
	}
	return out
}
