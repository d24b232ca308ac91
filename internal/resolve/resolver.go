// Package resolve matches uploaded records to charity register entries.
//
// A record moves through the stages below in order and stops at the first
// one that yields a register entry:
//
//  1. direct lookup of a registry number already on the record
//  2. a registry number extracted from the name or the uploaded columns
//  3. name search, ranked by similarity, with every candidate persisted
//  4. the top candidate when its similarity clears the exact threshold
//  5. an AI pick among the candidates, when enabled
//  6. otherwise multiple_matches or manual_review for a human
package resolve

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/charity-cli/internal/disambiguate"
	"github.com/sells-group/charity-cli/internal/match"
	"github.com/sells-group/charity-cli/internal/model"
	"github.com/sells-group/charity-cli/internal/store"
	"github.com/sells-group/charity-cli/pkg/charity"
)

// ErrUnknownNumber is returned by Confirm when the register has no entry for
// the chosen number.
var ErrUnknownNumber = errors.New("charity number not on register")

// Confidence assigned by the number-based stages.
const (
	directConfidence     = 1.0
	extractionConfidence = 0.95
	manualConfidence     = 1.0
)

// Config tunes the search stage.
type Config struct {
	SearchPageSize int
	MaxCandidates  int
	ExactThreshold float64
}

func (c Config) withDefaults() Config {
	if c.SearchPageSize <= 0 {
		c.SearchPageSize = 10
	}
	if c.MaxCandidates <= 0 {
		c.MaxCandidates = match.MaxCandidates
	}
	if c.ExactThreshold <= 0 {
		c.ExactThreshold = match.ExactThreshold
	}
	return c
}

// Options are per-call switches.
type Options struct {
	UseAI bool
}

// Resolver runs the resolution stages for single records.
type Resolver struct {
	store    store.Store
	registry charity.Client
	ai       disambiguate.Disambiguator
	scorer   match.Scorer
	ranker   *match.Ranker
	cfg      Config
	now      func() time.Time
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithDisambiguator enables the AI stage.
func WithDisambiguator(d disambiguate.Disambiguator) Option {
	return func(r *Resolver) {
		if d != nil {
			r.ai = d
		}
	}
}

// WithScorer replaces the name similarity function.
func WithScorer(s match.Scorer) Option {
	return func(r *Resolver) {
		r.scorer = s
	}
}

// WithClock overrides the time source used for resolved_at.
func WithClock(now func() time.Time) Option {
	return func(r *Resolver) {
		r.now = now
	}
}

// New builds a Resolver. Without WithDisambiguator the AI stage is skipped.
func New(st store.Store, registry charity.Client, cfg Config, opts ...Option) *Resolver {
	r := &Resolver{
		store:    st,
		registry: registry,
		ai:       disambiguate.None{},
		cfg:      cfg.withDefaults(),
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(r)
	}
	r.ranker = match.NewRanker(r.scorer, r.cfg.MaxCandidates)
	return r
}

// AIAvailable reports whether an AI disambiguator is configured.
func (r *Resolver) AIAvailable() bool {
	return r.ai.Available()
}

// Resolve runs the stages for rec, persists the outcome and returns rec.
// Registry and store failures are returned unchanged in meaning; deciding
// what a failed record becomes is the caller's job.
func (r *Resolver) Resolve(ctx context.Context, rec *model.Record, opts Options) (*model.Record, error) {
	log := zap.L().With(zap.String("record_id", rec.ID), zap.String("name", rec.OriginalName))

	direct := charity.NormalizeNumber(rec.RegistryNumber)
	if direct != "" {
		ok, err := r.applyNumber(ctx, rec, direct, model.MethodDirectLookup, directConfidence)
		if err != nil {
			return nil, err
		}
		if ok {
			log.Debug("resolve: direct lookup", zap.String("number", direct))
			return rec, r.save(ctx, rec)
		}
	}

	if extracted := extractNumber(rec); extracted != "" && extracted != direct {
		ok, err := r.applyNumber(ctx, rec, extracted, model.MethodNumberExtraction, extractionConfidence)
		if err != nil {
			return nil, err
		}
		if ok {
			log.Debug("resolve: number extraction", zap.String("number", extracted))
			return rec, r.save(ctx, rec)
		}
	}

	results, err := r.registry.Search(ctx, rec.OriginalName, r.cfg.SearchPageSize)
	if err != nil {
		return nil, eris.Wrapf(err, "resolve: search %q", rec.OriginalName)
	}
	ranked := r.ranker.Rank(rec.OriginalName, results)

	rows, err := candidateRows(ranked)
	if err != nil {
		return nil, err
	}
	if err := r.store.ReplaceCandidates(ctx, rec.ID, rows); err != nil {
		return nil, eris.Wrap(err, "resolve: save candidates")
	}

	if len(ranked) == 0 {
		rec.Status = model.StatusNoMatch
		rec.Confidence = nil
		rec.Method = ""
		rec.ResolvedAt = r.stamp()
		log.Debug("resolve: no candidates")
		return rec, r.save(ctx, rec)
	}

	best := ranked[0]
	if best.Score >= r.cfg.ExactThreshold {
		ok, err := r.applyNumber(ctx, rec, best.Number, model.MethodExactMatch, best.Score)
		if err != nil {
			return nil, err
		}
		if ok {
			if err := r.store.SelectCandidate(ctx, rec.ID, rows[0].ID); err != nil {
				return nil, eris.Wrap(err, "resolve: select candidate")
			}
			log.Debug("resolve: exact match", zap.String("number", best.Number), zap.Float64("score", best.Score))
			return rec, r.save(ctx, rec)
		}
	}

	if opts.UseAI && r.ai.Available() {
		sel := r.ai.Select(ctx, rec.OriginalName, ranked, rec.OriginalData)
		if sel != nil && (sel.Index < 0 || sel.Index >= len(ranked)) {
			log.Warn("resolve: ai selection out of range, ignoring", zap.Int("index", sel.Index), zap.Int("candidates", len(ranked)))
			sel = nil
		}
		if sel != nil {
			picked := ranked[sel.Index]
			ok, err := r.applyNumber(ctx, rec, picked.Number, model.MethodAIMatch, sel.Confidence)
			if err != nil {
				return nil, err
			}
			if ok {
				rec.EnrichedData.AIReasoning = sel.Reasoning
				if err := r.store.SelectCandidate(ctx, rec.ID, rows[sel.Index].ID); err != nil {
					return nil, eris.Wrap(err, "resolve: select candidate")
				}
				log.Debug("resolve: ai match", zap.String("number", picked.Number), zap.Float64("confidence", sel.Confidence))
				return rec, r.save(ctx, rec)
			}
		}
	}

	if len(ranked) > 1 {
		rec.Status = model.StatusMultipleMatches
	} else {
		rec.Status = model.StatusManualReview
	}
	rec.Confidence = model.Float(best.Score)
	rec.Method = model.MethodNeedsReview
	rec.ResolvedAt = r.stamp()
	return rec, r.save(ctx, rec)
}

// Confirm records a human decision. A candidate id selects that candidate,
// otherwise manualNumber is looked up; with neither the record is rejected.
func (r *Resolver) Confirm(ctx context.Context, recordID, candidateID, manualNumber string) (*model.Record, error) {
	rec, err := r.store.GetRecord(ctx, recordID)
	if err != nil {
		return nil, err
	}

	var (
		cand   *model.CandidateMatch
		number string
	)
	switch {
	case candidateID != "":
		cand, err = r.store.GetCandidate(ctx, candidateID)
		if err != nil {
			return nil, err
		}
		if cand.RecordID != rec.ID {
			return nil, eris.Wrapf(store.ErrNotFound, "candidate %s on record %s", candidateID, recordID)
		}
		number = cand.RegistryNumber
	case charity.NormalizeNumber(manualNumber) != "":
		number = charity.NormalizeNumber(manualNumber)
	default:
		rec.Status = model.StatusRejected
		rec.Confidence = nil
		rec.Method = ""
		rec.ResolvedAt = r.stamp()
		return rec, r.save(ctx, rec)
	}

	ch, err := charity.FullDetails(ctx, r.registry, number)
	if err != nil {
		return nil, eris.Wrapf(err, "resolve: fetch details %s", number)
	}
	if ch == nil {
		return nil, eris.Wrapf(ErrUnknownNumber, "resolve: confirm %s", number)
	}
	details := charity.Parse(ch)

	if cand == nil {
		raw, err := json.Marshal(ch)
		if err != nil {
			return nil, eris.Wrap(err, "resolve: encode register entry")
		}
		cand = &model.CandidateMatch{
			RecordID:        rec.ID,
			CandidateName:   details.Name,
			RegistryNumber:  number,
			RawData:         raw,
			ConfidenceScore: manualConfidence,
			MatchMethod:     model.MatchMethodManualEntry,
		}
		if err := r.store.CreateCandidate(ctx, cand); err != nil {
			return nil, eris.Wrap(err, "resolve: save manual candidate")
		}
	}
	if err := r.store.SelectCandidate(ctx, rec.ID, cand.ID); err != nil {
		return nil, eris.Wrap(err, "resolve: select candidate")
	}

	ApplyDetails(rec, details, number, model.MethodManualConfirm, manualConfidence, r.now())
	rec.Status = model.StatusConfirmed
	return rec, r.save(ctx, rec)
}

// Reresolve clears a record's resolution and candidates and runs Resolve.
func (r *Resolver) Reresolve(ctx context.Context, recordID string, opts Options) (*model.Record, error) {
	rec, err := r.store.GetRecord(ctx, recordID)
	if err != nil {
		return nil, err
	}
	rec.ResetResolution()
	if err := r.store.ReplaceCandidates(ctx, rec.ID, nil); err != nil {
		return nil, eris.Wrap(err, "resolve: clear candidates")
	}
	return r.Resolve(ctx, rec, opts)
}

// applyNumber fetches full details for number and applies them. It reports
// false when the register has no such charity.
func (r *Resolver) applyNumber(ctx context.Context, rec *model.Record, number string, method model.ResolutionMethod, confidence float64) (bool, error) {
	ch, err := charity.FullDetails(ctx, r.registry, number)
	if err != nil {
		return false, eris.Wrapf(err, "resolve: fetch details %s", number)
	}
	if ch == nil {
		return false, nil
	}
	ApplyDetails(rec, charity.Parse(ch), number, method, confidence, r.now())
	return true, nil
}

func (r *Resolver) save(ctx context.Context, rec *model.Record) error {
	return eris.Wrapf(r.store.UpdateRecord(ctx, rec), "resolve: save record %s", rec.ID)
}

func (r *Resolver) stamp() *time.Time {
	t := r.now()
	return &t
}

// extractNumber scans the name, then string columns in key order.
func extractNumber(rec *model.Record) string {
	if n := charity.ExtractNumber(rec.OriginalName); n != "" {
		return n
	}
	keys := make([]string, 0, len(rec.OriginalData))
	for k := range rec.OriginalData {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		s, ok := rec.OriginalData[k].(string)
		if !ok {
			continue
		}
		if n := charity.ExtractNumber(s); n != "" {
			return n
		}
	}
	return ""
}

func candidateRows(ranked []match.Candidate) ([]*model.CandidateMatch, error) {
	rows := make([]*model.CandidateMatch, 0, len(ranked))
	for _, c := range ranked {
		raw, err := json.Marshal(c.Charity)
		if err != nil {
			return nil, eris.Wrap(err, "resolve: encode candidate")
		}
		rows = append(rows, &model.CandidateMatch{
			CandidateName:   c.Name,
			RegistryNumber:  c.Number,
			RawData:         raw,
			ConfidenceScore: c.Score,
			MatchMethod:     model.MatchMethodFuzzySearch,
		})
	}
	return rows, nil
}
