package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/charity-cli/internal/batch"
	"github.com/sells-group/charity-cli/internal/disambiguate"
	"github.com/sells-group/charity-cli/internal/metrics"
	"github.com/sells-group/charity-cli/internal/ownership"
	"github.com/sells-group/charity-cli/internal/resilience"
	"github.com/sells-group/charity-cli/internal/resolve"
	"github.com/sells-group/charity-cli/internal/store"
	anthropicpkg "github.com/sells-group/charity-cli/pkg/anthropic"
	"github.com/sells-group/charity-cli/pkg/charity"
)

// engineEnv holds the store and the engine components built on it.
type engineEnv struct {
	Store     store.Store
	Registry  charity.Client
	Resolver  *resolve.Resolver
	Batches   *batch.Orchestrator
	Ownership *ownership.Builder
	Metrics   *metrics.Metrics
}

// Close releases resources held by the environment.
func (e *engineEnv) Close() {
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

// initEngine validates config for mode, opens and migrates the store and
// wires the registry, AI and engine components. Callers should defer
// env.Close().
func initEngine(ctx context.Context, mode string) (*engineEnv, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}

	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}

	registry, err := initRegistry()
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	m := metrics.New()
	res := resolve.New(st, registry, resolve.Config{
		SearchPageSize: cfg.Resolve.SearchPageSize,
		MaxCandidates:  cfg.Resolve.MaxCandidates,
		ExactThreshold: cfg.Resolve.ExactThreshold,
	}, resolve.WithDisambiguator(initDisambiguator()))

	return &engineEnv{
		Store:     st,
		Registry:  registry,
		Resolver:  res,
		Batches:   batch.New(st, res, m),
		Ownership: ownership.New(st, registry, ownership.WithMetrics(m)),
		Metrics:   m,
	}, nil
}

func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		dsn := cfg.Store.SQLitePath
		if dsn == "" {
			dsn = "charity.db"
		}
		return store.NewSQLite(dsn)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, &store.PoolConfig{
			MaxConns: cfg.Store.MaxConns,
			MinConns: cfg.Store.MinConns,
		})
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

// initRegistry returns the live register client, or the offline fixture
// register when no key is configured or mock mode is on.
func initRegistry() (charity.Client, error) {
	rc := cfg.Registry
	if rc.UseMock() {
		if rc.FixturesPath != "" {
			zap.L().Info("using fixture register", zap.String("path", rc.FixturesPath))
			fc, err := charity.LoadFixtureClient(rc.FixturesPath)
			if err != nil {
				return nil, eris.Wrap(err, "load register fixtures")
			}
			return fc, nil
		}
		zap.L().Warn("CHARITY_REGISTRY_KEY not set, using built-in fixture register")
		return charity.DefaultFixtureClient(), nil
	}

	opts := []charity.Option{
		charity.WithRateLimit(rc.RateLimit, rc.Burst),
		charity.WithRetry(resilience.FromRetryConfig(rc.Retry.MaxAttempts, rc.Retry.InitialBackoffMs, rc.Retry.MaxBackoffMs)),
		charity.WithBreaker(resilience.NewBreaker("charity_commission",
			resilience.FromBreakerConfig(rc.Breaker.FailureThreshold, rc.Breaker.OpenTimeoutSecs))),
	}
	if rc.TimeoutSecs > 0 {
		opts = append(opts, charity.WithTimeout(time.Duration(rc.TimeoutSecs)*time.Second))
	}
	if rc.BaseURL != "" {
		opts = append(opts, charity.WithBaseURL(rc.BaseURL))
	}
	return charity.NewClient(rc.Key, opts...), nil
}

// initDisambiguator returns the Claude disambiguator when an Anthropic key
// is configured.
func initDisambiguator() disambiguate.Disambiguator {
	ac := cfg.Anthropic
	if ac.Key == "" {
		zap.L().Debug("CHARITY_ANTHROPIC_KEY not set, AI disambiguation disabled")
		return disambiguate.None{}
	}
	client := anthropicpkg.NewClient(ac.Key, anthropicpkg.WithMaxRetries(2))
	return disambiguate.NewClaude(client, disambiguate.ClaudeConfig{
		Model:     ac.Model,
		MaxTokens: int64(ac.MaxTokens),
		Timeout:   time.Duration(ac.TimeoutSecs) * time.Second,
	}, resilience.NewBreaker("anthropic", resilience.DefaultBreakerConfig()))
}

// aiMode picks the validation mode for commands that may use AI.
func aiMode(useAI bool) string {
	if useAI {
		return "ai"
	}
	return "cli"
}
