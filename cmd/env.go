package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/intent-cli/internal/artifact"
	"github.com/sells-group/intent-cli/internal/config"
	"github.com/sells-group/intent-cli/internal/cost"
	"github.com/sells-group/intent-cli/internal/fetcher"
	"github.com/sells-group/intent-cli/internal/llm"
	"github.com/sells-group/intent-cli/internal/orchestrator"
	"github.com/sells-group/intent-cli/internal/prompt"
	"github.com/sells-group/intent-cli/internal/store"
	"github.com/sells-group/intent-cli/internal/taxonomy"
	anthropicpkg "github.com/sells-group/intent-cli/pkg/anthropic"
	"github.com/sells-group/intent-cli/pkg/gemini"
)

// rendererCacheSize bounds the number of rendered taxonomies kept across runs.
const rendererCacheSize = 32

// discoveryEnv holds the shared backend pool, the run store and the
// orchestrator used by the discover and serve commands.
type discoveryEnv struct {
	Store        store.Store // may be nil
	Pool         *llm.Pool
	Orchestrator *orchestrator.Orchestrator
}

// Close releases resources held by the environment.
func (e *discoveryEnv) Close() {
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

// initDiscovery validates config for mode and wires every dependency of the
// orchestrator. Callers should defer env.Close().
func initDiscovery(ctx context.Context, mode string) (*discoveryEnv, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}

	templates, err := prompt.LoadFile(cfg.Pipeline.PromptsFile)
	if err != nil {
		return nil, err
	}

	gen, err := initGenerator(ctx, cfg)
	if err != nil {
		return nil, err
	}
	pool := llm.NewPool(gen, poolConfig(cfg.Backend), cost.NewCalculator(pricingRates(cfg.Pricing)))

	renderer, err := taxonomy.NewRenderer(rendererCacheSize)
	if err != nil {
		return nil, eris.Wrap(err, "init taxonomy renderer")
	}

	st, err := initStore(ctx)
	if err != nil {
		// Run history is optional; discovery still works without it.
		zap.L().Warn("run store unavailable, history disabled", zap.Error(err))
		st = nil
	}

	deps := orchestrator.Deps{
		Generator: pool,
		Source: fetcher.NewOpener(fetcher.Options{
			Timeout: time.Duration(cfg.Fetch.TimeoutSecs) * time.Second,
			RPS:     rate.Limit(cfg.Fetch.RPS),
		}),
		Renderer: renderer,
		Store:    st,
	}

	if cfg.Artifacts.S3.Enabled() {
		mirror, err := artifact.NewS3Mirror(s3Options(cfg.Artifacts.S3))
		if err != nil {
			zap.L().Warn("artifact mirror unavailable", zap.Error(err))
		} else {
			deps.Mirror = mirror
			zap.L().Info("artifact mirror enabled", zap.String("bucket", cfg.Artifacts.S3.Bucket))
		}
	}

	zap.L().Info("discovery environment ready",
		zap.String("provider", gen.Name()),
		zap.Int("max_concurrency", cfg.Backend.MaxConcurrency),
		zap.Float64("rps", cfg.Backend.RPS),
		zap.Bool("history", st != nil),
	)

	return &discoveryEnv{
		Store:        st,
		Pool:         pool,
		Orchestrator: orchestrator.New(deps, orchestrator.OptionsFromConfig(cfg, templates)),
	}, nil
}

// initGenerator builds the adapter for the configured backend provider.
func initGenerator(ctx context.Context, c *config.Config) (llm.Generator, error) {
	switch c.Backend.Provider {
	case "anthropic":
		return llm.NewAnthropicGenerator(anthropicpkg.NewClient(c.Anthropic.Key), c.Anthropic.Model), nil
	case "gemini":
		client, err := gemini.NewClient(ctx, c.Gemini.Key, "")
		if err != nil {
			return nil, err
		}
		return llm.NewGeminiGenerator(client, c.Gemini.Model), nil
	default:
		return nil, eris.Errorf("unsupported backend provider: %s", c.Backend.Provider)
	}
}

// initStore opens and migrates the run store.
func initStore(ctx context.Context) (store.Store, error) {
	st, err := store.Open(ctx, cfg.Store.Driver, cfg.Store.DatabaseURL, cfg.Store.MaxConns)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}
	return st, nil
}

func poolConfig(b config.BackendConfig) llm.PoolConfig {
	return llm.PoolConfig{
		MaxConcurrency:   b.MaxConcurrency,
		RPS:              b.RPS,
		Burst:            b.Burst,
		CallTimeout:      time.Duration(b.CallTimeoutSecs) * time.Second,
		BreakerThreshold: b.BreakerThreshold,
		BreakerResetSecs: b.BreakerResetSecs,
	}
}

func pricingRates(p config.PricingConfig) cost.Rates {
	rates := make(cost.Rates, len(p.Models))
	for id, m := range p.Models {
		rates[id] = cost.ModelRate{
			Input:         m.Input,
			Output:        m.Output,
			CacheWriteMul: m.CacheWriteMul,
			CacheReadMul:  m.CacheReadMul,
		}
	}
	return rates
}

func s3Options(c config.S3Config) artifact.S3Options {
	return artifact.S3Options{
		Endpoint:  c.Endpoint,
		Region:    c.Region,
		AccessKey: c.AccessKey,
		SecretKey: c.SecretKey,
		Bucket:    c.Bucket,
		UseSSL:    c.UseSSL,
	}
}
