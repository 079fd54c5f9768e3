package main

import (
	"context"
	"fmt"
	"log/slog"

	"teacher-agent/internal/adapter/embedding"
	"teacher-agent/internal/adapter/llm"
	"teacher-agent/internal/domain"
	"teacher-agent/internal/infra/config"
	"teacher-agent/internal/usecase/multiagent"
)

// OracleComponents holds the configured oracle clients.
type OracleComponents struct {
	ByName  map[string]domain.Oracle
	Default domain.Oracle
	Live    domain.LiveConnector
}

// initOracles creates every configured provider, wraps it with a circuit
// breaker when enabled and selects the default and live backends.
func initOracles(ctx context.Context, cfg *config.Config, log *slog.Logger) (*OracleComponents, error) {
	oc := &OracleComponents{ByName: make(map[string]domain.Oracle, len(cfg.Oracle.Providers))}

	cbCfg := cfg.Oracle.CircuitBreaker
	for _, pc := range cfg.Oracle.Providers {
		oracle, err := createOracle(ctx, pc, log)
		if err != nil {
			return nil, fmt.Errorf("oracle provider %s: %w", pc.Name, err)
		}
		if cbCfg.Enabled {
			oracle = llm.NewCircuitBreakerOracle(oracle, cbCfg, log)
		}
		oc.ByName[pc.Name] = oracle
	}
	if cbCfg.Enabled {
		log.Info("oracle circuit breaker enabled",
			"max_failures", cbCfg.MaxFailures,
			"timeout", cbCfg.Timeout,
			"interval", cbCfg.Interval,
		)
	}

	def, ok := oc.ByName[cfg.Oracle.DefaultProvider]
	if !ok {
		return nil, fmt.Errorf("default oracle provider %q is not configured", cfg.Oracle.DefaultProvider)
	}
	oc.Default = def

	live, err := createLiveConnector(cfg, oc.ByName, log)
	if err != nil {
		return nil, err
	}
	oc.Live = live
	return oc, nil
}

func createOracle(ctx context.Context, pc config.ProviderConfig, log *slog.Logger) (domain.Oracle, error) {
	switch pc.Type {
	case "gemini":
		return llm.NewGeminiOracle(pc, log), nil
	case "bedrock":
		oracle, err := llm.NewBedrockOracle(ctx, pc, log)
		if err != nil {
			return nil, err
		}
		return oracle, nil
	default:
		return nil, fmt.Errorf("unknown provider type %q", pc.Type)
	}
}

// createLiveConnector uses Gemini Live for gemini providers and a turn-based
// session over the streaming oracle for everything else.
func createLiveConnector(cfg *config.Config, oracles map[string]domain.Oracle, log *slog.Logger) (domain.LiveConnector, error) {
	name := cfg.Oracle.LiveProvider
	if name == "" {
		name = cfg.Oracle.DefaultProvider
	}
	pc, ok := cfg.Provider(name)
	if !ok {
		return nil, fmt.Errorf("live oracle provider %q is not configured", name)
	}
	if pc.Type == "gemini" {
		return llm.NewGeminiLiveConnector(pc, log), nil
	}

	streaming, ok := oracles[name].(domain.StreamingOracle)
	if !ok {
		return nil, fmt.Errorf("live oracle provider %q cannot stream", name)
	}
	log.Info("live sessions use turn-based streaming", "provider", name)
	return llm.NewTurnConnector(streaming, pc.Model, log), nil
}

// initStrategy builds the configured routing strategy.
func initStrategy(cfg *config.Config, oc *OracleComponents, log *slog.Logger) (domain.RoutingStrategy, error) {
	if cfg.Routing.Strategy != "chain" {
		return createStrategy(cfg.Routing.Strategy, cfg, oc)
	}
	strategies := make([]domain.RoutingStrategy, 0, len(cfg.Routing.Chain))
	for _, name := range cfg.Routing.Chain {
		s, err := createStrategy(name, cfg, oc)
		if err != nil {
			return nil, err
		}
		strategies = append(strategies, s)
	}
	return multiagent.NewChainStrategy(cfg.Routing.MinConfidence, log, strategies...), nil
}

func createStrategy(name string, cfg *config.Config, oc *OracleComponents) (domain.RoutingStrategy, error) {
	switch name {
	case "keyword":
		return multiagent.NewKeywordStrategy(), nil
	case "classifier":
		provider := cfg.Routing.ClassifierProvider
		if provider == "" {
			provider = cfg.Oracle.DefaultProvider
		}
		oracle, ok := oc.ByName[provider]
		if !ok {
			return nil, fmt.Errorf("classifier provider %q is not configured", provider)
		}
		pc, _ := cfg.Provider(provider)
		return multiagent.NewClassifierStrategy(oracle, pc.Model), nil
	case "embedding":
		ec := cfg.Routing.Embedding
		if ec.APIKey == "" {
			return nil, fmt.Errorf("routing.embedding.api_key is required for the embedding strategy")
		}
		embedder := embedding.NewCached(embedding.NewGemini(ec.APIKey,
			embedding.WithModel(ec.Model),
			embedding.WithBaseURL(ec.BaseURL),
		), 256)
		return multiagent.NewEmbeddingStrategy(embedder), nil
	default:
		return nil, fmt.Errorf("unknown routing strategy %q", name)
	}
}
