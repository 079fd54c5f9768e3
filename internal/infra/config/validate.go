package config

import (
	"fmt"
	"net"
	"strings"
)

// ValidationError accumulates config validation errors.
type ValidationError struct {
	Errors []string
}

func (v *ValidationError) Error() string {
	return "config validation failed:\n  - " + strings.Join(v.Errors, "\n  - ")
}

// HasErrors reports whether any validation errors have been recorded.
func (v *ValidationError) HasErrors() bool {
	return len(v.Errors) > 0
}

// Add records a formatted validation error.
func (v *ValidationError) Add(format string, args ...any) {
	v.Errors = append(v.Errors, fmt.Sprintf(format, args...))
}

// Validate checks cfg for structural correctness. It returns a *ValidationError
// listing every problem found.
func Validate(cfg *Config) error {
	ve := &ValidationError{}
	validateServer(cfg, ve)
	validateOracle(cfg, ve)
	validateRouting(cfg, ve)
	validateSessions(cfg, ve)
	validateRecords(cfg, ve)
	validateLogger(cfg, ve)
	validateTracer(cfg, ve)
	if ve.HasErrors() {
		return ve
	}
	return nil
}

func validateServer(cfg *Config, ve *ValidationError) {
	if _, _, err := net.SplitHostPort(cfg.Server.Addr); err != nil {
		ve.Add("server.addr %q is invalid: %v", cfg.Server.Addr, err)
	}
	if cfg.Server.RequestTimeout <= 0 {
		ve.Add("server.request_timeout must be > 0")
	}
	if cfg.Server.MaxMessageBytes <= 0 {
		ve.Add("server.max_message_bytes must be > 0")
	}
	rl := cfg.Server.RateLimit
	if rl.Enabled && (rl.RequestsPerMin <= 0 || rl.Burst <= 0) {
		ve.Add("server.rate_limit: requests_per_min and burst must be > 0 when enabled")
	}
	for i, p := range rl.TrustedProxies {
		if _, _, err := net.ParseCIDR(p); err != nil && net.ParseIP(p) == nil {
			ve.Add("server.rate_limit.trusted_proxies[%d] %q is not an IP or CIDR", i, p)
		}
	}
}

var validProviderTypes = map[string]bool{
	"gemini":  true,
	"bedrock": true,
}

func validateOracle(cfg *Config, ve *ValidationError) {
	o := cfg.Oracle
	if o.DefaultProvider == "" {
		ve.Add("oracle.default_provider must not be empty")
	}
	if len(o.Providers) == 0 {
		ve.Add("oracle.providers must not be empty")
		return
	}

	seen := make(map[string]bool)
	for i, p := range o.Providers {
		if p.Name == "" {
			ve.Add("oracle.providers[%d].name must not be empty", i)
			continue
		}
		if seen[p.Name] {
			ve.Add("oracle.providers[%d]: duplicate provider name %q", i, p.Name)
		}
		seen[p.Name] = true

		if !validProviderTypes[p.Type] {
			ve.Add("oracle.providers[%d].type %q is invalid (want: gemini, bedrock)", i, p.Type)
		}
		if p.Model == "" {
			ve.Add("oracle.providers[%d] (%s): model must not be empty", i, p.Name)
		}
		if p.Type == "bedrock" && p.Region == "" {
			ve.Add("oracle.providers[%d] (%s): region is required for bedrock provider", i, p.Name)
		}
	}

	if o.DefaultProvider != "" && !seen[o.DefaultProvider] {
		ve.Add("oracle.default_provider %q does not match any configured provider", o.DefaultProvider)
	}
	if o.LiveProvider != "" && !seen[o.LiveProvider] {
		ve.Add("oracle.live_provider %q does not match any configured provider", o.LiveProvider)
	}
	if o.CircuitBreaker.Enabled && o.CircuitBreaker.MaxFailures == 0 {
		ve.Add("oracle.circuit_breaker.max_failures must be > 0 when enabled")
	}
	if o.MaxHistoryTokens < 0 {
		ve.Add("oracle.max_history_tokens must be >= 0")
	}
}

var validStrategies = map[string]bool{
	"keyword":    true,
	"classifier": true,
	"embedding":  true,
	"chain":      true,
}

func validateRouting(cfg *Config, ve *ValidationError) {
	r := cfg.Routing
	if !validStrategies[r.Strategy] {
		ve.Add("routing.strategy %q is invalid (want: keyword, classifier, embedding, chain)", r.Strategy)
	}
	if r.Strategy == "chain" {
		if len(r.Chain) == 0 {
			ve.Add("routing.chain must not be empty when strategy is chain")
		}
		for i, s := range r.Chain {
			if s == "chain" || !validStrategies[s] {
				ve.Add("routing.chain[%d] %q is invalid", i, s)
			}
		}
	}
	if r.MinConfidence < 0 || r.MinConfidence > 1 {
		ve.Add("routing.min_confidence must be within [0, 1]")
	}
	if r.ClassifierProvider != "" {
		if _, ok := cfg.Provider(r.ClassifierProvider); !ok {
			ve.Add("routing.classifier_provider %q does not match any configured provider", r.ClassifierProvider)
		}
	}
}

func validateSessions(cfg *Config, ve *ValidationError) {
	if cfg.Sessions.IdleTTL < 0 {
		ve.Add("sessions.idle_ttl must be >= 0")
	}
	if cfg.Sessions.IdleTTL > 0 && cfg.Sessions.ReapSchedule == "" {
		ve.Add("sessions.reap_schedule must not be empty when idle_ttl is set")
	}
}

func validateRecords(cfg *Config, ve *ValidationError) {
	r := cfg.Records
	switch r.Driver {
	case "none", "":
	case "sqlite", "postgres":
		if r.DSN == "" {
			ve.Add("records.dsn must not be empty for driver %q", r.Driver)
		}
	case "mcp":
		switch r.MCP.Transport {
		case "stdio":
			if r.MCP.Command == "" {
				ve.Add("records.mcp.command must not be empty for stdio transport")
			}
		case "http":
			if r.MCP.URL == "" {
				ve.Add("records.mcp.url must not be empty for http transport")
			}
		default:
			ve.Add("records.mcp.transport %q is invalid (want: stdio, http)", r.MCP.Transport)
		}
	default:
		ve.Add("records.driver %q is invalid (want: sqlite, postgres, mcp, none)", r.Driver)
	}
}

func validateLogger(cfg *Config, ve *ValidationError) {
	switch strings.ToLower(cfg.Logger.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		ve.Add("logger.level %q is invalid (want: debug, info, warn, error)", cfg.Logger.Level)
	}
	switch cfg.Logger.Format {
	case "text", "json":
	default:
		ve.Add("logger.format %q is invalid (want: text, json)", cfg.Logger.Format)
	}
}

func validateTracer(cfg *Config, ve *ValidationError) {
	if !cfg.Tracer.Enabled {
		return
	}
	switch cfg.Tracer.Exporter {
	case "stdout", "noop":
	default:
		ve.Add("tracer.exporter %q is invalid (want: stdout, noop)", cfg.Tracer.Exporter)
	}
	if cfg.Tracer.SampleRatio < 0 || cfg.Tracer.SampleRatio > 1 {
		ve.Add("tracer.sample_ratio must be within [0, 1]")
	}
}
