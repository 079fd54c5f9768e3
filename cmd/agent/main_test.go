package main

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"teacher-agent/internal/adapter/llm"
	"teacher-agent/internal/domain"
	"teacher-agent/internal/infra/config"
	"teacher-agent/internal/usecase/multiagent"
)

type stubOracle struct{ name string }

func (s stubOracle) Name() string { return s.name }

func (s stubOracle) Generate(context.Context, domain.GenerateRequest) (*domain.GenerateResponse, error) {
	return &domain.GenerateResponse{Content: domain.TextContent(domain.RoleModel, "ok")}, nil
}

type stubStreamingOracle struct{ stubOracle }

func (s stubStreamingOracle) Stream(context.Context, domain.GenerateRequest) (<-chan domain.StreamDelta, error) {
	ch := make(chan domain.StreamDelta, 1)
	ch <- domain.StreamDelta{Text: "ok", Done: true}
	close(ch)
	return ch, nil
}

type stubConnector struct{}

func (stubConnector) Connect(context.Context, domain.LiveConfig) (domain.LiveSession, error) {
	return nil, domain.ErrOracleFailure
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func execute(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "", "version")
	require.NoError(t, err)
	assert.Equal(t, version+"\n", out)
}

func TestEncryptSecretRoundTrip(t *testing.T) {
	out, err := execute(t, "", "encrypt-secret", "--key", "passphrase", "s3cret")
	require.NoError(t, err)
	enc := strings.TrimSpace(out)
	require.True(t, strings.HasPrefix(enc, "enc:"))

	plain, err := config.DecryptValue(strings.TrimPrefix(enc, "enc:"), "passphrase")
	require.NoError(t, err)
	assert.Equal(t, "s3cret", plain)
}

func TestEncryptSecretFromStdinAndEnv(t *testing.T) {
	t.Setenv(config.EnvPrefix+"CONFIG_KEY", "from-env")

	out, err := execute(t, "piped-value\n", "encrypt-secret")
	require.NoError(t, err)
	plain, err := config.DecryptValue(strings.TrimPrefix(strings.TrimSpace(out), "enc:"), "from-env")
	require.NoError(t, err)
	assert.Equal(t, "piped-value", plain)
}

func TestEncryptSecretErrors(t *testing.T) {
	t.Setenv(config.EnvPrefix+"CONFIG_KEY", "")

	_, err := execute(t, "", "encrypt-secret", "value")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no passphrase")

	_, err = execute(t, "\n", "encrypt-secret", "--key", "k")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "must not be empty")
}

func TestRecordsMCPNeedsSQLDriver(t *testing.T) {
	t.Setenv(config.EnvPrefix+"RECORDS_DRIVER", "none")
	_, err := execute(t, "", "records-mcp", "--config", filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "needs a sqlite or postgres records driver")
}

func TestCreateLiveConnector(t *testing.T) {
	log := discardLogger()

	cfg := config.Defaults()
	live, err := createLiveConnector(cfg, nil, log)
	require.NoError(t, err)
	assert.IsType(t, &llm.GeminiLiveConnector{}, live)

	cfg.Oracle.Providers = append(cfg.Oracle.Providers, config.ProviderConfig{Name: "claude", Type: "bedrock", Model: "m", Region: "us-east-1"})
	cfg.Oracle.LiveProvider = "claude"
	live, err = createLiveConnector(cfg, map[string]domain.Oracle{"claude": stubStreamingOracle{stubOracle{"claude"}}}, log)
	require.NoError(t, err)
	assert.IsType(t, &llm.TurnConnector{}, live)

	_, err = createLiveConnector(cfg, map[string]domain.Oracle{"claude": stubOracle{"claude"}}, log)
	assert.ErrorContains(t, err, "cannot stream")

	cfg.Oracle.LiveProvider = "missing"
	_, err = createLiveConnector(cfg, nil, log)
	assert.ErrorContains(t, err, "not configured")
}

func TestInitStrategy(t *testing.T) {
	oc := &OracleComponents{ByName: map[string]domain.Oracle{"gemini": stubOracle{"gemini"}}}
	log := discardLogger()

	tests := []struct {
		name     string
		mutate   func(*config.Config)
		wantType any
		wantErr  string
	}{
		{"keyword", func(c *config.Config) { c.Routing.Strategy = "keyword" }, &multiagent.KeywordStrategy{}, ""},
		{"classifier", func(c *config.Config) { c.Routing.Strategy = "classifier" }, &multiagent.ClassifierStrategy{}, ""},
		{"embedding", func(c *config.Config) {
			c.Routing.Strategy = "embedding"
			c.Routing.Embedding.APIKey = "k"
		}, &multiagent.EmbeddingStrategy{}, ""},
		{"embedding without key", func(c *config.Config) { c.Routing.Strategy = "embedding" }, nil, "api_key is required"},
		{"chain", func(c *config.Config) {
			c.Routing.Strategy = "chain"
			c.Routing.Chain = []string{"keyword", "classifier"}
		}, &multiagent.ChainStrategy{}, ""},
		{"unknown classifier provider", func(c *config.Config) {
			c.Routing.Strategy = "classifier"
			c.Routing.ClassifierProvider = "other"
		}, nil, "not configured"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.Defaults()
			cfg.Routing.Embedding.APIKey = ""
			tt.mutate(cfg)
			s, err := initStrategy(cfg, oc, log)
			if tt.wantErr != "" {
				assert.ErrorContains(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.IsType(t, tt.wantType, s)
		})
	}
}

func TestInitOraclesCircuitBreaker(t *testing.T) {
	cfg := config.Defaults()
	oc, err := initOracles(context.Background(), cfg, discardLogger())
	require.NoError(t, err)
	assert.IsType(t, &llm.CircuitBreakerOracle{}, oc.Default)
	assert.IsType(t, &llm.GeminiLiveConnector{}, oc.Live)

	cfg.Oracle.CircuitBreaker.Enabled = false
	oc, err = initOracles(context.Background(), cfg, discardLogger())
	require.NoError(t, err)
	assert.IsType(t, &llm.GeminiOracle{}, oc.Default)
}

func TestInitRuntime(t *testing.T) {
	dir := t.TempDir()
	cfg := config.Defaults()
	cfg.Blob.Dir = filepath.Join(dir, "media")
	cfg.Records.DSN = filepath.Join(dir, "db", "records.db")
	cfg.Records.Seed = true
	cfg.Sessions.IdleTTL = time.Minute

	oc := &OracleComponents{
		ByName:  map[string]domain.Oracle{"gemini": stubOracle{"gemini"}},
		Default: stubOracle{"gemini"},
		Live:    stubConnector{},
	}
	rt, cleanup, err := initRuntime(context.Background(), cfg, oc, discardLogger())
	require.NoError(t, err)
	t.Cleanup(func() { assert.NoError(t, cleanup()) })

	require.NotNil(t, rt.Scheduler)
	assert.Len(t, rt.Chat.List(), 0)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	rec := httptest.NewRecorder()
	rt.Gateway.Handler(ctx).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), cfg.App.Name)
}

func TestInitRuntimeWithoutRecords(t *testing.T) {
	cfg := config.Defaults()
	cfg.Blob.Dir = t.TempDir()
	cfg.Records.Driver = "none"

	oc := &OracleComponents{Default: stubOracle{"gemini"}, ByName: map[string]domain.Oracle{}, Live: stubConnector{}}
	rt, cleanup, err := initRuntime(context.Background(), cfg, oc, discardLogger())
	require.NoError(t, err)
	defer cleanup()
	assert.Nil(t, rt.Scheduler, "no reaper without an idle ttl")
}
