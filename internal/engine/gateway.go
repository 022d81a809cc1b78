package engine

import (
	"context"
	"net/http"
	"sync"

	"github.com/rs/zerolog"

	"github.com/celadon-dev/celadon/internal/apperr"
	"github.com/celadon-dev/celadon/internal/config"
	"github.com/celadon-dev/celadon/internal/llm"
)

// Gateway owns the cached engine handle. The handle is built lazily from
// the resolved configuration and reused until the resolved snapshot
// changes or a caller supplies an explicit override.
type Gateway struct {
	resolver   *config.Resolver
	baseURL    string
	sessionDir string
	logger     zerolog.Logger

	httpClient *http.Client
	llmBaseURL string
	llmOpts    []llm.Option

	mu     sync.Mutex
	engine *remote
	stamp  config.ExecConfig
}

type GatewayOption func(*Gateway)

// WithHTTPClient overrides the client used for engine calls.
func WithHTTPClient(c *http.Client) GatewayOption {
	return func(g *Gateway) { g.httpClient = c }
}

// WithLLMBaseURL points completion calls at an alternate endpoint.
func WithLLMBaseURL(u string) GatewayOption {
	return func(g *Gateway) { g.llmBaseURL = u }
}

// NewGateway creates a gateway. baseURL is the remote engine endpoint;
// sessionDir holds per-session engine state and is created on first use.
func NewGateway(resolver *config.Resolver, baseURL, sessionDir string, logger zerolog.Logger, opts ...GatewayOption) *Gateway {
	g := &Gateway{
		resolver:   resolver,
		baseURL:    baseURL,
		sessionDir: sessionDir,
		logger:     logger.With().Str("component", "gateway").Logger(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// engineFor returns the cached engine, rebuilding it when the resolved
// configuration differs from the cached stamp or an override is given.
// The lock is held through construction so concurrent callers wait for
// the new engine rather than racing to build their own.
func (g *Gateway) engineFor(ctx context.Context, override *config.ExecConfig) (*remote, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	cfg := config.ExecConfig{}
	if override != nil {
		cfg = *override
	} else {
		var err error
		cfg, err = g.resolver.Resolve(ctx)
		if err != nil {
			return nil, err
		}
	}

	if g.engine != nil && override == nil && cfg == g.stamp {
		return g.engine, nil
	}
	if g.baseURL == "" {
		return nil, apperr.New(apperr.KindEngine, "coding agent engine endpoint is not configured")
	}

	eng, err := newRemote(g.baseURL, g.sessionDir, cfg, g.httpClient, g.logger)
	if err != nil {
		return nil, err
	}
	g.engine = eng
	g.stamp = cfg
	g.logger.Info().Str("provider", cfg.Executor.Provider).Str("model", cfg.Executor.Model).Msg("engine initialized")
	return eng, nil
}

// RunSynchronous executes the instruction and blocks for the result.
func (g *Gateway) RunSynchronous(ctx context.Context, sessionID, instruction, workspace string) (RunResult, error) {
	eng, err := g.engineFor(ctx, nil)
	if err != nil {
		return RunResult{}, err
	}
	return eng.run(ctx, sessionID, instruction, workspace)
}

// RunStreaming starts the instruction and returns its one-time event
// sequence. A non-nil override forces a fresh engine built from it.
func (g *Gateway) RunStreaming(ctx context.Context, sessionID, instruction, workspace string, override *config.ExecConfig) (<-chan Event, error) {
	eng, err := g.engineFor(ctx, override)
	if err != nil {
		return nil, err
	}
	return eng.stream(ctx, sessionID, instruction, workspace)
}

// Completion performs a lightweight chat call for the given role without
// involving the coding agent. In the degraded no-credential configuration
// it returns the fixed guidance message and no error.
func (g *Gateway) Completion(ctx context.Context, role, systemPrompt string, history []llm.Message, userInput string) (string, error) {
	cfg, err := g.resolver.Resolve(ctx)
	if err != nil {
		return "", err
	}
	if cfg.Degraded {
		g.logger.Warn().Str("role", role).Msg("completion short-circuited: no credential")
		return llm.NoCredentialMessage, nil
	}

	rc := cfg.RoleFor(role)
	p, err := llm.LookupProvider(rc.Provider)
	if err != nil {
		return "", apperr.Wrap(apperr.KindConfig, err, "completion provider")
	}
	opts := append([]llm.Option{llm.WithLogger(g.logger)}, g.llmOpts...)
	if g.httpClient != nil {
		opts = append(opts, llm.WithHTTPClient(g.httpClient))
	}
	if g.llmBaseURL != "" {
		opts = append(opts, llm.WithBaseURL(g.llmBaseURL))
	}
	client := llm.NewClient(p, rc.APIKey, rc.Model, opts...)
	return client.Chat(ctx, systemPrompt, history, userInput)
}
