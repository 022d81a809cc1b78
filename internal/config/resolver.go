package config

import (
	"context"
	"os"
	"strings"

	"github.com/rs/zerolog"

	"github.com/celadon-dev/celadon/internal/apperr"
	"github.com/celadon-dev/celadon/internal/llm"
)

// Roles the coding-agent engine is configured for.
const (
	RolePlanner   = "planner"
	RoleExecutor  = "executor"
	RoleReflector = "reflector"
)

// Environment/setting keys. The same key name is looked up in the
// persisted system settings first, then in the process environment.
const (
	KeyProvider       = "CELADON_LLM_PROVIDER"
	KeyModel          = "CELADON_LLM_MODEL"
	KeySemanticMemory = "CELADON_SEMANTIC_MEMORY"
)

// genericKeyChain is the legacy credential cascade for simple completion
// calls: first usable key wins.
var genericKeyChain = []string{"DEEPSEEK_API_KEY", "OPENAI_API_KEY", "LLM_API_KEY"}

// RoleConfig is the resolved provider/credential/model triple for one role.
type RoleConfig struct {
	Provider string
	APIKey   string
	Model    string
}

// ExecConfig is the execution configuration handed to the agent gateway.
// It is comparable: the gateway uses equality as its generation stamp and
// only rebuilds the engine when the snapshot differs.
type ExecConfig struct {
	Planner   RoleConfig
	Executor  RoleConfig
	Reflector RoleConfig

	// Generic fallback credential path for simple completion calls.
	Provider string
	APIKey   string
	Model    string

	SemanticMemory bool

	// Degraded is set when no usable credential exists anywhere. Dependent
	// calls must short-circuit to a fixed guidance message instead of
	// attempting network I/O.
	Degraded bool
}

// SettingsSource provides persisted system settings. Nil when no database
// tenant is active, in which case that precedence level is skipped.
type SettingsSource interface {
	GetSetting(ctx context.Context, key string) (string, bool, error)
}

// Resolver produces an ExecConfig through a strict three-source cascade:
// persisted system setting, then environment variable, then default.
// Empty or whitespace-only values count as absent at every level.
type Resolver struct {
	settings SettingsSource
	logger   zerolog.Logger
}

// NewResolver creates a resolver. settings may be nil (single-tenant mode).
func NewResolver(settings SettingsSource, logger zerolog.Logger) *Resolver {
	return &Resolver{
		settings: settings,
		logger:   logger.With().Str("component", "resolver").Logger(),
	}
}

// lookup resolves one key through the cascade, returning "" when absent.
func (r *Resolver) lookup(ctx context.Context, key string) string {
	if r.settings != nil {
		if val, ok, err := r.settings.GetSetting(ctx, key); err == nil && ok {
			if v := strings.TrimSpace(val); v != "" {
				return v
			}
		}
	}
	return strings.TrimSpace(os.Getenv(key))
}

// lookupOr resolves one key, falling back to def when absent.
func (r *Resolver) lookupOr(ctx context.Context, key, def string) string {
	if v := r.lookup(ctx, key); v != "" {
		return v
	}
	return def
}

func roleKey(role, suffix string) string {
	return "LLM_" + strings.ToUpper(role) + "_" + suffix
}

// Resolve builds the execution configuration. An unknown provider name is
// a ConfigError; a missing credential is not an error but a degraded
// configuration.
func (r *Resolver) Resolve(ctx context.Context) (ExecConfig, error) {
	provider := r.lookupOr(ctx, KeyProvider, "deepseek")
	p, err := llm.LookupProvider(provider)
	if err != nil {
		return ExecConfig{}, apperr.Wrap(apperr.KindConfig, err, "resolve provider")
	}

	apiKey := ""
	for _, key := range genericKeyChain {
		if v := r.lookup(ctx, key); v != "" {
			apiKey = v
			break
		}
	}
	model := r.lookupOr(ctx, KeyModel, p.DefaultModel)

	cfg := ExecConfig{
		Provider:       provider,
		APIKey:         apiKey,
		Model:          model,
		SemanticMemory: parseBool(r.lookup(ctx, KeySemanticMemory)),
	}

	for _, role := range []string{RolePlanner, RoleExecutor, RoleReflector} {
		rc := RoleConfig{
			Provider: r.lookupOr(ctx, roleKey(role, "PROVIDER"), provider),
			APIKey:   r.lookupOr(ctx, roleKey(role, "API_KEY"), apiKey),
			Model:    r.lookupOr(ctx, roleKey(role, "MODEL"), model),
		}
		if _, err := llm.LookupProvider(rc.Provider); err != nil {
			return ExecConfig{}, apperr.Wrap(apperr.KindConfig, err, "resolve %s provider", role)
		}
		switch role {
		case RolePlanner:
			cfg.Planner = rc
		case RoleExecutor:
			cfg.Executor = rc
		case RoleReflector:
			cfg.Reflector = rc
		}
	}

	cfg.Degraded = cfg.APIKey == "" &&
		cfg.Planner.APIKey == "" && cfg.Executor.APIKey == "" && cfg.Reflector.APIKey == ""
	if cfg.Degraded {
		r.logger.Warn().Msg("no LLM credential resolvable; running degraded")
	}

	return cfg, nil
}

// RoleFor returns the role config by name, defaulting to the planner.
func (c ExecConfig) RoleFor(role string) RoleConfig {
	switch role {
	case RoleExecutor:
		return c.Executor
	case RoleReflector:
		return c.Reflector
	default:
		return c.Planner
	}
}

func parseBool(v string) bool {
	switch strings.ToLower(v) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}
