package llm

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/zanbei/agentx/config"
	"github.com/zanbei/agentx/definition"
	"github.com/zanbei/agentx/errors"
)

const (
	DefaultMaxAttempts    = 10
	DefaultConnectTimeout = 10 * time.Second
	DefaultReadTimeout    = 900 * time.Second
	DefaultMaxTokens      = 4096
	DefaultBedrockRegion  = "us-west-2"
)

// Policy is the retry and timeout policy applied to model calls.
type Policy struct {
	MaxAttempts    int
	ConnectTimeout time.Duration
	ReadTimeout    time.Duration
}

// Option overrides part of the Policy.
type Option func(*Policy)

func WithMaxAttempts(n int) Option {
	return func(p *Policy) { p.MaxAttempts = n }
}

func WithConnectTimeout(d time.Duration) Option {
	return func(p *Policy) { p.ConnectTimeout = d }
}

func WithReadTimeout(d time.Duration) Option {
	return func(p *Policy) { p.ReadTimeout = d }
}

// Handle is a configured model client together with the policy it was built with.
type Handle struct {
	Client   Client
	Policy   Policy
	Provider definition.Provider
	ModelID  string
}

// Selector maps a provider name and model id to a client.
type Selector struct {
	policy    Policy
	maxTokens int
}

// NewSelector builds a Selector from the model section of the configuration.
// Zero values fall back to the package defaults.
func NewSelector(cfg *config.ModelConfig, opts ...Option) *Selector {
	p := Policy{
		MaxAttempts:    DefaultMaxAttempts,
		ConnectTimeout: DefaultConnectTimeout,
		ReadTimeout:    DefaultReadTimeout,
	}
	maxTokens := DefaultMaxTokens
	if cfg != nil {
		if cfg.MaxAttempts > 0 {
			p.MaxAttempts = cfg.MaxAttempts
		}
		if cfg.ConnectTimeout > 0 {
			p.ConnectTimeout = cfg.ConnectTimeout
		}
		if cfg.ReadTimeout > 0 {
			p.ReadTimeout = cfg.ReadTimeout
		}
		if cfg.MaxTokens > 0 {
			maxTokens = cfg.MaxTokens
		}
	}
	for _, o := range opts {
		o(&p)
	}
	return &Selector{policy: p, maxTokens: maxTokens}
}

// Policy returns the policy applied to every client built by s.
func (s *Selector) Policy() Policy { return s.policy }

// MaxTokens returns the response token budget.
func (s *Selector) MaxTokens() int { return s.maxTokens }

// Select returns a client for provider. Only openai has a client of its own;
// anthropic uses the direct API when its extras carry an api_key. Every other
// provider, recognized or not, falls back to the managed-cloud client.
// Nothing about the openai settings is checked here.
func (s *Selector) Select(ctx context.Context, provider definition.Provider, modelID string, extras map[string]any, env definition.Env) (*Handle, error) {
	if modelID == "" {
		modelID = definition.DefaultModelID
	}
	settings, err := ParseSettings(provider, extras)
	if err != nil {
		return nil, err
	}

	var client Client
	switch st := settings.(type) {
	case OpenAISettings:
		if st.BaseURL == "" {
			st.BaseURL = env.Get("OPENAI_BASE_URL")
		}
		if st.APIKey == "" {
			st.APIKey = env.Get("OPENAI_API_KEY")
		}
		client = NewOpenAIClient(modelID, st, s.policy, s.maxTokens)
	case AnthropicSettings:
		client = NewAnthropicClient(modelID, st, s.policy, s.maxTokens)
	case BedrockSettings:
		if provider != definition.ProviderBedrock {
			log.Debug().Str("provider", string(provider)).Msg("Provider has no client of its own, falling back to Bedrock")
			provider = definition.ProviderBedrock
		}
		client, err = NewBedrockClient(ctx, modelID, st, env, s.policy, s.maxTokens)
	default:
		return nil, errors.New("no client for provider %q", provider)
	}
	if err != nil {
		return nil, err
	}
	return &Handle{Client: client, Policy: s.policy, Provider: provider, ModelID: modelID}, nil
}
