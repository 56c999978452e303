package llm

import (
	"github.com/mitchellh/mapstructure"
	"github.com/zanbei/agentx/definition"
	"github.com/zanbei/agentx/errors"
)

// Settings is the provider-specific view of an agent's extras. Exactly one
// variant applies per provider.
type Settings interface {
	provider() definition.Provider
}

// BedrockSettings configures the managed-cloud client.
type BedrockSettings struct {
	Region   string `mapstructure:"region"`
	Endpoint string `mapstructure:"endpoint"`
}

// OpenAISettings configures the openai-compatible client. Neither field is
// required; a missing key or base URL surfaces on the first call.
type OpenAISettings struct {
	BaseURL string `mapstructure:"base_url"`
	APIKey  string `mapstructure:"api_key"`
}

// AnthropicSettings configures the direct Anthropic client. It is chosen only
// when an anthropic definition carries its own api_key in extras.
type AnthropicSettings struct {
	APIKey  string `mapstructure:"api_key"`
	BaseURL string `mapstructure:"base_url"`
}

func (BedrockSettings) provider() definition.Provider   { return definition.ProviderBedrock }
func (OpenAISettings) provider() definition.Provider    { return definition.ProviderOpenAI }
func (AnthropicSettings) provider() definition.Provider { return definition.ProviderAnthropic }

// ParseSettings decodes extras into the variant for provider. Unknown keys are
// ignored. Every provider other than openai, and anthropic without an
// explicit api_key, uses BedrockSettings.
func ParseSettings(provider definition.Provider, extras map[string]any) (Settings, error) {
	switch provider {
	case definition.ProviderOpenAI:
		var s OpenAISettings
		if err := decodeExtras(extras, &s); err != nil {
			return nil, err
		}
		return s, nil
	case definition.ProviderAnthropic:
		var s AnthropicSettings
		if err := decodeExtras(extras, &s); err != nil {
			return nil, err
		}
		if s.APIKey != "" {
			return s, nil
		}
	}
	var s BedrockSettings
	if err := decodeExtras(extras, &s); err != nil {
		return nil, err
	}
	return s, nil
}

func decodeExtras(extras map[string]any, out any) error {
	if len(extras) == 0 {
		return nil
	}
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return errors.Wrapf(err, "failed to create extras decoder")
	}
	if err := decoder.Decode(extras); err != nil {
		return errors.Wrapf(err, "failed to decode model extras")
	}
	return nil
}
