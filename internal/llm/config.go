// Package llm provides centralized LLM configuration and client abstractions.
// Providers are interchangeable behind Client; callers pick a model tier, not a model.
package llm

// ModelTier represents the complexity/capability level of a model
type ModelTier string

const (
	// TierStandard is for moderate reasoning: sentiment extraction, structured output
	TierStandard ModelTier = "standard"
	// TierAdvanced is for long-form synthesis
	TierAdvanced ModelTier = "advanced"
)

// Provider represents an LLM provider
type Provider string

// Provider constants define supported LLM providers
const (
	// ProviderAnthropic is the Anthropic/Claude provider
	ProviderAnthropic Provider = "anthropic"
	// ProviderGemini is the Google Gemini provider
	ProviderGemini Provider = "gemini"
)

// Config holds the model configuration for the application
type Config struct {
	Provider    Provider
	Models      map[ModelTier]string
	MaxTokens   map[ModelTier]int
	Temperature float64
}

// DefaultMaxTokens is used when a tier has no explicit budget
const DefaultMaxTokens = 4000

// DefaultConfig returns the default configuration (Anthropic)
func DefaultConfig() *Config {
	return DefaultAnthropicConfig()
}

// DefaultAnthropicConfig returns the default Claude configuration
func DefaultAnthropicConfig() *Config {
	return &Config{
		Provider: ProviderAnthropic,
		Models: map[ModelTier]string{
			TierStandard: "claude-sonnet-4-5",
			TierAdvanced: "claude-sonnet-4-5",
		},
		MaxTokens: map[ModelTier]int{
			TierStandard: 4000,
			TierAdvanced: 16000,
		},
		Temperature: 0.2,
	}
}

// DefaultGeminiConfig returns the default Gemini configuration
func DefaultGeminiConfig() *Config {
	return &Config{
		Provider: ProviderGemini,
		Models: map[ModelTier]string{
			TierStandard: "gemini-2.5-flash",
			TierAdvanced: "gemini-2.5-pro",
		},
		MaxTokens: map[ModelTier]int{
			TierStandard: 4000,
			TierAdvanced: 16000,
		},
		Temperature: 0.2,
	}
}

// DefaultConfigFor returns the defaults of a provider, falling back to Anthropic
func DefaultConfigFor(p Provider) *Config {
	if p == ProviderGemini {
		return DefaultGeminiConfig()
	}
	return DefaultAnthropicConfig()
}

// GetModel returns the model name for a given tier
func (c *Config) GetModel(tier ModelTier) string {
	if model, ok := c.Models[tier]; ok {
		return model
	}
	// unknown tiers fall back to standard
	return c.Models[TierStandard]
}

// GetMaxTokens returns the output token budget for a tier
func (c *Config) GetMaxTokens(tier ModelTier) int {
	if n, ok := c.MaxTokens[tier]; ok && n > 0 {
		return n
	}
	return DefaultMaxTokens
}

// WithModel returns a new Config with a specific model for a tier
func (c *Config) WithModel(tier ModelTier, model string) *Config {
	newConfig := &Config{
		Provider:    c.Provider,
		Models:      make(map[ModelTier]string),
		MaxTokens:   make(map[ModelTier]int),
		Temperature: c.Temperature,
	}
	for k, v := range c.Models {
		newConfig.Models[k] = v
	}
	for k, v := range c.MaxTokens {
		newConfig.MaxTokens[k] = v
	}
	newConfig.Models[tier] = model
	return newConfig
}
