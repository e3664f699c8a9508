package embedding

import (
	"time"

	"github.com/Laisky/laisky-kb-retrieval/library/config"
)

// Settings configures the gateway and the OpenAI provider.
type Settings struct {
	// Provider is "openai" or "deterministic".
	Provider   string
	APIKey     string
	BaseURL    string
	Model      string
	Dimension  int
	Normalize  bool
	Timeout    time.Duration
	MaxRetries int
	CacheSize  int
}

// LoadSettingsFromConfig reads settings.openai.* and returns sanitized settings.
func LoadSettingsFromConfig() Settings {
	cfg := Settings{
		Provider:   config.String("settings.openai.provider", "openai"),
		APIKey:     config.String("settings.openai.api_key", ""),
		BaseURL:    config.String("settings.openai.base_url", "https://api.openai.com/v1"),
		Model:      config.String("settings.openai.embedding_model", "text-embedding-3-small"),
		Dimension:  config.Int("settings.openai.embedding_dimension", 1536),
		Normalize:  config.Bool("settings.openai.normalize", true),
		Timeout:    config.Duration("settings.openai.timeout", 10*time.Second),
		MaxRetries: config.Int("settings.openai.max_retries", 2),
		CacheSize:  config.Int("settings.openai.cache_size", 1000),
	}
	return cfg.sanitize()
}

func (s Settings) sanitize() Settings {
	if s.Model == "" {
		s.Model = "text-embedding-3-small"
	}
	if s.Dimension < 0 {
		s.Dimension = 0
	}
	if s.Timeout <= 0 {
		s.Timeout = 10 * time.Second
	}
	if s.MaxRetries < 0 {
		s.MaxRetries = 0
	}
	if s.CacheSize < 0 {
		s.CacheSize = 0
	}
	return s
}
