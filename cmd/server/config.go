package main

import (
	"fmt"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/xuedaobian/chatgpt-like/internal/handlers"
	"github.com/xuedaobian/chatgpt-like/internal/services"
)

type llmConfig interface {
	llm(systemPrompt string, logger *slog.Logger) (handlers.LLM, error)
	titleGen(titlePrompt string, logger *slog.Logger) (handlers.TitleGenerator, error)
}

// BaseLLMConfig contains the common fields for all LLM configurations.
type BaseLLMConfig struct {
	Provider string `yaml:"provider"`
	Model    string `yaml:"model"`
}

type config struct {
	Port                 string      `yaml:"port"`
	LogLevel             string      `yaml:"logLevel"`
	SystemPrompt         string      `yaml:"systemPrompt"`
	TitleGeneratorPrompt string      `yaml:"titleGeneratorPrompt"`
	LLM                  llmConfig   `yaml:"llm"`
	Store                storeConfig `yaml:"store"`
}

type storeConfig struct {
	Backend string `yaml:"backend"`
	Path    string `yaml:"path"`
}

type openAIConfig struct {
	BaseLLMConfig `yaml:",inline"`
	APIKey        string `yaml:"apiKey"`
	BaseURL       string `yaml:"baseURL"`
}

type deepSeekConfig struct {
	BaseLLMConfig `yaml:",inline"`
	APIKey        string `yaml:"apiKey"`
	BaseURL       string `yaml:"baseURL"`
}

type ollamaConfig struct {
	BaseLLMConfig `yaml:",inline"`
	Host          string `yaml:"host"`
}

func (c *config) UnmarshalYAML(value *yaml.Node) error {
	var rawConfig struct {
		Port                 string         `yaml:"port"`
		LogLevel             string         `yaml:"logLevel"`
		SystemPrompt         string         `yaml:"systemPrompt"`
		TitleGeneratorPrompt string         `yaml:"titleGeneratorPrompt"`
		LLM                  map[string]any `yaml:"llm"`
		Store                storeConfig    `yaml:"store"`
	}

	if err := value.Decode(&rawConfig); err != nil {
		return err
	}

	c.Port = rawConfig.Port
	c.LogLevel = rawConfig.LogLevel
	c.SystemPrompt = rawConfig.SystemPrompt
	c.TitleGeneratorPrompt = rawConfig.TitleGeneratorPrompt
	c.Store = rawConfig.Store

	llmProvider, ok := rawConfig.LLM["provider"].(string)
	if !ok {
		return fmt.Errorf("llm provider is required")
	}

	llmRawYAML, err := yaml.Marshal(rawConfig.LLM)
	if err != nil {
		return err
	}

	var llm llmConfig
	switch llmProvider {
	case "openai":
		llm = &openAIConfig{}
	case "deepseek":
		llm = &deepSeekConfig{}
	case "ollama":
		llm = &ollamaConfig{}
	default:
		return fmt.Errorf("unknown llm provider: %s", llmProvider)
	}

	if err := yaml.Unmarshal(llmRawYAML, llm); err != nil {
		return err
	}
	c.LLM = llm

	return nil
}

// store builds the configured history store. The returned close function is a
// no-op for the memory backend.
func (c config) store() (handlers.Store, func() error, error) {
	noop := func() error { return nil }

	switch c.Store.Backend {
	case "", "memory":
		return services.NewMemory(), noop, nil
	case "bolt":
		if c.Store.Path == "" {
			return nil, nil, fmt.Errorf("store path is required for the bolt backend")
		}
		db, err := services.NewBoltDB(c.Store.Path)
		if err != nil {
			return nil, nil, err
		}
		return db, db.Close, nil
	case "sqlite":
		if c.Store.Path == "" {
			return nil, nil, fmt.Errorf("store path is required for the sqlite backend")
		}
		db, err := services.NewSQLite(c.Store.Path)
		if err != nil {
			return nil, nil, err
		}
		return db, db.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown store backend: %s", c.Store.Backend)
	}
}

func (o openAIConfig) newOpenAI(systemPrompt string, logger *slog.Logger) (services.OpenAI, error) {
	if o.Model == "" {
		return services.OpenAI{}, fmt.Errorf("model is required")
	}

	apiKey := o.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}
	return services.NewOpenAI(apiKey, o.BaseURL, o.Model, systemPrompt, logger), nil
}

func (o openAIConfig) llm(systemPrompt string, logger *slog.Logger) (handlers.LLM, error) {
	return o.newOpenAI(systemPrompt, logger)
}

func (o openAIConfig) titleGen(titlePrompt string, logger *slog.Logger) (handlers.TitleGenerator, error) {
	return o.newOpenAI(titlePrompt, logger)
}

func (d deepSeekConfig) newDeepSeek(systemPrompt string, logger *slog.Logger) (services.DeepSeek, error) {
	if d.Model == "" {
		return services.DeepSeek{}, fmt.Errorf("model is required")
	}

	apiKey := d.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("DEEPSEEK_API_KEY")
	}
	return services.NewDeepSeek(apiKey, d.BaseURL, d.Model, systemPrompt, logger), nil
}

func (d deepSeekConfig) llm(systemPrompt string, logger *slog.Logger) (handlers.LLM, error) {
	return d.newDeepSeek(systemPrompt, logger)
}

func (d deepSeekConfig) titleGen(titlePrompt string, logger *slog.Logger) (handlers.TitleGenerator, error) {
	return d.newDeepSeek(titlePrompt, logger)
}

func (o ollamaConfig) newOllama(systemPrompt string) (services.Ollama, error) {
	if o.Model == "" {
		return services.Ollama{}, fmt.Errorf("model is required")
	}

	host := o.Host
	if host == "" {
		host = os.Getenv("OLLAMA_HOST")
	}
	return services.NewOllama(host, o.Model, systemPrompt), nil
}

func (o ollamaConfig) llm(systemPrompt string, _ *slog.Logger) (handlers.LLM, error) {
	return o.newOllama(systemPrompt)
}

func (o ollamaConfig) titleGen(titlePrompt string, _ *slog.Logger) (handlers.TitleGenerator, error) {
	return o.newOllama(titlePrompt)
}
