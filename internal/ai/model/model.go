package model

import (
	"fmt"
	"strings"
)

// Provider identifies the wire protocol used to reach a model.
type Provider string

const (
	ProviderZhipu            Provider = "zhipu"
	ProviderOpenAICompatible Provider = "openai-compatible"
	ProviderGemini           Provider = "gemini"
)

// Valid reports whether p is a supported provider.
func (p Provider) Valid() bool {
	switch p {
	case ProviderZhipu, ProviderOpenAICompatible, ProviderGemini:
		return true
	}
	return false
}

// Role is a named AI capability slot mapped to one model.
type Role string

const (
	RoleDecision  Role = "decision"
	RoleSearch    Role = "search"
	RoleChat      Role = "chat"
	RoleTranslate Role = "translate"
	RoleVision    Role = "vision"
)

// Roles lists every role in display order.
var Roles = []Role{RoleDecision, RoleSearch, RoleChat, RoleTranslate, RoleVision}

// ParseRole normalises v into a known role.
func ParseRole(v string) (Role, error) {
	r := Role(strings.ToLower(strings.TrimSpace(v)))
	for _, known := range Roles {
		if r == known {
			return r, nil
		}
	}
	return "", fmt.Errorf("unknown role %q", v)
}

// ModelConfig describes one model endpoint.
type ModelConfig struct {
	ID             string   `yaml:"id" json:"id"`
	Name           string   `yaml:"name" json:"name"`
	Provider       Provider `yaml:"provider" json:"provider"`
	Model          string   `yaml:"model" json:"model"`
	APIKey         string   `yaml:"api_key" json:"-"`
	BaseURL        string   `yaml:"base_url" json:"base_url"`
	MaxConcurrency int      `yaml:"max_concurrency" json:"max_concurrency"`
	// MaxContext is a budget in characters, not tokens.
	MaxContext int      `yaml:"max_context" json:"max_context"`
	Enabled    bool     `yaml:"enabled" json:"enabled"`
	Pricing    *Pricing `yaml:"pricing,omitempty" json:"pricing,omitempty"`
}

// Usable reports whether requests can be sent to the model.
func (m ModelConfig) Usable() bool {
	return m.Enabled && m.APIKey != ""
}

// Validate checks the invariants a registry entry must hold.
func (m ModelConfig) Validate() error {
	switch {
	case strings.TrimSpace(m.ID) == "":
		return fmt.Errorf("model id is required")
	case !m.Provider.Valid():
		return fmt.Errorf("model %s: unknown provider %q", m.ID, m.Provider)
	case m.Model == "":
		return fmt.Errorf("model %s: target model is required", m.ID)
	case m.MaxConcurrency <= 0:
		return fmt.Errorf("model %s: max_concurrency must be positive", m.ID)
	case m.MaxContext <= 0:
		return fmt.Errorf("model %s: max_context must be positive", m.ID)
	}
	return nil
}

// Settings is the persisted registry content.
type Settings struct {
	Models []ModelConfig    `yaml:"models"`
	Roles  map[Role]string `yaml:"roles"`
}

const ZhipuBaseURL = "https://open.bigmodel.cn/api/paas/v4"

// DefaultSettings returns the built-in Zhipu model set. apiKey is shared by
// every default model; an empty key leaves all roles unusable.
func DefaultSettings(apiKey string) Settings {
	zhipu := func(id, name string, maxConcurrency, maxContext int) ModelConfig {
		return ModelConfig{
			ID:             id,
			Name:           name,
			Provider:       ProviderZhipu,
			Model:          id,
			APIKey:         apiKey,
			BaseURL:        ZhipuBaseURL,
			MaxConcurrency: maxConcurrency,
			MaxContext:     maxContext,
			Enabled:        true,
		}
	}
	return Settings{
		Models: []ModelConfig{
			zhipu("glm-4.7-flash", "GLM-4.7 Flash", 1, 200000),
			zhipu("glm-4.5-flash", "GLM-4.5 Flash", 2, 128000),
			zhipu("glm-4-flash", "GLM-4 Flash", 200, 8000),
			zhipu("glm-4.6v-flash", "GLM-4.6V Flash", 1, 64000),
			zhipu("glm-4v-flash", "GLM-4V Flash", 10, 8000),
		},
		Roles: map[Role]string{
			RoleDecision:  "glm-4.7-flash",
			RoleChat:      "glm-4.7-flash",
			RoleSearch:    "glm-4.5-flash",
			RoleTranslate: "glm-4-flash",
			RoleVision:    "glm-4v-flash",
		},
	}
}
