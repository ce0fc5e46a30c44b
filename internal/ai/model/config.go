package model

import "time"

// ================ Config ================
// Nested under AppConfig with a prefix tag, e.g. AI_CONCURRENCY_WAIT_TIMEOUT.

type RegistryConfig struct {
	File  string `split_words:"true"`
	Watch bool   `split_words:"true" default:"false"`
	// ZhipuAPIKey also falls back to a bare ZHIPU_API_KEY.
	ZhipuAPIKey string `envconfig:"ZHIPU_API_KEY"`
}

type LimiterConfig struct {
	Channel   string `split_words:"true" default:"ai-concurrency"`
	KeyPrefix string `split_words:"true" default:"ai-concurrency"`
	// WaitTimeout of zero rejects at once when no slot is free.
	WaitTimeout    time.Duration `split_words:"true" default:"0s"`
	SlotTTL        time.Duration `split_words:"true" default:"10m"`
	ReleaseTimeout time.Duration `split_words:"true" default:"5s"`
	CASRetries     int           `split_words:"true" default:"10"`
}

type ClientConfig struct {
	Timeout     time.Duration `split_words:"true" default:"5m"`
	Temperature float32       `split_words:"true" default:"0.7"`
}

type AgentConfig struct {
	MaxIterations int    `split_words:"true" default:"10"`
	Role          Role   `split_words:"true" default:"decision"`
	DocsDir       string `split_words:"true" default:"docs"`
	ServerRoot    string `split_words:"true"`
}

type CompactionConfig struct {
	ThresholdChars int     `split_words:"true" default:"150000"`
	KeepRecent     int     `split_words:"true" default:"5"`
	Role           Role    `split_words:"true" default:"decision"`
	Temperature    float32 `split_words:"true" default:"0.3"`
}

type ConversationConfig struct {
	TTL time.Duration `split_words:"true" default:"15m"`
}

type TasksConfig struct {
	TargetLanguage string  `split_words:"true" default:"Simplified Chinese"`
	BatchSize      int     `split_words:"true" default:"10"`
	Temperature    float32 `split_words:"true" default:"0.2"`
}
